package report

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"medivoice/internal/models"
)

const (
	defaultAgent = "AI Doctor"
	defaultUser  = "Anonymous"
	notAvailable = "N/A"
	unknown      = "Unknown"
)

// Defaults carries the caller-supplied fallbacks for a report.
type Defaults struct {
	SessionID string
	Agent     string
	Now       func() time.Time
}

func (d Defaults) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

type fieldKind int

const (
	kindString fieldKind = iota
	kindTimestamp
	kindStrings
)

type field struct {
	key      string
	kind     fieldKind
	fallback func(Defaults) string
	set      func(r *models.MedicalReport, s string, list []string)
}

func constant(v string) func(Defaults) string {
	return func(Defaults) string { return v }
}

var fields = []field{
	{"sessionId", kindString, func(d Defaults) string { return d.SessionID },
		func(r *models.MedicalReport, s string, _ []string) { r.SessionID = s }},
	{"agent", kindString, func(d Defaults) string {
		if strings.TrimSpace(d.Agent) != "" {
			return d.Agent
		}
		return defaultAgent
	}, func(r *models.MedicalReport, s string, _ []string) { r.Agent = s }},
	{"user", kindString, constant(defaultUser),
		func(r *models.MedicalReport, s string, _ []string) { r.User = s }},
	{"timestamp", kindTimestamp, func(d Defaults) string { return d.now().UTC().Format(time.RFC3339) },
		func(r *models.MedicalReport, s string, _ []string) { r.Timestamp = s }},
	{"chiefComplaint", kindString, constant(notAvailable),
		func(r *models.MedicalReport, s string, _ []string) { r.ChiefComplaint = s }},
	{"summary", kindString, constant(notAvailable),
		func(r *models.MedicalReport, s string, _ []string) { r.Summary = s }},
	{"symptoms", kindStrings, nil,
		func(r *models.MedicalReport, _ string, l []string) { r.Symptoms = l }},
	{"duration", kindString, constant(unknown),
		func(r *models.MedicalReport, s string, _ []string) { r.Duration = s }},
	{"severity", kindString, constant(unknown),
		func(r *models.MedicalReport, s string, _ []string) { r.Severity = s }},
	{"medicationsMentioned", kindStrings, nil,
		func(r *models.MedicalReport, _ string, l []string) { r.MedicationsMentioned = l }},
	{"recommendations", kindStrings, nil,
		func(r *models.MedicalReport, _ string, l []string) { r.Recommendations = l }},
}

var timestampLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// Normalize fills a MedicalReport from a parsed object. Values of the wrong
// shape are treated as absent and replaced by the field's fallback.
func Normalize(obj gjson.Result, d Defaults) *models.MedicalReport {
	r := &models.MedicalReport{}
	for _, f := range fields {
		v := obj.Get(f.key)
		switch f.kind {
		case kindString:
			s, ok := stringValue(v)
			if !ok {
				s = f.fallback(d)
			}
			f.set(r, s, nil)
		case kindTimestamp:
			s, ok := stringValue(v)
			if !ok || !isTimestamp(s) {
				s = f.fallback(d)
			}
			f.set(r, s, nil)
		case kindStrings:
			f.set(r, "", stringList(v))
		}
	}
	return r
}

func stringValue(v gjson.Result) (string, bool) {
	if v.Type != gjson.String || strings.TrimSpace(v.Str) == "" {
		return "", false
	}
	return v.Str, true
}

func stringList(v gjson.Result) []string {
	out := []string{}
	if !v.IsArray() {
		return out
	}
	for _, item := range v.Array() {
		if s, ok := stringValue(item); ok {
			out = append(out, s)
		}
	}
	return out
}

func isTimestamp(s string) bool {
	for _, layout := range timestampLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}
