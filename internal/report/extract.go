// Package report turns free-form model output into a normalized MedicalReport.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"medivoice/internal/models"
)

var (
	ErrNoJSONFound      = errors.New("no-json-found")
	ErrUnbalancedBraces = errors.New("unbalanced-braces")
	ErrMalformedJSON    = errors.New("malformed-json")
)

// ExtractionError reports why a JSON object could not be taken from model
// output. Kind is one of ErrNoJSONFound, ErrUnbalancedBraces or ErrMalformedJSON.
type ExtractionError struct {
	Kind  error
	Cause error
}

func (e *ExtractionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("report extraction failed: %v: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("report extraction failed: %v", e.Kind)
}

func (e *ExtractionError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

// FindJSONObject returns the first brace-balanced object in text. Braces are
// counted without regard to string literals, so an unbalanced brace inside a
// quoted value will shift the match.
func FindJSONObject(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", &ExtractionError{Kind: ErrNoJSONFound}
	}
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", &ExtractionError{Kind: ErrUnbalancedBraces}
}

// Extract locates, parses and normalizes a report from raw model output.
func Extract(text string, d Defaults) (*models.MedicalReport, error) {
	obj, err := FindJSONObject(text)
	if err != nil {
		return nil, err
	}
	if !gjson.Valid(obj) {
		return nil, &ExtractionError{Kind: ErrMalformedJSON}
	}
	return Normalize(gjson.Parse(obj), d), nil
}

// DecodeObject locates the first object in text and decodes it into v.
func DecodeObject(text string, v any) error {
	obj, err := FindJSONObject(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return &ExtractionError{Kind: ErrMalformedJSON, Cause: err}
	}
	return nil
}
