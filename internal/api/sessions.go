package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"medivoice/internal/catalog"
	"medivoice/internal/models"
	"medivoice/internal/pipeline"
	"medivoice/internal/redis"
	"medivoice/internal/service/assistant"
	"medivoice/internal/transcript"
	"medivoice/internal/worker"
)

const (
	reportStreamTimeout = 2 * time.Minute
	reportPollInterval  = time.Second
)

func (h *Handler) suggestDoctors(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req struct {
		Notes string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Notes) == "" {
		respondError(c, models.Missing("notes"))
		return
	}
	gen, err := h.suggester(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	doctors, err := pipeline.SuggestDoctors(c.Request.Context(), gen, req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"suggested_doctors": doctors})
}

type createSessionRequest struct {
	Notes            string `json:"notes"`
	SelectedDoctorID int    `json:"selected_doctor_id"`
	SuggestionIDs    []int  `json:"suggestion_ids"`
}

func (h *Handler) createSession(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	doctor, ok := catalog.Lookup(req.SelectedDoctorID)
	if !ok {
		respondError(c, models.Missing("selectedDoctor"))
		return
	}
	suggestions := make([]models.DoctorAgent, 0, len(req.SuggestionIDs))
	for _, id := range req.SuggestionIDs {
		d, ok := catalog.Lookup(id)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown doctor id %d", id)})
			return
		}
		suggestions = append(suggestions, d)
	}
	user, err := h.assistant.GetUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	sess, err := h.assistant.CreateSession(c.Request.Context(), userID, user.Username, assistant.NewSession{
		Notes:       req.Notes,
		Doctor:      doctor,
		Suggestions: suggestions,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (h *Handler) listSessions(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	sessions, err := h.assistant.ListSessions(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handler) getSession(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	sess, err := h.assistant.GetSession(c.Request.Context(), userID, c.Param("session_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) deleteSession(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	sessionID := c.Param("session_id")
	if err := h.assistant.DeleteSession(c.Request.Context(), userID, sessionID); err != nil {
		respondError(c, err)
		return
	}
	h.workers.Purge(sessionID)
	c.Status(http.StatusNoContent)
}

func (h *Handler) postCallEvents(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req struct {
		Events []json.RawMessage `json:"events"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	events := make([]transcript.Event, 0, len(req.Events))
	for _, raw := range req.Events {
		// Messages the transcript does not consume (volume levels, function
		// calls) are skipped.
		if ev, ok := transcript.DecodeEvent(raw); ok {
			events = append(events, ev)
		}
	}
	view, err := h.workers.ApplyEvents(c.Request.Context(), userID, c.Param("session_id"), events)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) getCall(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	view, err := h.workers.View(c.Request.Context(), userID, c.Param("session_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type reportRequest struct {
	Messages   []models.Utterance `json:"messages"`
	HealthNote string             `json:"health_note"`
}

func (h *Handler) generateReport(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req reportRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	for _, m := range req.Messages {
		if !m.Role.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid message role %q", m.Role)})
			return
		}
	}
	report, err := h.workers.GenerateReport(c.Request.Context(), worker.ReportRequest{
		UserID:     userID,
		SessionID:  c.Param("session_id"),
		Utterances: req.Messages,
		HealthNote: req.HealthNote,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) getReport(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	sess, err := h.assistant.GetSession(c.Request.Context(), userID, c.Param("session_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if sess.Report == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no report available", "status": sess.Status})
		return
	}
	c.JSON(http.StatusOK, sess.Report)
}

func reportSettled(status models.SessionStatus) bool {
	return status == models.StatusReportReady || status == models.StatusReportFailed
}

// streamReport pushes status changes of a session over SSE until its report
// is ready or failed.
func (h *Handler) streamReport(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	sessionID := c.Param("session_id")
	ctx, cancel := context.WithTimeout(c.Request.Context(), reportStreamTimeout)
	defer cancel()

	// Listen before reading the current status so no change falls in between.
	updates := h.statusUpdates(ctx, userID, sessionID)
	view, err := h.workers.View(ctx, userID, sessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(event string, payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	finish := func(ev worker.StatusEvent) {
		if ev.Status == models.StatusReportFailed {
			_ = sendEvent("error", gin.H{"message": "report generation failed", "detail": ev.Error})
			return
		}
		sess, err := h.assistant.GetSession(context.WithoutCancel(ctx), userID, sessionID)
		if err != nil || sess.Report == nil {
			_ = sendEvent("error", gin.H{"message": "report unavailable"})
			return
		}
		_ = sendEvent("done", sess.Report)
	}

	current := worker.StatusEvent{SessionID: sessionID, Status: view.Status}
	if err := sendEvent("status", current); err != nil {
		return
	}
	if reportSettled(current.Status) {
		finish(current)
		return
	}
	for {
		select {
		case <-ctx.Done():
			_ = sendEvent("error", gin.H{"message": "stream timeout"})
			return
		case ev, ok := <-updates:
			if !ok {
				return
			}
			if err := sendEvent("status", ev); err != nil {
				return
			}
			if reportSettled(ev.Status) {
				finish(ev)
				return
			}
		}
	}
}

// statusUpdates follows the session's status channel on redis, or polls the
// call view when redis is not configured.
func (h *Handler) statusUpdates(ctx context.Context, userID int64, sessionID string) <-chan worker.StatusEvent {
	out := make(chan worker.StatusEvent, 4)
	if h.cache != nil {
		pubsub, err := h.cache.Subscribe(ctx, redis.SessionChannel(sessionID))
		if err == nil {
			go func() {
				defer close(out)
				defer pubsub.Close()
				ch := pubsub.Channel()
				for {
					select {
					case <-ctx.Done():
						return
					case msg, ok := <-ch:
						if !ok {
							return
						}
						var ev worker.StatusEvent
						if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
							log.Warn().Err(err).Msg("decode status event")
							continue
						}
						select {
						case out <- ev:
						case <-ctx.Done():
							return
						}
					}
				}
			}()
			return out
		}
		log.Warn().Err(err).Str("session_id", sessionID).Msg("subscribe session status, falling back to polling")
	}

	go func() {
		defer close(out)
		ticker := time.NewTicker(reportPollInterval)
		defer ticker.Stop()
		var last models.SessionStatus
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				view, err := h.workers.View(ctx, userID, sessionID)
				if err != nil {
					return
				}
				if view.Status == last {
					continue
				}
				last = view.Status
				select {
				case out <- worker.StatusEvent{SessionID: sessionID, Status: view.Status}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (h *Handler) addNote(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req struct {
		Note string `json:"note"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	note, err := h.assistant.AddHealthNote(c.Request.Context(), userID, c.Param("session_id"), req.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, note)
}

func (h *Handler) listNotes(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	sessionID := c.Param("session_id")
	if _, err := h.assistant.GetSession(c.Request.Context(), userID, sessionID); err != nil {
		respondError(c, err)
		return
	}
	notes, err := h.assistant.ListHealthNotes(c.Request.Context(), userID, sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notes": notes})
}
