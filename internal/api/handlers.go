package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"medivoice/internal/auth"
	"medivoice/internal/catalog"
	"medivoice/internal/models"
	"medivoice/internal/pipeline"
	"medivoice/internal/redis"
	"medivoice/internal/service/assistant"
	"medivoice/internal/transcript"
	"medivoice/internal/worker"
)

// WorkerManager is the live call and report side used by the handlers.
type WorkerManager interface {
	ApplyEvents(ctx context.Context, userID int64, sessionID string, events []transcript.Event) (*worker.CallView, error)
	View(ctx context.Context, userID int64, sessionID string) (*worker.CallView, error)
	GenerateReport(ctx context.Context, req worker.ReportRequest) (*models.MedicalReport, error)
	Purge(sessionID string)
	CancelUser(userID int64)
}

// GeneratorResolver picks the completion service used to suggest doctors for a user.
type GeneratorResolver func(ctx context.Context, userID int64) (pipeline.Generator, error)

// Handler wires HTTP routes to the assistant service and the call workers.
type Handler struct {
	assistant *assistant.Service
	auth      *auth.Service
	workers   WorkerManager
	suggester GeneratorResolver
	cache     *redis.Client
}

// NewHandler constructs a Handler instance. cache may be nil, in which case
// report streams poll the database instead of listening on pub/sub.
func NewHandler(service *assistant.Service, authService *auth.Service, workers WorkerManager, suggester GeneratorResolver, cache *redis.Client) *Handler {
	return &Handler{
		assistant: service,
		auth:      authService,
		workers:   workers,
		suggester: suggester,
		cache:     cache,
	}
}

func (h *Handler) authorizedUserID(c *gin.Context) (int64, bool) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok || userID <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return 0, false
	}
	return userID, true
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/users/register", h.registerUser)
	api.POST("/users/login", h.loginUser)
	api.GET("/doctors", h.listDoctors)

	userRoutes := api.Group("/users/:id")
	userRoutes.Use(h.auth.Middleware(), auth.RequirePathUser("id"), h.auth.CSRFMiddleware())
	userRoutes.POST("/token", h.setToken)
	userRoutes.GET("/token", h.listTokens)
	userRoutes.DELETE("/token", h.deleteToken)
	userRoutes.POST("/suggest-doctors", h.suggestDoctors)
	userRoutes.POST("/sessions", h.createSession)
	userRoutes.GET("/sessions", h.listSessions)
	userRoutes.GET("/sessions/:session_id", h.getSession)
	userRoutes.DELETE("/sessions/:session_id", h.deleteSession)
	userRoutes.POST("/sessions/:session_id/call/events", h.postCallEvents)
	userRoutes.GET("/sessions/:session_id/call", h.getCall)
	userRoutes.POST("/sessions/:session_id/report", h.generateReport)
	userRoutes.GET("/sessions/:session_id/report", h.getReport)
	userRoutes.GET("/sessions/:session_id/report/stream", h.streamReport)
	userRoutes.POST("/sessions/:session_id/notes", h.addNote)
	userRoutes.GET("/sessions/:session_id/notes", h.listNotes)
	userRoutes.POST("/logout", h.logoutUser)
	userRoutes.DELETE("", h.deleteUser)
}

// respondError maps domain errors onto status codes.
func respondError(c *gin.Context, err error) {
	var vErr *models.ValidationError
	switch {
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, sql.ErrNoRows):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, worker.ErrReportInFlight),
		errors.Is(err, worker.ErrCallInProgress),
		errors.Is(err, worker.ErrCallClosed),
		errors.Is(err, assistant.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, worker.ErrDispatcherBusy), errors.Is(err, worker.ErrCallBusy):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "server is busy, please retry"})
	case errors.Is(err, pipeline.ErrReportFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "request cancelled"})
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) registerUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.assistant.RegisterUser(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"credits":    user.Credits,
		"created_at": user.CreatedAt,
	})
}

func (h *Handler) loginUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.assistant.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	authToken, err := h.auth.IssueToken(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	h.setAuthCookies(c, authToken, csrfToken)
	c.JSON(http.StatusOK, gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"credits":    user.Credits,
		"created_at": user.CreatedAt,
		"auth_token": authToken,
	})
}

func (h *Handler) listDoctors(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"doctors": catalog.All()})
}

func (h *Handler) logoutUser(c *gin.Context) {
	if _, ok := h.authorizedUserID(c); !ok {
		return
	}
	if authToken, ok := auth.AuthTokenFromContext(c); ok {
		if err := h.auth.RevokeToken(c.Request.Context(), authToken); err != nil {
			log.Warn().Err(err).Msg("revoke token")
		}
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteUser(c *gin.Context) {
	id, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := h.auth.RevokeUserTokens(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.workers.CancelUser(id)
	if err := h.assistant.DeleteUser(c.Request.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

// handle api token
func (h *Handler) setToken(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req struct {
		Provider string `json:"provider"`
		Token    string `json:"token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.assistant.SetUserToken(c.Request.Context(), userID, req.Provider, req.Token); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listTokens(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	tokens, err := h.assistant.ListUserTokens(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

func (h *Handler) deleteToken(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req struct {
		Provider string `json:"provider"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.assistant.DeleteUserToken(c.Request.Context(), userID, req.Provider); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "token not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) setAuthCookies(c *gin.Context, authToken, csrfToken string) {
	ttl := int(h.auth.TokenTTL().Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	secure := gin.Mode() == gin.ReleaseMode
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.auth.AuthCookieName(),
		Value:    authToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    csrfToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearAuthCookies(c *gin.Context) {
	for _, name := range []string{h.auth.AuthCookieName(), h.auth.CSRFCookieName()} {
		http.SetCookie(c.Writer, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			Path:     "/",
			Secure:   gin.Mode() == gin.ReleaseMode,
			HttpOnly: name == h.auth.AuthCookieName(),
			SameSite: http.SameSiteStrictMode,
		})
	}
}
