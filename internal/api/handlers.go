package api

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/mystorage/mystorage/internal/common/errors"
	"github.com/mystorage/mystorage/internal/common/logger"
	"github.com/mystorage/mystorage/internal/events"
	"github.com/mystorage/mystorage/internal/events/bus"
	"github.com/mystorage/mystorage/internal/history/repository"
	"github.com/mystorage/mystorage/internal/storage/credentials"
	"github.com/mystorage/mystorage/internal/storage/git"
	"github.com/mystorage/mystorage/internal/zipper/supervisor"
	v1 "github.com/mystorage/mystorage/pkg/api/v1"
)

// SessionSupervisor is the supervisor surface the handlers need
type SessionSupervisor interface {
	Start(ctx context.Context, req supervisor.StartRequest) (*v1.Session, error)
	RequestStop(ctx context.Context)
	Current() (*v1.Session, bool)
	Reset() error
}

// RepositoryEngine is the repository workflow surface the handlers need
type RepositoryEngine interface {
	Status(ctx context.Context) (*v1.RepositoryStatus, error)
	Publish(ctx context.Context, commitMessage string, identity git.Identity, token string) (*v1.PushOutcome, error)
}

// CredentialSource resolves credential values by key
type CredentialSource interface {
	GetValue(ctx context.Context, key string) (string, error)
}

// Handler contains HTTP handlers for the zipper manager API
type Handler struct {
	supervisor SessionSupervisor
	engine     RepositoryEngine
	history    repository.Repository
	creds      CredentialSource
	eventBus   bus.EventBus
	logger     *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(
	sup SessionSupervisor,
	engine RepositoryEngine,
	history repository.Repository,
	creds CredentialSource,
	eventBus bus.EventBus,
	log *logger.Logger,
) *Handler {
	return &Handler{
		supervisor: sup,
		engine:     engine,
		history:    history,
		creds:      creds,
		eventBus:   eventBus,
		logger:     log.WithFields(zap.String("component", "api")),
	}
}

// respondError maps an error to its HTTP response. AppErrors carry their own
// status and code, anything else becomes a 500.
func (h *Handler) respondError(c *gin.Context, err error, fallback string) {
	var appErr *apperrors.AppError
	if stderrors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	wrapped := apperrors.InternalError(fallback, err)
	c.JSON(wrapped.HTTPStatus, wrapped)
}

// StartSession starts a new worker session
// POST /api/v1/sessions
func (h *Handler) StartSession(c *gin.Context) {
	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperrors.BadRequest("invalid request body: " + err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	session, err := h.supervisor.Start(c.Request.Context(), supervisor.StartRequest{
		SourcePath:      req.SourcePath,
		DestinationPath: req.DestinationPath,
		Secret:          req.Secret,
		Parallelism:     req.Parallelism,
		SelectedFiles:   req.SelectedFiles,
	})
	if err != nil {
		// The secret is not logged along with the failed request.
		h.logger.Error("failed to start session",
			zap.String("source_path", req.SourcePath),
			zap.String("destination_path", req.DestinationPath),
			zap.Error(err))
		h.respondError(c, err, "failed to start session")
		return
	}

	c.JSON(http.StatusCreated, session)
}

// GetCurrentSession returns the active or most recent session
// GET /api/v1/sessions/current
func (h *Handler) GetCurrentSession(c *gin.Context) {
	session, ok := h.supervisor.Current()
	if !ok {
		c.JSON(http.StatusOK, &v1.Session{State: v1.SessionStateIdle})
		return
	}
	c.JSON(http.StatusOK, session)
}

// StopSession requests a graceful stop of the active session. Stopping an
// idle supervisor is a no-op, not an error.
// DELETE /api/v1/sessions/current
func (h *Handler) StopSession(c *gin.Context) {
	h.supervisor.RequestStop(c.Request.Context())
	c.Status(http.StatusNoContent)
}

// ResetSession clears a terminal session so a new one can be observed
// POST /api/v1/sessions/reset
func (h *Handler) ResetSession(c *gin.Context) {
	if err := h.supervisor.Reset(); err != nil {
		h.respondError(c, err, "failed to reset session")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "session reset"})
}

// SessionHistory lists past sessions, newest first
// GET /api/v1/sessions/history
func (h *Handler) SessionHistory(c *gin.Context) {
	limit := parseLimit(c, 50)

	records, err := h.history.ListSessions(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list session history", zap.Error(err))
		h.respondError(c, err, "failed to list session history")
		return
	}

	sessions := make([]SessionRecordResponse, 0, len(records))
	for _, record := range records {
		sessions = append(sessions, sessionRecordToResponse(record))
	}

	c.JSON(http.StatusOK, SessionHistoryResponse{
		Sessions: sessions,
		Total:    len(sessions),
	})
}

// RepositoryStatus returns the storage repository's working tree status
// GET /api/v1/repository/status
func (h *Handler) RepositoryStatus(c *gin.Context) {
	status, err := h.engine.Status(c.Request.Context())
	if err != nil {
		h.logger.Error("repository status query failed", zap.Error(err))
		h.respondError(c, err, "repository status query failed")
		return
	}

	h.publishEvent(c.Request.Context(), events.RepositoryStatusChecked, map[string]interface{}{
		"branch":      status.Branch,
		"has_changes": status.HasChanges,
	})

	c.JSON(http.StatusOK, status)
}

// PublishRepository commits pending changes and pushes them
// POST /api/v1/repository/publish
func (h *Handler) PublishRepository(c *gin.Context) {
	var req PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperrors.BadRequest("invalid request body: " + err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	identity := git.Identity{Name: req.UserName, Email: req.UserEmail}
	if identity.Name == "" {
		identity.Name = h.credential(c.Request.Context(), credentials.KeyGitHubUser)
	}
	if identity.Email == "" {
		identity.Email = h.credential(c.Request.Context(), credentials.KeyGitHubEmail)
	}
	token := h.credential(c.Request.Context(), credentials.KeyGitHubToken)

	outcome, err := h.engine.Publish(c.Request.Context(), req.CommitMessage, identity, token)
	if err != nil {
		h.respondError(c, err, "publish failed")
		return
	}

	if err := h.history.RecordPush(c.Request.Context(), &repository.PushRecord{
		CommitMessage: req.CommitMessage,
		Success:       outcome.Success,
		FailedStep:    outcome.FailedStep,
		Message:       outcome.Message,
	}); err != nil {
		h.logger.Error("failed to record push", zap.Error(err))
	}

	h.publishEvent(c.Request.Context(), events.RepositoryPublished, map[string]interface{}{
		"success":     outcome.Success,
		"failed_step": outcome.FailedStep,
	})

	c.JSON(http.StatusOK, outcome)
}

// PushHistory lists past publish attempts, newest first
// GET /api/v1/repository/history
func (h *Handler) PushHistory(c *gin.Context) {
	limit := parseLimit(c, 50)

	records, err := h.history.ListPushes(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list push history", zap.Error(err))
		h.respondError(c, err, "failed to list push history")
		return
	}

	pushes := make([]PushRecordResponse, 0, len(records))
	for _, record := range records {
		pushes = append(pushes, PushRecordResponse{
			ID:            record.ID,
			CommitMessage: record.CommitMessage,
			Success:       record.Success,
			FailedStep:    record.FailedStep,
			Message:       record.Message,
			CreatedAt:     record.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, PushHistoryResponse{
		Pushes: pushes,
		Total:  len(pushes),
	})
}

// HealthCheck returns health status
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

func (h *Handler) credential(ctx context.Context, key string) string {
	if h.creds == nil {
		return ""
	}
	value, err := h.creds.GetValue(ctx, key)
	if err != nil {
		return ""
	}
	return value
}

func (h *Handler) publishEvent(ctx context.Context, eventType string, data map[string]interface{}) {
	if h.eventBus == nil {
		return
	}
	event := bus.NewEvent(eventType, "zipper-manager", data)
	if err := h.eventBus.Publish(ctx, eventType, event); err != nil {
		h.logger.Error("failed to publish event",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

func parseLimit(c *gin.Context, fallback int) int {
	raw := c.DefaultQuery("limit", strconv.Itoa(fallback))
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return fallback
	}
	return limit
}

func sessionRecordToResponse(record *repository.SessionRecord) SessionRecordResponse {
	return SessionRecordResponse{
		ID:              record.ID,
		SourcePath:      record.SourcePath,
		DestinationPath: record.DestinationPath,
		State:           record.State,
		Success:         record.Outcome.Success,
		Stopped:         record.Outcome.Stopped,
		ExitCode:        record.Outcome.ExitCode,
		Diagnostic:      record.Outcome.Diagnostic,
		FilesProcessed:  record.Stats.FilesProcessed,
		FilesFailed:     record.Stats.FilesFailed,
		StartedAt:       record.StartedAt,
		FinishedAt:      record.FinishedAt,
		CreatedAt:       record.CreatedAt,
	}
}
