package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"bluecarbon/internal/task/models"
	id "bluecarbon/pkg/domain"
	dErrors "bluecarbon/pkg/domain-errors"
	"bluecarbon/pkg/platform/httputil"
	"bluecarbon/pkg/requestcontext"
)

// Service defines the task operations exposed over HTTP.
type Service interface {
	Assign(ctx context.Context, industryID, verifierID id.AccountID, dueDate time.Time) (*models.Task, error)
	SubmitEvidence(ctx context.Context, taskID id.TaskID, verifierID id.AccountID, evidenceRefs []string) (*models.Task, error)
	ApproveAndMint(ctx context.Context, taskID id.TaskID, metadataRef string) (*models.Task, error)
	ListAssigned(ctx context.Context, verifierID id.AccountID) ([]*models.Task, error)
	Get(ctx context.Context, taskID id.TaskID, viewerID id.AccountID, role id.Role) (*models.Task, error)
	CreateUploadURL(ctx context.Context, taskID id.TaskID, verifierID id.AccountID, req *models.UploadURLRequest) (*models.UploadURLResponse, error)
}

// Handler serves the verifier task endpoints and the admin task endpoints.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the authenticated task routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/api/tasks/my-tasks", h.HandleListAssigned)
	r.Get("/api/tasks/{taskId}", h.HandleGet)
	r.Post("/api/tasks/{taskId}/generate-upload-url", h.HandleCreateUploadURL)
	r.Post("/api/tasks/{taskId}/submit", h.HandleSubmit)
}

// RegisterAdmin mounts admin routes. r must already enforce the ADMIN role.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/api/admin/tasks", h.HandleAssign)
	r.Post("/api/admin/tasks/{taskId}/approve-and-mint", h.HandleApproveAndMint)
}

func (h *Handler) HandleAssign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.AssignRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	industryID, verifierID, dueDate := req.Parsed()
	task, err := h.service.Assign(ctx, industryID, verifierID, dueDate)
	if err != nil {
		h.fail(ctx, w, "task assignment failed", err)
		return
	}
	h.logger.InfoContext(ctx, "task assigned",
		"request_id", requestID,
		"task_id", task.ID,
	)
	httputil.WriteJSON(w, http.StatusCreated, task)
}

func (h *Handler) HandleApproveAndMint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID, ok := h.taskID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.ApproveAndMintRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	task, err := h.service.ApproveAndMint(ctx, taskID, req.TokenURI)
	if err != nil {
		h.fail(ctx, w, "approve and mint failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.TaskResponse{Message: models.MessageMinted, Task: task})
}

func (h *Handler) HandleListAssigned(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tasks, err := h.service.ListAssigned(ctx, requestcontext.AccountID(ctx))
	if err != nil {
		h.fail(ctx, w, "list tasks failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tasks)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID, ok := h.taskID(w, r)
	if !ok {
		return
	}
	task, err := h.service.Get(ctx, taskID, requestcontext.AccountID(ctx), requestcontext.Role(ctx))
	if err != nil {
		h.fail(ctx, w, "get task failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, task)
}

func (h *Handler) HandleCreateUploadURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID, ok := h.taskID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.UploadURLRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	resp, err := h.service.CreateUploadURL(ctx, taskID, requestcontext.AccountID(ctx), req)
	if err != nil {
		h.fail(ctx, w, "upload url generation failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID, ok := h.taskID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.SubmitEvidenceRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	task, err := h.service.SubmitEvidence(ctx, taskID, requestcontext.AccountID(ctx), req.EvidenceKeys)
	if err != nil {
		h.fail(ctx, w, "evidence submission failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.TaskResponse{Message: models.MessageEvidenceSubmitted, Task: task})
}

func (h *Handler) taskID(w http.ResponseWriter, r *http.Request) (id.TaskID, bool) {
	taskID, err := id.ParseTaskID(chi.URLParam(r, "taskId"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "task not found"))
		return 0, false
	}
	return taskID, true
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	level := slog.LevelWarn
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}
