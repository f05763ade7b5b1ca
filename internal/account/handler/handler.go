package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"bluecarbon/internal/account/models"
	"bluecarbon/internal/account/service"
	identity "bluecarbon/internal/identity/models"
	id "bluecarbon/pkg/domain"
	dErrors "bluecarbon/pkg/domain-errors"
	"bluecarbon/pkg/platform/httputil"
	"bluecarbon/pkg/requestcontext"
)

// Service defines the account lifecycle operations exposed over HTTP.
type Service interface {
	Register(ctx context.Context, req *models.RegisterRequest) (*models.RegisterResult, error)
	Approve(ctx context.Context, accountID id.AccountID) (*identity.Account, error)
	Activate(ctx context.Context, req *models.OTPRequest) (*identity.Account, error)
	Login(ctx context.Context, req *models.LoginRequest) error
	VerifyLogin(ctx context.Context, req *models.OTPRequest) (*models.LoginResponse, error)
	BootstrapAdmin(ctx context.Context, req *models.BootstrapAdminRequest) (*identity.Account, error)
	ListPending(ctx context.Context) ([]*identity.Account, error)
	UpdateIndustryProfile(ctx context.Context, industryID id.AccountID, req *models.UpdateIndustryProfileRequest) (*identity.Account, error)
}

// Handler serves the auth, setup and account-admin endpoints.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterPublic mounts the unauthenticated routes.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Post("/api/auth/register", h.HandleRegister)
	r.Post("/api/auth/activate", h.HandleActivate)
	r.Post("/api/auth/login", h.HandleLogin)
	r.Post("/api/auth/verify-login", h.HandleVerifyLogin)
	r.Post("/api/setup/initial-admin", h.HandleBootstrapAdmin)
}

// RegisterAdmin mounts admin routes. r must already enforce the ADMIN role.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/api/admin/approve-user/{userId}", h.HandleApprove)
	r.Get("/api/admin/pending-users", h.HandleListPending)
	r.Put("/api/admin/industries/{industryId}/profile", h.HandleUpdateIndustryProfile)
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.RegisterRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	res, err := h.service.Register(ctx, req)
	if err != nil {
		h.fail(ctx, w, "registration failed", err)
		return
	}
	h.logger.InfoContext(ctx, "account registered",
		"request_id", requestID,
		"kind", res.Account.Kind,
		"account_id", res.Account.ID,
	)
	httputil.WriteJSON(w, http.StatusCreated, registerResponse{
		Message: res.Message(),
		User:    res.Account,
	})
}

type registerResponse struct {
	Message string            `json:"message"`
	User    *identity.Account `json:"user"`
}

func (h *Handler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[models.OTPRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if _, err := h.service.Activate(ctx, req); err != nil {
		h.fail(ctx, w, "activation failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.MessageResponse{Message: models.MessageActivated})
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[models.LoginRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if err := h.service.Login(ctx, req); err != nil {
		h.fail(ctx, w, "login failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.MessageResponse{Message: models.MessagePasswordVerified})
}

func (h *Handler) HandleVerifyLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[models.OTPRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	resp, err := h.service.VerifyLogin(ctx, req)
	if err != nil {
		h.fail(ctx, w, "login verification failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleBootstrapAdmin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[models.BootstrapAdminRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	admin, err := h.service.BootstrapAdmin(ctx, req)
	if err != nil {
		h.fail(ctx, w, "admin bootstrap failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, registerResponse{Message: models.MessageAdminCreated, User: admin})
}

func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, err := id.ParseAccountID(chi.URLParam(r, "userId"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "user not found"))
		return
	}
	account, err := h.service.Approve(ctx, accountID)
	if err != nil {
		h.fail(ctx, w, "approval failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.MessageResponse{Message: service.ApprovedMessage(account)})
}

func (h *Handler) HandleListPending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accounts, err := h.service.ListPending(ctx)
	if err != nil {
		h.fail(ctx, w, "list pending accounts failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.PendingUsersResponse{Users: accounts})
}

func (h *Handler) HandleUpdateIndustryProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	industryID, err := id.ParseAccountID(chi.URLParam(r, "industryId"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "industry not found"))
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.UpdateIndustryProfileRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	account, err := h.service.UpdateIndustryProfile(ctx, industryID, req)
	if err != nil {
		h.fail(ctx, w, "industry profile update failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, account)
}

// fail logs at error level for internal faults and warn level for caller
// errors, then writes the error envelope.
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
