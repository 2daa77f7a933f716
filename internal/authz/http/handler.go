package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-suite/meridian-authz/internal/authz"
	"github.com/meridian-suite/meridian-authz/internal/observability"
	"github.com/meridian-suite/meridian-authz/internal/platform/httpx"
	"github.com/meridian-suite/meridian-authz/internal/shared"
)

// Authorizer is the decision surface the handler exposes, normally the
// decision cache wrapping the engine.
type Authorizer interface {
	Authorize(ctx context.Context, principalID, tenantID uuid.UUID, permissionCode string) (authz.Verdict, error)
	ExplainAuthorize(ctx context.Context, principalID, tenantID uuid.UUID, permissionCode string) (authz.Verdict, error)
}

// Handler wires the authorize endpoints.
type Handler struct {
	logger     *slog.Logger
	authorizer Authorizer
	metrics    *observability.Metrics
	validator  *validator.Validate
	timeout    time.Duration
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, authorizer Authorizer, metrics *observability.Metrics, timeout time.Duration) *Handler {
	return &Handler{
		logger:     logger,
		authorizer: authorizer,
		metrics:    metrics,
		validator:  validator.New(),
		timeout:    timeout,
	}
}

// MountRoutes registers the decision routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/authorize", h.handleAuthorize)
	r.Post("/explain", h.handleExplain)
}

type authorizeRequest struct {
	PrincipalID string `json:"principal_id" validate:"required,uuid4"`
	TenantID    string `json:"tenant_id" validate:"omitempty,uuid4"`
	Permission  string `json:"permission" validate:"required,min=2"`
}

type verdictResponse struct {
	Decision     string             `json:"decision"`
	DecidingRole string             `json:"deciding_role,omitempty"`
	Reason       string             `json:"reason"`
	Strategy     string             `json:"strategy,omitempty"`
	Trace        []authz.TraceEntry `json:"trace,omitempty"`
}

func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, false)
}

func (h *Handler) handleExplain(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, true)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, explain bool) {
	var req authorizeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	principalID, err := uuid.Parse(req.PrincipalID)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "principal_id is not a UUID")
		return
	}
	tenantID := uuid.Nil
	if req.TenantID != "" {
		if tenantID, err = uuid.Parse(req.TenantID); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "tenant_id is not a UUID")
			return
		}
	}

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	start := time.Now()
	var verdict authz.Verdict
	if explain {
		verdict, err = h.authorizer.ExplainAuthorize(ctx, principalID, tenantID, req.Permission)
	} else {
		verdict, err = h.authorizer.Authorize(ctx, principalID, tenantID, req.Permission)
	}
	h.metrics.RecordDecision(verdict.Strategy, verdict.Decision.String(), time.Since(start))

	if err != nil {
		switch {
		case errors.Is(err, shared.ErrPolicyMissing), errors.Is(err, shared.ErrAssignmentLimitExceeded):
			// Configuration and integrity defects stay internal: the caller
			// sees a deny with a reason code, operators see the log.
			h.log().Error("authorization failed closed",
				slog.String("principal", principalID.String()),
				slog.String("tenant", tenantID.String()),
				slog.String("reason", verdict.Reason),
				slog.Any("error", err))
		default:
			h.log().Error("authorization upstream failure", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
	}

	resp := verdictResponse{
		Decision:     verdict.Decision.String(),
		DecidingRole: verdict.DecidingRole,
		Reason:       verdict.Reason,
		Strategy:     verdict.Strategy,
	}
	if explain {
		resp.Trace = verdict.Trace
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) log() *slog.Logger {
	if h.logger != nil {
		return h.logger.With(slog.String("component", "authz_http"))
	}
	return slog.Default().With(slog.String("component", "authz_http"))
}
