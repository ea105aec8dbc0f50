package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/breachline/breachline/internal/agents"
	"github.com/breachline/breachline/internal/auth"
	"github.com/breachline/breachline/internal/channel"
	"github.com/breachline/breachline/internal/execution"
	"github.com/breachline/breachline/internal/model"
	"github.com/breachline/breachline/internal/scheduler"
)

// CatalogStore is the slice of the storage surface the catalog handlers use.
type CatalogStore interface {
	ListTechniques(ctx context.Context, tactic, platform string) ([]model.Technique, error)
	GetTechnique(ctx context.Context, id string) (model.Technique, error)
	ListScenarios(ctx context.Context) ([]model.Scenario, error)
	GetScenario(ctx context.Context, id string) (model.Scenario, error)
	UpsertScenario(ctx context.Context, s model.Scenario) error
	DeleteScenario(ctx context.Context, id string) error
}

// Pinger reports storage connectivity for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers carries the dependencies shared by all HTTP handlers.
type Handlers struct {
	registry *agents.Registry
	execSvc  *execution.Service
	schedSvc *scheduler.Service
	catalog  CatalogStore
	pinger   Pinger
	jwtMgr   *auth.JWTManager
	hub      *channel.Hub
	logger   *slog.Logger
	version  string

	// adminKeyHash is the Argon2id hash of the bootstrap admin API key,
	// empty when the bootstrap path is disabled.
	adminKeyHash string
}

// HandlersDeps bundles constructor arguments for Handlers.
type HandlersDeps struct {
	Registry    *agents.Registry
	ExecSvc     *execution.Service
	SchedSvc    *scheduler.Service
	Catalog     CatalogStore
	Pinger      Pinger
	JWTMgr      *auth.JWTManager
	Hub         *channel.Hub
	Logger      *slog.Logger
	Version     string
	AdminAPIKey string
}

// NewHandlers constructs the handler set. The admin API key is hashed once
// here so request-path verification is constant-time against the stored hash.
func NewHandlers(deps HandlersDeps) (*Handlers, error) {
	h := &Handlers{
		registry: deps.Registry,
		execSvc:  deps.ExecSvc,
		schedSvc: deps.SchedSvc,
		catalog:  deps.Catalog,
		pinger:   deps.Pinger,
		jwtMgr:   deps.JWTMgr,
		hub:      deps.Hub,
		logger:   deps.Logger,
		version:  deps.Version,
	}
	if deps.AdminAPIKey != "" {
		hash, err := auth.HashAPIKey(deps.AdminAPIKey)
		if err != nil {
			return nil, err
		}
		h.adminKeyHash = hash
	}
	return h, nil
}

// HandleAuthToken exchanges the admin API key for a signed operator token.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "api_key is required")
		return
	}

	if h.adminKeyHash == "" {
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	ok, err := auth.VerifyAPIKey(req.APIKey, h.adminKeyHash)
	if err != nil || !ok {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, exp, err := h.jwtMgr.IssueToken("admin", model.RoleAdmin)
	if err != nil {
		h.logger.Error("issue token", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
		return
	}
	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{Token: token, ExpiresAt: exp})
}

// HandleHealth reports liveness and storage connectivity.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, r, code, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// HandleVersion reports the build version.
func (h *Handlers) HandleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"version": h.version})
}
