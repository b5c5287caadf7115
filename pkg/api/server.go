package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/citygrid-labs/aegis/pkg/auth"
	"github.com/citygrid-labs/aegis/pkg/governance"
	"github.com/citygrid-labs/aegis/pkg/ledger"
	"github.com/citygrid-labs/aegis/pkg/lifecycle"
	"github.com/citygrid-labs/aegis/pkg/override"
	"github.com/citygrid-labs/aegis/pkg/policy"
)

// Server exposes the governance core over HTTP. The UI is a thin view
// over these endpoints; the server-owned state machines are the only
// source of truth.
type Server struct {
	actions   *lifecycle.Manager
	policies  *policy.Store
	overrides *override.Arbitrator
	evaluator *governance.Evaluator
	detector  *governance.ConflictDetector
	audit     *ledger.Ledger
	log       *slog.Logger
}

// NewServer wires the handler set.
func NewServer(
	actions *lifecycle.Manager,
	policies *policy.Store,
	overrides *override.Arbitrator,
	evaluator *governance.Evaluator,
	detector *governance.ConflictDetector,
	audit *ledger.Ledger,
	log *slog.Logger,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		actions:   actions,
		policies:  policies,
		overrides: overrides,
		evaluator: evaluator,
		detector:  detector,
		audit:     audit,
		log:       log,
	}
}

// Handler assembles the route table and middleware chain.
func (s *Server) Handler(validator *auth.JWTValidator, rps, burst int) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /readiness", s.handleHealth)

	mux.HandleFunc("POST /api/v1/actions", auth.RequireRole(auth.RoleOperator, s.handleProposeAction))
	mux.HandleFunc("POST /api/v1/actions/{id}/approve", auth.RequireRole(auth.RoleOperator, s.handleApproveAction))
	mux.HandleFunc("POST /api/v1/actions/{id}/deny", auth.RequireRole(auth.RoleOperator, s.handleDenyAction))
	mux.HandleFunc("POST /api/v1/actions/{id}/complete", auth.RequireRole(auth.RoleOperator, s.handleCompleteAction))
	mux.HandleFunc("POST /api/v1/actions/{id}/fail", auth.RequireRole(auth.RoleOperator, s.handleFailAction))
	mux.HandleFunc("GET /api/v1/actions/pending", auth.RequireRole(auth.RoleAuditor, s.handleListPending))
	mux.HandleFunc("GET /api/v1/actions/{id}", auth.RequireRole(auth.RoleAuditor, s.handleGetAction))

	mux.HandleFunc("POST /api/v1/overrides", auth.RequireRole(auth.RoleAdmin, s.handleRegisterOverride))
	mux.HandleFunc("POST /api/v1/overrides/{id}/activate", auth.RequireRole(auth.RoleOperator, s.handleActivateOverride))
	mux.HandleFunc("POST /api/v1/overrides/{id}/deactivate", auth.RequireRole(auth.RoleOperator, s.handleDeactivateOverride))

	mux.HandleFunc("POST /api/v1/policies", auth.RequireRole(auth.RoleOperator, s.handleSubmitPolicy))
	mux.HandleFunc("PUT /api/v1/policies/{id}", auth.RequireRole(auth.RoleOperator, s.handleUpdatePolicy))
	mux.HandleFunc("POST /api/v1/policies/{id}/deprecate", auth.RequireRole(auth.RoleOperator, s.handleDeprecatePolicy))
	mux.HandleFunc("POST /api/v1/policies/{id}/rollback", auth.RequireRole(auth.RoleOperator, s.handleRollbackPolicy))
	mux.HandleFunc("GET /api/v1/policies/{id}", auth.RequireRole(auth.RoleAuditor, s.handleGetPolicy))
	mux.HandleFunc("GET /api/v1/policies/{id}/history", auth.RequireRole(auth.RoleAuditor, s.handlePolicyHistory))
	mux.HandleFunc("POST /api/v1/policies/{id}/simulate", auth.RequireRole(auth.RoleOperator, s.handleSimulatePolicy))

	mux.HandleFunc("POST /api/v1/conflicts/scan", auth.RequireRole(auth.RoleOperator, s.handleConflictScan))

	mux.HandleFunc("GET /api/v1/audit/chains/{rt}/{rid}", auth.RequireRole(auth.RoleAuditor, s.handleChainOfCustody))
	mux.HandleFunc("POST /api/v1/audit/chains/{rt}/{rid}/verify", auth.RequireRole(auth.RoleAuditor, s.handleVerifyChain))
	mux.HandleFunc("POST /api/v1/audit/chains/{rt}/{rid}/seal", auth.RequireRole(auth.RoleAdmin, s.handleSealChain))
	mux.HandleFunc("GET /api/v1/audit/entries", auth.RequireRole(auth.RoleAuditor, s.handleListAuditEntries))

	limiter := NewGlobalRateLimiter(rps, burst)
	idem := IdempotencyMiddleware(NewIdempotencyStore(10 * time.Minute))

	var h http.Handler = mux
	h = idem(h)
	h = auth.NewMiddleware(validator)(h)
	h = limiter.Middleware(h)
	h = auth.RequestIDMiddleware(h)
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
