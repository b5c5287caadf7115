package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/citygrid-labs/aegis/pkg/auth"
	"github.com/citygrid-labs/aegis/pkg/contracts"
	"github.com/citygrid-labs/aegis/pkg/ledger"
	"github.com/citygrid-labs/aegis/pkg/lifecycle"
	"github.com/citygrid-labs/aegis/pkg/override"
	"github.com/citygrid-labs/aegis/pkg/policy"
)

const maxBodyBytes = 1 << 20 // 1MB

// humanActor builds the audit actor from the authenticated principal.
func humanActor(r *http.Request) contracts.Actor {
	principal, err := auth.GetPrincipal(r.Context())
	if err != nil {
		return contracts.Actor{ID: "unknown", Type: contracts.ActorHuman}
	}
	return contracts.Actor{ID: principal.GetID(), Type: contracts.ActorHuman, Name: principal.GetName()}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return false
	}
	return true
}

// writeDomainError maps the governance error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		invalidTransition *lifecycle.InvalidTransitionError
		staleVersion      *policy.StaleVersionError
		chainSealed       *ledger.ChainSealedError
		alreadySealed     *ledger.AlreadySealedError
	)
	switch {
	case errors.As(err, &invalidTransition):
		WriteConflict(w, err.Error())
	case errors.As(err, &staleVersion):
		WriteConflict(w, err.Error())
	case errors.As(err, &chainSealed), errors.As(err, &alreadySealed):
		WriteConflict(w, err.Error())
	case errors.Is(err, lifecycle.ErrNotFound),
		errors.Is(err, policy.ErrNotFound),
		errors.Is(err, override.ErrNotFound):
		WriteNotFound(w, err.Error())
	case errors.Is(err, override.ErrAlreadyActive), errors.Is(err, override.ErrNotActive):
		WriteConflict(w, err.Error())
	default:
		WriteUnprocessable(w, err.Error())
	}
}

// --- actions ---

func (s *Server) handleProposeAction(w http.ResponseWriter, r *http.Request) {
	var action contracts.Action
	if !decode(w, r, &action) {
		return
	}
	out, err := s.actions.Propose(r.Context(), &action)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, out)
}

func (s *Server) handleApproveAction(w http.ResponseWriter, r *http.Request) {
	out, err := s.actions.Approve(r.Context(), r.PathValue("id"), humanActor(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleDenyAction(w http.ResponseWriter, r *http.Request) {
	out, err := s.actions.Deny(r.Context(), r.PathValue("id"), humanActor(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleCompleteAction(w http.ResponseWriter, r *http.Request) {
	out, err := s.actions.MarkCompleted(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleFailAction(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if !decode(w, r, &body) {
		return
	}
	out, err := s.actions.MarkFailed(r.Context(), r.PathValue("id"), body.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	out, err := s.actions.ListPending(r.Context())
	if err != nil {
		WriteInternalError(w, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"actions": out, "count": len(out)})
}

func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	out, err := s.actions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, out)
}

// --- overrides ---

func (s *Server) handleRegisterOverride(w http.ResponseWriter, r *http.Request) {
	var o contracts.EmergencyOverride
	if !decode(w, r, &o) {
		return
	}
	if err := s.overrides.Register(r.Context(), &o); err != nil {
		writeDomainError(w, err)
		return
	}
	// Register normalizes the definition (forced inactive), so echo the
	// stored copy rather than the request body.
	stored, err := s.overrides.Get(r.Context(), o.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleActivateOverride(w http.ResponseWriter, r *http.Request) {
	out, err := s.overrides.Activate(r.Context(), r.PathValue("id"), humanActor(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeactivateOverride(w http.ResponseWriter, r *http.Request) {
	out, err := s.overrides.Deactivate(r.Context(), r.PathValue("id"), humanActor(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, out)
}

// --- policies ---

func (s *Server) handleSubmitPolicy(w http.ResponseWriter, r *http.Request) {
	var p contracts.Policy
	if !decode(w, r, &p) {
		return
	}
	out, err := s.policies.Submit(r.Context(), &p, humanActor(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, out)
}

func (s *Server) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Policy      contracts.Policy `json:"policy"`
		ReadVersion int              `json:"read_version"`
	}
	if !decode(w, r, &body) {
		return
	}
	body.Policy.ID = r.PathValue("id")
	out, err := s.policies.Update(r.Context(), &body.Policy, body.ReadVersion, humanActor(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeprecatePolicy(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ReadVersion int `json:"read_version"`
	}
	if !decode(w, r, &body) {
		return
	}
	out, err := s.policies.Deprecate(r.Context(), r.PathValue("id"), body.ReadVersion, humanActor(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleRollbackPolicy(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ToVersion int `json:"to_version"`
	}
	if !decode(w, r, &body) {
		return
	}
	out, err := s.policies.Rollback(r.Context(), r.PathValue("id"), body.ToVersion, humanActor(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	out, err := s.policies.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handlePolicyHistory(w http.ResponseWriter, r *http.Request) {
	out, err := s.policies.History(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"versions": out, "count": len(out)})
}

// handleSimulatePolicy is a pure dry-run: the named policy is evaluated
// against the submitted snapshot with the current active overrides, and
// nothing is mutated.
func (s *Server) handleSimulatePolicy(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Snapshot contracts.Snapshot `json:"snapshot"`
	}
	if !decode(w, r, &body) {
		return
	}
	p, err := s.policies.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	active, err := s.overrides.Active(r.Context())
	if err != nil {
		WriteInternalError(w, err.Error())
		return
	}
	result, err := s.evaluator.Evaluate(r.Context(), []contracts.Policy{*p}, active, body.Snapshot)
	if err != nil {
		WriteInternalError(w, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// --- conflicts ---

func (s *Server) handleConflictScan(w http.ResponseWriter, r *http.Request) {
	ref := contracts.ScopeRef{
		City:       r.URL.Query().Get("city"),
		Department: r.URL.Query().Get("department"),
		Scenario:   r.URL.Query().Get("scenario"),
	}
	policies, err := s.policies.Resolve(r.Context(), ref)
	if err != nil {
		WriteInternalError(w, err.Error())
		return
	}
	findings := s.detector.Detect(policies)
	WriteJSON(w, http.StatusOK, map[string]any{"findings": findings, "count": len(findings)})
}

// --- audit ---

func (s *Server) handleChainOfCustody(w http.ResponseWriter, r *http.Request) {
	out, err := s.audit.ChainOfCustody(r.Context(), r.PathValue("rt"), r.PathValue("rid"))
	if err != nil {
		WriteInternalError(w, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	out, err := s.audit.Verify(r.Context(), r.PathValue("rt"), r.PathValue("rid"))
	if err != nil {
		WriteInternalError(w, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleSealChain(w http.ResponseWriter, r *http.Request) {
	out, err := s.audit.Seal(r.Context(), r.PathValue("rt"), r.PathValue("rid"), humanActor(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleListAuditEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.Filter{
		EventType:    contracts.EventType(q.Get("event_type")),
		Severity:     contracts.Severity(q.Get("severity")),
		ResourceType: q.Get("resource_type"),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteBadRequest(w, "invalid 'from' timestamp (want RFC 3339)")
			return
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteBadRequest(w, "invalid 'to' timestamp (want RFC 3339)")
			return
		}
		filter.To = t
	}
	out, err := s.audit.List(r.Context(), filter)
	if err != nil {
		WriteInternalError(w, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"entries": out, "count": len(out)})
}
