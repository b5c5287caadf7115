// Audit record contracts.
package contracts

import "time"

// EventType categorizes an audited transition.
type EventType string

const (
	EventActionCreated       EventType = "action_created"
	EventActionApproved      EventType = "action_approved"
	EventActionDenied        EventType = "action_denied"
	EventActionExecuting     EventType = "action_executing"
	EventActionCompleted     EventType = "action_completed"
	EventActionFailed        EventType = "action_failed"
	EventPolicyCreated       EventType = "policy_created"
	EventPolicyUpdated       EventType = "policy_updated"
	EventPolicyDeprecated    EventType = "policy_deprecated"
	EventPolicyRolledBack    EventType = "policy_rolled_back"
	EventOverrideActivated   EventType = "emergency_override_activated"
	EventOverrideDeactivated EventType = "emergency_override_deactivated"
	EventChainSealed         EventType = "chain_sealed"
)

// Severity grades an audit entry.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AuditEntry is one immutable, hash-chained record. PrevHash/Hash form a
// chain per (ResourceType, ResourceID); Sequence is the 1-based position
// within that chain.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type AuditEntry struct {
	EntryID        string    `json:"entry_id"`
	EventType      EventType `json:"event_type"`
	Severity       Severity  `json:"severity"`
	Timestamp      time.Time `json:"timestamp"`
	Actor          Actor     `json:"actor"`
	ResourceType   string    `json:"resource_type"`
	ResourceID     string    `json:"resource_id"`
	Description    string    `json:"description,omitempty"`
	ComplianceTags []string  `json:"compliance_tags,omitempty"`
	Sequence       uint64    `json:"sequence"`
	PrevHash       string    `json:"prev_hash"`
	Hash           string    `json:"hash"`
}

// ChainOfCustody is the derived, ordered view over one resource's chain.
type ChainOfCustody struct {
	ResourceType string       `json:"resource_type"`
	ResourceID   string       `json:"resource_id"`
	Entries      []AuditEntry `json:"entries"`
	EntriesCount int          `json:"entries_count"`
	IsSealed     bool         `json:"is_sealed"`
}

// Resource type constants used as chain keys.
const (
	ResourceAction   = "action"
	ResourcePolicy   = "policy"
	ResourceOverride = "override"
)
