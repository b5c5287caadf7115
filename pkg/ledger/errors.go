package ledger

import "fmt"

// ChainSealedError rejects an append against a sealed chain.
type ChainSealedError struct {
	ResourceType string
	ResourceID   string
}

func (e *ChainSealedError) Error() string {
	return fmt.Sprintf("audit chain %s/%s is sealed", e.ResourceType, e.ResourceID)
}

// AlreadySealedError rejects a second seal of the same chain.
type AlreadySealedError struct {
	ResourceType string
	ResourceID   string
}

func (e *AlreadySealedError) Error() string {
	return fmt.Sprintf("audit chain %s/%s is already sealed", e.ResourceType, e.ResourceID)
}

// IntegrityViolation is a diagnostic finding reported by Verify. It is
// never raised during a normal append and triggers no automatic
// remediation: resolution is an operator's call.
type IntegrityViolation struct {
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	Sequence     uint64 `json:"sequence"`
	EntryID      string `json:"entry_id"`
	Expected     string `json:"expected"`
	Got          string `json:"got"`
	Detail       string `json:"detail"`
}

// VerifyResult is the outcome of a full chain recomputation.
type VerifyResult struct {
	Verified       bool                `json:"verified"`
	EntriesChecked int                 `json:"entries_checked"`
	Violation      *IntegrityViolation `json:"violation,omitempty"`
}
