// Package ledger implements the append-only, hash-chained audit ledger.
//
// Every lifecycle transition, policy change and override activation lands
// here. Entries chain per (resource_type, resource_id): each hash covers
// the predecessor's hash plus the RFC 8785 canonical form of the entry.
// A chain may be sealed exactly once; sealed chains reject all appends.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/citygrid-labs/aegis/pkg/canonicalize"
	"github.com/citygrid-labs/aegis/pkg/contracts"
)

// GenesisHash anchors the first entry of every chain.
const GenesisHash = "genesis"

// Store abstracts ledger persistence. Implementations need not serialize
// appends themselves; the Ledger holds a per-chain lock so no two writers
// ever observe the same prev_hash.
type Store interface {
	AppendEntry(ctx context.Context, entry contracts.AuditEntry) error
	Entries(ctx context.Context, resourceType, resourceID string) ([]contracts.AuditEntry, error)
	LastEntry(ctx context.Context, resourceType, resourceID string) (*contracts.AuditEntry, error)
	IsSealed(ctx context.Context, resourceType, resourceID string) (bool, error)
	MarkSealed(ctx context.Context, resourceType, resourceID string) error
	List(ctx context.Context, filter Filter) ([]contracts.AuditEntry, error)
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	EventType    contracts.EventType
	Severity     contracts.Severity
	ResourceType string
	From         time.Time
	To           time.Time
	Limit        int
}

// Entry is the caller-facing shape of a new record; identity, sequencing
// and hashing are assigned by the ledger.
type Entry struct {
	EventType      contracts.EventType
	Severity       contracts.Severity
	Actor          contracts.Actor
	ResourceType   string
	ResourceID     string
	Description    string
	ComplianceTags []string
}

// Ledger coordinates hashing, sequencing and sealing over a Store.
type Ledger struct {
	store Store
	clock func() time.Time

	mu     sync.Mutex
	chains map[string]*sync.Mutex
}

// New creates a Ledger over the given store.
func New(store Store) *Ledger {
	return &Ledger{
		store:  store,
		clock:  time.Now,
		chains: make(map[string]*sync.Mutex),
	}
}

// WithClock overrides the clock for deterministic testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

func (l *Ledger) chainLock(resourceType, resourceID string) *sync.Mutex {
	key := resourceType + "/" + resourceID
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.chains[key]
	if !ok {
		m = &sync.Mutex{}
		l.chains[key] = m
	}
	return m
}

// Append writes one entry to the resource's chain. Appends to a sealed
// chain fail with *ChainSealedError.
func (l *Ledger) Append(ctx context.Context, e Entry) (*contracts.AuditEntry, error) {
	lock := l.chainLock(e.ResourceType, e.ResourceID)
	lock.Lock()
	defer lock.Unlock()

	sealed, err := l.store.IsSealed(ctx, e.ResourceType, e.ResourceID)
	if err != nil {
		return nil, fmt.Errorf("ledger: seal lookup for %s/%s: %w", e.ResourceType, e.ResourceID, err)
	}
	if sealed {
		return nil, &ChainSealedError{ResourceType: e.ResourceType, ResourceID: e.ResourceID}
	}

	return l.appendLocked(ctx, e)
}

// appendLocked assumes the chain lock is held and the chain is not sealed.
func (l *Ledger) appendLocked(ctx context.Context, e Entry) (*contracts.AuditEntry, error) {
	prevHash := GenesisHash
	var seq uint64 = 1
	last, err := l.store.LastEntry(ctx, e.ResourceType, e.ResourceID)
	if err != nil {
		return nil, fmt.Errorf("ledger: head lookup for %s/%s: %w", e.ResourceType, e.ResourceID, err)
	}
	if last != nil {
		prevHash = last.Hash
		seq = last.Sequence + 1
	}

	entry := contracts.AuditEntry{
		EntryID:        uuid.New().String(),
		EventType:      e.EventType,
		Severity:       e.Severity,
		Timestamp:      l.clock().UTC(),
		Actor:          e.Actor,
		ResourceType:   e.ResourceType,
		ResourceID:     e.ResourceID,
		Description:    e.Description,
		ComplianceTags: e.ComplianceTags,
		Sequence:       seq,
		PrevHash:       prevHash,
	}

	hash, err := entryHash(entry)
	if err != nil {
		return nil, fmt.Errorf("ledger: hashing entry for %s/%s: %w", e.ResourceType, e.ResourceID, err)
	}
	entry.Hash = hash

	if err := l.store.AppendEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("ledger: persisting entry for %s/%s: %w", e.ResourceType, e.ResourceID, err)
	}
	return &entry, nil
}

// entryHash computes SHA-256(prev_hash || JCS(entry without hash)).
func entryHash(entry contracts.AuditEntry) (string, error) {
	entry.Hash = ""
	canonical, err := canonicalize.JCS(entry)
	if err != nil {
		return "", err
	}
	return canonicalize.HashBytes(append([]byte(entry.PrevHash), canonical...)), nil
}

// Seal closes the chain one-way. The terminal chain_sealed entry is itself
// chained before sealing completes. A second Seal fails with
// *AlreadySealedError.
func (l *Ledger) Seal(ctx context.Context, resourceType, resourceID string, actor contracts.Actor) (*contracts.AuditEntry, error) {
	lock := l.chainLock(resourceType, resourceID)
	lock.Lock()
	defer lock.Unlock()

	sealed, err := l.store.IsSealed(ctx, resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("ledger: seal lookup for %s/%s: %w", resourceType, resourceID, err)
	}
	if sealed {
		return nil, &AlreadySealedError{ResourceType: resourceType, ResourceID: resourceID}
	}

	entry, err := l.appendLocked(ctx, Entry{
		EventType:    contracts.EventChainSealed,
		Severity:     contracts.SeverityHigh,
		Actor:        actor,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Description:  fmt.Sprintf("chain of custody sealed by %s", actor.ID),
	})
	if err != nil {
		return nil, err
	}

	if err := l.store.MarkSealed(ctx, resourceType, resourceID); err != nil {
		return nil, fmt.Errorf("ledger: sealing %s/%s: %w", resourceType, resourceID, err)
	}
	return entry, nil
}

// Verify recomputes the chain from genesis and reports the first entry
// whose stored hash or linkage does not match. An IntegrityViolation is a
// finding, not an error: human-in-the-loop by design.
func (l *Ledger) Verify(ctx context.Context, resourceType, resourceID string) (*VerifyResult, error) {
	entries, err := l.store.Entries(ctx, resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("ledger: reading chain %s/%s: %w", resourceType, resourceID, err)
	}

	prevHash := GenesisHash
	for i, entry := range entries {
		if entry.PrevHash != prevHash {
			return &VerifyResult{
				EntriesChecked: i + 1,
				Violation: &IntegrityViolation{
					ResourceType: resourceType,
					ResourceID:   resourceID,
					Sequence:     entry.Sequence,
					EntryID:      entry.EntryID,
					Expected:     prevHash,
					Got:          entry.PrevHash,
					Detail:       "chain linkage broken",
				},
			}, nil
		}
		recomputed, err := entryHash(entry)
		if err != nil {
			return nil, fmt.Errorf("ledger: rehashing entry %s: %w", entry.EntryID, err)
		}
		if recomputed != entry.Hash {
			return &VerifyResult{
				EntriesChecked: i + 1,
				Violation: &IntegrityViolation{
					ResourceType: resourceType,
					ResourceID:   resourceID,
					Sequence:     entry.Sequence,
					EntryID:      entry.EntryID,
					Expected:     recomputed,
					Got:          entry.Hash,
					Detail:       "stored hash does not match recomputed hash",
				},
			}, nil
		}
		prevHash = entry.Hash
	}

	return &VerifyResult{Verified: true, EntriesChecked: len(entries)}, nil
}

// ChainOfCustody returns the ordered entries for one resource.
func (l *Ledger) ChainOfCustody(ctx context.Context, resourceType, resourceID string) (*contracts.ChainOfCustody, error) {
	entries, err := l.store.Entries(ctx, resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("ledger: reading chain %s/%s: %w", resourceType, resourceID, err)
	}
	sealed, err := l.store.IsSealed(ctx, resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("ledger: seal lookup for %s/%s: %w", resourceType, resourceID, err)
	}
	return &contracts.ChainOfCustody{
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Entries:      entries,
		EntriesCount: len(entries),
		IsSealed:     sealed,
	}, nil
}

// List returns entries across all chains matching the filter.
func (l *Ledger) List(ctx context.Context, filter Filter) ([]contracts.AuditEntry, error) {
	entries, err := l.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("ledger: listing entries: %w", err)
	}
	return entries, nil
}
