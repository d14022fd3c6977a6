// Package item defines the core memory item model shared by every engine
// component: tiers, relationships, version history, and validation.
package item

import (
	"fmt"
	"math"
	"time"
)

// Tier is a named retention class. Items move forward through tiers as they
// decay and may only move backward through an explicit resurrection.
type Tier string

const (
	TierWorking   Tier = "working"
	TierShortTerm Tier = "short_term"
	TierLongTerm  Tier = "long_term"
	TierArchived  Tier = "archived"
)

// tierOrder gives each tier a forward-monotonic rank.
var tierOrder = map[Tier]int{
	TierWorking:   0,
	TierShortTerm: 1,
	TierLongTerm:  2,
	TierArchived:  3,
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	_, ok := tierOrder[t]
	return ok
}

// Rank returns the forward-monotonic position of the tier (working = 0).
func (t Tier) Rank() int {
	return tierOrder[t]
}

// Next returns the tier an item demotes into. Archived is terminal.
func (t Tier) Next() Tier {
	switch t {
	case TierWorking:
		return TierShortTerm
	case TierShortTerm:
		return TierLongTerm
	case TierLongTerm:
		return TierArchived
	default:
		return TierArchived
	}
}

// ParseTier converts a string into a Tier, validating it.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.Valid() {
		return "", &ValidationError{Field: "tier", Reason: fmt.Sprintf("unknown tier %q", s)}
	}
	return t, nil
}

// SemanticVector is the default named vector attached to items.
const SemanticVector = "semantic"

// TargetKind discriminates relationship targets.
type TargetKind string

const (
	TargetItem   TargetKind = "item"
	TargetEntity TargetKind = "entity"
)

// Relationship is a typed, weighted outgoing edge from a memory item to
// another item or to an extracted entity. Asserted and observed times are
// kept separately so a fact learned late about the past stays queryable.
type Relationship struct {
	TargetID   string     `json:"target_id"`
	TargetKind TargetKind `json:"target_kind"`
	Type       string     `json:"type"`
	Strength   float64    `json:"strength"`
	AssertedAt time.Time  `json:"asserted_at"`
	ObservedAt time.Time  `json:"observed_at"`
	ValidFrom  *time.Time `json:"valid_from,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
}

// Entity is an extracted concept/person/place node. Entities are owned by
// the relationship graph and referenced, never owned, by items.
type Entity struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot is one prior content state of an item. The history is append-only.
type Snapshot struct {
	Content   string    `json:"content"`
	Reason    string    `json:"reason"`
	TakenAt   time.Time `json:"taken_at"`
	MergedIDs []string  `json:"merged_ids,omitempty"`
}

// MemoryItem is the central entity of the engine.
type MemoryItem struct {
	ID          string               `json:"id"`
	Content     string               `json:"content"`
	Embeddings  map[string][]float32 `json:"embeddings,omitempty"`
	Fingerprint string               `json:"fingerprint"`

	Tier       Tier    `json:"tier"`
	Importance float64 `json:"importance"`
	DecayScore float64 `json:"decay_score"`

	AccessCount    int64      `json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// TierChangedAt records when the item entered its current tier.
	// Promotion dwell-time checks are computed against it.
	TierChangedAt time.Time `json:"tier_changed_at"`

	// Version is the optimistic-concurrency counter. Every store write
	// increments it; compare-and-swap writes reject stale versions.
	Version int64 `json:"version"`

	VersionHistory []Snapshot `json:"version_history,omitempty"`

	// MergedFrom lists the ids this item absorbed during consolidation.
	// Absorbed items are tombstoned and never independently retrievable.
	MergedFrom []string `json:"merged_from,omitempty"`

	Tombstoned   bool       `json:"tombstoned"`
	TombstonedAt *time.Time `json:"tombstoned_at,omitempty"`

	Namespace     string         `json:"namespace,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	Relationships []Relationship `json:"relationships,omitempty"`
}

// SemanticEmbedding returns the default named vector, or nil if unset.
func (m *MemoryItem) SemanticEmbedding() []float32 {
	if m.Embeddings == nil {
		return nil
	}
	return m.Embeddings[SemanticVector]
}

// Age returns the item age at the given instant.
func (m *MemoryItem) Age(now time.Time) time.Duration {
	return now.Sub(m.CreatedAt)
}

// Validate checks the invariants a caller-supplied item must satisfy.
// Corrupt values fail loudly; they are never coerced, since silently
// resetting a timestamp or clamping an importance falsifies history.
func (m *MemoryItem) Validate() error {
	if m.ID == "" {
		return &ValidationError{Field: "id", Reason: "empty"}
	}
	if m.Content == "" {
		return &ValidationError{Field: "content", Reason: "empty"}
	}
	if math.IsNaN(m.Importance) || m.Importance < 0 || m.Importance > 1 {
		return &ValidationError{Field: "importance", Reason: fmt.Sprintf("must be in [0,1], got %v", m.Importance)}
	}
	if m.CreatedAt.IsZero() {
		return &ValidationError{Field: "created_at", Reason: "zero timestamp"}
	}
	if !m.Tier.Valid() {
		return &ValidationError{Field: "tier", Reason: fmt.Sprintf("unknown tier %q", m.Tier)}
	}
	if m.Fingerprint == "" {
		return &ValidationError{Field: "fingerprint", Reason: "empty"}
	}
	return nil
}

// Clone returns a deep copy so stores can hand out items without aliasing
// internal state.
func (m *MemoryItem) Clone() *MemoryItem {
	out := *m
	if m.Embeddings != nil {
		out.Embeddings = make(map[string][]float32, len(m.Embeddings))
		for name, vec := range m.Embeddings {
			cp := make([]float32, len(vec))
			copy(cp, vec)
			out.Embeddings[name] = cp
		}
	}
	out.VersionHistory = append([]Snapshot(nil), m.VersionHistory...)
	out.MergedFrom = append([]string(nil), m.MergedFrom...)
	out.Tags = append([]string(nil), m.Tags...)
	out.Relationships = append([]Relationship(nil), m.Relationships...)
	if m.LastAccessedAt != nil {
		t := *m.LastAccessedAt
		out.LastAccessedAt = &t
	}
	if m.ExpiresAt != nil {
		t := *m.ExpiresAt
		out.ExpiresAt = &t
	}
	if m.TombstonedAt != nil {
		t := *m.TombstonedAt
		out.TombstonedAt = &t
	}
	return &out
}
