package eventstream

import "time"

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeItemIngested is emitted after a new memory item is stored
	// and indexed.
	EventTypeItemIngested = "engram.item.ingested"

	// EventTypeItemsMerged is emitted after a consolidation merge commits.
	EventTypeItemsMerged = "engram.items.merged"

	// EventTypeTierChanged is emitted after a tier transition commits,
	// resurrection included.
	EventTypeTierChanged = "engram.tier.changed"

	// EventTypeItemEvicted is emitted after the eviction pass hard-deletes
	// an item.
	EventTypeItemEvicted = "engram.item.evicted"
)

// LifecycleEvent is a transport-neutral envelope for memory lifecycle
// notifications. Exactly one of the metadata fields matching EventType is
// populated.
type LifecycleEvent struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EmittedAt     time.Time `json:"emitted_at"`
	Namespace     string    `json:"namespace,omitempty"`
	ItemID        string    `json:"item_id,omitempty"`

	Ingested    *IngestedMeta   `json:"ingested,omitempty"`
	Merged      *MergedMeta     `json:"merged,omitempty"`
	TierChanged *TierChangeMeta `json:"tier_changed,omitempty"`
	Evicted     *EvictedMeta    `json:"evicted,omitempty"`
}

// IngestedMeta captures the initial state of a stored item.
type IngestedMeta struct {
	Fingerprint string  `json:"fingerprint"`
	Tier        string  `json:"tier"`
	Importance  float64 `json:"importance"`
}

// MergedMeta captures a committed consolidation merge.
type MergedMeta struct {
	SurvivorID  string   `json:"survivor_id"`
	AbsorbedIDs []string `json:"absorbed_ids"`
	ClusterKey  string   `json:"cluster_key,omitempty"`
}

// TierChangeMeta captures one tier transition.
type TierChangeMeta struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// EvictedMeta captures the final state of a hard-deleted item.
type EvictedMeta struct {
	Tier       string  `json:"tier"`
	DecayScore float64 `json:"decay_score"`
}
