// Package decay computes the time-and-access-sensitive relevance score that
// drives tier transitions and eviction ordering. Scoring is a pure function
// of item metadata; it never touches storage.
package decay

import (
	"math"
	"time"

	"github.com/engramlabs/engram/pkg/item"
)

const (
	// MaxBoost caps the access/relationship multiplier so heavily-accessed
	// stale items cannot fully defeat decay.
	MaxBoost = 2.0

	accessBoostWeight       = 0.1
	relationshipBoostWeight = 0.05
)

// ScoreInput carries the metadata the scorer reads. Age and half-life are
// expressed in days.
type ScoreInput struct {
	Importance        float64
	AgeDays           float64
	HalfLifeDays      float64
	AccessCount       int64
	RelationshipCount int
}

// Score computes importance * curve(age/halfLife) * boost(access, rels),
// clamped to [0,1]. The curve returns 1.0 at age zero, 0.5 at one
// half-life, and asymptotically approaches zero.
//
// Corrupt inputs (NaN, negative age, non-positive half-life) fail loudly:
// silently treating a broken timestamp as "now" would falsify history.
func Score(in ScoreInput) (float64, error) {
	if math.IsNaN(in.Importance) || in.Importance < 0 || in.Importance > 1 {
		return 0, &item.ValidationError{Field: "importance", Reason: "must be in [0,1]"}
	}
	if math.IsNaN(in.AgeDays) || in.AgeDays < 0 {
		return 0, &item.ValidationError{Field: "age", Reason: "negative or NaN"}
	}
	if math.IsNaN(in.HalfLifeDays) || in.HalfLifeDays <= 0 {
		return 0, &item.ValidationError{Field: "half_life", Reason: "must be positive"}
	}
	if in.AccessCount < 0 {
		return 0, &item.ValidationError{Field: "access_count", Reason: "negative"}
	}
	if in.RelationshipCount < 0 {
		return 0, &item.ValidationError{Field: "relationship_count", Reason: "negative"}
	}

	x := in.AgeDays / in.HalfLifeDays
	curve := 1.0 / (1.0 + x*x)

	score := in.Importance * curve * boost(in.AccessCount, in.RelationshipCount)
	return math.Min(1.0, math.Max(0.0, score)), nil
}

// ScoreItem derives the inputs from an item at the given instant.
func ScoreItem(m *item.MemoryItem, halfLifeDays float64, now time.Time) (float64, error) {
	if m.CreatedAt.IsZero() {
		return 0, &item.ValidationError{Field: "created_at", Reason: "zero timestamp"}
	}
	return Score(ScoreInput{
		Importance:        m.Importance,
		AgeDays:           now.Sub(m.CreatedAt).Hours() / 24,
		HalfLifeDays:      halfLifeDays,
		AccessCount:       m.AccessCount,
		RelationshipCount: len(m.Relationships),
	})
}

// boost is monotonically non-decreasing in both arguments and bounded by
// MaxBoost.
func boost(accessCount int64, relationshipCount int) float64 {
	b := 1.0 +
		accessBoostWeight*math.Log2(1.0+float64(accessCount)) +
		relationshipBoostWeight*float64(relationshipCount)
	return math.Min(MaxBoost, b)
}
