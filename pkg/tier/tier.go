// Package tier owns the retention state machine. Items move forward
// Working → ShortTerm → LongTerm → Archived as they decay or outlive a
// tier's TTL; the single backward edge returns an item to Working, and
// only through an explicit resurrection gate. Read access alone never
// moves an item backward.
package tier

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/decay"
	"github.com/engramlabs/engram/pkg/item"
	"github.com/engramlabs/engram/pkg/store"
)

// Transition reasons reported by Evaluate and carried on lifecycle events.
const (
	ReasonDecay        = "decay_below_threshold"
	ReasonTTL          = "ttl_elapsed"
	ReasonPromotion    = "promotion"
	ReasonResurrection = "resurrection"
)

// Policy configures one tier's retention behavior.
type Policy struct {
	// TTL is how long an item may dwell in the tier before moving
	// forward. Zero disables TTL-driven transitions.
	TTL time.Duration

	// HalfLifeDays is the decay half-life while in this tier.
	HalfLifeDays float64

	// DemoteBelow moves the item forward when its decay score drops
	// under this threshold. Zero disables decay-driven transitions.
	DemoteBelow float64
}

// Config holds the full state-machine configuration.
type Config struct {
	Policies map[item.Tier]Policy

	// PromoteMinAccess and PromoteMinDwell gate the early ShortTerm →
	// LongTerm promotion: an item proves durable only with both a
	// minimum access count and a minimum dwell time, so a single burst
	// of reads cannot promote noise.
	PromoteMinAccess int64
	PromoteMinDwell  time.Duration

	// DemoteMinDwell is the minimum dwell before a decay-driven
	// demotion fires. Without it a score below every threshold would
	// cascade an item through all tiers in back-to-back sweeps instead
	// of one tier per dwell period. Zero defaults to an hour.
	DemoteMinDwell time.Duration

	// ResurrectionMinHits and ResurrectionScore gate the backward edge
	// to Working. Both must hold.
	ResurrectionMinHits int64
	ResurrectionScore   float64
}

// DefaultConfig returns the stock retention policies: a fast-moving
// Working tier, progressively slower decay deeper in, no TTL on LongTerm
// or Archived.
func DefaultConfig() Config {
	return Config{
		Policies: map[item.Tier]Policy{
			item.TierWorking:   {TTL: 24 * time.Hour, HalfLifeDays: 1, DemoteBelow: 0.5},
			item.TierShortTerm: {TTL: 7 * 24 * time.Hour, HalfLifeDays: 7, DemoteBelow: 0.3},
			item.TierLongTerm:  {HalfLifeDays: 90, DemoteBelow: 0.1},
			item.TierArchived:  {HalfLifeDays: 365},
		},
		PromoteMinAccess:    3,
		PromoteMinDwell:     48 * time.Hour,
		DemoteMinDwell:      time.Hour,
		ResurrectionMinHits: 5,
		ResurrectionScore:   0.6,
	}
}

// Manager applies tier transitions under the store's CAS discipline.
type Manager struct {
	store  store.Driver
	cfg    Config
	logger *zap.Logger
	clock  func() time.Time
}

// NewManager creates a tier manager. A nil logger defaults to a no-op.
func NewManager(st store.Driver, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DemoteMinDwell <= 0 {
		cfg.DemoteMinDwell = time.Hour
	}
	return &Manager{
		store:  st,
		cfg:    cfg,
		logger: logger,
		clock:  time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (mg *Manager) SetClock(clock func() time.Time) {
	mg.clock = clock
}

// Policy returns the configured policy for a tier.
func (mg *Manager) Policy(t item.Tier) Policy {
	return mg.cfg.Policies[t]
}

// HalfLife returns the decay half-life in days for a tier, defaulting to
// one day when the tier has no policy.
func (mg *Manager) HalfLife(t item.Tier) float64 {
	p, ok := mg.cfg.Policies[t]
	if !ok || p.HalfLifeDays <= 0 {
		return 1
	}
	return p.HalfLifeDays
}

// Evaluate decides the forward transition for an item at the given
// instant. It returns the target tier and a reason; target equals the
// current tier when the item stays put. Evaluate is pure: resurrection is
// a separate, explicit path.
func (mg *Manager) Evaluate(m *item.MemoryItem, now time.Time) (item.Tier, string) {
	cur := m.Tier
	if cur == item.TierArchived {
		return cur, ""
	}

	p := mg.cfg.Policies[cur]
	dwell := now.Sub(mg.tierEnteredAt(m))

	// Early promotion into LongTerm for items that earned it.
	if cur == item.TierShortTerm &&
		mg.cfg.PromoteMinAccess > 0 &&
		m.AccessCount >= mg.cfg.PromoteMinAccess &&
		dwell >= mg.cfg.PromoteMinDwell {
		return item.TierLongTerm, ReasonPromotion
	}

	if p.TTL > 0 && dwell >= p.TTL {
		return cur.Next(), ReasonTTL
	}
	if p.DemoteBelow > 0 && m.DecayScore < p.DemoteBelow && dwell >= mg.cfg.DemoteMinDwell {
		return cur.Next(), ReasonDecay
	}
	return cur, ""
}

// Apply evaluates and, when a transition is due, commits it with a CAS
// write. Applying twice in a row is a no-op: the second Evaluate sees the
// item already in its target tier with a fresh dwell clock. Returns
// whether the item changed tier; m is updated in place on success.
//
// ErrStaleVersion surfaces to the caller, which re-reads and retries;
// the manager never overwrites a concurrent merge blindly.
func (mg *Manager) Apply(ctx context.Context, m *item.MemoryItem) (bool, error) {
	if m.Tombstoned {
		return false, nil
	}

	now := mg.clock()
	target, reason := mg.Evaluate(m, now)
	if target == m.Tier {
		return false, nil
	}
	if target.Rank() < m.Tier.Rank() {
		return false, fmt.Errorf("refusing backward transition %s -> %s outside resurrection", m.Tier, target)
	}

	prev := m.Tier
	mg.transition(m, target, now)
	if err := mg.store.UpdateCAS(ctx, m, m.Version); err != nil {
		return false, err
	}

	mg.logger.Debug("tier transition",
		zap.String("id", m.ID),
		zap.String("from", string(prev)),
		zap.String("to", string(target)),
		zap.String("reason", reason),
	)
	return true, nil
}

// Resurrect is the explicit backward edge: it returns the item to Working
// when the resurrection gate holds (enough accumulated hits AND a decay
// score back above the threshold). The retrieval path invokes it after a
// strong hit; it refuses, without error, when the gate does not hold.
func (mg *Manager) Resurrect(ctx context.Context, id string) (bool, error) {
	m, err := mg.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if m.Tombstoned || m.Tier == item.TierWorking {
		return false, nil
	}
	if m.AccessCount < mg.cfg.ResurrectionMinHits || m.DecayScore < mg.cfg.ResurrectionScore {
		return false, nil
	}

	now := mg.clock()
	prev := m.Tier
	mg.transition(m, item.TierWorking, now)
	if err := mg.store.UpdateCAS(ctx, m, m.Version); err != nil {
		return false, err
	}

	mg.logger.Info("item resurrected",
		zap.String("id", m.ID),
		zap.String("from", string(prev)),
		zap.Int64("access_count", m.AccessCount),
		zap.Float64("decay_score", m.DecayScore),
	)
	return true, nil
}

// Rescore recomputes an item's decay score against its current tier's
// half-life and writes it back under CAS. Used by the decay sweep.
func (mg *Manager) Rescore(ctx context.Context, m *item.MemoryItem) error {
	score, err := decay.ScoreItem(m, mg.HalfLife(m.Tier), mg.clock())
	if err != nil {
		return err
	}
	m.DecayScore = score
	return mg.store.UpdateCAS(ctx, m, m.Version)
}

// transition mutates the item for entry into the target tier: tier field,
// dwell clock, and the TTL-derived expiry.
func (mg *Manager) transition(m *item.MemoryItem, target item.Tier, now time.Time) {
	m.Tier = target
	m.TierChangedAt = now
	if p := mg.cfg.Policies[target]; p.TTL > 0 {
		exp := now.Add(p.TTL)
		m.ExpiresAt = &exp
	} else {
		m.ExpiresAt = nil
	}
}

// tierEnteredAt falls back to CreatedAt for items written before the
// dwell clock existed.
func (mg *Manager) tierEnteredAt(m *item.MemoryItem) time.Time {
	if !m.TierChangedAt.IsZero() {
		return m.TierChangedAt
	}
	return m.CreatedAt
}
