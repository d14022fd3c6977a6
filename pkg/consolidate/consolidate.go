// Package consolidate implements the deduplication and consolidation
// sweep: exact duplicates found by content fingerprint, near duplicates
// found in the vector neighborhood, merged under a per-group lease so at
// most one worker ever consolidates a group at a time. It also owns the
// eviction pass over the Archived tier.
package consolidate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/graph"
	"github.com/engramlabs/engram/pkg/item"
	"github.com/engramlabs/engram/pkg/lexical"
	"github.com/engramlabs/engram/pkg/store"
	"github.com/engramlabs/engram/pkg/synthesis"
	"github.com/engramlabs/engram/pkg/vector"
)

// Config tunes the sweep.
type Config struct {
	// NearThreshold is the cosine similarity above which two items count
	// as near duplicates.
	NearThreshold float64

	// NeighborhoodK bounds the vector query used for near-duplicate
	// detection. The sweep never scans the whole index.
	NeighborhoodK int

	// LockTTL is the lease duration per merge group. A crashed worker's
	// lease expires and the group becomes mergeable again.
	LockTTL time.Duration

	// EvictionFloor and GracePeriod gate the Archived eviction pass: an
	// item is hard-deleted only when its decay score has sat below the
	// floor for the whole grace period with zero access.
	EvictionFloor float64
	GracePeriod   time.Duration
}

// DefaultConfig returns the stock sweep tuning.
func DefaultConfig() Config {
	return Config{
		NearThreshold: 0.95,
		NeighborhoodK: 8,
		LockTTL:       30 * time.Second,
		EvictionFloor: 0.05,
		GracePeriod:   30 * 24 * time.Hour,
	}
}

// MergeRecord describes one committed merge.
type MergeRecord struct {
	SurvivorID string   `json:"survivor_id"`
	AbsorbedID []string `json:"absorbed_ids"`
	Key        string   `json:"key"`
}

// Report summarizes one sweep invocation.
type Report struct {
	Scanned       int           `json:"scanned"`
	Groups        int           `json:"groups"`
	Merges        []MergeRecord `json:"merges,omitempty"`
	SkippedLocked int           `json:"skipped_locked"`
	Abandoned     int           `json:"abandoned"`
}

// EvictReport summarizes one eviction pass.
type EvictReport struct {
	Scanned int           `json:"scanned"`
	Evicted []EvictedItem `json:"evicted,omitempty"`
}

// EvictedItem records the final state of one hard-deleted item.
type EvictedItem struct {
	ID         string  `json:"id"`
	DecayScore float64 `json:"decay_score"`
}

// Engine runs consolidation sweeps against the store and indexes.
type Engine struct {
	store   store.Driver
	locks   store.LockDriver
	vectors vector.Driver
	lexical lexical.Driver
	graph   graph.Driver
	merger  synthesis.Merger
	cfg     Config
	logger  *zap.Logger
	holder  string
	clock   func() time.Time
}

// NewEngine creates a consolidation engine. Each engine instance gets its
// own lease-holder identity. A nil logger defaults to a no-op.
func NewEngine(
	st store.Driver,
	locks store.LockDriver,
	vec vector.Driver,
	lex lexical.Driver,
	gr graph.Driver,
	merger synthesis.Merger,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.NearThreshold <= 0 {
		cfg.NearThreshold = DefaultConfig().NearThreshold
	}
	if cfg.NeighborhoodK <= 0 {
		cfg.NeighborhoodK = DefaultConfig().NeighborhoodK
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultConfig().LockTTL
	}
	return &Engine{
		store:   st,
		locks:   locks,
		vectors: vec,
		lexical: lex,
		graph:   gr,
		merger:  merger,
		cfg:     cfg,
		logger:  logger,
		holder:  uuid.NewString(),
		clock:   time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (e *Engine) SetClock(clock func() time.Time) {
	e.clock = clock
}

// Sweep processes one batch of live items starting after cursor and
// returns the cursor for the next batch ("" when the scan wrapped). The
// sweep is resumable and idempotent: already-merged groups collapse to a
// single live member and produce no work.
func (e *Engine) Sweep(ctx context.Context, cursor string, batchSize int) (Report, string, error) {
	var report Report

	items, next, err := e.store.List(ctx, store.ListFilter{}, cursor, batchSize)
	if err != nil {
		return report, cursor, fmt.Errorf("listing sweep batch: %w", err)
	}
	report.Scanned = len(items)

	for _, m := range items {
		if err := ctx.Err(); err != nil {
			return report, cursor, err
		}

		group, key, err := e.candidateGroup(ctx, m)
		if err != nil {
			return report, cursor, err
		}
		if len(group) < 2 {
			continue
		}
		// One member owns the group: the smallest id. Every other member
		// skips it so a group spanning a batch is not merged twice.
		if group[0].ID != m.ID {
			continue
		}
		report.Groups++

		rec, err := e.mergeGroup(ctx, key, group)
		switch {
		case errors.Is(err, store.ErrLockHeld):
			report.SkippedLocked++
		case errors.Is(err, synthesis.ErrSynthesis), errors.Is(err, store.ErrStaleVersion):
			// Non-destructive failure: the group stays intact and the
			// next sweep retries it.
			report.Abandoned++
			e.logger.Warn("merge abandoned",
				zap.String("key", key),
				zap.Error(err),
			)
		case err != nil:
			return report, cursor, err
		case rec != nil:
			report.Merges = append(report.Merges, *rec)
		}
	}

	return report, next, nil
}

// candidateGroup finds the duplicate group m belongs to: first by exact
// fingerprint, then by bounded vector neighborhood. The returned group is
// sorted by id; the first member's id is the canonical cluster key.
func (e *Engine) candidateGroup(ctx context.Context, m *item.MemoryItem) ([]*item.MemoryItem, string, error) {
	matched, err := e.store.ByFingerprint(ctx, m.Fingerprint)
	if err != nil {
		return nil, "", fmt.Errorf("grouping by fingerprint: %w", err)
	}

	// Groups never cross namespaces: identical content submitted by two
	// tenants stays two items, same as the namespace-filtered near phase.
	exact := make([]*item.MemoryItem, 0, len(matched))
	for _, cand := range matched {
		if cand.Namespace == m.Namespace {
			exact = append(exact, cand)
		}
	}
	if len(exact) > 1 {
		return exact, "fp:" + m.Namespace + ":" + m.Fingerprint, nil
	}

	embedding := m.SemanticEmbedding()
	if embedding == nil {
		return exact, "", nil
	}

	hits, err := e.vectors.Query(ctx, embedding, e.cfg.NeighborhoodK, vector.Filter{Namespace: m.Namespace})
	if err != nil {
		// The vector index being down only delays near-duplicate
		// detection; exact consolidation keeps working.
		e.logger.Warn("near-duplicate query degraded", zap.Error(err))
		return exact, "", nil
	}

	members := map[string]*item.MemoryItem{m.ID: m}
	for _, hit := range hits {
		if hit.ID == m.ID || float64(hit.Score) < e.cfg.NearThreshold {
			continue
		}
		neighbor, err := e.store.Get(ctx, hit.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("loading near duplicate %s: %w", hit.ID, err)
		}
		if neighbor.Tombstoned {
			continue
		}
		members[neighbor.ID] = neighbor
	}
	if len(members) < 2 {
		return exact, "", nil
	}

	group := make([]*item.MemoryItem, 0, len(members))
	for _, member := range members {
		group = append(group, member)
	}
	sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })
	return group, "near:" + group[0].ID, nil
}

// mergeGroup consolidates one duplicate group under its lease. Visibility
// flips only at commit: the survivor's new content lands in one CAS write
// and losers are tombstoned afterwards, so a concurrent reader sees
// either the old group or the merged result, never a half-merged state.
func (e *Engine) mergeGroup(ctx context.Context, key string, group []*item.MemoryItem) (*MergeRecord, error) {
	if _, err := e.locks.Acquire(ctx, key, e.holder, e.cfg.LockTTL); err != nil {
		return nil, err
	}
	defer func() {
		if err := e.locks.Release(ctx, key, e.holder); err != nil {
			e.logger.Warn("lease release failed", zap.String("key", key), zap.Error(err))
		}
	}()

	// Re-read under the lease; a previous holder may have merged already.
	fresh := make([]*item.MemoryItem, 0, len(group))
	for _, m := range group {
		cur, err := e.store.Get(ctx, m.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("re-reading group member %s: %w", m.ID, err)
		}
		if !cur.Tombstoned {
			fresh = append(fresh, cur)
		}
	}
	if len(fresh) < 2 {
		return nil, nil
	}

	survivor, losers := pickSurvivor(fresh)

	for _, loser := range losers {
		if contains(loser.MergedFrom, survivor.ID) {
			return nil, fmt.Errorf("%w: %s already absorbed survivor %s", ErrConsistency, loser.ID, survivor.ID)
		}
	}

	contents := make([]string, 0, len(fresh))
	contents = append(contents, survivor.Content)
	loserIDs := make([]string, 0, len(losers))
	for _, loser := range losers {
		contents = append(contents, loser.Content)
		loserIDs = append(loserIDs, loser.ID)
	}

	merged, err := e.merger.Merge(ctx, contents)
	if err != nil {
		return nil, err
	}

	now := e.clock()
	survivor.VersionHistory = append(survivor.VersionHistory, item.Snapshot{
		Content:   survivor.Content,
		Reason:    "consolidation",
		TakenAt:   now,
		MergedIDs: loserIDs,
	})
	survivor.Content = merged
	survivor.Fingerprint = item.ComputeFingerprint(merged)
	survivor.MergedFrom = append(survivor.MergedFrom, loserIDs...)
	for _, loser := range losers {
		survivor.Relationships = unionRelationships(survivor.Relationships, loser.Relationships)
		survivor.Tags = unionStrings(survivor.Tags, loser.Tags)
		if loser.Importance > survivor.Importance {
			survivor.Importance = loser.Importance
		}
	}

	if err := e.store.UpdateCAS(ctx, survivor, survivor.Version); err != nil {
		return nil, err
	}

	for _, loser := range losers {
		loser.Tombstoned = true
		at := now
		loser.TombstonedAt = &at
		if err := e.tombstone(ctx, loser); err != nil {
			// The survivor already committed; losers that lost a CAS race
			// here are re-grouped by the next sweep.
			e.logger.Warn("tombstoning absorbed item failed",
				zap.String("id", loser.ID),
				zap.Error(err),
			)
		}
	}

	e.cleanupIndexes(ctx, survivor, loserIDs)

	e.logger.Info("group consolidated",
		zap.String("key", key),
		zap.String("survivor", survivor.ID),
		zap.Strings("absorbed", loserIDs),
	)
	return &MergeRecord{SurvivorID: survivor.ID, AbsorbedID: loserIDs, Key: key}, nil
}

// tombstone writes a loser's tombstone with one stale-version retry.
func (e *Engine) tombstone(ctx context.Context, loser *item.MemoryItem) error {
	err := e.store.UpdateCAS(ctx, loser, loser.Version)
	if !errors.Is(err, store.ErrStaleVersion) {
		return err
	}
	cur, err := e.store.Get(ctx, loser.ID)
	if err != nil {
		return err
	}
	cur.Tombstoned = true
	cur.TombstonedAt = loser.TombstonedAt
	return e.store.UpdateCAS(ctx, cur, cur.Version)
}

// cleanupIndexes removes the absorbed items from every index and re-points
// their graph edges at the survivor. Index cleanup failing leaves stale
// entries that retrieval already filters out via the store, so failures
// here are logged, not fatal.
func (e *Engine) cleanupIndexes(ctx context.Context, survivor *item.MemoryItem, loserIDs []string) {
	for _, id := range loserIDs {
		if err := e.graph.Reassign(ctx, id, survivor.ID); err != nil && !errors.Is(err, graph.ErrNotFound) {
			e.logger.Warn("edge reassignment failed", zap.String("id", id), zap.Error(err))
		}
	}
	if err := e.vectors.Delete(ctx, loserIDs); err != nil {
		e.logger.Warn("vector index cleanup failed", zap.Error(err))
	}
	if err := e.lexical.Delete(ctx, loserIDs); err != nil {
		e.logger.Warn("lexical index cleanup failed", zap.Error(err))
	}

	if embedding := survivor.SemanticEmbedding(); embedding != nil {
		err := e.vectors.Add(ctx, []vector.Document{{
			ID:          survivor.ID,
			Fingerprint: survivor.Fingerprint,
			Namespace:   survivor.Namespace,
			Tier:        string(survivor.Tier),
			Embedding:   embedding,
		}})
		if err != nil {
			e.logger.Warn("survivor vector reindex failed", zap.Error(err))
		}
	}
	err := e.lexical.Index(ctx, []lexical.Document{{
		ID:        survivor.ID,
		Content:   survivor.Content,
		Namespace: survivor.Namespace,
		Tier:      string(survivor.Tier),
	}})
	if err != nil {
		e.logger.Warn("survivor lexical reindex failed", zap.Error(err))
	}
}

// Evict hard-deletes Archived items whose decay score sat below the floor
// for the whole grace period with zero access in that window. Items never
// go straight from crossing into Archived to deletion.
func (e *Engine) Evict(ctx context.Context) (EvictReport, error) {
	var report EvictReport
	now := e.clock()
	archived := item.TierArchived

	cursor := ""
	for {
		items, next, err := e.store.List(ctx, store.ListFilter{Tier: &archived}, cursor, 200)
		if err != nil {
			return report, fmt.Errorf("listing archived items: %w", err)
		}
		report.Scanned += len(items)

		for _, m := range items {
			if !e.evictable(m, now) {
				continue
			}
			if err := e.store.Delete(ctx, m.ID); err != nil {
				return report, fmt.Errorf("evicting %s: %w", m.ID, err)
			}
			e.cleanupEvicted(ctx, m.ID)
			report.Evicted = append(report.Evicted, EvictedItem{ID: m.ID, DecayScore: m.DecayScore})
			e.logger.Info("item evicted",
				zap.String("id", m.ID),
				zap.Float64("decay_score", m.DecayScore),
			)
		}

		if next == "" {
			return report, nil
		}
		cursor = next
	}
}

func (e *Engine) evictable(m *item.MemoryItem, now time.Time) bool {
	if m.DecayScore >= e.cfg.EvictionFloor {
		return false
	}
	// The dwell clock marks entry into Archived; the grace window starts
	// there at the earliest.
	if now.Sub(m.TierChangedAt) < e.cfg.GracePeriod {
		return false
	}
	if m.LastAccessedAt != nil && now.Sub(*m.LastAccessedAt) < e.cfg.GracePeriod {
		return false
	}
	return true
}

func (e *Engine) cleanupEvicted(ctx context.Context, id string) {
	if err := e.vectors.Delete(ctx, []string{id}); err != nil {
		e.logger.Warn("vector purge failed", zap.String("id", id), zap.Error(err))
	}
	if err := e.lexical.Delete(ctx, []string{id}); err != nil {
		e.logger.Warn("lexical purge failed", zap.String("id", id), zap.Error(err))
	}
	if err := e.graph.DeleteNode(ctx, id); err != nil && !errors.Is(err, graph.ErrNotFound) {
		e.logger.Warn("graph purge failed", zap.String("id", id), zap.Error(err))
	}
}

// pickSurvivor orders a group: highest importance wins, then most recent
// access, then smallest id.
func pickSurvivor(group []*item.MemoryItem) (*item.MemoryItem, []*item.MemoryItem) {
	sorted := append([]*item.MemoryItem(nil), group...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Importance != b.Importance {
			return a.Importance > b.Importance
		}
		at, bt := accessTime(a), accessTime(b)
		if !at.Equal(bt) {
			return at.After(bt)
		}
		return a.ID < b.ID
	})
	return sorted[0], sorted[1:]
}

func accessTime(m *item.MemoryItem) time.Time {
	if m.LastAccessedAt != nil {
		return *m.LastAccessedAt
	}
	return time.Time{}
}

func unionRelationships(a, b []item.Relationship) []item.Relationship {
	type key struct {
		target string
		kind   item.TargetKind
		typ    string
	}
	seen := make(map[key]struct{}, len(a))
	for _, r := range a {
		seen[key{r.TargetID, r.TargetKind, r.Type}] = struct{}{}
	}
	out := a
	for _, r := range b {
		k := key{r.TargetID, r.TargetKind, r.Type}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a))
	for _, s := range a {
		seen[s] = struct{}{}
	}
	out := a
	for _, s := range b {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
