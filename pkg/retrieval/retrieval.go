// Package retrieval implements the hybrid query path: vector, lexical,
// and graph signals fetched concurrently, fused by reciprocal rank, and
// packed into the caller's token budget. A failed signal degrades the
// result and is reported; it never fails the whole query.
package retrieval

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/embeddings"
	"github.com/engramlabs/engram/pkg/graph"
	"github.com/engramlabs/engram/pkg/item"
	"github.com/engramlabs/engram/pkg/lexical"
	"github.com/engramlabs/engram/pkg/store"
	"github.com/engramlabs/engram/pkg/vector"
)

// Signal names reported in Result.Degraded.
const (
	SignalVector  = "vector"
	SignalLexical = "lexical"
	SignalGraph   = "graph"
)

// Query is one retrieval request.
type Query struct {
	// Text is the query text, used for the lexical signal and, when
	// Embedding is unset, embedded for the vector signal.
	Text string

	// Embedding optionally short-circuits the embedder.
	Embedding []float32

	// Namespace and Tags are structural filters, applied per signal
	// before fusion.
	Namespace string
	Tags      []string

	// TierScope restricts results to the given tiers. Empty means all.
	TierScope []item.Tier

	// EntitySeeds are graph node ids the relationship signal expands from.
	EntitySeeds []string

	// Limit caps the result count. Zero means DefaultLimit.
	Limit int

	// TokenBudget caps the total estimated token size of returned
	// content. Zero disables budget packing.
	TokenBudget int
}

// ScoredItem is one fused result with provenance of the contributing
// signals.
type ScoredItem struct {
	Item    *item.MemoryItem `json:"item"`
	Score   float64          `json:"score"`
	Signals []string         `json:"signals"`
}

// Result is an ordered retrieval response. Degraded lists the signals
// that failed or timed out while the query still succeeded.
type Result struct {
	Items    []ScoredItem `json:"items"`
	Degraded []string     `json:"degraded,omitempty"`
}

// Config tunes the orchestrator.
type Config struct {
	// TopK bounds each signal's candidate set.
	TopK int

	// GraphHops bounds the relationship expansion.
	GraphHops int

	// SignalTimeout is the per-signal deadline. A signal missing it is
	// reported degraded, not awaited.
	SignalTimeout time.Duration
}

// DefaultLimit is the result cap when a query does not set one.
const DefaultLimit = 10

// rrfK is the reciprocal-rank-fusion constant: score contributions are
// 1/(rank+rrfK), so a top hit in one signal cannot drown broad agreement
// across signals.
const rrfK = 60.0

// DefaultConfig returns the stock orchestrator tuning.
func DefaultConfig() Config {
	return Config{
		TopK:          20,
		GraphHops:     2,
		SignalTimeout: 2 * time.Second,
	}
}

// Orchestrator fans a query out to the three signal indexes and fuses
// the results.
type Orchestrator struct {
	store    store.Driver
	vectors  vector.Driver
	lexical  lexical.Driver
	graph    graph.Driver
	embedder embeddings.Embedder
	cfg      Config
	logger   *zap.Logger
	clock    func() time.Time
}

// NewOrchestrator creates a retrieval orchestrator. The embedder may be
// nil when callers always supply query embeddings. A nil logger defaults
// to a no-op.
func NewOrchestrator(
	st store.Driver,
	vec vector.Driver,
	lex lexical.Driver,
	gr graph.Driver,
	embedder embeddings.Embedder,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultConfig().TopK
	}
	if cfg.GraphHops <= 0 {
		cfg.GraphHops = DefaultConfig().GraphHops
	}
	if cfg.SignalTimeout <= 0 {
		cfg.SignalTimeout = DefaultConfig().SignalTimeout
	}
	return &Orchestrator{
		store:    st,
		vectors:  vec,
		lexical:  lex,
		graph:    gr,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger,
		clock:    time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (o *Orchestrator) SetClock(clock func() time.Time) {
	o.clock = clock
}

// signalOutcome is one signal's ranked candidate ids, or its failure.
type signalOutcome struct {
	name string
	ids  []string
	err  error
}

// Retrieve answers one query. All three signals run concurrently under
// the per-signal deadline; empty candidate sets across the board yield an
// empty result and a nil error.
func (o *Orchestrator) Retrieve(ctx context.Context, q Query) (Result, error) {
	var result Result

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	embedding := q.Embedding
	if embedding == nil && q.Text != "" && o.embedder != nil {
		var err error
		embedding, err = o.embedder.Embed(ctx, q.Text)
		if err != nil {
			o.logger.Warn("query embedding failed", zap.Error(err))
			result.Degraded = append(result.Degraded, SignalVector)
		}
	}

	filter := vector.Filter{Namespace: q.Namespace, Tiers: tierStrings(q.TierScope)}

	outcomes := make(chan signalOutcome, 3)
	var wg sync.WaitGroup
	launch := func(name string, fetch func(context.Context) ([]string, error)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sctx, cancel := context.WithTimeout(ctx, o.cfg.SignalTimeout)
			defer cancel()
			ids, err := fetch(sctx)
			outcomes <- signalOutcome{name: name, ids: ids, err: err}
		}()
	}

	if embedding != nil {
		launch(SignalVector, func(sctx context.Context) ([]string, error) {
			hits, err := o.vectors.Query(sctx, embedding, o.cfg.TopK, filter)
			if err != nil {
				return nil, err
			}
			ids := make([]string, 0, len(hits))
			for _, h := range hits {
				ids = append(ids, h.ID)
			}
			return ids, nil
		})
	}
	if q.Text != "" {
		launch(SignalLexical, func(sctx context.Context) ([]string, error) {
			hits, err := o.lexical.Search(sctx, q.Text, o.cfg.TopK, lexical.Filter{
				Namespace: q.Namespace,
				Tiers:     tierStrings(q.TierScope),
			})
			if err != nil {
				return nil, err
			}
			ids := make([]string, 0, len(hits))
			for _, h := range hits {
				ids = append(ids, h.ID)
			}
			return ids, nil
		})
	}
	if len(q.EntitySeeds) > 0 {
		launch(SignalGraph, func(sctx context.Context) ([]string, error) {
			visits, err := o.graph.Traverse(sctx, q.EntitySeeds, o.cfg.GraphHops, nil)
			if err != nil {
				return nil, err
			}
			return rankVisits(visits, o.cfg.TopK), nil
		})
	}

	wg.Wait()
	close(outcomes)

	rankings := make(map[string][]string, 3)
	for out := range outcomes {
		if out.err != nil {
			o.logger.Warn("retrieval signal degraded",
				zap.String("signal", out.name),
				zap.Error(out.err),
			)
			result.Degraded = append(result.Degraded, out.name)
			continue
		}
		rankings[out.name] = out.ids
	}
	sort.Strings(result.Degraded)

	fused, err := o.fuse(ctx, q, rankings)
	if err != nil {
		return result, err
	}

	if len(fused) > limit {
		fused = fused[:limit]
	}
	if q.TokenBudget > 0 {
		fused = packBudget(fused, q.TokenBudget)
	}
	result.Items = fused

	now := o.clock()
	for _, si := range result.Items {
		if err := o.store.RecordAccess(ctx, si.Item.ID, now); err != nil {
			o.logger.Warn("access bookkeeping failed",
				zap.String("id", si.Item.ID),
				zap.Error(err),
			)
		}
	}

	return result, nil
}

// fuse hydrates the per-signal rankings, applies the structural filters
// that could not be pushed into a driver, and combines ranks by RRF.
// Ordering is total: fused score desc, decay desc, CreatedAt desc, id asc.
func (o *Orchestrator) fuse(ctx context.Context, q Query, rankings map[string][]string) ([]ScoredItem, error) {
	hydrated := make(map[string]*item.MemoryItem)
	admit := func(id string) (*item.MemoryItem, bool) {
		if m, ok := hydrated[id]; ok {
			return m, m != nil
		}
		m, err := o.store.Get(ctx, id)
		if err != nil || m.Tombstoned || !o.passes(q, m) {
			hydrated[id] = nil
			return nil, false
		}
		hydrated[id] = m
		return m, true
	}

	type fusion struct {
		item    *item.MemoryItem
		score   float64
		signals []string
	}
	byID := make(map[string]*fusion)

	// Deterministic signal iteration order.
	names := make([]string, 0, len(rankings))
	for name := range rankings {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		rank := 0
		for _, id := range rankings[name] {
			m, ok := admit(id)
			if !ok {
				continue
			}
			rank++
			f, seen := byID[id]
			if !seen {
				f = &fusion{item: m}
				byID[id] = f
			}
			f.score += 1.0 / (float64(rank) + rrfK)
			f.signals = append(f.signals, name)
		}
	}

	out := make([]ScoredItem, 0, len(byID))
	for _, f := range byID {
		out = append(out, ScoredItem{Item: f.item, Score: f.score, Signals: f.signals})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Item.DecayScore != b.Item.DecayScore {
			return a.Item.DecayScore > b.Item.DecayScore
		}
		if !a.Item.CreatedAt.Equal(b.Item.CreatedAt) {
			return a.Item.CreatedAt.After(b.Item.CreatedAt)
		}
		return a.Item.ID < b.Item.ID
	})
	return out, nil
}

// passes applies the structural filters hydration-side: tier scope and
// tags always, namespace for signals that could not push it down.
func (o *Orchestrator) passes(q Query, m *item.MemoryItem) bool {
	if q.Namespace != "" && m.Namespace != q.Namespace {
		return false
	}
	if len(q.TierScope) > 0 {
		ok := false
		for _, t := range q.TierScope {
			if m.Tier == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for _, want := range q.Tags {
		ok := false
		for _, have := range m.Tags {
			if have == want {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// packBudget greedily packs items in fused order. An item either fits
// whole in the remaining budget or is dropped; content is never truncated.
func packBudget(items []ScoredItem, budget int) []ScoredItem {
	out := make([]ScoredItem, 0, len(items))
	remaining := budget
	for _, si := range items {
		cost := EstimateTokens(si.Item.Content)
		if cost > remaining {
			continue
		}
		remaining -= cost
		out = append(out, si)
	}
	return out
}

// EstimateTokens approximates the token cost of a content string at four
// characters per token, minimum one.
func EstimateTokens(content string) int {
	n := len(content) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// rankVisits orders graph visits nearest-and-strongest first and keeps
// only memory-item nodes, capped at topK.
func rankVisits(visits []graph.Visit, topK int) []string {
	sort.Slice(visits, func(i, j int) bool {
		a, b := visits[i], visits[j]
		if a.Hops != b.Hops {
			return a.Hops < b.Hops
		}
		if a.Strength != b.Strength {
			return a.Strength > b.Strength
		}
		return a.ID < b.ID
	})
	ids := make([]string, 0, topK)
	for _, v := range visits {
		if v.Kind != graph.KindItem {
			continue
		}
		ids = append(ids, v.ID)
		if len(ids) == topK {
			break
		}
	}
	return ids
}

func tierStrings(tiers []item.Tier) []string {
	if len(tiers) == 0 {
		return nil
	}
	out := make([]string, len(tiers))
	for i, t := range tiers {
		out[i] = string(t)
	}
	return out
}
