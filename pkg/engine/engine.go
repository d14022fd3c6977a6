// Package engine is the embeddable facade over the memory lifecycle: it
// wires the store, the three retrieval indexes, the tier state machine,
// the consolidation sweeps, and the lifecycle event stream behind a small
// synchronous API. Hosts construct one Engine and drive everything
// through it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/consolidate"
	"github.com/engramlabs/engram/pkg/embeddings"
	"github.com/engramlabs/engram/pkg/engine/worker"
	"github.com/engramlabs/engram/pkg/eventstream"
	"github.com/engramlabs/engram/pkg/eventstream/nop"
	"github.com/engramlabs/engram/pkg/graph"
	"github.com/engramlabs/engram/pkg/item"
	"github.com/engramlabs/engram/pkg/lexical"
	"github.com/engramlabs/engram/pkg/retrieval"
	"github.com/engramlabs/engram/pkg/store"
	"github.com/engramlabs/engram/pkg/synthesis"
	"github.com/engramlabs/engram/pkg/tier"
	"github.com/engramlabs/engram/pkg/utils"
	"github.com/engramlabs/engram/pkg/vector"
)

// sweepPageSize is how many items a decay sweep reads per store page.
const sweepPageSize = 200

// Deps are the engine's collaborators. Store, Locks, Vectors, Lexical,
// Graph, and Merger are required; Embedder may be nil when callers always
// supply embeddings, Events defaults to the no-op publisher, Logger to a
// no-op logger.
type Deps struct {
	Store    store.Driver
	Locks    store.LockDriver
	Vectors  vector.Driver
	Lexical  lexical.Driver
	Graph    graph.Driver
	Embedder embeddings.Embedder
	Merger   synthesis.Merger
	Events   eventstream.Publisher
	Logger   *zap.Logger
}

// Config tunes the engine's subsystems.
type Config struct {
	Tiers       tier.Config
	Consolidate consolidate.Config
	Retrieval   retrieval.Config

	// Workers and QueueSize size the background maintenance pool.
	Workers   uint
	QueueSize uint
}

// DefaultConfig returns the stock engine tuning.
func DefaultConfig() Config {
	return Config{
		Tiers:       tier.DefaultConfig(),
		Consolidate: consolidate.DefaultConfig(),
		Retrieval:   retrieval.DefaultConfig(),
	}
}

// Engine is the lifecycle facade.
type Engine struct {
	store    store.Driver
	vectors  vector.Driver
	lexical  lexical.Driver
	graph    graph.Driver
	embedder embeddings.Embedder
	events   eventstream.Publisher

	tiers     *tier.Manager
	sweeper   *consolidate.Engine
	retriever *retrieval.Orchestrator
	pool      *worker.Pool

	logger *zap.Logger
	clock  func() time.Time

	// closers are resources the engine owns and must close; drivers
	// injected through Deps stay the caller's responsibility.
	closers []io.Closer
}

// New creates an engine around injected collaborators. The caller keeps
// ownership of every injected driver.
func New(deps Deps, cfg Config) (*Engine, error) {
	if deps.Store == nil || deps.Locks == nil {
		return nil, errors.New("engine requires a store and a lock driver")
	}
	if deps.Vectors == nil || deps.Lexical == nil || deps.Graph == nil {
		return nil, errors.New("engine requires vector, lexical, and graph drivers")
	}
	if deps.Merger == nil {
		return nil, errors.New("engine requires a synthesis merger")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Events == nil {
		deps.Events = nop.NewPublisher()
	}
	if cfg.Tiers.Policies == nil {
		cfg.Tiers = tier.DefaultConfig()
	}

	tiers := tier.NewManager(deps.Store, cfg.Tiers, deps.Logger)
	sweeper := consolidate.NewEngine(
		deps.Store, deps.Locks, deps.Vectors, deps.Lexical, deps.Graph,
		deps.Merger, cfg.Consolidate, deps.Logger,
	)
	retriever := retrieval.NewOrchestrator(
		deps.Store, deps.Vectors, deps.Lexical, deps.Graph,
		deps.Embedder, cfg.Retrieval, deps.Logger,
	)

	pool, err := worker.NewPool(&worker.Config{
		Tiers:        tiers,
		Consolidator: sweeper,
		NumWorkers:   cfg.Workers,
		QueueSize:    cfg.QueueSize,
		Logger:       deps.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("starting maintenance pool: %w", err)
	}

	return &Engine{
		store:     deps.Store,
		vectors:   deps.Vectors,
		lexical:   deps.Lexical,
		graph:     deps.Graph,
		embedder:  deps.Embedder,
		events:    deps.Events,
		tiers:     tiers,
		sweeper:   sweeper,
		retriever: retriever,
		pool:      pool,
		logger:    deps.Logger,
		clock:     time.Now,
	}, nil
}

// SetClock overrides the engine's time source and propagates it to the
// subsystems. Test hook.
func (e *Engine) SetClock(clock func() time.Time) {
	e.clock = clock
	e.tiers.SetClock(clock)
	e.sweeper.SetClock(clock)
	e.retriever.SetClock(clock)
}

// EntityInput names an entity a submitted memory mentions. Unknown names
// create new entity nodes; known names attach to the existing node.
type EntityInput struct {
	Name string
	Kind string
}

// SubmitInput is one memory to ingest.
type SubmitInput struct {
	Content    string
	Importance float64
	Namespace  string
	Tags       []string
	Entities   []EntityInput
}

// Submit validates, fingerprints, embeds, and indexes a new memory item,
// returning its id. The store row is written last: a crash mid-submit
// leaves orphaned index entries but never a visible half-indexed item.
func (e *Engine) Submit(ctx context.Context, in SubmitInput) (string, error) {
	now := e.clock()
	m := &item.MemoryItem{
		ID:            uuid.NewString(),
		Content:       in.Content,
		Fingerprint:   item.ComputeFingerprint(in.Content),
		Tier:          item.TierWorking,
		Importance:    in.Importance,
		DecayScore:    in.Importance,
		CreatedAt:     now,
		TierChangedAt: now,
		Namespace:     in.Namespace,
		Tags:          append([]string(nil), in.Tags...),
	}
	if p := e.tiers.Policy(item.TierWorking); p.TTL > 0 {
		exp := now.Add(p.TTL)
		m.ExpiresAt = &exp
	}
	if err := m.Validate(); err != nil {
		return "", err
	}

	for _, ent := range in.Entities {
		rel, err := e.resolveEntity(ctx, m.ID, ent, now)
		if err != nil {
			return "", err
		}
		m.Relationships = append(m.Relationships, rel)
	}

	if e.embedder != nil {
		vec, err := e.embedder.Embed(ctx, m.Content)
		if err != nil {
			// An embedder outage degrades the item to lexical+graph
			// retrieval; it must not lose the memory.
			e.logger.Warn("embedding failed, item stored without vector",
				zap.String("id", m.ID),
				zap.Error(err),
			)
		} else {
			m.Embeddings = map[string][]float32{item.SemanticVector: vec}
		}
	}

	if err := e.indexItem(ctx, m); err != nil {
		return "", err
	}
	if err := e.store.Put(ctx, m); err != nil {
		return "", fmt.Errorf("storing item: %w", err)
	}

	e.publish(ctx, &eventstream.LifecycleEvent{
		EventType: eventstream.EventTypeItemIngested,
		Namespace: m.Namespace,
		ItemID:    m.ID,
		Ingested: &eventstream.IngestedMeta{
			Fingerprint: m.Fingerprint,
			Tier:        string(m.Tier),
			Importance:  m.Importance,
		},
	})

	e.logger.Info("item ingested",
		zap.String("id", m.ID),
		zap.String("namespace", m.Namespace),
		zap.String("content_preview", utils.Truncate(m.Content, 80)),
		zap.Int("entities", len(in.Entities)),
	)
	return m.ID, nil
}

// resolveEntity finds or creates the named entity and records the
// item → entity edge in the graph.
func (e *Engine) resolveEntity(ctx context.Context, itemID string, in EntityInput, now time.Time) (item.Relationship, error) {
	ent, err := e.graph.FindEntity(ctx, in.Name)
	if errors.Is(err, graph.ErrNotFound) {
		ent = &item.Entity{
			ID:        uuid.NewString(),
			Name:      in.Name,
			Kind:      in.Kind,
			CreatedAt: now,
		}
		if err := e.graph.PutEntity(ctx, ent); err != nil {
			return item.Relationship{}, fmt.Errorf("creating entity %q: %w", in.Name, err)
		}
	} else if err != nil {
		return item.Relationship{}, fmt.Errorf("resolving entity %q: %w", in.Name, err)
	}

	edge := graph.Edge{
		SourceID:   itemID,
		SourceKind: graph.KindItem,
		TargetID:   ent.ID,
		TargetKind: graph.KindEntity,
		Type:       "mentions",
		Strength:   1.0,
		AssertedAt: now,
		ObservedAt: now,
	}
	if err := e.graph.PutEdge(ctx, edge); err != nil {
		return item.Relationship{}, fmt.Errorf("linking entity %q: %w", in.Name, err)
	}

	return item.Relationship{
		TargetID:   ent.ID,
		TargetKind: item.TargetEntity,
		Type:       "mentions",
		Strength:   1.0,
		AssertedAt: now,
		ObservedAt: now,
	}, nil
}

// indexItem writes the item into the lexical and vector indexes and
// replays its item → item relationships into the graph.
func (e *Engine) indexItem(ctx context.Context, m *item.MemoryItem) error {
	if err := e.lexical.Index(ctx, []lexical.Document{{
		ID:        m.ID,
		Content:   m.Content,
		Namespace: m.Namespace,
		Tier:      string(m.Tier),
	}}); err != nil {
		return fmt.Errorf("indexing item %s lexically: %w", m.ID, err)
	}

	if emb := m.SemanticEmbedding(); emb != nil {
		if err := e.vectors.Add(ctx, []vector.Document{{
			ID:          m.ID,
			Fingerprint: m.Fingerprint,
			Namespace:   m.Namespace,
			Tier:        string(m.Tier),
			Embedding:   emb,
		}}); err != nil {
			return fmt.Errorf("indexing item %s vector: %w", m.ID, err)
		}
	}

	for _, rel := range m.Relationships {
		kind := graph.KindItem
		if rel.TargetKind == item.TargetEntity {
			kind = graph.KindEntity
		}
		if err := e.graph.PutEdge(ctx, graph.Edge{
			SourceID:   m.ID,
			SourceKind: graph.KindItem,
			TargetID:   rel.TargetID,
			TargetKind: kind,
			Type:       rel.Type,
			Strength:   rel.Strength,
			AssertedAt: rel.AssertedAt,
			ObservedAt: rel.ObservedAt,
		}); err != nil {
			return fmt.Errorf("indexing item %s relationship: %w", m.ID, err)
		}
	}
	return nil
}

// Retrieve runs a hybrid query. Returned items outside the Working tier
// are handed to the maintenance pool for an asynchronous resurrection
// check; the query path itself never writes tier state.
func (e *Engine) Retrieve(ctx context.Context, q retrieval.Query) (retrieval.Result, error) {
	result, err := e.retriever.Retrieve(ctx, q)
	if err != nil {
		return result, err
	}

	for _, hit := range result.Items {
		if hit.Item.Tier != item.TierWorking {
			e.pool.Enqueue(worker.Job{Kind: worker.KindResurrect, ItemID: hit.Item.ID})
		}
	}
	return result, nil
}

// DecayReport summarizes one decay sweep.
type DecayReport struct {
	Scanned     int `json:"scanned"`
	Rescored    int `json:"rescored"`
	Transitions int `json:"transitions"`
	Skipped     int `json:"skipped"`
}

// RunDecaySweep recomputes every live item's decay score and applies due
// tier transitions. A stale CAS write is retried once against a fresh
// read, then the item is skipped; the next sweep picks it up. A corrupt
// item aborts the sweep loudly rather than being silently patched.
func (e *Engine) RunDecaySweep(ctx context.Context) (DecayReport, error) {
	var report DecayReport

	cursor := ""
	for {
		page, next, err := e.store.List(ctx, store.ListFilter{}, cursor, sweepPageSize)
		if err != nil {
			return report, fmt.Errorf("listing items: %w", err)
		}

		for _, m := range page {
			report.Scanned++
			if err := e.decayOne(ctx, m, &report); err != nil {
				return report, err
			}
		}

		if next == "" {
			return report, nil
		}
		cursor = next
	}
}

func (e *Engine) decayOne(ctx context.Context, m *item.MemoryItem, report *DecayReport) error {
	err := e.tiers.Rescore(ctx, m)
	if errors.Is(err, store.ErrStaleVersion) {
		fresh, readErr := e.store.Get(ctx, m.ID)
		if readErr != nil || fresh.Tombstoned {
			report.Skipped++
			return nil
		}
		m = fresh
		err = e.tiers.Rescore(ctx, m)
	}
	if errors.Is(err, store.ErrStaleVersion) || errors.Is(err, store.ErrNotFound) {
		report.Skipped++
		return nil
	}
	if err != nil {
		return fmt.Errorf("rescoring item %s: %w", m.ID, err)
	}
	report.Rescored++

	prev := m.Tier
	_, reason := e.tiers.Evaluate(m, e.clock())
	changed, err := e.tiers.Apply(ctx, m)
	if errors.Is(err, store.ErrStaleVersion) {
		report.Skipped++
		return nil
	}
	if err != nil {
		return fmt.Errorf("applying transition for %s: %w", m.ID, err)
	}
	if changed {
		report.Transitions++
		e.publish(ctx, &eventstream.LifecycleEvent{
			EventType: eventstream.EventTypeTierChanged,
			Namespace: m.Namespace,
			ItemID:    m.ID,
			TierChanged: &eventstream.TierChangeMeta{
				From:   string(prev),
				To:     string(m.Tier),
				Reason: reason,
			},
		})
	}
	return nil
}

// RunConsolidationSweep processes one batch of the consolidation sweep,
// returning the cursor for the next batch ("" when the scan wrapped).
// Idempotent: re-running over merged items finds single-member groups.
func (e *Engine) RunConsolidationSweep(ctx context.Context, cursor string, batchSize int) (consolidate.Report, string, error) {
	report, next, err := e.sweeper.Sweep(ctx, cursor, batchSize)
	if err != nil {
		return report, next, err
	}

	for _, merge := range report.Merges {
		namespace := ""
		if survivor, gerr := e.store.Get(ctx, merge.SurvivorID); gerr == nil {
			namespace = survivor.Namespace
		}
		e.publish(ctx, &eventstream.LifecycleEvent{
			EventType: eventstream.EventTypeItemsMerged,
			Namespace: namespace,
			ItemID:    merge.SurvivorID,
			Merged: &eventstream.MergedMeta{
				SurvivorID:  merge.SurvivorID,
				AbsorbedIDs: merge.AbsorbedID,
				ClusterKey:  merge.Key,
			},
		})
	}
	return report, next, nil
}

// EnqueueConsolidation hands a sweep batch to the background pool.
// Returns false if the pool queue is full and the batch was dropped.
func (e *Engine) EnqueueConsolidation(cursor string, batchSize int) bool {
	return e.pool.Enqueue(worker.Job{
		Kind:      worker.KindConsolidate,
		Cursor:    cursor,
		BatchSize: batchSize,
	})
}

// RunEviction hard-deletes Archived items that sat below the eviction
// floor through the whole grace period without access.
func (e *Engine) RunEviction(ctx context.Context) (consolidate.EvictReport, error) {
	report, err := e.sweeper.Evict(ctx)
	if err != nil {
		return report, err
	}

	for _, evicted := range report.Evicted {
		e.publish(ctx, &eventstream.LifecycleEvent{
			EventType: eventstream.EventTypeItemEvicted,
			ItemID:    evicted.ID,
			Evicted: &eventstream.EvictedMeta{
				Tier:       string(item.TierArchived),
				DecayScore: evicted.DecayScore,
			},
		})
	}
	return report, nil
}

// Stats reports store-level counts.
func (e *Engine) Stats(ctx context.Context) (store.Stats, error) {
	return e.store.Stats(ctx)
}

// publish emits a lifecycle event, stamping identity and time. Event
// delivery is best-effort: a broker outage must never fail a lifecycle
// operation that already committed.
func (e *Engine) publish(ctx context.Context, event *eventstream.LifecycleEvent) {
	event.SchemaVersion = eventstream.SchemaVersionV1
	event.EventID = uuid.NewString()
	event.EmittedAt = e.clock()

	if err := e.events.Publish(ctx, event); err != nil {
		e.logger.Warn("lifecycle event publish failed",
			zap.String("event_type", event.EventType),
			zap.String("item_id", event.ItemID),
			zap.Error(err),
		)
	}
}

// Close drains the maintenance pool and releases owned resources.
// Injected drivers are closed by whoever injected them.
func (e *Engine) Close() error {
	e.pool.Close()

	var errs []error
	if err := e.events.Close(); err != nil {
		errs = append(errs, err)
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
