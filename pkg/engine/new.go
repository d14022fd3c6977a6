package engine

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/config"
	"github.com/engramlabs/engram/pkg/consolidate"
	"github.com/engramlabs/engram/pkg/dotdir"
	embeddingsutils "github.com/engramlabs/engram/pkg/embeddings/utils"
	eventstreamutils "github.com/engramlabs/engram/pkg/eventstream/utils"
	"github.com/engramlabs/engram/pkg/graph"
	graphmem "github.com/engramlabs/engram/pkg/graph/inmemory"
	graphsqlite "github.com/engramlabs/engram/pkg/graph/sqlite"
	"github.com/engramlabs/engram/pkg/item"
	lexicalutils "github.com/engramlabs/engram/pkg/lexical/utils"
	enginelog "github.com/engramlabs/engram/pkg/logger"
	"github.com/engramlabs/engram/pkg/retrieval"
	storeutils "github.com/engramlabs/engram/pkg/store/utils"
	synthesisutils "github.com/engramlabs/engram/pkg/synthesis/utils"
	"github.com/engramlabs/engram/pkg/tier"
	vectorutils "github.com/engramlabs/engram/pkg/vector/utils"
)

// NewFromConfig builds a fully wired engine from file configuration. The
// engine owns every driver it opens here and closes them in Close.
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = enginelog.NewLogger(false)
	}

	var closers []io.Closer
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i].Close()
		}
	}

	docs, locks, err := storeutils.NewDrivers(ctx, &storeutils.NewStoreOpts{
		ProviderType: cfg.Storage.Provider,
		DBPath:       cfg.Storage.SQLitePath,
		PostgresDSN:  cfg.Storage.PostgresDSN,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("configuring storage: %w", err)
	}
	closers = append(closers, docs, locks)

	vectors, err := vectorutils.NewVectorDriver(ctx, &vectorutils.NewVectorDriverOpts{
		ProviderType: cfg.VectorStore.Provider,
		DBPath:       cfg.VectorStore.SQLitePath,
		Host:         cfg.VectorStore.Host,
		Port:         cfg.VectorStore.Port,
		APIKey:       cfg.VectorStore.APIKey,
		UseTLS:       cfg.VectorStore.UseTLS,
		Collection:   cfg.VectorStore.Collection,
		Dimensions:   cfg.Embedding.Dimensions,
		Logger:       logger,
	})
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("configuring vector store: %w", err)
	}
	closers = append(closers, vectors)

	lex, err := lexicalutils.NewLexicalDriver(&lexicalutils.NewLexicalDriverOpts{
		ProviderType: cfg.Lexical.Provider,
		DBPath:       cfg.Lexical.SQLitePath,
		Logger:       logger,
	})
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("configuring lexical index: %w", err)
	}
	closers = append(closers, lex)

	// The relationship graph rides the storage provider: SQLite storage
	// keeps the graph in SQLite too, everything else holds it in memory.
	var gr graph.Driver
	if cfg.Storage.Provider == "sqlite" {
		gr, err = graphsqlite.NewDriver(graphsqlite.Config{DBPath: cfg.Storage.SQLitePath}, logger)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("configuring graph store: %w", err)
		}
	} else {
		gr = graphmem.NewDriver()
	}
	closers = append(closers, gr)

	embedder, err := embeddingsutils.NewEmbedder(&embeddingsutils.NewEmbedderOpts{
		ProviderType: cfg.Embedding.Provider,
		BaseURL:      cfg.Embedding.Target,
		Model:        cfg.Embedding.Model,
		Dimensions:   int(cfg.Embedding.Dimensions),
	})
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("configuring embedder: %w", err)
	}
	closers = append(closers, embedder)

	merger, err := synthesisutils.NewMerger(&synthesisutils.NewMergerOpts{
		ProviderType: cfg.Synthesis.Provider,
		BaseURL:      cfg.Synthesis.Target,
		Model:        cfg.Synthesis.Model,
	})
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("configuring synthesis: %w", err)
	}
	closers = append(closers, merger)

	events, err := eventstreamutils.NewPublisher(&eventstreamutils.NewPublisherOpts{
		Provider: cfg.EventStream.Provider,
		Brokers:  cfg.EventStream.Brokers,
		Topic:    cfg.EventStream.Topic,
	})
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("configuring event stream: %w", err)
	}

	eng, err := New(Deps{
		Store:    docs,
		Locks:    locks,
		Vectors:  vectors,
		Lexical:  lex,
		Graph:    gr,
		Embedder: embedder,
		Merger:   merger,
		Events:   events,
		Logger:   logger,
	}, engineConfig(cfg))
	if err != nil {
		events.Close()
		closeAll()
		return nil, err
	}

	eng.closers = closers
	return eng, nil
}

// engineConfig maps file configuration onto subsystem tuning, leaving
// zero values for each subsystem's own defaulting.
func engineConfig(cfg *config.Config) Config {
	return Config{
		Tiers: tier.Config{
			Policies: map[item.Tier]tier.Policy{
				item.TierWorking:   tierPolicy(cfg.Tiers.Working),
				item.TierShortTerm: tierPolicy(cfg.Tiers.ShortTerm),
				item.TierLongTerm:  tierPolicy(cfg.Tiers.LongTerm),
				item.TierArchived:  tierPolicy(cfg.Tiers.Archived),
			},
			PromoteMinAccess:    cfg.Tiers.PromoteMinAccess,
			PromoteMinDwell:     time.Duration(cfg.Tiers.PromoteMinDwellHours) * time.Hour,
			DemoteMinDwell:      time.Duration(cfg.Tiers.DemoteMinDwellHours) * time.Hour,
			ResurrectionMinHits: cfg.Tiers.ResurrectionMinHits,
			ResurrectionScore:   cfg.Tiers.ResurrectionScore,
		},
		Consolidate: consolidate.Config{
			NearThreshold: cfg.Consolidation.NearThreshold,
			NeighborhoodK: cfg.Consolidation.NeighborhoodK,
			LockTTL:       time.Duration(cfg.Consolidation.LockTTLSeconds) * time.Second,
			EvictionFloor: cfg.Consolidation.EvictionFloor,
			GracePeriod:   time.Duration(cfg.Consolidation.GracePeriodHours) * time.Hour,
		},
		Retrieval: retrieval.Config{
			TopK:          cfg.Retrieval.TopK,
			GraphHops:     cfg.Retrieval.GraphHops,
			SignalTimeout: time.Duration(cfg.Retrieval.SignalTimeoutMS) * time.Millisecond,
		},
		Workers:   uint(cfg.Workers.Count),
		QueueSize: uint(cfg.Workers.QueueSize),
	}
}

func tierPolicy(p config.TierPolicyConfig) tier.Policy {
	return tier.Policy{
		TTL:          time.Duration(p.TTLHours) * time.Hour,
		HalfLifeDays: p.HalfLifeDays,
		DemoteBelow:  p.DemoteBelow,
	}
}

// ResumeConsolidation runs one consolidation batch, resuming from the
// persisted sweep cursor and writing the advanced cursor back. A wrapped
// scan clears the state so the next call starts fresh.
func (e *Engine) ResumeConsolidation(ctx context.Context, dot *dotdir.Manager, overrideDir string, batchSize int) (consolidate.Report, error) {
	cursor := ""
	if state, err := dot.LoadSweepState(overrideDir); err != nil {
		e.logger.Warn("sweep state unreadable, restarting scan", zap.Error(err))
	} else if state != nil {
		cursor = state.Cursor
	}

	report, next, err := e.RunConsolidationSweep(ctx, cursor, batchSize)
	if err != nil {
		return report, err
	}

	if next == "" {
		if err := dot.ClearSweepState(overrideDir); err != nil {
			e.logger.Warn("clearing sweep state failed", zap.Error(err))
		}
	} else if err := dot.SaveSweepState(&dotdir.SweepState{
		Cursor:    next,
		UpdatedAt: e.clock(),
	}, overrideDir); err != nil {
		e.logger.Warn("persisting sweep state failed", zap.Error(err))
	}
	return report, nil
}
