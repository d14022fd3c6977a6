package config

const (
	defaultStorageProvider = "sqlite"
	defaultSQLitePath      = "engram.db"

	defaultVectorProvider   = "sqlite"
	defaultVectorCollection = "memories"

	defaultLexicalProvider = "sqlite"

	defaultEmbeddingProvider   = "ollama"
	defaultEmbeddingTarget     = "http://localhost:11434"
	defaultEmbeddingModel      = "nomic-embed-text"
	defaultEmbeddingDimensions = 768

	defaultSynthesisProvider = "naive"

	defaultEventStreamProvider = "nop"
	defaultEventStreamTopic    = "engram.lifecycle"

	defaultPromoteMinAccess     = 3
	defaultPromoteMinDwellHours = 48
	defaultDemoteMinDwellHours  = 1
	defaultResurrectionMinHits  = 5
	defaultResurrectionScore    = 0.6

	defaultNearThreshold    = 0.95
	defaultNeighborhoodK    = 8
	defaultLockTTLSeconds   = 30
	defaultEvictionFloor    = 0.05
	defaultGracePeriodHours = 30 * 24

	defaultTopK            = 20
	defaultGraphHops       = 2
	defaultSignalTimeoutMS = 2000

	defaultWorkerCount = 4
	defaultQueueSize   = 256
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Provider:   defaultStorageProvider,
			SQLitePath: defaultSQLitePath,
		},
		VectorStore: VectorStoreConfig{
			Provider:   defaultVectorProvider,
			SQLitePath: defaultSQLitePath,
			Collection: defaultVectorCollection,
		},
		Lexical: LexicalConfig{
			Provider:   defaultLexicalProvider,
			SQLitePath: defaultSQLitePath,
		},
		Embedding: EmbeddingConfig{
			Provider:   defaultEmbeddingProvider,
			Target:     defaultEmbeddingTarget,
			Model:      defaultEmbeddingModel,
			Dimensions: defaultEmbeddingDimensions,
		},
		Synthesis: SynthesisConfig{
			Provider: defaultSynthesisProvider,
		},
		EventStream: EventStreamConfig{
			Provider: defaultEventStreamProvider,
			Topic:    defaultEventStreamTopic,
		},
		Tiers: TiersConfig{
			Working:   TierPolicyConfig{TTLHours: 24, HalfLifeDays: 1, DemoteBelow: 0.5},
			ShortTerm: TierPolicyConfig{TTLHours: 7 * 24, HalfLifeDays: 7, DemoteBelow: 0.3},
			LongTerm:  TierPolicyConfig{HalfLifeDays: 90, DemoteBelow: 0.1},
			Archived:  TierPolicyConfig{HalfLifeDays: 365},

			PromoteMinAccess:     defaultPromoteMinAccess,
			PromoteMinDwellHours: defaultPromoteMinDwellHours,
			DemoteMinDwellHours:  defaultDemoteMinDwellHours,
			ResurrectionMinHits:  defaultResurrectionMinHits,
			ResurrectionScore:    defaultResurrectionScore,
		},
		Consolidation: ConsolidationConfig{
			NearThreshold:    defaultNearThreshold,
			NeighborhoodK:    defaultNeighborhoodK,
			LockTTLSeconds:   defaultLockTTLSeconds,
			EvictionFloor:    defaultEvictionFloor,
			GracePeriodHours: defaultGracePeriodHours,
		},
		Retrieval: RetrievalConfig{
			TopK:            defaultTopK,
			GraphHops:       defaultGraphHops,
			SignalTimeoutMS: defaultSignalTimeoutMS,
		},
		Workers: WorkersConfig{
			Count:     defaultWorkerCount,
			QueueSize: defaultQueueSize,
		},
	}
}
