package config

import (
	"fmt"
	"strconv"
)

// Config represents the persistent engram configuration stored as
// config.toml in the .engram/ directory. The TOML layout uses sections
// for logical grouping.
type Config struct {
	Version       int                 `toml:"version"`
	Storage       StorageConfig       `toml:"storage"`
	VectorStore   VectorStoreConfig   `toml:"vector_store"`
	Lexical       LexicalConfig       `toml:"lexical"`
	Embedding     EmbeddingConfig     `toml:"embedding"`
	Synthesis     SynthesisConfig     `toml:"synthesis"`
	EventStream   EventStreamConfig   `toml:"event_stream"`
	Tiers         TiersConfig         `toml:"tiers"`
	Consolidation ConsolidationConfig `toml:"consolidation"`
	Retrieval     RetrievalConfig     `toml:"retrieval"`
	Workers       WorkersConfig       `toml:"workers"`
}

// StorageConfig holds document-store settings.
type StorageConfig struct {
	Provider    string `toml:"provider,omitempty"`
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresDSN string `toml:"postgres_dsn,omitempty"`
}

// VectorStoreConfig holds vector index settings.
type VectorStoreConfig struct {
	Provider   string `toml:"provider,omitempty"`
	SQLitePath string `toml:"sqlite_path,omitempty"`
	Host       string `toml:"host,omitempty"`
	Port       int    `toml:"port,omitempty"`
	APIKey     string `toml:"api_key,omitempty"`
	UseTLS     bool   `toml:"use_tls,omitempty"`
	Collection string `toml:"collection,omitempty"`
}

// LexicalConfig holds keyword index settings.
type LexicalConfig struct {
	Provider   string `toml:"provider,omitempty"`
	SQLitePath string `toml:"sqlite_path,omitempty"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Model      string `toml:"model,omitempty"`
	Dimensions uint   `toml:"dimensions,omitempty"`
}

// SynthesisConfig holds consolidation-merger settings.
type SynthesisConfig struct {
	Provider string `toml:"provider,omitempty"`
	Target   string `toml:"target,omitempty"`
	Model    string `toml:"model,omitempty"`
}

// EventStreamConfig holds lifecycle event publishing settings.
type EventStreamConfig struct {
	Provider string   `toml:"provider,omitempty"`
	Brokers  []string `toml:"brokers,omitempty"`
	Topic    string   `toml:"topic,omitempty"`
}

// TierPolicyConfig holds one tier's retention tuning.
type TierPolicyConfig struct {
	TTLHours     int     `toml:"ttl_hours,omitempty"`
	HalfLifeDays float64 `toml:"half_life_days,omitempty"`
	DemoteBelow  float64 `toml:"demote_below,omitempty"`
}

// TiersConfig holds the full state-machine tuning.
type TiersConfig struct {
	Working   TierPolicyConfig `toml:"working"`
	ShortTerm TierPolicyConfig `toml:"short_term"`
	LongTerm  TierPolicyConfig `toml:"long_term"`
	Archived  TierPolicyConfig `toml:"archived"`

	PromoteMinAccess     int64   `toml:"promote_min_access,omitempty"`
	PromoteMinDwellHours int     `toml:"promote_min_dwell_hours,omitempty"`
	DemoteMinDwellHours  int     `toml:"demote_min_dwell_hours,omitempty"`
	ResurrectionMinHits  int64   `toml:"resurrection_min_hits,omitempty"`
	ResurrectionScore    float64 `toml:"resurrection_score,omitempty"`
}

// ConsolidationConfig holds dedup sweep tuning.
type ConsolidationConfig struct {
	NearThreshold    float64 `toml:"near_threshold,omitempty"`
	NeighborhoodK    int     `toml:"neighborhood_k,omitempty"`
	LockTTLSeconds   int     `toml:"lock_ttl_seconds,omitempty"`
	EvictionFloor    float64 `toml:"eviction_floor,omitempty"`
	GracePeriodHours int     `toml:"grace_period_hours,omitempty"`
}

// RetrievalConfig holds hybrid query tuning.
type RetrievalConfig struct {
	TopK            int `toml:"top_k,omitempty"`
	GraphHops       int `toml:"graph_hops,omitempty"`
	SignalTimeoutMS int `toml:"signal_timeout_ms,omitempty"`
}

// WorkersConfig holds background worker pool sizing.
type WorkersConfig struct {
	Count     int `toml:"count,omitempty"`
	QueueSize int `toml:"queue_size,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter
// on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.provider": {
		get: func(c *Config) string { return c.Storage.Provider },
		set: func(c *Config, v string) error { c.Storage.Provider = v; return nil },
	},
	"storage.sqlite_path": {
		get: func(c *Config) string { return c.Storage.SQLitePath },
		set: func(c *Config, v string) error { c.Storage.SQLitePath = v; return nil },
	},
	"storage.postgres_dsn": {
		get: func(c *Config) string { return c.Storage.PostgresDSN },
		set: func(c *Config, v string) error { c.Storage.PostgresDSN = v; return nil },
	},
	"vector_store.provider": {
		get: func(c *Config) string { return c.VectorStore.Provider },
		set: func(c *Config, v string) error { c.VectorStore.Provider = v; return nil },
	},
	"vector_store.sqlite_path": {
		get: func(c *Config) string { return c.VectorStore.SQLitePath },
		set: func(c *Config, v string) error { c.VectorStore.SQLitePath = v; return nil },
	},
	"vector_store.host": {
		get: func(c *Config) string { return c.VectorStore.Host },
		set: func(c *Config, v string) error { c.VectorStore.Host = v; return nil },
	},
	"vector_store.port": {
		get: func(c *Config) string {
			if c.VectorStore.Port == 0 {
				return ""
			}
			return strconv.Itoa(c.VectorStore.Port)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for vector_store.port: %w", err)
			}
			c.VectorStore.Port = n
			return nil
		},
	},
	"vector_store.collection": {
		get: func(c *Config) string { return c.VectorStore.Collection },
		set: func(c *Config, v string) error { c.VectorStore.Collection = v; return nil },
	},
	"lexical.provider": {
		get: func(c *Config) string { return c.Lexical.Provider },
		set: func(c *Config, v string) error { c.Lexical.Provider = v; return nil },
	},
	"lexical.sqlite_path": {
		get: func(c *Config) string { return c.Lexical.SQLitePath },
		set: func(c *Config, v string) error { c.Lexical.SQLitePath = v; return nil },
	},
	"embedding.provider": {
		get: func(c *Config) string { return c.Embedding.Provider },
		set: func(c *Config, v string) error { c.Embedding.Provider = v; return nil },
	},
	"embedding.target": {
		get: func(c *Config) string { return c.Embedding.Target },
		set: func(c *Config, v string) error { c.Embedding.Target = v; return nil },
	},
	"embedding.model": {
		get: func(c *Config) string { return c.Embedding.Model },
		set: func(c *Config, v string) error { c.Embedding.Model = v; return nil },
	},
	"embedding.dimensions": {
		get: func(c *Config) string {
			if c.Embedding.Dimensions == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(c.Embedding.Dimensions), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for embedding.dimensions: %w", err)
			}
			c.Embedding.Dimensions = uint(n)
			return nil
		},
	},
	"synthesis.provider": {
		get: func(c *Config) string { return c.Synthesis.Provider },
		set: func(c *Config, v string) error { c.Synthesis.Provider = v; return nil },
	},
	"synthesis.target": {
		get: func(c *Config) string { return c.Synthesis.Target },
		set: func(c *Config, v string) error { c.Synthesis.Target = v; return nil },
	},
	"synthesis.model": {
		get: func(c *Config) string { return c.Synthesis.Model },
		set: func(c *Config, v string) error { c.Synthesis.Model = v; return nil },
	},
	"event_stream.provider": {
		get: func(c *Config) string { return c.EventStream.Provider },
		set: func(c *Config, v string) error { c.EventStream.Provider = v; return nil },
	},
	"event_stream.topic": {
		get: func(c *Config) string { return c.EventStream.Topic },
		set: func(c *Config, v string) error { c.EventStream.Topic = v; return nil },
	},
	"consolidation.near_threshold": {
		get: func(c *Config) string {
			if c.Consolidation.NearThreshold == 0 {
				return ""
			}
			return strconv.FormatFloat(c.Consolidation.NearThreshold, 'f', -1, 64)
		},
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid value for consolidation.near_threshold: %w", err)
			}
			c.Consolidation.NearThreshold = f
			return nil
		},
	},
	"retrieval.top_k": {
		get: func(c *Config) string {
			if c.Retrieval.TopK == 0 {
				return ""
			}
			return strconv.Itoa(c.Retrieval.TopK)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for retrieval.top_k: %w", err)
			}
			c.Retrieval.TopK = n
			return nil
		},
	},
	"workers.count": {
		get: func(c *Config) string {
			if c.Workers.Count == 0 {
				return ""
			}
			return strconv.Itoa(c.Workers.Count)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for workers.count: %w", err)
			}
			c.Workers.Count = n
			return nil
		},
	},
}
