package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/engramlabs/engram/pkg/dotdir"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the ENGRAM_ prefix.
//
// Config precedence (highest to lowest):
//  1. Environment variables (ENGRAM_STORAGE_PROVIDER, ENGRAM_RETRIEVAL_TOP_K, etc.)
//  2. config.toml file values
//  3. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	// 1. Register all defaults from NewDefaultConfig().
	setViperDefaults(v)

	// 2. Config file discovery via dotdir resolution.
	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// 3. Environment variables: ENGRAM_STORAGE_SQLITE_PATH, etc.
	v.SetEnvPrefix("ENGRAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source
// of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	// Storage
	v.SetDefault("storage.provider", d.Storage.Provider)
	v.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)
	v.SetDefault("storage.postgres_dsn", d.Storage.PostgresDSN)

	// Vector store
	v.SetDefault("vector_store.provider", d.VectorStore.Provider)
	v.SetDefault("vector_store.sqlite_path", d.VectorStore.SQLitePath)
	v.SetDefault("vector_store.host", d.VectorStore.Host)
	v.SetDefault("vector_store.port", d.VectorStore.Port)
	v.SetDefault("vector_store.collection", d.VectorStore.Collection)

	// Lexical
	v.SetDefault("lexical.provider", d.Lexical.Provider)
	v.SetDefault("lexical.sqlite_path", d.Lexical.SQLitePath)

	// Embedding
	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.target", d.Embedding.Target)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.dimensions", d.Embedding.Dimensions)

	// Synthesis
	v.SetDefault("synthesis.provider", d.Synthesis.Provider)
	v.SetDefault("synthesis.target", d.Synthesis.Target)
	v.SetDefault("synthesis.model", d.Synthesis.Model)

	// Event stream
	v.SetDefault("event_stream.provider", d.EventStream.Provider)
	v.SetDefault("event_stream.topic", d.EventStream.Topic)

	// Sweeps and retrieval
	v.SetDefault("consolidation.near_threshold", d.Consolidation.NearThreshold)
	v.SetDefault("consolidation.neighborhood_k", d.Consolidation.NeighborhoodK)
	v.SetDefault("consolidation.lock_ttl_seconds", d.Consolidation.LockTTLSeconds)
	v.SetDefault("consolidation.eviction_floor", d.Consolidation.EvictionFloor)
	v.SetDefault("consolidation.grace_period_hours", d.Consolidation.GracePeriodHours)
	v.SetDefault("retrieval.top_k", d.Retrieval.TopK)
	v.SetDefault("retrieval.graph_hops", d.Retrieval.GraphHops)
	v.SetDefault("retrieval.signal_timeout_ms", d.Retrieval.SignalTimeoutMS)

	// Workers
	v.SetDefault("workers.count", d.Workers.Count)
	v.SetDefault("workers.queue_size", d.Workers.QueueSize)
}
