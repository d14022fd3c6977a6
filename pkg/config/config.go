package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/engramlabs/engram/pkg/dotdir"
)

const (
	configFile = "config.toml"

	// v0 is the alpha version of the config
	v0 = 0

	// CurrentV is the currently supported version, points to v0
	CurrentV = v0
)

type Configer struct {
	ddm        *dotdir.Manager
	targetPath string
}

func NewConfiger(override string) (*Configer, error) {
	cfger := &Configer{}

	cfger.ddm = dotdir.NewManager()
	target, err := cfger.ddm.Target(override)
	if err != nil {
		return nil, err
	}

	// If no .engram/ directory was resolved, targetPath stays empty;
	// LoadConfig will return defaults and SaveConfig will error clearly.
	if target == "" {
		return cfger, nil
	}

	path := filepath.Join(target, configFile)
	_, err = os.Stat(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Always set targetPath when the directory exists so SaveConfig
	// can create or overwrite the file.
	cfger.targetPath = path

	return cfger, nil
}

// ValidConfigKeys returns the sorted list of all supported configuration
// key names, in a stable order matching the TOML section layout.
func ValidConfigKeys() []string {
	ordered := []string{
		"storage.provider",
		"storage.sqlite_path",
		"storage.postgres_dsn",
		"vector_store.provider",
		"vector_store.sqlite_path",
		"vector_store.host",
		"vector_store.port",
		"vector_store.collection",
		"lexical.provider",
		"lexical.sqlite_path",
		"embedding.provider",
		"embedding.target",
		"embedding.model",
		"embedding.dimensions",
		"synthesis.provider",
		"synthesis.target",
		"synthesis.model",
		"event_stream.provider",
		"event_stream.topic",
		"consolidation.near_threshold",
		"retrieval.top_k",
		"workers.count",
	}

	// Sanity: only return keys that actually exist in the map, then
	// append any map keys missing from the ordered list.
	result := make([]string, 0, len(configKeys))
	seen := make(map[string]bool, len(configKeys))
	for _, k := range ordered {
		if _, ok := configKeys[k]; ok {
			result = append(result, k)
			seen[k] = true
		}
	}
	for k := range configKeys {
		if !seen[k] {
			result = append(result, k)
		}
	}

	return result
}

// IsValidConfigKey returns true if the given key is a supported
// configuration key.
func IsValidConfigKey(key string) bool {
	_, ok := configKeys[key]
	return ok
}

func (c *Configer) GetTarget() string {
	return c.targetPath
}

// LoadConfig loads the configuration from config.toml in the target
// .engram/ directory. If the file does not exist, returns
// NewDefaultConfig() so callers always receive a fully-populated Config.
// Fields explicitly set in the file override the defaults.
func (c *Configer) LoadConfig() (*Config, error) {
	if c.targetPath == "" {
		return NewDefaultConfig(), nil
	}

	data, err := os.ReadFile(c.targetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewDefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg, err := ParseConfigTOML(data)
	if err != nil {
		return nil, err
	}

	// Merge in defaults: fill in any zero-value fields from the loaded config
	applyDefaults(cfg)

	return cfg, nil
}

// applyDefaults fills zero-value fields in cfg with values from
// NewDefaultConfig().
func applyDefaults(cfg *Config) {
	defaults := NewDefaultConfig()

	if cfg.Version == 0 {
		cfg.Version = defaults.Version
	}

	if cfg.Storage.Provider == "" {
		cfg.Storage.Provider = defaults.Storage.Provider
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = defaults.Storage.SQLitePath
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = defaults.VectorStore.Provider
	}
	if cfg.VectorStore.SQLitePath == "" {
		cfg.VectorStore.SQLitePath = defaults.VectorStore.SQLitePath
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = defaults.VectorStore.Collection
	}

	if cfg.Lexical.Provider == "" {
		cfg.Lexical.Provider = defaults.Lexical.Provider
	}
	if cfg.Lexical.SQLitePath == "" {
		cfg.Lexical.SQLitePath = defaults.Lexical.SQLitePath
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = defaults.Embedding.Provider
	}
	if cfg.Embedding.Target == "" {
		cfg.Embedding.Target = defaults.Embedding.Target
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = defaults.Embedding.Model
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = defaults.Embedding.Dimensions
	}

	if cfg.Synthesis.Provider == "" {
		cfg.Synthesis.Provider = defaults.Synthesis.Provider
	}

	if cfg.EventStream.Provider == "" {
		cfg.EventStream.Provider = defaults.EventStream.Provider
	}
	if cfg.EventStream.Topic == "" {
		cfg.EventStream.Topic = defaults.EventStream.Topic
	}

	if cfg.Tiers.Working == (TierPolicyConfig{}) {
		cfg.Tiers.Working = defaults.Tiers.Working
	}
	if cfg.Tiers.ShortTerm == (TierPolicyConfig{}) {
		cfg.Tiers.ShortTerm = defaults.Tiers.ShortTerm
	}
	if cfg.Tiers.LongTerm == (TierPolicyConfig{}) {
		cfg.Tiers.LongTerm = defaults.Tiers.LongTerm
	}
	if cfg.Tiers.Archived == (TierPolicyConfig{}) {
		cfg.Tiers.Archived = defaults.Tiers.Archived
	}
	if cfg.Tiers.PromoteMinAccess == 0 {
		cfg.Tiers.PromoteMinAccess = defaults.Tiers.PromoteMinAccess
	}
	if cfg.Tiers.PromoteMinDwellHours == 0 {
		cfg.Tiers.PromoteMinDwellHours = defaults.Tiers.PromoteMinDwellHours
	}
	if cfg.Tiers.DemoteMinDwellHours == 0 {
		cfg.Tiers.DemoteMinDwellHours = defaults.Tiers.DemoteMinDwellHours
	}
	if cfg.Tiers.ResurrectionMinHits == 0 {
		cfg.Tiers.ResurrectionMinHits = defaults.Tiers.ResurrectionMinHits
	}
	if cfg.Tiers.ResurrectionScore == 0 {
		cfg.Tiers.ResurrectionScore = defaults.Tiers.ResurrectionScore
	}

	if cfg.Consolidation.NearThreshold == 0 {
		cfg.Consolidation.NearThreshold = defaults.Consolidation.NearThreshold
	}
	if cfg.Consolidation.NeighborhoodK == 0 {
		cfg.Consolidation.NeighborhoodK = defaults.Consolidation.NeighborhoodK
	}
	if cfg.Consolidation.LockTTLSeconds == 0 {
		cfg.Consolidation.LockTTLSeconds = defaults.Consolidation.LockTTLSeconds
	}
	if cfg.Consolidation.EvictionFloor == 0 {
		cfg.Consolidation.EvictionFloor = defaults.Consolidation.EvictionFloor
	}
	if cfg.Consolidation.GracePeriodHours == 0 {
		cfg.Consolidation.GracePeriodHours = defaults.Consolidation.GracePeriodHours
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = defaults.Retrieval.TopK
	}
	if cfg.Retrieval.GraphHops == 0 {
		cfg.Retrieval.GraphHops = defaults.Retrieval.GraphHops
	}
	if cfg.Retrieval.SignalTimeoutMS == 0 {
		cfg.Retrieval.SignalTimeoutMS = defaults.Retrieval.SignalTimeoutMS
	}

	if cfg.Workers.Count == 0 {
		cfg.Workers.Count = defaults.Workers.Count
	}
	if cfg.Workers.QueueSize == 0 {
		cfg.Workers.QueueSize = defaults.Workers.QueueSize
	}
}

// SaveConfig persists the configuration to config.toml in the target
// .engram/ directory.
func (c *Configer) SaveConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("cannot save nil config")
	}

	if c.targetPath == "" {
		return errors.New("cannot save empty target path")
	}

	var buf bytes.Buffer
	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(c.targetPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// SetConfigValue loads the config, sets the given key to the given value,
// and saves it. Returns an error if the key is not a valid config key.
func (c *Configer) SetConfigValue(key string, value string) error {
	info, ok := configKeys[key]
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return err
	}

	if err := info.set(cfg, value); err != nil {
		return err
	}

	return c.SaveConfig(cfg)
}

// GetConfigValue loads the config and returns the string representation
// of the given key. Returns an error if the key is not a valid config key.
func (c *Configer) GetConfigValue(key string) (string, error) {
	info, ok := configKeys[key]
	if !ok {
		return "", fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return "", err
	}

	return info.get(cfg), nil
}

// ParseConfigTOML parses raw TOML bytes into a Config.
// Returns an error if the version field is present and not equal to
// CurrentV.
func ParseConfigTOML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config TOML: %w", err)
	}

	if cfg.Version != 0 && cfg.Version != CurrentV {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentV)
	}

	return cfg, nil
}
