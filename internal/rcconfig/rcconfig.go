// Package rcconfig loads rebasectl.yaml: trunk branch names, timeouts, and
// the intent TTL. Structure continues the teacher's internal/config/config.go
// pattern directly (struct tags, a Duration wrapper for YAML string
// durations, a pure Validate(cfg) []error).
package rcconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the parsed shape of rebasectl.yaml.
type Config struct {
	TrunkBranches    []string `yaml:"trunk_branches"`
	IndexLockTimeout Duration `yaml:"index_lock_timeout"`
	AdapterTimeout   Duration `yaml:"adapter_timeout"`
	IntentTTL        Duration `yaml:"intent_ttl"`
	CommitTemplate   string   `yaml:"commit_template,omitempty"`
	Forge            *ForgeConfig `yaml:"forge,omitempty"`
}

// ForgeConfig points `rebasectl status`'s PR decoration at a forge API.
// Omitted entirely (nil) when the user has not configured one; status then
// renders without PR annotations rather than erroring.
type ForgeConfig struct {
	BaseURL string   `yaml:"base_url"`
	Owner   string   `yaml:"owner"`
	Repo    string   `yaml:"repo"`
	Token   string   `yaml:"token,omitempty"`
	CacheTTL Duration `yaml:"cache_ttl,omitempty"`
}

// Duration wraps time.Duration for YAML unmarshaling from strings like "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Default trunk names and timeouts applied when rebasectl.yaml omits them.
const (
	defaultIndexLockTimeout = 10 * time.Second
	defaultAdapterTimeout   = 60 * time.Second
	defaultIntentTTL        = time.Hour
	defaultForgeCacheTTL    = 30 * time.Second
)

var defaultTrunkBranches = []string{"main", "master", "develop", "trunk"}

// Load reads and parses path, applying defaults for anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rcconfig: reading %s: %w", path, err)
	}
	return parse(data)
}

// Defaults returns a Config with every field at its default, for callers
// operating with no rebasectl.yaml present.
func Defaults() *Config {
	cfg, _ := parse(nil)
	return cfg
}

func parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("rcconfig: parsing YAML: %w", err)
	}

	if len(cfg.TrunkBranches) == 0 {
		cfg.TrunkBranches = defaultTrunkBranches
	}
	if cfg.IndexLockTimeout == 0 {
		cfg.IndexLockTimeout = Duration(defaultIndexLockTimeout)
	}
	if cfg.AdapterTimeout == 0 {
		cfg.AdapterTimeout = Duration(defaultAdapterTimeout)
	}
	if cfg.IntentTTL == 0 {
		cfg.IntentTTL = Duration(defaultIntentTTL)
	}
	if cfg.Forge != nil && cfg.Forge.CacheTTL == 0 {
		cfg.Forge.CacheTTL = Duration(defaultForgeCacheTTL)
	}

	return &cfg, nil
}

// Validate returns every configuration error found, rather than stopping at
// the first one, matching the teacher's config.Validate shape.
func Validate(cfg *Config) []error {
	var errs []error

	if len(cfg.TrunkBranches) == 0 {
		errs = append(errs, fmt.Errorf("trunk_branches: at least one trunk branch is required"))
	}
	names := make(map[string]bool, len(cfg.TrunkBranches))
	for i, b := range cfg.TrunkBranches {
		if b == "" {
			errs = append(errs, fmt.Errorf("trunk_branches[%d]: must not be empty", i))
			continue
		}
		if names[b] {
			errs = append(errs, fmt.Errorf("trunk_branches[%d]: duplicate entry %q", i, b))
		}
		names[b] = true
	}

	if cfg.IndexLockTimeout.Duration() <= 0 {
		errs = append(errs, fmt.Errorf("index_lock_timeout: must be positive"))
	}
	if cfg.AdapterTimeout.Duration() <= 0 {
		errs = append(errs, fmt.Errorf("adapter_timeout: must be positive"))
	}
	if cfg.IntentTTL.Duration() <= 0 {
		errs = append(errs, fmt.Errorf("intent_ttl: must be positive"))
	}

	return errs
}

// IsTrunk reports whether name appears in cfg's trunk branch list.
func (cfg *Config) IsTrunk(name string) bool {
	for _, b := range cfg.TrunkBranches {
		if b == name {
			return true
		}
	}
	return false
}
