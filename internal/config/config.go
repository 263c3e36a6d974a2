package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the cmdintel configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Tracker   TrackerConfig   `yaml:"tracker"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Errors    ErrorsConfig    `yaml:"errors"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Daemon    DaemonConfig    `yaml:"daemon"`
	SysState  SysStateConfig  `yaml:"sysstate"`
	Workspace WorkspaceConfig `yaml:"workspace"`
}

// StoreConfig selects the pattern store backend.
type StoreConfig struct {
	Backend string `yaml:"backend"` // sqlite or memory
	Path    string `yaml:"path"`    // Database path (overrides default)
}

// TrackerConfig holds command pattern tracker limits.
type TrackerConfig struct {
	MaxPatterns     int `yaml:"max_patterns"`      // Patterns kept before eviction
	MaxRecentStates int `yaml:"max_recent_states"` // System states kept per pattern
	PeakHours       int `yaml:"peak_hours"`        // Peak usage hours kept per pattern
	MaxNeighbors    int `yaml:"max_neighbors"`     // Precursors/follow-ups kept per pattern
}

// WorkflowConfig holds workflow graph and miner settings.
type WorkflowConfig struct {
	SequenceSize        int     `yaml:"sequence_size"`         // Rolling window per session
	MinPatternFrequency int     `yaml:"min_pattern_frequency"` // Occurrences before promotion
	MinSteps            int     `yaml:"min_steps"`             // Shortest mined subsequence
	MaxSteps            int     `yaml:"max_steps"`             // Longest mined subsequence
	MaxContexts         int     `yaml:"max_contexts"`          // Workspace snapshots kept per node
	SimilarityThreshold float64 `yaml:"similarity_threshold"`  // Jaccard threshold for detection
}

// ErrorsConfig holds error pattern matcher settings.
type ErrorsConfig struct {
	MaxPatterns     int `yaml:"max_patterns"`      // Error patterns kept before eviction
	MaxSuggestions  int `yaml:"max_suggestions"`   // Suggestions returned by analysis
	OracleTimeoutMs int `yaml:"oracle_timeout_ms"` // Upper bound on one oracle call
}

// OracleConfig holds AI oracle settings.
type OracleConfig struct {
	Enabled    bool   `yaml:"enabled"`     // Must opt in to oracle calls
	Provider   string `yaml:"provider"`    // claude or none
	Model      string `yaml:"model"`       // Provider-specific model
	Redact     bool   `yaml:"redact"`      // Redact secrets before sending
	CooldownMs int    `yaml:"cooldown_ms"` // Pause after repeated failures
}

// DaemonConfig holds daemon-related settings.
type DaemonConfig struct {
	SocketPath      string `yaml:"socket_path"`       // Unix socket path (overrides default)
	LogLevel        string `yaml:"log_level"`         // debug, info, warn, error
	LogFile         string `yaml:"log_file"`          // Log file path (overrides default)
	QueueSize       int    `yaml:"queue_size"`        // Ingestion queue capacity
	IdleTimeoutMins int    `yaml:"idle_timeout_mins"` // Auto-shutdown after idle (0 = never)
	ConnectTimeout  int    `yaml:"connect_timeout_ms"`
	AutoStart       bool   `yaml:"auto_start"` // CLI spawns the daemon when it is not running
}

// SysStateConfig holds system sampling settings.
type SysStateConfig struct {
	SampleIntervalMs int `yaml:"sample_interval_ms"`
}

// WorkspaceConfig holds workspace context provider settings.
type WorkspaceConfig struct {
	CacheTTLMs int  `yaml:"cache_ttl_ms"`
	Watch      bool `yaml:"watch"` // Invalidate cached snapshots on file changes
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: "sqlite",
		},
		Tracker: TrackerConfig{
			MaxPatterns:     10000,
			MaxRecentStates: 100,
			PeakHours:       5,
			MaxNeighbors:    10,
		},
		Workflow: WorkflowConfig{
			SequenceSize:        10,
			MinPatternFrequency: 3,
			MinSteps:            2,
			MaxSteps:            5,
			MaxContexts:         100,
			SimilarityThreshold: 0.7,
		},
		Errors: ErrorsConfig{
			MaxPatterns:     50,
			MaxSuggestions:  5,
			OracleTimeoutMs: 5000,
		},
		Oracle: OracleConfig{
			Enabled:    false,
			Provider:   "claude",
			Redact:     true,
			CooldownMs: 60000,
		},
		Daemon: DaemonConfig{
			LogLevel:       "info",
			QueueSize:      8192,
			ConnectTimeout: 50,
			AutoStart:      true,
		},
		SysState: SysStateConfig{
			SampleIntervalMs: 5000,
		},
		Workspace: WorkspaceConfig{
			CacheTTLMs: 30000,
			Watch:      true,
		},
	}
}

// Load loads configuration from the default path.
func Load() (*Config, error) {
	paths := DefaultPaths()
	return LoadFromFile(paths.ConfigFile())
}

// LoadFromFile loads configuration from the specified file.
// If the file doesn't exist, returns default configuration.
// Environment variable overrides are applied after file loading.
func LoadFromFile(path string) (*Config, error) {
	cfg, err := ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ReadFile loads the specified file over the defaults without applying
// environment overrides. A missing file yields the defaults.
func ReadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves the configuration to the specified file.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// field binds a dot-separated key to a config value.
type field struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func intField(p func(c *Config) *int) field {
	return field{
		get: func(c *Config) string { return strconv.Itoa(*p(c)) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid integer %q: %w", v, err)
			}
			*p(c) = n
			return nil
		},
	}
}

func floatField(p func(c *Config) *float64) field {
	return field{
		get: func(c *Config) string { return strconv.FormatFloat(*p(c), 'f', -1, 64) },
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid number %q: %w", v, err)
			}
			*p(c) = f
			return nil
		},
	}
}

func boolField(p func(c *Config) *bool) field {
	return field{
		get: func(c *Config) string { return strconv.FormatBool(*p(c)) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid boolean %q: %w", v, err)
			}
			*p(c) = b
			return nil
		},
	}
}

func stringField(p func(c *Config) *string) field {
	return field{
		get: func(c *Config) string { return *p(c) },
		set: func(c *Config, v string) error {
			*p(c) = v
			return nil
		},
	}
}

var fields = map[string]field{
	"store.backend": stringField(func(c *Config) *string { return &c.Store.Backend }),
	"store.path":    stringField(func(c *Config) *string { return &c.Store.Path }),

	"tracker.max_patterns":      intField(func(c *Config) *int { return &c.Tracker.MaxPatterns }),
	"tracker.max_recent_states": intField(func(c *Config) *int { return &c.Tracker.MaxRecentStates }),
	"tracker.peak_hours":        intField(func(c *Config) *int { return &c.Tracker.PeakHours }),
	"tracker.max_neighbors":     intField(func(c *Config) *int { return &c.Tracker.MaxNeighbors }),

	"workflow.sequence_size":         intField(func(c *Config) *int { return &c.Workflow.SequenceSize }),
	"workflow.min_pattern_frequency": intField(func(c *Config) *int { return &c.Workflow.MinPatternFrequency }),
	"workflow.min_steps":             intField(func(c *Config) *int { return &c.Workflow.MinSteps }),
	"workflow.max_steps":             intField(func(c *Config) *int { return &c.Workflow.MaxSteps }),
	"workflow.max_contexts":          intField(func(c *Config) *int { return &c.Workflow.MaxContexts }),
	"workflow.similarity_threshold":  floatField(func(c *Config) *float64 { return &c.Workflow.SimilarityThreshold }),

	"errors.max_patterns":      intField(func(c *Config) *int { return &c.Errors.MaxPatterns }),
	"errors.max_suggestions":   intField(func(c *Config) *int { return &c.Errors.MaxSuggestions }),
	"errors.oracle_timeout_ms": intField(func(c *Config) *int { return &c.Errors.OracleTimeoutMs }),

	"oracle.enabled":     boolField(func(c *Config) *bool { return &c.Oracle.Enabled }),
	"oracle.provider":    stringField(func(c *Config) *string { return &c.Oracle.Provider }),
	"oracle.model":       stringField(func(c *Config) *string { return &c.Oracle.Model }),
	"oracle.redact":      boolField(func(c *Config) *bool { return &c.Oracle.Redact }),
	"oracle.cooldown_ms": intField(func(c *Config) *int { return &c.Oracle.CooldownMs }),

	"daemon.socket_path":        stringField(func(c *Config) *string { return &c.Daemon.SocketPath }),
	"daemon.log_level":          stringField(func(c *Config) *string { return &c.Daemon.LogLevel }),
	"daemon.log_file":           stringField(func(c *Config) *string { return &c.Daemon.LogFile }),
	"daemon.queue_size":         intField(func(c *Config) *int { return &c.Daemon.QueueSize }),
	"daemon.idle_timeout_mins":  intField(func(c *Config) *int { return &c.Daemon.IdleTimeoutMins }),
	"daemon.connect_timeout_ms": intField(func(c *Config) *int { return &c.Daemon.ConnectTimeout }),
	"daemon.auto_start":         boolField(func(c *Config) *bool { return &c.Daemon.AutoStart }),

	"sysstate.sample_interval_ms": intField(func(c *Config) *int { return &c.SysState.SampleIntervalMs }),

	"workspace.cache_ttl_ms": intField(func(c *Config) *int { return &c.Workspace.CacheTTLMs }),
	"workspace.watch":        boolField(func(c *Config) *bool { return &c.Workspace.Watch }),
}

// Get retrieves a configuration value by dot-separated key.
// For example: "tracker.max_patterns" or "oracle.enabled"
func (c *Config) Get(key string) (string, error) {
	f, err := lookupField(key)
	if err != nil {
		return "", err
	}
	return f.get(c), nil
}

// Set sets a configuration value by dot-separated key and revalidates.
func (c *Config) Set(key, value string) error {
	f, err := lookupField(key)
	if err != nil {
		return err
	}
	prev := f.get(c)
	if err := f.set(c, value); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if err := c.Validate(); err != nil {
		_ = f.set(c, prev)
		return err
	}
	return nil
}

func lookupField(key string) (field, error) {
	parts := strings.Split(key, ".")
	if len(parts) != 2 {
		return field{}, errors.New("key must be in format 'section.key'")
	}
	f, ok := fields[key]
	if !ok {
		return field{}, fmt.Errorf("unknown key: %s", key)
	}
	return f, nil
}

// ListKeys returns every configuration key in sorted order.
func ListKeys() []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("store.backend must be sqlite or memory (got: %s)", c.Store.Backend)
	}

	if c.Tracker.MaxPatterns < 1 {
		return errors.New("tracker.max_patterns must be >= 1")
	}
	if c.Tracker.MaxRecentStates < 1 {
		return errors.New("tracker.max_recent_states must be >= 1")
	}
	if c.Tracker.PeakHours < 1 || c.Tracker.PeakHours > 24 {
		return errors.New("tracker.peak_hours must be between 1 and 24")
	}
	if c.Tracker.MaxNeighbors < 1 {
		return errors.New("tracker.max_neighbors must be >= 1")
	}

	if c.Workflow.MinSteps < 2 {
		return errors.New("workflow.min_steps must be >= 2")
	}
	if c.Workflow.MaxSteps < c.Workflow.MinSteps {
		return errors.New("workflow.max_steps must be >= workflow.min_steps")
	}
	if c.Workflow.SequenceSize < c.Workflow.MaxSteps {
		return errors.New("workflow.sequence_size must be >= workflow.max_steps")
	}
	if c.Workflow.MinPatternFrequency < 2 {
		return errors.New("workflow.min_pattern_frequency must be >= 2")
	}
	if c.Workflow.MaxContexts < 1 {
		return errors.New("workflow.max_contexts must be >= 1")
	}
	if c.Workflow.SimilarityThreshold < 0 || c.Workflow.SimilarityThreshold > 1 {
		return errors.New("workflow.similarity_threshold must be between 0 and 1")
	}

	if c.Errors.MaxPatterns < 1 {
		return errors.New("errors.max_patterns must be >= 1")
	}
	if c.Errors.MaxSuggestions < 1 {
		return errors.New("errors.max_suggestions must be >= 1")
	}
	if c.Errors.OracleTimeoutMs < 0 {
		return errors.New("errors.oracle_timeout_ms must be >= 0")
	}

	if !isValidProvider(c.Oracle.Provider) {
		return fmt.Errorf("oracle.provider must be claude or none (got: %s)", c.Oracle.Provider)
	}
	if c.Oracle.CooldownMs < 0 {
		return errors.New("oracle.cooldown_ms must be >= 0")
	}

	if !isValidLogLevel(c.Daemon.LogLevel) {
		return fmt.Errorf("daemon.log_level must be debug, info, warn, or error (got: %s)", c.Daemon.LogLevel)
	}
	if c.Daemon.QueueSize < 1 {
		return errors.New("daemon.queue_size must be >= 1")
	}
	if c.Daemon.IdleTimeoutMins < 0 {
		return errors.New("daemon.idle_timeout_mins must be >= 0")
	}
	if c.Daemon.ConnectTimeout < 0 {
		return errors.New("daemon.connect_timeout_ms must be >= 0")
	}

	if c.SysState.SampleIntervalMs < 100 {
		return errors.New("sysstate.sample_interval_ms must be >= 100")
	}
	if c.Workspace.CacheTTLMs < 0 {
		return errors.New("workspace.cache_ttl_ms must be >= 0")
	}

	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidProvider(provider string) bool {
	switch provider {
	case "claude", "none":
		return true
	default:
		return false
	}
}

// ApplyEnvOverrides applies environment variable overrides to the config.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("CMDINTEL_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil && b {
			c.Daemon.LogLevel = "debug"
		}
	}
	if v := os.Getenv("CMDINTEL_LOG_LEVEL"); v != "" {
		if isValidLogLevel(v) {
			c.Daemon.LogLevel = v
		}
	}
	if v := os.Getenv("CMDINTEL_SOCKET_PATH"); v != "" {
		c.Daemon.SocketPath = v
	}
	if v := os.Getenv("CMDINTEL_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("CMDINTEL_STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("CMDINTEL_ORACLE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Oracle.Enabled = b
		}
	}
}
