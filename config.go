package loginhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/MrEthical07/loginhook/host"
	"github.com/MrEthical07/loginhook/internal/logging"
	"github.com/MrEthical07/loginhook/internal/scope"
)

const (
	// DefaultNamespace is the reserved namespace searched for the hook.
	DefaultNamespace = "login_hook"
	// DefaultRoutine is the reserved zero-argument routine name.
	DefaultRoutine = "login"
)

// Config is the engine configuration. Zero values are replaced by defaults
// only through DefaultConfig and LoadConfigFile.
type Config struct {
	Hook    HookConfig    `yaml:"hook" json:"hook"`
	Scope   ScopeConfig   `yaml:"scope" json:"scope"`
	Audit   AuditConfig   `yaml:"audit" json:"audit"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Log     LogConfig     `yaml:"log" json:"log"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

/*
====================================
HOOK CONFIG
====================================
*/

// HookConfig names the routine to run on session start.
type HookConfig struct {
	Namespace string `yaml:"namespace" json:"namespace"`
	Routine   string `yaml:"routine" json:"routine"`
	// Timeout bounds one invocation. Zero means no bound.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

/*
====================================
SCOPE CONFIG
====================================
*/

// ScopeStrategy selects how the hook's transaction scope nests.
type ScopeStrategy string

const (
	// ScopeAuto follows the host's SubTransactions capability.
	ScopeAuto ScopeStrategy = "auto"
	// ScopeTransactionOnly never nests inside a caller's transaction.
	ScopeTransactionOnly ScopeStrategy = "transaction"
	// ScopeSubTransactionAlways nests with a sub-transaction.
	ScopeSubTransactionAlways ScopeStrategy = "subtransaction"
)

type ScopeConfig struct {
	Strategy ScopeStrategy `yaml:"strategy" json:"strategy"`
}

func (c ScopeConfig) resolve(caps host.Capabilities) scope.Strategy {
	switch c.Strategy {
	case ScopeTransactionOnly:
		return scope.StrategyTransaction
	case ScopeSubTransactionAlways:
		return scope.StrategySubTransaction
	default:
		return scope.SelectStrategy(caps)
	}
}

/*
====================================
OBSERVABILITY CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool `yaml:"enabled" json:"enabled"`
	BufferSize int  `yaml:"buffer_size" json:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full" json:"drop_if_full"`
	// SinkTimeout bounds each sink call.
	SinkTimeout time.Duration `yaml:"sink_timeout" json:"sink_timeout"`
}

type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled" json:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms" json:"enable_latency_histograms"`
}

// LogConfig selects the default logger built when none is supplied.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

type TracingConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func defaultConfig() Config {
	return Config{
		Hook: HookConfig{
			Namespace: DefaultNamespace,
			Routine:   DefaultRoutine,
		},
		Scope: ScopeConfig{
			Strategy: ScopeAuto,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
		Log: LogConfig{
			Level:  "info",
			Format: logging.FormatTint,
		},
		Tracing: TracingConfig{
			Enabled: true,
		},
	}
}

// DefaultConfig returns the configuration used by New.
func DefaultConfig() Config {
	return defaultConfig()
}

func cloneConfig(cfg Config) Config {
	return cfg
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Hook.Namespace == "" {
		return errors.New("Hook Namespace must not be empty")
	}
	if c.Hook.Routine == "" {
		return errors.New("Hook Routine must not be empty")
	}
	if strings.ContainsAny(c.Hook.Namespace, ". ") || strings.ContainsAny(c.Hook.Routine, ". ()") {
		return errors.New("Hook Namespace and Routine must be bare identifiers")
	}
	if c.Hook.Timeout < 0 {
		return errors.New("Hook Timeout must be >= 0")
	}

	switch c.Scope.Strategy {
	case ScopeAuto, ScopeTransactionOnly, ScopeSubTransactionAlways:
	default:
		return fmt.Errorf("unsupported Scope Strategy %q", c.Scope.Strategy)
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when Audit is enabled")
	}
	if c.Audit.SinkTimeout < 0 {
		return errors.New("Audit SinkTimeout must be >= 0")
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if !logging.ValidFormat(c.Log.Format) {
		return fmt.Errorf("unsupported Log Format %q", c.Log.Format)
	}
	return nil
}

/*
====================================
LOADING
====================================
*/

// LoadConfigFile reads a YAML or JSON file over the defaults. Unknown YAML
// keys are rejected.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return ParseConfigJSON(data)
	case ".yml", ".yaml":
		return ParseConfigYAML(data)
	default:
		return Config{}, fmt.Errorf("unsupported config file extension: %s", ext)
	}
}

// ParseConfigYAML decodes data over the defaults and validates the result.
func ParseConfigYAML(data []byte) (Config, error) {
	cfg := defaultConfig()
	if err := yaml.UnmarshalWithOptions(data, &cfg, yaml.Strict()); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseConfigJSON decodes data over the defaults and validates the result.
func ParseConfigJSON(data []byte) (Config, error) {
	cfg := defaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
