package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the complete application configuration. Every section has a
// working default so an empty file (or no file at all) yields a runnable
// local setup.
type Config struct {
	NATS       NATSConfig       `json:"nats"`
	Stream     StreamConfig     `json:"stream"`
	Monitor    MonitorConfig    `json:"monitor"`
	Publisher  PublisherConfig  `json:"publisher"`
	Dispatcher DispatcherConfig `json:"dispatcher"`
	Analysis   AnalysisConfig   `json:"analysis"`
	Metrics    MetricsConfig    `json:"metrics"`
}

// NATSConfig defines the broker connection settings.
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
	Name          string        `json:"name,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	PingInterval  time.Duration `json:"ping_interval,omitempty"`
	DrainTimeout  time.Duration `json:"drain_timeout,omitempty"`
}

// StreamConfig defines the work-queue stream, the inbound subject, and the
// outbound action subjects.
type StreamConfig struct {
	Name          string        `json:"name,omitempty"`
	IngestSubject string        `json:"ingest_subject,omitempty"`
	Consumer      string        `json:"consumer,omitempty"`
	Prefetch      int           `json:"prefetch,omitempty"`
	AckWait       time.Duration `json:"ack_wait,omitempty"`

	SnipeSubject  string `json:"snipe_subject,omitempty"`
	TradeSubject  string `json:"trade_subject,omitempty"`
	NotifySubject string `json:"notify_subject,omitempty"`
}

// MonitorConfig defines the connection health check cycle.
type MonitorConfig struct {
	Interval   time.Duration `json:"interval,omitempty"`
	Retries    int           `json:"retries,omitempty"`
	RetryDelay time.Duration `json:"retry_delay,omitempty"`
}

// PublisherConfig defines outbound buffering during broker outages.
type PublisherConfig struct {
	BufferCapacity int `json:"buffer_capacity,omitempty"`
}

// DispatcherConfig defines worker concurrency and item timeouts.
type DispatcherConfig struct {
	Capacity          int           `json:"capacity,omitempty"`
	ProcessingTimeout time.Duration `json:"processing_timeout,omitempty"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout,omitempty"`
}

// AnalysisConfig defines the LLM collaborators. VisionModel falls back to
// Model when unset.
type AnalysisConfig struct {
	BaseURL     string        `json:"base_url,omitempty"`
	APIKey      string        `json:"api_key,omitempty"`
	Model       string        `json:"model,omitempty"`
	VisionModel string        `json:"vision_model,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// MetricsConfig defines the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port,omitempty"`
	Path    string `json:"path,omitempty"`
}

// Defaults returns the baseline configuration every load starts from.
func Defaults() *Config {
	return &Config{
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			Name:          "signalstream",
			ReconnectWait: 2 * time.Second,
			PingInterval:  30 * time.Second,
			DrainTimeout:  30 * time.Second,
		},
		Stream: StreamConfig{
			Name:          "SIGNALS",
			IngestSubject: "signals.ingest",
			Consumer:      "signalstream-dispatch",
			Prefetch:      10,
			AckWait:       30 * time.Second,
			SnipeSubject:  "actions.snipe",
			TradeSubject:  "actions.trade",
			NotifySubject: "actions.notify",
		},
		Monitor: MonitorConfig{
			Interval:   30 * time.Second,
			Retries:    3,
			RetryDelay: 5 * time.Second,
		},
		Publisher: PublisherConfig{
			BufferCapacity: 10,
		},
		Dispatcher: DispatcherConfig{
			Capacity:          10,
			ProcessingTimeout: 60 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Analysis: AnalysisConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
			Timeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

// Validate checks the configuration for values the services cannot run
// with. It reports the first problem found.
func (c *Config) Validate() error {
	if len(c.NATS.URLs) == 0 {
		return errors.New("nats.urls is required")
	}
	if c.NATS.ReconnectWait < 0 || c.NATS.PingInterval < 0 || c.NATS.DrainTimeout < 0 {
		return errors.New("nats durations must not be negative")
	}

	if c.Stream.Name == "" {
		return errors.New("stream.name is required")
	}
	if !isValidSubject(c.Stream.Name) {
		return fmt.Errorf("stream.name %q is not a valid stream name", c.Stream.Name)
	}
	for field, subject := range map[string]string{
		"stream.ingest_subject": c.Stream.IngestSubject,
		"stream.snipe_subject":  c.Stream.SnipeSubject,
		"stream.trade_subject":  c.Stream.TradeSubject,
		"stream.notify_subject": c.Stream.NotifySubject,
	} {
		if subject == "" {
			return fmt.Errorf("%s is required", field)
		}
		if !isValidSubject(subject) {
			return fmt.Errorf("%s %q is not a valid subject", field, subject)
		}
	}
	if c.Stream.Consumer == "" {
		return errors.New("stream.consumer is required")
	}
	if c.Stream.Prefetch < 1 {
		return errors.New("stream.prefetch must be at least 1")
	}

	if c.Monitor.Interval <= 0 {
		return errors.New("monitor.interval must be positive")
	}
	if c.Monitor.Retries < 1 {
		return errors.New("monitor.retries must be at least 1")
	}
	if c.Monitor.RetryDelay <= 0 {
		return errors.New("monitor.retry_delay must be positive")
	}

	if c.Publisher.BufferCapacity < 1 {
		return errors.New("publisher.buffer_capacity must be at least 1")
	}

	if c.Dispatcher.Capacity < 1 {
		return errors.New("dispatcher.capacity must be at least 1")
	}
	if c.Dispatcher.ProcessingTimeout <= 0 {
		return errors.New("dispatcher.processing_timeout must be positive")
	}
	if c.Dispatcher.ShutdownTimeout <= 0 {
		return errors.New("dispatcher.shutdown_timeout must be positive")
	}

	if c.Analysis.BaseURL == "" {
		return errors.New("analysis.base_url is required")
	}
	if c.Analysis.Model == "" {
		return errors.New("analysis.model is required")
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port %d is out of range", c.Metrics.Port)
	}

	return nil
}

// isValidSubject checks that a string is usable as a NATS subject or
// stream name: dot-separated alphanumeric tokens with dashes and
// underscores, no wildcards.
func isValidSubject(s string) bool {
	if s == "" {
		return false
	}
	for _, token := range strings.Split(s, ".") {
		if token == "" {
			return false
		}
		for _, r := range token {
			switch {
			case r >= 'a' && r <= 'z':
			case r >= 'A' && r <= 'Z':
			case r >= '0' && r <= '9':
			case r == '-' || r == '_':
			default:
				return false
			}
		}
	}
	return true
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// String renders the configuration as indented JSON with credentials
// redacted. Safe for logs.
func (c *Config) String() string {
	redacted := c.Clone()
	if redacted.NATS.Password != "" {
		redacted.NATS.Password = "[REDACTED]"
	}
	if redacted.NATS.Token != "" {
		redacted.NATS.Token = "[REDACTED]"
	}
	if redacted.Analysis.APIKey != "" {
		redacted.Analysis.APIKey = "[REDACTED]"
	}

	data, err := json.MarshalIndent(redacted, "", "  ")
	if err != nil {
		return fmt.Sprintf("config (marshal error: %v)", err)
	}
	return string(data)
}

// SaveToFile writes the configuration as indented JSON.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return safeWriteFile(path, data)
}

// Loader loads configuration from layered JSON files with environment
// overrides. Later layers win; env vars win over files.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a loader with validation enabled and the
// SIGNALSTREAM env prefix.
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  "SIGNALSTREAM",
	}
}

// AddLayer appends a configuration file layer. Missing optional layers
// should not be added; Load fails on unreadable files.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation toggles validation of the merged result.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file, replacing any layers
// added so far.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, file layers, and environment overrides.
func (l *Loader) Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range l.layers {
		raw, err := l.loadRawJSON(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		cfg = l.mergeFromMap(cfg, raw)
	}

	l.applyEnvOverrides(cfg)

	if cfg.Analysis.VisionModel == "" {
		cfg.Analysis.VisionModel = cfg.Analysis.Model
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadRawJSON reads one layer into a map, converting duration strings.
func (l *Loader) loadRawJSON(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := validateJSONDepth(data); err != nil {
		return nil, fmt.Errorf("invalid JSON structure: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	l.parseDurations(raw)

	return raw, nil
}

// durationKeys maps each config section to the keys that accept Go
// duration strings in JSON (e.g. "30s", "5m").
var durationKeys = map[string][]string{
	"nats":       {"reconnect_wait", "ping_interval", "drain_timeout"},
	"stream":     {"ack_wait"},
	"monitor":    {"interval", "retry_delay"},
	"dispatcher": {"processing_timeout", "shutdown_timeout"},
	"analysis":   {"timeout"},
}

// parseDurations converts duration strings to nanoseconds in place so the
// map round-trips through json.Unmarshal into time.Duration fields.
func (l *Loader) parseDurations(raw map[string]any) {
	for section, keys := range durationKeys {
		m, ok := raw[section].(map[string]any)
		if !ok {
			continue
		}
		for _, key := range keys {
			s, ok := m[key].(string)
			if !ok {
				continue
			}
			if d, err := time.ParseDuration(s); err == nil {
				m[key] = d.Nanoseconds()
			}
		}
	}
}

// mergeFromMap merges one raw layer over the base config. Only keys
// present in the layer override; nested sections merge key by key.
func (l *Loader) mergeFromMap(base *Config, override map[string]any) *Config {
	if override == nil {
		return base
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return base
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return base
	}

	merged := deepMergeMaps(baseMap, override)

	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return base
	}
	var cfg Config
	if err := json.Unmarshal(mergedJSON, &cfg); err != nil {
		return base
	}
	return &cfg
}

// deepMergeMaps recursively merges override into base. Nil override
// values are ignored.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}

	return result
}

// applyEnvOverrides applies environment variable overrides. Variables
// with invalid values are ignored with the default kept.
func (l *Loader) applyEnvOverrides(cfg *Config) {
	get := func(suffix string) string {
		key := l.envPrefix + suffix
		val := os.Getenv(key)
		if val == "" {
			return ""
		}
		if err := validateEnvVar(key, val); err != nil {
			return ""
		}
		return val
	}

	if val := get("_NATS_URLS"); val != "" {
		cfg.NATS.URLs = strings.Split(val, ",")
	}
	if val := get("_NATS_USERNAME"); val != "" {
		cfg.NATS.Username = val
	}
	if val := get("_NATS_PASSWORD"); val != "" {
		cfg.NATS.Password = val
	}
	if val := get("_NATS_TOKEN"); val != "" {
		cfg.NATS.Token = val
	}
	if val := get("_ANALYSIS_BASE_URL"); val != "" {
		cfg.Analysis.BaseURL = val
	}
	if val := get("_ANALYSIS_API_KEY"); val != "" {
		cfg.Analysis.APIKey = val
	}
	if val := get("_ANALYSIS_MODEL"); val != "" {
		cfg.Analysis.Model = val
	}
	if val := get("_ANALYSIS_VISION_MODEL"); val != "" {
		cfg.Analysis.VisionModel = val
	}
	if val := get("_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
