package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	Pipeline  PipelineConfig  `json:"pipeline" yaml:"pipeline"`
	Model     ModelConfig     `json:"model" yaml:"model"`
	Detection DetectionConfig `json:"detection" yaml:"detection"`
	Dispatch  DispatchConfig  `json:"dispatch" yaml:"dispatch"`
	API       APIConfig       `json:"api" yaml:"api"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Alerts    AlertsConfig    `json:"alerts" yaml:"alerts"`
}

type IngestConfig struct {
	REST  RESTConfig  `json:"rest" yaml:"rest"`
	Kafka KafkaConfig `json:"kafka" yaml:"kafka"`
}

type RESTConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	Addr         string `json:"addr" yaml:"addr"`
	MaxBodyBytes int64  `json:"max_body_bytes" yaml:"max_body_bytes"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type PipelineConfig struct {
	FeatureCount   int           `json:"feature_count" yaml:"feature_count"`
	QueueCapacity  int           `json:"queue_capacity" yaml:"queue_capacity"`
	WindowSize     int           `json:"window_size" yaml:"window_size"`
	BatchSize      int           `json:"batch_size" yaml:"batch_size"`
	TickInterval   time.Duration `json:"tick_interval" yaml:"tick_interval"`
	BatchTimeout   time.Duration `json:"batch_timeout" yaml:"batch_timeout"`
	Workers        int           `json:"workers" yaml:"workers"`
	ScoringTimeout time.Duration `json:"scoring_timeout" yaml:"scoring_timeout"`
}

type ModelConfig struct {
	Path              string `json:"path" yaml:"path"`
	PreferAccelerator bool   `json:"prefer_accelerator" yaml:"prefer_accelerator"`
	FailFast          bool   `json:"fail_fast" yaml:"fail_fast"`
}

type DetectionConfig struct {
	Threshold float64 `json:"threshold" yaml:"threshold"`
}

type DispatchConfig struct {
	Endpoint       string        `json:"endpoint" yaml:"endpoint"`
	MaxRetries     int           `json:"max_retries" yaml:"max_retries"`
	BackoffBase    time.Duration `json:"backoff_base" yaml:"backoff_base"`
	BackoffCap     time.Duration `json:"backoff_cap" yaml:"backoff_cap"`
	Jitter         bool          `json:"jitter" yaml:"jitter"`
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`
	Buffer         int           `json:"buffer" yaml:"buffer"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type AlertsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Ingest: IngestConfig{
			REST:  RESTConfig{Enabled: true, Addr: ":8080", MaxBodyBytes: 512 << 10},
			Kafka: KafkaConfig{Enabled: false},
		},
		Pipeline: PipelineConfig{
			FeatureCount:   25000,
			QueueCapacity:  100,
			WindowSize:     5,
			BatchSize:      64,
			TickInterval:   1 * time.Second,
			BatchTimeout:   0, // derived: tick_interval * batch_size
			Workers:        0, // derived: core count
			ScoringTimeout: 30 * time.Second,
		},
		Model:     ModelConfig{FailFast: false},
		Detection: DetectionConfig{Threshold: 0.9},
		Dispatch: DispatchConfig{
			MaxRetries:     5,
			BackoffBase:    500 * time.Millisecond,
			BackoffCap:     15 * time.Second,
			Jitter:         true,
			RequestTimeout: 5 * time.Second,
			Buffer:         256,
		},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:tickwatch.db?_pragma=busy_timeout(5000)"},
		Alerts:  AlertsConfig{StoreLimit: 1000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Pipeline.FeatureCount <= 0 {
		cfg.Pipeline.FeatureCount = 25000
	}
	if cfg.Pipeline.QueueCapacity <= 0 {
		cfg.Pipeline.QueueCapacity = 100
	}
	if cfg.Pipeline.WindowSize <= 0 {
		cfg.Pipeline.WindowSize = 5
	}
	if cfg.Pipeline.BatchSize <= 0 {
		cfg.Pipeline.BatchSize = 64
	}
	if cfg.Pipeline.TickInterval <= 0 {
		cfg.Pipeline.TickInterval = 1 * time.Second
	}
	if cfg.Pipeline.BatchTimeout <= 0 {
		cfg.Pipeline.BatchTimeout = cfg.Pipeline.TickInterval * time.Duration(cfg.Pipeline.BatchSize)
	}
	if cfg.Pipeline.Workers <= 0 {
		cfg.Pipeline.Workers = runtime.NumCPU()
	}
	if cfg.Pipeline.ScoringTimeout <= 0 {
		cfg.Pipeline.ScoringTimeout = 30 * time.Second
	}
	if cfg.Detection.Threshold <= 0 {
		cfg.Detection.Threshold = 0.9
	}
	if cfg.Dispatch.MaxRetries <= 0 {
		cfg.Dispatch.MaxRetries = 5
	}
	if cfg.Dispatch.BackoffBase <= 0 {
		cfg.Dispatch.BackoffBase = 500 * time.Millisecond
	}
	if cfg.Dispatch.BackoffCap <= 0 {
		cfg.Dispatch.BackoffCap = 15 * time.Second
	}
	if cfg.Dispatch.RequestTimeout <= 0 {
		cfg.Dispatch.RequestTimeout = 5 * time.Second
	}
	if cfg.Dispatch.Buffer <= 0 {
		cfg.Dispatch.Buffer = 256
	}
	if cfg.Ingest.REST.MaxBodyBytes <= 0 {
		cfg.Ingest.REST.MaxBodyBytes = 512 << 10
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = 1000
	}
}

func Validate(cfg *Config) error {
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Pipeline.WindowSize < 1 {
		return errors.New("pipeline.window_size must be >= 1")
	}
	if cfg.Pipeline.BatchSize < 1 {
		return errors.New("pipeline.batch_size must be >= 1")
	}
	if cfg.Detection.Threshold < 0 || cfg.Detection.Threshold > 1 {
		return fmt.Errorf("detection.threshold must be in [0, 1], got %v", cfg.Detection.Threshold)
	}
	if cfg.Dispatch.BackoffCap < cfg.Dispatch.BackoffBase {
		return errors.New("dispatch.backoff_cap must be >= dispatch.backoff_base")
	}
	if cfg.Storage.Enabled {
		driver := strings.ToLower(cfg.Storage.Driver)
		if driver != "sqlite" && driver != "postgres" && driver != "postgresql" {
			return fmt.Errorf("storage.driver must be sqlite or postgres, got %q", cfg.Storage.Driver)
		}
	}
	return nil
}

type Manager struct {
	path string
	cfg  atomic.Value
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	return m, nil
}

// NewStaticManager wraps an in-memory config, used when no config file is
// given and for tests.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	applyDefaults(cfg)
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	return cfg, nil
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
