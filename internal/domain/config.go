package domain

import "time"

// Config holds the complete Ringwatch configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines which backing services are used
	Tier Tier `json:"tier"`

	// Detection thresholds and safety caps
	Detection DetectionConfig `json:"detection"`

	// Alert rules over flagged accounts
	Alerting AlertingConfig `json:"alerting"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Async analysis worker
	Worker WorkerConfig `json:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds

	// MaxUploadBytes bounds the size of an uploaded batch.
	MaxUploadBytes int64 `json:"maxUploadBytes"`

	// CORSOrigins lists browser origins allowed to call the API; empty
	// allows any origin.
	CORSOrigins []string `json:"corsOrigins"`
}

// DetectionConfig holds detector parameters.
// MaxCycles, MaxSearchSteps and MaxShellChains are safety valves: hitting
// them truncates the result, it never fails the run.
type DetectionConfig struct {
	MinCycleLength int `json:"minCycleLength"`
	MaxCycleLength int `json:"maxCycleLength"`
	MaxCycles      int `json:"maxCycles"`
	MaxSearchSteps int `json:"maxSearchSteps"` // per start node

	ShellMinDegree int `json:"shellMinDegree"`
	ShellMaxDegree int `json:"shellMaxDegree"`
	MaxShellChains int `json:"maxShellChains"`

	FanWindow    time.Duration `json:"fanWindow"`
	FanThreshold int           `json:"fanThreshold"` // flagged when distinct counterparties exceed this

	// Workers bounds per-detector parallelism.
	Workers int `json:"workers"`
}

// AlertingConfig controls alert rule evaluation.
type AlertingConfig struct {
	Enabled bool `json:"enabled"`

	// UseDefaultRules loads the built-in rules when none are stored.
	UseDefaultRules bool `json:"useDefaultRules"`

	MaxWorkers int `json:"maxWorkers"`
}

// WorkerConfig controls the async analysis worker.
type WorkerConfig struct {
	Enabled bool `json:"enabled"`

	// TenantIDs limits the worker to these tenants (empty = shared queue)
	TenantIDs []string `json:"tenantIds"`

	Count int `json:"count"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level     string `json:"level"`  // debug, info, warn, error
	Format    string `json:"format"` // json, text
	AddSource bool   `json:"addSource"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + in-memory cache + channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + Redis + NATS
	TierPro Tier = "pro"
)

// DefaultDetectionConfig returns the detector parameters used in production.
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		MinCycleLength: 3,
		MaxCycleLength: 5,
		MaxCycles:      100000,
		MaxSearchSteps: 2000000,
		ShellMinDegree: 2,
		ShellMaxDegree: 3,
		MaxShellChains: 100000,
		FanWindow:      72 * time.Hour,
		FanThreshold:   10,
		Workers:        8,
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8001,
			ReadTimeout:    60,
			WriteTimeout:   120,
			MaxUploadBytes: 64 << 20,
		},
		Tier:      TierCommunity,
		Detection: DefaultDetectionConfig(),
		Alerting: AlertingConfig{
			Enabled:         true,
			UseDefaultRules: true,
			MaxWorkers:      10,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./ringwatch.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 1000,
			LocalTTL:     10 * time.Minute,
			ReportTTL:    time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 100,
		},
		Worker: WorkerConfig{
			Enabled: false,
			Count:   4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "ringwatch",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "ringwatch",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   200,
		LocalTTL:       5 * time.Minute,
		ReportTTL:      24 * time.Hour,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueueGroup:    "ringwatch-workers",
	}
	cfg.Worker.Enabled = true
	cfg.Tracing.Enabled = true
	return cfg
}
