package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Detection and ledger behaviour
	Detection DetectionConfig `json:"detection"`
	Ledger    LedgerConfig    `json:"ledger"`
	Security  SecurityConfig  `json:"security"`

	// AsyncWorker starts the bus consumer outside the Pro tier.
	AsyncWorker bool `json:"asyncWorker"`

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
}

// DetectionConfig holds the thresholds used by the feature extractor,
// the classifier and the decision overlay.
type DetectionConfig struct {
	// VeryHighAmount is exclusive: an amount equal to it is not very high.
	VeryHighAmount    string   `json:"veryHighAmount"`
	HighRiskCountries []string `json:"highRiskCountries"`
	DeclineThreshold  float64  `json:"declineThreshold"`
	ReviewThreshold   float64  `json:"reviewThreshold"`

	// ModelPath overrides the embedded scoring model when set.
	ModelPath string `json:"modelPath"`
}

// LedgerConfig controls identity ledger persistence.
type LedgerConfig struct {
	// Durable backs the ledger with the repository tables.
	Durable bool `json:"durable"`
}

// SecurityConfig holds caller-facing protections.
type SecurityConfig struct {
	// AdminToken guards reset, reload and directory writes. Empty disables the check.
	AdminToken string `json:"-"`

	// RateLimitPerMinute is per caller. Zero disables limiting.
	RateLimitPerMinute int `json:"rateLimitPerMinute"`
	// AllowedOrigins lists browser origins for CORS. Empty allows any
	// origin without credentials.
	AllowedOrigins []string `json:"allowedOrigins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
	Endpoint    string `json:"endpoint"` // OTLP gRPC host:port
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultHighRiskCountries is the built-in high-risk country list.
var DefaultHighRiskCountries = []string{"NG", "BR", "PK", "ZA", "ID"}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			DirectoryTTL: time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Detection: DetectionConfig{
			VeryHighAmount:    "100000",
			HighRiskCountries: append([]string(nil), DefaultHighRiskCountries...),
			DeclineThreshold:  0.75,
			ReviewThreshold:   0.4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
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
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       5 * time.Minute,
		DirectoryTTL:   time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Ledger.Durable = true
	cfg.Tracing.Enabled = true
	cfg.Tracing.Endpoint = "localhost:4317"
	return cfg
}
