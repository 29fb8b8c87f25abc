package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Storage backends shared by the content store and the artifact store
const (
	StorageFS     = "fs"
	StorageS3     = "s3"
	StorageGCS    = "gcs"
	StorageMemory = "memory"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	ContentStore  StorageConfig
	ArtifactStore StorageConfig
	Exports       ExportConfig
	Evidence      EvidenceConfig
	Auth          AuthConfig
	RateLimit     RateLimitConfig
	Redis         RedisConfig
	Catalog       CatalogConfig
	Observability ObservabilityConfig
	DataDir       string
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	AllowedOrigins  []string
}

// DatabaseConfig holds database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	Driver           string
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	SQLitePath       string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	AutoMigrate      bool
}

// StorageConfig selects and configures a blob backend
type StorageConfig struct {
	Type     string
	Dir      string // fs
	Bucket   string // s3, gcs
	Region   string // s3
	Endpoint string // s3: MinIO/LocalStack
	Prefix   string
}

// ExportConfig holds export worker configuration
type ExportConfig struct {
	Workers         int
	QueueSize       int
	ShutdownTimeout time.Duration
	CacheSize       int
	CacheTTL        time.Duration
}

// EvidenceConfig holds evidence upload limits
type EvidenceConfig struct {
	MaxUploadBytes int64
	RetryAttempts  int
	RetryBaseDelay time.Duration
}

// AuthConfig holds bearer token validation settings
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	Audience  string
}

// RateLimitConfig holds per-organization rate limits for mutating routes
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
}

// RedisConfig holds the optional Redis connection used by the distributed rate limiter
type RedisConfig struct {
	URL string
}

// CatalogConfig locates the framework catalog
type CatalogConfig struct {
	// Path of a YAML catalog overriding the embedded one. Empty uses the embedded catalog.
	Path  string
	Watch bool
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or text
	MetricsEnabled bool
	OTLPEndpoint   string
	ServiceName    string
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	dataDir := getEnv("DATA_DIR", "data")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		DataDir:     dataDir,
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 60*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 60*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		},
		Database:      loadDatabaseConfig(dataDir),
		ContentStore:  loadStorageConfig("CONTENT_STORE", filepath.Join(dataDir, "content")),
		ArtifactStore: loadStorageConfig("ARTIFACT_STORE", filepath.Join(dataDir, "exports")),
		Exports: ExportConfig{
			Workers:         getEnvAsInt("EXPORT_WORKERS", 2),
			QueueSize:       getEnvAsInt("EXPORT_QUEUE_SIZE", 64),
			ShutdownTimeout: getEnvAsDuration("EXPORT_SHUTDOWN_TIMEOUT", 30*time.Second),
			CacheSize:       getEnvAsInt("EXPORT_CACHE_SIZE", 16),
			CacheTTL:        getEnvAsDuration("EXPORT_CACHE_TTL", 10*time.Minute),
		},
		Evidence: EvidenceConfig{
			MaxUploadBytes: int64(getEnvAsInt("MAX_UPLOAD_BYTES", 50<<20)),
			RetryAttempts:  getEnvAsInt("STORAGE_RETRY_ATTEMPTS", 3),
			RetryBaseDelay: getEnvAsDuration("STORAGE_RETRY_BASE_DELAY", 200*time.Millisecond),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
			Issuer:    getEnv("AUTH_JWT_ISSUER", ""),
			Audience:  getEnv("AUTH_JWT_AUDIENCE", ""),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getEnvAsBool("RATE_LIMIT_ENABLED", true),
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 120),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Catalog: CatalogConfig{
			Path:  getEnv("CATALOG_PATH", ""),
			Watch: getEnvAsBool("CATALOG_WATCH", false),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
			OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "compliance-ledger"),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.ConnectionString == "" && c.Database.Host == "" {
			return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
		}
		if c.Database.ConnectionString == "" {
			if c.Database.User == "" {
				return fmt.Errorf("database user is required")
			}
			if c.Database.Database == "" {
				return fmt.Errorf("database name is required")
			}
		}
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case DriverMemory:
		if c.IsProduction() {
			return fmt.Errorf("memory database driver is not allowed in production")
		}
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	for name, s := range map[string]StorageConfig{"content store": c.ContentStore, "artifact store": c.ArtifactStore} {
		if err := s.validate(name); err != nil {
			return err
		}
	}

	if c.Exports.Workers < 1 {
		return fmt.Errorf("at least one export worker is required")
	}
	if c.Exports.QueueSize < 1 {
		return fmt.Errorf("export queue size must be positive")
	}
	if c.Evidence.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload size must be positive")
	}

	// Token secret is required in production
	if c.IsProduction() && c.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required in production")
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate limit must be positive when enabled")
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

func (s StorageConfig) validate(name string) error {
	switch s.Type {
	case StorageFS:
		if s.Dir == "" {
			return fmt.Errorf("%s directory is required", name)
		}
	case StorageS3, StorageGCS:
		if s.Bucket == "" {
			return fmt.Errorf("%s bucket is required for %s", name, s.Type)
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unsupported %s type: %q", name, s.Type)
	}
	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the connection string for the configured driver.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	if c.Driver == DriverSQLite {
		return "file:" + c.SQLitePath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.Driver == DriverSQLite {
		return "sqlite=" + c.SQLitePath
	}
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig(dataDir string) DatabaseConfig {
	cfg := DatabaseConfig{
		Driver:          getEnv("DATABASE_DRIVER", DriverPostgres),
		SQLitePath:      getEnv("SQLITE_PATH", filepath.Join(dataDir, "compliance.db")),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		AutoMigrate:     getEnvAsBool("DB_AUTO_MIGRATE", true),
	}
	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		cfg.ConnectionString = dbURL
		return cfg
	}
	cfg.Host = getEnv("DB_HOST", "localhost")
	cfg.Port = getEnvAsInt("DB_PORT", 5432)
	cfg.User = getEnv("DB_USER", "dev")
	cfg.Password = getEnv("DB_PASSWORD", "compliance_password")
	cfg.Database = getEnv("DB_NAME", "compliance")
	cfg.SSLMode = getEnv("DB_SSLMODE", "disable")
	return cfg
}

// loadStorageConfig reads <prefix>_TYPE, <prefix>_DIR, <prefix>_S3_BUCKET and friends
func loadStorageConfig(prefix, defaultDir string) StorageConfig {
	region := getEnv(prefix+"_S3_REGION", "")
	if region == "" {
		region = getEnv("AWS_REGION", "us-east-1")
	}
	bucket := getEnv(prefix+"_S3_BUCKET", "")
	storeType := getEnv(prefix+"_TYPE", StorageFS)
	if storeType == StorageGCS {
		bucket = getEnv(prefix+"_GCS_BUCKET", "")
	}
	return StorageConfig{
		Type:     storeType,
		Dir:      getEnv(prefix+"_DIR", defaultDir),
		Bucket:   bucket,
		Region:   region,
		Endpoint: getEnv(prefix+"_S3_ENDPOINT", ""),
		Prefix:   getEnv(prefix+"_PREFIX", ""),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
