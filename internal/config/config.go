package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendDuckDB   = "duckdb"

	CompletionBackendREST  = "rest"
	CompletionBackendGenAI = "genai"

	EmbeddingBackendOllama = "ollama"
	EmbeddingBackendGenAI  = "genai"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Store         StoreConfig
	Completion    CompletionConfig
	Embedding     EmbeddingConfig
	Router        RouterConfig
	Snapshot      SnapshotConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type StoreConfig struct {
	Backend         string
	DSN             string
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	SSLMode         string
	Pooled          bool
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

func (s StoreConfig) ConnectionString() string {
	if strings.TrimSpace(s.DSN) != "" {
		return strings.TrimSpace(s.DSN)
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(s.Host, strconv.Itoa(s.Port)),
		Path:   "/" + s.Database,
	}
	switch {
	case s.User != "" && s.Password != "":
		u.User = url.UserPassword(s.User, s.Password)
	case s.User != "":
		u.User = url.User(s.User)
	}
	if s.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": []string{s.SSLMode}}.Encode()
	}
	return u.String()
}

type CompletionConfig struct {
	Backend     string
	Endpoint    string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

type EmbeddingConfig struct {
	Backend    string
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

type RouterConfig struct {
	SimilarityFallback bool
	SimilarityK        int
}

type SnapshotConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	Key              string
	AutoCreateBucket bool
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("CINEQUERY_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid CINEQUERY_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	appliers := []func() error{
		func() error { return applyString(lookup, "CINEQUERY_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "CINEQUERY_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "CINEQUERY_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "CINEQUERY_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "CINEQUERY_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },

		func() error { return applyString(lookup, "CINEQUERY_STORE_BACKEND", &cfg.Store.Backend) },
		func() error { return applyString(lookup, "CINEQUERY_STORE_DSN", &cfg.Store.DSN) },
		func() error { return applyString(lookup, "CINEQUERY_STORE_HOST", &cfg.Store.Host) },
		func() error { return applyInt(lookup, "CINEQUERY_STORE_PORT", &cfg.Store.Port) },
		func() error { return applyString(lookup, "CINEQUERY_STORE_DATABASE", &cfg.Store.Database) },
		func() error { return applyString(lookup, "CINEQUERY_STORE_USER", &cfg.Store.User) },
		func() error { return applyString(lookup, "CINEQUERY_STORE_PASSWORD", &cfg.Store.Password) },
		func() error { return applyString(lookup, "CINEQUERY_STORE_SSLMODE", &cfg.Store.SSLMode) },
		func() error { return applyBool(lookup, "CINEQUERY_STORE_POOLED", &cfg.Store.Pooled) },
		func() error { return applyInt(lookup, "CINEQUERY_STORE_MAX_OPEN_CONNS", &cfg.Store.MaxOpenConns) },
		func() error { return applyInt(lookup, "CINEQUERY_STORE_MAX_IDLE_CONNS", &cfg.Store.MaxIdleConns) },
		func() error {
			return applyDuration(lookup, "CINEQUERY_STORE_CONN_MAX_IDLE_TIME", &cfg.Store.ConnMaxIdleTime)
		},
		func() error {
			return applyDuration(lookup, "CINEQUERY_STORE_CONN_MAX_LIFETIME", &cfg.Store.ConnMaxLifetime)
		},
		func() error { return applyDuration(lookup, "CINEQUERY_STORE_QUERY_TIMEOUT", &cfg.Store.QueryTimeout) },

		func() error { return applyString(lookup, "CINEQUERY_COMPLETION_BACKEND", &cfg.Completion.Backend) },
		func() error { return applyString(lookup, "CINEQUERY_COMPLETION_ENDPOINT", &cfg.Completion.Endpoint) },
		func() error { return applyString(lookup, "CINEQUERY_COMPLETION_API_KEY", &cfg.Completion.APIKey) },
		func() error { return applyString(lookup, "CINEQUERY_COMPLETION_MODEL", &cfg.Completion.Model) },
		func() error {
			return applyFloat(lookup, "CINEQUERY_COMPLETION_TEMPERATURE", &cfg.Completion.Temperature)
		},
		func() error { return applyDuration(lookup, "CINEQUERY_COMPLETION_TIMEOUT", &cfg.Completion.Timeout) },

		func() error { return applyString(lookup, "CINEQUERY_EMBEDDING_BACKEND", &cfg.Embedding.Backend) },
		func() error { return applyString(lookup, "CINEQUERY_EMBEDDING_BASE_URL", &cfg.Embedding.BaseURL) },
		func() error { return applyString(lookup, "CINEQUERY_EMBEDDING_API_KEY", &cfg.Embedding.APIKey) },
		func() error { return applyString(lookup, "CINEQUERY_EMBEDDING_MODEL", &cfg.Embedding.Model) },
		func() error { return applyInt(lookup, "CINEQUERY_EMBEDDING_DIMENSIONS", &cfg.Embedding.Dimensions) },
		func() error { return applyDuration(lookup, "CINEQUERY_EMBEDDING_TIMEOUT", &cfg.Embedding.Timeout) },

		func() error {
			return applyBool(lookup, "CINEQUERY_ROUTER_SIMILARITY_FALLBACK", &cfg.Router.SimilarityFallback)
		},
		func() error { return applyInt(lookup, "CINEQUERY_ROUTER_SIMILARITY_K", &cfg.Router.SimilarityK) },

		func() error { return applyString(lookup, "CINEQUERY_SNAPSHOT_ENDPOINT", &cfg.Snapshot.Endpoint) },
		func() error { return applyString(lookup, "CINEQUERY_SNAPSHOT_REGION", &cfg.Snapshot.Region) },
		func() error { return applyString(lookup, "CINEQUERY_SNAPSHOT_BUCKET", &cfg.Snapshot.Bucket) },
		func() error { return applyString(lookup, "CINEQUERY_SNAPSHOT_ACCESS_KEY", &cfg.Snapshot.AccessKeyID) },
		func() error {
			return applyString(lookup, "CINEQUERY_SNAPSHOT_SECRET_KEY", &cfg.Snapshot.SecretAccessKey)
		},
		func() error { return applyBool(lookup, "CINEQUERY_SNAPSHOT_USE_SSL", &cfg.Snapshot.UseSSL) },
		func() error { return applyString(lookup, "CINEQUERY_SNAPSHOT_PREFIX", &cfg.Snapshot.Prefix) },
		func() error { return applyString(lookup, "CINEQUERY_SNAPSHOT_KEY", &cfg.Snapshot.Key) },
		func() error {
			return applyBool(lookup, "CINEQUERY_SNAPSHOT_AUTO_CREATE_BUCKET", &cfg.Snapshot.AutoCreateBucket)
		},

		func() error { return applyBool(lookup, "CINEQUERY_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "CINEQUERY_LOG_LEVEL", &cfg.Observability.LogLevel) },
		func() error { return applyBool(lookup, "CINEQUERY_AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyString(lookup, "CINEQUERY_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	cfg.Store.Backend = strings.ToLower(cfg.Store.Backend)
	cfg.Completion.Backend = strings.ToLower(cfg.Completion.Backend)
	cfg.Embedding.Backend = strings.ToLower(cfg.Embedding.Backend)

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	switch cfg.Store.Backend {
	case StoreBackendPostgres, StoreBackendDuckDB:
	default:
		return Config{}, fmt.Errorf("invalid CINEQUERY_STORE_BACKEND: %q", cfg.Store.Backend)
	}
	switch cfg.Completion.Backend {
	case CompletionBackendREST, CompletionBackendGenAI:
	default:
		return Config{}, fmt.Errorf("invalid CINEQUERY_COMPLETION_BACKEND: %q", cfg.Completion.Backend)
	}
	switch cfg.Embedding.Backend {
	case EmbeddingBackendOllama, EmbeddingBackendGenAI:
	default:
		return Config{}, fmt.Errorf("invalid CINEQUERY_EMBEDDING_BACKEND: %q", cfg.Embedding.Backend)
	}
	if cfg.Completion.Timeout <= 0 {
		return Config{}, fmt.Errorf("CINEQUERY_COMPLETION_TIMEOUT must be positive")
	}
	if cfg.Store.QueryTimeout <= 0 {
		return Config{}, fmt.Errorf("CINEQUERY_STORE_QUERY_TIMEOUT must be positive")
	}
	if cfg.Embedding.Dimensions <= 0 {
		return Config{}, fmt.Errorf("CINEQUERY_EMBEDDING_DIMENSIONS must be positive")
	}
	if cfg.Router.SimilarityK < 0 {
		return Config{}, fmt.Errorf("CINEQUERY_ROUTER_SIMILARITY_K must be >= 0")
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "cinequery-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Store: StoreConfig{
			Backend:         StoreBackendPostgres,
			Host:            "localhost",
			Port:            5432,
			Database:        "movies_db",
			User:            "postgres",
			SSLMode:         "disable",
			Pooled:          false,
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
			QueryTimeout:    30 * time.Second,
		},
		Completion: CompletionConfig{
			Backend:     CompletionBackendREST,
			Endpoint:    "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-flash:generateContent",
			Model:       "gemini-2.5-flash",
			Temperature: 0,
			Timeout:     30 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Backend:    EmbeddingBackendOllama,
			BaseURL:    "http://localhost:11434",
			Model:      "all-minilm",
			Dimensions: 384,
			Timeout:    30 * time.Second,
		},
		Router: RouterConfig{
			SimilarityFallback: false,
			SimilarityK:        10,
		},
		Snapshot: SnapshotConfig{
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "cinequery",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "snapshots",
			Key:              "movies_full/manifest.json",
			AutoCreateBucket: true,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Auth.Required = false
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.Store.Pooled = true
		cfg.Store.SSLMode = "require"
		cfg.Snapshot.UseSSL = true
		cfg.Snapshot.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
