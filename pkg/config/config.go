package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// ErrConfigurationMissing is wrapped by every error about a required setting
// that is absent.
var ErrConfigurationMissing = errors.New("configuration missing")

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"

	// DefaultPath is read when no explicit path is given
	DefaultPath = "./config.yaml"
	// PathEnvVar overrides the config file location
	PathEnvVar = "ORDERS_CONFIG_PATH"
)

type Server struct {
	ListenAddress string `yaml:"listenAddress"`
	// MetricsAddress serves /metrics on its own listener, outside the gate.
	// "0" disables the metrics listener.
	MetricsAddress string `yaml:"metricsAddress"`
	TLSCertFile    string `yaml:"tlsCertFile"`
	TLSKeyFile     string `yaml:"tlsKeyFile"`
	// IPs/CIDRs trusted to set X-Forwarded-For (e.g. ["10.0.0.0/8"])
	TrustedProxies  []string      `yaml:"trustedProxies"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type Frontend struct {
	// BaseURL is the public origin of the application. It is compared against
	// the Referer of state-changing requests.
	BaseURL string `yaml:"baseURL"`
	// DistDir holds the built frontend bundle served for unknown routes
	DistDir string `yaml:"distDir"`
}

type Portal struct {
	SigningSecret string `yaml:"signingSecret"`
}

// Auth configures how admin sessions issued by the hosted auth platform are
// recognized and re-validated.
type Auth struct {
	// URL of the auth platform. When set, every admin session is re-validated
	// remotely on each request.
	URL     string `yaml:"url"`
	AnonKey string `yaml:"anonKey"`
	// JWTSecret verifies HS256 access tokens locally
	JWTSecret string `yaml:"jwtSecret"`
	// JWKSURL verifies asymmetric access tokens locally; takes precedence over JWTSecret
	JWKSURL    string `yaml:"jwksURL"`
	CookieName string `yaml:"cookieName"`
}

type Database struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"maxConns"`
}

type Window struct {
	Window      time.Duration `yaml:"window"`
	MaxRequests int           `yaml:"maxRequests"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type RateLimit struct {
	// Backend is "memory" (per instance) or "redis" (shared)
	Backend string `yaml:"backend"`
	// Strategy is "fixed-window" or "token-bucket"
	Strategy string `yaml:"strategy"`
	Auth     Window `yaml:"auth"`
	Order    Window `yaml:"order"`
	General  Window `yaml:"general"`
	Redis    Redis  `yaml:"redis"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type Audit struct {
	QueueSize int `yaml:"queueSize"`
	// BatchSize and FlushInterval bound how many events a worker groups
	// into one sink write and how long it waits to fill the group
	BatchSize     int           `yaml:"batchSize"`
	FlushInterval time.Duration `yaml:"flushInterval"`
	Kafka         Kafka         `yaml:"kafka"`
}

type CSRF struct {
	// Enforce turns a missing origin proof into a 403 instead of a log line
	Enforce bool `yaml:"enforce"`
}

// Tracing configures OpenTelemetry span export.
type Tracing struct {
	Enabled bool `yaml:"enabled"`
	// Exporter is "otlp", "stdout" or "none"
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"samplingRate"`
}

type Config struct {
	Environment string    `yaml:"environment"`
	Server      Server    `yaml:"server"`
	Frontend    Frontend  `yaml:"frontend"`
	Portal      Portal    `yaml:"portal"`
	Auth        Auth      `yaml:"auth"`
	Database    Database  `yaml:"database"`
	RateLimit   RateLimit `yaml:"rateLimit"`
	Audit       Audit     `yaml:"audit"`
	CSRF        CSRF      `yaml:"csrf"`
	Tracing     Tracing   `yaml:"tracing"`
}

// Load reads the configuration file and applies environment overrides and
// defaults. If configPath is empty the path comes from ORDERS_CONFIG_PATH or
// falls back to "./config.yaml"; a missing default file is not an error so
// the server can be configured from the environment alone.
func Load(configPath ...string) (Config, error) {
	var path string
	explicit := true

	switch {
	case len(configPath) > 0 && configPath[0] != "":
		path = configPath[0]
	case os.Getenv(PathEnvVar) != "":
		path = os.Getenv(PathEnvVar)
	default:
		path = DefaultPath
		explicit = false
	}

	var config Config

	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(content, &config); err != nil {
			return config, fmt.Errorf("error unmarshaling YAML %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return config, fmt.Errorf("trying to open orders config file %s: %w", path, err)
	}

	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return config, err
	}
	config.Defaults()
	return config, nil
}

// ApplyEnv overrides file values with the environment of the hosting platform.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("APP_ENV", &c.Environment)
	str("APP_URL", &c.Frontend.BaseURL)
	str("PORTAL_SESSION_SECRET", &c.Portal.SigningSecret)
	str("DATABASE_URL", &c.Database.DSN)
	str("AUTH_URL", &c.Auth.URL)
	str("AUTH_ANON_KEY", &c.Auth.AnonKey)
	str("AUTH_JWT_SECRET", &c.Auth.JWTSecret)
	str("AUTH_JWKS_URL", &c.Auth.JWKSURL)
	str("REDIS_ADDR", &c.RateLimit.Redis.Addr)
	str("LISTEN_ADDRESS", &c.Server.ListenAddress)
	str("METRICS_BIND_ADDRESS", &c.Server.MetricsAddress)

	if v, ok := lookup("KAFKA_BROKERS"); ok && v != "" {
		c.Audit.Kafka.Brokers = splitList(v)
	}
	if v, ok := lookup("OTEL_EXPORTER_OTLP_ENDPOINT"); ok && v != "" {
		c.Tracing.Enabled = true
		c.Tracing.Exporter = "otlp"
		c.Tracing.Endpoint = v
	}
	if v, ok := lookup("CSRF_ENFORCE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid CSRF_ENFORCE value %q: %w", v, err)
		}
		c.CSRF.Enforce = b
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Defaults fills every unset optional value.
func (c *Config) Defaults() {
	if c.Environment == "" {
		c.Environment = EnvProduction
	}
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":8080"
	}
	if c.Server.MetricsAddress == "" {
		c.Server.MetricsAddress = ":8081"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Frontend.BaseURL == "" && c.Environment == EnvDevelopment {
		c.Frontend.BaseURL = "http://localhost" + c.Server.ListenAddress
	}
	if c.Frontend.DistDir == "" {
		c.Frontend.DistDir = "frontend/dist"
	}
	if c.Auth.CookieName == "" {
		c.Auth.CookieName = "sb-access-token"
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = 10
	}
	if c.RateLimit.Backend == "" {
		c.RateLimit.Backend = "memory"
	}
	if c.RateLimit.Strategy == "" {
		c.RateLimit.Strategy = "fixed-window"
	}
	defaultWindow(&c.RateLimit.Auth, 10)
	defaultWindow(&c.RateLimit.Order, 30)
	defaultWindow(&c.RateLimit.General, 100)
	if c.Audit.QueueSize == 0 {
		c.Audit.QueueSize = 1000
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.FlushInterval == 0 {
		c.Audit.FlushInterval = 100 * time.Millisecond
	}
	if c.Audit.Kafka.Topic == "" {
		c.Audit.Kafka.Topic = "orders-audit"
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "otlp"
	}
	if c.Tracing.SamplingRate == 0 {
		c.Tracing.SamplingRate = 1.0
	}
}

func defaultWindow(w *Window, maxRequests int) {
	if w.Window == 0 {
		w.Window = time.Minute
	}
	if w.MaxRequests == 0 {
		w.MaxRequests = maxRequests
	}
}

func (c Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

func (c Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// Validate checks required settings. Missing values are reported together in
// one error that wraps ErrConfigurationMissing. Development runs without a
// database (in-memory store), without admin auth and without a portal secret
// (see ResolvePortalSecret).
func (c Config) Validate() error {
	var missing []string

	if c.IsProduction() {
		if c.Frontend.BaseURL == "" {
			missing = append(missing, "frontend.baseURL (APP_URL)")
		}
		if c.Database.DSN == "" {
			missing = append(missing, "database.dsn (DATABASE_URL)")
		}
		if c.Auth.JWTSecret == "" && c.Auth.JWKSURL == "" {
			missing = append(missing, "auth.jwtSecret (AUTH_JWT_SECRET) or auth.jwksURL (AUTH_JWKS_URL)")
		}
		if c.Portal.SigningSecret == "" {
			missing = append(missing, "portal.signingSecret (PORTAL_SESSION_SECRET)")
		}
	}
	if c.RateLimit.Backend == "redis" && c.RateLimit.Redis.Addr == "" {
		missing = append(missing, "rateLimit.redis.addr (REDIS_ADDR)")
	}
	if len(c.Audit.Kafka.Brokers) > 0 && c.Audit.Kafka.Topic == "" {
		missing = append(missing, "audit.kafka.topic")
	}
	if c.Tracing.Enabled && c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		missing = append(missing, "tracing.endpoint (OTEL_EXPORTER_OTLP_ENDPOINT)")
	}

	var errs []error
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("%w: %s", ErrConfigurationMissing, strings.Join(missing, ", ")))
	}
	switch c.Environment {
	case EnvProduction, EnvDevelopment:
	default:
		errs = append(errs, fmt.Errorf("unknown environment %q (expected %s or %s)", c.Environment, EnvProduction, EnvDevelopment))
	}
	return errors.Join(errs...)
}

// ResolvePortalSecret makes sure a portal signing secret is available. In
// production an empty secret is fatal. In development a random secret is
// generated for the lifetime of the process, which invalidates portal cookies
// on every restart.
func (c *Config) ResolvePortalSecret(log *zap.SugaredLogger) error {
	if c.Portal.SigningSecret != "" {
		return nil
	}
	if c.IsProduction() {
		return fmt.Errorf("%w: portal.signingSecret (PORTAL_SESSION_SECRET)", ErrConfigurationMissing)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("generating development portal secret: %w", err)
	}
	c.Portal.SigningSecret = hex.EncodeToString(buf)
	log.Warnw("PORTAL_SESSION_SECRET is not set, using a random per-process secret",
		"environment", c.Environment)
	return nil
}
