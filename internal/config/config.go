package config

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Identity sources accepted by IDENTITY_SOURCE.
const (
	SourcePostgres = "postgres"
	SourceMariaDB  = "mariadb"
	SourceFile     = "file"
)

type Config struct {
	Matching  MatchingConfig
	Identity  IdentityConfig
	Database  DatabaseConfig
	MariaDB   MariaDBConfig
	History   HistoryConfig
	Webhook   WebhookConfig
	Telemetry TelemetryConfig
	Web       WebConfig
	LogLevel  string
	RiskTags  RiskTagsConfig

	loadErrs []error // malformed environment values seen by Load
}

type MatchingConfig struct {
	MatchThreshold float64       // distance below which an observation matches (default 0.6)
	AlertThreshold float64       // distance below which a high-risk match alerts (default 0.5)
	CooldownWindow time.Duration // minimum time between alerts per identity (default 30s)
	SweepInterval  time.Duration // how often expired cooldown entries are dropped (default 1m)
	Dim            int           // embedding dimensionality (default 128)
	Index          string        // "flat" or "hnsw"
}

type IdentityConfig struct {
	Source string // postgres, mariadb or file
	File   string // YAML identity file when Source is "file"
	Watch  bool   // rebuild the registry when File changes
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type MariaDBConfig struct {
	DSN   string // e.g. watch:watch@tcp(mariadb:3306)/legacy
	Table string // table holding legacy identities (default identities)
}

type HistoryConfig struct {
	Path      string        // SQLite file for match/alert history; empty disables it
	Limit     int           // default page size for history queries
	Retention time.Duration // events older than this are pruned; zero keeps everything
}

type WebhookConfig struct {
	URL       string
	Timeout   time.Duration
	RateLimit float64 // requests per second
	Burst     int
}

type TelemetryConfig struct {
	Endpoint    string // OTLP/HTTP endpoint; empty keeps metrics in-process
	ServiceName string
	Insecure    bool // plain HTTP to the collector
}

type WebConfig struct {
	Port        int
	Host        string
	JWTSecret   string        // HS256 signing secret; empty disables auth
	TokenTTL    time.Duration // lifetime of issued tokens
	RateRPS     float64       // observation rate limit
	RateBurst   int
	CORSOrigins []string
}

// RiskTagsConfig holds display metadata for risk tags, loaded from the embedded defaults.yaml.
type RiskTagsConfig struct {
	Tags map[string]RiskTagDisplay `yaml:"risk_tags" json:"risk_tags"`
}

type RiskTagDisplay struct {
	Label    string `yaml:"label" json:"label"`
	Color    string `yaml:"color" json:"color"`
	Severity int    `yaml:"severity" json:"severity"`
}

// envParser reads typed environment variables. Unset or empty variables yield the
// default; unparsable or negative values also yield the default and are recorded,
// so Validate can report them instead of running with a value nobody asked for.
type envParser struct {
	errs []error
}

func (e *envParser) invalid(key, value, want string) {
	e.errs = append(e.errs, fmt.Errorf("%s must be %s, got %q", key, want, value))
}

// envInt parses a non-negative integer.
func (e *envParser) envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		e.invalid(key, s, "a non-negative integer")
		return defaultVal
	}
	return n
}

// envFloat parses a finite, non-negative number.
func (e *envParser) envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		e.invalid(key, s, "a non-negative number")
		return defaultVal
	}
	return f
}

// envSeconds parses a possibly fractional number of seconds.
func (e *envParser) envSeconds(key string, defaultVal float64) time.Duration {
	return time.Duration(e.envFloat(key, defaultVal) * float64(time.Second))
}

func (e *envParser) envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		e.invalid(key, s, "a boolean")
		return defaultVal
	}
	return b
}

// envList reads a comma-separated list.
func envList(key string, defaultVal []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	var tags RiskTagsConfig
	if err := yaml.Unmarshal(defaultsYAML, &tags); err != nil {
		// Embedded file, so this is a build-time bug.
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	var env envParser
	cfg := &Config{
		Matching: MatchingConfig{
			MatchThreshold: env.envFloat("MATCH_THRESHOLD", 0.6),
			AlertThreshold: env.envFloat("ALERT_THRESHOLD", 0.5),
			CooldownWindow: env.envSeconds("COOLDOWN_WINDOW_SECONDS", 30),
			SweepInterval:  env.envSeconds("COOLDOWN_SWEEP_SECONDS", 60),
			Dim:            env.envInt("EMBEDDING_DIM", 128),
			Index:          strings.ToLower(envString("MATCH_INDEX", "flat")),
		},
		Identity: IdentityConfig{
			Source: strings.ToLower(envString("IDENTITY_SOURCE", SourcePostgres)),
			File:   envString("IDENTITY_FILE", "identities.yaml"),
			Watch:  env.envBool("IDENTITY_FILE_WATCH", true),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: env.envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: env.envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		MariaDB: MariaDBConfig{
			DSN:   os.Getenv("MARIADB_DSN"),
			Table: envString("MARIADB_IDENTITY_TABLE", "identities"),
		},
		History: HistoryConfig{
			Path:      os.Getenv("HISTORY_DB_PATH"),
			Limit:     env.envInt("HISTORY_PAGE_SIZE", 100),
			Retention: time.Duration(env.envInt("HISTORY_RETENTION_DAYS", 30)) * 24 * time.Hour,
		},
		Webhook: WebhookConfig{
			URL:       os.Getenv("ALERT_WEBHOOK_URL"),
			Timeout:   env.envSeconds("ALERT_WEBHOOK_TIMEOUT_SECONDS", 5),
			RateLimit: env.envFloat("ALERT_WEBHOOK_RATE", 2),
			Burst:     env.envInt("ALERT_WEBHOOK_BURST", 5),
		},
		Telemetry: TelemetryConfig{
			Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			ServiceName: envString("OTEL_SERVICE_NAME", "watchpost"),
			Insecure:    env.envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		},
		Web: WebConfig{
			Port:        env.envInt("WEB_PORT", 8080),
			Host:        envString("WEB_HOST", "0.0.0.0"),
			JWTSecret:   os.Getenv("API_JWT_SECRET"),
			TokenTTL:    time.Duration(env.envInt("API_TOKEN_TTL_HOURS", 24)) * time.Hour,
			RateRPS:     env.envFloat("OBSERVATION_RATE_LIMIT", 50),
			RateBurst:   env.envInt("OBSERVATION_RATE_BURST", 100),
			CORSOrigins: envList("CORS_ORIGINS", []string{"http://localhost:5173", "http://localhost:8080"}),
		},
		LogLevel: strings.ToLower(envString("LOG_LEVEL", "info")),
		RiskTags: tags,
	}
	cfg.loadErrs = env.errs
	return cfg
}

// Validate reports configuration values the engine cannot run with.
func (c *Config) Validate() error {
	errs := append([]error(nil), c.loadErrs...)
	m := c.Matching
	if m.MatchThreshold <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_THRESHOLD must be positive, got %v", m.MatchThreshold))
	}
	if m.AlertThreshold <= 0 || m.AlertThreshold > m.MatchThreshold {
		errs = append(errs, fmt.Errorf("ALERT_THRESHOLD must be in (0, MATCH_THRESHOLD], got %v", m.AlertThreshold))
	}
	if m.CooldownWindow <= 0 {
		errs = append(errs, errors.New("COOLDOWN_WINDOW_SECONDS must be positive"))
	}
	if m.SweepInterval <= 0 {
		errs = append(errs, errors.New("COOLDOWN_SWEEP_SECONDS must be positive"))
	}
	if m.Dim <= 0 {
		errs = append(errs, errors.New("EMBEDDING_DIM must be positive"))
	}
	if c.History.Limit <= 0 {
		errs = append(errs, errors.New("HISTORY_PAGE_SIZE must be positive"))
	}
	if c.Web.TokenTTL <= 0 {
		errs = append(errs, errors.New("API_TOKEN_TTL_HOURS must be positive"))
	}
	if c.Webhook.URL != "" && (c.Webhook.Timeout <= 0 || c.Webhook.RateLimit <= 0 || c.Webhook.Burst <= 0) {
		errs = append(errs, errors.New("ALERT_WEBHOOK_TIMEOUT_SECONDS, ALERT_WEBHOOK_RATE and ALERT_WEBHOOK_BURST must be positive when ALERT_WEBHOOK_URL is set"))
	}
	if m.Index != "flat" && m.Index != "hnsw" {
		errs = append(errs, fmt.Errorf("MATCH_INDEX must be flat or hnsw, got %q", m.Index))
	}
	if c.Web.JWTSecret != "" && len(c.Web.JWTSecret) < 32 {
		errs = append(errs, errors.New("API_JWT_SECRET must be at least 32 bytes"))
	}
	switch c.Identity.Source {
	case SourcePostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when IDENTITY_SOURCE=postgres"))
		}
	case SourceMariaDB:
		if c.MariaDB.DSN == "" {
			errs = append(errs, errors.New("MARIADB_DSN is required when IDENTITY_SOURCE=mariadb"))
		}
	case SourceFile:
		if c.Identity.File == "" {
			errs = append(errs, errors.New("IDENTITY_FILE is required when IDENTITY_SOURCE=file"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown IDENTITY_SOURCE %q", c.Identity.Source))
	}
	return errors.Join(errs...)
}

// RiskTagDisplay returns display metadata for a tag, falling back to the tag name.
func (c *Config) RiskTagDisplay(tag string) RiskTagDisplay {
	if d, ok := c.RiskTags.Tags[tag]; ok {
		return d
	}
	return RiskTagDisplay{Label: tag}
}
