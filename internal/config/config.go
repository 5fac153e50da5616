package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds service configuration derived from environment variables.
// Campaign-specific settings live in the campaign file instead (see LoadCampaign).
type Config struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ServiceName  string
	Environment  string

	// Campaign state store: "sqlite" or "postgres"
	DBDriver          string
	DBDSN             string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration

	// Optional collaborators; empty disables them
	RedisAddr     string
	SnapshotTTL   time.Duration
	ClickHouseDSN string
	// ClickHouse connection pooling configuration
	CHMaxOpenConns    int
	CHMaxIdleConns    int
	CHConnMaxLifetime time.Duration
	CHConnMaxIdleTime time.Duration

	// Ads platform API
	AdsAPIURL     string
	AdsAPIToken   string
	AdsAPIVersion string
	AdsAPITimeout time.Duration

	// Retarget groups smaller than this are not advertised to
	AdsMinAudience    int
	// Spacing between dark post and ad creation calls
	AdsCreateInterval time.Duration

	// Listens feed
	ListensFeedURL     string
	ListensFeedTimeout time.Duration

	// Lifecycle timing
	ModerationPoll    time.Duration
	ModerationTimeout time.Duration
	ModerationSpend   float64
	SchedulePoll      time.Duration
	RebalanceInterval time.Duration
	ReportCooldown    time.Duration
	StopTimeout       time.Duration
	LeaseMargin       time.Duration
	TestSpendLimit    int

	// Remote call pacing
	ControlInterval     time.Duration
	RetryAttempts       int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration

	// Tracing configuration
	TracingEnabled    bool
	TempoEndpoint     string
	TracingSampleRate float64
}

// Load parses environment variables and returns a Config populated with
// defaults when variables are absent.
func Load() Config {
	cfg := Config{}

	cfg.Port = getenv("PORT", "8787")
	cfg.ReadTimeout = envDuration("READ_TIMEOUT", 5*time.Second)
	cfg.WriteTimeout = envDuration("WRITE_TIMEOUT", 10*time.Second)
	cfg.ServiceName = getenv("SERVICE_NAME", "trackpromo")
	cfg.Environment = getenv("ENV", "production")

	cfg.DBDriver = getenv("DB_DRIVER", "sqlite")
	cfg.DBDSN = getenv("DB_DSN", "trackpromo.db")
	cfg.DBMaxOpenConns = envInt("DB_MAX_OPEN_CONNS", 10)
	cfg.DBMaxIdleConns = envInt("DB_MAX_IDLE_CONNS", 2)
	cfg.DBConnMaxLifetime = envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.DBConnMaxIdleTime = envDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute)

	cfg.RedisAddr = getenv("REDIS_ADDR", "")
	cfg.SnapshotTTL = envDuration("SNAPSHOT_TTL", 48*time.Hour)
	cfg.ClickHouseDSN = getenv("CLICKHOUSE_DSN", "")
	cfg.CHMaxOpenConns = envInt("CH_MAX_OPEN_CONNS", 10)
	cfg.CHMaxIdleConns = envInt("CH_MAX_IDLE_CONNS", 2)
	cfg.CHConnMaxLifetime = envDuration("CH_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.CHConnMaxIdleTime = envDuration("CH_CONN_MAX_IDLE_TIME", 1*time.Minute)

	cfg.AdsAPIURL = getenv("ADS_API_URL", "https://api.vk.com/method")
	cfg.AdsAPIToken = getenv("ADS_API_TOKEN", "")
	cfg.AdsAPIVersion = getenv("ADS_API_VERSION", "5.199")
	cfg.AdsAPITimeout = envDuration("ADS_API_TIMEOUT", 30*time.Second)
	cfg.AdsMinAudience = envInt("ADS_MIN_AUDIENCE", 200000)
	cfg.AdsCreateInterval = envDuration("ADS_CREATE_INTERVAL", 400*time.Millisecond)

	cfg.ListensFeedURL = getenv("LISTENS_FEED_URL", "http://localhost:8090/listens")
	cfg.ListensFeedTimeout = envDuration("LISTENS_FEED_TIMEOUT", 15*time.Second)

	cfg.ModerationPoll = envDuration("MODERATION_POLL", 20*time.Minute)
	cfg.ModerationTimeout = envDuration("MODERATION_TIMEOUT", 24*time.Hour)
	cfg.ModerationSpend = envFloat("MODERATION_SPEND", 100)
	cfg.SchedulePoll = envDuration("SCHEDULE_POLL", 5*time.Minute)
	// rebalance every 20 minutes by default
	cfg.RebalanceInterval = envDuration("REBALANCE_INTERVAL", 1200*time.Second)
	cfg.ReportCooldown = envDuration("REPORT_COOLDOWN", time.Hour)
	cfg.StopTimeout = envDuration("STOP_TIMEOUT", 2*time.Minute)
	cfg.LeaseMargin = envDuration("LEASE_MARGIN", 5*time.Minute)
	cfg.TestSpendLimit = envInt("TEST_SPEND_LIMIT", 100)

	// one control call per second per account
	cfg.ControlInterval = envDuration("CONTROL_INTERVAL", time.Second)
	cfg.RetryAttempts = envInt("RETRY_ATTEMPTS", 3)
	cfg.RetryInitialBackoff = envDuration("RETRY_INITIAL_BACKOFF", 2*time.Second)
	cfg.RetryMaxBackoff = envDuration("RETRY_MAX_BACKOFF", 30*time.Second)

	cfg.TracingEnabled = envBool("TRACING_ENABLED", false)
	cfg.TempoEndpoint = getenv("TEMPO_ENDPOINT", "tempo:4317")
	cfg.TracingSampleRate = envFloat("TRACING_SAMPLE_RATE", 1.0)

	return cfg
}

// Validate rejects settings the lifecycle cannot run with.
func (c Config) Validate() error {
	var v ValidationError
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		v.add("DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		v.add("DB_DSN is required")
	}
	for name, d := range map[string]time.Duration{
		"MODERATION_POLL":    c.ModerationPoll,
		"MODERATION_TIMEOUT": c.ModerationTimeout,
		"SCHEDULE_POLL":      c.SchedulePoll,
		"REBALANCE_INTERVAL": c.RebalanceInterval,
		"STOP_TIMEOUT":       c.StopTimeout,
	} {
		if d <= 0 {
			v.add("%s must be positive", name)
		}
	}
	if c.ReportCooldown < 0 {
		v.add("REPORT_COOLDOWN must not be negative")
	}
	if c.ModerationSpend <= 0 {
		v.add("MODERATION_SPEND must be positive")
	}
	if c.RetryAttempts < 1 {
		v.add("RETRY_ATTEMPTS must be at least 1")
	}
	if c.AdsMinAudience < 0 {
		v.add("ADS_MIN_AUDIENCE must not be negative")
	}
	if c.ControlInterval < 0 {
		v.add("CONTROL_INTERVAL must not be negative")
	}
	return v.err()
}

// ValidationError aggregates every problem found in a configuration.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid configuration: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid configuration: %d problems: %s", len(e.Problems), strings.Join(e.Problems, "; "))
}

// ErrorKind classifies the error for callers that map failures to outcomes.
func (e *ValidationError) ErrorKind() string { return "configuration" }

func (e *ValidationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

func (e *ValidationError) err() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}


// getenv returns the value of the environment variable if set, otherwise def.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envDuration parses an environment variable into a time.Duration.
// The value can be a duration string (e.g. "5s") or a number of seconds.
// If the variable is unset or invalid, def is returned.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// envBool parses a boolean environment variable. Accepted values are those
// supported by strconv.ParseBool. When unset or invalid, def is returned.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return def
}

// envInt parses an integer environment variable. When unset or invalid, def is returned.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return def
}

// envFloat parses a float64 environment variable. When unset or invalid, def is returned.
func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return def
}
