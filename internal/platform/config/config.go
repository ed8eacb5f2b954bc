package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	pkgstrings "relaygate/pkg/platform/strings"
)

// Config is the full process configuration. Defaults come from Default, a
// YAML file overlays them, and RELAYGATE_* environment variables win last.
type Config struct {
	Telegram   Telegram   `yaml:"telegram"`
	Access     Access     `yaml:"access"`
	Database   Database   `yaml:"database"`
	Classifier Classifier `yaml:"classifier"`
	Retention  Retention  `yaml:"retention"`
	HTTP       HTTP       `yaml:"http"`
	Redis      Redis      `yaml:"redis"`
	Audit      Audit      `yaml:"audit"`
	Log        Log        `yaml:"log"`
}

// Telegram captures the bot transport and the operator space.
type Telegram struct {
	Token       string        `yaml:"token"`
	APIURL      string        `yaml:"api_url"`
	SpaceID     int64         `yaml:"space_id"`
	AdminID     int64         `yaml:"admin_id"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
	// SendRate is the sustained outbound call rate (calls/second).
	SendRate  float64 `yaml:"send_rate"`
	SendBurst int     `yaml:"send_burst"`
}

// Access holds challenge and flood-control policy.
type Access struct {
	ChallengeTTL time.Duration `yaml:"challenge_ttl"`
	MaxAttempts  int           `yaml:"max_attempts"`
	FloodWindow  time.Duration `yaml:"flood_window"`
	FloodWarn    int           `yaml:"flood_warn"`
	FloodBan     int           `yaml:"flood_ban"`
}

// Database selects the storage driver. Driver is one of sqlite3, pgx, postgres.
type Database struct {
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
	Migrate bool   `yaml:"migrate"`
}

// Classifier configures the remote LLM classifier and the keyword fallback.
type Classifier struct {
	BaseURL             string        `yaml:"base_url"`
	Model               string        `yaml:"model"`
	Token               string        `yaml:"token"`
	JSONMode            bool          `yaml:"json_mode"`
	RPM                 int           `yaml:"rpm"`
	TimePeriod          time.Duration `yaml:"time_period"`
	Timeout             time.Duration `yaml:"timeout"`
	ProhibitedTermsFile string        `yaml:"prohibited_terms_file"`
	ProhibitedTerms     []string      `yaml:"prohibited_terms"`
}

// Enabled reports whether the remote classifier has everything it needs.
func (c Classifier) Enabled() bool {
	return c.BaseURL != "" && c.Model != "" && c.Token != ""
}

// Retention controls the daily maintenance sweep.
type Retention struct {
	RunAt      string        `yaml:"run_at"`
	MappingAge time.Duration `yaml:"mapping_age"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
}

// Clock parses RunAt ("HH:MM").
func (r Retention) Clock() (hour, minute int, err error) {
	t, err := time.Parse("15:04", r.RunAt)
	if err != nil {
		return 0, 0, fmt.Errorf("retention.run_at %q: %w", r.RunAt, err)
	}
	return t.Hour(), t.Minute(), nil
}

// HTTP captures the admin/ops server.
type HTTP struct {
	Addr          string `yaml:"addr"`
	JWTSigningKey string `yaml:"jwt_signing_key"`
}

// Redis is optional; when URL is empty the classifier window stays in memory.
type Redis struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Audit configures where audit events go. Without brokers they are only logged.
type Audit struct {
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
	SubjectKey   string   `yaml:"subject_key"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Telegram: Telegram{
			APIURL:      "https://api.telegram.org",
			PollTimeout: 30 * time.Second,
			SendRate:    25,
			SendBurst:   5,
		},
		Access: Access{
			ChallengeTTL: 30 * time.Second,
			MaxAttempts:  3,
			FloodWindow:  4 * time.Second,
			FloodWarn:    7,
			FloodBan:     10,
		},
		Database: Database{
			Driver:  "sqlite3",
			DSN:     "file:relaygate.db?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on",
			Migrate: true,
		},
		Classifier: Classifier{
			JSONMode:   true,
			RPM:        5,
			TimePeriod: 30 * time.Second,
			Timeout:    40 * time.Second,
		},
		Retention: Retention{
			RunAt:      "00:00",
			MappingAge: 48 * time.Hour,
			CacheTTL:   24 * time.Hour,
		},
		HTTP: HTTP{
			Addr: ":8080",
		},
		Redis: Redis{
			PoolSize:     10,
			MinIdleConns: 1,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Audit: Audit{
			KafkaTopic: "relaygate.audit",
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment. A .env file in the working directory is honored when present.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}

	cfg.Audit.KafkaBrokers = pkgstrings.DedupeAndTrim(cfg.Audit.KafkaBrokers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays RELAYGATE_* variables. getenv is injected for tests.
func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	var errs []error
	i64 := func(key string, dst *int64) {
		if v := getenv(key); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("RELAYGATE_TELEGRAM_TOKEN", &c.Telegram.Token)
	str("RELAYGATE_TELEGRAM_API_URL", &c.Telegram.APIURL)
	i64("RELAYGATE_TELEGRAM_SPACE_ID", &c.Telegram.SpaceID)
	i64("RELAYGATE_TELEGRAM_ADMIN_ID", &c.Telegram.AdminID)
	dur("RELAYGATE_ACCESS_CHALLENGE_TTL", &c.Access.ChallengeTTL)
	str("RELAYGATE_DATABASE_DRIVER", &c.Database.Driver)
	str("RELAYGATE_DATABASE_DSN", &c.Database.DSN)
	str("RELAYGATE_CLASSIFIER_BASE_URL", &c.Classifier.BaseURL)
	str("RELAYGATE_CLASSIFIER_MODEL", &c.Classifier.Model)
	str("RELAYGATE_CLASSIFIER_TOKEN", &c.Classifier.Token)
	str("RELAYGATE_CLASSIFIER_PROHIBITED_TERMS_FILE", &c.Classifier.ProhibitedTermsFile)
	str("RELAYGATE_RETENTION_RUN_AT", &c.Retention.RunAt)
	dur("RELAYGATE_RETENTION_MAPPING_AGE", &c.Retention.MappingAge)
	str("RELAYGATE_HTTP_ADDR", &c.HTTP.Addr)
	str("RELAYGATE_HTTP_JWT_SIGNING_KEY", &c.HTTP.JWTSigningKey)
	str("RELAYGATE_REDIS_URL", &c.Redis.URL)
	str("RELAYGATE_AUDIT_SUBJECT_KEY", &c.Audit.SubjectKey)
	str("RELAYGATE_LOG_LEVEL", &c.Log.Level)
	str("RELAYGATE_LOG_FORMAT", &c.Log.Format)
	if v := getenv("RELAYGATE_AUDIT_KAFKA_BROKERS"); v != "" {
		c.Audit.KafkaBrokers = strings.Split(v, ",")
	}

	return errors.Join(errs...)
}

// MaxPollTimeout is the longest getUpdates wait the Bot API honours.
const MaxPollTimeout = 50 * time.Second

var knownDrivers = map[string]struct{}{
	"sqlite3":  {},
	"pgx":      {},
	"postgres": {},
}

// Validate rejects configurations the process cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Telegram.Token == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if c.Telegram.SpaceID == 0 {
		errs = append(errs, errors.New("telegram.space_id is required"))
	}
	if _, ok := knownDrivers[c.Database.Driver]; !ok {
		errs = append(errs, fmt.Errorf("database.driver %q is not one of sqlite3, pgx, postgres", c.Database.Driver))
	}
	if c.Access.MaxAttempts <= 0 {
		errs = append(errs, errors.New("access.max_attempts must be positive"))
	}
	if c.Access.ChallengeTTL <= 0 {
		errs = append(errs, errors.New("access.challenge_ttl must be positive"))
	}
	if c.Access.FloodBan <= c.Access.FloodWarn {
		errs = append(errs, errors.New("access.flood_ban must be greater than access.flood_warn"))
	}
	if c.Classifier.RPM <= 0 || c.Classifier.TimePeriod <= 0 {
		errs = append(errs, errors.New("classifier.rpm and classifier.time_period must be positive"))
	}
	if c.Classifier.Timeout <= 0 {
		errs = append(errs, errors.New("classifier.timeout must be positive"))
	}
	if c.Retention.MappingAge <= 0 {
		errs = append(errs, errors.New("retention.mapping_age must be positive"))
	}
	if _, _, err := c.Retention.Clock(); err != nil {
		errs = append(errs, err)
	}
	if c.Telegram.PollTimeout < time.Second || c.Telegram.PollTimeout > MaxPollTimeout {
		errs = append(errs, fmt.Errorf("telegram.poll_timeout must be between 1s and %s", MaxPollTimeout))
	}
	if c.Telegram.SendRate <= 0 {
		errs = append(errs, errors.New("telegram.send_rate must be positive"))
	}
	return errors.Join(errs...)
}
