package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Telegram.Token = "123:abc"
	cfg.Telegram.SpaceID = -1001234567890
	return cfg
}

func TestDefaultsMatchDocumentedPolicy(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 30*time.Second, cfg.Access.ChallengeTTL)
	assert.Equal(t, 3, cfg.Access.MaxAttempts)
	assert.Equal(t, 5, cfg.Classifier.RPM)
	assert.Equal(t, 30*time.Second, cfg.Classifier.TimePeriod)
	assert.Equal(t, 48*time.Hour, cfg.Retention.MappingAge)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.False(t, cfg.Classifier.Enabled())
}

func TestValidate(t *testing.T) {
	t.Run("accepts a minimal config", func(t *testing.T) {
		require.NoError(t, validConfig().Validate())
	})

	t.Run("requires token and space", func(t *testing.T) {
		err := Default().Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "telegram.token")
		assert.Contains(t, err.Error(), "telegram.space_id")
	})

	t.Run("rejects unknown driver", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Driver = "mysql"
		require.ErrorContains(t, cfg.Validate(), "database.driver")
	})

	t.Run("rejects flood thresholds out of order", func(t *testing.T) {
		cfg := validConfig()
		cfg.Access.FloodBan = cfg.Access.FloodWarn
		require.ErrorContains(t, cfg.Validate(), "flood_ban")
	})

	t.Run("rejects poll timeouts outside the long-poll range", func(t *testing.T) {
		for _, d := range []time.Duration{0, 500 * time.Millisecond, 60 * time.Second} {
			cfg := validConfig()
			cfg.Telegram.PollTimeout = d
			require.ErrorContains(t, cfg.Validate(), "telegram.poll_timeout", d.String())
		}
	})

	t.Run("rejects malformed run_at", func(t *testing.T) {
		cfg := validConfig()
		cfg.Retention.RunAt = "midnight"
		require.ErrorContains(t, cfg.Validate(), "run_at")
	})
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"RELAYGATE_TELEGRAM_TOKEN":        "t",
		"RELAYGATE_TELEGRAM_SPACE_ID":     "-100",
		"RELAYGATE_RETENTION_MAPPING_AGE": "72h",
		"RELAYGATE_AUDIT_KAFKA_BROKERS":   "a:9092,b:9092",
	}
	cfg := Default()
	require.NoError(t, cfg.applyEnv(func(k string) string { return env[k] }))

	assert.Equal(t, "t", cfg.Telegram.Token)
	assert.Equal(t, int64(-100), cfg.Telegram.SpaceID)
	assert.Equal(t, 72*time.Hour, cfg.Retention.MappingAge)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Audit.KafkaBrokers)

	err := cfg.applyEnv(func(k string) string {
		if k == "RELAYGATE_TELEGRAM_SPACE_ID" {
			return "not-a-number"
		}
		return ""
	})
	require.ErrorContains(t, err, "RELAYGATE_TELEGRAM_SPACE_ID")
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relaygate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
telegram:
  token: "123:abc"
  space_id: -1001
access:
  challenge_ttl: 45s
classifier:
  base_url: https://llm.example
  model: small
  token: sk-test
  prohibited_terms: [followers, casino]
audit:
  kafka_brokers: [" k1:9092 ", "k1:9092"]
retention:
  run_at: "03:30"
`), 0o600))
	t.Chdir(dir)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Access.ChallengeTTL)
	assert.True(t, cfg.Classifier.Enabled())
	assert.Equal(t, []string{"followers", "casino"}, cfg.Classifier.ProhibitedTerms)
	assert.Equal(t, []string{"k1:9092"}, cfg.Audit.KafkaBrokers)
	h, m, err := cfg.Retention.Clock()
	require.NoError(t, err)
	assert.Equal(t, 3, h)
	assert.Equal(t, 30, m)
	// untouched sections keep defaults
	assert.Equal(t, 3, cfg.Access.MaxAttempts)
}
