package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv(t *testing.T) {
	t.Run("development defaults", func(t *testing.T) {
		t.Setenv("ENVIRONMENT", "")
		t.Setenv("JWT_SIGNING_KEY", "")
		t.Setenv("CIVICPROOF_POLICY_FILE", "")
		t.Setenv("KAFKA_BROKERS", "a:9092, b:9092 ,")

		cfg, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, EnvDevelopment, cfg.Environment)
		assert.True(t, cfg.IsDevelopment())
		assert.Equal(t, ":8080", cfg.Addr)
		assert.NotEmpty(t, cfg.JWT.SigningKey)
		assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
		assert.Equal(t, 3, cfg.Policy.Clusters.MinFeedbackCount)
		assert.Equal(t, HistorySupersede, cfg.Policy.Reports.HistoryMode)
	})

	t.Run("production requires signing key", func(t *testing.T) {
		t.Setenv("ENVIRONMENT", "production")
		t.Setenv("JWT_SIGNING_KEY", "")
		t.Setenv("CIVICPROOF_POLICY_FILE", "")

		_, err := FromEnv()
		require.Error(t, err)
	})

	t.Run("policy file overlays defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policy.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
clusters:
  min_feedback_count: 5
anchoring:
  confirm_timeout: 30s
reports:
  history_mode: append
`), 0o600))
		t.Setenv("ENVIRONMENT", "staging")
		t.Setenv("JWT_SIGNING_KEY", "k")
		t.Setenv("CIVICPROOF_POLICY_FILE", path)

		cfg, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, 5, cfg.Policy.Clusters.MinFeedbackCount)
		assert.Equal(t, 30*time.Second, cfg.Policy.Anchoring.ConfirmTimeout)
		assert.Equal(t, HistoryAppend, cfg.Policy.Reports.HistoryMode)
		// untouched fields keep defaults
		assert.Equal(t, 3, cfg.Policy.Anchoring.MaxAttempts)
	})

	t.Run("missing policy file is an error", func(t *testing.T) {
		t.Setenv("ENVIRONMENT", "")
		t.Setenv("CIVICPROOF_POLICY_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

		_, err := FromEnv()
		require.Error(t, err)
	})
}

func TestPolicyValidate(t *testing.T) {
	cases := map[string]func(p *Policy){
		"zero threshold":           func(p *Policy) { p.Clusters.MinFeedbackCount = 0 },
		"zero attempts":            func(p *Policy) { p.Anchoring.MaxAttempts = 0 },
		"grace below timeout":      func(p *Policy) { p.Anchoring.PendingGrace = time.Second },
		"unknown history mode":     func(p *Policy) { p.Reports.HistoryMode = "rewrite" },
		"zero batch concurrency":   func(p *Policy) { p.Reports.BatchConcurrency = 0 },
		"zero llm rate":            func(p *Policy) { p.LLM.RequestsPerMinute = 0 },
		"zero watchdog interval":   func(p *Policy) { p.Anchoring.WatchdogInterval = 0 },
		"non positive confirm ttl": func(p *Policy) { p.Anchoring.ConfirmTimeout = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := DefaultPolicy()
			mutate(&p)
			assert.Error(t, p.Validate())
		})
	}

	t.Run("defaults are valid", func(t *testing.T) {
		p := DefaultPolicy()
		assert.NoError(t, p.Validate())
	})
}
