package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultHTTPAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultPGHost, cfg.Postgres.Host)
	assert.Equal(t, DefaultMaxMediaBytes, cfg.Transport.MaxMediaBytes)
	assert.Equal(t, DefaultAutoExecuteThreshold, cfg.Classify.AutoExecuteThreshold)
	assert.Equal(t, DefaultConfirmThreshold, cfg.Classify.ConfirmThreshold)
	assert.Equal(t, DefaultHistoryLimit, cfg.Pipeline.HistoryLimit)
	assert.Equal(t, DefaultTemplatesPath, cfg.Templates.Path)
	assert.Equal(t, DefaultReminderCron, cfg.Notify.ReminderCron)
	assert.Equal(t, DefaultHotline, cfg.Care.Hotline)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
addr = ":9090"

[webhook]
verify_token = "vt"
app_secret = "secret"

[transport]
base_url = "https://channel.example"
access_token = "tok"

[classify]
auto_execute_threshold = 0.8

[pipeline]
turn_budget_seconds = 20
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "vt", cfg.Webhook.VerifyToken)
	assert.Equal(t, 0.8, cfg.Classify.AutoExecuteThreshold)
	assert.Equal(t, 20*time.Second, cfg.Pipeline.TurnBudget())
	// Untouched sections keep their defaults.
	assert.Equal(t, DefaultConfirmThreshold, cfg.Classify.ConfirmThreshold)
	assert.Equal(t, DefaultHandlerTimeoutSeconds, int(cfg.Pipeline.HandlerTimeout().Seconds()))
}

func TestValidate_RequiresWebhookSecrets(t *testing.T) {
	t.Parallel()
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)

	assert.Error(t, cfg.Validate())

	cfg.Webhook = WebhookConfig{VerifyToken: "vt", AppSecret: "secret"}
	cfg.Transport.BaseURL = "https://channel.example"
	assert.NoError(t, cfg.Validate())
}

func TestPostgresDSN(t *testing.T) {
	t.Parallel()
	dsn := PostgresConfig{
		Host: "db", Port: 5433, User: "care", Password: "pw",
		Database: "careline", SSLMode: "disable",
	}.DSN()
	assert.Equal(t, "postgres://care:pw@db:5433/careline?sslmode=disable", dsn)
}

func TestTimeoutFallbacks(t *testing.T) {
	t.Parallel()
	assert.Equal(t, time.Duration(DefaultClassifyTimeoutSeconds)*time.Second, ClassifyConfig{}.Timeout())
	assert.Equal(t, 3*time.Second, TranscribeConfig{TimeoutSeconds: 3}.Timeout())
	assert.Equal(t, time.Duration(DefaultLookaheadHours)*time.Hour, NotifyConfig{}.Lookahead())
}
