// Package config loads the careline service configuration from TOML.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath    = "config.toml"
	DefaultHTTPAddr      = ":8080"
	DefaultPGHost        = "127.0.0.1"
	DefaultPGPort        = 5432
	DefaultPGUser        = "postgres"
	DefaultPGDatabase    = "careline"
	DefaultPGSSLMode     = "disable"
	DefaultTemplatesPath = "templates.yaml"

	// DefaultMaxMediaBytes bounds inbound media downloads (16 MiB).
	DefaultMaxMediaBytes int64 = 16 << 20

	DefaultMediaTimeoutSeconds      = 10
	DefaultTranscribeTimeoutSeconds = 15
	DefaultClassifyTimeoutSeconds   = 8
	DefaultHandlerTimeoutSeconds    = 10
	DefaultTurnBudgetSeconds        = 45
	DefaultHistoryLimit             = 10

	// DefaultAutoExecuteThreshold gates handler invocation without clarification.
	DefaultAutoExecuteThreshold = 0.75
	// DefaultConfirmThreshold gates irreversible intents; results below it
	// require an explicit confirmation turn.
	DefaultConfirmThreshold = 0.85

	// DefaultReminderCron runs appointment reminders every morning at 08:00.
	DefaultReminderCron   = "0 8 * * *"
	DefaultLookaheadHours = 24
	DefaultHotline        = "116-123"
)

type Config struct {
	Log        LogConfig        `toml:"log"`
	Server     ServerConfig     `toml:"server"`
	Webhook    WebhookConfig    `toml:"webhook"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Transport  TransportConfig  `toml:"transport"`
	Transcribe TranscribeConfig `toml:"transcribe"`
	Classify   ClassifyConfig   `toml:"classify"`
	Pipeline   PipelineConfig   `toml:"pipeline"`
	Templates  TemplatesConfig  `toml:"templates"`
	Care       CareConfig       `toml:"care"`
	Notify     NotifyConfig     `toml:"notify"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

// WebhookConfig carries the shared secrets for transport callbacks.
// AppSecret signs the raw POST body (HMAC-SHA256); VerifyToken answers the
// GET subscription challenge.
type WebhookConfig struct {
	VerifyToken string `toml:"verify_token" validate:"required"`
	AppSecret   string `toml:"app_secret" validate:"required"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// DSN renders the pgx connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

type TransportConfig struct {
	BaseURL        string `toml:"base_url" validate:"required,url"`
	AccessToken    string `toml:"access_token"`
	SenderID       string `toml:"sender_id"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxMediaBytes  int64  `toml:"max_media_bytes"`
}

func (c TransportConfig) Timeout() time.Duration {
	return secondsOr(c.TimeoutSeconds, DefaultMediaTimeoutSeconds)
}

type TranscribeConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

func (c TranscribeConfig) Timeout() time.Duration {
	return secondsOr(c.TimeoutSeconds, DefaultTranscribeTimeoutSeconds)
}

type ClassifyConfig struct {
	BaseURL              string  `toml:"base_url"`
	APIKey               string  `toml:"api_key"`
	TimeoutSeconds       int     `toml:"timeout_seconds"`
	AutoExecuteThreshold float64 `toml:"auto_execute_threshold" validate:"gte=0,lte=1"`
	ConfirmThreshold     float64 `toml:"confirm_threshold" validate:"gte=0,lte=1"`
}

func (c ClassifyConfig) Timeout() time.Duration {
	return secondsOr(c.TimeoutSeconds, DefaultClassifyTimeoutSeconds)
}

type PipelineConfig struct {
	TurnBudgetSeconds     int `toml:"turn_budget_seconds"`
	HandlerTimeoutSeconds int `toml:"handler_timeout_seconds"`
	HistoryLimit          int `toml:"history_limit"`
}

func (c PipelineConfig) TurnBudget() time.Duration {
	return secondsOr(c.TurnBudgetSeconds, DefaultTurnBudgetSeconds)
}

func (c PipelineConfig) HandlerTimeout() time.Duration {
	return secondsOr(c.HandlerTimeoutSeconds, DefaultHandlerTimeoutSeconds)
}

type TemplatesConfig struct {
	Path string `toml:"path"`
}

// CareConfig points at the domain-services backend (scheduling, reports,
// authority requests, profiles) and carries the crisis hotline number
// rendered into urgent replies.
type CareConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Hotline        string `toml:"hotline"`
}

func (c CareConfig) Timeout() time.Duration {
	return secondsOr(c.TimeoutSeconds, DefaultHandlerTimeoutSeconds)
}

type NotifyConfig struct {
	Enabled        bool   `toml:"enabled"`
	ReminderCron   string `toml:"reminder_cron"`
	LookaheadHours int    `toml:"lookahead_hours"`
}

func (c NotifyConfig) Lookahead() time.Duration {
	if c.LookaheadHours <= 0 {
		return time.Duration(DefaultLookaheadHours) * time.Hour
	}
	return time.Duration(c.LookaheadHours) * time.Hour
}

// Load reads the config at path, falling back to defaults when the file is
// absent. Secrets present in the environment are not consulted; everything is
// file-driven like the rest of the deployment.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Transport: TransportConfig{
			MaxMediaBytes: DefaultMaxMediaBytes,
		},
		Classify: ClassifyConfig{
			AutoExecuteThreshold: DefaultAutoExecuteThreshold,
			ConfirmThreshold:     DefaultConfirmThreshold,
		},
		Pipeline: PipelineConfig{
			HistoryLimit: DefaultHistoryLimit,
		},
		Templates: TemplatesConfig{
			Path: DefaultTemplatesPath,
		},
		Care: CareConfig{
			Hotline: DefaultHotline,
		},
		Notify: NotifyConfig{
			ReminderCron:   DefaultReminderCron,
			LookaheadHours: DefaultLookaheadHours,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}
	if cfg.Transport.MaxMediaBytes <= 0 {
		cfg.Transport.MaxMediaBytes = DefaultMaxMediaBytes
	}

	return cfg, nil
}

// Validate checks the fields required to accept webhook traffic.
func (c Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c.Webhook); err != nil {
		return fmt.Errorf("webhook config: %w", err)
	}
	if err := v.Struct(c.Transport); err != nil {
		return fmt.Errorf("transport config: %w", err)
	}
	if err := v.Struct(c.Classify); err != nil {
		return fmt.Errorf("classify config: %w", err)
	}
	return nil
}

func secondsOr(value, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
}
