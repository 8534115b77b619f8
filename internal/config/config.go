// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads the account service configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// ACCOUNTS_* environment variables, then explicitly set command-line flags.
// Nested keys use "__" in environment names, e.g. ACCOUNTS_MAIL__SMTP__HOST.
package config

import (
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/accounts/internal/account"
	"github.com/holomush/accounts/internal/logging"
	"github.com/holomush/accounts/internal/mail"
	"github.com/holomush/accounts/internal/ratelimit"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "ACCOUNTS_"

const redacted = "[REDACTED]"

// Config is the complete service configuration.
type Config struct {
	Database DatabaseConfig `koanf:"database" yaml:"database"`
	HTTP     HTTPConfig     `koanf:"http" yaml:"http"`
	Session  SessionConfig  `koanf:"session" yaml:"session"`
	Tokens   TokenConfig    `koanf:"tokens" yaml:"tokens"`
	Policy   PolicyConfig   `koanf:"policy" yaml:"policy"`
	Mail     MailConfig     `koanf:"mail" yaml:"mail"`
	Redis    RedisConfig    `koanf:"redis" yaml:"redis"`
	Log      LogConfig      `koanf:"log" yaml:"log"`
	Metrics  MetricsConfig  `koanf:"metrics" yaml:"metrics"`
}

// DatabaseConfig locates the PostgreSQL database.
type DatabaseConfig struct {
	URL string `koanf:"url" yaml:"url"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr              string        `koanf:"addr" yaml:"addr"`
	RequestTimeout    time.Duration `koanf:"request_timeout" yaml:"request_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxBodyBytes      int64         `koanf:"max_body_bytes" yaml:"max_body_bytes"`
	// ExposeTokens returns plaintext tokens in API responses. Test environments only.
	ExposeTokens bool `koanf:"expose_tokens" yaml:"expose_tokens"`
}

// SessionConfig configures session credentials.
type SessionConfig struct {
	Secret string        `koanf:"secret" yaml:"secret"`
	Issuer string        `koanf:"issuer" yaml:"issuer"`
	TTL    time.Duration `koanf:"ttl" yaml:"ttl"`
	Leeway time.Duration `koanf:"leeway" yaml:"leeway"`
}

// TokenConfig sets single-use token lifetimes.
type TokenConfig struct {
	VerificationTTL time.Duration `koanf:"verification_ttl" yaml:"verification_ttl"`
	ResetTTL        time.Duration `koanf:"reset_ttl" yaml:"reset_ttl"`
	EmailChangeTTL  time.Duration `koanf:"email_change_ttl" yaml:"email_change_ttl"`
}

// PolicyConfig holds account policy switches.
type PolicyConfig struct {
	RejectResendWhenVerified bool `koanf:"reject_resend_when_verified" yaml:"reject_resend_when_verified"`
}

// MailConfig configures outgoing account email.
type MailConfig struct {
	// Disabled logs messages instead of sending them.
	Disabled   bool             `koanf:"disabled" yaml:"disabled"`
	AppName    string           `koanf:"app_name" yaml:"app_name"`
	SMTP       SMTPConfig       `koanf:"smtp" yaml:"smtp"`
	Dispatcher DispatcherConfig `koanf:"dispatcher" yaml:"dispatcher"`
}

// SMTPConfig locates the SMTP relay.
type SMTPConfig struct {
	Host       string        `koanf:"host" yaml:"host"`
	Port       int           `koanf:"port" yaml:"port"`
	Username   string        `koanf:"username" yaml:"username"`
	Password   string        `koanf:"password" yaml:"password"`
	From       string        `koanf:"from" yaml:"from"`
	RequireTLS bool          `koanf:"require_tls" yaml:"require_tls"`
	Timeout    time.Duration `koanf:"timeout" yaml:"timeout"`
}

// DispatcherConfig tunes asynchronous delivery.
type DispatcherConfig struct {
	QueueSize   int           `koanf:"queue_size" yaml:"queue_size"`
	Workers     int           `koanf:"workers" yaml:"workers"`
	MaxRetries  uint64        `koanf:"max_retries" yaml:"max_retries"`
	RetryDelay  time.Duration `koanf:"retry_delay" yaml:"retry_delay"`
	SendTimeout time.Duration `koanf:"send_timeout" yaml:"send_timeout"`
}

// RedisConfig configures issuance throttling. An empty Addr disables it.
type RedisConfig struct {
	Addr     string        `koanf:"addr" yaml:"addr"`
	Password string        `koanf:"password" yaml:"password"`
	DB       int           `koanf:"db" yaml:"db"`
	Limit    int           `koanf:"limit" yaml:"limit"`
	Window   time.Duration `koanf:"window" yaml:"window"`
	Prefix   string        `koanf:"prefix" yaml:"prefix"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Format string `koanf:"format" yaml:"format"`
	Level  string `koanf:"level" yaml:"level"`
}

// MetricsConfig configures the observability server. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	svc := account.DefaultServiceConfig()
	dispatch := mail.DefaultDispatcherConfig()
	return &Config{
		HTTP: HTTPConfig{
			Addr:              ":8080",
			RequestTimeout:    30 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			MaxBodyBytes:      16 << 10,
		},
		Session: SessionConfig{
			Issuer: "accounts",
			TTL:    account.DefaultSessionTTL,
		},
		Tokens: TokenConfig{
			VerificationTTL: svc.VerificationTTL,
			ResetTTL:        svc.ResetTTL,
			EmailChangeTTL:  svc.EmailChangeTTL,
		},
		Policy: PolicyConfig{RejectResendWhenVerified: svc.RejectResendWhenVerified},
		Mail: MailConfig{
			AppName: "Accounts",
			SMTP: SMTPConfig{
				Port:    587,
				Timeout: 30 * time.Second,
			},
			Dispatcher: DispatcherConfig{
				QueueSize:   dispatch.QueueSize,
				Workers:     dispatch.Workers,
				MaxRetries:  dispatch.MaxRetries,
				RetryDelay:  dispatch.RetryDelay,
				SendTimeout: dispatch.SendTimeout,
			},
		},
		Redis: RedisConfig{
			Limit:  ratelimit.DefaultLimit,
			Window: ratelimit.DefaultWindow,
			Prefix: ratelimit.DefaultPrefix,
		},
		Log: LogConfig{
			Format: "json",
			Level:  "info",
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
	}
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"database-url":  "database.url",
	"http-addr":     "http.addr",
	"metrics-addr":  "metrics.addr",
	"log-format":    "log.format",
	"log-level":     "log.level",
	"redis-addr":    "redis.addr",
	"mail-disabled": "mail.disabled",
	"expose-tokens": "http.expose_tokens",
}

// Load builds the configuration from defaults, the YAML file at path (if
// non-empty), the environment and the changed flags in flags (may be nil).
// DATABASE_URL is honored when no database URL is configured otherwise.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").
				With("path", path).
				With("source", "file").
				Wrap(err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DATABASE_URL")
	}
	return cfg, nil
}

// envKey turns ACCOUNTS_MAIL__SMTP__HOST into mail.smtp.host.
func envKey(name string) string {
	name = strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	return strings.ReplaceAll(name, "__", ".")
}

func invalid(field, format string, args ...any) error {
	return oops.Code("CONFIG_INVALID").With("field", field).Errorf(format, args...)
}

// Validate checks the settings needed to serve the API.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return invalid("database.url", "database url is required (set %sDATABASE__URL or DATABASE_URL)", EnvPrefix)
	}
	if c.HTTP.Addr == "" {
		return invalid("http.addr", "http listen address is required")
	}
	if c.HTTP.RequestTimeout <= 0 || c.HTTP.ReadHeaderTimeout <= 0 || c.HTTP.ShutdownTimeout <= 0 {
		return invalid("http", "http timeouts must be positive")
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		return invalid("http.max_body_bytes", "max body size must be positive")
	}
	if len(c.Session.Secret) < account.MinSessionSecret {
		return invalid("session.secret", "session secret must be at least %d bytes", account.MinSessionSecret)
	}
	if c.Session.TTL <= 0 {
		return invalid("session.ttl", "session ttl must be positive")
	}
	if c.Tokens.VerificationTTL <= 0 || c.Tokens.ResetTTL <= 0 || c.Tokens.EmailChangeTTL <= 0 {
		return invalid("tokens", "token lifetimes must be positive")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "log format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", "unknown log level %q", c.Log.Level)
	}
	if !c.Mail.Disabled {
		if c.Mail.SMTP.Host == "" || c.Mail.SMTP.From == "" {
			return invalid("mail.smtp", "smtp host and from address are required unless mail is disabled")
		}
		if c.Mail.SMTP.Port <= 0 || c.Mail.SMTP.Port > 65535 {
			return invalid("mail.smtp.port", "smtp port %d out of range", c.Mail.SMTP.Port)
		}
	}
	if c.Mail.Dispatcher.Workers <= 0 || c.Mail.Dispatcher.QueueSize <= 0 {
		return invalid("mail.dispatcher", "dispatcher workers and queue size must be positive")
	}
	if c.Redis.Addr != "" && (c.Redis.Limit <= 0 || c.Redis.Window <= 0) {
		return invalid("redis", "rate limit and window must be positive")
	}
	return nil
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	out.Database.URL = redactURL(c.Database.URL)
	out.Session.Secret = mask(c.Session.Secret)
	out.Mail.SMTP.Password = mask(c.Mail.SMTP.Password)
	out.Redis.Password = mask(c.Redis.Password)
	return &out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return redacted
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return mask(raw)
	}
	return u.Redacted()
}

// ServiceConfig returns the account.Service settings.
func (c *Config) ServiceConfig() account.ServiceConfig {
	return account.ServiceConfig{
		VerificationTTL:          c.Tokens.VerificationTTL,
		ResetTTL:                 c.Tokens.ResetTTL,
		EmailChangeTTL:           c.Tokens.EmailChangeTTL,
		RejectResendWhenVerified: c.Policy.RejectResendWhenVerified,
	}
}

// SessionConfig returns the session issuer settings.
func (c *Config) SessionConfig() account.SessionConfig {
	return account.SessionConfig{
		Secret: []byte(c.Session.Secret),
		Issuer: c.Session.Issuer,
		TTL:    c.Session.TTL,
		Leeway: c.Session.Leeway,
	}
}

// SMTPConfig returns the SMTP transport settings.
func (c *Config) SMTPConfig() mail.SMTPConfig {
	s := c.Mail.SMTP
	return mail.SMTPConfig{
		Host:       s.Host,
		Port:       s.Port,
		Username:   s.Username,
		Password:   s.Password,
		From:       s.From,
		RequireTLS: s.RequireTLS,
		Timeout:    s.Timeout,
	}
}

// DispatcherConfig returns the mail dispatcher settings.
func (c *Config) DispatcherConfig() mail.DispatcherConfig {
	d := c.Mail.Dispatcher
	return mail.DispatcherConfig{
		QueueSize:   d.QueueSize,
		Workers:     d.Workers,
		MaxRetries:  d.MaxRetries,
		RetryDelay:  d.RetryDelay,
		SendTimeout: d.SendTimeout,
	}
}

// LimiterConfig returns the rate limiter settings.
func (c *Config) LimiterConfig() ratelimit.Config {
	return ratelimit.Config{
		Limit:  c.Redis.Limit,
		Window: c.Redis.Window,
		Prefix: c.Redis.Prefix,
	}
}

// LoggingOptions returns logging settings for the given build version.
func (c *Config) LoggingOptions(version string) logging.Options {
	return logging.Options{
		Service: "accounts",
		Version: version,
		Format:  c.Log.Format,
		Level:   c.Log.Level,
	}
}
