// Package config loads the vault's settings from environment variables.
//
// Load fails on values that do not parse and reports every failed check in
// one joined error.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// VaultConfig defines the secret exchange settings.
type VaultConfig struct {
	InputBaseURL          string        // INPUT_BASE_URL, prefix of input capability URLs
	UnlockBaseURL         string        // UNLOCK_BASE_URL, prefix of unlock capability URLs
	ExpireAnsweredAfter   time.Duration // EXPIRE_ANSWERED_AFTER
	ExpireUnansweredAfter time.Duration // EXPIRE_UNANSWERED_AFTER
	MaintenanceSchedule   string        // MAINTENANCE_SCHEDULE cron spec; empty disables
	DeliveryPolicy        string        // DELIVERY_POLICY: strict|after_commit
	RepeatSecretInput     bool          // DEBUG_REPEAT_SECRET_INPUT
	DebugAPI              bool          // DEBUG_API
	MaxSecretBytes        int           // MAX_SECRET_BYTES
}

// WebhookConfig defines the outbound ping client.
type WebhookConfig struct {
	Timeout        time.Duration // WEBHOOK_TIMEOUT
	ConnectTimeout time.Duration // WEBHOOK_CONNECT_TIMEOUT
}

// MailConfig defines the invitation mailer. An empty SMTPAddr selects the
// log mailer.
type MailConfig struct {
	FromAddress  string // MAIL_FROM_ADDRESS
	FromName     string // MAIL_FROM_NAME
	SMTPAddr     string // SMTP_ADDR host:port
	SMTPUsername string // SMTP_USERNAME
	SMTPPassword string // SMTP_PASSWORD
	Debug        bool   // DEBUG_MAILER forces the log mailer
}

// UseSMTP reports whether mail should be relayed over SMTP.
func (m MailConfig) UseSMTP() bool { return !m.Debug && m.SMTPAddr != "" }

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-secret-vault")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage
	DBPath       string // SQLite path
	MaxBodyBytes int64  // request body cap
	AuditLevel   string // minimum level persisted to audit_log

	// Vault
	Vault   VaultConfig
	Webhook WebhookConfig
	Mail    MailConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the environment, applies defaults, normalizes and validates.
func Load() (Config, error) {
	var env envReader
	cfg := Config{
		// Server
		Port:              env.str("PORT", "8080"),
		ReadTimeout:       env.dur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: env.dur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      env.dur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       env.dur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    env.int("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(env.str("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       normalizeLevel(env.str("LOG_LEVEL", "info")),
		LogPretty:      env.bool("LOG_PRETTY", false),
		SwaggerEnabled: env.bool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(env.str("API_BASE_PATH", "/api/v1")),

		// Storage
		DBPath:       env.str("DB_PATH", "vault.db"),
		MaxBodyBytes: int64(env.int("MAX_BODY_BYTES", 128<<10)),
		AuditLevel:   normalizeLevel(env.str("AUDIT_LEVEL", "info")),

		Vault: VaultConfig{
			InputBaseURL:          strings.TrimRight(env.str("INPUT_BASE_URL", "http://localhost:8080"), "/"),
			UnlockBaseURL:         strings.TrimRight(env.str("UNLOCK_BASE_URL", "http://localhost:8080"), "/"),
			ExpireAnsweredAfter:   env.dur("EXPIRE_ANSWERED_AFTER", time.Hour),
			ExpireUnansweredAfter: env.dur("EXPIRE_UNANSWERED_AFTER", 24*time.Hour),
			MaintenanceSchedule:   strings.TrimSpace(env.strAllowEmpty("MAINTENANCE_SCHEDULE", "@every 5m")),
			DeliveryPolicy:        strings.ToLower(env.str("DELIVERY_POLICY", "strict")),
			RepeatSecretInput:     env.bool("DEBUG_REPEAT_SECRET_INPUT", false),
			DebugAPI:              env.bool("DEBUG_API", false),
			MaxSecretBytes:        env.int("MAX_SECRET_BYTES", 64<<10),
		},
		Webhook: WebhookConfig{
			Timeout:        env.dur("WEBHOOK_TIMEOUT", 20*time.Second),
			ConnectTimeout: env.dur("WEBHOOK_CONNECT_TIMEOUT", 20*time.Second),
		},
		Mail: MailConfig{
			FromAddress:  env.str("MAIL_FROM_ADDRESS", "vault@localhost"),
			FromName:     env.str("MAIL_FROM_NAME", "Vault"),
			SMTPAddr:     env.str("SMTP_ADDR", ""),
			SMTPUsername: env.str("SMTP_USERNAME", ""),
			SMTPPassword: env.str("SMTP_PASSWORD", ""),
			Debug:        env.bool("DEBUG_MAILER", false),
		},

		// Rate limiting
		RateRPS:   env.float("RATE_RPS", 5.0),
		RateBurst: env.int("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(env.str("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: env.bool("ENABLE_HSTS", false),
			HSTSMaxAge: env.dur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL: env.dur("IDEMPOTENCY_TTL", 24*time.Hour),

		OTEL: OTELConfig{
			Enabled:     env.bool("OTEL_ENABLED", false),
			Endpoint:    env.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    env.bool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: env.str("OTEL_SERVICE_NAME", "go-secret-vault"),
			SampleRatio: env.float("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	return cfg, errors.Join(append(env.errs, cfg.validate()...)...)
}

// validate returns one error per failed check.
func (cfg Config) validate() []error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		errs = append(errs, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic"))
	}
	check(strings.TrimSpace(cfg.Port) != "", "PORT must not be empty")
	check(cfg.ReadTimeout > 0 && cfg.ReadHeaderTimeout > 0 && cfg.WriteTimeout > 0 && cfg.IdleTimeout > 0,
		"timeouts must be positive durations")
	check(cfg.MaxHeaderBytes > 0, "MAX_HEADER_BYTES must be > 0")

	check(strings.TrimSpace(cfg.DBPath) != "", "DB_PATH must not be empty")
	check(cfg.MaxBodyBytes > 0, "MAX_BODY_BYTES must be > 0")
	switch cfg.AuditLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, errors.New("AUDIT_LEVEL must be one of: debug, info, warn, error"))
	}

	v := cfg.Vault
	check(isAbsHTTPURL(v.InputBaseURL), "INPUT_BASE_URL must be an absolute http(s) URL")
	check(isAbsHTTPURL(v.UnlockBaseURL), "UNLOCK_BASE_URL must be an absolute http(s) URL")
	check(v.ExpireAnsweredAfter > 0 && v.ExpireUnansweredAfter > 0,
		"EXPIRE_ANSWERED_AFTER and EXPIRE_UNANSWERED_AFTER must be positive durations")
	if v.MaintenanceSchedule != "" {
		if _, err := cron.ParseStandard(v.MaintenanceSchedule); err != nil {
			errs = append(errs, fmt.Errorf("MAINTENANCE_SCHEDULE: %w", err))
		}
	}
	check(v.DeliveryPolicy == "strict" || v.DeliveryPolicy == "after_commit",
		"DELIVERY_POLICY must be one of: strict, after_commit")
	check(v.MaxSecretBytes > 0, "MAX_SECRET_BYTES must be > 0")
	check(cfg.Webhook.Timeout > 0 && cfg.Webhook.ConnectTimeout > 0,
		"WEBHOOK_TIMEOUT and WEBHOOK_CONNECT_TIMEOUT must be positive durations")

	if _, err := mail.ParseAddress(cfg.Mail.FromAddress); err != nil {
		errs = append(errs, fmt.Errorf("MAIL_FROM_ADDRESS must be an e-mail address: %w", err))
	}
	if cfg.Mail.SMTPAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.Mail.SMTPAddr); err != nil {
			errs = append(errs, fmt.Errorf("SMTP_ADDR must be host:port: %w", err))
		}
	}

	check(cfg.RateRPS >= 0, "RATE_RPS must be >= 0")
	check(cfg.RateBurst >= 1, "RATE_BURST must be >= 1")
	check(cfg.Security.HSTSMaxAge >= 0, "HSTS_MAX_AGE must be >= 0")
	check(cfg.IdempotencyTTL > 0, "IDEMPOTENCY_TTL must be > 0")
	check(cfg.OTEL.SampleRatio >= 0 && cfg.OTEL.SampleRatio <= 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	return errs
}

// envReader reads typed variables and remembers the ones that did not
// parse. Unset and empty variables take the default.
type envReader struct {
	errs []error
}

func (r *envReader) lookup(k string) (string, bool) {
	v, ok := os.LookupEnv(k)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

func (r *envReader) fail(k, v, want string) {
	r.errs = append(r.errs, fmt.Errorf("%s=%q is not a valid %s", k, v, want))
}

func (r *envReader) str(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

// strAllowEmpty returns def only when k is unset, so an explicitly empty
// value can disable a feature.
func (r *envReader) strAllowEmpty(k, def string) string {
	if v, ok := os.LookupEnv(k); ok {
		return v
	}
	return def
}

func (r *envReader) int(k string, def int) int {
	v, ok := r.lookup(k)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		r.fail(k, v, "integer")
		return def
	}
	return i
}

func (r *envReader) float(k string, def float64) float64 {
	v, ok := r.lookup(k)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		r.fail(k, v, "number")
		return def
	}
	return f
}

func (r *envReader) dur(k string, def time.Duration) time.Duration {
	v, ok := r.lookup(k)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		r.fail(k, v, "duration")
		return def
	}
	return d
}

func (r *envReader) bool(k string, def bool) bool {
	v, ok := r.lookup(k)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	r.fail(k, v, "boolean")
	return def
}

func normalizeLevel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		return "warn"
	}
	return s
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func isAbsHTTPURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// normalizeBasePath ensures a leading '/' and strips trailing ones (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			return "/"
		}
	}
	return p
}
