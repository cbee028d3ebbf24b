// Package webhook delivers signed pings to an app's ping URL.
//
// A ping is a form POST with three fields:
//
//	s  subject, e.g. "submission"
//	p  JSON payload
//	m  base64(HMAC-SHA1(app vault secret, s + " " + p))
//
// Only HTTP 200 counts as delivered. There are no retries: the caller decides
// what an undelivered ping means for the surrounding operation.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-secret-vault/internal/domain"
)

// ErrDelivery wraps every failed ping: transport errors, timeouts and
// non-200 responses alike.
var ErrDelivery = errors.New("webhook: delivery failed")

// Config tunes the outbound HTTP client.
type Config struct {
	Timeout        time.Duration
	ConnectTimeout time.Duration
	UserAgent      string
}

// DefaultConfig mirrors the historical curl settings.
func DefaultConfig() Config {
	return Config{
		Timeout:        20 * time.Second,
		ConnectTimeout: 20 * time.Second,
		UserAgent:      "Vault",
	}
}

// Result describes one ping attempt.
type Result struct {
	URL        string
	StatusCode int
	Duration   time.Duration
	Skipped    bool
}

// Notifier posts signed pings.
type Notifier struct {
	client *resty.Client
	log    zerolog.Logger
}

// New builds a Notifier with its own resty client.
func New(cfg Config, log zerolog.Logger) *Notifier {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", cfg.UserAgent).
		SetLogger(restyLogger{log}).
		SetTransport(&http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
			TLSHandshakeTimeout: cfg.ConnectTimeout,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
		})

	return &Notifier{client: client, log: log.With().Str("component", "webhook").Logger()}
}

// Client exposes the underlying resty client.
func (n *Notifier) Client() *resty.Client { return n.client }

// Notify signs payload with the app's vault secret and POSTs it to the app's
// ping URL. Apps without a ping URL are skipped.
func (n *Notifier) Notify(ctx context.Context, app *domain.App, subject string, payload any) (*Result, error) {
	if !app.HasPingURL() {
		deliveries.WithLabelValues(subject, outcomeSkipped).Inc()
		return &Result{Skipped: true}, nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("webhook: encode payload: %w", err)
	}
	p := string(body)
	res := &Result{URL: *app.PingURL}

	n.log.Debug().Uint("app_id", app.ID).Str("subject", subject).Str("url", res.URL).Msg("pinging app")

	start := time.Now()
	resp, err := n.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"s": subject,
			"p": p,
			"m": EncodeMAC(Sign(app.VaultSecret, subject, p)),
		}).
		Post(res.URL)
	res.Duration = time.Since(start)
	deliveryLat.WithLabelValues(subject).Observe(res.Duration.Seconds())

	if err != nil {
		deliveries.WithLabelValues(subject, outcomeFailed).Inc()
		return res, fmt.Errorf("%w: %s: %v", ErrDelivery, res.URL, err)
	}
	res.StatusCode = resp.StatusCode()
	if res.StatusCode != http.StatusOK {
		deliveries.WithLabelValues(subject, outcomeFailed).Inc()
		return res, fmt.Errorf("%w: %s returned HTTP %d", ErrDelivery, res.URL, res.StatusCode)
	}

	deliveries.WithLabelValues(subject, outcomeDelivered).Inc()
	return res, nil
}

// restyLogger routes resty's internal messages into zerolog.
type restyLogger struct{ l zerolog.Logger }

func (r restyLogger) Errorf(format string, v ...interface{}) { r.l.Error().Msgf(format, v...) }
func (r restyLogger) Warnf(format string, v ...interface{})  { r.l.Warn().Msgf(format, v...) }
func (r restyLogger) Debugf(format string, v ...interface{}) { r.l.Debug().Msgf(format, v...) }
