// Package services – VaultService
//
// This file implements VaultService, the exchange protocol between an app, a
// recipient and the vault:
//
//	app ──CreateRequest──▶ vault ──e-mail(input URL)──▶ recipient
//	recipient ──SubmitSecret──▶ vault ──ping(unlock key)──▶ app
//	app ──UnlockSecret / UnlockForApp──▶ vault (secret erased)
//
// The unlock key exists only in the ping payload and the unlock URL; the vault
// stores ciphertext and MAC. Every multi-row write runs in one transaction and
// check-then-act steps are conditional updates, so concurrent submissions or
// unlocks of the same request cannot both succeed.
//
// Observability: public methods are OpenTelemetry-instrumented and lifecycle
// events are counted in vault_secret_events_total.
package services

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/go-secret-vault/internal/capability"
	"github.com/tbourn/go-secret-vault/internal/domain"
	"github.com/tbourn/go-secret-vault/internal/mailer"
	"github.com/tbourn/go-secret-vault/internal/repo"
	"github.com/tbourn/go-secret-vault/internal/seal"
	"github.com/tbourn/go-secret-vault/internal/webhook"
)

// Repository defines the persistence contract required by VaultService.
// Every method takes the handle to run on, which may be a transaction.
type Repository interface {
	AddApp(ctx context.Context, db *gorm.DB, a *domain.App) error
	FindApp(ctx context.Context, db *gorm.DB, id uint) (*domain.App, error)
	FindAppByKey(ctx context.Context, db *gorm.DB, key string) (*domain.App, error)

	AddRequest(ctx context.Context, db *gorm.DB, r *domain.Request) error
	FindRequest(ctx context.Context, db *gorm.DB, id uint) (*domain.Request, error)
	// ClearRequestInputKey must only match a request still awaiting input.
	ClearRequestInputKey(ctx context.Context, db *gorm.DB, id uint) error
	TransitionRequest(ctx context.Context, db *gorm.DB, id uint, from, to domain.RequestState) error

	AddSecret(ctx context.Context, db *gorm.DB, s *domain.Secret) error
	FindSecret(ctx context.Context, db *gorm.DB, requestID uint) (*domain.Secret, error)
	// RecordUnlock must only match a Secret that still holds its ciphertext.
	RecordUnlock(ctx context.Context, db *gorm.DB, requestID uint, at time.Time) error
	DeleteSecret(ctx context.Context, db *gorm.DB, requestID uint) error
	MarkPinged(ctx context.Context, db *gorm.DB, requestID uint, at time.Time) error

	AddDelivery(ctx context.Context, db *gorm.DB, d *domain.Delivery) error

	DeleteAnsweredRequests(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)
	DeleteUnansweredRequests(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)
	DeleteExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)
}

// Notifier delivers signed pings to apps.
type Notifier interface {
	Notify(ctx context.Context, app *domain.App, subject string, payload any) (*webhook.Result, error)
}

// DeliveryPolicy decides how a failed submission ping affects the submission.
type DeliveryPolicy string

const (
	// PolicyStrict pings inside the submission transaction; a failed ping
	// rolls the secret back so the recipient can submit again.
	PolicyStrict DeliveryPolicy = "strict"
	// PolicyAfterCommit commits the secret first and pings afterwards; a
	// failed ping is reported together with the receipt.
	PolicyAfterCommit DeliveryPolicy = "after_commit"
)

// Valid reports whether p is a known policy.
func (p DeliveryPolicy) Valid() bool {
	return p == PolicyStrict || p == PolicyAfterCommit
}

// Options are the tunables of VaultService.
type Options struct {
	InputBaseURL   string
	UnlockBaseURL  string
	DeliveryPolicy DeliveryPolicy

	// RepeatSecretInput keeps the input key after a submission and replaces
	// any earlier secret. Debugging only.
	RepeatSecretInput bool

	MaxSecretBytes    int
	MaxInstructionLen int
	BcryptCost        int
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		InputBaseURL:      "http://localhost:8080",
		UnlockBaseURL:     "http://localhost:8080",
		DeliveryPolicy:    PolicyStrict,
		MaxSecretBytes:    64 << 10,
		MaxInstructionLen: 4000,
		BcryptCost:        bcrypt.DefaultCost,
	}
}

// AppCredentials is returned once, at registration. Secret is stored only as
// a bcrypt hash; VaultSecret signs the pings the app receives.
type AppCredentials struct {
	AppID       uint   `json:"app_id"`
	Key         string `json:"key"`
	Secret      string `json:"secret"`
	VaultSecret string `json:"vault_secret"`
}

// RequestReceipt identifies a created request.
type RequestReceipt struct {
	ReqID    uint `json:"reqid"`
	Replayed bool `json:"-"`
}

// SubmitReceipt is the outcome of a submission. UnlockKey is base64url.
type SubmitReceipt struct {
	ReqID     uint   `json:"reqid"`
	UnlockKey string `json:"unlock_key"`
	UnlockURL string `json:"unlock_url"`
	Pinged    bool   `json:"pinged"`
}

// VaultService coordinates the exchange protocol.
type VaultService struct {
	DB       *gorm.DB
	Repo     Repository
	Notifier Notifier
	Mailer   mailer.Mailer
	Log      zerolog.Logger
	Opts     Options

	// Now is the clock; tests may replace it.
	Now func() time.Time

	validate *validator.Validate
	html     *bluemonday.Policy
}

// NewVaultService wires a VaultService. Zero-valued options fall back to
// DefaultOptions.
func NewVaultService(db *gorm.DB, r Repository, n Notifier, m mailer.Mailer, log zerolog.Logger, opts Options) *VaultService {
	def := DefaultOptions()
	if opts.InputBaseURL == "" {
		opts.InputBaseURL = def.InputBaseURL
	}
	if opts.UnlockBaseURL == "" {
		opts.UnlockBaseURL = def.UnlockBaseURL
	}
	if !opts.DeliveryPolicy.Valid() {
		opts.DeliveryPolicy = def.DeliveryPolicy
	}
	if opts.MaxSecretBytes <= 0 {
		opts.MaxSecretBytes = def.MaxSecretBytes
	}
	if opts.MaxInstructionLen <= 0 {
		opts.MaxInstructionLen = def.MaxInstructionLen
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = def.BcryptCost
	}
	return &VaultService{
		DB:       db,
		Repo:     r,
		Notifier: n,
		Mailer:   m,
		Log:      log.With().Str("component", "vault").Logger(),
		Opts:     opts,
		Now:      func() time.Time { return time.Now().UTC() },
		validate: validator.New(),
		html:     instructionsPolicy(),
	}
}

// instructionsPolicy keeps light formatting and links in request
// instructions; everything else is stripped.
func instructionsPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "i", "em", "strong", "p", "br", "ul", "ol", "li")
	p.AllowAttrs("href").OnElements("a")
	p.AllowStandardURLs()
	p.RequireNoFollowOnLinks(true)
	return p
}

func tracer() trace.Tracer { return otel.Tracer("services/VaultService") }

// RegisterApp creates an app with fresh credentials.
func (s *VaultService) RegisterApp(ctx context.Context, name, pingURL string) (*AppCredentials, error) {
	const op = "RegisterApp"
	ctx, span := tracer().Start(ctx, op)
	defer span.End()

	name = strings.TrimSpace(norm.NFC.String(name))
	if err := s.validate.Var(name, "required,max=100"); err != nil {
		return nil, newErr(KindInvalidArgument, op, "invalid app name", err)
	}
	var ping *string
	if pingURL = strings.TrimSpace(pingURL); pingURL != "" {
		if err := s.validate.Var(pingURL, "http_url,max=200"); err != nil {
			return nil, newErr(KindInvalidArgument, op, "invalid ping url", err)
		}
		ping = &pingURL
	}

	for attempt := 0; ; attempt++ {
		creds, err := s.newCredentials()
		if err != nil {
			return nil, newErr(KindDataException, op, "generate credentials", err)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(creds.Secret), s.Opts.BcryptCost)
		if err != nil {
			return nil, newErr(KindDataException, op, "hash secret", err)
		}
		app := &domain.App{
			PublicKey:    creds.Key,
			HashedSecret: string(hash),
			VaultSecret:  creds.VaultSecret,
			Name:         name,
			PingURL:      ping,
			CreatedAt:    s.Now(),
		}
		err = s.Repo.AddApp(ctx, s.DB, app)
		if errors.Is(err, repo.ErrConflict) && attempt < 3 {
			continue
		}
		if err != nil {
			return nil, newErr(KindDataException, op, "store app", err)
		}
		creds.AppID = app.ID
		span.SetAttributes(attribute.Int("app.id", int(app.ID)))
		s.Log.Info().Uint("app_id", app.ID).Str("name", name).Msg("Registered app")
		return creds, nil
	}
}

func (s *VaultService) newCredentials() (*AppCredentials, error) {
	key, err := seal.RandomBytes(12)
	if err != nil {
		return nil, err
	}
	secret, err := seal.RandomBytes(30)
	if err != nil {
		return nil, err
	}
	vault, err := seal.RandomBytes(30)
	if err != nil {
		return nil, err
	}
	enc := base64.RawURLEncoding
	return &AppCredentials{
		Key:         enc.EncodeToString(key),
		Secret:      enc.EncodeToString(secret),
		VaultSecret: enc.EncodeToString(vault),
	}, nil
}

// dummyHash equalizes the cost of rejecting an unknown key and a wrong secret.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("vault-dummy-secret"), bcrypt.MinCost)

// AuthenticateApp checks an app key and secret. Unknown keys and wrong
// secrets are indistinguishable to the caller.
func (s *VaultService) AuthenticateApp(ctx context.Context, key, secret string) (*domain.App, error) {
	const op = "AuthenticateApp"
	ctx, span := tracer().Start(ctx, op)
	defer span.End()

	app, err := s.Repo.FindAppByKey(ctx, s.DB, key)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, newErr(KindDataException, op, "find app", err)
	}
	if app == nil {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(secret))
		s.Log.Warn().Msg("Authentication failed: unknown app key")
		return nil, newErr(KindNotAuthorized, op, "unknown app key", nil)
	}
	if bcrypt.CompareHashAndPassword([]byte(app.HashedSecret), []byte(secret)) != nil {
		s.Log.Warn().Uint("app_id", app.ID).Msg("Authentication failed: wrong secret")
		return nil, newErr(KindNotAuthorized, op, "wrong secret", nil)
	}
	return app, nil
}

// CreateRequest records a request for a secret and e-mails the recipient an
// input URL. Mail failures are logged, not returned.
func (s *VaultService) CreateRequest(ctx context.Context, appKey, email, instructions string, appData *string) (*RequestReceipt, error) {
	const op = "CreateRequest"
	ctx, span := tracer().Start(ctx, op)
	defer span.End()

	email = strings.TrimSpace(email)
	if err := s.validate.Var(email, "required,email,max=100"); err != nil {
		return nil, newErr(KindInvalidArgument, op, "invalid e-mail", err)
	}

	app, err := s.Repo.FindAppByKey(ctx, s.DB, appKey)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, newErr(KindNotAuthorized, op, "unknown app key", nil)
		}
		return nil, newErr(KindDataException, op, "find app", err)
	}
	return s.createRequest(ctx, app, email, instructions, appData)
}

// CreateRequestIdempotent is CreateRequest for an authenticated app with an
// optional Idempotency-Key. A key seen before (and not expired) returns the
// originally created request.
func (s *VaultService) CreateRequestIdempotent(ctx context.Context, app *domain.App, idemKey string, ttl time.Duration, email, instructions string, appData *string) (*RequestReceipt, error) {
	const op = "CreateRequest"
	ctx, span := tracer().Start(ctx, "CreateRequestIdempotent",
		trace.WithAttributes(attribute.Int("app.id", int(app.ID))),
	)
	defer span.End()

	email = strings.TrimSpace(email)
	if err := s.validate.Var(email, "required,email,max=100"); err != nil {
		return nil, newErr(KindInvalidArgument, op, "invalid e-mail", err)
	}
	if idemKey == "" {
		return s.createRequest(ctx, app, email, instructions, appData)
	}

	if rec, err := repo.GetIdempotency(ctx, s.DB, app.ID, idemKey, s.Now()); err == nil {
		return &RequestReceipt{ReqID: rec.RequestID, Replayed: true}, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, newErr(KindDataException, op, "read idempotency", err)
	}

	rc, err := s.createRequest(ctx, app, email, instructions, appData)
	if err != nil {
		return nil, err
	}
	if _, err := repo.CreateIdempotency(ctx, s.DB, app.ID, idemKey, rc.ReqID, 201, ttl); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			// A concurrent retry won; report its request.
			if rec, gerr := repo.GetIdempotency(ctx, s.DB, app.ID, idemKey, s.Now()); gerr == nil {
				return &RequestReceipt{ReqID: rec.RequestID, Replayed: true}, nil
			}
		}
		s.Log.Error().Err(err).Uint("reqid", rc.ReqID).Msg("Failed to record idempotency key")
	}
	return rc, nil
}

func (s *VaultService) createRequest(ctx context.Context, app *domain.App, email, instructions string, appData *string) (*RequestReceipt, error) {
	const op = "CreateRequest"

	instr, err := s.cleanInstructions(instructions)
	if err != nil {
		return nil, newErr(KindInvalidArgument, op, "instructions too long", err)
	}
	inputKey, err := seal.RandomBytes(seal.KeySize)
	if err != nil {
		return nil, newErr(KindDataException, op, "generate input key", err)
	}

	req := &domain.Request{
		AppID:        app.ID,
		Email:        email,
		AppData:      appData,
		Instructions: instr,
		InputKey:     inputKey,
		State:        domain.StateCreated,
		CreatedAt:    s.Now(),
	}
	// The request is opened in the same transaction, so the input link is
	// only ever mailed for a request that accepts input.
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.Repo.AddRequest(ctx, tx, req); err != nil {
			return newErr(KindDataException, op, "store request", err)
		}
		if err := s.Repo.TransitionRequest(ctx, tx, req.ID, domain.StateCreated, domain.StateAwaitingInput); err != nil {
			return newErr(KindDataException, op, "open request", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	req.State = domain.StateAwaitingInput
	s.Log.Info().Uint("app_id", app.ID).Uint("reqid", req.ID).Msgf("Added request %d for '%s'", req.ID, email)

	s.emailRequest(ctx, req)
	secretEvents.WithLabelValues(eventRequested).Inc()
	return &RequestReceipt{ReqID: req.ID}, nil
}

func (s *VaultService) cleanInstructions(in string) (*string, error) {
	in = strings.TrimSpace(s.html.Sanitize(norm.NFC.String(in)))
	if in == "" {
		return nil, nil
	}
	if len([]rune(in)) > s.Opts.MaxInstructionLen {
		return nil, errors.New("exceeds limit")
	}
	return &in, nil
}

// InputURL returns the capability URL at which the recipient submits.
func (s *VaultService) InputURL(req *domain.Request) string {
	return capability.InputURL(s.Opts.InputBaseURL, req.ID, req.Email, req.InputKey)
}

func (s *VaultService) emailRequest(ctx context.Context, req *domain.Request) {
	if s.Mailer == nil {
		return
	}
	msg, err := mailer.RequestMessage(req.Email, s.InputURL(req))
	if err == nil {
		err = s.Mailer.Send(ctx, msg)
	}
	if err != nil {
		s.Log.Error().Err(err).Uint("app_id", req.AppID).Uint("reqid", req.ID).
			Msgf("Failed to send e-mail for request %d", req.ID)
	}
}

// CheckInput verifies an input token for a request still awaiting input.
func (s *VaultService) CheckInput(ctx context.Context, requestID uint, token []byte) (*domain.Request, error) {
	const op = "CheckInput"
	ctx, span := tracer().Start(ctx, op, trace.WithAttributes(attribute.Int("reqid", int(requestID))))
	defer span.End()
	return s.checkInput(ctx, op, requestID, token)
}

func (s *VaultService) checkInput(ctx context.Context, op string, requestID uint, token []byte) (*domain.Request, error) {
	req, err := s.Repo.FindRequest(ctx, s.DB, requestID)
	if err != nil {
		return nil, s.storageErr(op, "find request", err)
	}
	if !req.AwaitingInput() {
		return nil, newErr(KindNotFound, op, "request not awaiting input", nil)
	}
	if !capability.Verify(req.ID, req.Email, req.InputKey, token) {
		secretEvents.WithLabelValues(eventRejected).Inc()
		s.Log.Warn().Uint("app_id", req.AppID).Uint("reqid", req.ID).Msg("Input capability mismatch")
		return nil, newErr(KindIntegrityFailure, op, "input token mismatch", nil)
	}
	return req, nil
}

// SubmitSecret stores the recipient's secret for a request, provided token
// authorizes the input URL. The unlock key in the receipt is the only copy.
func (s *VaultService) SubmitSecret(ctx context.Context, requestID uint, token []byte, plaintext string) (*SubmitReceipt, error) {
	const op = "SubmitSecret"
	ctx, span := tracer().Start(ctx, op, trace.WithAttributes(attribute.Int("reqid", int(requestID))))
	defer span.End()

	req, err := s.checkInput(ctx, op, requestID, token)
	if err != nil {
		return nil, err
	}
	return s.registerSecret(ctx, op, req, plaintext)
}

// RegisterSecret stores a secret without a capability token. It backs the
// trusted command line.
func (s *VaultService) RegisterSecret(ctx context.Context, requestID uint, plaintext string) (*SubmitReceipt, error) {
	const op = "RegisterSecret"
	ctx, span := tracer().Start(ctx, op, trace.WithAttributes(attribute.Int("reqid", int(requestID))))
	defer span.End()

	req, err := s.Repo.FindRequest(ctx, s.DB, requestID)
	if err != nil {
		return nil, s.storageErr(op, "find request", err)
	}
	if !req.AwaitingInput() {
		return nil, newErr(KindNotFound, op, "request not awaiting input", nil)
	}
	return s.registerSecret(ctx, op, req, plaintext)
}

func (s *VaultService) registerSecret(ctx context.Context, op string, req *domain.Request, plaintext string) (*SubmitReceipt, error) {
	if plaintext == "" {
		return nil, newErr(KindInvalidArgument, op, "empty secret", nil)
	}
	if len(plaintext) > s.Opts.MaxSecretBytes {
		return nil, newErr(KindInvalidArgument, op, "secret too large", nil)
	}

	app, err := s.Repo.FindApp(ctx, s.DB, req.AppID)
	if err != nil {
		return nil, s.storageErr(op, "find app", err)
	}

	sealed, unlockKey, err := seal.Seal([]byte(plaintext))
	if err != nil {
		return nil, newErr(KindDataException, op, "encrypt", err)
	}
	receipt := &SubmitReceipt{
		ReqID:     req.ID,
		UnlockKey: capability.Encode(unlockKey),
		UnlockURL: capability.UnlockURL(s.Opts.UnlockBaseURL, req.ID, req.Email, unlockKey),
	}
	payload := webhook.SubmissionPayload{
		ReqID:     req.ID,
		UnlockKey: receipt.UnlockKey,
		AppData:   req.AppData,
		UnlockURL: receipt.UnlockURL,
	}

	var (
		res     *webhook.Result
		pingErr error
	)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.Opts.RepeatSecretInput {
			s.Log.Warn().Uint("reqid", req.ID).Msg("debug.repeat_secret_input is on: replacing any earlier secret and keeping the input key")
			if err := s.Repo.DeleteSecret(ctx, tx, req.ID); err != nil {
				return err
			}
		}
		if err := s.Repo.AddSecret(ctx, tx, &domain.Secret{
			RequestID:  req.ID,
			Ciphertext: sealed.Ciphertext,
			MAC:        sealed.MAC,
			CreatedAt:  s.Now(),
		}); err != nil {
			if errors.Is(err, repo.ErrConflict) {
				return newErr(KindNotFound, op, "request already answered", nil)
			}
			return err
		}
		if !s.Opts.RepeatSecretInput {
			if err := s.Repo.ClearRequestInputKey(ctx, tx, req.ID); err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					return newErr(KindNotFound, op, "request already answered", nil)
				}
				return err
			}
		}
		if s.Opts.DeliveryPolicy == PolicyStrict {
			res, pingErr = s.ping(ctx, app, payload)
			if pingErr != nil {
				return pingErr
			}
		}
		return nil
	})
	s.recordDelivery(ctx, app, req.ID, res, pingErr)
	if err != nil {
		if pingErr != nil {
			s.Log.Error().Err(pingErr).Uint("app_id", app.ID).Uint("reqid", req.ID).Msg("Ping failed; secret discarded")
			return nil, newErr(KindDeliveryFailure, op, "app not notified", pingErr)
		}
		var se *Error
		if errors.As(err, &se) {
			return nil, se
		}
		return nil, newErr(KindDataException, op, "store secret", err)
	}

	if s.Opts.DeliveryPolicy == PolicyAfterCommit {
		res, pingErr = s.ping(ctx, app, payload)
		s.recordDelivery(ctx, app, req.ID, res, pingErr)
	}
	receipt.Pinged = pingErr == nil && res != nil && !res.Skipped
	if receipt.Pinged {
		if err := s.Repo.MarkPinged(ctx, s.DB, req.ID, s.Now()); err != nil {
			s.Log.Error().Err(err).Uint("reqid", req.ID).Msg("Failed to mark secret as pinged")
		}
	}

	secretEvents.WithLabelValues(eventSubmitted).Inc()
	s.Log.Info().Uint("app_id", app.ID).Uint("reqid", req.ID).Msgf("Registered secret for request %d", req.ID)

	if pingErr != nil {
		s.Log.Error().Err(pingErr).Uint("app_id", app.ID).Uint("reqid", req.ID).Msg("Ping failed after commit")
		return receipt, newErr(KindDeliveryFailure, op, "app not notified", pingErr)
	}
	return receipt, nil
}

func (s *VaultService) ping(ctx context.Context, app *domain.App, payload webhook.SubmissionPayload) (*webhook.Result, error) {
	if s.Notifier == nil {
		return &webhook.Result{Skipped: true}, nil
	}
	return s.Notifier.Notify(ctx, app, webhook.SubjectSubmission, payload)
}

// recordDelivery stores the outcome of an attempted ping. It runs outside
// the submission transaction so failed attempts survive a rollback.
func (s *VaultService) recordDelivery(ctx context.Context, app *domain.App, requestID uint, res *webhook.Result, pingErr error) {
	if res == nil || res.Skipped {
		return
	}
	d := &domain.Delivery{
		AppID:      app.ID,
		RequestID:  requestID,
		Subject:    webhook.SubjectSubmission,
		URL:        res.URL,
		StatusCode: res.StatusCode,
		Success:    pingErr == nil,
		DurationMS: res.Duration.Milliseconds(),
		CreatedAt:  s.Now(),
	}
	if pingErr != nil {
		d.Error = pingErr.Error()
	}
	if err := s.Repo.AddDelivery(ctx, s.DB, d); err != nil {
		s.Log.Error().Err(err).Uint("reqid", requestID).Msg("Failed to record delivery")
	}
}

// UnlockSecret returns the plaintext of a submitted secret and erases it.
// token must authorize the unlock URL for unlockKey.
func (s *VaultService) UnlockSecret(ctx context.Context, requestID uint, token, unlockKey []byte) (string, error) {
	const op = "UnlockSecret"
	ctx, span := tracer().Start(ctx, op, trace.WithAttributes(attribute.Int("reqid", int(requestID))))
	defer span.End()

	return s.unlock(ctx, op, requestID, unlockKey, func(req *domain.Request) error {
		if !capability.Verify(req.ID, req.Email, unlockKey, token) {
			return newErr(KindIntegrityFailure, op, "unlock token mismatch", nil)
		}
		return nil
	})
}

// UnlockForApp is UnlockSecret for an authenticated app: no URL token, but
// the request must belong to the app.
func (s *VaultService) UnlockForApp(ctx context.Context, app *domain.App, requestID uint, unlockKey []byte) (string, error) {
	const op = "UnlockForApp"
	ctx, span := tracer().Start(ctx, op, trace.WithAttributes(
		attribute.Int("reqid", int(requestID)),
		attribute.Int("app.id", int(app.ID)),
	))
	defer span.End()

	return s.unlock(ctx, op, requestID, unlockKey, func(req *domain.Request) error {
		if req.AppID != app.ID {
			return newErr(KindNotFound, op, "request belongs to another app", nil)
		}
		return nil
	})
}

// UnlockTrusted is UnlockSecret without a URL token. It backs the trusted
// command line; the unlock key and the MAC still have to match.
func (s *VaultService) UnlockTrusted(ctx context.Context, requestID uint, unlockKey []byte) (string, error) {
	const op = "UnlockTrusted"
	ctx, span := tracer().Start(ctx, op, trace.WithAttributes(attribute.Int("reqid", int(requestID))))
	defer span.End()

	return s.unlock(ctx, op, requestID, unlockKey, func(*domain.Request) error { return nil })
}

// unlock loads, verifies, decrypts and erases a secret in one transaction.
// authorize runs after the MAC check and before decryption.
func (s *VaultService) unlock(ctx context.Context, op string, requestID uint, unlockKey []byte, authorize func(*domain.Request) error) (string, error) {
	var (
		plaintext []byte
		req       *domain.Request
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		req, err = s.Repo.FindRequest(ctx, tx, requestID)
		if err != nil {
			return s.storageErr(op, "find request", err)
		}
		sec, err := s.Repo.FindSecret(ctx, tx, requestID)
		if err != nil {
			return s.storageErr(op, "find secret", err)
		}
		if sec.Spent() {
			return newErr(KindNotFound, op, "secret already unlocked", nil)
		}
		if !seal.VerifyMAC(sec.Ciphertext, sec.MAC, unlockKey) {
			return newErr(KindIntegrityFailure, op, "secret mac mismatch", nil)
		}
		if err := authorize(req); err != nil {
			return err
		}
		plaintext, err = seal.Decrypt(sec.Ciphertext, unlockKey)
		if err != nil {
			return newErr(KindIntegrityFailure, op, "decrypt", err)
		}
		if err := s.Repo.RecordUnlock(ctx, tx, requestID, s.Now()); err != nil {
			return s.storageErr(op, "erase secret", err)
		}
		if req.State.CanTransition(domain.StateUnlocked) {
			if err := s.Repo.TransitionRequest(ctx, tx, requestID, req.State, domain.StateUnlocked); err != nil {
				return s.storageErr(op, "close request", err)
			}
		}
		return nil
	})
	if err != nil {
		var se *Error
		if !errors.As(err, &se) {
			se = newErr(KindDataException, op, "unlock", err)
		}
		if se.Kind == KindIntegrityFailure {
			secretEvents.WithLabelValues(eventRejected).Inc()
			ev := s.Log.Warn().Uint("reqid", requestID)
			if req != nil {
				ev = ev.Uint("app_id", req.AppID)
			}
			ev.Str("reason", se.Reason).Msg("Unlock rejected")
		}
		return "", se
	}

	secretEvents.WithLabelValues(eventUnlocked).Inc()
	s.Log.Info().Uint("app_id", req.AppID).Uint("reqid", requestID).Msgf("Unlocked secret for request %d", requestID)
	return string(plaintext), nil
}

// storageErr maps repository errors: missing rows become NotFound, anything
// else is a DataException.
func (s *VaultService) storageErr(op, reason string, err error) *Error {
	if errors.Is(err, repo.ErrNotFound) {
		return newErr(KindNotFound, op, reason, nil)
	}
	return newErr(KindDataException, op, reason, err)
}
