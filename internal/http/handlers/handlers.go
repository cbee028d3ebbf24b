// Package handlers provides HTTP handler implementations for the vault.
//
// Two surfaces are exposed:
//   - the front end, reached through capability URLs by recipients and apps
//     (see frontend_handler.go);
//   - the JSON API for authenticated apps (see api_handler.go).
//
// Handlers are transport-thin: they parse and validate input, call the
// VaultService, and translate classified errors into responses.
package handlers

import (
	"context"
	"time"

	"github.com/tbourn/go-secret-vault/internal/domain"
	"github.com/tbourn/go-secret-vault/internal/repo"
	"github.com/tbourn/go-secret-vault/internal/services"
)

// VaultService defines the exchange operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type VaultService interface {
	CreateRequestIdempotent(ctx context.Context, app *domain.App, idemKey string, ttl time.Duration, email, instructions string, appData *string) (*services.RequestReceipt, error)
	CheckInput(ctx context.Context, requestID uint, token []byte) (*domain.Request, error)
	SubmitSecret(ctx context.Context, requestID uint, token []byte, plaintext string) (*services.SubmitReceipt, error)
	UnlockSecret(ctx context.Context, requestID uint, token, unlockKey []byte) (string, error)
	UnlockForApp(ctx context.Context, app *domain.App, requestID uint, unlockKey []byte) (string, error)
}

// DevelInfo backs the development info endpoint.
type DevelInfo interface {
	Stats(ctx context.Context) (*repo.VaultStats, error)
	AuditEntries(ctx context.Context, limit int) ([]domain.AuditEntry, error)
}

// Options tune handler behavior.
type Options struct {
	// IdempotencyTTL is how long an Idempotency-Key replays its request.
	IdempotencyTTL time.Duration
	// DeliveryPolicy and RepeatSecretInput are echoed by the devel endpoint.
	DeliveryPolicy    string
	RepeatSecretInput bool
}

// Handlers groups the vault HTTP endpoints.
type Handlers struct {
	svc   VaultService
	devel DevelInfo
	opts  Options
}

// New constructs Handlers. devel may be nil when the development endpoint is
// not mounted.
func New(svc VaultService, devel DevelInfo, opts Options) *Handlers {
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	return &Handlers{svc: svc, devel: devel, opts: opts}
}
