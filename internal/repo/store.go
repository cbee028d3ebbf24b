package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-secret-vault/internal/domain"
)

// Store adapts the package functions to the method set the service layer
// depends on. It is stateless; the *gorm.DB (often a transaction) is passed
// per call.
type Store struct{}

func (Store) AddApp(ctx context.Context, db *gorm.DB, a *domain.App) error {
	return AddApp(ctx, db, a)
}

func (Store) FindApp(ctx context.Context, db *gorm.DB, id uint) (*domain.App, error) {
	return FindApp(ctx, db, id)
}

func (Store) FindAppByKey(ctx context.Context, db *gorm.DB, key string) (*domain.App, error) {
	return FindAppByKey(ctx, db, key)
}

func (Store) AddRequest(ctx context.Context, db *gorm.DB, r *domain.Request) error {
	return AddRequest(ctx, db, r)
}

func (Store) FindRequest(ctx context.Context, db *gorm.DB, id uint) (*domain.Request, error) {
	return FindRequest(ctx, db, id)
}

func (Store) ClearRequestInputKey(ctx context.Context, db *gorm.DB, id uint) error {
	return ClearRequestInputKey(ctx, db, id)
}

func (Store) TransitionRequest(ctx context.Context, db *gorm.DB, id uint, from, to domain.RequestState) error {
	return TransitionRequest(ctx, db, id, from, to)
}

func (Store) AddSecret(ctx context.Context, db *gorm.DB, s *domain.Secret) error {
	return AddSecret(ctx, db, s)
}

func (Store) FindSecret(ctx context.Context, db *gorm.DB, requestID uint) (*domain.Secret, error) {
	return FindSecret(ctx, db, requestID)
}

func (Store) RecordUnlock(ctx context.Context, db *gorm.DB, requestID uint, at time.Time) error {
	return RecordUnlock(ctx, db, requestID, at)
}

func (Store) DeleteSecret(ctx context.Context, db *gorm.DB, requestID uint) error {
	return DeleteSecret(ctx, db, requestID)
}

func (Store) MarkPinged(ctx context.Context, db *gorm.DB, requestID uint, at time.Time) error {
	return MarkPinged(ctx, db, requestID, at)
}

func (Store) AddDelivery(ctx context.Context, db *gorm.DB, d *domain.Delivery) error {
	return AddDelivery(ctx, db, d)
}

func (Store) DeleteAnsweredRequests(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	return DeleteAnsweredRequests(ctx, db, cutoff)
}

func (Store) DeleteUnansweredRequests(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	return DeleteUnansweredRequests(ctx, db, cutoff)
}

func (Store) DeleteExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	return PurgeIdempotency(ctx, db, now)
}
