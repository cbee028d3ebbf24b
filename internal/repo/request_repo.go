package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-secret-vault/internal/domain"
)

// AddRequest inserts a Request and fills in its generated id.
func AddRequest(ctx context.Context, db *gorm.DB, r *domain.Request) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Omit("App").Create(r).Error
}

// FindRequest fetches a Request by id, or ErrNotFound.
func FindRequest(ctx context.Context, db *gorm.DB, id uint) (*domain.Request, error) {
	var r domain.Request
	if err := db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// ClearRequestInputKey erases the input key and moves the request to
// submitted. It only matches requests still awaiting input; a request that
// already lost its key yields ErrNotFound. Run inside the transaction that
// stores the Secret so two concurrent submissions cannot both succeed.
func ClearRequestInputKey(ctx context.Context, db *gorm.DB, id uint) error {
	res := db.WithContext(ctx).
		Model(&domain.Request{}).
		Where("id = ? AND state = ? AND input_key IS NOT NULL", id, domain.StateAwaitingInput).
		Updates(map[string]any{
			"input_key": nil,
			"state":     domain.StateSubmitted,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TransitionRequest moves a request from one state to another with a
// conditional update. ErrNotFound means the request was not in state from.
func TransitionRequest(ctx context.Context, db *gorm.DB, id uint, from, to domain.RequestState) error {
	if !from.CanTransition(to) {
		return domain.ErrIllegalTransition
	}
	res := db.WithContext(ctx).
		Model(&domain.Request{}).
		Where("id = ? AND state = ?", id, from).
		Update("state", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
