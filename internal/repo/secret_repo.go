package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-secret-vault/internal/domain"
)

// AddSecret inserts the Secret answering a request. A request that already
// has a Secret yields ErrConflict.
func AddSecret(ctx context.Context, db *gorm.DB, s *domain.Secret) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Omit("Request").Create(s).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

// FindSecret fetches the Secret of a request, or ErrNotFound.
func FindSecret(ctx context.Context, db *gorm.DB, requestID uint) (*domain.Secret, error) {
	var s domain.Secret
	if err := db.WithContext(ctx).First(&s, "request_id = ?", requestID).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// RecordUnlock erases the ciphertext and MAC of a Secret. Only a Secret
// that still holds its ciphertext matches; otherwise ErrNotFound.
func RecordUnlock(ctx context.Context, db *gorm.DB, requestID uint, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Secret{}).
		Where("request_id = ? AND ciphertext IS NOT NULL", requestID).
		Updates(map[string]any{
			"ciphertext":  nil,
			"mac":         nil,
			"unlocked_at": at.UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSecret removes the Secret of a request. Missing rows are not an error.
func DeleteSecret(ctx context.Context, db *gorm.DB, requestID uint) error {
	return db.WithContext(ctx).Where("request_id = ?", requestID).Delete(&domain.Secret{}).Error
}

// MarkPinged records when the app was successfully told about the Secret.
func MarkPinged(ctx context.Context, db *gorm.DB, requestID uint, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Secret{}).
		Where("request_id = ?", requestID).
		Update("pinged_at", at.UTC()).Error
}
