package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-secret-vault/internal/domain"
)

// AddDelivery stores one webhook attempt. ID and CreatedAt are filled in
// when empty.
func AddDelivery(ctx context.Context, db *gorm.DB, d *domain.Delivery) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(d).Error
}

// ListDeliveries returns the attempts for a request, oldest first.
func ListDeliveries(ctx context.Context, db *gorm.DB, requestID uint) ([]domain.Delivery, error) {
	var out []domain.Delivery
	err := db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}
