package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-secret-vault/internal/domain"
)

// DeleteAnsweredRequests removes every request whose Secret was created
// before cutoff, together with the Secret and its delivery records. It
// returns the number of requests removed.
func DeleteAnsweredRequests(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint
		if err := tx.Model(&domain.Secret{}).
			Where("created_at < ?", cutoff.UTC()).
			Pluck("request_id", &ids).Error; err != nil {
			return err
		}
		var err error
		n, err = deleteRequests(tx, ids)
		return err
	})
	return n, err
}

// DeleteUnansweredRequests removes every request created before cutoff that
// never received a Secret. Answered requests are left to
// DeleteAnsweredRequests.
func DeleteUnansweredRequests(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint
		if err := tx.Model(&domain.Request{}).
			Where("created_at < ?", cutoff.UTC()).
			Where("NOT EXISTS (SELECT 1 FROM secrets WHERE secrets.request_id = requests.id)").
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		var err error
		n, err = deleteRequests(tx, ids)
		return err
	})
	return n, err
}

// deleteRequests removes requests and their dependent rows explicitly so the
// result does not depend on foreign key enforcement.
func deleteRequests(tx *gorm.DB, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if err := tx.Where("request_id IN ?", ids).Delete(&domain.Delivery{}).Error; err != nil {
		return 0, err
	}
	if err := tx.Where("request_id IN ?", ids).Delete(&domain.Idempotency{}).Error; err != nil {
		return 0, err
	}
	if err := tx.Where("request_id IN ?", ids).Delete(&domain.Secret{}).Error; err != nil {
		return 0, err
	}
	res := tx.Where("id IN ?", ids).Delete(&domain.Request{})
	return res.RowsAffected, res.Error
}
