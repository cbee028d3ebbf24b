// Package repo implements the data persistence layer for the vault, backed by
// GORM. This file provides repository functions for the App model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They only persist and query; business
// rules live in the services package.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-secret-vault/internal/domain"
)

// AddApp inserts a new App. A reused public key yields ErrConflict.
func AddApp(ctx context.Context, db *gorm.DB, app *domain.App) error {
	if app.CreatedAt.IsZero() {
		app.CreatedAt = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Create(app).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

// FindApp fetches an App by id, or ErrNotFound.
func FindApp(ctx context.Context, db *gorm.DB, id uint) (*domain.App, error) {
	var a domain.App
	if err := db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// FindAppByKey fetches an App by its public key, or ErrNotFound.
func FindAppByKey(ctx context.Context, db *gorm.DB, key string) (*domain.App, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	var a domain.App
	err := db.WithContext(ctx).Where("app_key = ?", key).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
