// Package repo implements the data persistence layer for the vault, backed by
// GORM. This file provides small aggregate queries used by the development
// info endpoint and by operators inspecting a running vault.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-secret-vault/internal/domain"
)

// VaultStats summarizes table contents. It never includes secret material.
type VaultStats struct {
	Apps             int64                         `json:"apps"`
	Requests         int64                         `json:"requests"`
	ByState          map[domain.RequestState]int64 `json:"by_state"`
	Secrets          int64                         `json:"secrets"`
	Deliveries       int64                         `json:"deliveries"`
	FailedDeliveries int64                         `json:"failed_deliveries"`
	OldestRequest    *time.Time                    `json:"oldest_request,omitempty"`
}

// Stats returns aggregate counts over the vault tables.
func Stats(ctx context.Context, db *gorm.DB) (*VaultStats, error) {
	db = db.WithContext(ctx)
	st := &VaultStats{ByState: map[domain.RequestState]int64{}}

	if err := db.Model(&domain.App{}).Count(&st.Apps).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&domain.Request{}).Count(&st.Requests).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&domain.Secret{}).Count(&st.Secrets).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&domain.Delivery{}).Count(&st.Deliveries).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&domain.Delivery{}).Where("success = ?", false).Count(&st.FailedDeliveries).Error; err != nil {
		return nil, err
	}

	var rows []struct {
		State domain.RequestState
		N     int64
	}
	if err := db.Model(&domain.Request{}).Select("state, COUNT(*) AS n").Group("state").Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		st.ByState[r.State] = r.N
	}

	if st.Requests == 0 {
		return st, nil
	}
	// Get oldest created_at (avoid MIN() -> TEXT in SQLite)
	var row struct {
		CreatedAt time.Time
	}
	if err := db.Model(&domain.Request{}).Select("created_at").Order("created_at ASC").Limit(1).Scan(&row).Error; err != nil {
		return nil, err
	}
	st.OldestRequest = &row.CreatedAt
	return st, nil
}
