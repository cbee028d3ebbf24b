package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-secret-vault/internal/domain"
)

// newTestDB opens a unique in-memory database per test to avoid schema
// leakage across tests. Pass migrate=false to get an empty schema.
func newTestDB(t *testing.T, migrate bool) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if migrate {
		if err := AutoMigrate(db); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func seedApp(t *testing.T, db *gorm.DB, key string) *domain.App {
	t.Helper()
	a := &domain.App{PublicKey: key, HashedSecret: "h", VaultSecret: "vs", Name: "app " + key}
	if err := AddApp(context.Background(), db, a); err != nil {
		t.Fatalf("seed app: %v", err)
	}
	return a
}

func seedRequest(t *testing.T, db *gorm.DB, appID uint, createdAt time.Time) *domain.Request {
	t.Helper()
	r := &domain.Request{
		AppID:     appID,
		Email:     "user@example.com",
		InputKey:  []byte("0123456789abcdef01234567"),
		State:     domain.StateAwaitingInput,
		CreatedAt: createdAt.UTC(),
	}
	if err := AddRequest(context.Background(), db, r); err != nil {
		t.Fatalf("seed request: %v", err)
	}
	return r
}

func seedSecret(t *testing.T, db *gorm.DB, requestID uint, createdAt time.Time) *domain.Secret {
	t.Helper()
	s := &domain.Secret{
		RequestID:  requestID,
		Ciphertext: []byte("ciphertext-ciphertext-ciphertext"),
		MAC:        []byte("mac"),
		CreatedAt:  createdAt.UTC(),
	}
	if err := AddSecret(context.Background(), db, s); err != nil {
		t.Fatalf("seed secret: %v", err)
	}
	return s
}
