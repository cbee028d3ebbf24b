package repo

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a requested record does not exist, or when a
// conditional update matched no row.
// It aliases gorm.ErrRecordNotFound so callers may test for either.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrConflict indicates a unique constraint violation, e.g. a second secret
// for the same request or a reused app key.
var ErrConflict = errors.New("conflict")

// ErrDuplicate indicates that an idempotency record already exists for the
// given (app_id, key) pair.
var ErrDuplicate = errors.New("duplicate")

// isUniqueViolation recognises UNIQUE/PRIMARY KEY failures.
// glebarez/sqlite often returns plain-text errors for them.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "constraint failed: primary key")
}
