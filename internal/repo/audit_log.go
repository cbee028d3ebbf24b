package repo

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-secret-vault/internal/domain"
)

const auditQueueSize = 1024

var (
	ErrAuditQueueFull = errors.New("audit queue full")
	ErrAuditClosed    = errors.New("audit writer closed")
)

// AuditWriter persists zerolog JSON lines into the audit_log table. Combine
// it with a console writer through zerolog.MultiLevelWriter; lines below
// MinLevel are dropped.
//
// Lines are queued and inserted by a background goroutine, so logging never
// waits on the database. A caller holding an open SQLite write transaction
// can log freely; its lines land once the transaction ends.
type AuditWriter struct {
	DB       *gorm.DB
	MinLevel zerolog.Level

	mu     sync.RWMutex
	closed bool
	queue  chan auditItem
	done   chan struct{}
}

// auditItem is either an entry to insert or a flush marker.
type auditItem struct {
	entry   *domain.AuditEntry
	flushed chan struct{}
}

// NewAuditWriter returns an AuditWriter storing lines at or above min and
// starts its insert loop. Call Close to drain and stop it.
func NewAuditWriter(db *gorm.DB, min zerolog.Level) *AuditWriter {
	w := &AuditWriter{
		DB:       db,
		MinLevel: min,
		queue:    make(chan auditItem, auditQueueSize),
		done:     make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *AuditWriter) run() {
	defer close(w.done)
	for it := range w.queue {
		if it.flushed != nil {
			close(it.flushed)
			continue
		}
		if err := AddAuditEntry(context.Background(), w.DB, it.entry); err != nil {
			log.Error().Err(err).Str("level", it.entry.Level).Msg("Failed to store audit line")
		}
	}
}

// Write stores a line whose level is read from its "level" field.
func (w *AuditWriter) Write(p []byte) (int, error) {
	lvl := zerolog.NoLevel
	var hdr struct {
		Level string `json:"level"`
	}
	if json.Unmarshal(p, &hdr) == nil {
		if l, err := zerolog.ParseLevel(hdr.Level); err == nil {
			lvl = l
		}
	}
	return w.WriteLevel(lvl, p)
}

// WriteLevel implements zerolog.LevelWriter. It never blocks: a full queue
// drops the line and reports ErrAuditQueueFull.
func (w *AuditWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < w.MinLevel || level == zerolog.Disabled {
		return len(p), nil
	}
	var line struct {
		Message string `json:"message"`
		AppID   *uint  `json:"app_id"`
	}
	if err := json.Unmarshal(p, &line); err != nil || line.Message == "" {
		line.Message = string(p)
	}
	entry := &domain.AuditEntry{
		Level:     level.String(),
		Message:   line.Message,
		AppID:     line.AppID,
		CreatedAt: time.Now().UTC(),
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return 0, ErrAuditClosed
	}
	select {
	case w.queue <- auditItem{entry: entry}:
		return len(p), nil
	default:
		return 0, ErrAuditQueueFull
	}
}

// Flush blocks until every line queued before the call has been stored or
// ctx is done.
func (w *AuditWriter) Flush(ctx context.Context) error {
	flushed := make(chan struct{})
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return nil
	}
	select {
	case w.queue <- auditItem{flushed: flushed}:
	case <-ctx.Done():
		w.mu.RUnlock()
		return ctx.Err()
	}
	w.mu.RUnlock()

	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stores the queued lines and stops the insert loop. Later writes
// fail with ErrAuditClosed.
func (w *AuditWriter) Close() error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	<-w.done
	return nil
}

// AddAuditEntry inserts one audit line.
func AddAuditEntry(ctx context.Context, db *gorm.DB, e *domain.AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(e).Error
}

// ListAuditEntries returns the newest entries first.
func ListAuditEntries(ctx context.Context, db *gorm.DB, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []domain.AuditEntry
	err := db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&out).Error
	return out, err
}
