// Package services – Sweeper
//
// The Sweeper enforces retention: answered requests are deleted a short
// while after their secret was stored, unanswered requests after a longer
// window. Each purge is an independent transaction and re-running it with the
// same cutoff deletes nothing.
package services

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// Sweeper purges expired requests.
type Sweeper struct {
	DB   *gorm.DB
	Repo Repository
	Log  zerolog.Logger

	ExpireAnsweredAfter   time.Duration
	ExpireUnansweredAfter time.Duration

	Now func() time.Time
}

// NewSweeper returns a Sweeper with the given retention windows. Zero windows
// fall back to one hour (answered) and one day (unanswered).
func NewSweeper(db *gorm.DB, r Repository, log zerolog.Logger, answered, unanswered time.Duration) *Sweeper {
	if answered <= 0 {
		answered = time.Hour
	}
	if unanswered <= 0 {
		unanswered = 24 * time.Hour
	}
	return &Sweeper{
		DB:                    db,
		Repo:                  r,
		Log:                   log.With().Str("component", "sweeper").Logger(),
		ExpireAnsweredAfter:   answered,
		ExpireUnansweredAfter: unanswered,
		Now:                   func() time.Time { return time.Now().UTC() },
	}
}

// PurgeAnsweredRequests deletes requests whose secret was stored before
// olderThan, with the secret itself.
func (s *Sweeper) PurgeAnsweredRequests(ctx context.Context, olderThan time.Time) (int64, error) {
	const op = "PurgeAnsweredRequests"
	ctx, span := otel.Tracer("services/Sweeper").Start(ctx, op)
	defer span.End()

	n, err := s.Repo.DeleteAnsweredRequests(ctx, s.DB, olderThan)
	if err != nil {
		return 0, newErr(KindDataException, op, "delete", err)
	}
	span.SetAttributes(attribute.Int64("deleted", n))
	if n > 0 {
		secretEvents.WithLabelValues(eventPurged).Add(float64(n))
		s.Log.Info().Int64("deleted", n).Time("cutoff", olderThan).Msg("Purged answered requests")
	}
	return n, nil
}

// PurgeUnansweredRequests deletes requests created before olderThan that
// never received a secret.
func (s *Sweeper) PurgeUnansweredRequests(ctx context.Context, olderThan time.Time) (int64, error) {
	const op = "PurgeUnansweredRequests"
	ctx, span := otel.Tracer("services/Sweeper").Start(ctx, op)
	defer span.End()

	n, err := s.Repo.DeleteUnansweredRequests(ctx, s.DB, olderThan)
	if err != nil {
		return 0, newErr(KindDataException, op, "delete", err)
	}
	span.SetAttributes(attribute.Int64("deleted", n))
	if n > 0 {
		secretEvents.WithLabelValues(eventPurged).Add(float64(n))
		s.Log.Info().Int64("deleted", n).Time("cutoff", olderThan).Msg("Purged unanswered requests")
	}
	return n, nil
}

// PurgeIdempotencyKeys drops Idempotency-Key records that expired at or
// before now. Their requests are left alone.
func (s *Sweeper) PurgeIdempotencyKeys(ctx context.Context, now time.Time) (int64, error) {
	const op = "PurgeIdempotencyKeys"
	ctx, span := otel.Tracer("services/Sweeper").Start(ctx, op)
	defer span.End()

	n, err := s.Repo.DeleteExpiredIdempotency(ctx, s.DB, now)
	if err != nil {
		return 0, newErr(KindDataException, op, "delete", err)
	}
	span.SetAttributes(attribute.Int64("deleted", n))
	if n > 0 {
		s.Log.Debug().Int64("deleted", n).Msg("Purged idempotency keys")
	}
	return n, nil
}

// MaintenanceResult reports how many rows each purge removed.
type MaintenanceResult struct {
	Answered        int64 `json:"answered"`
	Unanswered      int64 `json:"unanswered"`
	IdempotencyKeys int64 `json:"idempotency_keys"`
}

// Maintenance runs the request purges with cutoffs relative to now, then
// drops expired idempotency keys. On error the counts done so far are
// returned with it.
func (s *Sweeper) Maintenance(ctx context.Context) (*MaintenanceResult, error) {
	now := s.Now()
	res := &MaintenanceResult{}
	var err error
	if res.Answered, err = s.PurgeAnsweredRequests(ctx, now.Add(-s.ExpireAnsweredAfter)); err != nil {
		return res, err
	}
	if res.Unanswered, err = s.PurgeUnansweredRequests(ctx, now.Add(-s.ExpireUnansweredAfter)); err != nil {
		return res, err
	}
	if res.IdempotencyKeys, err = s.PurgeIdempotencyKeys(ctx, now); err != nil {
		return res, err
	}
	return res, nil
}

// Schedule registers Maintenance on c using a cron spec such as
// "@every 5m". Runs never overlap.
func (s *Sweeper) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	job := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
		if _, err := s.Maintenance(context.Background()); err != nil {
			s.Log.Error().Err(err).Msg("Maintenance failed")
		}
	}))
	return c.AddJob(spec, job)
}
