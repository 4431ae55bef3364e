package assistant

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"medivoice/internal/models"
)

const (
	DefaultPendingReportTTL = 15 * time.Minute
	DefaultSweepInterval    = 5 * time.Minute
)

// StartReportSweeper periodically fails reports left pending longer than ttl,
// which happens when the process stops while a report is being generated.
func (s *Service) StartReportSweeper(ctx context.Context, interval, ttl time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if ttl <= 0 {
		ttl = DefaultPendingReportTTL
	}
	go s.sweepLoop(ctx, interval, ttl)
}

func (s *Service) sweepLoop(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SweepStalePending(ctx, ttl)
			if err != nil {
				log.Error().Err(err).Msg("sweep stale reports")
				continue
			}
			if n > 0 {
				log.Info().Int64("sessions", n).Msg("marked stale pending reports failed")
			}
		}
	}
}

// SweepStalePending marks report_pending sessions untouched for ttl as failed.
func (s *Service) SweepStalePending(ctx context.Context, ttl time.Duration) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE consult_sessions SET status = ?, updated_at = ? WHERE status = ? AND updated_at <= ?`,
		string(models.StatusReportFailed), now, string(models.StatusReportPending), now.Add(-ttl),
	)
	if err != nil {
		return 0, fmt.Errorf("sweep pending reports: %w", err)
	}
	return res.RowsAffected()
}
