package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/technosupport/ts-alarms/internal/logger"
)

// MinRetention guards against a typo wiping the journal.
const MinRetention = 24 * time.Hour

const DefaultPurgeInterval = time.Hour

// CheckRetention validates a configured retention. Zero keeps rows forever.
func CheckRetention(retention time.Duration) error {
	if retention != 0 && retention < MinRetention {
		return fmt.Errorf("journal retention must be at least %s (requested: %s)", MinRetention, retention)
	}
	return nil
}

// PurgeBefore deletes rows emitted before cutoff and returns how many went.
func (s *Service) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM alarm_journal WHERE emitted_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("journal purge: %w", err)
	}
	return res.RowsAffected()
}

// StartRetention purges rows older than retention every interval.
func (s *Service) StartRetention(ctx context.Context, retention, interval time.Duration) {
	if retention <= 0 {
		return
	}
	if interval <= 0 {
		interval = DefaultPurgeInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.PurgeBefore(ctx, time.Now().Add(-retention))
				if err != nil {
					logger.ErrorKV(ctx, "journal retention failed", "err", err)
					continue
				}
				if n > 0 {
					logger.InfoKV(ctx, "journal retention purged", "rows", n)
				}
			}
		}
	}()
}
