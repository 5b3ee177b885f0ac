package auditrunner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"siteaudit/internal/ports"
)

// SweepOnce fails audits that have been processing for longer than staleAfter.
// Their worker is assumed lost; a processing audit cannot go back to pending.
func SweepOnce(ctx context.Context, repo ports.AuditRepository, staleAfter time.Duration, now time.Time) ([]int64, error) {
	if staleAfter <= 0 {
		return nil, nil
	}
	return repo.FailStaleProcessing(ctx, now.Add(-staleAfter))
}

// RunSweeper sweeps once immediately and then every interval until ctx is done.
func RunSweeper(ctx context.Context, repo ports.AuditRepository, staleAfter, interval time.Duration, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	sweep := func() {
		ids, err := SweepOnce(ctx, repo, staleAfter, time.Now())
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("stale audit sweep failed", zap.Error(err))
			}
			return
		}
		if len(ids) > 0 {
			log.Warn("failed stale audits", zap.Int64s("audit_ids", ids))
		}
	}
	sweep()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
