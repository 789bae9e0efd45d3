package syncer

import (
	"context"
	"errors"

	"github.com/digsapp/digs/internal/domain"
)

// syncReleaseDetails enriches up to batchSize rows that have never been
// detail-synced. One bad release must not block the rest: per-item
// failures are logged and counted, except auth expiry, which aborts the
// whole sync so the orchestrator can force a logout. (0, 0, nil) means
// the stage is complete.
func (e *Engine) syncReleaseDetails(ctx context.Context, batchSize int) (processed, failed int, err error) {
	pending, err := e.store.ReleasesNeedingDetail(ctx, batchSize)
	if err != nil {
		return 0, 0, err
	}
	if len(pending) == 0 {
		return 0, 0, nil
	}

	foreground := e.tracker.Status().Syncing

	for i, release := range pending {
		if err := ctx.Err(); err != nil {
			return processed, failed, err
		}
		if foreground {
			e.tracker.setProgress(i+1, len(pending))
		}

		enrichment, err := e.api.ReleaseDetail(ctx, release.ReleaseID)
		if err != nil {
			if errors.Is(err, domain.ErrAuthExpired) || errors.Is(err, context.Canceled) {
				return processed, failed, err
			}
			e.logger.Warn("release detail fetch failed",
				"release_id", release.ReleaseID, "instance_id", release.InstanceID, "error", err)
			failed++
			continue
		}

		enrichment.DetailSyncedAt = e.now()
		if err := e.store.ApplyEnrichment(ctx, release.InstanceID, *enrichment); err != nil {
			return processed, failed, err
		}
		processed++
	}
	return processed, failed, nil
}
