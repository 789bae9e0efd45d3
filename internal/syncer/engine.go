// Package syncer reconciles a remote Discogs collection against the
// local store: folders, then paginated basic release listings, then
// per-release detail enrichment, all gated by the shared rate limiter
// and cancellable at every page/batch/item boundary.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/digsapp/digs/internal/domain"
)

// Options tune the pipeline; the zero value gives production defaults.
type Options struct {
	PageSize           int           // collection listing page size
	DetailBatchSize    int           // releases per detail batch
	ForegroundBatchCap int           // max detail batches per foreground session
	BatchPause         time.Duration // pause between foreground detail batches
}

func (o *Options) fill() {
	if o.PageSize <= 0 {
		o.PageSize = 100
	}
	if o.DetailBatchSize <= 0 {
		o.DetailBatchSize = 10
	}
	if o.ForegroundBatchCap <= 0 {
		o.ForegroundBatchCap = 30
	}
	if o.BatchPause <= 0 {
		o.BatchPause = time.Second
	}
}

// Engine composes the sync stages into a cancellable pipeline over the
// shared Tracker state machine.
type Engine struct {
	api     domain.CollectionAPI
	store   domain.CollectionStore
	session domain.SessionStore
	tracker *Tracker
	logger  *slog.Logger
	opts    Options

	// Logout runs the forced-logout side effects when the remote
	// rejects our credentials mid-sync.
	Logout func(ctx context.Context)

	// Cache-invalidation hooks for the presentation layer.
	OnFoldersChanged  func()
	OnReleasesChanged func()

	now func() time.Time
}

// New creates a sync engine.
func New(api domain.CollectionAPI, store domain.CollectionStore, session domain.SessionStore, tracker *Tracker, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if tracker == nil {
		tracker = NewTracker()
	}
	opts.fill()
	return &Engine{
		api:     api,
		store:   store,
		session: session,
		tracker: tracker,
		logger:  logger,
		opts:    opts,
		now:     time.Now,
	}
}

// Tracker exposes the shared sync state for observers.
func (e *Engine) Tracker() *Tracker {
	return e.tracker
}

// RunFullSync walks folders, every release page of every folder, then
// drives detail batches. A no-op while another session is active.
func (e *Engine) RunFullSync(ctx context.Context, username string) error {
	return e.runPipeline(ctx, username, func(ctx context.Context, username string) error {
		return e.syncBasicReleases(ctx, username)
	})
}

// RunIncrementalSync re-syncs only releases added since the last full
// sync, falling back per folder to a full walk when counts diverge.
// A no-op when no full sync has completed yet.
func (e *Engine) RunIncrementalSync(ctx context.Context, username string) error {
	since, ok, err := e.session.LastFullSyncAt()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return e.runPipeline(ctx, username, func(ctx context.Context, username string) error {
		return e.syncBasicReleasesIncremental(ctx, username, since)
	})
}

// runPipeline is the shared orchestration: session guard, folder stage,
// release stage, success timestamp, detail loop, and the single place
// errors become user-visible state.
func (e *Engine) runPipeline(parent context.Context, username string, releaseStep func(context.Context, string) error) error {
	ctx, ok := e.tracker.begin(parent)
	if !ok {
		e.logger.Debug("sync already active, skipping")
		return nil
	}

	err := e.runStages(ctx, username, releaseStep)
	switch {
	case err == nil:
		e.tracker.finish()
		return nil
	case errors.Is(err, context.Canceled):
		// Cooperative abort is a silent early exit, not a failure.
		e.logger.Info("sync cancelled")
		e.tracker.finish()
		return nil
	case errors.Is(err, domain.ErrAuthExpired):
		// Controlled exit: clear the session rather than show an error.
		e.logger.Warn("credentials rejected during sync, logging out")
		if e.Logout != nil {
			e.Logout(context.WithoutCancel(ctx))
		}
		e.tracker.finish()
		return nil
	default:
		e.logger.Error("sync failed", "error", err)
		e.tracker.fail(err.Error())
		return err
	}
}

func (e *Engine) runStages(ctx context.Context, username string, releaseStep func(context.Context, string) error) error {
	if err := e.syncFolders(ctx, username); err != nil {
		return err
	}
	if e.OnFoldersChanged != nil {
		e.OnFoldersChanged()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := releaseStep(ctx, username); err != nil {
		return err
	}
	if e.OnReleasesChanged != nil {
		e.OnReleasesChanged()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	completedAt := e.now()
	if err := e.session.SetLastFullSyncAt(completedAt); err != nil {
		return err
	}
	e.tracker.setLastFullSyncAt(completedAt)

	e.tracker.setPhase(PhaseDetails)
	return e.runDetailLoop(ctx)
}

// runDetailLoop drives foreground detail batches until nothing is
// pending or the per-session cap is reached. Remaining rows are picked
// up by later background batches.
func (e *Engine) runDetailLoop(ctx context.Context) error {
	totalFailed := 0
	for batch := 0; batch < e.opts.ForegroundBatchCap; batch++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		processed, failed, err := e.syncReleaseDetails(ctx, e.opts.DetailBatchSize)
		if err != nil {
			if errors.Is(err, domain.ErrAuthExpired) || errors.Is(err, context.Canceled) {
				return err
			}
			e.logger.Warn("detail sync loop stopped", "error", err)
			return nil
		}

		totalFailed += failed
		if failed > 0 {
			e.tracker.setDetailFailed(totalFailed)
		}
		if processed == 0 && failed == 0 {
			return nil
		}

		// Brief pause between batches to stay friendly to the limiter.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.opts.BatchPause):
		}
	}
	e.logger.Info("foreground detail cap reached, remainder left to background batches")
	return nil
}

// RunDetailBatch is the external-scheduler entry point: detail-stage
// work only, up to maxReleases, all errors swallowed since there is no
// foreground observer to report to. Returns the number processed.
func (e *Engine) RunDetailBatch(ctx context.Context, maxReleases int) int {
	if maxReleases <= 0 {
		maxReleases = e.opts.DetailBatchSize
	}
	if e.tracker.Status().Syncing {
		e.logger.Debug("foreground sync active, skipping background batch")
		return 0
	}

	totalProcessed := 0
	for totalProcessed < maxReleases {
		processed, failed, err := e.syncReleaseDetails(ctx, min(e.opts.DetailBatchSize, maxReleases-totalProcessed))
		if err != nil {
			e.logger.Warn("background detail batch failed", "error", err)
			break
		}
		totalProcessed += processed
		if processed == 0 && failed == 0 {
			break
		}
	}
	if totalProcessed > 0 && e.OnReleasesChanged != nil {
		e.OnReleasesChanged()
	}
	return totalProcessed
}
