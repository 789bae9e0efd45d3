package syncer

import "context"

// syncFolders fetches the complete folder list (one call, no pagination)
// and upserts it in a single transaction. Folders removed remotely are
// left stale locally; folder deletion is not modeled.
func (e *Engine) syncFolders(ctx context.Context, username string) error {
	e.tracker.setPhase(PhaseFolders)

	folders, err := e.api.Folders(ctx, username)
	if err != nil {
		return err
	}
	if err := e.store.UpsertFolders(ctx, folders); err != nil {
		return err
	}

	e.logger.Info("folders synced", "count", len(folders))
	return nil
}
