package syncer

import (
	"context"
	"time"

	"github.com/digsapp/digs/internal/domain"
)

// syncFolderList returns the folders to traverse: everything local except
// the virtual "All" aggregate (traversing it would double-count every
// release). When only the aggregate exists, a synthetic Uncategorized
// folder guarantees at least one walk.
func (e *Engine) syncFolderList(ctx context.Context) ([]domain.Folder, error) {
	folders, err := e.store.Folders(ctx)
	if err != nil {
		return nil, err
	}

	real := folders[:0:0]
	for _, f := range folders {
		if f.ID != domain.AllFolderID {
			real = append(real, f)
		}
	}
	if len(real) == 0 {
		real = []domain.Folder{{ID: domain.UncategorizedFolderID, Name: "Uncategorized"}}
	}
	return real, nil
}

// syncBasicReleases walks every folder's listing page by page, upserting
// each page in one transaction, then deletes local rows the walk never
// saw. Progress is cumulative across folders against the sum of
// remote-reported folder counts.
func (e *Engine) syncBasicReleases(ctx context.Context, username string) error {
	e.tracker.setPhase(PhaseBasicReleases)

	folders, err := e.syncFolderList(ctx)
	if err != nil {
		return err
	}

	total := 0
	for _, f := range folders {
		total += f.Count
	}

	processed := 0
	for _, folder := range folders {
		seen := make(map[int64]struct{})
		page := 1
		for {
			if err := ctx.Err(); err != nil {
				return err
			}

			resp, err := e.api.FolderReleases(ctx, username, folder.ID, domain.PageRequest{
				Page:    page,
				PerPage: e.opts.PageSize,
			})
			if err != nil {
				return err
			}

			now := e.now()
			rows := resp.Releases
			for i := range rows {
				rows[i].BasicSyncedAt = now
				seen[rows[i].InstanceID] = struct{}{}
			}
			if err := e.store.UpsertReleases(ctx, rows); err != nil {
				return err
			}

			processed += len(rows)
			e.tracker.setProgress(processed, total)

			if len(rows) == 0 || page >= resp.Pages {
				break
			}
			page++
		}

		// Reconcile remote deletions within this folder.
		deleted, err := e.store.DeleteReleasesNotSeen(ctx, folder.ID, seen)
		if err != nil {
			return err
		}
		if deleted > 0 {
			e.logger.Info("pruned removed releases", "folder_id", folder.ID, "deleted", deleted)
		}
	}
	return nil
}

// syncBasicReleasesIncremental is the cheap periodic re-sync: per folder
// it pages newest-first and stops at the first item at or before the
// cutoff, then skips deletion reconciliation entirely when the local
// count matches the folder's remote-reported count. Diverging folders
// degrade to a full unsorted walk purely to rebuild the seen set.
func (e *Engine) syncBasicReleasesIncremental(ctx context.Context, username string, since time.Time) error {
	e.tracker.setPhase(PhaseBasicReleases)

	folders, err := e.syncFolderList(ctx)
	if err != nil {
		return err
	}

	total := 0
	for _, f := range folders {
		total += f.Count
	}

	processed := 0
	for _, folder := range folders {
		page := 1
	pages:
		for {
			if err := ctx.Err(); err != nil {
				return err
			}

			resp, err := e.api.FolderReleases(ctx, username, folder.ID, domain.PageRequest{
				Page:      page,
				PerPage:   e.opts.PageSize,
				Sort:      "added",
				SortOrder: "desc",
			})
			if err != nil {
				return err
			}

			now := e.now()
			var fresh []domain.Release
			cutoffHit := false
			for _, r := range resp.Releases {
				// Newest-first order: everything after the first
				// at-or-before-cutoff item is older too.
				if !r.DateAdded.After(since) {
					cutoffHit = true
					break
				}
				r.BasicSyncedAt = now
				fresh = append(fresh, r)
			}

			if err := e.store.UpsertReleases(ctx, fresh); err != nil {
				return err
			}
			processed += len(fresh)
			e.tracker.setProgress(processed, total)

			if cutoffHit || len(resp.Releases) == 0 || page >= resp.Pages {
				break pages
			}
			page++
		}

		if err := e.reconcileFolderIfDiverged(ctx, username, folder); err != nil {
			return err
		}
	}
	return nil
}

// reconcileFolderIfDiverged compares the local row count against the
// folder's remote-reported count. Parity means no remote deletions
// happened and reconciliation is skipped; divergence triggers a full
// paginated walk that only rebuilds the seen set for pruning.
func (e *Engine) reconcileFolderIfDiverged(ctx context.Context, username string, folder domain.Folder) error {
	local, err := e.store.CountReleases(ctx, folder.ID)
	if err != nil {
		return err
	}
	if local == folder.Count {
		return nil
	}

	e.logger.Info("folder diverged, reconciling deletions",
		"folder_id", folder.ID, "local", local, "remote", folder.Count)

	seen := make(map[int64]struct{})
	page := 1
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		resp, err := e.api.FolderReleases(ctx, username, folder.ID, domain.PageRequest{
			Page:    page,
			PerPage: e.opts.PageSize,
		})
		if err != nil {
			return err
		}
		for _, r := range resp.Releases {
			seen[r.InstanceID] = struct{}{}
		}
		if len(resp.Releases) == 0 || page >= resp.Pages {
			break
		}
		page++
	}

	deleted, err := e.store.DeleteReleasesNotSeen(ctx, folder.ID, seen)
	if err != nil {
		return err
	}
	if deleted > 0 {
		e.logger.Info("pruned removed releases", "folder_id", folder.ID, "deleted", deleted)
	}
	return nil
}
