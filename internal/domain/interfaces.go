package domain

import (
	"context"
	"time"
)

// PageRequest selects one page of a per-folder collection listing.
// Sort/SortOrder are passed through verbatim when non-empty; the
// incremental sync relies on "added"/"desc" ordering.
type PageRequest struct {
	Page      int
	PerPage   int
	Sort      string
	SortOrder string
}

// CollectionAPI is the remote surface the sync engine consumes: the three
// Discogs operations, already mapped to domain types.
type CollectionAPI interface {
	// Folders returns the complete folder list for a user.
	Folders(ctx context.Context, username string) ([]Folder, error)

	// FolderReleases returns one page of a folder's release listing.
	FolderReleases(ctx context.Context, username string, folderID int64, req PageRequest) (*ReleasePage, error)

	// ReleaseDetail returns enrichment data for a canonical release.
	ReleaseDetail(ctx context.Context, releaseID int64) (*Enrichment, error)
}

// CollectionStore is the local persisted collection: folders and release
// rows plus the full-text index the store keeps consistent itself.
type CollectionStore interface {
	UpsertFolders(ctx context.Context, folders []Folder) error
	Folders(ctx context.Context) ([]Folder, error)

	UpsertReleases(ctx context.Context, releases []Release) error
	// DeleteReleasesNotSeen removes rows in folderID whose instance id is
	// absent from seen, returning the number of deleted rows.
	DeleteReleasesNotSeen(ctx context.Context, folderID int64, seen map[int64]struct{}) (int, error)
	CountReleases(ctx context.Context, folderID int64) (int, error)

	ReleasesNeedingDetail(ctx context.Context, limit int) ([]Release, error)
	ApplyEnrichment(ctx context.Context, instanceID int64, e Enrichment) error
}

// SessionStore persists what must survive restarts outside the relational
// store: credentials and the last successful full-sync timestamp.
type SessionStore interface {
	Credentials() (*Credentials, error)
	SaveCredentials(creds Credentials) error
	ClearCredentials() error

	LastFullSyncAt() (time.Time, bool, error)
	SetLastFullSyncAt(t time.Time) error
}
