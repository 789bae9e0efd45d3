package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digsapp/digs/internal/domain"
	"github.com/digsapp/digs/internal/log"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", log.NullLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRelease(instanceID, folderID int64, title string, artist string) domain.Release {
	return domain.Release{
		InstanceID: instanceID,
		ReleaseID:  instanceID + 1000000,
		FolderID:   folderID,
		Title:      title,
		Year:       1999,
		Artists:    []domain.Artist{{Name: artist, ID: 42}},
		Labels:     []domain.Label{{Name: "Impulse!", CatNo: "A-77"}},
		Formats:    []domain.Format{{Name: "Vinyl", Qty: "1", Descriptions: []string{"LP"}}},
		Genres:     []string{"Jazz"},
		DateAdded:  time.Date(2022, 6, 30, 0, 23, 57, 0, time.UTC).Add(time.Duration(instanceID) * time.Minute),

		BasicSyncedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestUpsertFolders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertFolders(ctx, []domain.Folder{
		{ID: 1, Name: "Uncategorized", Count: 10},
		{ID: 9182214, Name: "Jungle", Count: 29},
	}))

	// Second sync overwrites name and count.
	require.NoError(t, s.UpsertFolders(ctx, []domain.Folder{
		{ID: 9182214, Name: "Jungle / Breaks", Count: 31},
	}))

	folders, err := s.Folders(ctx)
	require.NoError(t, err)
	require.Len(t, folders, 2)
	assert.Equal(t, "Uncategorized", folders[0].Name)
	assert.Equal(t, "Jungle / Breaks", folders[1].Name)
	assert.Equal(t, 31, folders[1].Count)

	f, err := s.FolderByID(ctx, 9182214)
	require.NoError(t, err)
	assert.Equal(t, 31, f.Count)

	_, err = s.FolderByID(ctx, 404)
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
}

func TestUpsertReleasesPreservesEnrichment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := testRelease(1, 1, "Blue Train", "John Coltrane")
	require.NoError(t, s.UpsertReleases(ctx, []domain.Release{r}))

	syncedAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.ApplyEnrichment(ctx, 1, domain.Enrichment{
		Tracklist:       []domain.Track{{Position: "A1", Title: "Blue Train", Duration: "10:43"}},
		CommunityRating: 4.7,
		CommunityHave:   50000,
		CommunityWant:   12000,
		DetailSyncedAt:  syncedAt,
	}))

	// A later basic sync touches the same row.
	r.Title = "Blue Train (Remastered)"
	require.NoError(t, s.UpsertReleases(ctx, []domain.Release{r}))

	got, err := s.ReleaseByReleaseID(ctx, r.ReleaseID)
	require.NoError(t, err)
	assert.Equal(t, "Blue Train (Remastered)", got.Title)
	require.Len(t, got.Tracklist, 1)
	assert.Equal(t, "10:43", got.Tracklist[0].Duration)
	assert.Equal(t, 4.7, got.CommunityRating)
	require.NotNil(t, got.DetailSyncedAt)
	assert.True(t, got.DetailSyncedAt.Equal(syncedAt))
	assert.False(t, got.NeedsDetail())
}

func TestReleasesNeedingDetail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, s.UpsertReleases(ctx, []domain.Release{
			testRelease(i, 1, fmt.Sprintf("Record %d", i), "Various"),
		}))
	}
	require.NoError(t, s.ApplyEnrichment(ctx, 2, domain.Enrichment{DetailSyncedAt: time.Now()}))

	pending, err := s.ReleasesNeedingDetail(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, pending, 3)
	for _, r := range pending {
		assert.True(t, r.NeedsDetail())
		assert.NotEqual(t, int64(2), r.InstanceID)
	}

	progress, err := s.DetailProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DetailProgress{Total: 5, Synced: 1}, progress)
}

func TestDeleteReleasesNotSeen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 4; i++ {
		require.NoError(t, s.UpsertReleases(ctx, []domain.Release{
			testRelease(i, 1, fmt.Sprintf("Record %d", i), "Various"),
		}))
	}
	require.NoError(t, s.UpsertReleases(ctx, []domain.Release{
		testRelease(99, 2, "Other Folder", "Various"),
	}))

	deleted, err := s.DeleteReleasesNotSeen(ctx, 1, map[int64]struct{}{
		1: {}, 3: {},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	n, err := s.CountReleases(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Other folders are untouched.
	n, err = s.CountReleases(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Empty seen-set wipes the folder.
	deleted, err = s.DeleteReleasesNotSeen(ctx, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
}

func TestDeleteReleasesNotSeenLargeSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const rows = 1200
	batch := make([]domain.Release, 0, rows)
	for i := int64(1); i <= rows; i++ {
		batch = append(batch, testRelease(i, 1, fmt.Sprintf("Record %d", i), "Various"))
	}
	require.NoError(t, s.UpsertReleases(ctx, batch))

	// Seen-set larger than the parameter ceiling forces the diff path;
	// every 3rd row disappeared remotely.
	seen := make(map[int64]struct{})
	for i := int64(1); i <= rows; i++ {
		if i%3 != 0 {
			seen[i] = struct{}{}
		}
	}

	deleted, err := s.DeleteReleasesNotSeen(ctx, 1, seen)
	require.NoError(t, err)
	assert.Equal(t, rows/3, deleted)

	n, err := s.CountReleases(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, len(seen), n)
}

func TestSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertReleases(ctx, []domain.Release{
		testRelease(1, 1, "Blue Train", "John Coltrane"),
		testRelease(2, 1, "A Love Supreme", "John Coltrane"),
		testRelease(3, 1, "Kind Of Blue", "Miles Davis"),
	}))

	t.Run("by title prefix", func(t *testing.T) {
		results, err := s.Search(ctx, "blu")
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})

	t.Run("by artist", func(t *testing.T) {
		results, err := s.Search(ctx, "coltrane")
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})

	t.Run("multiple terms narrow", func(t *testing.T) {
		results, err := s.Search(ctx, "coltrane train")
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "Blue Train", results[0].Title)
	})

	t.Run("quotes are stripped", func(t *testing.T) {
		results, err := s.Search(ctx, `"coltrane`)
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})

	t.Run("blank query", func(t *testing.T) {
		results, err := s.Search(ctx, "   ")
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("index follows updates", func(t *testing.T) {
		r := testRelease(3, 1, "Bitches Brew", "Miles Davis")
		require.NoError(t, s.UpsertReleases(ctx, []domain.Release{r}))

		results, err := s.Search(ctx, "kind")
		require.NoError(t, err)
		assert.Empty(t, results)

		results, err = s.Search(ctx, "bitches")
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})

	t.Run("index follows deletes", func(t *testing.T) {
		_, err := s.DeleteReleasesNotSeen(ctx, 1, map[int64]struct{}{1: {}, 2: {}})
		require.NoError(t, err)

		results, err := s.Search(ctx, "bitches")
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestReleasesByFolder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertReleases(ctx, []domain.Release{
		testRelease(1, 1, "Oldest", "A"),
		testRelease(2, 2, "Middle", "B"),
		testRelease(3, 1, "Newest", "C"),
	}))

	// Folder 0 means the whole collection, newest first.
	all, err := s.ReleasesByFolder(ctx, domain.AllFolderID)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Newest", all[0].Title)
	assert.Equal(t, "Oldest", all[2].Title)

	scoped, err := s.ReleasesByFolder(ctx, 2)
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "Middle", scoped[0].Title)
}

func TestStatsAndClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertReleases(ctx, []domain.Release{
		testRelease(1, 1, "Blue Train", "John Coltrane"),
		testRelease(2, 1, "A Love Supreme", "John Coltrane"),
		testRelease(3, 1, "Kind Of Blue", "Miles Davis"),
	}))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalReleases)
	assert.Equal(t, 2, stats.TotalArtists)

	require.NoError(t, s.ClearReleases(ctx))

	n, err := s.CountReleases(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, n)

	results, err := s.Search(ctx, "coltrane")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRandomRelease(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.RandomRelease(ctx, domain.AllFolderID)
	assert.ErrorIs(t, err, domain.ErrItemNotFound)

	require.NoError(t, s.UpsertReleases(ctx, []domain.Release{
		testRelease(1, 1, "Blue Train", "John Coltrane"),
		testRelease(2, 2, "Kind Of Blue", "Miles Davis"),
	}))

	r, err := s.RandomRelease(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "Kind Of Blue", r.Title)
}
