// Package store persists the mirrored collection. The relational store is
// SQLite with an FTS5 index over title/artists/labels kept consistent by
// triggers; build with -tags sqlite_fts5.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/digsapp/digs/internal/domain"
)

// maxDeleteParams bounds how many instance ids a single NOT IN / IN
// clause may carry, staying under SQLite's host-parameter ceiling.
const maxDeleteParams = 500

// Store is the SQLite-backed collection store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the collection database at path and
// runs migrations. Use ":memory:" for an ephemeral store.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open collection db: %w", err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS folders (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS releases (
			instance_id INTEGER PRIMARY KEY,
			release_id INTEGER NOT NULL,
			folder_id INTEGER NOT NULL,
			title TEXT NOT NULL,
			year INTEGER,
			artists TEXT,
			labels TEXT,
			formats TEXT,
			genres TEXT,
			styles TEXT,
			thumb_url TEXT,
			cover_url TEXT,
			date_added TEXT,
			tracklist TEXT,
			images TEXT,
			community_rating REAL,
			community_have INTEGER,
			community_want INTEGER,
			videos TEXT,
			detail_synced_at TEXT,
			basic_synced_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_releases_release_id ON releases(release_id)`,
		`CREATE INDEX IF NOT EXISTS idx_releases_folder_id ON releases(folder_id)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS releases_fts USING fts5(
			title,
			artists,
			labels,
			content='releases',
			content_rowid='instance_id'
		)`,
		`CREATE TRIGGER IF NOT EXISTS releases_ai AFTER INSERT ON releases BEGIN
			INSERT INTO releases_fts(rowid, title, artists, labels)
			VALUES (new.instance_id, new.title, new.artists, new.labels);
		END`,
		`CREATE TRIGGER IF NOT EXISTS releases_ad AFTER DELETE ON releases BEGIN
			INSERT INTO releases_fts(releases_fts, rowid, title, artists, labels)
			VALUES ('delete', old.instance_id, old.title, old.artists, old.labels);
		END`,
		`CREATE TRIGGER IF NOT EXISTS releases_au AFTER UPDATE ON releases BEGIN
			INSERT INTO releases_fts(releases_fts, rowid, title, artists, labels)
			VALUES ('delete', old.instance_id, old.title, old.artists, old.labels);
			INSERT INTO releases_fts(rowid, title, artists, labels)
			VALUES (new.instance_id, new.title, new.artists, new.labels);
		END`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate collection db: %w", err)
		}
	}
	return nil
}

// === Folders ===

// UpsertFolders writes the remote folder list in one transaction. Name
// and count are always overwritten to remote truth. Folders removed
// remotely are left in place; folder deletion is not reconciled.
func (s *Store) UpsertFolders(ctx context.Context, folders []domain.Folder) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO folders (id, name, count) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, count = excluded.count`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range folders {
		if _, err := stmt.ExecContext(ctx, f.ID, f.Name, f.Count); err != nil {
			return fmt.Errorf("upsert folder %d: %w", f.ID, err)
		}
	}
	return tx.Commit()
}

// Folders returns all known folders ordered by id.
func (s *Store) Folders(ctx context.Context) ([]domain.Folder, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, count FROM folders ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Folder
	for rows.Next() {
		var f domain.Folder
		if err := rows.Scan(&f.ID, &f.Name, &f.Count); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// FolderByID returns one folder or ErrItemNotFound.
func (s *Store) FolderByID(ctx context.Context, id int64) (*domain.Folder, error) {
	var f domain.Folder
	err := s.db.QueryRowContext(ctx, `SELECT id, name, count FROM folders WHERE id = ?`, id).
		Scan(&f.ID, &f.Name, &f.Count)
	if err == sql.ErrNoRows {
		return nil, domain.ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// === Releases ===

const releaseColumns = `instance_id, release_id, folder_id, title, year,
	artists, labels, formats, genres, styles, thumb_url, cover_url,
	date_added, tracklist, images, community_rating, community_have,
	community_want, videos, detail_synced_at, basic_synced_at`

// UpsertReleases writes one page of basic release rows in a single
// transaction. Conflicting rows keep their enrichment columns; only the
// basic columns are overwritten.
func (s *Store) UpsertReleases(ctx context.Context, releases []domain.Release) error {
	if len(releases) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO releases
		(instance_id, release_id, folder_id, title, year, artists, labels,
		 formats, genres, styles, thumb_url, cover_url, date_added, basic_synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(instance_id) DO UPDATE SET
			release_id = excluded.release_id,
			folder_id = excluded.folder_id,
			title = excluded.title,
			year = excluded.year,
			artists = excluded.artists,
			labels = excluded.labels,
			formats = excluded.formats,
			genres = excluded.genres,
			styles = excluded.styles,
			thumb_url = excluded.thumb_url,
			cover_url = excluded.cover_url,
			date_added = excluded.date_added,
			basic_synced_at = excluded.basic_synced_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range releases {
		artists, err := toJSON(r.Artists)
		if err != nil {
			return err
		}
		labels, err := toJSON(r.Labels)
		if err != nil {
			return err
		}
		formats, err := toJSON(r.Formats)
		if err != nil {
			return err
		}
		genres, err := toJSON(r.Genres)
		if err != nil {
			return err
		}
		styles, err := toJSON(r.Styles)
		if err != nil {
			return err
		}

		_, err = stmt.ExecContext(ctx, r.InstanceID, r.ReleaseID, r.FolderID,
			r.Title, r.Year, artists, labels, formats, genres, styles,
			r.ThumbURL, r.CoverURL, timeToCol(r.DateAdded), timeToCol(r.BasicSyncedAt))
		if err != nil {
			return fmt.Errorf("upsert release %d: %w", r.InstanceID, err)
		}
	}
	return tx.Commit()
}

// DeleteReleasesNotSeen removes rows in folderID whose instance id is not
// in seen. Small seen-sets use a single NOT IN delete; larger ones are
// diffed in memory and deleted in bounded batches to stay under the
// host-parameter ceiling.
func (s *Store) DeleteReleasesNotSeen(ctx context.Context, folderID int64, seen map[int64]struct{}) (int, error) {
	if len(seen) == 0 {
		res, err := s.db.ExecContext(ctx, `DELETE FROM releases WHERE folder_id = ?`, folderID)
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		return int(n), nil
	}

	if len(seen) <= maxDeleteParams {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(seen)), ",")
		args := make([]any, 0, len(seen)+1)
		args = append(args, folderID)
		for id := range seen {
			args = append(args, id)
		}
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM releases WHERE folder_id = ? AND instance_id NOT IN (`+placeholders+`)`, args...)
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		return int(n), nil
	}

	// Large seen-set: fetch the folder's local ids and diff in memory.
	rows, err := s.db.QueryContext(ctx, `SELECT instance_id FROM releases WHERE folder_id = ?`, folderID)
	if err != nil {
		return 0, err
	}
	var stale []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		if _, ok := seen[id]; !ok {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	deleted := 0
	for start := 0; start < len(stale); start += maxDeleteParams {
		end := min(start+maxDeleteParams, len(stale))
		batch := stale[start:end]
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")
		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM releases WHERE instance_id IN (`+placeholders+`)`, args...)
		if err != nil {
			return deleted, err
		}
		n, _ := res.RowsAffected()
		deleted += int(n)
	}
	return deleted, nil
}

// CountReleases counts local rows in a folder.
func (s *Store) CountReleases(ctx context.Context, folderID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM releases WHERE folder_id = ?`, folderID).Scan(&n)
	return n, err
}

// ReleasesNeedingDetail returns up to limit rows the detail stage still
// has to enrich, in insertion order.
func (s *Store) ReleasesNeedingDetail(ctx context.Context, limit int) ([]domain.Release, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+releaseColumns+` FROM releases WHERE detail_synced_at IS NULL LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReleases(rows)
}

// ApplyEnrichment writes detail-sync columns for one row and stamps the
// detail-synced timestamp.
func (s *Store) ApplyEnrichment(ctx context.Context, instanceID int64, e domain.Enrichment) error {
	tracklist, err := toJSON(e.Tracklist)
	if err != nil {
		return err
	}
	images, err := toJSON(e.Images)
	if err != nil {
		return err
	}
	videos, err := toJSON(e.Videos)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `UPDATE releases SET
			tracklist = ?, images = ?, videos = ?,
			community_rating = ?, community_have = ?, community_want = ?,
			detail_synced_at = ?
		WHERE instance_id = ?`,
		tracklist, images, videos,
		e.CommunityRating, e.CommunityHave, e.CommunityWant,
		timeToCol(e.DetailSyncedAt), instanceID)
	return err
}

// === Browse/search queries ===

// ReleasesByFolder lists a folder's rows newest-first. Folder 0 lists the
// whole collection.
func (s *Store) ReleasesByFolder(ctx context.Context, folderID int64) ([]domain.Release, error) {
	query := `SELECT ` + releaseColumns + ` FROM releases ORDER BY date_added DESC`
	args := []any{}
	if folderID != domain.AllFolderID {
		query = `SELECT ` + releaseColumns + ` FROM releases WHERE folder_id = ? ORDER BY date_added DESC`
		args = append(args, folderID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReleases(rows)
}

// ReleaseByReleaseID returns one row by canonical release id.
func (s *Store) ReleaseByReleaseID(ctx context.Context, releaseID int64) (*domain.Release, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+releaseColumns+` FROM releases WHERE release_id = ? LIMIT 1`, releaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	releases, err := scanReleases(rows)
	if err != nil {
		return nil, err
	}
	if len(releases) == 0 {
		return nil, domain.ErrItemNotFound
	}
	return &releases[0], nil
}

// RandomRelease picks a random row, optionally scoped to a folder.
func (s *Store) RandomRelease(ctx context.Context, folderID int64) (*domain.Release, error) {
	query := `SELECT ` + releaseColumns + ` FROM releases ORDER BY RANDOM() LIMIT 1`
	args := []any{}
	if folderID != domain.AllFolderID {
		query = `SELECT ` + releaseColumns + ` FROM releases WHERE folder_id = ? ORDER BY RANDOM() LIMIT 1`
		args = append(args, folderID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	releases, err := scanReleases(rows)
	if err != nil {
		return nil, err
	}
	if len(releases) == 0 {
		return nil, domain.ErrItemNotFound
	}
	return &releases[0], nil
}

// Search runs a full-text query over title/artists/labels with per-term
// prefix matching.
func (s *Store) Search(ctx context.Context, query string) ([]domain.Release, error) {
	ftsQuery := buildFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prefixColumns("r")+` FROM releases r
		 JOIN releases_fts fts ON r.instance_id = fts.rowid
		 WHERE releases_fts MATCH ?`, ftsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReleases(rows)
}

// buildFTSQuery quotes each whitespace-separated term and adds a prefix
// wildcard so partial words match.
func buildFTSQuery(query string) string {
	var terms []string
	for _, term := range strings.Fields(query) {
		term = strings.ReplaceAll(term, `"`, "")
		if term == "" {
			continue
		}
		terms = append(terms, `"`+term+`"*`)
	}
	return strings.Join(terms, " ")
}

// DetailProgress reports how much of the collection is detail-synced.
func (s *Store) DetailProgress(ctx context.Context) (domain.DetailProgress, error) {
	var p domain.DetailProgress
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(detail_synced_at) FROM releases`).Scan(&p.Total, &p.Synced)
	return p, err
}

// Stats summarizes the collection: row count and distinct artist names
// pulled out of the artists JSON column.
func (s *Store) Stats(ctx context.Context) (domain.Stats, error) {
	var st domain.Stats
	err := s.db.QueryRowContext(ctx, `SELECT
			COUNT(DISTINCT releases.instance_id),
			COUNT(DISTINCT json_extract(json_each.value, '$.name'))
		FROM releases, json_each(releases.artists)
		WHERE releases.artists IS NOT NULL`).Scan(&st.TotalReleases, &st.TotalArtists)
	if err != nil {
		return st, err
	}
	// json_each drops rows with NULL artists from the count above.
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM releases`).Scan(&st.TotalReleases)
	return st, err
}

// ClearReleases deletes every release row and rebuilds the FTS index.
// Used at logout.
func (s *Store) ClearReleases(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM releases`); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO releases_fts(releases_fts) VALUES('rebuild')`)
	return err
}

// === Row mapping ===

func prefixColumns(alias string) string {
	cols := strings.Split(releaseColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

func scanReleases(rows *sql.Rows) ([]domain.Release, error) {
	var out []domain.Release
	for rows.Next() {
		var (
			r                                        domain.Release
			year                                     sql.NullInt64
			artists, labels, formats, genres, styles sql.NullString
			thumb, cover, dateAdded                  sql.NullString
			tracklist, images, videos                sql.NullString
			rating                                   sql.NullFloat64
			have, want                               sql.NullInt64
			detailSyncedAt, basicSyncedAt            sql.NullString
		)
		err := rows.Scan(&r.InstanceID, &r.ReleaseID, &r.FolderID, &r.Title, &year,
			&artists, &labels, &formats, &genres, &styles, &thumb, &cover,
			&dateAdded, &tracklist, &images, &rating, &have, &want, &videos,
			&detailSyncedAt, &basicSyncedAt)
		if err != nil {
			return nil, err
		}

		r.Year = int(year.Int64)
		r.ThumbURL = thumb.String
		r.CoverURL = cover.String
		r.CommunityRating = rating.Float64
		r.CommunityHave = int(have.Int64)
		r.CommunityWant = int(want.Int64)

		if err := fromJSON(artists, &r.Artists); err != nil {
			return nil, err
		}
		if err := fromJSON(labels, &r.Labels); err != nil {
			return nil, err
		}
		if err := fromJSON(formats, &r.Formats); err != nil {
			return nil, err
		}
		if err := fromJSON(genres, &r.Genres); err != nil {
			return nil, err
		}
		if err := fromJSON(styles, &r.Styles); err != nil {
			return nil, err
		}
		if err := fromJSON(tracklist, &r.Tracklist); err != nil {
			return nil, err
		}
		if err := fromJSON(images, &r.Images); err != nil {
			return nil, err
		}
		if err := fromJSON(videos, &r.Videos); err != nil {
			return nil, err
		}

		r.DateAdded = colToTime(dateAdded)
		r.BasicSyncedAt = colToTime(basicSyncedAt)
		if detailSyncedAt.Valid {
			t := colToTime(detailSyncedAt)
			r.DetailSyncedAt = &t
		}

		out = append(out, r)
	}
	return out, rows.Err()
}

func toJSON(v any) (any, error) {
	switch val := v.(type) {
	case []domain.Artist:
		if len(val) == 0 {
			return nil, nil
		}
	case []domain.Label:
		if len(val) == 0 {
			return nil, nil
		}
	case []domain.Format:
		if len(val) == 0 {
			return nil, nil
		}
	case []domain.Track:
		if len(val) == 0 {
			return nil, nil
		}
	case []domain.Image:
		if len(val) == 0 {
			return nil, nil
		}
	case []domain.Video:
		if len(val) == 0 {
			return nil, nil
		}
	case []string:
		if len(val) == 0 {
			return nil, nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal column: %w", err)
	}
	return string(raw), nil
}

func fromJSON(col sql.NullString, dest any) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), dest)
}

func timeToCol(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339)
}

func colToTime(col sql.NullString) time.Time {
	if !col.Valid || col.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, col.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
