package domain

import "time"

// AllFolderID is the virtual "All" folder Discogs reports for every
// collection. It aggregates every other folder and must never be
// traversed during sync or each release would be counted twice.
const AllFolderID int64 = 0

// UncategorizedFolderID is the folder Discogs assigns releases that were
// never filed anywhere. It exists even when the folder listing only
// contains the virtual "All" entry.
const UncategorizedFolderID int64 = 1

// Folder is a named grouping within a user's collection.
type Folder struct {
	ID    int64
	Name  string
	Count int
}

// Artist is the trimmed-down artist credit stored per release.
type Artist struct {
	Name string `json:"name"`
	ID   int64  `json:"id"`
}

// Label is the trimmed-down label credit stored per release.
type Label struct {
	Name  string `json:"name"`
	CatNo string `json:"catno"`
}

// Format describes one physical format of a release (e.g. 2xLP).
type Format struct {
	Name         string   `json:"name"`
	Qty          string   `json:"qty"`
	Descriptions []string `json:"descriptions,omitempty"`
}

// Track is one tracklist entry from a detail fetch.
type Track struct {
	Position string `json:"position"`
	Title    string `json:"title"`
	Duration string `json:"duration"`
}

// Image is one release image from a detail fetch.
type Image struct {
	Type   string `json:"type"`
	URI    string `json:"uri"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Video is one linked video from a detail fetch.
type Video struct {
	URI      string `json:"uri"`
	Title    string `json:"title"`
	Duration int    `json:"duration"`
}

// Release is one instance of a release in the user's collection.
//
// InstanceID identifies this physical copy and is the primary key;
// ReleaseID identifies the canonical release and can repeat across
// instances and folders. Enrichment fields stay zero until the detail
// stage has run for the row, signalled by DetailSyncedAt.
type Release struct {
	InstanceID int64
	ReleaseID  int64
	FolderID   int64
	Title      string
	Year       int
	Artists    []Artist
	Labels     []Label
	Formats    []Format
	Genres     []string
	Styles     []string
	ThumbURL   string
	CoverURL   string
	DateAdded  time.Time

	// Enrichment (detail sync)
	Tracklist       []Track
	Images          []Image
	Videos          []Video
	CommunityRating float64
	CommunityHave   int
	CommunityWant   int

	BasicSyncedAt  time.Time
	DetailSyncedAt *time.Time
}

// NeedsDetail reports whether the detail stage still has to enrich this row.
func (r Release) NeedsDetail() bool {
	return r.DetailSyncedAt == nil
}

// Enrichment carries the columns written by a detail sync.
type Enrichment struct {
	Tracklist       []Track
	Images          []Image
	Videos          []Video
	CommunityRating float64
	CommunityHave   int
	CommunityWant   int
	DetailSyncedAt  time.Time
}

// ReleasePage is one page of a paginated per-folder collection listing.
type ReleasePage struct {
	Releases []Release
	Page     int
	Pages    int
	PerPage  int
	Items    int
}

// Credentials are the long-lived OAuth tokens for the signed-in user.
type Credentials struct {
	ConsumerKey    string
	ConsumerSecret string
	Token          string
	TokenSecret    string
	Username       string
}

// Valid reports whether the credentials can sign a request.
func (c Credentials) Valid() bool {
	return c.ConsumerKey != "" && c.ConsumerSecret != "" && c.Token != "" && c.TokenSecret != ""
}

// Stats summarizes the local collection for display.
type Stats struct {
	TotalReleases int
	TotalArtists  int
}

// DetailProgress counts detail-sync completion for display.
type DetailProgress struct {
	Total  int
	Synced int
}
