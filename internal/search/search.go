// Package search ranks collection queries. The primary path runs the
// full-text index in the store; results are re-ranked with fuzzy scoring
// so near-misses and prefix matches sort sensibly. A purely in-memory
// filter index backs interactive filtering without touching the database.
package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/lithammer/fuzzysearch/fuzzy"
	sahilm "github.com/sahilm/fuzzy"

	"github.com/digsapp/digs/internal/domain"
)

// Repository is the slice of the store the search service needs.
type Repository interface {
	Search(ctx context.Context, query string) ([]domain.Release, error)
	ReleasesByFolder(ctx context.Context, folderID int64) ([]domain.Release, error)
}

// FilterResult is a match with metadata for highlighting
type FilterResult struct {
	Release        domain.Release
	MatchedIndexes []int
	Score          int
}

// filterIndex implements sahilm/fuzzy.Source for zero-allocation matching
type filterIndex struct {
	releases    []domain.Release
	lowerTitles []string
}

func (idx *filterIndex) String(i int) string { return idx.lowerTitles[i] }
func (idx *filterIndex) Len() int            { return len(idx.releases) }

// Service handles search across the synced collection
type Service struct {
	repo   Repository
	logger *slog.Logger

	mu      sync.RWMutex
	index   *filterIndex
	indexed map[int64]bool // instance IDs already in the index
}

// NewService creates a new search service
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		logger:  logger,
		index:   &filterIndex{},
		indexed: make(map[int64]bool),
	}
}

// Search runs the full-text index and re-ranks the hits by fuzzy score
func (s *Service) Search(ctx context.Context, query string) ([]domain.Release, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	s.logger.Debug("searching", "query", query)

	results, err := s.repo.Search(ctx, query)
	if err != nil {
		s.logger.Warn("full-text search failed, falling back to filter index", "error", err)
		return s.filterReleases(query), nil
	}

	ranked := rankResults(results, query)
	s.logger.Debug("search complete", "query", query, "results", len(ranked))

	return ranked, nil
}

// RefreshIndex rebuilds the in-memory filter index from the store
func (s *Service) RefreshIndex(ctx context.Context) error {
	releases, err := s.repo.ReleasesByFolder(ctx, domain.AllFolderID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.index = &filterIndex{}
	s.indexed = make(map[int64]bool)
	s.appendLocked(releases)

	s.logger.Debug("rebuilt filter index", "count", s.index.Len())
	return nil
}

// IndexReleases adds releases to the filter index, deduplicating by instance ID
func (s *Service) IndexReleases(releases []domain.Release) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(releases)
}

func (s *Service) appendLocked(releases []domain.Release) {
	for _, r := range releases {
		if s.indexed[r.InstanceID] {
			continue
		}
		s.indexed[r.InstanceID] = true
		s.index.releases = append(s.index.releases, r)
		s.index.lowerTitles = append(s.index.lowerTitles, strings.ToLower(indexTitle(r)))
	}
}

// FilterLocal performs fuzzy matching against the in-memory index only.
// Returns results with matched character positions for highlighting.
func (s *Service) FilterLocal(query string) []FilterResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" || s.index.Len() == 0 {
		return nil
	}

	matches := sahilm.FindFrom(query, s.index)

	results := make([]FilterResult, len(matches))
	for i, match := range matches {
		results[i] = FilterResult{
			Release:        s.index.releases[match.Index],
			MatchedIndexes: match.MatchedIndexes,
			Score:          match.Score,
		}
	}

	return results
}

// IndexCount returns the number of releases in the filter index
func (s *Service) IndexCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Len()
}

// filterReleases is the degraded path when full-text search is unavailable
func (s *Service) filterReleases(query string) []domain.Release {
	results := s.FilterLocal(query)
	releases := make([]domain.Release, len(results))
	for i, r := range results {
		releases[i] = r.Release
	}
	return releases
}

// rankResults orders full-text hits by fuzzy match quality
func rankResults(releases []domain.Release, query string) []domain.Release {
	if len(releases) == 0 {
		return releases
	}

	query = strings.ToLower(query)

	type rankedRelease struct {
		release domain.Release
		score   int
	}

	ranked := make([]rankedRelease, 0, len(releases))
	for _, r := range releases {
		title := strings.ToLower(indexTitle(r))
		ranked = append(ranked, rankedRelease{release: r, score: matchScore(title, query)})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score < ranked[j].score
	})

	results := make([]domain.Release, len(ranked))
	for i, r := range ranked {
		results[i] = r.release
	}
	return results
}

// matchScore scores a title against a query, lower is better
func matchScore(title, query string) int {
	if title == query {
		return 0
	}
	if strings.HasPrefix(title, query) {
		return 10
	}
	if strings.Contains(title, query) {
		return 50
	}
	return 100 + fuzzy.LevenshteinDistance(query, title)
}

// indexTitle is the searchable text for a release: artists then title,
// so queries like "coltrane blue train" hit in either order.
func indexTitle(r domain.Release) string {
	names := make([]string, 0, len(r.Artists)+1)
	for _, a := range r.Artists {
		names = append(names, a.Name)
	}
	names = append(names, r.Title)
	return strings.Join(names, " ")
}
