package discogs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digsapp/digs/internal/domain"
	"github.com/digsapp/digs/internal/log"
)

// memSession is an in-memory domain.SessionStore for client tests.
type memSession struct {
	mu       sync.Mutex
	creds    *domain.Credentials
	syncedAt *time.Time
}

func (m *memSession) Credentials() (*domain.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds == nil {
		return nil, nil
	}
	c := *m.creds
	return &c, nil
}

func (m *memSession) SaveCredentials(creds domain.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = &creds
	return nil
}

func (m *memSession) ClearCredentials() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = nil
	return nil
}

func (m *memSession) LastFullSyncAt() (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.syncedAt == nil {
		return time.Time{}, false, nil
	}
	return *m.syncedAt, true, nil
}

func (m *memSession) SetLastFullSyncAt(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncedAt = &t
	return nil
}

func testCredentials() domain.Credentials {
	return domain.Credentials{
		ConsumerKey:    "ck",
		ConsumerSecret: "cs",
		Token:          "tok",
		TokenSecret:    "ts",
		Username:       "digger",
	}
}

func testClient(t *testing.T, srv *httptest.Server, session domain.SessionStore) *Client {
	t.Helper()
	limiter := NewLimiter(60, 10*time.Millisecond)
	t.Cleanup(limiter.Close)
	return NewClient(session, limiter, &ClientOptions{
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		RetryFloor: 5 * time.Millisecond,
	}, log.NullLogger())
}

func TestClientRetriesOnThrottle(t *testing.T) {
	var mu sync.Mutex
	var auths []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auths = append(auths, r.Header.Get("Authorization"))
		n := len(auths)
		mu.Unlock()

		assert.Equal(t, UserAgent, r.Header.Get("User-Agent"))

		if n == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("X-Discogs-Ratelimit-Remaining", "59")
		w.Write([]byte(`{"username": "digger"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv, &memSession{})
	c.SetCredentials(testCredentials())

	username, err := c.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "digger", username)

	// One throttled attempt plus one success, each freshly signed.
	require.Len(t, auths, 2)
	assert.NotEqual(t, auths[0], auths[1], "retry must carry a fresh signature")
}

func TestClientExhaustsRetries(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(t, srv, &memSession{})
	c.SetCredentials(testCredentials())

	_, err := c.Identity(context.Background())

	var apiErr *domain.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	assert.Equal(t, 3, calls, "default retry budget is three attempts")
}

func TestClientAuthExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := testClient(t, srv, &memSession{})
	c.SetCredentials(testCredentials())

	_, err := c.Identity(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuthExpired)

	// Credentials were dropped; the next call fails before any request.
	_, err = c.Identity(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
}

func TestClientHydratesFromSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Authorization"), "OAuth ")
		w.Write([]byte(`{"username": "digger"}`))
	}))
	defer srv.Close()

	session := &memSession{}
	require.NoError(t, session.SaveCredentials(testCredentials()))

	c := testClient(t, srv, session)

	username, err := c.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "digger", username)
}

func TestClientNotAuthenticatedWithoutSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))
	defer srv.Close()

	c := testClient(t, srv, &memSession{})

	_, err := c.Identity(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
}

func TestClientFeedsLimiterFromHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Discogs-Ratelimit-Remaining", "7")
		w.Write([]byte(`{"username": "digger"}`))
	}))
	defer srv.Close()

	limiter := NewLimiter(60, time.Hour)
	t.Cleanup(limiter.Close)
	c := NewClient(&memSession{}, limiter, &ClientOptions{
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
	}, log.NullLogger())
	c.SetCredentials(testCredentials())

	_, err := c.Identity(context.Background())
	require.NoError(t, err)

	limiter.mu.Lock()
	remaining := limiter.remaining
	limiter.mu.Unlock()
	assert.Equal(t, 7, remaining)
}

func TestFolderReleasesPagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/digger/collection/folders/9182214/releases", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "100", q.Get("per_page"))
		assert.Equal(t, "2", q.Get("page"))
		assert.Equal(t, "added", q.Get("sort"))
		assert.Equal(t, "desc", q.Get("sort_order"))

		w.Write([]byte(`{
			"pagination": {"page": 2, "pages": 3, "per_page": 100, "items": 229},
			"releases": [{
				"instance_id": 1444492809,
				"id": 29680977,
				"folder_id": 9182214,
				"date_added": "2022-06-30T00:23:57-07:00",
				"basic_information": {
					"title": "Hard Graft",
					"year": 2024,
					"artists": [{"name": "Leftfield", "id": 1546}],
					"labels": [{"name": "Virgin", "catno": "V3301"}],
					"formats": [{"name": "Vinyl", "qty": "2", "descriptions": ["LP", "Album"]}],
					"genres": ["Electronic"],
					"styles": ["Breakbeat"],
					"thumb": "https://i.discogs.com/thumb.jpg",
					"cover_image": "https://i.discogs.com/cover.jpg"
				}
			}]
		}`))
	}))
	defer srv.Close()

	c := testClient(t, srv, &memSession{})
	c.SetCredentials(testCredentials())

	page, err := c.FolderReleases(context.Background(), "digger", 9182214, domain.PageRequest{
		Page: 2, PerPage: 100, Sort: "added", SortOrder: "desc",
	})
	require.NoError(t, err)

	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 3, page.Pages)
	assert.Equal(t, 229, page.Items)
	require.Len(t, page.Releases, 1)

	r := page.Releases[0]
	assert.Equal(t, int64(1444492809), r.InstanceID)
	assert.Equal(t, int64(29680977), r.ReleaseID)
	assert.Equal(t, int64(9182214), r.FolderID)
	assert.Equal(t, "Hard Graft", r.Title)
	assert.Equal(t, 2024, r.Year)
	require.Len(t, r.Artists, 1)
	assert.Equal(t, "Leftfield", r.Artists[0].Name)
	require.Len(t, r.Labels, 1)
	assert.Equal(t, "V3301", r.Labels[0].CatNo)

	expected, _ := time.Parse(time.RFC3339, "2022-06-30T00:23:57-07:00")
	assert.True(t, r.DateAdded.Equal(expected))
	assert.True(t, r.NeedsDetail())
}
