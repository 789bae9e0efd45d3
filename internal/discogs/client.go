package discogs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/digsapp/digs/internal/domain"
)

const (
	// DefaultBaseURL is the Discogs API origin.
	DefaultBaseURL = "https://api.discogs.com"

	// UserAgent identifies this client to Discogs, which requires one.
	UserAgent = "Digs/1.0.0"

	acceptHeader         = "application/vnd.discogs.v2.discogs+json"
	ratelimitHeader      = "X-Discogs-Ratelimit-Remaining"
	defaultTimeout       = 30 * time.Second
	defaultMaxRetries    = 3
	defaultRetryFloor    = 2 * time.Second
	identityPath         = "/oauth/identity"
	collectionPerPageMax = 100
)

// ClientOptions tune the client; the zero value gives production defaults.
type ClientOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	MaxRetries int           // attempts per request, throttled responses included
	RetryFloor time.Duration // minimum backoff seed on 429
}

// Client implements domain.CollectionAPI against the Discogs API. Every
// request is gated by the shared rate limiter and carries a fresh OAuth
// signature; throttling is retried internally with exponential backoff.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *Limiter
	signer     *Signer
	session    domain.SessionStore
	logger     *slog.Logger
	maxRetries int
	retryFloor time.Duration

	credsMu  sync.Mutex
	creds    *domain.Credentials
	hydrated bool
}

// NewClient creates a Discogs API client. Credentials are hydrated lazily
// from the session store on first use unless SetCredentials is called.
func NewClient(session domain.SessionStore, limiter *Limiter, opts *ClientOptions, logger *slog.Logger) *Client {
	if opts == nil {
		opts = &ClientOptions{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: opts.HTTPClient,
		limiter:    limiter,
		signer:     NewSigner(),
		session:    session,
		logger:     logger,
		maxRetries: opts.MaxRetries,
		retryFloor: opts.RetryFloor,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if c.maxRetries <= 0 {
		c.maxRetries = defaultMaxRetries
	}
	if c.retryFloor <= 0 {
		c.retryFloor = defaultRetryFloor
	}
	return c
}

// SetCredentials installs credentials in memory (after login).
func (c *Client) SetCredentials(creds domain.Credentials) {
	c.credsMu.Lock()
	c.creds = &creds
	c.credsMu.Unlock()
}

// ClearCredentials drops the in-memory credentials (logout, 401).
func (c *Client) ClearCredentials() {
	c.credsMu.Lock()
	c.creds = nil
	c.credsMu.Unlock()
}

// ensureCredentials returns usable credentials, hydrating them from the
// session store at most once per process when memory is empty.
func (c *Client) ensureCredentials() (domain.Credentials, error) {
	c.credsMu.Lock()
	defer c.credsMu.Unlock()

	if c.creds != nil {
		return *c.creds, nil
	}
	if !c.hydrated && c.session != nil {
		c.hydrated = true
		stored, err := c.session.Credentials()
		if err != nil {
			c.logger.Warn("credential hydration failed", "error", err)
		} else if stored != nil && stored.Valid() {
			c.creds = stored
			return *c.creds, nil
		}
	}
	return domain.Credentials{}, domain.ErrNotAuthenticated
}

// request performs a signed, rate-limited GET and decodes the JSON body
// into out. Relative paths resolve against the base URL; absolute URLs
// pass through unmodified.
func (c *Client) request(ctx context.Context, path string, out any) error {
	creds, err := c.ensureCredentials()
	if err != nil {
		return err
	}

	reqURL := path
	if !strings.HasPrefix(path, "http") {
		reqURL = c.baseURL + path
	}

	if err := c.limiter.Acquire(ctx); err != nil {
		return err
	}
	// The slot is held across backoff sleeps so the drain loop does not
	// issue more requests into an exhausted window.
	defer c.limiter.Release()

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		body, retryAfter, err := c.attempt(ctx, reqURL, creds)
		if err == nil {
			return json.Unmarshal(body, out)
		}

		var apiErr *domain.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests && attempt < c.maxRetries-1 {
			delay := max(retryAfter, c.retryFloor) << attempt
			c.logger.Debug("throttled, backing off", "url", reqURL, "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		return err
	}
	return &domain.APIError{Status: http.StatusTooManyRequests, Reason: "retries exhausted"}
}

// attempt executes one signed request. A fresh signature (nonce and
// timestamp) is produced per call, retries included.
func (c *Client) attempt(ctx context.Context, reqURL string, creds domain.Credentials) ([]byte, time.Duration, error) {
	auth, err := c.signer.Sign(http.MethodGet, reqURL, SignParams{
		ConsumerKey:    creds.ConsumerKey,
		ConsumerSecret: creds.ConsumerSecret,
		Token:          creds.Token,
		TokenSecret:    creds.TokenSecret,
	}, nil)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("discogs request: %w", err)
	}
	defer resp.Body.Close()

	if v := resp.Header.Get(ratelimitHeader); v != "" {
		if remaining, err := strconv.Atoi(v); err == nil {
			c.limiter.UpdateFromHeader(remaining)
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		var retryAfter time.Duration
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			retryAfter = time.Duration(secs) * time.Second
		}
		return nil, retryAfter, &domain.APIError{Status: resp.StatusCode, Reason: "rate limited"}
	case resp.StatusCode == http.StatusUnauthorized:
		c.ClearCredentials()
		return nil, 0, domain.ErrAuthExpired
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		c.logger.Error("discogs request error", "url", reqURL, "status", resp.StatusCode)
		return nil, 0, &domain.APIError{Status: resp.StatusCode, Reason: http.StatusText(resp.StatusCode)}
	}

	return body, 0, nil
}

// Folders returns the complete folder list for a user.
func (c *Client) Folders(ctx context.Context, username string) ([]domain.Folder, error) {
	var resp foldersResponse
	path := fmt.Sprintf("/users/%s/collection/folders", url.PathEscape(username))
	if err := c.request(ctx, path, &resp); err != nil {
		return nil, err
	}
	return mapFolders(resp.Folders), nil
}

// FolderReleases returns one page of a folder's release listing.
func (c *Client) FolderReleases(ctx context.Context, username string, folderID int64, req domain.PageRequest) (*domain.ReleasePage, error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PerPage <= 0 || req.PerPage > collectionPerPageMax {
		req.PerPage = collectionPerPageMax
	}

	q := url.Values{}
	q.Set("per_page", strconv.Itoa(req.PerPage))
	q.Set("page", strconv.Itoa(req.Page))
	if req.Sort != "" {
		q.Set("sort", req.Sort)
	}
	if req.SortOrder != "" {
		q.Set("sort_order", req.SortOrder)
	}

	var resp collectionReleasesResponse
	path := fmt.Sprintf("/users/%s/collection/folders/%d/releases?%s",
		url.PathEscape(username), folderID, q.Encode())
	if err := c.request(ctx, path, &resp); err != nil {
		return nil, err
	}

	page := &domain.ReleasePage{
		Releases: make([]domain.Release, len(resp.Releases)),
		Page:     resp.Pagination.Page,
		Pages:    resp.Pagination.Pages,
		PerPage:  resp.Pagination.PerPage,
		Items:    resp.Pagination.Items,
	}
	for i, r := range resp.Releases {
		page.Releases[i] = mapCollectionRelease(r, folderID, c.logger)
	}
	return page, nil
}

// ReleaseDetail returns enrichment data for a canonical release.
func (c *Client) ReleaseDetail(ctx context.Context, releaseID int64) (*domain.Enrichment, error) {
	var resp releaseDetailDTO
	if err := c.request(ctx, fmt.Sprintf("/releases/%d", releaseID), &resp); err != nil {
		return nil, err
	}
	return mapEnrichment(&resp), nil
}

// Identity returns the username the current credentials belong to.
func (c *Client) Identity(ctx context.Context) (string, error) {
	var resp identityDTO
	if err := c.request(ctx, identityPath, &resp); err != nil {
		return "", err
	}
	return resp.Username, nil
}
