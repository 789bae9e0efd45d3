package discogs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const (
	// AuthorizeURL is where the user approves the request token.
	AuthorizeURL = "https://www.discogs.com/oauth/authorize"

	requestTokenPath = "/oauth/request_token"
	accessTokenPath  = "/oauth/access_token"

	// OOBCallback asks Discogs to display the verifier instead of
	// redirecting; the browser redirect flow lives outside this module.
	OOBCallback = "oob"
)

// AuthFlow drives the three-legged OAuth 1.0a handshake. The browser step
// stays external: callers open AuthorizationURL and come back with the
// verifier code.
type AuthFlow struct {
	consumerKey    string
	consumerSecret string
	baseURL        string
	httpClient     *http.Client
	signer         *Signer
	logger         *slog.Logger
}

// NewAuthFlow creates an auth flow for the given consumer app keys.
func NewAuthFlow(consumerKey, consumerSecret, baseURL string, logger *slog.Logger) *AuthFlow {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthFlow{
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		baseURL:        baseURL,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		signer:         NewSigner(),
		logger:         logger,
	}
}

// RequestToken obtains an unauthorized request token.
func (f *AuthFlow) RequestToken(ctx context.Context) (token, secret string, err error) {
	body, err := f.post(ctx, f.baseURL+requestTokenPath, SignParams{
		ConsumerKey:    f.consumerKey,
		ConsumerSecret: f.consumerSecret,
		Callback:       OOBCallback,
	})
	if err != nil {
		return "", "", fmt.Errorf("request token: %w", err)
	}
	return body.Get("oauth_token"), body.Get("oauth_token_secret"), nil
}

// AuthorizationURL is the page the user must approve the token on.
func (f *AuthFlow) AuthorizationURL(requestToken string) string {
	return AuthorizeURL + "?oauth_token=" + url.QueryEscape(requestToken)
}

// AccessToken exchanges an approved request token and verifier for the
// long-lived access token pair.
func (f *AuthFlow) AccessToken(ctx context.Context, requestToken, requestSecret, verifier string) (token, secret string, err error) {
	body, err := f.post(ctx, f.baseURL+accessTokenPath, SignParams{
		ConsumerKey:    f.consumerKey,
		ConsumerSecret: f.consumerSecret,
		Token:          requestToken,
		TokenSecret:    requestSecret,
		Verifier:       verifier,
	})
	if err != nil {
		return "", "", fmt.Errorf("access token: %w", err)
	}
	return body.Get("oauth_token"), body.Get("oauth_token_secret"), nil
}

// post sends a signed POST to a token endpoint and parses the
// form-encoded response body.
func (f *AuthFlow) post(ctx context.Context, endpoint string, params SignParams) (url.Values, error) {
	auth, err := f.signer.Sign(http.MethodPost, endpoint, params, nil)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		f.logger.Error("token endpoint error", "endpoint", endpoint, "status", resp.StatusCode, "body", string(raw))
		return nil, fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse token response: %w", err)
	}
	return values, nil
}
