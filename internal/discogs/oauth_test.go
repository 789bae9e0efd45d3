package discogs

import (
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedSigner(nonce string, ts int64) *Signer {
	return &Signer{
		Nonce: func() string { return nonce },
		Now:   func() time.Time { return time.Unix(ts, 0) },
	}
}

// Known-answer test using the worked example from the OAuth 1.0a
// documentation published by Twitter.
func TestSignKnownAnswer(t *testing.T) {
	s := fixedSigner("kYjzVBB8Y0ZFabxSWbWovY3uYSQ2pTgmZeNu2VS4cg", 1318622958)

	header, err := s.Sign("POST",
		"https://api.twitter.com/1.1/statuses/update.json?include_entities=true",
		SignParams{
			ConsumerKey:    "xvz1evFS4wEEPTGEFPHBog",
			ConsumerSecret: "kAcSOqF21Fu85e7zjz7ZN2U4ZRhfV3WpwPAoE3Z7kBw",
			Token:          "370773112-GmHxMAgYyLbNEtIKZeRNFsMKPR9EyMZeS9weJAEb",
			TokenSecret:    "LswwdoUaIvS8ltyTt5jkRh4J50vUPVVHtR2YPi5kE",
		},
		map[string]string{
			"status": "Hello Ladies + Gentlemen, a signed OAuth request!",
		})
	require.NoError(t, err)

	assert.Contains(t, header, `oauth_signature="tnnArxj06cWHq44gCs1OSKk%2FjLY%3D"`)
}

func TestSignIsDeterministic(t *testing.T) {
	p := SignParams{
		ConsumerKey:    "ck",
		ConsumerSecret: "cs",
		Token:          "tok",
		TokenSecret:    "ts",
	}

	s := fixedSigner("abc123", 1700000000)
	first, err := s.Sign("GET", "https://api.discogs.com/oauth/identity", p, nil)
	require.NoError(t, err)
	second, err := s.Sign("GET", "https://api.discogs.com/oauth/identity", p, nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestSignOmitsUnsetParams(t *testing.T) {
	s := fixedSigner("abc123", 1700000000)

	// Request-token step: no token yet, callback present.
	header, err := s.Sign("POST", "https://api.discogs.com/oauth/request_token",
		SignParams{ConsumerKey: "ck", ConsumerSecret: "cs", Callback: "oob"}, nil)
	require.NoError(t, err)

	assert.NotContains(t, header, "oauth_token=")
	assert.NotContains(t, header, "oauth_verifier=")
	assert.Contains(t, header, `oauth_callback="oob"`)

	// Signed API call: token present, no callback.
	header, err = s.Sign("GET", "https://api.discogs.com/oauth/identity",
		SignParams{ConsumerKey: "ck", ConsumerSecret: "cs", Token: "tok", TokenSecret: "ts"}, nil)
	require.NoError(t, err)

	assert.Contains(t, header, `oauth_token="tok"`)
	assert.NotContains(t, header, "oauth_callback=")
}

func TestSignHeaderShape(t *testing.T) {
	s := fixedSigner("abc123", 1700000000)

	header, err := s.Sign("GET", "https://api.discogs.com/oauth/identity",
		SignParams{ConsumerKey: "ck", ConsumerSecret: "cs", Token: "tok", TokenSecret: "ts"}, nil)
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(header, "OAuth "))

	// Parameters appear sorted and quoted.
	parts := strings.Split(strings.TrimPrefix(header, "OAuth "), ", ")
	var keys []string
	for _, part := range parts {
		k, v, ok := strings.Cut(part, "=")
		require.True(t, ok, "malformed header part %q", part)
		assert.True(t, strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`))
		keys = append(keys, k)
	}
	assert.True(t, sort.StringsAreSorted(keys), "header params not sorted: %v", keys)
	assert.Contains(t, keys, "oauth_consumer_key")
	assert.Contains(t, keys, "oauth_nonce")
	assert.Contains(t, keys, "oauth_signature")
	assert.Contains(t, keys, "oauth_signature_method")
	assert.Contains(t, keys, "oauth_timestamp")
	assert.Contains(t, keys, "oauth_version")
}

func TestPercentEncode(t *testing.T) {
	assert.Equal(t, "Ladies%20%2B%20Gentlemen", percentEncode("Ladies + Gentlemen"))
	assert.Equal(t, "%21%27%28%29%2A", percentEncode("!'()*"))
	assert.Equal(t, "safe-._~09AZaz", percentEncode("safe-._~09AZaz"))
	assert.Equal(t, "%E2%98%83", percentEncode("☃"))
}
