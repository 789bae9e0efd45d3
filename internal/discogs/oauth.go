package discogs

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SignParams are the OAuth 1.0a inputs for one request. Token, Callback
// and Verifier are included only when set; omitting Token omits
// oauth_token entirely, which is what distinguishes the request-token
// step from signed API calls.
type SignParams struct {
	ConsumerKey    string
	ConsumerSecret string
	Token          string
	TokenSecret    string
	Callback       string
	Verifier       string
}

// Signer produces OAuth 1.0a HMAC-SHA1 Authorization headers. The nonce
// and clock sources are injectable so signing is deterministic under test.
type Signer struct {
	Nonce func() string
	Now   func() time.Time
}

// NewSigner returns a Signer with a UUID nonce and the wall clock.
func NewSigner() *Signer {
	return &Signer{
		Nonce: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")
		},
		Now: time.Now,
	}
}

// Sign builds the Authorization header value for one request attempt.
// Query parameters in rawURL participate in the signature base string;
// extra carries any additional body parameters.
func (s *Signer) Sign(method, rawURL string, p SignParams, extra map[string]string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse request url: %w", err)
	}

	oauthParams := map[string]string{
		"oauth_consumer_key":     p.ConsumerKey,
		"oauth_nonce":            s.Nonce(),
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(s.Now().Unix(), 10),
		"oauth_version":          "1.0",
	}
	if p.Token != "" {
		oauthParams["oauth_token"] = p.Token
	}
	if p.Callback != "" {
		oauthParams["oauth_callback"] = p.Callback
	}
	if p.Verifier != "" {
		oauthParams["oauth_verifier"] = p.Verifier
	}

	// Collect every parameter that participates in the signature:
	// oauth_* fields, URL query parameters, and extra body parameters.
	var pairs []string
	for k, v := range oauthParams {
		pairs = append(pairs, percentEncode(k)+"="+percentEncode(v))
	}
	for k, vs := range u.Query() {
		for _, v := range vs {
			pairs = append(pairs, percentEncode(k)+"="+percentEncode(v))
		}
	}
	for k, v := range extra {
		pairs = append(pairs, percentEncode(k)+"="+percentEncode(v))
	}
	sort.Strings(pairs)
	paramString := strings.Join(pairs, "&")

	// The base string URL excludes the query.
	baseURL := u.Scheme + "://" + u.Host + u.EscapedPath()
	baseString := strings.ToUpper(method) + "&" + percentEncode(baseURL) + "&" + percentEncode(paramString)

	signingKey := percentEncode(p.ConsumerSecret) + "&" + percentEncode(p.TokenSecret)
	mac := hmac.New(sha1.New, []byte(signingKey))
	mac.Write([]byte(baseString))
	oauthParams["oauth_signature"] = base64.StdEncoding.EncodeToString(mac.Sum(nil))

	keys := make([]string, 0, len(oauthParams))
	for k := range oauthParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var header strings.Builder
	header.WriteString("OAuth ")
	for i, k := range keys {
		if i > 0 {
			header.WriteString(", ")
		}
		header.WriteString(percentEncode(k))
		header.WriteString(`="`)
		header.WriteString(percentEncode(oauthParams[k]))
		header.WriteString(`"`)
	}
	return header.String(), nil
}

// percentEncode applies RFC 3986 encoding, including the characters
// !'()* that encodeURIComponent-style encoders leave alone.
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
