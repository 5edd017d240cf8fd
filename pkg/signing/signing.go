// Package signing implements the legacy asymmetric request-signing protocol:
// an OAuth-1.0-style envelope carried in the Authorization header, RSA-SHA1
// over a canonical base string, with timestamp and nonce replay checks on the
// verifying side.
package signing

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"math/big"
	"net/url"
	"sort"
	"strings"
	"time"

	"trustgate/pkg/autherr"
)

const (
	SignatureMethod = "RSA-SHA1"
	Version         = "1.0"
	headerScheme    = "OAuth"
)

// Envelope is the parsed set of oauth_* parameters from an Authorization
// header.
type Envelope struct {
	ConsumerKey     string
	SignatureMethod string
	Timestamp       string
	Nonce           string
	Version         string
	Signature       string
}

// Nonce derives a nonce from the timestamp plus random digits.
func Nonce(now time.Time) string {
	n, _ := rand.Int(rand.Reader, big.NewInt(1_000_000))
	return fmt.Sprintf("%d%06d", now.Unix(), n)
}

// Sign builds the envelope for a request and returns the formatted
// Authorization header value.
func Sign(method, rawurl string, params url.Values, consumerKey string, key *rsa.PrivateKey, now time.Time) (string, error) {
	env := url.Values{
		"oauth_consumer_key":     {consumerKey},
		"oauth_nonce":            {Nonce(now)},
		"oauth_signature_method": {SignatureMethod},
		"oauth_timestamp":        {fmt.Sprintf("%d", now.Unix())},
		"oauth_version":          {Version},
	}
	base := baseString(method, rawurl, merged(params, env))
	digest := sha1.Sum([]byte(base))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA1, digest[:])
	if err != nil {
		return "", fmt.Errorf("signing: %w", err)
	}
	env.Set("oauth_signature", base64.StdEncoding.EncodeToString(sig))

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = fmt.Sprintf("%s=%q", k, encode(env.Get(k)))
	}
	return headerScheme + " " + strings.Join(pairs, ", "), nil
}

// Verify recomputes the base string from the request parameters plus the
// envelope (signature excluded) and checks env.Signature against pub.
func Verify(method, rawurl string, params url.Values, pub *rsa.PublicKey, env Envelope) error {
	all := merged(params, url.Values{
		"oauth_consumer_key":     {env.ConsumerKey},
		"oauth_nonce":            {env.Nonce},
		"oauth_signature_method": {env.SignatureMethod},
		"oauth_timestamp":        {env.Timestamp},
		"oauth_version":          {env.Version},
	})
	if env.Version == "" {
		all.Del("oauth_version")
	}
	base := baseString(method, rawurl, all)
	digest := sha1.Sum([]byte(base))
	sig, err := base64.StdEncoding.DecodeString(env.Signature)
	if err != nil {
		return fmt.Errorf("%w: signature not base64", autherr.ErrInvalidSignature)
	}
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA1, digest[:], sig); err != nil {
		return fmt.Errorf("%w: %v", autherr.ErrInvalidSignature, err)
	}
	return nil
}

// ParseAuthorization parses an `OAuth k="v", ...` header value.
func ParseAuthorization(h string) (Envelope, error) {
	if !strings.HasPrefix(h, headerScheme+" ") {
		return Envelope{}, fmt.Errorf("%w: not an OAuth header", autherr.ErrMalformedToken)
	}
	var env Envelope
	for _, part := range strings.Split(h[len(headerScheme)+1:], ",") {
		part = strings.TrimSpace(part)
		eq := strings.Index(part, "=")
		if eq < 0 {
			return Envelope{}, fmt.Errorf("%w: bad envelope entry %q", autherr.ErrMalformedToken, part)
		}
		k := part[:eq]
		v := strings.Trim(part[eq+1:], `"`)
		dec, err := url.QueryUnescape(v)
		if err != nil {
			return Envelope{}, fmt.Errorf("%w: bad envelope value %q", autherr.ErrMalformedToken, v)
		}
		switch k {
		case "oauth_consumer_key":
			env.ConsumerKey = dec
		case "oauth_signature_method":
			env.SignatureMethod = dec
		case "oauth_timestamp":
			env.Timestamp = dec
		case "oauth_nonce":
			env.Nonce = dec
		case "oauth_version":
			env.Version = dec
		case "oauth_signature":
			env.Signature = dec
		}
	}
	if env.ConsumerKey == "" || env.Signature == "" {
		return Envelope{}, fmt.Errorf("%w: incomplete envelope", autherr.ErrMalformedToken)
	}
	return env, nil
}

// baseString builds METHOD&enc(normalizedURL)&enc(sortedParams).
func baseString(method, rawurl string, params url.Values) string {
	type entry struct{ k, v string }
	var entries []entry
	for k, vs := range params {
		if k == "oauth_signature" {
			continue
		}
		ek := encode(k)
		for _, v := range vs {
			entries = append(entries, entry{ek, encode(v)})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].k != entries[j].k {
			return entries[i].k < entries[j].k
		}
		return entries[i].v < entries[j].v
	})
	pairs := make([]string, len(entries))
	for i, e := range entries {
		pairs[i] = e.k + "=" + e.v
	}
	return strings.ToUpper(method) + "&" + encode(normalizeURL(rawurl)) + "&" + encode(strings.Join(pairs, "&"))
}

func normalizeURL(rawurl string) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return rawurl
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	host = strings.TrimSuffix(host, map[string]string{"http": ":80", "https": ":443"}[scheme])
	return scheme + "://" + host + u.Path
}

// encode percent-encodes per the OAuth variant of RFC 3986: only unreserved
// characters survive, so `!'()*` are escaped along with everything else.
func encode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func merged(a, b url.Values) url.Values {
	out := url.Values{}
	for k, vs := range a {
		out[k] = append([]string(nil), vs...)
	}
	for k, vs := range b {
		out[k] = append(out[k], vs...)
	}
	return out
}
