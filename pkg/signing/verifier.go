package signing

import (
	"crypto/rsa"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"trustgate/pkg/autherr"
)

// Verifier enforces the request-level checks of the legacy path: envelope
// version, timestamp window, signature, then nonce uniqueness.
type Verifier struct {
	cache  NonceCache
	window time.Duration
}

func NewVerifier(cache NonceCache, window time.Duration) *Verifier {
	return &Verifier{cache: cache, window: window}
}

// VerifyRequest authenticates r against pub. The nonce is scoped to the
// envelope's consumer key so tenants cannot poison each other's windows.
func (v *Verifier) VerifyRequest(r *http.Request, pub *rsa.PublicKey, now time.Time) error {
	env, err := ParseAuthorization(r.Header.Get("Authorization"))
	if err != nil {
		return err
	}
	if env.SignatureMethod != SignatureMethod {
		return fmt.Errorf("%w: %s", autherr.ErrUnsupportedAlgorithm, env.SignatureMethod)
	}
	if env.Version != "" {
		f, err := strconv.ParseFloat(env.Version, 64)
		if err != nil || f > 1.0 {
			return fmt.Errorf("%w: %s", autherr.ErrBadVersion, env.Version)
		}
	}
	ts, err := strconv.ParseInt(env.Timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q is not numeric", autherr.ErrTimestampOutOfWindow, env.Timestamp)
	}
	delta := now.Sub(time.Unix(ts, 0))
	if delta < 0 {
		delta = -delta
	}
	if delta > v.window {
		return fmt.Errorf("%w: off by %s", autherr.ErrTimestampOutOfWindow, delta)
	}
	if err := Verify(r.Method, requestURL(r), requestParams(r), pub, env); err != nil {
		return err
	}
	// Recorded only after the signature checks out, so an unauthenticated
	// request cannot burn a nonce the legitimate signer is about to use.
	seen, err := v.cache.Seen(r.Context(), env.ConsumerKey+":"+env.Nonce, now)
	if err != nil {
		return fmt.Errorf("%w: %v", autherr.ErrResolverUnavailable, err)
	}
	if seen {
		return fmt.Errorf("%w: %s", autherr.ErrNonceReplay, env.Nonce)
	}
	return nil
}

func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.Path
}

// requestParams combines query and form-body parameters, mirroring what the
// signer saw.
func requestParams(r *http.Request) url.Values {
	params := url.Values{}
	for k, vs := range r.URL.Query() {
		params[k] = append(params[k], vs...)
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		_ = r.ParseForm()
		for k, vs := range r.PostForm {
			params[k] = append(params[k], vs...)
		}
	}
	return params
}
