// Package autherr defines the terminal rejection reasons of the
// authentication subsystem. Every reason maps to a stable code (logged and
// rendered to callers) and an HTTP status. None of these are retried.
package autherr

import (
	"errors"
	"net/http"
)

var (
	ErrMissingToken         = errors.New("no token in request")
	ErrAmbiguousToken       = errors.New("token present in both query and body")
	ErrMalformedToken       = errors.New("malformed token")
	ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")
	ErrMissingIssuer        = errors.New("token has no issuer")
	ErrUnknownTenant        = errors.New("unknown tenant")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrAudienceMismatch     = errors.New("audience mismatch")
	ErrExpired              = errors.New("token expired")
	ErrHashMismatch         = errors.New("request hash mismatch")
	ErrResolverUnavailable  = errors.New("tenant store unavailable")

	ErrHostNotWhitelisted  = errors.New("host not whitelisted")
	ErrHostInfoUnreachable = errors.New("host metadata fetch failed")
	ErrKeySpoofingDetected = errors.New("claimed public key does not match host")

	ErrNonceReplay          = errors.New("nonce already seen")
	ErrTimestampOutOfWindow = errors.New("timestamp outside allowed window")
	ErrBadVersion           = errors.New("unsupported protocol version")

	ErrContextTokenExpired   = errors.New("context token expired")
	ErrMalformedContextToken = errors.New("malformed context token")
	ErrRefreshNotAllowed     = errors.New("context token refresh not allowed")
)

var reasons = []struct {
	err    error
	code   string
	status int
}{
	{ErrMissingToken, "MissingToken", http.StatusUnauthorized},
	{ErrAmbiguousToken, "AmbiguousToken", http.StatusUnauthorized},
	{ErrMalformedToken, "MalformedToken", http.StatusUnauthorized},
	{ErrUnsupportedAlgorithm, "UnsupportedAlgorithm", http.StatusUnauthorized},
	{ErrMissingIssuer, "MissingIssuer", http.StatusUnauthorized},
	{ErrUnknownTenant, "UnknownTenant", http.StatusUnauthorized},
	{ErrInvalidSignature, "InvalidSignature", http.StatusUnauthorized},
	{ErrAudienceMismatch, "AudienceMismatch", http.StatusUnauthorized},
	{ErrExpired, "Expired", http.StatusUnauthorized},
	{ErrHashMismatch, "HashMismatch", http.StatusUnauthorized},
	{ErrResolverUnavailable, "ResolverUnavailable", http.StatusInternalServerError},
	{ErrHostNotWhitelisted, "HostNotWhitelisted", http.StatusUnauthorized},
	{ErrHostInfoUnreachable, "HostInfoUnreachable", http.StatusUnauthorized},
	{ErrKeySpoofingDetected, "KeySpoofingDetected", http.StatusUnauthorized},
	{ErrNonceReplay, "NonceReplay", http.StatusUnauthorized},
	{ErrTimestampOutOfWindow, "TimestampOutOfWindow", http.StatusUnauthorized},
	{ErrBadVersion, "BadVersion", http.StatusUnauthorized},
	{ErrContextTokenExpired, "Expired", http.StatusUnauthorized},
	{ErrMalformedContextToken, "MalformedToken", http.StatusUnauthorized},
	{ErrRefreshNotAllowed, "RefreshNotAllowed", http.StatusUnauthorized},
}

// Reason returns the stable code for err, or "Unauthorized" when err is not
// part of the taxonomy.
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.code
		}
	}
	return "Unauthorized"
}

// Status returns the HTTP status for err. Everything is a 401 except a
// failure of the trust store itself.
func Status(err error) int {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.status
		}
	}
	return http.StatusUnauthorized
}
