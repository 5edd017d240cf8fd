// pkg/middleware/auth.go
package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"trustgate/pkg/autherr"
	"trustgate/pkg/config"
	"trustgate/pkg/ctxtoken"
	"trustgate/pkg/problems"
	"trustgate/pkg/qsh"
	"trustgate/pkg/tenants"
	"trustgate/pkg/token"
)

// ContextTokenHeader carries a freshly minted context token back to the
// caller after a successful authentication.
const ContextTokenHeader = "X-Context-Token"

// Identity is the authenticated result attached to the request context.
type Identity struct {
	ClientKey string
	Subject   string
	Tenant    tenants.ClientInfo
}

type ctxIdentityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxIdentityKey{}, id)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxIdentityKey{}).(Identity)
	return id, ok
}

var authDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "trustgate_auth_decisions_total",
	Help: "Gate decisions by outcome and rejection reason.",
}, []string{"outcome", "reason"})

// Auth is the authentication gate: token extraction, two-phase decode,
// secret resolution, expiry and canonical-hash checks. On success the
// resolved identity is attached to the context and, when a cipher is
// configured, a context token is returned in the response headers.
func Auth(cfg config.Config, prov tenants.Provider, cipher *ctxtoken.Cipher, log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.AuthDisabled {
				next.ServeHTTP(w, r)
				return
			}
			id, err := authenticate(r, cfg, prov)
			if err != nil {
				Reject(w, r, log, err)
				return
			}
			authDecisions.WithLabelValues("accept", "").Inc()
			ctx := WithIdentity(r.Context(), id)
			if cipher != nil {
				if tok, cerr := cipher.Create(id.Tenant.BaseURL, id.Subject, cfg.ContextRefreshOK); cerr == nil {
					w.Header().Set(ContextTokenHeader, tok)
				} else {
					log.Warnw("context token mint", "err", cerr)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Reject logs the rejection reason (never swallowed) and renders the
// problem document. Shared with the lifecycle handlers.
func Reject(w http.ResponseWriter, r *http.Request, log *zap.SugaredLogger, err error) {
	reason := autherr.Reason(err)
	status := autherr.Status(err)
	authDecisions.WithLabelValues("reject", reason).Inc()
	log.Warnw("auth rejected", "reason", reason, "method", r.Method, "path", r.URL.Path, "err", err)
	problems.Write(w, status, reason, "request could not be authenticated")
}

func authenticate(r *http.Request, cfg config.Config, prov tenants.Provider) (Identity, error) {
	raw, err := extract(r)
	if err != nil {
		return Identity{}, err
	}

	unv, err := token.DecodeUnverified(raw)
	if err != nil {
		return Identity{}, err
	}
	if unv.Issuer == "" {
		return Identity{}, autherr.ErrMissingIssuer
	}

	rec, err := prov.GetClientInfo(r.Context(), unv.Issuer)
	if errors.Is(err, tenants.ErrNotFound) {
		return Identity{}, autherr.ErrUnknownTenant
	}
	if err != nil {
		// Store failure: fail closed as a server-side error, never open.
		return Identity{}, errors.Join(autherr.ErrResolverUnavailable, err)
	}

	claims, err := token.Decode(raw, []byte(rec.SharedSecret))
	if err != nil {
		return Identity{}, err
	}

	if cfg.Audience != "" && len(claims.Audience) > 0 && !contains(claims.Audience, cfg.Audience) {
		return Identity{}, autherr.ErrAudienceMismatch
	}

	now := time.Now()
	if claims.ExpiresAt.IsZero() || !now.Before(claims.ExpiresAt.Add(cfg.TokenClockSkew)) {
		return Identity{}, autherr.ErrExpired
	}

	if !cfg.QSHCheckDisabled {
		if err := checkHash(r, claims.QSH); err != nil {
			return Identity{}, err
		}
	}

	return Identity{ClientKey: rec.ClientKey, Subject: claims.Subject, Tenant: rec}, nil
}

// extract finds the candidate token. A token in both the query and the form
// body is a tamper signal and rejects the request outright, even when an
// Authorization header is also present; otherwise the header wins.
func extract(r *http.Request) (string, error) {
	qv := r.URL.Query().Get(token.Param)
	bv := ""
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		_ = r.ParseForm()
		bv = r.PostForm.Get(token.Param)
	}
	if qv != "" && bv != "" {
		return "", autherr.ErrAmbiguousToken
	}
	if authz := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(authz), "jwt ") {
		return strings.TrimSpace(authz[len("JWT "):]), nil
	}
	switch {
	case qv != "":
		return qv, nil
	case bv != "":
		return bv, nil
	}
	return "", autherr.ErrMissingToken
}

// checkHash recomputes the canonical hash twice — query only, then query
// plus body-derived parameters — and accepts either, tolerating verb/payload
// variants of the same logical request. Both attempts are equally valid; a
// single HashMismatch is reported only after both fail.
func checkHash(r *http.Request, claimed string) error {
	queryOnly := qsh.Hash(r.Method, r.URL.Path, r.URL.Query())
	if claimed == queryOnly {
		return nil
	}
	merged := url.Values{}
	for k, vs := range r.URL.Query() {
		merged[k] = append(merged[k], vs...)
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		_ = r.ParseForm()
		for k, vs := range r.PostForm {
			merged[k] = append(merged[k], vs...)
		}
	}
	if claimed == qsh.Hash(r.Method, r.URL.Path, merged) {
		return nil
	}
	return autherr.ErrHashMismatch
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
