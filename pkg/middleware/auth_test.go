package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trustgate/pkg/config"
	"trustgate/pkg/ctxtoken"
	"trustgate/pkg/qsh"
	"trustgate/pkg/tenants"
	"trustgate/pkg/token"
)

const (
	testIssuer = "tenant-1"
	testSecret = "shared-secret-for-tests"
)

func testProvider(t *testing.T) tenants.Provider {
	t.Helper()
	p := tenants.NewMemoryProvider(zap.NewNop().Sugar())
	require.NoError(t, p.SaveClientInfo(context.Background(), tenants.ClientInfo{
		ClientKey:    testIssuer,
		SharedSecret: testSecret,
		BaseURL:      "https://host.example",
	}))
	return p
}

func gate(cfg config.Config, prov tenants.Provider, cipher *ctxtoken.Cipher) http.Handler {
	return Auth(cfg, prov, cipher, zap.NewNop().Sugar())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := IdentityFrom(r.Context()); ok {
			w.Header().Set("X-Authenticated-As", id.ClientKey)
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func mint(t *testing.T, method, path string, q url.Values, exp time.Time) string {
	t.Helper()
	raw, err := token.Encode(token.Claims{
		Issuer:    testIssuer,
		Subject:   "user:42",
		IssuedAt:  time.Now().Add(-time.Minute),
		ExpiresAt: exp,
		QSH:       qsh.Hash(method, path, q),
	}, []byte(testSecret), "HS256")
	require.NoError(t, err)
	return raw
}

func reasonOf(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &doc))
	title, _ := doc["title"].(string)
	return title
}

func TestGateAcceptsHeaderToken(t *testing.T) {
	h := gate(config.Config{}, testProvider(t), nil)
	raw := mint(t, "GET", "/resource", url.Values{"x": {"1"}}, time.Now().Add(time.Minute))

	req := httptest.NewRequest("GET", "/resource?x=1", nil)
	req.Header.Set("Authorization", "JWT "+raw)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, testIssuer, rr.Header().Get("X-Authenticated-As"))
}

func TestGateAcceptsQueryToken(t *testing.T) {
	h := gate(config.Config{}, testProvider(t), nil)
	raw := mint(t, "GET", "/resource", url.Values{"x": {"1"}}, time.Now().Add(time.Minute))

	req := httptest.NewRequest("GET", "/resource?x=1&jwt="+url.QueryEscape(raw), nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestGateReorderedQueryStillAccepted(t *testing.T) {
	h := gate(config.Config{}, testProvider(t), nil)
	raw := mint(t, "GET", "/resource", url.Values{"a": {"1"}, "b": {"2"}}, time.Now().Add(time.Minute))

	req := httptest.NewRequest("GET", "/resource?b=2&a=1", nil)
	req.Header.Set("Authorization", "JWT "+raw)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestGateUnsignedExtraParam(t *testing.T) {
	h := gate(config.Config{}, testProvider(t), nil)
	raw := mint(t, "GET", "/resource", url.Values{"x": {"1"}}, time.Now().Add(time.Minute))

	req := httptest.NewRequest("GET", "/resource?x=1&evil=1", nil)
	req.Header.Set("Authorization", "JWT "+raw)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "HashMismatch", reasonOf(t, rr))
}

func TestGateBodyDerivedHashAccepted(t *testing.T) {
	h := gate(config.Config{}, testProvider(t), nil)
	// QSH signed over query + body params; token arrives via header.
	raw := mint(t, "POST", "/submit", url.Values{"x": {"1"}, "field": {"v"}}, time.Now().Add(time.Minute))

	req := httptest.NewRequest("POST", "/submit?x=1", strings.NewReader("field=v"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "JWT "+raw)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestGateAmbiguousTokenSource(t *testing.T) {
	h := gate(config.Config{}, testProvider(t), nil)
	raw := mint(t, "POST", "/submit", nil, time.Now().Add(time.Minute))

	// Identical values in query and body: still rejected.
	req := httptest.NewRequest("POST", "/submit?jwt="+url.QueryEscape(raw),
		strings.NewReader("jwt="+url.QueryEscape(raw)))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "AmbiguousToken", reasonOf(t, rr))

	// A valid header token does not launder the query/body conflict.
	req = httptest.NewRequest("POST", "/submit?jwt="+url.QueryEscape(raw),
		strings.NewReader("jwt="+url.QueryEscape(raw)))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "JWT "+raw)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "AmbiguousToken", reasonOf(t, rr))
}

func TestGateMissingToken(t *testing.T) {
	h := gate(config.Config{}, testProvider(t), nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/resource", nil))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "MissingToken", reasonOf(t, rr))
}

func TestGateUnknownTenant(t *testing.T) {
	h := gate(config.Config{}, testProvider(t), nil)
	raw, err := token.Encode(token.Claims{
		Issuer:    "nobody",
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(time.Minute),
	}, []byte("whatever"), "HS256")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/resource", nil)
	req.Header.Set("Authorization", "JWT "+raw)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "UnknownTenant", reasonOf(t, rr))
}

func TestGateWrongSecret(t *testing.T) {
	h := gate(config.Config{}, testProvider(t), nil)
	raw, err := token.Encode(token.Claims{
		Issuer:    testIssuer,
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(time.Minute),
		QSH:       qsh.Hash("GET", "/resource", nil),
	}, []byte("not-the-tenant-secret"), "HS256")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/resource", nil)
	req.Header.Set("Authorization", "JWT "+raw)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "InvalidSignature", reasonOf(t, rr))
}

func TestGateExpiryBoundary(t *testing.T) {
	h := gate(config.Config{}, testProvider(t), nil)

	// expiry == now: rejected.
	raw := mint(t, "GET", "/resource", nil, time.Now())
	req := httptest.NewRequest("GET", "/resource", nil)
	req.Header.Set("Authorization", "JWT "+raw)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Expired", reasonOf(t, rr))

	// expiry just past now: accepted. The extra half second keeps the
	// codec's truncation to whole seconds from eating the margin.
	raw = mint(t, "GET", "/resource", nil, time.Now().Add(1500*time.Millisecond))
	req = httptest.NewRequest("GET", "/resource", nil)
	req.Header.Set("Authorization", "JWT "+raw)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestGateAudienceMismatch(t *testing.T) {
	h := gate(config.Config{Audience: "trustgate"}, testProvider(t), nil)
	raw, err := token.Encode(token.Claims{
		Issuer:    testIssuer,
		Audience:  []string{"someone-else"},
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(time.Minute),
		QSH:       qsh.Hash("GET", "/resource", nil),
	}, []byte(testSecret), "HS256")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/resource", nil)
	req.Header.Set("Authorization", "JWT "+raw)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "AudienceMismatch", reasonOf(t, rr))
}

type failingProvider struct{ tenants.Provider }

func (failingProvider) GetClientInfo(context.Context, string) (tenants.ClientInfo, error) {
	return tenants.ClientInfo{}, errors.New("store down")
}

func TestGateResolverUnavailableFailsClosed(t *testing.T) {
	h := gate(config.Config{}, failingProvider{}, nil)
	raw := mint(t, "GET", "/resource", nil, time.Now().Add(time.Minute))

	req := httptest.NewRequest("GET", "/resource", nil)
	req.Header.Set("Authorization", "JWT "+raw)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "ResolverUnavailable", reasonOf(t, rr))
}

func TestGateQSHCheckDisabled(t *testing.T) {
	h := gate(config.Config{QSHCheckDisabled: true}, testProvider(t), nil)
	// Hash signed for a different request entirely.
	raw := mint(t, "DELETE", "/other", nil, time.Now().Add(time.Minute))

	req := httptest.NewRequest("GET", "/resource?x=1", nil)
	req.Header.Set("Authorization", "JWT "+raw)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestGateAuthDisabledBypass(t *testing.T) {
	h := gate(config.Config{AuthDisabled: true}, testProvider(t), nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/resource", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestGateMintsContextToken(t *testing.T) {
	cipher := ctxtoken.NewCipher([]byte("process-secret"))
	h := gate(config.Config{ContextRefreshOK: true}, testProvider(t), cipher)
	raw := mint(t, "GET", "/resource", nil, time.Now().Add(time.Minute))

	req := httptest.NewRequest("GET", "/resource", nil)
	req.Header.Set("Authorization", "JWT "+raw)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	minted := rr.Header().Get(ContextTokenHeader)
	require.NotEmpty(t, minted)

	got, err := cipher.Verify(minted, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "https://host.example", got.Host)
	assert.Equal(t, "user:42", got.User)
	assert.True(t, got.AllowRefresh)
}
