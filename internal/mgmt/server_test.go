package mgmt

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zeeeepa/attune-ai-sub002/internal/audit"
	"github.com/Zeeeepa/attune-ai-sub002/internal/types"
)

func newTestServer(t *testing.T, cfg ServerConfig) (*Server, *svcHarness, *TokenAuthority) {
	t.Helper()

	h := newService(t)
	tokens, err := NewTokenAuthority([]byte("server-test-signing-secret"), time.Hour)
	require.NoError(t, err)
	return NewServer(h.svc, tokens, cfg), h, tokens
}

func doRequest(srv *Server, method, target, token string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.RemoteAddr = "10.0.0.1:55000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestServer_HealthAndStatus(t *testing.T) {
	srv, _, _ := newTestServer(t, ServerConfig{})

	rec := doRequest(srv, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(srv, http.MethodGet, "/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "local-fallback", status.SubstrateMode)
}

func TestServer_HealthzReports503WhenUnhealthy(t *testing.T) {
	srv, h, _ := newTestServer(t, ServerConfig{})

	h.persist(t, "plain content", types.ClassPublic)
	require.True(t, h.auditStore.Tamper(0, func(e *audit.Event) {
		e.Payload = map[string]string{"forged": "yes"}
	}))

	rec := doRequest(srv, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_ListPatternsMetadataOnly(t *testing.T) {
	srv, h, _ := newTestServer(t, ServerConfig{})

	h.persist(t, `api_key = "sk-live-a1b2c3d4e5f6g7h8"`, types.ClassPublic)

	rec := doRequest(srv, http.MethodGet, "/patterns?classification=sensitive", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "sk-live")
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = doRequest(srv, http.MethodGet, "/patterns?classification=bogus", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ExportRequiresBearerToken(t *testing.T) {
	srv, _, tokens := newTestServer(t, ServerConfig{})

	rec := doRequest(srv, http.MethodPost, "/patterns/export", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(srv, http.MethodPost, "/patterns/export", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := tokens.Issue(validator)
	require.NoError(t, err)
	rec = doRequest(srv, http.MethodPost, "/patterns/export", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ExportSensitiveMapsDenialTo403(t *testing.T) {
	srv, h, tokens := newTestServer(t, ServerConfig{})
	h.persist(t, `api_key = "sk-live-a1b2c3d4e5f6g7h8"`, types.ClassPublic)

	body, _ := json.Marshal(exportBody{IncludeSensitive: true})

	token, err := tokens.Issue(validator)
	require.NoError(t, err)
	rec := doRequest(srv, http.MethodPost, "/patterns/export", token, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), string(types.PERMISSION_DENIED))

	token, err = tokens.Issue(steward)
	require.NoError(t, err)
	rec = doRequest(srv, http.MethodPost, "/patterns/export", token, body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sk-live")
}

func TestServer_DeletePattern(t *testing.T) {
	srv, h, tokens := newTestServer(t, ServerConfig{})
	result := h.persist(t, "plain content", types.ClassPublic)

	token, err := tokens.Issue(steward)
	require.NoError(t, err)

	rec := doRequest(srv, http.MethodDelete, "/patterns/not-a-uuid", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(srv, http.MethodDelete, "/patterns/"+types.NewID().String(), token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(srv, http.MethodDelete, "/patterns/"+result.PatternID.String(), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	observerToken, err := tokens.Issue(observer)
	require.NoError(t, err)
	other := h.persist(t, "second", types.ClassPublic)
	rec = doRequest(srv, http.MethodDelete, "/patterns/"+other.PatternID.String(), observerToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServer_UpdateAttemptsRefusedAsImmutable(t *testing.T) {
	srv, h, _ := newTestServer(t, ServerConfig{})
	result := h.persist(t, "plain content", types.ClassPublic)

	for _, method := range []string{http.MethodPut, http.MethodPatch} {
		rec := doRequest(srv, method, "/patterns/"+result.PatternID.String(), "", []byte(`{}`))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Contains(t, rec.Body.String(), string(types.PATTERN_IMMUTABLE))
	}
}

func TestServer_RateLimitReturns429(t *testing.T) {
	srv, _, _ := newTestServer(t, ServerConfig{RatePerSecond: 1, RateBurst: 2})

	assert.Equal(t, http.StatusOK, doRequest(srv, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, doRequest(srv, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(srv, http.MethodGet, "/healthz", "", nil).Code)

	// A different source address has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.0.0.2:55000"
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTokenAuthority_RoundTrip(t *testing.T) {
	tokens, err := NewTokenAuthority([]byte("round-trip-secret"), time.Hour)
	require.NoError(t, err)

	token, err := tokens.Issue(validator)
	require.NoError(t, err)

	cred, err := tokens.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, validator, cred)
}

func TestTokenAuthority_RejectsExpiredToken(t *testing.T) {
	now := time.Now().UTC()
	tokens, err := NewTokenAuthority([]byte("expiry-secret"), time.Minute)
	require.NoError(t, err)
	tokens.WithClock(func() time.Time { return now })

	token, err := tokens.Issue(validator)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = tokens.Validate(token)
	assert.True(t, types.IsCode(err, types.PERMISSION_DENIED))
}

func TestTokenAuthority_RejectsForeignSignature(t *testing.T) {
	issuer, err := NewTokenAuthority([]byte("issuer-secret"), time.Hour)
	require.NoError(t, err)
	verifier, err := NewTokenAuthority([]byte("verifier-secret"), time.Hour)
	require.NoError(t, err)

	token, err := issuer.Issue(steward)
	require.NoError(t, err)

	_, err = verifier.Validate(token)
	assert.True(t, types.IsCode(err, types.PERMISSION_DENIED))
}

func TestIPLimiter_EvictsIdleBuckets(t *testing.T) {
	limiter := newIPLimiter(100, 100)
	now := time.Now()
	limiter.clock = func() time.Time { return now }

	require.True(t, limiter.Allow("10.0.0.1:1000"))
	require.True(t, limiter.Allow("10.0.0.2:1000"))

	now = now.Add(11 * time.Minute)
	limiter.evictIdle(now)

	limiter.mu.Lock()
	remaining := len(limiter.limiters)
	limiter.mu.Unlock()
	assert.Zero(t, remaining)
}
