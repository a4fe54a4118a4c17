package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"editorbridge/internal/auth"
	"editorbridge/internal/handoff"
)

func TestHealthEndpoint(t *testing.T) {
	_, h := newTestServer(t, testConfig(), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if ok, exists := response["ok"]; !exists || ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
}

func TestReadyEndpointWithoutRedis(t *testing.T) {
	_, h := newTestServer(t, testConfig(), nil, nil)

	rr := doJSON(t, h, http.MethodGet, "/api/ready", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	checks := response["checks"].(map[string]any)
	if _, exists := checks["redis"]; exists {
		t.Errorf("expected no redis check, got %v", checks["redis"])
	}
}

func TestReadyEndpointRedisDown(t *testing.T) {
	s := miniredis.RunT(t)
	store, err := handoff.NewRedisStore("redis://"+s.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	_, h := newTestServer(t, testConfig(), store, nil)

	if rr := doJSON(t, h, http.MethodGet, "/api/ready", nil); rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 while redis is up, got %d", rr.Code)
	}

	s.Close()
	rr := doJSON(t, h, http.MethodGet, "/api/ready", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["status"] != "not_ready" {
		t.Errorf("expected status=not_ready, got %v", response["status"])
	}
	redisCheck := response["checks"].(map[string]any)["redis"].(map[string]any)
	if redisCheck["status"] != "error" {
		t.Errorf("expected redis status=error, got %v", redisCheck["status"])
	}
}

func TestMiddlewareHeaders(t *testing.T) {
	_, h := newTestServer(t, testConfig(), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Request-ID"); got != "req-123" {
		t.Errorf("expected request id to be echoed, got %q", got)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected CORS origin *, got %q", got)
	}

	rr = doJSON(t, h, http.MethodGet, "/api/health", nil)
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated request id")
	}

	rr = doJSON(t, h, http.MethodOptions, "/api/documents/doc-1/threads", nil)
	if rr.Code != http.StatusNoContent {
		t.Errorf("expected preflight 204, got %d", rr.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	_, h := newTestServer(t, testConfig(), nil, nil)
	for _, path := range []string{"/", "/api/nope", "/api/documents/doc-1/unknown"} {
		rr := doJSON(t, h, http.MethodGet, path, nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, rr.Code)
		}
	}
}

func TestTokenRoute(t *testing.T) {
	cfg := testConfig()
	cfg.Token.EnvironmentID = "env-1"
	cfg.Token.AccessKey = "secret"
	cfg.Token.TTL = time.Hour
	_, h := newTestServer(t, cfg, nil, nil)

	rr := doJSON(t, h, http.MethodGet, "/api/token?userId=u-9", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("expected text/plain, got %q", ct)
	}
	claims, err := auth.ParseToken([]byte("secret"), "env-1", rr.Body.String())
	if err != nil {
		t.Fatalf("token did not parse: %v", err)
	}
	if claims.Subject != "u-9" {
		t.Errorf("expected sub u-9, got %q", claims.Subject)
	}

	rr = doJSON(t, h, http.MethodOptions, "/api/token", nil)
	if rr.Code != http.StatusOK || rr.Body.Len() != 0 {
		t.Errorf("expected empty 200 preflight, got %d %q", rr.Code, rr.Body.String())
	}
}

func TestMetricsRoute(t *testing.T) {
	svc, h := newTestServer(t, testConfig(), nil, nil)
	if _, err := svc.Open("doc-metrics"); err != nil {
		t.Fatalf("open: %v", err)
	}

	rr := doJSON(t, h, http.MethodGet, "/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "editorbridge_sessions") {
		t.Error("expected sessions gauge in metrics output")
	}
}

func TestDomainErrorCause(t *testing.T) {
	cause := errors.New("unexpected EOF")
	err := fmt.Errorf("set content: %w", domainError(http.StatusUnprocessableEntity, "INVALID_CONTENT", "Content could not be parsed", nil).withCause(cause))

	if got := ErrorCode(err); got != "INVALID_CONTENT" {
		t.Errorf("expected INVALID_CONTENT, got %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("expected the cause to be reachable with errors.Is")
	}
	status, code, message, _ := mapError(err)
	if status != http.StatusUnprocessableEntity || code != "INVALID_CONTENT" || message != "Content could not be parsed" {
		t.Errorf("unexpected mapping %d %s %q", status, code, message)
	}
	if ErrorCode(cause) != "" {
		t.Error("expected no code for a plain error")
	}
}
