package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func newEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func TestRequestID_GeneratesAndPropagates(t *testing.T) {
	r := newEngine()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, CorrelationID(c)) })

	// Generated when absent.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	hdr := w.Header().Get(RequestIDHeader)
	if hdr == "" {
		t.Fatal("expected generated X-Request-ID")
	}
	if w.Body.String() != hdr {
		t.Fatalf("context id %q != header %q", w.Body.String(), hdr)
	}

	// Reused when supplied.
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "client-chosen-id")
	r.ServeHTTP(w, req)
	if got := w.Header().Get(RequestIDHeader); got != "client-chosen-id" {
		t.Fatalf("X-Request-ID = %q, want client-chosen-id", got)
	}
}

func TestRecovery_EmitsInternalEnvelope(t *testing.T) {
	r := newEngine()
	r.Use(RequestID(), Recovery())
	r.GET("/boom", func(c *gin.Context) { panic("secret detail that must not leak") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["kind"] != "internal" || body["message"] != "internal server error" {
		t.Fatalf("envelope = %v", body)
	}
	if body["correlation_id"] == "" || body["correlation_id"] == nil {
		t.Fatal("envelope missing correlation_id")
	}
	if strings.Contains(w.Body.String(), "secret detail") {
		t.Fatal("panic value leaked into response body")
	}
}

func TestKeyByPrincipalOrIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = net.JoinHostPort("203.0.113.9", "12345")

	c, _ := gin.CreateTestContext(w)
	c.Request = req

	key := KeyByPrincipalOrIP()(c)
	if !strings.HasPrefix(key, "ip:") || !strings.Contains(key, "203.0.113.9") {
		t.Fatalf("expected ip-based key, got %q", key)
	}

	c.Set("principalID", "key-ab12")
	if key := KeyByPrincipalOrIP()(c); key != "principal:key-ab12" {
		t.Fatalf("expected principal-based key, got %q", key)
	}
}

func TestRateLimiter_RejectsWithRateLimitedEnvelope(t *testing.T) {
	r := newEngine()
	r.Use(RequestID())
	rl := NewRateLimiter(0.0001, 1, KeyByPrincipalOrIP())
	r.Use(rl.Handler())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:1"

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["kind"] != "rate_limited" {
		t.Fatalf("kind = %v, want rate_limited", body["kind"])
	}
}

func TestRateLimiter_GCEvictsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(1.0, 1, KeyByPrincipalOrIP())
	rl.ttl = time.Nanosecond

	rl.mu.Lock()
	rl.visitors["old"] = &visitor{
		limiter:  rate.NewLimiter(1, 1),
		lastSeen: time.Now().Add(-time.Hour),
	}
	rl.cleanupN = 4999
	rl.mu.Unlock()

	_ = rl.getVisitor("new")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.visitors["old"]; ok {
		t.Fatal("idle bucket not evicted")
	}
	if _, ok := rl.visitors["new"]; !ok {
		t.Fatal("fresh bucket missing")
	}
}

func TestIdempotencyValidator(t *testing.T) {
	lookupHits := map[string]bool{"seen-before": true}
	lookup := func(_ context.Context, principalID, key string, _ time.Time) (bool, error) {
		return lookupHits[key], nil
	}

	r := newEngine()
	r.Use(RequestID())
	r.Use(IdempotencyValidator(IdempotencyOptions{MaxLen: 32}, lookup))
	r.POST("/", func(c *gin.Context) {
		key, _ := GetIdempotencyKey(c)
		c.JSON(http.StatusOK, gin.H{"key": key, "replay": IsReplay(c), "bypass": IsRateBypass(c)})
	})

	post := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if key != "" {
			req.Header.Set(HeaderIdempotencyKey, key)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	// Absent header is a no-op.
	if w := post(""); w.Code != http.StatusOK {
		t.Fatalf("no header: status = %d", w.Code)
	}

	// Invalid key rejected with the invalid_input envelope.
	w := post("bad key with spaces")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid key: status = %d, want 400", w.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["kind"] != "invalid_input" {
		t.Fatalf("kind = %v, want invalid_input", body["kind"])
	}

	// Over-long key rejected.
	if w := post(strings.Repeat("a", 33)); w.Code != http.StatusBadRequest {
		t.Fatalf("long key: status = %d, want 400", w.Code)
	}

	// Fresh key passes through, no replay flags.
	w = post("fresh-key")
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["key"] != "fresh-key" || body["replay"] != false || body["bypass"] != false {
		t.Fatalf("fresh key state = %v", body)
	}

	// Known key marks replay and rate bypass.
	w = post("seen-before")
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["replay"] != true || body["bypass"] != true {
		t.Fatalf("replay state = %v", body)
	}
}

func TestSecurityHeaders(t *testing.T) {
	r := newEngine()
	r.Use(RequestID())
	r.Use(SecurityHeaders(SecurityOptions{EnableHSTS: true, NoStore: true, EnablePolicy: true}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	// Plain HTTP: baseline headers, no HSTS.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	h := w.Header()
	if h.Get("X-Content-Type-Options") != "nosniff" || h.Get("X-Frame-Options") != "DENY" {
		t.Fatalf("baseline headers missing: %v", h)
	}
	if h.Get("Strict-Transport-Security") != "" {
		t.Fatal("HSTS emitted for plain HTTP")
	}
	if h.Get("Cache-Control") != "no-store" {
		t.Fatal("no-store missing")
	}
	if !strings.Contains(h.Get("Access-Control-Expose-Headers"), RequestIDHeader) {
		t.Fatal("X-Request-ID not exposed")
	}

	// Forwarded HTTPS: HSTS emitted.
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	r.ServeHTTP(w, req)
	if !strings.Contains(w.Header().Get("Strict-Transport-Security"), "max-age=") {
		t.Fatal("HSTS missing for forwarded HTTPS")
	}
}

func TestRedactingLogger_PassesRequestThrough(t *testing.T) {
	r := newEngine()
	r.Use(RequestID())
	r.Use(RedactingLogger(RedactOptions{MaskHeaders: []string{"X-Custom-Secret"}}))
	r.GET("/search", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/search?api_key=supersecret&q=parser", nil)
	req.Header.Set("X-API-Key", "supersecret")
	req.Header.Set("X-Custom-Secret", "alsosecret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}
