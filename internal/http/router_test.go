package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/clafollett/codetriever/internal/auth"
	"github.com/clafollett/codetriever/internal/config"
	"github.com/clafollett/codetriever/internal/domain"
	"github.com/clafollett/codetriever/internal/engine"
	"github.com/clafollett/codetriever/internal/repo"
)

// countingGateway implements services.EngineGateway and counts calls so
// tests can assert the engine was (or was not) contacted.
type countingGateway struct {
	submits  atomic.Int64
	searches atomic.Int64
	statuses atomic.Int64
}

func (g *countingGateway) SubmitIndex(_ context.Context, _ engine.IndexRequest) (*engine.IndexAccepted, error) {
	g.submits.Add(1)
	return &engine.IndexAccepted{JobID: fmt.Sprintf("eng-%d", g.submits.Load())}, nil
}

func (g *countingGateway) Search(_ context.Context, req engine.SearchRequest) ([]engine.Match, error) {
	g.searches.Add(1)
	return []engine.Match{{Repository: req.Repository, Path: "pkg/a.go", Snippet: "func A()", Score: 0.9}}, nil
}

func (g *countingGateway) JobStatus(_ context.Context, jobID string) (*engine.JobStatus, error) {
	g.statuses.Add(1)
	return &engine.JobStatus{JobID: jobID, State: domain.JobStatusRunning, Files: 1, Chunks: 10}, nil
}

func testConfig() config.Config {
	return config.Config{
		GinMode:     gin.TestMode,
		APIBasePath: "/api/v1",
		Timeouts: config.RouteTimeouts{
			Index:  10 * time.Second,
			Search: 10 * time.Second,
			Status: 10 * time.Second,
		},
		RateRPS:        1000,
		RateBurst:      1000,
		IdempotencyTTL: time.Hour,
	}
}

func newRouter(t *testing.T, gw *countingGateway, grants []string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	r := gin.New()
	RegisterRoutes(r, db, gw, auth.NewStaticAuthorizer(grants), testConfig())
	return r
}

func do(r *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_UnknownRouteIs404WithoutEngineCall(t *testing.T) {
	gw := &countingGateway{}
	r := newRouter(t, gw, nil)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/nope"},
		{http.MethodGet, "/api/v1/search"}, // method mismatch on a known path
		{http.MethodDelete, "/api/v1/index"},
	} {
		w := do(r, tc.method, tc.path, "", nil)
		if w.Code != http.StatusNotFound {
			t.Fatalf("%s %s: status = %d, want 404", tc.method, tc.path, w.Code)
		}
		var env map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("invalid envelope: %v", err)
		}
		if env["kind"] != "not_found" {
			t.Fatalf("kind = %v, want not_found", env["kind"])
		}
	}
	if n := gw.submits.Load() + gw.searches.Load() + gw.statuses.Load(); n != 0 {
		t.Fatalf("engine contacted %d times for unroutable requests", n)
	}
}

func TestRouter_HealthAndMetricsAreKeyFree(t *testing.T) {
	r := newRouter(t, &countingGateway{}, []string{"k1:search.read"})

	if w := do(r, http.MethodGet, "/health", "", nil); w.Code != http.StatusOK {
		t.Fatalf("/health status = %d, want 200", w.Code)
	}
	if w := do(r, http.MethodGet, "/metrics", "", nil); w.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", w.Code)
	}
}

func TestRouter_AuthGatesCapabilities(t *testing.T) {
	gw := &countingGateway{}
	grants := []string{"searcher:search.read", "indexer:index.write", "indexer:status.read"}
	r := newRouter(t, gw, grants)

	// Missing key.
	w := do(r, http.MethodPost, "/api/v1/search", `{"query":"q"}`, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no key: status = %d, want 401", w.Code)
	}

	// Known key, wrong capability.
	w = do(r, http.MethodPost, "/api/v1/index", `{"repository":"/srv/repo"}`,
		map[string]string{"X-API-Key": "searcher"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong capability: status = %d, want 401", w.Code)
	}
	var env map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	if env["kind"] != "unauthorized" {
		t.Fatalf("kind = %v, want unauthorized", env["kind"])
	}
	if gw.submits.Load() != 0 {
		t.Fatal("engine contacted despite authorization failure")
	}

	// Granted capability passes through to the engine.
	w = do(r, http.MethodPost, "/api/v1/search", `{"query":"q"}`,
		map[string]string{"X-API-Key": "searcher"})
	if w.Code != http.StatusOK {
		t.Fatalf("granted: status = %d (body %s)", w.Code, w.Body.String())
	}
	if gw.searches.Load() != 1 {
		t.Fatalf("engine search calls = %d, want 1", gw.searches.Load())
	}
}

func TestRouter_IndexSubmitAndStatusRoundTrip(t *testing.T) {
	gw := &countingGateway{}
	r := newRouter(t, gw, nil) // open mode

	w := do(r, http.MethodPost, "/api/v1/index", `{"repository":"https://example.com/r.git","ref":"main"}`, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d (body %s)", w.Code, w.Body.String())
	}
	var accepted struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &accepted); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if accepted.JobID == "" || accepted.Status != domain.JobStatusQueued {
		t.Fatalf("accepted = %+v", accepted)
	}

	// Status read refreshes from the engine.
	w = do(r, http.MethodGet, "/api/v1/index/jobs/"+accepted.JobID, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status read = %d (body %s)", w.Code, w.Body.String())
	}
	var job domain.IndexJob
	if err := json.Unmarshal(w.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.Status != domain.JobStatusRunning || job.Chunks != 10 {
		t.Fatalf("job = %+v", job)
	}

	// A duplicate submission for the same (repository, ref) conflicts.
	w = do(r, http.MethodPost, "/api/v1/index", `{"repository":"https://example.com/r.git","ref":"main"}`, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", w.Code)
	}
	if gw.submits.Load() != 1 {
		t.Fatalf("engine submits = %d, want 1", gw.submits.Load())
	}

	// Listing includes the job.
	w = do(r, http.MethodGet, "/api/v1/index/jobs", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list struct {
		Jobs []domain.IndexJob `json:"jobs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Jobs) != 1 || list.Jobs[0].ID != accepted.JobID {
		t.Fatalf("list = %+v", list)
	}
}

func TestRouter_IdempotentReplayReturnsOriginalJob(t *testing.T) {
	gw := &countingGateway{}
	r := newRouter(t, gw, nil)
	hdr := map[string]string{"Idempotency-Key": "retry-abc-1"}

	w := do(r, http.MethodPost, "/api/v1/index", `{"repository":"/srv/repo"}`, hdr)
	if w.Code != http.StatusAccepted {
		t.Fatalf("first submit = %d (body %s)", w.Code, w.Body.String())
	}
	var first struct {
		JobID string `json:"job_id"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &first)

	w = do(r, http.MethodPost, "/api/v1/index", `{"repository":"/srv/repo"}`, hdr)
	if w.Code != http.StatusAccepted {
		t.Fatalf("replay = %d (body %s)", w.Code, w.Body.String())
	}
	if w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatal("replay response missing Idempotency-Replayed header")
	}
	var second struct {
		JobID string `json:"job_id"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &second)

	if first.JobID == "" || first.JobID != second.JobID {
		t.Fatalf("replay job id %q != original %q", second.JobID, first.JobID)
	}
	if gw.submits.Load() != 1 {
		t.Fatalf("engine submits = %d, want 1 (replay must not resubmit)", gw.submits.Load())
	}
}
