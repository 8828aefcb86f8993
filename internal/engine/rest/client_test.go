package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/clafollett/codetriever/internal/engine"
)

func TestSubmitIndex_Success(t *testing.T) {
	var gotPath, gotKey string
	var gotBody engine.IndexRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-API-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(engine.IndexAccepted{JobID: "ej-42"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/", APIKey: "secret"}) // trailing slash trimmed
	ack, err := c.SubmitIndex(context.Background(), engine.IndexRequest{Repository: "https://github.com/acme/app", Ref: "main"})
	if err != nil {
		t.Fatalf("SubmitIndex: %v", err)
	}
	if ack.JobID != "ej-42" {
		t.Fatalf("JobID = %q", ack.JobID)
	}
	if gotPath != "/v1/index/jobs" || gotKey != "secret" {
		t.Fatalf("path=%q key=%q", gotPath, gotKey)
	}
	if gotBody.Repository != "https://github.com/acme/app" || gotBody.Ref != "main" {
		t.Fatalf("body = %+v", gotBody)
	}
}

func TestSubmitIndex_MissingJobIDIsDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL}).SubmitIndex(context.Background(), engine.IndexRequest{Repository: "r"})
	var de *engine.DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want *engine.DecodeError", err)
	}
}

func TestSearch_SuccessAndStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/search" {
			http.NotFound(w, r)
			return
		}
		var req engine.SearchRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Query == "boom" {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("shard down"))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"matches": []engine.Match{{Path: "a.go", Score: 0.5}},
		})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})

	matches, err := c.Search(context.Background(), engine.SearchRequest{Query: "ok", Limit: 3})
	if err != nil || len(matches) != 1 || matches[0].Path != "a.go" {
		t.Fatalf("matches=%v err=%v", matches, err)
	}

	_, err = c.Search(context.Background(), engine.SearchRequest{Query: "boom"})
	var se *engine.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *engine.StatusError", err)
	}
	if se.Code != http.StatusServiceUnavailable || se.Detail != "shard down" {
		t.Fatalf("status error = %+v", se)
	}
}

func TestJobStatus_StatesAndMalformed(t *testing.T) {
	state := "running"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(engine.JobStatus{JobID: "j1", State: state, Files: 10, Chunks: 120})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})

	st, err := c.JobStatus(context.Background(), "j1")
	if err != nil || st.State != "running" || st.Chunks != 120 {
		t.Fatalf("st=%+v err=%v", st, err)
	}

	// A state outside the agreed lifecycle is a contract violation.
	state = "exploded"
	_, err = c.JobStatus(context.Background(), "j1")
	var de *engine.DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want *engine.DecodeError", err)
	}
}

func TestDo_MalformedJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"matches": [`))
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL}).Search(context.Background(), engine.SearchRequest{Query: "q"})
	var de *engine.DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want *engine.DecodeError", err)
	}
}

func TestDo_TransportErrorIsRaw(t *testing.T) {
	// Point at a closed listener so the dial fails.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(Config{BaseURL: url}).Search(context.Background(), engine.SearchRequest{Query: "q"})
	if err == nil {
		t.Fatal("expected a transport error")
	}
	var se *engine.StatusError
	var de *engine.DecodeError
	if errors.As(err, &se) || errors.As(err, &de) {
		t.Fatalf("transport errors must pass through raw, got %T", err)
	}
}
