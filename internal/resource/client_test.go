package resource

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func writeLocalCopies(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		filepath.Join(dir, "prompts", "query_generate.txt"):  "local query template {user_query} {conversation_history}",
		filepath.Join(dir, "prompts", "answer_generate.txt"): "local answer template {refined_query} {faq_content}",
		filepath.Join(dir, "resources", "faq.txt"):           "local faq content",
	}
	for path, content := range files {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return dir
}

func TestFetchPrefersRemote(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/resources/faq" {
			t.Errorf("remote path = %q, want /resources/faq", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content": "remote faq content"}`))
	}))
	defer ts.Close()

	// No local dir at all: remote success must never touch the local path.
	client := NewClient(ts.URL, filepath.Join(t.TempDir(), "missing"), 5*time.Second, nil)

	res, err := client.Fetch(context.Background(), FAQ)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if res.Source != SourceRemote {
		t.Fatalf("Source = %q, want %q", res.Source, SourceRemote)
	}
	if res.Content != "remote faq content" {
		t.Fatalf("Content = %q, want remote content", res.Content)
	}
	if hits.Load() != 1 {
		t.Fatalf("remote hits = %d, want 1", hits.Load())
	}
}

func TestFetchFallsBackOnRemoteStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	dir := writeLocalCopies(t)
	client := NewClient(ts.URL, dir, 5*time.Second, nil)

	res, err := client.Fetch(context.Background(), FAQ)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if res.Source != SourceLocal {
		t.Fatalf("Source = %q, want %q", res.Source, SourceLocal)
	}
	if res.Content != "local faq content" {
		t.Fatalf("Content = %q, want local content", res.Content)
	}
}

func TestFetchFallsBackOnMalformedBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json at all"))
	}))
	defer ts.Close()

	dir := writeLocalCopies(t)
	client := NewClient(ts.URL, dir, 5*time.Second, nil)

	res, err := client.Fetch(context.Background(), QueryPrompt)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if res.Source != SourceLocal {
		t.Fatalf("Source = %q, want %q", res.Source, SourceLocal)
	}
}

func TestFetchFallsBackOnMissingContentField(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"detail": "wrong shape"}`))
	}))
	defer ts.Close()

	dir := writeLocalCopies(t)
	client := NewClient(ts.URL, dir, 5*time.Second, nil)

	res, err := client.Fetch(context.Background(), AnswerPrompt)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if res.Source != SourceLocal {
		t.Fatalf("Source = %q, want %q", res.Source, SourceLocal)
	}
}

func TestFetchUnavailableKeepsBothCauses(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, filepath.Join(t.TempDir(), "missing"), 5*time.Second, nil)

	_, err := client.Fetch(context.Background(), FAQ)
	if err == nil {
		t.Fatalf("Fetch() should fail when both paths fail")
	}

	var unavail *UnavailableError
	if !errors.As(err, &unavail) {
		t.Fatalf("error type = %T, want *UnavailableError", err)
	}
	if unavail.Handle != FAQ {
		t.Fatalf("Handle = %v, want %v", unavail.Handle, FAQ)
	}
	if unavail.RemoteErr == nil || unavail.LocalErr == nil {
		t.Fatalf("both causes must be preserved, got remote=%v local=%v", unavail.RemoteErr, unavail.LocalErr)
	}
}

func TestFetchDoesNotCacheAcrossCalls(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"content": "v"}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, t.TempDir(), 5*time.Second, nil)

	for i := 0; i < 3; i++ {
		if _, err := client.Fetch(context.Background(), FAQ); err != nil {
			t.Fatalf("Fetch() #%d error = %v", i, err)
		}
	}
	if hits.Load() != 3 {
		t.Fatalf("remote hits = %d, want 3 (no caching)", hits.Load())
	}
}

func TestHealth(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"status": "healthy"}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, t.TempDir(), 5*time.Second, nil)
	if !client.Health(context.Background()) {
		t.Fatalf("Health() = false, want true")
	}

	ts.Close()
	if client.Health(context.Background()) {
		t.Fatalf("Health() = true after server shutdown, want false")
	}
}

func TestHandlePaths(t *testing.T) {
	if got := QueryPrompt.String(); got != "prompt:query_generate" {
		t.Fatalf("QueryPrompt.String() = %q", got)
	}
	if got := FAQ.remotePath(); got != "/resources/faq" {
		t.Fatalf("FAQ.remotePath() = %q", got)
	}
	if got := AnswerPrompt.localPath("assets"); got != filepath.Join("assets", "prompts", "answer_generate.txt") {
		t.Fatalf("AnswerPrompt.localPath() = %q", got)
	}
}
