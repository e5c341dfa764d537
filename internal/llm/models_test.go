package llm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestListModels_MergeAndDedupe(t *testing.T) {
	resetModelCache()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/openrouter/v1/models":
			io.WriteString(w, `{"data":[{"id":"a"},{"id":"b"}]}`)
		case "/openai/v1/models":
			io.WriteString(w, `{"data":[{"id":"b"},{"id":"c"}]}`)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "sk-test", false)
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error: %v", err)
	}

	ids := make([]string, len(models))
	for i, m := range models {
		ids[i] = m.ID
	}
	want := []string{"a", "b", "c"}
	if len(ids) != len(want) {
		t.Fatalf("got ids %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestListModels_CuratedFallback(t *testing.T) {
	resetModelCache()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "sk-test", false)
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error: %v", err)
	}
	if len(models) != len(curatedModels) {
		t.Errorf("got %d models, want curated list of %d", len(models), len(curatedModels))
	}
}

func TestListModels_Cached(t *testing.T) {
	resetModelCache()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		io.WriteString(w, `{"data":[{"id":"cached-model"}]}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "sk-test", false)
	if _, err := c.ListModels(context.Background()); err != nil {
		t.Fatalf("first ListModels() error: %v", err)
	}
	firstHits := hits.Load()

	if _, err := c.ListModels(context.Background()); err != nil {
		t.Fatalf("second ListModels() error: %v", err)
	}
	if hits.Load() != firstHits {
		t.Errorf("second listing hit upstream (%d calls total), want cache hit", hits.Load())
	}
}
