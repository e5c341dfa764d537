package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/skald-ai/skald/internal/llm"
	"github.com/skald-ai/skald/internal/memory"
)

func seedTranscript(t *testing.T, store memory.Store) {
	t.Helper()
	mustAppend := func(msg memory.Message) {
		t.Helper()
		if _, err := store.Append("c1", msg); err != nil {
			t.Fatal(err)
		}
	}
	mustAppend(memory.Message{Role: memory.RoleUser, Content: "IBM"})
	mustAppend(memory.Message{Role: memory.RoleAssistant, ToolCalls: []llm.ToolCall{
		{ID: "call_1", Name: "web_search", Arguments: `{"query":"IBM"}`},
	}})
	mustAppend(memory.Message{
		Role:       memory.RoleTool,
		Content:    `{"status":"Simulated search for: IBM","items":[]}`,
		ToolCallID: "call_1",
		ToolName:   "web_search",
	})
	mustAppend(memory.Message{Role: memory.RoleAssistant, Content: "IBM is a **tech** company."})
}

func TestExportMarkdown(t *testing.T) {
	srv, store := newTestServer(t, &stubGateway{})
	seedTranscript(t, store)

	req := httptest.NewRequest(http.MethodGet, "/v1/conversations/c1/export?format=markdown", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("content type = %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{"# IBM", "## User", "## Assistant", "web_search", "Simulated search for: IBM"} {
		if !strings.Contains(body, want) {
			t.Errorf("markdown missing %q:\n%s", want, body)
		}
	}
}

func TestExportHTML(t *testing.T) {
	srv, store := newTestServer(t, &stubGateway{})
	seedTranscript(t, store)

	req := httptest.NewRequest(http.MethodGet, "/v1/conversations/c1/export?format=html", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<!DOCTYPE html>") {
		t.Error("not a standalone document")
	}
	if !strings.Contains(body, "<strong>tech</strong>") {
		t.Errorf("markdown not rendered:\n%s", body)
	}
}

func TestExportUnknownFormat(t *testing.T) {
	srv, store := newTestServer(t, &stubGateway{})
	seedTranscript(t, store)

	req := httptest.NewRequest(http.MethodGet, "/v1/conversations/c1/export?format=pdf", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestExportMissingConversation(t *testing.T) {
	srv, _ := newTestServer(t, &stubGateway{})
	req := httptest.NewRequest(http.MethodGet, "/v1/conversations/nope/export", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
