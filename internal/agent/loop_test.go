package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/skald-ai/skald/internal/llm"
	"github.com/skald-ai/skald/internal/memory"
	"github.com/skald-ai/skald/internal/tools"
)

// scriptedGateway returns canned responses in sequence and records what
// it was sent.
type scriptedGateway struct {
	responses []llm.Response
	err       error
	calls     int
	sent      [][]llm.Message
}

func (g *scriptedGateway) Complete(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Response, error) {
	g.calls++
	copied := make([]llm.Message, len(messages))
	copy(copied, messages)
	g.sent = append(g.sent, copied)

	if g.err != nil {
		return nil, g.err
	}
	idx := g.calls - 1
	if idx >= len(g.responses) {
		idx = len(g.responses) - 1
	}
	resp := g.responses[idx]
	return &resp, nil
}

func (g *scriptedGateway) ListModels(ctx context.Context) ([]llm.Model, error) {
	return nil, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLoop(t *testing.T, gw llm.Gateway, listener Listener) (*Loop, memory.Store) {
	t.Helper()
	store := memory.NewInMemoryStore()
	registry := tools.NewRegistry()
	loop := NewLoop(Config{
		Store:      store,
		Gateway:    gw,
		Dispatcher: tools.NewDispatcher(registry, 0, testLogger()),
		Registry:   registry,
		Options:    func() llm.Options { return llm.Options{Model: "test-model"} },
		Listener:   listener,
		Logger:     testLogger(),
	})
	return loop, store
}

func TestRun_PlainAnswer(t *testing.T) {
	gw := &scriptedGateway{responses: []llm.Response{{Content: "plain answer"}}}

	var events []Event
	loop, store := newTestLoop(t, gw, func(ev Event) { events = append(events, ev) })
	store.Append("c1", memory.Message{Role: memory.RoleUser, Content: "question"})

	if err := loop.Run(context.Background(), "c1"); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	// Exactly one new assistant message.
	msgs, _ := store.Messages("c1")
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[1].Role != memory.RoleAssistant || msgs[1].Content != "plain answer" {
		t.Errorf("final message = %+v", msgs[1])
	}
	if gw.calls != 1 {
		t.Errorf("gateway calls = %d, want 1", gw.calls)
	}

	last := events[len(events)-1]
	if last.Kind != EventTerminated {
		t.Errorf("last event = %q, want terminated", last.Kind)
	}
}

func TestRun_TurnBudget(t *testing.T) {
	// A model that always wants tools must be cut off after 5 rounds.
	gw := &scriptedGateway{responses: []llm.Response{{
		ToolCalls: []llm.ToolCall{{ID: "call_loop", Name: "web_search", Arguments: `{"query":"again"}`}},
	}}}

	var terminated *Event
	loop, store := newTestLoop(t, gw, func(ev Event) {
		if ev.Kind == EventTerminated {
			terminated = &ev
		}
	})
	store.Append("c1", memory.Message{Role: memory.RoleUser, Content: "go"})

	if err := loop.Run(context.Background(), "c1"); err != nil {
		t.Fatalf("Run() error: %v, budget exhaustion is not an error", err)
	}
	if gw.calls != 5 {
		t.Errorf("gateway calls = %d, want exactly 5", gw.calls)
	}
	if terminated == nil || terminated.Detail != "turn budget exhausted" {
		t.Errorf("terminated event = %+v", terminated)
	}
}

func TestRun_ScenarioIBM(t *testing.T) {
	// First turn requests a search, second turn answers.
	gw := &scriptedGateway{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "web_search", Arguments: `{"query":"IBM"}`}}},
		{Content: "IBM is a tech company…"},
	}}

	loop, store := newTestLoop(t, gw, nil)
	store.Append("c1", memory.Message{Role: memory.RoleUser, Content: "IBM"})

	if err := loop.Run(context.Background(), "c1"); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	msgs, _ := store.Messages("c1")
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4: %+v", len(msgs), msgs)
	}

	if msgs[0].Role != memory.RoleUser || msgs[0].Content != "IBM" {
		t.Errorf("msgs[0] = %+v", msgs[0])
	}
	if msgs[1].Role != memory.RoleAssistant || msgs[1].Content != "" || len(msgs[1].ToolCalls) != 1 {
		t.Errorf("msgs[1] = %+v, want tool-call assistant turn with null content", msgs[1])
	}
	if msgs[2].Role != memory.RoleTool || msgs[2].ToolCallID != "call_1" {
		t.Errorf("msgs[2] = %+v", msgs[2])
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(msgs[2].Content), &payload); err != nil {
		t.Fatalf("tool message content is not JSON: %v", err)
	}
	if payload["status"] != "Simulated search for: IBM" {
		t.Errorf("tool payload = %+v", payload)
	}
	if msgs[3].Role != memory.RoleAssistant || msgs[3].Content != "IBM is a tech company…" {
		t.Errorf("msgs[3] = %+v", msgs[3])
	}

	// The second model call must have seen the tool result.
	if len(gw.sent) != 2 {
		t.Fatalf("gateway saw %d calls, want 2", len(gw.sent))
	}
	if len(gw.sent[1]) != 3 {
		t.Errorf("second call saw %d messages, want 3 (user, assistant, tool)", len(gw.sent[1]))
	}
}

func TestRun_UnknownToolContinues(t *testing.T) {
	gw := &scriptedGateway{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "teleport", Arguments: `{}`}}},
		{Content: "recovered"},
	}}

	loop, store := newTestLoop(t, gw, nil)
	store.Append("c1", memory.Message{Role: memory.RoleUser, Content: "go"})

	if err := loop.Run(context.Background(), "c1"); err != nil {
		t.Fatalf("Run() error: %v, unknown tool must not terminate the loop", err)
	}

	msgs, _ := store.Messages("c1")
	var toolMsg *memory.Message
	for i := range msgs {
		if msgs[i].Role == memory.RoleTool {
			toolMsg = &msgs[i]
		}
	}
	if toolMsg == nil {
		t.Fatal("no tool message appended")
	}
	var payload map[string]any
	json.Unmarshal([]byte(toolMsg.Content), &payload)
	if payload["error"] != "Unknown tool: teleport" {
		t.Errorf("tool payload = %+v", payload)
	}
	if msgs[len(msgs)-1].Content != "recovered" {
		t.Errorf("final message = %+v, loop should have continued", msgs[len(msgs)-1])
	}
}

func TestRun_GatewayFailure(t *testing.T) {
	gw := &scriptedGateway{err: &llm.GatewayError{Status: 500, Message: "both endpoints down"}}

	var errorSeen bool
	loop, store := newTestLoop(t, gw, func(ev Event) {
		if ev.Kind == EventError {
			errorSeen = true
		}
	})
	store.Append("c1", memory.Message{Role: memory.RoleUser, Content: "hi"})

	err := loop.Run(context.Background(), "c1")
	if err == nil {
		t.Fatal("Run() should surface the gateway failure")
	}

	// Prior messages intact, plus a system diagnostic.
	msgs, _ := store.Messages("c1")
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Content != "hi" {
		t.Errorf("prior message corrupted: %+v", msgs[0])
	}
	if msgs[1].Role != memory.RoleSystem {
		t.Errorf("diagnostic = %+v, want system role", msgs[1])
	}
	if !errorSeen {
		t.Error("no error event emitted")
	}
}

func TestRun_ParallelToolResultsInOrder(t *testing.T) {
	gw := &scriptedGateway{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{
			{ID: "call_a", Name: "web_search", Arguments: `{"query":"a"}`},
			{ID: "call_b", Name: "execute_code", Arguments: `{"code":"b"}`},
			{ID: "call_c", Name: "process_file", Arguments: `{"fileId":"c"}`},
		}},
		{Content: "done"},
	}}

	loop, store := newTestLoop(t, gw, nil)
	store.Append("c1", memory.Message{Role: memory.RoleUser, Content: "go"})

	if err := loop.Run(context.Background(), "c1"); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	msgs, _ := store.Messages("c1")
	wantOrder := []string{"call_a", "call_b", "call_c"}
	var gotOrder []string
	for _, m := range msgs {
		if m.Role == memory.RoleTool {
			gotOrder = append(gotOrder, m.ToolCallID)
		}
	}
	if len(gotOrder) != len(wantOrder) {
		t.Fatalf("got %d tool messages, want %d", len(gotOrder), len(wantOrder))
	}
	for i := range wantOrder {
		if gotOrder[i] != wantOrder[i] {
			t.Errorf("tool result order = %v, want %v", gotOrder, wantOrder)
			break
		}
	}
}

func TestRun_StoreFailureDoesNotPanic(t *testing.T) {
	gw := &scriptedGateway{responses: []llm.Response{{Content: "answer"}}}
	loop := NewLoop(Config{
		Store:      failingStore{},
		Gateway:    gw,
		Dispatcher: tools.NewDispatcher(tools.NewRegistry(), 0, testLogger()),
		Registry:   tools.NewRegistry(),
		Options:    func() llm.Options { return llm.Options{} },
		Logger:     testLogger(),
	})

	if err := loop.Run(context.Background(), "c1"); err == nil {
		t.Fatal("Run() should report the append failure")
	}
}

// failingStore rejects every operation.
type failingStore struct{}

func (failingStore) GetOrCreate(string) (*memory.Conversation, error) { return nil, errors.New("no") }
func (failingStore) Get(string) (*memory.Conversation, error)         { return nil, errors.New("no") }
func (failingStore) List() ([]memory.Summary, error)                  { return nil, errors.New("no") }
func (failingStore) Append(string, memory.Message) (memory.Message, error) {
	return memory.Message{}, errors.New("append rejected")
}
func (failingStore) Messages(string) ([]memory.Message, error)   { return nil, nil }
func (failingStore) DeleteMessage(string, string) error          { return errors.New("no") }
func (failingStore) ToggleBookmark(string, string) (bool, error) { return false, errors.New("no") }
func (failingStore) Delete(string) error                         { return errors.New("no") }
func (failingStore) Stats() map[string]any                       { return nil }
