// Package agent implements the core agent loop: the state machine that
// alternates model queries and tool execution until the model produces a
// final answer or the turn budget runs out.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/skald-ai/skald/internal/llm"
	"github.com/skald-ai/skald/internal/memory"
	"github.com/skald-ai/skald/internal/tools"
)

// DefaultMaxTurns caps model round trips per invocation. The bound is a
// deliberate simplification: iteration count only, no cost or token
// budget.
const DefaultMaxTurns = 5

// OptionsFunc supplies per-call completion options, letting settings
// changes take effect between turns without rebuilding the loop.
type OptionsFunc func() llm.Options

// Loop orchestrates one conversation turn cycle. All collaborators are
// injected; the loop holds no global state and only ever references a
// conversation by ID — history is re-read from the store every turn
// because tool results mutate it mid-invocation.
type Loop struct {
	store      memory.Store
	gateway    llm.Gateway
	dispatcher *tools.Dispatcher
	registry   *tools.Registry
	options    OptionsFunc
	listener   Listener
	maxTurns   int
	logger     *slog.Logger
}

// Config collects the Loop's collaborators.
type Config struct {
	Store      memory.Store
	Gateway    llm.Gateway
	Dispatcher *tools.Dispatcher
	Registry   *tools.Registry
	Options    OptionsFunc
	Listener   Listener // optional
	MaxTurns   int      // 0 means DefaultMaxTurns
	Logger     *slog.Logger
}

// NewLoop creates an agent loop.
func NewLoop(cfg Config) *Loop {
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Loop{
		store:      cfg.Store,
		gateway:    cfg.Gateway,
		dispatcher: cfg.Dispatcher,
		registry:   cfg.Registry,
		options:    cfg.Options,
		listener:   cfg.Listener,
		maxTurns:   maxTurns,
		logger:     cfg.Logger,
	}
}

// Run executes one loop invocation for the conversation. It side-effects
// through store appends and reports progress through the listener.
//
// Failure semantics: a gateway failure or an internal fault terminates
// this invocation only — a system-role diagnostic is appended when
// possible, prior messages are never touched, and there is no automatic
// retry beyond the gateway's own endpoint fallback.
func (l *Loop) Run(ctx context.Context, conversationID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent loop panic: %v", r)
			l.logger.Error("agent loop panicked", "conversation", conversationID, "panic", r)
			l.appendDiagnostic(conversationID, fmt.Sprintf("Internal error: %v", r))
			l.emit(Event{Kind: EventError, ConversationID: conversationID, Detail: err.Error()})
		}
	}()

	l.logger.Info("agent loop started", "conversation", conversationID, "max_turns", l.maxTurns)

	for turn := 1; turn <= l.maxTurns; turn++ {
		l.emit(Event{Kind: EventTurnStarted, ConversationID: conversationID, Turn: turn})

		// AWAIT_MODEL: fresh history every turn; tool results appended
		// below must be visible to the next model call.
		history, err := l.store.Messages(conversationID)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}

		opts := l.options()
		opts.Tools = l.registry.Specs()

		resp, err := l.gateway.Complete(ctx, toGatewayMessages(history), opts)
		if err != nil {
			l.logger.Error("model gateway failed", "conversation", conversationID, "turn", turn, "error", err)
			l.appendDiagnostic(conversationID, fmt.Sprintf("Model request failed: %v", err))
			l.emit(Event{Kind: EventError, ConversationID: conversationID, Turn: turn, Detail: err.Error()})
			return err
		}

		if len(resp.ToolCalls) == 0 {
			// Final answer: one assistant message, terminal state.
			if _, err := l.store.Append(conversationID, memory.Message{
				Role:    memory.RoleAssistant,
				Content: resp.Content,
			}); err != nil {
				return fmt.Errorf("append assistant message: %w", err)
			}
			l.emit(Event{Kind: EventTerminated, ConversationID: conversationID, Turn: turn})
			l.logger.Info("agent loop completed", "conversation", conversationID, "turns", turn)
			return nil
		}

		// DISPATCH_TOOLS: record the request turn (null content, tool
		// calls only), execute, fold results back in request order.
		if _, err := l.store.Append(conversationID, memory.Message{
			Role:      memory.RoleAssistant,
			ToolCalls: resp.ToolCalls,
		}); err != nil {
			return fmt.Errorf("append tool-call message: %w", err)
		}

		for _, call := range resp.ToolCalls {
			l.emit(Event{Kind: EventToolExecuting, ConversationID: conversationID, Turn: turn, Tool: call.Name})
		}

		results := l.dispatcher.DispatchAll(ctx, resp.ToolCalls)
		for _, result := range results {
			payload, err := json.Marshal(result.Payload)
			if err != nil {
				payload = []byte(fmt.Sprintf(`{"error":"marshal result: %v"}`, err))
			}
			if _, err := l.store.Append(conversationID, memory.Message{
				Role:       memory.RoleTool,
				Content:    string(payload),
				ToolCallID: result.ID,
				ToolName:   result.Name,
			}); err != nil {
				return fmt.Errorf("append tool result: %w", err)
			}
		}
	}

	// Turn budget exhausted: forced termination, not an error. The last
	// produced content (if any) stands as the visible answer.
	l.logger.Warn("turn budget exhausted", "conversation", conversationID, "max_turns", l.maxTurns)
	l.emit(Event{
		Kind:           EventTerminated,
		ConversationID: conversationID,
		Turn:           l.maxTurns,
		Detail:         "turn budget exhausted",
	})
	return nil
}

// appendDiagnostic records a system-role diagnostic, best effort: a
// failing store must not mask the original failure.
func (l *Loop) appendDiagnostic(conversationID, text string) {
	if _, err := l.store.Append(conversationID, memory.Message{
		Role:    memory.RoleSystem,
		Content: text,
	}); err != nil {
		l.logger.Error("append diagnostic failed", "conversation", conversationID, "error", err)
	}
}

func (l *Loop) emit(ev Event) {
	if l.listener == nil {
		return
	}
	ev.Timestamp = time.Now()
	l.listener(ev)
}

// toGatewayMessages projects stored history into the gateway's neutral
// form. Role-pairing fidelity versus flattening is the gateway's
// decision, not the loop's.
func toGatewayMessages(history []memory.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		out = append(out, llm.Message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
		})
	}
	return out
}
