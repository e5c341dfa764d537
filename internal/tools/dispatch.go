package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skald-ai/skald/internal/llm"
)

// Result is the structured outcome of executing one tool call request.
// A Result is always produced: execution failure surfaces as an "error"
// key in the payload, never as a fault, so the loop can always feed it
// back to the model.
type Result struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload"`
}

// Dispatcher executes requested tool invocations against a registry.
type Dispatcher struct {
	registry *Registry
	timeout  time.Duration
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher. timeout bounds each individual
// executor; zero disables the bound.
func NewDispatcher(registry *Registry, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		timeout:  timeout,
		logger:   logger,
	}
}

// DispatchAll executes every requested call and returns one Result per
// request, same length and order as the input regardless of completion
// order. Executors run concurrently with respect to each other — they
// are independent, and real implementations are I/O bound — and the
// dispatcher waits for all to settle. Partial failure of one call never
// blocks its siblings.
func (d *Dispatcher) DispatchAll(ctx context.Context, calls []llm.ToolCall) []Result {
	results := make([]Result, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call llm.ToolCall) {
			defer wg.Done()
			results[i] = d.dispatch(ctx, call)
		}(i, call)
	}
	wg.Wait()

	return results
}

// dispatch runs one call, converting every failure mode into an
// error-carrying payload.
func (d *Dispatcher) dispatch(ctx context.Context, call llm.ToolCall) (res Result) {
	res = Result{ID: call.ID, Name: call.Name}

	// A panicking executor must not take down the turn, or its
	// concurrently running siblings.
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool executor panicked", "tool", call.Name, "panic", r)
			res.Payload = map[string]any{"error": fmt.Sprintf("tool %s panicked: %v", call.Name, r)}
		}
	}()

	tool := d.registry.Get(call.Name)
	if tool == nil {
		res.Payload = map[string]any{"error": fmt.Sprintf("Unknown tool: %s", call.Name)}
		return res
	}

	args := parseArguments(call.Arguments)

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	payload, err := tool.Handler(ctx, args)
	d.logger.Debug("tool executed",
		"tool", call.Name,
		"duration", time.Since(start),
		"error", err,
	)

	if err != nil {
		res.Payload = map[string]any{"error": err.Error()}
		return res
	}
	if payload == nil {
		payload = map[string]any{}
	}
	res.Payload = payload
	return res
}

// parseArguments decodes the model-authored argument string. The model
// is an unreliable serializer: malformed JSON degrades to an empty
// argument set rather than aborting the turn.
func parseArguments(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}
