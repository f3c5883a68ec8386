package provider

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"ampd/internal/events"
)

const (
	// DefaultTimeout bounds one wire call.
	DefaultTimeout = 600 * time.Second

	// DefaultContinuationCap bounds automatic incomplete-response
	// continuations per Complete call.
	DefaultContinuationCap = 3

	// DefaultThinkingBuffer is added on top of the thinking budget when
	// raising max_output_tokens.
	DefaultThinkingBuffer = 1024

	debugPayloadLimit = 2048
)

// Adapter normalises chat requests for a wire provider: it repairs
// dangling tool calls, converts roles, applies the extended-thinking
// budget, and drives continuation of incomplete responses. It implements
// Provider.
type Adapter struct {
	wire            WireProvider
	bus             *events.Registry
	timeout         time.Duration
	continuationCap int
	thinkingBuffer  int
	debugEvents     bool
	rawEvents       bool
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithTimeout bounds each wire call.
func WithTimeout(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithContinuationCap sets the maximum number of automatic continuations.
func WithContinuationCap(n int) AdapterOption {
	return func(a *Adapter) {
		if n >= 0 {
			a.continuationCap = n
		}
	}
}

// WithThinkingBuffer sets the output-token headroom above the thinking
// budget.
func WithThinkingBuffer(n int) AdapterOption {
	return func(a *Adapter) {
		if n > 0 {
			a.thinkingBuffer = n
		}
	}
}

// WithDebugEvents enables llm:*:debug and llm:*:raw event emission.
func WithDebugEvents(debug, raw bool) AdapterOption {
	return func(a *Adapter) {
		a.debugEvents = debug
		a.rawEvents = raw
	}
}

// NewAdapter wraps a wire provider. bus may be nil in tests; events are
// then skipped.
func NewAdapter(wire WireProvider, bus *events.Registry, opts ...AdapterOption) (*Adapter, error) {
	if wire == nil {
		return nil, ErrNoWire
	}
	a := &Adapter{
		wire:            wire,
		bus:             bus,
		timeout:         DefaultTimeout,
		continuationCap: DefaultContinuationCap,
		thinkingBuffer:  DefaultThinkingBuffer,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Name implements Provider.
func (a *Adapter) Name() string {
	return a.wire.Name()
}

// Complete implements Provider. The returned response concatenates all
// accumulated output when continuations occurred. A failed continuation
// returns the best-available partial response rather than an error.
func (a *Adapter) Complete(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	messages, repairs := RepairToolSequences(req.Messages)
	if len(repairs) > 0 {
		a.emit(ctx, events.ProviderToolSequenceRepaired, map[string]any{
			"provider":     a.Name(),
			"repair_count": len(repairs),
			"repairs":      repairs,
		})
	}

	wireReq := a.buildWireRequest(messages, req)
	a.emitRequestEvents(ctx, wireReq)

	resp := &ChatResponse{Metadata: make(map[string]any)}
	var reasoning []ReasoningItem

	for attempt := 0; ; attempt++ {
		wireResp, err := a.send(ctx, wireReq)
		if err != nil {
			a.emit(ctx, events.LLMResponse, map[string]any{
				"provider": a.Name(),
				"status":   "error",
				"error":    err.Error(),
			})
			if attempt > 0 {
				// Partial output already accumulated; surface it.
				log.Warn().Err(err).Str("provider", a.Name()).
					Int("continuation", attempt).
					Msg("continuation failed, returning partial response")
				resp.FinishReason = "incomplete"
				return resp, nil
			}
			return nil, err
		}

		resp.Content = append(resp.Content, wireResp.Content...)
		resp.ToolCalls = append(resp.ToolCalls, wireResp.ToolCalls...)
		resp.Usage.Add(wireResp.Usage)
		reasoning = append(reasoning, wireResp.Reasoning...)
		if wireResp.ID != "" {
			resp.Metadata["response_id"] = wireResp.ID
		}
		for k, v := range wireResp.Metadata {
			resp.Metadata[k] = v
		}

		if wireResp.Status != WireStatusIncomplete {
			resp.FinishReason = finishReason(wireResp, resp)
			break
		}
		if attempt >= a.continuationCap {
			resp.FinishReason = "incomplete"
			break
		}

		a.emit(ctx, events.ProviderIncompleteContinuation, map[string]any{
			"response_id":         wireResp.ID,
			"reason":              wireResp.IncompleteReason,
			"continuation_number": attempt + 1,
			"max_attempts":        a.continuationCap,
		})
		wireReq = a.continuationRequest(wireReq, wireResp, resp)
	}

	for _, item := range reasoning {
		resp.Content = append(resp.Content, ContentBlock{
			Type:        BlockThinking,
			Thinking:    item.Summary,
			Visibility:  VisibilityInternal,
			Encrypted:   item.Encrypted,
			ReasoningID: item.ID,
		})
	}
	if len(reasoning) > 0 {
		resp.Metadata["reasoning_items"] = len(reasoning)
	}

	a.emitResponseEvents(ctx, resp)
	return resp, nil
}

// send performs one timed wire call.
func (a *Adapter) send(ctx context.Context, req *WireRequest) (*WireResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.wire.Send(callCtx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &Error{Provider: a.Name(), Op: "send", Err: ErrTimeout}
		}
		return nil, &Error{Provider: a.Name(), Op: "send", Err: err}
	}
	return resp, nil
}

// continuationRequest builds the follow-up request after an incomplete
// response, using server-side state when the wire supports it and
// re-emitting accumulated output otherwise.
func (a *Adapter) continuationRequest(prev *WireRequest, wireResp *WireResponse, acc *ChatResponse) *WireRequest {
	next := *prev
	if a.wire.SupportsServerState() && wireResp.ID != "" {
		next.PreviousResponseID = wireResp.ID
		return &next
	}

	input := make([]WireMessage, len(prev.Input))
	copy(input, prev.Input)
	for _, item := range wireResp.Reasoning {
		it := item
		input = append(input, WireMessage{Role: RoleAssistant, Reasoning: &it})
	}
	if text := acc.Text(); text != "" {
		input = append(input, WireMessage{Role: RoleAssistant, Content: text})
	}
	next.Input = input
	next.PreviousResponseID = ""
	return &next
}

// buildWireRequest converts the normalised message list into wire form:
// system messages become instructions, developer messages are wrapped as
// <context_file> user messages, tool results are concatenated into user
// messages, and preserved reasoning re-enters as top-level entries.
func (a *Adapter) buildWireRequest(messages []Message, req *ChatRequest) *WireRequest {
	var (
		instructions []string
		input        []WireMessage
		pendingTools []string
	)

	flushTools := func() {
		if len(pendingTools) == 0 {
			return
		}
		input = append(input, WireMessage{
			Role:    RoleUser,
			Content: strings.Join(pendingTools, "\n\n"),
		})
		pendingTools = nil
	}

	for i := range messages {
		m := &messages[i]
		switch m.Role {
		case RoleSystem:
			instructions = append(instructions, m.TextContent())
		case RoleDeveloper:
			flushTools()
			input = append(input, WireMessage{
				Role:    RoleUser,
				Content: "<context_file>\n" + m.TextContent() + "\n</context_file>",
			})
		case RoleTool:
			pendingTools = append(pendingTools, "[Tool: "+m.Name+"]\n"+m.TextContent())
		case RoleAssistant:
			flushTools()
			for _, b := range m.Blocks {
				if b.Type == BlockThinking && (b.ReasoningID != "" || b.Encrypted != "") {
					input = append(input, WireMessage{
						Role: RoleAssistant,
						Reasoning: &ReasoningItem{
							ID:        b.ReasoningID,
							Encrypted: b.Encrypted,
							Summary:   b.Thinking,
						},
					})
				}
			}
			input = append(input, WireMessage{
				Role:      RoleAssistant,
				Content:   m.TextContent(),
				ToolCalls: collectToolCalls(m),
			})
		default:
			flushTools()
			input = append(input, WireMessage{Role: RoleUser, Content: m.TextContent()})
		}
	}
	flushTools()

	wireReq := &WireRequest{
		Instructions:    strings.Join(instructions, "\n\n"),
		Input:           input,
		Tools:           req.Tools,
		MaxOutputTokens: req.MaxOutputTokens,
		Temperature:     req.Temperature,
		OnToken:         req.OnToken,
	}

	if req.Reasoning != nil {
		effort := req.Reasoning.Effort
		if effort == "" {
			effort = "high"
		}
		wireReq.ReasoningEffort = effort
		if req.Reasoning.BudgetTokens > 0 {
			if floor := req.Reasoning.BudgetTokens + a.thinkingBuffer; wireReq.MaxOutputTokens < floor {
				wireReq.MaxOutputTokens = floor
			}
		}
	}
	return wireReq
}

func (a *Adapter) emitRequestEvents(ctx context.Context, req *WireRequest) {
	a.emit(ctx, events.LLMRequest, map[string]any{
		"provider":          a.Name(),
		"message_count":     len(req.Input),
		"tool_count":        len(req.Tools),
		"max_output_tokens": req.MaxOutputTokens,
	})
	if a.debugEvents {
		a.emit(ctx, events.LLMRequestDebug, map[string]any{
			"provider": a.Name(),
			"payload":  truncate(marshal(req), debugPayloadLimit),
		})
	}
	if a.rawEvents {
		a.emit(ctx, events.LLMRequestRaw, map[string]any{
			"provider": a.Name(),
			"payload":  marshal(req),
		})
	}
}

func (a *Adapter) emitResponseEvents(ctx context.Context, resp *ChatResponse) {
	a.emit(ctx, events.LLMResponse, map[string]any{
		"provider":      a.Name(),
		"status":        "ok",
		"usage":         resp.Usage,
		"tool_calls":    resp.HasToolCalls(),
		"finish_reason": resp.FinishReason,
	})
	if a.debugEvents {
		a.emit(ctx, events.LLMResponseDebug, map[string]any{
			"provider": a.Name(),
			"payload":  truncate(marshal(resp), debugPayloadLimit),
		})
	}
	if a.rawEvents {
		a.emit(ctx, events.LLMResponseRaw, map[string]any{
			"provider": a.Name(),
			"payload":  marshal(resp),
		})
	}
}

func (a *Adapter) emit(ctx context.Context, event string, data map[string]any) {
	if a.bus == nil {
		return
	}
	a.bus.Emit(ctx, event, data)
}

func finishReason(wireResp *WireResponse, resp *ChatResponse) string {
	if resp.HasToolCalls() {
		return "tool_calls"
	}
	if wireResp.Status == WireStatusComplete || wireResp.Status == "" {
		return "stop"
	}
	return wireResp.Status
}

func marshal(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
