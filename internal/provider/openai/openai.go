// Package openai implements the wire provider on top of the
// OpenAI-compatible chat completions API.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"ampd/internal/provider"
)

// Config selects the upstream endpoint and model.
type Config struct {
	APIKey  string `json:"api_key" mapstructure:"api_key"`
	BaseURL string `json:"base_url,omitempty" mapstructure:"base_url"`
	Model   string `json:"model" mapstructure:"model"`
}

// Wire is a provider.WireProvider backed by go-openai. It works against
// any OpenAI-compatible endpoint via Config.BaseURL.
type Wire struct {
	client *goopenai.Client
	model  string
	name   string
}

// New creates a wire provider from config.
func New(cfg Config) (*Wire, error) {
	if cfg.Model == "" {
		return nil, errors.New("openai: model is required")
	}
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Wire{
		client: goopenai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		name:   "openai",
	}, nil
}

// Name implements provider.WireProvider.
func (w *Wire) Name() string {
	return w.name
}

// SupportsServerState implements provider.WireProvider. Chat completions
// are stateless; continuations must re-send accumulated output.
func (w *Wire) SupportsServerState() bool {
	return false
}

// Send implements provider.WireProvider.
func (w *Wire) Send(ctx context.Context, req *provider.WireRequest) (*provider.WireResponse, error) {
	chatReq := w.buildRequest(req)
	if req.OnToken != nil {
		return w.sendStream(ctx, chatReq, req.OnToken)
	}

	resp, err := w.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty response")
	}

	choice := resp.Choices[0]
	out := &provider.WireResponse{
		ID:     resp.ID,
		Status: provider.WireStatusComplete,
		Usage: provider.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
	if choice.Message.Content != "" {
		out.Content = append(out.Content, provider.TextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, convertToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments))
	}
	if choice.FinishReason == goopenai.FinishReasonLength {
		out.Status = provider.WireStatusIncomplete
		out.IncompleteReason = "max_output_tokens"
	}
	return out, nil
}

// sendStream drives the streaming variant, forwarding text deltas to
// onToken and accumulating the full response.
func (w *Wire) sendStream(ctx context.Context, chatReq goopenai.ChatCompletionRequest, onToken func(string)) (*provider.WireResponse, error) {
	chatReq.Stream = true
	chatReq.StreamOptions = &goopenai.StreamOptions{IncludeUsage: true}

	stream, err := w.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	defer stream.Close()

	var (
		text         strings.Builder
		finishReason goopenai.FinishReason
		responseID   string
		usage        provider.Usage
		calls        []streamedCall
	)

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("openai: stream: %w", err)
		}
		if chunk.ID != "" {
			responseID = chunk.ID
		}
		if chunk.Usage != nil {
			usage = provider.Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
				TotalTokens:  chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			text.WriteString(choice.Delta.Content)
			onToken(choice.Delta.Content)
		}
		for _, tc := range choice.Delta.ToolCalls {
			calls = appendCallDelta(calls, tc)
		}
		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
		}
	}

	out := &provider.WireResponse{
		ID:     responseID,
		Status: provider.WireStatusComplete,
		Usage:  usage,
	}
	if text.Len() > 0 {
		out.Content = append(out.Content, provider.TextBlock(text.String()))
	}
	for _, c := range calls {
		out.ToolCalls = append(out.ToolCalls, convertToolCall(c.id, c.name, c.args.String()))
	}
	if finishReason == goopenai.FinishReasonLength {
		out.Status = provider.WireStatusIncomplete
		out.IncompleteReason = "max_output_tokens"
	}
	return out, nil
}

type streamedCall struct {
	id   string
	name string
	args strings.Builder
}

// appendCallDelta merges one streamed tool-call fragment by index.
func appendCallDelta(calls []streamedCall, tc goopenai.ToolCall) []streamedCall {
	idx := len(calls)
	if tc.Index != nil {
		idx = *tc.Index
	}
	for len(calls) <= idx {
		calls = append(calls, streamedCall{})
	}
	if tc.ID != "" {
		calls[idx].id = tc.ID
	}
	if tc.Function.Name != "" {
		calls[idx].name = tc.Function.Name
	}
	calls[idx].args.WriteString(tc.Function.Arguments)
	return calls
}

func (w *Wire) buildRequest(req *provider.WireRequest) goopenai.ChatCompletionRequest {
	var messages []goopenai.ChatCompletionMessage
	if req.Instructions != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: req.Instructions,
		})
	}
	for _, in := range req.Input {
		if in.Reasoning != nil {
			// Chat completions carry no native reasoning items; the
			// summary rides along as assistant context.
			if in.Reasoning.Summary != "" {
				messages = append(messages, goopenai.ChatCompletionMessage{
					Role:    goopenai.ChatMessageRoleAssistant,
					Content: in.Reasoning.Summary,
				})
			}
			continue
		}
		msg := goopenai.ChatCompletionMessage{
			Role:    in.Role,
			Content: in.Content,
		}
		for _, tc := range in.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			msg.ToolCalls = append(msg.ToolCalls, goopenai.ToolCall{
				ID:   tc.ID,
				Type: goopenai.ToolTypeFunction,
				Function: goopenai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		messages = append(messages, msg)
	}

	chatReq := goopenai.ChatCompletionRequest{
		Model:               w.model,
		Messages:            messages,
		MaxCompletionTokens: req.MaxOutputTokens,
		Temperature:         float32(req.Temperature),
		ReasoningEffort:     req.ReasoningEffort,
	}
	for _, t := range req.Tools {
		params, _ := json.Marshal(t.Parameters)
		chatReq.Tools = append(chatReq.Tools, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  json.RawMessage(params),
			},
		})
	}
	return chatReq
}

// convertToolCall parses the JSON argument string into a map; malformed
// arguments surface as a raw field rather than failing the call.
func convertToolCall(id, name, args string) provider.ToolCall {
	call := provider.ToolCall{ID: id, Name: name}
	if args != "" {
		if err := json.Unmarshal([]byte(args), &call.Arguments); err != nil {
			call.Arguments = map[string]any{"_raw": args}
		}
	}
	return call
}
