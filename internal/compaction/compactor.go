// Package compaction shrinks long transcripts before provider calls.
// It implements the coordinator's ContextManager slot.
package compaction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"ampd/internal/provider"
)

const (
	// DefaultThreshold is the message count that triggers compaction.
	DefaultThreshold = 50

	// DefaultKeepRecent is how many trailing messages survive verbatim.
	DefaultKeepRecent = 20
)

// ErrTooShort is returned when there is nothing worth compacting.
var ErrTooShort = errors.New("compaction: not enough messages")

const summaryPrompt = `Summarize the following conversation history concisely, preserving key
decisions, facts, and pending tasks needed to continue the conversation.

Conversation to summarize:
%s

Provide a concise summary:`

// Compactor replaces the older span of a conversation with a single
// system summary, keeping system messages and the most recent turns.
type Compactor struct {
	threshold  int
	keepRecent int
	summarizer provider.Provider
}

// Option configures a Compactor.
type Option func(*Compactor)

// WithThreshold sets the compaction trigger in messages.
func WithThreshold(n int) Option {
	return func(c *Compactor) {
		if n > 0 {
			c.threshold = n
		}
	}
}

// WithKeepRecent sets how many trailing messages stay verbatim.
func WithKeepRecent(n int) Option {
	return func(c *Compactor) {
		if n > 0 {
			c.keepRecent = n
		}
	}
}

// WithSummarizer uses a provider for LLM summarization. Without one,
// the summary is a plain digest of the omitted turns.
func WithSummarizer(p provider.Provider) Option {
	return func(c *Compactor) {
		c.summarizer = p
	}
}

// New creates a compactor.
func New(opts ...Option) *Compactor {
	c := &Compactor{
		threshold:  DefaultThreshold,
		keepRecent: DefaultKeepRecent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Threshold implements coordinator.ContextManager.
func (c *Compactor) Threshold() int {
	return c.threshold
}

// Compact implements coordinator.ContextManager. System messages and the
// last keepRecent conversation messages are preserved; everything in
// between collapses into one system summary message.
func (c *Compactor) Compact(ctx context.Context, messages []provider.Message) ([]provider.Message, error) {
	var system, conv []provider.Message
	for _, m := range messages {
		if m.Role == provider.RoleSystem {
			system = append(system, m)
		} else {
			conv = append(conv, m)
		}
	}

	if len(conv) <= c.keepRecent {
		return messages, ErrTooShort
	}

	cut := len(conv) - c.keepRecent
	older, recent := conv[:cut], conv[cut:]

	summary, err := c.summarize(ctx, older)
	if err != nil {
		log.Warn().Err(err).Msg("summarization failed, using digest")
		summary = digest(older)
	}

	out := make([]provider.Message, 0, len(system)+1+len(recent))
	out = append(out, system...)
	out = append(out, provider.Message{
		Role:    provider.RoleSystem,
		Content: fmt.Sprintf("[Conversation summary of %d earlier messages]\n%s", len(older), summary),
	})
	out = append(out, recent...)
	return out, nil
}

func (c *Compactor) summarize(ctx context.Context, messages []provider.Message) (string, error) {
	if c.summarizer == nil {
		return digest(messages), nil
	}
	resp, err := c.summarizer.Complete(ctx, &provider.ChatRequest{
		Messages: []provider.Message{{
			Role:    provider.RoleUser,
			Content: fmt.Sprintf(summaryPrompt, render(messages)),
		}},
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("compaction: empty summary")
	}
	return text, nil
}

// digest is the deterministic fallback summary.
func digest(messages []provider.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		text := strings.TrimSpace(m.TextContent())
		if text == "" {
			continue
		}
		if len(text) > 120 {
			text = text[:120] + "..."
		}
		fmt.Fprintf(&sb, "- %s: %s\n", m.Role, text)
	}
	return strings.TrimSpace(sb.String())
}

func render(messages []provider.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.TextContent())
	}
	return sb.String()
}
