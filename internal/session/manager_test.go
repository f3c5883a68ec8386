package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ampd/internal/events"
	"ampd/internal/mountplan"
	"ampd/internal/provider"
	"ampd/internal/store"
)

type textProvider struct {
	text  string
	block chan struct{}
}

func (p *textProvider) Name() string { return "text" }

func (p *textProvider) Complete(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	if p.block != nil {
		<-p.block
	}
	return &provider.ChatResponse{Content: []provider.ContentBlock{provider.TextBlock(p.text)}}, nil
}

func testManager(t *testing.T, prov provider.Provider, opts ...Option) (*Manager, *store.SessionStore) {
	t.Helper()
	sessions := store.NewSessionStore(t.TempDir())
	loader := mountplan.NewLoader(sessions,
		mountplan.WithProviderFactory("test", func(bus *events.Registry, cfg map[string]any) (provider.Provider, error) {
			return prov, nil
		}),
	)
	return NewManager(sessions, loader, opts...), sessions
}

func testPlan() *mountplan.Plan {
	return &mountplan.Plan{
		Providers: []mountplan.ProviderMount{{Name: "default", Type: "test"}},
	}
}

// drainUntil reads stream events until one of type terminal arrives or
// the test times out.
func drainUntil(t *testing.T, sub *Subscriber, terminal string) []StreamEvent {
	t.Helper()
	var seen []StreamEvent
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sub.Events():
			seen = append(seen, ev)
			if ev.Type == terminal {
				return seen
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s, saw %d events", terminal, len(seen))
		}
	}
}

func eventTypes(evs []StreamEvent) []string {
	types := make([]string, len(evs))
	for i, ev := range evs {
		types[i] = ev.Type
	}
	return types
}

func TestSendMessageLifecycle(t *testing.T) {
	m, sessions := testManager(t, &textProvider{text: "hello"})
	sess, err := m.Create("default", testPlan())
	require.NoError(t, err)

	sub, err := m.Subscribe(sess.ID)
	require.NoError(t, err)
	defer m.Unsubscribe(sess.ID, sub)

	require.NoError(t, m.SendMessage(context.Background(), sess.ID, "hi"))

	seen := drainUntil(t, sub, EventAssistantMessageComplete)
	types := eventTypes(seen)
	assert.Equal(t, EventUserMessageSaved, types[0])
	assert.Equal(t, EventAssistantMessageStart, types[1])
	assert.Contains(t, types, EventMessage)
	assert.Equal(t, "hello", seen[len(seen)-1].Payload["content"])

	entries, err := m.Transcript(sess.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "user", entries[0].Role)
	assert.Equal(t, "assistant", entries[1].Role)

	// Status settles back to idle once the background task finishes.
	require.Eventually(t, func() bool {
		sess, err := sessions.Get(sess.ID)
		return err == nil && sess.Status == store.SessionIdle
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSendMessageWhileExecutingReturnsBusy(t *testing.T) {
	prov := &textProvider{text: "slow", block: make(chan struct{})}
	m, _ := testManager(t, prov)
	sess, err := m.Create("default", testPlan())
	require.NoError(t, err)

	sub, err := m.Subscribe(sess.ID)
	require.NoError(t, err)
	defer m.Unsubscribe(sess.ID, sub)

	require.NoError(t, m.SendMessage(context.Background(), sess.ID, "first"))
	err = m.SendMessage(context.Background(), sess.ID, "second")
	assert.ErrorIs(t, err, ErrSessionBusy)

	close(prov.block)
	drainUntil(t, sub, EventAssistantMessageComplete)

	// Gate reopens after completion.
	require.Eventually(t, func() bool {
		return m.SendMessage(context.Background(), sess.ID, "third") == nil
	}, 2*time.Second, 10*time.Millisecond)
	drainUntil(t, sub, EventAssistantMessageComplete)
}

func TestExecuteSyncDeliversTerminalFrame(t *testing.T) {
	m, _ := testManager(t, &textProvider{text: "sync answer"})
	sess, err := m.Create("default", testPlan())
	require.NoError(t, err)

	sub, err := m.ExecuteSync(context.Background(), sess.ID, "question")
	require.NoError(t, err)
	defer m.Unsubscribe(sess.ID, sub)

	seen := drainUntil(t, sub, EventAssistantMessageComplete)
	var done map[string]any
	for _, ev := range seen {
		if ev.Type == EventMessage && ev.Payload["type"] == "done" {
			done = ev.Payload
		}
	}
	require.NotNil(t, done)
	assert.Equal(t, "sync answer", done["content"])
}

func TestSendMessageUnknownSession(t *testing.T) {
	m, _ := testManager(t, &textProvider{text: "x"})
	err := m.SendMessage(context.Background(), "sess_ghost", "hi")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSubscribeUnknownSession(t *testing.T) {
	m, _ := testManager(t, &textProvider{text: "x"})
	_, err := m.Subscribe("sess_ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	m, _ := testManager(t, &textProvider{text: "x"}, WithQueueSize(2))
	sess, err := m.Create("default", testPlan())
	require.NoError(t, err)

	sub, err := m.Subscribe(sess.ID)
	require.NoError(t, err)
	defer m.Unsubscribe(sess.ID, sub)

	sm := m.stream(sess.ID)
	for i := 0; i < 6; i++ {
		sm.Broadcast(StreamEvent{Type: EventContent, Payload: map[string]any{"seq": i}})
	}

	assert.Positive(t, sub.Dropped())

	// The queue holds the newest events; a stream:dropped notice
	// surfaces once there is room.
	var types []string
	for len(sub.Events()) > 0 {
		types = append(types, (<-sub.Events()).Type)
	}
	assert.Contains(t, types, events.StreamDropped)
}

func TestHubMirrorsLifecycle(t *testing.T) {
	hub := NewHub()
	m, _ := testManager(t, &textProvider{text: "hi"}, WithHub(hub))

	global := hub.Subscribe()
	defer hub.Unsubscribe(global)

	sess, err := m.Create("default", testPlan())
	require.NoError(t, err)
	require.NoError(t, m.SendMessage(context.Background(), sess.ID, "hello"))

	deadline := time.After(5 * time.Second)
	var types []string
	for {
		select {
		case ev := <-global.Events():
			types = append(types, ev.Type)
			if ev.Type == EventAssistantMessageComplete {
				assert.Contains(t, types, "session:created")
				assert.Contains(t, types, EventUserMessageSaved)
				return
			}
		case <-deadline:
			t.Fatalf("hub never saw completion, saw %v", types)
		}
	}
}

func TestDuplicateSessionCreate(t *testing.T) {
	sessions := store.NewSessionStore(t.TempDir())
	require.NoError(t, sessions.Create(&store.Session{ID: "sess_fixed"}, nil))
	err := sessions.Create(&store.Session{ID: "sess_fixed"}, nil)
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
}
