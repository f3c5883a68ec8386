package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ampd/internal/automation"
	"ampd/internal/events"
	"ampd/internal/mountplan"
	"ampd/internal/profile"
	"ampd/internal/provider"
	"ampd/internal/session"
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

type apiFixture struct {
	router      *mux.Router
	hub         *session.Hub
	manager     *session.Manager
	automations *automation.Store
	profilesDir string
}

func newFixture(t *testing.T, prov provider.Provider) *apiFixture {
	t.Helper()
	root := t.TempDir()

	sessions := store.NewSessionStore(filepath.Join(root, "sessions"))
	loader := mountplan.NewLoader(sessions,
		mountplan.WithProviderFactory("test", func(bus *events.Registry, cfg map[string]any) (provider.Provider, error) {
			return prov, nil
		}),
	)
	hub := session.NewHub()
	manager := session.NewManager(sessions, loader, session.WithHub(hub))
	autoStore := automation.NewStore(filepath.Join(root, "automations"))
	profilesDir := filepath.Join(root, "profiles")
	require.NoError(t, os.MkdirAll(profilesDir, 0o755))

	api := NewRouter(RouterDeps{
		Sessions:    manager,
		Hub:         hub,
		Automations: autoStore,
		Scheduler:   automation.NewScheduler(autoStore, manager),
		Profiles:    profile.NewRegistry(profilesDir),
		Loader:      loader,
		Version:     "test",
	})
	router := mux.NewRouter()
	api.RegisterRoutes(router)

	return &apiFixture{
		router:      router,
		hub:         hub,
		manager:     manager,
		automations: autoStore,
		profilesDir: profilesDir,
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func testPlanBody() map[string]any {
	return map[string]any{
		"plan": map[string]any{
			"providers": []map[string]any{{"name": "default", "type": "test"}},
		},
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, &textProvider{text: "ok"})
	rec := f.do(t, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Version)
}

func TestCreateListGetSession(t *testing.T) {
	f := newFixture(t, &textProvider{text: "hi"})

	rec := f.do(t, http.MethodPost, "/api/v1/sessions", testPlanBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[store.Session](t, rec)
	assert.True(t, strings.HasPrefix(created.ID, "sess_"))

	rec = f.do(t, http.MethodGet, "/api/v1/sessions/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[store.Session](t, rec)
	assert.Equal(t, created.ID, got.ID)

	rec = f.do(t, http.MethodGet, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]store.Session](t, rec)
	require.Len(t, list, 1)
}

func TestGetSessionNotFound(t *testing.T) {
	f := newFixture(t, &textProvider{text: "hi"})
	rec := f.do(t, http.MethodGet, "/api/v1/sessions/sess_ghost", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "not found", resp.Error)
}

func TestCreateSessionInvalidPlan(t *testing.T) {
	f := newFixture(t, &textProvider{text: "hi"})
	body := map[string]any{
		"plan": map[string]any{
			"tools": []map[string]any{{"name": "ghost"}},
		},
	}
	rec := f.do(t, http.MethodPost, "/api/v1/sessions", body)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	require.NotEmpty(t, resp.ValidationErrors)
	assert.Contains(t, resp.ValidationErrors[0].Loc, "tools")
}

func TestCreateSessionFromProfile(t *testing.T) {
	f := newFixture(t, &textProvider{text: "hi"})
	planYAML := `
id: chat
plan:
  providers:
    - name: default
      type: test
`
	require.NoError(t, os.WriteFile(filepath.Join(f.profilesDir, "chat.yaml"), []byte(planYAML), 0o644))

	rec := f.do(t, http.MethodPost, "/api/v1/sessions", map[string]any{"profile_id": "chat"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/v1/sessions", map[string]any{"profile_id": "missing"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAppendMessagePersistsOnly(t *testing.T) {
	f := newFixture(t, &textProvider{text: "hi"})
	created := decode[store.Session](t, f.do(t, http.MethodPost, "/api/v1/sessions", testPlanBody()))

	rec := f.do(t, http.MethodPost, "/api/v1/sessions/"+created.ID+"/messages", MessageRequest{Content: "note to self"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/sessions/"+created.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]store.TranscriptEntry](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, "user", entries[0].Role)
	assert.Equal(t, "note to self", entries[0].Content)
}

func TestAppendMessageMissingContent(t *testing.T) {
	f := newFixture(t, &textProvider{text: "hi"})
	created := decode[store.Session](t, f.do(t, http.MethodPost, "/api/v1/sessions", testPlanBody()))

	rec := f.do(t, http.MethodPost, "/api/v1/sessions/"+created.ID+"/messages", map[string]any{})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	require.Len(t, resp.ValidationErrors, 1)
	assert.Equal(t, "content", resp.ValidationErrors[0].Loc)
}

func TestSendMessageAcceptedAndBusy(t *testing.T) {
	prov := &textProvider{text: "slow", block: make(chan struct{})}
	f := newFixture(t, prov)
	created := decode[store.Session](t, f.do(t, http.MethodPost, "/api/v1/sessions", testPlanBody()))

	sub, err := f.manager.Subscribe(created.ID)
	require.NoError(t, err)
	defer f.manager.Unsubscribe(created.ID, sub)

	rec := f.do(t, http.MethodPost, "/api/v1/sessions/"+created.ID+"/send", MessageRequest{Content: "go"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	resp := decode[SendMessageResponse](t, rec)
	assert.Equal(t, "executing", resp.Status)

	rec = f.do(t, http.MethodPost, "/api/v1/sessions/"+created.ID+"/send", MessageRequest{Content: "again"})
	require.Equal(t, http.StatusConflict, rec.Code)

	close(prov.block)
	for ev := range sub.Events() {
		if ev.Type == session.EventAssistantMessageComplete {
			break
		}
	}
}

func TestExecuteStreamsSSE(t *testing.T) {
	f := newFixture(t, &textProvider{text: "streamed answer"})
	created := decode[store.Session](t, f.do(t, http.MethodPost, "/api/v1/sessions", testPlanBody()))

	rec := f.do(t, http.MethodPost, "/api/v1/sessions/"+created.ID+"/execute", MessageRequest{Content: "question"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: "+session.EventUserMessageSaved+"\n")
	assert.Contains(t, body, "event: "+session.EventAssistantMessageStart+"\n")
	assert.Contains(t, body, "event: "+session.EventAssistantMessageComplete+"\n")

	// Every frame is `event: <type>` + `data: <json>` + blank line.
	frames := strings.Split(strings.TrimSuffix(body, "\n\n"), "\n\n")
	for _, frame := range frames {
		lines := strings.SplitN(frame, "\n", 2)
		require.Len(t, lines, 2, "frame: %q", frame)
		assert.True(t, strings.HasPrefix(lines[0], "event: "))
		require.True(t, strings.HasPrefix(lines[1], "data: "))
		var payload map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[1], "data: ")), &payload))
	}

	// The terminal frame carries the final text.
	last := frames[len(frames)-1]
	assert.Contains(t, last, "streamed answer")
}

func TestExecuteUnknownSession(t *testing.T) {
	f := newFixture(t, &textProvider{text: "hi"})
	rec := f.do(t, http.MethodPost, "/api/v1/sessions/sess_ghost/execute", MessageRequest{Content: "q"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}
