package v1

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ampd/internal/profile"
)

func TestListModules(t *testing.T) {
	f := newFixture(t, &textProvider{text: "hi"})
	rec := f.do(t, http.MethodGet, "/api/v1/modules", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[ModulesResponse](t, rec)
	assert.Contains(t, resp.Providers, "openai")
	assert.Contains(t, resp.Providers, "test")
	assert.Contains(t, resp.BuiltinTools, "echo")
	assert.Contains(t, resp.BuiltinTools, "bash")
}

func TestListProfiles(t *testing.T) {
	f := newFixture(t, &textProvider{text: "hi"})
	require.NoError(t, os.WriteFile(filepath.Join(f.profilesDir, "writer.yaml"), []byte(`
id: writer
name: Writing Assistant
`), 0o644))

	rec := f.do(t, http.MethodGet, "/api/v1/profiles", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	profiles := decode[[]profile.Profile](t, rec)
	require.Len(t, profiles, 1)
	assert.Equal(t, "Writing Assistant", profiles[0].Name)
}

func TestGlobalEventsStreamMirrorsHub(t *testing.T) {
	f := newFixture(t, &textProvider{text: "hi"})

	// Create a session through the API; the hub mirrors the lifecycle
	// event, which a fresh subscriber then drains.
	sub := f.hub.Subscribe()
	defer f.hub.Unsubscribe(sub)

	rec := f.do(t, http.MethodPost, "/api/v1/sessions", testPlanBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	ev := <-sub.Events()
	assert.Equal(t, "session:created", ev.Type)
}
