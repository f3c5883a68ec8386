package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSONAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "doc.json")

	require.NoError(t, WriteJSONAtomic(path, map[string]any{"a": 1}))

	var got map[string]any
	require.NoError(t, ReadJSON(path, &got))
	assert.Equal(t, float64(1), got["a"])

	// No temp file left behind.
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	// Rewrite replaces the content in full.
	require.NoError(t, WriteJSONAtomic(path, map[string]any{"b": 2}))
	got = nil
	require.NoError(t, ReadJSON(path, &got))
	assert.NotContains(t, got, "a")
	assert.Equal(t, float64(2), got["b"])
}

func TestReadJSONMissing(t *testing.T) {
	var v map[string]any
	err := ReadJSON(filepath.Join(t.TempDir(), "nope.json"), &v)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWriteJSONOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.json")

	require.NoError(t, WriteJSONOnce(path, map[string]any{"v": 1}))
	err := WriteJSONOnce(path, map[string]any{"v": 2})
	assert.ErrorIs(t, err, ErrImmutable)

	var got map[string]any
	require.NoError(t, ReadJSON(path, &got))
	assert.Equal(t, float64(1), got["v"])
}

func TestAppendAndReadJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log", "records.jsonl")

	for i := 0; i < 3; i++ {
		require.NoError(t, AppendJSONL(path, map[string]int{"i": i}))
	}

	var seen []int
	require.NoError(t, ReadJSONL(path, func(line []byte) error {
		var rec map[string]int
		require.NoError(t, json.Unmarshal(line, &rec))
		seen = append(seen, rec["i"])
		return nil
	}))
	assert.Equal(t, []int{0, 1, 2}, seen)

	n, err := CountJSONL(path)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestReadJSONLMissing(t *testing.T) {
	err := ReadJSONL(filepath.Join(t.TempDir(), "nope.jsonl"), func([]byte) error {
		t.Fatal("should not be called")
		return nil
	})
	assert.NoError(t, err)
}

func TestSessionStoreLifecycle(t *testing.T) {
	s := NewSessionStore(t.TempDir())

	sess := &Session{ID: "sess_1", ProfileID: "default"}
	require.NoError(t, s.Create(sess, map[string]any{"profile": "default"}))

	assert.Equal(t, SessionCreated, sess.Status)
	assert.False(t, sess.CreatedAt.IsZero())

	// Duplicate create fails.
	assert.ErrorIs(t, s.Create(&Session{ID: "sess_1"}, nil), ErrAlreadyExists)

	got, err := s.Get("sess_1")
	require.NoError(t, err)
	assert.Equal(t, "default", got.ProfileID)

	// Mount plan is immutable.
	err = WriteJSONOnce(s.MountPlanPath("sess_1"), map[string]any{"profile": "other"})
	assert.ErrorIs(t, err, ErrImmutable)

	var plan map[string]any
	require.NoError(t, s.ReadMountPlan("sess_1", &plan))
	assert.Equal(t, "default", plan["profile"])
}

func TestSessionStoreNotFound(t *testing.T) {
	s := NewSessionStore(t.TempDir())

	_, err := s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Transcript("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionStoreTranscript(t *testing.T) {
	s := NewSessionStore(t.TempDir())
	require.NoError(t, s.Create(&Session{ID: "sess_2"}, nil))

	require.NoError(t, s.AppendEntry("sess_2", &TranscriptEntry{Role: "user", Content: "hi"}))
	require.NoError(t, s.AppendEntry("sess_2", &TranscriptEntry{
		Role:    "assistant",
		Content: "hello",
		ToolCalls: []ToolCall{
			{ID: "call_1", Tool: "echo", Arguments: map[string]any{"text": "x"}},
		},
	}))
	require.NoError(t, s.AppendEntry("sess_2", &TranscriptEntry{
		Role: "tool", Content: "x", ToolCallID: "call_1", Name: "echo",
	}))

	entries, err := s.Transcript("sess_2")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "user", entries[0].Role)
	assert.Equal(t, "call_1", entries[1].ToolCalls[0].ID)
	assert.Equal(t, "call_1", entries[2].ToolCallID)
	assert.False(t, entries[0].Timestamp.IsZero())

	meta, err := s.Get("sess_2")
	require.NoError(t, err)
	assert.Equal(t, 3, meta.MessageCount)
}

func TestSessionStoreList(t *testing.T) {
	s := NewSessionStore(t.TempDir())
	require.NoError(t, s.Create(&Session{ID: "a"}, nil))
	require.NoError(t, s.Create(&Session{ID: "b"}, nil))

	sessions, err := s.List()
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}
