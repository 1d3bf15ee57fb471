package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLog_AddAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	el, err := OpenEventLog(path)
	require.NoError(t, err)

	require.NoError(t, el.Add("submission_accepted", "submission accepted", map[string]interface{}{
		"submission_id": "sub1_1",
	}))
	require.NoError(t, el.Add("submission_rejected", "submission rejected", nil))

	reloaded, err := OpenEventLog(path)
	require.NoError(t, err)

	events := reloaded.All()
	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].ID)
	assert.Equal(t, "submission_accepted", events[0].Type)
	assert.Equal(t, "sub1_1", events[0].Metadata["submission_id"])
	assert.Equal(t, 2, events[1].ID)
	assert.Equal(t, "submission_rejected", events[1].Type)
}

func TestEventLog_SkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	raw := `{"id":1,"type":"submission_accepted","message":"ok","timestamp":"2026-08-30T10:00:00Z"}
not json at all
{"id":2,"type":"submission_rejected","message":"no","timestamp":"2026-08-30T10:01:00Z"}
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0644))

	el, err := OpenEventLog(path)
	require.NoError(t, err)
	assert.Len(t, el.All(), 2)
}

func TestEventLog_Clear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	el, err := OpenEventLog(path)
	require.NoError(t, err)
	require.NoError(t, el.Add("system_started", "started", nil))
	require.NoError(t, el.Clear())

	assert.Empty(t, el.All())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)
}
