package jsonl

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sio "github.com/hed1ad/safestride/pkg/io"
)

func TestWriter(t *testing.T) {
	var out bytes.Buffer
	w := NewWriter(&out)

	require.NoError(t, w.Write(sio.Result{
		Line:     2,
		Record:   sio.Record{UserID: "alice", TypingInterval: 250},
		Analysis: map[string]any{"overall_score": 50.0},
	}))
	require.NoError(t, w.WriteAll([]sio.Result{
		{Line: 3, Record: sio.Record{UserID: "bob"}, Error: "mouse_count must be >= 0"},
	}))

	assert.Zero(t, out.Len(), "output is buffered until flush")
	require.NoError(t, w.Close())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, 2.0, first["line"])
	assert.Equal(t, "alice", first["record"].(map[string]any)["user_id"])
	assert.NotContains(t, first, "error")

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "mouse_count must be >= 0", second["error"])
	assert.NotContains(t, second, "analysis")
}

func TestWriterFlush(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.Write(sio.Result{Line: 1}))
	require.NoError(t, w.Flush())
	assert.Equal(t, `{"line":1,"record":{"user_id":"","avg_typing_interval":0,"mouse_movement_count":0,"scroll_event_count":0}}`+"\n", buf.String())
	assert.NoError(t, w.Close())
}
