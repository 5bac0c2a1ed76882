package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T, fn func()) Event {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	fn()

	var e Event
	require.NoError(t, json.Unmarshal(buf.Bytes(), &e))
	return e
}

func TestLoggerFields(t *testing.T) {
	log := New("queue").WithTask("task-1").WithClass("image")

	e := capture(t, func() {
		log.Info("admitted", map[string]interface{}{"waiting": 2})
	})

	assert.Equal(t, LevelInfo, e.Level)
	assert.Equal(t, "queue", e.Component)
	assert.Equal(t, "admitted", e.Event)
	assert.Equal(t, "task-1", e.Task)
	assert.Equal(t, "image", e.Class)
	assert.EqualValues(t, 2, e.Extra["waiting"])
	assert.NotEmpty(t, e.Timestamp)
}

func TestLoggerError(t *testing.T) {
	log := New("store")

	e := capture(t, func() {
		log.Error("write_failed", nil, errors.New("disk full"))
	})

	assert.Equal(t, LevelError, e.Level)
	assert.Equal(t, "disk full", e.Error)
}

func TestWithDoesNotMutateParent(t *testing.T) {
	parent := New("agent")
	child := parent.WithSession("sess-1")

	e := capture(t, func() {
		parent.Info("event", nil)
	})
	assert.Empty(t, e.Session)

	e = capture(t, func() {
		child.Info("event", nil)
	})
	assert.Equal(t, "sess-1", e.Session)
}
