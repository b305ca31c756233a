package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetDeleteRoundTrip(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "values.json"), nil)

	s.Set("count", json.RawMessage(`42`))
	v, ok := s.Get("count")
	require.True(t, ok)
	assert.JSONEq(t, `42`, string(v))

	s.Set("profile", json.RawMessage(`{"name":"x","tags":["a"]}`))
	assert.Equal(t, []string{"count", "profile"}, s.List())

	s.Delete("count")
	_, ok = s.Get("count")
	assert.False(t, ok)
	assert.Equal(t, []string{"profile"}, s.List())
}

func TestWriteThroughPersistsEachMutation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "values.json")
	s := Open(path, nil)

	s.Set("k", json.RawMessage(`"v"`))

	// The file must already reflect the mutation, before any Flush.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.JSONEq(t, `"v"`, string(onDisk["k"]))

	s.Delete("k")
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	onDisk = nil
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.NotContains(t, onDisk, "k")
}

func TestReopenSeesPersistedValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "values.json")
	Open(path, nil).Set("persisted", json.RawMessage(`true`))

	s := Open(path, nil)
	v, ok := s.Get("persisted")
	require.True(t, ok)
	assert.JSONEq(t, `true`, string(v))
}

func TestAbsentFileStartsEmpty(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "missing.json"), nil)
	assert.Empty(t, s.List())
}

func TestCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "values.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s := Open(path, nil)
	assert.Empty(t, s.List())

	// The store stays usable and overwrites the corrupt file.
	s.Set("k", json.RawMessage(`1`))
	require.NoError(t, s.Flush())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
}

func TestInMemoryMode(t *testing.T) {
	s := Open("", nil)
	s.Set("k", json.RawMessage(`1`))
	_, ok := s.Get("k")
	assert.True(t, ok)
	assert.NoError(t, s.Flush())
}
