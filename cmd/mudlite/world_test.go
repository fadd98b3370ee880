package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWorld(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "world.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadWorld(t *testing.T) {
	path := writeWorld(t, `
start: gate
rooms:
  - id: gate
    title: The City Gate
    description: Heavy oak doors stand open.
    exits:
      north: square
  - id: square
    title: The Market Square
    exits:
      south: gate
`)

	w, err := LoadWorld(path)
	require.NoError(t, err)
	assert.Equal(t, "gate", w.Start())

	gate, ok := w.Get("gate")
	require.True(t, ok)
	assert.Equal(t, "The City Gate", gate.Title)
	assert.Equal(t, "square", gate.Exits["north"])
	assert.Equal(t, []string{"gate", "square"}, w.IDs())
}

func TestLoadWorldDefaultsStartToFirstRoom(t *testing.T) {
	path := writeWorld(t, `
rooms:
  - id: only
    title: The Only Room
`)
	w, err := LoadWorld(path)
	require.NoError(t, err)
	assert.Equal(t, "only", w.Start())
}

func TestLoadWorldRejectsUnknownExit(t *testing.T) {
	path := writeWorld(t, `
rooms:
  - id: gate
    title: Gate
    exits:
      north: nowhere
`)
	_, err := LoadWorld(path)
	assert.Error(t, err)
}

func TestLoadWorldRejectsDuplicateID(t *testing.T) {
	path := writeWorld(t, `
rooms:
  - id: gate
    title: Gate
  - id: gate
    title: Gate Again
`)
	_, err := LoadWorld(path)
	assert.Error(t, err)
}

func TestLoadWorldRejectsUnknownStart(t *testing.T) {
	path := writeWorld(t, `
start: void
rooms:
  - id: gate
    title: Gate
`)
	_, err := LoadWorld(path)
	assert.Error(t, err)
}

func TestLoadWorldRejectsEmpty(t *testing.T) {
	path := writeWorld(t, `rooms: []`)
	_, err := LoadWorld(path)
	assert.Error(t, err)
}

func TestDefaultWorldIsConnected(t *testing.T) {
	w := DefaultWorld()
	start, ok := w.Get(w.Start())
	require.True(t, ok)
	for _, dest := range start.Exits {
		_, ok := w.Get(dest)
		assert.True(t, ok, "exit to %q dangles", dest)
	}
}

func TestDig(t *testing.T) {
	w := DefaultWorld()
	room, err := w.Dig("clearing", "east", "pond", "A Quiet Pond")
	require.NoError(t, err)
	assert.Equal(t, "pond", room.ID)

	clearing, _ := w.Get("clearing")
	assert.Equal(t, "pond", clearing.Exits["east"])
	assert.Equal(t, "clearing", room.Exits["west"])
}

func TestDigRejectsTakenExit(t *testing.T) {
	w := DefaultWorld()
	_, err := w.Dig("clearing", "north", "attic", "Attic")
	assert.Error(t, err)
}

func TestDigRejectsDuplicateRoom(t *testing.T) {
	w := DefaultWorld()
	_, err := w.Dig("clearing", "east", "cave", "Another Cave")
	assert.Error(t, err)
}

func TestDigUnknownDirectionGetsBackExit(t *testing.T) {
	w := DefaultWorld()
	room, err := w.Dig("clearing", "portal", "limbo", "Limbo")
	require.NoError(t, err)
	assert.Equal(t, "clearing", room.Exits["back"])
}

func TestSetDescription(t *testing.T) {
	w := DefaultWorld()
	require.NoError(t, w.SetDescription("cave", "Now with glowing moss."))
	cave, _ := w.Get("cave")
	assert.Equal(t, "Now with glowing moss.", cave.Description)

	assert.Error(t, w.SetDescription("missing", "x"))
}

func TestLook(t *testing.T) {
	w := DefaultWorld()
	out := w.Look("clearing")
	assert.Contains(t, out, "A Forest Clearing")
	assert.Contains(t, out, "Exits: north")

	assert.Contains(t, w.Look("nowhere"), "nowhere at all")
}
