package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Room is one location in the world.
type Room struct {
	ID          string            `yaml:"id"`
	Title       string            `yaml:"title"`
	Description string            `yaml:"description"`
	Exits       map[string]string `yaml:"exits,omitempty"`
}

type worldFile struct {
	Start string  `yaml:"start"`
	Rooms []*Room `yaml:"rooms"`
}

// World is the set of rooms, safe for concurrent use by command handlers.
type World struct {
	mu    sync.RWMutex
	start string
	rooms map[string]*Room
}

// LoadWorld reads a YAML world definition.
//
// Precondition: path must point to a readable YAML file.
// Postcondition: Returns a World whose exits all reference rooms that exist.
func LoadWorld(path string) (*World, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading world file: %w", err)
	}

	var wf worldFile
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parsing world file: %w", err)
	}
	if len(wf.Rooms) == 0 {
		return nil, fmt.Errorf("world file %s defines no rooms", path)
	}

	w := &World{
		start: wf.Start,
		rooms: make(map[string]*Room, len(wf.Rooms)),
	}
	for _, room := range wf.Rooms {
		if room.ID == "" {
			return nil, fmt.Errorf("world file %s contains a room without an id", path)
		}
		if _, dup := w.rooms[room.ID]; dup {
			return nil, fmt.Errorf("duplicate room id %q", room.ID)
		}
		w.rooms[room.ID] = room
	}
	if w.start == "" {
		w.start = wf.Rooms[0].ID
	}
	if _, ok := w.rooms[w.start]; !ok {
		return nil, fmt.Errorf("start room %q does not exist", w.start)
	}
	for _, room := range wf.Rooms {
		for dir, dest := range room.Exits {
			if _, ok := w.rooms[dest]; !ok {
				return nil, fmt.Errorf("room %q exit %q references unknown room %q", room.ID, dir, dest)
			}
		}
	}
	return w, nil
}

// DefaultWorld returns a small built-in world used when no file is given.
func DefaultWorld() *World {
	w := &World{
		start: "clearing",
		rooms: map[string]*Room{
			"clearing": {
				ID:          "clearing",
				Title:       "A Forest Clearing",
				Description: "Sunlight filters through the canopy onto soft grass.",
				Exits:       map[string]string{"north": "cave"},
			},
			"cave": {
				ID:          "cave",
				Title:       "A Damp Cave",
				Description: "Water drips from the ceiling somewhere in the dark.",
				Exits:       map[string]string{"south": "clearing"},
			},
		},
	}
	return w
}

// Start returns the room new characters spawn in.
func (w *World) Start() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.start
}

// Get returns a room by ID.
func (w *World) Get(id string) (*Room, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	room, ok := w.rooms[id]
	return room, ok
}

// IDs returns all room IDs sorted for stable listings.
func (w *World) IDs() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	ids := make([]string, 0, len(w.rooms))
	for id := range w.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Dig creates a new room linked from the given origin, with a return exit.
//
// Precondition: from must exist; dir must not already be an exit of from.
// Postcondition: The new room exists with a reverse exit back to from.
func (w *World) Dig(from, dir, id, title string) (*Room, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	origin, ok := w.rooms[from]
	if !ok {
		return nil, fmt.Errorf("unknown room %q", from)
	}
	if _, taken := origin.Exits[dir]; taken {
		return nil, fmt.Errorf("there is already an exit %s from here", dir)
	}
	if _, dup := w.rooms[id]; dup {
		return nil, fmt.Errorf("a room named %q already exists", id)
	}

	room := &Room{
		ID:    id,
		Title: title,
		Exits: map[string]string{reverseDir(dir): from},
	}
	w.rooms[id] = room
	if origin.Exits == nil {
		origin.Exits = make(map[string]string)
	}
	origin.Exits[dir] = id
	return room, nil
}

// SetDescription replaces a room's long description.
func (w *World) SetDescription(id, description string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	room, ok := w.rooms[id]
	if !ok {
		return fmt.Errorf("unknown room %q", id)
	}
	room.Description = description
	return nil
}

// Look renders a room for a player, including its exits.
func (w *World) Look(id string) string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	room, ok := w.rooms[id]
	if !ok {
		return "You are nowhere at all."
	}

	var b strings.Builder
	b.WriteString(room.Title)
	if room.Description != "" {
		b.WriteString("\n")
		b.WriteString(room.Description)
	}
	if len(room.Exits) > 0 {
		dirs := make([]string, 0, len(room.Exits))
		for dir := range room.Exits {
			dirs = append(dirs, dir)
		}
		sort.Strings(dirs)
		b.WriteString("\nExits: ")
		b.WriteString(strings.Join(dirs, ", "))
	} else {
		b.WriteString("\nThere are no obvious exits.")
	}
	return b.String()
}

var reverses = map[string]string{
	"north": "south",
	"south": "north",
	"east":  "west",
	"west":  "east",
	"up":    "down",
	"down":  "up",
	"in":    "out",
	"out":   "in",
}

func reverseDir(dir string) string {
	if rev, ok := reverses[dir]; ok {
		return rev
	}
	return "back"
}
