package intercept

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cory-johannsen/gsb"
)

// MenuItem is one selectable entry in a Menu.
type MenuItem struct {
	// Text is the label printed to the client.
	Text string
	// Func runs when the item is selected.
	Func func(*gsb.Caller)

	index int
}

// String renders the item the way it is sent to the client.
func (m *MenuItem) String() string {
	return fmt.Sprintf("[%d] %s", m.index, m.Text)
}

// menuEntry is either an item or a plain label line between items.
type menuEntry struct {
	item  *MenuItem
	label string
}

// Menu captures input to present a numbered selection. The client picks an
// item by number, by "$" for the last item, or by a unique
// case-insensitive prefix of the item text. On a valid selection the
// previous dispatcher is restored before the item's function runs.
type Menu struct {
	Intercept

	// Title is sent before the items.
	Title string
	// Prompt is sent after the items.
	Prompt string
	// Persistent re-sends the menu on an invalid selection instead of
	// giving up and restoring the previous dispatcher.
	Persistent bool

	entries []menuEntry
	items   []*MenuItem
}

// NewMenu creates a Menu with the default prompt.
func NewMenu(title string) *Menu {
	return &Menu{
		Title:  title,
		Prompt: "Type a number or " + DefaultAbortCommand + " to abort.",
	}
}

// Add appends a selectable item and returns it.
func (m *Menu) Add(text string, fn func(*gsb.Caller)) *MenuItem {
	item := &MenuItem{Text: text, Func: fn, index: len(m.items) + 1}
	m.items = append(m.items, item)
	m.entries = append(m.entries, menuEntry{item: item})
	return item
}

// AddLabel appends a non-selectable heading line at the current position.
func (m *Menu) AddLabel(text string) {
	m.entries = append(m.entries, menuEntry{label: text})
}

// OnAttach presents the menu.
func (m *Menu) OnAttach(conn *gsb.Conn, prev gsb.Dispatcher) {
	m.Intercept.OnAttach(conn, prev)
	m.Explain(conn)
}

// Explain sends the title, entries and prompt to conn.
func (m *Menu) Explain(conn *gsb.Conn) {
	if m.Title != "" {
		conn.Notify("%s", m.Title)
	}
	for _, e := range m.entries {
		if e.item != nil {
			conn.Notify("%s", e.item.String())
		} else {
			conn.Notify("%s", e.label)
		}
	}
	if m.Prompt != "" {
		conn.Notify("%s", m.Prompt)
	}
}

// HandleLine implements gsb.Dispatcher.
func (m *Menu) HandleLine(c *gsb.Caller) error {
	if m.tryAbort(c) {
		return nil
	}

	item, matches := m.match(c.Text)
	switch {
	case item != nil:
		m.finish(c.Conn)
		item.Func(c)
	case len(matches) > 1:
		c.Notify("That matched multiple items:")
		for _, it := range matches {
			c.Notify("%s", it.String())
		}
		if m.Prompt != "" {
			c.Notify("%s", m.Prompt)
		}
	default:
		c.Notify("Invalid selection.")
		if m.Persistent {
			m.Explain(c.Conn)
		} else {
			m.finish(c.Conn)
		}
	}
	return nil
}

// match resolves text to a single item, or returns the ambiguous matches.
func (m *Menu) match(text string) (*MenuItem, []*MenuItem) {
	text = strings.TrimSpace(text)
	if text == "" || len(m.items) == 0 {
		return nil, nil
	}

	if text == "$" {
		return m.items[len(m.items)-1], nil
	}

	if n, err := strconv.Atoi(text); err == nil {
		if n >= 1 && n <= len(m.items) {
			return m.items[n-1], nil
		}
		return nil, nil
	}

	var matches []*MenuItem
	lower := strings.ToLower(text)
	for _, it := range m.items {
		if strings.HasPrefix(strings.ToLower(it.Text), lower) {
			matches = append(matches, it)
		}
	}
	if len(matches) == 1 {
		return matches[0], nil
	}
	return nil, matches
}
