package gsb

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionDefaults(t *testing.T) {
	sess := newSession(nil)
	assert.Equal(t, "", sess.Room())
	assert.False(t, sess.Authenticated())
	_, ok := sess.Get("anything")
	assert.False(t, ok)
}

func TestSessionRoom(t *testing.T) {
	sess := newSession(nil)
	sess.SetRoom("tavern")
	assert.Equal(t, "tavern", sess.Room())
}

func TestSessionAuthenticated(t *testing.T) {
	sess := newSession(nil)
	sess.SetAuthenticated(true)
	assert.True(t, sess.Authenticated())
	sess.SetAuthenticated(false)
	assert.False(t, sess.Authenticated())
}

func TestSessionAttributes(t *testing.T) {
	sess := newSession(nil)
	sess.Set("name", "alice")
	sess.Set("score", 42)

	assert.Equal(t, "alice", sess.GetString("name"))
	v, ok := sess.Get("score")
	assert.True(t, ok)
	assert.Equal(t, 42, v)

	// GetString on a non-string attribute is empty, not a panic.
	assert.Equal(t, "", sess.GetString("score"))
	assert.Equal(t, "", sess.GetString("missing"))

	sess.Delete("name")
	_, ok = sess.Get("name")
	assert.False(t, ok)
}

func TestSessionConcurrentAccess(t *testing.T) {
	sess := newSession(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sess.Set(fmt.Sprintf("key-%d", i), j)
				sess.SetRoom("lobby")
				_ = sess.Room()
				_ = sess.GetString(fmt.Sprintf("key-%d", i))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, "lobby", sess.Room())
}
