package realtime

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestUnreadMarkAndSelect(t *testing.T) {
	unread := NewUnreadTracker()

	p := NewId()
	q := NewId()

	assert.Equal(t, unread.HasAny(), false)

	// a message from p while q is active flags p
	unread.Mark(p, q)
	assert.Equal(t, unread.IsUnread(p), true)
	assert.Equal(t, unread.IsUnread(q), false)
	assert.Equal(t, unread.HasAny(), true)

	// a message from the active peer does not flag
	unread.Mark(q, q)
	assert.Equal(t, unread.IsUnread(q), false)

	// selecting is the only way a flag clears
	unread.Mark(p, q)
	assert.Equal(t, unread.IsUnread(p), true)
	unread.Select(p)
	assert.Equal(t, unread.IsUnread(p), false)
	assert.Equal(t, unread.HasAny(), false)
}

func TestUnreadCallbacks(t *testing.T) {
	unread := NewUnreadTracker()

	p := NewId()
	q := NewId()

	events := []bool{}
	remove := unread.AddUnreadCallback(func(peerId Id, flagged bool) {
		assert.Equal(t, peerId, p)
		events = append(events, flagged)
	})

	unread.Mark(p, q)
	// already flagged, no refire
	unread.Mark(p, q)
	unread.Select(p)
	// already clear, no refire
	unread.Select(p)

	assert.Equal(t, events, []bool{true, false})

	remove()
	unread.Mark(p, q)
	assert.Equal(t, events, []bool{true, false})
}
