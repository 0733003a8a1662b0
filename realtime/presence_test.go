package realtime

import (
	mathrand "math/rand"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestPresenceReplay(t *testing.T) {
	// after any sequence of online/offline events, the online set equals
	// the ids whose most recent event was online

	presence := NewPresenceTracker()

	n := 16
	peerIds := make([]Id, n)
	for i := 0; i < n; i += 1 {
		peerIds[i] = NewId()
	}

	last := map[Id]bool{}
	for i := 0; i < 10000; i += 1 {
		peerId := peerIds[mathrand.Intn(n)]
		if mathrand.Intn(2) == 0 {
			presence.Online(peerId)
			last[peerId] = true
		} else {
			presence.Offline(peerId)
			last[peerId] = false
		}
	}

	for _, peerId := range peerIds {
		assert.Equal(t, presence.IsOnline(peerId), last[peerId])
	}

	expectedCount := 0
	for _, online := range last {
		if online {
			expectedCount += 1
		}
	}
	assert.Equal(t, len(presence.OnlineIds()), expectedCount)
}

func TestPresenceIdempotent(t *testing.T) {
	presence := NewPresenceTracker()

	peerId := NewId()

	onlineEvents := 0
	presence.AddPresenceCallback(func(eventPeerId Id, online bool) {
		assert.Equal(t, eventPeerId, peerId)
		if online {
			onlineEvents += 1
		}
	})

	presence.Online(peerId)
	presence.Online(peerId)
	presence.Online(peerId)

	assert.Equal(t, presence.IsOnline(peerId), true)
	assert.Equal(t, len(presence.OnlineIds()), 1)
	// set semantics. repeated online events do not refire callbacks
	assert.Equal(t, onlineEvents, 1)

	presence.Offline(peerId)
	assert.Equal(t, presence.IsOnline(peerId), false)
	assert.Equal(t, len(presence.OnlineIds()), 0)

	// offline for an unknown peer is a no-op
	presence.Offline(NewId())
	assert.Equal(t, len(presence.OnlineIds()), 0)
}

func TestPresenceReset(t *testing.T) {
	presence := NewPresenceTracker()

	presence.Online(NewId())
	presence.Online(NewId())
	assert.Equal(t, len(presence.OnlineIds()), 2)

	presence.Reset()
	assert.Equal(t, len(presence.OnlineIds()), 0)
}
