package realtime

import (
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type PresenceFunction func(peerId Id, online bool)

// PresenceTracker projects userOnline/userOffline events into the set of
// currently online peers. presence is exactly as reported by the channel.
// there is no heartbeat fallback, so a peer that drops without an offline
// event stays online until a correcting event arrives.
type PresenceTracker struct {
	mutex  sync.Mutex
	online map[Id]bool

	presenceCallbacks *CallbackList[PresenceFunction]
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		online:            map[Id]bool{},
		presenceCallbacks: NewCallbackList[PresenceFunction](),
	}
}

// returns a function to remove the callback
func (self *PresenceTracker) AddPresenceCallback(presenceCallback PresenceFunction) func() {
	return self.presenceCallbacks.Add(presenceCallback)
}

// idempotent
func (self *PresenceTracker) Online(peerId Id) {
	self.mutex.Lock()
	changed := !self.online[peerId]
	self.online[peerId] = true
	self.mutex.Unlock()

	if changed {
		for _, presenceCallback := range self.presenceCallbacks.Get() {
			presenceCallback(peerId, true)
		}
	}
}

// idempotent
func (self *PresenceTracker) Offline(peerId Id) {
	self.mutex.Lock()
	changed := self.online[peerId]
	delete(self.online, peerId)
	self.mutex.Unlock()

	if changed {
		for _, presenceCallback := range self.presenceCallbacks.Get() {
			presenceCallback(peerId, false)
		}
	}
}

func (self *PresenceTracker) IsOnline(peerId Id) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.online[peerId]
}

func (self *PresenceTracker) OnlineIds() []Id {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	onlineIds := maps.Keys(self.online)
	slices.SortFunc(onlineIds, func(a Id, b Id) int {
		if a.LessThan(b) {
			return -1
		} else if b.LessThan(a) {
			return 1
		} else {
			return 0
		}
	})
	return onlineIds
}

// all state is rebuilt from channel events on the next session
func (self *PresenceTracker) Reset() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	clear(self.online)
}
