package realtime

import (
	"sync"
)

type UnreadFunction func(peerId Id, unread bool)

// UnreadTracker keeps one "has unseen activity" flag per peer.
// a flag is set by an inbound message for a peer other than the active
// conversation, and cleared only by selecting that peer.
type UnreadTracker struct {
	mutex  sync.Mutex
	unread map[Id]bool

	unreadCallbacks *CallbackList[UnreadFunction]
}

func NewUnreadTracker() *UnreadTracker {
	return &UnreadTracker{
		unread:          map[Id]bool{},
		unreadCallbacks: NewCallbackList[UnreadFunction](),
	}
}

// returns a function to remove the callback
func (self *UnreadTracker) AddUnreadCallback(unreadCallback UnreadFunction) func() {
	return self.unreadCallbacks.Add(unreadCallback)
}

// flags the sender unless the message belongs to the active conversation
func (self *UnreadTracker) Mark(senderId Id, activePeerId Id) {
	if senderId == activePeerId {
		return
	}

	self.mutex.Lock()
	changed := !self.unread[senderId]
	self.unread[senderId] = true
	self.mutex.Unlock()

	if changed {
		for _, unreadCallback := range self.unreadCallbacks.Get() {
			unreadCallback(senderId, true)
		}
	}
}

// selecting a peer as the active conversation is the only way a flag clears
func (self *UnreadTracker) Select(peerId Id) {
	self.mutex.Lock()
	changed := self.unread[peerId]
	self.unread[peerId] = false
	self.mutex.Unlock()

	if changed {
		for _, unreadCallback := range self.unreadCallbacks.Get() {
			unreadCallback(peerId, false)
		}
	}
}

func (self *UnreadTracker) IsUnread(peerId Id) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.unread[peerId]
}

// drives the single global indicator
func (self *UnreadTracker) HasAny() bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	for _, unread := range self.unread {
		if unread {
			return true
		}
	}
	return false
}

func (self *UnreadTracker) Reset() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	clear(self.unread)
}
