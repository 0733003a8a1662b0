package realtime

import (
	"sync"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// makes a copy of the list on update,
// so that callers can iterate the returned slice without holding the lock.
// callbacks are keyed by an id because function values are not comparable.
type CallbackList[T any] struct {
	mutex          sync.Mutex
	nextCallbackId int
	callbackIds    map[int]T
	callbacks      []T
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{
		callbackIds: map[int]T{},
		callbacks:   []T{},
	}
}

func (self *CallbackList[T]) Get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.callbacks
}

// returns a function to remove the callback
func (self *CallbackList[T]) Add(callback T) func() {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbackId := self.nextCallbackId
	self.nextCallbackId += 1
	self.callbackIds[callbackId] = callback
	self.update()

	return func() {
		self.remove(callbackId)
	}
}

func (self *CallbackList[T]) remove(callbackId int) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	delete(self.callbackIds, callbackId)
	self.update()
}

// must be called with the mutex held
func (self *CallbackList[T]) update() {
	callbackIds := maps.Keys(self.callbackIds)
	slices.Sort(callbackIds)
	nextCallbacks := make([]T, 0, len(callbackIds))
	for _, callbackId := range callbackIds {
		nextCallbacks = append(nextCallbacks, self.callbackIds[callbackId])
	}
	self.callbacks = nextCallbacks
}

type Reconnect struct {
	timeout time.Duration
	start   time.Time
}

func NewReconnect(timeout time.Duration) *Reconnect {
	return &Reconnect{
		timeout: timeout,
		start:   time.Now(),
	}
}

// counts down from the create time, not the call time
func (self *Reconnect) After() <-chan time.Time {
	remaining := self.timeout - time.Now().Sub(self.start)
	return time.After(remaining)
}
