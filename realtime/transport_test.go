package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func testTransportSettings() *PushTransportSettings {
	return &PushTransportSettings{
		WsHandshakeTimeout:   1 * time.Second,
		JoinTimeout:          1 * time.Second,
		ReconnectTimeout:     50 * time.Millisecond,
		MaxReconnectAttempts: 5,
		PingTimeout:          100 * time.Millisecond,
		WriteTimeout:         1 * time.Second,
		ReadTimeout:          10 * time.Second,
		SendBufferSize:       8,
	}
}

type statusRecorder struct {
	mutex    sync.Mutex
	statuses []ChannelStatus
}

func (self *statusRecorder) record(status ChannelStatus) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.statuses = append(self.statuses, status)
}

func (self *statusRecorder) Statuses() []ChannelStatus {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	statuses := make([]ChannelStatus, len(self.statuses))
	copy(statuses, self.statuses)
	return statuses
}

func (self *statusRecorder) Count(status ChannelStatus) int {
	count := 0
	for _, s := range self.Statuses() {
		if s == status {
			count += 1
		}
	}
	return count
}

func (self *statusRecorder) Last() ChannelStatus {
	statuses := self.Statuses()
	if len(statuses) == 0 {
		return ChannelStatus(-1)
	}
	return statuses[len(statuses)-1]
}

func TestPushTransportJoinAndDispatch(t *testing.T) {
	platform := newTestPlatform(t)
	defer platform.Close()

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	userId := NewId()
	recorder := &statusRecorder{}

	transport := NewPushTransport(
		cancelCtx,
		platform.ConnectUrl(),
		&ClientAuth{ByJwt: "test-jwt"},
		userId,
		testTransportSettings(),
	)
	defer transport.Close()
	transport.AddStatusCallback(recorder.record)

	var mutex sync.Mutex
	names := []string{}
	transport.AddEventCallback(func(event *Event) {
		mutex.Lock()
		defer mutex.Unlock()
		names = append(names, event.Name)
	})

	// presence is announced before anything else
	select {
	case join := <-platform.joins:
		assert.Equal(t, join.UserId, userId)
	case <-time.After(2 * time.Second):
		t.Fatal("no join")
	}

	ok := waitFor(t, 2*time.Second, func() bool {
		return recorder.Count(ChannelStatusConnected) == 1
	})
	assert.Equal(t, ok, true)

	// events are dispatched in the order the transport received them
	platform.PushEvent(EventUserOnline, &PresencePayload{UserId: NewId()})
	platform.PushEvent(EventFriendListUpdated, nil)
	platform.PushEvent(EventUserOffline, &PresencePayload{UserId: NewId()})

	ok = waitFor(t, 2*time.Second, func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		return len(names) == 3
	})
	assert.Equal(t, ok, true)

	mutex.Lock()
	assert.Equal(t, names, []string{EventUserOnline, EventFriendListUpdated, EventUserOffline})
	mutex.Unlock()

	// emitted events reach the platform
	err := transport.Send(EventSendMessage, &MessagePayload{
		SenderId:   userId,
		ReceiverId: NewId(),
		Message:    "hello",
		Timestamp:  time.Now().UnixMilli(),
	})
	assert.Equal(t, err, nil)

	select {
	case event := <-platform.received:
		assert.Equal(t, event.Name, EventSendMessage)
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
}

func TestPushTransportReconnect(t *testing.T) {
	platform := newTestPlatform(t)
	defer platform.Close()

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	userId := NewId()
	recorder := &statusRecorder{}

	transport := NewPushTransport(
		cancelCtx,
		platform.ConnectUrl(),
		&ClientAuth{},
		userId,
		testTransportSettings(),
	)
	defer transport.Close()
	transport.AddStatusCallback(recorder.record)

	select {
	case <-platform.joins:
	case <-time.After(2 * time.Second):
		t.Fatal("no join")
	}

	// the server drops the connection. the transport reconnects
	// and announces presence again.
	platform.DropConns()

	select {
	case <-platform.joins:
	case <-time.After(2 * time.Second):
		t.Fatal("no rejoin")
	}

	ok := waitFor(t, 2*time.Second, func() bool {
		return recorder.Count(ChannelStatusConnected) == 2
	})
	assert.Equal(t, ok, true)
	assert.Equal(t, 1 <= recorder.Count(ChannelStatusReconnecting), true)
}

func TestPushTransportReconnectBudget(t *testing.T) {
	// a server that is never reachable
	platform := newTestPlatform(t)
	connectUrl := platform.ConnectUrl()
	platform.Close()

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settings := testTransportSettings()
	settings.MaxReconnectAttempts = 3

	recorder := &statusRecorder{}

	transport := NewPushTransport(
		cancelCtx,
		connectUrl,
		&ClientAuth{},
		NewId(),
		settings,
	)
	defer transport.Close()
	transport.AddStatusCallback(recorder.record)

	// after the attempt budget is exhausted the channel is
	// permanently closed, not silently retried forever
	ok := waitFor(t, 5*time.Second, func() bool {
		return recorder.Last() == ChannelStatusClosed
	})
	assert.Equal(t, ok, true)
	assert.Equal(t, recorder.Count(ChannelStatusConnecting), 3)
	assert.Equal(t, recorder.Count(ChannelStatusConnected), 0)
}

func TestPushTransportClose(t *testing.T) {
	platform := newTestPlatform(t)
	defer platform.Close()

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recorder := &statusRecorder{}

	transport := NewPushTransport(
		cancelCtx,
		platform.ConnectUrl(),
		&ClientAuth{},
		NewId(),
		testTransportSettings(),
	)
	transport.AddStatusCallback(recorder.record)

	ok := waitFor(t, 2*time.Second, func() bool {
		return recorder.Count(ChannelStatusConnected) == 1
	})
	assert.Equal(t, ok, true)

	transport.Close()

	ok = waitFor(t, 2*time.Second, func() bool {
		return recorder.Last() == ChannelStatusClosed
	})
	assert.Equal(t, ok, true)

	err := transport.Send(EventSendMessage, &MessagePayload{})
	assert.NotEqual(t, err, nil)
}