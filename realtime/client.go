package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/golang/glog"
)

type SyncClientSettings struct {
	TransportSettings    *PushTransportSettings
	ConversationSettings *ConversationStoreSettings
}

func DefaultSyncClientSettings() *SyncClientSettings {
	return &SyncClientSettings{
		TransportSettings:    DefaultPushTransportSettings(),
		ConversationSettings: DefaultConversationStoreSettings(),
	}
}

// SyncClient is the realtime synchronization engine for one authenticated
// session. it owns the push channel and the four trackers, hydrates them
// from REST snapshots, and routes every channel event to the trackers that
// consume it. all tracker state is discarded on `Close` and rebuilt from
// snapshots on the next session.
type SyncClient struct {
	ctx    context.Context
	cancel context.CancelFunc

	api     *ChatVerseApi
	session *Session

	connectUrl string
	auth       *ClientAuth

	settings *SyncClientSettings

	presence      *PresenceTracker
	unread        *UnreadTracker
	friendBook    *FriendBook
	conversations *ConversationStore

	mutex     sync.Mutex
	transport *PushTransport

	statusCallbacks *CallbackList[ChannelStatusFunction]
}

func NewSyncClientWithDefaults(
	ctx context.Context,
	api *ChatVerseApi,
	session *Session,
	connectUrl string,
	auth *ClientAuth,
) *SyncClient {
	return NewSyncClient(ctx, api, session, connectUrl, auth, DefaultSyncClientSettings())
}

func NewSyncClient(
	ctx context.Context,
	api *ChatVerseApi,
	session *Session,
	connectUrl string,
	auth *ClientAuth,
	settings *SyncClientSettings,
) *SyncClient {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &SyncClient{
		ctx:             cancelCtx,
		cancel:          cancel,
		api:             api,
		session:         session,
		connectUrl:      connectUrl,
		auth:            auth,
		settings:        settings,
		presence:        NewPresenceTracker(),
		unread:          NewUnreadTracker(),
		friendBook:      NewFriendBook(api, session),
		conversations:   NewConversationStore(api, session, settings.ConversationSettings),
		statusCallbacks: NewCallbackList[ChannelStatusFunction](),
	}
}

// Connect opens the push channel for this session and hydrates the
// friend book from a fresh snapshot. exactly one channel exists per
// client; an already open channel is closed first.
func (self *SyncClient) Connect() {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if self.transport != nil {
		// a stale channel would leak a connection and duplicate events
		self.transport.Close()
		self.transport = nil
	}

	transport := NewPushTransport(
		self.ctx,
		self.connectUrl,
		self.auth,
		self.session.UserId,
		self.settings.TransportSettings,
	)
	transport.AddEventCallback(self.handleEvent)
	transport.AddStatusCallback(func(status ChannelStatus) {
		glog.V(1).Infof("[sc]channel %s\n", status)
		for _, statusCallback := range self.statusCallbacks.Get() {
			statusCallback(status)
		}
	})
	self.transport = transport

	self.friendBook.SetChannel(transport)
	self.conversations.SetChannel(transport)

	go func() {
		if err := self.friendBook.Refresh(); err != nil {
			glog.Infof("[sc]hydrate error = %s\n", err)
		}
	}()
}

// returns a function to remove the callback
func (self *SyncClient) AddStatusCallback(statusCallback ChannelStatusFunction) func() {
	return self.statusCallbacks.Add(statusCallback)
}

// handleEvent runs on the transport read pump,
// so events are handled in the order the transport received them.
// snapshot refreshes go to their own goroutines to keep the pump live.
func (self *SyncClient) handleEvent(event *Event) {
	switch event.Name {
	case EventFriendListUpdated, EventFriendRequestAccepted, EventFriendRequestReceived:
		go func() {
			if err := self.friendBook.Refresh(); err != nil {
				glog.Infof("[sc]refresh error = %s\n", err)
			}
		}()
	case EventUserOnline:
		payload := &PresencePayload{}
		if err := json.Unmarshal(event.Data, payload); err != nil {
			glog.Infof("[sc]%s decode error = %s\n", event.Name, err)
			return
		}
		self.presence.Online(payload.UserId)
	case EventUserOffline:
		payload := &PresencePayload{}
		if err := json.Unmarshal(event.Data, payload); err != nil {
			glog.Infof("[sc]%s decode error = %s\n", event.Name, err)
			return
		}
		self.presence.Offline(payload.UserId)
	case EventReceiveMessage:
		payload := &MessagePayload{}
		if err := json.Unmarshal(event.Data, payload); err != nil {
			glog.Infof("[sc]%s decode error = %s\n", event.Name, err)
			return
		}
		if !self.conversations.Receive(payload) {
			if payload.SenderId != self.session.UserId {
				activePeerId := Id{}
				if active := self.conversations.Active(); active != nil {
					activePeerId = active.PeerId
				}
				self.unread.Mark(payload.SenderId, activePeerId)
			}
		}
	default:
		glog.V(2).Infof("[sc]ignored event %s\n", event.Name)
	}
}

// SelectPeer makes a conversation active: routes subsequent inbound
// messages into it, clears its unread flag, and loads its history.
// a history error leaves the previous store state intact.
func (self *SyncClient) SelectPeer(peerId Id) error {
	peer := self.friendBook.Peer(peerId)
	if peer == nil {
		return fmt.Errorf("unknown peer %s", peerId)
	}

	self.conversations.SetActive(peer)
	self.unread.Select(peerId)
	return self.conversations.LoadHistory(peer)
}

// no conversation is active after this.
// inbound messages only update the unread tracker.
func (self *SyncClient) ClearSelection() {
	self.conversations.SetActive(nil)
}

// SendMessage sends to the active conversation
func (self *SyncClient) SendMessage(text string) (*Message, error) {
	active := self.conversations.Active()
	if active == nil {
		return nil, fmt.Errorf("no active conversation")
	}
	return self.conversations.SendMessage(active, text)
}

func (self *SyncClient) SendFriendRequest(peerId Id) error {
	return self.friendBook.SendRequest(peerId)
}

func (self *SyncClient) AcceptFriendRequest(requestId Id, requesterUsername string) error {
	return self.friendBook.AcceptRequest(requestId, requesterUsername)
}

func (self *SyncClient) Session() *Session {
	sessionCopy := *self.session
	return &sessionCopy
}

func (self *SyncClient) Presence() *PresenceTracker {
	return self.presence
}

func (self *SyncClient) Unread() *UnreadTracker {
	return self.unread
}

func (self *SyncClient) FriendBook() *FriendBook {
	return self.friendBook
}

func (self *SyncClient) Conversations() *ConversationStore {
	return self.conversations
}

// Close tears down the channel and discards all derived state
func (self *SyncClient) Close() {
	self.mutex.Lock()
	if self.transport != nil {
		self.transport.Close()
		self.transport = nil
	}
	self.mutex.Unlock()

	self.presence.Reset()
	self.unread.Reset()
	self.conversations.Reset()
	self.cancel()
}
