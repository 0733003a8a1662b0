package realtime

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	"golang.org/x/exp/slices"
)

type DeliveryStatus string

const (
	// shown locally, not yet persisted
	DeliveryStatusPending DeliveryStatus = "pending"
	// persisted server side, or received from the server
	DeliveryStatusConfirmed DeliveryStatus = "confirmed"
	// the persist call failed. the entry is kept and flagged, never rolled back.
	DeliveryStatusFailed DeliveryStatus = "failed"
)

// one entry in a two-party conversation.
// the origin id distinguishes a locally optimistic entry from a
// server-confirmed one and is the de-duplication key for channel echoes.
type Message struct {
	ConversationKey string
	SenderId        Id
	Text            string
	Timestamp       time.Time
	OriginId        Id
	DeliveryStatus  DeliveryStatus
}

// conversations are keyed by the peer's stable username,
// not a volatile internal id
func ConversationKey(peerUsername string) string {
	return peerUsername
}

type ConversationUpdateFunction func(conversationKey string)

type ConversationStoreSettings struct {
	// window for matching a channel echo against an optimistic entry
	// when the origin id was lost in transit
	EchoTolerance time.Duration
}

func DefaultConversationStoreSettings() *ConversationStoreSettings {
	return &ConversationStoreSettings{
		EchoTolerance: 2 * time.Second,
	}
}

// ConversationStore merges three sources into one ordered, de-duplicated
// sequence per conversation: the REST history snapshot, locally optimistic
// sends, and channel-pushed messages. REST responses and channel events for
// the same fact can arrive in either order, so every merge here is
// idempotent under reordering.
//
// invariant: within a conversation, messages are totally ordered by
// timestamp, ties broken by insertion order.
type ConversationStore struct {
	api     *ChatVerseApi
	session *Session

	settings *ConversationStoreSettings

	mutex    sync.Mutex
	messages map[string][]*Message
	active   *Peer
	// incremented on every active peer change.
	// a history fetch that returns under a different generation is stale
	// and its result is discarded.
	activeGeneration int
	channel          ChannelEmitter

	updateCallbacks *CallbackList[ConversationUpdateFunction]
}

func NewConversationStoreWithDefaults(api *ChatVerseApi, session *Session) *ConversationStore {
	return NewConversationStore(api, session, DefaultConversationStoreSettings())
}

func NewConversationStore(api *ChatVerseApi, session *Session, settings *ConversationStoreSettings) *ConversationStore {
	return &ConversationStore{
		api:             api,
		session:         session,
		settings:        settings,
		messages:        map[string][]*Message{},
		updateCallbacks: NewCallbackList[ConversationUpdateFunction](),
	}
}

func (self *ConversationStore) SetChannel(channel ChannelEmitter) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.channel = channel
}

// returns a function to remove the callback
func (self *ConversationStore) AddUpdateCallback(updateCallback ConversationUpdateFunction) func() {
	return self.updateCallbacks.Add(updateCallback)
}

// SetActive switches the conversation the store routes inbound messages to.
// messages from other peers only reach the unread tracker after this.
// nil clears the selection.
func (self *ConversationStore) SetActive(peer *Peer) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.activeGeneration += 1
	if peer == nil {
		self.active = nil
		return
	}
	peerCopy := *peer
	self.active = &peerCopy
}

func (self *ConversationStore) Active() *Peer {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if self.active == nil {
		return nil
	}
	activeCopy := *self.active
	return &activeCopy
}

// LoadHistory replaces the conversation with the REST snapshot,
// sorted by timestamp ascending, every entry confirmed.
// on error the previous state is left intact and the caller may retry.
// a response that arrives after the active peer changed is discarded.
func (self *ConversationStore) LoadHistory(peer *Peer) error {
	self.mutex.Lock()
	generation := self.activeGeneration
	self.mutex.Unlock()

	result, err := self.api.GetConversationSync(peer.Username)
	if err != nil {
		glog.Infof("[cs]history error %s = %s\n", peer.Username, err)
		return err
	}

	key := ConversationKey(peer.Username)
	history := make([]*Message, 0, len(result.Messages))
	for _, apiMessage := range result.Messages {
		originId := NewId()
		if apiMessage.OriginId != nil {
			originId = *apiMessage.OriginId
		}
		history = append(history, &Message{
			ConversationKey: key,
			SenderId:        apiMessage.SenderId,
			Text:            apiMessage.Text,
			Timestamp:       time.UnixMilli(apiMessage.Timestamp),
			OriginId:        originId,
			DeliveryStatus:  DeliveryStatusConfirmed,
		})
	}
	slices.SortStableFunc(history, func(a *Message, b *Message) int {
		if a.Timestamp.Before(b.Timestamp) {
			return -1
		} else if b.Timestamp.Before(a.Timestamp) {
			return 1
		} else {
			return 0
		}
	})

	self.mutex.Lock()
	if generation != self.activeGeneration {
		// the active peer changed while the fetch was in flight
		self.mutex.Unlock()
		glog.V(2).Infof("[cs]stale history %s\n", peer.Username)
		return nil
	}
	self.messages[key] = history
	self.mutex.Unlock()

	self.notify(key)
	return nil
}

// SendMessage appends an optimistic entry immediately, emits the channel
// event for low-latency fan-out to the peer, then persists over REST.
// the optimistic entry is never removed on persist failure, only flagged.
func (self *ConversationStore) SendMessage(peer *Peer, text string) (*Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("message text must not be empty")
	}

	key := ConversationKey(peer.Username)
	originId := NewId()
	message := &Message{
		ConversationKey: key,
		SenderId:        self.session.UserId,
		Text:            text,
		Timestamp:       time.Now(),
		OriginId:        originId,
		DeliveryStatus:  DeliveryStatusPending,
	}

	self.mutex.Lock()
	self.insert(key, message)
	channel := self.channel
	self.mutex.Unlock()

	self.notify(key)

	if channel != nil {
		err := channel.Send(EventSendMessage, &MessagePayload{
			SenderId:   self.session.UserId,
			ReceiverId: peer.PeerId,
			Message:    text,
			Timestamp:  message.Timestamp.UnixMilli(),
			OriginId:   &originId,
		})
		if err != nil {
			glog.Infof("[cs]send emit error %s = %s\n", key, err)
		}
	}

	self.api.AppendMessage(
		peer.Username,
		&AppendMessageArgs{
			Text:     text,
			OriginId: originId,
		},
		NewApiCallback[*AppendMessageResult](func(result *AppendMessageResult, err error) {
			if err == nil && result.Error != nil {
				err = fmt.Errorf("%s", result.Error.Message)
			}
			if err != nil {
				glog.Infof("[cs]persist error %s = %s\n", key, err)
				self.setDeliveryStatus(key, originId, DeliveryStatusFailed)
			} else {
				self.setDeliveryStatus(key, originId, DeliveryStatusConfirmed)
			}
		}),
	)

	messageCopy := *message
	return &messageCopy, nil
}

// Receive merges a channel-pushed message into the active conversation.
// returns false when the message does not belong to the active
// conversation's sender/receiver pair; the caller routes those to the
// unread tracker instead. there is no cross-conversation buffering,
// history is authoritative on the next load.
func (self *ConversationStore) Receive(payload *MessagePayload) bool {
	self.mutex.Lock()

	if self.active == nil {
		self.mutex.Unlock()
		return false
	}

	inbound := payload.SenderId == self.active.PeerId && payload.ReceiverId == self.session.UserId
	echo := payload.SenderId == self.session.UserId && payload.ReceiverId == self.active.PeerId
	if !inbound && !echo {
		self.mutex.Unlock()
		return false
	}

	key := ConversationKey(self.active.Username)
	timestamp := time.UnixMilli(payload.Timestamp)

	// the origin id is the primary de-duplication key
	if payload.OriginId != nil {
		for _, message := range self.messages[key] {
			if message.OriginId == *payload.OriginId {
				if message.DeliveryStatus == DeliveryStatusPending {
					message.DeliveryStatus = DeliveryStatusConfirmed
				}
				self.mutex.Unlock()
				self.notify(key)
				return true
			}
		}
	}

	// a self echo that lost its origin id must still not double-append.
	// match against an optimistic entry with the same text close in time.
	if echo {
		for _, message := range self.messages[key] {
			if message.SenderId == self.session.UserId &&
				message.Text == payload.Message &&
				absDuration(message.Timestamp.Sub(timestamp)) <= self.settings.EchoTolerance {
				if message.DeliveryStatus == DeliveryStatusPending {
					message.DeliveryStatus = DeliveryStatusConfirmed
				}
				self.mutex.Unlock()
				self.notify(key)
				return true
			}
		}
	}

	originId := NewId()
	if payload.OriginId != nil {
		originId = *payload.OriginId
	}
	self.insert(key, &Message{
		ConversationKey: key,
		SenderId:        payload.SenderId,
		Text:            payload.Message,
		Timestamp:       timestamp,
		OriginId:        originId,
		DeliveryStatus:  DeliveryStatusConfirmed,
	})
	self.mutex.Unlock()

	self.notify(key)
	return true
}

// must be called with the mutex held.
// keeps the sequence ordered by timestamp, ties in insertion order.
func (self *ConversationStore) insert(key string, message *Message) {
	messages := self.messages[key]
	i := len(messages)
	for 0 < i && message.Timestamp.Before(messages[i-1].Timestamp) {
		i -= 1
	}
	self.messages[key] = slices.Insert(messages, i, message)
}

func (self *ConversationStore) setDeliveryStatus(key string, originId Id, status DeliveryStatus) {
	self.mutex.Lock()
	updated := false
	for _, message := range self.messages[key] {
		if message.OriginId == originId {
			if message.DeliveryStatus != status {
				message.DeliveryStatus = status
				updated = true
			}
			break
		}
	}
	self.mutex.Unlock()

	if updated {
		self.notify(key)
	}
}

func (self *ConversationStore) Messages(conversationKey string) []*Message {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	messages := make([]*Message, 0, len(self.messages[conversationKey]))
	for _, message := range self.messages[conversationKey] {
		messageCopy := *message
		messages = append(messages, &messageCopy)
	}
	return messages
}

func (self *ConversationStore) notify(key string) {
	for _, updateCallback := range self.updateCallbacks.Get() {
		updateCallback(key)
	}
}

// discard all conversation state. used on logout and channel teardown.
func (self *ConversationStore) Reset() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	clear(self.messages)
	self.active = nil
	self.activeGeneration += 1
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
