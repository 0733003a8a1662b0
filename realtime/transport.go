package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

// events consumed from the push channel
const (
	EventFriendListUpdated     = "friendListUpdated"
	EventFriendRequestAccepted = "friendRequestAccepted"
	EventFriendRequestReceived = "friendRequestReceived"
	EventUserOnline            = "userOnline"
	EventUserOffline           = "userOffline"
	EventReceiveMessage        = "receiveMessage"
)

// events emitted on the push channel
const (
	EventJoin              = "join"
	EventSendMessage       = "sendMessage"
	EventFriendRequestSent = "friendRequestSent"
	EventFriendAccepted    = "friendAccepted"
)

// all channel traffic is one json envelope per websocket frame
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

type JoinPayload struct {
	UserId Id `json:"userId"`
}

type PresencePayload struct {
	UserId Id `json:"userId"`
}

type MessagePayload struct {
	SenderId   Id     `json:"senderId"`
	ReceiverId Id     `json:"receiverId"`
	Message    string `json:"message"`
	// unix milliseconds
	Timestamp int64 `json:"timestamp"`
	OriginId  *Id   `json:"originId,omitempty"`
}

type FriendRequestSentPayload struct {
	SenderId   Id `json:"senderId"`
	ReceiverId Id `json:"receiverId"`
}

type FriendAcceptedPayload struct {
	Recipient         Id     `json:"recipient"`
	RequesterUsername string `json:"requesterUsername"`
}

type ChannelStatus int

const (
	ChannelStatusConnecting ChannelStatus = iota
	ChannelStatusConnected
	ChannelStatusReconnecting
	// terminal. the reconnect budget is exhausted or the transport was closed.
	ChannelStatusClosed
)

func (self ChannelStatus) String() string {
	switch self {
	case ChannelStatusConnecting:
		return "connecting"
	case ChannelStatusConnected:
		return "connected"
	case ChannelStatusReconnecting:
		return "reconnecting"
	case ChannelStatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(self))
	}
}

type EventFunction func(event *Event)
type ChannelStatusFunction func(status ChannelStatus)

type PushTransportSettings struct {
	WsHandshakeTimeout   time.Duration
	JoinTimeout          time.Duration
	ReconnectTimeout     time.Duration
	MaxReconnectAttempts int
	PingTimeout          time.Duration
	WriteTimeout         time.Duration
	ReadTimeout          time.Duration
	SendBufferSize       int
}

func DefaultPushTransportSettings() *PushTransportSettings {
	return &PushTransportSettings{
		WsHandshakeTimeout:   2 * time.Second,
		JoinTimeout:          2 * time.Second,
		ReconnectTimeout:     2 * time.Second,
		MaxReconnectAttempts: 5,
		PingTimeout:          1 * time.Second,
		WriteTimeout:         5 * time.Second,
		ReadTimeout:          15 * time.Second,
		SendBufferSize:       32,
	}
}

type ClientAuth struct {
	ByJwt      string
	AppVersion string
}

// PushTransport owns the lifetime of one push channel connection for a session.
// it dials, announces presence with a join event, and keeps the connection
// alive across unexpected disconnects up to a fixed attempt budget.
// events are dispatched to callbacks in the order the transport received them.
type PushTransport struct {
	ctx    context.Context
	cancel context.CancelFunc

	connectUrl string
	auth       *ClientAuth
	userId     Id

	settings *PushTransportSettings

	send chan []byte

	eventCallbacks  *CallbackList[EventFunction]
	statusCallbacks *CallbackList[ChannelStatusFunction]
}

func NewPushTransportWithDefaults(
	ctx context.Context,
	connectUrl string,
	auth *ClientAuth,
	userId Id,
) *PushTransport {
	return NewPushTransport(ctx, connectUrl, auth, userId, DefaultPushTransportSettings())
}

func NewPushTransport(
	ctx context.Context,
	connectUrl string,
	auth *ClientAuth,
	userId Id,
	settings *PushTransportSettings,
) *PushTransport {
	cancelCtx, cancel := context.WithCancel(ctx)
	transport := &PushTransport{
		ctx:             cancelCtx,
		cancel:          cancel,
		connectUrl:      connectUrl,
		auth:            auth,
		userId:          userId,
		settings:        settings,
		send:            make(chan []byte, settings.SendBufferSize),
		eventCallbacks:  NewCallbackList[EventFunction](),
		statusCallbacks: NewCallbackList[ChannelStatusFunction](),
	}
	go transport.run()
	return transport
}

// returns a function to remove the callback
func (self *PushTransport) AddEventCallback(eventCallback EventFunction) func() {
	return self.eventCallbacks.Add(eventCallback)
}

// returns a function to remove the callback
func (self *PushTransport) AddStatusCallback(statusCallback ChannelStatusFunction) func() {
	return self.statusCallbacks.Add(statusCallback)
}

// queues an event for the channel. does not block.
// returns an error if the send buffer is full, which means the
// channel is congested or down.
func (self *PushTransport) Send(name string, data any) error {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return err
	}
	eventBytes, err := json.Marshal(&Event{
		Name: name,
		Data: dataBytes,
	})
	if err != nil {
		return err
	}

	select {
	case <-self.ctx.Done():
		return fmt.Errorf("transport closed")
	case self.send <- eventBytes:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

func (self *PushTransport) status(status ChannelStatus) {
	for _, statusCallback := range self.statusCallbacks.Get() {
		statusCallback(status)
	}
}

func (self *PushTransport) dispatch(event *Event) {
	for _, eventCallback := range self.eventCallbacks.Get() {
		eventCallback(event)
	}
}

func (self *PushTransport) run() {
	defer func() {
		self.cancel()
		self.status(ChannelStatusClosed)
	}()

	joinBytes, err := json.Marshal(&JoinPayload{
		UserId: self.userId,
	})
	if err != nil {
		return
	}
	joinEventBytes, err := json.Marshal(&Event{
		Name: EventJoin,
		Data: joinBytes,
	})
	if err != nil {
		return
	}

	connect := func() (*websocket.Conn, error) {
		dialer := &websocket.Dialer{
			HandshakeTimeout: self.settings.WsHandshakeTimeout,
		}
		header := http.Header{}
		if self.auth.ByJwt != "" {
			header.Add("Authorization", fmt.Sprintf("Bearer %s", self.auth.ByJwt))
		}
		if self.auth.AppVersion != "" {
			header.Add("X-Chatverse-Version", self.auth.AppVersion)
		}
		ws, _, err := dialer.DialContext(self.ctx, self.connectUrl, header)
		if err != nil {
			return nil, err
		}

		success := false
		defer func() {
			if !success {
				ws.Close()
			}
		}()

		// announce presence before anything else is sent on the channel
		ws.SetWriteDeadline(time.Now().Add(self.settings.JoinTimeout))
		if err := ws.WriteMessage(websocket.TextMessage, joinEventBytes); err != nil {
			return nil, err
		}

		success = true
		return ws, nil
	}

	connected := false
	attempts := 0
	for {
		if connected {
			self.status(ChannelStatusReconnecting)
		} else {
			self.status(ChannelStatusConnecting)
		}

		reconnect := NewReconnect(self.settings.ReconnectTimeout)
		ws, err := connect()
		if err != nil {
			glog.Infof("[pt]connect error %s = %s\n", self.userId, err)
			attempts += 1
			if self.settings.MaxReconnectAttempts <= attempts {
				// the budget is exhausted. the channel is permanently closed.
				glog.Infof("[pt]reconnect budget exhausted %s\n", self.userId)
				return
			}
			select {
			case <-self.ctx.Done():
				return
			case <-reconnect.After():
				continue
			}
		}
		connected = true
		attempts = 0
		self.status(ChannelStatusConnected)

		c := func() {
			defer ws.Close()

			handleCtx, handleCancel := context.WithCancel(self.ctx)
			defer handleCancel()

			go func() {
				defer handleCancel()

				for {
					select {
					case <-handleCtx.Done():
						return
					case message, ok := <-self.send:
						if !ok {
							return
						}

						ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
						if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
							// note that for websocket a deadline timeout cannot be recovered
							glog.Infof("[pt]%s-> error = %s\n", self.userId, err)
							return
						}
						glog.V(2).Infof("[pt]%s->\n", self.userId)
					case <-time.After(self.settings.PingTimeout):
						ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
						if err := ws.WriteMessage(websocket.BinaryMessage, make([]byte, 0)); err != nil {
							return
						}
					}
				}
			}()

			// read pump. events are dispatched in receive order from this
			// single goroutine, which is the ordering guarantee the
			// downstream trackers rely on.
			for {
				select {
				case <-handleCtx.Done():
					return
				default:
				}

				ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
				messageType, message, err := ws.ReadMessage()
				if err != nil {
					glog.Infof("[pt]%s<- error = %s\n", self.userId, err)
					return
				}

				switch messageType {
				case websocket.TextMessage:
					event := &Event{}
					if err := json.Unmarshal(message, event); err != nil {
						glog.Infof("[pt]%s<- decode error = %s\n", self.userId, err)
						continue
					}
					glog.V(2).Infof("[pt]%s<- %s\n", self.userId, event.Name)
					self.dispatch(event)
				case websocket.BinaryMessage:
					if 0 == len(message) {
						// ping
						glog.V(2).Infof("[pt]ping %s<-\n", self.userId)
						continue
					}
				default:
					glog.V(2).Infof("[pt]other=%d %s<-\n", messageType, self.userId)
				}
			}
		}
		c()

		reconnect = NewReconnect(self.settings.ReconnectTimeout)
		select {
		case <-self.ctx.Done():
			return
		case <-reconnect.After():
		}
	}
}

func (self *PushTransport) Close() {
	self.cancel()
}
