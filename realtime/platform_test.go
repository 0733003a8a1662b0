package realtime

import (
	"encoding/json"
	"flag"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func init() {
	initGlog()
}

func initGlog() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

// a local stand-in for the ChatVerse platform: the REST surface the
// engine consumes plus one websocket push endpoint. tests mutate the
// snapshot state directly and push events through the open channel.
type testPlatform struct {
	t *testing.T

	mutex    sync.Mutex
	peers    []*ApiPeer
	pending  []*ApiFriendRequest
	friends  []*ApiPeer
	history  map[string][]*ApiMessage
	appended []*AppendMessageArgs

	failSendRequest bool
	failAppend      bool
	// when set, the history handler blocks until the gate closes
	historyGate chan struct{}

	conns []*websocket.Conn

	joins    chan *JoinPayload
	received chan *Event

	server *httptest.Server
}

func newTestPlatform(t *testing.T) *testPlatform {
	platform := &testPlatform{
		t:        t,
		history:  map[string][]*ApiMessage{},
		joins:    make(chan *JoinPayload, 16),
		received: make(chan *Event, 64),
	}
	platform.server = httptest.NewServer(http.HandlerFunc(platform.handle))
	return platform
}

func (self *testPlatform) ApiUrl() string {
	return self.server.URL
}

func (self *testPlatform) ConnectUrl() string {
	return "ws" + strings.TrimPrefix(self.server.URL, "http") + "/ws"
}

func (self *testPlatform) Close() {
	self.mutex.Lock()
	for _, conn := range self.conns {
		conn.Close()
	}
	self.conns = nil
	self.mutex.Unlock()
	self.server.Close()
}

func (self *testPlatform) handle(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/ws":
		self.handleWs(w, r)
	case path == "/api/friends/all" && r.Method == "GET":
		self.mutex.Lock()
		result := &AllPeersResult{Peers: self.peers}
		self.mutex.Unlock()
		writeJson(w, result)
	case path == "/api/friends/pending" && r.Method == "GET":
		self.mutex.Lock()
		result := &PendingRequestsResult{Requests: self.pending}
		self.mutex.Unlock()
		writeJson(w, result)
	case path == "/friends/list" && r.Method == "GET":
		self.mutex.Lock()
		result := &FriendListResult{Friends: self.friends}
		self.mutex.Unlock()
		writeJson(w, result)
	case strings.HasPrefix(path, "/api/friends/request/") && r.Method == "POST":
		self.mutex.Lock()
		fail := self.failSendRequest
		self.mutex.Unlock()
		if fail {
			http.Error(w, "request already sent", http.StatusConflict)
			return
		}
		writeJson(w, &SendFriendRequestResult{})
	case strings.HasPrefix(path, "/api/friends/accept/") && r.Method == "PUT":
		writeJson(w, &AcceptFriendRequestResult{})
	case strings.HasPrefix(path, "/chats/") && r.Method == "GET":
		self.mutex.Lock()
		gate := self.historyGate
		self.mutex.Unlock()
		if gate != nil {
			<-gate
		}
		username := strings.TrimPrefix(path, "/chats/")
		self.mutex.Lock()
		result := &ConversationResult{Messages: self.history[username]}
		self.mutex.Unlock()
		writeJson(w, result)
	case strings.HasPrefix(path, "/chats/") && r.Method == "POST":
		self.mutex.Lock()
		fail := self.failAppend
		self.mutex.Unlock()
		if fail {
			http.Error(w, "persist failed", http.StatusInternalServerError)
			return
		}
		args := &AppendMessageArgs{}
		if err := json.NewDecoder(r.Body).Decode(args); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		self.mutex.Lock()
		self.appended = append(self.appended, args)
		self.mutex.Unlock()
		writeJson(w, &AppendMessageResult{})
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (self *testPlatform) handleWs(w http.ResponseWriter, r *http.Request) {
	upgrader := &websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	self.mutex.Lock()
	self.conns = append(self.conns, conn)
	self.mutex.Unlock()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			// ping
			continue
		}
		event := &Event{}
		if err := json.Unmarshal(message, event); err != nil {
			continue
		}
		if event.Name == EventJoin {
			payload := &JoinPayload{}
			json.Unmarshal(event.Data, payload)
			select {
			case self.joins <- payload:
			default:
			}
			continue
		}
		select {
		case self.received <- event:
		default:
		}
	}
}

// push one event to every open channel
func (self *testPlatform) PushEvent(name string, data any) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		self.t.Fatal(err)
	}
	eventBytes, err := json.Marshal(&Event{
		Name: name,
		Data: dataBytes,
	})
	if err != nil {
		self.t.Fatal(err)
	}

	self.mutex.Lock()
	defer self.mutex.Unlock()
	for _, conn := range self.conns {
		conn.WriteMessage(websocket.TextMessage, eventBytes)
	}
}

// server-side close of every open channel,
// which the engine sees as an unexpected disconnect
func (self *testPlatform) DropConns() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	for _, conn := range self.conns {
		conn.Close()
	}
	self.conns = nil
}

func (self *testPlatform) SetPeers(peers ...*ApiPeer) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.peers = peers
}

func (self *testPlatform) SetPending(requests ...*ApiFriendRequest) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.pending = requests
}

func (self *testPlatform) SetFriends(friends ...*ApiPeer) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.friends = friends
}

func (self *testPlatform) SetHistory(username string, messages ...*ApiMessage) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.history[username] = messages
}

func (self *testPlatform) Appended() []*AppendMessageArgs {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	appended := make([]*AppendMessageArgs, len(self.appended))
	copy(appended, self.appended)
	return appended
}

func writeJson(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// poll until the condition holds or the deadline passes
func waitFor(t *testing.T, timeout time.Duration, condition func() bool) bool {
	end := time.Now().Add(timeout)
	for time.Now().Before(end) {
		if condition() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return condition()
}
