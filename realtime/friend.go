package realtime

import (
	"fmt"
	"sync"

	"github.com/golang/glog"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type FriendshipStatus string

const (
	FriendshipNone            FriendshipStatus = "none"
	FriendshipRequestSent     FriendshipStatus = "sent"
	FriendshipRequestReceived FriendshipStatus = "received"
	// terminal. there is no unfriend or reject path.
	FriendshipFriend FriendshipStatus = "friend"
)

// one instance per known user other than the session owner.
// peers are updated in place and never removed within a session.
type Peer struct {
	PeerId   Id
	Username string
	Email    string
	Status   FriendshipStatus
}

// an inbound, unresolved friend request. destroyed on accept.
type FriendRequest struct {
	RequestId         Id
	RequesterId       Id
	RequesterUsername string
	RequesterEmail    string
}

type FriendListChangeFunction func()

// the channel side of the engine. `PushTransport` implements this.
type ChannelEmitter interface {
	Send(name string, data any) error
}

// FriendBook derives one friendship status per known peer from REST
// snapshots and keeps it consistent with channel events.
//
// the status set is always re-derived from a fresh snapshot after a
// mutating call rather than flipped optimistically, because server-side
// duplicate and race rejection is authoritative.
type FriendBook struct {
	api     *ChatVerseApi
	session *Session

	mutex   sync.Mutex
	peers   map[Id]*Peer
	pending map[Id]*FriendRequest
	channel ChannelEmitter

	changeCallbacks *CallbackList[FriendListChangeFunction]
}

func NewFriendBook(api *ChatVerseApi, session *Session) *FriendBook {
	return &FriendBook{
		api:             api,
		session:         session,
		peers:           map[Id]*Peer{},
		pending:         map[Id]*FriendRequest{},
		changeCallbacks: NewCallbackList[FriendListChangeFunction](),
	}
}

// the channel is optional. without one, mutations still work over REST
// and the other party finds out on their next snapshot.
func (self *FriendBook) SetChannel(channel ChannelEmitter) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.channel = channel
}

// returns a function to remove the callback
func (self *FriendBook) AddChangeCallback(changeCallback FriendListChangeFunction) func() {
	return self.changeCallbacks.Add(changeCallback)
}

// Refresh re-derives the full status set from fresh snapshots.
// on any fetch error the previous state is left intact.
func (self *FriendBook) Refresh() error {
	allPeers, err := self.api.GetAllPeersSync()
	if err != nil {
		glog.Infof("[fb]all peers error = %s\n", err)
		return err
	}
	pendingRequests, err := self.api.GetPendingRequestsSync()
	if err != nil {
		glog.Infof("[fb]pending error = %s\n", err)
		return err
	}
	friendList, err := self.api.GetFriendListSync()
	if err != nil {
		glog.Infof("[fb]friend list error = %s\n", err)
		return err
	}

	self.applySnapshot(allPeers.Peers, pendingRequests.Requests, friendList.Friends)

	for _, changeCallback := range self.changeCallbacks.Get() {
		changeCallback()
	}
	return nil
}

func (self *FriendBook) applySnapshot(
	allPeers []*ApiPeer,
	pendingRequests []*ApiFriendRequest,
	friendList []*ApiPeer,
) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	for _, apiPeer := range allPeers {
		if apiPeer.UserId == self.session.UserId {
			continue
		}
		self.applyStatus(apiPeer, statusFromApi(apiPeer.Status))
	}

	clear(self.pending)
	for _, apiRequest := range pendingRequests {
		if apiRequest.Requester == nil {
			continue
		}
		self.pending[apiRequest.RequestId] = &FriendRequest{
			RequestId:         apiRequest.RequestId,
			RequesterId:       apiRequest.Requester.UserId,
			RequesterUsername: apiRequest.Requester.Username,
			RequesterEmail:    apiRequest.Requester.Email,
		}
		self.applyStatus(apiRequest.Requester, FriendshipRequestReceived)
	}

	for _, apiPeer := range friendList {
		if apiPeer.UserId == self.session.UserId {
			continue
		}
		self.applyStatus(apiPeer, FriendshipFriend)
	}
}

// must be called with the mutex held.
// FriendshipFriend is absorbing. a snapshot can race an acceptance and
// omit a just-made friend, so a friend is never downgraded in-session.
func (self *FriendBook) applyStatus(apiPeer *ApiPeer, status FriendshipStatus) {
	peer, ok := self.peers[apiPeer.UserId]
	if !ok {
		peer = &Peer{
			PeerId: apiPeer.UserId,
			Status: FriendshipNone,
		}
		self.peers[apiPeer.UserId] = peer
	}
	peer.Username = apiPeer.Username
	peer.Email = apiPeer.Email
	if peer.Status == FriendshipFriend {
		return
	}
	peer.Status = status
}

func statusFromApi(status string) FriendshipStatus {
	switch status {
	case "friend":
		return FriendshipFriend
	case "sent":
		return FriendshipRequestSent
	case "received":
		return FriendshipRequestReceived
	default:
		return FriendshipNone
	}
}

// SendRequest moves a peer from NONE to REQUEST_SENT.
// validation failures are rejected before any network call.
// the server does not distinguish a duplicate request from any other
// rejection, so neither does the returned error.
func (self *FriendBook) SendRequest(peerId Id) error {
	if peerId == self.session.UserId {
		return fmt.Errorf("cannot send a friend request to self")
	}

	self.mutex.Lock()
	if peer, ok := self.peers[peerId]; ok && peer.Status != FriendshipNone {
		self.mutex.Unlock()
		return fmt.Errorf("friend request already sent or failed")
	}
	channel := self.channel
	self.mutex.Unlock()

	result, err := self.api.SendFriendRequestSync(peerId)
	if err != nil {
		return fmt.Errorf("friend request already sent or failed")
	}
	if result.Error != nil {
		return fmt.Errorf("friend request already sent or failed")
	}

	if channel != nil {
		err := channel.Send(EventFriendRequestSent, &FriendRequestSentPayload{
			SenderId:   self.session.UserId,
			ReceiverId: peerId,
		})
		if err != nil {
			glog.Infof("[fb]request sent emit error = %s\n", err)
		}
	}

	return self.Refresh()
}

// AcceptRequest resolves an inbound request. acceptance is the only
// resolving action available. on success the pending request is removed,
// the status set is re-derived from a fresh snapshot, and every change
// callback fires so other open views refresh.
func (self *FriendBook) AcceptRequest(requestId Id, requesterUsername string) error {
	result, err := self.api.AcceptFriendRequestSync(requestId)
	if err != nil {
		return fmt.Errorf("accept failed: %s", err)
	}
	if result.Error != nil {
		return fmt.Errorf("accept failed: %s", result.Error.Message)
	}

	self.mutex.Lock()
	delete(self.pending, requestId)
	channel := self.channel
	self.mutex.Unlock()

	if channel != nil {
		err := channel.Send(EventFriendAccepted, &FriendAcceptedPayload{
			Recipient:         self.session.UserId,
			RequesterUsername: requesterUsername,
		})
		if err != nil {
			glog.Infof("[fb]accept emit error = %s\n", err)
		}
	}

	return self.Refresh()
}

func (self *FriendBook) Peer(peerId Id) *Peer {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if peer, ok := self.peers[peerId]; ok {
		peerCopy := *peer
		return &peerCopy
	}
	return nil
}

func (self *FriendBook) Status(peerId Id) FriendshipStatus {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if peer, ok := self.peers[peerId]; ok {
		return peer.Status
	}
	return FriendshipNone
}

func (self *FriendBook) Peers() []*Peer {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	peers := make([]*Peer, 0, len(self.peers))
	for _, peer := range self.peers {
		peerCopy := *peer
		peers = append(peers, &peerCopy)
	}
	slices.SortFunc(peers, func(a *Peer, b *Peer) int {
		if a.Username < b.Username {
			return -1
		} else if b.Username < a.Username {
			return 1
		} else {
			return 0
		}
	})
	return peers
}

// accepted friends only
func (self *FriendBook) Friends() []*Peer {
	peers := self.Peers()
	friends := make([]*Peer, 0, len(peers))
	for _, peer := range peers {
		if peer.Status == FriendshipFriend {
			friends = append(friends, peer)
		}
	}
	return friends
}

func (self *FriendBook) PendingRequests() []*FriendRequest {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	requestIds := maps.Keys(self.pending)
	slices.SortFunc(requestIds, func(a Id, b Id) int {
		if a.LessThan(b) {
			return -1
		} else if b.LessThan(a) {
			return 1
		} else {
			return 0
		}
	})
	requests := make([]*FriendRequest, 0, len(requestIds))
	for _, requestId := range requestIds {
		requestCopy := *self.pending[requestId]
		requests = append(requests, &requestCopy)
	}
	return requests
}
