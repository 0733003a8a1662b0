package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	// see https://medium.com/@nate510/don-t-use-go-s-default-http-client-4804cb19f779
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R])
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

// bearer-authenticated client for the ChatVerse REST surface.
// the jwt is supplied by the auth collaborator via `SetByJwt`;
// the engine never stores or refreshes the credential itself.
type ChatVerseApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	byJwt string
}

func NewChatVerseApi(apiUrl string) *ChatVerseApi {
	return NewChatVerseApiWithContext(context.Background(), apiUrl)
}

func NewChatVerseApiWithContext(ctx context.Context, apiUrl string) *ChatVerseApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &ChatVerseApi{
		ctx:    cancelCtx,
		cancel: cancel,
		apiUrl: apiUrl,
	}
}

// this gets attached to api calls that need it
func (self *ChatVerseApi) SetByJwt(byJwt string) {
	self.byJwt = byJwt
}

func (self *ChatVerseApi) Close() {
	self.cancel()
}

type ApiPeer struct {
	UserId   Id     `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	// "friend", "sent", "received", or empty for no relationship
	Status string `json:"status,omitempty"`
}

type ApiFriendRequest struct {
	RequestId Id       `json:"request_id"`
	Requester *ApiPeer `json:"requester"`
}

type ApiMessage struct {
	SenderId   Id     `json:"sender_id"`
	ReceiverId Id     `json:"receiver_id"`
	Text       string `json:"text"`
	// unix milliseconds
	Timestamp int64 `json:"timestamp"`
	OriginId  *Id   `json:"origin_id,omitempty"`
}

type AuthLoginCallback = apiCallback[*AuthLoginResult]

type AuthLoginArgs struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginResult struct {
	ByJwt string   `json:"token,omitempty"`
	User  *ApiPeer `json:"user,omitempty"`
	Error *ApiErr  `json:"error,omitempty"`
}

type ApiErr struct {
	Message string `json:"message"`
}

func (self *ChatVerseApi) AuthLogin(authLogin *AuthLoginArgs, callback AuthLoginCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/api/auth/login", self.apiUrl),
		authLogin,
		self.byJwt,
		&AuthLoginResult{},
		callback,
	)
}

func (self *ChatVerseApi) AuthLoginSync(authLogin *AuthLoginArgs) (*AuthLoginResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/api/auth/login", self.apiUrl),
		authLogin,
		self.byJwt,
		&AuthLoginResult{},
		NewNoopApiCallback[*AuthLoginResult](),
	)
}

type AuthRegisterCallback = apiCallback[*AuthRegisterResult]

type AuthRegisterArgs struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthRegisterResult struct {
	User  *ApiPeer `json:"user,omitempty"`
	Error *ApiErr  `json:"error,omitempty"`
}

func (self *ChatVerseApi) AuthRegister(authRegister *AuthRegisterArgs, callback AuthRegisterCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/api/auth/register", self.apiUrl),
		authRegister,
		self.byJwt,
		&AuthRegisterResult{},
		callback,
	)
}

func (self *ChatVerseApi) AuthRegisterSync(authRegister *AuthRegisterArgs) (*AuthRegisterResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/api/auth/register", self.apiUrl),
		authRegister,
		self.byJwt,
		&AuthRegisterResult{},
		NewNoopApiCallback[*AuthRegisterResult](),
	)
}

type SelfCallback = apiCallback[*SelfResult]

type SelfResult struct {
	UserId   Id     `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

func (self *ChatVerseApi) GetSelf(callback SelfCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/users/me", self.apiUrl),
		self.byJwt,
		&SelfResult{},
		callback,
	)
}

func (self *ChatVerseApi) GetSelfSync() (*SelfResult, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/users/me", self.apiUrl),
		self.byJwt,
		&SelfResult{},
		NewNoopApiCallback[*SelfResult](),
	)
}

type AllPeersCallback = apiCallback[*AllPeersResult]

type AllPeersResult struct {
	Peers []*ApiPeer `json:"peers"`
}

func (self *ChatVerseApi) GetAllPeers(callback AllPeersCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/api/friends/all", self.apiUrl),
		self.byJwt,
		&AllPeersResult{},
		callback,
	)
}

func (self *ChatVerseApi) GetAllPeersSync() (*AllPeersResult, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/api/friends/all", self.apiUrl),
		self.byJwt,
		&AllPeersResult{},
		NewNoopApiCallback[*AllPeersResult](),
	)
}

type PendingRequestsCallback = apiCallback[*PendingRequestsResult]

type PendingRequestsResult struct {
	Requests []*ApiFriendRequest `json:"requests"`
}

func (self *ChatVerseApi) GetPendingRequests(callback PendingRequestsCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/api/friends/pending", self.apiUrl),
		self.byJwt,
		&PendingRequestsResult{},
		callback,
	)
}

func (self *ChatVerseApi) GetPendingRequestsSync() (*PendingRequestsResult, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/api/friends/pending", self.apiUrl),
		self.byJwt,
		&PendingRequestsResult{},
		NewNoopApiCallback[*PendingRequestsResult](),
	)
}

type FriendListCallback = apiCallback[*FriendListResult]

type FriendListResult struct {
	Friends []*ApiPeer `json:"friends"`
}

func (self *ChatVerseApi) GetFriendList(callback FriendListCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/friends/list", self.apiUrl),
		self.byJwt,
		&FriendListResult{},
		callback,
	)
}

func (self *ChatVerseApi) GetFriendListSync() (*FriendListResult, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/friends/list", self.apiUrl),
		self.byJwt,
		&FriendListResult{},
		NewNoopApiCallback[*FriendListResult](),
	)
}

type SendFriendRequestCallback = apiCallback[*SendFriendRequestResult]

type SendFriendRequestResult struct {
	RequestId *Id     `json:"request_id,omitempty"`
	Error     *ApiErr `json:"error,omitempty"`
}

func (self *ChatVerseApi) SendFriendRequest(peerId Id, callback SendFriendRequestCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/api/friends/request/%s", self.apiUrl, peerId),
		nil,
		self.byJwt,
		&SendFriendRequestResult{},
		callback,
	)
}

func (self *ChatVerseApi) SendFriendRequestSync(peerId Id) (*SendFriendRequestResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/api/friends/request/%s", self.apiUrl, peerId),
		nil,
		self.byJwt,
		&SendFriendRequestResult{},
		NewNoopApiCallback[*SendFriendRequestResult](),
	)
}

type AcceptFriendRequestCallback = apiCallback[*AcceptFriendRequestResult]

type AcceptFriendRequestResult struct {
	Error *ApiErr `json:"error,omitempty"`
}

func (self *ChatVerseApi) AcceptFriendRequest(requestId Id, callback AcceptFriendRequestCallback) {
	go put(
		self.ctx,
		fmt.Sprintf("%s/api/friends/accept/%s", self.apiUrl, requestId),
		nil,
		self.byJwt,
		&AcceptFriendRequestResult{},
		callback,
	)
}

func (self *ChatVerseApi) AcceptFriendRequestSync(requestId Id) (*AcceptFriendRequestResult, error) {
	return put(
		self.ctx,
		fmt.Sprintf("%s/api/friends/accept/%s", self.apiUrl, requestId),
		nil,
		self.byJwt,
		&AcceptFriendRequestResult{},
		NewNoopApiCallback[*AcceptFriendRequestResult](),
	)
}

type ConversationCallback = apiCallback[*ConversationResult]

type ConversationResult struct {
	Messages []*ApiMessage `json:"messages"`
}

func (self *ChatVerseApi) GetConversation(peerUsername string, callback ConversationCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/chats/%s", self.apiUrl, peerUsername),
		self.byJwt,
		&ConversationResult{},
		callback,
	)
}

func (self *ChatVerseApi) GetConversationSync(peerUsername string) (*ConversationResult, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/chats/%s", self.apiUrl, peerUsername),
		self.byJwt,
		&ConversationResult{},
		NewNoopApiCallback[*ConversationResult](),
	)
}

type AppendMessageCallback = apiCallback[*AppendMessageResult]

type AppendMessageArgs struct {
	Text     string `json:"text"`
	OriginId Id     `json:"origin_id"`
}

type AppendMessageResult struct {
	Error *ApiErr `json:"error,omitempty"`
}

func (self *ChatVerseApi) AppendMessage(peerUsername string, appendMessage *AppendMessageArgs, callback AppendMessageCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/chats/%s", self.apiUrl, peerUsername),
		appendMessage,
		self.byJwt,
		&AppendMessageResult{},
		callback,
	)
}

func (self *ChatVerseApi) AppendMessageSync(peerUsername string, appendMessage *AppendMessageArgs) (*AppendMessageResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/chats/%s", self.apiUrl, peerUsername),
		appendMessage,
		self.byJwt,
		&AppendMessageResult{},
		NewNoopApiCallback[*AppendMessageResult](),
	)
}

func post[R any](ctx context.Context, url string, args any, byJwt string, result R, callback apiCallback[R]) (R, error) {
	return send(ctx, "POST", url, args, byJwt, result, callback)
}

func put[R any](ctx context.Context, url string, args any, byJwt string, result R, callback apiCallback[R]) (R, error) {
	return send(ctx, "PUT", url, args, byJwt, result, callback)
}

func send[R any](ctx context.Context, method string, url string, args any, byJwt string, result R, callback apiCallback[R]) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "text/json")

	if byJwt != "" {
		auth := fmt.Sprintf("Bearer %s", byJwt)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode {
		// the response body is the error message
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = errors.New(errorMessage)
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}

func get[R any](ctx context.Context, url string, byJwt string, result R, callback apiCallback[R]) (R, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "text/json")

	if byJwt != "" {
		auth := fmt.Sprintf("Bearer %s", byJwt)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	responseBodyBytes, err := io.ReadAll(r.Body)
	r.Body.Close()

	if http.StatusOK != r.StatusCode {
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = errors.New(errorMessage)
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}
