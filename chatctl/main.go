package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"golang.org/x/term"

	"github.com/chatverse/realtime/realtime"
)

const ChatCtlVersion = "0.0.1"

const DefaultApiUrl = "https://api.chatverse.io"
const DefaultConnectUrl = "wss://connect.chatverse.io/ws"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `ChatVerse control.

The default urls are:
    api_url: https://api.chatverse.io
    connect_url: wss://connect.chatverse.io/ws

Usage:
    chatctl register [--api_url=<api_url>]
        --username=<username>
        --user_auth=<user_auth>
        [--password=<password>]
    chatctl login [--api_url=<api_url>]
        --user_auth=<user_auth>
        [--password=<password>]
    chatctl friends [--api_url=<api_url>] --jwt=<jwt>
    chatctl request [--api_url=<api_url>] --jwt=<jwt> <username>
    chatctl send [--api_url=<api_url>] [--connect_url=<connect_url>]
        --jwt=<jwt>
        --peer=<username>
        [<message>]
    chatctl sync [--api_url=<api_url>] [--connect_url=<connect_url>]
        --jwt=<jwt>
        [--peer=<username>]

Options:
    -h --help                Show this screen.
    --version                Show version.
    --api_url=<api_url>
    --connect_url=<connect_url>
    --username=<username>    Display name for a new account.
    --user_auth=<user_auth>  Account email.
    --password=<password>    Prompted when omitted.
    --jwt=<jwt>              Your session JWT from login.
    --peer=<username>        Peer username.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], ChatCtlVersion)
	if err != nil {
		panic(err)
	}

	if register_, _ := opts.Bool("register"); register_ {
		register(opts)
	} else if login_, _ := opts.Bool("login"); login_ {
		login(opts)
	} else if friends_, _ := opts.Bool("friends"); friends_ {
		friends(opts)
	} else if request_, _ := opts.Bool("request"); request_ {
		request(opts)
	} else if send_, _ := opts.Bool("send"); send_ {
		send(opts)
	} else if sync_, _ := opts.Bool("sync"); sync_ {
		sync(opts)
	}
}

func apiUrl(opts docopt.Opts) string {
	if apiUrl_, err := opts.String("--api_url"); err == nil {
		return apiUrl_
	}
	return DefaultApiUrl
}

func connectUrl(opts docopt.Opts) string {
	if connectUrl_, err := opts.String("--connect_url"); err == nil {
		return connectUrl_
	}
	return DefaultConnectUrl
}

func password(opts docopt.Opts) string {
	if password_, err := opts.String("--password"); err == nil {
		return password_
	}
	fmt.Print("Password: ")
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		panic(err)
	}
	return string(passwordBytes)
}

func register(opts docopt.Opts) {
	username, _ := opts.String("--username")
	userAuth, _ := opts.String("--user_auth")

	api := realtime.NewChatVerseApi(apiUrl(opts))
	defer api.Close()

	result, err := api.AuthRegisterSync(&realtime.AuthRegisterArgs{
		Username: username,
		Email:    userAuth,
		Password: password(opts),
	})
	if err != nil {
		Err.Printf("Register error (%s).\n", err)
		return
	}
	if result.Error != nil {
		Err.Printf("Register error (%s).\n", result.Error.Message)
		return
	}

	Out.Printf("Registered %s. Log in to get a session JWT.\n", result.User.Username)
}

func login(opts docopt.Opts) {
	userAuth, _ := opts.String("--user_auth")

	api := realtime.NewChatVerseApi(apiUrl(opts))
	defer api.Close()

	callback, c := realtime.NewBlockingApiCallback[*realtime.AuthLoginResult]()
	api.AuthLogin(&realtime.AuthLoginArgs{
		Email:    userAuth,
		Password: password(opts),
	}, callback)

	result := <-c
	if result.Error != nil {
		Err.Printf("Login error (%s).\n", result.Error)
		return
	}
	if result.Result.Error != nil {
		Err.Printf("Login error (%s).\n", result.Result.Error.Message)
		return
	}

	Out.Printf("%s\n", result.Result.ByJwt)
}

// create an api client and friend book for an existing session jwt
func sessionFriendBook(opts docopt.Opts) (*realtime.ChatVerseApi, *realtime.FriendBook, error) {
	jwt, _ := opts.String("--jwt")

	byJwt, err := realtime.ParseByJwtUnverified(jwt)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid jwt (%s)", err)
	}

	api := realtime.NewChatVerseApi(apiUrl(opts))
	api.SetByJwt(jwt)

	friendBook := realtime.NewFriendBook(api, byJwt.Session())
	if err := friendBook.Refresh(); err != nil {
		api.Close()
		return nil, nil, err
	}
	return api, friendBook, nil
}

func friends(opts docopt.Opts) {
	api, friendBook, err := sessionFriendBook(opts)
	if err != nil {
		Err.Printf("%s\n", err)
		return
	}
	defer api.Close()

	for _, peer := range friendBook.Peers() {
		Out.Printf("%-8s %s <%s>\n", peer.Status, peer.Username, peer.Email)
	}
	for _, pendingRequest := range friendBook.PendingRequests() {
		Out.Printf("pending  %s requested you (request %s)\n", pendingRequest.RequesterUsername, pendingRequest.RequestId)
	}
}

func request(opts docopt.Opts) {
	username, _ := opts.String("<username>")

	api, friendBook, err := sessionFriendBook(opts)
	if err != nil {
		Err.Printf("%s\n", err)
		return
	}
	defer api.Close()

	peer := peerByUsername(friendBook, username)
	if peer == nil {
		Err.Printf("Unknown peer %s.\n", username)
		return
	}

	if err := friendBook.SendRequest(peer.PeerId); err != nil {
		Err.Printf("Request error (%s).\n", err)
		return
	}
	Out.Printf("Request sent to %s.\n", username)
}

func peerByUsername(friendBook *realtime.FriendBook, username string) *realtime.Peer {
	for _, peer := range friendBook.Peers() {
		if peer.Username == username {
			return peer
		}
	}
	return nil
}

// send one message to a peer and wait for the delivery status
func send(opts docopt.Opts) {
	jwt, _ := opts.String("--jwt")
	peerUsername, _ := opts.String("--peer")
	messageText, _ := opts.String("<message>")
	if messageText == "" {
		Err.Printf("Nothing to send.\n")
		return
	}

	timeout := 30 * time.Second

	byJwt, err := realtime.ParseByJwtUnverified(jwt)
	if err != nil {
		Err.Printf("Invalid jwt (%s).\n", err)
		return
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := realtime.NewChatVerseApiWithContext(cancelCtx, apiUrl(opts))
	defer api.Close()
	api.SetByJwt(jwt)

	auth := &realtime.ClientAuth{
		ByJwt:      jwt,
		AppVersion: fmt.Sprintf("chatctl %s", ChatCtlVersion),
	}
	client := realtime.NewSyncClientWithDefaults(
		cancelCtx,
		api,
		byJwt.Session(),
		connectUrl(opts),
		auth,
	)
	defer client.Close()
	client.Connect()

	if !waitForPeer(client, peerUsername, timeout) {
		Err.Printf("Unknown peer %s.\n", peerUsername)
		return
	}
	peer := peerByUsername(client.FriendBook(), peerUsername)

	if err := client.SelectPeer(peer.PeerId); err != nil {
		Err.Printf("Select error (%s).\n", err)
		return
	}

	message, err := client.SendMessage(messageText)
	if err != nil {
		Err.Printf("Send error (%s).\n", err)
		return
	}

	key := realtime.ConversationKey(peerUsername)
	end := time.Now().Add(timeout)
	for time.Now().Before(end) {
		status := deliveryStatus(client, key, message.OriginId)
		switch status {
		case realtime.DeliveryStatusConfirmed:
			Out.Printf("Message delivered.\n")
			return
		case realtime.DeliveryStatusFailed:
			Err.Printf("Message not delivered.\n")
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	Err.Printf("Message not delivered (timeout).\n")
}

func deliveryStatus(client *realtime.SyncClient, key string, originId realtime.Id) realtime.DeliveryStatus {
	for _, message := range client.Conversations().Messages(key) {
		if message.OriginId == originId {
			return message.DeliveryStatus
		}
	}
	return realtime.DeliveryStatusPending
}

func waitForPeer(client *realtime.SyncClient, username string, timeout time.Duration) bool {
	end := time.Now().Add(timeout)
	for time.Now().Before(end) {
		if peerByUsername(client.FriendBook(), username) != nil {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}

// stream channel activity to stdout until interrupted
func sync(opts docopt.Opts) {
	jwt, _ := opts.String("--jwt")
	peerUsername, _ := opts.String("--peer")

	byJwt, err := realtime.ParseByJwtUnverified(jwt)
	if err != nil {
		Err.Printf("Invalid jwt (%s).\n", err)
		return
	}
	session := byJwt.Session()

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := realtime.NewChatVerseApiWithContext(cancelCtx, apiUrl(opts))
	defer api.Close()
	api.SetByJwt(jwt)

	auth := &realtime.ClientAuth{
		ByJwt:      jwt,
		AppVersion: fmt.Sprintf("chatctl %s", ChatCtlVersion),
	}
	client := realtime.NewSyncClientWithDefaults(
		cancelCtx,
		api,
		session,
		connectUrl(opts),
		auth,
	)
	defer client.Close()

	client.AddStatusCallback(func(status realtime.ChannelStatus) {
		Out.Printf("channel %s\n", status)
	})
	client.Presence().AddPresenceCallback(func(peerId realtime.Id, online bool) {
		state := "offline"
		if online {
			state = "online"
		}
		Out.Printf("%s %s\n", peerName(client, peerId), state)
	})
	client.Unread().AddUnreadCallback(func(peerId realtime.Id, flagged bool) {
		if flagged {
			Out.Printf("unread from %s\n", peerName(client, peerId))
		}
	})
	client.FriendBook().AddChangeCallback(func() {
		Out.Printf("friend book updated\n")
	})
	client.Conversations().AddUpdateCallback(func(key string) {
		messages := client.Conversations().Messages(key)
		if len(messages) == 0 {
			return
		}
		message := messages[len(messages)-1]
		sender := "me"
		if message.SenderId != session.UserId {
			sender = peerName(client, message.SenderId)
		}
		Out.Printf("[%s] %s: %s (%s)\n", key, sender, message.Text, message.DeliveryStatus)
	})

	client.Connect()

	if peerUsername != "" {
		if !waitForPeer(client, peerUsername, 30*time.Second) {
			Err.Printf("Unknown peer %s.\n", peerUsername)
			return
		}
		peer := peerByUsername(client.FriendBook(), peerUsername)
		if err := client.SelectPeer(peer.PeerId); err != nil {
			Err.Printf("Select error (%s).\n", err)
			return
		}
		for _, message := range client.Conversations().Messages(realtime.ConversationKey(peerUsername)) {
			sender := "me"
			if message.SenderId != session.UserId {
				sender = peerUsername
			}
			Out.Printf("[%s] %s: %s\n", peerUsername, sender, message.Text)
		}
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	Out.Printf("Closing.\n")
}

func peerName(client *realtime.SyncClient, peerId realtime.Id) string {
	if peer := client.FriendBook().Peer(peerId); peer != nil {
		return peer.Username
	}
	return peerId.String()
}