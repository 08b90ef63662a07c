package transport_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hamzalamin/qatrat-chat-core/internal/domain"
	"github.com/hamzalamin/qatrat-chat-core/internal/relay"
	"github.com/hamzalamin/qatrat-chat-core/internal/transport"
)

func testConfig() transport.Config {
	return transport.Config{
		PingInterval:   50 * time.Millisecond,
		PongWait:       2 * time.Second,
		WriteWait:      time.Second,
		MaxMessageSize: 4096,
	}
}

// startRelay brings up a full relay on an httptest server and returns
// the websocket URL plus a token issuer.
func startRelay(t *testing.T) (wsURL string, verifier *relay.TokenVerifier) {
	t.Helper()

	hub := relay.NewHub()
	go hub.Run()

	store := relay.NewMemoryStore()
	verifier = relay.NewTokenVerifier("test-secret", "chat-relay")
	service := relay.NewService(hub, store)
	handler := relay.NewHandler(hub, service, verifier, testConfig())

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/ws", verifier
}

func issueToken(t *testing.T, verifier *relay.TokenVerifier, userID string) string {
	t.Helper()
	token, err := verifier.Issue(userID, "User "+userID, userID+"@example.test", time.Hour)
	require.NoError(t, err)
	return token
}

func dialAs(t *testing.T, wsURL string, verifier *relay.TokenVerifier, userID string) *transport.Conn {
	t.Helper()
	conn, err := transport.Dial(context.Background(), wsURL, issueToken(t, verifier, userID), testConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func recvMessage(t *testing.T, ch <-chan domain.ChatMessage) domain.ChatMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return domain.ChatMessage{}
	}
}

func subscribeQueue(t *testing.T, conn *transport.Conn, userID string) (<-chan domain.ChatMessage, func()) {
	t.Helper()
	ch := make(chan domain.ChatMessage, 8)
	unsub := conn.Subscribe(domain.UserQueue(userID), func(body []byte) {
		msg, err := domain.Normalize(body, time.Now().UTC())
		if err != nil {
			return
		}
		ch <- msg
	})
	return ch, unsub
}

func TestPublish_RoundTripWithEcho(t *testing.T) {
	wsURL, verifier := startRelay(t)

	alice := dialAs(t, wsURL, verifier, "alice")
	bob := dialAs(t, wsURL, verifier, "bob")

	aliceCh, _ := subscribeQueue(t, alice, "alice")
	bobCh, _ := subscribeQueue(t, bob, "bob")

	// Subscriptions race the publish; give the relay a beat.
	time.Sleep(100 * time.Millisecond)

	ok := alice.Publish(domain.SendDestination, domain.SendPayload{
		SenderID:   "alice",
		ReceiverID: "bob",
		Content:    "hello bob",
	})
	require.True(t, ok, "publish on an open connection")

	got := recvMessage(t, bobCh)
	require.Equal(t, "alice", got.SenderID)
	require.Equal(t, "bob", got.ReceiverID)
	require.Equal(t, "hello bob", got.Content)
	require.NotEmpty(t, got.ID, "relay must assign a server id")
	require.False(t, got.Timestamp.IsZero())

	echo := recvMessage(t, aliceCh)
	require.Equal(t, got.ID, echo.ID, "sender echo carries the same id")
}

func TestSubscribe_UnsubscribeIsIdempotent(t *testing.T) {
	wsURL, verifier := startRelay(t)

	alice := dialAs(t, wsURL, verifier, "alice")
	bob := dialAs(t, wsURL, verifier, "bob")

	aliceCh, unsub := subscribeQueue(t, alice, "alice")
	time.Sleep(100 * time.Millisecond)

	unsub()
	unsub()
	unsub()

	time.Sleep(100 * time.Millisecond)
	bob.Publish(domain.SendDestination, domain.SendPayload{
		SenderID: "bob", ReceiverID: "alice", Content: "anyone there?",
	})

	select {
	case msg := <-aliceCh:
		t.Fatalf("received %q after unsubscribe", msg.Content)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestPublish_ReportsFalseAfterClose(t *testing.T) {
	wsURL, verifier := startRelay(t)

	alice := dialAs(t, wsURL, verifier, "alice")
	require.NoError(t, alice.Close())

	ok := alice.Publish(domain.SendDestination, domain.SendPayload{
		SenderID: "alice", ReceiverID: "bob", Content: "too late",
	})
	require.False(t, ok, "publish on a closed connection must report failure, not panic")
}

func TestDial_RejectedHandshake(t *testing.T) {
	wsURL, _ := startRelay(t)

	_, err := transport.Dial(context.Background(), wsURL, "not-a-valid-token", testConfig(), nil)
	require.Error(t, err, "handshake with a bad credential must fail")
}

func TestDial_OnCloseFiresOnce(t *testing.T) {
	wsURL, verifier := startRelay(t)

	closes := make(chan error, 4)
	conn, err := transport.Dial(context.Background(), wsURL, issueToken(t, verifier, "alice"), testConfig(), func(closeErr error) {
		closes <- closeErr
	})
	require.NoError(t, err)

	conn.Close()
	conn.Close()

	select {
	case <-closes:
	case <-time.After(time.Second):
		t.Fatal("onClose never fired")
	}
	select {
	case <-closes:
		t.Fatal("onClose fired more than once")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestHeartbeat_KeepsIdleConnectionAlive(t *testing.T) {
	wsURL, verifier := startRelay(t)

	alice := dialAs(t, wsURL, verifier, "alice")
	aliceCh, _ := subscribeQueue(t, alice, "alice")
	time.Sleep(100 * time.Millisecond)

	// Idle well past the ping interval; the connection must survive
	// on heartbeats alone.
	time.Sleep(400 * time.Millisecond)

	ok := alice.Publish(domain.SendDestination, domain.SendPayload{
		SenderID: "alice", ReceiverID: "alice", Content: "note to self",
	})
	require.True(t, ok)

	got := recvMessage(t, aliceCh)
	require.Equal(t, "note to self", got.Content)
}
