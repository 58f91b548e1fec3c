package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func startHub(t *testing.T) (*Manager, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	m := NewManager(zap.NewNop())
	go m.Start(ctx)

	srv := httptest.NewServer(m.Handler(func(token string) (string, error) {
		if !strings.HasPrefix(token, "user-") {
			return "", errors.New("bad token")
		}
		return token, nil
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return m, srv
}

func dial(t *testing.T, srv *httptest.Server, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=" + token
	return websocket.DefaultDialer.Dial(url, nil)
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Unexpected read error: %v", err)
	}
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		t.Fatalf("Unexpected decode error: %v", err)
	}
	return e
}

func TestHandshakeRequiresValidToken(t *testing.T) {
	_, srv := startHub(t)

	cases := []struct {
		title string
		token string
	}{
		{"missing", ""},
		{"invalid", "nope"},
	}
	for _, c := range cases {
		_, resp, err := dial(t, srv, c.token)
		if err == nil {
			t.Errorf("[%s] Expected handshake to fail", c.title)
			continue
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("[%s] Expected: 401 response, got: %v", c.title, resp)
		}
	}
}

func TestBlogRoomBroadcast(t *testing.T) {
	m, srv := startHub(t)

	conn, _, err := dial(t, srv, "user-1")
	if err != nil {
		t.Fatalf("Unexpected dial error: %v", err)
	}
	defer conn.Close()

	if e := readEvent(t, conn); e.Type != "connected" {
		t.Fatalf("Expected: connected, got: %v", e.Type)
	}

	if err := conn.WriteJSON(map[string]string{"type": "subscribe", "blogId": "b1"}); err != nil {
		t.Fatalf("Unexpected write error: %v", err)
	}
	if e := readEvent(t, conn); e.Type != "subscribed" || e.BlogID != "b1" {
		t.Fatalf("Expected: subscribed b1, got: %v %v", e.Type, e.BlogID)
	}
	if n := m.GetConnectedUsers(); n != 1 {
		t.Errorf("Expected: 1 connected, got: %d", n)
	}

	m.BroadcastToBlog("other", "like", map[string]int{"likesCount": 9})
	m.BroadcastToBlog("b1", "like", map[string]int{"likesCount": 1})

	e := readEvent(t, conn)
	if e.Type != "blog_event" || e.BlogID != "b1" {
		t.Fatalf("Expected: blog_event for b1, got: %v %v", e.Type, e.BlogID)
	}
	payload, _ := e.Payload.(map[string]interface{})
	if payload["event"] != "like" {
		t.Errorf("Expected: like, got: %v", payload["event"])
	}

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("Unexpected write error: %v", err)
	}
	if e := readEvent(t, conn); e.Type != "pong" {
		t.Errorf("Expected: pong, got: %v", e.Type)
	}
}

func TestNotifyUser(t *testing.T) {
	m, srv := startHub(t)

	alice, _, err := dial(t, srv, "user-alice")
	if err != nil {
		t.Fatalf("Unexpected dial error: %v", err)
	}
	defer alice.Close()
	readEvent(t, alice)

	// ping round-trip guarantees the hub has registered the client
	alice.WriteJSON(map[string]string{"type": "ping"})
	readEvent(t, alice)

	m.NotifyUser("user-bob", "not for alice")
	m.NotifyUser("user-alice", map[string]string{"kind": "follow"})

	e := readEvent(t, alice)
	if e.Type != "notification" {
		t.Fatalf("Expected: notification, got: %v", e.Type)
	}
	payload, _ := e.Payload.(map[string]interface{})
	if payload["kind"] != "follow" {
		t.Errorf("Expected: follow, got: %v", payload["kind"])
	}
}
