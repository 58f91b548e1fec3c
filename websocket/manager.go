package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	maxMessage = 512
)

// Event is the envelope for every server-to-client message.
type Event struct {
	Type    string      `json:"type"`
	BlogID  string      `json:"blogId,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

type inbound struct {
	Type   string `json:"type"`
	BlogID string `json:"blogId"`
}

type control struct {
	client *Client
	kind   string
	blogID string
}

type delivery struct {
	blogID string
	userID string
	msg    []byte
}

// Manager owns all connections. Its maps are only touched by the Start loop.
type Manager struct {
	clients    map[*Client]bool
	rooms      map[string]map[*Client]bool
	users      map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	control    chan control
	broadcast  chan delivery
	done       chan struct{}
	count      int
	mu         sync.RWMutex
	log        *zap.Logger
}

type Client struct {
	conn    *websocket.Conn
	userID  string
	send    chan []byte
	manager *Manager
}

func NewManager(log *zap.Logger) *Manager {
	return &Manager{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		users:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		control:    make(chan control),
		broadcast:  make(chan delivery, 64),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Start runs the hub until ctx is cancelled, then closes every connection.
func (m *Manager) Start(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			for client := range m.clients {
				m.remove(client)
			}
			return

		case client := <-m.register:
			m.clients[client] = true
			addTo(m.users, client.userID, client)
			m.setCount(len(m.clients))
			m.log.Debug("websocket client registered", zap.String("user_id", client.userID), zap.Int("clients", len(m.clients)))

		case client := <-m.unregister:
			m.remove(client)

		case ctl := <-m.control:
			if !m.clients[ctl.client] {
				continue
			}
			switch ctl.kind {
			case "subscribe":
				addTo(m.rooms, ctl.blogID, ctl.client)
				m.deliver(ctl.client, mustEncode(Event{Type: "subscribed", BlogID: ctl.blogID}))
			case "unsubscribe":
				removeFrom(m.rooms, ctl.blogID, ctl.client)
				m.deliver(ctl.client, mustEncode(Event{Type: "unsubscribed", BlogID: ctl.blogID}))
			case "ping":
				m.deliver(ctl.client, mustEncode(Event{Type: "pong"}))
			}

		case d := <-m.broadcast:
			targets := m.rooms[d.blogID]
			if d.userID != "" {
				targets = m.users[d.userID]
			}
			for client := range targets {
				m.deliver(client, d.msg)
			}
		}
	}
}

// deliver drops a client whose buffer is full rather than block the hub.
func (m *Manager) deliver(client *Client, msg []byte) {
	select {
	case client.send <- msg:
	default:
		m.remove(client)
	}
}

func (m *Manager) remove(client *Client) {
	if _, ok := m.clients[client]; !ok {
		return
	}
	delete(m.clients, client)
	removeFrom(m.users, client.userID, client)
	for blogID := range m.rooms {
		removeFrom(m.rooms, blogID, client)
	}
	close(client.send)
	m.setCount(len(m.clients))
}

// BroadcastToBlog sends an event to every client subscribed to blogID.
func (m *Manager) BroadcastToBlog(blogID, eventType string, payload interface{}) {
	m.enqueue(delivery{
		blogID: blogID,
		msg:    mustEncode(Event{Type: "blog_event", BlogID: blogID, Payload: map[string]interface{}{"event": eventType, "data": payload}}),
	})
}

// NotifyUser sends a notification to every open connection of userID.
func (m *Manager) NotifyUser(userID string, payload interface{}) {
	m.enqueue(delivery{userID: userID, msg: mustEncode(Event{Type: "notification", Payload: payload})})
}

func (m *Manager) enqueue(d delivery) {
	select {
	case m.broadcast <- d:
	case <-m.done:
	default:
		m.log.Warn("websocket broadcast queue full, dropping event")
	}
}

func (m *Manager) GetConnectedUsers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.count
}

func (m *Manager) setCount(n int) {
	m.mu.Lock()
	m.count = n
	m.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// SetAllowedOrigins restricts the handshake to the given origins.
func SetAllowedOrigins(origins []string) {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	upgrader.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}

// Handler upgrades authenticated requests. authenticate maps the token query
// parameter to a user id.
func (m *Manager) Handler(authenticate func(token string) (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "Token required", http.StatusUnauthorized)
			return
		}
		userID, err := authenticate(token)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			m.log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			conn:    conn,
			userID:  userID,
			send:    make(chan []byte, 256),
			manager: m,
		}

		client.send <- mustEncode(Event{Type: "connected", Payload: map[string]interface{}{"userId": userID}})

		select {
		case m.register <- client:
		case <-m.done:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.manager.unregister <- c:
		case <-c.manager.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.manager.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		var in inbound
		if err := json.Unmarshal(message, &in); err != nil {
			continue
		}

		switch in.Type {
		case "subscribe", "unsubscribe":
			if in.BlogID == "" {
				continue
			}
		case "ping":
		default:
			continue
		}

		select {
		case c.manager.control <- control{client: c, kind: in.Type, blogID: in.BlogID}:
		case <-c.manager.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func addTo(index map[string]map[*Client]bool, key string, client *Client) {
	set, ok := index[key]
	if !ok {
		set = make(map[*Client]bool)
		index[key] = set
	}
	set[client] = true
}

func removeFrom(index map[string]map[*Client]bool, key string, client *Client) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(index, key)
	}
}

func mustEncode(e Event) []byte {
	b, err := json.Marshal(e)
	if err != nil {
		b, _ = json.Marshal(Event{Type: "error"})
	}
	return b
}
