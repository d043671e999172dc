package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub fans messages out to connections subscribed to a topic.
type Hub struct {
	topics map[string]map[*Connection]bool

	register   chan *Connection
	unregister chan *Connection

	broadcast chan *Message

	logger logrus.FieldLogger
	mu     sync.RWMutex
}

type Connection struct {
	ws     *websocket.Conn
	topics []string
	send   chan *Message
	hub    *Hub
}

type Message struct {
	Topic string      `json:"topic"`
	Type  string      `json:"type"`
	Data  interface{} `json:"data"`
}

func NewHub(logger logrus.FieldLogger) *Hub {
	return &Hub{
		topics:     make(map[string]map[*Connection]bool),
		register:   make(chan *Connection),
		unregister: make(chan *Connection),
		broadcast:  make(chan *Message, 256),
		logger:     logger,
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// close sockets outside the lock so the pumps can unregister
			h.mu.RLock()
			seen := map[*Connection]bool{}
			for _, m := range h.topics {
				for c := range m {
					seen[c] = true
				}
			}
			h.mu.RUnlock()

			for c := range seen {
				_ = c.ws.Close()
			}
			return

		case conn := <-h.register:
			h.mu.Lock()
			for _, topic := range conn.topics {
				if h.topics[topic] == nil {
					h.topics[topic] = make(map[*Connection]bool)
				}
				h.topics[topic][conn] = true
			}
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			h.remove(conn)
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.topics[message.Topic] {
				select {
				case conn.send <- message:
				default:
					h.remove(conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove drops conn from every topic and closes its send channel once.
// Callers hold h.mu.
func (h *Hub) remove(conn *Connection) {
	found := false
	for _, topic := range conn.topics {
		subs, ok := h.topics[topic]
		if !ok {
			continue
		}
		if _, exists := subs[conn]; exists {
			found = true
			delete(subs, conn)
		}
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
	if found {
		close(conn.send)
	}
}

// Subscribers returns the number of connections listening on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

func (h *Hub) Broadcast(topic string, message *Message) {
	message.Topic = topic
	select {
	case h.broadcast <- message:
	default:
		h.logger.WithField("topic", topic).Warn("hub broadcast channel is full, dropping message")
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request, topics []string) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	conn := &Connection{
		ws:     ws,
		topics: topics,
		send:   make(chan *Message, 256),
		hub:    h,
	}

	h.register <- conn

	go conn.writePump()
	go conn.readPump()
}

const (
	writeWait = 10 * time.Second

	pongWait = 60 * time.Second

	pingPeriod = (pongWait * 9) / 10
)

func (c *Connection) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.ws.Close()
	}()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.WithError(err).Warn("websocket read error")
			}
			break
		}
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.ws.WriteJSON(message); err != nil {
				c.hub.logger.WithError(err).Warn("websocket write error")
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
