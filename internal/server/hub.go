package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flywave/meshview/internal/scene"
)

// Event types pushed to the page.
const (
	EventStatus   = "status"
	EventNotice   = "notice"
	EventPanels   = "panels"
	EventDownload = "download"
	EventScene    = "scene"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 32
)

// Event is one websocket message.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

type statusEvent struct {
	Visible bool   `json:"visible"`
	Text    string `json:"text"`
}

type noticeEvent struct {
	Message string `json:"message"`
}

type downloadEvent struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

type cameraView struct {
	Fov      float32    `json:"fov"`
	Near     float32    `json:"near"`
	Far      float32    `json:"far"`
	Position [3]float32 `json:"position"`
	Target   [3]float32 `json:"target"`
}

type sceneEvent struct {
	Revision uint64     `json:"revision"`
	HasModel bool       `json:"hasModel"`
	Camera   cameraView `json:"camera"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans events out to every connected page.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]struct{}
	upgrader websocket.Upgrader
	logger   *slog.Logger

	// hello returns the events a page needs right after it connects.
	hello func(ctx context.Context) []Event
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Len is the number of connected pages.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues e for every client. A client whose queue is full misses
// the event.
func (h *Hub) Broadcast(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("marshal event", "type", e.Type, "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("websocket client too slow, event dropped", "type", e.Type)
		}
	}
}

// Notify implements viewer.Notifier.
func (h *Hub) Notify(msg string) {
	h.Broadcast(Event{Type: EventNotice, Data: noticeEvent{Message: msg}})
}

// SetStatus is installed as the status listener.
func (h *Hub) SetStatus(visible bool, text string) {
	h.Broadcast(Event{Type: EventStatus, Data: statusEvent{Visible: visible, Text: text}})
}

// ServeWS upgrades the request and keeps the connection until the page
// goes away. Incoming messages are ignored.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	if h.hello != nil {
		for _, e := range h.hello(r.Context()) {
			if data, err := json.Marshal(e); err == nil {
				c.send <- data
			}
		}
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "remote", r.RemoteAddr)

	done := make(chan struct{})
	go h.writePump(c, done)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	close(done)
	conn.Close()
	h.logger.Debug("websocket client disconnected", "remote", r.RemoteAddr)
}

// writePump is the only writer of c.conn.
func (h *Hub) writePump(c *client, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("websocket write failed", "error", err)
				c.conn.Close()
				return
			}
		}
	}
}

// Close drops every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
		c.conn.Close()
		delete(h.clients, c)
	}
}

// hubRenderer announces a new scene revision to the pages, which then
// refetch the model and draw it themselves.
type hubRenderer struct {
	hub      *Hub
	revision uint64
	sent     bool
	width    int
	height   int
}

func (r *hubRenderer) Render(s *scene.Scene, cam *scene.PerspectiveCamera) {
	if r.sent && s.Revision == r.revision {
		return
	}
	r.revision = s.Revision
	r.sent = true
	r.hub.Broadcast(Event{Type: EventScene, Data: newSceneEvent(s, cam)})
}

func (r *hubRenderer) SetSize(width, height int) {
	r.width, r.height = width, height
}

func newSceneEvent(s *scene.Scene, cam *scene.PerspectiveCamera) sceneEvent {
	return sceneEvent{
		Revision: s.Revision,
		HasModel: len(s.Root.Children) > 0,
		Camera: cameraView{
			Fov:      cam.Fov,
			Near:     cam.Near,
			Far:      cam.Far,
			Position: cam.Position,
			Target:   cam.Target,
		},
	}
}
