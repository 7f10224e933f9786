package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zeusync/sensormap/internal/core/events/bus"
	"github.com/zeusync/sensormap/internal/core/observability/log"
	"github.com/zeusync/sensormap/internal/core/world"
	"github.com/zeusync/sensormap/pkg/generic"
)

type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	closed chan struct{}
	sub    bus.Subscription
}

// Hub streams contact events from the bus to websocket clients as JSON.
//
// Clients may narrow the stream with query parameters:
// kind=entering|leaving and listener=<entity uuid>.
type Hub struct {
	bus      bus.EventBus
	cfg      Config
	logger   log.Log
	upgrader websocket.Upgrader
	buffers  *generic.Pool[*bytes.Buffer]

	mu      sync.Mutex
	clients map[string]*client
	dropped atomic.Uint64
}

func NewHub(b bus.EventBus, cfg Config, logger log.Log) *Hub {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Hub{
		bus:    b,
		cfg:    cfg,
		logger: logger.With(log.String("component", "hub")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		buffers: generic.NewPool(func() *bytes.Buffer { return new(bytes.Buffer) }, (*bytes.Buffer).Reset),
		clients: make(map[string]*client),
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns the number of events dropped for slow clients.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	eventType, filters, err := parseStreamQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if h.Clients() >= h.cfg.MaxClients {
		h.logger.Warn("Maximum clients reached, rejecting connection",
			log.String("remote_addr", r.RemoteAddr),
			log.Int("max_clients", h.cfg.MaxClients))
		writeError(w, http.StatusServiceUnavailable, ErrMaxClientsReached)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied
		h.logger.Debug("Websocket upgrade failed", log.Error(err))
		return
	}

	c := &client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, h.cfg.ClientBuffer),
		closed: make(chan struct{}),
	}
	c.sub = h.bus.Subscribe(eventType, h.forward(c), filters...)
	h.mu.Lock()
	h.clients[c.id] = c
	total := len(h.clients)
	h.mu.Unlock()

	clientLogger := h.logger.With(log.String("client_id", c.id))
	clientLogger.Info("Client connected",
		log.String("remote_addr", r.RemoteAddr),
		log.String("event_type", eventType),
		log.Int("total_clients", total))

	go h.writePump(c, clientLogger)
	h.readPump(c)

	h.remove(c)
	clientLogger.Info("Client disconnected", log.Int("total_clients", h.Clients()))
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = c.conn.Close()
	}
}

func (h *Hub) remove(c *client) {
	c.sub.Cancel()
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.closed)
	}
	h.mu.Unlock()
	_ = c.conn.Close()
}

// forward encodes bus events for c. It never blocks the publisher: events for
// a client whose buffer is full are dropped.
func (h *Hub) forward(c *client) bus.EventHandler {
	return func(e bus.Event) error {
		buf := h.buffers.Get()
		defer h.buffers.Put(buf)
		if err := json.NewEncoder(buf).Encode(e.Data()); err != nil {
			return err
		}
		msg := bytes.Clone(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))

		select {
		case <-c.closed:
		case c.send <- msg:
		default:
			h.dropped.Add(1)
		}
		return nil
	}
}

func (h *Hub) writePump(c *client, logger log.Log) {
	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Debug("Failed to write event", log.Error(err))
				_ = c.conn.Close()
				return
			}
		}
	}
}

// readPump discards client messages until the connection fails.
func (h *Hub) readPump(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func parseStreamQuery(r *http.Request) (string, []bus.EventFilter, error) {
	q := r.URL.Query()
	eventType := bus.AnyType
	switch kind := q.Get("kind"); kind {
	case "":
	case "entering":
		eventType = world.TypeEntering
	case "leaving":
		eventType = world.TypeLeaving
	default:
		return "", nil, queryError("unknown kind %q", kind)
	}

	var filters []bus.EventFilter
	if s := q.Get("listener"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return "", nil, queryError("bad listener id %q", s)
		}
		filters = append(filters, func(e bus.Event) bool {
			c, ok := e.Data().(world.Contact)
			return ok && c.Listener == id
		})
	}
	return eventType, filters, nil
}
