package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sparkwalk/walksync/go/internal/transport"
)

// EventKind tags the fan-out stream a gateway event came from.
type EventKind string

const (
	EventKindControl  EventKind = "control"
	EventKindProgress EventKind = "progress"
	EventKindChat     EventKind = "chat"
)

// Event is the envelope pushed to attached UI clients.
type Event struct {
	Kind      EventKind       `json:"kind"`
	SessionID uuid.UUID       `json:"session_id"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Config holds websocket settings.
type Config struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConfig returns websocket settings suitable for browser clients.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// Gateway bridges the session's pub/sub subjects to websocket clients so a
// web UI can render the timer, roster and chat without speaking NATS. It is
// strictly read-only fan-out: control operations stay on the host client.
type Gateway struct {
	bus      transport.PubSub
	upgrader websocket.Upgrader
	config   Config

	mu       sync.RWMutex
	sessions map[uuid.UUID]*sessionPool

	broadcastCh chan Event
}

// sessionPool tracks the websocket clients and bus subscriptions for one
// session.
type sessionPool struct {
	clients map[*client]bool
	unsubs  []transport.Unsubscribe
}

type client struct {
	id        string
	sessionID uuid.UUID
	conn      *websocket.Conn
	send      chan []byte
	gw        *Gateway
}

// New creates a gateway over the given transport.
func New(bus transport.PubSub, config Config) *Gateway {
	return &Gateway{
		bus:    bus,
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		sessions:    make(map[uuid.UUID]*sessionPool),
		broadcastCh: make(chan Event, 256),
	}
}

// Run processes fan-out until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) {
	log.Info().Msg("gateway started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("gateway shutting down")
			g.closeAll()
			return
		case ev := <-g.broadcastCh:
			g.fanOut(ev)
		}
	}
}

// Handler returns the HTTP handler for websocket attachment. Clients connect
// to /ws?session_id=<uuid>.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.handleWS)
	return mux
}

func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.URL.Query().Get("session_id"))
	if err != nil {
		http.Error(w, "invalid session_id", http.StatusBadRequest)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{
		id:        uuid.New().String(),
		sessionID: sessionID,
		conn:      conn,
		send:      make(chan []byte, 64),
		gw:        g,
	}
	if err := g.attach(c); err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("attach to session streams failed")
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()

	log.Info().
		Str("client_id", c.id).
		Str("session_id", sessionID.String()).
		Msg("websocket client attached")
}

// attach registers the client and, for the first client of a session,
// subscribes the gateway to that session's subjects.
func (g *Gateway) attach(c *client) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	pool, ok := g.sessions[c.sessionID]
	if !ok {
		pool = &sessionPool{clients: make(map[*client]bool)}
		subjects := map[EventKind]string{
			EventKindControl:  transport.ControlSubject(c.sessionID),
			EventKindProgress: transport.ProgressSubject(c.sessionID),
			EventKindChat:     transport.ChatSubject(c.sessionID),
		}
		for kind, subject := range subjects {
			kind := kind
			sessionID := c.sessionID
			unsub, err := g.bus.Subscribe(subject, func(data []byte) {
				g.enqueue(Event{
					Kind:      kind,
					SessionID: sessionID,
					Timestamp: time.Now(),
					Data:      json.RawMessage(data),
				})
			})
			if err != nil {
				for _, u := range pool.unsubs {
					u()
				}
				return fmt.Errorf("subscribe %s: %w", subject, err)
			}
			pool.unsubs = append(pool.unsubs, unsub)
		}
		g.sessions[c.sessionID] = pool
	}
	pool.clients[c] = true
	return nil
}

// detach removes the client and drops the session's subscriptions when the
// last client leaves.
func (g *Gateway) detach(c *client) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pool, ok := g.sessions[c.sessionID]
	if !ok || !pool.clients[c] {
		return
	}
	delete(pool.clients, c)
	close(c.send)

	if len(pool.clients) == 0 {
		for _, unsub := range pool.unsubs {
			unsub()
		}
		delete(g.sessions, c.sessionID)
		log.Debug().Str("session_id", c.sessionID.String()).Msg("last client left; session streams released")
	}
}

func (g *Gateway) enqueue(ev Event) {
	select {
	case g.broadcastCh <- ev:
	default:
		log.Warn().Str("session_id", ev.SessionID.String()).Msg("gateway broadcast channel full, dropping event")
	}
}

func (g *Gateway) fanOut(ev Event) {
	g.mu.RLock()
	pool, ok := g.sessions[ev.SessionID]
	if !ok {
		g.mu.RUnlock()
		return
	}
	targets := make([]*client, 0, len(pool.clients))
	for c := range pool.clients {
		targets = append(targets, c)
	}
	g.mu.RUnlock()

	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("marshal gateway event")
		return
	}
	for _, c := range targets {
		select {
		case c.send <- data:
		default:
			log.Warn().Str("client_id", c.id).Msg("client send buffer full, closing")
			g.detach(c)
			c.conn.Close()
		}
	}
}

func (g *Gateway) closeAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for sessionID, pool := range g.sessions {
		for _, unsub := range pool.unsubs {
			unsub()
		}
		for c := range pool.clients {
			close(c.send)
			c.conn.Close()
		}
		delete(g.sessions, sessionID)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.gw.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.gw.config.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug().Err(err).Str("client_id", c.id).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.gw.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readPump() {
	defer func() {
		c.gw.detach(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.gw.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.gw.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.gw.config.ReadTimeout))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("client_id", c.id).Msg("unexpected websocket close")
			}
			return
		}
		// Gateway clients are read-only viewers; inbound frames are ignored.
		c.conn.SetReadDeadline(time.Now().Add(c.gw.config.ReadTimeout))
	}
}
