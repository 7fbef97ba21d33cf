package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sparkwalk/walksync/go/internal/transport"
)

// countingBus wraps the in-memory transport to count subscription churn.
type countingBus struct {
	*transport.Memory
	mu           sync.Mutex
	subscribed   int
	unsubscribed int
}

func newCountingBus() *countingBus {
	return &countingBus{Memory: transport.NewMemory()}
}

func (b *countingBus) Subscribe(subject string, h transport.Handler) (transport.Unsubscribe, error) {
	unsub, err := b.Memory.Subscribe(subject, h)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.subscribed++
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		b.unsubscribed++
		b.mu.Unlock()
		unsub()
	}, nil
}

func (b *countingBus) counts() (subscribed, unsubscribed int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribed, b.unsubscribed
}

func newTestClient(sessionID uuid.UUID, gw *Gateway, buffer int) *client {
	return &client{
		id:        uuid.New().String(),
		sessionID: sessionID,
		send:      make(chan []byte, buffer),
		gw:        gw,
	}
}

// wsPair returns a connected server/client websocket pair.
func wsPair(t *testing.T) (server, peer *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connCh <- conn
	}))
	t.Cleanup(srv.Close)

	peer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { peer.Close() })

	select {
	case server = <-connCh:
	case <-time.After(time.Second):
		t.Fatal("no server-side websocket connection")
	}
	t.Cleanup(func() { server.Close() })
	return server, peer
}

func TestAttachSharesSessionSubscriptions(t *testing.T) {
	bus := newCountingBus()
	gw := New(bus, DefaultConfig())
	sessionID := uuid.New()

	first := newTestClient(sessionID, gw, 8)
	second := newTestClient(sessionID, gw, 8)
	if err := gw.attach(first); err != nil {
		t.Fatal(err)
	}
	if err := gw.attach(second); err != nil {
		t.Fatal(err)
	}

	// One subscription per subject, shared by both clients.
	if subs, _ := bus.counts(); subs != 3 {
		t.Fatalf("subscriptions after two attaches = %d, want 3", subs)
	}

	other := newTestClient(uuid.New(), gw, 8)
	if err := gw.attach(other); err != nil {
		t.Fatal(err)
	}
	if subs, _ := bus.counts(); subs != 6 {
		t.Fatalf("subscriptions after second session = %d, want 6", subs)
	}
}

func TestDetachReleasesStreamsWithLastClient(t *testing.T) {
	bus := newCountingBus()
	gw := New(bus, DefaultConfig())
	sessionID := uuid.New()

	first := newTestClient(sessionID, gw, 8)
	second := newTestClient(sessionID, gw, 8)
	if err := gw.attach(first); err != nil {
		t.Fatal(err)
	}
	if err := gw.attach(second); err != nil {
		t.Fatal(err)
	}

	gw.detach(first)
	if _, unsubs := bus.counts(); unsubs != 0 {
		t.Fatalf("unsubscribes with a client still attached = %d, want 0", unsubs)
	}

	gw.detach(second)
	if _, unsubs := bus.counts(); unsubs != 3 {
		t.Fatalf("unsubscribes after last client left = %d, want 3", unsubs)
	}
	gw.mu.RLock()
	_, stillTracked := gw.sessions[sessionID]
	gw.mu.RUnlock()
	if stillTracked {
		t.Fatal("session pool kept after last client left")
	}

	// Detaching twice is harmless.
	gw.detach(second)
}

func TestFanOutDeliversEnvelopesToSessionClients(t *testing.T) {
	bus := newCountingBus()
	gw := New(bus, DefaultConfig())
	sessionID := uuid.New()

	attachedConn, _ := wsPair(t)
	foreignConn, _ := wsPair(t)
	attached := newTestClient(sessionID, gw, 8)
	attached.conn = attachedConn
	foreign := newTestClient(uuid.New(), gw, 8)
	foreign.conn = foreignConn
	if err := gw.attach(attached); err != nil {
		t.Fatal(err)
	}
	if err := gw.attach(foreign); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go gw.Run(ctx)

	if err := bus.Publish(ctx, transport.ChatSubject(sessionID), []byte(`{"text":"hi"}`)); err != nil {
		t.Fatal(err)
	}

	select {
	case data := <-attached.send:
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatal(err)
		}
		if ev.Kind != EventKindChat || ev.SessionID != sessionID {
			t.Fatalf("envelope = %+v", ev)
		}
		if string(ev.Data) != `{"text":"hi"}` {
			t.Fatalf("payload = %s", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("no event fanned out")
	}

	select {
	case data := <-foreign.send:
		t.Fatalf("client of another session received %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFanOutForceDetachesClientWithFullBuffer(t *testing.T) {
	bus := newCountingBus()
	gw := New(bus, DefaultConfig())
	sessionID := uuid.New()

	serverConn, _ := wsPair(t)
	slow := newTestClient(sessionID, gw, 0) // nothing draining, every send overflows
	slow.conn = serverConn
	healthy := newTestClient(sessionID, gw, 8)
	if err := gw.attach(slow); err != nil {
		t.Fatal(err)
	}
	if err := gw.attach(healthy); err != nil {
		t.Fatal(err)
	}

	gw.fanOut(Event{Kind: EventKindProgress, SessionID: sessionID, Data: json.RawMessage(`{}`)})

	gw.mu.RLock()
	pool := gw.sessions[sessionID]
	slowKept, healthyKept := pool.clients[slow], pool.clients[healthy]
	gw.mu.RUnlock()
	if slowKept {
		t.Fatal("client with full buffer still attached")
	}
	if !healthyKept {
		t.Fatal("healthy client dropped alongside the slow one")
	}
	if len(healthy.send) != 1 {
		t.Fatalf("healthy client received %d events, want 1", len(healthy.send))
	}
	// The slow client kept a subscriber behind, so streams stay live.
	if _, unsubs := bus.counts(); unsubs != 0 {
		t.Fatalf("unsubscribes = %d, want 0 while a client remains", unsubs)
	}
}

func TestRunShutdownClosesClientsAndStreams(t *testing.T) {
	bus := newCountingBus()
	gw := New(bus, DefaultConfig())
	sessionID := uuid.New()

	serverConn, peer := wsPair(t)
	c := newTestClient(sessionID, gw, 8)
	c.conn = serverConn
	if err := gw.attach(c); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		gw.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if _, unsubs := bus.counts(); unsubs != 3 {
		t.Fatalf("unsubscribes after shutdown = %d, want 3", unsubs)
	}
	if _, ok := <-c.send; ok {
		t.Fatal("client send channel left open after shutdown")
	}
	peer.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := peer.ReadMessage(); err == nil {
		t.Fatal("peer connection still open after shutdown")
	}
}

func TestHandlerRejectsBadSessionID(t *testing.T) {
	gw := New(newCountingBus(), DefaultConfig())
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	for _, query := range []string{"", "?session_id=", "?session_id=not-a-uuid"} {
		resp, err := http.Get(srv.URL + "/ws" + query)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("GET /ws%s status = %d, want %d", query, resp.StatusCode, http.StatusBadRequest)
		}
	}
}

func TestWebsocketClientReceivesPublishedEvents(t *testing.T) {
	bus := newCountingBus()
	gw := New(bus, DefaultConfig())
	sessionID := uuid.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go gw.Run(ctx)

	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?session_id=" + sessionID.String()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Attachment happens in the HTTP handler; wait for the subscriptions
	// before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if subs, _ := bus.counts(); subs == 3 {
			break
		}
		if !time.Now().Before(deadline) {
			t.Fatal("gateway never subscribed to session streams")
		}
		time.Sleep(2 * time.Millisecond)
	}

	if err := bus.Publish(ctx, transport.ControlSubject(sessionID), []byte(`{"type":"CONTROL_STATE"}`)); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Kind != EventKindControl || ev.SessionID != sessionID {
		t.Fatalf("envelope = %+v", ev)
	}
}
