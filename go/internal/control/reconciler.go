package control

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sparkwalk/walksync/go/internal/timer"
)

// Reconciler applies incoming control messages to the local timer engine on
// every client. Host-published state always wins over local follower state.
//
// Three classes of message are dropped without touching the engine:
//   - self echo: origin equals the local participant (the host hearing its
//     own broadcast back from the transport)
//   - rogue origin: origin is not the session host
//   - stale: emitted before the last applied message (transport re-delivery)
//
// Dropping by origin ID replaces the timed self-echo suppression window the
// source design used; there is no timing dependence left.
type Reconciler struct {
	sessionID uuid.UUID
	hostID    uuid.UUID
	localID   uuid.UUID
	engine    *timer.Engine

	mu          sync.Mutex
	lastApplied time.Time

	onResync func(ResyncRequest)
}

// NewReconciler creates a reconciler for one session.
func NewReconciler(sessionID, hostID, localID uuid.UUID, engine *timer.Engine) *Reconciler {
	return &Reconciler{
		sessionID: sessionID,
		hostID:    hostID,
		localID:   localID,
		engine:    engine,
	}
}

// OnResyncRequest registers a hook invoked when a resync request arrives on
// the control subject. The host wires this to re-publish its state; on
// followers it stays unset.
func (r *Reconciler) OnResyncRequest(fn func(ResyncRequest)) {
	r.onResync = fn
}

// Handle processes one raw message from the control subject. Malformed
// payloads are rejected and logged, never partially applied.
func (r *Reconciler) Handle(data []byte) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		log.Warn().Err(err).Str("session_id", r.sessionID.String()).Msg("malformed control message")
		return
	}

	switch env.Type {
	case MessageTypeControlState:
		var msg Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			log.Warn().Err(err).Str("session_id", r.sessionID.String()).Msg("malformed control state payload")
			return
		}
		r.apply(&msg)

	case MessageTypeResyncRequest:
		var req ResyncRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			log.Warn().Err(err).Str("session_id", r.sessionID.String()).Msg("malformed resync request")
			return
		}
		if req.RequestedBy == r.localID {
			return
		}
		if r.onResync != nil {
			r.onResync(req)
		}

	default:
		log.Warn().Str("type", string(env.Type)).Msg("unknown control message type")
	}
}

// apply overwrites the engine state with the message unless the message is
// invalid, a self echo, from a non-host origin, or stale.
func (r *Reconciler) apply(msg *Message) {
	if err := msg.Validate(); err != nil {
		log.Warn().Err(err).Str("session_id", r.sessionID.String()).Msg("invalid control message")
		return
	}
	if msg.SessionID != r.sessionID {
		return
	}
	if msg.OriginID == r.localID {
		return
	}
	if msg.OriginID != r.hostID {
		log.Warn().
			Str("session_id", r.sessionID.String()).
			Str("origin_id", msg.OriginID.String()).
			Msg("control message from non-host origin dropped")
		return
	}

	r.mu.Lock()
	if msg.EmittedAt.Before(r.lastApplied) {
		r.mu.Unlock()
		log.Debug().
			Str("session_id", r.sessionID.String()).
			Time("emitted_at", msg.EmittedAt).
			Time("last_applied", r.lastApplied).
			Msg("stale control message dropped")
		return
	}
	r.lastApplied = msg.EmittedAt
	r.mu.Unlock()

	r.engine.ApplyControl(msg.IsRunning, msg.CurrentIntervalIndex, msg.TimeRemainingSec)
	log.Debug().
		Str("session_id", r.sessionID.String()).
		Bool("is_running", msg.IsRunning).
		Uint32("interval_index", msg.CurrentIntervalIndex).
		Msg("control state applied")
}

// LastApplied returns the timestamp of the newest applied control message.
func (r *Reconciler) LastApplied() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastApplied
}
