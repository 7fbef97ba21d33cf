package progress

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Record is the advisory progress of one participant, published by every
// client including the host. One logical record per participant: a fresh
// publish overwrites the prior one (last-write-wins by UpdatedAt).
//
// This feed is display-only. It must never drive a client's own timer.
type Record struct {
	SessionID             uuid.UUID `json:"session_id"`
	ParticipantID         uuid.UUID `json:"participant_id"`
	CurrentIntervalIndex  uint32    `json:"current_interval_index"`
	IntervalTimeRemaining uint32    `json:"interval_time_remaining"`
	IsPaused              bool      `json:"is_paused"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Validate rejects records missing required fields.
func (r *Record) Validate() error {
	if r.SessionID == uuid.Nil {
		return errors.New("progress record missing session id")
	}
	if r.ParticipantID == uuid.Nil {
		return errors.New("progress record missing participant id")
	}
	if r.UpdatedAt.IsZero() {
		return errors.New("progress record missing updated_at")
	}
	return nil
}

// RosterEntry is a roster row for display. Stale marks a participant whose
// record has not refreshed within the staleness window; it is never removed,
// since no explicit leave event exists.
type RosterEntry struct {
	Record
	Stale bool `json:"stale"`
}

// Aggregator maintains the roster of peer progress, updated incrementally
// per received record rather than by re-querying anything.
type Aggregator struct {
	sessionID  uuid.UUID
	clock      clockwork.Clock
	staleAfter time.Duration

	mu      sync.RWMutex
	records map[uuid.UUID]Record
}

// NewAggregator creates an empty roster. staleAfter should be roughly three
// times the publish cadence.
func NewAggregator(sessionID uuid.UUID, clock clockwork.Clock, staleAfter time.Duration) *Aggregator {
	return &Aggregator{
		sessionID:  sessionID,
		clock:      clock,
		staleAfter: staleAfter,
		records:    make(map[uuid.UUID]Record),
	}
}

// Handle processes one raw message from the progress subject.
func (a *Aggregator) Handle(data []byte) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		log.Warn().Err(err).Str("session_id", a.sessionID.String()).Msg("malformed progress record")
		return
	}
	a.Apply(rec)
}

// Apply merges a record into the roster, keeping the newer of the incoming
// and stored record for that participant.
func (a *Aggregator) Apply(rec Record) {
	if err := rec.Validate(); err != nil {
		log.Warn().Err(err).Msg("invalid progress record")
		return
	}
	if rec.SessionID != a.sessionID {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if prev, ok := a.records[rec.ParticipantID]; ok && rec.UpdatedAt.Before(prev.UpdatedAt) {
		return
	}
	a.records[rec.ParticipantID] = rec
}

// Roster returns a stable-ordered snapshot of every known participant's
// progress, with staleness marked against the aggregator's clock.
func (a *Aggregator) Roster() []RosterEntry {
	now := a.clock.Now()

	a.mu.RLock()
	defer a.mu.RUnlock()
	entries := make([]RosterEntry, 0, len(a.records))
	for _, rec := range a.records {
		entries = append(entries, RosterEntry{
			Record: rec,
			Stale:  now.Sub(rec.UpdatedAt) > a.staleAfter,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ParticipantID.String() < entries[j].ParticipantID.String()
	})
	return entries
}

// Get returns the stored record for a participant, if any.
func (a *Aggregator) Get(participantID uuid.UUID) (Record, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, ok := a.records[participantID]
	return rec, ok
}
