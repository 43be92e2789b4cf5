package app

import (
	"context"
	"sync"

	"github.com/dkeye/skillswap-relay/internal/core"
	"github.com/dkeye/skillswap-relay/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type connEntry struct {
	User   domain.UserID
	Conn   core.SignalConnection
	Cancel context.CancelFunc
	Rooms  map[domain.RoomID]struct{}
}

// Registry owns every live connection and the rooms each one joined.
// It is the only place a ConnID resolves to a deliverable handle.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.ConnID]*connEntry
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[domain.ConnID]*connEntry)}
}

// Register assigns a fresh identity to conn. cancel tears the connection
// down; it may be nil.
func (r *Registry) Register(user domain.UserID, conn core.SignalConnection, cancel context.CancelFunc) domain.ConnID {
	sid := domain.ConnID(uuid.NewString())
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[sid] = &connEntry{
		User:   user,
		Conn:   conn,
		Cancel: cancel,
		Rooms:  make(map[domain.RoomID]struct{}),
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("user", string(user)).Msg("registered connection")
	return sid
}

// Unregister forgets sid and returns the rooms it still belonged to.
// Unknown ids are a no-op: disconnect may race other cleanup.
func (r *Registry) Unregister(sid domain.ConnID) (domain.Peer, []domain.RoomID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[sid]
	if !ok {
		return domain.Peer{}, nil, false
	}
	delete(r.conns, sid)
	rooms := make([]domain.RoomID, 0, len(e.Rooms))
	for room := range e.Rooms {
		rooms = append(rooms, room)
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Int("rooms", len(rooms)).Msg("unregistered connection")
	return domain.Peer{ConnID: sid, User: e.User}, rooms, true
}

func (r *Registry) Has(sid domain.ConnID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[sid]
	return ok
}

func (r *Registry) Conn(sid domain.ConnID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[sid]; ok {
		return e.Conn, true
	}
	return nil, false
}

func (r *Registry) Peer(sid domain.ConnID) (domain.Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[sid]
	if !ok {
		return domain.Peer{}, false
	}
	return domain.Peer{ConnID: sid, User: e.User}, true
}

// AddRoom records that sid joined room. It reports false if sid is not
// registered.
func (r *Registry) AddRoom(sid domain.ConnID, room domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[sid]
	if !ok {
		return false
	}
	e.Rooms[room] = struct{}{}
	return true
}

// RemoveRoom reports whether room was recorded for sid.
func (r *Registry) RemoveRoom(sid domain.ConnID, room domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[sid]
	if !ok {
		return false
	}
	_, had := e.Rooms[room]
	delete(e.Rooms, room)
	return had
}

func (r *Registry) RoomsOf(sid domain.ConnID) []domain.RoomID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[sid]
	if !ok {
		return nil
	}
	out := make([]domain.RoomID, 0, len(e.Rooms))
	for room := range e.Rooms {
		out = append(out, room)
	}
	return out
}

func (r *Registry) InRoom(sid domain.ConnID, room domain.RoomID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[sid]
	if !ok {
		return false
	}
	_, in := e.Rooms[room]
	return in
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Cancel asks the transport to tear sid down. The disconnect cascade runs
// from the transport's read loop afterwards.
func (r *Registry) Cancel(sid domain.ConnID) bool {
	r.mu.RLock()
	e, ok := r.conns[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled connection")
	return true
}
