package core

import (
	"sync"

	"github.com/dkeye/skillswap-relay/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomEntry is one room's member set. Each entry has its own lock so
// unrelated rooms never contend. A dead entry has been unlinked from the
// table and must not be written to.
type roomEntry struct {
	mu      sync.RWMutex
	members map[domain.ConnID]struct{}
	dead    bool
}

// MemberTable is a threadsafe in-memory RoomTable.
// It never touches transport resources.
type MemberTable struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*roomEntry
}

func NewMemberTable() *MemberTable {
	return &MemberTable{rooms: make(map[domain.RoomID]*roomEntry)}
}

func (t *MemberTable) lookup(room domain.RoomID) (*roomEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.rooms[room]
	return e, ok
}

func (t *MemberTable) getOrCreate(room domain.RoomID) *roomEntry {
	if e, ok := t.lookup(room); ok {
		return e
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.rooms[room]; ok {
		return e
	}
	e := &roomEntry{members: make(map[domain.ConnID]struct{})}
	t.rooms[room] = e
	log.Debug().Str("module", "core.rooms").Str("room", string(room)).Msg("room created")
	return e
}

func (t *MemberTable) Join(room domain.RoomID, sid domain.ConnID) bool {
	for {
		e := t.getOrCreate(room)
		e.mu.Lock()
		if e.dead {
			// Lost a race with collect; the next getOrCreate makes a fresh entry.
			e.mu.Unlock()
			continue
		}
		_, dup := e.members[sid]
		e.members[sid] = struct{}{}
		n := len(e.members)
		e.mu.Unlock()
		if !dup {
			log.Info().Str("module", "core.rooms").Str("room", string(room)).Str("sid", string(sid)).Int("members", n).Msg("member added")
		}
		return !dup
	}
}

func (t *MemberTable) Leave(room domain.RoomID, sid domain.ConnID) (bool, int) {
	e, ok := t.lookup(room)
	if !ok {
		return false, 0
	}
	e.mu.Lock()
	if e.dead {
		e.mu.Unlock()
		return false, 0
	}
	_, removed := e.members[sid]
	delete(e.members, sid)
	n := len(e.members)
	e.mu.Unlock()

	if removed {
		log.Info().Str("module", "core.rooms").Str("room", string(room)).Str("sid", string(sid)).Int("members", n).Msg("member removed")
	}
	if n == 0 {
		t.collect(room, e)
	}
	return removed, n
}

// collect unlinks e if it is still the live, empty entry for room.
func (t *MemberTable) collect(room domain.RoomID, e *roomEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead || len(e.members) > 0 || t.rooms[room] != e {
		return
	}
	e.dead = true
	delete(t.rooms, room)
	log.Debug().Str("module", "core.rooms").Str("room", string(room)).Msg("room removed")
}

func (t *MemberTable) Members(room domain.RoomID) []domain.ConnID {
	e, ok := t.lookup(room)
	if !ok {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.ConnID, 0, len(e.members))
	for sid := range e.members {
		out = append(out, sid)
	}
	return out
}

func (t *MemberTable) MemberCount(room domain.RoomID) int {
	e, ok := t.lookup(room)
	if !ok {
		return 0
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.members)
}

func (t *MemberTable) List() []domain.RoomInfo {
	t.mu.RLock()
	entries := make(map[domain.RoomID]*roomEntry, len(t.rooms))
	for id, e := range t.rooms {
		entries[id] = e
	}
	t.mu.RUnlock()

	out := make([]domain.RoomInfo, 0, len(entries))
	for id, e := range entries {
		e.mu.RLock()
		n := len(e.members)
		e.mu.RUnlock()
		if n == 0 {
			continue
		}
		out = append(out, domain.RoomInfo{ID: id, MemberCount: n})
	}
	return out
}

func (t *MemberTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rooms)
}
