package orch

import (
	"github.com/dkeye/skillswap-relay/internal/domain"
	"github.com/rs/zerolog/log"
)

// Join adds sid to room. Joining twice is a no-op. With announce set the
// other members receive user-joined.
func (o *Orchestrator) Join(sid domain.ConnID, room domain.RoomID, announce bool) error {
	peer, ok := o.Registry.Peer(sid)
	if !ok {
		return ErrUnknownConnection
	}
	added := o.Rooms.Join(room, sid)
	if !o.Registry.AddRoom(sid, room) {
		// Disconnected in between; undo so the table and registry agree.
		if added {
			o.leaveTable(sid, room)
		}
		return ErrUnknownConnection
	}
	if !added {
		log.Debug().Str("module", "orch").Str("sid", string(sid)).Str("room", string(room)).Msg("already joined")
		return nil
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(room)).Msg("join")
	if announce {
		o.publish(sid, room, domain.EventUserJoined, notice{Peer: peer, RoomID: room})
	}
	return nil
}

// Leave removes sid from room. Leaving a room sid is not in is a no-op.
// With announce set the remaining members receive user-left.
func (o *Orchestrator) Leave(sid domain.ConnID, room domain.RoomID, announce bool) error {
	peer, ok := o.Registry.Peer(sid)
	if !ok {
		return ErrUnknownConnection
	}
	if !o.Registry.RemoveRoom(sid, room) {
		log.Debug().Str("module", "orch").Str("sid", string(sid)).Str("room", string(room)).Msg("leave of room not joined")
		return nil
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(room)).Msg("leave")
	o.depart(peer, room, announce)
	return nil
}

// depart removes peer from room's member set. A call peer took part in
// always ends with call-ended; user-left is sent only when announce is set.
// The registry side has already been updated by the caller.
func (o *Orchestrator) depart(peer domain.Peer, room domain.RoomID, announce bool) {
	sid := peer.ConnID
	remaining := o.Rooms.MemberCount(room)
	if removed, n := o.Rooms.Leave(room, sid); removed {
		remaining = n
	}
	o.Calls.Depart(room, sid, remaining, func(domain.CallSession) {
		o.publish(sid, room, domain.EventCallEnded, notice{Peer: peer, RoomID: room, Reason: "left"})
	})
	if announce && remaining > 0 {
		o.publish(sid, room, domain.EventUserLeft, notice{Peer: peer, RoomID: room})
	}
	if remaining == 0 {
		o.Calls.Forget(room)
	}
}

func (o *Orchestrator) leaveTable(sid domain.ConnID, room domain.RoomID) {
	if _, n := o.Rooms.Leave(room, sid); n == 0 {
		o.Calls.Forget(room)
	}
}
