package orch

import (
	"context"
	"errors"
	"sort"

	"github.com/dkeye/skillswap-relay/internal/app"
	"github.com/dkeye/skillswap-relay/internal/core"
	"github.com/dkeye/skillswap-relay/internal/domain"
	"github.com/dkeye/skillswap-relay/internal/metrics"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownConnection = errors.New("unknown connection")
	ErrMissingRoom       = errors.New("missing room id")
	ErrMalformedPayload  = errors.New("malformed payload")
	ErrUnknownEvent      = errors.New("unknown event")
	ErrEmptyRoom         = errors.New("room has no members")
	ErrNotMember         = errors.New("sender has not joined the room")
)

// Orchestrator wires the registry, membership table, relay and call tracker
// behind one typed-event entry point.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomTable
	Calls    *app.CallTracker
	Relay    *app.Relay
	Policy   app.Policy
	Metrics  *metrics.Relay
}

func New(reg *app.Registry, rooms core.RoomTable, calls *app.CallTracker, policy app.Policy, m *metrics.Relay) *Orchestrator {
	if policy == nil {
		policy = app.DropPolicy{}
	}
	o := &Orchestrator{
		Registry: reg,
		Rooms:    rooms,
		Calls:    calls,
		Relay:    app.NewRelay(reg, rooms, m),
		Policy:   policy,
		Metrics:  m,
	}
	calls.OnExpire(o.onInvitationExpired)
	calls.Admit(o.admitCallEvent)
	return o
}

// Register admits a new connection and greets it with its identity.
func (o *Orchestrator) Register(user domain.UserID, conn core.SignalConnection, cancel context.CancelFunc) domain.ConnID {
	sid := o.Registry.Register(user, conn, cancel)
	o.Metrics.Connected()
	if err := o.Relay.Send(sid, domain.EventConnected, domain.Peer{ConnID: sid, User: user}); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("welcome not delivered")
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("user", string(user)).Msg("connect")
	return sid
}

// Unregister runs the disconnect cascade: sid leaves every room it joined,
// remaining members get user-left, and any call sid took part in ends.
// Unknown ids are ignored.
func (o *Orchestrator) Unregister(sid domain.ConnID) {
	peer, rooms, ok := o.Registry.Unregister(sid)
	if !ok {
		return
	}
	o.Metrics.Disconnected()
	for _, room := range rooms {
		o.depart(peer, room, true)
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Int("rooms", len(rooms)).Msg("disconnect")
}

// RoomInfo is the diagnostic view of one room.
func (o *Orchestrator) RoomInfo(room domain.RoomID) domain.RoomInfo {
	return domain.RoomInfo{
		ID:          room,
		MemberCount: o.Rooms.MemberCount(room),
		CallState:   o.Calls.Session(room).State,
	}
}

// ListRooms returns every live room sorted by id.
func (o *Orchestrator) ListRooms() []domain.RoomInfo {
	rooms := o.Rooms.List()
	for i := range rooms {
		rooms[i].CallState = o.Calls.Session(rooms[i].ID).State
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms
}

// publish relays and applies the backpressure policy to slow recipients.
func (o *Orchestrator) publish(from domain.ConnID, room domain.RoomID, name domain.EventName, data any) app.PublishResult {
	res := o.Relay.Relay(from, room, name, data)
	o.applyPolicy(room, name, res)
	return res
}

// broadcast is publish without a sender to exclude.
func (o *Orchestrator) broadcast(room domain.RoomID, name domain.EventName, data any) app.PublishResult {
	res := o.Relay.Broadcast(room, name, data)
	o.applyPolicy(room, name, res)
	return res
}

func (o *Orchestrator) applyPolicy(room domain.RoomID, name domain.EventName, res app.PublishResult) {
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			log.Warn().Str("module", "orch").Str("sid", string(slow)).Str("room", string(room)).Msg("kicking slow consumer")
			o.Registry.Cancel(slow)
		case app.DropFrame, app.NoAction:
			log.Debug().Str("module", "orch").Str("sid", string(slow)).Str("event", string(name)).Msg("frame dropped for slow consumer")
		}
	}
}

// admitCallEvent runs under the room's call lock. Only members drive a
// room's call, so every participant is reached by the departure cascade
// and a room that empties can never gain a slot.
func (o *Orchestrator) admitCallEvent(room domain.RoomID, from domain.ConnID) error {
	if o.Rooms.MemberCount(room) == 0 {
		return ErrEmptyRoom
	}
	if !o.Registry.InRoom(from, room) {
		return ErrNotMember
	}
	return nil
}

func (o *Orchestrator) onInvitationExpired(room domain.RoomID, prev domain.CallSession) {
	o.broadcast(room, domain.EventCallCancelled, notice{
		Peer:   domain.Peer{ConnID: prev.Inviter},
		RoomID: room,
		Reason: "timeout",
	})
}
