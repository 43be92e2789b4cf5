package orch

import (
	"errors"

	"github.com/dkeye/skillswap-relay/internal/app"
	"github.com/dkeye/skillswap-relay/internal/core"
	"github.com/dkeye/skillswap-relay/internal/domain"
	"github.com/dkeye/skillswap-relay/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Dispatch is the single entry point for client events. Every event does a
// bounded amount of in-memory work. A returned error means the event was
// dropped; it is logged and counted here and never reported to the sender.
func (o *Orchestrator) Dispatch(sid domain.ConnID, ev domain.Event) error {
	err := o.dispatch(sid, ev)
	if err != nil {
		o.dropped(sid, ev.Name, err)
	}
	return err
}

func (o *Orchestrator) dispatch(sid domain.ConnID, ev domain.Event) error {
	if !o.Registry.Has(sid) {
		return ErrUnknownConnection
	}
	if !known(ev.Name) {
		return ErrUnknownEvent
	}
	o.Metrics.Received(string(ev.Name))

	switch ev.Name {
	case domain.EventJoinChat, domain.EventJoinCall:
		room, err := roomOf(ev.Data)
		if err != nil {
			return err
		}
		return o.Join(sid, room, ev.Name == domain.EventJoinCall)

	case domain.EventLeaveChat, domain.EventLeaveCall:
		room, err := roomOf(ev.Data)
		if err != nil {
			return err
		}
		return o.Leave(sid, room, ev.Name == domain.EventLeaveCall)

	case domain.EventNewMessage:
		p, err := decodeRoomPayload(ev.Data)
		if err != nil {
			return err
		}
		if !hasMessage(p) {
			return ErrMalformedPayload
		}
		o.publish(sid, p.room(), domain.EventMessageReceived, p.Message)
		return nil

	case domain.EventChatMessage:
		p, err := decodeRoomPayload(ev.Data)
		if err != nil {
			return err
		}
		if !hasMessage(p) {
			return ErrMalformedPayload
		}
		o.publish(sid, p.room(), domain.EventChatMessage, p.Message)
		return nil

	case domain.EventTest:
		p, err := decodeRoomPayload(ev.Data)
		if err != nil {
			return err
		}
		o.publish(sid, p.room(), domain.EventTest, ev.Data)
		return nil

	case domain.EventPing:
		return o.Relay.Send(sid, domain.EventPong, nil)

	case domain.EventWhoAmI:
		return o.whoAmI(sid)
	}

	return o.callEvent(sid, ev)
}

// callEvent runs a call-signaling event through the room's state machine
// and relays it only when the transition is legal. The sender must have
// joined the room; see admitCallEvent.
func (o *Orchestrator) callEvent(sid domain.ConnID, ev domain.Event) error {
	p, err := decodeRoomPayload(ev.Data)
	if err != nil {
		return err
	}
	room := p.room()
	peer, _ := o.Registry.Peer(sid)

	_, err = o.Calls.Apply(room, sid, ev.Name, func(app.Transition) {
		if ev.Name == domain.EventEndCall {
			o.publish(sid, room, domain.EventCallEnded, notice{Peer: peer, RoomID: room})
			return
		}
		// Signaling payloads are opaque and go out verbatim.
		o.publish(sid, room, ev.Name, ev.Data)
	})
	return err
}

type whoAmI struct {
	domain.Peer
	Rooms []domain.RoomID `json:"rooms"`
}

func (o *Orchestrator) whoAmI(sid domain.ConnID) error {
	peer, ok := o.Registry.Peer(sid)
	if !ok {
		return ErrUnknownConnection
	}
	return o.Relay.Send(sid, domain.EventWhoAmI, whoAmI{Peer: peer, Rooms: o.Registry.RoomsOf(sid)})
}

func known(name domain.EventName) bool {
	switch name {
	case domain.EventJoinChat, domain.EventLeaveChat, domain.EventNewMessage,
		domain.EventJoinCall, domain.EventLeaveCall, domain.EventChatMessage,
		domain.EventTest, domain.EventPing, domain.EventWhoAmI:
		return true
	}
	return app.Gated(name)
}

func (o *Orchestrator) dropped(sid domain.ConnID, name domain.EventName, err error) {
	reason := metrics.DropMalformed
	switch {
	case errors.Is(err, ErrUnknownConnection):
		reason = metrics.DropUnknownConn
	case errors.Is(err, ErrUnknownEvent):
		reason = metrics.DropUnknownEvent
	case errors.Is(err, app.ErrOutOfState):
		reason = metrics.DropOutOfState
	case errors.Is(err, app.ErrNotParticipant):
		reason = metrics.DropNotAllowed
	case errors.Is(err, ErrEmptyRoom):
		reason = metrics.DropEmptyRoom
	case errors.Is(err, ErrNotMember):
		reason = metrics.DropNotMember
	case errors.Is(err, core.ErrBackpressure):
		reason = metrics.DropBackpressure
	case errors.Is(err, core.ErrConnectionClosed):
		reason = metrics.DropRecipientGone
	}
	o.Metrics.Drop(reason)
	log.Warn().
		Err(err).
		Str("module", "orch").
		Str("sid", string(sid)).
		Str("event", string(name)).
		Str("reason", reason).
		Msg("event dropped")
}
