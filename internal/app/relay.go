package app

import (
	"errors"

	"github.com/dkeye/skillswap-relay/internal/core"
	"github.com/dkeye/skillswap-relay/internal/domain"
	"github.com/dkeye/skillswap-relay/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Resolver turns a connection id into something frames can be pushed to.
type Resolver interface {
	Conn(sid domain.ConnID) (core.SignalConnection, bool)
}

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SentTo  int
	Skipped int
	Dropped []domain.ConnID
}

// Relay fans events out to the members of a room.
//
// Delivery is fire-and-forget: TrySend never blocks, so one pass over a room
// is bounded. Frames from one sender to one room reach each recipient in the
// order they were relayed because each connection's events are dispatched
// sequentially and every recipient has a single FIFO send queue.
type Relay struct {
	conns   Resolver
	rooms   core.RoomTable
	metrics *metrics.Relay
}

func NewRelay(conns Resolver, rooms core.RoomTable, m *metrics.Relay) *Relay {
	return &Relay{conns: conns, rooms: rooms, metrics: m}
}

// Relay delivers (name, data) to every member of room except from.
func (r *Relay) Relay(from domain.ConnID, room domain.RoomID, name domain.EventName, data any) PublishResult {
	frame, err := core.EncodeFrame(name, data)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Str("room", string(room)).Msg("encode frame")
		return PublishResult{}
	}
	res := PublishResult{}
	for _, sid := range r.rooms.Members(room) {
		if sid == from {
			continue
		}
		r.deliver(sid, frame, &res)
	}
	r.metrics.Delivered(string(name), res.SentTo)
	log.Debug().
		Str("module", "app.relay").
		Str("from", string(from)).
		Str("room", string(room)).
		Str("event", string(name)).
		Int("sent_to", res.SentTo).
		Int("skipped", res.Skipped).
		Int("dropped", len(res.Dropped)).
		Msg("relay result")
	return res
}

// Broadcast delivers to every member of room.
func (r *Relay) Broadcast(room domain.RoomID, name domain.EventName, data any) PublishResult {
	return r.Relay("", room, name, data)
}

// Send delivers directly to one connection.
func (r *Relay) Send(to domain.ConnID, name domain.EventName, data any) error {
	frame, err := core.EncodeFrame(name, data)
	if err != nil {
		return err
	}
	conn, ok := r.conns.Conn(to)
	if !ok {
		return core.ErrConnectionClosed
	}
	if err := conn.TrySend(frame); err != nil {
		return err
	}
	r.metrics.Delivered(string(name), 1)
	return nil
}

func (r *Relay) deliver(sid domain.ConnID, frame core.Frame, res *PublishResult) {
	conn, ok := r.conns.Conn(sid)
	if !ok {
		// Disconnected after the member snapshot was taken.
		res.Skipped++
		r.metrics.Drop(metrics.DropRecipientGone)
		return
	}
	err := conn.TrySend(frame)
	switch {
	case err == nil:
		res.SentTo++
	case errors.Is(err, core.ErrBackpressure):
		res.Dropped = append(res.Dropped, sid)
		r.metrics.Drop(metrics.DropBackpressure)
	default:
		res.Skipped++
		r.metrics.Drop(metrics.DropRecipientGone)
	}
}
