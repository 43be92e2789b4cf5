package app

import (
	"errors"
	"sync"
	"time"

	"github.com/dkeye/skillswap-relay/internal/domain"
	"github.com/dkeye/skillswap-relay/internal/metrics"
	"github.com/rs/zerolog/log"
)

var (
	ErrOutOfState     = errors.New("event not legal in current call state")
	ErrNotParticipant = errors.New("sender may not drive this transition")
)

// Gated reports whether ev is sequenced by the call state machine.
func Gated(ev domain.EventName) bool {
	switch ev {
	case domain.EventCallInvitation,
		domain.EventCallAccepted,
		domain.EventCallDeclined,
		domain.EventCallCancelled,
		domain.EventCallOffer,
		domain.EventCallAnswer,
		domain.EventICECandidate,
		domain.EventEndCall:
		return true
	}
	return false
}

// Next computes the session that follows s when from sends ev.
//
//	idle    --invitation-->          ringing  (from becomes inviter)
//	ringing --accepted-->            active   (from must not be the inviter)
//	ringing --declined-->            idle     (from must not be the inviter)
//	ringing --cancelled-->           idle     (from must be the inviter)
//	active  --offer/answer/ice-->    active   (from must be a participant)
//	active  --end-call-->            idle     (from must be a participant)
func Next(s domain.CallSession, from domain.ConnID, ev domain.EventName) (domain.CallSession, error) {
	switch ev {
	case domain.EventCallInvitation:
		if s.State != domain.CallIdle {
			return s, ErrOutOfState
		}
		return domain.CallSession{State: domain.CallRinging, Inviter: from}, nil

	case domain.EventCallAccepted, domain.EventCallDeclined:
		if s.State != domain.CallRinging {
			return s, ErrOutOfState
		}
		if from == s.Inviter {
			return s, ErrNotParticipant
		}
		if ev == domain.EventCallDeclined {
			return domain.CallSession{State: domain.CallIdle}, nil
		}
		return domain.CallSession{State: domain.CallActive, Inviter: s.Inviter, Acceptor: from}, nil

	case domain.EventCallCancelled:
		if s.State != domain.CallRinging {
			return s, ErrOutOfState
		}
		if from != s.Inviter {
			return s, ErrNotParticipant
		}
		return domain.CallSession{State: domain.CallIdle}, nil

	case domain.EventCallOffer, domain.EventCallAnswer, domain.EventICECandidate:
		if s.State != domain.CallActive {
			return s, ErrOutOfState
		}
		if !s.Participant(from) {
			return s, ErrNotParticipant
		}
		return s, nil

	case domain.EventEndCall:
		if s.State != domain.CallActive {
			return s, ErrOutOfState
		}
		if !s.Participant(from) {
			return s, ErrNotParticipant
		}
		return domain.CallSession{State: domain.CallIdle}, nil
	}
	return s, ErrOutOfState
}

// Transition describes one accepted state change.
type Transition struct {
	Room domain.RoomID
	From domain.CallState
	To   domain.CallState
	Prev domain.CallSession
	Next domain.CallSession
}

type callSlot struct {
	mu      sync.Mutex
	session domain.CallSession
	gen     uint64
	timer   *time.Timer
	dead    bool
}

func (s *callSlot) reset() domain.CallSession {
	prev := s.session
	s.session = domain.CallSession{State: domain.CallIdle}
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	return prev
}

// CallTracker keeps one call state machine per room. Rooms never share a
// lock; a slot only exists while its room has a non-idle call or members.
type CallTracker struct {
	mu    sync.Mutex
	slots map[domain.RoomID]*callSlot

	ringTimeout time.Duration
	onExpire    func(room domain.RoomID, prev domain.CallSession)
	admit       func(room domain.RoomID, from domain.ConnID) error
	metrics     *metrics.Relay
}

// NewCallTracker builds a tracker. A zero ringTimeout keeps invitations
// ringing until they are answered, cancelled or a participant leaves.
func NewCallTracker(ringTimeout time.Duration, m *metrics.Relay) *CallTracker {
	return &CallTracker{
		slots:       make(map[domain.RoomID]*callSlot),
		ringTimeout: ringTimeout,
		metrics:     m,
	}
}

// OnExpire sets the hook run, under the room's lock, when an invitation
// times out.
func (t *CallTracker) OnExpire(fn func(room domain.RoomID, prev domain.CallSession)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onExpire = fn
}

// Admit sets the check run under the room's lock before any event is
// applied. A non-nil error rejects the event unchanged.
func (t *CallTracker) Admit(fn func(room domain.RoomID, from domain.ConnID) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.admit = fn
}

func (t *CallTracker) slot(room domain.RoomID, create bool) *callSlot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.slots[room]
	if !ok && create {
		s = &callSlot{session: domain.CallSession{State: domain.CallIdle}}
		t.slots[room] = s
	}
	return s
}

// lock returns the live slot for room, locked. It returns nil when no slot
// exists and create is false.
func (t *CallTracker) lock(room domain.RoomID, create bool) *callSlot {
	for {
		s := t.slot(room, create)
		if s == nil {
			return nil
		}
		s.mu.Lock()
		if !s.dead {
			return s
		}
		s.mu.Unlock()
	}
}

// Apply runs ev from sender against room's state machine. When the event is
// legal the state advances and deliver runs before the room's lock is
// released, so peers observe relayed events in transition order. Illegal
// events leave state untouched and deliver is not called. The Admit check, if
// set, runs first under the same lock.
func (t *CallTracker) Apply(room domain.RoomID, from domain.ConnID, ev domain.EventName, deliver func(Transition)) (Transition, error) {
	t.mu.Lock()
	admit := t.admit
	t.mu.Unlock()

	s := t.lock(room, ev == domain.EventCallInvitation)
	if s == nil {
		if admit != nil {
			if err := admit(room, from); err != nil {
				return Transition{}, err
			}
		}
		return Transition{}, ErrOutOfState
	}

	if admit != nil {
		if err := admit(room, from); err != nil {
			t.discardIdle(room, s)
			return Transition{}, err
		}
	}
	defer s.mu.Unlock()

	next, err := Next(s.session, from, ev)
	if err != nil {
		log.Info().
			Str("module", "app.calls").
			Str("room", string(room)).
			Str("sid", string(from)).
			Str("event", string(ev)).
			Str("state", string(s.session.State)).
			Err(err).
			Msg("call event rejected")
		return Transition{}, err
	}

	tr := Transition{Room: room, From: s.session.State, To: next.State, Prev: s.session, Next: next}
	if next.State == domain.CallIdle {
		s.reset()
	} else {
		s.session = next
	}
	if tr.From == domain.CallIdle && tr.To == domain.CallRinging {
		t.armRingTimer(room, s)
	}
	if tr.From == domain.CallRinging && tr.To == domain.CallActive && s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if tr.From != tr.To {
		t.metrics.Transition(string(tr.From), string(tr.To))
		log.Info().
			Str("module", "app.calls").
			Str("room", string(room)).
			Str("sid", string(from)).
			Str("event", string(ev)).
			Str("from", string(tr.From)).
			Str("to", string(tr.To)).
			Msg("call transition")
	}
	if deliver != nil {
		deliver(tr)
	}
	return tr, nil
}

// discardIdle unlocks s and unlinks it if its call is idle, so a rejected
// invitation never leaves a slot behind.
func (t *CallTracker) discardIdle(room domain.RoomID, s *callSlot) {
	idle := s.session.State == domain.CallIdle
	if idle {
		s.dead = true
	}
	s.mu.Unlock()
	if !idle {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.slots[room] == s {
		delete(t.slots, room)
	}
}

// armRingTimer must be called with s locked.
func (t *CallTracker) armRingTimer(room domain.RoomID, s *callSlot) {
	if t.ringTimeout <= 0 {
		return
	}
	gen := s.gen
	s.timer = time.AfterFunc(t.ringTimeout, func() { t.expire(room, s, gen) })
}

func (t *CallTracker) expire(room domain.RoomID, s *callSlot, gen uint64) {
	t.mu.Lock()
	hook := t.onExpire
	t.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead || s.gen != gen || s.session.State != domain.CallRinging {
		return
	}
	s.timer = nil
	prev := s.reset()
	t.metrics.Transition(string(domain.CallRinging), string(domain.CallIdle))
	log.Info().Str("module", "app.calls").Str("room", string(room)).Str("inviter", string(prev.Inviter)).Msg("invitation expired")
	if hook != nil {
		hook(room, prev)
	}
}

// Depart handles who leaving room with remaining members left behind. The
// call is forced back to idle when who took part in it, or when fewer than
// two members are left to hold it. notify runs under the room's lock with
// the session as it was before the reset.
func (t *CallTracker) Depart(room domain.RoomID, who domain.ConnID, remaining int, notify func(prev domain.CallSession)) bool {
	s := t.lock(room, false)
	if s == nil {
		return false
	}
	defer s.mu.Unlock()
	if s.session.State == domain.CallIdle {
		return false
	}
	if !s.session.Participant(who) && remaining >= 2 {
		return false
	}
	prev := s.reset()
	t.metrics.Transition(string(prev.State), string(domain.CallIdle))
	log.Info().
		Str("module", "app.calls").
		Str("room", string(room)).
		Str("sid", string(who)).
		Str("from", string(prev.State)).
		Int("remaining", remaining).
		Msg("call ended by departure")
	if notify != nil {
		notify(prev)
	}
	return true
}

// Session returns room's current call session.
func (t *CallTracker) Session(room domain.RoomID) domain.CallSession {
	s := t.lock(room, false)
	if s == nil {
		return domain.CallSession{State: domain.CallIdle}
	}
	defer s.mu.Unlock()
	return s.session
}

// Forget drops room's slot if its call is idle. Called once a room empties.
func (t *CallTracker) Forget(room domain.RoomID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.slots[room]
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.State != domain.CallIdle {
		return
	}
	s.dead = true
	delete(t.slots, room)
}

// Len is the number of rooms with a tracked call slot.
func (t *CallTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}
