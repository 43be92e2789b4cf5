package app

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/skillswap-relay/internal/domain"
)

func TestNext_TransitionTable(t *testing.T) {
	idle := domain.CallSession{State: domain.CallIdle}
	ringing := domain.CallSession{State: domain.CallRinging, Inviter: "a"}
	active := domain.CallSession{State: domain.CallActive, Inviter: "a", Acceptor: "b"}

	tests := []struct {
		name  string
		in    domain.CallSession
		from  domain.ConnID
		ev    domain.EventName
		state domain.CallState
		err   error
	}{
		{"invite from idle", idle, "a", domain.EventCallInvitation, domain.CallRinging, nil},
		{"invite while ringing", ringing, "b", domain.EventCallInvitation, "", ErrOutOfState},
		{"invite while active", active, "c", domain.EventCallInvitation, "", ErrOutOfState},
		{"accept by callee", ringing, "b", domain.EventCallAccepted, domain.CallActive, nil},
		{"accept by inviter", ringing, "a", domain.EventCallAccepted, "", ErrNotParticipant},
		{"accept while idle", idle, "b", domain.EventCallAccepted, "", ErrOutOfState},
		{"decline by callee", ringing, "b", domain.EventCallDeclined, domain.CallIdle, nil},
		{"decline by inviter", ringing, "a", domain.EventCallDeclined, "", ErrNotParticipant},
		{"cancel by inviter", ringing, "a", domain.EventCallCancelled, domain.CallIdle, nil},
		{"cancel by callee", ringing, "b", domain.EventCallCancelled, "", ErrNotParticipant},
		{"cancel while active", active, "a", domain.EventCallCancelled, "", ErrOutOfState},
		{"offer while active", active, "a", domain.EventCallOffer, domain.CallActive, nil},
		{"answer while active", active, "b", domain.EventCallAnswer, domain.CallActive, nil},
		{"ice from bystander", active, "c", domain.EventICECandidate, "", ErrNotParticipant},
		{"offer while ringing", ringing, "a", domain.EventCallOffer, "", ErrOutOfState},
		{"ice while idle", idle, "a", domain.EventICECandidate, "", ErrOutOfState},
		{"end by participant", active, "b", domain.EventEndCall, domain.CallIdle, nil},
		{"end by bystander", active, "c", domain.EventEndCall, "", ErrNotParticipant},
		{"end while idle", idle, "a", domain.EventEndCall, "", ErrOutOfState},
		{"ungated event", active, "a", domain.EventChatMessage, "", ErrOutOfState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Next(tt.in, tt.from, tt.ev)
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			if err != nil {
				if got != tt.in {
					t.Fatalf("rejected event changed session: %+v", got)
				}
				return
			}
			if got.State != tt.state {
				t.Fatalf("state = %s, want %s", got.State, tt.state)
			}
		})
	}
}

func TestNext_AcceptRecordsParticipants(t *testing.T) {
	s, _ := Next(domain.CallSession{State: domain.CallIdle}, "a", domain.EventCallInvitation)
	s, _ = Next(s, "b", domain.EventCallAccepted)
	if s.Inviter != "a" || s.Acceptor != "b" {
		t.Fatalf("session = %+v", s)
	}
	if !s.Participant("a") || !s.Participant("b") || s.Participant("c") {
		t.Fatal("participants not recorded")
	}
}

func TestCallTracker_DeliverRunsOnlyForLegalEvents(t *testing.T) {
	ct := NewCallTracker(0, nil)
	var delivered []domain.CallState
	deliver := func(tr Transition) { delivered = append(delivered, tr.To) }

	if _, err := ct.Apply("r", "a", domain.EventCallInvitation, deliver); err != nil {
		t.Fatal(err)
	}
	if _, err := ct.Apply("r", "b", domain.EventCallInvitation, deliver); !errors.Is(err, ErrOutOfState) {
		t.Fatalf("second invitation err = %v", err)
	}
	if _, err := ct.Apply("r", "b", domain.EventCallAccepted, deliver); err != nil {
		t.Fatal(err)
	}
	if _, err := ct.Apply("r", "b", domain.EventCallAccepted, deliver); !errors.Is(err, ErrOutOfState) {
		t.Fatalf("replayed accept err = %v", err)
	}
	if len(delivered) != 2 || delivered[0] != domain.CallRinging || delivered[1] != domain.CallActive {
		t.Fatalf("delivered = %v", delivered)
	}
	if ct.Session("r").State != domain.CallActive {
		t.Fatalf("state = %s", ct.Session("r").State)
	}
}

func TestCallTracker_NoSlotWithoutInvitation(t *testing.T) {
	ct := NewCallTracker(0, nil)
	if _, err := ct.Apply("r", "a", domain.EventCallOffer, nil); !errors.Is(err, ErrOutOfState) {
		t.Fatalf("err = %v", err)
	}
	if ct.Len() != 0 {
		t.Fatalf("Len = %d, want 0", ct.Len())
	}
}

func TestCallTracker_RoomsAreIndependent(t *testing.T) {
	ct := NewCallTracker(0, nil)
	ct.Apply("r1", "a", domain.EventCallInvitation, nil)
	if _, err := ct.Apply("r2", "c", domain.EventCallInvitation, nil); err != nil {
		t.Fatalf("invite in r2: %v", err)
	}
	ct.Apply("r1", "a", domain.EventCallCancelled, nil)
	if ct.Session("r2").State != domain.CallRinging {
		t.Fatal("r2 changed with r1")
	}
}

func TestCallTracker_DepartParticipantEndsCall(t *testing.T) {
	ct := NewCallTracker(0, nil)
	ct.Apply("r", "a", domain.EventCallInvitation, nil)
	ct.Apply("r", "b", domain.EventCallAccepted, nil)

	if ct.Depart("r", "c", 2, nil) {
		t.Fatal("bystander leaving a busy room should not end the call")
	}
	var prev domain.CallSession
	if !ct.Depart("r", "b", 2, func(p domain.CallSession) { prev = p }) {
		t.Fatal("participant departure should end the call")
	}
	if prev.State != domain.CallActive || prev.Acceptor != "b" {
		t.Fatalf("prev = %+v", prev)
	}
	if ct.Session("r").State != domain.CallIdle {
		t.Fatal("call not reset")
	}
	if ct.Depart("r", "a", 1, nil) {
		t.Fatal("idle room should not report a reset")
	}
}

func TestCallTracker_DepartBelowTwoMembersEndsCall(t *testing.T) {
	ct := NewCallTracker(0, nil)
	ct.Apply("r", "a", domain.EventCallInvitation, nil)
	if !ct.Depart("r", "c", 1, nil) {
		t.Fatal("ringing call with a single member left should reset")
	}
}

func TestCallTracker_ForgetKeepsBusySlots(t *testing.T) {
	ct := NewCallTracker(0, nil)
	ct.Apply("r", "a", domain.EventCallInvitation, nil)
	ct.Forget("r")
	if ct.Len() != 1 {
		t.Fatal("ringing slot forgotten")
	}
	ct.Apply("r", "a", domain.EventCallCancelled, nil)
	ct.Forget("r")
	if ct.Len() != 0 {
		t.Fatal("idle slot kept")
	}
	if _, err := ct.Apply("r", "a", domain.EventCallInvitation, nil); err != nil {
		t.Fatalf("fresh invitation after forget: %v", err)
	}
}

func TestCallTracker_RingTimeout(t *testing.T) {
	ct := NewCallTracker(20*time.Millisecond, nil)
	expired := make(chan domain.CallSession, 1)
	ct.OnExpire(func(_ domain.RoomID, prev domain.CallSession) { expired <- prev })

	ct.Apply("r", "a", domain.EventCallInvitation, nil)
	select {
	case prev := <-expired:
		if prev.Inviter != "a" || prev.State != domain.CallRinging {
			t.Fatalf("prev = %+v", prev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("invitation never expired")
	}
	if ct.Session("r").State != domain.CallIdle {
		t.Fatal("expired call not idle")
	}
}

func TestCallTracker_AcceptStopsRingTimer(t *testing.T) {
	ct := NewCallTracker(20*time.Millisecond, nil)
	var mu sync.Mutex
	fired := false
	ct.OnExpire(func(domain.RoomID, domain.CallSession) {
		mu.Lock()
		fired = true
		mu.Unlock()
	})
	ct.Apply("r", "a", domain.EventCallInvitation, nil)
	ct.Apply("r", "b", domain.EventCallAccepted, nil)
	time.Sleep(80 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if fired {
		t.Fatal("timer fired after accept")
	}
	if ct.Session("r").State != domain.CallActive {
		t.Fatal("active call was reset")
	}
}

func TestCallTracker_ConcurrentInvitationsOneWins(t *testing.T) {
	ct := NewCallTracker(0, nil)
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for _, id := range []domain.ConnID{"a", "b", "c", "d", "e", "f"} {
		wg.Add(1)
		go func(id domain.ConnID) {
			defer wg.Done()
			if _, err := ct.Apply("r", id, domain.EventCallInvitation, nil); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("%d invitations accepted, want 1", wins)
	}
}

func TestCallTracker_AdmitRejectsWithoutSlot(t *testing.T) {
	ct := NewCallTracker(0, nil)
	errOutsider := errors.New("outsider")
	ct.Admit(func(_ domain.RoomID, from domain.ConnID) error {
		if from == "x" {
			return errOutsider
		}
		return nil
	})

	if _, err := ct.Apply("r", "x", domain.EventCallInvitation, nil); !errors.Is(err, errOutsider) {
		t.Fatalf("err = %v", err)
	}
	if ct.Len() != 0 {
		t.Fatalf("Len = %d, want 0 after rejected invitation", ct.Len())
	}
	if _, err := ct.Apply("r", "x", domain.EventCallOffer, nil); !errors.Is(err, errOutsider) {
		t.Fatalf("err without slot = %v", err)
	}

	ct.Apply("r", "a", domain.EventCallInvitation, nil)
	if _, err := ct.Apply("r", "x", domain.EventCallAccepted, nil); !errors.Is(err, errOutsider) {
		t.Fatalf("accept err = %v", err)
	}
	if s := ct.Session("r"); s.State != domain.CallRinging || s.Inviter != "a" {
		t.Fatalf("session = %+v", s)
	}
	if ct.Len() != 1 {
		t.Fatal("busy slot discarded")
	}
}
