package domain

import "encoding/json"

type EventName string

// Client -> relay.
const (
	EventJoinChat       EventName = "join-chat"
	EventLeaveChat      EventName = "leave-chat"
	EventNewMessage     EventName = "new-message"
	EventJoinCall       EventName = "join-call"
	EventLeaveCall      EventName = "leave-call"
	EventCallOffer      EventName = "call-offer"
	EventCallAnswer     EventName = "call-answer"
	EventICECandidate   EventName = "ice-candidate"
	EventEndCall        EventName = "end-call"
	EventChatMessage    EventName = "chat-message"
	EventCallInvitation EventName = "call-invitation"
	EventCallAccepted   EventName = "call-accepted"
	EventCallDeclined   EventName = "call-declined"
	EventCallCancelled  EventName = "call-cancelled"
	EventTest           EventName = "test-event"
	EventPing           EventName = "ping"
	EventWhoAmI         EventName = "whoami"
)

// Relay -> client.
const (
	EventConnected       EventName = "connected"
	EventMessageReceived EventName = "message-received"
	EventUserJoined      EventName = "user-joined"
	EventUserLeft        EventName = "user-left"
	EventCallEnded       EventName = "call-ended"
	EventPong            EventName = "pong"
)

// Event is one inbound (name, payload) pair as read off the wire.
type Event struct {
	Name EventName       `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Outbound is what gets pushed to a recipient.
type Outbound struct {
	Name EventName `json:"event"`
	Data any       `json:"data,omitempty"`
}
