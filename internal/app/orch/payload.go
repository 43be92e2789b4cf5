package orch

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dkeye/skillswap-relay/internal/domain"
)

// notice is the payload of relay-generated notifications
// (user-joined, user-left, call-ended, expired call-cancelled).
type notice struct {
	domain.Peer
	RoomID domain.RoomID `json:"roomId,omitempty"`
	Reason string        `json:"reason,omitempty"`
}

type roomPayload struct {
	RoomID  string          `json:"roomId"`
	ChatID  string          `json:"chatId"`
	Message json.RawMessage `json:"message"`
}

func (p roomPayload) room() domain.RoomID {
	if p.RoomID != "" {
		return domain.RoomID(p.RoomID)
	}
	return domain.RoomID(p.ChatID)
}

// roomOf extracts the room id from a membership event. The payload is either
// a bare JSON string or an object with roomId or chatId.
func roomOf(data json.RawMessage) (domain.RoomID, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return "", ErrMissingRoom
	}
	if data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return checkRoom(domain.RoomID(id))
	}
	p, err := decodeRoomPayload(data)
	if err != nil {
		return "", err
	}
	return checkRoom(p.room())
}

// decodeRoomPayload parses an object payload that must name a room.
func decodeRoomPayload(data json.RawMessage) (roomPayload, error) {
	var p roomPayload
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return p, ErrMalformedPayload
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if _, err := checkRoom(p.room()); err != nil {
		return p, err
	}
	return p, nil
}

func checkRoom(id domain.RoomID) (domain.RoomID, error) {
	if id == "" {
		return "", ErrMissingRoom
	}
	if len(id) > domain.MaxIDLen {
		return "", fmt.Errorf("%w: room id too long", ErrMalformedPayload)
	}
	return id, nil
}

func hasMessage(p roomPayload) bool {
	m := bytes.TrimSpace(p.Message)
	return len(m) > 0 && !bytes.Equal(m, []byte("null"))
}
