package core

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/skillswap-relay/internal/domain"
)

var (
	ErrBackpressure     = errors.New("backpressure")
	ErrConnectionClosed = errors.New("connection closed")
)

// Frame is one encoded outbound message.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
// TrySend never blocks.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// EncodeFrame renders an outbound event. json.RawMessage payloads pass
// through untouched.
func EncodeFrame(name domain.EventName, data any) (Frame, error) {
	b, err := json.Marshal(domain.Outbound{Name: name, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return b, nil
}
