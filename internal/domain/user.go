// Package domain contains entity without logic, just meta-data
package domain

const MaxIDLen = 128

// ConnID identifies one physical connection for its whole lifetime.
type ConnID string

// UserID is the caller identity supplied by the auth layer.
// It is informational only; routing is keyed by ConnID.
type UserID string

// Peer is how a connection is described to other room members.
type Peer struct {
	ConnID ConnID `json:"userId"`
	User   UserID `json:"user,omitempty"`
}
