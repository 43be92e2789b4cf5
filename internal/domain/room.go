package domain

// RoomID names a broadcast scope. Chat ids and call ids share this type; the
// relay never tells them apart.
type RoomID string

// RoomInfo is a read-only diagnostic view of a room.
type RoomInfo struct {
	ID          RoomID    `json:"id"`
	MemberCount int       `json:"memberCount"`
	CallState   CallState `json:"callState"`
}
