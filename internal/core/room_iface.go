package core

import "github.com/dkeye/skillswap-relay/internal/domain"

// RoomTable maps a room id to its member connections.
// A room exists only while it has at least one member.
type RoomTable interface {
	// Join adds sid to room. It reports false if sid was already a member.
	Join(room domain.RoomID, sid domain.ConnID) bool
	// Leave removes sid from room and returns how many members remain.
	Leave(room domain.RoomID, sid domain.ConnID) (removed bool, remaining int)
	Members(room domain.RoomID) []domain.ConnID
	MemberCount(room domain.RoomID) int
	List() []domain.RoomInfo
	Len() int
}
