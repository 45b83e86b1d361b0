package api

import (
	"github.com/roomsync-dev/roomsync/internal/model"
)

// FromRoomInfo converts a room summary to its API form.
func FromRoomInfo(info model.RoomInfo) APIRoom {
	return APIRoom{
		Room:         info.Room,
		Members:      info.Members,
		LogLen:       info.LogLen,
		Seq:          info.Seq,
		LastActivity: info.LastActivity,
	}
}

// RoomInfo converts an API room back to the internal summary.
func (r APIRoom) RoomInfo() model.RoomInfo {
	return model.RoomInfo{
		Room:         r.Room,
		Members:      r.Members,
		LogLen:       r.LogLen,
		Seq:          r.Seq,
		LastActivity: r.LastActivity,
	}
}
