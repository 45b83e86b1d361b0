package api

import "time"

// HealthResponse from GET /healthz
type HealthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Rooms         int    `json:"rooms"`
	Clients       int    `json:"clients"`
}

// RoomsResponse from GET /v1/rooms
type RoomsResponse struct {
	Rooms []APIRoom `json:"rooms"`
}

// RoomResponse from GET /v1/rooms/{room}
type RoomResponse struct {
	Room APIRoom `json:"room"`
}

// APIRoom represents an active room as reported by the relay.
type APIRoom struct {
	Room         string    `json:"room"`
	Members      int       `json:"members"`
	LogLen       int       `json:"log_len"`
	Seq          int64     `json:"seq"`
	LastActivity time.Time `json:"last_activity"`
}
