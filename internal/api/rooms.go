package api

import (
	"context"
	"fmt"
	"net/url"
)

// GetRooms fetches every active room.
func (c *Client) GetRooms(ctx context.Context) ([]APIRoom, error) {
	var resp RoomsResponse
	if err := c.get(ctx, "/v1/rooms", nil, &resp); err != nil {
		return nil, fmt.Errorf("get rooms: %w", err)
	}
	return resp.Rooms, nil
}

// GetRoom fetches a single active room by name.
func (c *Client) GetRoom(ctx context.Context, room string) (*APIRoom, error) {
	var resp RoomResponse
	if err := c.get(ctx, "/v1/rooms/"+url.PathEscape(room), nil, &resp); err != nil {
		return nil, fmt.Errorf("get room %s: %w", room, err)
	}
	return &resp.Room, nil
}
