package api

import (
	"context"
	"fmt"
)

// GetHealth fetches the relay's health summary.
func (c *Client) GetHealth(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.get(ctx, "/healthz", nil, &resp); err != nil {
		return nil, fmt.Errorf("get health: %w", err)
	}
	return &resp, nil
}
