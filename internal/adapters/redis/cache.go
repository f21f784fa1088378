package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

// CapacitySnapshot is the read-side view of an event's seat state, cached so
// listing endpoints do not hit the event row for every request.
type CapacitySnapshot struct {
	SeatsAvailable    int `json:"seats_available"`
	CurrentWaitlisted int `json:"current_waitlisted"`
}

func (c *Cache) SetCapacity(ctx context.Context, eventID string, snap CapacitySnapshot, ttl time.Duration) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, "capacity:"+eventID, data, ttl).Err()
}

func (c *Cache) GetCapacity(ctx context.Context, eventID string) (*CapacitySnapshot, error) {
	val, err := c.client.Get(ctx, "capacity:"+eventID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap CapacitySnapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Cache) InvalidateCapacity(ctx context.Context, eventID string) error {
	return c.client.Del(ctx, "capacity:"+eventID).Err()
}
