// Package notify relays trip change events between clients over Redis
// pub/sub. Every accepted trip row update publishes one event on the
// trip's channel; subscribers drop events whose origin is their own client
// id (echo suppression happens at the receiver).
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// ChangeEvent describes one accepted trip row update. Planner and Status
// are the full new documents for the field groups that changed; nil means
// the group was untouched.
type ChangeEvent struct {
	TripID    string          `json:"tripId"`
	Origin    string          `json:"origin"`
	Planner   json.RawMessage `json:"planner,omitempty"`
	Status    json.RawMessage `json:"status,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type Notifier struct {
	client *redis.Client
}

// New connects to Redis and verifies the connection.
func New(redisURL string) (*Notifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Notifier{client: client}, nil
}

// NewWithClient wraps an existing Redis client.
func NewWithClient(client *redis.Client) *Notifier {
	return &Notifier{client: client}
}

func channel(tripID string) string {
	return "trip:" + tripID
}

// Publish sends a change event on the trip's channel.
func (n *Notifier) Publish(ctx context.Context, event ChangeEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	if err := n.client.Publish(ctx, channel(event.TripID), raw).Err(); err != nil {
		return fmt.Errorf("publish change event: %w", err)
	}
	return nil
}

// Subscribe delivers change events for a trip until ctx is cancelled.
// Malformed payloads are logged and skipped.
func (n *Notifier) Subscribe(ctx context.Context, tripID string) (<-chan ChangeEvent, error) {
	sub := n.client.Subscribe(ctx, channel(tripID))
	// Force the subscription to be established before returning.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", channel(tripID), err)
	}

	out := make(chan ChangeEvent)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					log.Printf("notify: bad change event on %s: %v", msg.Channel, err)
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close releases the Redis connection.
func (n *Notifier) Close() error {
	return n.client.Close()
}

// Ping checks if Redis is reachable.
func (n *Notifier) Ping(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}
