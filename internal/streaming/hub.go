// Package streaming fans sanitized progress events out to live subscribers:
// SSE handlers, WebSocket sessions, and the terminal client all consume the
// same hub.
package streaming

import (
	"context"

	"github.com/Milix-M/DeepReSearch/pkg/schema"
)

// Filter selects which progress events a subscriber receives.
// An optional jq expression runs against the event's JSON form; only truthy
// outputs pass. The expression is checked when the subscription is created.
type Filter struct {
	ThreadID   string   `json:"thread_id,omitempty"`
	Names      []string `json:"names,omitempty"`
	Expression string   `json:"expression,omitempty"`
}

// Subscription is a live event feed. The channel closes when the
// subscription is cancelled or the hub shuts down.
type Subscription struct {
	ID     string
	Events <-chan schema.ProgressEvent
}

// Hub provides pub/sub for progress events.
type Hub interface {
	Publish(ctx context.Context, event schema.ProgressEvent) error
	Subscribe(ctx context.Context, filter Filter) (*Subscription, error)
	Unsubscribe(id string)
	Close()
}
