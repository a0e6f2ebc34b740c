package streaming

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/Milix-M/DeepReSearch/internal/expressions"
	"github.com/Milix-M/DeepReSearch/pkg/schema"
)

const defaultChannelBuffer = 64

// subscriber holds a channel and filter for a single subscriber.
type subscriber struct {
	ch     chan schema.ProgressEvent
	filter Filter
}

// MemoryHub is an in-memory Hub implementation using channels.
type MemoryHub struct {
	jq *expressions.GoJQEngine

	mu     sync.RWMutex
	subs   map[string]*subscriber
	closed bool
}

var _ Hub = (*MemoryHub)(nil)

// NewMemoryHub creates a new MemoryHub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		jq:   expressions.NewGoJQEngine(),
		subs: make(map[string]*subscriber),
	}
}

// Publish sends an event to all matching subscribers.
// Non-blocking: if a subscriber's channel is full the event is dropped.
func (h *MemoryHub) Publish(ctx context.Context, event schema.ProgressEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil
	}

	// The JSON form is only built when some subscriber filters by expression.
	var asMap map[string]any
	for _, sub := range h.subs {
		if !matchFilter(sub.filter, event) {
			continue
		}
		if sub.filter.Expression != "" {
			if asMap == nil {
				asMap = eventMap(event)
			}
			out, err := h.jq.Evaluate(ctx, sub.filter.Expression, asMap)
			if err != nil || !expressions.Truthy(out) {
				continue
			}
		}
		select {
		case sub.ch <- event:
		default:
			// backpressure: drop event for slow subscriber
		}
	}
	return nil
}

// Subscribe creates a new subscription. A malformed jq expression fails here
// rather than silently matching nothing at publish time.
func (h *MemoryHub) Subscribe(ctx context.Context, filter Filter) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if filter.Expression != "" {
		if _, err := h.jq.Evaluate(ctx, filter.Expression, eventMap(schema.ProgressEvent{})); err != nil {
			if schema.IsCode(err, schema.ErrCodeValidation) {
				return nil, err
			}
		}
	}

	id := uuid.NewString()
	ch := make(chan schema.ProgressEvent, defaultChannelBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, schema.NewError(schema.ErrCodeInternal, "event hub is closed")
	}
	h.subs[id] = &subscriber{ch: ch, filter: filter}

	return &Subscription{ID: id, Events: ch}, nil
}

// Unsubscribe removes the subscription and closes its channel. Unknown ids
// are a no-op.
func (h *MemoryHub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// Close shuts the hub down and closes every subscriber channel.
func (h *MemoryHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// matchFilter returns true if the event passes the thread and name criteria.
func matchFilter(f Filter, e schema.ProgressEvent) bool {
	if f.ThreadID != "" && f.ThreadID != e.ThreadID {
		return false
	}
	if len(f.Names) > 0 {
		found := false
		for _, n := range f.Names {
			if n == e.Name {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// eventMap renders the event through its JSON form for jq evaluation.
func eventMap(ev schema.ProgressEvent) map[string]any {
	raw, err := json.Marshal(ev)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}
