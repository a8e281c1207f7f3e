// Copyright 2026 Atelier Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atelierhq/atelier/internal/log"
)

const (
	// DefaultSubscriberBuffer is the per-subscriber channel capacity.
	DefaultSubscriberBuffer = 256

	// historyLimit bounds the replay buffer kept per workflow.
	historyLimit = 200
)

// Subscription is one subscriber's view of a workflow's event stream.
// Events arrive on C; the channel is closed when the workflow reaches a
// terminal state, the subscriber cancels, or the subscriber falls too
// far behind and is dropped.
type Subscription struct {
	C <-chan Event

	bus        *Bus
	workflowID string
	ch         chan Event
	kinds      map[Kind]bool
	once       sync.Once
}

// Cancel detaches the subscription and closes its channel.
func (s *Subscription) Cancel() {
	s.bus.unsubscribe(s)
}

func (s *Subscription) wants(kind Kind) bool {
	return len(s.kinds) == 0 || s.kinds[kind]
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

// Bus fans workflow events out to subscribers. Publication never blocks
// the caller: a subscriber whose buffer is full is dropped, and a
// warning event is published for the drop.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string][]*Subscription
	history map[string][]Event
	buffer  int

	// onDrop is invoked outside the bus lock when a subscriber is
	// dropped; used for metrics.
	onDrop func(workflowID string)
}

// NewBus creates an event bus. bufferSize <= 0 selects the default.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultSubscriberBuffer
	}
	return &Bus{
		subs:    make(map[string][]*Subscription),
		history: make(map[string][]Event),
		buffer:  bufferSize,
	}
}

// SetDropHandler registers a callback invoked when a slow subscriber is
// dropped. Must be called before the bus is in use.
func (b *Bus) SetDropHandler(fn func(workflowID string)) {
	b.onDrop = fn
}

// Subscribe attaches a subscriber to a workflow's event stream. When
// kinds is non-empty only those kinds are delivered. When replay is true
// the recent event history (bounded) is delivered first, in order.
func (b *Bus) Subscribe(workflowID string, kinds []Kind, replay bool) *Subscription {
	sub := &Subscription{
		bus:        b,
		workflowID: workflowID,
		ch:         make(chan Event, b.buffer),
	}
	sub.C = sub.ch
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}

	b.mu.Lock()
	if replay {
		for _, ev := range b.history[workflowID] {
			if sub.wants(ev.Kind) && len(sub.ch) < cap(sub.ch) {
				sub.ch <- ev
			}
		}
	}
	b.subs[workflowID] = append(b.subs[workflowID], sub)
	b.mu.Unlock()

	return sub
}

// Publish delivers an event to every subscriber of the workflow.
// In-order per subscriber; never blocks.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	var dropped []*Subscription

	b.mu.Lock()
	hist := append(b.history[ev.WorkflowID], ev)
	if len(hist) > historyLimit {
		hist = hist[len(hist)-historyLimit:]
	}
	b.history[ev.WorkflowID] = hist

	kept := b.subs[ev.WorkflowID][:0]
	for _, sub := range b.subs[ev.WorkflowID] {
		if !sub.wants(ev.Kind) {
			kept = append(kept, sub)
			continue
		}
		select {
		case sub.ch <- ev:
			kept = append(kept, sub)
		default:
			dropped = append(dropped, sub)
		}
	}
	b.subs[ev.WorkflowID] = kept
	b.mu.Unlock()

	for _, sub := range dropped {
		sub.close()
		log.Warn("event subscriber dropped",
			zap.String("workflow_id", ev.WorkflowID),
			zap.String("kind", string(ev.Kind)),
		)
		if b.onDrop != nil {
			b.onDrop(ev.WorkflowID)
		}
		b.Publish(Event{
			Kind:       KindWarning,
			WorkflowID: ev.WorkflowID,
			Code:       "subscriber_dropped",
			Detail:     "subscriber buffer overflow",
		})
	}
}

// CloseWorkflow closes all subscriptions for a workflow and releases its
// replay history. Called after the final workflow_status event.
func (b *Bus) CloseWorkflow(workflowID string) {
	b.mu.Lock()
	subs := b.subs[workflowID]
	delete(b.subs, workflowID)
	delete(b.history, workflowID)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

func (b *Bus) unsubscribe(target *Subscription) {
	b.mu.Lock()
	subs := b.subs[target.workflowID]
	for i, sub := range subs {
		if sub == target {
			b.subs[target.workflowID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
	target.close()
}
