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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversInOrder(t *testing.T) {
	bus := NewBus(16)
	sub := bus.Subscribe("wf-1", nil, false)

	for i := 0; i < 5; i++ {
		bus.Publish(Event{Kind: KindAgentMessage, WorkflowID: "wf-1", TurnIndex: i})
	}

	for i := 0; i < 5; i++ {
		ev := <-sub.C
		assert.Equal(t, i, ev.TurnIndex)
	}
}

func TestSubscribeKindFilter(t *testing.T) {
	bus := NewBus(16)
	sub := bus.Subscribe("wf-1", []Kind{KindWorkflowStatus}, false)

	bus.Publish(Event{Kind: KindAgentMessage, WorkflowID: "wf-1"})
	bus.Publish(Event{Kind: KindWorkflowStatus, WorkflowID: "wf-1", Status: "completed"})

	ev := <-sub.C
	assert.Equal(t, KindWorkflowStatus, ev.Kind)
	assert.Equal(t, "completed", ev.Status)
	assert.Empty(t, sub.C)
}

func TestSubscribeIsolatedPerWorkflow(t *testing.T) {
	bus := NewBus(16)
	sub := bus.Subscribe("wf-a", nil, false)

	bus.Publish(Event{Kind: KindAgentMessage, WorkflowID: "wf-b"})
	assert.Empty(t, sub.C)
}

func TestSubscribeReplay(t *testing.T) {
	bus := NewBus(16)
	bus.Publish(Event{Kind: KindTurnStarted, WorkflowID: "wf-1", TurnIndex: 0})
	bus.Publish(Event{Kind: KindAgentMessage, WorkflowID: "wf-1", TurnIndex: 0})

	sub := bus.Subscribe("wf-1", nil, true)
	require.Len(t, sub.C, 2)
	first := <-sub.C
	assert.Equal(t, KindTurnStarted, first.Kind)
}

func TestSlowSubscriberDropped(t *testing.T) {
	bus := NewBus(2)
	var dropped []string
	bus.SetDropHandler(func(id string) { dropped = append(dropped, id) })

	slow := bus.Subscribe("wf-1", nil, false)

	// Fill the slow subscriber's buffer, then overflow it.
	bus.Publish(Event{Kind: KindAgentMessage, WorkflowID: "wf-1", TurnIndex: 0})
	bus.Publish(Event{Kind: KindAgentMessage, WorkflowID: "wf-1", TurnIndex: 1})
	bus.Publish(Event{Kind: KindAgentMessage, WorkflowID: "wf-1", TurnIndex: 2})

	// The slow subscriber's channel is closed after its buffered events.
	<-slow.C
	<-slow.C
	_, open := <-slow.C
	assert.False(t, open)
	assert.Equal(t, []string{"wf-1"}, dropped)

	// The drop itself is surfaced as a warning in the history.
	kinds := make(map[Kind]int)
	replayed := bus.Subscribe("wf-1", []Kind{KindWarning}, true)
	for len(replayed.C) > 0 {
		kinds[(<-replayed.C).Kind]++
	}
	assert.Equal(t, 1, kinds[KindWarning])
}

func TestCloseWorkflowClosesSubscribers(t *testing.T) {
	bus := NewBus(16)
	sub := bus.Subscribe("wf-1", nil, false)

	bus.Publish(Event{Kind: KindWorkflowStatus, WorkflowID: "wf-1", Status: "completed"})
	bus.CloseWorkflow("wf-1")

	ev, open := <-sub.C
	require.True(t, open)
	assert.Equal(t, KindWorkflowStatus, ev.Kind)

	_, open = <-sub.C
	assert.False(t, open)

	// History is released; a late replay subscriber sees nothing.
	late := bus.Subscribe("wf-1", nil, true)
	assert.Empty(t, late.C)
}

func TestCancelDetaches(t *testing.T) {
	bus := NewBus(16)
	sub := bus.Subscribe("wf-1", nil, false)
	sub.Cancel()

	_, open := <-sub.C
	assert.False(t, open)

	// Publishing after cancel must not panic or deliver.
	bus.Publish(Event{Kind: KindAgentMessage, WorkflowID: "wf-1"})
}
