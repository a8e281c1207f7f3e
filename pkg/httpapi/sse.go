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
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/atelierhq/atelier/internal/log"
	"github.com/atelierhq/atelier/pkg/events"
)

const sseHeartbeatInterval = 15 * time.Second

func parseKinds(raw string) []events.Kind {
	if raw == "" {
		return nil
	}
	var kinds []events.Kind
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			kinds = append(kinds, events.Kind(part))
		}
	}
	return kinds
}

// handleEvents streams workflow events as server-sent events. The
// stream replays recent history by default (replay=false disables),
// filters by ?kinds=a,b, and ends after the final workflow_status
// event. A workflow that is already terminal yields exactly that final
// event.
func (s *Server) handleEvents(c *gin.Context) {
	id := c.Param("id")
	snap, err := s.engine.Status(id)
	if err != nil {
		failNotFound(c, err)
		return
	}

	c.Set("streaming", true)
	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return
	}

	if snap.Status.Terminal() {
		writeSSE(c, events.Event{
			Kind:       events.KindWorkflowStatus,
			WorkflowID: id,
			Status:     string(snap.Status),
			Reason:     snap.Reason,
			Timestamp:  time.Now().UTC(),
		})
		flusher.Flush()
		return
	}

	kinds := parseKinds(c.Query("kinds"))
	replay := c.DefaultQuery("replay", "true") != "false"
	sub, err := s.engine.Subscribe(id, kinds, replay)
	if err != nil {
		failNotFound(c, err)
		return
	}
	defer sub.Cancel()

	log.Debug("sse stream opened", zap.String("workflow_id", id))
	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case ev, open := <-sub.C:
			if !open {
				return
			}
			writeSSE(c, ev)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": ping\n\n")
			flusher.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}

func writeSSE(c *gin.Context, ev events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", ev.Kind, data)
}
