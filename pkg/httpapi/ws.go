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
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/atelierhq/atelier/internal/log"
	"github.com/atelierhq/atelier/pkg/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// CORS policy is enforced by the router middleware.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebsocket streams workflow events over a websocket. Same
// semantics as the SSE endpoint: history replay, kinds filter, closed
// after the final workflow_status event.
func (s *Server) handleWebsocket(c *gin.Context) {
	id := c.Param("id")
	snap, err := s.engine.Status(id)
	if err != nil {
		failNotFound(c, err)
		return
	}

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c.Set("streaming", true)
	defer conn.Close()

	if snap.Status.Terminal() {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		conn.WriteJSON(events.Event{
			Kind:       events.KindWorkflowStatus,
			WorkflowID: id,
			Status:     string(snap.Status),
			Reason:     snap.Reason,
			Timestamp:  time.Now().UTC(),
		})
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
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

	// Read side only services control frames; any read error tears the
	// connection down.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case ev, open := <-sub.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !open {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
