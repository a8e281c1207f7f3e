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
package workflow

import "strings"

// rolePriority orders the fallback when the coordinator delegates
// without naming anyone: working roles first, then declared order.
var rolePriority = map[string]int{
	RoleCoder:  0,
	RoleTester: 1,
	RoleRunner: 2,
}

// Route decides where a turn's content goes next. It returns the
// recipient agent id, or "" when the content routes to no one and the
// loop should stop.
//
// Rules, first match wins:
//  1. a non-coordinator sender always reports back to the coordinator;
//  2. a coordinator that names another agent's role (or id) in its text
//     hands the full text to that agent;
//  3. otherwise the highest-priority agent that has not yet completed
//     receives the text;
//  4. no eligible agent means no recipient.
//
// A completed agent is never selected again, except in a single-agent
// workflow where there is no one else to pick.
func Route(w *Workflow, senderID, content string) string {
	coord := w.Coordinator()

	if senderID != coord {
		if coord != "" {
			return coord
		}
		return ""
	}

	if id := mentionedAgent(w, senderID, content); id != "" {
		return id
	}
	return fallbackAgent(w, senderID)
}

// mentionedAgent scans the coordinator's text for another agent's role
// or id, case-insensitive. When several agents share the mentioned role,
// the first in declared order wins.
func mentionedAgent(w *Workflow, senderID, content string) string {
	lowered := strings.ToLower(content)
	for _, id := range w.Order {
		if id == senderID || w.Completed[id] {
			continue
		}
		a := w.Agent[id]
		if a.Role != "" && strings.Contains(lowered, strings.ToLower(a.Role)) {
			return id
		}
		if strings.Contains(lowered, strings.ToLower(id)) {
			return id
		}
	}
	return ""
}

// fallbackAgent picks the next incomplete non-coordinator agent by role
// priority, then declared order.
func fallbackAgent(w *Workflow, senderID string) string {
	best := ""
	bestRank := 0
	for pos, id := range w.Order {
		if id == senderID || w.Completed[id] {
			continue
		}
		a := w.Agent[id]
		if a.Role == RoleCoordinator {
			continue
		}
		rank := len(rolePriority) + pos
		if p, ok := rolePriority[a.Role]; ok {
			rank = p
		}
		if best == "" || rank < bestRank {
			best, bestRank = id, rank
		}
	}
	return best
}
