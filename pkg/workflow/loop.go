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

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/atelierhq/atelier/internal/log"
	"github.com/atelierhq/atelier/internal/metrics"
	"github.com/atelierhq/atelier/pkg/events"
	"github.com/atelierhq/atelier/pkg/extract"
	"github.com/atelierhq/atelier/pkg/llm"
	"github.com/atelierhq/atelier/pkg/types"
)

// execute runs the turn loop for one workflow. It is the only goroutine
// that mutates the workflow; every mutation happens under r.mu so status
// readers always see a consistent view.
func (e *Engine) execute(ctx context.Context, r *run) {
	defer r.cancel()
	w := r.w

	r.mu.Lock()
	w.Status = StatusRunning
	r.mu.Unlock()
	e.emitStatus(w.ID, StatusRunning, "")

	// Seed turn: the task text goes to the coordinator, or to the sole
	// agent of a single-agent workflow.
	root := w.Coordinator()
	if root == "" {
		root = w.Order[0]
	}
	e.bus.Publish(events.Event{
		Kind: events.KindTurnStarted, WorkflowID: w.ID,
		TurnIndex: 0, From: SenderSystem, To: root,
	})
	r.mu.Lock()
	w.Turns = append(w.Turns, Turn{
		Index: 0, From: SenderSystem, To: root,
		Content: w.Task, Timestamp: time.Now().UTC(),
	})
	w.Transcripts[root] = append(w.Transcripts[root], types.Message{
		Role: types.RoleUser, Content: w.Task, Timestamp: time.Now().UTC(),
	})
	r.mu.Unlock()
	e.bus.Publish(events.Event{
		Kind: events.KindAgentMessage, WorkflowID: w.ID,
		TurnIndex: 0, From: SenderSystem, To: root, Content: w.Task,
	})

	speaker := root
	for {
		r.mu.Lock()
		turnCount := len(w.Turns)
		r.mu.Unlock()

		if turnCount >= r.budget {
			e.finish(r, StatusCompleted, ReasonTurnBudgetExhausted)
			return
		}
		if ctx.Err() != nil {
			e.finishFromContext(r, ctx)
			return
		}

		agent := w.Agent[speaker]
		provider, err := e.factory.Provider(agent.Model)
		if err != nil {
			e.finish(r, StatusFailed, string(llm.KindOf(err)))
			return
		}

		e.bus.Publish(events.Event{
			Kind: events.KindTurnStarted, WorkflowID: w.ID,
			TurnIndex: turnCount, From: speaker,
		})

		r.mu.Lock()
		msgs := buildMessages(w, agent)
		r.mu.Unlock()

		started := time.Now()
		resp, err := e.callWithRetry(ctx, w.ID, speaker, provider, msgs)
		metrics.TurnDuration.Observe(time.Since(started).Seconds())
		if err != nil {
			if ctx.Err() != nil {
				e.finishFromContext(r, ctx)
				return
			}
			e.finish(r, StatusFailed, string(llm.KindOf(err)))
			return
		}
		content := resp.Content

		r.mu.Lock()
		turn := Turn{
			Index: len(w.Turns), From: speaker, To: SenderSystem,
			Content: content, Timestamp: time.Now().UTC(),
		}
		w.Turns = append(w.Turns, turn)
		MarkCompletion(w, speaker, content)

		done := Done(w)
		recipient := ""
		if !done {
			recipient = Route(w, speaker, content)
			if recipient == "" {
				done = true
			} else {
				w.Turns[len(w.Turns)-1].To = recipient
			}
		}

		w.Transcripts[speaker] = append(w.Transcripts[speaker], types.Message{
			Role: types.RoleAssistant, Content: content,
			AgentID: speaker, Timestamp: turn.Timestamp,
		})
		for _, succ := range successors(w, speaker, recipient) {
			w.Transcripts[succ] = append(w.Transcripts[succ], types.Message{
				Role: types.RoleUser, Content: content,
				AgentID: speaker, Timestamp: turn.Timestamp,
			})
		}
		turnIndex := turn.Index
		turnTo := w.Turns[len(w.Turns)-1].To
		r.mu.Unlock()

		written := e.persistArtifacts(r, speaker, turnIndex, content)
		if len(written) > 0 {
			r.mu.Lock()
			w.Turns[turnIndex].ArtifactsExtracted = written
			r.mu.Unlock()
		}

		e.bus.Publish(events.Event{
			Kind: events.KindAgentMessage, WorkflowID: w.ID,
			TurnIndex: turnIndex, From: speaker, To: turnTo, Content: content,
		})
		metrics.TurnsExecuted.Inc()

		if done {
			e.finish(r, StatusCompleted, "")
			return
		}
		speaker = recipient
	}
}

// buildMessages assembles the provider prompt for an agent: its system
// prompt, then either the full transcript or, with memory disabled,
// only the latest inbound message.
func buildMessages(w *Workflow, a Agent) []types.Message {
	hist := w.Transcripts[a.ID]
	msgs := make([]types.Message, 0, len(hist)+1)
	if p := promptFor(a); p != "" {
		msgs = append(msgs, types.Message{Role: types.RoleSystem, Content: p})
	}
	if a.Remembers() {
		return append(msgs, hist...)
	}
	for i := len(hist) - 1; i >= 0; i-- {
		if hist[i].Role == types.RoleUser {
			return append(msgs, hist[i])
		}
	}
	return msgs
}

// successors lists the transcripts that receive a turn's content: the
// routed recipient plus any declared edge successors of the sender.
func successors(w *Workflow, senderID, recipient string) []string {
	var out []string
	seen := map[string]bool{senderID: true}
	if recipient != "" && recipient != SenderSystem {
		out = append(out, recipient)
		seen[recipient] = true
	}
	for _, edge := range w.Edges {
		if edge.From != senderID || seen[edge.To] {
			continue
		}
		seen[edge.To] = true
		out = append(out, edge.To)
	}
	return out
}

// callWithRetry invokes the provider with the per-turn timeout, retrying
// transient failures with exponential backoff. Provider-supplied
// Retry-After overrides the backoff. Every failed attempt surfaces as a
// warning event.
func (e *Engine) callWithRetry(ctx context.Context, workflowID, agentID string, provider types.LLMProvider, msgs []types.Message) (*types.LLMResponse, error) {
	backoff := e.cfg.RetryBackoffInitial
	var lastErr error

	for attempt := 1; attempt <= e.cfg.RetryMaxAttempts; attempt++ {
		tctx, cancel := context.WithTimeout(ctx, e.cfg.PerTurnTimeout)
		resp, err := provider.Chat(tctx, msgs, types.Options{})
		cancel()
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err

		code := string(llm.KindOf(err))
		retryable := llm.Retryable(err)
		if errors.Is(err, context.DeadlineExceeded) {
			code = "turn_timeout"
			retryable = true
		}
		e.bus.Publish(events.Event{
			Kind: events.KindWarning, WorkflowID: workflowID,
			From: agentID, Code: code, Detail: err.Error(),
		})
		log.Warn("provider call failed",
			zap.String("workflow_id", workflowID),
			zap.String("agent_id", agentID),
			zap.Int("attempt", attempt),
			zap.String("kind", code),
			zap.Error(err),
		)
		if !retryable || attempt == e.cfg.RetryMaxAttempts {
			break
		}
		metrics.ProviderRetries.WithLabelValues(code).Inc()

		wait := backoff
		if ra := llm.RetryAfter(err); ra > 0 {
			wait = ra
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
		if backoff > e.cfg.RetryBackoffMax {
			backoff = e.cfg.RetryBackoffMax
		}
	}
	return nil, lastErr
}

// persistArtifacts extracts fenced code blocks from a turn and writes
// them into the workflow's project tree, opening it on first use. Write
// failures degrade to warnings; the turn itself proceeds.
func (e *Engine) persistArtifacts(r *run, agentID string, turnIndex int, content string) []string {
	artifacts := extract.Extract(content)
	if len(artifacts) == 0 {
		return nil
	}
	w := r.w

	r.mu.Lock()
	if r.proj == nil {
		proj, err := e.store.OpenOrCreate(w.ID, w.Task)
		if err != nil {
			r.mu.Unlock()
			e.warn(w.ID, agentID, "project_open_failed", err.Error())
			return nil
		}
		r.proj = proj
		w.ProjectName = proj.Name()
	}
	proj := r.proj
	r.mu.Unlock()

	var written []string
	for _, art := range artifacts {
		res, err := proj.Write(art.RelPath, art.Contents, art.Kind)
		if err != nil {
			e.warn(w.ID, agentID, "artifact_write_failed", art.RelPath+": "+err.Error())
			continue
		}
		written = append(written, res.RelPath)
		metrics.ArtifactsWritten.Inc()
		e.bus.Publish(events.Event{
			Kind: events.KindArtifactWritten, WorkflowID: w.ID,
			TurnIndex: turnIndex, From: agentID,
			RelPath: res.RelPath, ArtifactKind: string(art.Kind), Bytes: res.Bytes,
		})
	}
	return written
}

func (e *Engine) warn(workflowID, agentID, code, detail string) {
	e.bus.Publish(events.Event{
		Kind: events.KindWarning, WorkflowID: workflowID,
		From: agentID, Code: code, Detail: detail,
	})
	log.Warn("workflow warning",
		zap.String("workflow_id", workflowID),
		zap.String("code", code),
		zap.String("detail", detail),
	)
}

func (e *Engine) finishFromContext(r *run, ctx context.Context) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		e.finish(r, StatusFailed, ReasonDeadlineExceeded)
		return
	}
	e.finish(r, StatusCancelled, ReasonCancelled)
}

// finish drives the workflow to its terminal state: close the project
// handle, emit the final status event, persist to the catalog, release
// subscribers, and retire the run.
func (e *Engine) finish(r *run, status Status, reason string) {
	w := r.w

	r.mu.Lock()
	w.Status = status
	w.Reason = reason
	w.FinishedAt = time.Now().UTC()
	proj := r.proj
	r.proj = nil
	snap := snapshotLocked(r)
	r.mu.Unlock()

	if proj != nil {
		proj.Close()
	}

	e.emitStatus(w.ID, status, reason)
	metrics.WorkflowsFinished.WithLabelValues(string(status)).Inc()

	if e.catalog != nil {
		if err := e.catalog.Save(snap); err != nil {
			log.Error("catalog save failed",
				zap.String("workflow_id", w.ID), zap.Error(err))
		}
	}

	e.bus.CloseWorkflow(w.ID)
	e.retire(r)
	close(r.done)

	log.Info("workflow finished",
		zap.String("workflow_id", w.ID),
		zap.String("status", string(status)),
		zap.String("reason", reason),
		zap.Int("turns", snap.TurnsTotal),
	)
}

func (e *Engine) emitStatus(workflowID string, status Status, reason string) {
	e.bus.Publish(events.Event{
		Kind: events.KindWorkflowStatus, WorkflowID: workflowID,
		Status: string(status), Reason: reason,
	})
}
