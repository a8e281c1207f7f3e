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
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atelierhq/atelier/internal/log"
	"github.com/atelierhq/atelier/internal/metrics"
	"github.com/atelierhq/atelier/pkg/events"
	"github.com/atelierhq/atelier/pkg/llm/factory"
	"github.com/atelierhq/atelier/pkg/project"
	"github.com/atelierhq/atelier/pkg/publish"
	"github.com/atelierhq/atelier/pkg/types"
)

// Config tunes the engine. Zero values select the documented defaults.
type Config struct {
	TurnBudgetMultiplier int           // turns allowed per declared agent
	TurnBudgetMin        int           // floor of the turn budget
	TurnBudgetMax        int           // ceiling of the turn budget
	PerTurnTimeout       time.Duration // single provider call, all retries excluded
	WorkflowDeadline     time.Duration // whole-workflow wall clock limit
	RetryMaxAttempts     int
	RetryBackoffInitial  time.Duration
	RetryBackoffMax      time.Duration
	RetainTerminal       int // terminal workflows kept in memory
}

func (c Config) withDefaults() Config {
	if c.TurnBudgetMultiplier <= 0 {
		c.TurnBudgetMultiplier = 3
	}
	if c.TurnBudgetMin <= 0 {
		c.TurnBudgetMin = 6
	}
	if c.TurnBudgetMax <= 0 {
		c.TurnBudgetMax = 40
	}
	if c.PerTurnTimeout <= 0 {
		c.PerTurnTimeout = 180 * time.Second
	}
	if c.WorkflowDeadline <= 0 {
		c.WorkflowDeadline = 20 * time.Minute
	}
	if c.RetryMaxAttempts <= 0 {
		c.RetryMaxAttempts = 3
	}
	if c.RetryBackoffInitial <= 0 {
		c.RetryBackoffInitial = 500 * time.Millisecond
	}
	if c.RetryBackoffMax <= 0 {
		c.RetryBackoffMax = 8 * time.Second
	}
	if c.RetainTerminal <= 0 {
		c.RetainTerminal = 128
	}
	return c
}

// TurnBudget computes the turn limit for a workflow with n agents.
func (c Config) TurnBudget(n int) int {
	budget := c.TurnBudgetMultiplier * n
	if budget < c.TurnBudgetMin {
		budget = c.TurnBudgetMin
	}
	if budget > c.TurnBudgetMax {
		budget = c.TurnBudgetMax
	}
	return budget
}

// run is one live workflow plus its control surface.
type run struct {
	mu     sync.Mutex
	w      *Workflow
	proj   *project.Project
	budget int
	cancel context.CancelFunc
	done   chan struct{}
}

// Engine schedules workflows. One goroutine per running workflow; all
// shared state sits behind the engine mutex or the per-run mutex.
type Engine struct {
	cfg       Config
	factory   *factory.Factory
	store     *project.Store
	bus       *events.Bus
	publisher publish.Publisher
	catalog   *Catalog

	pubCreds    publish.Credentials
	hasPubCreds bool

	mu       sync.RWMutex
	running  map[string]*run
	terminal map[string]*run
	order    []string // terminal eviction order
}

// New creates an engine. publisher and catalog may be nil; publication
// and the durable run catalog are then disabled.
func New(cfg Config, f *factory.Factory, store *project.Store, bus *events.Bus, publisher publish.Publisher, catalog *Catalog) *Engine {
	return &Engine{
		cfg:       cfg.withDefaults(),
		factory:   f,
		store:     store,
		bus:       bus,
		publisher: publisher,
		catalog:   catalog,
		running:   make(map[string]*run),
		terminal:  make(map[string]*run),
	}
}

// SetPublishCredentials installs the default repository credentials used
// when a publish request carries none of its own.
func (e *Engine) SetPublishCredentials(creds publish.Credentials) {
	e.pubCreds = creds
	e.hasPubCreds = true
}

// Submit validates a request, registers the workflow, and starts its
// turn loop. With AwaitCompletion set it blocks until the workflow is
// terminal or ctx expires; otherwise it returns the pending snapshot
// immediately.
func (e *Engine) Submit(ctx context.Context, req Request) (*Snapshot, error) {
	if verr := e.validate(req); verr != nil {
		return nil, verr
	}

	w := &Workflow{
		ID:          uuid.NewString(),
		Task:        req.Task,
		Agent:       make(map[string]Agent, len(req.Agents)),
		Completed:   make(map[string]bool, len(req.Agents)),
		Transcripts: make(map[string][]types.Message, len(req.Agents)),
		Status:      StatusPending,
		StartedAt:   time.Now().UTC(),
	}
	for _, a := range req.Agents {
		w.Agent[a.ID] = a
		w.Order = append(w.Order, a.ID)
	}
	w.Edges = append(w.Edges, req.Edges...)

	deadline := e.cfg.WorkflowDeadline
	if req.DeadlineSeconds > 0 {
		d := time.Duration(req.DeadlineSeconds) * time.Second
		if d < deadline {
			deadline = d
		}
	}

	ctxRun, cancel := context.WithTimeout(context.Background(), deadline)
	r := &run{
		w:      w,
		budget: e.cfg.TurnBudget(len(req.Agents)),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	e.mu.Lock()
	e.running[w.ID] = r
	e.mu.Unlock()

	metrics.WorkflowsSubmitted.Inc()
	log.Info("workflow submitted",
		zap.String("workflow_id", w.ID),
		zap.Int("agents", len(req.Agents)),
		zap.Int("turn_budget", r.budget),
	)

	go e.execute(ctxRun, r)

	if req.AwaitCompletion {
		select {
		case <-r.done:
		case <-ctx.Done():
			return e.Status(w.ID)
		}
	}
	return e.Status(w.ID)
}

func (e *Engine) validate(req Request) *ValidationError {
	if req.Task == "" {
		return &ValidationError{Code: "invalid_request", Field: "task", Message: "task must not be empty"}
	}
	if len(req.Agents) == 0 {
		return &ValidationError{Code: "invalid_request", Field: "agents", Message: "at least one agent is required"}
	}

	seen := make(map[string]bool, len(req.Agents))
	coordinators := 0
	for i, a := range req.Agents {
		field := fmt.Sprintf("agents[%d]", i)
		if a.ID == "" {
			return &ValidationError{Code: "invalid_request", Field: field + ".id", Message: "agent id must not be empty"}
		}
		if seen[a.ID] {
			return &ValidationError{Code: "duplicate_agent", Field: field + ".id", Message: "agent id " + a.ID + " declared twice"}
		}
		seen[a.ID] = true
		if a.Role == "" {
			return &ValidationError{Code: "invalid_request", Field: field + ".role", Message: "agent role must not be empty"}
		}
		if a.Role == RoleCoordinator {
			coordinators++
		}
		if !e.factory.Known(a.Model) {
			return &ValidationError{Code: "unknown_model", Field: field + ".model", Message: "model " + a.Model + " is not in the registry"}
		}
	}
	if coordinators == 0 && len(req.Agents) > 1 {
		return &ValidationError{Code: "missing_coordinator", Field: "agents", Message: "multi-agent workflows require a coordinator"}
	}
	if coordinators > 1 {
		return &ValidationError{Code: "invalid_request", Field: "agents", Message: "at most one coordinator is allowed"}
	}
	for i, edge := range req.Edges {
		field := fmt.Sprintf("edges[%d]", i)
		if !seen[edge.From] {
			return &ValidationError{Code: "unknown_agent", Field: field + ".from", Message: "edge references undeclared agent " + edge.From}
		}
		if !seen[edge.To] {
			return &ValidationError{Code: "unknown_agent", Field: field + ".to", Message: "edge references undeclared agent " + edge.To}
		}
	}
	return nil
}

// Status returns a point-in-time snapshot. Running and retained
// workflows are served from memory; older ones fall back to the catalog.
func (e *Engine) Status(id string) (*Snapshot, error) {
	e.mu.RLock()
	r, ok := e.running[id]
	if !ok {
		r, ok = e.terminal[id]
	}
	e.mu.RUnlock()

	if ok {
		r.mu.Lock()
		defer r.mu.Unlock()
		return snapshotLocked(r), nil
	}
	if e.catalog != nil {
		return e.catalog.Get(id)
	}
	return nil, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
}

// List returns snapshots of the workflows the engine holds in memory
// together with catalogued terminal workflows, newest first.
func (e *Engine) List() []*Snapshot {
	e.mu.RLock()
	runs := make([]*run, 0, len(e.running)+len(e.terminal))
	for _, r := range e.running {
		runs = append(runs, r)
	}
	for _, r := range e.terminal {
		runs = append(runs, r)
	}
	e.mu.RUnlock()

	seen := make(map[string]bool, len(runs))
	snaps := make([]*Snapshot, 0, len(runs))
	for _, r := range runs {
		r.mu.Lock()
		snaps = append(snaps, snapshotLocked(r))
		r.mu.Unlock()
		seen[r.w.ID] = true
	}

	if e.catalog != nil {
		stored, err := e.catalog.List(0)
		if err != nil {
			log.Warn("catalog list failed", zap.Error(err))
		}
		for _, snap := range stored {
			if !seen[snap.ID] {
				snaps = append(snaps, snap)
			}
		}
	}

	for i := 1; i < len(snaps); i++ {
		for j := i; j > 0 && snaps[j].StartedAt.After(snaps[j-1].StartedAt); j-- {
			snaps[j], snaps[j-1] = snaps[j-1], snaps[j]
		}
	}
	return snaps
}

// Subscribe attaches to a workflow's event stream.
func (e *Engine) Subscribe(id string, kinds []events.Kind, replay bool) (*events.Subscription, error) {
	e.mu.RLock()
	_, running := e.running[id]
	_, retained := e.terminal[id]
	e.mu.RUnlock()
	if !running && !retained {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	return e.bus.Subscribe(id, kinds, replay), nil
}

// Cancel requests cooperative cancellation of a running workflow. The
// partially built project tree, if any, is kept.
func (e *Engine) Cancel(id string) error {
	e.mu.RLock()
	r, ok := e.running[id]
	e.mu.RUnlock()
	if !ok {
		e.mu.RLock()
		_, retained := e.terminal[id]
		e.mu.RUnlock()
		if retained {
			return fmt.Errorf("workflow %s: %w", id, ErrAlreadyTerminal)
		}
		return fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	r.cancel()
	return nil
}

// PublishProject pushes a completed workflow's project tree to the
// remote host. creds overrides the engine-level default when non-nil.
func (e *Engine) PublishProject(ctx context.Context, id, visibility string, creds *publish.Credentials) (*publish.Result, error) {
	if e.publisher == nil {
		return nil, fmt.Errorf("no publisher configured")
	}

	e.mu.RLock()
	r, ok := e.running[id]
	if !ok {
		r, ok = e.terminal[id]
	}
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}

	r.mu.Lock()
	status := r.w.Status
	projectName := r.w.ProjectName
	r.mu.Unlock()

	if status != StatusCompleted {
		return nil, fmt.Errorf("workflow %s is %s: %w", id, status, ErrNotCompleted)
	}
	if projectName == "" {
		return nil, fmt.Errorf("workflow %s produced no project files", id)
	}

	use := e.pubCreds
	if creds != nil {
		use = *creds
	} else if !e.hasPubCreds {
		return nil, fmt.Errorf("no repository credentials configured")
	}

	proj, err := e.store.Open(projectName)
	if err != nil {
		return nil, fmt.Errorf("open project: %w", err)
	}
	defer proj.Close()

	res, err := e.publisher.Publish(ctx, proj, use, visibility)
	if err != nil {
		metrics.PublishesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.PublishesTotal.WithLabelValues("ok").Inc()
	log.Info("project published",
		zap.String("workflow_id", id),
		zap.String("repository_url", res.RepositoryURL),
		zap.Int("files_pushed", res.FilesPushed),
	)
	return res, nil
}

// retire moves a run from running to the bounded terminal set.
func (e *Engine) retire(r *run) {
	e.mu.Lock()
	delete(e.running, r.w.ID)
	e.terminal[r.w.ID] = r
	e.order = append(e.order, r.w.ID)
	for len(e.order) > e.cfg.RetainTerminal {
		evict := e.order[0]
		e.order = e.order[1:]
		delete(e.terminal, evict)
	}
	e.mu.Unlock()
}

func snapshotLocked(r *run) *Snapshot {
	w := r.w
	snap := &Snapshot{
		ID:         w.ID,
		Task:       w.Task,
		Status:     w.Status,
		Reason:     w.Reason,
		Agents:     make(map[string]AgentStatus, len(w.Order)),
		Turns:      append([]Turn(nil), w.Turns...),
		ProjectRef: w.ProjectName,
		StartedAt:  w.StartedAt,
		TurnsTotal: len(w.Turns),
		TurnsLimit: r.budget,
	}
	for _, id := range w.Order {
		a := w.Agent[id]
		snap.Agents[id] = AgentStatus{Role: a.Role, Model: a.Model, Completed: w.Completed[id]}
	}
	if !w.FinishedAt.IsZero() {
		t := w.FinishedAt
		snap.FinishedAt = &t
	}
	return snap
}
