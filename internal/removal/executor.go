// Package removal runs host removal tasks in the background.
//
// A task moves from RUNNING to exactly one of FINISHED, FAILED or
// CANCELLED. Every state change is persisted before it is published to
// the notify broker, so a subscriber that re-reads the store never sees
// an older stage than the one it was told about.
package removal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"evalgo.org/stratum/internal/cluster"
	"evalgo.org/stratum/internal/notify"
	"evalgo.org/stratum/models"
)

// TaskStore persists removal tasks.
type TaskStore interface {
	CreateRemovalTask(ctx context.Context, task *models.RemovalTask) error
	GetRemovalTask(ctx context.Context, id string) (*models.RemovalTask, error)
	UpdateRemovalTask(ctx context.Context, task *models.RemovalTask) error
	// ListRemovalTasks returns the tasks in a stage; empty means all.
	ListRemovalTasks(ctx context.Context, stage models.TaskStage) ([]*models.RemovalTask, error)
}

// HostRemover deletes host records.
type HostRemover interface {
	DeleteHost(ctx context.Context, id string) error
}

// Options tunes the executor.
type Options struct {
	Workers       int
	QueueSize     int
	SweepInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 30 * time.Second
	}
	return o
}

var _ cluster.RemovalService = (*Executor)(nil)

// Executor accepts removal requests and works them off with a fixed pool
// of workers. A periodic sweep re-queues RUNNING tasks that no worker
// holds, which also resumes tasks left over from a previous process.
type Executor struct {
	tasks  TaskStore
	hosts  HostRemover
	broker *notify.Broker
	log    *slog.Logger
	opts   Options

	queue chan string

	// stateMu serializes read-modify-write transitions of stored tasks.
	stateMu sync.Mutex

	mu sync.Mutex
	// pending holds queued or running task ids.
	pending map[string]bool
	// byHostSet maps a host set key to the task removing it.
	byHostSet map[string]string
	running   bool
	stop      chan struct{}
	wg        sync.WaitGroup
}

// New creates an executor. It does nothing until Start is called.
func New(tasks TaskStore, hosts HostRemover, broker *notify.Broker, logger *slog.Logger, opts Options) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if broker == nil {
		broker = notify.NewBroker()
	}
	opts = opts.withDefaults()
	return &Executor{
		tasks:     tasks,
		hosts:     hosts,
		broker:    broker,
		log:       logger.With("component", "removal"),
		opts:      opts,
		queue:     make(chan string, opts.QueueSize),
		pending:   make(map[string]bool),
		byHostSet: make(map[string]string),
	}
}

// Start launches the workers and the sweep loop.
func (e *Executor) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		e.log.Warn("removal executor already running")
		return
	}
	e.running = true
	e.stop = make(chan struct{})
	stop := e.stop
	e.mu.Unlock()

	for i := 0; i < e.opts.Workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx, stop)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.opts.SweepInterval)
		defer ticker.Stop()

		e.sweep(ctx)
		for {
			select {
			case <-ticker.C:
				e.sweep(ctx)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	e.log.Info("removal executor started", "workers", e.opts.Workers, "sweep_interval", e.opts.SweepInterval)
}

// Stop signals the workers and waits for them to return.
func (e *Executor) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stop)
	e.mu.Unlock()

	e.wg.Wait()
	e.log.Info("removal executor stopped")
}

// SubmitRemoval creates a task for the requested hosts. A request for a
// host set that already has a RUNNING task returns that task instead.
func (e *Executor) SubmitRemoval(ctx context.Context, req cluster.RemovalRequest) (*models.RemovalTask, error) {
	if len(req.HostIDs) == 0 {
		return nil, errors.New("removal request has no hosts")
	}
	key := models.HostSetKey(req.HostIDs)

	e.mu.Lock()
	defer e.mu.Unlock()

	if id, ok := e.byHostSet[key]; ok {
		existing, err := e.tasks.GetRemovalTask(ctx, id)
		if err == nil && !existing.Stage.IsTerminal() {
			e.log.Debug("reusing running removal task", "task", id, "hosts", key)
			return existing, nil
		}
		delete(e.byHostSet, key)
	}

	now := time.Now().UTC()
	task := &models.RemovalTask{
		Type:      "RemovalTask",
		ID:        models.GenerateID("removal"),
		ZoneID:    req.ZoneID,
		HostIDs:   append([]string(nil), req.HostIDs...),
		Stage:     models.TaskStageRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.Project != "" {
		task.TenantLinks = []string{req.Project}
	}
	if err := e.tasks.CreateRemovalTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create removal task: %w", err)
	}

	e.byHostSet[key] = task.ID
	e.enqueueLocked(task.ID)
	e.log.Info("removal task created", "task", task.ID, "zone", task.ZoneID, "hosts", len(task.HostIDs))
	return task.Clone(), nil
}

// Subscribe returns a channel of task updates. A task that is already
// terminal is delivered right away.
func (e *Executor) Subscribe(ctx context.Context, taskID string) (<-chan *models.RemovalTask, func(), error) {
	updates, cancel := e.broker.Subscribe(taskID)

	task, err := e.tasks.GetRemovalTask(ctx, taskID)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	if task.Stage.IsTerminal() {
		e.broker.Publish(task)
	}
	return updates, cancel, nil
}

// Cancel moves a RUNNING task to CANCELLED. Hosts already removed stay
// removed; a worker inside a host removal finishes that host and stops.
// A task that is already terminal is returned unchanged.
func (e *Executor) Cancel(ctx context.Context, taskID string) (*models.RemovalTask, error) {
	task, err := e.complete(ctx, taskID, models.TaskStageCancelled, "cancelled by request")
	if errors.Is(err, errTerminal) {
		return task, nil
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// errTerminal reports a transition attempted on a task that already ended.
var errTerminal = errors.New("removal task already terminal")

// transition re-reads the stored task, applies change and stores the
// result. A terminal stored task is returned with errTerminal and left
// untouched, so every task reaches exactly one terminal stage.
func (e *Executor) transition(ctx context.Context, id string, change func(*models.RemovalTask)) (*models.RemovalTask, error) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	task, err := e.tasks.GetRemovalTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Stage.IsTerminal() {
		return task, errTerminal
	}
	change(task)
	task.UpdatedAt = time.Now().UTC()
	if err := e.tasks.UpdateRemovalTask(ctx, task); err != nil {
		return nil, err
	}
	e.broker.Publish(task)
	return task, nil
}

// enqueueLocked must be called with e.mu held. A full queue leaves the
// task to the next sweep.
func (e *Executor) enqueueLocked(id string) {
	if e.pending[id] {
		return
	}
	select {
	case e.queue <- id:
		e.pending[id] = true
	default:
		e.log.Warn("removal queue full, task deferred to next sweep", "task", id)
	}
}

func (e *Executor) sweep(ctx context.Context) {
	tasks, err := e.tasks.ListRemovalTasks(ctx, models.TaskStageRunning)
	if err != nil {
		e.log.Error("failed to list running removal tasks", "error", err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range tasks {
		if _, ok := e.byHostSet[t.HostSetKey()]; !ok {
			e.byHostSet[t.HostSetKey()] = t.ID
		}
		e.enqueueLocked(t.ID)
	}
}

func (e *Executor) worker(ctx context.Context, stop <-chan struct{}) {
	defer e.wg.Done()
	for {
		select {
		case id := <-e.queue:
			e.run(ctx, id)
			e.mu.Lock()
			delete(e.pending, id)
			e.mu.Unlock()
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// run removes the task's hosts one by one, recording progress so a
// resumed task skips hosts already gone. The stored stage is checked
// around every host, so a cancelled task stops after the host in flight.
func (e *Executor) run(ctx context.Context, id string) {
	task, err := e.tasks.GetRemovalTask(ctx, id)
	if err != nil {
		e.log.Error("failed to load removal task", "task", id, "error", err)
		return
	}
	if task.Stage.IsTerminal() {
		e.release(task)
		return
	}

	done := make(map[string]bool, len(task.Processed))
	for _, h := range task.Processed {
		done[h] = true
	}

	for _, hostID := range task.HostIDs {
		if done[hostID] {
			continue
		}
		current, err := e.tasks.GetRemovalTask(ctx, id)
		if err == nil && current.Stage.IsTerminal() {
			e.stopped(current)
			return
		}

		if err := e.hosts.DeleteHost(ctx, hostID); err != nil && !errors.Is(err, cluster.ErrNotFound) {
			e.log.Error("failed to remove host", "task", id, "host", hostID, "error", err)
			if _, cerr := e.complete(ctx, id, models.TaskStageFailed, fmt.Sprintf("host %s: %v", hostID, err)); cerr != nil && !errors.Is(cerr, errTerminal) {
				e.log.Error("failed to record removal failure", "task", id, "error", cerr)
			}
			return
		}

		updated, err := e.transition(ctx, id, func(t *models.RemovalTask) {
			t.Processed = append(t.Processed, hostID)
		})
		if errors.Is(err, errTerminal) {
			e.stopped(updated)
			return
		}
		if err != nil {
			e.log.Warn("failed to record removal progress", "task", id, "error", err)
		}
		e.log.Debug("host removed", "task", id, "host", hostID)
	}

	if _, err := e.complete(ctx, id, models.TaskStageFinished, ""); err != nil {
		if errors.Is(err, errTerminal) {
			return
		}
		e.log.Error("failed to finish removal task", "task", id, "error", err)
	}
}

func (e *Executor) stopped(task *models.RemovalTask) {
	e.log.Info("removal task stopped", "task", task.ID, "stage", task.Stage)
	e.release(task)
}

// complete moves a RUNNING task to a terminal stage.
func (e *Executor) complete(ctx context.Context, id string, stage models.TaskStage, failure string) (*models.RemovalTask, error) {
	task, err := e.transition(ctx, id, func(t *models.RemovalTask) {
		now := time.Now().UTC()
		t.Stage = stage
		t.Failure = failure
		t.CompletedAt = &now
	})
	if task != nil {
		e.release(task)
	}
	if err != nil {
		return task, err
	}
	e.log.Info("removal task completed", "task", id, "stage", stage)
	return task, nil
}

func (e *Executor) release(task *models.RemovalTask) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := task.HostSetKey()
	if e.byHostSet[key] == task.ID {
		delete(e.byHostSet, key)
	}
}
