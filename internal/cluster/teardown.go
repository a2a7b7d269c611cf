package cluster

import (
	"context"
	"sync"

	"evalgo.org/stratum/models"
)

// TeardownStage tracks a delete request.
//
//	REQUESTED -> TASK_SUBMITTED -> TERMINAL -> DEPENDENT_CLEANUP -> DONE
//	REQUESTED -> DONE
type TeardownStage string

const (
	TeardownRequested        TeardownStage = "REQUESTED"
	TeardownTaskSubmitted    TeardownStage = "TASK_SUBMITTED"
	TeardownTerminal         TeardownStage = "TERMINAL"
	TeardownDependentCleanup TeardownStage = "DEPENDENT_CLEANUP"
	TeardownDone             TeardownStage = "DONE"
)

// Teardown observes an accepted delete request. Done is closed once the
// request reached DONE; Err is valid afterwards.
type Teardown struct {
	ClusterID string
	HostID    string

	mu        sync.Mutex
	taskID    string
	stage     TeardownStage
	taskStage models.TaskStage
	err       error
	done      chan struct{}
}

func newTeardown(clusterID, hostID string) *Teardown {
	return &Teardown{
		ClusterID: clusterID,
		HostID:    hostID,
		stage:     TeardownRequested,
		done:      make(chan struct{}),
	}
}

// Done is closed when the teardown finished, successfully or not.
func (t *Teardown) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the teardown finished or ctx ends. It returns the
// teardown error, or ctx.Err() if ctx ended first.
func (t *Teardown) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the teardown failure, if any.
func (t *Teardown) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Stage returns the current stage.
func (t *Teardown) Stage() TeardownStage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stage
}

// TaskID returns the removal task id, empty when no task was needed.
func (t *Teardown) TaskID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.taskID
}

// TaskStage returns the terminal stage the removal task ended in.
func (t *Teardown) TaskStage() models.TaskStage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.taskStage
}

func (t *Teardown) submitted(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.taskID = taskID
	t.stage = TeardownTaskSubmitted
}

func (t *Teardown) terminal(stage models.TaskStage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.taskStage = stage
	t.stage = TeardownTerminal
}

func (t *Teardown) advance(stage TeardownStage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stage = stage
}

func (t *Teardown) finish(err error) {
	t.mu.Lock()
	t.err = err
	t.stage = TeardownDone
	t.mu.Unlock()
	close(t.done)
}

// DeleteCluster deletes a cluster. Clusters whose hosts need teardown run
// a removal task first and delete the zone once the task is terminal; the
// returned Teardown reports when that happened.
func (o *Orchestrator) DeleteCluster(ctx context.Context, scope Scope, id string) (*Teardown, error) {
	z, err := o.zone(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	hosts, err := o.memberHosts(ctx, scope, z)
	if err != nil {
		return nil, err
	}

	t := newTeardown(z.ID, "")
	removed := func() {
		o.log.Info("cluster deleted", "cluster", z.ID)
		o.events.Publish(Event{Type: EventClusterRemoved, ClusterID: z.ID, TenantLinks: z.TenantLinks})
	}

	if len(hosts) == 0 || o.opts.SyntheticRemoval || !TypeOf(z).RequiresTeardown() {
		for _, h := range hosts {
			if err := o.hosts.DeleteHost(ctx, h.ID); err != nil && !isNotFound(err) {
				return nil, downstream(CodeDeleteFailed, "could not delete cluster", err)
			}
		}
		if err := o.deleteZone(ctx, z.ID); err != nil {
			return nil, downstream(CodeDeleteFailed, "could not delete cluster", err)
		}
		t.finish(nil)
		removed()
		return t, nil
	}

	ids := make([]string, len(hosts))
	for i, h := range hosts {
		ids[i] = h.ID
	}
	req := RemovalRequest{ZoneID: z.ID, HostIDs: ids, Project: scope.Project}
	cleanup := func(ctx context.Context) error {
		if err := o.deleteZone(ctx, z.ID); err != nil {
			return downstream(CodeDeleteFailed, "could not delete cluster", err)
		}
		removed()
		return nil
	}
	if err := o.startTeardown(ctx, t, req, cleanup); err != nil {
		return nil, downstream(CodeDeleteFailed, "could not delete cluster", err)
	}
	return t, nil
}

// startTeardown submits the removal task, subscribes to it and hands the
// subscription to a supervising goroutine.
func (o *Orchestrator) startTeardown(ctx context.Context, t *Teardown, req RemovalRequest, cleanup func(context.Context) error) error {
	task, err := o.removal.SubmitRemoval(ctx, req)
	if err != nil {
		return err
	}
	updates, unsubscribe, err := o.removal.Subscribe(ctx, task.ID)
	if err != nil {
		return err
	}
	t.submitted(task.ID)
	o.log.Debug("removal task submitted", "task", task.ID, "zone", req.ZoneID, "hosts", len(req.HostIDs))

	go o.supervise(context.WithoutCancel(ctx), t, task.ID, updates, unsubscribe, cleanup)
	return nil
}

// supervise waits for a terminal task stage, unsubscribes and runs the
// cleanup continuation. Every terminal stage leads to cleanup; a failed or
// cancelled task is logged. The whole chain is bounded by RemovalTimeout;
// on timeout the task is cancelled and the zone is kept.
func (o *Orchestrator) supervise(parent context.Context, t *Teardown, taskID string, updates <-chan *models.RemovalTask, unsubscribe func(), cleanup func(context.Context) error) {
	ctx, cancel := context.WithTimeout(parent, o.opts.RemovalTimeout)
	defer cancel()
	defer unsubscribe()

	for {
		select {
		case task, ok := <-updates:
			if !ok {
				t.finish(downstream(CodeDeleteFailed, "removal task subscription closed", nil))
				return
			}
			if !task.Stage.IsTerminal() {
				continue
			}
			unsubscribe()
			t.terminal(task.Stage)
			if task.Stage != models.TaskStageFinished {
				o.log.Warn("removal task did not finish, continuing with cleanup",
					"task", task.ID, "stage", task.Stage, "failure", task.Failure)
			}
			t.advance(TeardownDependentCleanup)
			t.finish(cleanup(ctx))
			return

		case <-ctx.Done():
			o.log.Error("removal task did not reach a terminal stage in time",
				"task", taskID, "cluster", t.ClusterID, "timeout", o.opts.RemovalTimeout)
			if _, err := o.removal.Cancel(parent, taskID); err != nil {
				o.log.Warn("could not cancel timed out removal task", "task", taskID, "error", err)
			}
			t.finish(&Error{
				Kind:    KindDownstream,
				Code:    CodeTeardownTimeout,
				Message: "removal task did not complete in time",
				Err:     ctx.Err(),
			})
			return
		}
	}
}
