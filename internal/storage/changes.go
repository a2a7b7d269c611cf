package storage

import (
	"context"
	"encoding/json"
	"time"

	"eve.evalgo.org/db"

	"evalgo.org/stratum/internal/notify"
	"evalgo.org/stratum/models"
)

// ChangeType represents the type of change that occurred.
type ChangeType string

const (
	ChangeTypeUpdated ChangeType = "updated"
	ChangeTypeDeleted ChangeType = "deleted"
)

// TaskChange is a change to a removal task document.
type TaskChange struct {
	Type     ChangeType
	Task     *models.RemovalTask
	Sequence string
}

// TaskChangeHandler handles removal task changes.
type TaskChangeHandler func(change TaskChange)

// WatchRemovalTasks listens for removal task changes until the feed
// closes or ctx is done. It blocks. Changes arriving after ctx is done are
// dropped; the underlying feed ends when the storage is closed.
func (s *Storage) WatchRemovalTasks(ctx context.Context, handler TaskChangeHandler) error {
	opts := db.ChangesFeedOptions{
		Since:       "now",
		Feed:        "continuous",
		IncludeDocs: true,
		Heartbeat:   30000, // 30 seconds
		Selector: map[string]interface{}{
			"@type": TypeRemovalTask,
		},
	}

	done := make(chan error, 1)
	go func() {
		done <- s.service.ListenChanges(opts, func(change db.Change) {
			if ctx.Err() != nil {
				return
			}
			if tc := processTaskChange(change); tc != nil {
				handler(*tc)
			}
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// processTaskChange converts a db.Change to a TaskChange.
func processTaskChange(change db.Change) *TaskChange {
	if change.Deleted {
		return &TaskChange{
			Type:     ChangeTypeDeleted,
			Task:     &models.RemovalTask{ID: change.ID},
			Sequence: change.Seq,
		}
	}

	var task models.RemovalTask
	if err := json.Unmarshal(change.Doc, &task); err != nil {
		return nil
	}
	return &TaskChange{
		Type:     ChangeTypeUpdated,
		Task:     &task,
		Sequence: change.Seq,
	}
}

// Reconnect delays of the changes feed.
const (
	minFeedBackoff = time.Second
	maxFeedBackoff = 30 * time.Second
)

// feedBackoff returns how long to wait before reconnecting a feed that ran
// for ran, and the delay to use after the next failure. A feed that stayed
// up longer than the current delay starts over at minFeedBackoff.
func feedBackoff(current, ran time.Duration) (wait, next time.Duration) {
	wait = current
	if ran > current {
		wait = minFeedBackoff
	}
	return wait, min(wait*2, maxFeedBackoff)
}

// ForwardTaskChanges feeds removal task updates from the changes feed into
// the broker, so subscribers also see tasks written by other instances. It
// reconnects with backoff until ctx is done.
func (s *Storage) ForwardTaskChanges(ctx context.Context, broker *notify.Broker) {
	backoff := minFeedBackoff
	for ctx.Err() == nil {
		started := time.Now()
		err := s.WatchRemovalTasks(ctx, func(change TaskChange) {
			if change.Type == ChangeTypeDeleted {
				return
			}
			broker.Publish(change.Task)
		})
		if ctx.Err() != nil {
			return
		}

		var wait time.Duration
		wait, backoff = feedBackoff(backoff, time.Since(started))
		s.log.Warn("removal task changes feed closed, reconnecting", "error", err, "backoff", wait)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}
