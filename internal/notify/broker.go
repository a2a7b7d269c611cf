// Package notify fans out removal task state changes to subscribers.
//
// Every subscription holds at most one pending update. A newer state
// replaces an undelivered older one, so a slow subscriber always observes
// the latest stage and never blocks the publisher.
package notify

import (
	"sync"

	"evalgo.org/stratum/models"
)

// Broker delivers task updates keyed by task id.
type Broker struct {
	mu     sync.Mutex
	subs   map[string]map[uint64]chan *models.RemovalTask
	nextID uint64
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]map[uint64]chan *models.RemovalTask),
	}
}

// Subscribe registers interest in a task. The returned cancel function
// closes the channel; it is safe to call more than once.
func (b *Broker) Subscribe(taskID string) (<-chan *models.RemovalTask, func()) {
	ch := make(chan *models.RemovalTask, 1)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[taskID] == nil {
		b.subs[taskID] = make(map[uint64]chan *models.RemovalTask)
	}
	b.subs[taskID][id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if set, ok := b.subs[taskID]; ok {
				delete(set, id)
				if len(set) == 0 {
					delete(b.subs, taskID)
				}
			}
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers a copy of the task to every subscriber of its id.
func (b *Broker) Publish(task *models.RemovalTask) {
	if task == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs[task.ID] {
		update := task.Clone()
		select {
		case ch <- update:
			continue
		default:
		}
		// Drop the stale pending update and retry once.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- update:
		default:
		}
	}
}

// Subscribers returns the number of live subscriptions for a task.
func (b *Broker) Subscribers(taskID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[taskID])
}
