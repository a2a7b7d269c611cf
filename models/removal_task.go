package models

import (
	"sort"
	"strings"
	"time"
)

// TaskStage is the lifecycle stage of a removal task.
type TaskStage string

const (
	TaskStageRunning   TaskStage = "RUNNING"
	TaskStageFinished  TaskStage = "FINISHED"
	TaskStageFailed    TaskStage = "FAILED"
	TaskStageCancelled TaskStage = "CANCELLED"
)

// IsTerminal reports whether no further transitions can happen.
func (s TaskStage) IsTerminal() bool {
	return s == TaskStageFinished || s == TaskStageFailed || s == TaskStageCancelled
}

// RemovalTask removes a set of hosts asynchronously. Tasks move from
// RUNNING to exactly one terminal stage.
type RemovalTask struct {
	Context string `json:"@context,omitempty" jsonld:"@context"`
	Type    string `json:"@type,omitempty" jsonld:"@type"`
	ID      string `json:"@id" jsonld:"@id" couchdb:"_id"`
	Rev     string `json:"_rev,omitempty" couchdb:"_rev"`

	ZoneID  string    `json:"zoneId,omitempty"`
	HostIDs []string  `json:"hostIds"`
	Stage   TaskStage `json:"stage" couchdb:"index"`
	Failure string    `json:"failure,omitempty"`

	// Processed lists hosts already removed, so a resumed task skips them.
	Processed []string `json:"processed,omitempty"`

	TenantLinks []string   `json:"tenantLinks,omitempty"`
	CreatedAt   time.Time  `json:"dateCreated"`
	UpdatedAt   time.Time  `json:"dateModified"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// HostSetKey returns a canonical key for the task's host set.
func (t *RemovalTask) HostSetKey() string {
	return HostSetKey(t.HostIDs)
}

// Clone returns a deep copy of the task.
func (t *RemovalTask) Clone() *RemovalTask {
	if t == nil {
		return nil
	}
	c := *t
	c.HostIDs = append([]string(nil), t.HostIDs...)
	c.Processed = append([]string(nil), t.Processed...)
	c.TenantLinks = append([]string(nil), t.TenantLinks...)
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// HostSetKey builds an order-independent key for a set of host ids.
func HostSetKey(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
