package cluster

// EventType names a cluster lifecycle event.
type EventType string

const (
	EventClusterCreated EventType = "cluster_created"
	EventClusterUpdated EventType = "cluster_updated"
	EventClusterRemoved EventType = "cluster_removed"
	EventHostAdded      EventType = "host_added"
	EventHostRemoved    EventType = "host_removed"
)

// Event is emitted after a lifecycle operation completes.
type Event struct {
	Type      EventType   `json:"type"`
	ClusterID string      `json:"clusterId"`
	HostID    string      `json:"hostId,omitempty"`
	Data      interface{} `json:"data,omitempty"`

	// TenantLinks are the projects of the cluster the event is about.
	TenantLinks []string `json:"-"`
}

// VisibleTo reports whether subscribers of project may see the event. An
// empty project sees every event.
func (e Event) VisibleTo(project string) bool {
	if project == "" {
		return true
	}
	for _, t := range e.TenantLinks {
		if t == project {
			return true
		}
	}
	return false
}

// EventSink receives lifecycle events. Implementations must not block.
type EventSink interface {
	Publish(Event)
}

type discardEvents struct{}

func (discardEvents) Publish(Event) {}
