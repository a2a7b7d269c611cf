package cluster

import (
	"context"

	"evalgo.org/stratum/internal/query"
	"evalgo.org/stratum/models"
)

// ZoneFilter narrows a zone listing.
type ZoneFilter struct {
	// Project restricts the result to zones carrying the project in their tenant links.
	Project string
	Where   query.Filter
}

// ZonePatch describes a partial zone update. A nil property value removes
// the key.
type ZonePatch struct {
	Name       *string
	Properties map[string]*string
}

// ZoneStore persists placement zones.
type ZoneStore interface {
	CreateZone(ctx context.Context, zone *models.PlacementZone) error
	GetZone(ctx context.Context, id string) (*models.PlacementZone, error)
	ListZones(ctx context.Context, filter ZoneFilter) ([]*models.PlacementZone, error)
	// PatchZone applies the patch and returns the updated zone, or nil
	// when the patch left the zone unchanged.
	PatchZone(ctx context.Context, id string, patch ZonePatch) (*models.PlacementZone, error)
	DeleteZone(ctx context.Context, id string) error
}

// PlacementStore persists the placement bound to each zone.
type PlacementStore interface {
	CreatePlacement(ctx context.Context, placement *models.Placement) error
	ListPlacements(ctx context.Context, zoneID string) ([]*models.Placement, error)
	DeletePlacement(ctx context.Context, id string) error
}

// HostFilter narrows a host listing.
type HostFilter struct {
	Query   models.HostQuery
	Project string
	Where   query.Filter
	// Limit of zero means no limit.
	Limit int
	Skip  int
}

// HostDirectory persists host records.
type HostDirectory interface {
	ListHosts(ctx context.Context, filter HostFilter) ([]*models.Host, error)
	GetHost(ctx context.Context, id string) (*models.Host, error)
	SaveHost(ctx context.Context, host *models.Host) error
	// PatchHostProperties merges properties into the host; nil values remove keys.
	PatchHostProperties(ctx context.Context, id string, props map[string]*string) (*models.Host, error)
	DeleteHost(ctx context.Context, id string) error
}

// RemovalRequest asks the removal executor to tear down hosts.
type RemovalRequest struct {
	ZoneID  string
	HostIDs []string
	Project string
}

// RemovalService runs removal tasks and publishes their progress.
type RemovalService interface {
	SubmitRemoval(ctx context.Context, req RemovalRequest) (*models.RemovalTask, error)
	// Subscribe delivers task updates until cancel is called. The current
	// state is delivered if the task already reached a terminal stage.
	// cancel may be called more than once.
	Subscribe(ctx context.Context, taskID string) (<-chan *models.RemovalTask, func(), error)
	// Cancel stops a running task before its next host. A task that is
	// already terminal is returned unchanged.
	Cancel(ctx context.Context, taskID string) (*models.RemovalTask, error)
}
