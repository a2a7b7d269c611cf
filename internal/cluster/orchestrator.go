// Package cluster implements the cluster lifecycle: creating, reading,
// patching and deleting clusters and their member hosts.
//
// A cluster is never stored. It is the projection of a placement zone and
// the hosts its query selects, computed by Aggregate on every read. The
// Orchestrator coordinates the zone, placement and host stores, the host
// admission service and the removal task executor, all of which are
// reached through the interfaces in store.go and admission.go.
//
// Multi-step operations follow a fixed discipline:
//   - resources generated during a create are remembered and deleted again
//     if a later step fails;
//   - teardown of hosts runs as a removal task, and the zone is deleted only
//     after the task reached a terminal stage.
package cluster

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"evalgo.org/stratum/models"
)

// Scope carries the caller's project. It is resolved per request and
// translated into a tenant clause on every downstream fetch.
type Scope struct {
	Project string
}

// Options tune the orchestrator.
type Options struct {
	// DefaultQueryLimit caps host listings that do not set $limit.
	DefaultQueryLimit int

	// QueryExpiration bounds every downstream read.
	QueryExpiration time.Duration

	// RemovalTimeout bounds the wait for a removal task plus dependent cleanup.
	RemovalTimeout time.Duration

	// SyntheticRemoval deletes host records directly instead of running
	// removal tasks. Used by test and demo deployments.
	SyntheticRemoval bool
}

// Dependencies are the collaborators of the orchestrator.
type Dependencies struct {
	Zones      ZoneStore
	Placements PlacementStore
	Hosts      HostDirectory
	Admission  HostAdmission
	Removal    RemovalService
	Events     EventSink
	Logger     *slog.Logger
}

// Orchestrator implements the cluster operations.
type Orchestrator struct {
	zones      ZoneStore
	placements PlacementStore
	hosts      HostDirectory
	admission  HostAdmission
	removal    RemovalService
	events     EventSink
	log        *slog.Logger
	opts       Options
	now        func() time.Time
}

// New creates an orchestrator. Zero options fall back to defaults.
func New(deps Dependencies, opts Options) *Orchestrator {
	if opts.DefaultQueryLimit <= 0 {
		opts.DefaultQueryLimit = 100
	}
	if opts.QueryExpiration <= 0 {
		opts.QueryExpiration = 30 * time.Second
	}
	if opts.RemovalTimeout <= 0 {
		opts.RemovalTimeout = 10 * time.Minute
	}
	events := deps.Events
	if events == nil {
		events = discardEvents{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		zones:      deps.Zones,
		placements: deps.Placements,
		hosts:      deps.Hosts,
		admission:  deps.Admission,
		removal:    deps.Removal,
		events:     events,
		log:        logger.With("component", "cluster"),
		opts:       opts,
		now:        time.Now,
	}
}

// withExpiration bounds a downstream read.
func (o *Orchestrator) withExpiration(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.opts.QueryExpiration)
}

// zone loads a zone visible to the caller.
func (o *Orchestrator) zone(ctx context.Context, scope Scope, id string) (*models.PlacementZone, error) {
	ctx, cancel := o.withExpiration(ctx)
	defer cancel()

	z, err := o.zones.GetZone(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, notFound(CodeClusterNotFound, "cluster %s not found", id)
	}
	if err != nil {
		return nil, downstream(CodeReadFailed, "could not read cluster", err)
	}
	if scope.Project != "" && !z.InProject(scope.Project) {
		return nil, notFound(CodeClusterNotFound, "cluster %s not found", id)
	}
	return z, nil
}

// memberQuery returns the host query of a zone, bound to the zone id.
func memberQuery(z *models.PlacementZone) models.HostQuery {
	q := z.Query
	if q.ZoneID == "" {
		q.ZoneID = z.ID
	}
	return q
}

// memberHosts lists every host the zone's query selects.
func (o *Orchestrator) memberHosts(ctx context.Context, scope Scope, z *models.PlacementZone) ([]*models.Host, error) {
	ctx, cancel := o.withExpiration(ctx)
	defer cancel()

	hosts, err := o.hosts.ListHosts(ctx, HostFilter{
		Query:   memberQuery(z),
		Project: scope.Project,
	})
	if err != nil {
		return nil, downstream(CodeReadFailed, "could not list cluster hosts", err)
	}
	return hosts, nil
}

// project reads the zone and its members and aggregates them.
func (o *Orchestrator) project(ctx context.Context, scope Scope, id string) (*models.ClusterDto, error) {
	z, err := o.zone(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	hosts, err := o.memberHosts(ctx, scope, z)
	if err != nil {
		return nil, err
	}
	return Aggregate(z, hosts), nil
}

// deleteZone removes a zone and then its placements. Missing records are
// not an error.
func (o *Orchestrator) deleteZone(ctx context.Context, zoneID string) error {
	placements, err := o.placements.ListPlacements(ctx, zoneID)
	if err != nil {
		return err
	}
	if err := o.zones.DeleteZone(ctx, zoneID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	for _, p := range placements {
		if err := o.placements.DeletePlacement(ctx, p.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

// ensureCapacity rejects a second host in a single-host cluster.
func (o *Orchestrator) ensureCapacity(ctx context.Context, z *models.PlacementZone, hostID string) error {
	if !TypeOf(z).SingleHostOnly() {
		return nil
	}
	hosts, err := o.memberHosts(ctx, Scope{}, z)
	if err != nil {
		return err
	}
	for _, h := range hosts {
		if h.ID != hostID {
			return NewValidationError(CodeSingleHostCluster,
				"cluster %s of type %s already has a host", z.ID, TypeOf(z))
		}
	}
	return nil
}

// hostForZone prepares a copy of the requested host bound to the zone and project.
func hostForZone(h *models.Host, z *models.PlacementZone, project string) *models.Host {
	host := h.Clone()
	host.ZoneID = z.ID
	if project != "" && !host.InProject(project) {
		host.TenantLinks = append(host.TenantLinks, project)
	}
	return host
}

func stringPtr(s string) *string {
	return &s
}
