package cluster

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"evalgo.org/stratum/internal/query"
	"evalgo.org/stratum/models"
)

// ListOptions narrows a cluster listing.
type ListOptions struct {
	// Where filters the placement zones. It is not applied to member
	// hosts: a kept cluster aggregates every host its zone query selects,
	// so its totals match GetCluster.
	Where query.Filter

	// Type keeps clusters of one type; a leading '!' excludes that type.
	Type string
}

type typeFilter struct {
	typ    models.ClusterType
	negate bool
}

func parseTypeFilter(s string) (*typeFilter, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	tf := &typeFilter{}
	if strings.HasPrefix(s, "!") {
		tf.negate = true
		s = s[1:]
	}
	t, ok := models.ParseClusterType(s)
	if !ok {
		return nil, NewValidationError(CodeInvalidClusterType, "unknown cluster type %q", s)
	}
	tf.typ = t
	return tf, nil
}

func (tf *typeFilter) keep(dto *models.ClusterDto) bool {
	if tf == nil {
		return true
	}
	return (dto.Type == tf.typ) != tf.negate
}

// ListClusters reads every visible zone and aggregates it with its hosts.
// Host reads run concurrently; any failure fails the whole listing.
func (o *Orchestrator) ListClusters(ctx context.Context, scope Scope, opts ListOptions) ([]*models.ClusterDto, error) {
	tf, err := parseTypeFilter(opts.Type)
	if err != nil {
		return nil, err
	}

	listCtx, cancel := o.withExpiration(ctx)
	zones, err := o.zones.ListZones(listCtx, ZoneFilter{Project: scope.Project, Where: opts.Where})
	cancel()
	if err != nil {
		return nil, downstream(CodeReadFailed, "could not list clusters", err)
	}

	dtos := make([]*models.ClusterDto, len(zones))
	g, gctx := errgroup.WithContext(ctx)
	for i, z := range zones {
		g.Go(func() error {
			hosts, err := o.memberHosts(gctx, scope, z)
			if err != nil {
				return err
			}
			dtos[i] = Aggregate(z, hosts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, surface(err, CodeReadFailed, "could not list clusters")
	}

	out := dtos[:0]
	for _, dto := range dtos {
		if tf.keep(dto) {
			out = append(out, dto)
		}
	}
	return out, nil
}

// GetCluster reads one cluster.
func (o *Orchestrator) GetCluster(ctx context.Context, scope Scope, id string) (*models.ClusterDto, error) {
	return o.project(ctx, scope, id)
}

// HostListOptions narrows a host listing inside a cluster.
type HostListOptions struct {
	Where query.Filter
	Limit int
	Skip  int
}

// HostPage is one page of a host listing.
type HostPage struct {
	Hosts []*models.Host

	// NextSkip is the offset of the following page; zero when this is the last page.
	NextSkip int
}

// ListClusterHosts lists the hosts of a cluster, one page at a time.
func (o *Orchestrator) ListClusterHosts(ctx context.Context, scope Scope, clusterID string, opts HostListOptions) (*HostPage, error) {
	z, err := o.zone(ctx, scope, clusterID)
	if err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = o.opts.DefaultQueryLimit
	}
	skip := opts.Skip
	if skip < 0 {
		skip = 0
	}

	ctx, cancel := o.withExpiration(ctx)
	defer cancel()

	// One extra record tells whether another page exists.
	hosts, err := o.hosts.ListHosts(ctx, HostFilter{
		Query:   memberQuery(z),
		Project: scope.Project,
		Where:   opts.Where,
		Limit:   limit + 1,
		Skip:    skip,
	})
	if err != nil {
		return nil, downstream(CodeReadFailed, "could not list cluster hosts", err)
	}

	page := &HostPage{Hosts: hosts}
	if len(hosts) > limit {
		page.Hosts = hosts[:limit]
		page.NextSkip = skip + limit
	}
	return page, nil
}

// GetClusterHost reads a host and verifies it still belongs to the cluster.
func (o *Orchestrator) GetClusterHost(ctx context.Context, scope Scope, clusterID, hostID string) (*models.Host, error) {
	_, host, err := o.clusterHost(ctx, scope, clusterID, hostID)
	return host, err
}

func (o *Orchestrator) clusterHost(ctx context.Context, scope Scope, clusterID, hostID string) (*models.PlacementZone, *models.Host, error) {
	z, err := o.zone(ctx, scope, clusterID)
	if err != nil {
		return nil, nil, err
	}

	getCtx, cancel := o.withExpiration(ctx)
	defer cancel()

	host, err := o.hosts.GetHost(getCtx, hostID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil, notFound(CodeHostNotFound, "host %s not found", hostID)
		}
		return nil, nil, downstream(CodeReadFailed, "could not read host", err)
	}
	if scope.Project != "" && !host.InProject(scope.Project) {
		return nil, nil, notFound(CodeHostNotFound, "host %s not found", hostID)
	}
	// The host may have moved to another zone since the caller saw it.
	if !memberQuery(z).Matches(host) {
		return nil, nil, notFound(CodeHostNotInCluster, "host %s is not part of cluster %s", hostID, clusterID)
	}
	return z, host, nil
}
