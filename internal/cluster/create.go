package cluster

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"evalgo.org/stratum/models"
)

// CreateOutcome is either the created cluster or a certificate the caller
// must confirm before the host can be admitted.
type CreateOutcome struct {
	Cluster     *models.ClusterDto
	Certificate *models.CertificateChallenge
}

// NeedsTrustConfirmation reports whether the outcome carries a certificate.
func (o *CreateOutcome) NeedsTrustConfirmation() bool {
	return o != nil && o.Certificate != nil
}

// generated remembers the resources a create request produced, for rollback.
type generated struct {
	zoneID      string
	placementID string

	// hostID is the host admitted into the generated zone.
	hostID string
}

func (g *generated) empty() bool {
	return g.zoneID == "" && g.placementID == "" && g.hostID == ""
}

// CreateCluster creates a cluster with its first host, or an empty
// cluster when spec.CreateEmptyCluster is set.
func (o *Orchestrator) CreateCluster(ctx context.Context, scope Scope, spec *models.ClusterSpec) (*CreateOutcome, error) {
	if spec == nil {
		return nil, NewValidationError(CodeBodyRequired, "request body is required")
	}

	host := spec.HostState
	project := scope.Project
	if project == "" && host != nil && len(host.TenantLinks) > 0 {
		project = host.TenantLinks[0]
	}
	if project == "" {
		return nil, NewValidationError(CodeProjectRequired, "a project is required to create a cluster")
	}
	if host == nil && !spec.CreateEmptyCluster {
		return nil, NewValidationError(CodeHostRequired, "hostState is required unless createEmptyCluster is set")
	}

	typ := spec.Type
	if typ == "" {
		typ = models.ClusterTypeDocker
		if host != nil {
			typ = models.ClusterTypeForHost(host.HostType())
		}
	}

	gen := &generated{}
	var zone *models.PlacementZone

	if host != nil && host.ZoneID != "" {
		z, err := o.zone(ctx, Scope{Project: project}, host.ZoneID)
		if err != nil {
			return nil, err
		}
		if err := o.ensureCapacity(ctx, z, host.ID); err != nil {
			return nil, err
		}
		zone = z
	} else {
		z, err := o.generateZone(ctx, gen, project, typ, spec)
		if err != nil {
			o.rollback(ctx, gen)
			return nil, downstream(CodeCreateFailed, "could not create cluster", err)
		}
		zone = z
	}

	if !spec.CreateEmptyCluster {
		res := o.admission.Admit(ctx, AdmissionRequest{
			Host:              hostForZone(host, zone, project),
			AcceptCertificate: spec.AcceptCertificate,
		})
		switch res.Outcome {
		case AdmissionCreated:
			if gen.zoneID != "" && res.Host != nil {
				gen.hostID = res.Host.ID
			}
		case AdmissionNeedsTrust:
			// The caller repeats the whole request after confirming, so
			// nothing generated here may survive.
			o.rollback(ctx, gen)
			return &CreateOutcome{Certificate: res.Certificate}, nil
		default:
			o.rollback(ctx, gen)
			cause := res.Err
			if cause == nil {
				cause = errors.New("host admission failed")
			}
			return nil, surface(cause, CodeCreateFailed, "could not create cluster")
		}
	}

	if spec.Status != "" && gen.zoneID == "" {
		patch := ZonePatch{Properties: map[string]*string{
			models.PropEnforcedStatus: stringPtr(string(spec.Status)),
		}}
		if _, err := o.zones.PatchZone(ctx, zone.ID, patch); err != nil {
			o.rollback(ctx, gen)
			return nil, downstream(CodeCreateFailed, "could not create cluster", err)
		}
	}

	dto, err := o.project(ctx, Scope{Project: project}, zone.ID)
	if err != nil {
		o.rollback(ctx, gen)
		return nil, surface(err, CodeCreateFailed, "could not create cluster")
	}

	o.log.Info("cluster created", "cluster", dto.ID, "type", dto.Type, "hosts", len(dto.NodeLinks))
	o.events.Publish(Event{Type: EventClusterCreated, ClusterID: dto.ID, Data: dto, TenantLinks: dto.TenantLinks})
	return &CreateOutcome{Cluster: dto}, nil
}

// generateZone creates the zone and its placement, recording both in gen.
func (o *Orchestrator) generateZone(ctx context.Context, gen *generated, project string, typ models.ClusterType, spec *models.ClusterSpec) (*models.PlacementZone, error) {
	now := o.now()
	id := models.GenerateID("cluster")

	name := spec.Name
	if name == "" {
		name = defaultZoneName(spec.HostState, id)
	}

	props := map[string]string{
		models.PropClusterType:          string(typ),
		models.PropCreationTimeMicros:   strconv.FormatInt(now.UnixMicro(), 10),
		models.PropZoneAutoGeneratedTag: "true",
	}
	if spec.Details != "" {
		props[models.PropClusterDetails] = spec.Details
	}
	if spec.Status != "" {
		props[models.PropEnforcedStatus] = string(spec.Status)
	}

	zone := &models.PlacementZone{
		ID:               id,
		Name:             name,
		Query:            models.HostQuery{ZoneID: id},
		Scheduler:        typ == models.ClusterTypeSingleHost,
		TenantLinks:      []string{project},
		CustomProperties: props,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := o.zones.CreateZone(ctx, zone); err != nil {
		return nil, err
	}
	gen.zoneID = zone.ID

	placement := &models.Placement{
		ID:          models.GenerateID("placement"),
		Name:        name,
		ZoneID:      zone.ID,
		Priority:    100,
		TenantLinks: []string{project},
		CreatedAt:   now,
	}
	if err := o.placements.CreatePlacement(ctx, placement); err != nil {
		return nil, err
	}
	gen.placementID = placement.ID

	o.log.Debug("generated placement zone", "zone", zone.ID, "placement", placement.ID, "name", name)
	return zone, nil
}

// defaultZoneName builds "<host type>:<address>" for clusters created
// without a name.
func defaultZoneName(h *models.Host, fallback string) string {
	if h == nil || h.Address == "" {
		return fallback
	}
	return strings.ToLower(string(h.HostType())) + ":" + h.Address
}

// rollback deletes generated resources once. Failures are logged and
// otherwise ignored; the original error is what the caller sees.
func (o *Orchestrator) rollback(ctx context.Context, gen *generated) {
	if gen.empty() {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.QueryExpiration)
	defer cancel()

	var g errgroup.Group
	if gen.hostID != "" {
		g.Go(func() error {
			if err := o.hosts.DeleteHost(ctx, gen.hostID); err != nil && !errors.Is(err, ErrNotFound) {
				o.log.Error("rollback: could not delete admitted host", "host", gen.hostID, "error", err)
			}
			return nil
		})
	}
	if gen.zoneID != "" {
		g.Go(func() error {
			if err := o.zones.DeleteZone(ctx, gen.zoneID); err != nil && !errors.Is(err, ErrNotFound) {
				o.log.Error("rollback: could not delete placement zone", "zone", gen.zoneID, "error", err)
			}
			return nil
		})
	}
	if gen.placementID != "" {
		g.Go(func() error {
			if err := o.placements.DeletePlacement(ctx, gen.placementID); err != nil && !errors.Is(err, ErrNotFound) {
				o.log.Error("rollback: could not delete placement", "placement", gen.placementID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	o.log.Info("rolled back generated resources", "zone", gen.zoneID, "placement", gen.placementID, "host", gen.hostID)
}
