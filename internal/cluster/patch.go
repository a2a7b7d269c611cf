package cluster

import (
	"context"

	"evalgo.org/stratum/models"
)

// PatchCluster updates name, details and enforced status of a cluster. A
// public address is propagated to the host of a single-host cluster.
func (o *Orchestrator) PatchCluster(ctx context.Context, scope Scope, id string, spec *models.ClusterSpec) (*models.ClusterDto, error) {
	if spec == nil {
		return nil, NewValidationError(CodeBodyRequired, "request body is required")
	}
	if _, err := o.zone(ctx, scope, id); err != nil {
		return nil, err
	}

	patch := ZonePatch{Properties: map[string]*string{}}
	if spec.Name != "" {
		patch.Name = stringPtr(spec.Name)
	}
	if spec.Details != "" {
		patch.Properties[models.PropClusterDetails] = stringPtr(spec.Details)
	}
	if spec.Status != "" {
		patch.Properties[models.PropEnforcedStatus] = stringPtr(string(spec.Status))
	}

	updated, err := o.zones.PatchZone(ctx, id, patch)
	if err != nil {
		if isNotFound(err) {
			return nil, notFound(CodeClusterNotFound, "cluster %s not found", id)
		}
		return nil, downstream(CodePatchFailed, "could not update cluster", err)
	}
	if updated == nil {
		// Nothing changed; the store does not echo the document back.
		if updated, err = o.zone(ctx, scope, id); err != nil {
			return nil, err
		}
	}

	hosts, err := o.memberHosts(ctx, scope, updated)
	if err != nil {
		return nil, err
	}

	if spec.PublicAddress != "" && TypeOf(updated).SingleHostOnly() && len(hosts) == 1 {
		patched, err := o.hosts.PatchHostProperties(ctx, hosts[0].ID, map[string]*string{
			models.PropPublicAddress: stringPtr(spec.PublicAddress),
		})
		if err != nil {
			o.log.Warn("could not propagate public address to host",
				"cluster", id, "host", hosts[0].ID, "error", err)
		} else {
			hosts[0] = patched
		}
	}

	dto := Aggregate(updated, hosts)
	o.events.Publish(Event{Type: EventClusterUpdated, ClusterID: dto.ID, Data: dto, TenantLinks: dto.TenantLinks})
	return dto, nil
}
