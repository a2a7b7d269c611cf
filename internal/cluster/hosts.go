package cluster

import (
	"context"
	"errors"

	"evalgo.org/stratum/models"
)

// AddHostOutcome is either the admitted host or a certificate awaiting
// confirmation.
type AddHostOutcome struct {
	Host        *models.Host
	Certificate *models.CertificateChallenge
}

// NeedsTrustConfirmation reports whether the outcome carries a certificate.
func (o *AddHostOutcome) NeedsTrustConfirmation() bool {
	return o != nil && o.Certificate != nil
}

// AddHost admits a host into an existing cluster. The allowlisted custom
// properties are copied onto the stored record, with absent keys cleared,
// and a successful admission clears the cluster's enforced status.
func (o *Orchestrator) AddHost(ctx context.Context, scope Scope, clusterID string, spec *models.HostSpec) (*AddHostOutcome, error) {
	if spec == nil {
		return nil, NewValidationError(CodeBodyRequired, "request body is required")
	}
	if spec.HostState == nil {
		return nil, NewValidationError(CodeHostRequired, "hostState is required")
	}

	z, err := o.zone(ctx, scope, clusterID)
	if err != nil {
		return nil, err
	}
	if err := o.ensureCapacity(ctx, z, spec.HostState.ID); err != nil {
		return nil, err
	}

	project := scope.Project
	if project == "" && len(z.TenantLinks) > 0 {
		project = z.TenantLinks[0]
	}

	props := make(map[string]*string, len(models.HostPropertyAllowlist))
	for _, key := range models.HostPropertyAllowlist {
		if v, ok := spec.HostState.Property(key); ok {
			props[key] = stringPtr(v)
		} else {
			props[key] = nil
		}
	}

	res := o.admission.Admit(ctx, AdmissionRequest{
		Host:              hostForZone(spec.HostState, z, project),
		Properties:        props,
		AcceptCertificate: spec.AcceptCertificate,
		Replace:           true,
	})
	switch res.Outcome {
	case AdmissionCreated:
	case AdmissionNeedsTrust:
		return &AddHostOutcome{Certificate: res.Certificate}, nil
	default:
		cause := res.Err
		if cause == nil {
			cause = errors.New("host admission failed")
		}
		return nil, surface(cause, CodeAddHostFailed, "could not add host to cluster")
	}

	reset := ZonePatch{Properties: map[string]*string{models.PropEnforcedStatus: nil}}
	if _, err := o.zones.PatchZone(ctx, z.ID, reset); err != nil {
		o.log.Warn("could not clear enforced cluster status", "cluster", z.ID, "error", err)
	}

	o.log.Info("host added to cluster", "cluster", z.ID, "host", res.Host.ID)
	o.events.Publish(Event{
		Type:        EventHostAdded,
		ClusterID:   z.ID,
		HostID:      res.Host.ID,
		Data:        res.Host.Exposed(),
		TenantLinks: z.TenantLinks,
	})
	return &AddHostOutcome{Host: res.Host}, nil
}

// RemoveHost removes one host from a cluster. Hosts of teardown types go
// through a removal task; the others are deleted directly.
func (o *Orchestrator) RemoveHost(ctx context.Context, scope Scope, clusterID, hostID string) (*Teardown, error) {
	z, host, err := o.clusterHost(ctx, scope, clusterID, hostID)
	if err != nil {
		return nil, err
	}

	t := newTeardown(z.ID, host.ID)
	removed := func() {
		o.log.Info("host removed from cluster", "cluster", z.ID, "host", host.ID)
		o.events.Publish(Event{Type: EventHostRemoved, ClusterID: z.ID, HostID: host.ID, TenantLinks: z.TenantLinks})
	}

	if o.opts.SyntheticRemoval || !TypeOf(z).RequiresTeardown() {
		if err := o.hosts.DeleteHost(ctx, host.ID); err != nil && !isNotFound(err) {
			return nil, downstream(CodeRemoveHostFailed, "could not remove host", err)
		}
		t.finish(nil)
		removed()
		return t, nil
	}

	req := RemovalRequest{ZoneID: z.ID, HostIDs: []string{host.ID}, Project: scope.Project}
	cleanup := func(context.Context) error {
		removed()
		return nil
	}
	if err := o.startTeardown(ctx, t, req, cleanup); err != nil {
		return nil, downstream(CodeRemoveHostFailed, "could not remove host", err)
	}
	return t, nil
}
