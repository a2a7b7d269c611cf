package cluster

import (
	"evalgo.org/stratum/models"
)

// TypeOf determines the cluster type of a zone: the recorded type tag
// wins, scheduler zones are SINGLE_HOST, everything else is DOCKER.
func TypeOf(zone *models.PlacementZone) models.ClusterType {
	if v, ok := zone.Property(models.PropClusterType); ok {
		if t, ok := models.ParseClusterType(v); ok {
			return t
		}
	}
	if zone.Scheduler {
		return models.ClusterTypeSingleHost
	}
	return models.ClusterTypeDocker
}

// StatusFromPowerState maps a host power state to a cluster status.
func StatusFromPowerState(ps models.PowerState) models.ClusterStatus {
	switch ps {
	case models.PowerStateOn:
		return models.ClusterStatusOn
	case models.PowerStateOff:
		return models.ClusterStatusOff
	case models.PowerStateUnknown:
		return models.ClusterStatusWarning
	case models.PowerStateSuspend:
		return models.ClusterStatusDisabled
	default:
		return models.ClusterStatusWarning
	}
}

// hostStatus is the status a single host contributes as the baseline.
// Cluster management markers take priority over the power state.
func hostStatus(h *models.Host) models.ClusterStatus {
	if op, ok := h.Property(models.PropClusterOperation); ok {
		switch op {
		case models.ClusterOperationResizing:
			return models.ClusterStatusResizing
		case models.ClusterOperationRemoving:
			return models.ClusterStatusDestroying
		case models.ClusterOperationProvisioning:
			return models.ClusterStatusProvisioning
		}
	}
	return StatusFromPowerState(h.PowerState)
}

// Aggregate projects a zone and its current member hosts into a cluster.
// It is a pure function and never fails.
func Aggregate(zone *models.PlacementZone, hosts []*models.Host) *models.ClusterDto {
	typ := TypeOf(zone)

	dto := &models.ClusterDto{
		ID:                        zone.ID,
		DocumentSelfLink:          models.ClusterSelfLink(zone.ID),
		Name:                      zone.Name,
		Type:                      typ,
		ClusterCreationTimeMicros: zone.Int64Property(models.PropCreationTimeMicros),
		NodeLinks:                 make([]string, 0, len(hosts)),
		TotalMemory:               zone.MaxMemoryBytes,
		TotalCPU:                  zone.MaxCPUCores,
		CPUUsage:                  zone.FloatProperty(models.PropZoneCPUUsage),
		TenantLinks:               append([]string(nil), zone.TenantLinks...),
		CustomProperties:          zone.Clone().CustomProperties,
	}
	dto.Details, _ = zone.Property(models.PropClusterDetails)
	dto.MemoryUsage = dto.TotalMemory - zone.Int64Property(models.PropZoneAvailableMemory)

	if len(hosts) == 0 {
		dto.Status = models.ClusterStatusDisabled
		if v, ok := zone.Property(models.PropEnforcedStatus); ok {
			if st, ok := models.ParseClusterStatus(v); ok {
				dto.Status = st
			}
		}
		return dto
	}

	first := hosts[0]
	dto.Status = hostStatus(first)
	dto.Nodes = make(map[string]*models.Host, len(hosts))

	for _, h := range hosts {
		if h.PowerState != first.PowerState {
			dto.Status = models.ClusterStatusWarning
		}
		dto.NodeLinks = append(dto.NodeLinks, h.ID)
		dto.ContainerCount += h.IntProperty(models.PropContainerCount)
		dto.SystemContainersCount += h.IntProperty(models.PropSystemContainerCount)

		dto.Nodes[h.ID] = h.Exposed()
	}

	if typ.SingleHostOnly() && len(hosts) == 1 {
		dto.Address = first.Address
		dto.PublicAddress, _ = first.Property(models.PropPublicAddress)
		if cores := first.IntProperty(models.PropNumCores); cores > 0 {
			dto.TotalCPU = float64(cores)
		}
	}

	return dto
}
