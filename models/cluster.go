package models

import "strings"

// ClusterType is the kind of a cluster.
type ClusterType string

const (
	ClusterTypeDocker     ClusterType = "DOCKER"
	ClusterTypeSingleHost ClusterType = "SINGLE_HOST"
	ClusterTypeKubernetes ClusterType = "KUBERNETES"
)

// ParseClusterType parses a cluster type name, case-insensitively.
func ParseClusterType(s string) (ClusterType, bool) {
	switch t := ClusterType(strings.ToUpper(strings.TrimSpace(s))); t {
	case ClusterTypeDocker, ClusterTypeSingleHost, ClusterTypeKubernetes:
		return t, true
	}
	return "", false
}

// SingleHostOnly reports whether clusters of this type hold exactly one host.
func (t ClusterType) SingleHostOnly() bool {
	return t == ClusterTypeSingleHost || t == ClusterTypeKubernetes
}

// RequiresTeardown reports whether removing hosts of this type goes through
// an asynchronous removal task instead of deleting the host record.
func (t ClusterType) RequiresTeardown() bool {
	return t == ClusterTypeDocker || t == ClusterTypeKubernetes
}

// ClusterTypeForHost maps a declared host type to the cluster type it forms.
func ClusterTypeForHost(h HostType) ClusterType {
	switch h {
	case HostTypeScheduler:
		return ClusterTypeSingleHost
	case HostTypeKubernetes:
		return ClusterTypeKubernetes
	default:
		return ClusterTypeDocker
	}
}

// ClusterStatus is the aggregate status of a cluster.
type ClusterStatus string

const (
	ClusterStatusOn           ClusterStatus = "ON"
	ClusterStatusOff          ClusterStatus = "OFF"
	ClusterStatusDisabled     ClusterStatus = "DISABLED"
	ClusterStatusWarning      ClusterStatus = "WARNING"
	ClusterStatusProvisioning ClusterStatus = "PROVISIONING"
	ClusterStatusResizing     ClusterStatus = "RESIZING"
	ClusterStatusDestroying   ClusterStatus = "DESTROYING"
	ClusterStatusUnreachable  ClusterStatus = "UNREACHABLE"
)

var clusterStatuses = map[ClusterStatus]bool{
	ClusterStatusOn:           true,
	ClusterStatusOff:          true,
	ClusterStatusDisabled:     true,
	ClusterStatusWarning:      true,
	ClusterStatusProvisioning: true,
	ClusterStatusResizing:     true,
	ClusterStatusDestroying:   true,
	ClusterStatusUnreachable:  true,
}

// ParseClusterStatus parses a status name, case-insensitively.
func ParseClusterStatus(s string) (ClusterStatus, bool) {
	st := ClusterStatus(strings.ToUpper(strings.TrimSpace(s)))
	return st, clusterStatuses[st]
}

// ClusterDto is the aggregated, read-only projection of a placement zone
// and its member hosts. It is never stored.
type ClusterDto struct {
	ID               string        `json:"id"`
	DocumentSelfLink string        `json:"documentSelfLink"`
	Name             string        `json:"name"`
	Type             ClusterType   `json:"type"`
	Status           ClusterStatus `json:"status"`
	Details          string        `json:"details,omitempty"`

	// Address and PublicAddress are only set for single-host clusters.
	Address       string `json:"address,omitempty"`
	PublicAddress string `json:"publicAddress,omitempty"`

	ClusterCreationTimeMicros int64 `json:"clusterCreationTimeMicros"`

	NodeLinks []string         `json:"nodeLinks"`
	Nodes     map[string]*Host `json:"nodes,omitempty"`

	ContainerCount        int64 `json:"containerCount"`
	SystemContainersCount int64 `json:"systemContainersCount"`

	TotalMemory int64   `json:"totalMemory"`
	MemoryUsage int64   `json:"memoryUsage"`
	TotalCPU    float64 `json:"totalCpu"`
	CPUUsage    float64 `json:"cpuUsage"`

	TenantLinks      []string          `json:"tenantLinks,omitempty"`
	CustomProperties map[string]string `json:"customProperties,omitempty"`
}

// ClusterSelfLink builds the document link of a cluster.
func ClusterSelfLink(id string) string {
	return "/clusters/" + id
}

// ClusterHostLink builds the document link of a host inside a cluster.
func ClusterHostLink(clusterID, hostID string) string {
	return "/clusters/" + clusterID + "/hosts/" + hostID
}

// ClusterSpec is the request body for creating or patching a cluster.
// Creation carries the first host in HostState unless CreateEmptyCluster
// is set.
type ClusterSpec struct {
	Name          string        `json:"name,omitempty" validate:"omitempty,max=256"`
	Details       string        `json:"details,omitempty" validate:"omitempty,max=4096"`
	Type          ClusterType   `json:"type,omitempty" validate:"omitempty,clustertype"`
	Status        ClusterStatus `json:"status,omitempty" validate:"omitempty,clusterstatus"`
	PublicAddress string        `json:"publicAddress,omitempty" validate:"omitempty,max=512"`

	CreateEmptyCluster bool  `json:"createEmptyCluster,omitempty"`
	AcceptCertificate  bool  `json:"acceptCertificate,omitempty"`
	HostState          *Host `json:"hostState,omitempty"`
}
