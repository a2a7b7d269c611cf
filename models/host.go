package models

import (
	"strconv"
	"time"
)

// PowerState is the last observed power state of a host.
type PowerState string

const (
	PowerStateOn      PowerState = "ON"
	PowerStateOff     PowerState = "OFF"
	PowerStateUnknown PowerState = "UNKNOWN"
	PowerStateSuspend PowerState = "SUSPEND"
)

// HostType is the declared kind of a container host, recorded in the
// PropHostType custom property.
type HostType string

const (
	// HostTypeDocker is a plain Docker engine. Many of them form a DOCKER cluster.
	HostTypeDocker HostType = "DOCKER"

	// HostTypeScheduler is a Docker-compatible endpoint that schedules
	// containers itself. It always forms a SINGLE_HOST cluster.
	HostTypeScheduler HostType = "SCHEDULER"

	// HostTypeKubernetes is the API endpoint of a Kubernetes cluster.
	HostTypeKubernetes HostType = "KUBERNETES"
)

// FullShape reports whether hosts of this type are exposed with all of
// their fields inside a cluster projection.
func (t HostType) FullShape() bool {
	return t == HostTypeScheduler || t == HostTypeKubernetes
}

// Host is a registered compute host. Membership in a cluster is recorded
// through ZoneID; a host belongs to exactly one placement zone.
//
// Example JSON representation:
//
//	{
//	  "@context": "https://schema.org",
//	  "@type": "Host",
//	  "@id": "host:2f0c...",
//	  "name": "docker-01",
//	  "address": "https://10.0.0.4:2376",
//	  "powerState": "ON",
//	  "zoneId": "cluster:91ab...",
//	  "tenantLinks": ["/projects/default"],
//	  "customProperties": {"__adapterDockerType": "API", "__Containers": "3"}
//	}
type Host struct {
	// Context is the JSON-LD @context URL
	Context string `json:"@context,omitempty" jsonld:"@context"`

	// Type is the JSON-LD @type (Host)
	Type string `json:"@type,omitempty" jsonld:"@type"`

	// ID is the unique host identifier (maps to CouchDB _id)
	ID string `json:"@id" jsonld:"@id" couchdb:"_id"`

	// Rev is the CouchDB document revision for optimistic locking
	Rev string `json:"_rev,omitempty" couchdb:"_rev"`

	Name       string     `json:"name,omitempty" jsonld:"name"`
	Address    string     `json:"address" couchdb:"required,index"`
	PowerState PowerState `json:"powerState,omitempty"`

	// ZoneID links the host to its placement zone (the cluster id).
	ZoneID string `json:"zoneId,omitempty" couchdb:"index"`

	TenantLinks      []string          `json:"tenantLinks,omitempty"`
	CustomProperties map[string]string `json:"customProperties,omitempty"`

	CreatedAt time.Time `json:"dateCreated,omitempty"`
	UpdatedAt time.Time `json:"dateModified,omitempty"`
}

// Property returns the custom property stored under key.
func (h *Host) Property(key string) (string, bool) {
	if h == nil || h.CustomProperties == nil {
		return "", false
	}
	v, ok := h.CustomProperties[key]
	return v, ok
}

// IntProperty parses a numeric custom property. Absent or malformed values
// count as zero.
func (h *Host) IntProperty(key string) int64 {
	v, ok := h.Property(key)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// HostType returns the declared host type, defaulting to DOCKER.
func (h *Host) HostType() HostType {
	if v, ok := h.Property(PropHostType); ok && v != "" {
		return HostType(v)
	}
	return HostTypeDocker
}

// InProject reports whether the host carries the given project in its tenant links.
func (h *Host) InProject(project string) bool {
	return containsString(h.TenantLinks, project)
}

// Reduced returns the trimmed shape used inside cluster projections.
func (h *Host) Reduced() *Host {
	return &Host{
		ID:         h.ID,
		Name:       h.Name,
		Address:    h.Address,
		PowerState: h.PowerState,
	}
}

// Exposed returns the shape callers see: a full copy for host types
// callers mutate in place, the reduced shape otherwise.
func (h *Host) Exposed() *Host {
	if h.HostType().FullShape() {
		return h.Clone()
	}
	return h.Reduced()
}

// Clone returns a deep copy of the host.
func (h *Host) Clone() *Host {
	if h == nil {
		return nil
	}
	c := *h
	c.TenantLinks = append([]string(nil), h.TenantLinks...)
	c.CustomProperties = copyProperties(h.CustomProperties)
	return &c
}

// HostSpec is the request body for adding a host to an existing cluster.
type HostSpec struct {
	HostState         *Host `json:"hostState" validate:"required"`
	AcceptCertificate bool  `json:"acceptCertificate"`
}
