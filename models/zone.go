package models

import (
	"strconv"
	"time"
)

// PlacementZone groups hosts into a cluster. The zone id is the cluster id.
type PlacementZone struct {
	Context string `json:"@context,omitempty" jsonld:"@context"`
	Type    string `json:"@type,omitempty" jsonld:"@type"`
	ID      string `json:"@id" jsonld:"@id" couchdb:"_id"`
	Rev     string `json:"_rev,omitempty" couchdb:"_rev"`

	Name string `json:"name" couchdb:"index"`

	// Query selects the member hosts of the zone.
	Query HostQuery `json:"query"`

	// Scheduler marks a zone whose single host schedules containers itself.
	Scheduler bool `json:"scheduler,omitempty"`

	// MaxMemoryBytes and MaxCPUCores are the recorded capacity of the zone.
	MaxMemoryBytes int64   `json:"maxMemoryBytes,omitempty"`
	MaxCPUCores    float64 `json:"maxCpuCores,omitempty"`

	TenantLinks      []string          `json:"tenantLinks,omitempty"`
	CustomProperties map[string]string `json:"customProperties,omitempty"`

	CreatedAt time.Time `json:"dateCreated,omitempty"`
	UpdatedAt time.Time `json:"dateModified,omitempty"`
}

// Property returns the custom property stored under key.
func (z *PlacementZone) Property(key string) (string, bool) {
	if z == nil || z.CustomProperties == nil {
		return "", false
	}
	v, ok := z.CustomProperties[key]
	return v, ok
}

// Int64Property parses a numeric custom property; absent or malformed is zero.
func (z *PlacementZone) Int64Property(key string) int64 {
	v, ok := z.Property(key)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// FloatProperty parses a decimal custom property; absent or malformed is zero.
func (z *PlacementZone) FloatProperty(key string) float64 {
	v, ok := z.Property(key)
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

// InProject reports whether the zone carries the project in its tenant links.
func (z *PlacementZone) InProject(project string) bool {
	return containsString(z.TenantLinks, project)
}

// Clone returns a deep copy of the zone.
func (z *PlacementZone) Clone() *PlacementZone {
	if z == nil {
		return nil
	}
	c := *z
	c.TenantLinks = append([]string(nil), z.TenantLinks...)
	c.CustomProperties = copyProperties(z.CustomProperties)
	c.Query.Properties = copyProperties(z.Query.Properties)
	return &c
}

// HostQuery selects hosts by zone membership and, optionally, by exact
// custom property values.
type HostQuery struct {
	ZoneID     string            `json:"zoneId"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Matches evaluates the query against a host record.
func (q HostQuery) Matches(h *Host) bool {
	if h == nil {
		return false
	}
	if q.ZoneID != "" && h.ZoneID != q.ZoneID {
		return false
	}
	for k, v := range q.Properties {
		if got, ok := h.Property(k); !ok || got != v {
			return false
		}
	}
	return true
}

// Placement is the capacity record bound one-to-one to a placement zone.
type Placement struct {
	Context string `json:"@context,omitempty" jsonld:"@context"`
	Type    string `json:"@type,omitempty" jsonld:"@type"`
	ID      string `json:"@id" jsonld:"@id" couchdb:"_id"`
	Rev     string `json:"_rev,omitempty" couchdb:"_rev"`

	Name   string `json:"name"`
	ZoneID string `json:"zoneId" couchdb:"index"`

	// MaxInstances of zero means unlimited.
	MaxInstances int `json:"maxNumberInstances"`
	Priority     int `json:"priority"`

	TenantLinks []string  `json:"tenantLinks,omitempty"`
	CreatedAt   time.Time `json:"dateCreated,omitempty"`
}
