package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"evalgo.org/stratum/internal/cluster"
	"evalgo.org/stratum/models"
)

// hostSearchFields are matched by an ALL_FIELDS filter clause.
var hostSearchFields = []string{"@id", "name", "address", "powerState", "zoneId"}

// hostSelector renders a host filter as a Mango selector.
func hostSelector(filter cluster.HostFilter) map[string]interface{} {
	selector := typed(TypeHost)
	if filter.Query.ZoneID != "" {
		selector["zoneId"] = map[string]interface{}{"$eq": filter.Query.ZoneID}
	}
	for k, v := range filter.Query.Properties {
		selector["customProperties."+k] = map[string]interface{}{"$eq": v}
	}
	inProject(selector, filter.Project)
	return combine(selector, filter.Where.Selector(hostSearchFields...))
}

// ListHosts retrieves the hosts matching the filter. Skip is applied
// after the query, so the query fetches Skip+Limit documents.
func (s *Storage) ListHosts(ctx context.Context, filter cluster.HostFilter) ([]*models.Host, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	limit := 0
	if filter.Limit > 0 {
		limit = filter.Skip + filter.Limit
	}
	hosts, err := find[models.Host](s, hostSelector(filter), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list hosts: %w", err)
	}

	if filter.Skip >= len(hosts) {
		return []*models.Host{}, nil
	}
	hosts = hosts[filter.Skip:]
	result := make([]*models.Host, len(hosts))
	for i := range hosts {
		result[i] = &hosts[i]
	}
	return result, nil
}

// GetHost retrieves a host by ID.
func (s *Storage) GetHost(ctx context.Context, id string) (*models.Host, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var host models.Host
	if err := s.getDocument(id, TypeHost, &host); err != nil {
		return nil, err
	}
	return &host, nil
}

// SaveHost creates or replaces a host.
func (s *Storage) SaveHost(ctx context.Context, host *models.Host) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if host.Context == "" {
		host.Context = documentContext
	}
	host.Type = TypeHost
	now := time.Now().UTC()
	if host.CreatedAt.IsZero() {
		host.CreatedAt = now
	}
	host.UpdatedAt = now

	err := s.saveDocument(host)

	// On a conflict take over the stored revision and retry once.
	if errors.Is(err, cluster.ErrConflict) {
		existing, getErr := s.GetHost(ctx, host.ID)
		if getErr == nil {
			host.Rev = existing.Rev
			err = s.saveDocument(host)
		}
	}
	return err
}

// PatchHostProperties merges custom properties into a host; nil values
// remove keys.
func (s *Storage) PatchHostProperties(ctx context.Context, id string, props map[string]*string) (*models.Host, error) {
	for attempt := 1; ; attempt++ {
		host, err := s.GetHost(ctx, id)
		if err != nil {
			return nil, err
		}
		for k, v := range props {
			if v == nil {
				delete(host.CustomProperties, k)
				continue
			}
			if host.CustomProperties == nil {
				host.CustomProperties = make(map[string]string)
			}
			host.CustomProperties[k] = *v
		}
		host.UpdatedAt = time.Now().UTC()

		err = s.saveDocument(host)
		if err == nil {
			return host, nil
		}
		if !errors.Is(err, cluster.ErrConflict) || attempt == saveAttempts {
			return nil, fmt.Errorf("failed to update host %s: %w", id, err)
		}
	}
}

// DeleteHost deletes a host.
func (s *Storage) DeleteHost(ctx context.Context, id string) error {
	host, err := s.GetHost(ctx, id)
	if err != nil {
		return err
	}
	return s.deleteDocument(host.ID, host.Rev)
}
