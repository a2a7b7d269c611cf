package storage

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"evalgo.org/stratum/internal/cluster"
	"evalgo.org/stratum/models"
)

// zoneSearchFields are matched by an ALL_FIELDS filter clause.
var zoneSearchFields = []string{"@id", "name"}

// CreateZone saves a new placement zone.
func (s *Storage) CreateZone(ctx context.Context, zone *models.PlacementZone) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if zone.Context == "" {
		zone.Context = documentContext
	}
	zone.Type = TypePlacementZone
	if zone.CreatedAt.IsZero() {
		zone.CreatedAt = time.Now().UTC()
	}
	zone.Rev = ""
	return s.saveDocument(zone)
}

// GetZone retrieves a placement zone by ID.
func (s *Storage) GetZone(ctx context.Context, id string) (*models.PlacementZone, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var zone models.PlacementZone
	if err := s.getDocument(id, TypePlacementZone, &zone); err != nil {
		return nil, err
	}
	return &zone, nil
}

// ListZones retrieves the zones visible to the filter's project.
func (s *Storage) ListZones(ctx context.Context, filter cluster.ZoneFilter) ([]*models.PlacementZone, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	selector := typed(TypePlacementZone)
	inProject(selector, filter.Project)
	selector = combine(selector, filter.Where.Selector(zoneSearchFields...))

	zones, err := find[models.PlacementZone](s, selector, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list zones: %w", err)
	}

	result := make([]*models.PlacementZone, len(zones))
	for i := range zones {
		result[i] = &zones[i]
	}
	return result, nil
}

// PatchZone applies a partial update, retrying on revision conflicts. It
// returns nil when the zone is already in the requested state.
func (s *Storage) PatchZone(ctx context.Context, id string, patch cluster.ZonePatch) (*models.PlacementZone, error) {
	for attempt := 1; ; attempt++ {
		current, err := s.GetZone(ctx, id)
		if err != nil {
			return nil, err
		}

		next := current.Clone()
		if patch.Name != nil {
			next.Name = *patch.Name
		}
		for k, v := range patch.Properties {
			if v == nil {
				delete(next.CustomProperties, k)
				continue
			}
			if next.CustomProperties == nil {
				next.CustomProperties = make(map[string]string)
			}
			next.CustomProperties[k] = *v
		}
		if len(next.CustomProperties) == 0 {
			next.CustomProperties = nil
		}
		if len(current.CustomProperties) == 0 {
			current.CustomProperties = nil
		}
		if reflect.DeepEqual(current, next) {
			return nil, nil
		}

		next.UpdatedAt = time.Now().UTC()
		err = s.saveDocument(next)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, cluster.ErrConflict) || attempt == saveAttempts {
			return nil, fmt.Errorf("failed to update zone %s: %w", id, err)
		}
		s.log.Debug("zone update conflict, retrying", "zone", id, "attempt", attempt)
	}
}

// DeleteZone deletes a placement zone.
func (s *Storage) DeleteZone(ctx context.Context, id string) error {
	zone, err := s.GetZone(ctx, id)
	if err != nil {
		return err
	}
	return s.deleteDocument(zone.ID, zone.Rev)
}

// CreatePlacement saves a new placement.
func (s *Storage) CreatePlacement(ctx context.Context, placement *models.Placement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if placement.Context == "" {
		placement.Context = documentContext
	}
	placement.Type = TypePlacement
	placement.Rev = ""
	return s.saveDocument(placement)
}

// ListPlacements retrieves the placements bound to a zone.
func (s *Storage) ListPlacements(ctx context.Context, zoneID string) ([]*models.Placement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	selector := typed(TypePlacement)
	if zoneID != "" {
		selector["zoneId"] = map[string]interface{}{"$eq": zoneID}
	}

	placements, err := find[models.Placement](s, selector, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list placements: %w", err)
	}

	result := make([]*models.Placement, len(placements))
	for i := range placements {
		result[i] = &placements[i]
	}
	return result, nil
}

// DeletePlacement deletes a placement.
func (s *Storage) DeletePlacement(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var placement models.Placement
	if err := s.getDocument(id, TypePlacement, &placement); err != nil {
		return err
	}
	return s.deleteDocument(placement.ID, placement.Rev)
}
