// Package memory is an in-memory backend for the cluster stores. It is
// used by tests and by `stratum server` with storage.driver=memory.
package memory

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"evalgo.org/stratum/internal/admission"
	"evalgo.org/stratum/internal/cluster"
	"evalgo.org/stratum/internal/removal"
	"evalgo.org/stratum/models"
)

var (
	_ cluster.ZoneStore      = (*Store)(nil)
	_ cluster.PlacementStore = (*Store)(nil)
	_ cluster.HostDirectory  = (*Store)(nil)
	_ removal.TaskStore      = (*Store)(nil)
	_ admission.TrustStore   = (*Store)(nil)
)

// Store keeps every record in maps guarded by one lock. Records are
// copied on the way in and out, so callers never share memory with it.
type Store struct {
	mu sync.RWMutex

	zones      map[string]*models.PlacementZone
	placements map[string]*models.Placement
	hosts      map[string]*models.Host
	tasks      map[string]*models.RemovalTask
	certs      map[string]*models.TrustedCertificate

	// seq preserves insertion order for deterministic listings.
	seq     map[string]uint64
	nextSeq uint64

	failures map[string]error
}

// New returns an empty store.
func New() *Store {
	return &Store{
		zones:      make(map[string]*models.PlacementZone),
		placements: make(map[string]*models.Placement),
		hosts:      make(map[string]*models.Host),
		tasks:      make(map[string]*models.RemovalTask),
		certs:      make(map[string]*models.TrustedCertificate),
		seq:        make(map[string]uint64),
		failures:   make(map[string]error),
	}
}

// Ping always succeeds.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op.
func (m *Store) Close() error { return nil }

// FailNext makes the next call of the named operation (for example
// "CreatePlacement") return err.
func (m *Store) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = err
}

// injected must be called with m.mu held.
func (m *Store) injected(op string) error {
	if err, ok := m.failures[op]; ok {
		delete(m.failures, op)
		return err
	}
	return nil
}

// track must be called with m.mu held.
func (m *Store) track(key string) {
	if _, ok := m.seq[key]; !ok {
		m.nextSeq++
		m.seq[key] = m.nextSeq
	}
}

func (m *Store) order(keys []string) {
	sort.Slice(keys, func(i, j int) bool { return m.seq[keys[i]] < m.seq[keys[j]] })
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, cluster.ErrNotFound)
}

// ──────────────────────────────────────────────────
// Placement zones
// ──────────────────────────────────────────────────

// CreateZone stores a new zone.
func (m *Store) CreateZone(ctx context.Context, zone *models.PlacementZone) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("CreateZone"); err != nil {
		return err
	}
	if _, exists := m.zones[zone.ID]; exists {
		return fmt.Errorf("zone %s: %w", zone.ID, cluster.ErrConflict)
	}
	m.zones[zone.ID] = zone.Clone()
	m.track("zone/" + zone.ID)
	return nil
}

// GetZone returns a zone by id.
func (m *Store) GetZone(ctx context.Context, id string) (*models.PlacementZone, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	z, ok := m.zones[id]
	if !ok {
		return nil, notFound("zone", id)
	}
	return z.Clone(), nil
}

// ListZones returns the zones matching the filter in creation order.
func (m *Store) ListZones(ctx context.Context, filter cluster.ZoneFilter) ([]*models.PlacementZone, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("ListZones"); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(m.zones))
	for id := range m.zones {
		keys = append(keys, "zone/"+id)
	}
	m.order(keys)

	out := make([]*models.PlacementZone, 0, len(keys))
	for _, key := range keys {
		z := m.zones[key[len("zone/"):]]
		if filter.Project != "" && !z.InProject(filter.Project) {
			continue
		}
		if !filter.Where.Match(z) {
			continue
		}
		out = append(out, z.Clone())
	}
	return out, nil
}

// PatchZone applies a partial update. It returns nil when nothing changed.
func (m *Store) PatchZone(ctx context.Context, id string, patch cluster.ZonePatch) (*models.PlacementZone, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("PatchZone"); err != nil {
		return nil, err
	}
	current, ok := m.zones[id]
	if !ok {
		return nil, notFound("zone", id)
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
	if len(next.CustomProperties) == 0 && len(current.CustomProperties) == 0 {
		next.CustomProperties = current.CustomProperties
	}
	if reflect.DeepEqual(current, next) {
		return nil, nil
	}

	next.UpdatedAt = time.Now().UTC()
	m.zones[id] = next
	return next.Clone(), nil
}

// DeleteZone removes a zone.
func (m *Store) DeleteZone(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("DeleteZone"); err != nil {
		return err
	}
	if _, ok := m.zones[id]; !ok {
		return notFound("zone", id)
	}
	delete(m.zones, id)
	delete(m.seq, "zone/"+id)
	return nil
}

// ──────────────────────────────────────────────────
// Placements
// ──────────────────────────────────────────────────

// CreatePlacement stores a new placement.
func (m *Store) CreatePlacement(ctx context.Context, p *models.Placement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("CreatePlacement"); err != nil {
		return err
	}
	if _, exists := m.placements[p.ID]; exists {
		return fmt.Errorf("placement %s: %w", p.ID, cluster.ErrConflict)
	}
	cp := *p
	cp.TenantLinks = append([]string(nil), p.TenantLinks...)
	m.placements[p.ID] = &cp
	m.track("placement/" + p.ID)
	return nil
}

// ListPlacements returns the placements bound to a zone.
func (m *Store) ListPlacements(ctx context.Context, zoneID string) ([]*models.Placement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0)
	for id, p := range m.placements {
		if zoneID == "" || p.ZoneID == zoneID {
			keys = append(keys, "placement/"+id)
		}
	}
	m.order(keys)

	out := make([]*models.Placement, 0, len(keys))
	for _, key := range keys {
		cp := *m.placements[key[len("placement/"):]]
		out = append(out, &cp)
	}
	return out, nil
}

// DeletePlacement removes a placement.
func (m *Store) DeletePlacement(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("DeletePlacement"); err != nil {
		return err
	}
	if _, ok := m.placements[id]; !ok {
		return notFound("placement", id)
	}
	delete(m.placements, id)
	delete(m.seq, "placement/"+id)
	return nil
}

// ──────────────────────────────────────────────────
// Hosts
// ──────────────────────────────────────────────────

// ListHosts returns matching hosts in registration order.
func (m *Store) ListHosts(ctx context.Context, filter cluster.HostFilter) ([]*models.Host, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("ListHosts"); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(m.hosts))
	for id := range m.hosts {
		keys = append(keys, "host/"+id)
	}
	m.order(keys)

	out := make([]*models.Host, 0)
	skipped := 0
	for _, key := range keys {
		h := m.hosts[key[len("host/"):]]
		if !filter.Query.Matches(h) {
			continue
		}
		if filter.Project != "" && !h.InProject(filter.Project) {
			continue
		}
		if !filter.Where.Match(h) {
			continue
		}
		if skipped < filter.Skip {
			skipped++
			continue
		}
		out = append(out, h.Clone())
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// GetHost returns a host by id.
func (m *Store) GetHost(ctx context.Context, id string) (*models.Host, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.hosts[id]
	if !ok {
		return nil, notFound("host", id)
	}
	return h.Clone(), nil
}

// SaveHost creates or replaces a host record.
func (m *Store) SaveHost(ctx context.Context, host *models.Host) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("SaveHost"); err != nil {
		return err
	}
	now := time.Now().UTC()
	if host.CreatedAt.IsZero() {
		host.CreatedAt = now
	}
	host.UpdatedAt = now
	m.hosts[host.ID] = host.Clone()
	m.track("host/" + host.ID)
	return nil
}

// PatchHostProperties merges custom properties; nil values remove keys.
func (m *Store) PatchHostProperties(ctx context.Context, id string, props map[string]*string) (*models.Host, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("PatchHostProperties"); err != nil {
		return nil, err
	}
	h, ok := m.hosts[id]
	if !ok {
		return nil, notFound("host", id)
	}
	next := h.Clone()
	for k, v := range props {
		if v == nil {
			delete(next.CustomProperties, k)
			continue
		}
		if next.CustomProperties == nil {
			next.CustomProperties = make(map[string]string)
		}
		next.CustomProperties[k] = *v
	}
	next.UpdatedAt = time.Now().UTC()
	m.hosts[id] = next
	return next.Clone(), nil
}

// DeleteHost removes a host record.
func (m *Store) DeleteHost(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("DeleteHost"); err != nil {
		return err
	}
	if _, ok := m.hosts[id]; !ok {
		return notFound("host", id)
	}
	delete(m.hosts, id)
	delete(m.seq, "host/"+id)
	return nil
}

// ──────────────────────────────────────────────────
// Removal tasks
// ──────────────────────────────────────────────────

// CreateRemovalTask stores a new task.
func (m *Store) CreateRemovalTask(ctx context.Context, task *models.RemovalTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("CreateRemovalTask"); err != nil {
		return err
	}
	if _, exists := m.tasks[task.ID]; exists {
		return fmt.Errorf("task %s: %w", task.ID, cluster.ErrConflict)
	}
	m.tasks[task.ID] = task.Clone()
	m.track("task/" + task.ID)
	return nil
}

// GetRemovalTask returns a task by id.
func (m *Store) GetRemovalTask(ctx context.Context, id string) (*models.RemovalTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, notFound("task", id)
	}
	return t.Clone(), nil
}

// UpdateRemovalTask replaces a stored task. A terminal stage is final.
func (m *Store) UpdateRemovalTask(ctx context.Context, task *models.RemovalTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("UpdateRemovalTask"); err != nil {
		return err
	}
	existing, ok := m.tasks[task.ID]
	if !ok {
		return notFound("task", task.ID)
	}
	if existing.Stage.IsTerminal() && existing.Stage != task.Stage {
		return fmt.Errorf("removal task %s is already %s: %w", task.ID, existing.Stage, cluster.ErrConflict)
	}
	m.tasks[task.ID] = task.Clone()
	return nil
}

// ListRemovalTasks returns tasks in the given stage, or all tasks when
// stage is empty.
func (m *Store) ListRemovalTasks(ctx context.Context, stage models.TaskStage) ([]*models.RemovalTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.tasks))
	for id, t := range m.tasks {
		if stage == "" || t.Stage == stage {
			keys = append(keys, "task/"+id)
		}
	}
	m.order(keys)

	out := make([]*models.RemovalTask, 0, len(keys))
	for _, key := range keys {
		out = append(out, m.tasks[key[len("task/"):]].Clone())
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Trusted certificates
// ──────────────────────────────────────────────────

// GetTrustedCertificate looks up a certificate by fingerprint.
func (m *Store) GetTrustedCertificate(ctx context.Context, fingerprint string) (*models.TrustedCertificate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.certs[fingerprint]
	if !ok {
		return nil, notFound("certificate", fingerprint)
	}
	cp := *c
	return &cp, nil
}

// SaveTrustedCertificate stores or replaces a certificate.
func (m *Store) SaveTrustedCertificate(ctx context.Context, cert *models.TrustedCertificate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *cert
	m.certs[cert.Fingerprint] = &cp
	return nil
}
