// Package zone manages per-tenant isolation zones: their lifecycle, their
// rate limits and the executor that runs code inside them.
package zone

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcptrust/execgate/internal/observability/logging"
)

const component = "zone"

// Status of a zone.
type Status string

const (
	StatusActive     Status = "active"
	StatusSuspended  Status = "suspended"
	StatusTerminated Status = "terminated"
)

var (
	ErrNoTenant   = errors.New("tenant id is required")
	ErrUnknown    = errors.New("zone not found")
	ErrTerminated = errors.New("zone is terminated")
)

// Zone is one tenant's isolation context.
type Zone struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	Status    Status    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Manager owns one zone per tenant.
type Manager struct {
	log logging.Logger
	now func() time.Time

	mu    sync.Mutex
	zones map[string]*Zone
}

func NewManager(log logging.Logger) *Manager {
	return &Manager{
		log:   logging.OrNop(log),
		now:   time.Now,
		zones: make(map[string]*Zone),
	}
}

// EnsureZone returns the tenant's zone, creating an active one if needed.
// Existing zones are returned in whatever status they are in.
func (m *Manager) EnsureZone(tenantID string) (Zone, error) {
	if tenantID == "" {
		return Zone{}, ErrNoTenant
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if z, ok := m.zones[tenantID]; ok {
		return *z, nil
	}
	now := m.now().UTC()
	z := &Zone{
		ID:        "zone-" + uuid.NewString(),
		TenantID:  tenantID,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.zones[tenantID] = z
	m.log.Info(component, "zone created", "tenant_id", tenantID, "zone_id", z.ID)
	return *z, nil
}

// Get returns the tenant's zone.
func (m *Manager) Get(tenantID string) (Zone, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, ok := m.zones[tenantID]
	if !ok {
		return Zone{}, false
	}
	return *z, true
}

// List returns all zones sorted by tenant.
func (m *Manager) List() []Zone {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Zone, 0, len(m.zones))
	for _, z := range m.zones {
		out = append(out, *z)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out
}

func (m *Manager) transition(tenantID string, to Status, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, ok := m.zones[tenantID]
	if !ok {
		return fmt.Errorf("%w: tenant %s", ErrUnknown, tenantID)
	}
	if z.Status == StatusTerminated {
		return fmt.Errorf("%w: tenant %s", ErrTerminated, tenantID)
	}
	z.Status = to
	z.Reason = reason
	z.UpdatedAt = m.now().UTC()
	m.log.Info(component, "zone status changed", "tenant_id", tenantID, "status", string(to), "reason", reason)
	return nil
}

func (m *Manager) Suspend(tenantID, reason string) error {
	return m.transition(tenantID, StatusSuspended, reason)
}

func (m *Manager) Resume(tenantID string) error {
	return m.transition(tenantID, StatusActive, "")
}

// Terminate is final.
func (m *Manager) Terminate(tenantID, reason string) error {
	return m.transition(tenantID, StatusTerminated, reason)
}
