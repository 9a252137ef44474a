// Package identity ties an execution to who asked for it and what engine
// definition it runs under: identity chains, manifest fingerprints, scoped
// execution tokens and manifest verification.
package identity

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcptrust/execgate/internal/audit"
)

var (
	ErrFingerprintMismatch = errors.New("manifest fingerprint mismatch")
	ErrChainMismatch       = errors.New("identity chain mismatch")
	ErrTenantMismatch      = errors.New("tenant mismatch")
	ErrInvalidToken        = errors.New("invalid execution token")
	ErrTokenExpired        = errors.New("execution token expired")
	ErrMissingScope        = errors.New("required scope not granted")
	ErrImageNotPinned      = errors.New("engine image is not digest-pinned")
)

// DefaultEngine is used when a caller does not name one.
const DefaultEngine = "default"

// Chain links tenant, user, engine and manifest for one execution.
type Chain struct {
	ID                  string    `json:"id"`
	TenantID            string    `json:"tenantId"`
	UserID              string    `json:"userId"`
	Engine              string    `json:"engine"`
	ManifestFingerprint string    `json:"manifestFingerprint,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
}

// Ref is the audit view of the chain.
func (c Chain) Ref() audit.ChainRef {
	return audit.ChainRef{ChainID: c.ID, TenantID: c.TenantID, ActorID: c.UserID}
}

// ChainManager creates chains and remembers them for lookup.
type ChainManager struct {
	now func() time.Time

	mu     sync.RWMutex
	chains map[string]Chain
}

func NewChainManager() *ChainManager {
	return &ChainManager{now: time.Now, chains: make(map[string]Chain)}
}

// Create builds a chain. A nil manifest leaves the fingerprint empty.
func (m *ChainManager) Create(tenantID, userID, engine string, manifest *Manifest) (Chain, error) {
	if engine == "" {
		engine = DefaultEngine
	}
	c := Chain{
		ID:        "chain-" + uuid.NewString(),
		TenantID:  tenantID,
		UserID:    userID,
		Engine:    engine,
		CreatedAt: m.now().UTC(),
	}
	if manifest != nil {
		fp, err := manifest.Fingerprint()
		if err != nil {
			return Chain{}, err
		}
		c.ManifestFingerprint = fp
	}
	m.mu.Lock()
	m.chains[c.ID] = c
	m.mu.Unlock()
	return c, nil
}

func (m *ChainManager) Get(id string) (Chain, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chains[id]
	return c, ok
}
