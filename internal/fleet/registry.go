package fleet

import (
	"sync"

	"github.com/HerbHall/iloscout/pkg/models"
	"github.com/HerbHall/iloscout/pkg/netaddr"
)

// Registry holds the live client objects, keyed by iLO UUID. An iLO is
// always present in the unauthenticated map once admitted; the
// authenticated map holds the subset with working credentials.
type Registry struct {
	mu     sync.RWMutex
	unauth map[string]*models.UnauthenticatedClient
	auth   map[string]*models.AuthenticatedClient
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		unauth: make(map[string]*models.UnauthenticatedClient),
		auth:   make(map[string]*models.AuthenticatedClient),
	}
}

// PutUnauthenticated stores or replaces a client.
func (r *Registry) PutUnauthenticated(c *models.UnauthenticatedClient) {
	r.mu.Lock()
	r.unauth[c.IloUUID()] = c
	r.mu.Unlock()
}

// PutAuthenticated stores or replaces an authenticated client.
func (r *Registry) PutAuthenticated(c *models.AuthenticatedClient) {
	r.mu.Lock()
	r.auth[c.IloUUID()] = c
	r.mu.Unlock()
}

// Remove drops the client from both maps.
func (r *Registry) Remove(uuid string) {
	r.mu.Lock()
	delete(r.unauth, uuid)
	delete(r.auth, uuid)
	r.mu.Unlock()
}

// Unauthenticated returns the unauthenticated clients.
func (r *Registry) Unauthenticated() []*models.UnauthenticatedClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.UnauthenticatedClient, 0, len(r.unauth))
	for _, c := range r.unauth {
		out = append(out, c)
	}
	return out
}

// Authenticated returns the authenticated clients.
func (r *Registry) Authenticated() []*models.AuthenticatedClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.AuthenticatedClient, 0, len(r.auth))
	for _, c := range r.auth {
		out = append(out, c)
	}
	return out
}

// Get returns the unauthenticated client for a UUID.
func (r *Registry) Get(uuid string) (*models.UnauthenticatedClient, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.unauth[uuid]
	return c, ok
}

// AddressOf returns the address recorded for a UUID.
func (r *Registry) AddressOf(uuid string) (netaddr.IPv4Address, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.unauth[uuid]; ok {
		return c.Address(), true
	}
	return 0, false
}

// Len returns the number of tracked clients.
func (r *Registry) Len() (unauth, auth int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.unauth), len(r.auth)
}
