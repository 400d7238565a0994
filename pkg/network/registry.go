package network

import (
	"errors"
	"sort"
)

var (
	ErrRegistryFull      = errors.New("registry full")
	ErrAlreadyRegistered = errors.New("connection already registered")
	ErrNotFound          = errors.New("not found")
)

// DefaultCapacity is the number of clients a relay serves at once
const DefaultCapacity = 6

// Identity is the routing address the relay assigns to a connection
type Identity int

// Registry is the authoritative record of live connections and their identities.
//
// Both maps are keyed by file descriptor and always hold the same key set;
// only Register and Unregister mutate them. Identities grow from 1 and are
// never handed out twice during the life of a Registry, so a client that
// reconnects gets a new one. Capacity bounds live connections, not identities.
//
// Registry is not safe for concurrent use; the event loop owns it.
type Registry struct {
	capacity int
	nextID   Identity

	conns map[int]*Conn    // fd -> connection
	ids   map[int]Identity // fd -> identity
}

// NewRegistry creates a registry accepting up to capacity live connections.
// capacity <= 0 selects DefaultCapacity.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		capacity: capacity,
		nextID:   1,
		conns:    make(map[int]*Conn),
		ids:      make(map[int]Identity),
	}
}

// Register assigns the next identity to c
func (r *Registry) Register(c *Conn) (Identity, error) {
	if _, exists := r.conns[c.fd]; exists {
		return 0, ErrAlreadyRegistered
	}
	if len(r.conns) >= r.capacity {
		return 0, ErrRegistryFull
	}

	id := r.nextID
	r.nextID++

	r.conns[c.fd] = c
	r.ids[c.fd] = id

	return id, nil
}

// Unregister forgets c; unknown connections are ignored
func (r *Registry) Unregister(c *Conn) {
	if current, exists := r.conns[c.fd]; !exists || current != c {
		return
	}
	delete(r.conns, c.fd)
	delete(r.ids, c.fd)
}

// Resolve finds the live connection holding id
func (r *Registry) Resolve(id Identity) (*Conn, error) {
	for fd, cid := range r.ids {
		if cid == id {
			return r.conns[fd], nil
		}
	}
	return nil, ErrNotFound
}

// IdentityOf returns the identity assigned to c
func (r *Registry) IdentityOf(c *Conn) (Identity, bool) {
	if current, exists := r.conns[c.fd]; !exists || current != c {
		return 0, false
	}
	id, ok := r.ids[c.fd]
	return id, ok
}

// Lookup finds a live connection by file descriptor
func (r *Registry) Lookup(fd int) (*Conn, bool) {
	c, ok := r.conns[fd]
	return c, ok
}

// Identities returns live identities in ascending order
func (r *Registry) Identities() []Identity {
	ids := make([]Identity, 0, len(r.ids))
	for _, id := range r.ids {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Conns returns live connections ordered by identity
func (r *Registry) Conns() []*Conn {
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	sort.Slice(conns, func(i, j int) bool {
		return r.ids[conns[i].fd] < r.ids[conns[j].fd]
	})
	return conns
}

// Len returns the number of live connections
func (r *Registry) Len() int {
	return len(r.conns)
}

// Capacity returns the live connection limit
func (r *Registry) Capacity() int {
	return r.capacity
}
