// Package registry is the in-memory record of which users are connected, through
// which connections, and which multicast groups those connections belong to. It is
// the single writer-of-record for connection membership; the gateway mutates it and
// everything else only reads.
package registry

import (
	"sync"
	"time"
)

// Handle is the send side of a live connection. Implemented by the gateway's
// connection wrapper so the registry carries no transport dependency.
type Handle interface {
	// Send enqueues a payload for delivery. Returns false if the connection is closed
	// or its outbound buffer is full; it never blocks and never panics.
	Send(payload []byte) bool
	// Close terminates the connection.
	Close()
}

// Metadata holds display fields attached to a user session.
type Metadata struct {
	Role        string
	DisplayName string
}

// Connection is one live transport session belonging to exactly one user.
type Connection struct {
	ID            string
	UserID        string
	RemoteIP      string
	EstablishedAt time.Time
	LastActivity  time.Time
	Alive         bool
	Handle        Handle
}

type userSession struct {
	meta         Metadata
	connIDs      map[string]struct{}
	lastActivity time.Time
}

// Stats is a point-in-time snapshot of registry occupancy.
type Stats struct {
	Users       int `json:"users"`
	Connections int `json:"connections"`
	Groups      int `json:"groups"`
}

// Registry tracks user sessions, connections and groups. All methods are safe for
// concurrent use. Operations on unknown ids are no-ops returning false.
type Registry struct {
	mu     sync.RWMutex
	users  map[string]*userSession
	conns  map[string]*Connection
	groups map[string]map[string]struct{}
	nowF   func() time.Time
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		users:  make(map[string]*userSession),
		conns:  make(map[string]*Connection),
		groups: make(map[string]map[string]struct{}),
		nowF:   func() time.Time { return time.Now().UTC() },
	}
}

// Register records a connection for a user, creating the user session if absent.
// Registration is idempotent per (userID, connID): re-registering replaces the
// handle and refreshes activity but does not duplicate membership.
func (r *Registry) Register(userID, connID, remoteIP string, meta Metadata, h Handle) {
	now := r.nowF()
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.users[userID]
	if !ok {
		s = &userSession{meta: meta, connIDs: make(map[string]struct{})}
		r.users[userID] = s
	}
	s.connIDs[connID] = struct{}{}
	s.lastActivity = now

	r.conns[connID] = &Connection{
		ID:            connID,
		UserID:        userID,
		RemoteIP:      remoteIP,
		EstablishedAt: now,
		LastActivity:  now,
		Alive:         true,
		Handle:        h,
	}
}

// Unregister removes a connection. Removing the last connection of a user deletes
// the user session; group memberships of the connection are cascaded. Returns false
// if the (userID, connID) pair is unknown.
func (r *Registry) Unregister(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unregisterLocked(userID, connID)
}

func (r *Registry) unregisterLocked(userID, connID string) bool {
	c, ok := r.conns[connID]
	if !ok || c.UserID != userID {
		return false
	}
	delete(r.conns, connID)

	if s, ok := r.users[userID]; ok {
		delete(s.connIDs, connID)
		if len(s.connIDs) == 0 {
			delete(r.users, userID)
		}
	}
	for groupID, members := range r.groups {
		if _, ok := members[connID]; ok {
			delete(members, connID)
			if len(members) == 0 {
				delete(r.groups, groupID)
			}
		}
	}
	return true
}

// ConnectionsOf returns the handles of every live connection of a user.
func (r *Registry) ConnectionsOf(userID string) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.users[userID]
	if !ok {
		return nil
	}
	out := make([]Handle, 0, len(s.connIDs))
	for id := range s.connIDs {
		if c, ok := r.conns[id]; ok {
			out = append(out, c.Handle)
		}
	}
	return out
}

// IsConnected reports whether the user has at least one live connection.
func (r *Registry) IsConnected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.users[userID]
	return ok && len(s.connIDs) > 0
}

// UserOf returns the owner of a connection id.
func (r *Registry) UserOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	if !ok {
		return "", false
	}
	return c.UserID, true
}

// MetadataOf returns the session metadata of a connected user.
func (r *Registry) MetadataOf(userID string) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.users[userID]
	if !ok {
		return Metadata{}, false
	}
	return s.meta, true
}

// AddToGroup adds a connection to a group, creating the group if absent.
// Returns false if the connection is unknown.
func (r *Registry) AddToGroup(connID, groupID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[connID]; !ok {
		return false
	}
	members, ok := r.groups[groupID]
	if !ok {
		members = make(map[string]struct{})
		r.groups[groupID] = members
	}
	members[connID] = struct{}{}
	return true
}

// RemoveFromGroup removes a connection from a group; an emptied group is deleted.
// Returns false if the group or membership is unknown.
func (r *Registry) RemoveFromGroup(connID, groupID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.groups[groupID]
	if !ok {
		return false
	}
	if _, ok := members[connID]; !ok {
		return false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.groups, groupID)
	}
	return true
}

// MembersOf returns the handles of every connection in a group.
func (r *Registry) MembersOf(groupID string) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members, ok := r.groups[groupID]
	if !ok {
		return nil
	}
	out := make([]Handle, 0, len(members))
	for id := range members {
		if c, ok := r.conns[id]; ok {
			out = append(out, c.Handle)
		}
	}
	return out
}

// Touch refreshes the activity timestamp of a connection and its user session.
func (r *Registry) Touch(connID string) {
	now := r.nowF()
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connID]
	if !ok {
		return
	}
	c.LastActivity = now
	if s, ok := r.users[c.UserID]; ok {
		s.lastActivity = now
	}
}

// SetAlive flips the liveness flag of a connection. Used by the gateway heartbeat:
// flipped false on ping, back to true on pong.
func (r *Registry) SetAlive(connID string, alive bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[connID]; ok {
		c.Alive = alive
		if alive {
			c.LastActivity = r.nowF()
		}
	}
}

// Snapshot returns a copy of every connection record. Handles are shared, records
// are copies; callers may iterate without holding the registry lock.
func (r *Registry) Snapshot() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, *c)
	}
	return out
}

// SweepInactive removes connections whose last activity is older than timeout,
// cascading user-session and group cleanup. Returns the removed connections so the
// gateway can close their sockets.
func (r *Registry) SweepInactive(timeout time.Duration) []Connection {
	cutoff := r.nowF().Add(-timeout)
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []Connection
	for id, c := range r.conns {
		if c.LastActivity.Before(cutoff) {
			removed = append(removed, *c)
			r.unregisterLocked(c.UserID, id)
		}
	}
	return removed
}

// Stats returns current occupancy counts.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		Users:       len(r.users),
		Connections: len(r.conns),
		Groups:      len(r.groups),
	}
}
