// Package presence tracks which identities are reachable over a live
// connection in this process, their display names and recent activity, and
// the identities an administrator has hidden from their conversation list.
//
// A Directory is constructed once per server process and shared by every
// connection. All methods are safe for concurrent use.
package presence

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Conn is a live connection handle. Handles are compared by ID.
type Conn interface {
	ID() string
	Emit(event string, payload any) error
}

// HiddenStore persists the admin→user hidden relation.
type HiddenStore interface {
	HideUser(ctx context.Context, adminID, userID string) error
	UnhideUser(ctx context.Context, adminID, userID string) error
	ListHidden(ctx context.Context, adminID string) ([]string, error)
}

// Entry is one row of an admin's conversation list.
type Entry struct {
	Identity     string    `json:"userId"`
	DisplayName  string    `json:"username"`
	LastActivity time.Time `json:"lastMessageTime"`
}

// MarshalJSON writes lastMessageTime as 0 for an identity with no activity.
func (e Entry) MarshalJSON() ([]byte, error) {
	var last any = 0
	if !e.LastActivity.IsZero() {
		last = e.LastActivity
	}
	return json.Marshal(struct {
		Identity     string `json:"userId"`
		DisplayName  string `json:"username"`
		LastActivity any    `json:"lastMessageTime"`
	}{e.Identity, e.DisplayName, last})
}

type hiddenSet struct {
	ids   map[string]struct{}
	stale bool
	gen   uint64
}

// Directory is the process-local presence registry.
type Directory struct {
	adminID string
	store   HiddenStore
	log     zerolog.Logger

	mu        sync.RWMutex
	conns     map[string]Conn      // identity -> live handle (last writer wins)
	names     map[string]string    // identity -> display name for every known identity
	seq       map[string]uint64    // identity -> insertion order, for stable ties
	activity  map[string]time.Time // identity -> latest chat activity
	next      uint64
	adminConn Conn
	hidden    map[string]*hiddenSet // admin identity -> cached hidden ids
}

// New builds an empty Directory. adminID is the reserved identity whose
// registrations become the canonical admin channel.
func New(adminID string, store HiddenStore, log zerolog.Logger) *Directory {
	return &Directory{
		adminID:  adminID,
		store:    store,
		log:      log.With().Str("component", "presence").Logger(),
		conns:    make(map[string]Conn),
		names:    make(map[string]string),
		seq:      make(map[string]uint64),
		activity: make(map[string]time.Time),
		hidden:   make(map[string]*hiddenSet),
	}
}

// AdminID returns the reserved admin identity.
func (d *Directory) AdminID() string { return d.adminID }

// Register maps identity to conn, replacing any earlier handle. An empty
// displayName falls back to the identity itself. Registering the admin
// identity also makes conn the canonical admin channel.
func (d *Directory) Register(identity, displayName string, conn Conn) {
	if displayName == "" {
		displayName = identity
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.conns[identity] = conn
	d.knowLocked(identity, displayName)
	if identity == d.adminID {
		d.adminConn = conn
	}
}

// Know records identity as a known correspondent without a live handle.
// An existing display name is kept.
func (d *Directory) Know(identity string, lastActivity time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.names[identity]; !ok {
		d.knowLocked(identity, identity)
	}
	d.touchLocked(identity, lastActivity)
}

func (d *Directory) knowLocked(identity, displayName string) {
	if _, ok := d.seq[identity]; !ok {
		d.next++
		d.seq[identity] = d.next
	}
	d.names[identity] = displayName
}

// Lookup returns the live handle for identity, if any.
func (d *Directory) Lookup(identity string) (Conn, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.conns[identity]
	return c, ok
}

// Admin returns the canonical admin channel, if one is registered.
func (d *Directory) Admin() (Conn, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.adminConn, d.adminConn != nil
}

// DisplayName returns the known name for identity, or the identity itself.
func (d *Directory) DisplayName(identity string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if n, ok := d.names[identity]; ok && n != "" {
		return n
	}
	return identity
}

// Remove drops every identity whose handle is conn and returns them. An
// identity already re-registered on a newer handle is left alone.
func (d *Directory) Remove(conn Conn) []string {
	if conn == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.adminConn != nil && d.adminConn.ID() == conn.ID() {
		d.adminConn = nil
	}

	var removed []string
	for id, c := range d.conns {
		if c.ID() != conn.ID() {
			continue
		}
		delete(d.conns, id)
		delete(d.names, id)
		delete(d.seq, id)
		removed = append(removed, id)
	}
	sort.Strings(removed)
	return removed
}

// Touch records chat activity for identity. Older timestamps are ignored.
func (d *Directory) Touch(identity string, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.touchLocked(identity, at)
}

func (d *Directory) touchLocked(identity string, at time.Time) {
	if at.IsZero() {
		return
	}
	if cur, ok := d.activity[identity]; !ok || at.After(cur) {
		d.activity[identity] = at
	}
}

func (d *Directory) hiddenLocked(adminID string) *hiddenSet {
	hs, ok := d.hidden[adminID]
	if !ok {
		hs = &hiddenSet{ids: make(map[string]struct{}), stale: true}
		d.hidden[adminID] = hs
	}
	return hs
}

// Hide persists that adminID suppressed userID and updates the cached set.
// Store errors are logged and leave the cache untouched.
func (d *Directory) Hide(ctx context.Context, adminID, userID string) {
	if err := d.store.HideUser(ctx, adminID, userID); err != nil {
		d.log.Error().Err(err).Str("admin", adminID).Str("user", userID).Msg("hide user")
		return
	}
	d.mu.Lock()
	hs := d.hiddenLocked(adminID)
	hs.ids[userID] = struct{}{}
	hs.stale = true
	hs.gen++
	d.mu.Unlock()
}

// Unhide deletes the hidden relation and makes userID a known correspondent
// again. Store errors are logged and leave the cache untouched.
func (d *Directory) Unhide(ctx context.Context, adminID, userID string) {
	if err := d.store.UnhideUser(ctx, adminID, userID); err != nil {
		d.log.Error().Err(err).Str("admin", adminID).Str("user", userID).Msg("unhide user")
		return
	}
	d.mu.Lock()
	hs := d.hiddenLocked(adminID)
	delete(hs.ids, userID)
	hs.stale = true
	hs.gen++
	if _, ok := d.names[userID]; !ok {
		d.knowLocked(userID, userID)
	}
	d.mu.Unlock()
}

// refreshHidden reloads the hidden set for adminID when it is stale. On
// failure the last-known set stays in place and the reload is retried on the
// next call.
func (d *Directory) refreshHidden(ctx context.Context, adminID string) {
	d.mu.Lock()
	hs := d.hiddenLocked(adminID)
	if !hs.stale {
		d.mu.Unlock()
		return
	}
	gen := hs.gen
	d.mu.Unlock()

	ids, err := d.store.ListHidden(ctx, adminID)
	if err != nil {
		d.log.Warn().Err(err).Str("admin", adminID).Msg("load hidden users; keeping cached set")
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	// A hide/unhide raced with the load; keep the locally updated set.
	if hs.gen != gen {
		return
	}
	fresh := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		fresh[id] = struct{}{}
	}
	hs.ids = fresh
	hs.stale = false
}

// Hidden returns the identities hidden by adminID.
func (d *Directory) Hidden(ctx context.Context, adminID string) map[string]bool {
	d.refreshHidden(ctx, adminID)

	d.mu.RLock()
	defer d.mu.RUnlock()
	hs := d.hidden[adminID]
	out := make(map[string]bool, len(hs.ids))
	for id := range hs.ids {
		out[id] = true
	}
	return out
}

// Snapshot lists every known identity except adminID itself and the ones it
// has hidden, most recent activity first. Ties keep insertion order.
func (d *Directory) Snapshot(ctx context.Context, adminID string) []Entry {
	d.refreshHidden(ctx, adminID)

	d.mu.RLock()
	hs := d.hidden[adminID]
	out := make([]Entry, 0, len(d.names))
	order := make(map[string]uint64, len(d.names))
	for id, name := range d.names {
		if id == adminID {
			continue
		}
		if _, hidden := hs.ids[id]; hidden {
			continue
		}
		out = append(out, Entry{Identity: id, DisplayName: name, LastActivity: d.activity[id]})
		order[id] = d.seq[id]
	}
	d.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.LastActivity.Equal(b.LastActivity) {
			return a.LastActivity.After(b.LastActivity)
		}
		return order[a.Identity] < order[b.Identity]
	})
	return out
}

// Online reports how many identities currently hold a live handle. A handle
// registered under several identities counts once per identity.
func (d *Directory) Online() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.conns)
}
