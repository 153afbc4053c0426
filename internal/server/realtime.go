package server

import (
	"sync"

	"go.uber.org/zap"

	"github.com/parleyhq/parley/internal/presence"
)

// subscriber is the delivery half of a realtime session: a buffered outbound
// stream drained by the session's write pump. Delivery is non-blocking; a
// full buffer drops the payload rather than stalling fan-out for everyone
// else, and dead peers are reaped by the transport's ping deadlines.
type subscriber interface {
	connID() int64
	principalID() string
	trySend(payload []byte) bool
}

// Router encapsulates the fan-out policy: which connections receive a room
// broadcast, a principal-scoped unicast, or a presence announcement. Room
// membership is connection-scoped and independent of the message store.
type Router struct {
	mu         sync.RWMutex
	rooms      map[string]map[int64]subscriber
	principals map[string]map[int64]subscriber
	nextID     int64

	presence *presence.Table
	logger   *zap.Logger
}

// NewRouter constructs a Router around the given presence table.
func NewRouter(table *presence.Table, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		rooms:      make(map[string]map[int64]subscriber),
		principals: make(map[string]map[int64]subscriber),
		presence:   table,
		logger:     logger,
	}
}

// nextConnID issues a process-unique connection identifier.
func (r *Router) nextConnID() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	return r.nextID
}

// register attaches the connection to its principal-scoped channel, records
// it in the presence table, and announces the updated presence set.
func (r *Router) register(sub subscriber, displayName, email string) {
	r.mu.Lock()
	id := sub.principalID()
	if _, ok := r.principals[id]; !ok {
		r.principals[id] = make(map[int64]subscriber)
	}
	r.principals[id][sub.connID()] = sub
	r.mu.Unlock()

	r.presence.Upsert(presence.Entry{
		PrincipalID: id,
		ConnID:      sub.connID(),
		DisplayName: displayName,
		Email:       email,
	})
	r.announcePresence()
}

// unregister detaches the connection from every room and from its principal
// channel, removes its presence entry, and announces the change. Presence
// removal is guarded by connection id so tearing down a superseded
// connection cannot evict a fresh one.
func (r *Router) unregister(sub subscriber) {
	r.mu.Lock()
	for room, members := range r.rooms {
		delete(members, sub.connID())
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	id := sub.principalID()
	if sessions := r.principals[id]; sessions != nil {
		delete(sessions, sub.connID())
		if len(sessions) == 0 {
			delete(r.principals, id)
		}
	}
	r.mu.Unlock()

	if r.presence.Remove(id, sub.connID()) {
		r.announcePresence()
	}
}

// join subscribes the connection to a room's delivery set.
func (r *Router) join(room string, sub subscriber) {
	if room == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[room]; !ok {
		r.rooms[room] = make(map[int64]subscriber)
	}
	r.rooms[room][sub.connID()] = sub
}

// leave detaches the connection from a room's delivery set.
func (r *Router) leave(room string, sub subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := r.rooms[room]
	if members == nil {
		return
	}
	delete(members, sub.connID())
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// broadcastRoom delivers the payload to every connection currently joined to
// the room. Connections that join later do not receive it retroactively.
func (r *Router) broadcastRoom(room string, payload []byte, except subscriber) {
	r.fanOut(r.snapshotRoom(room), payload, except)
}

// sendToPrincipal delivers the payload to every connection of the principal.
// An unknown or disconnected principal is simply unreachable; the payload is
// dropped silently.
func (r *Router) sendToPrincipal(id string, payload []byte) {
	r.fanOut(r.snapshotPrincipal(id), payload, nil)
}

// broadcastTarget delivers to the union of a room's subscribers and the
// connections of a principal with the same identifier, excluding the sender.
// Typing notifications address either kind of target with one identifier.
func (r *Router) broadcastTarget(target string, payload []byte, except subscriber) {
	seen := make(map[int64]struct{})
	combined := make([]subscriber, 0)
	for _, sub := range r.snapshotRoom(target) {
		if _, ok := seen[sub.connID()]; !ok {
			seen[sub.connID()] = struct{}{}
			combined = append(combined, sub)
		}
	}
	for _, sub := range r.snapshotPrincipal(target) {
		if _, ok := seen[sub.connID()]; !ok {
			seen[sub.connID()] = struct{}{}
			combined = append(combined, sub)
		}
	}
	r.fanOut(combined, payload, except)
}

// broadcastAll delivers the payload to every connected session.
func (r *Router) broadcastAll(payload []byte) {
	r.mu.RLock()
	seen := make(map[int64]struct{})
	everyone := make([]subscriber, 0)
	for _, sessions := range r.principals {
		for _, sub := range sessions {
			if _, ok := seen[sub.connID()]; !ok {
				seen[sub.connID()] = struct{}{}
				everyone = append(everyone, sub)
			}
		}
	}
	r.mu.RUnlock()
	r.fanOut(everyone, payload, nil)
}

// announcePresence broadcasts the full presence snapshot to every connection.
// Full-snapshot replace semantics, not an incremental diff.
func (r *Router) announcePresence() {
	payload, err := encodeEvent(EventUsersOnline, presencePayload(r.presence.Snapshot()))
	if err != nil {
		r.logger.Error("failed to encode presence snapshot", zap.Error(err))
		return
	}
	r.broadcastAll(payload)
}

func (r *Router) snapshotRoom(room string) []subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[room]
	snapshot := make([]subscriber, 0, len(members))
	for _, sub := range members {
		snapshot = append(snapshot, sub)
	}
	return snapshot
}

func (r *Router) snapshotPrincipal(id string) []subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := r.principals[id]
	snapshot := make([]subscriber, 0, len(sessions))
	for _, sub := range sessions {
		snapshot = append(snapshot, sub)
	}
	return snapshot
}

// fanOut delivers independently per recipient; one full buffer never blocks
// delivery to the others.
func (r *Router) fanOut(targets []subscriber, payload []byte, except subscriber) {
	for _, sub := range targets {
		if except != nil && sub.connID() == except.connID() {
			continue
		}
		if !sub.trySend(payload) {
			r.logger.Debug("dropped payload for slow subscriber",
				zap.String("principal_id", sub.principalID()),
				zap.Int64("conn_id", sub.connID()))
		}
	}
}
