package collab

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"collab-service/internal/metrics"

	"github.com/patrickmn/go-cache"
)

const DefaultSnapshotTTL = 30 * time.Second

// Connection is the registry's record of one authenticated user.
type Connection struct {
	UserID          string
	Handle          Handle
	Online          bool
	ConnectedAt     time.Time
	LastHeartbeatAt time.Time
}

// FriendSnapshot partitions a user's friends by online status.
type FriendSnapshot struct {
	Online  []string `json:"online"`
	Offline []string `json:"offline"`
}

func (s FriendSnapshot) clone() FriendSnapshot {
	return FriendSnapshot{
		Online:  append([]string{}, s.Online...),
		Offline: append([]string{}, s.Offline...),
	}
}

// with moves userID into the online or offline list.
func (s FriendSnapshot) with(userID string, online bool) FriendSnapshot {
	next := FriendSnapshot{
		Online:  make([]string, 0, len(s.Online)+1),
		Offline: make([]string, 0, len(s.Offline)+1),
	}
	for _, id := range s.Online {
		if id != userID {
			next.Online = append(next.Online, id)
		}
	}
	for _, id := range s.Offline {
		if id != userID {
			next.Offline = append(next.Offline, id)
		}
	}
	if online {
		next.Online = append(next.Online, userID)
	} else {
		next.Offline = append(next.Offline, userID)
	}
	return next
}

type presenceChange struct {
	userID string
	online bool
}

// snapshotLoad collects transitions that land while a snapshot is being
// built from the stores.
type snapshotLoad struct {
	changes []presenceChange
}

// Registry maps each user to its single authoritative transport handle and
// fans presence transitions out to friends.
type Registry struct {
	presence PresenceStore
	friends  FriendStore
	notifier Notifier
	metrics  *metrics.Metrics
	now      func() time.Time

	mu    sync.RWMutex
	conns map[string]*Connection

	snapMu    sync.Mutex
	snapshots *cache.Cache
	loading   map[string][]*snapshotLoad

	degraded atomic.Bool
}

func NewRegistry(presence PresenceStore, friends FriendStore, notifier Notifier, m *metrics.Metrics, snapshotTTL time.Duration) *Registry {
	if snapshotTTL <= 0 {
		snapshotTTL = DefaultSnapshotTTL
	}
	if notifier == nil {
		notifier = NopNotifier()
	}
	return &Registry{
		presence:  presence,
		friends:   friends,
		notifier:  notifier,
		metrics:   m,
		now:       time.Now,
		conns:     make(map[string]*Connection),
		snapshots: cache.New(snapshotTTL, 2*snapshotTTL),
		loading:   make(map[string][]*snapshotLoad),
	}
}

// Register installs handle as the user's connection. A handle it replaces is
// returned so the caller can close it and cancel its pending work.
func (r *Registry) Register(ctx context.Context, handle Handle) (superseded Handle) {
	userID := handle.UserID()
	now := r.now()

	r.mu.Lock()
	if prev, ok := r.conns[userID]; ok && prev.Handle.ID() != handle.ID() {
		superseded = prev.Handle
	}
	r.conns[userID] = &Connection{
		UserID:          userID,
		Handle:          handle,
		Online:          true,
		ConnectedAt:     now,
		LastHeartbeatAt: now,
	}
	count := len(r.conns)
	r.mu.Unlock()

	r.metrics.SetConnections(count)
	slog.Info("Connection registered", "userID", userID, "handleID", handle.ID(), "superseded", superseded != nil)

	if r.presence != nil {
		if err := r.presence.SetUserOnline(ctx, userID); err != nil {
			r.markDegraded("set_online")
			slog.Error("Failed to persist online status", "userID", userID, "error", err)
		} else {
			r.markHealthy()
		}
	}

	r.fanOut(ctx, userID, true, now)
	return superseded
}

// Unregister removes the user's connection only while handleID is still the
// authoritative handle. It reports whether anything was removed.
func (r *Registry) Unregister(ctx context.Context, userID, handleID string) bool {
	r.mu.Lock()
	conn, ok := r.conns[userID]
	if !ok || conn.Handle.ID() != handleID {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, userID)
	count := len(r.conns)
	r.mu.Unlock()

	r.offline(ctx, userID, count)
	return true
}

func (r *Registry) offline(ctx context.Context, userID string, count int) {
	r.metrics.SetConnections(count)
	slog.Info("Connection deregistered", "userID", userID)

	if r.presence != nil {
		if err := r.presence.SetUserOffline(ctx, userID); err != nil {
			r.markDegraded("set_offline")
			slog.Error("Failed to persist offline status", "userID", userID, "error", err)
		} else {
			r.markHealthy()
		}
	}

	r.fanOut(ctx, userID, false, r.now())
}

// fanOut tells every online follower about the transition and patches their
// cached snapshots.
func (r *Registry) fanOut(ctx context.Context, userID string, online bool, at time.Time) {
	msgType := MessageTypeFriendOffline
	kind := "presence.offline"
	if online {
		msgType = MessageTypeFriendOnline
		kind = "presence.online"
	}

	r.notifier.Notify(ctx, Notification{Kind: kind, UserID: userID, Timestamp: at})

	if r.friends == nil {
		return
	}
	followers, err := r.friends.ListFollowerIDs(ctx, userID)
	if err != nil {
		r.markDegraded("list_followers")
		slog.Error("Failed to load followers for presence fan-out", "userID", userID, "error", err)
		return
	}

	r.snapMu.Lock()
	for _, f := range followers {
		if v, ok := r.snapshots.Get(f); ok {
			r.snapshots.Set(f, v.(FriendSnapshot).with(userID, online), cache.DefaultExpiration)
		}
		for _, load := range r.loading[f] {
			load.changes = append(load.changes, presenceChange{userID: userID, online: online})
		}
	}
	r.snapMu.Unlock()

	delivered := 0
	for _, f := range followers {
		if f == userID || !r.IsOnline(f) {
			continue
		}
		if err := r.Send(f, NewFriendStatusMessage(msgType, userID, at)); err != nil {
			slog.Warn("Presence delivery failed", "userID", f, "friendID", userID, "error", err)
			continue
		}
		delivered++
	}
	slog.Debug("Presence fan-out complete", "userID", userID, "online", online, "delivered", delivered)
}

// Snapshot returns the online/offline partition of userID's friends.
func (r *Registry) Snapshot(ctx context.Context, userID string) (FriendSnapshot, error) {
	if r.friends == nil {
		return FriendSnapshot{Online: []string{}, Offline: []string{}}, nil
	}

	r.snapMu.Lock()
	if v, ok := r.snapshots.Get(userID); ok {
		r.snapMu.Unlock()
		return v.(FriendSnapshot).clone(), nil
	}
	load := &snapshotLoad{}
	r.loading[userID] = append(r.loading[userID], load)
	r.snapMu.Unlock()

	friendIDs, err := r.friends.ListFriendIDs(ctx, userID)
	if err != nil {
		r.finishLoad(userID, load)
		r.markDegraded("list_friends")
		return FriendSnapshot{}, fmt.Errorf("%w: list friends of %s: %v", ErrStoreUnavailable, userID, err)
	}

	online := r.onlineAmong(ctx, friendIDs)
	snap := FriendSnapshot{Online: []string{}, Offline: []string{}}
	for _, id := range friendIDs {
		if online[id] {
			snap.Online = append(snap.Online, id)
		} else {
			snap.Offline = append(snap.Offline, id)
		}
	}

	r.snapMu.Lock()
	r.finishLoadLocked(userID, load)
	for _, c := range load.changes {
		snap = snap.with(c.userID, c.online)
	}
	r.snapshots.Set(userID, snap, cache.DefaultExpiration)
	r.snapMu.Unlock()

	return snap.clone(), nil
}

func (r *Registry) finishLoad(userID string, load *snapshotLoad) {
	r.snapMu.Lock()
	defer r.snapMu.Unlock()
	r.finishLoadLocked(userID, load)
}

func (r *Registry) finishLoadLocked(userID string, load *snapshotLoad) {
	loads := r.loading[userID]
	for i, l := range loads {
		if l == load {
			loads = append(loads[:i], loads[i+1:]...)
			break
		}
	}
	if len(loads) == 0 {
		delete(r.loading, userID)
	} else {
		r.loading[userID] = loads
	}
}

// InvalidateSnapshot drops the cached snapshot for each user so the next
// Snapshot reloads the friend list.
func (r *Registry) InvalidateSnapshot(userIDs ...string) {
	r.snapMu.Lock()
	defer r.snapMu.Unlock()
	for _, id := range userIDs {
		r.snapshots.Delete(id)
	}
}

func (r *Registry) onlineAmong(ctx context.Context, ids []string) map[string]bool {
	online := make(map[string]bool, len(ids))
	if r.presence != nil && len(ids) > 0 {
		found, err := r.presence.OnlineUserIDs(ctx, ids)
		if err == nil {
			r.markHealthy()
			for _, id := range found {
				online[id] = true
			}
			return online
		}
		r.markDegraded("online_users")
		slog.Warn("Presence store unavailable, using local registry", "error", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range ids {
		if c, ok := r.conns[id]; ok && c.Online {
			online[id] = true
		}
	}
	return online
}

// Send delivers msg to the user's current handle.
func (r *Registry) Send(userID string, msg *Message) error {
	r.mu.RLock()
	conn, ok := r.conns[userID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("user %s is not connected", userID)
	}
	return conn.Handle.Send(msg)
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[userID]
	return ok && c.Online
}

// Handle returns the user's authoritative handle.
func (r *Registry) Handle(userID string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[userID]
	if !ok {
		return nil, false
	}
	return c.Handle, true
}

// Touch records a heartbeat for the user.
func (r *Registry) Touch(userID string) {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[userID]; ok {
		c.LastHeartbeatAt = now
	}
}

// Connections returns a copy of every live connection.
func (r *Registry) Connections() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, *c)
	}
	return out
}

// Stale returns connections whose last heartbeat is older than timeout.
func (r *Registry) Stale(timeout time.Duration) []Connection {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Connection
	for _, c := range r.conns {
		if now.Sub(c.LastHeartbeatAt) > timeout {
			out = append(out, *c)
		}
	}
	return out
}

// Degraded reports whether the last presence store call failed.
func (r *Registry) Degraded() bool {
	return r.degraded.Load()
}

// ResetPresence clears the presence store on startup. Entries left by a
// previous process have no live connection behind them.
func (r *Registry) ResetPresence(ctx context.Context) {
	if r.presence == nil {
		return
	}
	if err := r.presence.ClearOnlineUsers(ctx); err != nil {
		r.markDegraded("clear")
		slog.Error("Failed to clear stale presence", "error", err)
		return
	}
	r.markHealthy()
}

// markHealthy clears the degraded flag after a successful presence write.
func (r *Registry) markHealthy() {
	if r.degraded.CompareAndSwap(true, false) {
		slog.Info("Presence store recovered")
	}
}

func (r *Registry) markDegraded(operation string) {
	r.degraded.Store(true)
	r.metrics.StoreFailure(operation)
}
