package collab

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterFansOutToOnlineFollowers(t *testing.T) {
	ctx := context.Background()
	friends := newFakeFriends([2]string{"alice", "bob"}, [2]string{"alice", "carol"})
	presence := newFakePresence()
	notes := &recordingNotifier{}
	reg := NewRegistry(presence, friends, notes, nil, time.Minute)

	bob := newFakeHandle("bob")
	reg.Register(ctx, bob)

	alice := newFakeHandle("alice")
	superseded := reg.Register(ctx, alice)
	assert.Nil(t, superseded)

	assert.True(t, reg.IsOnline("alice"))
	assert.True(t, presence.isOnline("alice"))

	// bob is online and lists alice; carol is offline
	require.Equal(t, 1, bob.count(MessageTypeFriendOnline))
	msg := bob.last(MessageTypeFriendOnline)
	assert.Equal(t, "alice", msg.Data["user_id"])
	assert.Contains(t, msg.Data, "timestamp")
	assert.Contains(t, notes.kinds(), "presence.online")
}

func TestRegistry_UnregisterFansOutOffline(t *testing.T) {
	ctx := context.Background()
	friends := newFakeFriends([2]string{"alice", "bob"})
	presence := newFakePresence()
	reg := NewRegistry(presence, friends, nil, nil, time.Minute)

	alice := newFakeHandle("alice")
	bob := newFakeHandle("bob")
	reg.Register(ctx, alice)
	reg.Register(ctx, bob)

	assert.True(t, reg.Unregister(ctx, "alice", alice.ID()))
	assert.False(t, reg.IsOnline("alice"))
	assert.False(t, presence.isOnline("alice"))
	assert.Equal(t, 1, bob.count(MessageTypeFriendOffline))

	// second removal is a no-op
	assert.False(t, reg.Unregister(ctx, "alice", alice.ID()))
	assert.Equal(t, 1, bob.count(MessageTypeFriendOffline))
}

func TestRegistry_SupersededHandleCannotUnregister(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(nil, nil, nil, nil, time.Minute)

	first := newFakeHandle("alice")
	second := newFakeHandle("alice")
	reg.Register(ctx, first)

	old := reg.Register(ctx, second)
	require.NotNil(t, old)
	assert.Equal(t, first.ID(), old.ID())

	assert.False(t, reg.Unregister(ctx, "alice", first.ID()))
	h, ok := reg.Handle("alice")
	require.True(t, ok)
	assert.Equal(t, second.ID(), h.ID())
}

func TestRegistry_FanOutContinuesAfterSendFailure(t *testing.T) {
	ctx := context.Background()
	friends := newFakeFriends([2]string{"alice", "bob"}, [2]string{"alice", "carol"})
	reg := NewRegistry(nil, friends, nil, nil, time.Minute)

	bob := newFakeHandle("bob")
	bob.sendErr = errors.New("broken pipe")
	carol := newFakeHandle("carol")
	reg.Register(ctx, bob)
	reg.Register(ctx, carol)

	reg.Register(ctx, newFakeHandle("alice"))
	assert.Equal(t, 1, carol.count(MessageTypeFriendOnline))
}

func TestRegistry_PresenceFailureMarksDegraded(t *testing.T) {
	ctx := context.Background()
	presence := newFakePresence()
	presence.err = errors.New("redis down")
	reg := NewRegistry(presence, nil, nil, nil, time.Minute)

	reg.Register(ctx, newFakeHandle("alice"))

	assert.True(t, reg.IsOnline("alice"), "registration must not depend on the store")
	assert.True(t, reg.Degraded())

	// the next successful write clears the flag
	presence.mu.Lock()
	presence.err = nil
	presence.mu.Unlock()
	reg.Register(ctx, newFakeHandle("bob"))
	assert.False(t, reg.Degraded())
}

func TestRegistry_SnapshotPartitionsFriends(t *testing.T) {
	ctx := context.Background()
	friends := newFakeFriends([2]string{"alice", "bob"}, [2]string{"alice", "carol"})
	presence := newFakePresence()
	reg := NewRegistry(presence, friends, nil, nil, time.Minute)

	bob := newFakeHandle("bob")
	reg.Register(ctx, bob)

	snap, err := reg.Snapshot(ctx, "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bob"}, snap.Online)
	assert.ElementsMatch(t, []string{"carol"}, snap.Offline)

	// cached entry is patched in place on transitions
	reg.Register(ctx, newFakeHandle("carol"))
	snap, err = reg.Snapshot(ctx, "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bob", "carol"}, snap.Online)
	assert.Empty(t, snap.Offline)

	reg.Unregister(ctx, "bob", bob.ID())
	snap, err = reg.Snapshot(ctx, "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"carol"}, snap.Online)
	assert.ElementsMatch(t, []string{"bob"}, snap.Offline)
}

func TestRegistry_TransitionDuringSnapshotLoadIsKept(t *testing.T) {
	ctx := context.Background()
	friends := newFakeFriends([2]string{"alice", "bob"}, [2]string{"alice", "carol"})
	presence := newFakePresence()
	reg := NewRegistry(presence, friends, nil, nil, time.Minute)

	// carol comes online after the presence read but before the cache fill
	carol := newFakeHandle("carol")
	presence.afterLookup = func() { reg.Register(ctx, carol) }

	snap, err := reg.Snapshot(ctx, "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"carol"}, snap.Online)
	assert.ElementsMatch(t, []string{"bob"}, snap.Offline)

	presence.afterLookup = nil
	snap, err = reg.Snapshot(ctx, "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"carol"}, snap.Online, "cached view includes the transition")
	assert.Empty(t, reg.loading)
}

func TestRegistry_InvalidateSnapshotReloadsFriends(t *testing.T) {
	ctx := context.Background()
	friends := newFakeFriends([2]string{"alice", "bob"})
	reg := NewRegistry(nil, friends, nil, nil, time.Minute)

	snap, err := reg.Snapshot(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, snap.Offline)

	friends.mu.Lock()
	friends.friends["alice"] = append(friends.friends["alice"], "dave")
	friends.mu.Unlock()

	snap, _ = reg.Snapshot(ctx, "alice")
	assert.Equal(t, []string{"bob"}, snap.Offline, "served from cache")

	reg.InvalidateSnapshot("alice", "dave")
	snap, err = reg.Snapshot(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "dave"}, snap.Offline)
}

func TestRegistry_SnapshotFallsBackToLocalRegistry(t *testing.T) {
	ctx := context.Background()
	friends := newFakeFriends([2]string{"alice", "bob"}, [2]string{"alice", "carol"})
	presence := newFakePresence()
	reg := NewRegistry(presence, friends, nil, nil, time.Minute)
	reg.Register(ctx, newFakeHandle("bob"))

	presence.mu.Lock()
	presence.err = errors.New("redis down")
	presence.mu.Unlock()

	snap, err := reg.Snapshot(ctx, "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bob"}, snap.Online)
	assert.ElementsMatch(t, []string{"carol"}, snap.Offline)
	assert.True(t, reg.Degraded())
}

func TestRegistry_SnapshotFriendStoreFailure(t *testing.T) {
	friends := newFakeFriends()
	friends.err = errors.New("db down")
	reg := NewRegistry(nil, friends, nil, nil, time.Minute)

	_, err := reg.Snapshot(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestRegistry_TouchAndStale(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	reg := NewRegistry(nil, nil, nil, nil, time.Minute)
	reg.now = clock.Now

	reg.Register(ctx, newFakeHandle("alice"))
	reg.Register(ctx, newFakeHandle("bob"))

	clock.Advance(90 * time.Second)
	reg.Touch("bob")
	clock.Advance(45 * time.Second)

	stale := reg.Stale(2 * time.Minute)
	require.Len(t, stale, 1)
	assert.Equal(t, "alice", stale[0].UserID)
	assert.Len(t, reg.Connections(), 2)
}

func TestRegistry_SendToOfflineUser(t *testing.T) {
	reg := NewRegistry(nil, nil, nil, nil, time.Minute)
	err := reg.Send("nobody", NewHeartbeatMessage(time.Now()))
	assert.Error(t, err)
}
