package collab

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type disconnectRecorder struct {
	mu      sync.Mutex
	reasons map[string]string
}

func (d *disconnectRecorder) disconnect(_ context.Context, h Handle, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reasons == nil {
		d.reasons = make(map[string]string)
	}
	d.reasons[h.UserID()] = reason
}

func (d *disconnectRecorder) reason(userID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.reasons[userID]
	return r, ok
}

func TestReaper_SweepReapsSilentConnections(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	reg := NewRegistry(nil, nil, nil, nil, time.Minute)
	reg.now = clock.Now

	alice, bob := newFakeHandle("alice"), newFakeHandle("bob")
	reg.Register(ctx, alice)
	reg.Register(ctx, bob)

	rec := &disconnectRecorder{}
	reaper := NewReaper(DefaultReaperConfig(), reg, nil, rec.disconnect, nil)
	reaper.now = clock.Now

	clock.Advance(100 * time.Second)
	reg.Touch("bob")
	clock.Advance(30 * time.Second)

	assert.Equal(t, 1, reaper.Sweep(ctx))

	reason, ok := rec.reason("alice")
	require.True(t, ok)
	assert.Equal(t, "heartbeat_timeout", reason)
	_, ok = rec.reason("bob")
	assert.False(t, ok)

	assert.Equal(t, 1, bob.count(MessageTypeHeartbeat))
	assert.Zero(t, alice.count(MessageTypeHeartbeat))
}

func TestReaper_PruneUsesStalenessCutoff(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	sessions := newFakeSessions()
	_ = sessions.UpsertRoomSession(ctx, "alice", "E1", StatusViewing, clock.Now().Add(-11*time.Minute))
	_ = sessions.UpsertRoomSession(ctx, "bob", "E1", StatusViewing, clock.Now().Add(-time.Minute))

	reaper := NewReaper(DefaultReaperConfig(), NewRegistry(nil, nil, nil, nil, time.Minute), sessions, (&disconnectRecorder{}).disconnect, nil)
	reaper.now = clock.Now

	assert.Equal(t, int64(1), reaper.Prune(ctx))
	assert.Equal(t, clock.Now().Add(-10*time.Minute), sessions.pruned)

	_, ok := sessions.row("alice", "E1")
	assert.False(t, ok)
	_, ok = sessions.row("bob", "E1")
	assert.True(t, ok)
}

func TestReaper_PruneFailureIsLogged(t *testing.T) {
	sessions := newFakeSessions()
	sessions.setErr(errors.New("db down"))
	reaper := NewReaper(DefaultReaperConfig(), NewRegistry(nil, nil, nil, nil, time.Minute), sessions, (&disconnectRecorder{}).disconnect, nil)

	assert.Equal(t, int64(0), reaper.Prune(context.Background()))
}

func TestReaper_StartStop(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(nil, nil, nil, nil, time.Minute)
	alice := newFakeHandle("alice")
	reg.Register(ctx, alice)

	reaper := NewReaper(ReaperConfig{
		HeartbeatInterval: 10 * time.Millisecond,
		HeartbeatTimeout:  time.Minute,
		PruneInterval:     time.Hour,
	}, reg, nil, (&disconnectRecorder{}).disconnect, nil)

	reaper.Start(ctx)
	reaper.Start(ctx)
	assert.True(t, reaper.Running())

	assert.Eventually(t, func() bool { return alice.count(MessageTypeHeartbeat) >= 2 }, time.Second, 5*time.Millisecond)

	reaper.Stop()
	assert.False(t, reaper.Running())
	reaper.Stop()
}
