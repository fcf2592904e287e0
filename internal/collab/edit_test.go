package collab

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type editFixture struct {
	alice, bob, carol *fakeHandle
	rooms             *RoomManager
	scheduler         *Scheduler
	notes             *recordingNotifier
	pipeline          *EditPipeline
}

func newEditFixture(t *testing.T, debounce time.Duration) *editFixture {
	t.Helper()
	f := &editFixture{
		alice:     newFakeHandle("alice"),
		bob:       newFakeHandle("bob"),
		carol:     newFakeHandle("carol"),
		scheduler: NewScheduler(),
		notes:     &recordingNotifier{},
	}
	t.Cleanup(f.scheduler.Stop)

	sender := newDirectSender(f.alice, f.bob, f.carol)
	f.rooms = NewRoomManager(nil, nil, sender, nil, nil)
	f.pipeline = NewEditPipeline(f.rooms, sender, f.scheduler, f.notes, nil, debounce, 300*time.Millisecond)

	ctx := context.Background()
	for _, id := range []string{"alice", "bob", "carol"} {
		_, err := f.rooms.Join(ctx, id, "E1")
		require.NoError(t, err)
	}
	return f
}

func TestEditPipeline_DebounceRelaysLastPayloadOnce(t *testing.T) {
	f := newEditFixture(t, 150*time.Millisecond)
	ctx := context.Background()

	base := time.Now().UnixMilli()
	for i, content := range []string{"h", "he", "hel", "hello"} {
		err := f.pipeline.Submit(ctx, f.bob, EditData{
			EntryID:         "E1",
			Content:         content,
			Operation:       "replace",
			ClientTimestamp: base + int64(i*10),
		})
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)
	}

	assert.Eventually(t, func() bool { return f.alice.count(MessageTypeEditRelayed) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	require.Equal(t, 1, f.alice.count(MessageTypeEditRelayed))
	require.Equal(t, 1, f.carol.count(MessageTypeEditRelayed))
	assert.Zero(t, f.bob.count(MessageTypeEditRelayed))

	msg := f.alice.last(MessageTypeEditRelayed)
	assert.Equal(t, "hello", msg.Data["content"])
	assert.Equal(t, "bob", msg.Data["user_id"])
	assert.Equal(t, "replace", msg.Data["operation"])

	attempt, ok := f.pipeline.Attempt("E1")
	require.True(t, ok)
	assert.Equal(t, "bob", attempt.UserID)
	assert.False(t, attempt.AcceptedAt.IsZero())
}

func TestEditPipeline_SeparateEntriesDebounceIndependently(t *testing.T) {
	f := newEditFixture(t, 40*time.Millisecond)
	ctx := context.Background()
	_, _ = f.rooms.Join(ctx, "alice", "E2")
	_, _ = f.rooms.Join(ctx, "bob", "E2")

	require.NoError(t, f.pipeline.Submit(ctx, f.bob, EditData{EntryID: "E1", Content: "one"}))
	require.NoError(t, f.pipeline.Submit(ctx, f.bob, EditData{EntryID: "E2", Content: "two"}))

	assert.Eventually(t, func() bool { return f.alice.count(MessageTypeEditRelayed) == 2 }, time.Second, 5*time.Millisecond)
}

func TestEditPipeline_ConflictWithinWindowNotifiesBoth(t *testing.T) {
	f := newEditFixture(t, 40*time.Millisecond)
	ctx := context.Background()

	base := time.Now().UnixMilli()
	require.NoError(t, f.pipeline.Submit(ctx, f.alice, EditData{EntryID: "E1", Content: "a", ClientTimestamp: base}))
	require.NoError(t, f.pipeline.Submit(ctx, f.bob, EditData{EntryID: "E1", Content: "b", ClientTimestamp: base + 50}))

	require.Equal(t, 1, f.bob.count(MessageTypeConflictNotice))
	require.Equal(t, 1, f.alice.count(MessageTypeConflictNotice))
	assert.Zero(t, f.carol.count(MessageTypeConflictNotice))

	toBob := f.bob.last(MessageTypeConflictNotice)
	assert.Equal(t, ConflictStrategy, toBob.Data["strategy"])
	assert.Equal(t, "alice", toBob.Data["user_id"])
	assert.Equal(t, "E1", toBob.Data["entry_id"])
	assert.Contains(t, f.notes.kinds(), "edit.conflict")

	// last write wins: both edits are still relayed
	assert.Eventually(t, func() bool { return f.carol.count(MessageTypeEditRelayed) == 2 }, time.Second, 5*time.Millisecond)
}

func TestEditPipeline_NoConflictOutsideWindow(t *testing.T) {
	f := newEditFixture(t, 40*time.Millisecond)
	ctx := context.Background()

	base := time.Now().UnixMilli()
	require.NoError(t, f.pipeline.Submit(ctx, f.alice, EditData{EntryID: "E1", Content: "a", ClientTimestamp: base}))
	require.NoError(t, f.pipeline.Submit(ctx, f.bob, EditData{EntryID: "E1", Content: "b", ClientTimestamp: base + 1000}))

	assert.Zero(t, f.alice.count(MessageTypeConflictNotice))
	assert.Zero(t, f.bob.count(MessageTypeConflictNotice))
}

func TestEditPipeline_SameUserNeverConflicts(t *testing.T) {
	f := newEditFixture(t, 40*time.Millisecond)
	ctx := context.Background()

	base := time.Now().UnixMilli()
	require.NoError(t, f.pipeline.Submit(ctx, f.bob, EditData{EntryID: "E1", Content: "a", ClientTimestamp: base}))
	require.NoError(t, f.pipeline.Submit(ctx, f.bob, EditData{EntryID: "E1", Content: "b", ClientTimestamp: base + 10}))

	assert.Zero(t, f.bob.count(MessageTypeConflictNotice))
}

func TestEditPipeline_RejectsNonMember(t *testing.T) {
	f := newEditFixture(t, 40*time.Millisecond)

	outsider := newFakeHandle("dave")
	err := f.pipeline.Submit(context.Background(), outsider, EditData{EntryID: "E1", Content: "x"})
	assert.ErrorIs(t, err, ErrNotMember)

	err = f.pipeline.Submit(context.Background(), f.bob, EditData{Content: "x"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestEditPipeline_DropHandleCancelsPendingRelay(t *testing.T) {
	f := newEditFixture(t, 40*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, f.pipeline.Submit(ctx, f.bob, EditData{EntryID: "E1", Content: "x"}))
	f.scheduler.CancelGroup(f.bob.ID())
	assert.Equal(t, 1, f.pipeline.DropHandle(f.bob.ID()))

	assert.Never(t, func() bool { return f.alice.count(MessageTypeEditRelayed) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestEditPipeline_DropEntryCancelsOnlyThatEntry(t *testing.T) {
	f := newEditFixture(t, 40*time.Millisecond)
	ctx := context.Background()
	_, _ = f.rooms.Join(ctx, "alice", "E2")
	_, _ = f.rooms.Join(ctx, "bob", "E2")

	require.NoError(t, f.pipeline.Submit(ctx, f.bob, EditData{EntryID: "E1", Content: "one"}))
	require.NoError(t, f.pipeline.Submit(ctx, f.bob, EditData{EntryID: "E2", Content: "two"}))

	assert.True(t, f.pipeline.DropEntry(f.bob.ID(), "E1"))
	assert.False(t, f.pipeline.DropEntry(f.bob.ID(), "E1"))

	assert.Eventually(t, func() bool { return f.alice.count(MessageTypeEditRelayed) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "two", f.alice.last(MessageTypeEditRelayed).Data["content"])
	assert.Never(t, func() bool { return f.alice.count(MessageTypeEditRelayed) > 1 }, 100*time.Millisecond, 10*time.Millisecond)
}
