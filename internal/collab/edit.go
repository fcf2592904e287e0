package collab

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"collab-service/internal/metrics"
)

const (
	DefaultEditDebounce   = 500 * time.Millisecond
	DefaultConflictWindow = 300 * time.Millisecond
)

// EditAttempt is the most recent edit seen for an entry.
type EditAttempt struct {
	UserID     string
	ClientAt   time.Time
	AcceptedAt time.Time
}

type pendingEdit struct {
	userID string
	edit   EditData
}

// EditPipeline debounces edits per handle and entry and flags edits from
// different users that land close together.
type EditPipeline struct {
	rooms          *RoomManager
	sender         Sender
	scheduler      *Scheduler
	notifier       Notifier
	metrics        *metrics.Metrics
	debounce       time.Duration
	conflictWindow time.Duration
	now            func() time.Time

	mu       sync.Mutex
	attempts map[string]*EditAttempt
	pending  map[string]pendingEdit
}

func NewEditPipeline(rooms *RoomManager, sender Sender, scheduler *Scheduler, notifier Notifier, m *metrics.Metrics, debounce, conflictWindow time.Duration) *EditPipeline {
	if debounce <= 0 {
		debounce = DefaultEditDebounce
	}
	if conflictWindow <= 0 {
		conflictWindow = DefaultConflictWindow
	}
	if notifier == nil {
		notifier = NopNotifier()
	}
	return &EditPipeline{
		rooms:          rooms,
		sender:         sender,
		scheduler:      scheduler,
		notifier:       notifier,
		metrics:        m,
		debounce:       debounce,
		conflictWindow: conflictWindow,
		now:            time.Now,
		attempts:       make(map[string]*EditAttempt),
		pending:        make(map[string]pendingEdit),
	}
}

// Submit accepts an edit from handle. The relay happens once the handle has
// been quiet on this entry for the debounce interval, carrying the last
// submitted payload.
func (p *EditPipeline) Submit(ctx context.Context, handle Handle, edit EditData) error {
	if edit.EntryID == "" {
		return fmt.Errorf("%w: entry_id is required", ErrValidation)
	}
	userID := handle.UserID()
	entryID := edit.EntryID
	if !p.rooms.IsMember(userID, entryID) {
		return fmt.Errorf("%w: %s is not in %s", ErrNotMember, userID, entryID)
	}

	clientAt := p.now()
	if edit.ClientTimestamp > 0 {
		clientAt = time.UnixMilli(edit.ClientTimestamp)
	}
	key := taskKey("edit", handle.ID(), entryID)

	p.mu.Lock()
	prev := p.attempts[entryID]
	var rival string
	if prev != nil && prev.UserID != userID && absDuration(clientAt.Sub(prev.ClientAt)) < p.conflictWindow {
		rival = prev.UserID
	}
	p.attempts[entryID] = &EditAttempt{UserID: userID, ClientAt: clientAt}
	p.pending[key] = pendingEdit{userID: userID, edit: edit}
	p.mu.Unlock()

	if rival != "" {
		p.conflict(ctx, handle, entryID, rival)
	}

	p.scheduler.Reschedule(handle.ID(), key, p.debounce, func() {
		p.flush(key)
	})
	return nil
}

func (p *EditPipeline) conflict(ctx context.Context, handle Handle, entryID, rival string) {
	userID := handle.UserID()
	p.metrics.Conflict()
	slog.Info("Edit conflict detected", "entryID", entryID, "userID", userID, "otherUserID", rival)

	if err := handle.Send(NewConflictNoticeMessage(entryID, rival)); err != nil {
		slog.Warn("Failed to deliver conflict notice", "userID", userID, "error", err)
	}
	if err := p.sender.Send(rival, NewConflictNoticeMessage(entryID, userID)); err != nil {
		slog.Warn("Failed to deliver conflict notice", "userID", rival, "error", err)
	}

	p.notifier.Notify(ctx, Notification{
		Kind:      "edit.conflict",
		UserID:    userID,
		EntryID:   entryID,
		Data:      map[string]string{"other_user_id": rival, "strategy": ConflictStrategy},
		Timestamp: p.now(),
	})
}

func (p *EditPipeline) flush(key string) {
	p.mu.Lock()
	pe, ok := p.pending[key]
	delete(p.pending, key)
	p.mu.Unlock()
	if !ok {
		return
	}

	entryID := pe.edit.EntryID
	if !p.rooms.IsMember(pe.userID, entryID) {
		slog.Debug("Dropping edit for departed member", "userID", pe.userID, "entryID", entryID)
		return
	}

	acceptedAt := p.now()
	p.mu.Lock()
	if a := p.attempts[entryID]; a != nil && a.UserID == pe.userID {
		a.AcceptedAt = acceptedAt
	}
	p.mu.Unlock()

	others := p.rooms.Others(entryID, pe.userID)
	p.rooms.broadcast(others, NewEditRelayedMessage(entryID, pe.userID, pe.edit, acceptedAt))
	p.metrics.EditRelayed()
	slog.Debug("Edit relayed", "userID", pe.userID, "entryID", entryID, "recipients", len(others))
}

// Attempt returns a copy of the latest edit attempt for entryID.
func (p *EditPipeline) Attempt(entryID string) (EditAttempt, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.attempts[entryID]
	if !ok {
		return EditAttempt{}, false
	}
	return *a, true
}

// DropHandle discards edits still waiting on handleID's debounce timers.
func (p *EditPipeline) DropHandle(handleID string) int {
	prefix := taskKey("edit", handleID, "")

	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for key := range p.pending {
		if strings.HasPrefix(key, prefix) {
			delete(p.pending, key)
			n++
		}
	}
	return n
}

// DropEntry cancels the pending relay for handleID on entryID. It reports
// whether an edit was waiting.
func (p *EditPipeline) DropEntry(handleID, entryID string) bool {
	key := taskKey("edit", handleID, entryID)
	p.scheduler.Cancel(key)

	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pending[key]
	delete(p.pending, key)
	return ok
}

// ForgetEntry drops conflict state for a room nobody is in.
func (p *EditPipeline) ForgetEntry(entryID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.attempts, entryID)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
