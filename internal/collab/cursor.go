package collab

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const DefaultCursorThrottle = 100 * time.Millisecond

// Cursor is a user's live position in an entry. It is never persisted.
type Cursor struct {
	UserID    string
	EntryID   string
	Position  Position
	UpdatedAt time.Time
}

type cursorKey struct {
	userID  string
	entryID string
}

// CursorStore holds the latest cursor per (user, entry).
type CursorStore struct {
	mu      sync.Mutex
	cursors map[cursorKey]Cursor
}

func NewCursorStore() *CursorStore {
	return &CursorStore{cursors: make(map[cursorKey]Cursor)}
}

func (s *CursorStore) Set(c Cursor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[cursorKey{c.UserID, c.EntryID}] = c
}

func (s *CursorStore) Get(userID, entryID string) (Cursor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[cursorKey{userID, entryID}]
	return c, ok
}

// Remove deletes the cursor and reports whether one existed.
func (s *CursorStore) Remove(userID, entryID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := cursorKey{userID, entryID}
	if _, ok := s.cursors[k]; !ok {
		return false
	}
	delete(s.cursors, k)
	return true
}

func (s *CursorStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cursors)
}

// CursorRelay throttles cursor broadcasts per transport handle and entry.
// Every sample updates the store; only the sample current at the end of a
// throttle window is sent.
type CursorRelay struct {
	rooms     *RoomManager
	scheduler *Scheduler
	interval  time.Duration
	now       func() time.Time
}

func NewCursorRelay(rooms *RoomManager, scheduler *Scheduler, interval time.Duration) *CursorRelay {
	if interval <= 0 {
		interval = DefaultCursorThrottle
	}
	return &CursorRelay{rooms: rooms, scheduler: scheduler, interval: interval, now: time.Now}
}

// Move records pos for the handle's user and schedules a relay if none is
// pending for this window.
func (cr *CursorRelay) Move(handle Handle, entryID string, pos *Position) error {
	if entryID == "" {
		return fmt.Errorf("%w: entry_id is required", ErrValidation)
	}
	if pos == nil {
		return fmt.Errorf("%w: position is required", ErrValidation)
	}
	userID := handle.UserID()

	m := cr.rooms
	m.mu.Lock()
	r, ok := m.rooms[entryID]
	if !ok || r.members[userID] == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s is not in %s", ErrNotMember, userID, entryID)
	}
	r.members[userID].LastSeenAt = cr.now()
	m.cursors.Set(Cursor{UserID: userID, EntryID: entryID, Position: *pos, UpdatedAt: cr.now()})
	m.mu.Unlock()

	cr.scheduler.ScheduleOnce(handle.ID(), taskKey("cursor", handle.ID(), entryID), cr.interval, func() {
		cr.flush(userID, entryID)
	})
	return nil
}

func (cr *CursorRelay) flush(userID, entryID string) {
	c, ok := cr.rooms.cursors.Get(userID, entryID)
	if !ok {
		return
	}
	others := cr.rooms.Others(entryID, userID)
	cr.rooms.broadcast(others, NewCursorMovedMessage(entryID, userID, c.Position))
	cr.rooms.metrics.CursorRelayed()
	slog.Debug("Cursor relayed", "userID", userID, "entryID", entryID, "recipients", len(others))
}

// Clear removes the user's cursor in entryID and tells the room.
func (cr *CursorRelay) Clear(userID, entryID string) bool {
	if !cr.rooms.cursors.Remove(userID, entryID) {
		return false
	}
	cr.rooms.broadcast(cr.rooms.Others(entryID, userID), NewCursorClearedMessage(entryID, userID))
	return true
}
