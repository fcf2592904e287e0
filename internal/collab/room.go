package collab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"collab-service/internal/metrics"

	"github.com/hashicorp/go-multierror"
)

type MembershipStatus string

const (
	StatusViewing MembershipStatus = "viewing"
	StatusEditing MembershipStatus = "editing"
	StatusIdle    MembershipStatus = "idle"
)

// Membership records that a user has an entry open.
type Membership struct {
	UserID     string
	EntryID    string
	Status     MembershipStatus
	JoinedAt   time.Time
	LastSeenAt time.Time
}

// Sender delivers a message to a connected user.
type Sender interface {
	Send(userID string, msg *Message) error
}

type room struct {
	entryID string
	members map[string]*Membership
}

// RoomManager owns entry rooms, their memberships and the cursors inside them.
type RoomManager struct {
	sessions SessionStore
	entries  EntryStore
	sender   Sender
	cursors  *CursorStore
	metrics  *metrics.Metrics
	now      func() time.Time

	// onEmpty runs after the last member of a room leaves.
	onEmpty func(entryID string)

	mu        sync.Mutex
	rooms     map[string]*room
	userRooms map[string]map[string]struct{}
}

func NewRoomManager(sessions SessionStore, entries EntryStore, sender Sender, cursors *CursorStore, m *metrics.Metrics) *RoomManager {
	if cursors == nil {
		cursors = NewCursorStore()
	}
	return &RoomManager{
		sessions:  sessions,
		entries:   entries,
		sender:    sender,
		cursors:   cursors,
		metrics:   m,
		now:       time.Now,
		rooms:     make(map[string]*room),
		userRooms: make(map[string]map[string]struct{}),
	}
}

// Join adds userID to the entry's room as a viewer and returns the viewer
// list including the joiner. Joining again only refreshes LastSeenAt.
func (m *RoomManager) Join(ctx context.Context, userID, entryID string) ([]Viewer, error) {
	if entryID == "" {
		return nil, fmt.Errorf("%w: entry_id is required", ErrValidation)
	}
	now := m.now()

	m.mu.Lock()
	r, ok := m.rooms[entryID]
	if !ok {
		r = &room{entryID: entryID, members: make(map[string]*Membership)}
		m.rooms[entryID] = r
	}
	ms, rejoin := r.members[userID]
	if rejoin {
		ms.LastSeenAt = now
	} else {
		ms = &Membership{UserID: userID, EntryID: entryID, Status: StatusViewing, JoinedAt: now, LastSeenAt: now}
		r.members[userID] = ms
		if m.userRooms[userID] == nil {
			m.userRooms[userID] = make(map[string]struct{})
		}
		m.userRooms[userID][entryID] = struct{}{}
	}
	status := ms.Status
	viewers := viewersOf(r)
	others := othersIn(r, userID)
	m.mu.Unlock()

	m.persist(ctx, userID, entryID, status, now)

	if rejoin {
		slog.Debug("Membership refreshed", "userID", userID, "entryID", entryID)
		return viewers, nil
	}

	slog.Info("User joined room", "userID", userID, "entryID", entryID, "viewers", len(viewers))
	m.broadcast(others, NewViewerJoinedMessage(entryID, userID))
	return viewers, nil
}

// Leave removes the membership and any cursor for (userID, entryID). It
// reports whether a membership existed; a returned error is a store failure
// after the in-memory state was already cleared.
func (m *RoomManager) Leave(ctx context.Context, userID, entryID string) (bool, error) {
	m.mu.Lock()
	r, ok := m.rooms[entryID]
	if !ok {
		m.mu.Unlock()
		return false, nil
	}
	if _, ok := r.members[userID]; !ok {
		m.mu.Unlock()
		return false, nil
	}
	delete(r.members, userID)
	if rooms := m.userRooms[userID]; rooms != nil {
		delete(rooms, entryID)
		if len(rooms) == 0 {
			delete(m.userRooms, userID)
		}
	}
	hadCursor := m.cursors.Remove(userID, entryID)
	empty := len(r.members) == 0
	if empty {
		delete(m.rooms, entryID)
	}
	others := othersIn(r, userID)
	m.mu.Unlock()

	slog.Info("User left room", "userID", userID, "entryID", entryID, "remaining", len(others))

	m.broadcast(others, NewViewerLeftMessage(entryID, userID))
	if hadCursor {
		m.broadcast(others, NewCursorClearedMessage(entryID, userID))
	}

	if empty && m.onEmpty != nil {
		m.onEmpty(entryID)
	}

	if m.sessions == nil {
		return true, nil
	}
	if err := m.sessions.DeleteRoomSession(ctx, userID, entryID); err != nil {
		m.metrics.StoreFailure("delete_session")
		slog.Error("Failed to delete room session", "userID", userID, "entryID", entryID, "error", err)
		return true, fmt.Errorf("%w: delete session %s/%s: %v", ErrStoreUnavailable, userID, entryID, err)
	}
	return true, nil
}

// LeaveAll removes the user from every room. Every room is attempted even
// when some store calls fail.
func (m *RoomManager) LeaveAll(ctx context.Context, userID string) error {
	var result *multierror.Error
	for _, entryID := range m.Rooms(userID) {
		if _, err := m.Leave(ctx, userID, entryID); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (m *RoomManager) MarkEditing(ctx context.Context, userID, entryID string) (bool, error) {
	return m.setStatus(ctx, userID, entryID, StatusEditing)
}

func (m *RoomManager) MarkIdle(ctx context.Context, userID, entryID string) (bool, error) {
	return m.setStatus(ctx, userID, entryID, StatusIdle)
}

func (m *RoomManager) setStatus(ctx context.Context, userID, entryID string, status MembershipStatus) (bool, error) {
	if entryID == "" {
		return false, fmt.Errorf("%w: entry_id is required", ErrValidation)
	}
	now := m.now()

	m.mu.Lock()
	r, ok := m.rooms[entryID]
	if !ok {
		m.mu.Unlock()
		return false, nil
	}
	ms, ok := r.members[userID]
	if !ok {
		m.mu.Unlock()
		return false, nil
	}
	changed := ms.Status != status
	ms.Status = status
	ms.LastSeenAt = now
	others := othersIn(r, userID)
	m.mu.Unlock()

	m.persist(ctx, userID, entryID, status, now)

	if changed {
		slog.Debug("Membership status changed", "userID", userID, "entryID", entryID, "status", status)
		m.broadcast(others, NewViewerStatusMessage(entryID, userID, status))
	}
	return true, nil
}

// CurrentState returns the entry's stored content and its live viewers.
func (m *RoomManager) CurrentState(ctx context.Context, entryID string) (string, []Viewer, error) {
	if entryID == "" {
		return "", nil, fmt.Errorf("%w: entry_id is required", ErrValidation)
	}
	if m.entries == nil {
		return "", nil, ErrEntryNotFound
	}

	content, err := m.entries.GetEntryContent(ctx, entryID)
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			return "", nil, err
		}
		m.metrics.StoreFailure("get_entry")
		return "", nil, fmt.Errorf("%w: get entry %s: %v", ErrStoreUnavailable, entryID, err)
	}

	m.mu.Lock()
	viewers := []Viewer{}
	if r, ok := m.rooms[entryID]; ok {
		viewers = viewersOf(r)
	}
	m.mu.Unlock()

	return content, viewers, nil
}

// Membership returns a copy of the user's membership in the entry.
func (m *RoomManager) Membership(userID, entryID string) (Membership, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[entryID]
	if !ok {
		return Membership{}, false
	}
	ms, ok := r.members[userID]
	if !ok {
		return Membership{}, false
	}
	return *ms, true
}

func (m *RoomManager) IsMember(userID, entryID string) bool {
	_, ok := m.Membership(userID, entryID)
	return ok
}

// Others returns the members of entryID other than userID.
func (m *RoomManager) Others(entryID, userID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[entryID]
	if !ok {
		return nil
	}
	return othersIn(r, userID)
}

// Rooms lists the entries userID is a member of.
func (m *RoomManager) Rooms(userID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.userRooms[userID]))
	for entryID := range m.userRooms[userID] {
		out = append(out, entryID)
	}
	sort.Strings(out)
	return out
}

// RoomCount returns the number of non-empty rooms.
func (m *RoomManager) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

func (m *RoomManager) persist(ctx context.Context, userID, entryID string, status MembershipStatus, at time.Time) {
	if m.sessions == nil {
		return
	}
	if err := m.sessions.UpsertRoomSession(ctx, userID, entryID, status, at); err != nil {
		m.metrics.StoreFailure("upsert_session")
		slog.Error("Failed to persist room session", "userID", userID, "entryID", entryID, "error", err)
	}
}

func (m *RoomManager) broadcast(userIDs []string, msg *Message) {
	for _, id := range userIDs {
		if err := m.sender.Send(id, msg); err != nil {
			slog.Warn("Room broadcast failed", "userID", id, "type", msg.Type, "error", err)
		}
	}
}

func viewersOf(r *room) []Viewer {
	viewers := make([]Viewer, 0, len(r.members))
	for _, ms := range r.members {
		viewers = append(viewers, Viewer{UserID: ms.UserID, Status: ms.Status, JoinedAt: ms.JoinedAt})
	}
	sort.Slice(viewers, func(i, j int) bool {
		if viewers[i].JoinedAt.Equal(viewers[j].JoinedAt) {
			return viewers[i].UserID < viewers[j].UserID
		}
		return viewers[i].JoinedAt.Before(viewers[j].JoinedAt)
	})
	return viewers
}

func othersIn(r *room, userID string) []string {
	out := make([]string, 0, len(r.members))
	for id := range r.members {
		if id != userID {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
