package collab

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// fakeHandle records everything sent to it.
type fakeHandle struct {
	id     string
	userID string

	mu      sync.Mutex
	msgs    []*Message
	closed  bool
	sendErr error
}

func newFakeHandle(userID string) *fakeHandle {
	return &fakeHandle{id: uuid.NewString(), userID: userID}
}

func (h *fakeHandle) ID() string     { return h.id }
func (h *fakeHandle) UserID() string { return h.userID }

func (h *fakeHandle) Send(msg *Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sendErr != nil {
		return h.sendErr
	}
	if h.closed {
		return errors.New("handle closed")
	}
	h.msgs = append(h.msgs, msg)
	return nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *fakeHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *fakeHandle) messages(t MessageType) []*Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*Message
	for _, m := range h.msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func (h *fakeHandle) count(t MessageType) int {
	return len(h.messages(t))
}

func (h *fakeHandle) last(t MessageType) *Message {
	msgs := h.messages(t)
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

func (h *fakeHandle) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = nil
}

type sessionRow struct {
	status MembershipStatus
	seenAt time.Time
}

type fakeSessions struct {
	mu     sync.Mutex
	rows   map[string]sessionRow
	err    error
	pruned time.Time
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{rows: make(map[string]sessionRow)}
}

func (s *fakeSessions) UpsertRoomSession(_ context.Context, userID, entryID string, status MembershipStatus, seenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.rows[userID+"/"+entryID] = sessionRow{status: status, seenAt: seenAt}
	return nil
}

func (s *fakeSessions) DeleteRoomSession(_ context.Context, userID, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	delete(s.rows, userID+"/"+entryID)
	return nil
}

func (s *fakeSessions) PruneRoomSessions(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.pruned = olderThan
	var n int64
	for k, r := range s.rows {
		if r.seenAt.Before(olderThan) {
			delete(s.rows, k)
			n++
		}
	}
	return n, nil
}

func (s *fakeSessions) row(userID, entryID string) (sessionRow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[userID+"/"+entryID]
	return r, ok
}

func (s *fakeSessions) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// fakeFriends holds directed friend lists: friends[a] contains b when a lists b.
type fakeFriends struct {
	mu      sync.Mutex
	friends map[string][]string
	err     error
}

func newFakeFriends(pairs ...[2]string) *fakeFriends {
	f := &fakeFriends{friends: make(map[string][]string)}
	for _, p := range pairs {
		f.friends[p[0]] = append(f.friends[p[0]], p[1])
		f.friends[p[1]] = append(f.friends[p[1]], p[0])
	}
	return f
}

func (f *fakeFriends) ListFriendIDs(_ context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]string{}, f.friends[userID]...), nil
}

func (f *fakeFriends) ListFollowerIDs(_ context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []string
	for owner, list := range f.friends {
		for _, id := range list {
			if id == userID {
				out = append(out, owner)
			}
		}
	}
	return out, nil
}

type fakeEntries struct {
	content map[string]string
	err     error
	panics  bool
}

func (e *fakeEntries) GetEntryContent(_ context.Context, entryID string) (string, error) {
	if e.panics {
		panic("entry store exploded")
	}
	if e.err != nil {
		return "", e.err
	}
	c, ok := e.content[entryID]
	if !ok {
		return "", ErrEntryNotFound
	}
	return c, nil
}

type fakePresence struct {
	mu     sync.Mutex
	online map[string]bool
	err    error
	// afterLookup runs after OnlineUserIDs has read the set, without the lock.
	afterLookup func()
}

func newFakePresence() *fakePresence {
	return &fakePresence{online: make(map[string]bool)}
}

func (p *fakePresence) SetUserOnline(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.online[userID] = true
	return nil
}

func (p *fakePresence) SetUserOffline(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	delete(p.online, userID)
	return nil
}

func (p *fakePresence) OnlineUserIDs(_ context.Context, userIDs []string) ([]string, error) {
	p.mu.Lock()
	if p.err != nil {
		err := p.err
		p.mu.Unlock()
		return nil, err
	}
	var out []string
	for _, id := range userIDs {
		if p.online[id] {
			out = append(out, id)
		}
	}
	hook := p.afterLookup
	p.mu.Unlock()

	if hook != nil {
		hook()
	}
	return out, nil
}

func (p *fakePresence) ClearOnlineUsers(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.online = make(map[string]bool)
	return nil
}

func (p *fakePresence) isOnline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[userID]
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.Kind)
	}
	return out
}

// directSender routes messages to registered fake handles by user.
type directSender struct {
	mu      sync.Mutex
	handles map[string]*fakeHandle
}

func newDirectSender(hs ...*fakeHandle) *directSender {
	s := &directSender{handles: make(map[string]*fakeHandle)}
	for _, h := range hs {
		s.handles[h.userID] = h
	}
	return s
}

func (s *directSender) Send(userID string, msg *Message) error {
	s.mu.Lock()
	h, ok := s.handles[userID]
	s.mu.Unlock()
	if !ok {
		return errors.New("no such user")
	}
	return h.Send(msg)
}

// testConfig shrinks every timer so tests run quickly.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CursorThrottle = 40 * time.Millisecond
	cfg.EditDebounce = 80 * time.Millisecond
	return cfg
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
