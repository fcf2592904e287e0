package collab

import (
	"context"
	"time"
)

// Handle is the transport side of a live connection. The websocket client
// implements it; tests use an in-memory recorder.
type Handle interface {
	// ID is unique per transport connection, not per user.
	ID() string
	UserID() string
	Send(msg *Message) error
	Close() error
}

// SessionStore persists room membership rows. Every call is a single-row
// upsert or delete.
type SessionStore interface {
	UpsertRoomSession(ctx context.Context, userID, entryID string, status MembershipStatus, seenAt time.Time) error
	DeleteRoomSession(ctx context.Context, userID, entryID string) error
	PruneRoomSessions(ctx context.Context, olderThan time.Time) (int64, error)
}

type FriendStore interface {
	// ListFriendIDs returns the users that userID lists as friends.
	ListFriendIDs(ctx context.Context, userID string) ([]string, error)
	// ListFollowerIDs returns the users that list userID as a friend.
	ListFollowerIDs(ctx context.Context, userID string) ([]string, error)
}

type EntryStore interface {
	// GetEntryContent returns ErrEntryNotFound for an unknown entry.
	GetEntryContent(ctx context.Context, entryID string) (string, error)
}

// PresenceStore persists connection status outside the process.
type PresenceStore interface {
	SetUserOnline(ctx context.Context, userID string) error
	SetUserOffline(ctx context.Context, userID string) error
	OnlineUserIDs(ctx context.Context, userIDs []string) ([]string, error)
	// ClearOnlineUsers forgets every online user.
	ClearOnlineUsers(ctx context.Context) error
}

// Notification is a fire-and-forget alert handed to the notification
// subsystem.
type Notification struct {
	Kind      string            `json:"kind"`
	UserID    string            `json:"user_id"`
	EntryID   string            `json:"entry_id,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

type Notifier interface {
	// Notify must not block on delivery acknowledgement.
	Notify(ctx context.Context, n Notification)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Notification) {}

// NopNotifier discards every notification.
func NopNotifier() Notifier { return nopNotifier{} }
