package collab

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType names an event on the transport boundary.
type MessageType string

// Inbound events
const (
	MessageTypeJoinRoom     MessageType = "join_room"
	MessageTypeLeaveRoom    MessageType = "leave_room"
	MessageTypeEdit         MessageType = "edit"
	MessageTypeCursorMove   MessageType = "cursor_move"
	MessageTypeEditing      MessageType = "editing"
	MessageTypeIdle         MessageType = "idle"
	MessageTypeStateRequest MessageType = "state_request"
	MessageTypeHeartbeatAck MessageType = "heartbeat_ack"
)

// Outbound events
const (
	MessageTypeViewerJoined    MessageType = "viewer_joined"
	MessageTypeViewerLeft      MessageType = "viewer_left"
	MessageTypeViewerList      MessageType = "viewer_list"
	MessageTypeViewerStatus    MessageType = "viewer_status"
	MessageTypeCursorMoved     MessageType = "cursor_moved"
	MessageTypeCursorCleared   MessageType = "cursor_cleared"
	MessageTypeEditRelayed     MessageType = "edit_relayed"
	MessageTypeConflictNotice  MessageType = "conflict_notice"
	MessageTypeStateResponse   MessageType = "state_response"
	MessageTypeFriendOnline    MessageType = "friend_online"
	MessageTypeFriendOffline   MessageType = "friend_offline"
	MessageTypeFriendsSnapshot MessageType = "friends_snapshot"
	MessageTypeHeartbeat       MessageType = "heartbeat"
	MessageTypeRejected        MessageType = "rejected"
)

// ConflictStrategy is reported in every conflict notice. Conflicts are
// informational; the newer edit is always relayed.
const ConflictStrategy = "last_write_wins"

func (mt MessageType) String() string {
	return string(mt)
}

// IsInbound reports whether clients may send this type.
func (mt MessageType) IsInbound() bool {
	switch mt {
	case MessageTypeJoinRoom, MessageTypeLeaveRoom, MessageTypeEdit, MessageTypeCursorMove,
		MessageTypeEditing, MessageTypeIdle, MessageTypeStateRequest, MessageTypeHeartbeatAck:
		return true
	default:
		return false
	}
}

// Message is the JSON envelope for every event in both directions.
type Message struct {
	ID        string                 `json:"id"`
	Type      MessageType            `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
	UserID    string                 `json:"user_id,omitempty"`
}

// Validate checks the envelope of an inbound message.
func (m *Message) Validate() error {
	if !m.Type.IsInbound() {
		return fmt.Errorf("%w: invalid message type: %q", ErrValidation, m.Type)
	}
	if m.Data == nil {
		m.Data = make(map[string]interface{})
	}
	return nil
}

// DecodeData converts the loosely typed data map into dst.
func (m *Message) DecodeData(dst interface{}) error {
	b, err := json.Marshal(m.Data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// Inbound payloads

type RoomData struct {
	EntryID string `json:"entry_id"`
}

type EditData struct {
	EntryID         string      `json:"entry_id"`
	Content         interface{} `json:"content"`
	Operation       string      `json:"operation"`
	ClientTimestamp int64       `json:"client_timestamp"`
}

type CursorMoveData struct {
	EntryID  string    `json:"entry_id"`
	Position *Position `json:"position"`
}

// Position is an opaque client cursor location.
type Position struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Offset *int    `json:"offset,omitempty"`
}

// Viewer is one element of a room's viewer list.
type Viewer struct {
	UserID   string           `json:"user_id"`
	Status   MembershipStatus `json:"status"`
	JoinedAt time.Time        `json:"joined_at"`
}

// NewMessage creates a message with a fresh ID and the current timestamp.
func NewMessage(msgType MessageType, userID string, data map[string]interface{}) *Message {
	if data == nil {
		data = make(map[string]interface{})
	}
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
		UserID:    userID,
	}
}

func NewViewerJoinedMessage(entryID, userID string) *Message {
	return NewMessage(MessageTypeViewerJoined, userID, map[string]interface{}{
		"entry_id": entryID,
		"user_id":  userID,
	})
}

func NewViewerLeftMessage(entryID, userID string) *Message {
	return NewMessage(MessageTypeViewerLeft, userID, map[string]interface{}{
		"entry_id": entryID,
		"user_id":  userID,
	})
}

func NewViewerListMessage(entryID string, viewers []Viewer) *Message {
	return NewMessage(MessageTypeViewerList, "", map[string]interface{}{
		"entry_id": entryID,
		"viewers":  viewers,
	})
}

func NewViewerStatusMessage(entryID, userID string, status MembershipStatus) *Message {
	return NewMessage(MessageTypeViewerStatus, userID, map[string]interface{}{
		"entry_id": entryID,
		"user_id":  userID,
		"status":   status,
	})
}

func NewCursorMovedMessage(entryID, userID string, pos Position) *Message {
	return NewMessage(MessageTypeCursorMoved, userID, map[string]interface{}{
		"entry_id": entryID,
		"user_id":  userID,
		"position": pos,
	})
}

func NewCursorClearedMessage(entryID, userID string) *Message {
	return NewMessage(MessageTypeCursorCleared, userID, map[string]interface{}{
		"entry_id": entryID,
		"user_id":  userID,
	})
}

func NewEditRelayedMessage(entryID, userID string, edit EditData, acceptedAt time.Time) *Message {
	return NewMessage(MessageTypeEditRelayed, userID, map[string]interface{}{
		"entry_id":    entryID,
		"user_id":     userID,
		"content":     edit.Content,
		"operation":   edit.Operation,
		"accepted_at": acceptedAt.UnixMilli(),
	})
}

func NewConflictNoticeMessage(entryID, otherUserID string) *Message {
	return NewMessage(MessageTypeConflictNotice, "", map[string]interface{}{
		"entry_id": entryID,
		"strategy": ConflictStrategy,
		"user_id":  otherUserID,
	})
}

func NewStateResponseMessage(entryID, content string, viewers []Viewer) *Message {
	return NewMessage(MessageTypeStateResponse, "", map[string]interface{}{
		"entry_id": entryID,
		"content":  content,
		"viewers":  viewers,
	})
}

func NewStateErrorMessage(entryID, errText string) *Message {
	return NewMessage(MessageTypeStateResponse, "", map[string]interface{}{
		"entry_id": entryID,
		"error":    errText,
	})
}

func NewFriendStatusMessage(msgType MessageType, userID string, at time.Time) *Message {
	return NewMessage(msgType, userID, map[string]interface{}{
		"user_id":   userID,
		"timestamp": at.UnixMilli(),
	})
}

func NewFriendsSnapshotMessage(userID string, snap FriendSnapshot) *Message {
	return NewMessage(MessageTypeFriendsSnapshot, userID, map[string]interface{}{
		"online":  snap.Online,
		"offline": snap.Offline,
	})
}

func NewHeartbeatMessage(at time.Time) *Message {
	return NewMessage(MessageTypeHeartbeat, "", map[string]interface{}{
		"timestamp": at.UnixMilli(),
	})
}

func NewRejectedMessage(reason string) *Message {
	return NewMessage(MessageTypeRejected, "", map[string]interface{}{
		"reason": reason,
	})
}
