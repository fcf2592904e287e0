package models

import "time"

// RoomSession is the persisted form of a user's membership in an entry room.
type RoomSession struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     string    `gorm:"not null;type:varchar(64);uniqueIndex:idx_session_user_entry" json:"userId"`
	EntryID    string    `gorm:"not null;type:varchar(64);uniqueIndex:idx_session_user_entry;index" json:"entryId"`
	Status     string    `gorm:"not null;type:varchar(16)" json:"status"` // viewing, editing, idle
	JoinedAt   time.Time `gorm:"not null" json:"joinedAt"`
	LastSeenAt time.Time `gorm:"not null;index" json:"lastSeenAt"`
}
