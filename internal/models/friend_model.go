package models

import (
	"gorm.io/gorm"
)

const (
	FriendStatusPending  = "pending"
	FriendStatusAccepted = "accepted"
	FriendStatusBlocked  = "blocked"
)

// Friend is one direction of a friendship: UserID lists FriendID.
type Friend struct {
	gorm.Model
	UserID   string `gorm:"not null;type:varchar(64);uniqueIndex:idx_friend_pair" json:"userId"`
	FriendID string `gorm:"not null;type:varchar(64);uniqueIndex:idx_friend_pair;index" json:"friendId"`
	Status   string `gorm:"not null;type:varchar(32)" json:"status"` // pending, accepted, blocked
}
