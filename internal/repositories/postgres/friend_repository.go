package postgres

import (
	"context"
	"errors"
	"fmt"

	"collab-service/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type FriendRepository struct {
	db *gorm.DB
}

func NewFriendRepository(db *gorm.DB) *FriendRepository {
	return &FriendRepository{db: db}
}

// AddFriend records an accepted friendship in both directions.
func (r *FriendRepository) AddFriend(ctx context.Context, userID, friendID string) error {
	if userID == friendID {
		return errors.New("cannot add self as a friend")
	}

	rows := []models.Friend{
		{UserID: userID, FriendID: friendID, Status: models.FriendStatusAccepted},
		{UserID: friendID, FriendID: userID, Status: models.FriendStatusAccepted},
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "friend_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "updated_at"}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to add friend: %w", err)
	}
	return nil
}

func (r *FriendRepository) RemoveFriend(ctx context.Context, userID, friendID string) error {
	if userID == friendID {
		return errors.New("cannot remove self as a friend")
	}
	err := r.db.WithContext(ctx).Unscoped().
		Where("(user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)",
			userID, friendID, friendID, userID).
		Delete(&models.Friend{}).Error
	if err != nil {
		return fmt.Errorf("failed to remove friend: %w", err)
	}
	return nil
}

// ListFriendIDs returns the users userID lists as accepted friends.
func (r *FriendRepository) ListFriendIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.Friend{}).
		Where("user_id = ? AND status = ?", userID, models.FriendStatusAccepted).
		Order("friend_id").
		Pluck("friend_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list friends: %w", err)
	}
	return ids, nil
}

// ListFollowerIDs returns the users that list userID as an accepted friend.
func (r *FriendRepository) ListFollowerIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.Friend{}).
		Where("friend_id = ? AND status = ?", userID, models.FriendStatusAccepted).
		Order("user_id").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list followers: %w", err)
	}
	return ids, nil
}
