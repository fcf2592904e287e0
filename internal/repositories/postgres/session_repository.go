package postgres

import (
	"context"
	"fmt"
	"time"

	"collab-service/internal/collab"
	"collab-service/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// UpsertRoomSession inserts the (user, entry) row or refreshes its status and
// last-seen time. JoinedAt is only written on insert.
func (r *SessionRepository) UpsertRoomSession(ctx context.Context, userID, entryID string, status collab.MembershipStatus, seenAt time.Time) error {
	row := models.RoomSession{
		UserID:     userID,
		EntryID:    entryID,
		Status:     string(status),
		JoinedAt:   seenAt,
		LastSeenAt: seenAt,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "entry_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "last_seen_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert room session: %w", err)
	}
	return nil
}

func (r *SessionRepository) DeleteRoomSession(ctx context.Context, userID, entryID string) error {
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND entry_id = ?", userID, entryID).
		Delete(&models.RoomSession{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete room session: %w", err)
	}
	return nil
}

// PruneRoomSessions deletes rows whose last-seen time is before olderThan.
func (r *SessionRepository) PruneRoomSessions(ctx context.Context, olderThan time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("last_seen_at < ?", olderThan).
		Delete(&models.RoomSession{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune room sessions: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// FindByEntry lists the persisted sessions of an entry.
func (r *SessionRepository) FindByEntry(ctx context.Context, entryID string) ([]models.RoomSession, error) {
	var rows []models.RoomSession
	err := r.db.WithContext(ctx).
		Where("entry_id = ?", entryID).
		Order("joined_at").
		Find(&rows).Error
	return rows, err
}
