package postgres

import (
	"context"
	"errors"
	"fmt"

	"collab-service/internal/collab"
	"collab-service/internal/models"

	"gorm.io/gorm"
)

type EntryRepository struct {
	db *gorm.DB
}

func NewEntryRepository(db *gorm.DB) *EntryRepository {
	return &EntryRepository{db: db}
}

func (r *EntryRepository) Save(ctx context.Context, entry *models.Entry) error {
	return r.db.WithContext(ctx).Save(entry).Error
}

func (r *EntryRepository) FindByID(ctx context.Context, id string) (*models.Entry, error) {
	var entry models.Entry
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, collab.ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to load entry: %w", err)
	}
	return &entry, nil
}

// GetEntryContent returns collab.ErrEntryNotFound for an unknown id.
func (r *EntryRepository) GetEntryContent(ctx context.Context, entryID string) (string, error) {
	entry, err := r.FindByID(ctx, entryID)
	if err != nil {
		return "", err
	}
	return entry.Content, nil
}
