package db

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/datnetwork/datmind/internal/models"
)

// defaultHistoryLimit caps journal listings when the caller gives no limit
const defaultHistoryLimit = 50

// Repository provides database access methods
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// JournalRepository stores command submissions
type JournalRepository struct {
	*Repository
}

// NewJournalRepository creates a new journal repository
func NewJournalRepository(repo *Repository) *JournalRepository {
	return &JournalRepository{Repository: repo}
}

// Record inserts one completed submission
func (r *JournalRepository) Record(ctx context.Context, rec *models.CommandRecord) error {
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to journal command %s: %w", rec.CommandID, err)
	}
	return nil
}

// GetByID retrieves a submission by command ID
func (r *JournalRepository) GetByID(ctx context.Context, commandID string) (*models.CommandRecord, error) {
	var rec models.CommandRecord
	if err := r.db.WithContext(ctx).Where("command_id = ?", commandID).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// ListByParty returns the most recent submissions of party, newest first
func (r *JournalRepository) ListByParty(ctx context.Context, party string, limit int) ([]*models.CommandRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = defaultHistoryLimit
	}
	var recs []*models.CommandRecord
	if err := r.db.WithContext(ctx).
		Where("party = ?", party).
		Order("submitted_at DESC").
		Limit(limit).
		Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}
