package oplog

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/guildworks/guildpass-backend/pkg/db/models"
	pkgpagination "github.com/guildworks/guildpass-backend/pkg/pagination"
)

// Repository exposes operation log persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs an operation log repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// InsertTx appends an entry inside the caller's transaction so the audit row
// commits atomically with the mutation it records.
func (r *Repository) InsertTx(tx *gorm.DB, entry *models.OperationLogEntry) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(entry).Error
}

type listQuery struct {
	target   string
	operator string
	limit    int
	cursor   *pkgpagination.Cursor
}

// List returns entries newest-first using cursor pagination, optionally
// filtered by target or operator.
func (r *Repository) List(ctx context.Context, opts listQuery) ([]models.OperationLogEntry, error) {
	query := r.db.WithContext(ctx).Model(&models.OperationLogEntry{})

	if opts.target != "" {
		query = query.Where("target = ?", opts.target)
	}
	if opts.operator != "" {
		query = query.Where("operator = ?", opts.operator)
	}
	if opts.cursor != nil {
		query = query.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			opts.cursor.CreatedAt, opts.cursor.CreatedAt, opts.cursor.ID,
		)
	}

	query = query.Order("created_at DESC").Order("id DESC").Limit(opts.limit)

	var rows []models.OperationLogEntry
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
