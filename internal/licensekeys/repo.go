package licensekeys

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/guildworks/guildpass-backend/pkg/db/models"
)

// Repository exposes license key persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a license key repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CreateTx inserts a new key row inside the caller's transaction.
func (r *Repository) CreateTx(tx *gorm.DB, key *models.LicenseKey) error {
	return tx.Create(key).Error
}

// FindByKey loads a key row by its value.
func (r *Repository) FindByKey(ctx context.Context, key string) (*models.LicenseKey, error) {
	var row models.LicenseKey
	if err := r.db.WithContext(ctx).Where("key = ?", key).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// FindByKeyTx loads a key row inside a transaction.
func (r *Repository) FindByKeyTx(tx *gorm.DB, key string) (*models.LicenseKey, error) {
	var row models.LicenseKey
	if err := tx.Where("key = ?", key).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// ConsumeTx flips a key to used if and only if it is still unused. The
// conditional predicate makes concurrent redemptions race on a single row
// update; exactly one caller sees RowsAffected == 1.
func (r *Repository) ConsumeTx(tx *gorm.DB, key, usedBy string, usedAt time.Time) (bool, error) {
	result := tx.Model(&models.LicenseKey{}).
		Where("key = ? AND used = ?", key, false).
		Updates(map[string]any{
			"used":       true,
			"used_by":    usedBy,
			"used_at":    usedAt,
			"updated_at": usedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

type listQuery struct {
	used  *bool
	tier  string
	limit int
}

// List returns keys newest-first with optional used/tier filters.
func (r *Repository) List(ctx context.Context, opts listQuery) ([]models.LicenseKey, error) {
	query := r.db.WithContext(ctx).Model(&models.LicenseKey{})
	if opts.used != nil {
		query = query.Where("used = ?", *opts.used)
	}
	if opts.tier != "" {
		query = query.Where("tier = ?", opts.tier)
	}

	var rows []models.LicenseKey
	if err := query.Order("created_at DESC").Limit(opts.limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
