package subscriptions

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/guildworks/guildpass-backend/pkg/db/models"
)

// Repository exposes subscription persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a subscription repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindByGuild returns the subscription for a guild, or gorm.ErrRecordNotFound.
func (r *Repository) FindByGuild(ctx context.Context, guildID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).Where("guild_id = ?", guildID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// FindByGuildTx loads the row FOR UPDATE so lifecycle transitions serialize
// per guild.
func (r *Repository) FindByGuildTx(tx *gorm.DB, guildID string) (*models.Subscription, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	var sub models.Subscription
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("guild_id = ?", guildID).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// FindByHolder returns every subscription bound to the holder.
func (r *Repository) FindByHolder(ctx context.Context, holderID string) ([]models.Subscription, error) {
	var rows []models.Subscription
	err := r.db.WithContext(ctx).
		Where("holder_id = ?", holderID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

// CountActivePaidByHolderTx counts active paid-tier seats held by the holder,
// excluding one guild (pass "" to count all). Backs the one-seat pre-check.
func (r *Repository) CountActivePaidByHolderTx(tx *gorm.DB, holderID, excludeGuildID string) (int64, error) {
	if tx == nil {
		return 0, errors.New("transaction required")
	}
	query := tx.Model(&models.Subscription{}).
		Where("holder_id = ?", holderID).
		Where("active = ?", true).
		Where("tier <> ?", "free")
	if excludeGuildID != "" {
		query = query.Where("guild_id <> ?", excludeGuildID)
	}
	var count int64
	err := query.Count(&count).Error
	return count, err
}

// UpsertTx inserts or updates the guild's subscription in one statement.
func (r *Repository) UpsertTx(tx *gorm.DB, sub *models.Subscription) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "guild_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"holder_id", "tier", "expires_at", "active",
			"auto_renew", "warning_sent", "notes", "updated_at",
		}),
	}).Create(sub).Error
}

// SaveTx persists field changes for an already-loaded row.
func (r *Repository) SaveTx(tx *gorm.DB, sub *models.Subscription) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Save(sub).Error
}

// MoveGuildTx rewrites the guild key during a migration and stamps the
// cooldown bookkeeping.
func (r *Repository) MoveGuildTx(tx *gorm.DB, fromGuildID, toGuildID string, migratedAt time.Time) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	result := tx.Model(&models.Subscription{}).
		Where("guild_id = ?", fromGuildID).
		Updates(map[string]any{
			"guild_id":         toGuildID,
			"migration_count":  gorm.Expr("migration_count + 1"),
			"last_migrated_at": migratedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// FindDueForSweep returns active paid-tier rows whose expiry falls at or
// before the cutoff, oldest expiry first. The cutoff includes the warning
// lead so one query feeds the warn, renew, and downgrade stages.
func (r *Repository) FindDueForSweep(ctx context.Context, cutoff time.Time, limit int) ([]models.Subscription, error) {
	var rows []models.Subscription
	query := r.db.WithContext(ctx).
		Where("active = ?", true).
		Where("tier <> ?", "free").
		Where("expires_at IS NOT NULL").
		Where("expires_at <= ?", cutoff).
		Order("expires_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&rows).Error
	return rows, err
}

// ByHolder returns every subscription keyed by holder id, inactive rows
// included. Role reconciliation needs the inactive ones: a row deactivated
// by an earlier pass must be reachable so a re-granted role can reactivate
// it.
func (r *Repository) ByHolder(ctx context.Context) (map[string]models.Subscription, error) {
	var rows []models.Subscription
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	byHolder := make(map[string]models.Subscription, len(rows))
	for _, row := range rows {
		byHolder[row.HolderID] = row
	}
	return byHolder, nil
}
