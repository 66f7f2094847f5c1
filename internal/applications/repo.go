package applications

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/guildworks/guildpass-backend/pkg/db/models"
	"github.com/guildworks/guildpass-backend/pkg/enums"
)

// Repository exposes application and auto-approval-rule persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs an application repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// UpsertTx writes the application keyed by (holder_id, guild_id). A
// resubmission overwrites the prior row and resets its review state.
func (r *Repository) UpsertTx(tx *gorm.DB, app *models.Application) error {
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "holder_id"}, {Name: "guild_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"message_ref", "author_id", "author_name", "content", "tier",
			"purchase_name", "amount", "status", "issued_key", "auto_processed", "updated_at",
		}),
	}).Create(app).Error
}

// FindByID loads an application row.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Application, error) {
	var row models.Application
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// FindByIDTx loads an application row inside a transaction with a row lock.
func (r *Repository) FindByIDTx(tx *gorm.DB, id uuid.UUID) (*models.Application, error) {
	var row models.Application
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// FindByHolderGuildTx loads the row for one (holder, guild) pair.
func (r *Repository) FindByHolderGuildTx(tx *gorm.DB, holderID, guildID string) (*models.Application, error) {
	var row models.Application
	if err := tx.Where("holder_id = ? AND guild_id = ?", holderID, guildID).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// SaveTx persists the full application row inside a transaction.
func (r *Repository) SaveTx(tx *gorm.DB, app *models.Application) error {
	return tx.Save(app).Error
}

// ListByStatus returns applications in a status, oldest first.
func (r *Repository) ListByStatus(ctx context.Context, status enums.ApplicationStatus, limit int) ([]models.Application, error) {
	var rows []models.Application
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// RuleRepository exposes auto-approval-rule persistence.
type RuleRepository struct {
	db *gorm.DB
}

// NewRuleRepository constructs a rule repository tied to the provided GORM DB.
func NewRuleRepository(db *gorm.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

// Create inserts a rule.
func (r *RuleRepository) Create(ctx context.Context, rule *models.AutoApprovalRule) error {
	return r.db.WithContext(ctx).Create(rule).Error
}

// CreateTx inserts a rule inside the caller's transaction.
func (r *RuleRepository) CreateTx(tx *gorm.DB, rule *models.AutoApprovalRule) error {
	return tx.Create(rule).Error
}

// ListActive returns active rules in creation order. Evaluation order is
// load-bearing: the first matching rule wins.
func (r *RuleRepository) ListActive(ctx context.Context) ([]models.AutoApprovalRule, error) {
	var rows []models.AutoApprovalRule
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// List returns every rule in creation order.
func (r *RuleRepository) List(ctx context.Context) ([]models.AutoApprovalRule, error) {
	var rows []models.AutoApprovalRule
	err := r.db.WithContext(ctx).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// SetActiveTx flips a rule's active flag. Returns gorm.ErrRecordNotFound
// when the id is unknown.
func (r *RuleRepository) SetActiveTx(tx *gorm.DB, id uuid.UUID, active bool) error {
	result := tx.Model(&models.AutoApprovalRule{}).
		Where("id = ?", id).
		Update("active", active)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
