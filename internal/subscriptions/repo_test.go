package subscriptions

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/guildworks/guildpass-backend/pkg/db/models"
	"github.com/guildworks/guildpass-backend/pkg/enums"
)

func setupSubscriptionsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS subscriptions (
  guild_id TEXT PRIMARY KEY,
  holder_id TEXT NOT NULL,
  tier TEXT NOT NULL DEFAULT 'free',
  expires_at DATETIME,
  active INTEGER NOT NULL DEFAULT 1,
  auto_renew INTEGER NOT NULL DEFAULT 0,
  warning_sent INTEGER NOT NULL DEFAULT 0,
  migration_count INTEGER NOT NULL DEFAULT 0,
  last_migrated_at DATETIME,
  notes TEXT NOT NULL DEFAULT '',
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(schema).Error)
	return db
}

func seedSubscription(t *testing.T, db *gorm.DB, sub models.Subscription) {
	t.Helper()
	require.NoError(t, db.Create(&sub).Error)
}

func TestFindByGuildReturnsNotFoundForMissingRow(t *testing.T) {
	db := setupSubscriptionsTestDB(t)
	repo := NewRepository(db)

	_, err := repo.FindByGuild(context.Background(), "guild-missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestUpsertTxInsertsThenUpdatesInPlace(t *testing.T) {
	db := setupSubscriptionsTestDB(t)
	repo := NewRepository(db)
	expires := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	sub := &models.Subscription{
		GuildID:   "guild-1",
		HolderID:  "holder-1",
		Tier:      enums.TierPro,
		ExpiresAt: &expires,
		Active:    true,
	}
	require.NoError(t, repo.UpsertTx(db, sub))

	bumped := expires.AddDate(0, 1, 0)
	sub.Tier = enums.TierProPlus
	sub.ExpiresAt = &bumped
	require.NoError(t, repo.UpsertTx(db, sub))

	got, err := repo.FindByGuild(context.Background(), "guild-1")
	require.NoError(t, err)
	assert.Equal(t, enums.TierProPlus, got.Tier)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(bumped))

	var count int64
	require.NoError(t, db.Model(&models.Subscription{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCountActivePaidByHolderTxSkipsFreeInactiveAndExcluded(t *testing.T) {
	db := setupSubscriptionsTestDB(t)
	repo := NewRepository(db)

	seedSubscription(t, db, models.Subscription{GuildID: "g-paid", HolderID: "holder-1", Tier: enums.TierPro, Active: true})
	seedSubscription(t, db, models.Subscription{GuildID: "g-free", HolderID: "holder-1", Tier: enums.TierFree, Active: true})
	seedSubscription(t, db, models.Subscription{GuildID: "g-inactive", HolderID: "holder-1", Tier: enums.TierProPlus, Active: false})
	seedSubscription(t, db, models.Subscription{GuildID: "g-other", HolderID: "holder-2", Tier: enums.TierPro, Active: true})

	count, err := repo.CountActivePaidByHolderTx(db, "holder-1", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = repo.CountActivePaidByHolderTx(db, "holder-1", "g-paid")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestMoveGuildTxRewritesKeyAndBumpsMigrationCount(t *testing.T) {
	db := setupSubscriptionsTestDB(t)
	repo := NewRepository(db)
	migratedAt := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	seedSubscription(t, db, models.Subscription{GuildID: "guild-old", HolderID: "holder-1", Tier: enums.TierPro, Active: true})

	require.NoError(t, repo.MoveGuildTx(db, "guild-old", "guild-new", migratedAt))

	_, err := repo.FindByGuild(context.Background(), "guild-old")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	got, err := repo.FindByGuild(context.Background(), "guild-new")
	require.NoError(t, err)
	assert.Equal(t, 1, got.MigrationCount)
	require.NotNil(t, got.LastMigratedAt)
	assert.True(t, got.LastMigratedAt.Equal(migratedAt))
}

func TestMoveGuildTxMissingSourceReturnsNotFound(t *testing.T) {
	db := setupSubscriptionsTestDB(t)
	repo := NewRepository(db)

	err := repo.MoveGuildTx(db, "guild-missing", "guild-new", time.Now().UTC())
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestFindDueForSweepOrdersByExpiryAndHonorsCutoff(t *testing.T) {
	db := setupSubscriptionsTestDB(t)
	repo := NewRepository(db)

	now := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	soon := now.AddDate(0, 0, 3)
	sooner := now.AddDate(0, 0, 1)
	far := now.AddDate(0, 2, 0)

	seedSubscription(t, db, models.Subscription{GuildID: "g-soon", HolderID: "h-1", Tier: enums.TierPro, Active: true, ExpiresAt: &soon})
	seedSubscription(t, db, models.Subscription{GuildID: "g-sooner", HolderID: "h-2", Tier: enums.TierProPlus, Active: true, ExpiresAt: &sooner})
	seedSubscription(t, db, models.Subscription{GuildID: "g-far", HolderID: "h-3", Tier: enums.TierPro, Active: true, ExpiresAt: &far})
	seedSubscription(t, db, models.Subscription{GuildID: "g-free", HolderID: "h-4", Tier: enums.TierFree, Active: true, ExpiresAt: &sooner})
	seedSubscription(t, db, models.Subscription{GuildID: "g-inactive", HolderID: "h-5", Tier: enums.TierPro, Active: false, ExpiresAt: &sooner})

	rows, err := repo.FindDueForSweep(context.Background(), now.AddDate(0, 0, 7), 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "g-sooner", rows[0].GuildID)
	assert.Equal(t, "g-soon", rows[1].GuildID)
}

func TestByHolderIncludesInactiveRows(t *testing.T) {
	db := setupSubscriptionsTestDB(t)
	repo := NewRepository(db)

	seedSubscription(t, db, models.Subscription{GuildID: "g-1", HolderID: "holder-1", Tier: enums.TierPro, Active: true})
	seedSubscription(t, db, models.Subscription{GuildID: "g-2", HolderID: "holder-2", Tier: enums.TierFree, Active: true})
	seedSubscription(t, db, models.Subscription{GuildID: "g-3", HolderID: "holder-3", Tier: enums.TierPro, Active: false})

	byHolder, err := repo.ByHolder(context.Background())
	require.NoError(t, err)
	require.Len(t, byHolder, 3)
	assert.Equal(t, "g-1", byHolder["holder-1"].GuildID)
	assert.Equal(t, "g-2", byHolder["holder-2"].GuildID)
	// A row deactivated by an earlier reconcile pass must stay visible so a
	// re-granted role can reactivate it.
	assert.Equal(t, "g-3", byHolder["holder-3"].GuildID)
	assert.False(t, byHolder["holder-3"].Active)
}
