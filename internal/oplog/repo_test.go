package oplog

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/guildworks/guildpass-backend/pkg/db/models"
	"github.com/guildworks/guildpass-backend/pkg/enums"
	pkgpagination "github.com/guildworks/guildpass-backend/pkg/pagination"
)

func setupOplogTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS operation_log (
  id TEXT PRIMARY KEY,
  operator TEXT NOT NULL,
  target TEXT NOT NULL,
  action TEXT NOT NULL,
  details TEXT NOT NULL DEFAULT '',
  metadata TEXT,
  created_at DATETIME
);`
	require.NoError(t, db.Exec(schema).Error)
	return db
}

func seedEntry(t *testing.T, db *gorm.DB, operator, target string, createdAt time.Time) models.OperationLogEntry {
	t.Helper()
	entry := models.OperationLogEntry{
		ID:        uuid.New(),
		Operator:  operator,
		Target:    target,
		Action:    enums.ActionSubscriptionUpsert,
		CreatedAt: createdAt,
	}
	require.NoError(t, db.Create(&entry).Error)
	return entry
}

func TestInsertTxRequiresTransaction(t *testing.T) {
	repo := NewRepository(setupOplogTestDB(t))
	err := repo.InsertTx(nil, &models.OperationLogEntry{ID: uuid.New(), Operator: "alice", Target: "guild-1"})
	assert.Error(t, err)
}

func TestInsertTxPersistsEntry(t *testing.T) {
	db := setupOplogTestDB(t)
	repo := NewRepository(db)

	entry := &models.OperationLogEntry{
		ID:       uuid.New(),
		Operator: "alice",
		Target:   "guild-1",
		Action:   enums.ActionSubscriptionUpsert,
		Details:  "tier pro",
	}
	require.NoError(t, repo.InsertTx(db, entry))

	rows, err := repo.List(context.Background(), listQuery{limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "alice", rows[0].Operator)
	assert.Equal(t, "tier pro", rows[0].Details)
}

func TestListReturnsNewestFirstAndFilters(t *testing.T) {
	db := setupOplogTestDB(t)
	repo := NewRepository(db)
	base := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)

	seedEntry(t, db, "alice", "guild-1", base)
	seedEntry(t, db, "bob", "guild-2", base.Add(time.Minute))
	seedEntry(t, db, "alice", "guild-1", base.Add(2*time.Minute))

	rows, err := repo.List(context.Background(), listQuery{limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.True(t, rows[0].CreatedAt.After(rows[2].CreatedAt))

	rows, err = repo.List(context.Background(), listQuery{target: "guild-1", limit: 10})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = repo.List(context.Background(), listQuery{operator: "bob", limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "guild-2", rows[0].Target)
}

func TestListCursorSkipsEarlierPages(t *testing.T) {
	db := setupOplogTestDB(t)
	repo := NewRepository(db)
	base := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)

	seedEntry(t, db, "alice", "guild-1", base)
	middle := seedEntry(t, db, "alice", "guild-1", base.Add(time.Minute))
	seedEntry(t, db, "alice", "guild-1", base.Add(2*time.Minute))

	cursor := &pkgpagination.Cursor{CreatedAt: middle.CreatedAt, ID: middle.ID}
	rows, err := repo.List(context.Background(), listQuery{limit: 10, cursor: cursor})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].CreatedAt.Before(middle.CreatedAt))
}
