package oplog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/guildworks/guildpass-backend/pkg/db/models"
	"github.com/guildworks/guildpass-backend/pkg/enums"
	pkgerrors "github.com/guildworks/guildpass-backend/pkg/errors"
	pkgpagination "github.com/guildworks/guildpass-backend/pkg/pagination"
)

type repository interface {
	InsertTx(tx *gorm.DB, entry *models.OperationLogEntry) error
	List(ctx context.Context, opts listQuery) ([]models.OperationLogEntry, error)
}

// Entry describes one audit record to append.
type Entry struct {
	Operator string
	Target   string
	Action   enums.OperationAction
	Details  string
	Metadata any
}

// ListParams are the caller-facing list filters.
type ListParams struct {
	Target   string
	Operator string
	Limit    int
	Cursor   string
}

// ListResult is one page of audit entries.
type ListResult struct {
	Items  []models.OperationLogEntry
	Cursor string
}

// Service appends and lists operation log entries. Append rides the caller's
// transaction: an operation and its audit row commit or roll back together.
type Service struct {
	repo repository
}

// NewService builds the operation log service.
func NewService(repo repository) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("oplog repository required")
	}
	return &Service{repo: repo}, nil
}

// Append writes one audit row inside tx.
func (s *Service) Append(ctx context.Context, tx *gorm.DB, entry Entry) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	operator := strings.TrimSpace(entry.Operator)
	if operator == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "operator is required")
	}
	target := strings.TrimSpace(entry.Target)
	if target == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "target is required")
	}
	if !entry.Action.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid action %q", entry.Action))
	}

	row := &models.OperationLogEntry{
		Operator: operator,
		Target:   target,
		Action:   entry.Action,
		Details:  entry.Details,
	}
	if entry.Metadata != nil {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal oplog metadata")
		}
		row.Metadata = raw
	}

	if err := s.repo.InsertTx(tx, row); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append operation log")
	}
	return nil
}

// List returns a page of entries, newest first.
func (s *Service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	limit := pkgpagination.NormalizeLimit(params.Limit)
	query := listQuery{
		target:   strings.TrimSpace(params.Target),
		operator: strings.TrimSpace(params.Operator),
		limit:    pkgpagination.LimitWithBuffer(params.Limit),
	}
	if params.Cursor != "" {
		cursor, err := pkgpagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.cursor = cursor
	}

	rows, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list operation log")
	}

	nextCursor := ""
	if len(rows) > limit {
		nextCursor = pkgpagination.EncodeCursor(pkgpagination.Cursor{
			CreatedAt: rows[limit].CreatedAt,
			ID:        rows[limit].ID,
		})
		rows = rows[:limit]
	}

	return &ListResult{Items: rows, Cursor: nextCursor}, nil
}
