package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/guildworks/guildpass-backend/api/responses"
	"github.com/guildworks/guildpass-backend/api/validators"
	"github.com/guildworks/guildpass-backend/internal/oplog"
	"github.com/guildworks/guildpass-backend/pkg/db/models"
	"github.com/guildworks/guildpass-backend/pkg/enums"
	"github.com/guildworks/guildpass-backend/pkg/logger"
)

// OplogService is the audit trail surface the HTTP layer consumes.
type OplogService interface {
	List(ctx context.Context, params oplog.ListParams) (*oplog.ListResult, error)
}

type oplogEntryResponse struct {
	ID        uuid.UUID             `json:"id"`
	Operator  string                `json:"operator"`
	Target    string                `json:"target"`
	Action    enums.OperationAction `json:"action"`
	Details   string                `json:"details,omitempty"`
	Metadata  json.RawMessage       `json:"metadata,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
}

func oplogEntryFromModel(m *models.OperationLogEntry) oplogEntryResponse {
	return oplogEntryResponse{
		ID:        m.ID,
		Operator:  m.Operator,
		Target:    m.Target,
		Action:    m.Action,
		Details:   m.Details,
		Metadata:  m.Metadata,
		CreatedAt: m.CreatedAt,
	}
}

// OplogList returns the audit trail, newest first, filterable by target and
// operator.
func OplogList(svc OplogService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", 0, 0, 500)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.List(r.Context(), oplog.ListParams{
			Target:   validators.SanitizeString(r.URL.Query().Get("target"), 64),
			Operator: validators.SanitizeString(r.URL.Query().Get("operator"), 64),
			Limit:    limit,
			Cursor:   validators.SanitizeString(r.URL.Query().Get("cursor"), 128),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]oplogEntryResponse, 0, len(result.Items))
		for i := range result.Items {
			items = append(items, oplogEntryFromModel(&result.Items[i]))
		}
		responses.WriteSuccess(w, map[string]any{
			"items":  items,
			"cursor": result.Cursor,
		})
	}
}
