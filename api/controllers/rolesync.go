package controllers

import (
	"context"
	"net/http"

	"github.com/guildworks/guildpass-backend/api/responses"
	"github.com/guildworks/guildpass-backend/internal/rolesync"
	pkgerrors "github.com/guildworks/guildpass-backend/pkg/errors"
	"github.com/guildworks/guildpass-backend/pkg/logger"
)

// RoleSyncService is the reconciliation surface the HTTP layer consumes.
type RoleSyncService interface {
	ReconcileAll(ctx context.Context, guildID string) (*rolesync.Report, error)
}

// RoleReconcile runs a full role reconciliation pass over the home guild on
// demand, outside the scheduled cadence.
func RoleReconcile(svc RoleSyncService, homeGuildID string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := requireOperator(r); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		report, err := svc.ReconcileAll(r.Context(), homeGuildID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reconcile roles"))
			return
		}

		failures := make([]string, 0, len(report.Errors))
		for _, e := range report.Errors {
			failures = append(failures, e.Error())
		}
		responses.WriteSuccess(w, map[string]any{
			"members":  report.Members,
			"updated":  report.Updated,
			"failures": failures,
		})
	}
}
