package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/guildworks/guildpass-backend/internal/rolesync"
	"github.com/guildworks/guildpass-backend/pkg/logger"
)

type roleReconciler interface {
	ReconcileAll(ctx context.Context, guildID string) (*rolesync.Report, error)
}

// RoleReconcileJobParams configures the periodic role reconciliation.
type RoleReconcileJobParams struct {
	Logger  *logger.Logger
	Sync    roleReconciler
	GuildID string
}

// NewRoleReconcileJob constructs the job that walks the home guild and
// resolves role/store disagreements in both directions.
func NewRoleReconcileJob(params RoleReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Sync == nil {
		return nil, fmt.Errorf("role synchronizer required")
	}
	if params.GuildID == "" {
		return nil, fmt.Errorf("home guild id required")
	}
	return &roleReconcileJob{
		logg:    params.Logger,
		sync:    params.Sync,
		guildID: params.GuildID,
	}, nil
}

type roleReconcileJob struct {
	logg    *logger.Logger
	sync    roleReconciler
	guildID string
}

func (j *roleReconcileJob) Name() string { return "role-reconcile" }

func (j *roleReconcileJob) Run(ctx context.Context) error {
	report, err := j.sync.ReconcileAll(ctx, j.guildID)
	if err != nil {
		return fmt.Errorf("reconcile guild %s: %w", j.guildID, err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"members": report.Members,
		"updated": report.Updated,
		"failed":  len(report.Errors),
	})
	j.logg.Info(logCtx, "role reconciliation complete")
	return multierr.Combine(report.Errors...)
}
