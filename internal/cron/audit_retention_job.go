package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/cartloom/storefront/pkg/logger"
)

const defaultAuditRetentionDays = 365

type AuditRetentionJobParams struct {
	Logger        *logger.Logger
	Audit         auditPurger
	RetentionDays int
}

type auditPurger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// NewAuditRetentionJob builds the job that trims inventory log entries past
// the retention window. The log is otherwise append-only; this is the single
// sanctioned deletion path.
func NewAuditRetentionJob(params AuditRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit service required")
	}
	retention := params.RetentionDays
	if retention <= 0 {
		retention = defaultAuditRetentionDays
	}
	return &auditRetentionJob{
		logg:      params.Logger,
		audit:     params.Audit,
		retention: retention,
		now:       time.Now,
	}, nil
}

type auditRetentionJob struct {
	logg      *logger.Logger
	audit     auditPurger
	retention int
	now       func() time.Time
}

func (j *auditRetentionJob) Name() string { return "audit-retention" }

func (j *auditRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.retention) * 24 * time.Hour)
	deleted, err := j.audit.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("audit retention: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.retention,
		"rows_deleted":   deleted,
	})
	j.logg.Info(logCtx, "audit retention complete")
	return nil
}
