package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/meridian-suite/meridian-authz/internal/jobs"
)

// IntegrityScanJob sweeps active assignments for principals holding more
// roles than their tenant's policy allows. The engine fails such requests
// closed at resolution time; this job surfaces the rows so operators can
// repair them before users hit the denial.
type IntegrityScanJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIntegrityScanJob wires dependencies for the scan handler.
func NewIntegrityScanJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityScanJob {
	return &IntegrityScanJob{Pool: pool, Logger: logger, Metrics: metrics}
}

type limitViolation struct {
	PrincipalID string
	TenantID    string
	Held        int
	Limit       int
}

// Handle processes integrity scan tasks.
func (j *IntegrityScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("integrity scan: handler not configured")
	}
	var payload IntegrityScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskIntegrityScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	violations, err := j.fetchViolations(ctx, payload.TenantID)
	if err != nil {
		resultErr = err
		j.logger().Error("scan assignments", slog.Any("error", err))
		return resultErr
	}

	for _, v := range violations {
		j.logger().Warn("principal exceeds concurrent role limit",
			slog.String("principal", v.PrincipalID),
			slog.String("tenant", v.TenantID),
			slog.Int("held", v.Held),
			slog.Int("limit", v.Limit))
		j.metrics().AddViolations(v.TenantID, 1)
	}

	j.logger().Info("completed assignment integrity scan", slog.Int("violations", len(violations)))
	return resultErr
}

func (j *IntegrityScanJob) fetchViolations(ctx context.Context, tenantFilter string) ([]limitViolation, error) {
	query := `
		SELECT ur.principal_id, ur.tenant_id, COUNT(*) AS held, pcr.max_concurrent_roles
		FROM user_roles ur
		JOIN permission_conflict_resolutions pcr
			ON pcr.tenant_id = ur.tenant_id AND pcr.lifecycle = 'ACTIVE'
		WHERE ur.lifecycle = 'ACTIVE'
		  AND (ur.valid_from IS NULL OR ur.valid_from <= NOW())
		  AND (ur.valid_until IS NULL OR ur.valid_until > NOW())
		  AND pcr.max_concurrent_roles > 0`
	args := []any{}
	if tenantFilter != "" {
		query += ` AND ur.tenant_id = $1`
		args = append(args, tenantFilter)
	}
	query += `
		GROUP BY ur.principal_id, ur.tenant_id, pcr.max_concurrent_roles
		HAVING COUNT(*) > pcr.max_concurrent_roles`

	rows, err := j.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var violations []limitViolation
	for rows.Next() {
		var v limitViolation
		if err := rows.Scan(&v.PrincipalID, &v.TenantID, &v.Held, &v.Limit); err != nil {
			return nil, err
		}
		violations = append(violations, v)
	}
	return violations, rows.Err()
}

func (j *IntegrityScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return jobmetrics.NewMetrics(nil)
}

func (j *IntegrityScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", "integrity_scan"))
	}
	return slog.Default().With(slog.String("job", "integrity_scan"))
}
