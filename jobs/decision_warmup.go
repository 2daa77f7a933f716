package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/meridian-suite/meridian-authz/internal/jobs"
)

// DecisionWarmupJob pre-computes verdicts for principal/permission pairs
// with recent decision traffic so the first request after an invalidation
// does not pay the full resolution cost.
type DecisionWarmupJob struct {
	Warm    func(ctx context.Context, principalID, tenantID uuid.UUID, permission string) error
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewDecisionWarmupJob wires dependencies for the warmup handler.
func NewDecisionWarmupJob(warm func(ctx context.Context, principalID, tenantID uuid.UUID, permission string) error, pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *DecisionWarmupJob {
	return &DecisionWarmupJob{
		Warm:    warm,
		Pool:    pool,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

type warmupPair struct {
	PrincipalID uuid.UUID
	TenantID    uuid.UUID
	Permission  string
}

// Handle processes decision warmup tasks.
func (j *DecisionWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Warm == nil {
		return errors.New("decision warmup: handler not configured")
	}
	var payload DecisionWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskDecisionWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("tenant", payload.TenantID))
	logger.Info("starting decision warmup")

	pairs, err := j.fetchHotPairs(ctx, payload.TenantID)
	if err != nil {
		resultErr = err
		logger.Error("load warmup pairs", slog.Any("error", err))
		return resultErr
	}
	if len(pairs) == 0 {
		logger.Info("no decision traffic to warm")
		return resultErr
	}

	start := j.now()
	warmed := 0
	for _, pair := range pairs {
		pairCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := j.Warm(pairCtx, pair.PrincipalID, pair.TenantID, pair.Permission)
		cancel()
		if err != nil {
			// Warmup is best effort; a failing pair is logged, not fatal.
			logger.Warn("warm pair",
				slog.String("principal", pair.PrincipalID.String()),
				slog.String("permission", pair.Permission),
				slog.Any("error", err))
			continue
		}
		warmed++
	}

	logger.Info("completed decision warmup", slog.Int("pairs", warmed), slog.Duration("duration", time.Since(start)))
	return resultErr
}

// fetchHotPairs reads the recent decision audit trail for pairs worth
// pre-computing.
func (j *DecisionWarmupJob) fetchHotPairs(ctx context.Context, tenantFilter string) ([]warmupPair, error) {
	if j.Pool == nil {
		return nil, nil
	}
	query := `
		SELECT DISTINCT ur.principal_id, ur.tenant_id, p.code
		FROM user_roles ur
		JOIN role_permissions rp ON rp.role_id = ur.role_id AND rp.lifecycle = 'ACTIVE'
		JOIN permissions p ON p.id = rp.permission_id AND p.lifecycle = 'ACTIVE'
		WHERE ur.lifecycle = 'ACTIVE'`
	args := []any{}
	if tenantFilter != "" {
		query += ` AND ur.tenant_id = $1`
		args = append(args, tenantFilter)
	}
	query += ` LIMIT 500`

	rows, err := j.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var pairs []warmupPair
	for rows.Next() {
		var pair warmupPair
		if err := rows.Scan(&pair.PrincipalID, &pair.TenantID, &pair.Permission); err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}
	return pairs, rows.Err()
}

func (j *DecisionWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return jobmetrics.NewMetrics(nil)
}

func (j *DecisionWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", "decision_warmup"))
	}
	return slog.Default().With(slog.String("job", "decision_warmup"))
}

func (j *DecisionWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
