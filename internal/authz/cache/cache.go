// Package cache wraps the decision engine with a Redis-backed verdict cache.
//
// Keys are built on the role-set fingerprint, not the principal alone, so a
// verdict can never be served against a role set it was not computed for: a
// role mutation changes the fingerprint and the old entries simply stop
// being reachable. Invalidation is called synchronously from every registry,
// assignment, and policy write before the write is acknowledged.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/meridian-suite/meridian-authz/internal/authz"
)

// Authorizer is the engine surface the cache wraps.
type Authorizer interface {
	Authorize(ctx context.Context, principalID, tenantID uuid.UUID, permissionCode string) (authz.Verdict, error)
	ExplainAuthorize(ctx context.Context, principalID, tenantID uuid.UUID, permissionCode string) (authz.Verdict, error)
}

// EventRecorder counts cache hits, misses, and invalidations.
type EventRecorder interface {
	RecordCacheEvent(event string)
}

// Cache event names.
const (
	EventHit        = "hit"
	EventMiss       = "miss"
	EventInvalidate = "invalidate"
)

// DecisionCache serves verdicts from Redis, falling through to the engine on
// miss. Concurrent misses for the same key are coalesced.
type DecisionCache struct {
	engine Authorizer
	client redis.UniversalClient
	ttl    time.Duration
	group  singleflight.Group
	events EventRecorder
	logger *slog.Logger
}

// New constructs a DecisionCache.
func New(engine Authorizer, client redis.UniversalClient, ttl time.Duration, events EventRecorder, logger *slog.Logger) *DecisionCache {
	return &DecisionCache{
		engine: engine,
		client: client,
		ttl:    ttl,
		events: events,
		logger: logger,
	}
}

func fingerprintKey(tenantID, principalID uuid.UUID) string {
	return fmt.Sprintf("authz:fp:%s:%s", tenantID, principalID)
}

func verdictKey(tenantID uuid.UUID, fingerprint, permission string) string {
	return fmt.Sprintf("authz:v:%s:%s:%s", tenantID, fingerprint, permission)
}

// Authorize returns a cached verdict when both the principal's fingerprint
// and the verdict entry are live, otherwise computes and stores one. Errors
// from the engine are never cached.
func (c *DecisionCache) Authorize(ctx context.Context, principalID, tenantID uuid.UUID, permissionCode string) (authz.Verdict, error) {
	if cached, ok := c.lookup(ctx, principalID, tenantID, permissionCode); ok {
		c.record(EventHit)
		return cached, nil
	}
	c.record(EventMiss)

	flightKey := fmt.Sprintf("%s|%s|%s", tenantID, principalID, permissionCode)
	resultChan := c.group.DoChan(flightKey, func() (interface{}, error) {
		verdict, err := c.engine.Authorize(ctx, principalID, tenantID, permissionCode)
		if err != nil {
			return verdict, err
		}
		c.store(ctx, principalID, tenantID, permissionCode, verdict)
		return verdict, nil
	})

	select {
	case <-ctx.Done():
		// Deadline expired while computing: fail closed rather than wait.
		return authz.Verdict{Decision: authz.Deny, Reason: authz.ReasonUpstream}, ctx.Err()
	case res := <-resultChan:
		verdict, _ := res.Val.(authz.Verdict)
		return verdict, res.Err
	}
}

// ExplainAuthorize always goes to the engine: traces are for operators and
// must reflect the current state, not a cached snapshot.
func (c *DecisionCache) ExplainAuthorize(ctx context.Context, principalID, tenantID uuid.UUID, permissionCode string) (authz.Verdict, error) {
	return c.engine.ExplainAuthorize(ctx, principalID, tenantID, permissionCode)
}

// InvalidatePrincipal drops the principal's fingerprint entry. The next
// check recomputes the role set; verdict entries for the old fingerprint
// become unreachable and expire by TTL.
func (c *DecisionCache) InvalidatePrincipal(ctx context.Context, tenantID, principalID uuid.UUID) error {
	c.record(EventInvalidate)
	if err := c.client.Del(ctx, fingerprintKey(tenantID, principalID)).Err(); err != nil {
		return fmt.Errorf("cache: invalidate principal: %w", err)
	}
	return nil
}

// InvalidateTenant flushes every decision entry for the tenant. The zero
// tenant flushes the whole decision keyspace, since a GLOBAL role or policy
// change can affect any tenant's resolution.
func (c *DecisionCache) InvalidateTenant(ctx context.Context, tenantID uuid.UUID) error {
	c.record(EventInvalidate)
	patterns := []string{
		fmt.Sprintf("authz:fp:%s:*", tenantID),
		fmt.Sprintf("authz:v:%s:*", tenantID),
	}
	if tenantID == uuid.Nil {
		patterns = []string{"authz:fp:*", "authz:v:*"}
	}
	for _, pattern := range patterns {
		if err := c.deleteByPattern(ctx, pattern); err != nil {
			return fmt.Errorf("cache: invalidate tenant: %w", err)
		}
	}
	return nil
}

func (c *DecisionCache) lookup(ctx context.Context, principalID, tenantID uuid.UUID, permission string) (authz.Verdict, bool) {
	fingerprint, err := c.client.Get(ctx, fingerprintKey(tenantID, principalID)).Result()
	if err != nil {
		if err != redis.Nil {
			c.log().Warn("fingerprint lookup failed", slog.Any("error", err))
		}
		return authz.Verdict{}, false
	}
	payload, err := c.client.Get(ctx, verdictKey(tenantID, fingerprint, permission)).Bytes()
	if err != nil {
		return authz.Verdict{}, false
	}
	var verdict authz.Verdict
	if err := json.Unmarshal(payload, &verdict); err != nil {
		c.log().Warn("cached verdict corrupt, discarding", slog.Any("error", err))
		return authz.Verdict{}, false
	}
	return verdict, true
}

func (c *DecisionCache) store(ctx context.Context, principalID, tenantID uuid.UUID, permission string, verdict authz.Verdict) {
	if verdict.Fingerprint == "" {
		// Verdicts without a role-set fingerprint (no roles, admin paths
		// keep theirs) are not worth caching.
		return
	}
	payload, err := json.Marshal(verdict)
	if err != nil {
		c.log().Warn("marshal verdict", slog.Any("error", err))
		return
	}
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, fingerprintKey(tenantID, principalID), verdict.Fingerprint, c.ttl)
	pipe.Set(ctx, verdictKey(tenantID, verdict.Fingerprint, permission), payload, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log().Warn("store verdict", slog.Any("error", err))
	}
}

func (c *DecisionCache) deleteByPattern(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *DecisionCache) record(event string) {
	if c.events != nil {
		c.events.RecordCacheEvent(event)
	}
}

func (c *DecisionCache) log() *slog.Logger {
	if c.logger != nil {
		return c.logger.With(slog.String("component", "decision_cache"))
	}
	return slog.Default().With(slog.String("component", "decision_cache"))
}
