package securing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/arkheion-systems/arkheion-securing/internal/models"
)

// releaseScript deletes the lock only if it still holds our token, so an
// expired lock re-acquired by another instance is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RunLock is a per-tenant advisory lock in Redis. It keeps concurrent
// orchestrator instances from running the same tenant and type at once; the
// journal remains correct without it, the lock only avoids wasted duplicate
// runs.
type RunLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRunLock creates a lock manager with the given TTL per acquisition.
func NewRunLock(client *redis.Client, ttl time.Duration) *RunLock {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RunLock{client: client, ttl: ttl}
}

func lockKey(tenant int, typ models.TraceabilityType) string {
	return fmt.Sprintf("securing:lock:%d:%s", tenant, typ)
}

// Acquire tries to take the lock. On success it returns a release function;
// otherwise acquired is false and another instance owns the tenant.
func (l *RunLock) Acquire(ctx context.Context, tenant int, typ models.TraceabilityType) (release func(), acquired bool, err error) {
	token := uuid.NewString()
	key := lockKey(tenant, typ)

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire run lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release = func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
	}
	return release, true, nil
}
