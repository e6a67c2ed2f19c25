package lock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"cfgedit/internal/cfgedit"
)

const redisKeyPrefix = "cfgedit:lock:"

// Leases are hashes {holder, acquired_at} with a PEXPIRE, so Redis expires
// abandoned leases on its own clock. The scripts keep check-and-set atomic.
var (
	acquireScript = redis.NewScript(`
local holder = redis.call('HGET', KEYS[1], 'holder')
if holder and holder ~= ARGV[1] then
  return {0, holder, redis.call('HGET', KEYS[1], 'acquired_at')}
end
if not holder then
  redis.call('HSET', KEYS[1], 'holder', ARGV[1], 'acquired_at', ARGV[2])
end
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return {1, ARGV[1], redis.call('HGET', KEYS[1], 'acquired_at')}
`)

	renewScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'holder') ~= ARGV[1] then
  return ''
end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return redis.call('HGET', KEYS[1], 'acquired_at')
`)

	releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'holder') == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)
)

// RedisService is a LockService backed by Redis, shared by every editor
// pointed at the same server.
type RedisService struct {
	client     *redis.Client
	clock      cfgedit.Clock
	ttl        time.Duration
	privileged map[string]bool
}

// NewRedisService connects to redisURL and checks the connection.
func NewRedisService(redisURL string, clock cfgedit.Clock, ttl time.Duration, privileged []string) (*RedisService, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisServiceWithClient(client, clock, ttl, privileged), nil
}

// NewRedisServiceWithClient creates a service from an existing client.
func NewRedisServiceWithClient(client *redis.Client, clock cfgedit.Clock, ttl time.Duration, privileged []string) *RedisService {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &RedisService{client: client, clock: clock, ttl: ttl, privileged: privilegedSet(privileged)}
}

func (r *RedisService) key(documentID string) string {
	return redisKeyPrefix + documentID
}

func (r *RedisService) lease(documentID, holder, acquiredAt string) (*cfgedit.Lock, error) {
	nanos, err := strconv.ParseInt(acquiredAt, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt lease on %s: %w", documentID, err)
	}
	return &cfgedit.Lock{
		DocumentID: documentID,
		Holder:     holder,
		AcquiredAt: time.Unix(0, nanos).UTC(),
		ExpiresAt:  r.clock.Now().Add(r.ttl),
	}, nil
}

func (r *RedisService) Acquire(ctx context.Context, documentID, identity string) (*cfgedit.Lock, error) {
	now := r.clock.Now()
	res, err := acquireScript.Run(ctx, r.client, []string{r.key(documentID)}, identity, now.UnixNano(), r.ttl.Milliseconds()).Slice()
	if err != nil {
		return nil, fmt.Errorf("acquire lock on %s: %w", documentID, err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("acquire lock on %s: unexpected reply %v", documentID, res)
	}
	granted, _ := res[0].(int64)
	holder, _ := res[1].(string)
	acquiredAt, _ := res[2].(string)

	l, err := r.lease(documentID, holder, acquiredAt)
	if err != nil {
		return nil, err
	}
	if granted != 1 {
		return nil, &cfgedit.LockHeldError{DocumentID: documentID, Holder: l.Holder, HeldSince: l.AcquiredAt}
	}
	return l, nil
}

func (r *RedisService) Renew(ctx context.Context, documentID, identity string) (*cfgedit.Lock, error) {
	acquiredAt, err := renewScript.Run(ctx, r.client, []string{r.key(documentID)}, identity, r.ttl.Milliseconds()).Text()
	if err != nil {
		return nil, fmt.Errorf("renew lock on %s: %w", documentID, err)
	}
	if acquiredAt == "" {
		return nil, fmt.Errorf("renewing %s: %w", documentID, cfgedit.ErrLockNotHeld)
	}
	return r.lease(documentID, identity, acquiredAt)
}

func (r *RedisService) Release(ctx context.Context, documentID, identity string) error {
	if err := releaseScript.Run(ctx, r.client, []string{r.key(documentID)}, identity).Err(); err != nil {
		return fmt.Errorf("release lock on %s: %w", documentID, err)
	}
	return nil
}

func (r *RedisService) ForceBreak(ctx context.Context, documentID, identity string) error {
	if !r.privileged[identity] {
		return fmt.Errorf("%s breaking lock on %s: %w", identity, documentID, cfgedit.ErrForbidden)
	}
	if err := r.client.Del(ctx, r.key(documentID)).Err(); err != nil {
		return fmt.Errorf("break lock on %s: %w", documentID, err)
	}
	return nil
}

func (r *RedisService) Status(ctx context.Context, documentID string) (*cfgedit.Lock, error) {
	key := r.key(documentID)
	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("read lock on %s: %w", documentID, err)
	}
	if fields["holder"] == "" {
		return nil, nil
	}
	l, err := r.lease(documentID, fields["holder"], fields["acquired_at"])
	if err != nil {
		return nil, err
	}
	ttl, err := r.client.PTTL(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read lock ttl on %s: %w", documentID, err)
	}
	if ttl > 0 {
		l.ExpiresAt = r.clock.Now().Add(ttl)
	}
	return l, nil
}

// Close closes the Redis connection.
func (r *RedisService) Close() error {
	return r.client.Close()
}

var _ cfgedit.LockService = (*RedisService)(nil)
