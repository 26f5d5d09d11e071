package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"

	dErrors "splitvault/pkg/domain-errors"
)

const keyPrefix = "splitvault:lock:"

// Redis holds a redsync mutex for the duration of the unit of work. When an
// inner runner is set the work runs through it, so a Postgres transaction
// commits before the lock is released.
type Redis struct {
	rs         *redsync.Redsync
	inner      Runner
	logger     *slog.Logger
	expiry     time.Duration
	tries      int
	retryDelay time.Duration
	timeout    time.Duration
}

type RedisOption func(*Redis)

func WithInner(r Runner) RedisOption {
	return func(l *Redis) {
		l.inner = r
	}
}

func WithLogger(logger *slog.Logger) RedisOption {
	return func(l *Redis) {
		l.logger = logger
	}
}

// WithExpiry sets the lock TTL. It must exceed the longest unit of work.
func WithExpiry(d time.Duration) RedisOption {
	return func(l *Redis) {
		if d > 0 {
			l.expiry = d
		}
	}
}

// WithTimeout bounds each unit of work that arrives without a deadline.
func WithTimeout(d time.Duration) RedisOption {
	return func(l *Redis) {
		if d > 0 {
			l.timeout = d
		}
	}
}

func WithTries(n int, delay time.Duration) RedisOption {
	return func(l *Redis) {
		if n > 0 {
			l.tries = n
		}
		if delay > 0 {
			l.retryDelay = delay
		}
	}
}

func NewRedis(client goredislib.UniversalClient, opts ...RedisOption) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	l := &Redis{
		rs:         redsync.New(goredis.NewPool(client)),
		logger:     slog.Default(),
		expiry:     10 * time.Second,
		tries:      32,
		retryDelay: 50 * time.Millisecond,
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *Redis) RunInTx(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	ctx, cancel, err := Bound(ctx, l.timeout)
	if err != nil {
		return err
	}
	defer cancel()

	mutex := l.rs.NewMutex(keyPrefix+key,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(l.tries),
		redsync.WithRetryDelay(l.retryDelay),
	)
	if err := mutex.LockContext(ctx); err != nil {
		if ctx.Err() != nil {
			return dErrors.Wrap(err, dErrors.CodeTimeout, "timed out acquiring record lock")
		}
		return fmt.Errorf("acquire lock %s: %w", key, err)
	}
	defer func() {
		// Release on a fresh context so an expired request deadline does not
		// leave the lock held until its TTL.
		unlockCtx, unlockCancel := context.WithTimeout(context.Background(), time.Second)
		defer unlockCancel()
		if ok, err := mutex.UnlockContext(unlockCtx); !ok || err != nil {
			l.logger.WarnContext(ctx, "failed to release record lock", "key", key, "error", err)
		}
	}()

	if l.inner != nil {
		return l.inner.RunInTx(ctx, key, fn)
	}
	return fn(ctx)
}
