// Package lock serializes settlement operations per record key. Local guards
// a single process; Redis guards a fleet and can wrap a database runner so
// the critical section also commits atomically.
package lock

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	dErrors "splitvault/pkg/domain-errors"
)

// DefaultTimeout bounds a unit of work when the caller set no deadline.
const DefaultTimeout = 5 * time.Second

const shardCount = 64

// Runner is the contract every implementation in this package satisfies.
type Runner interface {
	RunInTx(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Bound rejects an already-cancelled context and applies timeout when ctx
// has no deadline. The returned cancel must always be called.
func Bound(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return ctx, func() {}, dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, cancel, nil
}

// Local is a sharded in-process mutex. Keys hashing to the same shard share
// a lock, which is safe but serializes unrelated records.
type Local struct {
	shards  [shardCount]sync.Mutex
	timeout time.Duration
}

type LocalOption func(*Local)

// WithLocalTimeout bounds each unit of work that arrives without a deadline.
func WithLocalTimeout(d time.Duration) LocalOption {
	return func(l *Local) {
		if d > 0 {
			l.timeout = d
		}
	}
}

func NewLocal(opts ...LocalOption) *Local {
	l := &Local{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Local) RunInTx(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	ctx, cancel, err := Bound(ctx, l.timeout)
	if err != nil {
		return err
	}
	defer cancel()

	mu := &l.shards[shardFor(key)]
	mu.Lock()
	defer mu.Unlock()
	return fn(ctx)
}

func shardFor(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
