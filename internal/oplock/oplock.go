// Package oplock serializes settlement operations per record. Two operations
// that both read-then-write the same registry entry must not interleave: a
// second buyer observing a stale active listing after a concurrent sale has
// to be rejected, not double-executed. A sharded keyed mutex held for the
// whole read-validate-legs-mutate window reproduces the single-writer
// discipline of the original host.
package oplock

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	dErrors "custodia/pkg/domain-errors"
)

const numShards = 128

// defaultTimeout bounds how long an operation may hold a shard.
const defaultTimeout = 5 * time.Second

type Keyed struct {
	shards  [numShards]sync.Mutex
	timeout time.Duration
}

func New() *Keyed {
	return &Keyed{timeout: defaultTimeout}
}

// Run executes fn with the shard for key held. Operations on the same key
// serialize; operations on different keys usually proceed in parallel.
func (k *Keyed) Run(ctx context.Context, key []byte, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "operation aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.timeout)
		defer cancel()
	}

	shard := k.shardFor(key)
	k.shards[shard].Lock()
	defer k.shards[shard].Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "operation aborted: context cancelled")
	}
	return fn(ctx)
}

func (k *Keyed) shardFor(key []byte) int {
	h := fnv.New32a()
	_, _ = h.Write(key)
	return int(h.Sum32() % numShards)
}
