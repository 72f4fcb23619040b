// Package compute carries the explicit compute capability handed to models
// and trainers: which numeric backend runs the math, where its buffers live,
// and how many goroutines a batch may be spread across.
package compute

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ErrUnsupported is returned for unknown devices or backends.
var ErrUnsupported = errors.New("compute: unsupported device or backend")

const (
	// DeviceCPU keeps all buffers in host memory.
	DeviceCPU = "cpu"

	// BackendGonum runs dense linear algebra through gonum.
	BackendGonum = "gonum"

	// DefaultShardSize is the number of batch items per shard.
	DefaultShardSize = 64
)

// Context describes where and how numeric work runs. The zero value is not
// usable; build one with New or Default.
type Context struct {
	device    string
	backend   string
	workers   int
	shardSize int
}

// Default returns a single-worker CPU context.
func Default() Context {
	return Context{device: DeviceCPU, backend: BackendGonum, workers: 1, shardSize: DefaultShardSize}
}

// New validates the requested device, backend and parallelism.
// Empty device/backend select the defaults; shardSize <= 0 selects DefaultShardSize.
func New(device, backend string, workers, shardSize int) (Context, error) {
	if device == "" {
		device = DeviceCPU
	}
	if backend == "" {
		backend = BackendGonum
	}
	if device != DeviceCPU {
		return Context{}, fmt.Errorf("%w: device %q", ErrUnsupported, device)
	}
	if backend != BackendGonum {
		return Context{}, fmt.Errorf("%w: backend %q", ErrUnsupported, backend)
	}
	if workers < 1 {
		return Context{}, fmt.Errorf("workers must be at least 1, got %d", workers)
	}
	if shardSize <= 0 {
		shardSize = DefaultShardSize
	}
	return Context{device: device, backend: backend, workers: workers, shardSize: shardSize}, nil
}

// Device returns the device name.
func (c Context) Device() string { return c.device }

// Backend returns the backend name.
func (c Context) Backend() string { return c.backend }

// Workers returns the maximum number of concurrently running shards.
func (c Context) Workers() int { return c.workers }

// ShardSize returns the number of items per shard.
func (c Context) ShardSize() int { return c.shardSize }

// Shards returns the number of shards n items split into.
func (c Context) Shards(n int) int {
	return (n + c.shardSize - 1) / c.shardSize
}

// Run splits n items into fixed-size shards and processes them in waves of
// at most Workers concurrent calls to work. Each call receives a slot in
// [0, Workers) that is exclusive for the duration of the wave, so callers can
// keep one scratch buffer per slot. After every wave, reduce is called for
// the wave's slots in shard order.
//
// Because shard boundaries depend only on the shard size and reduction runs
// in shard order, the combined result does not depend on Workers.
func (c Context) Run(ctx context.Context, n int, work func(slot, lo, hi int) error, reduce func(slot int) error) error {
	shards := c.Shards(n)
	for first := 0; first < shards; first += c.workers {
		wave := min(c.workers, shards-first)

		if wave == 1 {
			lo, hi := c.bounds(first, n)
			if err := work(0, lo, hi); err != nil {
				return err
			}
		} else {
			g, gctx := errgroup.WithContext(ctx)
			for slot := 0; slot < wave; slot++ {
				lo, hi := c.bounds(first+slot, n)
				g.Go(func() error {
					if err := gctx.Err(); err != nil {
						return err
					}
					return work(slot, lo, hi)
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
		}

		for slot := 0; slot < wave; slot++ {
			if err := reduce(slot); err != nil {
				return err
			}
		}
	}
	return ctx.Err()
}

func (c Context) bounds(shard, n int) (int, int) {
	lo := shard * c.shardSize
	return lo, min(lo+c.shardSize, n)
}
