package checkpoint

import (
	"context"
	"encoding/binary"

	"github.com/tala-robotics/sentinel/internal/xhash"
)

// partitioner routes work by a consistent hash on robot_id across a fixed
// number of single-goroutine shards, so that per-robot state never needs a
// lock: all work for a given robot_id always lands on the same shard's
// goroutine, giving serial-within-robot, parallel-across-robots execution
// (spec.md §5, §9 — "partition work by robot_id hash across workers rather
// than guard a shared map with a lock"). The hash itself is a transient,
// non-anchored use of FastHash (DESIGN.md's BLAKE3 confinement decision).
type partitioner struct {
	shards []chan func()
	n      int
}

func newPartitioner(n int) *partitioner {
	if n < 1 {
		n = 1
	}
	p := &partitioner{shards: make([]chan func(), n), n: n}
	for i := range p.shards {
		ch := make(chan func(), 64)
		p.shards[i] = ch
		go func() {
			for fn := range ch {
				fn()
			}
		}()
	}
	return p
}

func (p *partitioner) shardIndex(robotID string) int {
	h := xhash.FastHash([]byte(robotID))
	return int(binary.BigEndian.Uint64(h[:8]) % uint64(p.n))
}

// do runs fn on the shard owning robotID and waits for it to finish or for
// ctx to be cancelled. fn's error is returned unmodified.
func (p *partitioner) do(ctx context.Context, robotID string, fn func() error) error {
	result := make(chan error, 1)
	work := func() { result <- fn() }

	idx := p.shardIndex(robotID)
	select {
	case p.shards[idx] <- work:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops every shard worker. It must only be called once no further
// do calls will be issued.
func (p *partitioner) close() {
	for _, ch := range p.shards {
		close(ch)
	}
}
