package coordinator

import (
	"hash/fnv"

	"tradecore/internal/broker"
)

// eventJob is one broker event queued for its owning shard.
type eventJob struct {
	broker string
	evt    broker.Event
}

// dispatcher hash-routes broker events to a fixed set of buffered
// shard channels: every event for the same order id lands on the
// same shard, so a
// single goroutine draining that shard processes them strictly in
// arrival order without a global lock. Events for different orders
// land on different shards (usually) and are processed concurrently.
type dispatcher struct {
	shards []chan eventJob
}

func newDispatcher(shardCount, bufferSize int) *dispatcher {
	if shardCount <= 0 {
		shardCount = 1
	}
	d := &dispatcher{shards: make([]chan eventJob, shardCount)}
	for i := range d.shards {
		d.shards[i] = make(chan eventJob, bufferSize)
	}
	return d
}

func (d *dispatcher) shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.shards)))
}

// dispatch routes job to the shard owning key. It never blocks: a full
// shard drops the event, a warn-and-drop idiom used throughout this
// package's outbound paths; reconciliation exists precisely to catch
// drift this can introduce.
func (d *dispatcher) dispatch(key string, job eventJob) bool {
	ch := d.shards[d.shardIndex(key)]
	select {
	case ch <- job:
		return true
	default:
		return false
	}
}
