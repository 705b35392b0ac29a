package server

import (
	"sync"

	"github.com/spaolacci/murmur3"

	"github.com/TritonDataCenter/node-fast-messages/fast"
)

// shardCount trades a little memory for avoiding lock contention between
// unrelated clients on register/remove; 16 is plenty for the expected fleet
// sizes this broadcast service targets.
const shardCount = 16

// subscription is one live "messages" RPC. done is closed when a newer
// subscription with the same client_id displaces this exact one; a client
// disconnect is seen by the handler through its context instead.
type subscription struct {
	clientID string
	version  int
	stream   *fast.Stream
	done     chan struct{}
}

type shard struct {
	mu   sync.RWMutex
	subs map[string]*subscription
}

// registry is the subscription-by-client_id map, sharded by a murmur3 hash
// of client_id so writes to unrelated clients never contend on one mutex.
// order tracks the client_id registration sequence separately: the data
// model's clients list is an ordered sequence, which the sharded map alone
// cannot preserve since both shard assignment and map iteration scramble it.
type registry struct {
	shards [shardCount]*shard

	orderMu sync.Mutex
	order   []string
}

func newRegistry() *registry {
	r := &registry{}
	for i := range r.shards {
		r.shards[i] = &shard{subs: make(map[string]*subscription)}
	}
	return r
}

// orderAppend records clientID as the most recently registered entry.
func (r *registry) orderAppend(clientID string) {
	r.orderMu.Lock()
	r.order = append(r.order, clientID)
	r.orderMu.Unlock()
}

// orderRemove drops clientID from the registration sequence, if present.
func (r *registry) orderRemove(clientID string) {
	r.orderMu.Lock()
	for i, id := range r.order {
		if id == clientID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.orderMu.Unlock()
}

func (r *registry) shardFor(clientID string) *shard {
	h := murmur3.Sum32([]byte(clientID))
	return r.shards[h%shardCount]
}

// register installs sub, returning whatever subscription previously held
// sub.clientID (nil if none). The caller is responsible for ending the
// evicted subscription's channel. sub.clientID moves to the end of the
// registration sequence, whether this is a fresh client_id or a
// re-registration that displaced an older subscription.
func (r *registry) register(sub *subscription) (evicted *subscription) {
	sh := r.shardFor(sub.clientID)
	sh.mu.Lock()
	evicted = sh.subs[sub.clientID]
	sh.subs[sub.clientID] = sub
	sh.mu.Unlock()

	if evicted != nil {
		r.orderRemove(sub.clientID)
	}
	r.orderAppend(sub.clientID)
	return evicted
}

// remove deletes sub from the registry, but only if it is still the
// subscription on record for its client_id — this keeps a stale removal from
// an evicted handler's cleanup from deleting a fresher registration.
func (r *registry) remove(clientID string, sub *subscription) bool {
	sh := r.shardFor(clientID)
	sh.mu.Lock()
	cur, ok := sh.subs[clientID]
	removed := ok && cur == sub
	if removed {
		delete(sh.subs, clientID)
	}
	sh.mu.Unlock()

	if removed {
		r.orderRemove(clientID)
	}
	return removed
}

// snapshot returns a point-in-time copy of all live subscriptions so a
// broadcast can iterate it without holding any shard lock across a write.
func (r *registry) snapshot() []*subscription {
	var out []*subscription
	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, sub := range sh.subs {
			out = append(out, sub)
		}
		sh.mu.RUnlock()
	}
	return out
}

// clientIDs returns the currently registered client_id set for a state
// snapshot, in registration order.
func (r *registry) clientIDs() []string {
	r.orderMu.Lock()
	defer r.orderMu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
