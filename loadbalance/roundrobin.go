package loadbalance

import (
	"fmt"
	"sync/atomic"

	"jrpchub/message"
)

// RoundRobinBalancer cycles through hosts in order. The atomic counter makes
// concurrent Pick calls safe without a mutex.
type RoundRobinBalancer struct {
	counter uint64
}

// Pick returns the next host in sequence, ignoring key.
func (b *RoundRobinBalancer) Pick(hosts []message.Address, _ string) (message.Address, error) {
	if len(hosts) == 0 {
		return message.Address{}, fmt.Errorf("loadbalance: no hosts available")
	}
	idx := atomic.AddUint64(&b.counter, 1) - 1
	return hosts[idx%uint64(len(hosts))], nil
}

func (b *RoundRobinBalancer) Name() string { return "RoundRobin" }
