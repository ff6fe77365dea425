package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"

	"jrpchub/message"
)

// ConsistentHashBalancer routes a given key to the same host for as long as
// that host remains in the list, rebuilding a virtual-node ring from the
// current host slice on every Pick. Useful for stateful providers where
// session affinity across calls matters more than even load spread.
//
// Rebuilding the ring per call keeps the balancer stateless and trivially
// correct as hosts churn; it costs O(n*replicas*log) per Pick, which is fine
// at the scale of a single method's provider list.
type ConsistentHashBalancer struct {
	// Replicas is the number of virtual nodes per host. Zero defaults to 100.
	Replicas int
}

// Pick hashes key onto the ring built from hosts and returns the first node
// clockwise from it.
func (b *ConsistentHashBalancer) Pick(hosts []message.Address, key string) (message.Address, error) {
	if len(hosts) == 0 {
		return message.Address{}, fmt.Errorf("loadbalance: no hosts available")
	}
	replicas := b.Replicas
	if replicas == 0 {
		replicas = 100
	}

	ring := make([]uint32, 0, len(hosts)*replicas)
	nodes := make(map[uint32]message.Address, len(hosts)*replicas)
	for _, h := range hosts {
		for i := 0; i < replicas; i++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", h.String(), i)))
			ring = append(ring, hash)
			nodes[hash] = h
		}
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i] < ring[j] })

	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(ring), func(i int) bool { return ring[i] >= hash })
	if idx == len(ring) {
		idx = 0
	}
	return nodes[ring[idx]], nil
}

func (b *ConsistentHashBalancer) Name() string { return "ConsistentHash" }
