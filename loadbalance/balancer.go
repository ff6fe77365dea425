// Package loadbalance provides pluggable host selection strategies for the
// client-side host cache (spec.md §4.9), retargeted from service-instance
// records to the wire-level message.Address the registry actually hands out.
package loadbalance

import "jrpchub/message"

// Balancer selects one host among several known providers of a method. key
// is strategy-specific context: RoundRobinBalancer ignores it,
// ConsistentHashBalancer hashes it to pick a sticky host.
type Balancer interface {
	Pick(hosts []message.Address, key string) (message.Address, error)
	Name() string
}
