// Package hostcache implements the client-side method→host cache described
// in spec.md §4.9, reactively invalidated by the registry's ONLINE/OUTLINE
// pushes. Host selection within a method is delegated to a pluggable
// loadbalance.Balancer, one independent instance per method.
package hostcache

import (
	"sync"

	"jrpchub/loadbalance"
	"jrpchub/message"
)

type entry struct {
	hosts    []message.Address
	balancer loadbalance.Balancer
}

// Cache maps a method name to its known hosts and a per-method balancer.
type Cache struct {
	mu          sync.Mutex
	methods     map[string]*entry
	newBalancer func() loadbalance.Balancer
}

// New returns an empty Cache using round-robin selection, matching the
// source's default behavior.
func New() *Cache {
	return NewWithBalancer(func() loadbalance.Balancer { return &loadbalance.RoundRobinBalancer{} })
}

// NewWithBalancer returns an empty Cache whose per-method selection strategy
// is produced by newBalancer: once when AddHost first sees a method, and
// afresh on every Install.
func NewWithBalancer(newBalancer func() loadbalance.Balancer) *Cache {
	return &Cache{methods: make(map[string]*entry), newBalancer: newBalancer}
}

// Select returns a host for method per the installed balancer, and whether
// any host is cached at all.
func (c *Cache) Select(method string) (message.Address, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.methods[method]
	if !ok || len(e.hosts) == 0 {
		return message.Address{}, false
	}
	host, err := e.balancer.Pick(e.hosts, method)
	if err != nil {
		return message.Address{}, false
	}
	return host, true
}

// Install replaces the host list for method with a fresh balancer, used
// after a fresh DISCOVER response.
func (c *Cache) Install(method string, hosts []message.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.methods[method] = &entry{
		hosts:    append([]message.Address(nil), hosts...),
		balancer: c.newBalancer(),
	}
}

// AddHost appends host to method's list, creating the entry if absent. Used
// on an ONLINE push.
func (c *Cache) AddHost(method string, host message.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.methods[method]
	if !ok {
		e = &entry{balancer: c.newBalancer()}
		c.methods[method] = e
	}
	for _, h := range e.hosts {
		if h == host {
			return
		}
	}
	e.hosts = append(e.hosts, host)
}

// RemoveHost drops host from method's list. Used on an OUTLINE push.
func (c *Cache) RemoveHost(method string, host message.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.methods[method]
	if !ok {
		return
	}
	for i, h := range e.hosts {
		if h == host {
			e.hosts = append(e.hosts[:i], e.hosts[i+1:]...)
			return
		}
	}
}
