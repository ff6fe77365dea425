// Package bootstrap lets a process locate the registry's own address via
// etcd instead of a hardcoded flag, adapted from the teacher's
// etcd-backed service discovery. This is a bootstrap concern only — finding
// where the registry listens — not persistence of registry or topic state,
// which stays purely in-memory per the data model.
package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"

	"jrpchub/message"
)

// registryKey is the single well-known key the registry publishes itself
// under. Unlike a general service registry, there is exactly one jrpchub
// registry process per etcd namespace in this design.
const registryKey = "/jrpchub/registry"

// Bootstrap wraps an etcd client used to publish or resolve the registry's
// address.
type Bootstrap struct {
	client *clientv3.Client
}

// New connects to the given etcd endpoints.
func New(endpoints []string) (*Bootstrap, error) {
	c, err := clientv3.New(clientv3.Config{Endpoints: endpoints})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect to etcd: %w", err)
	}
	return &Bootstrap{client: c}, nil
}

// Publish advertises addr as the registry's address under a TTL-second
// lease, renewed automatically until ctx is cancelled. Call this from the
// registry process itself.
func (b *Bootstrap) Publish(ctx context.Context, addr message.Address, ttl int64) error {
	lease, err := b.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("bootstrap: grant lease: %w", err)
	}

	val, err := json.Marshal(addr)
	if err != nil {
		return fmt.Errorf("bootstrap: marshal address: %w", err)
	}

	if _, err := b.client.Put(ctx, registryKey, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("bootstrap: put registry address: %w", err)
	}

	keepAlive, err := b.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("bootstrap: keepalive: %w", err)
	}
	go func() {
		for range keepAlive {
		}
	}()
	return nil
}

// Resolve returns the registry's currently published address.
func (b *Bootstrap) Resolve(ctx context.Context) (message.Address, error) {
	resp, err := b.client.Get(ctx, registryKey)
	if err != nil {
		return message.Address{}, fmt.Errorf("bootstrap: get registry address: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return message.Address{}, fmt.Errorf("bootstrap: no registry published at %s", registryKey)
	}
	var addr message.Address
	if err := json.Unmarshal(resp.Kvs[0].Value, &addr); err != nil {
		return message.Address{}, fmt.Errorf("bootstrap: unmarshal registry address: %w", err)
	}
	return addr, nil
}

// Watch emits the registry's address every time it changes (re-election,
// restart on a new port). The channel closes when ctx is cancelled.
func (b *Bootstrap) Watch(ctx context.Context) <-chan message.Address {
	out := make(chan message.Address, 1)
	go func() {
		defer close(out)
		watchChan := b.client.Watch(ctx, registryKey)
		for resp := range watchChan {
			for _, ev := range resp.Events {
				var addr message.Address
				if err := json.Unmarshal(ev.Kv.Value, &addr); err != nil {
					continue
				}
				out <- addr
			}
		}
	}()
	return out
}
