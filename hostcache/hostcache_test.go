package hostcache

import (
	"testing"

	"jrpchub/loadbalance"
	"jrpchub/message"
)

func TestRoundRobinSelection(t *testing.T) {
	c := New()
	hosts := []message.Address{{IP: "h0", Port: 1}, {IP: "h1", Port: 2}, {IP: "h2", Port: 3}}
	c.Install("Add", hosts)

	counts := map[string]int{}
	for i := 0; i < 9; i++ {
		h, ok := c.Select("Add")
		if !ok {
			t.Fatal("expected a host to be selected")
		}
		counts[h.IP]++
	}
	for _, h := range hosts {
		if counts[h.IP] != 3 {
			t.Fatalf("expected each host selected 3 times, got %v", counts)
		}
	}
}

func TestSelectEmptyReturnsFalse(t *testing.T) {
	c := New()
	if _, ok := c.Select("Missing"); ok {
		t.Fatal("expected no host for an unknown method")
	}
}

func TestOnlineOutlineUpdatesCache(t *testing.T) {
	c := New()
	a := message.Address{IP: "a", Port: 1}
	b := message.Address{IP: "b", Port: 2}

	c.AddHost("Add", a)
	c.AddHost("Add", b)

	h, _ := c.Select("Add")
	if h != a {
		t.Fatalf("expected first selection to be a, got %+v", h)
	}

	c.RemoveHost("Add", a)
	h, ok := c.Select("Add")
	if !ok || h != b {
		t.Fatalf("expected only b to remain, got %+v ok=%v", h, ok)
	}
}

func TestPluggableBalancerIsStickyByKey(t *testing.T) {
	c := NewWithBalancer(func() loadbalance.Balancer { return &loadbalance.ConsistentHashBalancer{} })
	hosts := []message.Address{{IP: "h0", Port: 1}, {IP: "h1", Port: 2}, {IP: "h2", Port: 3}}
	c.Install("Add", hosts)

	first, ok := c.Select("Add")
	if !ok {
		t.Fatal("expected a host to be selected")
	}
	for i := 0; i < 5; i++ {
		h, ok := c.Select("Add")
		if !ok || h != first {
			t.Fatalf("expected consistent hashing to keep returning %+v, got %+v ok=%v", first, h, ok)
		}
	}
}
