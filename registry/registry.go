// Package registry implements the registry's provider/discoverer
// bookkeeping: a connection that registers a method becomes a Provider; a
// connection that asks about a method becomes a Discoverer and thereby opts
// into ONLINE/OUTLINE pushes for it.
package registry

import (
	"log"
	"sync"

	"jrpchub/message"
	"jrpchub/metrics"
	"jrpchub/netconn"
)

// Provider is the registry's record of a connection that has registered one
// or more methods. Its own mutex guards Methods, resolving spec.md §9 open
// question #3 (the source constructs an unbound mutex here).
type Provider struct {
	mu      sync.Mutex
	Conn    *netconn.Conn
	Addr    message.Address
	Methods map[string]struct{}
}

func newProvider(conn *netconn.Conn, addr message.Address) *Provider {
	return &Provider{Conn: conn, Addr: addr, Methods: make(map[string]struct{})}
}

func (p *Provider) appendMethod(method string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Methods[method] = struct{}{}
}

func (p *Provider) methodSnapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.Methods))
	for m := range p.Methods {
		out = append(out, m)
	}
	return out
}

// Discoverer is the registry's record of a connection that has ever
// requested discovery for one or more methods.
type Discoverer struct {
	mu      sync.Mutex
	Conn    *netconn.Conn
	Methods map[string]struct{}
}

func newDiscoverer(conn *netconn.Conn) *Discoverer {
	return &Discoverer{Conn: conn, Methods: make(map[string]struct{})}
}

func (d *Discoverer) appendMethod(method string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Methods[method] = struct{}{}
}

func (d *Discoverer) methodSnapshot() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.Methods))
	for m := range d.Methods {
		out = append(out, m)
	}
	return out
}

// Manager holds every table in the data model's "Registry state": providers
// and discoverers indexed both by method and by owning connection.
type Manager struct {
	mu             sync.Mutex
	providers      map[string]map[*Provider]struct{}
	connProvider   map[*netconn.Conn]*Provider
	discoverers    map[string]map[*Discoverer]struct{}
	connDiscoverer map[*netconn.Conn]*Discoverer
	metrics        *metrics.Metrics
}

// NewManager returns an empty registry Manager.
func NewManager() *Manager {
	return &Manager{
		providers:      make(map[string]map[*Provider]struct{}),
		connProvider:   make(map[*netconn.Conn]*Provider),
		discoverers:    make(map[string]map[*Discoverer]struct{}),
		connDiscoverer: make(map[*netconn.Conn]*Discoverer),
	}
}

// SetMetrics installs the collectors m records provider/discoverer churn
// and ONLINE/OUTLINE push counts to. Passing nil disables recording.
func (m *Manager) SetMetrics(metrics *metrics.Metrics) { m.metrics = metrics }

// connCounts reports the current number of distinct provider and
// discoverer connections. Called with mu held.
func (m *Manager) connCounts() (providers, discoverers int) {
	return len(m.connProvider), len(m.connDiscoverer)
}

// HandleRequest implements the dispatcher handler for REQ_SERVICE.
func (m *Manager) HandleRequest(conn *netconn.Conn, req *message.ServiceRequest) {
	switch req.Optype {
	case message.ServiceRegistry:
		m.handleRegister(conn, req)
	case message.ServiceDiscover:
		m.handleDiscover(conn, req)
	default:
		log.Printf("registry: unrecognized optype %v from client", req.Optype)
		m.respond(conn, req, message.RCodeOK, message.ServiceUnknown, "", nil)
	}
}

func (m *Manager) handleRegister(conn *netconn.Conn, req *message.ServiceRequest) {
	m.mu.Lock()
	provider, ok := m.connProvider[conn]
	if !ok {
		provider = newProvider(conn, *req.Host)
		m.connProvider[conn] = provider
	}
	if m.providers[req.Method] == nil {
		m.providers[req.Method] = make(map[*Provider]struct{})
	}
	m.providers[req.Method][provider] = struct{}{}

	var targets []*Discoverer
	for d := range m.discoverers[req.Method] {
		targets = append(targets, d)
	}
	providers, discoverers := m.connCounts()
	m.mu.Unlock()
	m.observeConnCounts(providers, discoverers)

	provider.appendMethod(req.Method)

	push := &message.ServiceRequest{Method: req.Method, Optype: message.ServiceOnline, Host: &provider.Addr}
	for _, d := range targets {
		if err := d.Conn.Send(push); err != nil {
			log.Printf("registry: ONLINE push to discoverer failed: %v", err)
		}
	}
	if m.metrics != nil && len(targets) > 0 {
		m.metrics.OnlineNoticesTotal.Add(float64(len(targets)))
	}

	m.respond(conn, req, message.RCodeOK, message.ServiceRegistry, "", nil)
}

func (m *Manager) handleDiscover(conn *netconn.Conn, req *message.ServiceRequest) {
	m.mu.Lock()
	discoverer, ok := m.connDiscoverer[conn]
	if !ok {
		discoverer = newDiscoverer(conn)
		m.connDiscoverer[conn] = discoverer
	}
	if m.discoverers[req.Method] == nil {
		m.discoverers[req.Method] = make(map[*Discoverer]struct{})
	}
	m.discoverers[req.Method][discoverer] = struct{}{}

	var hosts []message.Address
	for p := range m.providers[req.Method] {
		hosts = append(hosts, p.Addr)
	}
	providers, discoverersCount := m.connCounts()
	m.mu.Unlock()
	m.observeConnCounts(providers, discoverersCount)

	discoverer.appendMethod(req.Method)

	if len(hosts) == 0 {
		m.respond(conn, req, message.RCodeNotFoundService, message.ServiceDiscover, req.Method, nil)
		return
	}
	m.respond(conn, req, message.RCodeOK, message.ServiceDiscover, req.Method, hosts)
}

func (m *Manager) respond(conn *netconn.Conn, req *message.ServiceRequest, rcode message.RetCode, optype message.ServiceOpType, method string, hosts []message.Address) {
	rsp := &message.ServiceResponse{Rcode: rcode, Optype: optype, Method: method, Hosts: hosts}
	rsp.SetRid(req.Rid())
	if err := conn.Send(rsp); err != nil {
		log.Printf("registry: send response failed: %v", err)
	}
}

// OnClose implements the connection close handling from spec.md §4.6: a
// departing provider is dropped from every table first, and OUTLINE is then
// pushed to every discoverer of each of its methods (the discoverer sets are
// snapshotted under the same lock as the removal); a departing discoverer is
// dropped silently.
func (m *Manager) OnClose(conn *netconn.Conn) {
	m.mu.Lock()
	provider, wasProvider := m.connProvider[conn]
	discoverer, wasDiscoverer := m.connDiscoverer[conn]
	m.mu.Unlock()

	if wasProvider {
		m.removeProvider(provider)
	}
	if wasDiscoverer {
		m.removeDiscoverer(discoverer)
	}
}

func (m *Manager) removeProvider(provider *Provider) {
	methods := provider.methodSnapshot()

	type notice struct {
		method string
		discos []*Discoverer
	}
	var notices []notice

	m.mu.Lock()
	for _, method := range methods {
		var discos []*Discoverer
		for d := range m.discoverers[method] {
			discos = append(discos, d)
		}
		notices = append(notices, notice{method: method, discos: discos})

		if set := m.providers[method]; set != nil {
			delete(set, provider)
			if len(set) == 0 {
				delete(m.providers, method)
			}
		}
	}
	delete(m.connProvider, provider.Conn)
	providers, discoverers := m.connCounts()
	m.mu.Unlock()
	m.observeConnCounts(providers, discoverers)

	var pushed int
	for _, n := range notices {
		push := &message.ServiceRequest{Method: n.method, Optype: message.ServiceOutline, Host: &provider.Addr}
		for _, d := range n.discos {
			if err := d.Conn.Send(push); err != nil {
				log.Printf("registry: OUTLINE push to discoverer failed: %v", err)
			}
			pushed++
		}
	}
	if m.metrics != nil && pushed > 0 {
		m.metrics.OutlineNoticesTotal.Add(float64(pushed))
	}
}

// observeConnCounts publishes the current provider/discoverer connection
// counts, if metrics are installed.
func (m *Manager) observeConnCounts(providers, discoverers int) {
	if m.metrics == nil {
		return
	}
	m.metrics.RegistryProviders.Set(float64(providers))
	m.metrics.RegistryDiscoverers.Set(float64(discoverers))
}

func (m *Manager) removeDiscoverer(discoverer *Discoverer) {
	methods := discoverer.methodSnapshot()

	m.mu.Lock()
	for _, method := range methods {
		if set := m.discoverers[method]; set != nil {
			delete(set, discoverer)
			if len(set) == 0 {
				delete(m.discoverers, method)
			}
		}
	}
	delete(m.connDiscoverer, discoverer.Conn)
	providers, discoverers := m.connCounts()
	m.mu.Unlock()
	m.observeConnCounts(providers, discoverers)
}
