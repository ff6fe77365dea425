// Package rpcrouter is the server-side method table: it validates incoming
// RpcRequest parameters and return values against a declared ServiceDescriptor
// and dispatches to the registered callback.
package rpcrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"jrpchub/message"
	"jrpchub/metrics"
	"jrpchub/middleware"
	"jrpchub/netconn"
)

// VType is the declared JSON type of a parameter or return value.
//
// Go's encoding/json decodes every JSON number into float64, so INTEGRAL is
// checked as "a JSON number with zero fractional part" rather than by a
// distinct Go type the way jsoncpp's isIntegral() works against its own
// Value::Int/Value::UInt variants.
type VType int

const (
	Bool VType = iota
	Integral
	Numeric
	String
	Array
	Object
)

// ParamDescriptor names one declared parameter and its required type.
type ParamDescriptor struct {
	Name  string
	VType VType
}

// ServiceCallback implements a registered method's business logic. It
// receives validated params and must produce a result matching ReturnType.
type ServiceCallback func(params map[string]any) (any, error)

// ServiceDescriptor fully describes one registered method. Immutable once
// built.
type ServiceDescriptor struct {
	Name       string
	Params     []ParamDescriptor
	ReturnType VType
	Callback   ServiceCallback
}

// Builder assembles a ServiceDescriptor step by step, mirroring the
// builder-pattern the source uses to separate multi-step configuration from
// final assembly.
type Builder struct {
	desc ServiceDescriptor
}

// NewBuilder starts building a descriptor for name.
func NewBuilder(name string) *Builder {
	return &Builder{desc: ServiceDescriptor{Name: name}}
}

// Param declares one required parameter.
func (b *Builder) Param(name string, vtype VType) *Builder {
	b.desc.Params = append(b.desc.Params, ParamDescriptor{Name: name, VType: vtype})
	return b
}

// Returns declares the method's return type.
func (b *Builder) Returns(vtype VType) *Builder {
	b.desc.ReturnType = vtype
	return b
}

// Callback sets the business logic invoked on a valid call.
func (b *Builder) Callback(cb ServiceCallback) *Builder {
	b.desc.Callback = cb
	return b
}

// Build returns the assembled, immutable descriptor.
func (b *Builder) Build() *ServiceDescriptor {
	return &b.desc
}

func checkType(vtype VType, v any) bool {
	switch vtype {
	case Bool:
		_, ok := v.(bool)
		return ok
	case Integral:
		f, ok := v.(float64)
		return ok && f == float64(int64(f))
	case Numeric:
		_, ok := v.(float64)
		return ok
	case String:
		_, ok := v.(string)
		return ok
	case Array:
		_, ok := v.([]any)
		return ok
	case Object:
		_, ok := v.(map[string]any)
		return ok
	default:
		return false
	}
}

// CheckParams validates params against the descriptor's declared parameters.
func (d *ServiceDescriptor) CheckParams(params map[string]any) error {
	for _, p := range d.Params {
		v, ok := params[p.Name]
		if !ok {
			return fmt.Errorf("missing parameter %q", p.Name)
		}
		if !checkType(p.VType, v) {
			return fmt.Errorf("parameter %q has the wrong type", p.Name)
		}
	}
	return nil
}

// Call invokes the descriptor's callback and validates the returned value's
// type against ReturnType.
func (d *ServiceDescriptor) Call(params map[string]any) (any, error) {
	result, err := d.Callback(params)
	if err != nil {
		return nil, err
	}
	if !checkType(d.ReturnType, result) {
		return nil, fmt.Errorf("return value has the wrong type")
	}
	return result, nil
}

// Manager holds the method → ServiceDescriptor table. Management (register,
// lookup, remove) is kept separate from use so call-path code never has to
// reason about locking.
type Manager struct {
	mu       sync.Mutex
	services map[string]*ServiceDescriptor
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{services: make(map[string]*ServiceDescriptor)}
}

// Register inserts desc, rejecting a duplicate method name.
func (m *Manager) Register(desc *ServiceDescriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.services[desc.Name]; exists {
		return fmt.Errorf("rpcrouter: method %q already registered", desc.Name)
	}
	m.services[desc.Name] = desc
	return nil
}

// Select returns the descriptor for method, or nil.
func (m *Manager) Select(method string) *ServiceDescriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.services[method]
}

// Remove drops method from the table.
func (m *Manager) Remove(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.services, method)
}

// Descriptors returns a snapshot of every registered descriptor, used to
// re-announce a provider's full method table to a newly resolved registry
// (e.g. after a bootstrap.Watch update points at a different process).
func (m *Manager) Descriptors() []*ServiceDescriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*ServiceDescriptor, 0, len(m.services))
	for _, desc := range m.services {
		result = append(result, desc)
	}
	return result
}

// Router handles REQ_RPC arrivals against a Manager's method table.
//
// Method lookup and parameter validation happen before the chain; only the
// business dispatch itself (the registered callback) runs wrapped in the
// onion-model middleware, so a missing method never pays for rate limiting
// or timeout bookkeeping it will never use.
type Router struct {
	manager *Manager
	chain   middleware.Middleware
	metrics *metrics.Metrics
}

// NewRouter returns a Router backed by a fresh, empty Manager. With no
// middleware installed via Use, the business dispatch runs unwrapped.
func NewRouter() *Router {
	return &Router{manager: NewManager()}
}

// Use installs the middleware chain that wraps the router's business
// dispatch, outer to inner in the order given.
func (r *Router) Use(mws ...middleware.Middleware) {
	r.chain = middleware.Chain(mws...)
}

// SetMetrics installs the collectors r records call counts and latency to.
// Passing nil disables recording.
func (r *Router) SetMetrics(m *metrics.Metrics) { r.metrics = m }

// Manager exposes the router's method table for registration.
func (r *Router) Manager() *Manager { return r.manager }

// HandleRequest implements the dispatcher handler for REQ_RPC.
func (r *Router) HandleRequest(conn *netconn.Conn, req *message.RpcRequest) {
	desc := r.manager.Select(req.Method)
	if desc == nil {
		log.Printf("rpcrouter: no provider for method %q", req.Method)
		r.respond(conn, req, nil, message.RCodeNotFoundService)
		return
	}

	var params map[string]any
	if err := json.Unmarshal(req.Params, &params); err != nil {
		r.respond(conn, req, nil, message.RCodeInvalidParam)
		return
	}
	if err := desc.CheckParams(params); err != nil {
		log.Printf("rpcrouter: %s: %v", req.Method, err)
		r.respond(conn, req, nil, message.RCodeInvalidParam)
		return
	}

	handler := middleware.HandlerFunc(func(_ context.Context, req *message.RpcRequest) *message.RpcResponse {
		return r.call(desc, req, params)
	})
	if r.chain != nil {
		handler = r.chain(handler)
	}

	start := time.Now()
	rsp := handler(context.Background(), req)
	r.observeCall(req.Method, rsp.Rcode, time.Since(start))

	rsp.SetRid(req.Rid())
	if err := conn.Send(rsp); err != nil {
		log.Printf("rpcrouter: send response for %s: %v", req.Method, err)
	}
}

// observeCall records one completed business dispatch, if metrics are
// installed.
func (r *Router) observeCall(method string, rcode message.RetCode, elapsed time.Duration) {
	if r.metrics == nil {
		return
	}
	r.metrics.RPCCallsTotal.WithLabelValues(method, strconv.Itoa(int(rcode))).Inc()
	r.metrics.RPCCallDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// call is the innermost handler the middleware chain wraps: it invokes the
// resolved descriptor's callback and marshals its result.
func (r *Router) call(desc *ServiceDescriptor, req *message.RpcRequest, params map[string]any) *message.RpcResponse {
	result, err := desc.Call(params)
	if err != nil {
		log.Printf("rpcrouter: %s: %v", req.Method, err)
		return &message.RpcResponse{Rcode: message.RCodeInternalError}
	}

	rsp := &message.RpcResponse{Rcode: message.RCodeOK}
	if result != nil {
		body, err := json.Marshal(result)
		if err != nil {
			log.Printf("rpcrouter: marshal result: %v", err)
			return &message.RpcResponse{Rcode: message.RCodeInternalError}
		}
		rsp.Result = body
	}
	return rsp
}

func (r *Router) respond(conn *netconn.Conn, req *message.RpcRequest, result any, rcode message.RetCode) {
	rsp := &message.RpcResponse{Rcode: rcode}
	if result != nil {
		body, err := json.Marshal(result)
		if err != nil {
			log.Printf("rpcrouter: marshal result: %v", err)
			rsp.Rcode = message.RCodeInternalError
		} else {
			rsp.Result = body
		}
	}
	rsp.SetRid(req.Rid())
	if err := conn.Send(rsp); err != nil {
		log.Printf("rpcrouter: send response for %s: %v", req.Method, err)
	}
}
