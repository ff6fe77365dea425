// Command rpcclient is a demo RPC caller exercising the sync, async, and
// callback call forms of client.RpcClient, grounded on
// original_source/source/test/test1/testClient.cpp (direct dispatcher wiring)
// and test2/testClient.cpp (the composed RpcClient facade).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"time"

	"jrpchub/bootstrap"
	"jrpchub/client"
	"jrpchub/config"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (only consulted for bootstrap settings)")
	addr := flag.String("addr", "127.0.0.1:6666", "RPC server address (direct mode)")
	registryAddr := flag.String("registry", "", "registry address (discovery mode; overrides -addr)")
	method := flag.String("method", "Add", "method to call")
	params := flag.String("params", `{"num1":11,"num2":22}`, "JSON-encoded call parameters")
	flag.Parse()

	var raw json.RawMessage
	if err := json.Unmarshal([]byte(*params), &raw); err != nil {
		log.Fatalf("rpcclient: invalid -params: %v", err)
	}

	resolvedRegistry, err := resolveRegistryAddr(*configPath, *registryAddr)
	if err != nil {
		log.Fatalf("rpcclient: %v", err)
	}

	rc, err := newClient(*addr, resolvedRegistry)
	if err != nil {
		log.Fatalf("rpcclient: %v", err)
	}
	defer rc.Close()

	runSync(rc, *method, raw)
	runAsync(rc, *method, raw)
	runCallback(rc, *method, raw)
}

// resolveRegistryAddr prefers an explicit -registry flag; otherwise, if the
// config enables bootstrap discovery, it resolves the registry's address
// from etcd instead of requiring one to be hardcoded.
func resolveRegistryAddr(configPath, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	if !cfg.Bootstrap.Enabled {
		return "", nil
	}

	boot, err := bootstrap.New(cfg.Bootstrap.Endpoints)
	if err != nil {
		return "", err
	}
	resolved, err := boot.Resolve(context.Background())
	if err != nil {
		return "", err
	}
	addr := resolved.String()
	log.Printf("rpcclient: resolved registry at %s via bootstrap", addr)
	return addr, nil
}

func newClient(addr, registryAddr string) (*client.RpcClient, error) {
	if registryAddr != "" {
		return client.NewDiscoverRpcClient(registryAddr)
	}
	return client.NewDirectRpcClient(addr)
}

func runSync(rc *client.RpcClient, method string, params json.RawMessage) {
	result, err := rc.Call(method, params)
	if err != nil {
		log.Printf("sync call failed: %v", err)
		return
	}
	log.Printf("sync call result: %s", result)
}

func runAsync(rc *client.RpcClient, method string, params json.RawMessage) {
	future, err := rc.CallAsync(method, params)
	if err != nil {
		log.Printf("async call failed: %v", err)
		return
	}
	select {
	case res := <-future:
		if res.Err != nil {
			log.Printf("async call failed: %v", res.Err)
			return
		}
		log.Printf("async call result: %s", res.Value)
	case <-time.After(5 * time.Second):
		log.Printf("async call timed out")
	}
}

func runCallback(rc *client.RpcClient, method string, params json.RawMessage) {
	done := make(chan struct{})
	err := rc.CallCallback(method, params, func(result json.RawMessage, err error) {
		defer close(done)
		if err != nil {
			log.Printf("callback call failed: %v", err)
			return
		}
		log.Printf("callback call result: %s", result)
	})
	if err != nil {
		log.Printf("callback call failed to send: %v", err)
		return
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Printf("callback call timed out")
	}
}
