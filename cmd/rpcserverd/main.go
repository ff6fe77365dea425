// Command rpcserverd runs an RPC provider that registers its methods with a
// registry and serves calls for them, grounded on
// original_source/source/test/test3/rpc_server.cpp (the access_addr +
// registry self-registration split).
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"jrpchub/bootstrap"
	"jrpchub/config"
	"jrpchub/frame"
	"jrpchub/message"
	"jrpchub/metrics"
	"jrpchub/middleware"
	"jrpchub/rpcrouter"
	"jrpchub/server"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("rpcserverd: %v", err)
	}

	accessAddr, err := parseAddr(cfg.RPC.ListenAddr)
	if err != nil {
		log.Fatalf("rpcserverd: parse listen address: %v", err)
	}

	var boot *bootstrap.Bootstrap
	registryAddr := ""
	if cfg.RPC.EnableDiscover {
		registryAddr = cfg.RPC.RegistryAddr
		if cfg.Bootstrap.Enabled {
			boot, err = bootstrap.New(cfg.Bootstrap.Endpoints)
			if err != nil {
				log.Fatalf("rpcserverd: bootstrap: %v", err)
			}
			resolved, err := boot.Resolve(context.Background())
			if err != nil {
				log.Fatalf("rpcserverd: resolve registry address: %v", err)
			}
			registryAddr = resolved.String()
			log.Printf("rpcserverd: resolved registry at %s via bootstrap", registryAddr)
		}
	}

	srv, err := server.NewRpcServer(accessAddr, registryAddr, frame.NewCodec(cfg.Frame.MaxSize))
	if err != nil {
		log.Fatalf("rpcserverd: %v", err)
	}

	srv.Use(
		middleware.RecoverMiddleware(),
		middleware.LoggingMiddleware(),
		middleware.RateLimitMiddleware(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		middleware.TimeOutMiddleware(cfg.RPC.RequestTimeout),
	)

	if cfg.Metrics.Enabled {
		srv.SetMetrics(metrics.New())
		go serveMetrics(cfg.Metrics.ListenAddr)
	}

	if err := srv.RegisterMethod(addDescriptor()); err != nil {
		log.Fatalf("rpcserverd: register Add: %v", err)
	}

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	if boot != nil {
		go watchRegistry(watchCtx, boot, srv)
	}

	log.Printf("rpcserverd: listening on %s (access %s)", cfg.RPC.ListenAddr, accessAddr)
	go func() {
		if err := srv.Serve(cfg.RPC.ListenAddr); err != nil {
			log.Fatalf("rpcserverd: serve: %v", err)
		}
	}()

	waitForShutdown()
	log.Printf("rpcserverd: shutting down")
	cancelWatch()
	if err := srv.Shutdown(5 * time.Second); err != nil {
		log.Printf("rpcserverd: shutdown: %v", err)
	}
}

// watchRegistry re-announces every registered method whenever the registry's
// published address changes, so a registry restart on a new port doesn't
// strand this provider pointed at the old one.
func watchRegistry(ctx context.Context, boot *bootstrap.Bootstrap, srv *server.RpcServer) {
	for addr := range boot.Watch(ctx) {
		newAddr := addr.String()
		log.Printf("rpcserverd: registry moved to %s, rebinding", newAddr)
		if err := srv.Rebind(newAddr); err != nil {
			log.Printf("rpcserverd: rebind to %s failed: %v", newAddr, err)
		}
	}
}

// addDescriptor registers a demo "Add" method, matching the sample method
// every original_source test server exposes.
func addDescriptor() *rpcrouter.ServiceDescriptor {
	return rpcrouter.NewBuilder("Add").
		Param("num1", rpcrouter.Integral).
		Param("num2", rpcrouter.Integral).
		Returns(rpcrouter.Integral).
		Callback(func(params map[string]any) (any, error) {
			return params["num1"].(float64) + params["num2"].(float64), nil
		}).
		Build()
}

func parseAddr(listenAddr string) (message.Address, error) {
	host, portStr, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return message.Address{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return message.Address{}, err
	}
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return message.Address{IP: host, Port: port}, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	log.Printf("rpcserverd: metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("rpcserverd: metrics server: %v", err)
	}
}

func waitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}
