// Command registryd runs the standalone registry role (spec.md §4.6),
// grounded on original_source/source/test/test3/reg_server.cpp.
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
	"jrpchub/server"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("registryd: %v", err)
	}

	srv := server.NewRegistryServer(frame.NewCodec(cfg.Frame.MaxSize))

	if cfg.Metrics.Enabled {
		srv.SetMetrics(metrics.New())
		go serveMetrics(cfg.Metrics.ListenAddr)
	}

	if cfg.Bootstrap.Enabled {
		publishToEtcd(cfg)
	}

	log.Printf("registryd: listening on %s", cfg.Registry.ListenAddr)
	go func() {
		if err := srv.Serve(cfg.Registry.ListenAddr); err != nil {
			log.Fatalf("registryd: serve: %v", err)
		}
	}()

	waitForShutdown()
	log.Printf("registryd: shutting down")
	if err := srv.Shutdown(5 * time.Second); err != nil {
		log.Printf("registryd: shutdown: %v", err)
	}
}

// publishToEtcd advertises the registry's own address under etcd so RPC
// servers and clients can resolve it without a hardcoded flag.
func publishToEtcd(cfg *config.Config) {
	addr, err := parseAddr(cfg.Registry.ListenAddr)
	if err != nil {
		log.Printf("registryd: bootstrap publish skipped: %v", err)
		return
	}
	b, err := bootstrap.New(cfg.Bootstrap.Endpoints)
	if err != nil {
		log.Printf("registryd: bootstrap: %v", err)
		return
	}
	if err := b.Publish(context.Background(), addr, cfg.Bootstrap.LeaseTTL); err != nil {
		log.Printf("registryd: bootstrap publish: %v", err)
	}
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
	log.Printf("registryd: metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("registryd: metrics server: %v", err)
	}
}

func waitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}
