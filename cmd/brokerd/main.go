// Command brokerd runs the standalone pub/sub broker role (spec.md §4.7),
// grounded on original_source/source/test/test4/server.cpp.
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jrpchub/config"
	"jrpchub/frame"
	"jrpchub/metrics"
	"jrpchub/server"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("brokerd: %v", err)
	}

	srv := server.NewTopicServer(frame.NewCodec(cfg.Frame.MaxSize))

	if cfg.Metrics.Enabled {
		srv.SetMetrics(metrics.New())
		go serveMetrics(cfg.Metrics.ListenAddr)
	}

	log.Printf("brokerd: listening on %s", cfg.Broker.ListenAddr)
	go func() {
		if err := srv.Serve(cfg.Broker.ListenAddr); err != nil {
			log.Fatalf("brokerd: serve: %v", err)
		}
	}()

	waitForShutdown()
	log.Printf("brokerd: shutting down")
	if err := srv.Shutdown(5 * time.Second); err != nil {
		log.Printf("brokerd: shutdown: %v", err)
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	log.Printf("brokerd: metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("brokerd: metrics server: %v", err)
	}
}

func waitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}
