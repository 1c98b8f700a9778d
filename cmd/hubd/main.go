// cmd/hubd/main.go
// Copyright(c) 2024-2026 atctrainer contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Command hubd runs the connection broker: the directory servers
// announce themselves to and clients attach through.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atctrainer/network/hub"
	"github.com/atctrainer/network/log"
)

var (
	listenAddress     = flag.String("listen", ":6503", "address to listen on")
	staticResources   = flag.String("resources", "", "filesystem root served for static resource requests")
	resourceCacheSize = flag.Int("cachesize", 128, "number of static resources to keep cached in memory")
	logLevel          = flag.String("loglevel", "info", "logging level: debug, info, warn, error")
	logDir            = flag.String("logdir", "", "log file directory")
)

func main() {
	flag.Parse()

	lg := log.New(true, *logLevel, *logDir)
	defer lg.CatchAndReportCrash()

	h := hub.New(hub.Config{
		StaticResources:   *staticResources,
		ResourceCacheSize: *resourceCacheSize,
	}, lg)

	srv := &http.Server{
		Addr:    *listenAddress,
		Handler: h.Handler(),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		lg.Infof("hubd: shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			lg.Errorf("hubd: shutdown: %v", err)
		}
	}()

	lg.Infof("hubd: listening on %s", *listenAddress)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		lg.Errorf("hubd: %v", err)
		os.Exit(1)
	}
}
