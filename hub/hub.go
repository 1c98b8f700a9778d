// hub/hub.go
// Copyright(c) 2024-2026 atctrainer contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package hub implements the connection broker: the WebSocket endpoint
// servers announce themselves to, the endpoint clients attach to a
// session through, the live server directory, message fan-out between
// a server and its attached clients, and a cache of static reference
// data served alongside the directory. The hub holds no simulation
// state beyond directory metadata; it never decodes aircraft or
// controller payloads, only validates that a frame is a well-formed
// wire envelope before relaying it.
package hub

import (
	"net/http"
	"time"

	"github.com/atctrainer/network/log"
	"github.com/atctrainer/network/util"
	"github.com/atctrainer/network/wire"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Config controls hub construction; cmd/hubd builds one from flags.
type Config struct {
	StaticResources   string // filesystem root for GET /<resource> and GET /cache/<resource>
	ResourceCacheSize int
}

// Hub is the connection broker. It's safe for concurrent use; every
// exported method may be called from any session's goroutine.
type Hub struct {
	cfg Config
	lg  *log.Logger

	mu        util.LoggingMutex
	byId      map[wire.Id]*serverEntry
	startTime time.Time

	resourceCache *lru.Cache[string, cachedResource]
}

// New constructs a Hub. lg must not be nil.
func New(cfg Config, lg *log.Logger) *Hub {
	if cfg.ResourceCacheSize <= 0 {
		cfg.ResourceCacheSize = 128
	}
	rc, err := lru.New[string, cachedResource](cfg.ResourceCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which is
		// guarded above.
		panic(err)
	}

	return &Hub{
		cfg:           cfg,
		lg:            lg,
		byId:          make(map[wire.Id]*serverEntry),
		startTime:     time.Now(),
		resourceCache: rc,
	}
}

// Handler returns the hub's complete HTTP handler: the server/client
// WebSocket endpoints, the directory and cache endpoints, and the
// stats page.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/servers", h.handleServers)
	mux.HandleFunc("/connect", h.handleServerConnect)
	mux.HandleFunc("/connect/", h.handleClientConnect)
	mux.HandleFunc("/cache/", h.handleCacheResource)
	mux.HandleFunc("/sup", h.handleStats)
	mux.HandleFunc("/", h.handleResourcePassthrough)
	return mux
}
