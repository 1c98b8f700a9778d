// hub/http.go
// Copyright(c) 2024-2026 atctrainer contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package hub

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// handleServers serves the live directory: GET /servers.
func (h *Hub) handleServers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.listServers())
}

// handleCacheResource serves GET /cache/servers and GET /cache/<resource>:
// a static reference-data payload, with its cache modification time
// exposed via Last-Modified so a client can compare against a value it
// already holds.
func (h *Hub) handleCacheResource(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/cache/")
	if name == "" {
		http.Error(w, "missing resource name", http.StatusBadRequest)
		return
	}

	cr, err := h.resource(name)
	if err != nil {
		http.Error(w, "resource unavailable", http.StatusNotFound)
		return
	}

	w.Header().Set("Last-Modified", cr.ModTime.UTC().Format(http.TimeFormat))
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(cr.Data)
}

// handleResourcePassthrough serves GET /<resource>: the same static
// resources as /cache/<resource>, but always read fresh rather than
// through either cache layer.
func (h *Hub) handleResourcePassthrough(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/")
	if name == "" {
		http.NotFound(w, r)
		return
	}

	data, modTime, err := h.loadResourceFresh(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Last-Modified", modTime.UTC().Format(http.TimeFormat))
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

type serverStats struct {
	Uptime        string       `json:"uptime"`
	AllocMemory   uint64       `json:"alloc_memory_mb"`
	SysMemory     uint64       `json:"sys_memory_mb"`
	NumGoroutines int          `json:"goroutines"`
	CPUPercent    float64      `json:"cpu_percent"`
	FreeMemoryMB  uint64       `json:"free_memory_mb"`
	Servers       []ServerInfo `json:"servers"`
}

// handleStats serves GET /sup: the supplemented introspection endpoint,
// grounded on the teacher's statsHandler. It only reports
// directory-level facts already visible via /servers, plus process
// resource usage.
func (h *Hub) handleStats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	var cpuPct float64
	if usage, err := cpu.Percent(200*time.Millisecond, false); err == nil && len(usage) > 0 {
		cpuPct = usage[0]
	}

	var freeMB uint64
	if vm, err := mem.VirtualMemory(); err == nil {
		freeMB = vm.Available / (1024 * 1024)
	}

	stats := serverStats{
		Uptime:        time.Since(h.startTime).Round(time.Second).String(),
		AllocMemory:   m.Alloc / (1024 * 1024),
		SysMemory:     m.Sys / (1024 * 1024),
		NumGoroutines: runtime.NumGoroutine(),
		CPUPercent:    cpuPct,
		FreeMemoryMB:  freeMB,
		Servers:       h.listServers(),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}
