// plugin/pump.go
// Copyright(c) 2024-2026 atctrainer contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package plugin

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/atctrainer/network/log"
	"github.com/atctrainer/network/sim"
	"github.com/atctrainer/network/util"
	"github.com/atctrainer/network/wire"
)

// PumpConfig controls where the pump looks for plugin executables and
// how often it rescans.
type PumpConfig struct {
	Dir         string
	ScanPeriod  time.Duration
	MaxDiscovered int
}

func (c PumpConfig) withDefaults() PumpConfig {
	if c.ScanPeriod <= 0 {
		c.ScanPeriod = 10 * time.Second
	}
	if c.MaxDiscovered <= 0 {
		c.MaxDiscovered = 64
	}
	return c
}

type discoveredPlugin struct {
	modTime time.Time
	ext     *externalPlugin
}

// Pump owns every loaded plugin: native plugins constructed once via
// Registry-based dependency injection (AddNative), and external
// executables discovered from Config.Dir on a periodic scan, keyed by
// path and skipped when unchanged by modification time.
type Pump struct {
	cfg    PumpConfig
	lg     *log.Logger
	events *sim.EventStream

	mu         util.LoggingMutex
	native     []Plugin
	discovered *lru.Cache[string, discoveredPlugin]
}

func NewPump(cfg PumpConfig, lg *log.Logger, events *sim.EventStream) (*Pump, error) {
	cfg = cfg.withDefaults()
	c, err := lru.New[string, discoveredPlugin](cfg.MaxDiscovered)
	if err != nil {
		return nil, err
	}
	return &Pump{cfg: cfg, lg: lg, events: events, discovered: c}, nil
}

// AddNative registers a plugin constructed in-process, e.g. the
// instruction Planner built by cmd/simd via Resolve. Native plugins are
// never discovered or reloaded; they live for the pump's lifetime.
func (p *Pump) AddNative(pl Plugin) {
	p.mu.Lock(p.lg)
	defer p.mu.Unlock(p.lg)
	p.native = append(p.native, pl)
}

// Run scans Config.Dir on ScanPeriod until ctx is done, then kills every
// discovered external plugin's process.
func (p *Pump) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ScanPeriod)
	defer ticker.Stop()

	p.scan()
	for {
		select {
		case <-ctx.Done():
			p.shutdown()
			return
		case <-ticker.C:
			p.scan()
		}
	}
}

// scan lists Config.Dir and (re)launches any executable whose path or
// modification time has changed since the last scan, leaving unchanged
// plugins running rather than reloading them. Plugins whose file
// disappeared are killed and dropped.
func (p *Pump) scan() {
	if p.cfg.Dir == "" {
		return
	}

	entries, err := os.ReadDir(p.cfg.Dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			p.lg.Warnf("plugin scan: %v", err)
		}
		return
	}

	changed := false
	seen := make(map[string]struct{}, len(entries))

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(p.cfg.Dir, e.Name())
		seen[path] = struct{}{}

		if cur, ok := p.discovered.Peek(path); ok && cur.modTime.Equal(info.ModTime()) {
			continue
		}

		if cur, ok := p.discovered.Peek(path); ok && cur.ext != nil {
			cur.ext.kill()
		}

		ext, err := launchExternalPlugin(path, Metadata{Name: e.Name()}, p.lg)
		if err != nil {
			p.lg.Warnf("plugin %s: %v", path, err)
			p.discovered.Remove(path)
			continue
		}
		p.discovered.Add(path, discoveredPlugin{modTime: info.ModTime(), ext: ext})
		changed = true
	}

	for _, path := range p.discovered.Keys() {
		if _, ok := seen[path]; ok {
			continue
		}
		if cur, ok := p.discovered.Peek(path); ok && cur.ext != nil {
			cur.ext.kill()
		}
		p.discovered.Remove(path)
		changed = true
	}

	if changed && p.events != nil {
		p.events.Post(sim.Event{Type: sim.PluginsChangedEvent})
	}
}

func (p *Pump) shutdown() {
	for _, path := range p.discovered.Keys() {
		if cur, ok := p.discovered.Peek(path); ok && cur.ext != nil {
			cur.ext.kill()
		}
	}
}

// Tick calls Tick on every loaded plugin, native and discovered.
func (p *Pump) Tick(now time.Time) {
	p.mu.Lock(p.lg)
	native := append([]Plugin(nil), p.native...)
	p.mu.Unlock(p.lg)

	for _, pl := range native {
		pl.Tick(now)
	}
	for _, path := range p.discovered.Keys() {
		if cur, ok := p.discovered.Peek(path); ok {
			cur.ext.Tick(now)
		}
	}
}

// HandleText is installed as a sim.Store's InstructionFunc: every loaded
// plugin receives the instruction and decides for itself whether it
// applies.
func (p *Pump) HandleText(aircraft wire.Id, body string) {
	p.mu.Lock(p.lg)
	native := append([]Plugin(nil), p.native...)
	p.mu.Unlock(p.lg)

	for _, pl := range native {
		pl.HandleText(aircraft, body)
	}
	for _, path := range p.discovered.Keys() {
		if cur, ok := p.discovered.Peek(path); ok {
			cur.ext.HandleText(aircraft, body)
		}
	}
}
