// cmd/simd/main.go
// Copyright(c) 2024-2026 atctrainer contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Command simd runs one simulation session: it announces itself to a
// hub, maintains the authoritative aircraft/controller store, and
// drives the plugin pump that turns addressed text into aircraft
// instructions.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"github.com/atctrainer/network/geo"
	"github.com/atctrainer/network/log"
	"github.com/atctrainer/network/plugin"
	"github.com/atctrainer/network/sim"
	"github.com/atctrainer/network/transport"
	"github.com/atctrainer/network/wire"

	"github.com/gorilla/websocket"
)

var (
	hubAddress  = flag.String("hub", "ws://localhost:6503/connect", "WebSocket URL of the hub's server endpoint")
	serverName  = flag.String("name", "unnamed session", "name this session announces to the hub")
	location    = flag.String("location", "", "approximate geographic location announced to the hub")
	commitMs    = flag.Int("commitms", 250, "milliseconds between batched delta commits")
	resyncSec   = flag.Int("resyncsec", 30, "seconds between full authoritative resyncs")
	idleSec     = flag.Int("idlesec", 60, "seconds a controller may go quiet before being culled")
	pluginDir   = flag.String("plugindir", "", "directory scanned for external plugin executables")
	pluginScan  = flag.Int("pluginscansec", 10, "seconds between plugin directory rescans")
	turnRate    = flag.Float64("turnrate", 3, "instructed turn rate, degrees per second")
	climbRate   = flag.Float64("climbrate", 30, "instructed climb rate, feet per second")
	accelRate   = flag.Float64("accelrate", 2, "instructed acceleration rate, knots per second")
	logLevel    = flag.String("loglevel", "info", "logging level: debug, info, warn, error")
	logDir      = flag.String("logdir", "", "log file directory")
)

// announce is the JSON frame this session sends immediately after
// dialing the hub, identifying itself for the hub's directory. It
// mirrors the hub's own unexported serverAnnounce/serverAnnounceAck
// frames; the two sides agree on the shape, not on a shared type.
type announce struct {
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
}

type announceAck struct {
	Id wire.Id `json:"id"`
}

func main() {
	flag.Parse()

	lg := log.New(true, *logLevel, *logDir)
	defer lg.CatchAndReportCrash()

	conn, _, err := websocket.DefaultDialer.Dial(*hubAddress, nil)
	if err != nil {
		lg.Errorf("simd: dial %s: %v", *hubAddress, err)
		os.Exit(1)
	}

	session := transport.NewSession(conn, lg)
	go session.Run()

	frame, err := json.Marshal(announce{Name: *serverName, Location: *location})
	if err != nil {
		lg.Errorf("simd: marshal announce: %v", err)
		os.Exit(1)
	}
	if err := session.SendText(frame); err != nil {
		lg.Errorf("simd: send announce: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	reply, err := session.InterceptNextText(ctx)
	cancel()
	if err != nil {
		lg.Errorf("simd: awaiting announce ack: %v", err)
		os.Exit(1)
	}
	var ack announceAck
	if err := json.Unmarshal(reply, &ack); err != nil {
		lg.Errorf("simd: decode announce ack: %v", err)
		os.Exit(1)
	}
	lg.Infof("simd: announced to hub as %s", ack.Id)

	events := sim.NewEventStream(lg)

	broadcast := func(msg wire.NetworkMessage) error {
		data, err := wire.Encode(msg)
		if err != nil {
			return err
		}
		return session.SendText(data)
	}

	store := sim.NewStore(sim.Config{
		CommitPeriod: time.Duration(*commitMs) * time.Millisecond,
		ResyncPeriod: time.Duration(*resyncSec) * time.Second,
		IdleTimeout:  time.Duration(*idleSec) * time.Second,
	}, lg, events, broadcast)

	pump, err := plugin.NewPump(plugin.PumpConfig{
		Dir:        *pluginDir,
		ScanPeriod: time.Duration(*pluginScan) * time.Second,
	}, lg, events)
	if err != nil {
		lg.Errorf("simd: construct plugin pump: %v", err)
		os.Exit(1)
	}

	planner, err := buildPlanner(lg, store, plugin.PlannerConfig{
		TurnRateDegPerSec: *turnRate,
		ClimbRateFtPerSec: *climbRate,
		AccelRateKtPerSec: *accelRate,
	})
	if err != nil {
		lg.Errorf("simd: resolve instruction planner: %v", err)
		os.Exit(1)
	}
	pump.AddNative(planner)
	store.SetInstructionHandler(pump.HandleText)

	session.OnText(func(data []byte) {
		msg, err := wire.Decode(data)
		if err != nil {
			lg.Debugf("simd: malformed inbound frame: %v", err)
			return
		}
		if err := store.ApplyInbound(msg); err != nil {
			lg.Debugf("simd: rejected inbound frame: %v", err)
		}
	})

	runCtx, stop := context.WithCancel(context.Background())
	go store.Run(runCtx)
	go pump.Run(runCtx)
	go tickPlanner(runCtx, pump)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	lg.Infof("simd: shutting down")
	stop()
	_ = session.Dispose(transport.CloseNormal, "session ending")
}

// tickPlanner drives the plugin pump's periodic Tick at a fixed rate,
// separately from the store's own commit ticker: instructed aircraft
// need to advance toward their target every tick regardless of whether
// any delta happened to coalesce into this commit.
func tickPlanner(ctx context.Context, pump *plugin.Pump) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			pump.Tick(now)
		}
	}
}

// buildPlanner constructs the instruction planner through a Registry so
// the pattern generalizes the way cmd/simd wires any future native
// plugin with its own dependency graph, even though the planner's own
// requirements are fixed today.
func buildPlanner(lg *log.Logger, store *sim.Store, cfg plugin.PlannerConfig) (plugin.Plugin, error) {
	r := plugin.NewRegistry(lg)

	sourceType := reflect.TypeOf((*plugin.AircraftSource)(nil)).Elem()
	queueType := reflect.TypeOf((*plugin.DeltaQueue)(nil)).Elem()
	resolverType := reflect.TypeOf(plugin.FixResolver(nil))
	pluginType := reflect.TypeOf((*plugin.Plugin)(nil)).Elem()

	constructors := []plugin.Constructor{
		{
			Produces: sourceType,
			Build:    func(r *plugin.Registry) (any, error) { return store, nil },
		},
		{
			Produces: queueType,
			Build:    func(r *plugin.Registry) (any, error) { return store, nil },
		},
		{
			// A real deployment would resolve named fixes against a
			// static-data set; no such loader lives in this repo, so
			// DCT instructions here always fail to resolve.
			Produces: resolverType,
			Build: func(r *plugin.Registry) (any, error) {
				return plugin.FixResolver(func(name string) (geo.Coordinate, bool) {
					return geo.Coordinate{}, false
				}), nil
			},
		},
		{
			Produces: pluginType,
			Requires: []reflect.Type{sourceType, queueType, resolverType},
			Build: func(r *plugin.Registry) (any, error) {
				source, _ := r.Get(sourceType)
				queue, _ := r.Get(queueType)
				resolver, _ := r.Get(resolverType)
				return plugin.NewPlanner(cfg, lg, resolver.(plugin.FixResolver), source.(plugin.AircraftSource), queue.(plugin.DeltaQueue)), nil
			},
		},
	}

	if err := plugin.Resolve(r, constructors); err != nil {
		return nil, fmt.Errorf("resolve instruction planner: %w", err)
	}

	v, ok := r.Get(pluginType)
	if !ok {
		return nil, fmt.Errorf("instruction planner not produced")
	}
	return v.(plugin.Plugin), nil
}
