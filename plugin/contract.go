// plugin/contract.go
// Copyright(c) 2024-2026 atctrainer contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package plugin implements the simulation's plugin contract: discovery
// of plugin modules from the filesystem, dependency-injected
// construction, and the instruction planner that turns controller text
// instructions into per-tick flight-plan-follower target state.
package plugin

import (
	"time"

	"github.com/atctrainer/network/wire"
)

// Metadata identifies a plugin to the pump and to anything introspecting
// loaded plugins (the hub's /sup-style stats, an event subscriber).
type Metadata struct {
	Name        string
	Description string
	Maintainer  string
}

// Plugin is the contract a discovered module implements: identifying
// metadata, a handler for text instructions addressed to an aircraft it
// claims, and a per-tick hook the pump calls once every sim tick.
type Plugin interface {
	Metadata() Metadata

	// HandleText is called when an inbound TextMessage's To field
	// addresses an aircraft, once per loaded plugin; each plugin
	// decides for itself whether the body means anything to it. body
	// is the raw instruction text; see instruction.go for the grammar
	// this package's own instruction planner parses.
	HandleText(aircraft wire.Id, body string)

	// Tick is called once per sim tick with the current time, giving the
	// plugin a chance to advance any per-tick state (e.g. the
	// instruction planner's flight-plan-follower targets) and queue
	// deltas back through whatever sim.Store handle it was constructed
	// with.
	Tick(now time.Time)
}
