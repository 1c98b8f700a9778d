// sim/store.go
// Copyright(c) 2024-2026 atctrainer contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package sim implements a session's authoritative simulation store:
// aircraft and controller state, kinematic extrapolation, batched delta
// commits, periodic resync, the client inbound policy gate, and
// idle-controller culling.
package sim

import (
	"context"
	"log/slog"
	"time"

	"github.com/atctrainer/network/geo"
	"github.com/atctrainer/network/log"
	"github.com/atctrainer/network/util"
	"github.com/atctrainer/network/wire"

	"github.com/brunoga/deep"
)

// BroadcastFunc sends one outbound NetworkMessage to every client
// attached to the session. The store never touches a transport.Session
// directly; cmd/simd supplies this as a thin wrapper around
// wire.Encode + session.SendText.
type BroadcastFunc func(wire.NetworkMessage) error

// InstructionFunc is invoked when an inbound TextMessage's To field
// addresses a known aircraft rather than a controller: the body is
// handed off as a controller instruction instead of being relayed as
// chat. cmd/simd wires this to a plugin.Pump's instruction planner.
type InstructionFunc func(aircraft wire.Id, body string)

// Config controls a Store's batching, extrapolation, and liveness
// periods.
type Config struct {
	CommitPeriod      time.Duration // how often pending deltas are drained and broadcast
	ExtrapolatePeriod time.Duration // how often live aircraft positions are advanced along their current rates
	ResyncPeriod      time.Duration // how often a full AuthoritativeUpdate goes out
	IdleTimeout       time.Duration // how long a controller may go quiet before being culled
}

func (c Config) withDefaults() Config {
	if c.CommitPeriod <= 0 {
		c.CommitPeriod = 250 * time.Millisecond
	}
	if c.ExtrapolatePeriod <= 0 {
		c.ExtrapolatePeriod = 100 * time.Millisecond
	}
	if c.ResyncPeriod <= 0 {
		c.ResyncPeriod = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	return c
}

// Store is the authoritative state of one simulation session: every
// aircraft and controller, keyed by id, plus the pending-delta tables
// the tick loop and inbound client messages both write into ahead of
// the next batched commit.
type Store struct {
	cfg Config
	lg  *log.Logger

	mu                 util.LoggingMutex
	aircraft           map[wire.Id]wire.Aircraft
	controllers        map[wire.Id]wire.Controller
	pendingAircraft    map[wire.Id]wire.AircraftDelta
	pendingControllers map[wire.Id]wire.ControllerDelta
	controllerLastSeen map[wire.Id]time.Time

	events      *EventStream
	broadcast   BroadcastFunc
	instruction InstructionFunc
}

// NewStore constructs an empty Store. broadcast must not be nil.
func NewStore(cfg Config, lg *log.Logger, events *EventStream, broadcast BroadcastFunc) *Store {
	return &Store{
		cfg:                cfg.withDefaults(),
		lg:                 lg,
		aircraft:           make(map[wire.Id]wire.Aircraft),
		controllers:        make(map[wire.Id]wire.Controller),
		pendingAircraft:    make(map[wire.Id]wire.AircraftDelta),
		pendingControllers: make(map[wire.Id]wire.ControllerDelta),
		controllerLastSeen: make(map[wire.Id]time.Time),
		events:             events,
		broadcast:          broadcast,
	}
}

// SetInstructionHandler installs the sink for inbound TextMessages
// addressed to an aircraft rather than a controller.
func (s *Store) SetInstructionHandler(fn InstructionFunc) {
	s.mu.Lock(s.lg)
	defer s.mu.Unlock(s.lg)
	s.instruction = fn
}

// Run extrapolates live aircraft motion, drains pending commits,
// broadcasts resyncs, and culls idle controllers on their respective
// periods until ctx is done. Extrapolation always runs ahead of a
// commit: a tick that lands on both tickers advances position before
// the planner's rate changes for that tick are folded in, so a
// just-issued turn or climb takes effect starting next tick rather
// than retroactively.
func (s *Store) Run(ctx context.Context) {
	extrapolate := time.NewTicker(s.cfg.ExtrapolatePeriod)
	commit := time.NewTicker(s.cfg.CommitPeriod)
	resync := time.NewTicker(s.cfg.ResyncPeriod)
	cull := time.NewTicker(s.cfg.IdleTimeout / 2)
	defer extrapolate.Stop()
	defer commit.Stop()
	defer resync.Stop()
	defer cull.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-extrapolate.C:
			s.extrapolate(now)
		case <-commit.C:
			select {
			case now := <-extrapolate.C:
				s.extrapolate(now)
			default:
			}
			s.drainCommit()
		case <-resync.C:
			s.Resync()
		case <-cull.C:
			s.cullIdle()
		}
	}
}

// extrapolate advances every live aircraft's position, heading, and
// altitude by the time elapsed since its last extrapolation, using
// whatever motion rates are currently set on it. Heading is turned
// toward its rate-implied new value first, by at most
// TurnRateDegPerSec*dt, and the resulting post-turn heading is what
// FixRadialDistance then travels along for the tick's ground distance —
// integrating many short straight legs at a steadily rotating heading
// approximates the circular arc a turning aircraft actually flies.
// Altitude advances linearly from ClimbRateFpm. This is queued as an
// ordinary delta through the same pending-delta path the planner and
// inbound messages use, so an extrapolated position and a
// controller-issued update to the same aircraft in the same commit
// window still coalesce into a single broadcast.
func (s *Store) extrapolate(now time.Time) {
	s.mu.Lock(s.lg)
	type motion struct {
		id                wire.Id
		pos               geo.Coordinate
		heading           float64
		altitude          float64
		groundSpeed       float64
		climbRateFpm      float64
		turnRateDegPerSec float64
		clockwise         bool
		dt                float64 // seconds
	}
	moving := make([]motion, 0, len(s.aircraft))
	for id, a := range s.aircraft {
		dt := s.extrapolateDt(a, now)
		if dt <= 0 {
			continue
		}
		if a.GroundSpeed == 0 && a.ClimbRateFpm == 0 && a.TurnRateDegPerSec == 0 {
			continue
		}
		moving = append(moving, motion{
			id: id, pos: a.Position, heading: a.Heading, altitude: a.Altitude,
			groundSpeed: a.GroundSpeed, climbRateFpm: a.ClimbRateFpm,
			turnRateDegPerSec: a.TurnRateDegPerSec, clockwise: a.Clockwise, dt: dt,
		})
	}
	s.mu.Unlock(s.lg)

	for _, m := range moving {
		heading := m.heading
		if m.turnRateDegPerSec != 0 {
			turn := m.turnRateDegPerSec * m.dt
			if m.clockwise {
				heading = geo.NormalizeHeading(heading + turn)
			} else {
				heading = geo.NormalizeHeading(heading - turn)
			}
		}
		distanceNM := m.groundSpeed * m.dt / 3600
		pos := m.pos
		if distanceNM > 0 {
			pos = geo.FixRadialDistance(m.pos, heading, distanceNM)
		}
		altitude := m.altitude + m.climbRateFpm*m.dt/60

		d := wire.AircraftDelta{Id: m.id, Fields: wire.AircraftFieldTime, Time: now}
		if pos != m.pos {
			d.Fields |= wire.AircraftFieldPosition
			d.Position = pos
		}
		if heading != m.heading {
			d.Fields |= wire.AircraftFieldHeading
			d.Heading = heading
		}
		if altitude != m.altitude {
			d.Fields |= wire.AircraftFieldAltitude
			d.Altitude = altitude
		}
		s.QueueAircraftDelta(d)
	}
}

// extrapolateDt returns the elapsed seconds since an aircraft's last
// recorded Time, clamped to never go negative and capped at two
// ExtrapolatePeriods so a store resuming after a long stall (GC pause,
// slow commit) doesn't fling every aircraft's position forward by the
// full stall duration in one jump.
func (s *Store) extrapolateDt(a wire.Aircraft, now time.Time) float64 {
	if a.Time.IsZero() {
		return s.cfg.ExtrapolatePeriod.Seconds()
	}
	dt := now.Sub(a.Time).Seconds()
	if dt <= 0 {
		return 0
	}
	if max := s.cfg.ExtrapolatePeriod.Seconds() * 2; dt > max {
		dt = max
	}
	return dt
}

// SpawnAircraft introduces a new aircraft to the store. It's queued
// through the same pending-delta path as any other update, so a spawn
// on tick N and further updates on the same tick coalesce into one
// broadcast at the next commit instead of two.
func (s *Store) SpawnAircraft(a wire.Aircraft) {
	s.QueueAircraftDelta(wire.DiffAircraft(wire.Aircraft{Id: a.Id}, a))
}

// SpawnController introduces a new controller position, analogous to
// SpawnAircraft.
func (s *Store) SpawnController(c wire.Controller) {
	s.QueueControllerDelta(wire.DiffController(wire.Controller{Id: c.Id}, c))
}

// QueueAircraftDelta merges d into the pending delta for its entity,
// to be applied and broadcast at the next commit drain. This is the
// only path the simulation's own tick loop uses to mutate aircraft
// state.
func (s *Store) QueueAircraftDelta(d wire.AircraftDelta) {
	s.mu.Lock(s.lg)
	defer s.mu.Unlock(s.lg)

	s.pendingAircraft[d.Id] = wire.MergeAircraftDelta(s.pendingAircraft[d.Id], d)
}

// QueueControllerDelta merges d into the pending delta for its
// controller and refreshes that controller's idle-culling timestamp.
func (s *Store) QueueControllerDelta(d wire.ControllerDelta) {
	s.mu.Lock(s.lg)
	defer s.mu.Unlock(s.lg)

	s.pendingControllers[d.Id] = wire.MergeControllerDelta(s.pendingControllers[d.Id], d)
	s.controllerLastSeen[d.Id] = time.Now()
}

// recordActivity refreshes a controller's idle-culling timestamp
// without queuing a delta, for inbound chat that isn't itself a state
// change.
func (s *Store) recordActivity(id wire.Id) {
	if id == wire.NilId {
		return
	}
	s.mu.Lock(s.lg)
	defer s.mu.Unlock(s.lg)
	if _, ok := s.controllers[id]; ok {
		s.controllerLastSeen[id] = time.Now()
	}
}

// Kill queues a delete delta for an aircraft or controller rather than
// removing it immediately: routing deletion through the same pending
// table ordinary updates use means an entity updated and then killed
// within the same commit window collapses, via MergeAircraftDelta's
// Delete handling, into the single delete that window should produce,
// instead of an update broadcast followed immediately by a kill. An id
// that doesn't exist, live or pending, is a no-op, not an error.
func (s *Store) Kill(id wire.Id) {
	s.mu.Lock(s.lg)
	_, hadAircraft := s.aircraft[id]
	_, pendingAircraft := s.pendingAircraft[id]
	_, hadController := s.controllers[id]
	_, pendingController := s.pendingControllers[id]
	s.mu.Unlock(s.lg)

	if hadAircraft || pendingAircraft {
		s.QueueAircraftDelta(wire.AircraftDelta{Id: id, Fields: wire.AircraftFieldDelete})
	}
	if hadController || pendingController {
		s.QueueControllerDelta(wire.ControllerDelta{Id: id, Fields: wire.ControllerFieldDelete})
	}
}

// ApplyInbound is the policy gate every message arriving from a client
// connection passes through. AircraftUpdate and AuthoritativeUpdate
// are rejected outright: only the simulation's own tick loop may
// produce authoritative aircraft state. ControllerUpdate and
// KillMessage are applied; TextMessage addressed to a known aircraft
// is routed to the instruction handler instead of being relayed as
// chat, and anything else is broadcast unchanged.
func (s *Store) ApplyInbound(msg wire.NetworkMessage) error {
	switch p := msg.Payload.(type) {
	case wire.AircraftUpdate, wire.AuthoritativeUpdate:
		return ErrInboundRejected

	case wire.ControllerUpdate:
		s.QueueControllerDelta(p.Delta)
		return nil

	case wire.KillMessage:
		s.Kill(p.Id)
		return nil

	case wire.TextMessage:
		s.recordActivity(p.From)
		if fn, aircraftId, ok := s.instructionTarget(p.To); ok {
			fn(aircraftId, p.Body)
			return nil
		}
		return s.broadcast(msg)

	case wire.ChannelMessage:
		s.recordActivity(p.From)
		return s.broadcast(msg)

	default:
		return s.broadcast(msg)
	}
}

func (s *Store) instructionTarget(to wire.Id) (InstructionFunc, wire.Id, bool) {
	s.mu.Lock(s.lg)
	defer s.mu.Unlock(s.lg)

	if _, ok := s.aircraft[to]; ok && s.instruction != nil {
		return s.instruction, to, true
	}
	return nil, wire.NilId, false
}

// drainCommit applies and clears every pending delta, broadcasting one
// update message per touched entity. A delta carrying the Delete bit
// never reaches Apply — applying it would error — instead it removes
// the entity outright and broadcasts a single KillMessage, preserving
// the invariant that a deleted entity's id never appears in both a
// kill and an update within the same commit.
func (s *Store) drainCommit() {
	s.mu.Lock(s.lg)
	aircraftUpdates := make([]wire.AircraftUpdate, 0, len(s.pendingAircraft))
	var killed []wire.Id
	for id, d := range s.pendingAircraft {
		if d.Fields&wire.AircraftFieldDelete != 0 {
			if _, had := s.aircraft[id]; had {
				delete(s.aircraft, id)
				s.events.Post(Event{Type: AircraftRemovedEvent, EntityId: id})
				killed = append(killed, id)
			}
			continue
		}
		existing, had := s.aircraft[id]
		if !had {
			existing = wire.Aircraft{Id: id}
		}
		updated, err := existing.Apply(d)
		if err != nil {
			s.lg.Warnf("failed to apply aircraft delta for %s: %v", id, err)
			continue
		}
		s.aircraft[id] = updated
		aircraftUpdates = append(aircraftUpdates, wire.AircraftUpdate{Delta: d})
		if !had {
			s.events.Post(Event{Type: AircraftAddedEvent, EntityId: id})
		} else {
			s.events.Post(Event{Type: AircraftUpdatedEvent, EntityId: id})
		}
	}
	clear(s.pendingAircraft)

	controllerUpdates := make([]wire.ControllerUpdate, 0, len(s.pendingControllers))
	joined := false
	for id, d := range s.pendingControllers {
		if d.Fields&wire.ControllerFieldDelete != 0 {
			if _, had := s.controllers[id]; had {
				delete(s.controllers, id)
				delete(s.controllerLastSeen, id)
				s.events.Post(Event{Type: ControllerRemovedEvent, EntityId: id})
				killed = append(killed, id)
			}
			continue
		}
		existing, had := s.controllers[id]
		if !had {
			existing = wire.Controller{Id: id}
		}
		updated, err := existing.Apply(d)
		if err != nil {
			s.lg.Warnf("failed to apply controller delta for %s: %v", id, err)
			continue
		}
		s.controllers[id] = updated
		controllerUpdates = append(controllerUpdates, wire.ControllerUpdate{Delta: d})
		if !had {
			s.events.Post(Event{Type: ControllerAddedEvent, EntityId: id})
			joined = true
		} else {
			s.events.Post(Event{Type: ControllerUpdatedEvent, EntityId: id})
		}
	}
	clear(s.pendingControllers)
	s.mu.Unlock(s.lg)

	for _, u := range aircraftUpdates {
		if err := s.broadcast(wire.NetworkMessage{Disc: wire.DiscAircraftUpdate, Payload: u}); err != nil {
			s.lg.Warnf("failed to broadcast aircraft update: %v", err)
		}
	}
	for _, u := range controllerUpdates {
		if err := s.broadcast(wire.NetworkMessage{Disc: wire.DiscControllerUpdate, Payload: u}); err != nil {
			s.lg.Warnf("failed to broadcast controller update: %v", err)
		}
	}
	for _, id := range killed {
		if err := s.broadcast(wire.NetworkMessage{Disc: wire.DiscKillMessage, Payload: wire.KillMessage{Id: id}}); err != nil {
			s.lg.Warnf("failed to broadcast kill for %s: %v", id, err)
		}
	}
	if joined {
		s.Resync()
	}
}

// Resync broadcasts a full authoritative snapshot immediately, used
// both by the periodic ticker and when a new controller joins so a
// late joiner isn't stuck waiting for the next delta.
func (s *Store) Resync() {
	aircraft, controllers := s.Snapshot()
	msg := wire.NetworkMessage{
		Disc: wire.DiscAuthoritativeUpdate,
		Payload: wire.AuthoritativeUpdate{
			Aircraft:    aircraft,
			Controllers: controllers,
		},
	}
	s.events.Post(Event{Type: ResyncBroadcastEvent})
	if err := s.broadcast(msg); err != nil {
		s.lg.Warnf("failed to broadcast resync: %v", err)
	}
}

// Snapshot returns a deep copy of the current aircraft and controller
// state, safe for a caller to retain or hand to a plugin constructor
// without risking a mutation racing the store's own goroutine.
func (s *Store) Snapshot() ([]wire.Aircraft, []wire.Controller) {
	s.mu.Lock(s.lg)
	aircraft := make([]wire.Aircraft, 0, len(s.aircraft))
	for _, a := range s.aircraft {
		aircraft = append(aircraft, a)
	}
	controllers := make([]wire.Controller, 0, len(s.controllers))
	for _, c := range s.controllers {
		controllers = append(controllers, c)
	}
	s.mu.Unlock(s.lg)

	return deep.MustCopy(aircraft), deep.MustCopy(controllers)
}

// cullIdle removes controllers that haven't produced an update or
// message in IdleTimeout, the edge case of a client that vanished
// without a clean WebSocket close.
func (s *Store) cullIdle() {
	now := time.Now()
	s.mu.Lock(s.lg)
	var stale []wire.Id
	for id, last := range s.controllerLastSeen {
		if now.Sub(last) > s.cfg.IdleTimeout {
			stale = append(stale, id)
		}
	}
	s.mu.Unlock(s.lg)

	for _, id := range stale {
		s.lg.Debug("culling idle controller", slog.String("id", id.String()))
		s.Kill(id)
	}
}
