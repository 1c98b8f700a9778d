// plugin/planner.go
// Copyright(c) 2024-2026 atctrainer contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package plugin

import (
	"math"
	"time"

	"github.com/atctrainer/network/geo"
	"github.com/atctrainer/network/log"
	"github.com/atctrainer/network/util"
	"github.com/atctrainer/network/wire"
)

// FixResolver looks up a named fix's position. Resolving fix databases
// is a static-data loader concern out of scope here; the planner only
// needs a callback to turn a DCT instruction's fix name into a position.
type FixResolver func(name string) (geo.Coordinate, bool)

// target is the per-aircraft state the planner maintains between ticks:
// a FIFO route of instructions still to fly, the instruction currently
// governing the aircraft's motion, and the crossed-abeam tracking state
// a fix-crossing termination needs to detect a transition rather than a
// single-tick threshold.
type target struct {
	queue   []Instruction
	current *Instruction

	fixPosition geo.Coordinate

	haveAhead bool // whether ahead has been computed at least once for the current leg
	ahead     bool // whether the aircraft was, as of the last evaluation, still ahead of the fix abeam point
}

// AircraftSource is the subset of sim.Store the planner reads from.
type AircraftSource interface {
	Snapshot() ([]wire.Aircraft, []wire.Controller)
}

// DeltaQueue is the subset of sim.Store the planner writes to.
type DeltaQueue interface {
	QueueAircraftDelta(wire.AircraftDelta)
}

// PlannerConfig controls how quickly the follower complies with a
// target: these are compliance rates, not a full flight model.
type PlannerConfig struct {
	TurnRateDegPerSec   float64
	ClimbRateFtPerSec   float64
	AccelRateKtPerSec   float64
	AltitudeToleranceFt float64
}

func (c PlannerConfig) withDefaults() PlannerConfig {
	if c.TurnRateDegPerSec <= 0 {
		c.TurnRateDegPerSec = 3
	}
	if c.ClimbRateFtPerSec <= 0 {
		c.ClimbRateFtPerSec = 30
	}
	if c.AccelRateKtPerSec <= 0 {
		c.AccelRateKtPerSec = 2
	}
	if c.AltitudeToleranceFt <= 0 {
		c.AltitudeToleranceFt = 50
	}
	return c
}

// Planner is the instruction planner: it turns controller instructions
// into per-aircraft route state (HandleText, SetRoute) and, every tick,
// advances each aircraft's current instruction and queues the turn
// rate, climb rate, and ground speed deltas that move it toward
// compliance (Tick). It doesn't step position or heading itself — those
// are sim.Store's job, integrating whatever rates the planner last set
// at the store's own, typically finer-grained, extrapolation cadence.
// Two controllers issuing instructions to the same aircraft in the same
// tick resolve last-applied-wins per component, since HandleText
// patches only the component the parsed verb addresses.
type Planner struct {
	cfg     PlannerConfig
	lg      *log.Logger
	resolve FixResolver
	source  AircraftSource
	queue   DeltaQueue

	mu       util.LoggingMutex
	targets  map[wire.Id]*target
	lastTick time.Time
}

func NewPlanner(cfg PlannerConfig, lg *log.Logger, resolve FixResolver, source AircraftSource, queue DeltaQueue) *Planner {
	return &Planner{
		cfg:     cfg.withDefaults(),
		lg:      lg,
		resolve: resolve,
		source:  source,
		queue:   queue,
		targets: make(map[wire.Id]*target),
	}
}

func (p *Planner) Metadata() Metadata {
	return Metadata{
		Name:        "instruction-planner",
		Description: "Turns controller instructions into flight-plan-follower route state.",
		Maintainer:  "atctrainer",
	}
}

// HandleText parses body as an instruction and patches the addressed
// component onto aircraft's current instruction, installing an empty
// one first if this is the aircraft's first instruction. An instruction
// that fails to parse, or a DCT naming an unresolvable fix, is logged
// and otherwise ignored, rather than crashing the tick loop.
func (p *Planner) HandleText(aircraft wire.Id, body string) {
	parsed, err := ParseInstruction(body)
	if err != nil {
		p.lg.Warnf("%s: %v", aircraft, err)
		return
	}

	p.mu.Lock(p.lg)
	defer p.mu.Unlock(p.lg)

	t := p.targets[aircraft]
	if t == nil {
		t = &target{}
		p.targets[aircraft] = t
	}
	if t.current == nil {
		t.current = &Instruction{LNAV: LNAV{Mode: LNAVPresentHeading}}
	}

	switch parsed.Component {
	case ComponentLNAV:
		if parsed.LNAV.Mode == LNAVDirect {
			pos, ok := p.resolve(parsed.LNAV.Fix)
			if !ok {
				p.lg.Warnf("%s: unknown fix %q", aircraft, parsed.LNAV.Fix)
				return
			}
			t.fixPosition = pos
		}
		t.current.LNAV = parsed.LNAV
		t.current.Termination = parsed.Termination
		t.haveAhead = false

	case ComponentAltitude:
		tol := p.cfg.AltitudeToleranceFt
		t.current.HaveAltitude = true
		t.current.AltitudeRange = Range{Min: parsed.Altitude - tol, Max: parsed.Altitude + tol}
		t.current.Termination = parsed.Termination

	case ComponentSpeed:
		t.current.HaveSpeed = true
		t.current.SpeedRange = Range{Min: parsed.Speed, Max: parsed.Speed}
	}
}

// SetRoute replaces an aircraft's entire route with instructions,
// immediately advancing to the first leg. It exists alongside HandleText
// for callers building a multi-leg route programmatically (a route like
// [direct(p), alt(1000..1000)] that the single-line text grammar can't
// express in one instruction) rather than patching a live instruction
// component by component.
func (p *Planner) SetRoute(aircraft wire.Id, instructions []Instruction) {
	p.mu.Lock(p.lg)
	defer p.mu.Unlock(p.lg)

	t := p.targets[aircraft]
	if t == nil {
		t = &target{}
		p.targets[aircraft] = t
	}
	t.queue = instructions
	t.current = nil
	p.advance(t)
}

// advance pops the next instruction off t's route into t.current,
// resolving its fix position if it's a DCT leg. If the route is empty,
// t.current becomes nil and the aircraft holds its last commanded rates
// indefinitely.
func (p *Planner) advance(t *target) {
	t.haveAhead = false
	if len(t.queue) == 0 {
		t.current = nil
		return
	}
	next := t.queue[0]
	t.queue = t.queue[1:]
	t.current = &next
	if next.LNAV.Mode == LNAVDirect {
		if pos, ok := p.resolve(next.LNAV.Fix); ok {
			t.fixPosition = pos
		}
	}
}

// Tick advances every aircraft with a route toward its current
// instruction's compliance and queues the resulting rate/speed deltas.
// evaluateTermination runs first so a leg that completes on this very
// tick is immediately superseded — the freshly popped instruction
// still gets acted on within this same call, rather than sitting idle
// until the next tick notices it. The first call only records now as
// the time base; it evaluates and steps nothing.
func (p *Planner) Tick(now time.Time) {
	p.mu.Lock(p.lg)
	if p.lastTick.IsZero() {
		p.lastTick = now
	}
	dt := now.Sub(p.lastTick).Seconds()
	p.lastTick = now
	p.mu.Unlock(p.lg)

	if dt <= 0 {
		return
	}

	aircraft, _ := p.source.Snapshot()
	for _, a := range aircraft {
		p.mu.Lock(p.lg)
		t := p.targets[a.Id]
		if t == nil {
			p.mu.Unlock(p.lg)
			continue
		}
		p.evaluateTermination(a, t)
		d := p.step(a, t, dt)
		p.mu.Unlock(p.lg)

		if d.Fields != 0 {
			p.queue.QueueAircraftDelta(d)
		}
	}
}

// evaluateTermination pops t.current onto the next route instruction if
// its termination condition is satisfied by a's present state. A nil
// current (a fresh target with a populated route but no leg started
// yet) is itself advanced.
func (p *Planner) evaluateTermination(a wire.Aircraft, t *target) {
	if t.current == nil {
		p.advance(t)
		return
	}
	switch t.current.Termination {
	case TerminationFixCrossing:
		if p.isAbeam(a, t) {
			p.advance(t)
		}
	case TerminationAltitudeReached:
		if t.current.HaveAltitude && t.current.AltitudeRange.Contains(a.Altitude) {
			p.advance(t)
		}
	}
}

// isAbeam reports whether the aircraft just crossed abeam of the
// current DCT leg's fix: the signed angle between the aircraft-to-fix
// bearing and the aircraft's heading was at most 90 degrees (the fix
// is ahead of the aircraft's nose) on the previous evaluation and now
// exceeds 90 degrees (the fix has fallen behind). This is a transition
// detector, not a point-in-time distance threshold — an aircraft flown
// wide of the fix never gets within any fixed radius of it, but it
// still passes abeam.
func (p *Planner) isAbeam(a wire.Aircraft, t *target) bool {
	bearing, _ := geo.GetBearingDistance(a.Position, t.fixPosition)
	diff := signedHeadingDiff(a.Heading, bearing)
	ahead := math.Abs(diff) <= 90

	wasKnown := t.haveAhead
	wasAhead := t.ahead
	t.ahead = ahead
	t.haveAhead = true

	if !wasKnown {
		return false
	}
	return wasAhead && !ahead
}

// step computes the rate deltas that move a toward compliance with t's
// current instruction: a turn rate and direction for LNAV, a climb
// rate for altitude, and a directly-stepped ground speed value (speed
// has no extrapolated rate field on the wire model — it's cheap enough
// to just set outright each tick). Fields already at their target
// value are left unset on the returned delta.
func (p *Planner) step(a wire.Aircraft, t *target, dt float64) wire.AircraftDelta {
	d := wire.AircraftDelta{Id: a.Id}

	turnRate, clockwise := p.desiredTurn(a, t)
	if turnRate != a.TurnRateDegPerSec || (turnRate != 0 && clockwise != a.Clockwise) {
		d.Fields |= wire.AircraftFieldTurnRate | wire.AircraftFieldClockwise
		d.TurnRateDegPerSec = turnRate
		d.Clockwise = clockwise
	}

	climbRate := p.desiredClimb(a, t)
	if climbRate != a.ClimbRateFpm {
		d.Fields |= wire.AircraftFieldClimbRate
		d.ClimbRateFpm = climbRate
	}

	if t.current != nil && t.current.HaveSpeed && !t.current.SpeedRange.Contains(a.GroundSpeed) {
		speedTarget := t.current.SpeedRange.Min
		if a.GroundSpeed > t.current.SpeedRange.Max {
			speedTarget = t.current.SpeedRange.Max
		}
		gs := stepToward(a.GroundSpeed, speedTarget, p.cfg.AccelRateKtPerSec*dt)
		if gs != a.GroundSpeed {
			d.Fields |= wire.AircraftFieldGroundSpeed
			d.GroundSpeed = gs
		}
	}

	return d
}

// desiredTurn returns the turn rate and direction that carries the
// aircraft toward its current instruction's LNAV heading. A difference
// smaller than 0.5 degrees is treated as already compliant, so the rate
// doesn't chatter between a small positive and negative value as the
// heading settles.
func (p *Planner) desiredTurn(a wire.Aircraft, t *target) (rate float64, clockwise bool) {
	if t.current == nil {
		return 0, false
	}

	var desiredHeading float64
	switch t.current.LNAV.Mode {
	case LNAVPresentHeading:
		return 0, false
	case LNAVHeadingHold:
		desiredHeading = t.current.LNAV.Heading
	case LNAVDirect:
		desiredHeading, _ = geo.GetBearingDistance(a.Position, t.fixPosition)
	default:
		return 0, false
	}

	diff := signedHeadingDiff(a.Heading, desiredHeading)
	if math.Abs(diff) < 0.5 {
		return 0, false
	}
	return p.cfg.TurnRateDegPerSec, diff > 0
}

// desiredClimb returns the climb rate, signed, that carries the
// aircraft toward its current instruction's altitude band.
func (p *Planner) desiredClimb(a wire.Aircraft, t *target) float64 {
	if t.current == nil || !t.current.HaveAltitude {
		return 0
	}
	r := t.current.AltitudeRange
	if r.Contains(a.Altitude) {
		return 0
	}
	fpm := p.cfg.ClimbRateFtPerSec * 60
	if a.Altitude < r.Min {
		return fpm
	}
	return -fpm
}

// signedHeadingDiff returns the signed difference to-from, in degrees,
// wrapped to [-180, 180), via the shorter direction around the compass.
// A positive result means to is clockwise of from.
func signedHeadingDiff(from, to float64) float64 {
	return math.Mod(to-from+540, 360) - 180
}

// stepToward moves from toward to by at most maxDelta, clamping at to.
func stepToward(from, to, maxDelta float64) float64 {
	if from == to {
		return from
	}
	maxDelta = math.Abs(maxDelta)
	if from < to {
		return math.Min(from+maxDelta, to)
	}
	return math.Max(from-maxDelta, to)
}
