// plugin/planner_test.go
// Copyright(c) 2024-2026 atctrainer contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package plugin

import (
	"testing"
	"time"

	"github.com/atctrainer/network/geo"
	"github.com/atctrainer/network/wire"
)

type fakeSource struct {
	aircraft []wire.Aircraft
}

func (f *fakeSource) Snapshot() ([]wire.Aircraft, []wire.Controller) {
	return append([]wire.Aircraft(nil), f.aircraft...), nil
}

type fakeQueue struct {
	deltas []wire.AircraftDelta
}

func (f *fakeQueue) QueueAircraftDelta(d wire.AircraftDelta) {
	f.deltas = append(f.deltas, d)
}

func TestPlannerHeadingHoldTurnsTowardTarget(t *testing.T) {
	id := wire.NewId()
	source := &fakeSource{aircraft: []wire.Aircraft{{Id: id, Heading: 0}}}
	queue := &fakeQueue{}
	p := NewPlanner(PlannerConfig{TurnRateDegPerSec: 3}, testLogger, nil, source, queue)

	p.HandleText(id, "HDG 090")

	base := time.Unix(0, 0)
	p.Tick(base)
	p.Tick(base.Add(time.Second))

	if len(queue.deltas) != 1 {
		t.Fatalf("got %d deltas, want 1", len(queue.deltas))
	}
	d := queue.deltas[0]
	if d.Fields&wire.AircraftFieldTurnRate == 0 {
		t.Fatal("delta missing turn rate field")
	}
	if d.TurnRateDegPerSec != 3 {
		t.Errorf("turn rate = %v, want 3", d.TurnRateDegPerSec)
	}
	if !d.Clockwise {
		t.Error("clockwise = false, want true (090 is clockwise of 0)")
	}
}

func TestPlannerPresentHeadingHoldsCurrentHeading(t *testing.T) {
	id := wire.NewId()
	source := &fakeSource{aircraft: []wire.Aircraft{{Id: id, Heading: 045}}}
	queue := &fakeQueue{}
	p := NewPlanner(PlannerConfig{}, testLogger, nil, source, queue)

	p.HandleText(id, "HDG 270")
	p.HandleText(id, "PH")

	base := time.Unix(0, 0)
	p.Tick(base)
	p.Tick(base.Add(time.Second))

	if len(queue.deltas) != 0 {
		t.Errorf("expected no turn rate once present-heading is commanded, got %+v", queue.deltas)
	}
}

func TestPlannerDirectTerminatesOnAbeamCrossing(t *testing.T) {
	id := wire.NewId()
	fix := geo.Coordinate{Latitude: 0, Longitude: 0}
	// Aircraft starts just west of the fix, flying due east (heading 90)
	// toward it: the aircraft-to-fix bearing is ~90, matching heading,
	// so the fix reads as ahead. Once the aircraft passes the fix, the
	// aircraft-to-fix bearing flips to ~270 (behind), crossing the 90
	// degree threshold and firing termination.
	aircraftPos := geo.Coordinate{Latitude: 0, Longitude: -0.001}
	source := &fakeSource{aircraft: []wire.Aircraft{{
		Id: id, Position: aircraftPos, Heading: 90, GroundSpeed: 0,
	}}}
	queue := &fakeQueue{}
	resolver := func(name string) (geo.Coordinate, bool) {
		if name == "ORIGN" {
			return fix, true
		}
		return geo.Coordinate{}, false
	}
	p := NewPlanner(PlannerConfig{TurnRateDegPerSec: 180}, testLogger, resolver, source, queue)

	p.HandleText(id, "DCT ORIGN")

	// The first Tick only sets the planner's time base; the second one
	// evaluates the leg and records the fix as ahead.
	base := time.Unix(0, 0)
	p.Tick(base)
	p.Tick(base.Add(time.Second))

	p.mu.Lock(p.lg)
	tgt := p.targets[id]
	p.mu.Unlock(p.lg)
	if tgt.current == nil || tgt.current.LNAV.Mode != LNAVDirect {
		t.Fatalf("expected DCT leg still current after first tick establishing baseline, got %+v", tgt.current)
	}

	// Move the aircraft past the fix (west-to-east) so the aircraft-to-
	// fix bearing flips from ahead (~90 relative to heading 90, i.e. 0
	// diff) to behind (~270, i.e. 180 diff).
	source.aircraft[0].Position = geo.Coordinate{Latitude: 0, Longitude: 0.001}
	p.Tick(base.Add(2 * time.Second))

	p.mu.Lock(p.lg)
	tgt = p.targets[id]
	p.mu.Unlock(p.lg)
	if tgt.current != nil {
		t.Errorf("expected route to drain to nil after crossing abeam the only leg, got %+v", tgt.current)
	}
}

func TestPlannerAltitudeComplianceStopsAtTarget(t *testing.T) {
	id := wire.NewId()
	source := &fakeSource{aircraft: []wire.Aircraft{{Id: id, Altitude: 10000}}}
	queue := &fakeQueue{}
	p := NewPlanner(PlannerConfig{ClimbRateFtPerSec: 1000, AltitudeToleranceFt: 50}, testLogger, nil, source, queue)

	p.HandleText(id, "ALT 5000")

	// The first Tick only sets the planner's time base.
	base := time.Unix(0, 0)
	p.Tick(base)
	p.Tick(base.Add(time.Second))

	if len(queue.deltas) != 1 {
		t.Fatalf("got %d deltas, want 1", len(queue.deltas))
	}
	if queue.deltas[0].ClimbRateFpm >= 0 {
		t.Errorf("climb rate = %v, want negative (descending toward 5000 from 10000)", queue.deltas[0].ClimbRateFpm)
	}

	// Once the aircraft has actually descended into the tolerance band,
	// the next tick should terminate the leg (route is empty, so it
	// drains to nil) instead of continuing to queue a climb rate.
	source.aircraft[0].Altitude = 5010
	p.Tick(base.Add(2 * time.Second))

	p.mu.Lock(p.lg)
	tgt := p.targets[id]
	p.mu.Unlock(p.lg)
	if tgt.current != nil {
		t.Errorf("expected leg to terminate once altitude settled into tolerance, got %+v", tgt.current)
	}
	if len(queue.deltas) != 1 {
		t.Errorf("got %d deltas, want still 1 (no new climb rate queued once terminated)", len(queue.deltas))
	}
}

func TestPlannerSpeedStepsDirectlyTowardTarget(t *testing.T) {
	id := wire.NewId()
	source := &fakeSource{aircraft: []wire.Aircraft{{Id: id, GroundSpeed: 250}}}
	queue := &fakeQueue{}
	p := NewPlanner(PlannerConfig{AccelRateKtPerSec: 5}, testLogger, nil, source, queue)

	p.HandleText(id, "SPD 200")

	base := time.Unix(0, 0)
	p.Tick(base)
	p.Tick(base.Add(2 * time.Second))

	if len(queue.deltas) != 1 {
		t.Fatalf("got %d deltas, want 1", len(queue.deltas))
	}
	if queue.deltas[0].GroundSpeed != 240 {
		t.Errorf("ground speed = %v, want 240 (250 - 5kt/s * 2s)", queue.deltas[0].GroundSpeed)
	}
}

func TestPlannerSetRouteMultiLeg(t *testing.T) {
	id := wire.NewId()
	fix := geo.Coordinate{Latitude: 1, Longitude: 1}
	resolver := func(name string) (geo.Coordinate, bool) {
		if name == "FIX1" {
			return fix, true
		}
		return geo.Coordinate{}, false
	}
	source := &fakeSource{aircraft: []wire.Aircraft{{Id: id, Position: geo.Coordinate{}, Heading: 0}}}
	queue := &fakeQueue{}
	p := NewPlanner(PlannerConfig{}, testLogger, resolver, source, queue)

	p.SetRoute(id, []Instruction{
		{LNAV: LNAV{Mode: LNAVDirect, Fix: "FIX1"}, Termination: TerminationFixCrossing},
		{HaveAltitude: true, AltitudeRange: Range{Min: 1000, Max: 1000}, Termination: TerminationAltitudeReached},
	})

	p.mu.Lock(p.lg)
	tgt := p.targets[id]
	p.mu.Unlock(p.lg)
	if tgt.current == nil || tgt.current.LNAV.Mode != LNAVDirect {
		t.Fatalf("expected first leg current after SetRoute, got %+v", tgt.current)
	}
	if tgt.fixPosition != fix {
		t.Errorf("fixPosition = %+v, want %+v", tgt.fixPosition, fix)
	}
	if len(tgt.queue) != 1 {
		t.Fatalf("expected one leg remaining in queue, got %d", len(tgt.queue))
	}
}
