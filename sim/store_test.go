// sim/store_test.go
// Copyright(c) 2024-2026 atctrainer contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"sync"
	"testing"
	"time"

	"github.com/atctrainer/network/geo"
	"github.com/atctrainer/network/log"
	"github.com/atctrainer/network/wire"
)

var testLogger = log.New(false, "error", "")

func collectingBroadcast() (BroadcastFunc, func() []wire.NetworkMessage) {
	var mu sync.Mutex
	var sent []wire.NetworkMessage
	fn := func(msg wire.NetworkMessage) error {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, msg)
		return nil
	}
	get := func() []wire.NetworkMessage {
		mu.Lock()
		defer mu.Unlock()
		return append([]wire.NetworkMessage(nil), sent...)
	}
	return fn, get
}

func TestSpawnAndDrainCommitCreatesAircraft(t *testing.T) {
	bc, sent := collectingBroadcast()
	es := NewEventStream(testLogger)
	defer es.Destroy()
	s := NewStore(Config{}, testLogger, es, bc)

	id := wire.NewId()
	s.SpawnAircraft(wire.Aircraft{Id: id, Callsign: "UAL123", Altitude: 10000})
	s.drainCommit()

	msgs := sent()
	if len(msgs) != 1 {
		t.Fatalf("got %d broadcasts, want 1", len(msgs))
	}
	up, ok := msgs[0].Payload.(wire.AircraftUpdate)
	if !ok {
		t.Fatalf("payload = %T, want AircraftUpdate", msgs[0].Payload)
	}
	if up.Delta.Id != id || up.Delta.Callsign != "UAL123" {
		t.Errorf("delta = %+v", up.Delta)
	}

	aircraft, _ := s.Snapshot()
	if len(aircraft) != 1 || aircraft[0].Callsign != "UAL123" || aircraft[0].Altitude != 10000 {
		t.Errorf("snapshot = %+v", aircraft)
	}
}

func TestBatchedCommitConvergence(t *testing.T) {
	bc, _ := collectingBroadcast()
	es := NewEventStream(testLogger)
	defer es.Destroy()
	s := NewStore(Config{}, testLogger, es, bc)

	id := wire.NewId()
	s.SpawnAircraft(wire.Aircraft{Id: id, Callsign: "DAL1"})
	s.QueueAircraftDelta(wire.AircraftDelta{Id: id, Fields: wire.AircraftFieldAltitude, Altitude: 5000})
	s.QueueAircraftDelta(wire.AircraftDelta{Id: id, Fields: wire.AircraftFieldAltitude, Altitude: 6000})
	s.QueueAircraftDelta(wire.AircraftDelta{Id: id, Fields: wire.AircraftFieldHeading, Heading: 270})
	s.drainCommit()

	aircraft, _ := s.Snapshot()
	if len(aircraft) != 1 {
		t.Fatalf("got %d aircraft, want 1", len(aircraft))
	}
	got := aircraft[0]
	if got.Altitude != 6000 || got.Heading != 270 || got.Callsign != "DAL1" {
		t.Errorf("converged state = %+v, want altitude 6000 heading 270 callsign DAL1", got)
	}
}

func TestInboundPolicyRejectsAircraftAndAuthoritativeUpdates(t *testing.T) {
	bc, _ := collectingBroadcast()
	es := NewEventStream(testLogger)
	defer es.Destroy()
	s := NewStore(Config{}, testLogger, es, bc)

	id := wire.NewId()
	err := s.ApplyInbound(wire.NetworkMessage{
		Disc:    wire.DiscAircraftUpdate,
		Payload: wire.AircraftUpdate{Delta: wire.AircraftDelta{Id: id, Fields: wire.AircraftFieldAltitude, Altitude: 9000}},
	})
	if err != ErrInboundRejected {
		t.Fatalf("AircraftUpdate: err = %v, want ErrInboundRejected", err)
	}

	err = s.ApplyInbound(wire.NetworkMessage{
		Disc:    wire.DiscAuthoritativeUpdate,
		Payload: wire.AuthoritativeUpdate{},
	})
	if err != ErrInboundRejected {
		t.Fatalf("AuthoritativeUpdate: err = %v, want ErrInboundRejected", err)
	}

	s.drainCommit()
	aircraft, _ := s.Snapshot()
	if len(aircraft) != 0 {
		t.Errorf("rejected update was applied: %+v", aircraft)
	}
}

func TestInboundControllerUpdateIsApplied(t *testing.T) {
	bc, sent := collectingBroadcast()
	es := NewEventStream(testLogger)
	defer es.Destroy()
	s := NewStore(Config{}, testLogger, es, bc)

	id := wire.NewId()
	err := s.ApplyInbound(wire.NetworkMessage{
		Disc: wire.DiscControllerUpdate,
		Payload: wire.ControllerUpdate{
			Delta: wire.ControllerDelta{Id: id, Fields: wire.ControllerFieldFacility | wire.ControllerFieldType, Facility: "LAX", Type: wire.ControllerTWR},
		},
	})
	if err != nil {
		t.Fatalf("ApplyInbound: %v", err)
	}
	s.drainCommit()

	_, controllers := s.Snapshot()
	if len(controllers) != 1 || controllers[0].Callsign() != "LAX_TWR" {
		t.Fatalf("controllers = %+v", controllers)
	}
	if len(sent()) != 2 {
		t.Errorf("expected the controller update and a resync for the new controller")
	}
}

func TestKillIsNoOpForUnknownId(t *testing.T) {
	bc, sent := collectingBroadcast()
	es := NewEventStream(testLogger)
	defer es.Destroy()
	s := NewStore(Config{}, testLogger, es, bc)

	s.Kill(wire.NewId())
	if len(sent()) != 0 {
		t.Errorf("expected no broadcast for unknown kill, got %v", sent())
	}
}

func TestKillRemovesAircraftAndBroadcasts(t *testing.T) {
	bc, sent := collectingBroadcast()
	es := NewEventStream(testLogger)
	defer es.Destroy()
	s := NewStore(Config{}, testLogger, es, bc)

	id := wire.NewId()
	s.SpawnAircraft(wire.Aircraft{Id: id, Callsign: "SWA1"})
	s.drainCommit()

	s.Kill(id)
	s.drainCommit()

	aircraft, _ := s.Snapshot()
	if len(aircraft) != 0 {
		t.Errorf("aircraft not removed: %+v", aircraft)
	}

	msgs := sent()
	if len(msgs) != 2 {
		t.Fatalf("got %d broadcasts, want 2 (spawn + kill)", len(msgs))
	}
	km, ok := msgs[1].Payload.(wire.KillMessage)
	if !ok || km.Id != id {
		t.Errorf("second broadcast = %+v, want KillMessage for %s", msgs[1], id)
	}
}

// TestKillCollapsesPendingUpdateInSameBatch verifies the "two frames in
// one batch" invariant: an aircraft spawned, updated, and killed before
// the commit ticker next fires produces exactly one broadcast for that
// aircraft (the kill), not a spawn/update frame followed by a kill.
func TestKillCollapsesPendingUpdateInSameBatch(t *testing.T) {
	bc, sent := collectingBroadcast()
	es := NewEventStream(testLogger)
	defer es.Destroy()
	s := NewStore(Config{}, testLogger, es, bc)

	id := wire.NewId()
	s.SpawnAircraft(wire.Aircraft{Id: id, Callsign: "SWA1"})
	s.drainCommit()

	s.QueueAircraftDelta(wire.AircraftDelta{Id: id, Fields: wire.AircraftFieldAltitude, Altitude: 9000})
	s.Kill(id)
	s.drainCommit()

	aircraft, _ := s.Snapshot()
	if len(aircraft) != 0 {
		t.Errorf("aircraft not removed: %+v", aircraft)
	}

	msgs := sent()
	if len(msgs) != 2 {
		t.Fatalf("got %d broadcasts, want 2 (spawn, then a single collapsed kill)", len(msgs))
	}
	if _, ok := msgs[1].Payload.(wire.KillMessage); !ok {
		t.Errorf("second broadcast = %+v, want a KillMessage, not a separate update", msgs[1])
	}
}

func TestExtrapolateAdvancesPositionAndAltitude(t *testing.T) {
	bc, _ := collectingBroadcast()
	es := NewEventStream(testLogger)
	defer es.Destroy()
	s := NewStore(Config{ExtrapolatePeriod: 10 * time.Second}, testLogger, es, bc)

	id := wire.NewId()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	origin := geo.Coordinate{Latitude: 33.94, Longitude: -118.4}
	s.SpawnAircraft(wire.Aircraft{
		Id: id, Callsign: "UAL1", Position: origin, Heading: 90,
		GroundSpeed: 360, ClimbRateFpm: 600, Time: start,
	})
	s.drainCommit()

	s.extrapolate(start.Add(10 * time.Second))
	s.drainCommit()

	aircraft, _ := s.Snapshot()
	if len(aircraft) != 1 {
		t.Fatalf("got %d aircraft, want 1", len(aircraft))
	}
	got := aircraft[0]
	if got.Position == origin {
		t.Errorf("extrapolate did not move aircraft: %+v", got)
	}
	if got.Altitude <= 0 {
		t.Errorf("extrapolate did not climb aircraft: altitude = %v", got.Altitude)
	}
}

func TestExtrapolateTurnsTowardCommandedRate(t *testing.T) {
	bc, _ := collectingBroadcast()
	es := NewEventStream(testLogger)
	defer es.Destroy()
	s := NewStore(Config{ExtrapolatePeriod: 10 * time.Second}, testLogger, es, bc)

	id := wire.NewId()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SpawnAircraft(wire.Aircraft{
		Id: id, Callsign: "UAL1", Heading: 0, GroundSpeed: 300,
		TurnRateDegPerSec: 3, Clockwise: true, Time: start,
	})
	s.drainCommit()

	s.extrapolate(start.Add(10 * time.Second))
	s.drainCommit()

	aircraft, _ := s.Snapshot()
	got := aircraft[0].Heading
	if got != 30 {
		t.Errorf("heading after 10s at 3deg/s clockwise = %v, want 30", got)
	}
}

func TestTextMessageAddressedToAircraftBecomesInstruction(t *testing.T) {
	bc, sent := collectingBroadcast()
	es := NewEventStream(testLogger)
	defer es.Destroy()
	s := NewStore(Config{}, testLogger, es, bc)

	aircraftId := wire.NewId()
	s.SpawnAircraft(wire.Aircraft{Id: aircraftId, Callsign: "JBU1"})
	s.drainCommit()

	var gotAircraft wire.Id
	var gotBody string
	s.SetInstructionHandler(func(id wire.Id, body string) {
		gotAircraft, gotBody = id, body
	})

	controllerId := wire.NewId()
	err := s.ApplyInbound(wire.NetworkMessage{
		Disc:    wire.DiscTextMessage,
		Payload: wire.TextMessage{From: controllerId, To: aircraftId, Body: "HDG 270"},
	})
	if err != nil {
		t.Fatalf("ApplyInbound: %v", err)
	}
	if gotAircraft != aircraftId || gotBody != "HDG 270" {
		t.Errorf("instruction handler got (%s, %q), want (%s, %q)", gotAircraft, gotBody, aircraftId, "HDG 270")
	}

	// The instruction itself is not relayed as chat.
	if len(sent()) != 1 {
		t.Errorf("expected only the spawn broadcast, got %d", len(sent()))
	}
}

func TestTextMessageToUnknownRecipientIsRelayedAsChat(t *testing.T) {
	bc, sent := collectingBroadcast()
	es := NewEventStream(testLogger)
	defer es.Destroy()
	s := NewStore(Config{}, testLogger, es, bc)

	from, to := wire.NewId(), wire.NewId()
	err := s.ApplyInbound(wire.NetworkMessage{
		Disc:    wire.DiscTextMessage,
		Payload: wire.TextMessage{From: from, To: to, Body: "handoff accepted"},
	})
	if err != nil {
		t.Fatalf("ApplyInbound: %v", err)
	}

	msgs := sent()
	if len(msgs) != 1 {
		t.Fatalf("got %d broadcasts, want 1", len(msgs))
	}
	if tm, ok := msgs[0].Payload.(wire.TextMessage); !ok || tm.Body != "handoff accepted" {
		t.Errorf("broadcast = %+v", msgs[0])
	}
}
