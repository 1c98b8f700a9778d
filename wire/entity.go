// wire/entity.go
// Copyright(c) 2024-2026 atctrainer contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package wire

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/atctrainer/network/geo"
)

// AircraftFieldMask identifies which fields of an Aircraft a given
// AircraftDelta carries. Bits not set in a delta's mask must be left
// untouched when the delta is applied to an Aircraft. AircraftFieldDelete
// is special: it is never combined with any other field in a delta that
// survives MergeAircraftDelta, and applying it to an entity is an error
// rather than a state change — deletion is a terminal operation handled
// by the store unwrapping the delta itself, never by Apply.
type AircraftFieldMask uint32

const (
	AircraftFieldDelete AircraftFieldMask = 1 << iota
	AircraftFieldCallsign
	AircraftFieldPosition
	AircraftFieldAltitude
	AircraftFieldHeading
	AircraftFieldGroundSpeed
	AircraftFieldClimbRate
	AircraftFieldTurnRate
	AircraftFieldClockwise
	AircraftFieldSquawk
	AircraftFieldFlightPlan
	AircraftFieldTime

	aircraftFieldMax = AircraftFieldTime<<1 - 1
)

// SquawkMode is the transponder mode an Aircraft's Squawk is operating
// in.
type SquawkMode int

const (
	SquawkStandby SquawkMode = iota
	SquawkOn
	SquawkAltitude
)

// Squawk is an aircraft's transponder state: a 4-digit octal code
// (stored as its uint16 value, not its decimal digits) and the mode the
// transponder is replying in.
type Squawk struct {
	Code uint16     `json:"code"`
	Mode SquawkMode `json:"mode"`
}

// FlightRules is the flight rules an Aircraft's flight plan was filed
// under.
type FlightRules int

const (
	FlightRulesUnknown FlightRules = iota
	FlightRulesIFR
	FlightRulesVFR
)

// FlightPlan is the filed-plan metadata carried alongside an Aircraft's
// live state: everything a controller needs to know about the flight
// that isn't itself dynamic (contrast Aircraft's pos/motion fields).
type FlightPlan struct {
	Origin       string      `json:"origin"`
	Destination  string      `json:"destination"`
	Rules        FlightRules `json:"rules"`
	AircraftType string      `json:"aircraft_type"`
	Route        string      `json:"route"`
	Remarks      string      `json:"remarks"`
}

// Aircraft is the authoritative state of one aircraft in a session: the
// time its state was last advanced, its filed-plan metadata, its
// position, and its instantaneous motion (the rates a kinematic
// extrapolation integrates between commits, not just a snapshot of
// where it currently is).
type Aircraft struct {
	Id       Id         `json:"id"`
	Time     time.Time  `json:"time"`
	Callsign string     `json:"callsign"`
	Squawk   Squawk     `json:"squawk"`

	FlightPlan FlightPlan `json:"flight_plan"`

	Position geo.Coordinate `json:"position"`

	Altitude          float64 `json:"altitude"`              // feet
	Heading           float64 `json:"heading"`                // degrees true
	GroundSpeed       float64 `json:"ground_speed"`           // knots
	ClimbRateFpm      float64 `json:"climb_rate_fpm"`         // feet per minute, signed
	TurnRateDegPerSec float64 `json:"turn_rate_deg_per_sec"`  // magnitude; direction from Clockwise
	Clockwise         bool    `json:"clockwise"`
}

// AircraftDelta carries a partial update to an Aircraft. Only fields
// whose bit is set in Fields are meaningful; the rest are zero values
// and must not be applied. A delta with AircraftFieldDelete set carries
// no other meaningful field — see MergeAircraftDelta.
type AircraftDelta struct {
	Id       Id                `json:"id"`
	Fields   AircraftFieldMask `json:"fields"`
	Time     time.Time         `json:"time,omitempty"`
	Callsign string            `json:"callsign,omitempty"`
	Squawk   Squawk            `json:"squawk,omitempty"`

	FlightPlan FlightPlan `json:"flight_plan,omitempty"`

	Position geo.Coordinate `json:"position,omitempty"`

	Altitude          float64 `json:"altitude,omitempty"`
	Heading           float64 `json:"heading,omitempty"`
	GroundSpeed       float64 `json:"ground_speed,omitempty"`
	ClimbRateFpm      float64 `json:"climb_rate_fpm,omitempty"`
	TurnRateDegPerSec float64 `json:"turn_rate_deg_per_sec,omitempty"`
	Clockwise         bool    `json:"clockwise,omitempty"`
}

// Apply returns a copy of a with every field set in d.Fields replaced
// by d's value. Heading is normalized into [0, 360) after the update is
// applied, so a delta carrying a raw planner output (which may be
// negative or over 360) never leaves the store in a denormalized state.
// Applying a delete delta is an error: deletion removes an entity from
// its store entirely, it doesn't produce a new Aircraft value.
func (a Aircraft) Apply(d AircraftDelta) (Aircraft, error) {
	if d.Fields&AircraftFieldDelete != 0 {
		return Aircraft{}, fmt.Errorf("wire: %w: aircraft %s", ErrDeltaIsDelete, d.Id)
	}
	if d.Id != a.Id {
		return a, nil
	}
	if d.Fields&AircraftFieldCallsign != 0 {
		a.Callsign = d.Callsign
	}
	if d.Fields&AircraftFieldSquawk != 0 {
		a.Squawk = d.Squawk
	}
	if d.Fields&AircraftFieldFlightPlan != 0 {
		a.FlightPlan = d.FlightPlan
	}
	if d.Fields&AircraftFieldPosition != 0 {
		a.Position = d.Position.Normalize()
	}
	if d.Fields&AircraftFieldAltitude != 0 {
		a.Altitude = d.Altitude
	}
	if d.Fields&AircraftFieldHeading != 0 {
		a.Heading = d.Heading
	}
	if d.Fields&AircraftFieldGroundSpeed != 0 {
		a.GroundSpeed = d.GroundSpeed
	}
	if d.Fields&AircraftFieldClimbRate != 0 {
		a.ClimbRateFpm = d.ClimbRateFpm
	}
	if d.Fields&AircraftFieldTurnRate != 0 {
		a.TurnRateDegPerSec = d.TurnRateDegPerSec
	}
	if d.Fields&AircraftFieldClockwise != 0 {
		a.Clockwise = d.Clockwise
	}
	if d.Fields&AircraftFieldTime != 0 {
		a.Time = d.Time
	}
	a.Heading = geo.NormalizeHeading(a.Heading)
	return a, nil
}

// MergeAircraftDelta combines two deltas against the same entity into
// one, b having been produced after a. For ordinary fields, b wins
// field-by-field, matching the commit batcher's "later tick overrides
// earlier tick" semantics; the operation is associative for those
// fields, so a chain of pending deltas can be folded in any grouping.
// Delete breaks that symmetry by design: if b deletes, the merge
// collapses to a pure delete regardless of what a carried (an aircraft
// updated and then killed in the same batch emits one delete, not an
// update followed by a delete), and if a deletes but b doesn't, b
// replaces a outright (a delta can't resurrect a delete by merging
// something else into it — the delete is simply superseded, as if it
// had never been queued).
func MergeAircraftDelta(a, b AircraftDelta) AircraftDelta {
	if a.Id == (Id{}) {
		return b
	}
	if b.Id == (Id{}) {
		return a
	}
	if b.Fields&AircraftFieldDelete != 0 {
		return AircraftDelta{Id: b.Id, Fields: AircraftFieldDelete}
	}
	if a.Fields&AircraftFieldDelete != 0 {
		return b
	}

	out := a
	out.Fields = a.Fields | b.Fields

	if b.Fields&AircraftFieldCallsign != 0 {
		out.Callsign = b.Callsign
	}
	if b.Fields&AircraftFieldSquawk != 0 {
		out.Squawk = b.Squawk
	}
	if b.Fields&AircraftFieldFlightPlan != 0 {
		out.FlightPlan = b.FlightPlan
	}
	if b.Fields&AircraftFieldPosition != 0 {
		out.Position = b.Position
	}
	if b.Fields&AircraftFieldAltitude != 0 {
		out.Altitude = b.Altitude
	}
	if b.Fields&AircraftFieldHeading != 0 {
		out.Heading = b.Heading
	}
	if b.Fields&AircraftFieldGroundSpeed != 0 {
		out.GroundSpeed = b.GroundSpeed
	}
	if b.Fields&AircraftFieldClimbRate != 0 {
		out.ClimbRateFpm = b.ClimbRateFpm
	}
	if b.Fields&AircraftFieldTurnRate != 0 {
		out.TurnRateDegPerSec = b.TurnRateDegPerSec
	}
	if b.Fields&AircraftFieldClockwise != 0 {
		out.Clockwise = b.Clockwise
	}
	if b.Fields&AircraftFieldTime != 0 {
		out.Time = b.Time
	}
	return out
}

// DiffAircraft returns the minimal delta that turns from into to. It
// never sets AircraftFieldDelete: deletion is a distinct operation
// (see Store.Kill), not a state reachable by comparing two Aircraft
// values.
func DiffAircraft(from, to Aircraft) AircraftDelta {
	d := AircraftDelta{Id: to.Id}
	if from.Callsign != to.Callsign {
		d.Fields |= AircraftFieldCallsign
		d.Callsign = to.Callsign
	}
	if from.Squawk != to.Squawk {
		d.Fields |= AircraftFieldSquawk
		d.Squawk = to.Squawk
	}
	if from.FlightPlan != to.FlightPlan {
		d.Fields |= AircraftFieldFlightPlan
		d.FlightPlan = to.FlightPlan
	}
	if from.Position != to.Position {
		d.Fields |= AircraftFieldPosition
		d.Position = to.Position
	}
	if from.Altitude != to.Altitude {
		d.Fields |= AircraftFieldAltitude
		d.Altitude = to.Altitude
	}
	if from.Heading != to.Heading {
		d.Fields |= AircraftFieldHeading
		d.Heading = to.Heading
	}
	if from.GroundSpeed != to.GroundSpeed {
		d.Fields |= AircraftFieldGroundSpeed
		d.GroundSpeed = to.GroundSpeed
	}
	if from.ClimbRateFpm != to.ClimbRateFpm {
		d.Fields |= AircraftFieldClimbRate
		d.ClimbRateFpm = to.ClimbRateFpm
	}
	if from.TurnRateDegPerSec != to.TurnRateDegPerSec {
		d.Fields |= AircraftFieldTurnRate
		d.TurnRateDegPerSec = to.TurnRateDegPerSec
	}
	if from.Clockwise != to.Clockwise {
		d.Fields |= AircraftFieldClockwise
		d.Clockwise = to.Clockwise
	}
	if !from.Time.Equal(to.Time) {
		d.Fields |= AircraftFieldTime
		d.Time = to.Time
	}
	return d
}

///////////////////////////////////////////////////////////////////////////
// Controller

// ControllerFieldMask identifies which fields of a Controller a given
// ControllerDelta carries. See AircraftFieldDelete for the delete bit's
// merge/apply semantics, which are identical here.
type ControllerFieldMask uint32

const (
	ControllerFieldDelete ControllerFieldMask = 1 << iota
	ControllerFieldFrequency
	ControllerFieldFacility
	ControllerFieldDiscriminator
	ControllerFieldType
	ControllerFieldPosition
	ControllerFieldRange
	ControllerFieldRadarAntennae

	controllerFieldMax = ControllerFieldRadarAntennae<<1 - 1
)

// ControllerType is the facility position a Controller is staffing.
type ControllerType int

const (
	ControllerDEL ControllerType = iota
	ControllerGND
	ControllerTWR
	ControllerAPP
	ControllerDEP
	ControllerCTR
	ControllerFSS
)

func (t ControllerType) String() string {
	switch t {
	case ControllerDEL:
		return "DEL"
	case ControllerGND:
		return "GND"
	case ControllerTWR:
		return "TWR"
	case ControllerAPP:
		return "APP"
	case ControllerDEP:
		return "DEP"
	case ControllerCTR:
		return "CTR"
	case ControllerFSS:
		return "FSS"
	default:
		return "UNKNOWN"
	}
}

// Controller is the authoritative state of one controller position held
// by a connected client. Its callsign is never stored directly; it's
// derived from Facility, Discriminator, and Type (see Callsign), so the
// three can't drift out of sync with whatever callsign a client last
// announced under.
type Controller struct {
	Id            Id               `json:"id"`
	Facility      string           `json:"facility"`
	Discriminator string           `json:"discriminator,omitempty"`
	Type          ControllerType   `json:"type"`
	Frequency     Frequency        `json:"frequency"`
	Position      geo.Coordinate   `json:"position"`
	Range         float64          `json:"range"` // nautical miles, radar scope range
	RadarAntennae []geo.Coordinate `json:"radar_antennae,omitempty"`
}

// Callsign derives a controller's on-frequency identity from its
// facility, optional discriminator, and type: facility[_discriminator]_type
// (e.g. "NY_APP", or "NY_1_APP" for a split sector).
func (c Controller) Callsign() string {
	parts := []string{c.Facility}
	if c.Discriminator != "" {
		parts = append(parts, c.Discriminator)
	}
	parts = append(parts, c.Type.String())
	return strings.Join(parts, "_")
}

// ControllerDelta carries a partial update to a Controller.
type ControllerDelta struct {
	Id            Id                  `json:"id"`
	Fields        ControllerFieldMask `json:"fields"`
	Facility      string              `json:"facility,omitempty"`
	Discriminator string              `json:"discriminator,omitempty"`
	Type          ControllerType      `json:"type,omitempty"`
	Frequency     Frequency           `json:"frequency,omitempty"`
	Position      geo.Coordinate      `json:"position,omitempty"`
	Range         float64             `json:"range,omitempty"`
	RadarAntennae []geo.Coordinate    `json:"radar_antennae,omitempty"`
}

func (c Controller) Apply(d ControllerDelta) (Controller, error) {
	if d.Fields&ControllerFieldDelete != 0 {
		return Controller{}, fmt.Errorf("wire: %w: controller %s", ErrDeltaIsDelete, d.Id)
	}
	if d.Id != c.Id {
		return c, nil
	}
	if d.Fields&ControllerFieldFacility != 0 {
		c.Facility = d.Facility
	}
	if d.Fields&ControllerFieldDiscriminator != 0 {
		c.Discriminator = d.Discriminator
	}
	if d.Fields&ControllerFieldType != 0 {
		c.Type = d.Type
	}
	if d.Fields&ControllerFieldFrequency != 0 {
		c.Frequency = d.Frequency
	}
	if d.Fields&ControllerFieldPosition != 0 {
		c.Position = d.Position.Normalize()
	}
	if d.Fields&ControllerFieldRange != 0 {
		c.Range = d.Range
	}
	if d.Fields&ControllerFieldRadarAntennae != 0 {
		c.RadarAntennae = d.RadarAntennae
	}
	return c, nil
}

func MergeControllerDelta(a, b ControllerDelta) ControllerDelta {
	if a.Id == (Id{}) {
		return b
	}
	if b.Id == (Id{}) {
		return a
	}
	if b.Fields&ControllerFieldDelete != 0 {
		return ControllerDelta{Id: b.Id, Fields: ControllerFieldDelete}
	}
	if a.Fields&ControllerFieldDelete != 0 {
		return b
	}

	out := a
	out.Fields = a.Fields | b.Fields

	if b.Fields&ControllerFieldFacility != 0 {
		out.Facility = b.Facility
	}
	if b.Fields&ControllerFieldDiscriminator != 0 {
		out.Discriminator = b.Discriminator
	}
	if b.Fields&ControllerFieldType != 0 {
		out.Type = b.Type
	}
	if b.Fields&ControllerFieldFrequency != 0 {
		out.Frequency = b.Frequency
	}
	if b.Fields&ControllerFieldPosition != 0 {
		out.Position = b.Position
	}
	if b.Fields&ControllerFieldRange != 0 {
		out.Range = b.Range
	}
	if b.Fields&ControllerFieldRadarAntennae != 0 {
		out.RadarAntennae = b.RadarAntennae
	}
	return out
}

func DiffController(from, to Controller) ControllerDelta {
	d := ControllerDelta{Id: to.Id}
	if from.Facility != to.Facility {
		d.Fields |= ControllerFieldFacility
		d.Facility = to.Facility
	}
	if from.Discriminator != to.Discriminator {
		d.Fields |= ControllerFieldDiscriminator
		d.Discriminator = to.Discriminator
	}
	if from.Type != to.Type {
		d.Fields |= ControllerFieldType
		d.Type = to.Type
	}
	if from.Frequency != to.Frequency {
		d.Fields |= ControllerFieldFrequency
		d.Frequency = to.Frequency
	}
	if from.Position != to.Position {
		d.Fields |= ControllerFieldPosition
		d.Position = to.Position
	}
	if from.Range != to.Range {
		d.Fields |= ControllerFieldRange
		d.Range = to.Range
	}
	if !slices.Equal(from.RadarAntennae, to.RadarAntennae) {
		d.Fields |= ControllerFieldRadarAntennae
		d.RadarAntennae = to.RadarAntennae
	}
	return d
}
