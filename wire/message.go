// wire/message.go
// Copyright(c) 2024-2026 atctrainer contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Discriminator is the single-character tag identifying a
// NetworkMessage variant on the wire.
type Discriminator byte

const (
	DiscAircraftUpdate      Discriminator = '%'
	DiscControllerUpdate    Discriminator = '@'
	DiscAuthoritativeUpdate Discriminator = '*'
	DiscTextMessage         Discriminator = '$'
	DiscChannelMessage      Discriminator = '#'
	DiscKillMessage         Discriminator = '!'
)

// ancestors lists, for each discriminator, the next discriminator to
// try decoding as if the payload doesn't parse as its own type, so a
// payload that doesn't fit its claimed shape still gets decoded as
// something rather than the whole message being dropped (a
// discriminator missing from this table goes straight to TextMessage):
// AuthoritativeUpdate is the most general
// "entity state" shape (a superset of what an AircraftUpdate or
// ControllerUpdate carries), and TextMessage is the most general
// shape of all (just an Id and a string body), so the chain bottoms
// out there before giving up.
var ancestors = map[Discriminator]Discriminator{
	DiscControllerUpdate:    DiscAircraftUpdate,
	DiscAircraftUpdate:      DiscAuthoritativeUpdate,
	DiscChannelMessage:      DiscTextMessage,
	DiscAuthoritativeUpdate: DiscTextMessage,
	DiscKillMessage:         DiscTextMessage,
}

var ErrUnrecognizedDiscriminator = errors.New("wire: unrecognized message discriminator")

// NetworkMessage is the envelope carried over every hub/server/client
// WebSocket connection: a one-byte discriminator followed by a JSON
// payload whose shape depends on the discriminator.
type NetworkMessage struct {
	Disc    Discriminator
	Payload any
}

type wireEnvelope struct {
	T Discriminator   `json:"t"`
	P json.RawMessage `json:"p"`
}

// AircraftUpdate carries a delta to one aircraft.
type AircraftUpdate struct {
	Delta AircraftDelta `json:"delta"`
}

// ControllerUpdate carries a delta to one controller.
type ControllerUpdate struct {
	Delta ControllerDelta `json:"delta"`
}

// AuthoritativeUpdate carries a full-state resync: every aircraft and
// controller currently in the sender's store.
type AuthoritativeUpdate struct {
	Aircraft    []Aircraft   `json:"aircraft"`
	Controllers []Controller `json:"controllers"`
}

// TextMessage is a point-to-point message addressed to a single
// recipient Id (a controller, typically).
type TextMessage struct {
	From Id     `json:"from"`
	To   Id     `json:"to"`
	Body string `json:"body"`
}

// ChannelMessage is broadcast to every controller tuned to the given
// frequency. Its ChannelId() (wire.Frequency.Id) is computed, not assigned, so
// every participant addresses the same channel without a directory
// lookup.
type ChannelMessage struct {
	From      Id        `json:"from"`
	Frequency Frequency `json:"frequency"`
	Body      string    `json:"body"`
}

// ChannelId returns the Id this message's frequency maps to.
func (m ChannelMessage) ChannelId() Id {
	return m.Frequency.Id()
}

// KillMessage removes an aircraft or controller from the store.
type KillMessage struct {
	Id Id `json:"id"`
}

// Encode marshals a NetworkMessage to its wire form.
func Encode(msg NetworkMessage) ([]byte, error) {
	p, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEnvelope{T: msg.Disc, P: p})
}

// Decode unmarshals a wire-form NetworkMessage. If the payload doesn't
// decode as the discriminator's own type, it walks the ancestors table,
// trying each ancestor discriminator's payload shape in turn, before
// finally falling back to TextMessage; a discriminator Decode doesn't
// recognize falls back to TextMessage directly. The returned NetworkMessage's Disc field
// always reflects the discriminator that was actually used to decode
// the payload, not the one the message claimed.
func Decode(data []byte) (NetworkMessage, error) {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return NetworkMessage{}, err
	}

	disc := env.T
	for {
		payload, err := decodePayload(disc, env.P)
		if err == nil {
			return NetworkMessage{Disc: disc, Payload: payload}, nil
		}

		next, ok := ancestors[disc]
		if !ok {
			if disc == DiscTextMessage {
				return NetworkMessage{}, fmt.Errorf("wire: %w: %q", ErrUnrecognizedDiscriminator, env.T)
			}
			disc = DiscTextMessage
			continue
		}
		disc = next
	}
}

func decodePayload(disc Discriminator, raw json.RawMessage) (any, error) {
	switch disc {
	case DiscAircraftUpdate:
		var p AircraftUpdate
		err := json.Unmarshal(raw, &p)
		return p, err
	case DiscControllerUpdate:
		var p ControllerUpdate
		err := json.Unmarshal(raw, &p)
		return p, err
	case DiscAuthoritativeUpdate:
		var p AuthoritativeUpdate
		err := json.Unmarshal(raw, &p)
		return p, err
	case DiscTextMessage:
		var p TextMessage
		err := json.Unmarshal(raw, &p)
		return p, err
	case DiscChannelMessage:
		var p ChannelMessage
		err := json.Unmarshal(raw, &p)
		return p, err
	case DiscKillMessage:
		var p KillMessage
		err := json.Unmarshal(raw, &p)
		return p, err
	default:
		return nil, fmt.Errorf("wire: %w: %q", ErrUnrecognizedDiscriminator, disc)
	}
}
