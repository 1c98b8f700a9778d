// wire/id.go
// Copyright(c) 2024-2026 atctrainer contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package wire defines the message schema shared by the hub, the
// simulation engine, and clients: tagged network message envelopes,
// the Aircraft/Controller entity types and their delta representation,
// and the merge algebra used to apply partial updates.
package wire

import (
	"github.com/google/uuid"
)

// Id is a 128-bit identifier used for aircraft, controllers, sessions,
// and channels. It marshals to and from JSON as the canonical
// hex-with-dashes UUID string.
type Id uuid.UUID

// NewId returns a random Id.
func NewId() Id {
	return Id(uuid.New())
}

// NilId is the zero Id, used as a sentinel for "no entity".
var NilId = Id(uuid.Nil)

func (id Id) String() string {
	return uuid.UUID(id).String()
}

func (id Id) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *Id) UnmarshalText(b []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalText(b); err != nil {
		return err
	}
	*id = Id(u)
	return nil
}

// ParseId parses the canonical hex-with-dashes representation of an Id.
func ParseId(s string) (Id, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Id{}, err
	}
	return Id(u), nil
}
