// hub/relay.go
// Copyright(c) 2024-2026 atctrainer contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package hub

import (
	"github.com/atctrainer/network/transport"
	"github.com/atctrainer/network/wire"
)

// relayFromServer validates that data is a well-formed wire envelope —
// the hub's only look inside the frame, to satisfy the invalid-payload
// close code taxonomy — then fans it out to every attached client
// unchanged. It never re-encodes the message: the discriminator and
// payload a client sees are exactly what the server sent.
func (h *Hub) relayFromServer(entry *serverEntry, data []byte) {
	entry.touch(h.lg)

	if _, err := wire.Decode(data); err != nil {
		h.lg.Debugf("malformed frame from server %s: %v", entry.id, err)
		_ = entry.session.Dispose(transport.CloseInvalidPayloadData, wire.ErrMalformedEnvelope.Error())
		h.removeServer(entry.id)
		return
	}

	entry.broadcastText(h.lg, data)
}

// relayFromClient validates and forwards a client frame to its
// server. Clients may send controller updates, instructions, text, and
// channel messages; whether a given discriminator is actually legal
// from a client (aircraft/authoritative updates are not) is sim-level
// policy the hub doesn't enforce, since the hub never interprets
// payload content beyond checking it parses as *some* wire envelope.
func (h *Hub) relayFromClient(entry *serverEntry, client *transport.Session, data []byte) {
	if _, err := wire.Decode(data); err != nil {
		h.lg.Debugf("malformed frame from client: %v", err)
		_ = client.Dispose(transport.CloseInvalidPayloadData, wire.ErrMalformedEnvelope.Error())
		return
	}

	if err := entry.session.SendText(data); err != nil {
		h.lg.Debugf("relay to server failed: %v", err)
	}
}
