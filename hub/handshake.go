// hub/handshake.go
// Copyright(c) 2024-2026 atctrainer contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/atctrainer/network/transport"
	"github.com/atctrainer/network/wire"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const handshakeTimeout = 5 * time.Second

// serverAnnounce is the JSON frame a server sends immediately after its
// WebSocket handshake with the hub completes, identifying itself for
// the directory. It isn't part of the wire package's NetworkMessage
// union: it's hub/server protocol, not something ever relayed to a
// client.
type serverAnnounce struct {
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
}

// serverAnnounceAck is the hub's reply, assigning the session id the
// server is addressed by for the lifetime of the connection.
type serverAnnounceAck struct {
	Id wire.Id `json:"id"`
}

// handleServerConnect implements WS /connect: a server dials in,
// announces itself, and is added to the live directory.
func (h *Hub) handleServerConnect(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.lg.Debugf("server upgrade failed: %v", err)
		return
	}

	session := transport.NewSession(conn, h.lg)
	go session.Run()

	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	defer cancel()

	frame, err := session.InterceptNextText(ctx)
	if err != nil {
		_ = session.Dispose(transport.CloseProtocolError, "announce timed out")
		return
	}

	var announce serverAnnounce
	if err := json.Unmarshal(frame, &announce); err != nil || announce.Name == "" {
		_ = session.Dispose(transport.CloseInvalidPayloadData, ErrServerNameRequired.Error())
		return
	}

	id := wire.NewId()
	ack, err := json.Marshal(serverAnnounceAck{Id: id})
	if err != nil {
		_ = session.Dispose(transport.CloseProtocolError, "internal error")
		return
	}

	entry := h.addServer(id, announce.Name, announce.Location, session)
	session.OnText(func(data []byte) { h.relayFromServer(entry, data) })
	session.OnBinary(func(data []byte) { entry.broadcastBinary(h.lg, data) })
	session.OnClose(func(code int, reason string) { h.removeServer(id) })

	if err := session.SendText(ack); err != nil {
		h.removeServer(id)
	}
}

// clientAttachAck is the hub's reply once a client's WS
// /connect/{serverId} handshake succeeds.
type clientAttachAck struct {
	ClientId wire.Id `json:"client_id"`
	ServerId wire.Id `json:"server_id"`
}

// handleClientConnect implements WS /connect/{serverId}: a client
// attaches to a running server's session.
func (h *Hub) handleClientConnect(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/connect/")
	serverId, err := wire.ParseId(idStr)
	if err != nil {
		http.Error(w, "malformed server id", http.StatusBadRequest)
		return
	}

	entry, ok := h.lookupServer(serverId)
	if !ok {
		http.Error(w, ErrUnknownServer.Error(), http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.lg.Debugf("client upgrade failed: %v", err)
		return
	}

	session := transport.NewSession(conn, h.lg)
	clientId := wire.NewId()

	ack, err := json.Marshal(clientAttachAck{ClientId: clientId, ServerId: serverId})
	if err != nil {
		_ = session.Dispose(transport.CloseProtocolError, "internal error")
		return
	}

	entry.attachClient(h.lg, clientId, session)

	session.OnText(func(data []byte) { h.relayFromClient(entry, session, data) })
	session.OnBinary(func(data []byte) { _ = entry.session.SendBinary(data) })
	session.OnClose(func(code int, reason string) { entry.detachClient(h.lg, clientId) })

	go session.Run()

	if err := session.SendText(ack); err != nil {
		entry.detachClient(h.lg, clientId)
	}
}
