// hub/directory.go
// Copyright(c) 2024-2026 atctrainer contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package hub

import (
	"log/slog"
	"slices"
	"time"

	"github.com/atctrainer/network/log"
	"github.com/atctrainer/network/transport"
	"github.com/atctrainer/network/util"
	"github.com/atctrainer/network/wire"
)

// ServerInfo is the directory entry returned by GET /servers.
type ServerInfo struct {
	Id       wire.Id   `json:"id"`
	Name     string    `json:"name"`
	Location string    `json:"location,omitempty"`
	IdleTime float64   `json:"idle_seconds"`
	Clients  int       `json:"clients"`
	JoinedAt time.Time `json:"joined_at"`
}

// serverEntry is the hub's live state for one connected server: its
// session, the set of clients currently attached to it, and the
// bookkeeping needed for the directory listing and idle reporting.
type serverEntry struct {
	id       wire.Id
	name     string
	location string
	session  *transport.Session
	joinedAt time.Time

	clientsMu util.LoggingMutex
	clients   map[wire.Id]*transport.Session
	lastRX    time.Time
}

func (se *serverEntry) touch(lg *log.Logger) {
	se.clientsMu.Lock(lg)
	se.lastRX = time.Now()
	se.clientsMu.Unlock(lg)
}

func newServerEntry(id wire.Id, name, location string, session *transport.Session) *serverEntry {
	return &serverEntry{
		id:       id,
		name:     name,
		location: location,
		session:  session,
		joinedAt: time.Now(),
		clients:  make(map[wire.Id]*transport.Session),
		lastRX:   time.Now(),
	}
}

func (se *serverEntry) info(lg *log.Logger) ServerInfo {
	se.clientsMu.Lock(lg)
	n := len(se.clients)
	lastRX := se.lastRX
	se.clientsMu.Unlock(lg)

	return ServerInfo{
		Id:       se.id,
		Name:     se.name,
		Location: se.location,
		IdleTime: time.Since(lastRX).Seconds(),
		Clients:  n,
		JoinedAt: se.joinedAt,
	}
}

// attachClient adds a client session to this server's fan-out set.
func (se *serverEntry) attachClient(lg *log.Logger, clientId wire.Id, s *transport.Session) {
	se.clientsMu.Lock(lg)
	se.clients[clientId] = s
	se.clientsMu.Unlock(lg)
}

func (se *serverEntry) detachClient(lg *log.Logger, clientId wire.Id) {
	se.clientsMu.Lock(lg)
	delete(se.clients, clientId)
	se.clientsMu.Unlock(lg)
}

// broadcastText fans a frame from the server out to every attached
// client. Each send runs in its own goroutine so one slow or wedged
// client can't stall delivery to the rest of the tick's recipients.
func (se *serverEntry) broadcastText(lg *log.Logger, data []byte) {
	se.clientsMu.Lock(lg)
	targets := make([]*transport.Session, 0, len(se.clients))
	for _, s := range se.clients {
		targets = append(targets, s)
	}
	se.clientsMu.Unlock(lg)

	for _, s := range targets {
		go func(s *transport.Session) {
			if err := s.SendText(data); err != nil {
				lg.Debugf("broadcast to client failed: %v", err)
			}
		}(s)
	}
}

// broadcastBinary is broadcastText for binary frames (msgpack-framed
// static-data pushes), same fan-out-without-blocking treatment.
func (se *serverEntry) broadcastBinary(lg *log.Logger, data []byte) {
	se.clientsMu.Lock(lg)
	targets := make([]*transport.Session, 0, len(se.clients))
	for _, s := range se.clients {
		targets = append(targets, s)
	}
	se.clientsMu.Unlock(lg)

	for _, s := range targets {
		go func(s *transport.Session) {
			if err := s.SendBinary(data); err != nil {
				lg.Debugf("broadcast to client failed: %v", err)
			}
		}(s)
	}
}

func (se *serverEntry) disposeAllClients(lg *log.Logger, code int, reason string) {
	se.clientsMu.Lock(lg)
	targets := make([]*transport.Session, 0, len(se.clients))
	for _, s := range se.clients {
		targets = append(targets, s)
	}
	se.clients = make(map[wire.Id]*transport.Session)
	se.clientsMu.Unlock(lg)

	for _, s := range targets {
		_ = s.Dispose(code, reason)
	}
}

///////////////////////////////////////////////////////////////////////////
// Hub-level directory operations

// addServer registers a newly-announced server and returns its entry.
func (h *Hub) addServer(id wire.Id, name, location string, session *transport.Session) *serverEntry {
	entry := newServerEntry(id, name, location, session)

	h.mu.Lock(h.lg)
	h.byId[id] = entry
	h.mu.Unlock(h.lg)

	h.lg.Info("server joined", slog.String("id", id.String()), slog.String("name", name))
	return entry
}

// removeServer drops a server from the directory and disposes every
// client attached to it with an endpoint-unavailable close code,
// satisfying the invariant that the directory never lists a server
// whose connection has closed.
func (h *Hub) removeServer(id wire.Id) {
	h.mu.Lock(h.lg)
	entry, ok := h.byId[id]
	if ok {
		delete(h.byId, id)
	}
	h.mu.Unlock(h.lg)

	if !ok {
		return
	}

	h.lg.Info("server left", slog.String("id", id.String()))
	entry.disposeAllClients(h.lg, transport.CloseEndpointUnavailable, "server disconnected")
}

func (h *Hub) lookupServer(id wire.Id) (*serverEntry, bool) {
	h.mu.Lock(h.lg)
	defer h.mu.Unlock(h.lg)
	entry, ok := h.byId[id]
	return entry, ok
}

// listServers returns the directory sorted by join order for stable
// output across requests.
func (h *Hub) listServers() []ServerInfo {
	h.mu.Lock(h.lg)
	entries := make([]*serverEntry, 0, len(h.byId))
	for _, e := range h.byId {
		entries = append(entries, e)
	}
	h.mu.Unlock(h.lg)

	slices.SortFunc(entries, func(a, b *serverEntry) int { return a.joinedAt.Compare(b.joinedAt) })

	infos := make([]ServerInfo, len(entries))
	for i, e := range entries {
		infos[i] = e.info(h.lg)
	}
	return infos
}
