// transport/session.go
// Copyright(c) 2024-2026 atctrainer contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package transport wraps a gorilla/websocket connection with the
// framing and handshake primitives the hub, simulation engine, and
// clients all build on: dispatching received text/binary frames to
// callbacks, sending frames, a single-slot "intercept the next frame"
// future used during handshakes, and disposal with an RFC 6455 close
// code.
package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atctrainer/network/log"

	"github.com/gorilla/websocket"
)

// Close code taxonomy used throughout the hub and simulation engine.
const (
	CloseNormal              = websocket.CloseNormalClosure
	CloseEndpointUnavailable = websocket.CloseGoingAway
	CloseProtocolError       = websocket.CloseProtocolError
	CloseInvalidPayloadData  = websocket.CloseInvalidFramePayloadData
)

var writeTimeout = 10 * time.Second

// Session wraps one WebSocket connection (either side: a server
// dialing out to the hub, or the hub accepting an inbound server or
// client). A Session's Run method owns the connection's read loop and
// must be called exactly once, typically in its own goroutine; Send*
// and Dispose may be called concurrently from any goroutine.
type Session struct {
	conn *websocket.Conn
	lg   *log.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	closed   bool
	onText   func([]byte)
	onBinary func([]byte)
	onClose  func(code int, reason string)

	interceptMu     sync.Mutex
	interceptText   chan []byte
	interceptBinary chan []byte
}

// NewSession wraps an already-established *websocket.Conn. Callers set
// OnText/OnBinary/OnClose before calling Run.
func NewSession(conn *websocket.Conn, lg *log.Logger) *Session {
	return &Session{conn: conn, lg: lg}
}

// OnText registers the callback invoked for each received text frame
// that isn't claimed by a pending InterceptNextText call.
func (s *Session) OnText(f func([]byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onText = f
}

// OnBinary registers the callback invoked for each received binary
// frame that isn't claimed by a pending InterceptNextBinary call.
func (s *Session) OnBinary(f func([]byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onBinary = f
}

// OnClose registers the callback invoked once, when the read loop
// exits because the connection closed (by either side).
func (s *Session) OnClose(f func(code int, reason string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = f
}

// Run reads frames from the underlying connection until it closes,
// dispatching each to the registered callback (or a pending
// interceptor). It blocks until the connection closes and should be
// run in its own goroutine.
func (s *Session) Run() {
	defer s.lg.CatchAndReportCrash()

	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			code, reason := classifyCloseError(err)
			s.finish(code, reason)
			return
		}

		switch kind {
		case websocket.TextMessage:
			s.dispatchText(data)
		case websocket.BinaryMessage:
			s.dispatchBinary(data)
		}
	}
}

func classifyCloseError(err error) (int, string) {
	if ce, ok := err.(*websocket.CloseError); ok {
		return ce.Code, ce.Text
	}
	return CloseEndpointUnavailable, err.Error()
}

func (s *Session) finish(code int, reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	onClose := s.onClose
	s.mu.Unlock()

	s.interceptMu.Lock()
	if s.interceptText != nil {
		close(s.interceptText)
		s.interceptText = nil
	}
	if s.interceptBinary != nil {
		close(s.interceptBinary)
		s.interceptBinary = nil
	}
	s.interceptMu.Unlock()

	if onClose != nil {
		onClose(code, reason)
	}
}

func (s *Session) dispatchText(data []byte) {
	s.interceptMu.Lock()
	ch := s.interceptText
	if ch != nil {
		s.interceptText = nil
	}
	s.interceptMu.Unlock()

	if ch != nil {
		ch <- data
		close(ch)
		return
	}

	s.mu.Lock()
	f := s.onText
	s.mu.Unlock()
	if f != nil {
		f(data)
	}
}

func (s *Session) dispatchBinary(data []byte) {
	s.interceptMu.Lock()
	ch := s.interceptBinary
	if ch != nil {
		s.interceptBinary = nil
	}
	s.interceptMu.Unlock()

	if ch != nil {
		ch <- data
		close(ch)
		return
	}

	s.mu.Lock()
	f := s.onBinary
	s.mu.Unlock()
	if f != nil {
		f(data)
	}
}

// InterceptNextText arms a single-slot future that claims the very
// next text frame the read loop receives, bypassing OnText. This is
// how a handshake claims the peer's reply instead of leaving it to the
// normal dispatch loop: the hub uses it to wait for a server's
// announce, and cmd/simd to wait for the hub's ack.
//
// Only one interceptor may be armed at a time; arming a second one
// before the first fires replaces it, which the caller should avoid by
// construction (handshakes are strictly sequential).
func (s *Session) InterceptNextText(ctx context.Context) ([]byte, error) {
	ch := make(chan []byte, 1)
	s.interceptMu.Lock()
	s.interceptText = ch
	s.interceptMu.Unlock()

	select {
	case data, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("transport: session closed while awaiting frame")
		}
		return data, nil
	case <-ctx.Done():
		s.interceptMu.Lock()
		if s.interceptText == ch {
			s.interceptText = nil
		}
		s.interceptMu.Unlock()
		return nil, ctx.Err()
	}
}

// InterceptNextBinary is InterceptNextText for binary frames.
func (s *Session) InterceptNextBinary(ctx context.Context) ([]byte, error) {
	ch := make(chan []byte, 1)
	s.interceptMu.Lock()
	s.interceptBinary = ch
	s.interceptMu.Unlock()

	select {
	case data, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("transport: session closed while awaiting frame")
		}
		return data, nil
	case <-ctx.Done():
		s.interceptMu.Lock()
		if s.interceptBinary == ch {
			s.interceptBinary = nil
		}
		s.interceptMu.Unlock()
		return nil, ctx.Err()
	}
}

// SendText writes a text frame.
func (s *Session) SendText(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// SendBinary writes a binary frame.
func (s *Session) SendBinary(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Dispose sends a close frame with the given code and reason and tears
// down the underlying connection. It's safe to call more than once or
// concurrently with Run; only the first call has an effect on the wire.
func (s *Session) Dispose(code int, reason string) error {
	s.writeMu.Lock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	writeErr := s.conn.WriteMessage(websocket.CloseMessage, msg)
	s.writeMu.Unlock()

	closeErr := s.conn.Close()

	s.finish(code, reason)

	if writeErr != nil {
		return writeErr
	}
	return closeErr
}
