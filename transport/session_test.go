// transport/session_test.go
// Copyright(c) 2024-2026 atctrainer contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/atctrainer/network/log"

	"github.com/gorilla/websocket"
)

var testLogger = log.New(false, "error", "")

func newTestServer(t *testing.T, handle func(*Session)) (*httptest.Server, string) {
	t.Helper()
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		s := NewSession(conn, testLogger)
		handle(s)
		go s.Run()
	})
	srv := httptest.NewServer(mux)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	return srv, url
}

func dialClient(t *testing.T, url string) *Session {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return NewSession(conn, testLogger)
}

func TestSendTextReceivedByPeer(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)

	var received []byte
	srv, url := newTestServer(t, func(s *Session) {
		s.OnText(func(data []byte) {
			received = data
			wg.Done()
		})
	})
	defer srv.Close()

	client := dialClient(t, url)
	go client.Run()
	defer client.Dispose(CloseNormal, "")

	if err := client.SendText([]byte("hello")); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	waitOrTimeout(t, &wg)
	if string(received) != "hello" {
		t.Errorf("received = %q, want %q", received, "hello")
	}
}

func TestInterceptNextTextClaimsFrame(t *testing.T) {
	srv, url := newTestServer(t, func(s *Session) {
		go func() {
			data, err := s.InterceptNextText(context.Background())
			if err != nil {
				t.Errorf("InterceptNextText: %v", err)
				return
			}
			_ = s.SendText(append([]byte("echo:"), data...))
		}()
	})
	defer srv.Close()

	client := dialClient(t, url)
	go client.Run()
	defer client.Dispose(CloseNormal, "")

	var wg sync.WaitGroup
	wg.Add(1)
	var received []byte
	client.OnText(func(data []byte) {
		received = data
		wg.Done()
	})

	if err := client.SendText([]byte("hi")); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	waitOrTimeout(t, &wg)
	if string(received) != "echo:hi" {
		t.Errorf("received = %q, want %q", received, "echo:hi")
	}
}

func TestInterceptNextTextTimesOut(t *testing.T) {
	serverSessions := make(chan *Session, 1)
	srv, url := newTestServer(t, func(s *Session) {
		serverSessions <- s
	})
	defer srv.Close()

	client := dialClient(t, url)
	go client.Run()
	defer client.Dispose(CloseNormal, "")

	srvSession := <-serverSessions

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := srvSession.InterceptNextText(ctx)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestDisposeSendsCloseCode(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	var gotCode int

	srv, url := newTestServer(t, func(s *Session) {
		s.OnClose(func(code int, reason string) {
			gotCode = code
			wg.Done()
		})
	})
	defer srv.Close()

	client := dialClient(t, url)
	go client.Run()

	if err := client.Dispose(CloseEndpointUnavailable, "server gone"); err != nil {
		t.Fatalf("Dispose: %v", err)
	}

	waitOrTimeout(t, &wg)
	if gotCode != CloseEndpointUnavailable {
		t.Errorf("close code = %d, want %d", gotCode, CloseEndpointUnavailable)
	}
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
	}
}
