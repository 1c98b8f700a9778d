// plugin/external.go
// Copyright(c) 2024-2026 atctrainer contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package plugin

import (
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/atctrainer/network/log"
	"github.com/atctrainer/network/wire"
)

// externalRequest is one line sent to a discovered plugin executable's
// stdin. Exactly one of Text or Tick is set.
type externalRequest struct {
	Text *externalTextRequest `json:"text,omitempty"`
	Tick *externalTickRequest `json:"tick,omitempty"`
}

type externalTextRequest struct {
	Aircraft wire.Id `json:"aircraft"`
	Body     string  `json:"body"`
}

type externalTickRequest struct {
	Now time.Time `json:"now"`
}

// externalResponse is one line read back from a discovered plugin's
// stdout after a request.
type externalResponse struct {
	Errors []string `json:"errors,omitempty"`
}

// externalPlugin bridges the Plugin contract to a discovered executable
// over a newline-delimited JSON stdin/stdout pipe, the same shape the
// teacher's own PluginPane uses for its GUI-hosted plugins, generalized
// here to the server-side contract (metadata, text handler, tick hook)
// instead of draw commands.
type externalPlugin struct {
	path string
	meta Metadata
	lg   *log.Logger

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	encoder *json.Encoder
	decoder *json.Decoder
}

func launchExternalPlugin(path string, meta Metadata, lg *log.Logger, args ...string) (*externalPlugin, error) {
	ep := &externalPlugin{path: path, meta: meta, lg: lg}

	ep.cmd = exec.Command(path, args...)
	var err error
	if ep.stdin, err = ep.cmd.StdinPipe(); err != nil {
		return nil, fmt.Errorf("plugin: %s: stdin pipe: %w", path, err)
	}
	if ep.stdout, err = ep.cmd.StdoutPipe(); err != nil {
		ep.stdin.Close()
		return nil, fmt.Errorf("plugin: %s: stdout pipe: %w", path, err)
	}
	ep.encoder = json.NewEncoder(ep.stdin)
	ep.decoder = json.NewDecoder(ep.stdout)

	if err := ep.cmd.Start(); err != nil {
		ep.stdin.Close()
		ep.stdout.Close()
		return nil, fmt.Errorf("plugin: %s: start: %w", path, err)
	}
	return ep, nil
}

func (ep *externalPlugin) Metadata() Metadata { return ep.meta }

func (ep *externalPlugin) HandleText(aircraft wire.Id, body string) {
	ep.roundTrip(externalRequest{Text: &externalTextRequest{Aircraft: aircraft, Body: body}})
}

func (ep *externalPlugin) Tick(now time.Time) {
	ep.roundTrip(externalRequest{Tick: &externalTickRequest{Now: now}})
}

func (ep *externalPlugin) roundTrip(req externalRequest) {
	if err := ep.encoder.Encode(req); err != nil {
		ep.lg.Errorf("%s: encode: %v", ep.path, err)
		return
	}
	var resp externalResponse
	if err := ep.decoder.Decode(&resp); err != nil {
		ep.lg.Errorf("%s: decode: %v", ep.path, err)
		return
	}
	for _, e := range resp.Errors {
		ep.lg.Warnf("%s: %s", ep.path, e)
	}
}

func (ep *externalPlugin) kill() {
	if ep.cmd == nil || ep.cmd.Process == nil {
		return
	}
	ep.stdin.Close()
	ep.stdout.Close()
	if err := ep.cmd.Process.Kill(); err != nil {
		ep.lg.Errorf("%s: kill: %v", ep.path, err)
	}
}
