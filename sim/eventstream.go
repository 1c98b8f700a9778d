// sim/eventstream.go
// Copyright(c) 2024-2026 atctrainer contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"fmt"
	"log/slog"
	"maps"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/atctrainer/network/log"
	"github.com/atctrainer/network/wire"
)

// EventStream is a pub/sub broadcaster for store and pump state changes:
// the push/subscribe alternative to a polling API, since external
// observers (a plugin, a metrics exporter) need to react to aircraft/controller lifecycle and plugin
// load events without hammering the store with a poll loop.
type EventStream struct {
	mu            sync.Mutex
	events        []Event
	subscriptions map[*EventsSubscription]struct{}
	lastPost      time.Time
	warnedLong    bool
	done          chan struct{}
	lg            *log.Logger
}

type EventsSubscription struct {
	stream      *EventStream
	offset      int
	source      string
	lastGet     time.Time
	warnedNoGet bool
}

func (e *EventsSubscription) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("offset", e.offset),
		slog.String("source", e.source),
		slog.Time("last_get", e.lastGet))
}

func NewEventStream(lg *log.Logger) *EventStream {
	es := &EventStream{
		subscriptions: make(map[*EventsSubscription]struct{}),
		lastPost:      time.Now(),
		done:          make(chan struct{}),
		lg:            lg,
	}
	go es.monitor()
	return es
}

// Subscribe registers a new subscriber to the stream.
func (e *EventStream) Subscribe() *EventsSubscription {
	_, fn, line, _ := runtime.Caller(1)
	source := fmt.Sprintf("%s:%d", fn, line)

	e.mu.Lock()
	defer e.mu.Unlock()

	sub := &EventsSubscription{
		stream:  e,
		offset:  len(e.events),
		source:  source,
		lastGet: time.Now(),
	}
	e.subscriptions[sub] = struct{}{}
	return sub
}

func (e *EventStream) monitor() {
	tick := time.NewTicker(5 * time.Second)
	defer tick.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-tick.C:
		}

		e.mu.Lock()
		e.compact()

		if len(e.events) > 1000 && !e.warnedLong {
			e.lg.Warn("long event stream", slog.Int("length", len(e.events)),
				log.AnyPointerSlice("subscriptions", slices.Collect(maps.Keys(e.subscriptions))))
			e.warnedLong = true
		}

		if time.Since(e.lastPost) < 5*time.Second {
			for sub := range e.subscriptions {
				if d := time.Since(sub.lastGet); d > 10*time.Second && !sub.warnedNoGet {
					e.lg.Warn("subscriber has not called Get recently",
						slog.Duration("duration", d), slog.Any("subscriber", sub))
					sub.warnedNoGet = true
				}
			}
		}
		e.mu.Unlock()
	}
}

func (e *EventsSubscription) Unsubscribe() {
	e.stream.mu.Lock()
	defer e.stream.mu.Unlock()

	if _, ok := e.stream.subscriptions[e]; !ok {
		e.stream.lg.Errorf("unsubscribe of unregistered subscription: %+v", e)
	}
	delete(e.stream.subscriptions, e)
	e.stream = nil
}

// Post adds an event to the stream. It's a no-op with respect to
// storage if nobody's subscribed, so posting costs nothing when no
// observer cares.
func (e *EventStream) Post(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lg.Debug("posted event", slog.Any("event", event))

	if len(e.subscriptions) > 0 {
		e.lastPost = time.Now()
		e.events = append(e.events, event)
	}
}

func (e *EventsSubscription) Get() []Event {
	e.stream.mu.Lock()
	defer e.stream.mu.Unlock()

	if _, ok := e.stream.subscriptions[e]; !ok {
		e.stream.lg.Errorf("Get on unregistered subscription: %+v", e)
		return nil
	}

	events := slices.Clone(e.stream.events[e.offset:])
	e.offset = len(e.stream.events)
	e.lastGet = time.Now()
	e.warnedNoGet = false
	return events
}

func (e *EventStream) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()

	close(e.done)
	clear(e.subscriptions)
}

func (e *EventStream) compact() {
	minOffset := len(e.events)
	for sub := range e.subscriptions {
		if sub.offset < minOffset {
			minOffset = sub.offset
		}
	}

	if minOffset > cap(e.events)/2 {
		n := len(e.events) - minOffset
		copy(e.events, e.events[minOffset:])
		e.events = e.events[:n]
		for sub := range e.subscriptions {
			sub.offset -= minOffset
		}
		e.warnedLong = false
	}
}

///////////////////////////////////////////////////////////////////////////

type EventType int

const (
	AircraftAddedEvent EventType = iota
	AircraftUpdatedEvent
	AircraftRemovedEvent
	ControllerAddedEvent
	ControllerUpdatedEvent
	ControllerRemovedEvent
	PluginsChangedEvent
	ResyncBroadcastEvent
)

func (t EventType) String() string {
	return [...]string{
		"AircraftAdded", "AircraftUpdated", "AircraftRemoved",
		"ControllerAdded", "ControllerUpdated", "ControllerRemoved",
		"PluginsChanged", "ResyncBroadcast",
	}[t]
}

// Event is one entry on the sim's EventStream.
type Event struct {
	Type       EventType
	EntityId   wire.Id
	PluginName string
}

func (e Event) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("type", e.Type.String())}
	if e.EntityId != wire.NilId {
		attrs = append(attrs, slog.String("entity_id", e.EntityId.String()))
	}
	if e.PluginName != "" {
		attrs = append(attrs, slog.String("plugin", e.PluginName))
	}
	return slog.GroupValue(attrs...)
}
