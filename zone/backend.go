package zone

import (
	"slices"
	"sync"
	"time"
)

// NopBackend discards every event.
type NopBackend struct{}

func (NopBackend) AllocSourceLocation(uint64, SourceLocation) {}
func (NopBackend) ZoneBegin(uint64, uint64)                   {}
func (NopBackend) ZoneEnd(uint64)                             {}
func (NopBackend) ZoneText(uint64, string)                    {}
func (NopBackend) ZoneName(uint64, string)                    {}
func (NopBackend) ZoneColor(uint64, uint32)                   {}
func (NopBackend) Plot(string, float64)                       {}

// EventKind identifies a zone event.
type EventKind uint8

const (
	EventSourceLocation EventKind = iota + 1
	EventZoneBegin
	EventZoneEnd
	EventZoneText
	EventZoneName
	EventZoneColor
	EventPlot
)

// Event is one backend call, as recorded by RecordingBackend and StreamBackend.
type Event struct {
	Kind EventKind `msgpack:"k"`
	// Time is nanoseconds since the backend was created.
	Time     int64           `msgpack:"t"`
	Zone     uint64          `msgpack:"z,omitempty"`
	SrcLoc   uint64          `msgpack:"s,omitempty"`
	Location *SourceLocation `msgpack:"loc,omitempty"`
	Text     string          `msgpack:"x,omitempty"`
	Color    uint32          `msgpack:"c,omitempty"`
	Value    float64         `msgpack:"v,omitempty"`
}

// eventSink adapts a function receiving events into a Backend.
type eventSink struct {
	start time.Time
	emit  func(Event)
}

func (s eventSink) send(ev Event) {
	ev.Time = time.Since(s.start).Nanoseconds()
	s.emit(ev)
}

func (s eventSink) AllocSourceLocation(id uint64, loc SourceLocation) {
	s.send(Event{Kind: EventSourceLocation, SrcLoc: id, Location: &loc})
}

func (s eventSink) ZoneBegin(zone, srcLoc uint64) {
	s.send(Event{Kind: EventZoneBegin, Zone: zone, SrcLoc: srcLoc})
}

func (s eventSink) ZoneEnd(zone uint64) {
	s.send(Event{Kind: EventZoneEnd, Zone: zone})
}

func (s eventSink) ZoneText(zone uint64, text string) {
	s.send(Event{Kind: EventZoneText, Zone: zone, Text: text})
}

func (s eventSink) ZoneName(zone uint64, name string) {
	s.send(Event{Kind: EventZoneName, Zone: zone, Text: name})
}

func (s eventSink) ZoneColor(zone uint64, color uint32) {
	s.send(Event{Kind: EventZoneColor, Zone: zone, Color: color})
}

func (s eventSink) Plot(name string, value float64) {
	s.send(Event{Kind: EventPlot, Text: name, Value: value})
}

// RecordingBackend keeps every event in memory.
type RecordingBackend struct {
	eventSink
	mu     sync.Mutex
	events []Event
}

// NewRecordingBackend returns an empty RecordingBackend.
func NewRecordingBackend() *RecordingBackend {
	r := &RecordingBackend{}
	r.eventSink = eventSink{start: time.Now(), emit: r.record}
	return r
}

func (r *RecordingBackend) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events in arrival order.
func (r *RecordingBackend) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.events)
}

// Reset drops the recorded events.
func (r *RecordingBackend) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = nil
}
