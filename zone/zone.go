// Package zone is the runtime side of woven modules: every instrumented method opens a zone with BeginZone on entry
// and closes it with EndZone before returning. Zones are forwarded to a process wide Backend.
package zone

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// SourceLocation identifies the code a zone measures. Equal locations share one backend allocation.
type SourceLocation struct {
	Name     string `msgpack:"n,omitempty"`
	Function string `msgpack:"fn"`
	File     string `msgpack:"f"`
	Line     uint32 `msgpack:"l"`
	Color    uint32 `msgpack:"c,omitempty"`
}

// Backend receives zone events. Implementations must be safe for concurrent use.
type Backend interface {
	// AllocSourceLocation announces a source location before any zone references it.
	AllocSourceLocation(id uint64, loc SourceLocation)
	ZoneBegin(zone, srcLoc uint64)
	ZoneEnd(zone uint64)
	ZoneText(zone uint64, text string)
	ZoneName(zone uint64, name string)
	ZoneColor(zone uint64, color uint32)
	Plot(name string, value float64)
}

// state is the process wide binding state. Every field is guarded by mu.
type state struct {
	mu        sync.Mutex
	backend   Backend
	srcLocs   map[SourceLocation]uint64
	nextLocID uint64
}

var global state

var zoneIDs atomic.Uint64

// backendFor returns the current backend and the interned id of loc, allocating it on first use.
func (s *state) backendFor(loc SourceLocation) (Backend, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backend == nil {
		s.backend = NopBackend{}
	}
	if s.srcLocs == nil {
		s.srcLocs = make(map[SourceLocation]uint64)
	}
	id, ok := s.srcLocs[loc]
	if !ok {
		s.nextLocID++
		id = s.nextLocID
		s.srcLocs[loc] = id
		s.backend.AllocSourceLocation(id, loc)
	}
	return s.backend, id
}

func (s *state) currentBackend() Backend {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backend == nil {
		return NopBackend{}
	}
	return s.backend
}

// SetBackend routes all later zones to b and returns the previous backend. Interned source locations are dropped
// and ids restart at 1 since b has not seen them.
func SetBackend(b Backend) Backend {
	if b == nil {
		b = NopBackend{}
	}
	global.mu.Lock()
	defer global.mu.Unlock()

	prev := global.backend
	if prev == nil {
		prev = NopBackend{}
	}
	global.backend = b
	global.srcLocs = nil
	global.nextLocID = 0
	return prev
}

// Shutdown detaches the backend and releases the interned source locations. A backend implementing io.Closer is
// closed. Zones still open keep a reference to the old backend and may end after Shutdown.
func Shutdown() error {
	global.mu.Lock()
	b := global.backend
	global.backend = nil
	global.srcLocs = nil
	global.nextLocID = 0
	global.mu.Unlock()

	if c, ok := b.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Handle is an open zone returned by BeginZone.
type Handle struct {
	id      uint64
	active  bool
	backend Backend
	ended   atomic.Bool
}

// BeginZone opens a zone. Empty name and text are treated as absent. An inactive zone produces no backend events but
// must still be ended.
func BeginZone(name string, active bool, color uint32, text string, line uint32, file, member string) *Handle {
	h := &Handle{active: active}
	if !active {
		return h
	}
	backend, loc := global.backendFor(SourceLocation{
		Name:     name,
		Function: member,
		File:     file,
		Line:     line,
		Color:    color & 0xFFFFFF,
	})
	h.id = zoneIDs.Add(1)
	h.backend = backend
	backend.ZoneBegin(h.id, loc)
	if text != "" {
		backend.ZoneText(h.id, text)
	}
	return h
}

// EndZone closes the zone. It must be called exactly once per handle, a second call panics.
func EndZone(h *Handle) {
	h.End()
}

// End closes the zone, see EndZone.
func (h *Handle) End() {
	if h.ended.Swap(true) {
		panic(fmt.Sprintf("zone %d ended twice", h.id))
	} else if h.active {
		h.backend.ZoneEnd(h.id)
	}
}

// Active reports if the zone emits events.
func (h *Handle) Active() bool {
	return h.active
}

// ID returns the zone id, 0 for inactive zones.
func (h *Handle) ID() uint64 {
	return h.id
}

func (h *Handle) emitting() bool {
	return h.active && !h.ended.Load()
}

// EmitName overrides the zone name shown by the profiler.
func (h *Handle) EmitName(name string) {
	if h.emitting() {
		h.backend.ZoneName(h.id, name)
	}
}

// EmitColor overrides the zone color.
func (h *Handle) EmitColor(color uint32) {
	if h.emitting() {
		h.backend.ZoneColor(h.id, color&0xFFFFFF)
	}
}

// EmitText attaches free text to the zone.
func (h *Handle) EmitText(text string) {
	if h.emitting() {
		h.backend.ZoneText(h.id, text)
	}
}

// Plot records a named value sample.
func Plot(name string, value float64) {
	global.currentBackend().Plot(name, value)
}
