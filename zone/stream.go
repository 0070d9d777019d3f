package zone

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/klauspost/compress/s2"
	"github.com/vmihailenco/msgpack/v5"
)

// StreamBackend encodes events as msgpack into an s2 compressed stream, for offline conversion into a profiler
// capture.
type StreamBackend struct {
	eventSink
	mu     sync.Mutex
	zw     *s2.Writer
	enc    *msgpack.Encoder
	err    error
	closed bool
}

var errStreamClosed = errors.New("stream closed")

// NewStreamBackend writes events to w. Close must be called to flush the stream, it does not close w.
func NewStreamBackend(w io.Writer) *StreamBackend {
	zw := s2.NewWriter(w)
	s := &StreamBackend{zw: zw, enc: msgpack.NewEncoder(zw)}
	s.eventSink = eventSink{start: time.Now(), emit: s.write}
	return s
}

func (s *StreamBackend) write(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err == nil {
		s.err = s.enc.Encode(&ev)
	}
}

// Err returns the first write error.
func (s *StreamBackend) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

// Close flushes the stream.
func (s *StreamBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	err := errors.Join(s.err, s.zw.Close())
	if s.err == nil {
		s.err = errStreamClosed
	}
	return err
}

// ReadStream decodes every event of a stream written by StreamBackend.
func ReadStream(r io.Reader) ([]Event, error) {
	dec := msgpack.NewDecoder(s2.NewReader(r))
	var events []Event
	for {
		var ev Event
		if err := dec.Decode(&ev); errors.Is(err, io.EOF) {
			return events, nil
		} else if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}
