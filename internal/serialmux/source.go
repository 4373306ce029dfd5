package serialmux

import (
	"errors"
	"io"
	"sync"
)

// DefaultPendingLimit bounds the bytes held between processing cycles.
const DefaultPendingLimit = 1 << 20

// SourceStats reports ByteSource counters.
type SourceStats struct {
	Received uint64 `json:"received"`
	Dropped  uint64 `json:"dropped"`
	Pending  int    `json:"pending"`
}

// ByteSource drains a blocking port on a background goroutine so that the
// processing cycle can poll it without blocking. Available and Read only
// touch the in-memory buffer.
type ByteSource struct {
	mu      sync.Mutex
	pending []byte
	limit   int
	stats   SourceStats
	gap     bool
	err     error
	done    chan struct{}
	onData  func([]byte)
}

// NewByteSource starts reading r. onData, if non-nil, is called from the
// reader goroutine with every chunk received; it must not retain the slice.
func NewByteSource(r io.Reader, limit int, onData func([]byte)) *ByteSource {
	if limit <= 0 {
		limit = DefaultPendingLimit
	}
	s := &ByteSource{
		limit:  limit,
		done:   make(chan struct{}),
		onData: onData,
	}
	go s.run(r)
	return s
}

func (s *ByteSource) run(r io.Reader) {
	defer close(s.done)
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			s.mu.Lock()
			s.pending = append(s.pending, chunk[:n]...)
			s.stats.Received += uint64(n)
			if over := len(s.pending) - s.limit; over > 0 {
				// keep the newest bytes and flag the gap for ReadGap
				s.pending = s.pending[:copy(s.pending, s.pending[over:])]
				s.stats.Dropped += uint64(over)
				s.gap = true
			}
			s.mu.Unlock()
			if s.onData != nil {
				s.onData(chunk[:n])
			}
		}
		if err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			return
		}
	}
}

// Available returns the number of bytes that Read returns without blocking.
func (s *ByteSource) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Read copies buffered bytes into p. It never blocks. Once the reader has
// stopped and the buffer is empty, Read returns the reader's error.
func (s *ByteSource) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(p)
}

// ReadGap is Read that also reports whether older bytes were dropped since
// the previous ReadGap. Dropped bytes always precede the bytes returned, so
// the first returned line may be a fragment.
func (s *ByteSource) ReadGap(p []byte) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gap := s.gap
	s.gap = false
	n, err := s.readLocked(p)
	return n, gap, err
}

func (s *ByteSource) readLocked(p []byte) (int, error) {
	if len(s.pending) == 0 {
		if s.err != nil {
			return 0, s.err
		}
		return 0, nil
	}
	n := copy(p, s.pending)
	s.pending = s.pending[:copy(s.pending, s.pending[n:])]
	return n, nil
}

// Discard drops every buffered byte and returns how many were dropped.
func (s *ByteSource) Discard() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.pending)
	s.pending = s.pending[:0]
	s.gap = false
	return n
}

// Done is closed when the reader goroutine exits.
func (s *ByteSource) Done() <-chan struct{} { return s.done }

// Err returns the error that stopped the reader, or nil while it runs or
// when the port was closed cleanly.
func (s *ByteSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if errors.Is(s.err, io.EOF) {
		return nil
	}
	return s.err
}

// Stats returns a snapshot of the source counters.
func (s *ByteSource) Stats() SourceStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Pending = len(s.pending)
	return st
}
