package uartl

import "sync/atomic"

// slot is the single-frame handoff between the receiver loop (producer)
// and Receive (consumer). The sign of status carries the slot state:
//
//	status == 0  empty
//	status <  0  a frame is being assembled, -status bytes written so far
//	status >  0  a complete frame of status bytes is ready
//
// The producer only writes status while it is <= 0, the consumer only
// while it is > 0, so no lock is needed.
type slot struct {
	buf    []byte
	status atomic.Int64

	// dropping is the overflow flag. Owned by the receiver loop.
	dropping bool
}

// put appends one payload byte to the frame in progress. It returns true
// when this byte caused the frame to be abandoned.
func (s *slot) put(b byte) bool {
	if s.dropping {
		return false
	}

	n := s.status.Load()
	if n == -int64(len(s.buf)) || n > 0 {
		// Full, or the last frame has not been read yet. An unread frame
		// is left alone; only a partial frame is thrown away.
		s.dropping = true
		if n < 0 {
			s.status.Store(0)
		}
		return true
	}

	s.buf[-n] = b
	s.status.Store(n - 1)
	return false
}

// finish publishes the frame in progress and returns its size.
// Zero means nothing was published.
func (s *slot) finish() int {
	if s.dropping {
		s.dropping = false
		return 0
	}

	n := s.status.Load()
	if n >= 0 {
		return 0
	}
	s.status.Store(-n)
	return int(-n)
}

// reset discards a partial frame and clears the overflow flag.
func (s *slot) reset() {
	if s.status.Load() < 0 {
		s.status.Store(0)
	}
	s.dropping = false
}

// take copies a ready frame into p and empties the slot.
func (s *slot) take(p []byte) (int, error) {
	n := s.status.Load()
	if n <= 0 {
		return 0, ErrNoData
	}
	if n > int64(len(p)) {
		return 0, ErrTooBig
	}

	copy(p, s.buf[:n])
	s.status.Store(0)
	return int(n), nil
}
