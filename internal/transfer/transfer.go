package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bigbag/uartl/internal/protocol"
)

// ProgressCallback is called to report transfer progress.
type ProgressCallback func(current, total int)

// FrameSender sends one frame. *uartl.Link implements it.
type FrameSender interface {
	Send(p []byte, timeout time.Duration) error
}

// FrameWaiter blocks for the next frame. *uartl.Link implements it.
type FrameWaiter interface {
	Wait(ctx context.Context, p []byte) (int, error)
}

// Sender splits data into frames and sends them over a link.
type Sender struct {
	link      FrameSender
	chunkSize int
	timeout   time.Duration
	gap       time.Duration
	progress  ProgressCallback
}

// NewSender creates a Sender that sends frames of at most chunkSize bytes.
func NewSender(link FrameSender, chunkSize int, timeout time.Duration) *Sender {
	return &Sender{
		link:      link,
		chunkSize: chunkSize,
		timeout:   timeout,
	}
}

// SetProgressCallback sets the progress callback function.
func (s *Sender) SetProgressCallback(cb ProgressCallback) {
	s.progress = cb
}

// SetGap sets a pause between frames. The receiving side holds a single
// frame, so the peer needs time to drain it before the next one lands.
func (s *Sender) SetGap(gap time.Duration) {
	s.gap = gap
}

// reportProgress calls the progress callback if set.
func (s *Sender) reportProgress(current, total int) {
	if s.progress != nil {
		s.progress(current, total)
	}
}

// CalculateChunks returns the number of frames needed for size bytes.
func CalculateChunks(size, chunkSize int) int {
	if size == 0 {
		return 0
	}
	return (size + chunkSize - 1) / chunkSize
}

// Send sends data as a sequence of frames. Every chunk is checked for the
// escape byte before anything is sent.
func (s *Sender) Send(ctx context.Context, data []byte) error {
	if s.chunkSize <= 0 {
		return fmt.Errorf("invalid chunk size %d", s.chunkSize)
	}
	if err := protocol.ValidatePayload(data); err != nil {
		return err
	}

	total := CalculateChunks(len(data), s.chunkSize)
	for seq := 0; seq < total; seq++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := seq * s.chunkSize
		end := start + s.chunkSize
		if end > len(data) {
			end = len(data)
		}

		if err := s.link.Send(data[start:end], s.timeout); err != nil {
			return fmt.Errorf("frame %d failed: %w", seq, err)
		}
		s.reportProgress(seq+1, total)

		if s.gap > 0 && seq+1 < total {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.gap):
			}
		}
	}

	return nil
}

// Sink writes received frames to an io.Writer.
type Sink struct {
	link   FrameWaiter
	w      io.Writer
	buf    []byte
	frames int
	bytes  int64
}

// NewSink creates a Sink reading frames of up to bufSize bytes.
func NewSink(link FrameWaiter, w io.Writer, bufSize int) *Sink {
	return &Sink{
		link: link,
		w:    w,
		buf:  make([]byte, bufSize),
	}
}

// Frames returns the number of frames written so far.
func (s *Sink) Frames() int {
	return s.frames
}

// Bytes returns the number of payload bytes written so far.
func (s *Sink) Bytes() int64 {
	return s.bytes
}

// Run writes frames until ctx is done or the writer fails.
func (s *Sink) Run(ctx context.Context) error {
	return s.copy(ctx, -1)
}

// CopyN writes frames until n bytes have been written.
func (s *Sink) CopyN(ctx context.Context, n int64) error {
	return s.copy(ctx, n)
}

func (s *Sink) copy(ctx context.Context, limit int64) error {
	for limit < 0 || s.bytes < limit {
		n, err := s.link.Wait(ctx, s.buf)
		if err != nil {
			if errors.Is(err, context.Canceled) && limit < 0 {
				return nil
			}
			return fmt.Errorf("waiting for frame %d: %w", s.frames, err)
		}

		if _, err := s.w.Write(s.buf[:n]); err != nil {
			return fmt.Errorf("failed to write frame %d: %w", s.frames, err)
		}
		s.frames++
		s.bytes += int64(n)
	}
	return nil
}
