package transfer

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bigbag/uartl/internal/loopback"
	"github.com/bigbag/uartl/internal/protocol"
	"github.com/bigbag/uartl/internal/uartl"
)

type recordSender struct {
	frames [][]byte
	failAt int
}

func (r *recordSender) Send(p []byte, timeout time.Duration) error {
	if r.failAt > 0 && len(r.frames)+1 == r.failAt {
		return errors.New("link down")
	}
	r.frames = append(r.frames, append([]byte(nil), p...))
	return nil
}

type queueWaiter struct {
	frames [][]byte
}

func (q *queueWaiter) Wait(ctx context.Context, p []byte) (int, error) {
	if len(q.frames) == 0 {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	f := q.frames[0]
	q.frames = q.frames[1:]
	return copy(p, f), nil
}

func TestCalculateChunks(t *testing.T) {
	tests := []struct {
		size, chunk, expected int
	}{
		{0, 16, 0},
		{1, 16, 1},
		{16, 16, 1},
		{17, 16, 2},
		{100, 10, 10},
	}

	for _, tc := range tests {
		require.Equal(t, tc.expected, CalculateChunks(tc.size, tc.chunk), "CalculateChunks(%d, %d)", tc.size, tc.chunk)
	}
}

func TestSender_SplitsIntoFrames(t *testing.T) {
	rec := &recordSender{}
	s := NewSender(rec, 4, time.Second)

	var progress []int
	s.SetProgressCallback(func(current, total int) {
		require.Equal(t, 3, total)
		progress = append(progress, current)
	})

	data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	require.NoError(t, s.Send(context.Background(), data))
	require.Equal(t, [][]byte{{1, 2, 3, 4}, {5, 6, 7, 8}, {9, 10}}, rec.frames)
	require.Equal(t, []int{1, 2, 3}, progress)
}

func TestSender_RejectsEscapeByte(t *testing.T) {
	rec := &recordSender{}
	s := NewSender(rec, 4, time.Second)
	err := s.Send(context.Background(), []byte{1, 2, protocol.Esc})
	require.ErrorContains(t, err, "escape byte")
	require.Empty(t, rec.frames)
}

func TestSender_InvalidChunkSize(t *testing.T) {
	s := NewSender(&recordSender{}, 0, time.Second)
	require.Error(t, s.Send(context.Background(), []byte{1}))
}

func TestSender_FrameFailure(t *testing.T) {
	rec := &recordSender{failAt: 2}
	s := NewSender(rec, 1, time.Second)
	err := s.Send(context.Background(), []byte{1, 2, 3})
	require.ErrorContains(t, err, "frame 1 failed")
	require.Len(t, rec.frames, 1)
}

func TestSender_NotConnected(t *testing.T) {
	a, _ := loopback.NewPair(8)
	link := uartl.New(a, make([]byte, 8))
	err := NewSender(link, 4, time.Second).Send(context.Background(), []byte{1})
	require.ErrorIs(t, err, uartl.ErrNotConnected)
}

func TestSender_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := &recordSender{}
	err := NewSender(rec, 1, time.Second).Send(ctx, []byte{1, 2})
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, rec.frames)
}

func TestSink_CopyN(t *testing.T) {
	q := &queueWaiter{frames: [][]byte{{1, 2}, {3}, {4, 5, 6}}}
	var out bytes.Buffer
	sink := NewSink(q, &out, 8)

	require.NoError(t, sink.CopyN(context.Background(), 3))
	require.Equal(t, []byte{1, 2, 3}, out.Bytes())
	require.Equal(t, 2, sink.Frames())
	require.EqualValues(t, 3, sink.Bytes())
}

func TestSink_RunStopsOnCancel(t *testing.T) {
	q := &queueWaiter{frames: [][]byte{{9}}}
	var out bytes.Buffer
	sink := NewSink(q, &out, 8)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := sink.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, []byte{9}, out.Bytes())
}

func TestTransfer_OverLoopback(t *testing.T) {
	ea, eb := loopback.NewPair(256)
	a := uartl.New(ea, make([]byte, 32))
	b := uartl.New(eb, make([]byte, 32))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 2)
	go func() { done <- a.Run(ctx) }()
	go func() { done <- b.Run(ctx) }()
	defer func() {
		cancel()
		ea.Close()
		eb.Close()
		<-done
		<-done
	}()

	require.NoError(t, a.Connect(time.Second))
	require.NoError(t, b.Connect(time.Second))
	require.Eventually(t, func() bool { return a.IsConnected() && b.IsConnected() }, 2*time.Second, time.Millisecond)

	data := bytes.Repeat([]byte("0123456789abcdef"), 20)
	var out bytes.Buffer
	sink := NewSink(b, &out, 32)
	sinkDone := make(chan error, 1)
	copyCtx, copyCancel := context.WithTimeout(ctx, 5*time.Second)
	defer copyCancel()
	go func() { sinkDone <- sink.CopyN(copyCtx, int64(len(data))) }()

	sender := NewSender(a, 32, time.Second)
	sender.SetGap(5 * time.Millisecond)
	require.NoError(t, sender.Send(ctx, data))

	require.NoError(t, <-sinkDone)
	require.Equal(t, data, out.Bytes())
	require.Equal(t, CalculateChunks(len(data), 32), sink.Frames())
}
