package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jmylchreest/dvbrelay/internal/capture"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type step struct {
	data []byte
	err  error
}

// scriptSource replays steps, then reports would-block forever.
type scriptSource struct {
	mu    sync.Mutex
	steps []step
	reads int
	waits int
}

func (s *scriptSource) ReadChunk(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if len(s.steps) == 0 {
		return 0, capture.ErrWouldBlock
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	if st.err != nil {
		return 0, st.err
	}
	if len(st.data) == 0 {
		return 0, capture.ErrWouldBlock
	}
	return copy(buf, st.data), nil
}

func (s *scriptSource) remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

type pollingSource struct {
	scriptSource
}

func (s *pollingSource) WaitReadable(time.Duration) (bool, error) {
	s.mu.Lock()
	s.waits++
	s.mu.Unlock()
	return false, nil
}

// recordingSink keeps every successful write and fails from write failAt on.
type recordingSink struct {
	mu       sync.Mutex
	writes   [][]byte
	attempts int
	failAt   int
	failErr  error
	short    bool
}

func (s *recordingSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.failAt > 0 && s.attempts >= s.failAt {
		if s.short {
			return len(p) / 2, nil
		}
		return 0, s.failErr
	}
	s.writes = append(s.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (s *recordingSink) snapshot() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.writes...)
}

func chunk(fill byte, n int) []byte {
	return bytes.Repeat([]byte{fill}, n)
}

func runUntil(t *testing.T, l *Loop, cond func() bool) error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case err := <-done:
			return err
		case <-deadline:
			cancel()
			<-done
			t.Fatal("condition not reached")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	return <-done
}

func TestLoop_ForwardsInOrderSkippingEmptyReads(t *testing.T) {
	a, b, c := chunk('A', 1316), chunk('B', 188), chunk('C', 1316)
	src := &scriptSource{steps: []step{{data: a}, {}, {data: b}, {data: c}}}
	dst := &recordingSink{}
	l := NewLoop(src, dst, Config{PollInterval: time.Millisecond})

	err := runUntil(t, l, func() bool { return len(dst.snapshot()) == 3 })
	require.ErrorIs(t, err, context.Canceled)

	writes := dst.snapshot()
	require.Len(t, writes, 3)
	assert.Equal(t, a, writes[0])
	assert.Equal(t, b, writes[1])
	assert.Equal(t, c, writes[2])

	stats := l.Stats()
	assert.Equal(t, uint64(2820), stats.Bytes)
	assert.Equal(t, uint64(3), stats.Chunks)
	assert.GreaterOrEqual(t, stats.IdlePolls, uint64(1))
	assert.Equal(t, uint64(2820), l.Bandwidth().TotalBytes())
}

func TestLoop_StopsOnWriteFailure(t *testing.T) {
	steps := make([]step, 0, 6)
	for i := 0; i < 6; i++ {
		steps = append(steps, step{data: chunk(byte('0'+i), 1316)})
	}
	src := &scriptSource{steps: steps}
	dst := &recordingSink{failAt: 4, failErr: errors.New("broken pipe")}
	l := NewLoop(src, dst, Config{})

	err := l.Run(context.Background())
	require.ErrorIs(t, err, ErrSinkClosed)
	assert.Contains(t, err.Error(), "broken pipe")

	assert.Len(t, dst.snapshot(), 3)
	assert.Equal(t, 4, dst.attempts)
	assert.Equal(t, 2, src.remaining(), "no reads after the failed write")
}

func TestLoop_ShortWriteIsTerminal(t *testing.T) {
	src := &scriptSource{steps: []step{{data: chunk('A', 1316)}, {data: chunk('B', 1316)}}}
	dst := &recordingSink{failAt: 1, short: true}
	l := NewLoop(src, dst, Config{})

	err := l.Run(context.Background())
	require.ErrorIs(t, err, ErrSinkClosed)
	assert.ErrorIs(t, err, io.ErrShortWrite)
	assert.Equal(t, 1, dst.attempts)
}

func TestLoop_ReadErrorsSwallowedByDefault(t *testing.T) {
	overflow := errors.New("value too large for defined data type")
	src := &scriptSource{steps: []step{
		{err: overflow}, {err: overflow}, {err: overflow},
		{data: chunk('A', 188)},
	}}
	dst := &recordingSink{}
	l := NewLoop(src, dst, Config{})

	err := runUntil(t, l, func() bool { return len(dst.snapshot()) == 1 })
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint64(3), l.Stats().ReadErrors)
}

func TestLoop_ReadErrorEscalation(t *testing.T) {
	overflow := errors.New("value too large for defined data type")
	src := &scriptSource{steps: []step{
		{err: overflow}, {err: overflow},
		{data: chunk('A', 188)},
		{err: overflow}, {err: overflow}, {err: overflow},
	}}
	dst := &recordingSink{}
	l := NewLoop(src, dst, Config{MaxReadErrors: 3})

	err := l.Run(context.Background())
	require.ErrorIs(t, err, ErrCaptureFailed)
	assert.ErrorIs(t, err, overflow)
	assert.Len(t, dst.snapshot(), 1, "a successful read resets the streak")
	assert.Equal(t, uint64(5), l.Stats().ReadErrors)
}

func TestLoop_PollWaitMode(t *testing.T) {
	src := &pollingSource{}
	dst := &recordingSink{}
	l := NewLoop(src, dst, Config{WaitMode: WaitPoll, PollInterval: time.Millisecond})

	err := runUntil(t, l, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.waits >= 3
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, dst.snapshot())
}

func TestLoop_CancelledBeforeStart(t *testing.T) {
	src := &scriptSource{steps: []step{{data: chunk('A', 188)}}}
	dst := &recordingSink{}
	l := NewLoop(src, dst, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, src.reads)
}

func TestLoop_ThroughputLogging(t *testing.T) {
	var buf syncBuffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	src := &scriptSource{steps: []step{{data: chunk('A', 1316)}}}
	dst := &recordingSink{}
	l := NewLoop(src, dst, Config{StatsInterval: 5 * time.Millisecond}).WithLogger(logger)

	err := runUntil(t, l, func() bool { return bytes.Contains(buf.Bytes(), []byte("relay throughput")) })
	require.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, buf.String(), `"bytes_total":1316`)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func (b *syncBuffer) String() string {
	return string(b.Bytes())
}
