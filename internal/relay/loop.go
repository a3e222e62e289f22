// Package relay forwards captured transport stream bytes to the sink.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmylchreest/dvbrelay/internal/capture"
	"github.com/jmylchreest/dvbrelay/internal/metrics"
)

// Sentinel errors.
var (
	ErrSinkClosed    = errors.New("sink closed")
	ErrCaptureFailed = errors.New("capture failed")
)

// Source is a non-blocking chunk reader. ReadChunk returns
// capture.ErrWouldBlock when nothing is buffered.
type Source interface {
	ReadChunk(buf []byte) (int, error)
}

type readinessWaiter interface {
	WaitReadable(timeout time.Duration) (bool, error)
}

// WaitMode selects how the loop idles on an empty read.
type WaitMode string

const (
	// WaitSleep sleeps for the poll interval.
	WaitSleep WaitMode = "sleep"
	// WaitPoll blocks in poll(2) for at most the poll interval.
	WaitPoll WaitMode = "poll"
)

// Defaults.
const (
	DefaultChunkSize    = 1316
	DefaultPollInterval = time.Millisecond
)

// Config controls the loop.
type Config struct {
	ChunkSize    int
	PollInterval time.Duration
	WaitMode     WaitMode
	// MaxReadErrors aborts the loop after that many consecutive read
	// errors. 0 logs and skips them indefinitely.
	MaxReadErrors int
	// StatsInterval is the throughput logging period. 0 disables it.
	StatsInterval time.Duration
}

// Stats is a snapshot of loop counters.
type Stats struct {
	Bytes      uint64
	Chunks     uint64
	IdlePolls  uint64
	ReadErrors uint64
}

// Loop copies chunks from a source to a sink, in order, one write per chunk.
type Loop struct {
	src    Source
	dst    io.Writer
	cfg    Config
	logger *slog.Logger

	bandwidth *BandwidthTracker
	stats     Stats
	errStreak int
}

// NewLoop creates a relay loop. Zero config fields take their defaults.
func NewLoop(src Source, dst io.Writer, cfg Config) *Loop {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.WaitMode == "" {
		cfg.WaitMode = WaitSleep
	}

	l := &Loop{
		src:    src,
		dst:    dst,
		cfg:    cfg,
		logger: slog.Default(),
	}
	if cfg.StatsInterval > 0 {
		l.bandwidth = NewBandwidthTrackerWithConfig(DefaultBandwidthWindowSize, cfg.StatsInterval)
	} else {
		l.bandwidth = NewBandwidthTracker()
	}
	return l
}

// WithLogger sets the logger for the loop.
func (l *Loop) WithLogger(logger *slog.Logger) *Loop {
	l.logger = logger
	return l
}

// Bandwidth returns the loop's throughput tracker.
func (l *Loop) Bandwidth() *BandwidthTracker {
	return l.bandwidth
}

// Stats returns the loop counters. Only valid once Run has returned.
func (l *Loop) Stats() Stats {
	return l.stats
}

// Run relays until the sink rejects a write, ctx is cancelled, or the
// read error limit is reached. It never returns nil.
func (l *Loop) Run(ctx context.Context) error {
	buf := make([]byte, l.cfg.ChunkSize)

	l.logger.InfoContext(ctx, "relay started",
		slog.Int("chunk_size", l.cfg.ChunkSize),
		slog.String("wait_mode", string(l.cfg.WaitMode)),
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := l.src.ReadChunk(buf)
		switch {
		case n > 0:
			l.errStreak = 0
			if err := l.forward(buf[:n]); err != nil {
				l.logger.InfoContext(ctx, "sink closed, stopping relay",
					slog.String("error", err.Error()),
					slog.Uint64("bytes", l.stats.Bytes),
				)
				return err
			}
		case err == nil || errors.Is(err, capture.ErrWouldBlock):
			l.errStreak = 0
			l.stats.IdlePolls++
			metrics.IncIdlePoll()
			if err := l.idle(ctx); err != nil {
				return err
			}
		default:
			if err := l.readFailed(ctx, err); err != nil {
				return err
			}
			if err := l.idle(ctx); err != nil {
				return err
			}
		}

		l.reportThroughput(ctx)
	}
}

func (l *Loop) forward(chunk []byte) error {
	written, err := l.dst.Write(chunk)
	if err == nil && written < len(chunk) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return fmt.Errorf("%w: wrote %d of %d bytes: %w", ErrSinkClosed, written, len(chunk), err)
	}

	l.stats.Bytes += uint64(written)
	l.stats.Chunks++
	l.bandwidth.Add(uint64(written))
	metrics.AddRelayed(written)
	return nil
}

func (l *Loop) readFailed(ctx context.Context, err error) error {
	l.stats.ReadErrors++
	l.errStreak++
	metrics.IncReadError()

	if l.errStreak == 1 {
		l.logger.WarnContext(ctx, "capture read failed", slog.String("error", err.Error()))
	} else {
		l.logger.DebugContext(ctx, "capture read failed",
			slog.String("error", err.Error()),
			slog.Int("consecutive", l.errStreak),
		)
	}

	if l.cfg.MaxReadErrors > 0 && l.errStreak >= l.cfg.MaxReadErrors {
		return fmt.Errorf("%w: %d consecutive read errors: %w", ErrCaptureFailed, l.errStreak, err)
	}
	return nil
}

func (l *Loop) idle(ctx context.Context) error {
	if l.cfg.WaitMode == WaitPoll {
		if w, ok := l.src.(readinessWaiter); ok {
			_, err := w.WaitReadable(l.cfg.PollInterval)
			if err == nil {
				return ctx.Err()
			}
			l.logger.DebugContext(ctx, "readiness wait failed, sleeping instead", slog.String("error", err.Error()))
		}
	}

	t := time.NewTimer(l.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (l *Loop) reportThroughput(ctx context.Context) {
	if l.cfg.StatsInterval <= 0 {
		return
	}
	now := time.Now()
	if !l.bandwidth.Due(now) {
		return
	}
	period := l.bandwidth.Sample(now)
	l.logger.InfoContext(ctx, "relay throughput",
		slog.Uint64("bytes_total", l.bandwidth.TotalBytes()),
		slog.Uint64("bytes_period", period),
		slog.Uint64("bps", l.bandwidth.CurrentBps()),
		slog.Uint64("idle_polls", l.stats.IdlePolls),
		slog.Uint64("read_errors", l.stats.ReadErrors),
	)
}
