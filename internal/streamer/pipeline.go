// Package streamer sequences the tune, filter, capture, sink and relay
// stages for one stream.
package streamer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/jmylchreest/dvbrelay/internal/capture"
	"github.com/jmylchreest/dvbrelay/internal/dvb"
	"github.com/jmylchreest/dvbrelay/internal/observability"
	"github.com/jmylchreest/dvbrelay/internal/relay"
	"github.com/jmylchreest/dvbrelay/internal/sink"
	"github.com/jmylchreest/dvbrelay/internal/tuner"
)

// FrontendDevice is an owned frontend handle.
type FrontendDevice interface {
	tuner.Frontend
	io.Closer
}

// Devices opens the adapter's device nodes.
type Devices interface {
	OpenFrontend() (FrontendDevice, error)
	OpenDemux() (capture.DemuxDevice, error)
	OpenCapture() (capture.Endpoint, error)
}

// SinkEstablisher produces the stream's single sink.
type SinkEstablisher func(ctx context.Context) (sink.Sink, error)

// Options describe one stream.
type Options struct {
	Request         tuner.Request
	SettleDelay     time.Duration
	Filter          dvb.PESFilter
	DemuxBufferSize int64
	Relay           relay.Config
	Sink            sink.Config
}

// Result summarises a finished stream.
type Result struct {
	Lock  tuner.LockStatus
	Relay relay.Stats
}

// Pipeline runs the stages in order: tune, filter, capture, sink, relay.
// Each stage runs at most once and nothing after a failed stage is touched.
type Pipeline struct {
	devices   Devices
	opts      Options
	establish SinkEstablisher
	logger    *slog.Logger
}

// New creates a pipeline over devices.
func New(devices Devices, opts Options) *Pipeline {
	p := &Pipeline{
		devices: devices,
		opts:    opts,
		logger:  slog.Default(),
	}
	p.establish = func(ctx context.Context) (sink.Sink, error) {
		return sink.Establish(ctx, p.opts.Sink, observability.WithComponent(p.logger, "sink"))
	}
	return p
}

// WithLogger sets the logger for the pipeline.
func (p *Pipeline) WithLogger(logger *slog.Logger) *Pipeline {
	p.logger = logger
	return p
}

// WithSinkEstablisher replaces the configured sink.
func (p *Pipeline) WithSinkEstablisher(fn SinkEstablisher) *Pipeline {
	p.establish = fn
	return p
}

// Run executes the pipeline. It always returns a non-nil *StageError
// describing how the stream ended; resources are released in reverse order
// of acquisition before it returns.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	var res Result

	if err := p.opts.Request.Validate(); err != nil {
		return res, stageError(StageValidate, err)
	}

	fe, err := p.devices.OpenFrontend()
	if err != nil {
		return res, stageError(StageFrontend, err)
	}
	defer closeLogged(p.logger, "frontend", fe)

	ctrl := tuner.NewController(fe, p.opts.SettleDelay).WithLogger(observability.WithComponent(p.logger, "tuner"))
	res.Lock, err = p.tune(ctx, ctrl)
	if err != nil {
		return res, stageError(StageTune, err)
	}

	filter, err := capture.ConfigureFilter(p.devices.OpenDemux, p.opts.Filter, capture.FilterOptions{
		BufferSize: p.opts.DemuxBufferSize,
	})
	if err != nil {
		return res, stageError(StageFilter, err)
	}
	defer closeLogged(p.logger, "demux filter", filter)
	p.logger.DebugContext(ctx, "demux filter applied", slog.Int("pid", int(p.opts.Filter.PID)))

	ep, err := p.devices.OpenCapture()
	if err != nil {
		return res, stageError(StageCapture, err)
	}
	reader := capture.NewReader(ep)
	defer closeLogged(p.logger, "capture", reader)

	out, err := p.establish(ctx)
	if err != nil {
		return res, stageError(StageSink, err)
	}
	defer closeLogged(p.logger, "sink", out)

	loop := relay.NewLoop(reader, out, p.opts.Relay).WithLogger(observability.WithComponent(p.logger, "relay"))
	err = loop.Run(ctx)
	res.Relay = loop.Stats()
	return res, stageError(StageRelay, err)
}

func (p *Pipeline) tune(ctx context.Context, ctrl *tuner.Controller) (lock tuner.LockStatus, err error) {
	done := observability.TimedOperationWithError(ctx, p.logger, "tune", &err)
	defer done()
	return ctrl.Tune(ctx, p.opts.Request)
}

func closeLogged(logger *slog.Logger, what string, c io.Closer) {
	if err := c.Close(); err != nil && !errors.Is(err, dvb.ErrClosed) {
		logger.Warn("closing "+what+" failed", slog.String("error", err.Error()))
	}
}
