// Package tuner drives a DVB-C frontend through a single tune request and
// reports whether it locked.
package tuner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jmylchreest/dvbrelay/internal/dvb"
	"github.com/jmylchreest/dvbrelay/internal/metrics"
)

// Sentinel errors.
var (
	ErrInvalidFrequency  = errors.New("invalid frequency")
	ErrInvalidSymbolRate = errors.New("invalid symbol rate")
	ErrTuneFailed        = errors.New("tune request rejected by frontend")
	ErrStatusRead        = errors.New("reading frontend status")
	ErrNotLocked         = errors.New("frontend did not lock")
	ErrAlreadyTuned      = errors.New("frontend already tuned")
)

// Frontend is the frontend control surface the controller needs.
type Frontend interface {
	SetFrontend(p dvb.FrontendParams) error
	ReadStatus() (dvb.Status, error)
}

// Request is an immutable DVB-C tuning request. Inversion and inner FEC are
// always left to the driver.
type Request struct {
	Frequency  uint32 // Hz
	SymbolRate uint32
	Modulation dvb.Modulation
}

// NewRequest builds a request from a frequency in MHz.
func NewRequest(freqMHz uint64, symbolRate uint32, modulation dvb.Modulation) (Request, error) {
	if freqMHz == 0 {
		return Request{}, fmt.Errorf("%w: frequency must be greater than 0", ErrInvalidFrequency)
	}
	if freqMHz > math.MaxUint32/1_000_000 {
		return Request{}, fmt.Errorf("%w: %d MHz is out of range", ErrInvalidFrequency, freqMHz)
	}
	r := Request{
		Frequency:  uint32(freqMHz * 1_000_000),
		SymbolRate: symbolRate,
		Modulation: modulation,
	}
	if err := r.Validate(); err != nil {
		return Request{}, err
	}
	return r, nil
}

// Validate checks the request before any device interaction.
func (r Request) Validate() error {
	if r.Frequency == 0 {
		return fmt.Errorf("%w: frequency must be greater than 0", ErrInvalidFrequency)
	}
	if r.SymbolRate == 0 {
		return fmt.Errorf("%w: must be greater than 0", ErrInvalidSymbolRate)
	}
	return nil
}

// Params converts the request to frontend parameters.
func (r Request) Params() dvb.FrontendParams {
	return dvb.FrontendParams{
		Frequency:  r.Frequency,
		Inversion:  dvb.InversionAuto,
		SymbolRate: r.SymbolRate,
		FEC:        dvb.FECAuto,
		Modulation: r.Modulation,
	}
}

// LogValue implements slog.LogValuer.
func (r Request) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("frequency_hz", uint64(r.Frequency)),
		slog.Uint64("symbol_rate", uint64(r.SymbolRate)),
		slog.String("modulation", r.Modulation.String()),
	)
}

// LockStatus is the frontend state sampled once after the settle delay.
type LockStatus struct {
	Locked bool
	Status dvb.Status
}

// Controller issues exactly one tune request per frontend.
type Controller struct {
	fe     Frontend
	settle time.Duration
	logger *slog.Logger

	mu    sync.Mutex
	tuned bool
}

// NewController creates a controller that waits settle between the tune
// request and the status sample.
func NewController(fe Frontend, settle time.Duration) *Controller {
	return &Controller{
		fe:     fe,
		settle: settle,
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the controller.
func (c *Controller) WithLogger(logger *slog.Logger) *Controller {
	c.logger = logger
	return c
}

// Tune validates req, issues one tune request, waits the settle delay and
// samples the frontend status once. It never retries. When the lock bit is
// clear the sampled status is returned together with ErrNotLocked.
func (c *Controller) Tune(ctx context.Context, req Request) (LockStatus, error) {
	if err := req.Validate(); err != nil {
		return LockStatus{}, err
	}

	c.mu.Lock()
	if c.tuned {
		c.mu.Unlock()
		return LockStatus{}, ErrAlreadyTuned
	}
	c.tuned = true
	c.mu.Unlock()

	start := time.Now()
	c.logger.InfoContext(ctx, "tuning frontend", slog.Any("request", req))

	if err := c.fe.SetFrontend(req.Params()); err != nil {
		return LockStatus{}, fmt.Errorf("%w: %w", ErrTuneFailed, err)
	}

	if err := sleepContext(ctx, c.settle); err != nil {
		return LockStatus{}, err
	}

	status, err := c.fe.ReadStatus()
	if err != nil {
		return LockStatus{}, fmt.Errorf("%w: %w", ErrStatusRead, err)
	}

	lock := LockStatus{Locked: status.Locked(), Status: status}
	metrics.ObserveTune(time.Since(start), lock.Locked, uint32(status))

	if !lock.Locked {
		c.logger.WarnContext(ctx, "frontend not locked",
			slog.String("status", status.String()),
			slog.Duration("settle_delay", c.settle),
		)
		return lock, fmt.Errorf("%w (status %s)", ErrNotLocked, status)
	}

	c.logger.InfoContext(ctx, "frontend locked",
		slog.String("status", status.String()),
		slog.Duration("elapsed", time.Since(start)),
	)
	return lock, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
