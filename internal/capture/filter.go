// Package capture programs the demultiplexer and drains the DVR endpoint.
package capture

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jmylchreest/dvbrelay/internal/dvb"
)

// ErrFilterFailed is returned when the demux rejects the buffer size or filter.
var ErrFilterFailed = errors.New("configuring demux filter")

// DemuxDevice is the demux control surface.
type DemuxDevice interface {
	SetBufferSize(size int) error
	SetPESFilter(f dvb.PESFilter) error
	Stop() error
	Close() error
}

// DemuxOpener opens the demux control device.
type DemuxOpener func() (DemuxDevice, error)

// FilterOptions tune the demux before the filter is applied.
type FilterOptions struct {
	// BufferSize is the demux ring buffer in bytes. 0 keeps the driver default.
	BufferSize int64
}

// AllPIDsFilter passes the complete transport stream from the frontend to
// the DVR device, starting immediately.
func AllPIDsFilter() dvb.PESFilter {
	return dvb.PESFilter{
		PID:     dvb.AllPIDs,
		Input:   dvb.DemuxInputFrontend,
		Output:  dvb.DemuxOutputTSTap,
		PESType: dvb.PESOther,
		Flags:   dvb.FilterImmediateStart,
	}
}

// Filter is an active PES filter. It owns the demux handle.
type Filter struct {
	dev    DemuxDevice
	params dvb.PESFilter

	closeOnce sync.Once
	closeErr  error
}

// ConfigureFilter opens the demux and applies params. Open failures are
// returned unwrapped; anything after open closes the handle and wraps
// ErrFilterFailed.
func ConfigureFilter(open DemuxOpener, params dvb.PESFilter, opts FilterOptions) (*Filter, error) {
	dev, err := open()
	if err != nil {
		return nil, err
	}

	if opts.BufferSize > 0 {
		if err := dev.SetBufferSize(int(opts.BufferSize)); err != nil {
			_ = dev.Close()
			return nil, fmt.Errorf("%w: buffer size %d: %w", ErrFilterFailed, opts.BufferSize, err)
		}
	}

	if err := dev.SetPESFilter(params); err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("%w: pid 0x%04x: %w", ErrFilterFailed, params.PID, err)
	}

	return &Filter{dev: dev, params: params}, nil
}

// Params returns the applied filter.
func (f *Filter) Params() dvb.PESFilter {
	return f.params
}

// Close stops the filter and releases the demux handle. Safe to call more than once.
func (f *Filter) Close() error {
	f.closeOnce.Do(func() {
		stopErr := f.dev.Stop()
		closeErr := f.dev.Close()
		f.closeErr = errors.Join(stopErr, closeErr)
	})
	return f.closeErr
}
