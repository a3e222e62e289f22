package capture

import (
	"errors"
	"sync"
	"time"

	"github.com/jmylchreest/dvbrelay/internal/dvb"
)

// ErrWouldBlock reports that the capture endpoint had nothing to read.
var ErrWouldBlock = dvb.ErrWouldBlock

// ErrWaitUnsupported is returned by WaitReadable when the endpoint cannot poll.
var ErrWaitUnsupported = errors.New("capture endpoint does not support readiness waits")

// Endpoint is a non-blocking byte source such as the DVR device.
type Endpoint interface {
	Read(p []byte) (int, error)
	Close() error
}

type readinessWaiter interface {
	WaitReadable(timeout time.Duration) (bool, error)
}

// Reader drains a capture endpoint one chunk at a time.
type Reader struct {
	ep        Endpoint
	closeOnce sync.Once
	closeErr  error
}

// NewReader wraps an opened endpoint.
func NewReader(ep Endpoint) *Reader {
	return &Reader{ep: ep}
}

// ReadChunk performs one read into buf. It returns ErrWouldBlock when no data
// is buffered; any other error is passed through for the caller to classify.
func (r *Reader) ReadChunk(buf []byte) (int, error) {
	n, err := r.ep.Read(buf)
	if n > 0 {
		return n, nil
	}
	if err == nil || errors.Is(err, ErrWouldBlock) {
		return 0, ErrWouldBlock
	}
	return 0, err
}

// WaitReadable blocks until data is available or timeout elapses.
func (r *Reader) WaitReadable(timeout time.Duration) (bool, error) {
	w, ok := r.ep.(readinessWaiter)
	if !ok {
		return false, ErrWaitUnsupported
	}
	return w.WaitReadable(timeout)
}

// Close releases the endpoint. Safe to call more than once.
func (r *Reader) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.ep.Close()
	})
	return r.closeErr
}
