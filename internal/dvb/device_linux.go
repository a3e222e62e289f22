//go:build linux

package dvb

import (
	"errors"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// handle is an owned device file descriptor.
type handle struct {
	path string
	mu   sync.Mutex
	fd   int
}

func openHandle(path string, flags int) (*handle, error) {
	fd, err := unix.Open(path, flags|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrDeviceOpen, path, err)
	}
	return &handle{path: path, fd: fd}, nil
}

func (h *handle) descriptor() (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fd < 0 {
		return -1, ErrClosed
	}
	return h.fd, nil
}

// Path returns the device node this handle was opened from.
func (h *handle) Path() string {
	return h.path
}

// Close releases the descriptor. Closing twice is a no-op.
func (h *handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fd < 0 {
		return nil
	}
	err := unix.Close(h.fd)
	h.fd = -1
	if err != nil {
		return fmt.Errorf("closing %s: %w", h.path, err)
	}
	return nil
}

// Frontend is an open frontend control device.
type Frontend struct {
	*handle
}

// OpenFrontend opens the frontend device read-write.
func OpenFrontend(path string) (*Frontend, error) {
	h, err := openHandle(path, unix.O_RDWR)
	if err != nil {
		return nil, err
	}
	return &Frontend{h}, nil
}

// SetFrontend issues FE_SET_FRONTEND with the given QAM parameters.
func (f *Frontend) SetFrontend(p FrontendParams) error {
	fd, err := f.descriptor()
	if err != nil {
		return err
	}
	raw := p.raw()
	if err := ioctlPtr(fd, feSetFrontend, unsafe.Pointer(&raw)); err != nil {
		return fmt.Errorf("FE_SET_FRONTEND: %w", err)
	}
	return nil
}

// ReadStatus issues FE_READ_STATUS.
func (f *Frontend) ReadStatus() (Status, error) {
	fd, err := f.descriptor()
	if err != nil {
		return 0, err
	}
	v, err := unix.IoctlGetUint32(fd, feReadStatus)
	if err != nil {
		return 0, fmt.Errorf("FE_READ_STATUS: %w", err)
	}
	return Status(v), nil
}

// Demux is an open demultiplexer control device.
type Demux struct {
	*handle
}

// OpenDemux opens the demux device read-write.
func OpenDemux(path string) (*Demux, error) {
	h, err := openHandle(path, unix.O_RDWR)
	if err != nil {
		return nil, err
	}
	return &Demux{h}, nil
}

// SetBufferSize issues DMX_SET_BUFFER_SIZE.
func (d *Demux) SetBufferSize(size int) error {
	fd, err := d.descriptor()
	if err != nil {
		return err
	}
	if err := unix.IoctlSetInt(fd, dmxSetBufferSize, size); err != nil {
		return fmt.Errorf("DMX_SET_BUFFER_SIZE: %w", err)
	}
	return nil
}

// SetPESFilter issues DMX_SET_PES_FILTER.
func (d *Demux) SetPESFilter(f PESFilter) error {
	fd, err := d.descriptor()
	if err != nil {
		return err
	}
	raw := f.raw()
	if err := ioctlPtr(fd, dmxSetPESFilter, unsafe.Pointer(&raw)); err != nil {
		return fmt.Errorf("DMX_SET_PES_FILTER: %w", err)
	}
	return nil
}

// Stop issues DMX_STOP.
func (d *Demux) Stop() error {
	fd, err := d.descriptor()
	if err != nil {
		return err
	}
	if err := unix.IoctlSetInt(fd, dmxStop, 0); err != nil {
		return fmt.Errorf("DMX_STOP: %w", err)
	}
	return nil
}

// DVR is the capture endpoint, opened non-blocking.
type DVR struct {
	*handle
}

// OpenDVR opens the DVR device read-only and non-blocking.
func OpenDVR(path string) (*DVR, error) {
	h, err := openHandle(path, unix.O_RDONLY|unix.O_NONBLOCK)
	if err != nil {
		return nil, err
	}
	return &DVR{h}, nil
}

// Read performs one non-blocking read. It returns ErrWouldBlock when the
// driver has nothing buffered (EAGAIN, EINTR or a zero-length read).
func (d *DVR) Read(p []byte) (int, error) {
	fd, err := d.descriptor()
	if err != nil {
		return 0, err
	}
	n, err := unix.Read(fd, p)
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		return 0, ErrWouldBlock
	case err != nil:
		return 0, fmt.Errorf("reading %s: %w", d.path, err)
	case n <= 0:
		return 0, ErrWouldBlock
	}
	return n, nil
}

// WaitReadable blocks in poll(2) until the DVR has data or timeout elapses.
// Timeouts are rounded up to whole milliseconds, the resolution of poll(2).
func (d *DVR) WaitReadable(timeout time.Duration) (bool, error) {
	fd, err := d.descriptor()
	if err != nil {
		return false, err
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, pollTimeout(timeout))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return false, fmt.Errorf("poll %s: %w", d.path, err)
	}
	return n > 0 && fds[0].Revents&unix.POLLIN != 0, nil
}

// pollTimeout converts d to poll(2) milliseconds. Any positive duration
// waits at least 1ms so sub-millisecond intervals never busy-spin.
func pollTimeout(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Millisecond - 1) / time.Millisecond)
}
