//go:build !linux

package dvb

import "time"

// Frontend is unavailable off linux.
type Frontend struct{ path string }

// OpenFrontend always fails with ErrUnsupportedPlatform.
func OpenFrontend(path string) (*Frontend, error) {
	return nil, ErrUnsupportedPlatform
}

func (f *Frontend) Path() string { return f.path }
func (f *Frontend) SetFrontend(FrontendParams) error { return ErrUnsupportedPlatform }
func (f *Frontend) ReadStatus() (Status, error) { return 0, ErrUnsupportedPlatform }
func (f *Frontend) Close() error { return nil }

// Demux is unavailable off linux.
type Demux struct{ path string }

// OpenDemux always fails with ErrUnsupportedPlatform.
func OpenDemux(path string) (*Demux, error) {
	return nil, ErrUnsupportedPlatform
}

func (d *Demux) Path() string { return d.path }
func (d *Demux) SetBufferSize(int) error { return ErrUnsupportedPlatform }
func (d *Demux) SetPESFilter(PESFilter) error { return ErrUnsupportedPlatform }
func (d *Demux) Stop() error { return ErrUnsupportedPlatform }
func (d *Demux) Close() error { return nil }

// DVR is unavailable off linux.
type DVR struct{ path string }

// OpenDVR always fails with ErrUnsupportedPlatform.
func OpenDVR(path string) (*DVR, error) {
	return nil, ErrUnsupportedPlatform
}

func (d *DVR) Path() string { return d.path }
func (d *DVR) Read([]byte) (int, error) { return 0, ErrUnsupportedPlatform }
func (d *DVR) WaitReadable(time.Duration) (bool, error) { return false, ErrUnsupportedPlatform }
func (d *DVR) Close() error { return nil }
