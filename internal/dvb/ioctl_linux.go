//go:build linux

package dvb

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Request numbers from linux/dvb/frontend.h and linux/dvb/dmx.h.
const (
	feReadStatus     = 0x80046f45 // _IOR('o', 69, fe_status_t)
	feSetFrontend    = 0x40246f4c // _IOW('o', 76, struct dvb_frontend_parameters)
	dmxStop          = 0x6f2a     // _IO('o', 42)
	dmxSetPESFilter  = 0x40146f2c // _IOW('o', 44, struct dmx_pes_filter_params)
	dmxSetBufferSize = 0x6f2d     // _IO('o', 45)
)

// rawFrontendParams is struct dvb_frontend_parameters with the QAM member of
// the union filled in. The trailing padding sizes the union to its largest
// (OFDM) member.
type rawFrontendParams struct {
	Frequency  uint32
	Inversion  uint32
	SymbolRate uint32
	FECInner   uint32
	Modulation uint32
	_          [4]uint32
}

// rawPESFilterParams is struct dmx_pes_filter_params.
type rawPESFilterParams struct {
	PID     uint16
	_       uint16
	Input   uint32
	Output  uint32
	PESType uint32
	Flags   uint32
}

func (p FrontendParams) raw() rawFrontendParams {
	return rawFrontendParams{
		Frequency:  p.Frequency,
		Inversion:  uint32(p.Inversion),
		SymbolRate: p.SymbolRate,
		FECInner:   uint32(p.FEC),
		Modulation: uint32(p.Modulation),
	}
}

func (f PESFilter) raw() rawPESFilterParams {
	return rawPESFilterParams{
		PID:     f.PID,
		Input:   uint32(f.Input),
		Output:  uint32(f.Output),
		PESType: uint32(f.PESType),
		Flags:   uint32(f.Flags),
	}
}

func ioctlPtr(fd int, req uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
