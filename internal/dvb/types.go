// Package dvb is the boundary to the Linux DVB API: frontend, demux and DVR
// device nodes driven through ioctls.
package dvb

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors.
var (
	ErrInvalidModulation   = errors.New("invalid modulation")
	ErrDeviceOpen          = errors.New("opening device")
	ErrWouldBlock          = errors.New("no data available")
	ErrClosed              = errors.New("device closed")
	ErrUnsupportedPlatform = errors.New("DVB devices are only supported on linux")
)

// Modulation is the frontend constellation (fe_modulation_t).
type Modulation uint32

// Modulation values as defined by linux/dvb/frontend.h.
const (
	QPSK Modulation = iota
	QAM16
	QAM32
	QAM64
	QAM128
	QAM256
	QAMAuto
)

// cableModulations are the constellations accepted on the command line.
var cableModulations = []Modulation{QAM16, QAM32, QAM64, QAM128, QAM256}

func (m Modulation) String() string {
	switch m {
	case QPSK:
		return "QPSK"
	case QAM16:
		return "QAM16"
	case QAM32:
		return "QAM32"
	case QAM64:
		return "QAM64"
	case QAM128:
		return "QAM128"
	case QAM256:
		return "QAM256"
	case QAMAuto:
		return "QAM_AUTO"
	default:
		return fmt.Sprintf("Modulation(%d)", uint32(m))
	}
}

// ParseModulation maps a case-insensitive name (QAM16, QAM32, QAM64, QAM128
// or QAM256) to its Modulation.
func ParseModulation(s string) (Modulation, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for _, m := range cableModulations {
		if m.String() == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: %q (want one of %s)", ErrInvalidModulation, s, strings.Join(ModulationNames(), ", "))
}

// ModulationNames lists the names ParseModulation accepts.
func ModulationNames() []string {
	names := make([]string, len(cableModulations))
	for i, m := range cableModulations {
		names[i] = m.String()
	}
	return names
}

// Inversion is the spectral inversion setting (fe_spectral_inversion_t).
type Inversion uint32

const (
	InversionOff Inversion = iota
	InversionOn
	InversionAuto
)

// CodeRate is the inner forward error correction rate (fe_code_rate_t).
type CodeRate uint32

const (
	FECNone CodeRate = 0
	FECAuto CodeRate = 9
)

// FrontendParams is the QAM subset of the legacy dvb_frontend_parameters.
type FrontendParams struct {
	Frequency  uint32 // Hz
	Inversion  Inversion
	SymbolRate uint32
	FEC        CodeRate
	Modulation Modulation
}

// Status is the frontend status bitmask (fe_status_t).
type Status uint32

const (
	HasSignal  Status = 0x01
	HasCarrier Status = 0x02
	HasViterbi Status = 0x04
	HasSync    Status = 0x08
	HasLock    Status = 0x10
	TimedOut   Status = 0x20
	Reinit     Status = 0x40
)

var statusNames = []struct {
	bit  Status
	name string
}{
	{HasSignal, "SIGNAL"},
	{HasCarrier, "CARRIER"},
	{HasViterbi, "VITERBI"},
	{HasSync, "SYNC"},
	{HasLock, "LOCK"},
	{TimedOut, "TIMEDOUT"},
	{Reinit, "REINIT"},
}

// Has reports whether every bit of flag is set.
func (s Status) Has(flag Status) bool {
	return s&flag == flag
}

// Locked reports whether the lock bit is set.
func (s Status) Locked() bool {
	return s.Has(HasLock)
}

func (s Status) String() string {
	if s == 0 {
		return "NONE"
	}
	var parts []string
	rest := s
	for _, sn := range statusNames {
		if s.Has(sn.bit) {
			parts = append(parts, sn.name)
			rest &^= sn.bit
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// DemuxInput selects where the demux takes its data from (dmx_input_t).
type DemuxInput uint32

const DemuxInputFrontend DemuxInput = 0

// DemuxOutput selects where filtered data is delivered (dmx_output_t).
type DemuxOutput uint32

const (
	DemuxOutputDecoder DemuxOutput = 0
	DemuxOutputTap     DemuxOutput = 1
	DemuxOutputTSTap   DemuxOutput = 2
)

// PESType is the PES filter type (dmx_pes_type_t).
type PESType uint32

const PESOther PESType = 20

// FilterFlags are the dmx_pes_filter_params flags.
type FilterFlags uint32

const (
	FilterCheckCRC       FilterFlags = 1
	FilterOneshot        FilterFlags = 2
	FilterImmediateStart FilterFlags = 4
)

// AllPIDs is the PID selector that passes the whole transport stream.
const AllPIDs uint16 = 0x2000

// PESFilter mirrors dmx_pes_filter_params.
type PESFilter struct {
	PID     uint16
	Input   DemuxInput
	Output  DemuxOutput
	PESType PESType
	Flags   FilterFlags
}
