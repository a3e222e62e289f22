package streamer

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmylchreest/dvbrelay/internal/capture"
	"github.com/jmylchreest/dvbrelay/internal/dvb"
	"github.com/jmylchreest/dvbrelay/internal/relay"
	"github.com/jmylchreest/dvbrelay/internal/sink"
	"github.com/jmylchreest/dvbrelay/internal/tuner"
)

// Kind classifies why a stream ended.
type Kind string

const (
	KindUnknown              Kind = "unknown"
	KindInvalidArgument      Kind = "invalid_argument"
	KindDeviceOpenFailure    Kind = "device_open_failure"
	KindTuneFailure          Kind = "tune_failure"
	KindLockFailure          Kind = "lock_failure"
	KindFilterFailure        Kind = "filter_failure"
	KindSinkEstablishFailure Kind = "sink_establish_failure"
	KindRelayWriteFailure    Kind = "relay_write_failure"
	KindCaptureFailure       Kind = "capture_failure"
	KindCanceled             Kind = "canceled"
)

// Fatal reports whether the kind is a setup or capture failure. A sink
// going away and a signal are normal ends of a stream.
func (k Kind) Fatal() bool {
	switch k {
	case KindRelayWriteFailure, KindCanceled:
		return false
	default:
		return true
	}
}

// Pipeline stages.
const (
	StageValidate = "validate"
	StageFrontend = "frontend"
	StageTune     = "tune"
	StageFilter   = "filter"
	StageCapture  = "capture"
	StageSink     = "sink"
	StageRelay    = "relay"
)

// StageError records the pipeline stage an error came from.
type StageError struct {
	Stage string
	Kind  Kind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageError(stage string, err error) error {
	return &StageError{Stage: stage, Kind: classify(err), Err: err}
}

// KindOf classifies err. A *StageError carries its own kind; anything else
// is matched against the package sentinels.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return classify(err)
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, dvb.ErrInvalidModulation),
		errors.Is(err, tuner.ErrInvalidFrequency),
		errors.Is(err, tuner.ErrInvalidSymbolRate):
		return KindInvalidArgument
	case errors.Is(err, dvb.ErrDeviceOpen), errors.Is(err, dvb.ErrUnsupportedPlatform):
		return KindDeviceOpenFailure
	case errors.Is(err, tuner.ErrNotLocked):
		return KindLockFailure
	case errors.Is(err, tuner.ErrTuneFailed), errors.Is(err, tuner.ErrStatusRead), errors.Is(err, tuner.ErrAlreadyTuned):
		return KindTuneFailure
	case errors.Is(err, capture.ErrFilterFailed):
		return KindFilterFailure
	case errors.Is(err, sink.ErrEstablish):
		return KindSinkEstablishFailure
	case errors.Is(err, relay.ErrSinkClosed):
		return KindRelayWriteFailure
	case errors.Is(err, relay.ErrCaptureFailed):
		return KindCaptureFailure
	default:
		return KindUnknown
	}
}
