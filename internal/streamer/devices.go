package streamer

import (
	"github.com/jmylchreest/dvbrelay/internal/capture"
	"github.com/jmylchreest/dvbrelay/internal/dvb"
)

// adapterDevices opens the real device nodes of one DVB adapter.
type adapterDevices struct {
	paths dvb.Paths
}

// NewAdapterDevices returns Devices backed by the given device nodes.
func NewAdapterDevices(paths dvb.Paths) Devices {
	return adapterDevices{paths: paths}
}

func (d adapterDevices) OpenFrontend() (FrontendDevice, error) {
	fe, err := dvb.OpenFrontend(d.paths.Frontend)
	if err != nil {
		return nil, err
	}
	return fe, nil
}

func (d adapterDevices) OpenDemux() (capture.DemuxDevice, error) {
	dmx, err := dvb.OpenDemux(d.paths.Demux)
	if err != nil {
		return nil, err
	}
	return dmx, nil
}

func (d adapterDevices) OpenCapture() (capture.Endpoint, error) {
	dvr, err := dvb.OpenDVR(d.paths.DVR)
	if err != nil {
		return nil, err
	}
	return dvr, nil
}
