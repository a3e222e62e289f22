package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/dvbrelay/internal/config"
	"github.com/jmylchreest/dvbrelay/internal/dvb"
	"github.com/jmylchreest/dvbrelay/internal/relay"
	"github.com/jmylchreest/dvbrelay/internal/sink"
	"github.com/jmylchreest/dvbrelay/internal/streamer"
	"github.com/jmylchreest/dvbrelay/internal/tuner"
)

func parseStreamFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	f := pflag.NewFlagSet("stream", pflag.ContinueOnError)
	addStreamFlags(f)
	require.NoError(t, f.Parse(args))
	return f
}

func streamConfig(t *testing.T, f *pflag.FlagSet, overrides map[string]any) *config.Config {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	for k, val := range overrides {
		v.Set(k, val)
	}
	applyStreamFlags(f, v)
	cfg, err := config.FromViper(v)
	require.NoError(t, err)
	return cfg
}

func TestApplyStreamFlags(t *testing.T) {
	f := parseStreamFlags(t, "--stdout", "--port", "5000", "--listen", "127.0.0.1", "--adapter", "2", "--symbol-rate", "6875000")
	cfg := streamConfig(t, f, nil)

	assert.Equal(t, config.OutputStdout, cfg.Output.Mode)
	assert.Equal(t, 5000, cfg.Output.Port)
	assert.Equal(t, "127.0.0.1", cfg.Output.ListenHost)
	assert.Equal(t, 2, cfg.Device.Adapter)
	assert.Equal(t, uint32(6875000), cfg.Tuning.SymbolRate)
}

func TestApplyStreamFlags_UnsetFlagsKeepConfig(t *testing.T) {
	f := parseStreamFlags(t, "--freq", "546", "--mod", "QAM256")
	cfg := streamConfig(t, f, map[string]any{
		"output.port":        7000,
		"device.adapter":     1,
		"tuning.symbol_rate": 6111000,
	})

	assert.Equal(t, config.OutputTCP, cfg.Output.Mode)
	assert.Equal(t, 7000, cfg.Output.Port)
	assert.Equal(t, "0.0.0.0", cfg.Output.ListenHost)
	assert.Equal(t, 1, cfg.Device.Adapter)
	assert.Equal(t, uint32(6111000), cfg.Tuning.SymbolRate)
}

func TestRequestFromFlags(t *testing.T) {
	f := parseStreamFlags(t, "--freq", "546", "--mod", "qam256")
	cfg := streamConfig(t, f, nil)

	req, err := requestFromFlags(f, cfg)
	require.NoError(t, err)
	assert.Equal(t, uint32(546_000_000), req.Frequency)
	assert.Equal(t, uint32(6900000), req.SymbolRate)
	assert.Equal(t, dvb.QAM256, req.Modulation)
}

func TestRequestFromFlags_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing modulation", []string{"--freq", "546"}},
		{"non-cable modulation", []string{"--freq", "546", "--mod", "QPSK"}},
		{"unknown modulation", []string{"--freq", "546", "--mod", "QAM512"}},
		{"zero frequency", []string{"--freq", "0", "--mod", "QAM64"}},
		{"frequency overflow", []string{"--freq", "5000", "--mod", "QAM64"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := parseStreamFlags(t, tt.args...)
			cfg := streamConfig(t, f, nil)

			req, err := requestFromFlags(f, cfg)
			require.Error(t, err)
			assert.Equal(t, tuner.Request{}, req)
			assert.Equal(t, streamer.KindInvalidArgument, streamer.KindOf(err))
		})
	}
}

func TestBuildOptions_TCP(t *testing.T) {
	f := parseStreamFlags(t, "--port", "5000")
	cfg := streamConfig(t, f, map[string]any{
		"capture.demux_buffer_size": "4MB",
		"capture.wait_mode":         "poll",
		"capture.max_read_errors":   10,
	})
	req, err := tuner.NewRequest(690, cfg.Tuning.SymbolRate, dvb.QAM256)
	require.NoError(t, err)

	opts := buildOptions(cfg, req)

	assert.Equal(t, req, opts.Request)
	assert.Equal(t, time.Second, opts.SettleDelay)
	assert.Equal(t, dvb.AllPIDs, opts.Filter.PID)
	assert.Equal(t, int64(4*1024*1024), opts.DemuxBufferSize)
	assert.Equal(t, relay.Config{
		ChunkSize:     1316,
		PollInterval:  time.Millisecond,
		WaitMode:      relay.WaitPoll,
		MaxReadErrors: 10,
		StatsInterval: 10 * time.Second,
	}, opts.Relay)
	assert.Equal(t, sink.KindTCP, opts.Sink.Kind)
	assert.Equal(t, "0.0.0.0", opts.Sink.ListenHost)
	assert.Equal(t, 5000, opts.Sink.Port)
}

func TestBuildOptions_Stdout(t *testing.T) {
	f := parseStreamFlags(t, "--stdout")
	cfg := streamConfig(t, f, nil)

	opts := buildOptions(cfg, tuner.Request{})

	assert.Equal(t, sink.Config{Kind: sink.KindStdout}, opts.Sink)
	assert.Equal(t, relay.WaitSleep, opts.Relay.WaitMode)
	assert.Zero(t, opts.DemuxBufferSize)
}

func TestDevicePaths(t *testing.T) {
	f := parseStreamFlags(t, "--adapter", "1")
	cfg := streamConfig(t, f, nil)

	paths := devicePaths(cfg)
	assert.Equal(t, "/dev/dvb/adapter1/frontend0", paths.Frontend)
	assert.Equal(t, "/dev/dvb/adapter1/demux0", paths.Demux)
	assert.Equal(t, "/dev/dvb/adapter1/dvr0", paths.DVR)
}

func TestFinishStream(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
		wantLog string
	}{
		{"no error", nil, false, ""},
		{"sink closed", fmt.Errorf("%w: broken pipe", relay.ErrSinkClosed), false, "sink closed, stream finished"},
		{"signal", context.Canceled, false, "stream stopped"},
		{"not locked", fmt.Errorf("%w (status NONE)", tuner.ErrNotLocked), true, "frontend did not lock"},
		{"capture escalated", relay.ErrCaptureFailed, true, "capture failed"},
		{"device open", fmt.Errorf("%w /dev/dvb/adapter0/frontend0: no such file", dvb.ErrDeviceOpen), true, "stream setup failed"},
		{"unclassified", errors.New("boom"), true, "stream setup failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))

			err := finishStream(logger, streamer.Result{}, tt.err)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.err)
			} else {
				assert.NoError(t, err)
			}
			assert.Contains(t, buf.String(), tt.wantLog)
		})
	}
}

func TestStreamCommand_InvalidModulationPrintsUsage(t *testing.T) {
	t.Setenv("DVBRELAY_DEVICE_ROOT", t.TempDir())

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"stream", "--freq", "546", "--mod", "QAM512"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.ErrorIs(t, err, dvb.ErrInvalidModulation)
	assert.Equal(t, streamer.KindInvalidArgument, streamer.KindOf(err))
	assert.Contains(t, out.String(), "Usage:")
}
