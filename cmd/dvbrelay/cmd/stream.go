package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/dvbrelay/internal/capture"
	"github.com/jmylchreest/dvbrelay/internal/config"
	"github.com/jmylchreest/dvbrelay/internal/dvb"
	"github.com/jmylchreest/dvbrelay/internal/metrics"
	"github.com/jmylchreest/dvbrelay/internal/observability"
	"github.com/jmylchreest/dvbrelay/internal/relay"
	"github.com/jmylchreest/dvbrelay/internal/sink"
	"github.com/jmylchreest/dvbrelay/internal/streamer"
	"github.com/jmylchreest/dvbrelay/internal/tuner"
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Tune a channel and relay its transport stream",
	Long: `Tune the DVB-C frontend to the given frequency, pass every PID through the
demultiplexer and relay the raw transport stream.

By default the stream is served to the first TCP client that connects to
--listen:--port. With --stdout it is written to standard output instead.

Examples:
  dvbrelay stream --freq 546 --mod QAM256 --port 5000
  dvbrelay stream --freq 690 --mod qam64 --stdout > capture.ts`,
	Args: cobra.NoArgs,
	RunE: runStream,
}

func init() {
	addStreamFlags(streamCmd.Flags())
	_ = streamCmd.MarkFlagRequired("freq")
	_ = streamCmd.MarkFlagRequired("mod")
	rootCmd.AddCommand(streamCmd)
}

func addStreamFlags(f *pflag.FlagSet) {
	f.Uint64("freq", 0, "channel frequency in MHz")
	f.String("mod", "", "modulation (QAM16, QAM32, QAM64, QAM128, QAM256)")
	f.Bool("stdout", false, "write the stream to stdout instead of serving it over TCP")
	f.Int("port", 1234, "TCP port to serve the stream on")
	f.String("listen", "0.0.0.0", "address to listen on")
	f.Int("adapter", 0, "DVB adapter number")
	f.Uint32("symbol-rate", 6900000, "symbol rate in symbols per second")
}

// applyStreamFlags copies explicitly set flags over config and env values.
func applyStreamFlags(f *pflag.FlagSet, v *viper.Viper) {
	if f.Changed("stdout") {
		if stdout, _ := f.GetBool("stdout"); stdout {
			v.Set("output.mode", config.OutputStdout)
		} else {
			v.Set("output.mode", config.OutputTCP)
		}
	}
	if f.Changed("port") {
		port, _ := f.GetInt("port")
		v.Set("output.port", port)
	}
	if f.Changed("listen") {
		host, _ := f.GetString("listen")
		v.Set("output.listen_host", host)
	}
	if f.Changed("adapter") {
		adapter, _ := f.GetInt("adapter")
		v.Set("device.adapter", adapter)
	}
	if f.Changed("symbol-rate") {
		rate, _ := f.GetUint32("symbol-rate")
		v.Set("tuning.symbol_rate", rate)
	}
}

// requestFromFlags parses --freq and --mod into a tune request.
func requestFromFlags(f *pflag.FlagSet, cfg *config.Config) (tuner.Request, error) {
	modName, _ := f.GetString("mod")
	mod, err := dvb.ParseModulation(modName)
	if err != nil {
		return tuner.Request{}, err
	}

	freq, _ := f.GetUint64("freq")
	return tuner.NewRequest(freq, cfg.Tuning.SymbolRate, mod)
}

func devicePaths(cfg *config.Config) dvb.Paths {
	return dvb.AdapterPaths(cfg.Device.Root, cfg.Device.Adapter, cfg.Device.Frontend, cfg.Device.Demux, cfg.Device.DVR)
}

func buildOptions(cfg *config.Config, req tuner.Request) streamer.Options {
	sinkCfg := sink.Config{Kind: sink.KindTCP, ListenHost: cfg.Output.ListenHost, Port: cfg.Output.Port}
	if cfg.Output.Mode == config.OutputStdout {
		sinkCfg = sink.Config{Kind: sink.KindStdout}
	}

	return streamer.Options{
		Request:         req,
		SettleDelay:     cfg.Tuning.SettleDelay,
		Filter:          capture.AllPIDsFilter(),
		DemuxBufferSize: cfg.Capture.DemuxBufferSize.Bytes(),
		Relay: relay.Config{
			ChunkSize:     cfg.Capture.ChunkSize,
			PollInterval:  cfg.Capture.PollInterval,
			WaitMode:      relay.WaitMode(cfg.Capture.WaitMode),
			MaxReadErrors: cfg.Capture.MaxReadErrors,
			StatsInterval: cfg.Stats.Interval,
		},
		Sink: sinkCfg,
	}
}

func runStream(cmd *cobra.Command, _ []string) error {
	v := viper.GetViper()
	applyStreamFlags(cmd.Flags(), v)

	cfg, err := config.FromViper(v)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	req, err := requestFromFlags(cmd.Flags(), cfg)
	if err != nil {
		return err
	}

	// Arguments are valid; failures from here on are not usage errors.
	cmd.SilenceUsage = true

	logger := slog.Default().With(slog.String("stream_id", ulid.Make().String()))
	paths := devicePaths(cfg)
	logger.Info("starting stream",
		slog.Any("request", req),
		slog.String("frontend", paths.Frontend),
		slog.String("output", cfg.Output.Mode),
	)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received shutdown signal", slog.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path).
			WithLogger(observability.WithComponent(logger, "metrics"))
		g.Go(func() error {
			return srv.Serve(gctx)
		})
	}

	pipeline := streamer.New(streamer.NewAdapterDevices(paths), buildOptions(cfg, req)).
		WithLogger(observability.WithComponent(logger, "streamer"))

	var (
		result streamer.Result
		runErr error
	)
	g.Go(func() error {
		// The metrics server lives only as long as the stream.
		defer cancel()
		result, runErr = pipeline.Run(gctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return finishStream(logger, result, runErr)
}

// finishStream logs how the stream ended and returns the error only when the
// end was a failure.
func finishStream(logger *slog.Logger, result streamer.Result, err error) error {
	if err == nil {
		return nil
	}

	kind := streamer.KindOf(err)
	relayed := slog.Group("relayed",
		slog.Uint64("bytes", result.Relay.Bytes),
		slog.Uint64("chunks", result.Relay.Chunks),
	)

	switch kind {
	case streamer.KindRelayWriteFailure:
		logger.Info("sink closed, stream finished", relayed, slog.String("reason", err.Error()))
	case streamer.KindCanceled:
		logger.Info("stream stopped", relayed)
	case streamer.KindLockFailure:
		logger.Error("frontend did not lock",
			slog.String("status", result.Lock.Status.String()),
			slog.String("kind", string(kind)),
		)
	case streamer.KindCaptureFailure:
		logger.Error("capture failed", relayed,
			slog.Uint64("read_errors", result.Relay.ReadErrors),
			slog.String("error", err.Error()),
		)
	default:
		logger.Error("stream setup failed",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
	}

	if kind.Fatal() {
		return err
	}
	return nil
}
