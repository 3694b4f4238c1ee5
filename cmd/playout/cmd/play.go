package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/playout/internal/config"
	"github.com/zsiec/playout/internal/ffmpeg"
	"github.com/zsiec/playout/internal/gpu"
	"github.com/zsiec/playout/internal/ingest"
	"github.com/zsiec/playout/internal/ingest/srt"
	"github.com/zsiec/playout/internal/media"
	"github.com/zsiec/playout/internal/playout"
	"github.com/zsiec/playout/internal/producer"
	"github.com/zsiec/playout/internal/tsdemux"
)

const statusInterval = 5 * time.Second

var playCmd = &cobra.Command{
	Use:   "play [locator]",
	Short: "Load a source and drain its output",
	Long: `Load a source through the producer registry and consume its audio and
video legs until the source ends, the --for duration elapses, or the
process is interrupted.

Locators:
  clip.mp4, rtmp://...      any container or URL libav opens
  clip.ts, file:///x.ts     MPEG transport stream files
  srt://host:port?streamid=live/feed&latency=200&mode=listener
  device://0                capture device 0 (or --device 0)`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)
	addPlayFlags(playCmd.Flags())
}

func addPlayFlags(f *pflag.FlagSet) {
	f.Bool("loop", false, "restart the source at its end")
	f.Float64("seek", 0, "start offset in seconds")
	f.Int("device", 0, "capture device number")
	f.Bool("auto", true, "start playing immediately instead of paused")
	f.String("fps", "", "channel frame rate as num/den (default from config)")
	f.StringSlice("order", nil, "factory order (default from config)")
	f.Duration("for", 0, "stop after this long (0 = until the source ends)")
}

func playParams(cmd *cobra.Command, args []string) (media.LoadParameters, error) {
	f := cmd.Flags()
	var params media.LoadParameters
	if len(args) > 0 {
		params.Locator = args[0]
	}
	params.Loop, _ = f.GetBool("loop")
	params.AutoPlay, _ = f.GetBool("auto")
	if f.Changed("seek") {
		s, _ := f.GetFloat64("seek")
		params.SeekSeconds = &s
	}
	if f.Changed("device") {
		n, _ := f.GetInt("device")
		params.DeviceChannel = &n
	}
	if params.Locator == "" && params.DeviceChannel == nil {
		return params, errors.New("a locator or --device is required")
	}
	return params, nil
}

func runPlay(cmd *cobra.Command, args []string) error {
	params, err := playParams(cmd, args)
	if err != nil {
		return err
	}
	if fps, _ := cmd.Flags().GetString("fps"); fps != "" {
		cfg.Channel.FrameRate = fps
	}
	if order, _ := cmd.Flags().GetStringSlice("order"); len(order) > 0 {
		cfg.Registry.Order = order
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	props, err := cfg.Channel.Properties()
	if err != nil {
		return err
	}

	log := slog.Default()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if d, _ := cmd.Flags().GetDuration("for"); d > 0 {
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			log.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	gpuCtx := gpu.NewContext(log)
	defer gpuCtx.Close()

	ingestReg := ingest.NewRegistry()
	registry, err := newRegistry(cfg, gpuCtx, ingestReg, log)
	if err != nil {
		return err
	}
	log.Info("playout starting", "version", version, "factories", registry.Factories(), "frame_rate", props.FrameRate())

	mgr := playout.NewManager(registry, log)
	defer mgr.Close()

	entry, err := mgr.Load(ctx, params, props)
	if err != nil {
		if producer.IsNotRecognized(err) {
			return fmt.Errorf("no producer recognized %q: %w", params.Locator, err)
		}
		return err
	}
	if !params.AutoPlay {
		log.Info("producer loaded paused; draining anyway", "producer_id", entry.ID)
	}

	g, gctx := errgroup.WithContext(ctx)
	drained := make(chan struct{})
	g.Go(func() error {
		defer close(drained)
		stats, err := playout.Drain(gctx, entry.Producer)
		log.Info("source drained",
			"producer_id", entry.ID,
			"audio_frames", stats.AudioFrames,
			"audio_samples", stats.AudioSamples,
			"video_buffers", stats.VideoBuffers,
			"last_video", stats.LastVideo,
		)
		return err
	})
	g.Go(func() error {
		reportStatus(drained, entry, ingestReg, log)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("playout failed", "error", err)
		return err
	}
	return nil
}

// newRegistry builds every producer factory and orders them as configured.
func newRegistry(cfg *config.Config, gpuCtx *gpu.Context, ingestReg *ingest.Registry, log *slog.Logger) (*producer.Registry, error) {
	toolkit := ffmpeg.NewToolkit(ffmpeg.Config{
		LogLevel: cfg.FFmpeg.LogLevel,
		Threads:  cfg.FFmpeg.Threads,
	}, log)
	caller := srt.NewCaller(ingestReg, srt.Config{
		Latency:     cfg.SRT.Latency,
		DialTimeout: cfg.SRT.DialTimeout,
	}, log)

	opts := producer.Options{
		Toolkit:           toolkit,
		GPU:               gpuCtx,
		Log:               log,
		MismatchTolerance: cfg.Pipeline.MismatchTolerance,
	}
	available := []producer.Factory{
		producer.NewDeviceFactory(opts, producer.DeviceOptions{
			InputFormat:  cfg.Device.InputFormat,
			PathTemplate: cfg.Device.PathTemplate,
		}),
		producer.NewNetworkFactory(opts, func() media.Demuxer {
			return tsdemux.New(caller.Opener(), log)
		}),
		producer.NewTSFactory(opts, func() media.Demuxer {
			return tsdemux.New(tsdemux.OpenFile, log)
		}),
		producer.NewFileFactory(opts),
	}

	ordered, err := producer.Ordered(available, cfg.Registry.Order)
	if err != nil {
		return nil, err
	}
	return producer.NewRegistry(log, ordered...), nil
}

// reportStatus logs pipeline and SRT counters until done is closed.
func reportStatus(done <-chan struct{}, entry *playout.Entry, ingestReg *ingest.Registry, log *slog.Logger) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}
		attrs := []any{"producer_id", entry.ID, "state", entry.Producer.State()}
		if s, ok := entry.Producer.(interface{ Stats() producer.Stats }); ok {
			st := s.Stats()
			attrs = append(attrs,
				"packets", st.PacketsRead,
				"batches", st.Batches,
				"mismatch_flushes", st.MismatchFlushes,
				"video_out", st.VideoOut,
				"audio_out", st.AudioOut,
				"dropped", st.Dropped,
			)
		}
		for key, st := range ingestReg.Stats() {
			attrs = append(attrs, "srt_"+key+"_bytes", st.BytesReceived)
		}
		log.Info("status", attrs...)
	}
}
