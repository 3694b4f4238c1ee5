package cmd

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zsiec/playout/internal/ingest/srt"
	"github.com/zsiec/playout/internal/tsdemux"
)

var pushCmd = &cobra.Command{
	Use:   "push <file.ts> <srt://host:port?streamid=...>",
	Short: "Publish a transport stream file to an SRT listener in real time",
	Long: `Publish a recorded transport stream to an SRT listener, paced at the
rate implied by its timestamps. Useful for feeding a "play" started with an
srt://...?mode=listener locator.`,
	Args: cobra.ExactArgs(2),
	RunE: runPush,
}

func init() {
	rootCmd.AddCommand(pushCmd)
	pushCmd.Flags().Duration("duration", 0, "known duration of the file (skips the timestamp scan)")
}

func runPush(cmd *cobra.Command, args []string) error {
	file, locator := args[0], args[1]
	log := slog.Default()

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("reading %s: %w", file, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	duration, _ := cmd.Flags().GetDuration("duration")
	if duration <= 0 {
		duration, err = tsdemux.Duration(ctx, bytes.NewReader(data))
		if err != nil {
			return err
		}
	}
	if duration <= 0 {
		return fmt.Errorf("%s has no measurable duration; pass --duration", file)
	}
	rate := float64(len(data)) / duration.Seconds()
	log.Info("publishing file", "file", file, "bytes", len(data), "duration", duration, "bytes_per_sec", int64(rate))

	pub := srt.NewPublisher(srt.Config{Latency: cfg.SRT.Latency, DialTimeout: cfg.SRT.DialTimeout}, log)
	sent, err := pub.Publish(ctx, locator, data, rate)
	log.Info("publish finished", "bytes", sent)
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

