package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/drgolem/fastsink/fastsink"
	"github.com/drgolem/fastsink/pcmsource"
)

// PlayOptions holds flags for the play command.
type PlayOptions struct {
	*RootOptions
	Duration time.Duration
	BufferMs int
	Progress time.Duration
}

// NewPlayCommand creates the play command.
func NewPlayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "play FILE",
		Short: "Feed a decoded audio file through the sink",
		Long: `Decode FILE to 16-bit PCM and feed it to a fastsink engine from the
refill callback. Playback stops once the file is drained, when --duration
elapses, or on interrupt.

Supported formats: wav, aiff, aif, mp3, ogg.

Examples:
  fastsink play music.wav
  fastsink play --duration 5s --buffer-ms 500 music.mp3
  fastsink play --config fastsink.yaml --lock-free music.ogg`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(opts, cmd, args[0])
		},
	}

	cmd.Flags().DurationVarP(&opts.Duration, "duration", "d", 0, "stop after this long (0 plays to the end)")
	cmd.Flags().IntVar(&opts.BufferMs, "buffer-ms", 0, "ring buffer length in ms (0 uses the config)")
	cmd.Flags().DurationVar(&opts.Progress, "progress", time.Second, "interval between progress log lines (0 disables)")

	return cmd
}

func runPlay(opts *PlayOptions, cmd *cobra.Command, path string) error {
	cfg, log, err := opts.load(cmd)
	if err != nil {
		return err
	}

	src, err := pcmsource.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer src.Close()

	bufferMs := cfg.Stream.BufferMs
	if opts.BufferMs > 0 {
		bufferMs = opts.BufferMs
	}
	settings := pcmsource.Settings(src, bufferMs)

	s, err := newSession(cfg, log, settings, src)
	if err != nil {
		return err
	}
	log.Info("playing", "file", path, "rate", settings.SampleRate,
		"channels", settings.Channels, "buffer_ms", bufferMs)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	start := time.Now()
	err = play(ctx, s, opts.Progress)
	d := s.close()

	log.Info("playback finished", "elapsed", time.Since(start).Round(time.Millisecond),
		"source_bytes", s.srcBytes)
	d.PrintDiagnostics(cmd.OutOrStdout())
	return err
}

// play prefills the ring, starts the engine and blocks until the source is
// drained or ctx ends.
func play(ctx context.Context, s *session, progress time.Duration) error {
	s.refill(ctx, s.eng, s.eng.WriteThreshold())
	if err := s.eng.Play(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return waitDrained(gctx, s)
	})
	if progress > 0 {
		g.Go(func() error {
			return reportProgress(gctx, s, progress)
		})
	}

	return g.Wait()
}

// waitDrained returns once the source has ended and the ring is empty.
// Cancellation of ctx is a normal stop.
func waitDrained(ctx context.Context, s *session) error {
	select {
	case <-ctx.Done():
		return nil
	case <-s.eof:
	}

	t := time.NewTicker(s.eng.Diagnostics().TickInterval)
	defer t.Stop()
	for s.eng.Buffered() > 0 {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
	return nil
}

func reportProgress(ctx context.Context, s *session, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			d := s.eng.Diagnostics()
			s.log.Info("progress",
				"ticks", d.Ticks,
				"buffered_ms", fmt.Sprintf("%.1f", d.BufferedMs()),
				"underflows", d.Underflows,
				"refills", d.RefillsScheduled)
			if d.State == fastsink.StateDestroyed {
				return nil
			}
		}
	}
}
