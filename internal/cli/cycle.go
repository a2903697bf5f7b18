package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/drgolem/fastsink/pcmsource"
)

// CycleOptions holds flags for the cycle command.
type CycleOptions struct {
	*RootOptions
	Schedule  []time.Duration
	Loops     int
	Tone      float64
	Amplitude float64
}

// NewCycleCommand creates the cycle command.
func NewCycleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CycleOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run a play/pause schedule against an engine",
		Long: `Alternate an engine between Running and Paused following --schedule:
the first duration is spent playing, the second paused, and so on. The
schedule is repeated --loops times, then the engine is destroyed.

Without --tone no refill callback is registered and every running tick
underflows. With --tone the callback feeds an endless sine wave.

Examples:
  fastsink cycle
  fastsink cycle --schedule 500ms,100ms --loops 10 --tone 440
  fastsink cycle --log-level debug`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCycle(opts, cmd)
		},
	}

	cmd.Flags().DurationSliceVar(&opts.Schedule, "schedule",
		[]time.Duration{2 * time.Second, time.Second, 3 * time.Second, time.Second},
		"alternating play and pause durations")
	cmd.Flags().IntVar(&opts.Loops, "loops", 1, "number of times to run the schedule")
	cmd.Flags().Float64Var(&opts.Tone, "tone", 0, "feed a sine wave of this frequency in Hz (0 feeds nothing)")
	cmd.Flags().Float64Var(&opts.Amplitude, "amplitude", 0.25, "sine amplitude, 0 to 1")

	return cmd
}

func runCycle(opts *CycleOptions, cmd *cobra.Command) error {
	if len(opts.Schedule) == 0 {
		return fmt.Errorf("empty schedule")
	}
	if opts.Loops < 1 {
		return fmt.Errorf("loops must be at least 1, got %d", opts.Loops)
	}

	cfg, log, err := opts.load(cmd)
	if err != nil {
		return err
	}

	settings := cfg.Stream.Settings
	var src pcmsource.Source
	if opts.Tone > 0 {
		if settings.SampleSize != pcmsource.BytesPerSample {
			return fmt.Errorf("--tone needs %d-byte samples, config has %d",
				pcmsource.BytesPerSample, settings.SampleSize)
		}
		src = pcmsource.Sine(opts.Tone, opts.Amplitude, settings.SampleRate, settings.Channels, -1)
	}

	s, err := newSession(cfg, log, settings, src)
	if err != nil {
		return err
	}

	err = cycle(cmd.Context(), s, opts.Schedule, opts.Loops)
	d := s.close()
	d.PrintDiagnostics(cmd.OutOrStdout())
	return err
}

// cycle runs the schedule, starting with a play step.
func cycle(ctx context.Context, s *session, schedule []time.Duration, loops int) error {
	for loop := 0; loop < loops; loop++ {
		for i, step := range schedule {
			playing := i%2 == 0
			if err := s.eng.SetPlaying(ctx, playing); err != nil {
				return fmt.Errorf("failed to set playing=%v: %w", playing, err)
			}
			s.log.Debug("cycle step", "loop", loop, "step", i, "playing", playing, "for", step)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(step):
			}
		}
	}
	return nil
}
