package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rjboer/GoScope/internal/dsp"
	"github.com/rjboer/GoScope/internal/logging"
	"github.com/rjboer/GoScope/internal/scope"
)

// createOutput opens path for writing, refusing to clobber unless force.
func createOutput(path string, force bool) (*os.File, error) {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	return os.OpenFile(path, flags, 0o644)
}

func (c *cli) waveformCmd() *cobra.Command {
	var (
		channel     int
		start, stop int
		scale       string
		depth       string
		out         string
		force       bool
	)
	cmd := &cobra.Command{
		Use:   "waveform",
		Short: "Read raw 8-bit samples from memory into a binary file",
		Long: `Read raw BYTE samples of one channel. The instrument is stopped and
memory is fetched in windows of 250000 samples. --start and --stop select
a zero-based half-open sample range; by default the whole memory is read.`,
		Args: cobra.NoArgs,
		RunE: c.withScope(func(ctx context.Context, s *session, _ []string) error {
			if channel == 0 {
				channel = s.cfg.Acquisition.Channel
			}
			if scale == "" {
				scale = s.cfg.Acquisition.Scale
			}
			sc, err := scope.ParseScale(scale)
			if err != nil {
				return err
			}
			if depth == "" {
				depth = s.cfg.Acquisition.MemoryDepth
			}
			if depth != "" {
				got, err := s.scope.SetMemoryDepth(ctx, depth)
				if err != nil {
					return err
				}
				s.logger.Info("memory depth set", logging.F("requested", depth), logging.F("depth", got))
			}

			req := scope.WaveformRequest{Channel: channel, Scale: sc}
			if start > 0 || stop > 0 {
				hi := stop
				if hi == 0 {
					hi = scope.MaxDepth
				}
				if hi < start {
					return fmt.Errorf("--stop %d is before --start %d", stop, start)
				}
				req.Range = &scope.SampleRange{Lo: start, Hi: hi}
			}
			wf, err := s.scope.ReadRawWaveform(ctx, req)
			if err != nil {
				return err
			}

			if out == "" {
				out = fmt.Sprintf("ch%d.bin", wf.Channel)
			}
			f, err := createOutput(out, force)
			if err != nil {
				return err
			}
			if _, err := f.Write(wf.Samples); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}

			st := dsp.Summarize(wf.Samples)
			fmt.Fprintf(s.out, "Wrote %d samples of channel %d (depth %d, %d windows) to %s\n",
				len(wf.Samples), wf.Channel, wf.Depth, wf.Windows, out)
			fmt.Fprintf(s.out, "min %.0f max %.0f mean %.2f stddev %.2f\n", st.Min, st.Max, st.Mean, st.StdDev)
			if wf.Truncated {
				fmt.Fprintf(s.out, "warning: instrument returned fewer samples than requested %s\n", wf.Range)
			}
			return nil
		}),
	}
	f := cmd.Flags()
	f.IntVarP(&channel, "channel", "c", 0, "channel 1-4 (default from config)")
	f.IntVar(&start, "start", 0, "first sample index")
	f.IntVar(&stop, "stop", 0, "sample index after the last one (0 reads to the end of memory)")
	f.StringVar(&scale, "scale", "", "raw or uint8 (default from config)")
	f.StringVar(&depth, "depth", "", "memory depth to negotiate before reading, or AUTO")
	f.StringVarP(&out, "out", "o", "", "output file (default ch<N>.bin)")
	f.BoolVar(&force, "force", false, "overwrite an existing output file")
	return cmd
}

func (c *cli) csvCmd() *cobra.Command {
	var (
		channel int
		out     string
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "csv",
		Short: "Save the screen waveform as ASCII readings, one per line",
		Args:  cobra.NoArgs,
		RunE: c.withScope(func(ctx context.Context, s *session, _ []string) error {
			if channel == 0 {
				channel = s.cfg.Acquisition.Channel
			}
			if out == "" {
				out = fmt.Sprintf("ch%d.csv", channel)
			}
			f, err := createOutput(out, force)
			if err != nil {
				return err
			}
			n, err := s.scope.WriteWaveformCSV(ctx, channel, f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(s.out, "Wrote %d readings of channel %d to %s\n", n, channel, out)
			return nil
		}),
	}
	cmd.Flags().IntVarP(&channel, "channel", "c", 0, "channel 1-4 (default from config)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default ch<N>.csv)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing output file")
	return cmd
}

func (c *cli) screenshotCmd() *cobra.Command {
	var (
		out   string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "screenshot",
		Short: "Save the display as PNG",
		Args:  cobra.NoArgs,
		RunE: c.withScope(func(ctx context.Context, s *session, _ []string) error {
			f, err := createOutput(out, force)
			if err != nil {
				return err
			}
			n, err := s.scope.ScreenCapture(ctx, f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(s.out, "Wrote %d bytes to %s\n", n, out)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&out, "out", "o", "screenshot.png", "output file")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing output file")
	return cmd
}

func (c *cli) settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Save or restore the instrument setup",
	}
	var force bool
	save := &cobra.Command{
		Use:   "save FILE",
		Short: "Save the setup blob (.stp)",
		Args:  cobra.ExactArgs(1),
		RunE: c.withScope(func(ctx context.Context, s *session, args []string) error {
			f, err := createOutput(args[0], force)
			if err != nil {
				return err
			}
			n, err := s.scope.SaveSettings(ctx, f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(s.out, "Wrote %d bytes to %s\n", n, args[0])
			return nil
		}),
	}
	save.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	restore := &cobra.Command{
		Use:   "restore FILE",
		Short: "Send a saved setup blob back to the instrument",
		Args:  cobra.ExactArgs(1),
		RunE: c.withScope(func(ctx context.Context, s *session, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return s.scope.RestoreSettings(ctx, f)
		}),
	}
	cmd.AddCommand(save, restore)
	return cmd
}
