package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rjboer/GoScope/internal/logging"
	"github.com/rjboer/GoScope/internal/mdns"
	"github.com/rjboer/GoScope/internal/scope"
	"github.com/rjboer/GoScope/internal/transport"
)

func (c *cli) discoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "List instruments on USB, serial and the LAN",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := c.logger(cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			ctx := cmd.Context()

			local, err := transport.List(ctx)
			if err != nil {
				logger.Warn("local enumeration incomplete", logging.F("error", err))
			}
			for _, r := range local {
				fmt.Fprintln(out, r)
			}
			hosts, err := mdns.Discover(ctx, cfg.Discovery.Timeout, cfg.Discovery.Services...)
			if err != nil {
				return fmt.Errorf("mdns discovery: %w", err)
			}
			for _, h := range hosts {
				fmt.Fprintf(out, "%s\t%s\t%s\n", h.Resource(), h.Instance, h.Service)
			}
			if len(local) == 0 && len(hosts) == 0 {
				return scope.ErrNoInstrumentFound
			}
			return nil
		},
	}
}

func (c *cli) infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print identity, trigger state, memory depth and sample rate",
		Args:  cobra.NoArgs,
		RunE: c.withScope(func(ctx context.Context, s *session, _ []string) error {
			id, err := s.scope.Identify(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(s.out, "Manufacturer: %s\nModel: %s\nSerial: %s\nFirmware: %s\n",
				id.Manufacturer, id.Model, id.Serial, id.Firmware)
			if st, err := s.scope.Status(ctx); err == nil {
				fmt.Fprintf(s.out, "Trigger: %s\n", st)
			}
			if depth, err := s.scope.MemoryDepth(ctx); err == nil {
				fmt.Fprintf(s.out, "Memory depth: %d\n", depth)
			}
			if rate, err := s.scope.SampleRate(ctx); err == nil {
				fmt.Fprintf(s.out, "Sample rate: %sSa/s\n", scope.EngNotation(rate))
			}
			return nil
		}),
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the trigger state",
		Args:  cobra.NoArgs,
		RunE: c.withScope(func(ctx context.Context, s *session, _ []string) error {
			st, err := s.scope.Status(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(s.out, st)
			return nil
		}),
	}
}

func (c *cli) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start continuous acquisition",
		Args:  cobra.NoArgs,
		RunE: c.withScope(func(ctx context.Context, s *session, _ []string) error {
			return s.scope.Run(ctx)
		}),
	}
}

func (c *cli) stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop acquisition",
		Args:  cobra.NoArgs,
		RunE: c.withScope(func(ctx context.Context, s *session, _ []string) error {
			return s.scope.Stop(ctx)
		}),
	}
}

func printTriggered(s *session, ok bool) {
	if ok {
		fmt.Fprintln(s.out, "triggered")
	} else {
		fmt.Fprintln(s.out, "no trigger")
	}
}

func (c *cli) singleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "single",
		Short: "Arm a single acquisition",
		Args:  cobra.NoArgs,
		RunE: c.withScope(func(ctx context.Context, s *session, _ []string) error {
			ok, err := s.scope.Single(ctx)
			if err != nil {
				return err
			}
			printTriggered(s, ok)
			return nil
		}),
	}
}

func (c *cli) forceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force",
		Short: "Force a trigger",
		Args:  cobra.NoArgs,
		RunE: c.withScope(func(ctx context.Context, s *session, _ []string) error {
			ok, err := s.scope.Force(ctx)
			if err != nil {
				return err
			}
			printTriggered(s, ok)
			return nil
		}),
	}
}

func (c *cli) resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Restore factory defaults (*RST)",
		Args:  cobra.NoArgs,
		RunE: c.withScope(func(ctx context.Context, s *session, _ []string) error {
			return s.scope.Reset(ctx)
		}),
	}
}

func (c *cli) autoscaleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "autoscale",
		Short: "Run the instrument autoscale",
		Args:  cobra.NoArgs,
		RunE: c.withScope(func(ctx context.Context, s *session, _ []string) error {
			ok, err := s.scope.Autoscale(ctx)
			if err != nil {
				return err
			}
			if !ok {
				s.logger.Warn("autoscale did not complete within the trigger wait")
			}
			return nil
		}),
	}
}

func (c *cli) depthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "depth",
		Short: "Read or negotiate the acquisition memory depth",
		Args:  cobra.NoArgs,
		RunE: c.withScope(func(ctx context.Context, s *session, _ []string) error {
			depth, err := s.scope.MemoryDepth(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(s.out, depth)
			return nil
		}),
	}
	get := &cobra.Command{
		Use:   "get",
		Short: "Print the current memory depth",
		Args:  cobra.NoArgs,
		RunE:  cmd.RunE,
	}
	set := &cobra.Command{
		Use:   "set DEPTH|AUTO",
		Short: "Set the memory depth, falling back to the nearest lower supported depth",
		Long: fmt.Sprintf(`Set the memory depth. Supported depths with all channels enabled:
%v
A request the instrument rejects falls back to the next lower depth.`, scope.Ladder()),
		Args: cobra.ExactArgs(1),
		RunE: c.withScope(func(ctx context.Context, s *session, args []string) error {
			got, err := s.scope.SetMemoryDepth(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(s.out, got)
			return nil
		}),
	}
	cmd.AddCommand(get, set)
	return cmd
}

func (c *cli) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get DATUM...",
		Short: "Query raw SCPI settings, e.g. :TIM:MAIN:SCAL",
		Args:  cobra.MinimumNArgs(1),
		RunE: c.withScope(func(ctx context.Context, s *session, args []string) error {
			for _, datum := range args {
				v, err := s.scope.Get(ctx, datum)
				if err != nil {
					return err
				}
				fmt.Fprintf(s.out, "%s\t%s\t%s\n", datum, v.Kind, v)
			}
			return nil
		}),
	}
}

func (c *cli) measureCmd() *cobra.Command {
	var channel int
	cmd := &cobra.Command{
		Use:   "measure NAME...",
		Short: "Read measurement items; with no names every single source item is read",
		RunE: c.withScope(func(ctx context.Context, s *session, args []string) error {
			ch := channel
			if ch == 0 {
				ch = s.cfg.Acquisition.Channel
			}
			names := args
			if len(names) == 0 {
				for _, m := range scope.SingleSource() {
					names = append(names, m.Name)
				}
			}
			for _, name := range names {
				r, err := s.scope.Measure(ctx, ch, name)
				if err != nil {
					return err
				}
				fmt.Fprintln(s.out, r)
			}
			return nil
		}),
	}
	cmd.Flags().IntVarP(&channel, "channel", "c", 0, "channel 1-4 (default from config)")
	return cmd
}

func (c *cli) measurementsCmd() *cobra.Command {
	var dual bool
	cmd := &cobra.Command{
		Use:   "measurements",
		Short: "List the measurement items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list := scope.SingleSource()
			if dual {
				list = scope.DualSource()
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tITEM\tUNIT\tDESCRIPTION")
			for _, m := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.Name, m.Mnemonic, m.Unit, m.Description)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&dual, "dual", false, "list the two-channel items instead")
	return cmd
}

func (c *cli) setupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Configure channels, timebase, trigger and I2C decoding",
	}

	var ch scope.ChannelSetup
	var off bool
	channel := &cobra.Command{
		Use:   "channel",
		Short: "Turn a channel on with a vertical scale, or off",
		Args:  cobra.NoArgs,
		RunE: c.withScope(func(ctx context.Context, s *session, _ []string) error {
			ch.On = !off
			return s.scope.SetupChannel(ctx, ch)
		}),
	}
	channel.Flags().IntVarP(&ch.Channel, "channel", "c", 1, "channel 1-4")
	channel.Flags().Float64Var(&ch.VoltsPerDiv, "volts-per-div", 1, "vertical scale")
	channel.Flags().Float64Var(&ch.OffsetDivs, "offset-divs", 0, "vertical offset in divisions")
	channel.Flags().Float64Var(&ch.Probe, "probe", 10, "probe attenuation")
	channel.Flags().BoolVar(&off, "off", false, "turn the channel off")

	var perDiv, delay string
	timebase := &cobra.Command{
		Use:   "timebase",
		Short: "Set the horizontal scale and delay, e.g. --per-div 1ms --delay 0",
		Args:  cobra.NoArgs,
		RunE: c.withScope(func(ctx context.Context, s *session, _ []string) error {
			scale, offset, err := s.scope.SetupTimebase(ctx, perDiv, delay)
			if err != nil {
				return err
			}
			fmt.Fprintf(s.out, "Timebase %ss/div, delay %ss\n", scope.EngNotation(scale), scope.EngNotation(offset))
			return nil
		}),
	}
	timebase.Flags().StringVar(&perDiv, "per-div", "1ms", "seconds per division")
	timebase.Flags().StringVar(&delay, "delay", "0", "horizontal delay")

	var trigChannel int
	var falling bool
	var level string
	trigger := &cobra.Command{
		Use:   "trigger",
		Short: "Set an edge trigger",
		Args:  cobra.NoArgs,
		RunE: c.withScope(func(ctx context.Context, s *session, _ []string) error {
			return s.scope.SetupTrigger(ctx, trigChannel, !falling, level)
		}),
	}
	trigger.Flags().IntVarP(&trigChannel, "channel", "c", 1, "trigger source channel")
	trigger.Flags().BoolVar(&falling, "falling", false, "trigger on the falling edge")
	trigger.Flags().StringVar(&level, "level", "0", "trigger level, e.g. 100mv")

	var dec scope.I2CDecode
	var decOff bool
	i2c := &cobra.Command{
		Use:   "i2c",
		Short: "Enable or disable an I2C protocol decoder",
		Args:  cobra.NoArgs,
		RunE: c.withScope(func(ctx context.Context, s *session, _ []string) error {
			dec.On = !decOff
			dec.Format = strings.ToUpper(dec.Format)
			return s.scope.SetupI2CDecode(ctx, dec)
		}),
	}
	i2c.Flags().IntVar(&dec.Decoder, "decoder", 1, "decoder 1 or 2")
	i2c.Flags().IntVar(&dec.SDAChannel, "sda", 1, "SDA channel")
	i2c.Flags().IntVar(&dec.SCLChannel, "scl", 2, "SCL channel")
	i2c.Flags().StringVar(&dec.Format, "format", "HEX", "HEX, ASC, DEC, BIN or LINE")
	i2c.Flags().Float64Var(&dec.PositionDivs, "position-divs", 0, "divisions from the bottom of the screen")
	i2c.Flags().BoolVar(&decOff, "off", false, "turn the decoder off")

	cmd.AddCommand(channel, timebase, trigger, i2c)
	return cmd
}
