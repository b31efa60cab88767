// scopectl controls a Rigol DS1000Z oscilloscope: synchronization,
// memory depth, binary waveform transfer, measurements and capture I/O.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rjboer/GoScope/internal/config"
	"github.com/rjboer/GoScope/internal/logging"
	"github.com/rjboer/GoScope/internal/scope"
	_ "github.com/rjboer/GoScope/internal/transport/usbtmc"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCLI(os.LookupEnv).root().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cli holds the persistent flags and the collaborators commands share.
type cli struct {
	configPath string
	resource   string
	timeout    time.Duration
	logLevel   string
	logFormat  string

	lookup func(string) (string, bool)
	open   func(ctx context.Context, resource string, opts scope.Options) (*scope.Scope, error)
	stderr io.Writer
}

func newCLI(lookup func(string) (string, bool)) *cli {
	return &cli{
		lookup: lookup,
		open:   scope.Open,
		stderr: os.Stderr,
	}
}

func (c *cli) root() *cobra.Command {
	root := &cobra.Command{
		Use:   "scopectl",
		Short: "Control a Rigol DS1000Z oscilloscope",
		Long: `scopectl talks SCPI to a Rigol DS1000Z over TCP, USB or serial.

Resources:
  TCPIP0::192.168.1.50::5555::SOCKET   raw socket (port defaults to 5555)
  USB0::0x1AB1::0x04CE::<serial>::INSTR USBTMC
  ASRL/dev/ttyUSB0::INSTR              serial
With no resource the first USB instrument, then the first LAN instrument
advertised over mDNS, is used.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.configPath, "config", config.DefaultPath, "config file (YAML)")
	pf.StringVarP(&c.resource, "resource", "r", "", "instrument resource string")
	pf.DurationVar(&c.timeout, "timeout", 0, "I/O timeout per command")
	pf.StringVar(&c.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&c.logFormat, "log-format", "", "log format (text, json)")

	root.AddCommand(
		c.discoverCmd(),
		c.infoCmd(),
		c.statusCmd(),
		c.runCmd(),
		c.stopCmd(),
		c.singleCmd(),
		c.forceCmd(),
		c.resetCmd(),
		c.autoscaleCmd(),
		c.depthCmd(),
		c.getCmd(),
		c.measureCmd(),
		c.measurementsCmd(),
		c.setupCmd(),
		c.waveformCmd(),
		c.csvCmd(),
		c.screenshotCmd(),
		c.settingsCmd(),
		c.monitorCmd(),
		c.configCmd(),
	)
	return root
}

// loadConfig reads the config file and environment, then applies the
// persistent flags the user set explicitly.
func (c *cli) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(c.configPath, c.lookup)
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("resource") {
		cfg.Instrument.Resource = c.resource
	}
	if flags.Changed("timeout") {
		cfg.Instrument.Timeout = c.timeout
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = c.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = c.logFormat
	}
	return cfg, cfg.Validate()
}

func (c *cli) logger(cfg config.Config) (logging.Logger, error) {
	logger, err := logging.FromConfig(cfg.Logging.Level, cfg.Logging.Format, c.stderr)
	if err != nil {
		return nil, err
	}
	logging.SetDefault(logger)
	return logger, nil
}

// session is everything an instrument command needs.
type session struct {
	scope  *scope.Scope
	cfg    config.Config
	logger logging.Logger
	out    io.Writer
}

// withScope opens the instrument, runs fn and closes the instrument again.
func (c *cli) withScope(fn func(ctx context.Context, s *session, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := c.loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, err := c.logger(cfg)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		sc, err := c.open(ctx, cfg.Instrument.Resource, cfg.ScopeOptions(logger))
		if err != nil {
			return err
		}
		defer func() {
			if err := sc.Close(); err != nil {
				logger.Warn("close instrument", logging.F("error", err))
			}
		}()
		return fn(ctx, &session{scope: sc, cfg: cfg, logger: logger, out: cmd.OutOrStdout()}, args)
	}
}
