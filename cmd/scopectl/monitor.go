package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rjboer/GoScope/internal/app"
	"github.com/rjboer/GoScope/internal/config"
	"github.com/rjboer/GoScope/internal/logging"
	"github.com/rjboer/GoScope/internal/scope"
	"github.com/rjboer/GoScope/internal/telemetry"
)

func (c *cli) monitorCmd() *cobra.Command {
	var (
		channel  int
		interval time.Duration
		count    int
		webAddr  string
		rng      string
	)
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Repeatedly capture single acquisitions and report waveform statistics",
		Long: `monitor arms a single acquisition, reads the waveform, and reports its
statistics and dominant frequency on every interval. With --web-addr the
captures are also served at /api/history and streamed over /api/live.`,
		Args: cobra.NoArgs,
		RunE: c.withScope(func(ctx context.Context, s *session, _ []string) error {
			if channel == 0 {
				channel = s.cfg.Acquisition.Channel
			}
			if webAddr == "" {
				webAddr = s.cfg.Web.ListenAddr
			}
			cfg := app.Config{Channel: channel, Interval: interval, Count: count}
			if rng != "" {
				r, err := scope.ParseSampleRange(rng)
				if err != nil {
					return err
				}
				cfg.Range = &r
			}

			reporters := telemetry.MultiReporter{telemetry.NewStdoutReporter(s.logger)}
			if webAddr != "" {
				hub := telemetry.NewHub(s.cfg.Web.HistoryLimit, s.logger)
				reporters = append(reporters, hub)
				go func() {
					if err := telemetry.NewWebServer(webAddr, hub).Start(ctx); err != nil {
						s.logger.Error("web telemetry stopped", logging.F("error", err))
					}
				}()
				fmt.Fprintf(s.out, "Web telemetry: http://localhost%s/api/live\n", webAddr)
			}

			mon := app.NewMonitor(s.scope, reporters, s.logger, cfg)
			err := mon.Run(ctx)
			fmt.Fprintf(s.out, "%d captures\n", mon.Captures())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}),
	}
	f := cmd.Flags()
	f.IntVarP(&channel, "channel", "c", 0, "channel 1-4 (default from config)")
	f.DurationVar(&interval, "interval", time.Second, "time between captures")
	f.IntVar(&count, "count", 0, "stop after this many captures (0 runs until interrupted)")
	f.StringVar(&webAddr, "web-addr", "", "serve telemetry on this address, e.g. :8080")
	f.StringVar(&rng, "range", "", "sample range n or lo:hi (default whole memory)")
	return cmd
}

func (c *cli) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or show the config file",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(c.configPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", c.configPath)
			}
			if err := config.Default().Save(c.configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", c.configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective config after environment and flag overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig(cmd)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	cmd.AddCommand(initCmd, show)
	return cmd
}
