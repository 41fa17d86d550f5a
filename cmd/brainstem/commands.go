package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rapp-os/brainstem/brainstem"
)

func (a *app) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			logger, err := a.logger()
			if err != nil {
				return err
			}

			b, err := brainstem.New(cfg, brainstem.WithLogger(logger), brainstem.WithVersion(version))
			if err != nil {
				return err
			}
			defer b.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("starting brain stem", "addr", cfg.Server.Addr(), "home", b.Config().Home, "version", version)
			return b.Run(ctx)
		},
	}
}

func (a *app) validateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load agents and contexts and report definitions that fail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			cfg.Observer = "noop"

			b, err := brainstem.New(cfg, brainstem.WithVersion(version))
			if err != nil {
				return err
			}
			defer b.Close()

			report, err := b.Load(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, d := range report.Capabilities.List() {
				fmt.Fprintf(w, "agent\t%s\t%s\tok\n", d.Name, d.Source)
			}
			for _, f := range report.Capabilities.Failures() {
				fmt.Fprintf(w, "agent\t-\t%s\t%s\n", f.Source, f.Error)
			}
			for _, c := range report.Contexts.List() {
				fmt.Fprintf(w, "context\t%s\t%s\tok\n", c.ID, c.Name)
			}
			for _, f := range report.Contexts.Failures() {
				fmt.Fprintf(w, "context\t-\t%s\t%s\n", f.Source, f.Error)
			}
			w.Flush()

			if n := report.Failures(); n > 0 {
				return fmt.Errorf("%d definition(s) failed to load", n)
			}
			return nil
		},
	}
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "brainstem %s (%s, %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
