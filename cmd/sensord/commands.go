package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zeusync/sensormap/internal/config"
	"github.com/zeusync/sensormap/internal/core/observability/log"
	"github.com/zeusync/sensormap/internal/injector"
	"github.com/zeusync/sensormap/internal/verify"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "sensord",
		Short: "Dynamic spatial sensor index demo and verifier",
		Long: `sensord runs a moving-entity simulation on top of a sensor map and
serves its state over HTTP, or checks the map against brute force.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")

	root.AddCommand(newServeCmd(opts), newVerifyCmd(opts))
	return root
}

// load reads the config file and applies flag overrides.
func (o *rootOptions) load() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
		if _, err := cfg.Level(); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		listen   string
		entities int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the simulation and the debug server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.Server.ListenAddr = listen
			}
			if cmd.Flags().Changed("entities") {
				cfg.World.Entities = entities
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			app, err := injector.InitializeApp(cfg)
			if err != nil {
				return err
			}
			if err := app.World.Populate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return app.Server.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "override the listen address")
	cmd.Flags().IntVar(&entities, "entities", 0, "override the number of simulated entities")
	return cmd
}

func newVerifyCmd(opts *rootOptions) *cobra.Command {
	vc := verify.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check queries and update events against brute force",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			level, _ := cfg.Level()
			logger := log.New(level)
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			reports, err := verify.Run(ctx, vc, logger)
			out := cmd.OutOrStdout()
			for _, r := range reports {
				status := "ok"
				if !r.OK() {
					status = fmt.Sprintf("FAILED (%d mismatches)", len(r.Mismatches))
				}
				fmt.Fprintf(out, "seed %d: %d queries, %d updates, %d events, %s: %s\n",
					r.Seed, r.Queries, r.Updates, r.Events, r.Elapsed, status)
				for i, m := range r.Mismatches {
					if i == 5 {
						fmt.Fprintf(out, "  ... %d more\n", len(r.Mismatches)-i)
						break
					}
					fmt.Fprintf(out, "  %s\n", m)
				}
			}
			return err
		},
	}
	f := cmd.Flags()
	f.IntVar(&vc.Volumes, "volumes", vc.Volumes, "random volumes per map")
	f.IntVar(&vc.Probes, "probes", vc.Probes, "random Query probes per map")
	f.IntVar(&vc.Rounds, "rounds", vc.Rounds, "mutation rounds per map, each followed by Update")
	f.IntVar(&vc.Seeds, "seeds", vc.Seeds, "independent maps to check")
	f.Uint64Var(&vc.Seed, "seed", vc.Seed, "first seed")
	f.IntVar(&vc.Parallel, "parallel", vc.Parallel, "maps checked at once (0 for all)")
	f.IntVar(&vc.Depth, "depth", vc.Depth, "octree depth")
	f.Float64Var(&vc.Extent, "extent", vc.Extent, "half size of the octree root")
	return cmd
}
