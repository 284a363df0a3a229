package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wikimoves/internal/config"
	"wikimoves/internal/logger"
	"wikimoves/internal/mediawiki"
	"wikimoves/internal/metrics"
	"wikimoves/internal/reconcile"
	"wikimoves/internal/report"
	"wikimoves/internal/status"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootFlags struct {
	configPath string
	dryRun     bool
	debug      bool
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "wikimoves",
		Short:         "Report page moves the mirror wiki has not followed",
		Long:          "Reads the primary wiki's move log for the last week and posts a report of unreconciled moves to the mirror wiki.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(flags, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer func() { _ = a.log.Sync() }()

			// a failed run is reported through the log; the exit status stays 0
			if err := a.svc.Run(cmd.Context()); err != nil {
				a.log.Error("run aborted", zap.Error(err))
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().BoolVar(&flags.dryRun, "dry-run", false, "print the report sections instead of editing the mirror wiki")
	cmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(newServeCommand(flags))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "wikimoves version %s\n", version)
		},
	})
	return cmd
}

type app struct {
	cfg             *config.Config
	log             *zap.Logger
	registry        *prometheus.Registry
	primary, mirror *mediawiki.Client
	svc             reconcile.Service
}

func newApp(flags *rootFlags, out io.Writer) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if flags.dryRun {
		cfg.Run.DryRun = true
	}
	if flags.debug {
		cfg.Logging.Level = "debug"
		cfg.Logging.Development = true
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	newClient := func(name, apiURL string) (*mediawiki.Client, error) {
		return mediawiki.NewClient(apiURL,
			mediawiki.WithName(name),
			mediawiki.WithUserAgent(cfg.HTTP.UserAgent),
			mediawiki.WithTimeout(cfg.HTTP.Timeout),
			mediawiki.WithInsecureSkipVerify(cfg.HTTP.InsecureSkipVerify),
			mediawiki.WithLogger(log),
			mediawiki.WithObserver(m.Observer()),
		)
	}
	primary, perr := newClient("primary", cfg.Primary.APIURL)
	mirror, merr := newClient("mirror", cfg.Mirror.APIURL)
	if err := errors.Join(perr, merr); err != nil {
		return nil, err
	}

	pubOpts := []report.PublisherOption{
		report.WithPage(cfg.Report.Page),
		report.WithSummary(cfg.Report.Summary),
		report.WithMention(cfg.Report.Mention),
		report.WithLocation(cfg.Location()),
		report.WithPublisherLogger(log),
	}
	if cfg.Run.DryRun {
		pubOpts = append(pubOpts, report.WithDryRun(out))
	}

	svc := reconcile.NewService(primary, mirror,
		reconcile.Credentials{Username: cfg.Primary.Username, Password: cfg.Primary.Password},
		reconcile.Credentials{Username: cfg.Mirror.Username, Password: cfg.Mirror.Password},
		reconcile.WithNamespaces(cfg.Run.Namespaces),
		reconcile.WithWindow(cfg.Run.Window),
		reconcile.WithResolver(status.NewResolver(
			status.WithBatchSize(cfg.Run.BatchSize),
			status.WithInterval(cfg.Run.BatchInterval),
			status.WithLogger(log),
		)),
		reconcile.WithPublisher(report.NewPublisher(mirror, pubOpts...)),
		reconcile.WithMetrics(m),
		reconcile.WithLogger(log),
	)

	log.Debug("configuration loaded",
		zap.String("primary", primary.APIURL()),
		zap.String("mirror", mirror.APIURL()),
		zap.Ints("namespaces", cfg.Run.Namespaces),
		zap.Bool("dry_run", cfg.Run.DryRun))

	return &app{cfg: cfg, log: log, registry: reg, primary: primary, mirror: mirror, svc: svc}, nil
}
