package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/reporter/config"
	"github.com/mohammad-safakhou/reporter/internal/index"
	"github.com/mohammad-safakhou/reporter/internal/report"
	"github.com/mohammad-safakhou/reporter/internal/runtime"
	srv "github.com/mohammad-safakhou/reporter/internal/server"
)

func main() {
	var root = &cobra.Command{Use: "reporter"}

	root.AddCommand(serveCMD(), migrateCMD(), generateCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCMD() *cobra.Command {
	var serveAddr string
	var cfgPath string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			return srv.Run(cfg, serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return serve
}

func migrateCMD() *cobra.Command {
	var migDir string
	var migDirDefault = "file://migrations"
	var direction string
	var steps int
	var cfgPath string

	var migrate = &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			dsn, err := runtime.BuildPostgresDSN(cfg)
			if err != nil {
				return err
			}
			if migDir == "" {
				migDir = migDirDefault
			}
			return srv.Migrate(migDir, dsn, direction, steps)
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", migDirDefault, "migrations source (file://migrations)")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	migrate.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return migrate
}

// generateCMD runs the whole pipeline once without the service surface:
// outline, execute, print markdown to stdout or a file.
func generateCMD() *cobra.Command {
	var cfgPath string
	var organization string
	var contextInfo string
	var outPath string
	var timeout time.Duration

	var generate = &cobra.Command{
		Use:   "generate [topic]",
		Short: "Generate a report for a topic in one shot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			topic := args[0]

			model, err := runtime.BuildModelProvider(cfg)
			if err != nil {
				return err
			}
			search, err := runtime.BuildSearcher(cfg)
			if err != nil {
				return err
			}

			if timeout <= 0 {
				timeout = cfg.General.DefaultTimeout
			}
			if timeout <= 0 {
				timeout = 30 * time.Minute
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			planner := report.NewPlanner(model)
			plan, err := planner.GenerateInitialPlan(ctx, topic, organization, contextInfo)
			if err != nil {
				return err
			}
			log.Printf("outline ready: %d sections", len(plan.Sections))

			prepared, err := planner.PrepareForExecution(plan, report.ExecutionOptions{
				MaxConcurrentSections: cfg.Engine.MaxConcurrentSections,
				MaxSearchQueries:      cfg.Engine.MaxSearchQueries,
			})
			if err != nil {
				return err
			}

			opts := []report.EngineOption{
				report.WithSnippetLimit(cfg.Engine.SnippetLimit),
				report.WithProgress(cfg.Engine.ProgressInterval, func(snap report.ProgressSnapshot) {
					log.Printf("progress: %d/%d done, %d failed", snap.Completed, snap.Total, snap.Failed)
				}),
			}
			if cfg.Engine.RankSnippets {
				opts = append(opts, report.WithSnippetRanker(index.NewSnippetRanker()))
			}
			engine := report.NewEngine(model, search, opts...)

			rep, err := engine.Execute(ctx, prepared)
			if err != nil {
				return err
			}

			md := srv.RenderMarkdownReport(rep)
			if outPath != "" {
				if err := os.WriteFile(outPath, []byte(md), 0o644); err != nil {
					return err
				}
				log.Printf("report written to %s", outPath)
				return nil
			}
			fmt.Println(md)
			return nil
		},
	}
	generate.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	generate.Flags().StringVar(&organization, "organization", "", "structural instruction for the outline")
	generate.Flags().StringVar(&contextInfo, "context", "", "background context for the outline")
	generate.Flags().StringVarP(&outPath, "out", "o", "", "write markdown to file instead of stdout")
	generate.Flags().DurationVar(&timeout, "timeout", 0, "overall timeout (default from config)")

	return generate
}
