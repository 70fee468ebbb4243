// Package cmd defines the narrascope CLI: a server command for the dashboard
// API and pipeline commands for ingestion and maintenance.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"narrascope/internal/aggregate"
	"narrascope/internal/cluster"
	"narrascope/internal/config"
	"narrascope/internal/embed"
	"narrascope/internal/llm"
	"narrascope/internal/logger"
	"narrascope/internal/pipeline"
	"narrascope/internal/server"
	"narrascope/internal/store"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "narrascope",
	Short: "Narrative intelligence over conflict news and social media",
	Long: `narrascope ingests news and social-media content about a geopolitical
conflict, clusters similar claims into narratives, summarizes them with an
LLM, and serves the results over an HTTP API.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.narrascope.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(pipelineCmd)
	rootCmd.AddCommand(narrativesCmd)
	rootCmd.AddCommand(sweepCmd)
}

// app bundles the wired components commands work with.
type app struct {
	cfg    *config.Config
	store  *store.Store
	engine *cluster.Engine
	agg    *aggregate.Aggregator
	pipe   *pipeline.Pipeline
}

// buildApp loads config and wires storage, engine, aggregator, and pipeline.
// When no Gemini key is configured the deterministic offline embedder is
// used and summarization is skipped, so every command still works locally.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.App.LogLevel)

	st, err := store.NewStore(cfg.App.DataDir)
	if err != nil {
		return nil, err
	}

	engine := cluster.New(cluster.Config{
		Dimensions:     cfg.Clustering.Dimensions,
		Threshold:      cfg.Clustering.Threshold,
		MergeThreshold: cfg.Clustering.MergeThreshold,
		Epsilon:        cfg.Clustering.Epsilon,
	})

	agg := aggregate.New(engine, aggregate.Options{
		BucketWidth: time.Duration(cfg.Timeline.BucketHours) * time.Hour,
		DenseFill:   cfg.Timeline.DenseFill,
	})

	var provider embed.Provider
	var summarizer pipeline.Summarizer
	if client, err := llm.NewClient(ctx, cfg.Gemini.Model); err == nil {
		provider = client
		summarizer = client
	} else {
		logger.Warn("gemini unavailable, using offline embedder and skipping summaries", "reason", err.Error())
		provider = embed.NewStaticProvider(cfg.Clustering.Dimensions)
	}

	pipe := pipeline.New(pipeline.Config{
		FeedURLs:     cfg.Feeds.URLs,
		MaxItemAge:   time.Duration(cfg.Feeds.MaxAgeHours) * time.Hour,
		FetchPages:   cfg.Feeds.FetchPages,
		BiasAnalysis: cfg.Gemini.BiasAnalysis,
	}, st, engine, agg, provider, summarizer)

	if err := pipe.Rehydrate(); err != nil {
		st.Close()
		return nil, err
	}

	return &app{cfg: cfg, store: st, engine: engine, agg: agg, pipe: pipe}, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.store.Close()

		srv := server.New(a.agg, a.pipe, a.cfg.Server)

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case err := <-errCh:
			return err
		case <-stop:
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			// Checkpoint current cluster state before exit.
			return a.store.ReplaceClusters(a.engine.Snapshot())
		}
	},
}

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run one full ingestion pass (collect, embed, cluster, summarize)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.store.Close()
		return a.pipe.Run(cmd.Context())
	},
}

var narrativesCmd = &cobra.Command{
	Use:   "narratives",
	Short: "List current narratives",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.store.Close()

		sortKey := aggregate.SortByRecency
		if bySize, _ := cmd.Flags().GetBool("by-size"); bySize {
			sortKey = aggregate.SortBySourceCount
		}

		summaries := a.agg.ListClusters(sortKey)
		if len(summaries) == 0 {
			fmt.Println("no narratives yet; run `narrascope pipeline` first")
			return nil
		}
		for _, s := range summaries {
			label := s.Summary
			if label == "" {
				label = "(not yet summarized)"
			}
			fmt.Printf("#%d  sources=%d  platforms=%d  %s .. %s\n    %s\n",
				s.ID, s.SourceCount, s.PlatformCount,
				s.FirstSeen.Format("2006-01-02"), s.LastSeen.Format("2006-01-02"), label)
		}
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Merge narrative clusters whose centroids have converged",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.store.Close()

		merges := a.engine.MergeSweep()
		if err := a.store.ReplaceClusters(a.engine.Snapshot()); err != nil {
			return err
		}
		fmt.Printf("merged %d cluster pairs, %d narratives remain\n", merges, a.engine.Len())
		return nil
	},
}

func init() {
	narrativesCmd.Flags().Bool("by-size", false, "sort by source count instead of recency")
}
