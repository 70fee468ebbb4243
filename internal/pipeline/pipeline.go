// Package pipeline orchestrates an ingestion run: collect feeds, dedupe,
// embed, assign to narrative clusters, sweep for merged narratives, then
// summarize and bias-score anything new. Stages run strictly in order and
// each stage logs its counts, so a run's progress is reconstructible from
// the log alone.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"narrascope/internal/aggregate"
	"narrascope/internal/cluster"
	"narrascope/internal/core"
	"narrascope/internal/embed"
	"narrascope/internal/feeds"
	"narrascope/internal/fetch"
	"narrascope/internal/logger"
	"narrascope/internal/store"
)

// Summarizer is the external LLM collaborator that turns member texts into a
// summary and an optional bias report. The pipeline never calls it while
// holding engine state; clustering is finished before summarization starts.
type Summarizer interface {
	SummarizeCluster(ctx context.Context, texts []string) (string, error)
	AnalyzeBias(ctx context.Context, texts []string) (*core.BiasReport, error)
}

// maxSummaryTexts caps how many member texts are sent per summary call.
const maxSummaryTexts = 20

// Config holds pipeline settings.
type Config struct {
	FeedURLs     []string
	MaxItemAge   time.Duration
	FetchPages   bool // Fetch article pages for full text instead of using RSS descriptions
	BiasAnalysis bool // Run the bias prompt for clusters that lack a report
}

// Pipeline wires the ingestion stages together.
type Pipeline struct {
	cfg        Config
	store      *store.Store
	engine     *cluster.Engine
	agg        *aggregate.Aggregator
	provider   embed.Provider
	summarizer Summarizer // nil disables summarization and bias stages
	feeds      *feeds.Manager
	fetcher    *fetch.Fetcher
	log        *slog.Logger
	running    atomic.Bool
}

// New creates a pipeline. summarizer may be nil, in which case clusters keep
// empty summaries until a later run provides one.
func New(cfg Config, st *store.Store, engine *cluster.Engine, agg *aggregate.Aggregator, provider embed.Provider, summarizer Summarizer) *Pipeline {
	if cfg.MaxItemAge <= 0 {
		cfg.MaxItemAge = 24 * time.Hour
	}
	return &Pipeline{
		cfg:        cfg,
		store:      st,
		engine:     engine,
		agg:        agg,
		provider:   provider,
		summarizer: summarizer,
		feeds:      feeds.NewManager(),
		fetcher:    fetch.NewFetcher(),
		log:        logger.Get(),
	}
}

// Rehydrate restores engine state from the store. Called once at startup,
// before the first Run.
func (p *Pipeline) Rehydrate() error {
	clusters, err := p.store.LoadClusters()
	if err != nil {
		return fmt.Errorf("failed to load persisted clusters: %w", err)
	}
	if len(clusters) == 0 {
		return nil
	}
	items, err := p.store.ListItems()
	if err != nil {
		return fmt.Errorf("failed to load persisted items: %w", err)
	}
	if err := p.engine.Restore(clusters, items); err != nil {
		return fmt.Errorf("failed to restore engine state: %w", err)
	}
	p.log.Info("engine state restored", "clusters", len(clusters), "items", len(items))
	return nil
}

// Run executes one full ingestion pass.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logCounts("initial state")

	if err := p.collect(ctx); err != nil {
		return fmt.Errorf("collect stage: %w", err)
	}
	p.logCounts("after collection")

	if err := p.embedMissing(ctx); err != nil {
		return fmt.Errorf("embed stage: %w", err)
	}
	p.logCounts("after embedding")

	if err := p.assignAll(ctx); err != nil {
		return fmt.Errorf("assign stage: %w", err)
	}
	merges := p.engine.MergeSweep()
	if merges > 0 {
		p.log.Info("merge sweep folded converged narratives", "merges", merges)
	}
	p.logCounts("after clustering")

	if err := p.summarize(ctx); err != nil {
		return fmt.Errorf("summarize stage: %w", err)
	}
	p.logCounts("after summarization")

	if err := p.store.ReplaceClusters(p.engine.Snapshot()); err != nil {
		return fmt.Errorf("checkpoint stage: %w", err)
	}
	return nil
}

// TryRun starts Run unless another run is already in flight. Returns false
// if a run was already active. Used by the refresh endpoint.
func (p *Pipeline) TryRun(ctx context.Context) bool {
	if !p.running.CompareAndSwap(false, true) {
		return false
	}
	go func() {
		defer p.running.Store(false)
		if err := p.Run(ctx); err != nil {
			p.log.Error("pipeline run failed", "error", err.Error())
		}
	}()
	return true
}

// collect fetches the feed set and stores new items, deduplicating by URL
// both within the batch and against previously ingested items.
func (p *Pipeline) collect(ctx context.Context) error {
	urls := p.cfg.FeedURLs
	if len(urls) == 0 {
		urls = feeds.DefaultFeedURLs
	}

	items, errs := p.feeds.CollectLatest(urls, p.cfg.MaxItemAge)
	for _, err := range errs {
		p.log.Warn("feed fetch failed", "error", err.Error())
	}
	p.log.Info("collected feed items", "count", len(items), "feeds", len(urls))

	seen := make(map[string]bool)
	added := 0
	for _, fi := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if fi.Link == "" || seen[fi.Link] {
			continue
		}
		seen[fi.Link] = true

		exists, err := p.store.HasURL(fi.Link)
		if err != nil {
			return err
		}
		if exists {
			continue
		}

		text := fi.Description
		if p.cfg.FetchPages {
			if full, err := p.fetcher.FetchText(fi.Link); err == nil && full != "" {
				text = full
			} else if err != nil {
				p.log.Debug("page fetch failed, keeping feed description", "url", fi.Link, "error", err.Error())
			}
		}

		item := core.ContentItem{
			ID:        uuid.NewString(),
			Platform:  core.PlatformNews,
			Title:     fi.Title,
			Text:      combineTitleText(fi.Title, text),
			URL:       fi.Link,
			Timestamp: fi.Published,
		}
		if err := p.store.SaveItem(item); err != nil {
			return err
		}
		added++
	}
	p.log.Info("stored new items", "added", added, "duplicates", len(items)-added)
	return nil
}

// embedMissing generates embeddings for items that do not have one yet.
// Provider failures skip the item for this run; it is retried on the next
// pass. That is the ingestion-side policy the core deliberately does not own.
func (p *Pipeline) embedMissing(ctx context.Context) error {
	items, err := p.store.ListItemsWithoutEmbedding()
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	embedded, skipped := 0, 0
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		vector, err := p.provider.Embed(ctx, item.Text)
		if err != nil {
			if errors.Is(err, embed.ErrUnavailable) {
				p.log.Warn("embedding unavailable, will retry next run", "item", item.ID, "error", err.Error())
				skipped++
				continue
			}
			return err
		}
		if err := p.store.UpdateItemEmbedding(item.ID, vector); err != nil {
			return err
		}
		embedded++
	}
	p.log.Info("generated embeddings", "embedded", embedded, "skipped", skipped)
	return nil
}

// assignAll feeds embedded items to the engine in ascending timestamp order,
// the documented processing order that keeps cluster assignment reproducible.
// Items the engine already holds are returned unchanged, so re-running after
// a partial failure is safe.
func (p *Pipeline) assignAll(ctx context.Context) error {
	items, err := p.store.ListItems()
	if err != nil {
		return err
	}

	assigned, rejected := 0, 0
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(item.Embedding) == 0 {
			continue // still awaiting embedding
		}
		if _, err := p.engine.Assign(item); err != nil {
			if errors.Is(err, cluster.ErrInvalidEmbedding) {
				p.log.Warn("rejected item with invalid embedding", "item", item.ID, "error", err.Error())
				rejected++
				continue
			}
			return err
		}
		assigned++
	}
	p.log.Info("assigned items to narratives", "assigned", assigned, "rejected", rejected)
	return nil
}

// summarize asks the LLM collaborator for a summary (and optionally a bias
// report) for every cluster that lacks one. Cluster membership is stable by
// this point; failures leave the cluster unsummarized for the next run.
func (p *Pipeline) summarize(ctx context.Context) error {
	if p.summarizer == nil {
		return nil
	}

	summarized := 0
	for _, c := range p.engine.Snapshot() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.Summary != "" && (c.Bias != nil || !p.cfg.BiasAnalysis) {
			continue
		}

		texts, err := p.agg.MemberTexts(c.ID, maxSummaryTexts)
		if err != nil {
			if errors.Is(err, cluster.ErrClusterNotFound) {
				continue // retired by a merge after the snapshot
			}
			return err
		}

		if c.Summary == "" {
			summary, err := p.summarizer.SummarizeCluster(ctx, texts)
			if err != nil {
				p.log.Warn("summarization failed", "cluster", c.ID, "error", err.Error())
				continue
			}
			if err := p.engine.SetSummary(c.ID, summary); err != nil {
				continue
			}
			summarized++
		}

		if p.cfg.BiasAnalysis && c.Bias == nil {
			report, err := p.summarizer.AnalyzeBias(ctx, texts)
			if err != nil {
				p.log.Warn("bias analysis failed", "cluster", c.ID, "error", err.Error())
				continue
			}
			_ = p.engine.SetBias(c.ID, report)
		}
	}
	if summarized > 0 {
		p.log.Info("summarized narratives", "count", summarized)
	}
	return nil
}

func (p *Pipeline) logCounts(stage string) {
	stats, err := p.store.GetStats()
	if err != nil {
		p.log.Warn("failed to gather store stats", "stage", stage, "error", err.Error())
		return
	}
	engineStats := p.engine.Stats()
	p.log.Info("pipeline stage",
		"stage", stage,
		"items", stats.Items,
		"embedded", stats.Embedded,
		"clusters", engineStats.Clusters,
		"summarized", stats.Summarized,
	)
}

func combineTitleText(title, text string) string {
	if title == "" {
		return text
	}
	if text == "" {
		return title
	}
	return title + "\n\n" + text
}
