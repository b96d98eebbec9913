package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/sitechat-go/internal/ingestion"
	"github.com/54b3r/sitechat-go/internal/logging"
	"github.com/54b3r/sitechat-go/internal/store"
)

// NewIngestCmd constructs the `sitechat ingest` command, which indexes one or
// more paginated windows of the site's sitemap into the vector store.
func NewIngestCmd() *cobra.Command {
	var only string
	var limit int
	var offset int
	var pageURL string
	var follow bool
	var resume bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Index the site's sitemap pages into the vector store",
		Long: `Resolve SITE_BASE_URL's sitemap, fetch each selected page, extract its
text, chunk, embed and upsert it into the vector store.

One invocation processes a single window of --limit pages starting at
--offset. Use --follow to keep going until the sitemap is exhausted, or
--resume to start where the last recorded run for the same sections stopped.

Required environment variables:
  SITE_BASE_URL        Site origin, e.g. https://www.example.com
  VECTOR_STORE         qdrant (default) or postgres
  EMBEDDING_PROVIDER   Embedding backend (default: MODEL_PROVIDER)

Examples:
  sitechat ingest --only pages,policies
  sitechat ingest --limit 50 --follow
  sitechat ingest --resume
  sitechat ingest --url https://www.example.com/pages/shipping`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			sections, err := ingestion.ParseSections(only)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			if pageURL != "" && (follow || resume) {
				return fmt.Errorf("ingest: --url cannot be combined with --follow or --resume")
			}

			site, err := siteURL()
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			vs, _, err := buildVectorStore(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer func() { _ = vs.Close() }()

			pipeline, err := buildPipeline(ctx, log, vs, buildFetcher(), nil)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			var runs store.RunLog
			if rl := openRunLog(log); rl != nil {
				defer func() { _ = rl.Close() }()
				runs = rl
			}

			req := ingestion.Request{Sections: sections, Limit: limit, Offset: offset, URL: pageURL}

			if resume {
				next, ok := resumeOffset(ctx, log, runs, site, sections)
				if !ok {
					log.Info("ingest: nothing to resume, the last run reached the end")
					return nil
				}
				req.Offset = next
			}

			for {
				started := time.Now()
				stats, runErr := pipeline.Run(ctx, req)
				recordRun(ctx, log, runs, store.FromStats(store.TriggerCLI, site, req, stats, runErr, started))
				if runErr != nil {
					return fmt.Errorf("ingest: %w", runErr)
				}

				log.Info("ingest: window complete",
					slog.Int("offset", stats.Offset),
					slog.Int("limit", stats.Limit),
					slog.Int("total", stats.Total),
					slog.Int("processed", stats.Processed),
					slog.Int("skipped", stats.Skipped),
					slog.Int("chunks", stats.Chunks),
					slog.Int("pruned", stats.Pruned),
				)

				if stats.Done() {
					log.Info("ingest: reached the end of the sitemap", slog.Int("total", stats.Total))
					return nil
				}
				if !follow {
					log.Info("ingest: more pages remain", slog.Int("next_offset", *stats.NextOffset))
					return nil
				}
				if err := ctx.Err(); err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				req.Offset = *stats.NextOffset
			}
		},
	}

	cmd.Flags().StringVar(&only, "only", "", "Comma-separated sections to index (pages, policies, collections, products, blogs)")
	cmd.Flags().IntVarP(&limit, "limit", "l", ingestion.DefaultLimit, fmt.Sprintf("Pages per window (max %d)", ingestion.MaxLimit))
	cmd.Flags().IntVarP(&offset, "offset", "o", 0, "Index of the first page in the sorted sitemap")
	cmd.Flags().StringVarP(&pageURL, "url", "u", "", "Ingest exactly this page instead of the sitemap")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep processing windows until the sitemap is exhausted")
	cmd.Flags().BoolVar(&resume, "resume", false, "Start from the next offset of the last recorded run")

	return cmd
}

// resumeOffset returns the next offset recorded by the last successful run
// for site and sections. ok is false when that run finished the sitemap. A
// missing ledger or history starts from zero.
func resumeOffset(ctx context.Context, log *slog.Logger, runs store.RunLog, site string, sections []ingestion.Section) (int, bool) {
	if runs == nil {
		log.Warn("ingest: run ledger disabled, resuming from offset 0")
		return 0, true
	}
	last, found, err := runs.LastRun(ctx, site, ingestion.JoinSections(sections))
	if err != nil {
		log.Warn("ingest: could not read last run, resuming from offset 0", slog.Any("error", err))
		return 0, true
	}
	if !found {
		return 0, true
	}
	if last.NextOffset == nil {
		return 0, false
	}
	log.Info("ingest: resuming", slog.Int64("run_id", last.ID), slog.Int("offset", *last.NextOffset))
	return *last.NextOffset, true
}

// recordRun persists run when the ledger is open. Failures are logged only.
func recordRun(ctx context.Context, log *slog.Logger, runs store.RunLog, run store.Run) {
	if runs == nil {
		return
	}
	if _, err := runs.Record(context.WithoutCancel(ctx), run); err != nil {
		log.Warn("ingest: failed to record run", slog.Any("error", err))
	}
}
