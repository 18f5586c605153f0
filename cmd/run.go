package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-image-sourcer/internal/api"
	"github.com/JakeFAU/catalog-image-sourcer/internal/catalog"
	"github.com/JakeFAU/catalog-image-sourcer/internal/progress"
	"github.com/JakeFAU/catalog-image-sourcer/internal/worker"
)

// dryRunItems is how many catalog items a dry run processes.
const dryRunItems = 5

type runFlags struct {
	catalog string
	limit   int
	dryRun  bool
}

// newRunCmd creates the 'run' subcommand, which sources images for a
// catalog file in one pass.
func newRunCmd(opts *overrides) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sources images for every item in a catalog file",
		Long: `Reads a CSV or XLSX catalog, then searches, ranks, downloads and
optionally publishes an image for each item. Items already recorded as
successful in the ledger are skipped, so an interrupted run can simply be
started again.`,
		Args: cobra.NoArgs,
		PreRunE: func(*cobra.Command, []string) error {
			if flags.catalog == "" {
				return errors.New("--catalog is required")
			}
			if flags.limit < 0 {
				return errors.New("--limit must not be negative")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSourcing(cmd, flags, opts.publish)
		},
	}
	cmd.Flags().StringVar(&flags.catalog, "catalog", "", "catalog file (.csv or .xlsx)")
	cmd.Flags().StringVar(&opts.outputDir, "output-dir", "", "directory for downloaded images")
	cmd.Flags().StringVar(&opts.ledger, "ledger", "", "ledger CSV path")
	cmd.Flags().BoolVar(&opts.publish, "publish", false, "publish images to the configured store")
	cmd.Flags().IntVar(&flags.limit, "limit", 0, "process at most N items (0 means all)")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, fmt.Sprintf("process only the first %d items", dryRunItems))
	return cmd
}

func runSourcing(cmd *cobra.Command, flags *runFlags, publish bool) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()

	items, err := catalog.Load(flags.catalog)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	limit := flags.limit
	if flags.dryRun && (limit == 0 || limit > dryRunItems) {
		limit = dryRunItems
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	logger.Info("catalog loaded",
		zap.String("path", flags.catalog),
		zap.Int("items", len(items)),
		zap.Bool("dry_run", flags.dryRun),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	summary, err := appInstance.Run(ctx, api.RunRequest{Items: items, Publish: publish}, printer(out))
	printSummary(out, summary)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run catalog: %w", err)
	}
	return nil
}

// printer writes one line per progress event.
func printer(w io.Writer) progress.Emitter {
	return progress.EmitterFunc(func(evt progress.Event) {
		line := fmt.Sprintf("[%s] %-18s %s", evt.SKU, evt.Phase, evt.Message)
		if evt.Score > 0 {
			line += fmt.Sprintf(" (score %d)", evt.Score)
		}
		if evt.SavedFilename != "" {
			line += " -> " + evt.SavedFilename
		}
		_, _ = fmt.Fprintln(w, line)
	})
}

func printSummary(w io.Writer, s worker.Summary) {
	_, _ = fmt.Fprintf(w, "run %s: %d processed, %d succeeded, %d failed, %d skipped, %d published\n",
		s.RunID, s.Total, s.Succeeded, s.Failed, s.Skipped, s.Published)
}
