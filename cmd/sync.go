package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/catalog-image-sourcer/internal/catalogsync"
)

const syncNameWidth = 30

type syncFlags struct {
	limit int
}

// newSyncCmd creates the 'sync' subcommand, which uses the WordPress store
// itself as the catalog.
func newSyncCmd(opts *overrides) *cobra.Command {
	flags := &syncFlags{}
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fills in missing images and categories in the WordPress store",
		Long: `Pages through the store's products and picks those with no image or with
only the "Uncategorized" category. Missing images are sourced like a catalog
run and categories are predicted from the product name. Without --apply
nothing is uploaded and no product is changed.`,
		Args: cobra.NoArgs,
		PreRunE: func(*cobra.Command, []string) error {
			if flags.limit < 0 {
				return errors.New("--limit must not be negative")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, flags, opts.apply)
		},
	}
	cmd.Flags().IntVar(&flags.limit, "limit", 0, "handle at most N products (0 uses sync.limit)")
	cmd.Flags().BoolVar(&opts.apply, "apply", false, "upload images and update categories in the store")
	cmd.Flags().StringVar(&opts.outputDir, "output-dir", "", "directory for downloaded images")
	cmd.Flags().StringVar(&opts.ledger, "ledger", "", "ledger CSV path")
	return cmd
}

func runSync(cmd *cobra.Command, flags *syncFlags, apply bool) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	mode := "DRY RUN (no changes applied)"
	if apply {
		mode = "LIVE (changes will be applied)"
	}
	_, _ = fmt.Fprintf(out, "sync mode: %s\n", mode)

	report, err := appInstance.Sync(ctx, catalogsync.Options{Limit: flags.limit, Apply: apply}, printer(out))
	printSyncReport(out, report)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sync store: %w", err)
	}
	return nil
}

func printSyncReport(w io.Writer, r catalogsync.Report) {
	if len(r.Results) == 0 {
		_, _ = fmt.Fprintln(w, "no products need images or categories")
		return
	}
	_, _ = fmt.Fprintf(w, "%-8s %-15s %-30s %-28s %s\n", "ID", "SKU", "Name", "Image", "Category")
	_, _ = fmt.Fprintln(w, strings.Repeat("-", 100))
	for _, res := range r.Results {
		_, _ = fmt.Fprintf(w, "%-8d %-15s %-30s %-28s %s\n",
			res.ProductID, res.SKU, shorten(res.Name, syncNameWidth), res.ImageStatus, res.CategoryStatus)
	}
	_, _ = fmt.Fprintf(w, "images: %d/%d sourced\n", r.ImagesSourced(), len(r.Results))
	_, _ = fmt.Fprintf(w, "categories: %d/%d predicted\n", r.CategoriesPredicted(), len(r.Results))
	if !r.Apply {
		_, _ = fmt.Fprintln(w, "dry run: use --apply to make changes")
	}
}

func shorten(s string, width int) string {
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:width-2]) + ".."
}
