// Command sourcer finds and downloads a representative image for each item
// in a product catalog.
//
// Architecture overview:
//   - Catalog: internal/catalog reads CSV or XLSX files into SKU/Name/HasImage items.
//   - Pipeline: worker.Runner walks items in order, loading the CSV ledger first so items that already
//     succeeded are skipped. worker.Processor applies skip rules, then worker.Sequencer tries each search
//     strategy (DuckDuckGo, Bing, Yahoo) until the ranker accepts a candidate and the image is saved.
//   - Transport: a colly-based fetcher with a shared token-bucket limiter and rotating user agents; Bing and
//     Yahoo result pages are promoted to headless Chrome when the static HTML carries no results.
//   - Fanout: outcomes are appended to the ledger and optionally mirrored to Postgres, GCS and Pub/Sub;
//     successful images can be published to WordPress/WooCommerce.
//   - Progress: events stream to the caller (CLI lines or SSE) and to a batching hub feeding log,
//     Prometheus and Postgres run-summary sinks.
//
// Usage:
//
//	sourcer run --catalog products.xlsx [--output-dir DIR] [--ledger FILE] [--publish] [--limit N] [--dry-run]
//	sourcer serve [--port N]
package main

import (
	"github.com/JakeFAU/catalog-image-sourcer/cmd"
)

func main() {
	cmd.Execute()
}
