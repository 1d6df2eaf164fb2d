// Package main hosts the tender crawler entrypoint.
//
// Architecture overview:
//   - Session: internal/session drives a single headless Chromedp browser
//     against the procurement site. Every navigation passes a politeness
//     rate limiter, and every loaded page is checked for the image
//     verification challenge before its content is trusted.
//   - Challenge solving: internal/captcha matches the sample glyph pair
//     against the candidate card grid using downsampled ink signatures and
//     submits the two best cards. Unsolved challenges surface as a typed
//     error so callers can defer the blocked record instead of failing it.
//   - Orchestration: internal/orchestrator runs the discovery phase (walk
//     result pages, upsert organizations then tenders) and the detail phase
//     (fetch each found tender's announcement, persist its fields). Detail
//     fetch failures retry with jittered backoff; challenge-blocked records
//     are requeued once at the end of the run.
//   - Persistence: internal/store/postgres holds organizations, category
//     reference data, and tenders keyed by announcement URL via pgx. The
//     schema is created on startup when missing.
//   - Configuration & plumbing: Viper populates config from file/env with
//     the TENDER_ prefix; zap provides structured logging; progress events
//     are batched through internal/progress to a log sink and a Prometheus
//     sink, with /metrics and /healthz served on the metrics port.
//
// Operational notes:
//   - The crawl is strictly sequential over one browser session; there is
//     no worker pool. Shutdown is coordinated via context cancellation from
//     SIGINT/SIGTERM, and the run stops between records, never mid-write.
//   - Run locally: go run ./cmd/tendercrawler -config config.yaml, or rely
//     on TENDER_* env overrides (TENDER_DB_DSN is required).
package main
