package tender

import (
	"context"
	"time"
)

// Store persists tender records and their reference entities. All keyed
// writes are upsert-by-unique-key; none duplicate rows on rerun.
type Store interface {
	UpsertOrganization(ctx context.Context, org Organization) error
	UpsertCategory(ctx context.Context, cat Category) error
	// UpsertTenderFound inserts a record with StatusFound keyed by URL. It is
	// a no-op when a record with the same URL already exists in any status.
	UpsertTenderFound(ctx context.Context, rec Record) error
	// UpdateTenderDetail merges detail fields into the record identified by
	// url and transitions its status.
	UpdateTenderDetail(ctx context.Context, url string, fields DetailPayload, status ScrapStatus) error
	ListTenders(ctx context.Context, status ScrapStatus) ([]Record, error)
	// OrganizationID returns the site id for a known organization name, or
	// "" when the organization has not been seen yet.
	OrganizationID(ctx context.Context, name string) (string, error)
}

// PageIterator yields discovery result pages lazily. Next blocks for page
// load plus any challenge solving, and returns ErrNoMorePages once the site
// reports its last page. Iterators are finite and non-restartable.
type PageIterator interface {
	Next(ctx context.Context) (ResultPage, error)
}

// Session drives the single browsing session. Implementations own the
// browser lifecycle and are not safe for concurrent use; the crawl pipeline
// is strictly sequential.
type Session interface {
	Search(ctx context.Context, q SearchQuery) (PageIterator, error)
	// FetchDetail loads one detail page and returns its structured payload,
	// or a DetailFetchError on network/parse failure.
	FetchDetail(ctx context.Context, pkPmsMain string) (DetailPayload, error)
	// LookupOrganizationID resolves an organization name to the site id via
	// the site's own org-name search.
	LookupOrganizationID(ctx context.Context, name string) (string, error)
}

// Solver handles the visual challenge gate.
type Solver interface {
	// Present probes whether a challenge currently blocks the page.
	Present(ctx context.Context) (bool, error)
	// Solve runs bounded capture/match/submit attempts. A Failed outcome is
	// not an error; err is reserved for broken sessions.
	Solve(ctx context.Context) (SolveOutcome, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
