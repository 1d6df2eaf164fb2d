package tender

import (
	"errors"
	"fmt"
)

// Sentinel errors for the challenge and crawl subsystems.
var (
	// ErrDetectionIncomplete means the matcher could not locate the full
	// tile grid in a capture. Recoverable with a fresh capture only.
	ErrDetectionIncomplete = errors.New("challenge detection incomplete")

	// ErrNoMatch means no tile pairing cleared the similarity threshold.
	// Recoverable with a fresh capture only.
	ErrNoMatch = errors.New("no tile match above threshold")

	// ErrChallengeUnsolved means the solver exhausted its attempt budget.
	ErrChallengeUnsolved = errors.New("challenge unsolved after max attempts")

	// ErrNoMorePages terminates a result-page iterator.
	ErrNoMorePages = errors.New("no more result pages")

	// ErrOrganizationNotFound means the site's org-name search produced no id.
	ErrOrganizationNotFound = errors.New("organization id not found on site")
)

// DetailFetchError wraps network or parse failures on a tender detail page.
// It is distinct from a challenge failure: the orchestrator retries it a
// bounded number of times and then marks the record failed.
type DetailFetchError struct {
	URL string
	Err error
}

func (e *DetailFetchError) Error() string {
	return fmt.Sprintf("fetch detail %s: %v", e.URL, e.Err)
}

func (e *DetailFetchError) Unwrap() error { return e.Err }

// NewDetailFetchError wraps err as a DetailFetchError for the given URL.
func NewDetailFetchError(url string, err error) *DetailFetchError {
	return &DetailFetchError{URL: url, Err: err}
}

// IsDetailFetchError reports whether err is (or wraps) a DetailFetchError.
func IsDetailFetchError(err error) bool {
	var dfe *DetailFetchError
	return errors.As(err, &dfe)
}
