// Package tender defines core types shared across subsystems.
package tender

import "time"

// ScrapStatus represents the lifecycle state of a tender record.
type ScrapStatus string

// Record status values persisted in the store. A record only ever moves
// found -> finished or found -> failed; discovery never regresses a record.
const (
	StatusFound    ScrapStatus = "found"
	StatusFinished ScrapStatus = "finished"
	StatusFailed   ScrapStatus = "failed"
)

// Organization is a reference entity keyed by the id the remote site assigns.
type Organization struct {
	SiteID string `json:"site_id"`
	Name   string `json:"name"`
}

// Category is a tender classification entry imported from a reference file.
type Category struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Group string `json:"category"`
}

// Record is the durable tender entity. URL is the natural key; at most one
// logical record exists per tender URL.
type Record struct {
	OrganizationID  string      `json:"organization_id"`
	OrgName         string      `json:"org_name"`
	TenderNo        string      `json:"tender_no"`
	ProjectName     string      `json:"project_name"`
	URL             string      `json:"url"`
	PkPmsMain       string      `json:"pk_pms_main"`
	PublicationDate time.Time   `json:"publication_date"`
	Deadline        time.Time   `json:"deadline"`
	Status          ScrapStatus `json:"scrap_status"`
}

// DetailPayload maps store column names to the values scraped off a tender
// detail page.
type DetailPayload map[string]string

// SearchQuery holds the parameters for one discovery search.
type SearchQuery struct {
	Query     string
	TimeRange string // ROC era year, e.g. "113"
	PageSize  int
}

// ResultPage is one page of discovery results.
type ResultPage struct {
	Number   int
	Rows     []Record
	LastPage bool
}

// Phase selects which crawl stages a run executes.
type Phase string

// Supported run phases.
const (
	PhaseDiscovery Phase = "discovery"
	PhaseDetail    Phase = "detail"
	PhaseBoth      Phase = "both"
)

// Valid reports whether the phase is one of the supported values.
func (p Phase) Valid() bool {
	switch p {
	case PhaseDiscovery, PhaseDetail, PhaseBoth:
		return true
	}
	return false
}

// SolveOutcome is the terminal state of one challenge solve.
type SolveOutcome string

// Solve outcomes.
const (
	OutcomeSolved SolveOutcome = "solved"
	OutcomeFailed SolveOutcome = "failed"
)
