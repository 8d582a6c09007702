// Package search provides full-text proposal search with a Meilisearch
// primary backend and a PostgreSQL fallback.
package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	BandID  string `json:"bandId"`
	State   string `json:"state"`
}

// Query describes a search request. FilterBandID is always set by callers;
// proposals never leak across bands.
type Query struct {
	Text         string
	FilterBandID string
	FilterState  string // empty = all states
	Limit        int
	Offset       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ProposalRecord is the data we index for a proposal.
type ProposalRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Objective   string `json:"objective"`
	Description string `json:"description"`
	Rationale   string `json:"rationale"`
	BandID      string `json:"bandId"`
	State       string `json:"state"`
}
