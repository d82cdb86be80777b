// Package search finds proposals by the content of their marked version.
package search

// Result is a single search hit returned to the caller.
type Result struct {
	ProposalID string `json:"proposalId"`
	VersionID  string `json:"versionId"`
	Title      string `json:"title"`
	ClientName string `json:"clientName"`
	Market     string `json:"market,omitempty"`
	Service    string `json:"service,omitempty"`
	Snippet    string `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Market string // empty = all markets
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Backend string   `json:"backend"`
}

// ProposalRecord is the data we index for a proposal: the fields of its
// marked version.
type ProposalRecord struct {
	ID         string `json:"id"`
	VersionID  string `json:"versionId"`
	Title      string `json:"title"`
	ClientName string `json:"clientName"`
	ClientID   string `json:"clientId"`
	Market     string `json:"market"`
	Service    string `json:"service"`
	Summary    string `json:"summary"`
	MarkedAt   string `json:"markedVersionCreatedAt"`
}

const defaultLimit = 20
