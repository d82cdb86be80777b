package search

import (
	"context"
	"strings"
	"unicode/utf8"

	"pitchdesk/api/internal/proposal"
)

const snippetRunes = 160

// Lister is the part of the proposal store the scanner reads.
type Lister interface {
	ListProposals(ctx context.Context) ([]proposal.ProposalGroup, error)
}

// Scan searches by walking every proposal's marked version. It needs no
// index and is always available.
type Scan struct {
	lister Lister
}

func NewScan(lister Lister) *Scan {
	return &Scan{lister: lister}
}

// Search matches every whitespace-separated term case-insensitively against
// the indexed fields. Results keep listing order, most recently updated first.
func (s *Scan) Search(ctx context.Context, q Query) ([]Result, int, error) {
	terms := strings.Fields(strings.ToLower(q.Text))
	if len(terms) == 0 {
		return nil, 0, nil
	}
	groups, err := s.lister.ListProposals(ctx)
	if err != nil {
		return nil, 0, err
	}

	var matches []Result
	for _, group := range groups {
		record := RecordFromGroup(group)
		if q.Market != "" && !strings.EqualFold(record.Market, q.Market) {
			continue
		}
		if !matchesAll(record, terms) {
			continue
		}
		matches = append(matches, Result{
			ProposalID: record.ID,
			VersionID:  record.VersionID,
			Title:      record.Title,
			ClientName: record.ClientName,
			Market:     record.Market,
			Service:    record.Service,
			Snippet:    snippet(record.Summary),
		})
	}

	total := len(matches)
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []Result{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matches[offset:end], total, nil
}

// RecordFromGroup builds the search record of a proposal from its marked
// version.
func RecordFromGroup(group proposal.ProposalGroup) ProposalRecord {
	return RecordFromVersion(group.Marked)
}

func RecordFromVersion(version proposal.StoredVersion) ProposalRecord {
	content := version.Proposal
	return ProposalRecord{
		ID:         version.ProposalID,
		VersionID:  version.VersionID,
		Title:      content.Title,
		ClientName: content.ClientName,
		ClientID:   content.ClientID,
		Market:     content.Market,
		Service:    content.Service,
		Summary:    content.Summary,
		MarkedAt:   version.CreatedAt,
	}
}

func matchesAll(record ProposalRecord, terms []string) bool {
	haystack := strings.ToLower(strings.Join([]string{
		record.Title,
		record.ClientName,
		record.ClientID,
		record.Market,
		record.Service,
		record.Summary,
	}, "\n"))
	for _, term := range terms {
		if !strings.Contains(haystack, term) {
			return false
		}
	}
	return true
}

func snippet(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= snippetRunes {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:snippetRunes])) + "…"
}
