package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to a
// scan over the proposal store.
type Service struct {
	meili *Meili
	scan  *Scan
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, scan *Scan) *Service {
	return &Service{meili: meili, scan: scan}
}

// Search tries Meilisearch if healthy, otherwise falls back to the scan.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "meilisearch"}
		}
		log.Printf("search: meilisearch error, falling back to scan: %v", err)
	}

	results, total, err := s.scan.Search(ctx, q)
	if err != nil {
		log.Printf("search: scan error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text, Backend: "scan"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "scan"}
}

// IndexProposal indexes a proposal (fire-and-forget to Meilisearch).
func (s *Service) IndexProposal(record ProposalRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexProposal(record); err != nil {
			log.Printf("search: index proposal %s: %v", record.ID, err)
		}
	}()
}

// DeleteProposal removes a proposal from the index (fire-and-forget).
func (s *Service) DeleteProposal(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteProposal(id); err != nil {
			log.Printf("search: delete proposal %s: %v", id, err)
		}
	}()
}

// ReindexAll pushes every proposal's marked version to Meilisearch. Called at
// startup when Meilisearch is reachable.
func (s *Service) ReindexAll(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	groups, err := s.scan.lister.ListProposals(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	records := make([]ProposalRecord, 0, len(groups))
	for _, group := range groups {
		records = append(records, RecordFromGroup(group))
	}
	if err := s.meili.IndexProposals(records); err != nil {
		log.Printf("search: reindex proposals: %v", err)
		return
	}
	log.Printf("search: reindexed %d proposals", len(records))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
