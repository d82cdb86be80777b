package search

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"pitchdesk/api/internal/proposal"

	meili "github.com/meilisearch/meilisearch-go"
)

type fakeLister struct {
	groups []proposal.ProposalGroup
	err    error
}

func (f fakeLister) ListProposals(context.Context) ([]proposal.ProposalGroup, error) {
	return f.groups, f.err
}

func group(id, title, client, market string) proposal.ProposalGroup {
	marked := proposal.StoredVersion{
		ProposalID: id,
		VersionID:  id + "-v1",
		CreatedAt:  "2024-03-01T09:00:00.000Z",
		Proposal: proposal.Content{
			Title:      title,
			ClientName: client,
			Market:     market,
			Summary:    "Discovery workshop and rollout plan for " + client,
		},
	}
	return proposal.ProposalGroup{ProposalID: id, Marked: marked, Latest: marked}
}

func TestScanMatchesAllTerms(t *testing.T) {
	lister := fakeLister{groups: []proposal.ProposalGroup{
		group("p1", "Website relaunch", "Acme", "DE"),
		group("p2", "Data platform", "Acme", "FR"),
		group("p3", "Website audit", "Globex", "DE"),
	}}
	svc := NewService(nil, NewScan(lister))

	resp := svc.Search(context.Background(), Query{Text: "acme WEBSITE"})
	if resp.Backend != "scan" {
		t.Fatalf("expected scan backend, got %q", resp.Backend)
	}
	if resp.Total != 1 || len(resp.Results) != 1 || resp.Results[0].ProposalID != "p1" {
		t.Fatalf("unexpected results: %+v", resp)
	}
	if resp.Results[0].VersionID != "p1-v1" {
		t.Fatalf("expected marked version id, got %q", resp.Results[0].VersionID)
	}
}

func TestScanMarketFilterAndPaging(t *testing.T) {
	lister := fakeLister{groups: []proposal.ProposalGroup{
		group("p1", "Website relaunch", "Acme", "DE"),
		group("p2", "Website refresh", "Initech", "FR"),
		group("p3", "Website audit", "Globex", "de"),
	}}
	scan := NewScan(lister)

	results, total, err := scan.Search(context.Background(), Query{Text: "website", Market: "DE", Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 matches, got %d", total)
	}
	if len(results) != 1 || results[0].ProposalID != "p3" {
		t.Fatalf("unexpected page: %+v", results)
	}

	results, _, err = scan.Search(context.Background(), Query{Text: "website", Offset: 10})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected empty page, got %+v", results)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	svc := NewService(nil, NewScan(fakeLister{groups: []proposal.ProposalGroup{group("p1", "A", "B", "C")}}))
	resp := svc.Search(context.Background(), Query{Text: "   "})
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("expected empty non-nil results, got %+v", resp.Results)
	}
}

func TestSearchScanErrorReturnsEmpty(t *testing.T) {
	svc := NewService(nil, NewScan(fakeLister{err: errors.New("disk gone")}))
	resp := svc.Search(context.Background(), Query{Text: "acme"})
	if resp.Total != 0 || len(resp.Results) != 0 {
		t.Fatalf("expected empty response, got %+v", resp)
	}
}

func TestIndexWithoutMeiliIsNoop(t *testing.T) {
	svc := NewService(nil, NewScan(fakeLister{}))
	svc.IndexProposal(ProposalRecord{ID: "p1"})
	svc.DeleteProposal("p1")
	svc.ReindexAll(context.Background())
}

func TestSnippetTruncates(t *testing.T) {
	long := make([]rune, 300)
	for i := range long {
		long[i] = 'ä'
	}
	got := []rune(snippet(string(long)))
	if len(got) != snippetRunes+1 || got[len(got)-1] != '…' {
		t.Fatalf("unexpected snippet length %d", len(got))
	}
}

func TestHitToResult(t *testing.T) {
	hit := meili.Hit{
		"id":         json.RawMessage(`"p1"`),
		"versionId":  json.RawMessage(`"v9"`),
		"title":      json.RawMessage(`"Website relaunch"`),
		"clientName": json.RawMessage(`"Acme"`),
		"summary":    json.RawMessage(`"Plain summary"`),
		"_formatted": json.RawMessage(`{"title":"<mark>Website</mark> relaunch","summary":"Plain summary","id":"p1"}`),
	}
	result := hitToResult(hit)
	if result.ProposalID != "p1" || result.VersionID != "v9" || result.ClientName != "Acme" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Title != "<mark>Website</mark> relaunch" {
		t.Fatalf("expected highlighted title, got %q", result.Title)
	}
	if result.Snippet != "Plain summary" {
		t.Fatalf("unexpected snippet %q", result.Snippet)
	}
}
