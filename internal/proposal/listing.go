package proposal

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"golang.org/x/sync/errgroup"
)

const listConcurrency = 8

// ListProposals returns every proposal with at least one readable version,
// most recently updated first. A proposal whose versions cannot be read fails
// the whole listing. Marks are resolved, and persisted when they change, as a
// side effect.
func (s *Store) ListProposals(ctx context.Context) (groups []ProposalGroup, err error) {
	started := s.begin()
	defer func() { s.finish("list_proposals", started, err) }()

	ids, err := s.proposalIDs()
	if err != nil {
		return nil, err
	}

	slots := make([]*ProposalGroup, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			group, ok, err := s.loadGroup(id)
			if err != nil {
				return err
			}
			if ok {
				slots[i] = &group
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	groups = make([]ProposalGroup, 0, len(slots))
	for _, group := range slots {
		if group != nil {
			groups = append(groups, *group)
		}
	}
	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i].Latest.CreatedAt, groups[j].Latest.CreatedAt
		if a != b {
			return a > b
		}
		return groups[i].ProposalID < groups[j].ProposalID
	})
	return groups, nil
}

func (s *Store) loadGroup(proposalID string) (ProposalGroup, bool, error) {
	versions, err := s.listVersions(proposalID)
	if errors.Is(err, ErrNotFound) {
		return ProposalGroup{}, false, nil
	}
	if err != nil {
		return ProposalGroup{}, false, fmt.Errorf("list proposal %s: %w", proposalID, err)
	}

	latest, _ := selectLatest(versions)
	marked, state, err := s.resolveMark(proposalID, versions)
	if err != nil {
		return ProposalGroup{}, false, fmt.Errorf("resolve mark of %s: %w", proposalID, err)
	}
	return ProposalGroup{
		ProposalID: proposalID,
		Versions:   versions,
		Latest:     latest,
		Marked:     marked,
		Mark:       state,
	}, true, nil
}

func (s *Store) proposalIDs() ([]string, error) {
	entries, err := os.ReadDir(s.proposalsDir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read proposals dir: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() && validID(entry.Name()) {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}
