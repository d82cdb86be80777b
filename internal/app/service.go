package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"pitchdesk/api/internal/backup"
	"pitchdesk/api/internal/config"
	"pitchdesk/api/internal/locks"
	"pitchdesk/api/internal/proposal"
	"pitchdesk/api/internal/search"
)

// lockWait bounds how long a destructive request waits for another one on
// the same proposal.
const lockWait = 5 * time.Second

// SaveVersionInput is the request body for creating a proposal or appending
// a version.
type SaveVersionInput struct {
	Proposal        json.RawMessage     `json:"proposal"`
	Source          string              `json:"source"`
	PDF             bool                `json:"pdf"`
	SelectedCaseIDs []string            `json:"selectedCaseIds"`
	PlanTasks       []proposal.PlanTask `json:"planTasks"`
}

type backupSyncer interface {
	Sync(ctx context.Context) (backup.SyncResult, error)
}

type Service struct {
	cfg    *config.Provider
	store  *proposal.Store
	locker locks.Locker
	search *search.Service
	backup backupSyncer
}

// New wires the facade. locker, searchService and backupService may be nil.
func New(cfg *config.Provider, store *proposal.Store, locker locks.Locker, searchService *search.Service, backupService *backup.Service) *Service {
	if locker == nil {
		locker = locks.NewLocalLocker()
	}
	if searchService == nil {
		searchService = search.NewService(nil, search.NewScan(store))
	}
	svc := &Service{
		cfg:    cfg,
		store:  store,
		locker: locker,
		search: searchService,
	}
	if backupService != nil {
		svc.backup = backupService
	}
	return svc
}

func (s *Service) ListProposals(ctx context.Context) ([]proposal.ProposalGroup, error) {
	return s.store.ListProposals(ctx)
}

// CreateProposal starts a new proposal with its first version.
func (s *Service) CreateProposal(ctx context.Context, input SaveVersionInput) (proposal.StoredVersion, error) {
	if strings.TrimSpace(input.Source) == "" {
		input.Source = string(proposal.SourceCreate)
	}
	return s.SaveVersion(ctx, "", input)
}

// SaveVersion validates the payload and appends a version. An empty
// proposalID creates a new proposal.
func (s *Service) SaveVersion(ctx context.Context, proposalID string, input SaveVersionInput) (proposal.StoredVersion, error) {
	saveInput, err := s.prepare(proposalID, input)
	if err != nil {
		return proposal.StoredVersion{}, err
	}
	saved, err := s.store.SaveVersion(ctx, saveInput)
	if err != nil {
		return proposal.StoredVersion{}, err
	}
	s.reindex(ctx, saved.ProposalID)
	return saved, nil
}

func (s *Service) prepare(proposalID string, input SaveVersionInput) (proposal.SaveInput, error) {
	lenient := s.cfg != nil && s.cfg.Current().LenientValidation

	content, err := proposal.ValidateContent(input.Proposal)
	if err != nil {
		if !lenient {
			return proposal.SaveInput{}, err
		}
		log.Printf("app: lenient save of %s, replacing invalid content: %v", firstNonBlank(proposalID, "new proposal"), err)
		content = proposal.DefaultContent()
	}
	tasks, err := proposal.NormalizePlanTasks(input.PlanTasks)
	if err != nil {
		if !lenient {
			return proposal.SaveInput{}, err
		}
		log.Printf("app: lenient save of %s, dropping invalid plan tasks: %v", firstNonBlank(proposalID, "new proposal"), err)
		tasks = []proposal.PlanTask{}
	}

	return proposal.SaveInput{
		ProposalID:      proposalID,
		Proposal:        content,
		Source:          proposal.Source(strings.TrimSpace(input.Source)),
		PDF:             input.PDF,
		SelectedCaseIDs: proposal.NormalizeCaseIDs(input.SelectedCaseIDs),
		PlanTasks:       tasks,
	}, nil
}

// GetProposal returns the marked version of a proposal.
func (s *Service) GetProposal(ctx context.Context, proposalID string) (proposal.StoredVersion, error) {
	return s.store.Current(ctx, proposalID)
}

func (s *Service) ListVersions(ctx context.Context, proposalID string) ([]proposal.StoredVersion, error) {
	return s.store.ListVersions(ctx, proposalID)
}

func (s *Service) ReadVersion(ctx context.Context, proposalID, versionID string) (proposal.StoredVersion, error) {
	return s.store.ReadVersion(ctx, proposalID, versionID)
}

func (s *Service) DeleteVersion(ctx context.Context, proposalID, versionID string) error {
	release, err := s.acquire(ctx, proposalID)
	if err != nil {
		return err
	}
	defer release()

	if err := s.store.DeleteVersion(ctx, proposalID, versionID); err != nil {
		return err
	}
	s.reindex(ctx, proposalID)
	return nil
}

// MarkVersion locks the mark on versionID, or restores the automatic
// selection when versionID is empty.
func (s *Service) MarkVersion(ctx context.Context, proposalID, versionID string) (proposal.StoredVersion, error) {
	marked, err := s.store.MarkVersion(ctx, proposalID, strings.TrimSpace(versionID))
	if err != nil {
		return proposal.StoredVersion{}, err
	}
	s.search.IndexProposal(search.RecordFromVersion(marked))
	return marked, nil
}

// Merge folds sourceID into targetID.
func (s *Service) Merge(ctx context.Context, targetID, sourceID string) (proposal.MergeResult, error) {
	targetID = strings.TrimSpace(targetID)
	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return proposal.MergeResult{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "sourceId is required", nil)
	}
	release, err := s.acquire(ctx, targetID, sourceID)
	if err != nil {
		return proposal.MergeResult{}, err
	}
	defer release()

	result, err := s.store.Merge(ctx, targetID, sourceID)
	if err != nil {
		return result, err
	}
	if targetID != sourceID {
		s.search.DeleteProposal(sourceID)
	}
	if result.Marked != nil {
		s.search.IndexProposal(search.RecordFromVersion(*result.Marked))
	}
	log.Printf("app: merged %s into %s (%d versions, %d re-keyed)", sourceID, targetID, result.Moved, len(result.Rekeyed))
	return result, nil
}

// MigrateLegacy migrates one legacy proposal, or all of them when
// proposalID is empty, and returns the migrated ids.
func (s *Service) MigrateLegacy(ctx context.Context, proposalID string) ([]string, error) {
	proposalID = strings.TrimSpace(proposalID)
	if proposalID == "" {
		return s.store.MigrateAllLegacy(ctx)
	}
	release, err := s.acquire(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	defer release()

	migrated, err := s.store.MigrateLegacy(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if !migrated {
		return []string{}, nil
	}
	return []string{proposalID}, nil
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	return s.search.Search(ctx, q)
}

// SyncBackup runs a backup pass immediately.
func (s *Service) SyncBackup(ctx context.Context) (backup.SyncResult, error) {
	if s.backup == nil {
		return backup.SyncResult{}, domainError(http.StatusServiceUnavailable, "BACKUP_DISABLED", "Backup is not configured", nil)
	}
	return s.backup.Sync(ctx)
}

// Ping checks that the data root exists and is writable.
func (s *Service) Ping(ctx context.Context) error {
	root := s.DataRoot()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create data root: %w", err)
	}
	probe, err := os.CreateTemp(root, ".ready-*.tmp")
	if err != nil {
		return fmt.Errorf("data root not writable: %w", err)
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(name)
}

func (s *Service) DataRoot() string {
	if s.cfg == nil {
		return ""
	}
	return s.cfg.DataRoot()
}

func (s *Service) acquire(ctx context.Context, proposalIDs ...string) (func(), error) {
	keys := make([]string, 0, len(proposalIDs))
	for _, id := range proposalIDs {
		keys = append(keys, locks.ProposalKey(id))
	}
	ctx, cancel := context.WithTimeout(ctx, lockWait)
	defer cancel()
	return locks.AcquireAll(ctx, s.locker, keys...)
}

// reindex refreshes the search record of a proposal after a change.
func (s *Service) reindex(ctx context.Context, proposalID string) {
	current, err := s.store.Current(ctx, proposalID)
	if errors.Is(err, proposal.ErrNotFound) {
		s.search.DeleteProposal(proposalID)
		return
	}
	if err != nil {
		log.Printf("app: reindex %s: %v", proposalID, err)
		return
	}
	s.search.IndexProposal(search.RecordFromVersion(current))
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
