package proposal

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"pitchdesk/api/internal/metrics"
	"pitchdesk/api/internal/util"
)

const timestampLayout = "2006-01-02T15:04:05.000Z"

// Store persists proposal versions under <root>/proposals. It holds no
// in-process locks: concurrent saves never collide because every save mints
// its own version id, and destructive operations are expected to be
// serialized by the caller.
type Store struct {
	root   RootResolver
	backup BackupHook
	now    func() time.Time
	newID  func() string
}

// NewStore builds a store. backup may be nil.
func NewStore(root RootResolver, backup BackupHook) *Store {
	if backup == nil {
		backup = noopBackup{}
	}
	return &Store{
		root:   root,
		backup: backup,
		now:    time.Now,
		newID:  util.NewSortableID,
	}
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(timestampLayout)
}

// begin runs at the top of every public operation.
func (s *Store) begin() time.Time {
	s.backup.EnsureStarted()
	return time.Now()
}

func (s *Store) finish(op string, started time.Time, err error) {
	metrics.ObserveStoreOperation(op, resultLabel(err), started)
}

// SaveVersion writes a new immutable version and returns it with its
// generated ids and timestamp.
func (s *Store) SaveVersion(ctx context.Context, in SaveInput) (saved StoredVersion, err error) {
	started := s.begin()
	defer func() { s.finish("save_version", started, err) }()

	proposalID := strings.TrimSpace(in.ProposalID)
	if proposalID == "" {
		proposalID = s.newID()
	} else if !validID(proposalID) {
		return StoredVersion{}, fieldError("proposalId", "is not a valid id")
	}

	source := in.Source
	if source == "" {
		source = SourceManual
	}
	if !source.Valid() {
		return StoredVersion{}, fieldError("source", fmt.Sprintf("unknown source %q", source))
	}

	version := StoredVersion{
		ProposalID:      proposalID,
		VersionID:       s.newID(),
		CreatedAt:       s.timestamp(),
		Source:          source,
		PDF:             in.PDF || source == SourcePDF,
		Proposal:        cloneContent(in.Proposal),
		SelectedCaseIDs: cloneStrings(in.SelectedCaseIDs),
		PlanTasks:       clonePlanTasks(in.PlanTasks),
	}
	for attempt := 1; ; attempt++ {
		err = s.writeNewVersion(version)
		if err == nil || !errors.Is(err, errVersionExists) || attempt == maxRekeyAttempts {
			break
		}
		version.VersionID = s.newID()
	}
	if err != nil {
		return StoredVersion{}, err
	}
	return version, nil
}

// ReadVersion loads one version, falling back to the legacy record.
func (s *Store) ReadVersion(ctx context.Context, proposalID, versionID string) (version StoredVersion, err error) {
	started := s.begin()
	defer func() { s.finish("read_version", started, err) }()
	return s.readVersion(proposalID, versionID)
}

func (s *Store) readVersion(proposalID, versionID string) (StoredVersion, error) {
	if !validID(proposalID) || !validID(versionID) {
		return StoredVersion{}, ErrNotFound
	}
	version, err := s.readVersionFile(proposalID, versionID)
	if err == nil {
		return version, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return StoredVersion{}, err
	}

	versions, err := s.readVersionedRecords(proposalID)
	if err != nil {
		return StoredVersion{}, err
	}
	if len(versions) > 0 {
		return StoredVersion{}, ErrNotFound
	}
	legacy, ok, err := s.readLegacy(proposalID)
	if err != nil {
		return StoredVersion{}, err
	}
	if !ok || legacy.VersionID != versionID {
		return StoredVersion{}, ErrNotFound
	}
	return legacy, nil
}

// ListVersions returns every readable version of a proposal, newest first.
func (s *Store) ListVersions(ctx context.Context, proposalID string) (versions []StoredVersion, err error) {
	started := s.begin()
	defer func() { s.finish("list_versions", started, err) }()
	return s.listVersions(proposalID)
}

func (s *Store) listVersions(proposalID string) ([]StoredVersion, error) {
	if !validID(proposalID) {
		return nil, ErrNotFound
	}
	versions, err := s.readVersionedRecords(proposalID)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		legacy, ok, err := s.readLegacy(proposalID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNotFound
		}
		versions = []StoredVersion{legacy}
	}
	sortVersions(versions)
	return versions, nil
}

// Current returns the marked version, resolving the mark as a side effect.
func (s *Store) Current(ctx context.Context, proposalID string) (version StoredVersion, err error) {
	started := s.begin()
	defer func() { s.finish("current", started, err) }()

	versions, err := s.listVersions(proposalID)
	if err != nil {
		return StoredVersion{}, err
	}
	version, _, err = s.resolveMark(proposalID, versions)
	return version, err
}

// DeleteVersion removes a version. Removing a missing version is not an
// error. If the removed version held the mark, the mark falls back to the
// default selection and is unlocked.
func (s *Store) DeleteVersion(ctx context.Context, proposalID, versionID string) (err error) {
	started := s.begin()
	defer func() { s.finish("delete_version", started, err) }()

	if !validID(proposalID) || !validID(versionID) {
		return nil
	}

	dir := s.versionDir(proposalID, versionID)
	if _, statErr := os.Stat(dir); statErr == nil {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove version %s: %w", versionID, err)
		}
	} else if errors.Is(statErr, fs.ErrNotExist) {
		if err := s.deleteLegacyVersion(proposalID, versionID); err != nil {
			return err
		}
	} else {
		return fmt.Errorf("stat version %s: %w", versionID, statErr)
	}

	state, exists := s.readMark(proposalID)
	if !exists || state.VersionID != versionID {
		return nil
	}
	remaining, err := s.listVersions(proposalID)
	if errors.Is(err, ErrNotFound) {
		if err := os.Remove(s.markPath(proposalID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove mark: %w", err)
		}
		return nil
	}
	if err != nil {
		return err
	}
	next, ok := selectDefault(remaining)
	if !ok {
		return nil
	}
	if state.Locked {
		log.Printf("proposal: locked version %s of %s deleted, mark falls back to %s", versionID, proposalID, next.VersionID)
	}
	return s.writeMark(proposalID, MarkState{VersionID: next.VersionID, MarkedAt: s.timestamp()})
}

// writeNewVersion creates the version directory exclusively so an existing
// version can never be overwritten.
func (s *Store) writeNewVersion(version StoredVersion) error {
	if err := os.MkdirAll(s.versionsDir(version.ProposalID), 0o755); err != nil {
		return fmt.Errorf("create versions dir: %w", err)
	}
	dir := s.versionDir(version.ProposalID, version.VersionID)
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s/%s", errVersionExists, version.ProposalID, version.VersionID)
		}
		return fmt.Errorf("create version dir: %w", err)
	}
	record := version
	record.fromLegacy = false
	if err := writeJSONAtomic(filepath.Join(dir, versionFileName), record); err != nil {
		_ = os.RemoveAll(dir)
		return err
	}
	return nil
}

func (s *Store) readVersionFile(proposalID, versionID string) (StoredVersion, error) {
	var version StoredVersion
	if err := readJSON(filepath.Join(s.versionDir(proposalID, versionID), versionFileName), &version); err != nil {
		return StoredVersion{}, err
	}
	// The directory layout is authoritative for ids.
	version.ProposalID = proposalID
	version.VersionID = versionID
	if version.SelectedCaseIDs == nil {
		version.SelectedCaseIDs = []string{}
	}
	if version.PlanTasks == nil {
		version.PlanTasks = []PlanTask{}
	}
	if version.Proposal.Pricing.Items == nil {
		version.Proposal.Pricing.Items = []PriceItem{}
	}
	return version, nil
}

// readVersionedRecords reads versions/*. Unreadable records are skipped.
func (s *Store) readVersionedRecords(proposalID string) ([]StoredVersion, error) {
	entries, err := os.ReadDir(s.versionsDir(proposalID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read versions of %s: %w", proposalID, err)
	}
	versions := make([]StoredVersion, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || !validID(entry.Name()) {
			continue
		}
		version, err := s.readVersionFile(proposalID, entry.Name())
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				log.Printf("proposal: skipping unreadable version %s/%s: %v", proposalID, entry.Name(), err)
			}
			continue
		}
		versions = append(versions, version)
	}
	return versions, nil
}

// sortVersions orders newest first: createdAt descending, then version id.
func sortVersions(versions []StoredVersion) {
	sort.SliceStable(versions, func(i, j int) bool {
		return newer(versions[i], versions[j])
	})
}

func newer(a, b StoredVersion) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt > b.CreatedAt
	}
	return a.VersionID > b.VersionID
}

func findVersion(versions []StoredVersion, versionID string) (StoredVersion, bool) {
	for _, version := range versions {
		if version.VersionID == versionID {
			return version, true
		}
	}
	return StoredVersion{}, false
}

func cloneContent(c Content) Content {
	out := c
	out.Pricing.Items = make([]PriceItem, len(c.Pricing.Items))
	copy(out.Pricing.Items, c.Pricing.Items)
	return out
}

func cloneStrings(values []string) []string {
	out := make([]string, len(values))
	copy(out, values)
	return out
}

func clonePlanTasks(tasks []PlanTask) []PlanTask {
	out := make([]PlanTask, len(tasks))
	copy(out, tasks)
	return out
}
