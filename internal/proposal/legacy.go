package proposal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strings"
	"time"
)

// readLegacy synthesizes a version from <proposalId>/proposal.json. ok is
// false when there is no legacy file.
func (s *Store) readLegacy(proposalID string) (StoredVersion, bool, error) {
	data, err := os.ReadFile(s.legacyPath(proposalID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return StoredVersion{}, false, nil
		}
		return StoredVersion{}, false, fmt.Errorf("read legacy record %s: %w", proposalID, err)
	}

	var record legacyRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return StoredVersion{}, false, fmt.Errorf("decode legacy record %s: %w", proposalID, err)
	}
	rawContent := record.Proposal
	if len(bytes.TrimSpace(rawContent)) == 0 || bytes.Equal(bytes.TrimSpace(rawContent), []byte("null")) {
		rawContent = data
	}
	var content Content
	if err := json.Unmarshal(rawContent, &content); err != nil {
		return StoredVersion{}, false, fmt.Errorf("decode legacy content %s: %w", proposalID, err)
	}
	content, _ = normalizeContent(content)

	versionID := strings.TrimSpace(record.ID)
	if !validID(versionID) {
		versionID = proposalID
	}

	version := StoredVersion{
		ProposalID:      proposalID,
		VersionID:       versionID,
		CreatedAt:       s.legacyTimestamp(proposalID, record.CreatedAt),
		Source:          SourceManual,
		PDF:             false,
		Proposal:        content,
		SelectedCaseIDs: cloneStrings(record.SelectedCaseIDs),
		PlanTasks:       clonePlanTasks(record.PlanTasks),
		fromLegacy:      true,
	}
	return version, true, nil
}

// legacyTimestamp normalizes legacy timestamps to the store layout so that
// string ordering stays chronological. A missing value falls back to the
// file's modification time, then to now.
func (s *Store) legacyTimestamp(proposalID, value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		if info, err := os.Stat(s.legacyPath(proposalID)); err == nil {
			return info.ModTime().UTC().Format(timestampLayout)
		}
		return s.timestamp()
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return value
	}
	return parsed.UTC().Format(timestampLayout)
}

// deleteLegacyVersion removes the legacy file when versionID names its
// synthesized version and no versioned records exist.
func (s *Store) deleteLegacyVersion(proposalID, versionID string) error {
	versions, err := s.readVersionedRecords(proposalID)
	if err != nil {
		return err
	}
	if len(versions) > 0 {
		return nil
	}
	legacy, ok, err := s.readLegacy(proposalID)
	if err != nil || !ok || legacy.VersionID != versionID {
		return err
	}
	if err := os.Remove(s.legacyPath(proposalID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove legacy record %s: %w", proposalID, err)
	}
	return nil
}

// MigrateLegacy rewrites a legacy record into the versioned layout, keeping
// its version id, and renames the legacy file to proposal.json.migrated.
// It reports whether anything was migrated. This is an offline maintenance
// step; reads never migrate.
func (s *Store) MigrateLegacy(ctx context.Context, proposalID string) (migrated bool, err error) {
	started := s.begin()
	defer func() { s.finish("migrate_legacy", started, err) }()
	if !validID(proposalID) {
		return false, ErrNotFound
	}
	return s.migrateLegacy(proposalID)
}

// MigrateAllLegacy migrates every legacy-only proposal and returns their ids.
func (s *Store) MigrateAllLegacy(ctx context.Context) (migrated []string, err error) {
	started := s.begin()
	defer func() { s.finish("migrate_legacy_all", started, err) }()

	ids, err := s.proposalIDs()
	if err != nil {
		return nil, err
	}
	migrated = []string{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return migrated, err
		}
		ok, err := s.migrateLegacy(id)
		if err != nil {
			return migrated, fmt.Errorf("migrate %s: %w", id, err)
		}
		if ok {
			migrated = append(migrated, id)
		}
	}
	return migrated, nil
}

func (s *Store) migrateLegacy(proposalID string) (bool, error) {
	versions, err := s.readVersionedRecords(proposalID)
	if err != nil {
		return false, err
	}
	if len(versions) > 0 {
		return false, nil
	}
	legacy, ok, err := s.readLegacy(proposalID)
	if err != nil || !ok {
		return false, err
	}
	if err := s.writeNewVersion(legacy); err != nil && !errors.Is(err, errVersionExists) {
		return false, err
	}
	path := s.legacyPath(proposalID)
	if err := os.Rename(path, path+migratedSuffix); err != nil {
		return false, fmt.Errorf("archive legacy record %s: %w", proposalID, err)
	}
	log.Printf("proposal: migrated legacy record %s as version %s", proposalID, legacy.VersionID)
	return true, nil
}
