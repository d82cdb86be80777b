package proposal

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strings"

	"pitchdesk/api/internal/metrics"
)

const maxRekeyAttempts = 5

// Merge moves every version of sourceID into targetID and removes sourceID.
// Colliding version ids are re-keyed, never overwritten or dropped. The
// target always ends with a fresh unlocked mark.
//
// Merge is not transactional. If it is interrupted some versions may exist
// under both ids until it is run again.
func (s *Store) Merge(ctx context.Context, targetID, sourceID string) (result MergeResult, err error) {
	started := s.begin()
	defer func() { s.finish("merge", started, err) }()

	targetID = strings.TrimSpace(targetID)
	sourceID = strings.TrimSpace(sourceID)
	if !validID(targetID) {
		return MergeResult{}, fieldError("targetId", "is not a valid id")
	}
	if !validID(sourceID) {
		return MergeResult{}, fieldError("sourceId", "is not a valid id")
	}
	result = MergeResult{TargetID: targetID, SourceID: sourceID, Rekeyed: map[string]string{}}
	if targetID == sourceID {
		return result, nil
	}

	sourceVersions, unreadable, err := s.mergeSources(sourceID)
	if err != nil {
		return result, err
	}

	// A legacy-only target would be hidden once versioned records appear.
	if _, err := s.migrateLegacy(targetID); err != nil {
		return result, fmt.Errorf("prepare target %s: %w", targetID, err)
	}

	for _, version := range sourceVersions {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		newID, err := s.moveVersion(version, targetID)
		if err != nil {
			return result, err
		}
		if newID != version.VersionID {
			result.Rekeyed[version.VersionID] = newID
			metrics.RecordMergeRekey()
		}
		result.Moved++
	}

	for _, versionID := range unreadable {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		newID, err := s.moveRawVersion(sourceID, versionID, targetID)
		if err != nil {
			return result, err
		}
		log.Printf("proposal: moved unreadable version %s/%s to %s/%s", sourceID, versionID, targetID, newID)
		if newID != versionID {
			result.Rekeyed[versionID] = newID
			metrics.RecordMergeRekey()
		}
		result.Moved++
	}

	if err := os.RemoveAll(s.proposalDir(sourceID)); err != nil {
		return result, fmt.Errorf("remove merged proposal %s: %w", sourceID, err)
	}

	merged, err := s.listVersions(targetID)
	if err != nil {
		return result, err
	}
	marked, ok := selectDefault(merged)
	if !ok {
		return result, nil
	}
	if err := s.writeMark(targetID, MarkState{VersionID: marked.VersionID, MarkedAt: s.timestamp()}); err != nil {
		return result, err
	}
	result.Marked = &marked
	return result, nil
}

// mergeSources lists the versions to move out of sourceID. Records that
// exist but cannot be decoded are returned by id so they can be moved as-is.
// Any other read failure aborts the merge before anything is removed.
func (s *Store) mergeSources(sourceID string) ([]StoredVersion, []string, error) {
	entries, err := os.ReadDir(s.versionsDir(sourceID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("read versions of %s: %w", sourceID, err)
	}

	var (
		versions   []StoredVersion
		unreadable []string
	)
	for _, entry := range entries {
		if !entry.IsDir() || !validID(entry.Name()) {
			continue
		}
		version, err := s.readVersionFile(sourceID, entry.Name())
		switch {
		case err == nil:
			versions = append(versions, version)
		case errors.Is(err, fs.ErrNotExist):
			// Empty directory left by an interrupted write.
		case errors.Is(err, errCorruptRecord):
			unreadable = append(unreadable, entry.Name())
		default:
			return nil, nil, fmt.Errorf("read version %s/%s: %w", sourceID, entry.Name(), err)
		}
	}
	if len(versions) > 0 || len(unreadable) > 0 {
		sortVersions(versions)
		return versions, unreadable, nil
	}

	legacy, ok, err := s.readLegacy(sourceID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrNotFound
	}
	return []StoredVersion{legacy}, nil, nil
}

// moveRawVersion renames an undecodable version directory into targetID,
// re-keying when the id is taken.
func (s *Store) moveRawVersion(sourceID, versionID, targetID string) (string, error) {
	if err := os.MkdirAll(s.versionsDir(targetID), 0o755); err != nil {
		return "", fmt.Errorf("create versions dir: %w", err)
	}
	from := s.versionDir(sourceID, versionID)
	newID := versionID
	var err error
	for attempt := 0; attempt < maxRekeyAttempts; attempt++ {
		if attempt > 0 {
			newID = s.newID()
		}
		to := s.versionDir(targetID, newID)
		if _, statErr := os.Lstat(to); statErr == nil {
			err = fmt.Errorf("%w: %s/%s", errVersionExists, targetID, newID)
			continue
		}
		err = os.Rename(from, to)
		if err == nil || !errors.Is(err, fs.ErrExist) {
			break
		}
	}
	if err != nil {
		return "", fmt.Errorf("move version %s: %w", versionID, err)
	}
	return newID, nil
}

// moveVersion copies version under targetID and then removes the source
// copy. It returns the version id used under the target.
func (s *Store) moveVersion(version StoredVersion, targetID string) (string, error) {
	moved := version
	moved.ProposalID = targetID
	moved.Proposal = cloneContent(version.Proposal)
	moved.SelectedCaseIDs = cloneStrings(version.SelectedCaseIDs)
	moved.PlanTasks = clonePlanTasks(version.PlanTasks)

	var err error
	for attempt := 0; attempt < maxRekeyAttempts; attempt++ {
		if attempt > 0 {
			moved.VersionID = s.newID()
		}
		err = s.writeNewVersion(moved)
		if err == nil || !errors.Is(err, errVersionExists) {
			break
		}
	}
	if err != nil {
		return "", fmt.Errorf("move version %s: %w", version.VersionID, err)
	}

	if !version.fromLegacy {
		if err := os.RemoveAll(s.versionDir(version.ProposalID, version.VersionID)); err != nil {
			return "", fmt.Errorf("remove moved version %s: %w", version.VersionID, err)
		}
	}
	return moved.VersionID, nil
}
