package proposal

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"

	"pitchdesk/api/internal/metrics"
)

// selectDefault picks the newest version with pdf=true, or the newest version
// overall when none was exported.
func selectDefault(versions []StoredVersion) (StoredVersion, bool) {
	var newest, newestPDF StoredVersion
	var haveAny, havePDF bool
	for _, version := range versions {
		if !haveAny || newer(version, newest) {
			newest = version
			haveAny = true
		}
		if version.PDF && (!havePDF || newer(version, newestPDF)) {
			newestPDF = version
			havePDF = true
		}
	}
	if havePDF {
		return newestPDF, true
	}
	return newest, haveAny
}

// selectLatest picks the newest version that is not an autosave, falling back
// to the newest version of any kind.
func selectLatest(versions []StoredVersion) (StoredVersion, bool) {
	var newest, newestSaved StoredVersion
	var haveAny, haveSaved bool
	for _, version := range versions {
		if !haveAny || newer(version, newest) {
			newest = version
			haveAny = true
		}
		if version.Source != SourceAutosave && (!haveSaved || newer(version, newestSaved)) {
			newestSaved = version
			haveSaved = true
		}
	}
	if haveSaved {
		return newestSaved, true
	}
	return newest, haveAny
}

// MarkVersion locks the mark on versionID. An empty versionID stores the
// default selection as an unlocked mark, releasing any lock.
func (s *Store) MarkVersion(ctx context.Context, proposalID, versionID string) (marked StoredVersion, err error) {
	started := s.begin()
	defer func() { s.finish("mark_version", started, err) }()

	versions, err := s.listVersions(proposalID)
	if err != nil {
		return StoredVersion{}, err
	}

	state := MarkState{MarkedAt: s.timestamp()}
	if versionID == "" {
		def, ok := selectDefault(versions)
		if !ok {
			return StoredVersion{}, ErrNotFound
		}
		marked = def
	} else {
		found, ok := findVersion(versions, versionID)
		if !ok {
			return StoredVersion{}, ErrNotFound
		}
		marked = found
		state.Locked = true
	}
	state.VersionID = marked.VersionID

	if legacyOnly(versions) {
		return marked, nil
	}
	if err := s.writeMark(proposalID, state); err != nil {
		return StoredVersion{}, err
	}
	return marked, nil
}

// resolveMark returns the marked version for an already loaded version set.
// A locked mark whose version still exists wins. Otherwise the default
// selection is computed on every call and persisted when it changed.
func (s *Store) resolveMark(proposalID string, versions []StoredVersion) (StoredVersion, MarkState, error) {
	state, exists := s.readMark(proposalID)
	if exists && state.Locked {
		if version, ok := findVersion(versions, state.VersionID); ok {
			return version, state, nil
		}
	}

	def, ok := selectDefault(versions)
	if !ok {
		return StoredVersion{}, MarkState{}, ErrNotFound
	}
	if exists && !state.Locked && state.VersionID == def.VersionID {
		return def, state, nil
	}

	next := MarkState{VersionID: def.VersionID, MarkedAt: s.timestamp()}
	if legacyOnly(versions) {
		return def, next, nil
	}
	if err := s.writeMark(proposalID, next); err != nil {
		return StoredVersion{}, MarkState{}, err
	}
	return def, next, nil
}

// readMark returns the stored mark. A missing or unreadable mark file counts
// as no mark.
func (s *Store) readMark(proposalID string) (MarkState, bool) {
	var state MarkState
	if err := readJSON(s.markPath(proposalID), &state); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Printf("proposal: ignoring unreadable mark of %s: %v", proposalID, err)
		}
		return MarkState{}, false
	}
	return state, true
}

func (s *Store) writeMark(proposalID string, state MarkState) error {
	if err := os.MkdirAll(s.proposalDir(proposalID), 0o755); err != nil {
		return fmt.Errorf("create proposal dir: %w", err)
	}
	if err := writeJSONAtomic(s.markPath(proposalID), state); err != nil {
		return err
	}
	metrics.RecordMarkWrite(state.Locked)
	return nil
}

func legacyOnly(versions []StoredVersion) bool {
	return len(versions) == 1 && versions[0].fromLegacy
}
