package proposal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	proposalsDirName = "proposals"
	versionsDirName  = "versions"
	versionFileName  = "version.json"
	markFileName     = "mark.json"
	legacyFileName   = "proposal.json"
	migratedSuffix   = ".migrated"
)

func (s *Store) proposalsDir() string {
	return filepath.Join(s.root.DataRoot(), proposalsDirName)
}

func (s *Store) proposalDir(proposalID string) string {
	return filepath.Join(s.proposalsDir(), proposalID)
}

func (s *Store) versionsDir(proposalID string) string {
	return filepath.Join(s.proposalDir(proposalID), versionsDirName)
}

func (s *Store) versionDir(proposalID, versionID string) string {
	return filepath.Join(s.versionsDir(proposalID), versionID)
}

func (s *Store) markPath(proposalID string) string {
	return filepath.Join(s.proposalDir(proposalID), markFileName)
}

func (s *Store) legacyPath(proposalID string) string {
	return filepath.Join(s.proposalDir(proposalID), legacyFileName)
}

// validID accepts ids that are safe as a single path segment.
func validID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	if strings.HasPrefix(id, ".") {
		return false
	}
	return !strings.ContainsAny(id, `/\:`+"\x00")
}

// writeJSONAtomic replaces path with the encoded value. Readers see either the
// old or the new file, never a partial one.
func writeJSONAtomic(path string, value any) error {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(append(payload, '\n')); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, target any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decode %s: %w: %w", path, errCorruptRecord, err)
	}
	return nil
}
