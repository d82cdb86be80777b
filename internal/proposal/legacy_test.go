package proposal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeLegacy(t *testing.T, root, proposalID, body string) string {
	t.Helper()
	dir := filepath.Join(root, "proposals", proposalID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	path := filepath.Join(dir, "proposal.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

const legacyBody = `{
  "id": "old-1",
  "createdAt": "2023-11-05T10:20:30Z",
  "proposal": {"title": "  Legacy deal ", "clientName": "Initech", "pricing": {"currency": "usd", "items": []}},
  "selectedCaseIds": ["case-9"],
  "planTasks": [{"id": "t1", "title": "Audit", "start": "2023-11-10", "end": "2023-11-12"}]
}`

func TestLegacyRecordIsReadable(t *testing.T) {
	store, root := newTestStore(t)
	ctx := context.Background()
	writeLegacy(t, root, "L", legacyBody)

	versions, err := store.ListVersions(ctx, "L")
	if err != nil {
		t.Fatalf("ListVersions() error = %v", err)
	}
	if len(versions) != 1 {
		t.Fatalf("expected one synthesized version, got %d", len(versions))
	}
	legacy := versions[0]
	if !legacy.Legacy() || legacy.VersionID != "old-1" || legacy.Source != SourceManual || legacy.PDF {
		t.Fatalf("unexpected legacy version: %+v", legacy)
	}
	if legacy.CreatedAt != "2023-11-05T10:20:30.000Z" {
		t.Fatalf("unexpected createdAt %q", legacy.CreatedAt)
	}
	if legacy.Proposal.Title != "Legacy deal" || legacy.Proposal.Pricing.Currency != "USD" {
		t.Fatalf("legacy content not normalized: %+v", legacy.Proposal)
	}

	read, err := store.ReadVersion(ctx, "L", "old-1")
	if err != nil {
		t.Fatalf("ReadVersion() error = %v", err)
	}
	if read.Proposal.ClientName != "Initech" {
		t.Fatalf("unexpected content: %+v", read.Proposal)
	}

	current, err := store.Current(ctx, "L")
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if current.VersionID != "old-1" {
		t.Fatalf("expected legacy version marked, got %s", current.VersionID)
	}
	if _, err := os.Stat(filepath.Join(root, "proposals", "L", "mark.json")); !os.IsNotExist(err) {
		t.Fatalf("mark must not be persisted for legacy-only proposals, stat error = %v", err)
	}
}

func TestLegacyBareContentFile(t *testing.T) {
	store, root := newTestStore(t)
	ctx := context.Background()
	writeLegacy(t, root, "bare", `{"title": "Bare", "clientName": "Globex"}`)

	versions, err := store.ListVersions(ctx, "bare")
	if err != nil {
		t.Fatalf("ListVersions() error = %v", err)
	}
	if versions[0].VersionID != "bare" || versions[0].Proposal.ClientName != "Globex" {
		t.Fatalf("unexpected bare legacy version: %+v", versions[0])
	}
	if versions[0].Proposal.Pricing.Currency != "EUR" {
		t.Fatalf("expected default currency, got %q", versions[0].Proposal.Pricing.Currency)
	}
}

func TestVersionedRecordsHideLegacy(t *testing.T) {
	store, root := newTestStore(t)
	ctx := context.Background()
	writeLegacy(t, root, "L", legacyBody)

	saved := mustSave(t, store, SaveInput{ProposalID: "L"})
	versions, err := store.ListVersions(ctx, "L")
	if err != nil {
		t.Fatalf("ListVersions() error = %v", err)
	}
	if len(versions) != 1 || versions[0].VersionID != saved.VersionID {
		t.Fatalf("expected only the versioned record, got %+v", versions)
	}
	if _, err := store.ReadVersion(ctx, "L", "old-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for hidden legacy version, got %v", err)
	}
}

func TestDeleteLegacyVersion(t *testing.T) {
	store, root := newTestStore(t)
	ctx := context.Background()
	path := writeLegacy(t, root, "L", legacyBody)

	if err := store.DeleteVersion(ctx, "L", "other"); err != nil {
		t.Fatalf("DeleteVersion() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("legacy file removed for a different id: %v", err)
	}
	if err := store.DeleteVersion(ctx, "L", "old-1"); err != nil {
		t.Fatalf("DeleteVersion() error = %v", err)
	}
	if _, err := store.ListVersions(ctx, "L"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after deleting legacy version, got %v", err)
	}
}

func TestMigrateAllLegacy(t *testing.T) {
	store, root := newTestStore(t)
	ctx := context.Background()
	path := writeLegacy(t, root, "L", legacyBody)
	mustSave(t, store, SaveInput{ProposalID: "V"})

	migrated, err := store.MigrateAllLegacy(ctx)
	if err != nil {
		t.Fatalf("MigrateAllLegacy() error = %v", err)
	}
	if len(migrated) != 1 || migrated[0] != "L" {
		t.Fatalf("expected [L] migrated, got %v", migrated)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected legacy file archived, stat error = %v", err)
	}
	if _, err := os.Stat(path + ".migrated"); err != nil {
		t.Fatalf("archived legacy file missing: %v", err)
	}

	version, err := store.ReadVersion(ctx, "L", "old-1")
	if err != nil {
		t.Fatalf("ReadVersion() error = %v", err)
	}
	if version.Legacy() || version.Proposal.ClientName != "Initech" || len(version.PlanTasks) != 1 {
		t.Fatalf("unexpected migrated version: %+v", version)
	}

	again, err := store.MigrateAllLegacy(ctx)
	if err != nil {
		t.Fatalf("MigrateAllLegacy() error = %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected second migration to be a no-op, got %v", again)
	}
}

func TestMergeMaterializesLegacyTarget(t *testing.T) {
	store, root := newTestStore(t)
	ctx := context.Background()
	writeLegacy(t, root, "L", legacyBody)
	b1 := mustSave(t, store, SaveInput{ProposalID: "B"})

	if _, err := store.Merge(ctx, "L", "B"); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	versions, err := store.ListVersions(ctx, "L")
	if err != nil {
		t.Fatalf("ListVersions() error = %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected legacy and moved versions, got %+v", versions)
	}
	if _, err := store.ReadVersion(ctx, "L", "old-1"); err != nil {
		t.Fatalf("legacy version lost in merge: %v", err)
	}
	if _, err := store.ReadVersion(ctx, "L", b1.VersionID); err != nil {
		t.Fatalf("moved version missing: %v", err)
	}
}

func TestMergeLegacySource(t *testing.T) {
	store, root := newTestStore(t)
	ctx := context.Background()
	writeLegacy(t, root, "L", legacyBody)
	mustSave(t, store, SaveInput{ProposalID: "A"})

	result, err := store.Merge(ctx, "A", "L")
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if result.Moved != 1 {
		t.Fatalf("expected one moved version, got %+v", result)
	}
	if _, err := store.ReadVersion(ctx, "A", "old-1"); err != nil {
		t.Fatalf("ReadVersion() error = %v", err)
	}
	if _, err := store.ListVersions(ctx, "L"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected legacy source removed, got %v", err)
	}
}
