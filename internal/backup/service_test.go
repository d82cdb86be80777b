package backup

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

type staticRoot string

func (r staticRoot) DataRoot() string { return string(r) }

func writeFile(t *testing.T, root, rel, body string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func commitCount(t *testing.T, root string) int {
	t.Helper()
	repo, err := git.PlainOpen(root)
	if err != nil {
		t.Fatalf("PlainOpen() error = %v", err)
	}
	head, err := repo.Head()
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	defer iter.Close()
	count := 0
	if err := iter.ForEach(func(*object.Commit) error {
		count++
		return nil
	}); err != nil {
		t.Fatalf("ForEach() error = %v", err)
	}
	return count
}

func TestSyncCommitsChanges(t *testing.T) {
	root := t.TempDir()
	svc := New(staticRoot(root), Options{Enabled: true, Author: "Backup Bot"})
	ctx := context.Background()

	writeFile(t, root, "proposals/p1/versions/v1/version.json", `{"proposalId":"p1"}`)
	writeFile(t, root, "proposals/p1/.mark.json.123.tmp", "partial")

	result, err := svc.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if !result.Committed || result.Commit == "" {
		t.Fatalf("expected a commit, got %+v", result)
	}
	if result.Pushed {
		t.Fatal("push without a remote")
	}

	repo, err := git.PlainOpen(root)
	if err != nil {
		t.Fatalf("PlainOpen() error = %v", err)
	}
	head, err := repo.Head()
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if head.Name().Short() != "main" {
		t.Fatalf("expected branch main, got %s", head.Name().Short())
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		t.Fatalf("CommitObject() error = %v", err)
	}
	if commit.Author.Name != "Backup Bot" || commit.Author.Email != "Backup.Bot@backup.local" {
		t.Fatalf("unexpected author: %+v", commit.Author)
	}
	if _, err := commit.File("proposals/p1/versions/v1/version.json"); err != nil {
		t.Fatalf("version file not committed: %v", err)
	}
	if _, err := commit.File("proposals/p1/.mark.json.123.tmp"); err == nil {
		t.Fatal("temp file must be ignored")
	}

	again, err := svc.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if again.Committed {
		t.Fatalf("expected clean tree, got %+v", again)
	}
	if got := commitCount(t, root); got != 1 {
		t.Fatalf("expected 1 commit, got %d", got)
	}
}

func TestSyncRecordsDeletions(t *testing.T) {
	root := t.TempDir()
	svc := New(staticRoot(root), Options{Enabled: true})
	ctx := context.Background()

	writeFile(t, root, "proposals/p1/versions/v1/version.json", `{}`)
	writeFile(t, root, "proposals/p1/versions/v2/version.json", `{}`)
	if _, err := svc.Sync(ctx); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if err := os.RemoveAll(filepath.Join(root, "proposals/p1/versions/v2")); err != nil {
		t.Fatalf("RemoveAll() error = %v", err)
	}

	result, err := svc.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if !result.Committed || result.Files != 1 {
		t.Fatalf("expected one staged deletion, got %+v", result)
	}

	repo, err := git.PlainOpen(root)
	if err != nil {
		t.Fatalf("PlainOpen() error = %v", err)
	}
	head, _ := repo.Head()
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		t.Fatalf("CommitObject() error = %v", err)
	}
	if _, err := commit.File("proposals/p1/versions/v2/version.json"); err == nil {
		t.Fatal("deleted version still in the snapshot")
	}
}

func TestEnsureStartedRunsOnce(t *testing.T) {
	svc := New(staticRoot(t.TempDir()), Options{Enabled: true, Interval: time.Hour})
	defer svc.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.EnsureStarted()
		}()
	}
	wg.Wait()

	select {
	case <-svc.Started():
	default:
		t.Fatal("expected started channel to be closed")
	}
}

func TestDisabledServiceStops(t *testing.T) {
	svc := New(staticRoot(t.TempDir()), Options{Enabled: false})
	svc.EnsureStarted()
	<-svc.Started()

	stopped := make(chan struct{})
	go func() {
		svc.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return")
	}
}

func TestSanitizeEmail(t *testing.T) {
	cases := map[string]string{
		"Proposal Backup": "Proposal.Backup",
		"ops_bot":         "ops.bot",
		"!!!":             "backup",
	}
	for input, want := range cases {
		if got := sanitizeEmail(input); got != want {
			t.Errorf("sanitizeEmail(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestIntervalFollowsSource(t *testing.T) {
	var mu sync.Mutex
	current := time.Minute
	svc := New(staticRoot(t.TempDir()), Options{
		Interval: time.Hour,
		IntervalSource: func() time.Duration {
			mu.Lock()
			defer mu.Unlock()
			return current
		},
	})
	if got := svc.interval(); got != time.Minute {
		t.Fatalf("expected 1m, got %s", got)
	}

	mu.Lock()
	current = 0
	mu.Unlock()
	if got := svc.interval(); got != time.Hour {
		t.Fatalf("expected fallback to 1h, got %s", got)
	}
}

func TestLoopUsesReloadedInterval(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "proposals/p1/versions/v1/version.json", `{"versionId":"v1"}`)

	svc := New(staticRoot(root), Options{
		Enabled:        true,
		Interval:       time.Hour,
		IntervalSource: func() time.Duration { return 20 * time.Millisecond },
	})
	svc.EnsureStarted()
	defer svc.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if repo, err := git.PlainOpen(root); err == nil {
			if _, err := repo.Head(); err == nil {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected a backup commit from the periodic loop")
}
