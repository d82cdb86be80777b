// Package backup snapshots the data root into a git repository and pushes it
// to an optional remote.
package backup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"pitchdesk/api/internal/metrics"

	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

const (
	remoteName    = "origin"
	ignoreFile    = ".gitignore"
	ignorePattern = "*.tmp\n"
)

// RootResolver returns the directory to back up.
type RootResolver interface {
	DataRoot() string
}

type Options struct {
	Enabled   bool
	Interval  time.Duration
	RemoteURL string
	Branch    string
	Username  string
	Token     string
	Author    string

	// IntervalSource, when set, is consulted before every pass so reloaded
	// configuration takes effect. Non-positive values fall back to Interval.
	IntervalSource func() time.Duration
}

// SyncResult describes one backup pass.
type SyncResult struct {
	Committed bool   `json:"committed"`
	Commit    string `json:"commit,omitempty"`
	Files     int    `json:"files"`
	Pushed    bool   `json:"pushed"`
}

type Service struct {
	root RootResolver
	opts Options

	started   atomic.Bool
	startedCh chan struct{}
	stopCh    chan struct{}
	stopOnce  sync.Once
	done      chan struct{}

	// syncMu serializes passes over the same repository.
	syncMu sync.Mutex
	now    func() time.Time
}

func New(root RootResolver, opts Options) *Service {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.Branch == "" {
		opts.Branch = "main"
	}
	if opts.Author == "" {
		opts.Author = "Proposal Backup"
	}
	return &Service{
		root:      root,
		opts:      opts,
		startedCh: make(chan struct{}),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		now:       time.Now,
	}
}

// EnsureStarted starts the periodic loop on the first call. Later and
// concurrent calls return immediately.
func (s *Service) EnsureStarted() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	close(s.startedCh)
	if !s.opts.Enabled {
		close(s.done)
		log.Printf("backup: disabled")
		return
	}
	log.Printf("backup: started, interval %s", s.interval())
	go s.loop()
}

// Started is closed once EnsureStarted has run.
func (s *Service) Started() <-chan struct{} {
	return s.startedCh
}

// Stop ends the periodic loop and waits for a running pass to finish.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.started.Load() {
		<-s.done
	}
}

func (s *Service) interval() time.Duration {
	if s.opts.IntervalSource != nil {
		if d := s.opts.IntervalSource(); d > 0 {
			return d
		}
	}
	return s.opts.Interval
}

func (s *Service) loop() {
	defer close(s.done)
	timer := time.NewTimer(s.interval())
	defer timer.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-timer.C:
			interval := s.interval()
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			if _, err := s.Sync(ctx); err != nil {
				log.Printf("backup: sync failed: %v", err)
			}
			cancel()
			timer.Reset(s.interval())
		}
	}
}

// Sync commits every change under the data root and pushes when a remote is
// configured.
func (s *Service) Sync(ctx context.Context) (result SyncResult, err error) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	defer func() {
		switch {
		case err != nil:
			metrics.RecordBackupSync("error")
		case result.Pushed:
			metrics.RecordBackupSync("pushed")
		case result.Committed:
			metrics.RecordBackupSync("committed")
		default:
			metrics.RecordBackupSync("clean")
		}
	}()

	root := s.root.DataRoot()
	repo, err := s.openRepo(root)
	if err != nil {
		return SyncResult{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return SyncResult{}, fmt.Errorf("open worktree: %w", err)
	}

	files, err := stageAll(worktree)
	if err != nil {
		return SyncResult{}, err
	}
	result.Files = files
	if files > 0 {
		hash, err := worktree.Commit(s.commitMessage(files), &git.CommitOptions{
			Author: &object.Signature{
				Name:  s.opts.Author,
				Email: fmt.Sprintf("%s@backup.local", sanitizeEmail(s.opts.Author)),
				When:  s.now(),
			},
		})
		if err != nil {
			return result, fmt.Errorf("commit snapshot: %w", err)
		}
		result.Committed = true
		result.Commit = hash.String()[:7]
	}

	if s.opts.RemoteURL == "" {
		return result, nil
	}
	if _, err := repo.Head(); errors.Is(err, plumbing.ErrReferenceNotFound) {
		return result, nil
	}
	pushed, err := s.push(ctx, repo)
	if err != nil {
		return result, err
	}
	result.Pushed = pushed
	return result, nil
}

func (s *Service) openRepo(root string) (*git.Repository, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create data root: %w", err)
	}
	repo, err := git.PlainOpen(root)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInitWithOptions(root, &git.PlainInitOptions{
			InitOptions: git.InitOptions{
				DefaultBranch: plumbing.NewBranchReferenceName(s.opts.Branch),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("init backup repo: %w", err)
		}
		log.Printf("backup: initialized repository at %s", root)
	} else if err != nil {
		return nil, fmt.Errorf("open backup repo: %w", err)
	}

	ignorePath := filepath.Join(root, ignoreFile)
	if _, err := os.Stat(ignorePath); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(ignorePath, []byte(ignorePattern), 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", ignoreFile, err)
		}
	}
	return repo, nil
}

// stageAll mirrors `git add -A` and returns the number of staged paths.
func stageAll(worktree *git.Worktree) (int, error) {
	status, err := worktree.Status()
	if err != nil {
		return 0, fmt.Errorf("read worktree status: %w", err)
	}
	paths := make([]string, 0, len(status))
	for path := range status {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	staged := 0
	for _, path := range paths {
		fileStatus := status[path]
		switch fileStatus.Worktree {
		case git.Unmodified:
			if fileStatus.Staging != git.Unmodified {
				staged++
			}
			continue
		case git.Deleted:
			if _, err := worktree.Remove(path); err != nil {
				return staged, fmt.Errorf("git rm %s: %w", path, err)
			}
		default:
			if _, err := worktree.Add(path); err != nil {
				return staged, fmt.Errorf("git add %s: %w", path, err)
			}
		}
		staged++
	}
	return staged, nil
}

func (s *Service) push(ctx context.Context, repo *git.Repository) (bool, error) {
	if err := s.ensureRemote(repo); err != nil {
		return false, err
	}
	head, err := repo.Head()
	if err != nil {
		return false, fmt.Errorf("resolve head: %w", err)
	}
	refSpec := gitconfig.RefSpec(fmt.Sprintf("%s:%s", head.Name(), plumbing.NewBranchReferenceName(s.opts.Branch)))
	options := &git.PushOptions{
		RemoteName: remoteName,
		RefSpecs:   []gitconfig.RefSpec{refSpec},
	}
	if s.opts.Token != "" {
		username := s.opts.Username
		if username == "" {
			username = "git"
		}
		options.Auth = &githttp.BasicAuth{Username: username, Password: s.opts.Token}
	}
	err = repo.PushContext(ctx, options)
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("push to %s: %w", remoteName, err)
	}
	return true, nil
}

func (s *Service) ensureRemote(repo *git.Repository) error {
	remote, err := repo.Remote(remoteName)
	if err == nil {
		urls := remote.Config().URLs
		if len(urls) > 0 && urls[0] == s.opts.RemoteURL {
			return nil
		}
		if err := repo.DeleteRemote(remoteName); err != nil {
			return fmt.Errorf("replace remote: %w", err)
		}
	} else if !errors.Is(err, git.ErrRemoteNotFound) {
		return fmt.Errorf("read remote: %w", err)
	}
	if _, err := repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: remoteName,
		URLs: []string{s.opts.RemoteURL},
	}); err != nil {
		return fmt.Errorf("create remote: %w", err)
	}
	return nil
}

func (s *Service) commitMessage(files int) string {
	return fmt.Sprintf("Backup %s (%d files)", s.now().UTC().Format(time.RFC3339), files)
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "backup"
	}
	return string(out)
}
