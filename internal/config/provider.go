package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Provider holds the live configuration. Readers always get the latest value,
// so a reloaded data directory takes effect on the next call.
type Provider struct {
	mu  sync.RWMutex
	cfg Config
}

func NewProvider(cfg Config) *Provider {
	return &Provider{cfg: cfg}
}

func (p *Provider) Current() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// DataRoot returns the directory under which all proposal data lives.
func (p *Provider) DataRoot() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.DataDir
}

// Reload re-reads the environment and the overlay file.
func (p *Provider) Reload() error {
	p.mu.RLock()
	path := p.cfg.ConfigFile
	p.mu.RUnlock()

	next := loadEnv()
	next.ConfigFile = path
	if path != "" {
		if err := applyOverlayFile(&next, path); err != nil {
			return err
		}
	}

	p.mu.Lock()
	prev := p.cfg
	p.cfg = next
	p.mu.Unlock()
	if prev.DataDir != next.DataDir {
		log.Printf("config: data dir changed %s -> %s", prev.DataDir, next.DataDir)
	}
	return nil
}

// Watch reloads the configuration whenever the overlay file changes. It blocks
// until ctx is done. The parent directory is watched so editors that replace
// the file by rename are picked up too.
func (p *Provider) Watch(ctx context.Context) error {
	path := p.Current().ConfigFile
	if path == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := p.Reload(); err != nil {
				log.Printf("config: reload failed, keeping previous values: %v", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("config: watcher error: %v", err)
		}
	}
}
