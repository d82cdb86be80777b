package app

import (
	"context"
	"log"
	"strings"
	"time"

	"pitchdesk/api/internal/backup"
	"pitchdesk/api/internal/config"
	"pitchdesk/api/internal/locks"
	"pitchdesk/api/internal/proposal"
	"pitchdesk/api/internal/search"
)

// Runtime is a fully wired Service plus the background parts that need to be
// shut down with it.
type Runtime struct {
	Service *Service
	Store   *proposal.Store
	Backup  *backup.Service

	meili  *search.Meili
	closer func() error
}

type WireOptions struct {
	// BackupLoop starts the periodic backup on first store use. Without it
	// backups only run on demand.
	BackupLoop bool
	// Reindex pushes every proposal to Meilisearch at startup.
	Reindex bool
}

// Wire builds the service graph from configuration.
func Wire(provider *config.Provider, opts WireOptions) (*Runtime, error) {
	cfg := provider.Current()

	backupService := backup.New(provider, backup.Options{
		Enabled:   cfg.BackupEnabled && opts.BackupLoop,
		Interval:  cfg.BackupInterval,
		RemoteURL: cfg.BackupRemoteURL,
		Branch:    cfg.BackupBranch,
		Username:  cfg.BackupUsername,
		Token:     cfg.BackupToken,
		Author:    cfg.BackupAuthor,
		IntervalSource: func() time.Duration {
			return provider.Current().BackupInterval
		},
	})
	store := proposal.NewStore(provider, backupService)

	rt := &Runtime{Store: store, Backup: backupService}

	var locker locks.Locker
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for proposal locks")
		redisLocker, err := locks.NewRedisLocker(cfg.RedisURL, cfg.LockTTL)
		if err != nil {
			return nil, err
		}
		locker = redisLocker
		rt.closer = redisLocker.Close
	} else {
		log.Printf("Using in-process proposal locks")
		locker = locks.NewLocalLocker()
	}

	if strings.TrimSpace(cfg.MeiliURL) != "" {
		rt.meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(rt.meili, search.NewScan(store))

	rt.Service = New(provider, store, locker, searchService, backupService)
	if opts.Reindex && rt.meili != nil {
		go searchService.ReindexAll(context.Background())
	}
	return rt, nil
}

// Close stops background work and releases connections.
func (r *Runtime) Close() {
	r.Backup.Stop()
	if r.meili != nil {
		r.meili.Close()
	}
	if r.closer != nil {
		if err := r.closer(); err != nil {
			log.Printf("app: close: %v", err)
		}
	}
}
