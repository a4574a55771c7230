package app

import (
	"context"
	"fmt"
	"time"

	"github.com/samvad-hq/neows-harvester/internal/config"
	"github.com/samvad-hq/neows-harvester/internal/harvester"
	"github.com/samvad-hq/neows-harvester/internal/logger"
	"github.com/samvad-hq/neows-harvester/internal/storage"
	"github.com/samvad-hq/neows-harvester/pkg/httpclient"
	"github.com/samvad-hq/neows-harvester/pkg/neows"
	"github.com/samvad-hq/neows-harvester/pkg/publishers"
)

// Harvester represents the NeoWs harvester runtime. It owns the harvest loop
// and the lifetime of the publishers and the dedupe store.
type Harvester struct {
	cfg             *config.Config
	fanout          *publishers.Fanout
	service         *harvester.Service
	harvestInterval time.Duration
	log             logger.Logger
	store           storage.Store
}

// NewFeedClient builds the NeoWs feed client described by cfg.
func NewFeedClient(cfg *config.Config) (*neows.FeedClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	var headers map[string]string
	if cfg.NeoWsUserAgent != "" {
		headers = map[string]string{"User-Agent": cfg.NeoWsUserAgent}
	}
	return neows.NewFeedClient(neows.Config{
		BaseURL: cfg.NeoWsBaseURL,
		APIKey:  cfg.NeoWsAPIKey,
		Headers: headers,
	}, httpclient.NewRestyClient(cfg.NeoWsTimeout))
}

// NewHarvester builds a harvester runtime from config files.
func NewHarvester(ctx context.Context, cfg *config.Config, log logger.Logger) (*Harvester, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	feed, err := NewFeedClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("init feed client: %w", err)
	}

	publisherReg, err := publishers.LoadRegistry(cfg.PublishersFile)
	if err != nil {
		return nil, fmt.Errorf("load publishers registry: %w", err)
	}

	enabledPublishers := publisherReg.Enabled()
	if len(enabledPublishers) == 0 {
		return nil, fmt.Errorf("no publishers configured")
	}

	pubClients, err := publishers.BuildAll(ctx, publishers.DefaultRegistry(), enabledPublishers, log)
	if err != nil {
		return nil, fmt.Errorf("build publishers: %w", err)
	}
	fanout := publishers.NewFanout(pubClients)
	publisherSummaries := make([]map[string]string, 0, len(enabledPublishers))
	for _, pubCfg := range enabledPublishers {
		publisherSummaries = append(publisherSummaries, map[string]string{
			"id":   pubCfg.ID,
			"type": pubCfg.Type,
		})
	}
	log.InfoObj("publishers registry loaded", "publishers_meta", map[string]any{
		"count":      len(publisherSummaries),
		"publishers": publisherSummaries,
	})

	storeOpts := storage.Options{
		DigestTTL:       cfg.StorageTTL,
		CleanupInterval: cfg.StorageCleanupInterval,
	}
	store, err := storage.NewStore(cfg.StorageType, cfg.BBoltPath, storeOpts)
	if err != nil {
		_ = fanout.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	log.InfoObj("storage initialized", "storage_config", map[string]any{
		"type":                     cfg.StorageType,
		"path":                     cfg.BBoltPath,
		"digest_ttl_seconds":       int(cfg.StorageTTL.Seconds()),
		"cleanup_interval_seconds": int(cfg.StorageCleanupInterval.Seconds()),
	})

	return &Harvester{
		cfg:             cfg,
		fanout:          fanout,
		service:         harvester.NewService(feed, fanout, store, log, cfg.HarvestWindowDays),
		harvestInterval: cfg.HarvestInterval,
		log:             log,
		store:           store,
	}, nil
}

// Run starts the harvest loop until the context is cancelled.
func (h *Harvester) Run(ctx context.Context) error {
	if h == nil || h.service == nil {
		return fmt.Errorf("harvester is not initialized")
	}
	defer h.close()

	h.log.InfoObj("harvester loop starting", "harvester_state", map[string]any{
		"feed_url":         h.cfg.NeoWsBaseURL,
		"window_days":      h.cfg.HarvestWindowDays,
		"publishers_count": h.fanout.Size(),
		"harvest_interval": h.harvestInterval.String(),
	})

	if err := h.runOnce(ctx); err != nil {
		h.log.ErrorObj("initial harvest failed", "error", err)
	}

	ticker := time.NewTicker(h.harvestInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.InfoObj("harvester loop exiting", "reason", ctx.Err())
			return nil
		case <-ticker.C:
			if err := h.runOnce(ctx); err != nil {
				h.log.ErrorObj("scheduled harvest failed", "error", err)
			}
		}
	}
}

// runOnce performs a single harvest of the configured window.
func (h *Harvester) runOnce(ctx context.Context) error {
	start := time.Now()
	h.log.DebugObj("harvest started", "harvest_meta", map[string]any{
		"started_at": start.UTC(),
	})
	if err := h.service.Run(ctx); err != nil {
		return err
	}
	h.log.InfoObj("harvest completed", "harvest_meta", map[string]any{
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
	return nil
}

// close releases publishers and the storage backend, logging any errors encountered.
func (h *Harvester) close() {
	if err := h.fanout.Close(); err != nil {
		h.log.ErrorObj("publishers close failed", "error", err)
	}
	if h.store == nil {
		return
	}
	if err := h.store.Close(); err != nil {
		h.log.ErrorObj("storage close failed", "error", err)
	}
}
