// Package harvester turns raw NeoWs feed responses into published events.
package harvester

import (
	"context"
	"crypto/sha1" //nolint:gosec // non-cryptographic digest
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/samvad-hq/neows-harvester/internal/logger"
	"github.com/samvad-hq/neows-harvester/pkg/neows"
	"github.com/samvad-hq/neows-harvester/pkg/publishers"
)

// Source tags every event produced by this service.
const Source = "neows"

// NeoWs reports the remaining hourly quota of the API key in this header.
const rateLimitRemainingHeader = "X-RateLimit-Remaining"

// ErrAlreadyPublished is returned by Harvest when the payload was published before.
var ErrAlreadyPublished = errors.New("feed payload already published")

// Service fetches a feed window, checks the upstream response and publishes
// new payloads.
type Service struct {
	feed       FeedFetcher
	publisher  EventPublisher
	store      Deduper
	log        logger.Logger
	windowDays int
	now        func() time.Time
}

// NewService wires the feed client, publishers and dedupe store.
func NewService(feed FeedFetcher, pub EventPublisher, store Deduper, log logger.Logger, windowDays int) *Service {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Service{
		feed:       feed,
		publisher:  pub,
		store:      store,
		log:        log,
		windowDays: windowDays,
		now:        time.Now,
	}
}

// Run harvests the configured window ending today (UTC).
func (s *Service) Run(ctx context.Context) error {
	if s == nil || s.feed == nil {
		return fmt.Errorf("harvester service is not initialized")
	}
	rng := neows.WindowEndingAt(s.now(), s.windowDays)
	err := s.Harvest(ctx, rng)
	if errors.Is(err, ErrAlreadyPublished) {
		return nil
	}
	return err
}

// Harvest fetches rng once and publishes the payload unless its digest was
// already recorded.
func (s *Service) Harvest(ctx context.Context, rng neows.DateRange) error {
	if s == nil || s.feed == nil {
		return fmt.Errorf("harvester service is not initialized")
	}

	resp, err := s.feed.FetchFeed(ctx, rng.StartDate, rng.EndDate)
	if err != nil {
		return fmt.Errorf("fetch feed %s: %w", rng, err)
	}

	body := resp.Body()
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("feed %s returned status %d body: %s", rng, resp.StatusCode(), responseSnippet(body))
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return fmt.Errorf("feed %s returned an empty body", rng)
	}
	if !json.Valid(body) {
		return fmt.Errorf("feed %s returned a non-JSON body: %s", rng, responseSnippet(body))
	}

	digest := feedDigest(rng, body)
	if s.alreadyPublished(rng, digest) {
		s.log.InfoObj("feed unchanged; skipping publish", "feed_meta", map[string]any{
			"start_date": rng.StartDate,
			"end_date":   rng.EndDate,
			"digest":     digest,
		})
		return ErrAlreadyPublished
	}

	evt := publishers.NewEvent(Source, rng, resp.StatusCode(), digest, body)
	delivered, pubErr := s.publish(ctx, evt)
	if delivered > 0 && s.store != nil {
		if err := s.store.MarkFeed(digest); err != nil {
			s.log.WarnObj("feed digest mark failed", "dedupe_error", map[string]any{
				"digest": digest,
				"error":  err.Error(),
			})
		}
	}

	s.log.InfoObj("feed harvested", "feed_result", map[string]any{
		"start_date":          rng.StartDate,
		"end_date":            rng.EndDate,
		"digest":              digest,
		"payload_bytes":       len(body),
		"publishers_okay":     delivered,
		"ratelimit_remaining": resp.Header(rateLimitRemainingHeader),
	})

	if pubErr != nil {
		return fmt.Errorf("publish feed %s: %w", rng, pubErr)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, evt publishers.Event) (int, error) {
	if s.publisher == nil {
		return 0, nil
	}
	return s.publisher.Publish(ctx, evt)
}

// alreadyPublished treats dedupe lookup failures as unseen so a broken store
// never blocks delivery.
func (s *Service) alreadyPublished(rng neows.DateRange, digest string) bool {
	if s.store == nil {
		return false
	}
	seen, err := s.store.SeenFeed(digest)
	if err != nil {
		s.log.WarnObj("feed digest lookup failed", "dedupe_error", map[string]any{
			"start_date": rng.StartDate,
			"end_date":   rng.EndDate,
			"error":      err.Error(),
		})
		return false
	}
	return seen
}

func feedDigest(rng neows.DateRange, body []byte) string {
	h := sha1.New() //nolint:gosec // non-cryptographic digest
	h.Write([]byte(rng.StartDate))
	h.Write([]byte{0})
	h.Write([]byte(rng.EndDate))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func responseSnippet(body []byte) string {
	const maxLen = 512
	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		return s[:cut] + "..."
	}
	if s == "" {
		return "<empty>"
	}
	return s
}
