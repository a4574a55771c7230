package harvester

import (
	"context"

	"github.com/samvad-hq/neows-harvester/pkg/httpclient"
	"github.com/samvad-hq/neows-harvester/pkg/publishers"
)

// FeedFetcher retrieves the raw feed response for a date window.
type FeedFetcher interface {
	FetchFeed(ctx context.Context, startDate, endDate string) (httpclient.Response, error)
}

// EventPublisher publishes harvested feeds downstream and reports how many
// sinks accepted the event.
type EventPublisher interface {
	Publish(ctx context.Context, evt publishers.Event) (int, error)
}

// Deduper remembers which feed payloads were already published.
type Deduper interface {
	SeenFeed(digest string) (bool, error)
	MarkFeed(digest string) error
}
