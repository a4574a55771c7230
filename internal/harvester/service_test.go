package harvester

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/samvad-hq/neows-harvester/pkg/httpclient"
	"github.com/samvad-hq/neows-harvester/pkg/neows"
	"github.com/samvad-hq/neows-harvester/pkg/publishers"
)

const sampleFeed = `{"links":{},"element_count":1,"near_earth_objects":{"2023-01-01":[{"id":"2465633","name":"465633 (2009 JR5)"}]}}`

type fakeResponse struct {
	body       []byte
	statusCode int
	headers    map[string]string
}

func (f fakeResponse) Body() []byte             { return f.body }
func (f fakeResponse) StatusCode() int          { return f.statusCode }
func (f fakeResponse) Header(key string) string { return f.headers[key] }

// fakeFeed returns a preset response or error and records requested windows.
type fakeFeed struct {
	resp  httpclient.Response
	err   error
	calls []neows.DateRange
}

func (f *fakeFeed) FetchFeed(_ context.Context, startDate, endDate string) (httpclient.Response, error) {
	f.calls = append(f.calls, neows.DateRange{StartDate: startDate, EndDate: endDate})
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

// fakePublisher records published events and can inject errors.
type fakePublisher struct {
	mu        sync.Mutex
	events    []publishers.Event
	successes int
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, evt publishers.Event) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return f.successes, f.err
}

// fakeDeduper tracks seen digests.
type fakeDeduper struct {
	mu      sync.Mutex
	seen    map[string]bool
	seenErr error
}

func (f *fakeDeduper) SeenFeed(digest string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seenErr != nil {
		return false, f.seenErr
	}
	return f.seen[digest], nil
}

func (f *fakeDeduper) MarkFeed(digest string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	f.seen[digest] = true
	return nil
}

var testRange = neows.DateRange{StartDate: "2023-01-01", EndDate: "2023-01-07"}

func TestHarvestPublishesAndMarksFreshFeed(t *testing.T) {
	feed := &fakeFeed{resp: fakeResponse{body: []byte(sampleFeed), statusCode: 200}}
	pub := &fakePublisher{successes: 1}
	dedupe := &fakeDeduper{}

	svc := NewService(feed, pub, dedupe, nil, 7)
	if err := svc.Harvest(context.Background(), testRange); err != nil {
		t.Fatalf("Harvest: %v", err)
	}

	if len(pub.events) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(pub.events))
	}
	evt := pub.events[0]
	if evt.Source != Source || evt.StartDate != "2023-01-01" || evt.EndDate != "2023-01-07" {
		t.Fatalf("unexpected event %+v", evt)
	}
	if string(evt.Payload) != sampleFeed {
		t.Fatalf("payload altered: %s", evt.Payload)
	}
	if !dedupe.seen[evt.Digest] {
		t.Fatalf("digest not marked after successful publish")
	}
}

func TestHarvestSkipsAlreadyPublishedFeed(t *testing.T) {
	feed := &fakeFeed{resp: fakeResponse{body: []byte(sampleFeed), statusCode: 200}}
	pub := &fakePublisher{successes: 1}
	svc := NewService(feed, pub, &fakeDeduper{}, nil, 7)

	if err := svc.Harvest(context.Background(), testRange); err != nil {
		t.Fatalf("first Harvest: %v", err)
	}
	err := svc.Harvest(context.Background(), testRange)
	if !errors.Is(err, ErrAlreadyPublished) {
		t.Fatalf("expected ErrAlreadyPublished, got %v", err)
	}
	if len(feed.calls) != 2 {
		t.Fatalf("every harvest must hit the feed, got %d calls", len(feed.calls))
	}
	if len(pub.events) != 1 {
		t.Fatalf("expected a single publish, got %d", len(pub.events))
	}
}

func TestHarvestWrapsFetchError(t *testing.T) {
	boom := errors.New("dial tcp: connection refused")
	svc := NewService(&fakeFeed{err: boom}, &fakePublisher{}, nil, nil, 7)

	err := svc.Harvest(context.Background(), testRange)
	if !errors.Is(err, boom) {
		t.Fatalf("expected fetch error to be wrapped, got %v", err)
	}
}

func TestHarvestRejectsNon200(t *testing.T) {
	feed := &fakeFeed{resp: fakeResponse{body: []byte(`{"error":{"code":"API_KEY_INVALID"}}`), statusCode: 403}}
	pub := &fakePublisher{}
	svc := NewService(feed, pub, nil, nil, 7)

	err := svc.Harvest(context.Background(), testRange)
	if err == nil || !strings.Contains(err.Error(), "status 403") || !strings.Contains(err.Error(), "API_KEY_INVALID") {
		t.Fatalf("expected status error with snippet, got %v", err)
	}
	if len(pub.events) != 0 {
		t.Fatalf("nothing should be published on upstream error")
	}
}

func TestHarvestRejectsEmptyAndNonJSONBodies(t *testing.T) {
	for _, body := range []string{"", "   ", "<html>rate limited</html>"} {
		svc := NewService(&fakeFeed{resp: fakeResponse{body: []byte(body), statusCode: 200}}, &fakePublisher{}, nil, nil, 7)
		if err := svc.Harvest(context.Background(), testRange); err == nil {
			t.Errorf("expected error for body %q", body)
		}
	}
}

func TestHarvestDoesNotMarkWhenAllPublishersFail(t *testing.T) {
	feed := &fakeFeed{resp: fakeResponse{body: []byte(sampleFeed), statusCode: 200}}
	pub := &fakePublisher{err: errors.New("sqs down")}
	dedupe := &fakeDeduper{}
	svc := NewService(feed, pub, dedupe, nil, 7)

	err := svc.Harvest(context.Background(), testRange)
	if err == nil || !strings.Contains(err.Error(), "sqs down") {
		t.Fatalf("expected publish error, got %v", err)
	}
	if len(dedupe.seen) != 0 {
		t.Fatalf("digest must not be marked when nothing was delivered")
	}
}

func TestHarvestPublishesWhenDedupeLookupFails(t *testing.T) {
	feed := &fakeFeed{resp: fakeResponse{body: []byte(sampleFeed), statusCode: 200}}
	pub := &fakePublisher{successes: 1}
	svc := NewService(feed, pub, &fakeDeduper{seenErr: errors.New("bolt closed")}, nil, 7)

	if err := svc.Harvest(context.Background(), testRange); err != nil {
		t.Fatalf("Harvest: %v", err)
	}
	if len(pub.events) != 1 {
		t.Fatalf("expected publish despite dedupe failure")
	}
}

func TestRunUsesWindowEndingToday(t *testing.T) {
	feed := &fakeFeed{resp: fakeResponse{body: []byte(sampleFeed), statusCode: 200}}
	svc := NewService(feed, &fakePublisher{successes: 1}, &fakeDeduper{}, nil, 3)
	svc.now = func() time.Time { return time.Date(2023, time.January, 7, 8, 0, 0, 0, time.UTC) }

	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("unchanged feed should not fail Run: %v", err)
	}
	if len(feed.calls) != 2 || feed.calls[0] != (neows.DateRange{StartDate: "2023-01-05", EndDate: "2023-01-07"}) {
		t.Fatalf("unexpected windows %#v", feed.calls)
	}
}

func TestRunRequiresFeed(t *testing.T) {
	svc := NewService(nil, nil, nil, nil, 7)
	if err := svc.Run(context.Background()); err == nil {
		t.Fatalf("expected error for uninitialized service")
	}
}

func TestFeedDigestDependsOnRangeAndBody(t *testing.T) {
	a := feedDigest(testRange, []byte(sampleFeed))
	if a != feedDigest(testRange, []byte(sampleFeed)) {
		t.Fatalf("digest not deterministic")
	}
	if a == feedDigest(neows.DateRange{StartDate: "2023-01-02", EndDate: "2023-01-07"}, []byte(sampleFeed)) {
		t.Fatalf("digest ignores range")
	}
	if a == feedDigest(testRange, []byte(`{}`)) {
		t.Fatalf("digest ignores body")
	}
}

func TestResponseSnippet(t *testing.T) {
	if got := responseSnippet(nil); got != "<empty>" {
		t.Fatalf("empty snippet = %q", got)
	}
	long := responseSnippet([]byte(strings.Repeat("x", 600)))
	if len(long) != 515 || !strings.HasSuffix(long, "...") {
		t.Fatalf("truncated snippet length = %d", len(long))
	}
	split := responseSnippet([]byte(strings.Repeat("a", 511) + "é" + strings.Repeat("b", 10)))
	if !utf8.ValidString(split) {
		t.Fatalf("snippet cut inside a rune: %q", split[len(split)-6:])
	}
	if split != strings.Repeat("a", 511)+"..." {
		t.Fatalf("unexpected snippet tail %q", split[len(split)-6:])
	}
}

type logEntry struct {
	level, msg, key string
	obj             interface{}
}

// recordingLogger captures log calls for assertions.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (r *recordingLogger) add(level, msg, key string, obj interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, logEntry{level: level, msg: msg, key: key, obj: obj})
}

func (r *recordingLogger) InfoObj(msg, key string, obj interface{})  { r.add("info", msg, key, obj) }
func (r *recordingLogger) DebugObj(msg, key string, obj interface{}) { r.add("debug", msg, key, obj) }
func (r *recordingLogger) WarnObj(msg, key string, obj interface{})  { r.add("warn", msg, key, obj) }
func (r *recordingLogger) ErrorObj(msg, key string, obj interface{}) { r.add("error", msg, key, obj) }

func (r *recordingLogger) find(key string) (logEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.key == key {
			return e, true
		}
	}
	return logEntry{}, false
}

func TestHarvestLogsRateLimitRemaining(t *testing.T) {
	feed := &fakeFeed{resp: fakeResponse{
		body:       []byte(sampleFeed),
		statusCode: 200,
		headers:    map[string]string{"X-RateLimit-Remaining": "998"},
	}}
	log := &recordingLogger{}
	svc := NewService(feed, &fakePublisher{successes: 1}, &fakeDeduper{}, log, 7)

	if err := svc.Harvest(context.Background(), neows.DateRange{StartDate: "2023-01-01", EndDate: "2023-01-07"}); err != nil {
		t.Fatalf("Harvest: %v", err)
	}
	entry, ok := log.find("feed_result")
	if !ok {
		t.Fatalf("feed_result not logged: %+v", log.entries)
	}
	fields, ok := entry.obj.(map[string]any)
	if !ok {
		t.Fatalf("fields type %T", entry.obj)
	}
	if fields["ratelimit_remaining"] != "998" {
		t.Fatalf("ratelimit_remaining = %v", fields["ratelimit_remaining"])
	}
}
