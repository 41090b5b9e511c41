package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"newshook/app/cfg"
	"newshook/app/database"
	"newshook/app/feed"
)

type fakeFetcher struct {
	data []byte
	err  error

	calls int
	urls  []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.calls++
	f.urls = append(f.urls, url)
	return f.data, f.err
}

type fakeParser struct {
	items []feed.Item
	err   error
}

func (f *fakeParser) Run(data []byte) ([]feed.Item, error) {
	return f.items, f.err
}

type identityResolver struct{}

func (identityResolver) Resolve(ctx context.Context, link string) string { return link }

type memStore struct {
	known    map[string]struct{}
	knownErr error

	recorded []database.NewsItem
}

func (s *memStore) KnownGUIDs() (map[string]struct{}, error) {
	if s.knownErr != nil {
		return nil, s.knownErr
	}
	known := make(map[string]struct{}, len(s.known))
	for guid := range s.known {
		known[guid] = struct{}{}
	}
	return known, nil
}

func (s *memStore) RecordDelivered(items []database.NewsItem) error {
	if s.known == nil {
		s.known = make(map[string]struct{})
	}
	for _, item := range items {
		s.known[item.GUID] = struct{}{}
	}
	s.recorded = append(s.recorded, items...)
	return nil
}

type fakeDeliverer struct {
	sent    []string
	failFor string // fail messages containing this substring
}

func (d *fakeDeliverer) Send(ctx context.Context, content string) error {
	if d.failFor != "" && strings.Contains(content, d.failFor) {
		return errors.New("webhook rejected message")
	}
	d.sent = append(d.sent, content)
	return nil
}

func newTestRunner(c *cfg.Cfg, fetcher *fakeFetcher, parser *fakeParser, store *memStore, deliverer *fakeDeliverer) *Runner {
	runner := NewRunner(c, fetcher, parser, identityResolver{}, store, deliverer)
	runner.Now = func() time.Time { return time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC) }
	runner.Sleep = func(time.Duration) {}
	return runner
}

func sampleItems() []feed.Item {
	return []feed.Item{
		{GUID: "b", Title: "Second story", Link: "https://example.com/b", PublishedAt: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)},
		{GUID: "a", Title: "First story", Link: "https://example.com/a", PublishedAt: time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)},
		{GUID: "c", Title: "Third story", Link: "https://example.com/c", PublishedAt: time.Date(2026, 8, 25, 11, 0, 0, 0, time.UTC)},
	}
}

func TestRunner_DeliversNewItemsOldestFirst(t *testing.T) {
	store := &memStore{}
	deliverer := &fakeDeliverer{}
	runner := newTestRunner(
		&cfg.Cfg{FeedURL: "https://news.example/rss"},
		&fakeFetcher{data: []byte("<rss/>")},
		&fakeParser{items: sampleItems()},
		store,
		deliverer,
	)

	report, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.State != StateDone {
		t.Errorf("Expected state %q, got %q", StateDone, report.State)
	}
	if report.Fetched != 3 || report.New != 3 || report.Delivered != 3 {
		t.Errorf("Unexpected counts: %+v", report)
	}

	if len(deliverer.sent) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(deliverer.sent))
	}
	for i, title := range []string{"First story", "Second story", "Third story"} {
		if !strings.Contains(deliverer.sent[i], title) {
			t.Errorf("Message %d out of order: %q", i, deliverer.sent[i])
		}
	}
}

func TestRunner_SecondRunDeliversNothing(t *testing.T) {
	store := &memStore{}
	deliverer := &fakeDeliverer{}
	runner := newTestRunner(
		&cfg.Cfg{FeedURL: "https://news.example/rss"},
		&fakeFetcher{data: []byte("<rss/>")},
		&fakeParser{items: sampleItems()},
		store,
		deliverer,
	)

	if _, err := runner.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error on first run: %v", err)
	}

	report, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error on second run: %v", err)
	}

	if report.New != 0 || report.Delivered != 0 {
		t.Errorf("Expected no new items on identical second run, got %+v", report)
	}
	if len(deliverer.sent) != 3 {
		t.Errorf("Expected no additional messages, got %d total", len(deliverer.sent))
	}
}

func TestRunner_FailedItemRetriedNextRun(t *testing.T) {
	store := &memStore{}
	deliverer := &fakeDeliverer{failFor: "Second story"}
	runner := newTestRunner(
		&cfg.Cfg{FeedURL: "https://news.example/rss"},
		&fakeFetcher{data: []byte("<rss/>")},
		&fakeParser{items: sampleItems()},
		store,
		deliverer,
	)

	report, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("A per-item failure must not abort the run: %v", err)
	}

	if report.Delivered != 2 || report.Failed != 1 {
		t.Errorf("Expected 2 delivered / 1 failed, got %+v", report)
	}
	if _, seen := store.known["b"]; seen {
		t.Error("Failed item must not be recorded as delivered")
	}

	// The failing endpoint recovers; the deferred item goes out alone.
	deliverer.failFor = ""
	report, err = runner.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error on retry run: %v", err)
	}
	if report.New != 1 || report.Delivered != 1 {
		t.Errorf("Expected only the deferred item on retry, got %+v", report)
	}
	if _, seen := store.known["b"]; !seen {
		t.Error("Expected deferred item recorded after successful retry")
	}
}

func TestRunner_FetchFailureAbortsBeforeStoreChanges(t *testing.T) {
	store := &memStore{known: map[string]struct{}{"existing": {}}}
	deliverer := &fakeDeliverer{}
	runner := newTestRunner(
		&cfg.Cfg{FeedURL: "https://news.example/rss"},
		&fakeFetcher{err: &feed.FetchError{Kind: feed.FetchErrorNetwork, URL: "https://news.example/rss", Err: errors.New("connection refused")}},
		&fakeParser{},
		store,
		deliverer,
	)

	report, err := runner.Run(context.Background())
	if err == nil {
		t.Fatal("Expected fetch error to abort the run")
	}

	var fetchErr *feed.FetchError
	if !errors.As(err, &fetchErr) {
		t.Errorf("Expected *feed.FetchError, got %T", err)
	}
	if report.State != StateAborted {
		t.Errorf("Expected state %q, got %q", StateAborted, report.State)
	}
	if len(deliverer.sent) != 0 {
		t.Errorf("Expected no deliveries after fetch failure, got %d", len(deliverer.sent))
	}
	if len(store.recorded) != 0 {
		t.Errorf("Expected store untouched, got %d records", len(store.recorded))
	}
}

func TestRunner_ParseFailureReportedAsFetchError(t *testing.T) {
	runner := newTestRunner(
		&cfg.Cfg{FeedURL: "https://news.example/rss"},
		&fakeFetcher{data: []byte("not xml")},
		&fakeParser{err: errors.New("document is not a feed")},
		&memStore{},
		&fakeDeliverer{},
	)

	report, err := runner.Run(context.Background())
	if err == nil {
		t.Fatal("Expected parse error to abort the run")
	}

	var fetchErr *feed.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Expected *feed.FetchError, got %T", err)
	}
	if fetchErr.Kind != feed.FetchErrorParse {
		t.Errorf("Expected parse kind, got %q", fetchErr.Kind)
	}
	if report.State != StateAborted {
		t.Errorf("Expected state %q, got %q", StateAborted, report.State)
	}
}

func TestRunner_MalformedFilterAbortsBeforeFetch(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte("<rss/>")}
	runner := newTestRunner(
		&cfg.Cfg{FeedURL: "https://news.example/rss", AdvancedFilter: `"unterminated`},
		fetcher,
		&fakeParser{},
		&memStore{},
		&fakeDeliverer{},
	)

	report, err := runner.Run(context.Background())
	if err == nil {
		t.Fatal("Expected malformed filter expression to abort the run")
	}

	var filterErr *feed.FilterError
	if !errors.As(err, &filterErr) {
		t.Errorf("Expected *feed.FilterError, got %T", err)
	}
	if report.State != StateAborted {
		t.Errorf("Expected state %q, got %q", StateAborted, report.State)
	}
	if fetcher.calls != 0 {
		t.Errorf("Expected no fetch after filter compile failure, got %d calls", fetcher.calls)
	}
}

func TestRunner_AdvancedFilterNarrowsDelivery(t *testing.T) {
	deliverer := &fakeDeliverer{}
	runner := newTestRunner(
		&cfg.Cfg{FeedURL: "https://news.example/rss", AdvancedFilter: "story -second"},
		&fakeFetcher{data: []byte("<rss/>")},
		&fakeParser{items: sampleItems()},
		&memStore{},
		deliverer,
	)

	report, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Fetched != 3 || report.Eligible != 2 || report.Delivered != 2 {
		t.Errorf("Unexpected counts: %+v", report)
	}
	for _, msg := range deliverer.sent {
		if strings.Contains(msg, "Second story") {
			t.Errorf("Excluded item was delivered: %q", msg)
		}
	}
}

func TestRunner_TopicModeResolvesFeedURL(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte("<rss/>")}
	runner := newTestRunner(
		&cfg.Cfg{TopicMode: true, TopicKeyword: "technology", TopicParams: "?hl=en-US&gl=US&ceid=US:en"},
		fetcher,
		&fakeParser{},
		&memStore{},
		&fakeDeliverer{},
	)

	report, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.HasPrefix(report.FeedURL, "https://news.google.com/rss/topics/") {
		t.Errorf("Expected resolved topic URL, got %q", report.FeedURL)
	}
	if len(fetcher.urls) != 1 || fetcher.urls[0] != report.FeedURL {
		t.Errorf("Fetcher called with %v, report says %q", fetcher.urls, report.FeedURL)
	}
}

func TestRunner_UnknownTopicAborts(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte("<rss/>")}
	runner := newTestRunner(
		&cfg.Cfg{TopicMode: true, TopicKeyword: "astrology", TopicParams: "?hl=en"},
		fetcher,
		&fakeParser{},
		&memStore{},
		&fakeDeliverer{},
	)

	report, err := runner.Run(context.Background())
	if err == nil {
		t.Fatal("Expected unknown topic keyword to abort the run")
	}
	if report.State != StateAborted {
		t.Errorf("Expected state %q, got %q", StateAborted, report.State)
	}
	if fetcher.calls != 0 {
		t.Errorf("Expected no fetch for unknown topic, got %d calls", fetcher.calls)
	}
}

func TestRunner_PacesDeliveries(t *testing.T) {
	var sleeps []time.Duration
	runner := newTestRunner(
		&cfg.Cfg{FeedURL: "https://news.example/rss"},
		&fakeFetcher{data: []byte("<rss/>")},
		&fakeParser{items: sampleItems()},
		&memStore{},
		&fakeDeliverer{},
	)
	runner.Sleep = func(d time.Duration) { sleeps = append(sleeps, d) }

	if _, err := runner.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Two pauses between three messages, none before the first.
	if len(sleeps) != 2 {
		t.Fatalf("Expected 2 pacing sleeps, got %d", len(sleeps))
	}
	for _, d := range sleeps {
		if d != deliveryPacing {
			t.Errorf("Expected %v pacing, got %v", deliveryPacing, d)
		}
	}
}
