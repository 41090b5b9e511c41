package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"newshook/app/cfg"
	"newshook/app/database"
	"newshook/app/discord"
	"newshook/app/feed"
)

// State names the phases of one run. Aborted is terminal and only reachable
// before any delivery has happened, so a fatal error never leaves the store
// half-updated.
type State string

const (
	StateInit       State = "init"
	StateFetching   State = "fetching"
	StateFiltering  State = "filtering"
	StateDiffing    State = "diffing"
	StateDelivering State = "delivering"
	StatePersisting State = "persisting"
	StateDone       State = "done"
	StateAborted    State = "aborted"
)

const deliveryPacing = 1 * time.Second

// Fetcher retrieves the raw feed document.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ItemParser turns a raw document into ordered items.
type ItemParser interface {
	Run(data []byte) ([]feed.Item, error)
}

// LinkResolver rewrites an aggregator link, falling back to the input.
type LinkResolver interface {
	Resolve(ctx context.Context, link string) string
}

// ItemStore is the durable dedupe record.
type ItemStore interface {
	KnownGUIDs() (map[string]struct{}, error)
	RecordDelivered(items []database.NewsItem) error
}

// Deliverer posts one formatted message.
type Deliverer interface {
	Send(ctx context.Context, content string) error
}

// Report summarizes one run for logging and tests.
type Report struct {
	State     State
	FeedURL   string
	Fetched   int
	Eligible  int // after filters
	New       int // after diffing against the store
	Delivered int
	Failed    int // per-item delivery failures, retried next run
}

// Runner drives a single pipeline invocation:
// Init → Fetching → Filtering → Diffing → Delivering → Persisting → Done.
type Runner struct {
	cfg       *cfg.Cfg
	fetcher   Fetcher
	parser    ItemParser
	resolver  LinkResolver
	store     ItemStore
	deliverer Deliverer

	// Now and Sleep are overridable in tests.
	Now   func() time.Time
	Sleep func(time.Duration)
}

func NewRunner(c *cfg.Cfg, fetcher Fetcher, parser ItemParser, resolver LinkResolver, store ItemStore, deliverer Deliverer) *Runner {
	return &Runner{
		cfg:       c,
		fetcher:   fetcher,
		parser:    parser,
		resolver:  resolver,
		store:     store,
		deliverer: deliverer,
		Now:       time.Now,
		Sleep:     time.Sleep,
	}
}

// Run executes the pipeline once. A returned error means the run aborted
// and the store was left unchanged; per-item delivery failures are not
// errors, they only show up in the report.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := &Report{State: StateInit}

	// Init: resolve the feed URL and compile filters before any network
	// I/O, then rehydrate the dedupe set.
	feedURL, err := r.resolveFeedURL()
	if err != nil {
		report.State = StateAborted
		return report, err
	}
	report.FeedURL = feedURL

	filterer, err := feed.NewFilterer(r.cfg.AdvancedFilter, r.cfg.DateFilter)
	if err != nil {
		report.State = StateAborted
		return report, err
	}
	filterer.Now = r.Now

	known, err := r.store.KnownGUIDs()
	if err != nil {
		report.State = StateAborted
		return report, fmt.Errorf("failed to load dedupe state: %w", err)
	}

	report.State = StateFetching
	data, err := r.fetcher.Fetch(ctx, feedURL)
	if err != nil {
		report.State = StateAborted
		return report, err
	}

	items, err := r.parser.Run(data)
	if err != nil {
		report.State = StateAborted
		return report, &feed.FetchError{Kind: feed.FetchErrorParse, URL: feedURL, Err: err}
	}
	report.Fetched = len(items)

	report.State = StateFiltering
	eligible := filterer.Run(items)
	report.Eligible = len(eligible)

	report.State = StateDiffing
	fresh := make([]feed.Item, 0, len(eligible))
	for _, item := range eligible {
		if _, seen := known[item.GUID]; !seen {
			fresh = append(fresh, item)
		}
	}
	report.New = len(fresh)

	// Oldest first, so the channel reads chronologically; feed order is
	// the tiebreak for equal or unknown dates.
	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].PublishedAt.Before(fresh[j].PublishedAt)
	})

	report.State = StateDelivering
	delivered := make([]database.NewsItem, 0, len(fresh))
	for i, item := range fresh {
		if i > 0 {
			r.Sleep(deliveryPacing)
		}

		item.Link = r.resolver.Resolve(ctx, item.Link)

		if err := r.deliverer.Send(ctx, discord.FormatItem(item)); err != nil {
			// Not recorded: the next scheduled run retries this item.
			slog.Error("Delivery failed, item deferred", "guid", item.GUID, "title", item.Title, "error", err)
			report.Failed++
			continue
		}

		slog.Info("Item delivered", "guid", item.GUID, "title", item.Title)
		delivered = append(delivered, database.NewsItem{
			GUID:    item.GUID,
			Title:   item.Title,
			Link:    item.Link,
			Source:  item.Source,
			PubDate: item.PublishedAt,
		})
	}
	report.Delivered = len(delivered)

	report.State = StatePersisting
	if err := r.store.RecordDelivered(delivered); err != nil {
		return report, fmt.Errorf("failed to record delivered items: %w", err)
	}

	report.State = StateDone
	return report, nil
}

func (r *Runner) resolveFeedURL() (string, error) {
	if !r.cfg.TopicMode {
		return r.cfg.FeedURL, nil
	}

	info, err := feed.ResolveTopic(r.cfg.TopicKeyword, r.cfg.TopicParams)
	if err != nil {
		return "", err
	}
	slog.Info("Topic feed resolved", "topic", info.Name, "language", info.Language)
	return info.URL, nil
}
