package feed

import (
	"bytes"
	"cmp"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"
)

// Parser turns a raw feed document into normalized items, preserving
// document order.
type Parser struct {
	gofeedParser *gofeed.Parser
}

func NewParser() *Parser {
	return &Parser{
		gofeedParser: gofeed.NewParser(),
	}
}

// Run parses the document. Entries without a resolvable guid are dropped
// with a warning; a date that cannot be parsed leaves PublishedAt zero.
// Only a document that cannot be parsed at all is an error.
func (p *Parser) Run(data []byte) ([]Item, error) {
	parsed, err := p.gofeedParser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	items := make([]Item, 0, len(parsed.Items))
	for _, entry := range parsed.Items {
		guid := cmp.Or(entry.GUID, entry.Link)
		if guid == "" {
			slog.Warn("Dropping feed entry without guid or link", "title", entry.Title)
			continue
		}

		item := Item{
			GUID: guid,
			Link: entry.Link,
		}
		item.Title, item.Source = splitSource(entry.Title)
		item.PublishedAt = parsePublished(entry)

		items = append(items, item)
	}

	return items, nil
}

func parsePublished(entry *gofeed.Item) time.Time {
	if entry.PublishedParsed != nil {
		return *entry.PublishedParsed
	}
	if entry.Published == "" {
		return time.Time{}
	}
	// gofeed gave up on the date string; dateparse handles most of the
	// remaining regional formats.
	parsed, err := dateparse.ParseAny(entry.Published)
	if err != nil {
		slog.Warn("Unparsable publication date", "date", entry.Published, "title", entry.Title)
		return time.Time{}
	}
	return parsed
}

// splitSource separates the publisher suffix Google News appends to titles
// ("Headline - Publisher"). Titles without the suffix pass through intact.
func splitSource(title string) (string, string) {
	idx := strings.LastIndex(title, " - ")
	if idx <= 0 || idx+3 >= len(title) {
		return title, ""
	}
	return strings.TrimSpace(title[:idx]), strings.TrimSpace(title[idx+3:])
}
