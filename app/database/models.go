package database

import (
	"time"
)

// NewsItem is a delivered item as recorded in the store. Only the guid
// matters for dedupe correctness; the other columns exist for auditing.
type NewsItem struct {
	GUID        string
	Title       string
	Link        string
	Source      string
	PubDate     time.Time // zero when the feed date could not be parsed
	DeliveredAt time.Time
}
