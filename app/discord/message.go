package discord

import (
	"fmt"
	"regexp"
	"strings"

	"newshook/app/feed"
)

var (
	openNoSpace  = regexp.MustCompile(`(\S)([［〈])`)
	closeNoSpace = regexp.MustCompile(`([］〉])(\S)`)
)

// SanitizeTitle replaces ASCII brackets with fullwidth lookalikes so Discord
// does not interpret headline text as markdown or masked links, and keeps a
// space around the replacements for readability.
func SanitizeTitle(title string) string {
	title = strings.NewReplacer(
		"[", "［",
		"]", "］",
		"<", "〈",
		">", "〉",
	).Replace(title)

	title = openNoSpace.ReplaceAllString(title, "$1 $2")
	title = closeNoSpace.ReplaceAllString(title, "$1 $2")
	return title
}

// FormatItem renders one news item as a single webhook message: bold title,
// clickable link, optional source tag and a date trailer.
func FormatItem(item feed.Item) string {
	var b strings.Builder

	if item.Source != "" {
		fmt.Fprintf(&b, "`%s`\n", item.Source)
	}
	fmt.Fprintf(&b, "**%s**\n%s", SanitizeTitle(item.Title), item.Link)

	if !item.PublishedAt.IsZero() {
		fmt.Fprintf(&b, "\n\n📅 %s", item.PublishedAt.UTC().Format("2006-01-02 15:04:05 (UTC)"))
	}

	return b.String()
}
