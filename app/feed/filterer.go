package feed

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Filterer applies the recency window and the advanced keyword expression.
// Both are compiled up front so a malformed configuration fails before any
// network I/O.
//
// Advanced expression grammar: whitespace-separated terms combined with AND.
// A term is an optional '+' (include, the default) or '-' (exclude) prefix
// followed by a bare word or a "quoted phrase". A bare word may contain '|'
// to form an OR group (apple|banana). Matching is a case-insensitive
// substring test over title and source.
//
// Date filter grammar: any of `since:YYYY-MM-DD`, `until:YYYY-MM-DD`,
// `past:<N><h|d|m|y>` separated by whitespace. `past:` takes precedence
// over since/until. Months count as 30 days, years as 365.
type Filterer struct {
	terms []filterTerm

	since time.Time
	until time.Time
	past  time.Duration

	// Now is overridable in tests; defaults to time.Now.
	Now func() time.Time
}

type filterTerm struct {
	exclude      bool
	alternatives []string // lowercased; include terms match if any is present
}

var (
	sinceRe = regexp.MustCompile(`^since:(\d{4}-\d{2}-\d{2})$`)
	untilRe = regexp.MustCompile(`^until:(\d{4}-\d{2}-\d{2})$`)
	pastRe  = regexp.MustCompile(`^past:(\d+)([hdmy])$`)
)

func NewFilterer(advanced, dateFilter string) (*Filterer, error) {
	f := &Filterer{Now: time.Now}

	terms, err := compileExpression(advanced)
	if err != nil {
		return nil, err
	}
	f.terms = terms

	if err := f.compileDateFilter(dateFilter); err != nil {
		return nil, err
	}

	return f, nil
}

// Run returns the items that pass both filters, preserving input order.
func (f *Filterer) Run(items []Item) []Item {
	kept := make([]Item, 0, len(items))
	for _, item := range items {
		if !f.withinDateWindow(item) {
			slog.Debug("Item excluded by date filter", "title", item.Title, "published_at", item.PublishedAt)
			continue
		}
		if !f.matchesExpression(item) {
			slog.Debug("Item excluded by advanced filter", "title", item.Title)
			continue
		}
		kept = append(kept, item)
	}
	return kept
}

func (f *Filterer) dateFilterActive() bool {
	return f.past > 0 || !f.since.IsZero() || !f.until.IsZero()
}

func (f *Filterer) withinDateWindow(item Item) bool {
	if !f.dateFilterActive() {
		return true
	}
	// Unknown dates cannot be placed inside the window.
	if item.PublishedAt.IsZero() {
		return false
	}

	if f.past > 0 {
		return !item.PublishedAt.Before(f.Now().Add(-f.past))
	}
	if !f.since.IsZero() && item.PublishedAt.Before(f.since) {
		return false
	}
	if !f.until.IsZero() && item.PublishedAt.After(f.until) {
		return false
	}
	return true
}

func (f *Filterer) matchesExpression(item Item) bool {
	if len(f.terms) == 0 {
		return true
	}

	text := strings.ToLower(item.Title + " " + item.Source)
	for _, term := range f.terms {
		found := false
		for _, alt := range term.alternatives {
			if strings.Contains(text, alt) {
				found = true
				break
			}
		}
		if term.exclude == found {
			return false
		}
	}
	return true
}

func (f *Filterer) compileDateFilter(dateFilter string) error {
	for _, token := range strings.Fields(dateFilter) {
		switch {
		case sinceRe.MatchString(token):
			t, err := time.Parse("2006-01-02", sinceRe.FindStringSubmatch(token)[1])
			if err != nil {
				return &FilterError{Expression: dateFilter, Reason: "invalid since date"}
			}
			f.since = t
		case untilRe.MatchString(token):
			t, err := time.Parse("2006-01-02", untilRe.FindStringSubmatch(token)[1])
			if err != nil {
				return &FilterError{Expression: dateFilter, Reason: "invalid until date"}
			}
			f.until = t
		case pastRe.MatchString(token):
			m := pastRe.FindStringSubmatch(token)
			n, _ := strconv.Atoi(m[1])
			switch m[2] {
			case "h":
				f.past = time.Duration(n) * time.Hour
			case "d":
				f.past = time.Duration(n) * 24 * time.Hour
			case "m":
				f.past = time.Duration(n) * 30 * 24 * time.Hour
			case "y":
				f.past = time.Duration(n) * 365 * 24 * time.Hour
			}
		default:
			return &FilterError{Expression: dateFilter, Reason: "unrecognized date filter token: " + token}
		}
	}
	return nil
}

func compileExpression(expression string) ([]filterTerm, error) {
	tokens, err := tokenize(expression)
	if err != nil {
		return nil, err
	}

	terms := make([]filterTerm, 0, len(tokens))
	for _, tok := range tokens {
		term := filterTerm{}

		body := tok.text
		switch {
		case strings.HasPrefix(body, "-"):
			term.exclude = true
			body = body[1:]
		case strings.HasPrefix(body, "+"):
			body = body[1:]
		}

		if body == "" && !tok.quoted {
			return nil, &FilterError{Expression: expression, Reason: "prefix without a term"}
		}

		if tok.quoted {
			term.alternatives = []string{strings.ToLower(tok.phrase)}
		} else {
			for _, alt := range strings.Split(body, "|") {
				if alt == "" {
					return nil, &FilterError{Expression: expression, Reason: "empty alternative in OR group"}
				}
				term.alternatives = append(term.alternatives, strings.ToLower(alt))
			}
		}

		terms = append(terms, term)
	}
	return terms, nil
}

type token struct {
	text   string // raw token including prefix, empty for a bare quoted phrase
	quoted bool
	phrase string // quoted content
}

func tokenize(expression string) ([]token, error) {
	var tokens []token
	runes := []rune(expression)

	i := 0
	for i < len(runes) {
		if runes[i] == ' ' || runes[i] == '\t' {
			i++
			continue
		}

		var prefix string
		if runes[i] == '+' || runes[i] == '-' {
			prefix = string(runes[i])
			i++
		}

		if i < len(runes) && runes[i] == '"' {
			i++
			start := i
			for i < len(runes) && runes[i] != '"' {
				i++
			}
			if i >= len(runes) {
				return nil, &FilterError{Expression: expression, Reason: "unterminated quote"}
			}
			tokens = append(tokens, token{text: prefix, quoted: true, phrase: string(runes[start:i])})
			i++ // closing quote
			continue
		}

		start := i
		for i < len(runes) && runes[i] != ' ' && runes[i] != '\t' {
			i++
		}
		tokens = append(tokens, token{text: prefix + string(runes[start:i])})
	}

	return tokens, nil
}
