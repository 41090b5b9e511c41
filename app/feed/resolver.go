package feed

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const batchExecuteURL = "https://news.google.com/_/DotsSplashUi/data/batchexecute?rpcids=Fbv4je"

// LinkResolver rewrites Google News aggregator links to the publisher's
// original URL. Resolution is best effort: every failure path returns the
// aggregator link so an item is never dropped or delayed over it.
type LinkResolver struct {
	httpClient *http.Client
	enabled    bool
}

func NewLinkResolver(httpClient *http.Client, enabled bool) *LinkResolver {
	return &LinkResolver{
		httpClient: httpClient,
		enabled:    enabled,
	}
}

// Resolve returns the publisher URL for a Google News article link, or the
// input link unchanged when resolution is disabled or fails.
func (r *LinkResolver) Resolve(ctx context.Context, link string) string {
	if !r.enabled {
		return link
	}

	if decoded, ok := r.decodeArticleURL(ctx, link); ok {
		return decoded
	}

	// Decoding failed; the redirect chain is the slower fallback.
	if resolved, ok := r.followRedirects(ctx, link); ok {
		return resolved
	}

	slog.Warn("Falling back to aggregator link", "link", link)
	return cleanURL(link)
}

// decodeArticleURL extracts the publisher URL embedded in the base64 path
// segment of news.google.com/rss/articles/<id> links.
func (r *LinkResolver) decodeArticleURL(ctx context.Context, link string) (string, bool) {
	parsed, err := url.Parse(link)
	if err != nil || parsed.Hostname() != "news.google.com" {
		return "", false
	}

	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(segments) < 2 || segments[len(segments)-2] != "articles" {
		return "", false
	}
	encoded := segments[len(segments)-1]

	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(encoded, "="))
	if err != nil {
		return "", false
	}

	if payload, ok := unframeArticleID(decoded); ok {
		if strings.HasPrefix(payload, "AU_yqL") {
			// Newer article ids carry no URL; Google's batchexecute
			// endpoint has to be asked for it.
			resolved, err := r.fetchBatchExecute(ctx, encoded)
			if err == nil {
				return cleanURL(resolved), true
			}
			slog.Debug("batchexecute resolution failed", "error", err)
			return "", false
		}
		if u := extractRegularURL(payload); u != "" {
			return cleanURL(u), true
		}
	}

	// Older id layout: a YouTube video id or a bare URL inside the blob.
	if id := extractYouTubeID(string(decoded)); id != "" {
		return "https://www.youtube.com/watch?v=" + id, true
	}
	if u := extractRegularURL(string(decoded)); u != "" {
		return cleanURL(u), true
	}

	return "", false
}

// unframeArticleID strips the protobuf-ish framing around the payload:
// a fixed three byte prefix/suffix and a length-prefixed string.
func unframeArticleID(decoded []byte) (string, bool) {
	b := decoded
	b = []byte(strings.TrimPrefix(string(b), "\x08\x13\x22"))
	b = []byte(strings.TrimSuffix(string(b), "\xd2\x01\x00"))

	if len(b) == 0 {
		return "", false
	}

	length := int(b[0])
	start := 1
	if length >= 0x80 {
		start = 2
	}
	end := length + 1
	if end > len(b) {
		end = len(b)
	}
	if start >= end {
		return "", false
	}
	return string(b[start:end]), true
}

var (
	youtubeIDRe  = regexp.MustCompile(`\x08 "\x0b([\w-]{11})\x98\x01\x01`)
	regularURLRe = regexp.MustCompile(`https?://[^\s]+`)
	nonPrintable = regexp.MustCompile(`[^\x20-\x7E]+`)
	unicodeEsc   = regexp.MustCompile(`\\u([0-9a-fA-F]{4})`)
)

func extractYouTubeID(decoded string) string {
	if m := youtubeIDRe.FindStringSubmatch(decoded); m != nil {
		return m[1]
	}
	return ""
}

func extractRegularURL(decoded string) string {
	for _, part := range nonPrintable.Split(decoded, -1) {
		if m := regularURLRe.FindString(part); m != "" {
			return m
		}
	}
	return ""
}

// fetchBatchExecute asks the DotsSplashUi endpoint to translate an article
// id into its publisher URL.
func (r *LinkResolver) fetchBatchExecute(ctx context.Context, id string) (string, error) {
	payload := `[[["Fbv4je","[\"garturlreq\",[[\"en-US\",\"US\",[\"FINANCE_TOP_INDICES\",\"WEB_TEST_1_0_0\"],` +
		`null,null,1,1,\"US:en\",null,180,null,null,null,null,null,0,null,null,[1608992183,723341000]],` +
		`\"en-US\",\"US\",1,[2,3,4,8],1,0,\"655000234\",0,0,null,0],\"` + id + `\"]",null,"generic"]]]`

	form := url.Values{"f.req": {payload}}
	req, err := http.NewRequestWithContext(ctx, "POST", batchExecuteURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=utf-8")
	req.Header.Set("Referer", "https://news.google.com/")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("batchexecute returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	const header = `[\"garturlres\",\"`
	const footer = `\",`
	text := string(body)
	_, after, found := strings.Cut(text, header)
	if !found {
		return "", fmt.Errorf("garturlres header not found in response")
	}
	resolved, _, found := strings.Cut(after, footer)
	if !found {
		return "", fmt.Errorf("garturlres footer not found in response")
	}
	return resolved, nil
}

func (r *LinkResolver) followRedirects(ctx context.Context, link string) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, "GET", link, nil)
	if err != nil {
		return "", false
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		slog.Debug("Redirect resolution failed", "link", link, "error", err)
		return "", false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", false
	}
	return cleanURL(resp.Request.URL.String()), true
}

// cleanURL normalizes a decoded URL: unicode escapes, stray backslashes and
// percent-encoding left over from the blob, plus the MSN quirk of tracking
// parameters on http links.
func cleanURL(raw string) string {
	raw = unicodeEsc.ReplaceAllStringFunc(raw, func(m string) string {
		code, err := strconv.ParseUint(m[2:], 16, 32)
		if err != nil {
			return m
		}
		return string(rune(code))
	})
	raw = strings.ReplaceAll(raw, `\`, "")

	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	if strings.HasSuffix(parsed.Hostname(), "msn.com") {
		parsed.Scheme = "https"
		query := parsed.Query()
		cleaned := url.Values{}
		for _, key := range []string{"id", "article"} {
			if v := query.Get(key); v != "" {
				cleaned.Set(key, v)
			}
		}
		parsed.RawQuery = cleaned.Encode()
	}

	return parsed.String()
}
