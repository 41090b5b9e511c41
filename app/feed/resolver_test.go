package feed

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// frameArticleID builds an article id blob the way Google News encodes the
// publisher URL: framing prefix/suffix around a length-prefixed payload.
func frameArticleID(payload string) string {
	blob := "\x08\x13\x22" + string(rune(len(payload))) + payload + "\xd2\x01\x00"
	return base64.RawURLEncoding.EncodeToString([]byte(blob))
}

func TestLinkResolver_Disabled(t *testing.T) {
	resolver := NewLinkResolver(http.DefaultClient, false)

	link := "https://news.google.com/rss/articles/whatever"
	if got := resolver.Resolve(context.Background(), link); got != link {
		t.Errorf("Disabled resolver must return the input link, got %q", got)
	}
}

func TestLinkResolver_DecodesEmbeddedURL(t *testing.T) {
	resolver := NewLinkResolver(http.DefaultClient, true)

	encoded := frameArticleID("https://example.com/story/42")
	link := "https://news.google.com/rss/articles/" + encoded

	got := resolver.Resolve(context.Background(), link)
	if got != "https://example.com/story/42" {
		t.Errorf("Expected decoded publisher URL, got %q", got)
	}
}

func TestLinkResolver_NonGoogleLinkFallsThrough(t *testing.T) {
	// A non-aggregator link cannot be decoded; the redirect fallback runs
	// against the link itself.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.Redirect(w, r, "/final", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	resolver := NewLinkResolver(server.Client(), true)

	got := resolver.Resolve(context.Background(), server.URL+"/start")
	if got != server.URL+"/final" {
		t.Errorf("Expected redirect target, got %q", got)
	}
}

func TestLinkResolver_FallsBackToAggregatorLink(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	resolver := NewLinkResolver(server.Client(), true)

	link := server.URL + "/blocked"
	if got := resolver.Resolve(context.Background(), link); got != link {
		t.Errorf("Expected aggregator link fallback, got %q", got)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func TestLinkResolver_BatchExecuteIDs(t *testing.T) {
	encoded := frameArticleID("AU_yqLNopaqueid")
	link := "https://news.google.com/rss/articles/" + encoded

	client := &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			if !strings.Contains(req.URL.Path, "batchexecute") {
				t.Errorf("Unexpected request to %s", req.URL)
			}
			body := `)]}'` + "\n" + `[[["wrb.fr","Fbv4je","[\"garturlres\",\"https://publisher.example/item\",]",null,null,null,"generic"]]]`
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader(body)),
				Request:    req,
				Header:     http.Header{},
			}, nil
		}),
	}

	resolver := NewLinkResolver(client, true)

	got := resolver.Resolve(context.Background(), link)
	if got != "https://publisher.example/item" {
		t.Errorf("Expected batchexecute-resolved URL, got %q", got)
	}
}

func TestCleanURL_MSN(t *testing.T) {
	got := cleanURL("http://www.msn.com/en-us/news/story?id=abc&ocid=tracking&article=xyz")
	if !strings.HasPrefix(got, "https://www.msn.com/") {
		t.Errorf("Expected https scheme for msn.com, got %q", got)
	}
	if strings.Contains(got, "ocid") {
		t.Errorf("Expected tracking parameters stripped, got %q", got)
	}
	if !strings.Contains(got, "id=abc") || !strings.Contains(got, "article=xyz") {
		t.Errorf("Expected id and article parameters kept, got %q", got)
	}
}
