package feed

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"time"
)

// Fetcher retrieves the raw feed document over HTTP.
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	timeout    time.Duration
}

func NewFetcher(httpClient *http.Client, userAgent string, timeout time.Duration) *Fetcher {
	return &Fetcher{
		httpClient: httpClient,
		userAgent:  userAgent,
		timeout:    timeout,
	}
}

// Fetch performs a single retrieval of the feed document. Any failure is
// returned as a *FetchError; the caller aborts the run on it.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, "GET", url, nil)
	if err != nil {
		return nil, &FetchError{Kind: FetchErrorNetwork, URL: url, Err: err}
	}

	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: classifyFetchError(err), URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{Kind: FetchErrorStatus, URL: url, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Kind: classifyFetchError(err), URL: url, Err: err}
	}

	return data, nil
}

func classifyFetchError(err error) FetchErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return FetchErrorTimeout
	}
	return FetchErrorNetwork
}
