package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	appLog "apptcal/internal/log"
)

// maxBodyBytes bounds a single feed download.
const maxBodyBytes = 10 << 20

// Source represents a single ICS subscription.
type Source struct {
	// ID becomes the Source of every imported entry.
	ID string
	// URL is the ICS endpoint.
	URL string
}

// FetchResult contains the outcome of fetching a single ICS source.
type FetchResult struct {
	Source    Source
	Body      []byte
	FromCache bool // true if the body was reused from memory (304 or fallback)
}

// cacheEntry holds HTTP validators and the last good body for one URL.
type cacheEntry struct {
	ETag         string
	LastModified string
	Body         []byte
	UpdatedAt    time.Time
}

// Fetcher downloads ICS feeds, revalidating with ETag/Last-Modified and
// falling back to the last good body when a fetch fails. The cache lives
// in memory only.
type Fetcher struct {
	client   *http.Client
	maxBytes int64

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewFetcher creates a Fetcher. A nil client gets a 15s timeout default.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{
		client:   client,
		maxBytes: maxBodyBytes,
		cache:    make(map[string]cacheEntry),
	}
}

// FetchAll fetches all given sources. Failed sources are logged and their
// errors returned; results only hold sources that produced a body.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) ([]FetchResult, []error) {
	results := make([]FetchResult, 0, len(sources))
	errs := make([]error, 0)

	for _, src := range sources {
		res, err := f.FetchOne(ctx, src)
		if err != nil {
			errs = append(errs, fmt.Errorf("feed %s: %w", src.ID, err))
			appLog.Error("ics fetch failed", err, "id", src.ID, "url", redactURL(src.URL))
			continue
		}
		results = append(results, res)
	}

	return results, errs
}

// FetchOne fetches a single ICS source.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, errors.New("source URL is empty")
	}

	f.mu.Lock()
	cached, hasCache := f.cache[src.URL]
	f.mu.Unlock()

	fallback := func(cause error) (FetchResult, error) {
		if hasCache && len(cached.Body) > 0 {
			appLog.Warn("ics fetch failed, using cached body",
				"err", cause,
				"id", src.ID,
				"url", redactURL(src.URL),
				"cached_at", cached.UpdatedAt,
			)
			return FetchResult{Source: src, Body: cached.Body, FromCache: true}, nil
		}
		return FetchResult{}, cause
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	if hasCache {
		if cached.ETag != "" {
			req.Header.Set("If-None-Match", cached.ETag)
		}
		if cached.LastModified != "" {
			req.Header.Set("If-Modified-Since", cached.LastModified)
		}
	}

	appLog.Debug("ics fetch start", "id", src.ID, "url", redactURL(src.URL))

	resp, err := f.client.Do(req)
	if err != nil {
		return fallback(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
		if err != nil {
			return fallback(err)
		}
		if int64(len(body)) > f.maxBytes {
			return fallback(fmt.Errorf("feed body exceeds %d bytes", f.maxBytes))
		}

		f.mu.Lock()
		f.cache[src.URL] = cacheEntry{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			Body:         body,
			UpdatedAt:    time.Now().UTC(),
		}
		f.mu.Unlock()

		appLog.Info("ics fetch success", "id", src.ID, "url", redactURL(src.URL), "bytes", len(body))
		return FetchResult{Source: src, Body: body}, nil

	case http.StatusNotModified:
		if !hasCache || len(cached.Body) == 0 {
			return FetchResult{}, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Debug("ics fetch not modified; using cache", "id", src.ID, "url", redactURL(src.URL))
		return FetchResult{Source: src, Body: cached.Body, FromCache: true}, nil

	default:
		return fallback(errors.New(resp.Status))
	}
}

// redactURL keeps scheme and host only, since subscription URLs often
// embed private tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
