package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prsnl/kgraph/internal/pipeline"
	"github.com/prsnl/kgraph/pkg/common"
	"github.com/prsnl/kgraph/pkg/graph"
	"github.com/prsnl/kgraph/pkg/logger"

	"golang.org/x/sync/singleflight"
)

const (
	maxPageSize  = 8 << 20
	maxCachedURL = 256
)

// WebContent fills in the text of captured links. Items that already carry
// text, or have no URL, pass through untouched. HTML pages are reduced to
// their readable article text.
type WebContent struct {
	next   pipeline.ContentSource
	client *http.Client

	cache   map[string]string
	cacheMu sync.RWMutex
	group   singleflight.Group
}

var _ pipeline.ContentSource = (*WebContent)(nil)

func NewWebContent(next pipeline.ContentSource, client *http.Client) *WebContent {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebContent{next: next, client: client, cache: make(map[string]string)}
}

func (w *WebContent) Content(ctx context.Context, id string) (pipeline.ContentItem, error) {
	item, err := w.next.Content(ctx, id)
	if err != nil {
		return item, err
	}
	if strings.TrimSpace(item.Text) != "" || item.URL == "" {
		return item, nil
	}
	text, err := w.fetch(ctx, item.URL)
	if err != nil {
		return pipeline.ContentItem{}, err
	}
	item.Text = text
	return item, nil
}

func (w *WebContent) fetch(ctx context.Context, rawURL string) (string, error) {
	w.cacheMu.RLock()
	if cached, ok := w.cache[rawURL]; ok {
		w.cacheMu.RUnlock()
		return cached, nil
	}
	w.cacheMu.RUnlock()

	result, err, _ := w.group.Do(rawURL, func() (any, error) {
		pageURL, err := url.Parse(rawURL)
		if err != nil || (pageURL.Scheme != "http" && pageURL.Scheme != "https") {
			return "", common.NewValidationError("url", "unsupported url %q", rawURL)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return "", fmt.Errorf("failed to create request: %w", err)
		}
		resp, err := w.client.Do(req)
		if err != nil {
			return "", common.NewUpstreamServiceError("web", fmt.Errorf("failed to fetch url: %w", err))
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", common.NewUpstreamServiceError("web", fmt.Errorf("fetching %s returned %s", rawURL, resp.Status))
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
		if err != nil {
			return "", fmt.Errorf("failed to read page: %w", err)
		}
		text := string(body)
		if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
			article, err := graph.ArticleText(text, pageURL)
			if err != nil {
				return "", fmt.Errorf("failed to parse html: %w", err)
			}
			text = article
		}
		text = strings.TrimSpace(text)

		w.cacheMu.Lock()
		if len(w.cache) >= maxCachedURL {
			clear(w.cache)
		}
		w.cache[rawURL] = text
		w.cacheMu.Unlock()

		logger.Debug("[Storage] Fetched page", "url", rawURL, "chars", len(text))
		return text, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}
