package storage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prsnl/kgraph/internal/pipeline"
	"github.com/prsnl/kgraph/pkg/common"
	"github.com/prsnl/kgraph/pkg/graph"
)

const page = `<html><head><title>Hooks</title></head><body>
<nav>Home | About</nav>
<article><h1>Understanding hooks</h1>
<p>React hooks let function components hold state. The useState hook returns the current value and a setter.</p>
<p>Effects run after render and can be cleaned up when the component unmounts or the dependencies change.</p>
<p>Custom hooks compose the built-in ones, so stateful logic can be shared between components without wrapping them in extra layers.</p>
<p>The rules of hooks require calling them at the top level of a component, never inside loops, conditions or nested functions.</p>
</article></body></html>`

func TestWebContent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/article":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(page))
		case "/plain":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("  plain notes  "))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	src := NewWebContent(pipeline.NewMemoryContent(
		pipeline.ContentItem{ID: "a1", Type: graph.ContentArticle, URL: srv.URL + "/article"},
		pipeline.ContentItem{ID: "p1", Type: graph.ContentNote, URL: srv.URL + "/plain"},
		pipeline.ContentItem{ID: "t1", Type: graph.ContentNote, URL: srv.URL + "/plain", Text: "already captured"},
		pipeline.ContentItem{ID: "gone", Type: graph.ContentArticle, URL: srv.URL + "/missing"},
		pipeline.ContentItem{ID: "ftp", Type: graph.ContentArticle, URL: "ftp://example.com/file"},
	), srv.Client())
	ctx := context.Background()

	item, err := src.Content(ctx, "a1")
	if err != nil {
		t.Fatalf("Content(a1) error = %v", err)
	}
	if !strings.Contains(item.Text, "useState hook") || strings.Contains(item.Text, "<p>") {
		t.Fatalf("article text = %q", item.Text)
	}
	if _, err := src.Content(ctx, "a1"); err != nil {
		t.Fatalf("Content(a1) again error = %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("fetched %d times, want cached after the first", hits.Load())
	}

	tests := []struct {
		name     string
		id       string
		wantText string
		wantErr  error
	}{
		{"plain text", "p1", "plain notes", nil},
		{"captured text wins", "t1", "already captured", nil},
		{"upstream error", "gone", "", common.ErrUpstreamService},
		{"unsupported scheme", "ftp", "", common.ErrValidation},
		{"unknown item", "nope", "", common.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, err := src.Content(ctx, tt.id)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil || item.Text != tt.wantText {
				t.Fatalf("item = %+v err = %v", item, err)
			}
		})
	}
}
