package arxiv

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"autosumm/internal/config"
	"autosumm/internal/services"
)

const listingPage = `<html><body>
<dl id="articles">
  <h3>Tue, 4 Jun 2024 (showing 2 of 2 entries)</h3>
  <dt><a name="item1">[1]</a> <a href="/abs/2406.02222" title="Abstract">arXiv:2406.02222</a> [<a href="/pdf/2406.02222">pdf</a>]</dt>
  <dd><div class="meta">
    <div class="list-title mathjax"><span class="descriptor">Title:</span>
      Sparse   Attention at Scale</div>
    <div class="list-authors"><a href="#">Ada Lovelace</a>, <a href="#">Alan Turing</a></div>
  </div></dd>
  <dt><a name="item2">[2]</a> <a href="/abs/2406.01111v2" title="Abstract">arXiv:2406.01111v2</a></dt>
  <dd><div class="meta"><div class="list-title mathjax">Title: Cross-listed Paper</div></div></dd>
  <h3>Mon, 27 May 2024 (showing 1 of 1 entries)</h3>
  <dt><a href="/abs/2405.09999">arXiv:2405.09999</a></dt>
  <dd><div class="list-title mathjax">Title: Old Paper</div></dd>
</dl>
</body></html>`

func TestDiscoverStopsAtCutoff(t *testing.T) {
	var requested string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.String()
		fmt.Fprint(w, listingPage)
	}))
	defer server.Close()

	lister := NewLister(config.Fetch{BaseURL: server.URL, PageSize: 50, TimeoutSeconds: 5})
	since := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	items, err := lister.Discover(context.Background(), "cs.AI", since, 0)
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}
	if !strings.HasPrefix(requested, "/list/cs.AI/pastweek?") || !strings.Contains(requested, "show=50") {
		t.Fatalf("unexpected request %s", requested)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	first := items[0]
	if first.ID != "2406.02222" || first.Revision != "v1" || first.Title != "Sparse Attention at Scale" {
		t.Fatalf("unexpected first item %+v", first)
	}
	if len(first.Authors) != 2 || first.Category != "cs.AI" {
		t.Fatalf("unexpected authors/category %+v", first)
	}
	if first.PDFURL != server.URL+"/pdf/2406.02222" {
		t.Fatalf("unexpected pdf url %s", first.PDFURL)
	}
	if want := time.Date(2024, 6, 4, 0, 0, 0, 0, time.UTC); !first.PublishedAt.Equal(want) {
		t.Fatalf("unexpected published date %s", first.PublishedAt)
	}
	second := items[1]
	if second.ID != "2406.01111" || second.Revision != "v2" || second.PDFURL != server.URL+"/pdf/2406.01111v2" {
		t.Fatalf("unexpected second item %+v", second)
	}
}

func TestDiscoverHonoursLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listingPage)
	}))
	defer server.Close()

	lister := NewLister(config.Fetch{BaseURL: server.URL, PageSize: 50})
	items, err := lister.Discover(context.Background(), "cs.AI", time.Time{}, 1)
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
}

func TestDiscoverStatusIsClassified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	lister := NewLister(config.Fetch{BaseURL: server.URL})
	_, err := lister.Discover(context.Background(), "cs.AI", time.Time{}, 0)
	var status *services.StatusError
	if !errors.As(err, &status) || status.RetryAfter != 30*time.Second {
		t.Fatalf("expected StatusError with hint, got %v", err)
	}
}

func TestParseEntryDateLine(t *testing.T) {
	html := `<dl><dt><a href="/abs/1234.56789">arXiv:1234.56789</a></dt>
	<dd><div class="list-date">Date: 8 Nov 2025</div><div class="list-title">Title: Sample Title</div></dd></dl>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("new document: %v", err)
	}
	e, ok := parseEntry(doc.Find("dt").First(), doc.Find("dd").First())
	if !ok {
		t.Fatal("entry not parsed")
	}
	if e.ID != "1234.56789" || e.Title != "Sample Title" {
		t.Fatalf("unexpected entry %+v", e)
	}
	if want := time.Date(2025, 11, 8, 0, 0, 0, 0, time.UTC); !e.PublishedAt.Equal(want) {
		t.Fatalf("unexpected date %s", e.PublishedAt)
	}
}
