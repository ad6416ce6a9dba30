package arxiv

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"autosumm/internal/config"
	"autosumm/internal/item"
	"autosumm/internal/services"
)

var (
	dateExpr       = regexp.MustCompile(`\d{1,2} [A-Za-z]{3} \d{4}`)
	identifierExpr = regexp.MustCompile(`(\d{4}\.\d{4,5}|[a-z\-]+(?:\.[A-Z]{2})?/\d{7})(v\d+)?`)
)

// Lister discovers new papers from arXiv's per-category listing pages.
type Lister struct {
	client    *http.Client
	baseURL   string
	userAgent string
	pageSize  int
	now       func() time.Time
}

// Option customizes a Lister.
type Option func(*Lister)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(l *Lister) {
		if client != nil {
			l.client = client
		}
	}
}

// WithClock overrides the time source used for undated entries.
func WithClock(now func() time.Time) Option {
	return func(l *Lister) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLister builds a lister from the [fetch] settings.
func NewLister(cfg config.Fetch, opts ...Option) *Lister {
	l := &Lister{
		client:    &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		pageSize:  cfg.PageSize,
		now:       time.Now,
	}
	if l.pageSize <= 0 {
		l.pageSize = 250
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// entry is one listing row before it becomes a work item.
type entry struct {
	ID          string
	Revision    string
	Title       string
	Authors     []string
	PublishedAt time.Time
}

// Discover returns up to limit papers of category announced on or after since,
// newest first. Cross-listed duplicates are dropped.
func (l *Lister) Discover(ctx context.Context, category string, since time.Time, limit int) ([]*item.WorkItem, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return nil, services.Wrap(services.ErrConfiguration, "discover", "list", "no category", nil)
	}
	sinceDay := since.UTC().Truncate(24 * time.Hour)
	seen := map[string]struct{}{}
	var out []*item.WorkItem

	for skip := 0; ; skip += l.pageSize {
		pageURL, err := l.pageURL(category, skip)
		if err != nil {
			return nil, err
		}
		doc, err := l.fetchDocument(ctx, pageURL)
		if err != nil {
			return nil, fmt.Errorf("category %s: %w", category, err)
		}
		entries := parseListing(doc, l.now())
		older := false
		for _, e := range entries {
			if e.PublishedAt.UTC().Truncate(24 * time.Hour).Before(sinceDay) {
				older = true
				break
			}
			if _, dup := seen[e.ID]; dup {
				continue
			}
			seen[e.ID] = struct{}{}
			out = append(out, l.workItem(category, e))
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
		if older || len(entries) < l.pageSize {
			return out, nil
		}
	}
}

func (l *Lister) workItem(category string, e entry) *item.WorkItem {
	w := item.New(e.ID, e.Revision)
	w.Title = e.Title
	w.Authors = e.Authors
	w.Category = category
	w.PublishedAt = e.PublishedAt
	w.AbstractURL = l.baseURL + "/abs/" + e.ID
	w.PDFURL = l.baseURL + "/pdf/" + e.ID + e.Revision
	return w
}

func (l *Lister) pageURL(category string, skip int) (string, error) {
	parsed, err := url.Parse(l.baseURL + "/list/" + url.PathEscape(category) + "/pastweek")
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "discover", "list", "invalid base url", err)
	}
	query := parsed.Query()
	query.Set("skip", strconv.Itoa(skip))
	query.Set("show", strconv.Itoa(l.pageSize))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func (l *Lister) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if l.userAgent != "" {
		req.Header.Set("User-Agent", l.userAgent)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request listing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &services.StatusError{
			StatusCode: resp.StatusCode,
			Body:       string(body),
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "discover", "parse listing", "", err)
	}
	return doc, nil
}

// parseListing walks listing headings and entries in document order. Each
// day heading dates the entries that follow it; an entry's own date line
// wins when present.
func parseListing(doc *goquery.Document, now time.Time) []entry {
	var (
		entries []entry
		current time.Time
	)
	doc.Find("h3, dt").Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) == "h3" {
			if when, ok := parseDate(s.Text()); ok {
				current = when
			}
			return
		}
		e, ok := parseEntry(s, s.Next())
		if !ok {
			return
		}
		if e.PublishedAt.IsZero() {
			e.PublishedAt = current
		}
		if e.PublishedAt.IsZero() {
			e.PublishedAt = now.UTC()
		}
		entries = append(entries, e)
	})
	return entries
}

func parseEntry(dt, dd *goquery.Selection) (entry, bool) {
	link := dt.Find(`a[href*="/abs/"]`).First()
	raw := strings.TrimSpace(link.Text())
	if href, ok := link.Attr("href"); ok && !identifierExpr.MatchString(raw) {
		raw = href
	}
	match := identifierExpr.FindStringSubmatch(raw)
	if match == nil {
		return entry{}, false
	}

	title := strings.TrimSpace(dd.Find(".list-title").First().Text())
	title = strings.TrimSpace(strings.TrimPrefix(title, "Title:"))
	title = strings.Join(strings.Fields(title), " ")

	var authors []string
	dd.Find(".list-authors a").Each(func(_ int, a *goquery.Selection) {
		if name := strings.TrimSpace(a.Text()); name != "" {
			authors = append(authors, name)
		}
	})

	e := entry{ID: match[1], Revision: match[2], Title: title, Authors: authors}
	dateText := strings.TrimSpace(dd.Find(".list-date").First().Text())
	if dateText == "" {
		dateText = strings.TrimSpace(dd.Find(".list-dateline").First().Text())
	}
	if when, ok := parseDate(dateText); ok {
		e.PublishedAt = when
	}
	return e, true
}

func parseDate(text string) (time.Time, bool) {
	match := dateExpr.FindString(text)
	if match == "" {
		return time.Time{}, false
	}
	parsed, err := time.Parse("2 Jan 2006", match)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

func retryAfter(value string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
