package pdf

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"autosumm/internal/services"
)

const maxErrorBody = 4 << 10

// Downloader fetches PDFs over HTTP.
type Downloader struct {
	client    *http.Client
	userAgent string
}

// NewDownloader builds a downloader. A nil client uses a client with the
// given timeout.
func NewDownloader(client *http.Client, userAgent string, timeout time.Duration) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Downloader{client: client, userAgent: strings.TrimSpace(userAgent)}
}

// Fetch streams the document at url into w. Non-2xx responses are returned
// as *services.StatusError.
func (d *Downloader) Fetch(ctx context.Context, url string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return services.Wrap(services.ErrValidation, "parse", "download", "invalid pdf url", err)
	}
	req.Header.Set("Accept", "application/pdf")
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("download %s: %w", url, &services.StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		})
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return services.Wrap(services.ErrTransient, "parse", "download", "read pdf body", err)
	}
	return nil
}

func retryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}
