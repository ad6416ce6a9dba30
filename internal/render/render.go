// Package render writes the run digest: a Markdown document built from the
// summaries of the selected papers, converted to other formats with pandoc.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"autosumm/internal/fileutil"
	"autosumm/internal/item"
	"autosumm/internal/services"
	"autosumm/internal/stage"
	"autosumm/internal/textutil"
)

// Options controls one digest.
type Options struct {
	Title     string
	Category  string
	Date      time.Time
	OutputDir string
	// Formats lists output formats such as md, html, pdf, or epub. Markdown
	// is always written because every other format is converted from it.
	Formats []string
	Pandoc  string
}

// Artifact is one written digest file.
type Artifact struct {
	Format    string
	Path      string
	SizeBytes int64
}

// Digest writes the digest for papers and returns the files produced. A
// failed pandoc conversion is reported in the returned error while the
// artifacts that did succeed are still returned.
func Digest(ctx context.Context, papers []*item.WorkItem, opts Options) ([]Artifact, error) {
	if opts.Date.IsZero() {
		opts.Date = time.Now()
	}
	dir := filepath.Join(opts.OutputDir, DigestName(opts.Date, opts.Category))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create digest directory: %w", err)
	}

	markdown := Markdown(papers, opts)
	mdPath := filepath.Join(dir, "digest.md")
	if err := fileutil.WriteFileAtomic(mdPath, []byte(markdown)); err != nil {
		return nil, fmt.Errorf("write markdown digest: %w", err)
	}
	artifacts := []Artifact{{Format: "md", Path: mdPath, SizeBytes: int64(len(markdown))}}

	var errs []error
	for _, format := range normalizeFormats(opts.Formats) {
		if format == "md" {
			continue
		}
		out := filepath.Join(dir, "digest."+format)
		if err := convert(ctx, opts.Pandoc, mdPath, out, opts.Title); err != nil {
			errs = append(errs, fmt.Errorf("render %s: %w", format, err))
			continue
		}
		info, err := os.Stat(out)
		if err != nil {
			errs = append(errs, fmt.Errorf("render %s: %w", format, err))
			continue
		}
		artifacts = append(artifacts, Artifact{Format: format, Path: out, SizeBytes: info.Size()})
	}
	return artifacts, errors.Join(errs...)
}

// DigestName is the directory name of a digest: date plus category.
func DigestName(date time.Time, category string) string {
	name := date.Format("2006-01-02")
	if category = strings.TrimSpace(category); category != "" {
		name += "-" + textutil.Slug(category)
	}
	return name
}

// Markdown renders the digest document.
func Markdown(papers []*item.WorkItem, opts Options) string {
	var b strings.Builder
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		title = "arXiv digest"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	meta := opts.Date.Format("January 2, 2006")
	if opts.Category != "" {
		meta += " · " + opts.Category
	}
	fmt.Fprintf(&b, "_%s · %d papers_\n", meta, len(papers))

	for _, w := range papers {
		b.WriteString("\n---\n\n")
		heading := strings.TrimSpace(w.Title)
		if heading == "" {
			heading = w.ID
		}
		if w.AbstractURL != "" {
			fmt.Fprintf(&b, "## [%s](%s)\n\n", heading, w.AbstractURL)
		} else {
			fmt.Fprintf(&b, "## %s\n\n", heading)
		}
		if len(w.Authors) > 0 {
			fmt.Fprintf(&b, "*%s*\n\n", strings.Join(w.Authors, ", "))
		}
		if line := scoreLine(w); line != "" {
			fmt.Fprintf(&b, "%s\n\n", line)
		}
		summary, ok := w.Text(string(stage.Summarize))
		if !ok {
			summary = strings.TrimSpace(w.Abstract)
		}
		b.WriteString(strings.TrimSpace(summary))
		b.WriteString("\n")
	}
	return b.String()
}

func scoreLine(w *item.WorkItem) string {
	var parts []string
	if v, ok := w.ScoreValue(string(stage.Rate)); ok {
		parts = append(parts, fmt.Sprintf("rating %.1f", v))
	}
	if v, ok := w.ScoreValue(string(stage.Embed)); ok {
		parts = append(parts, fmt.Sprintf("relevance %.3f", v))
	}
	parts = append(parts, "arXiv:"+w.ID+w.Revision)
	line := "`" + strings.Join(parts, " · ") + "`"
	if w.PDFURL != "" {
		line += fmt.Sprintf(" · [pdf](%s)", w.PDFURL)
	}
	return line
}

func normalizeFormats(formats []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range formats {
		f = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(f, ".")))
		if f == "markdown" {
			f = "md"
		}
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func convert(ctx context.Context, binary, input, output, title string) error {
	if strings.TrimSpace(binary) == "" {
		binary = "pandoc"
	}
	args := []string{"--from", "markdown", "--standalone", "--output", output}
	if title != "" {
		args = append(args, "--metadata", "pagetitle="+title)
	}
	args = append(args, input)
	cmd := exec.CommandContext(ctx, binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return services.Wrap(services.ErrExternalTool, "render", "pandoc", detail, err)
	}
	return nil
}
