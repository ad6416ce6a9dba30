package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"autosumm/internal/services"
)

const (
	defaultPdftotext = "pdftotext"
	defaultPdftoppm  = "pdftoppm"
)

// TextArgs are the pdftotext flags used for extraction. They take part in
// the parse stage fingerprint.
var TextArgs = []string{"-layout", "-enc", "UTF-8"}

// ExtractText returns the text layer of the PDF at path.
func ExtractText(ctx context.Context, binary, path string) (string, error) {
	binary = firstNonEmpty(binary, defaultPdftotext)
	if strings.TrimSpace(path) == "" {
		return "", errors.New("pdftotext: empty path")
	}
	args := append(append([]string{}, TextArgs...), path, "-")
	cmd := exec.CommandContext(ctx, binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", toolError(ctx, "pdftotext", err, stderr.String())
	}
	return stdout.String(), nil
}

// RenderPages rasterizes up to maxPages pages of the PDF at path as PNG
// images at the given resolution, in page order. A maxPages of zero renders
// every page.
func RenderPages(ctx context.Context, binary, path string, dpi, maxPages int) ([][]byte, error) {
	binary = firstNonEmpty(binary, defaultPdftoppm)
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("pdftoppm: empty path")
	}
	if dpi <= 0 {
		dpi = 168
	}
	workDir, err := os.MkdirTemp("", "autosumm-pages-*")
	if err != nil {
		return nil, fmt.Errorf("pdftoppm: create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	args := []string{"-png", "-r", strconv.Itoa(dpi)}
	if maxPages > 0 {
		args = append(args, "-f", "1", "-l", strconv.Itoa(maxPages))
	}
	args = append(args, path, filepath.Join(workDir, "page"))
	cmd := exec.CommandContext(ctx, binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, toolError(ctx, "pdftoppm", err, stderr.String())
	}

	names, err := filepath.Glob(filepath.Join(workDir, "page-*.png"))
	if err != nil {
		return nil, fmt.Errorf("pdftoppm: list pages: %w", err)
	}
	sort.Slice(names, func(i, j int) bool {
		return pageNumber(names[i]) < pageNumber(names[j])
	})
	pages := make([][]byte, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("pdftoppm: read page: %w", err)
		}
		pages = append(pages, data)
	}
	if len(pages) == 0 {
		return nil, services.Wrap(services.ErrExternalTool, "refine", "pdftoppm", "no pages rendered", nil)
	}
	return pages, nil
}

// pageNumber parses the page index from pdftoppm's "page-<n>.png" names,
// whose zero padding depends on the page count.
func pageNumber(path string) int {
	base := strings.TrimSuffix(filepath.Base(path), ".png")
	n, err := strconv.Atoi(strings.TrimPrefix(base, "page-"))
	if err != nil {
		return 0
	}
	return n
}

func toolError(ctx context.Context, tool string, err error, stderr string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	detail := strings.TrimSpace(stderr)
	if detail == "" {
		detail = err.Error()
	}
	return services.Wrap(services.ErrExternalTool, "", tool, detail, err)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
