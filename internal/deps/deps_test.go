package deps

import (
	"os"
	"path/filepath"
	"testing"

	"autosumm/internal/config"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Optional", Command: "also-not-present", Optional: true},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available {
		t.Fatalf("expected missing binary to be unavailable")
	}
	if results[1].Detail == "" {
		t.Fatalf("expected detail message for missing binary")
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[0].Detail != "" {
		t.Fatalf("unexpected detail for available dependency: %s", results[0].Detail)
	}
	missing := Missing(results)
	if len(missing) != 1 || missing[0].Name != "Missing" {
		t.Fatalf("unexpected missing set: %#v", missing)
	}
}

func TestRequirementsFollowConfig(t *testing.T) {
	cfg := config.Default()
	reqs := Requirements(&cfg)
	byName := map[string]Requirement{}
	for _, r := range reqs {
		byName[r.Name] = r
	}
	if byName["pdftotext"].Optional {
		t.Fatal("pdftotext is always required")
	}
	if !byName["pdftoppm"].Optional || !byName["pandoc"].Optional {
		t.Fatalf("refine and pandoc are off by default: %#v", reqs)
	}

	cfg.Refine.Enabled = true
	cfg.Render.Formats = []string{"md", "html"}
	for _, r := range Requirements(&cfg) {
		if r.Optional {
			t.Fatalf("%s should be required", r.Name)
		}
	}
}

func TestResolveSiblingPrefersCompanionNextToPrimary(t *testing.T) {
	dir := t.TempDir()
	script := []byte("#!/bin/sh\nexit 0\n")
	primary := filepath.Join(dir, executableName("pdftotext"))
	companion := filepath.Join(dir, executableName("pdftoppm"))
	for _, p := range []string{primary, companion} {
		if err := os.WriteFile(p, script, 0o755); err != nil {
			t.Fatalf("write stub: %v", err)
		}
	}
	if got := ResolveSibling(primary, "pdftoppm"); got != companion {
		t.Fatalf("ResolveSibling = %q, want %q", got, companion)
	}
	if got := ResolveSibling("pdftotext", "pdftoppm"); got != "pdftoppm" {
		t.Fatalf("bare primary must fall back to PATH lookup, got %q", got)
	}
	if got := ResolveSibling(primary, "/opt/poppler/pdftoppm"); got != "/opt/poppler/pdftoppm" {
		t.Fatalf("explicit companion path must win, got %q", got)
	}
}
