package deps

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// ResolveSibling returns the command to run for a tool that ships with
// another one. poppler installs pdftotext and pdftoppm side by side, so when
// the primary tool is configured by path and the companion is a bare name,
// a companion next to the primary binary wins over PATH lookup.
func ResolveSibling(primary, companion string) string {
	companion = strings.TrimSpace(companion)
	if companion == "" || strings.ContainsRune(companion, os.PathSeparator) {
		return companion
	}
	primary = strings.TrimSpace(primary)
	if primary == "" || !strings.ContainsRune(primary, os.PathSeparator) {
		return companion
	}
	resolved, err := exec.LookPath(primary)
	if err != nil {
		return companion
	}
	candidate := filepath.Join(filepath.Dir(resolved), executableName(companion))
	if info, err := os.Stat(candidate); err == nil && isExecutable(info) {
		return candidate
	}
	return companion
}

func executableName(base string) string {
	if runtime.GOOS == "windows" && filepath.Ext(base) == "" {
		return base + ".exe"
	}
	return base
}

func isExecutable(info os.FileInfo) bool {
	if info == nil {
		return false
	}
	if info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
