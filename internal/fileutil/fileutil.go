package fileutil

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteAtomic streams r into path through a temporary file in the same
// directory, syncs it, and renames it into place. Readers never observe a
// partial file. It returns the number of bytes written.
func WriteAtomic(path string, r io.Reader, mode os.FileMode) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	written, err := io.Copy(tmp, r)
	if err != nil {
		cleanup()
		return written, err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return written, fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return written, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		_ = os.Remove(tmpPath)
		return written, fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return written, fmt.Errorf("rename into place: %w", err)
	}
	return written, nil
}

// WriteFileAtomic writes data to path atomically with mode 0o644.
func WriteFileAtomic(path string, data []byte) error {
	_, err := WriteAtomic(path, bytes.NewReader(data), 0o644)
	return err
}

// CopyFile streams src to dst atomically with default permissions (0o644).
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	_, err = WriteAtomic(dst, in, 0o644)
	return err
}
