package pdfstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"autosumm/internal/fileutil"
	"autosumm/internal/logging"
	"autosumm/internal/textutil"
)

const (
	// freeSpaceFloor is the minimum free-space ratio kept on the cache filesystem.
	freeSpaceFloor = 0.10
	// pruneMargin is how far below the limit pruning aims, capped by pruneRatio.
	pruneMargin = 128 << 20
	pruneRatio  = 0.8
)

// statfsFunc allows tests to stub filesystem stats.
type statfsFunc func(path string) (total uint64, free uint64, err error)

// FetchFunc writes a document to w.
type FetchFunc func(ctx context.Context, w io.Writer) error

// Store keeps downloaded PDFs on disk, bounded in size. Files used by the
// current process are never pruned.
type Store struct {
	root     string
	maxBytes int64
	logger   *slog.Logger
	statfs   statfsFunc
	now      func() time.Time

	mu    sync.Mutex
	inUse map[string]struct{}
	// fetches serializes concurrent downloads of the same document.
	fetches map[string]*sync.Mutex
}

// Stats describes current store usage.
type Stats struct {
	Files        int           `json:"files"`
	TotalBytes   int64         `json:"total_bytes"`
	MaxBytes     int64         `json:"max_bytes"`
	FreeBytes    uint64        `json:"free_bytes"`
	TotalFSBytes uint64        `json:"total_fs_bytes"`
	FreeRatio    float64       `json:"free_ratio"`
	Entries      []FileSummary `json:"entries"`
}

// FileSummary describes one stored PDF, newest first in Stats.
type FileSummary struct {
	Name       string    `json:"name"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
	InUse      bool      `json:"in_use"`
}

// New builds a store rooted at dir. maxMB of zero disables size pruning;
// the free-space floor still applies.
func New(dir string, maxMB int, logger *slog.Logger) *Store {
	return &Store{
		root:     strings.TrimSpace(dir),
		maxBytes: int64(maxMB) << 20,
		logger:   logging.NewComponentLogger(logger, "pdfstore"),
		statfs:   realStatfs,
		now:      time.Now,
		inUse:    map[string]struct{}{},
		fetches:  map[string]*sync.Mutex{},
	}
}

// Root returns the directory PDFs are stored in.
func (s *Store) Root() string { return s.root }

// Path returns where the PDF of a document revision is stored.
func (s *Store) Path(id, revision string) string {
	return filepath.Join(s.root, textutil.PaperFileName(id, revision)+".pdf")
}

// Ensure returns the local path of a document's PDF, fetching it when it is
// not stored yet. The file is marked in use for the rest of the process.
func (s *Store) Ensure(ctx context.Context, id, revision string, fetch FetchFunc) (string, error) {
	path := s.Path(id, revision)
	lock := s.fetchLock(path)
	lock.Lock()
	defer lock.Unlock()

	s.markInUse(path)
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		now := s.now()
		_ = os.Chtimes(path, now, now)
		return path, nil
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(fetch(ctx, pw))
	}()
	written, err := fileutil.WriteAtomic(path, pr, 0o644)
	_ = pr.Close()
	if err != nil {
		return "", err
	}
	if written == 0 {
		_ = os.Remove(path)
		return "", fmt.Errorf("pdfstore: empty document for %s", id)
	}
	s.logger.DebugContext(ctx, "stored pdf",
		logging.String("path", path),
		logging.Int64("size_bytes", written),
	)
	return path, nil
}

func (s *Store) fetchLock(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.fetches[path]
	if !ok {
		lock = &sync.Mutex{}
		s.fetches[path] = lock
	}
	return lock
}

func (s *Store) markInUse(path string) {
	s.mu.Lock()
	s.inUse[path] = struct{}{}
	s.mu.Unlock()
}

func (s *Store) isInUse(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inUse[path]
	return ok
}

// Prune removes the oldest unused PDFs once the store exceeds its limit,
// down to max(80% of the limit, limit-128MiB), and keeps removing while the
// filesystem is below the free-space floor. It returns the number of files
// and bytes removed.
func (s *Store) Prune(ctx context.Context) (int, int64, error) {
	entries, total, err := s.scan()
	if err != nil {
		return 0, 0, err
	}
	target := total
	if s.maxBytes > 0 && total > s.maxBytes {
		target = max(int64(float64(s.maxBytes)*pruneRatio), s.maxBytes-pruneMargin)
	}

	var (
		removed      int
		removedBytes int64
	)
	for _, entry := range entries {
		freeOK, err := s.freeSpaceOK()
		if err != nil {
			return removed, removedBytes, err
		}
		if total <= target && freeOK {
			break
		}
		if s.isInUse(entry.path) {
			continue
		}
		if err := os.Remove(entry.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, removedBytes, fmt.Errorf("pdfstore: remove %q: %w", entry.path, err)
		}
		s.logger.InfoContext(ctx, "pruned pdf",
			logging.String("path", entry.path),
			logging.Int64("size_bytes", entry.sizeBytes),
		)
		total -= entry.sizeBytes
		removed++
		removedBytes += entry.sizeBytes
	}
	if s.maxBytes > 0 && total > s.maxBytes {
		logging.WarnWithContext(s.logger, "pdf store still over its limit", "pdfstore_over_limit",
			logging.Int64("total_bytes", total),
			logging.Int64("max_bytes", s.maxBytes),
			logging.String(logging.FieldImpact, "the PDFs of the current run are larger than the configured limit"),
			logging.String(logging.FieldErrorHint, "raise cache.max_pdf_cache_mb"),
		)
	}
	return removed, removedBytes, nil
}

// Stats returns current usage and filesystem free-space info.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	entries, total, err := s.scan()
	if err != nil {
		return st, err
	}
	totalFS, freeFS, err := s.statfs(s.root)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return st, fmt.Errorf("pdfstore: statfs: %w", err)
	}
	ratio := 1.0
	if totalFS > 0 {
		ratio = float64(freeFS) / float64(totalFS)
	}
	summaries := make([]FileSummary, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		summaries = append(summaries, FileSummary{
			Name:       filepath.Base(e.path),
			SizeBytes:  e.sizeBytes,
			ModifiedAt: e.modTime,
			InUse:      s.isInUse(e.path),
		})
	}
	st = Stats{
		Files:        len(entries),
		TotalBytes:   total,
		MaxBytes:     s.maxBytes,
		FreeBytes:    freeFS,
		TotalFSBytes: totalFS,
		FreeRatio:    ratio,
		Entries:      summaries,
	}
	if len(entries) == 0 {
		s.logger.DebugContext(ctx, "pdf store empty")
	}
	return st, nil
}

type storedFile struct {
	path      string
	sizeBytes int64
	modTime   time.Time
}

// scan lists stored PDFs oldest first.
func (s *Store) scan() ([]storedFile, int64, error) {
	dirEntries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("pdfstore: list root: %w", err)
	}
	var (
		files []storedFile
		total int64
	)
	for _, entry := range dirEntries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			s.logger.Warn("pdfstore: skip entry; excluded from stats and pruning",
				logging.String("path", filepath.Join(s.root, entry.Name())),
				logging.Error(err),
				logging.String(logging.FieldEventType, "pdfstore_entry_skipped"),
				logging.String(logging.FieldErrorHint, "inspect cache directory permissions"),
			)
			continue
		}
		total += info.Size()
		files = append(files, storedFile{
			path:      filepath.Join(s.root, entry.Name()),
			sizeBytes: info.Size(),
			modTime:   info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})
	return files, total, nil
}

func (s *Store) freeSpaceOK() (bool, error) {
	total, free, err := s.statfs(s.root)
	if err != nil {
		return false, fmt.Errorf("pdfstore: statfs: %w", err)
	}
	if total == 0 {
		return true, nil
	}
	return float64(free)/float64(total) >= freeSpaceFloor, nil
}

func realStatfs(path string) (uint64, uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	return total, free, nil
}
