// Package auditfile persists decision records as JSON Lines with daily
// and size-based rotation, retention cleanup, and a bounded in-memory
// cache of recent records. An exclusive lock on the audit directory keeps
// two processes from interleaving writes into the same files.
package auditfile

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/fe-row/AEGIS/internal/domain/audit"
)

// ErrDirLocked is returned when another process holds the audit directory.
var ErrDirLocked = errors.New("audit directory locked by another process")

// cleanupInterval is how often the retention sweep runs.
const cleanupInterval = time.Hour

// filePattern matches audit log filenames:
// audit-YYYY-MM-DD.log or audit-YYYY-MM-DD-N.log
var filePattern = regexp.MustCompile(`^audit-(\d{4}-\d{2}-\d{2})(?:-(\d+))?\.log$`)

// fileInfo holds the parsed parts of an audit filename.
type fileInfo struct {
	name   string
	date   string
	suffix int
}

// parseFilename parses an audit filename into its date and suffix.
func parseFilename(name string) (fileInfo, bool) {
	matches := filePattern.FindStringSubmatch(name)
	if matches == nil {
		return fileInfo{}, false
	}

	info := fileInfo{name: name, date: matches[1]}
	if matches[2] != "" {
		n, err := strconv.Atoi(matches[2])
		if err != nil {
			return fileInfo{}, false
		}
		info.suffix = n
	}
	return info, true
}

// sortFiles orders audit files chronologically: by date, then suffix.
func sortFiles(files []fileInfo) {
	sort.Slice(files, func(i, j int) bool {
		if files[i].date != files[j].date {
			return files[i].date < files[j].date
		}
		return files[i].suffix < files[j].suffix
	})
}

// Config holds tunables for the file store.
type Config struct {
	// Dir is the directory where audit files are stored.
	Dir string
	// RetentionDays is how long audit files are kept (default 7).
	RetentionDays int
	// MaxFileSizeMB is the size at which a file rotates (default 100).
	MaxFileSizeMB int
	// CacheSize is the number of recent records kept in memory (default 1000).
	CacheSize int
}

// Store writes decision records to rotating JSON Lines files.
type Store struct {
	dir           string
	maxFileSize   int64
	retentionDays int
	lockFile      *os.File
	currentFile   *os.File
	currentDate   string
	currentSize   int64
	currentSuffix int
	cache         *recentCache
	mu            sync.Mutex
	logger        *slog.Logger
	cancel        context.CancelFunc
	closed        bool
}

// NewStore opens the audit directory, locks it, opens today's log file,
// runs a retention sweep, warms the recent cache from the newest file
// on disk, and starts the hourly sweep goroutine. Returns ErrDirLocked
// when another process owns the directory.
func NewStore(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 100
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1000
	}

	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	lockFile, err := acquireDirLock(cfg.Dir)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Store{
		dir:           cfg.Dir,
		maxFileSize:   int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		retentionDays: cfg.RetentionDays,
		lockFile:      lockFile,
		cache:         newRecentCache(cfg.CacheSize),
		logger:        logger,
		cancel:        cancel,
	}

	today := time.Now().UTC().Format("2006-01-02")
	if err := s.openCurrentFile(today); err != nil {
		cancel()
		releaseDirLock(lockFile)
		return nil, fmt.Errorf("open audit file: %w", err)
	}

	s.runCleanup()
	s.populateCache()

	go s.cleanupLoop(ctx)

	return s, nil
}

// acquireDirLock takes the exclusive lock on Dir/.lock.
func acquireDirLock(dir string) (*os.File, error) {
	lockPath := filepath.Join(dir, ".lock")
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := tryLock(f.Fd()); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s", ErrDirLocked, dir)
	}
	return f, nil
}

// releaseDirLock releases and closes the directory lock.
func releaseDirLock(f *os.File) {
	if f == nil {
		return
	}
	_ = unlock(f.Fd())
	_ = f.Close()
}

// Append writes records as JSON Lines to the current file, rotating on
// date or size boundaries as needed.
func (s *Store) Append(_ context.Context, records ...audit.DecisionRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		dateStr := rec.Timestamp.UTC().Format("2006-01-02")
		// The nil check reopens the file after a failed rotation left
		// the store without one.
		if dateStr != s.currentDate || s.currentFile == nil {
			if err := s.rotateDateLocked(dateStr); err != nil {
				return fmt.Errorf("date rotation: %w", err)
			}
		}
		if s.currentSize >= s.maxFileSize {
			if err := s.rotateSizeLocked(); err != nil {
				return fmt.Errorf("size rotation: %w", err)
			}
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal audit record: %w", err)
		}
		line := append(data, '\n')
		n, err := s.currentFile.Write(line)
		if err != nil {
			return fmt.Errorf("write audit record: %w", err)
		}
		s.currentSize += int64(n)

		s.cache.Add(rec)
	}

	return nil
}

// Flush syncs the current file to disk.
func (s *Store) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentFile != nil {
		return s.currentFile.Sync()
	}
	return nil
}

// Close stops the sweep goroutine, closes the current file, and releases
// the directory lock. Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.cancel()

	var err error
	if s.currentFile != nil {
		_ = s.currentFile.Sync()
		err = s.currentFile.Close()
		s.currentFile = nil
	}

	releaseDirLock(s.lockFile)
	s.lockFile = nil

	return err
}

// Recent returns the last n records from the cache, newest first.
func (s *Store) Recent(n int) []audit.DecisionRecord {
	return s.cache.Recent(n)
}

// openCurrentFile opens the audit file for the date, resuming the highest
// existing suffix so a restart appends rather than clobbers.
func (s *Store) openCurrentFile(dateStr string) error {
	suffix := s.findHighestSuffix(dateStr)

	f, size, err := s.openFile(dateStr, suffix)
	if err != nil {
		return err
	}

	s.currentFile = f
	s.currentDate = dateStr
	s.currentSize = size
	s.currentSuffix = suffix
	return nil
}

// findHighestSuffix returns the highest existing suffix for a date, or 0.
func (s *Store) findHighestSuffix(dateStr string) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}

	highest := 0
	for _, e := range entries {
		info, ok := parseFilename(e.Name())
		if !ok || info.date != dateStr {
			continue
		}
		if info.suffix > highest {
			highest = info.suffix
		}
	}
	return highest
}

// openFile opens an audit file for appending and returns its size.
func (s *Store) openFile(dateStr string, suffix int) (*os.File, int64, error) {
	filename := buildFilename(dateStr, suffix)
	path := filepath.Join(s.dir, filename)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, 0, fmt.Errorf("open file %s: %w", filename, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat file %s: %w", filename, err)
	}

	return f, info.Size(), nil
}

// buildFilename constructs the audit filename for a date and suffix.
func buildFilename(dateStr string, suffix int) string {
	if suffix == 0 {
		return fmt.Sprintf("audit-%s.log", dateStr)
	}
	return fmt.Sprintf("audit-%s-%d.log", dateStr, suffix)
}

// rotateDateLocked closes the current file and opens one for the new date.
// State is only updated once the new file is open, so a failed rotation
// leaves the store retryable on the next Append. Caller must hold the lock.
func (s *Store) rotateDateLocked(dateStr string) error {
	if s.currentFile != nil {
		_ = s.currentFile.Sync()
		_ = s.currentFile.Close()
		s.currentFile = nil
	}

	f, size, err := s.openFile(dateStr, 0)
	if err != nil {
		return err
	}

	s.currentFile = f
	s.currentDate = dateStr
	s.currentSuffix = 0
	s.currentSize = size
	return nil
}

// rotateSizeLocked closes the current file and opens the next suffix.
// State is only updated once the new file is open, so a failed rotation
// leaves the store retryable on the next Append. Caller must hold the lock.
func (s *Store) rotateSizeLocked() error {
	if s.currentFile != nil {
		_ = s.currentFile.Sync()
		_ = s.currentFile.Close()
		s.currentFile = nil
	}

	f, size, err := s.openFile(s.currentDate, s.currentSuffix+1)
	if err != nil {
		return err
	}

	s.currentFile = f
	s.currentSuffix++
	s.currentSize = size
	return nil
}

// runCleanup deletes audit files older than the retention period.
func (s *Store) runCleanup() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Error("audit cleanup: failed to read directory", "dir", s.dir, "error", err)
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
	deleted := 0

	for _, e := range entries {
		info, ok := parseFilename(e.Name())
		if !ok {
			continue
		}

		fileDate, err := time.Parse("2006-01-02", info.date)
		if err != nil {
			continue
		}

		if fileDate.Before(cutoff) {
			path := filepath.Join(s.dir, e.Name())
			if err := os.Remove(path); err != nil {
				s.logger.Error("audit cleanup: failed to delete file",
					"file", e.Name(), "error", err)
			} else {
				deleted++
			}
		}
	}

	if deleted > 0 {
		s.logger.Info("audit cleanup completed", "deleted", deleted)
	}
}

// cleanupLoop runs the retention sweep hourly until the context is
// cancelled.
func (s *Store) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCleanup()
		}
	}
}

// populateCache warms the recent cache from the newest audit file.
func (s *Store) populateCache() {
	mostRecent := s.findMostRecentFile()
	if mostRecent == "" {
		return
	}

	path := filepath.Join(s.dir, mostRecent)
	f, err := os.Open(path)
	if err != nil {
		s.logger.Error("audit cache: failed to open file",
			"file", mostRecent, "error", err)
		return
	}
	defer func() { _ = f.Close() }()

	var records []audit.DecisionRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		var rec audit.DecisionRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			s.logger.Warn("audit cache: skipping malformed line",
				"file", mostRecent, "error", err)
			continue
		}
		records = append(records, rec)
	}

	if err := scanner.Err(); err != nil {
		s.logger.Error("audit cache: error reading file",
			"file", mostRecent, "error", err)
	}

	start := 0
	if len(records) > s.cache.size {
		start = len(records) - s.cache.size
	}

	// Chronological order so the newest record lands most recent.
	for _, rec := range records[start:] {
		s.cache.Add(rec)
	}
}

// findMostRecentFile returns the newest non-empty audit file, or "".
func (s *Store) findMostRecentFile() string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return ""
	}

	var files []fileInfo
	for _, e := range entries {
		info, ok := parseFilename(e.Name())
		if !ok {
			continue
		}
		finfo, err := e.Info()
		if err != nil || finfo.Size() == 0 {
			continue
		}
		files = append(files, info)
	}

	if len(files) == 0 {
		return ""
	}

	sortFiles(files)
	return files[len(files)-1].name
}

// Compile-time interface verification.
var _ audit.Store = (*Store)(nil)

// recentCache is a ring buffer of recent records for fast status reads.
type recentCache struct {
	entries []audit.DecisionRecord
	size    int
	head    int
	count   int
	mu      sync.RWMutex
}

// newRecentCache creates a cache with the given capacity.
func newRecentCache(size int) *recentCache {
	if size <= 0 {
		size = 1000
	}
	return &recentCache{
		entries: make([]audit.DecisionRecord, size),
		size:    size,
	}
}

// Add adds a record, overwriting the oldest entry once full.
func (c *recentCache) Add(rec audit.DecisionRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[c.head] = rec
	c.head = (c.head + 1) % c.size
	if c.count < c.size {
		c.count++
	}
}

// Recent returns the last n entries, newest first. If n exceeds the held
// count, all entries are returned.
func (c *recentCache) Recent(n int) []audit.DecisionRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if n <= 0 || c.count == 0 {
		return nil
	}
	if n > c.count {
		n = c.count
	}

	result := make([]audit.DecisionRecord, n)
	for i := 0; i < n; i++ {
		// head is the next write position, so head-1 is the newest entry.
		idx := (c.head - 1 - i + c.size) % c.size
		result[i] = c.entries[idx]
	}
	return result
}

// Len returns the number of entries currently cached.
func (c *recentCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.count
}
