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
	"strconv"
	"strings"
	"time"

	"github.com/fe-row/AEGIS/internal/domain/audit"
)

// Reader answers audit queries by scanning the rotated files in an
// audit directory. It takes no directory lock: rotated files are
// immutable, and a line still being appended to the current file fails
// to parse and is skipped, so a Reader can run next to a live writer.
type Reader struct {
	dir    string
	logger *slog.Logger
}

// OpenReader opens dir for read-only queries.
func OpenReader(dir string, logger *slog.Logger) (*Reader, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("open audit directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("audit path is not a directory: %s", dir)
	}
	return &Reader{dir: dir, logger: logger}, nil
}

// fileEntry pairs a parsed record with its line index, the stable half
// of the (file, line) pagination keyset.
type fileEntry struct {
	line int
	rec  audit.DecisionRecord
}

// Query returns records matching the filter, newest first. The cursor
// encodes the file and line of the last returned record; files rotate
// append-only, so the position stays valid across pages unless the
// retention sweep deletes the file, in which case the page simply ends
// at the next remaining file.
func (r *Reader) Query(ctx context.Context, filter audit.Filter) ([]audit.DecisionRecord, string, error) {
	if err := filter.Normalize(); err != nil {
		return nil, "", err
	}

	var (
		cursorFile fileInfo
		cursorLine int
		hasCursor  bool
	)
	if filter.Cursor != "" {
		name, lineStr, ok := strings.Cut(filter.Cursor, ":")
		info, nameOK := parseFilename(name)
		line, err := strconv.Atoi(lineStr)
		if !ok || !nameOK || err != nil || line < 0 {
			return nil, "", audit.ErrBadFilter
		}
		cursorFile, cursorLine, hasCursor = info, line, true
	}

	files, err := r.listFiles(dateOf(filter.StartTime), dateOf(filter.EndTime))
	if err != nil {
		return nil, "", err
	}

	var (
		out      []audit.DecisionRecord
		lastName string
		lastLine int
		next     string
	)
scan:
	for i := len(files) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}

		f := files[i]
		if hasCursor && fileAfter(f, cursorFile) {
			continue
		}
		lineBound := -1
		if hasCursor && f.name == cursorFile.name {
			lineBound = cursorLine
		}

		entries, err := r.readFile(f.name, lineBound)
		if err != nil {
			return nil, "", err
		}

		// Lines within a file are chronological; walk them backwards
		// to keep the newest-first order across file boundaries.
		for j := len(entries) - 1; j >= 0; j-- {
			entry := entries[j]
			if !filter.Matches(entry.rec) {
				continue
			}
			if len(out) == filter.Limit {
				next = lastName + ":" + strconv.Itoa(lastLine)
				break scan
			}
			out = append(out, entry.rec)
			lastName, lastLine = f.name, entry.line
		}
	}

	return out, next, nil
}

// QueryStats aggregates decision statistics over [start, end].
func (r *Reader) QueryStats(ctx context.Context, start, end time.Time) (*audit.Stats, error) {
	files, err := r.listFiles(dateOf(start), dateOf(end))
	if err != nil {
		return nil, err
	}

	stats := &audit.Stats{
		ByAction:   make(map[string]audit.ActionStats),
		ByDecision: make(map[string]int64),
	}
	agents := make(map[string]struct{})

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entries, err := r.readFile(f.name, -1)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			rec := entry.rec
			if rec.Timestamp.Before(start) || rec.Timestamp.After(end) {
				continue
			}

			stats.TotalDecisions++
			agents[rec.AgentID] = struct{}{}
			stats.ByDecision[rec.Decision]++
			stats.TotalCostUSD += rec.CostUSD
			if rec.RequiresReview {
				stats.Escalations++
			}

			action := stats.ByAction[rec.Action]
			action.Calls++
			switch rec.Decision {
			case audit.DecisionAllow:
				action.Allowed++
			case audit.DecisionDeny:
				action.Denied++
			}
			stats.ByAction[rec.Action] = action
		}
	}

	stats.UniqueAgents = int64(len(agents))
	return stats, nil
}

// CountSince returns the number of records for the agent at or after
// the given time.
func (r *Reader) CountSince(ctx context.Context, agentID string, since time.Time) (int64, error) {
	files, err := r.listFiles(dateOf(since), "")
	if err != nil {
		return 0, err
	}

	var n int64
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		entries, err := r.readFile(f.name, -1)
		if err != nil {
			return 0, err
		}
		for _, entry := range entries {
			if entry.rec.AgentID == agentID && !entry.rec.Timestamp.Before(since) {
				n++
			}
		}
	}
	return n, nil
}

// dateOf formats a time as the UTC date used in audit filenames.
func dateOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// fileAfter reports whether a sorts after b chronologically.
func fileAfter(a, b fileInfo) bool {
	if a.date != b.date {
		return a.date > b.date
	}
	return a.suffix > b.suffix
}

// listFiles returns the audit files whose dates fall within [startDate,
// endDate], sorted chronologically. An empty endDate means no upper
// bound. Filenames carry the UTC date of the records they hold, so the
// date range prunes files without opening them.
func (r *Reader) listFiles(startDate, endDate string) ([]fileInfo, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("read audit directory: %w", err)
	}

	var files []fileInfo
	for _, e := range entries {
		info, ok := parseFilename(e.Name())
		if !ok {
			continue
		}
		if info.date < startDate {
			continue
		}
		if endDate != "" && info.date > endDate {
			continue
		}
		files = append(files, info)
	}

	sortFiles(files)
	return files, nil
}

// readFile parses the records in one audit file. When lineBound >= 0
// only lines with an index below it are read. Malformed lines are
// logged and skipped, matching the cache warmup behavior.
func (r *Reader) readFile(name string, lineBound int) ([]fileEntry, error) {
	f, err := os.Open(filepath.Join(r.dir, name))
	if err != nil {
		// Deleted by the retention sweep between listing and reading.
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit file %s: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	var entries []fileEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		idx := line
		line++
		if lineBound >= 0 && idx >= lineBound {
			break
		}

		text := scanner.Text()
		if text == "" {
			continue
		}

		var rec audit.DecisionRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			r.logger.Warn("audit query: skipping malformed line",
				"file", name, "line", idx, "error", err)
			continue
		}
		entries = append(entries, fileEntry{line: idx, rec: rec})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit file %s: %w", name, err)
	}
	return entries, nil
}

// Compile-time interface verification.
var _ audit.Reader = (*Reader)(nil)
