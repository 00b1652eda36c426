package auditfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fe-row/AEGIS/internal/domain/audit"
)

// seedAuditFile writes records as JSON Lines directly into dir, bypassing
// the store so tests control exactly which file holds which records.
func seedAuditFile(t *testing.T, dir, name string, records ...audit.DecisionRecord) {
	t.Helper()

	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("create seed file %s: %v", name, err)
	}
	enc := json.NewEncoder(f)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			t.Fatalf("write seed record: %v", err)
		}
	}
	_ = f.Close()
}

// seedThreeFiles lays out ten records across a day boundary and a size
// rotation: req-0..3 on day one, req-4..6 in day two's base file,
// req-7..9 in day two's first suffix.
func seedThreeFiles(t *testing.T, dir string) (day1, day2 time.Time) {
	t.Helper()

	day1 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	day2 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	var batch []audit.DecisionRecord
	for i := 0; i < 4; i++ {
		batch = append(batch, makeRecord(day1.Add(time.Duration(i)*time.Second), fmt.Sprintf("req-%d", i)))
	}
	seedAuditFile(t, dir, "audit-2026-03-01.log", batch...)

	batch = nil
	for i := 4; i < 7; i++ {
		batch = append(batch, makeRecord(day2.Add(time.Duration(i)*time.Second), fmt.Sprintf("req-%d", i)))
	}
	seedAuditFile(t, dir, "audit-2026-03-02.log", batch...)

	batch = nil
	for i := 7; i < 10; i++ {
		batch = append(batch, makeRecord(day2.Add(time.Duration(i)*time.Second), fmt.Sprintf("req-%d", i)))
	}
	seedAuditFile(t, dir, "audit-2026-03-02-1.log", batch...)

	return day1, day2
}

func TestOpenReader_MissingDirectory(t *testing.T) {
	t.Parallel()

	if _, err := OpenReader(filepath.Join(t.TempDir(), "nope"), testLogger()); err == nil {
		t.Fatal("OpenReader() on missing directory should fail")
	}
}

func TestReader_QueryNewestFirstAcrossFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	day1, day2 := seedThreeFiles(t, dir)

	reader, err := OpenReader(dir, testLogger())
	if err != nil {
		t.Fatalf("OpenReader() error: %v", err)
	}

	records, cursor, err := reader.Query(context.Background(), audit.Filter{
		StartTime: day1.Add(-time.Hour),
		EndTime:   day2.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if cursor != "" {
		t.Errorf("cursor = %q, want empty on a complete page", cursor)
	}
	if len(records) != 10 {
		t.Fatalf("Query() returned %d records, want 10", len(records))
	}
	for i, rec := range records {
		if want := fmt.Sprintf("req-%d", 9-i); rec.RequestID != want {
			t.Errorf("records[%d].RequestID = %q, want %q", i, rec.RequestID, want)
		}
	}
}

func TestReader_QueryPagination(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	day1, day2 := seedThreeFiles(t, dir)

	reader, err := OpenReader(dir, testLogger())
	if err != nil {
		t.Fatalf("OpenReader() error: %v", err)
	}

	filter := audit.Filter{
		StartTime: day1.Add(-time.Hour),
		EndTime:   day2.Add(time.Hour),
		Limit:     4,
	}

	var got []string
	pages := 0
	for {
		records, cursor, err := reader.Query(context.Background(), filter)
		if err != nil {
			t.Fatalf("Query() page %d error: %v", pages, err)
		}
		for _, rec := range records {
			got = append(got, rec.RequestID)
		}
		pages++
		if cursor == "" {
			break
		}
		filter.Cursor = cursor
	}

	if pages != 3 {
		t.Errorf("paged through %d pages, want 3", pages)
	}
	if len(got) != 10 {
		t.Fatalf("collected %d records across pages, want 10", len(got))
	}
	for i, id := range got {
		if want := fmt.Sprintf("req-%d", 9-i); id != want {
			t.Errorf("got[%d] = %q, want %q (no gaps or duplicates across pages)", i, id, want)
		}
	}
}

func TestReader_QueryFilters(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

	allow := makeRecord(now, "req-allow")
	deny := makeRecord(now.Add(time.Second), "req-deny")
	deny.Decision = audit.DecisionDeny
	other := makeRecord(now.Add(2*time.Second), "req-other")
	other.AgentID = "agent-2"
	seedAuditFile(t, dir, "audit-2026-03-05.log", allow, deny, other)

	reader, err := OpenReader(dir, testLogger())
	if err != nil {
		t.Fatalf("OpenReader() error: %v", err)
	}

	ctx := context.Background()
	base := audit.Filter{StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour)}

	byDecision := base
	byDecision.Decision = audit.DecisionDeny
	records, _, err := reader.Query(ctx, byDecision)
	if err != nil {
		t.Fatalf("Query(decision) error: %v", err)
	}
	if len(records) != 1 || records[0].RequestID != "req-deny" {
		t.Errorf("decision filter returned %+v, want just req-deny", records)
	}

	byAgent := base
	byAgent.AgentID = "agent-2"
	records, _, err = reader.Query(ctx, byAgent)
	if err != nil {
		t.Fatalf("Query(agent) error: %v", err)
	}
	if len(records) != 1 || records[0].RequestID != "req-other" {
		t.Errorf("agent filter returned %+v, want just req-other", records)
	}
}

func TestReader_QueryBadCursor(t *testing.T) {
	t.Parallel()

	reader, err := OpenReader(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("OpenReader() error: %v", err)
	}

	now := time.Now().UTC()
	for _, cursor := range []string{"garbage", "audit-2026-03-01.log:x", "notafile.txt:3"} {
		_, _, err := reader.Query(context.Background(), audit.Filter{
			StartTime: now.Add(-time.Hour),
			EndTime:   now,
			Cursor:    cursor,
		})
		if !errors.Is(err, audit.ErrBadFilter) {
			t.Errorf("Query(cursor=%q) = %v, want ErrBadFilter", cursor, err)
		}
	}
}

func TestReader_QueryStats(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Date(2026, 3, 7, 9, 0, 0, 0, time.UTC)

	recs := make([]audit.DecisionRecord, 5)
	for i := range recs {
		recs[i] = makeRecord(now.Add(time.Duration(i)*time.Minute), fmt.Sprintf("req-%d", i))
		recs[i].CostUSD = 0.5
	}
	recs[1].Decision = audit.DecisionDeny
	recs[2].Decision = audit.DecisionDeny
	recs[3].AgentID = "agent-2"
	recs[4].RequiresReview = true
	recs[4].Decision = audit.DecisionEscalate
	seedAuditFile(t, dir, "audit-2026-03-07.log", recs...)

	reader, err := OpenReader(dir, testLogger())
	if err != nil {
		t.Fatalf("OpenReader() error: %v", err)
	}

	stats, err := reader.QueryStats(context.Background(), now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("QueryStats() error: %v", err)
	}

	if stats.TotalDecisions != 5 {
		t.Errorf("TotalDecisions = %d, want 5", stats.TotalDecisions)
	}
	if stats.UniqueAgents != 2 {
		t.Errorf("UniqueAgents = %d, want 2", stats.UniqueAgents)
	}
	if stats.ByDecision[audit.DecisionAllow] != 2 {
		t.Errorf("ByDecision[allow] = %d, want 2", stats.ByDecision[audit.DecisionAllow])
	}
	if stats.ByDecision[audit.DecisionDeny] != 2 {
		t.Errorf("ByDecision[deny] = %d, want 2", stats.ByDecision[audit.DecisionDeny])
	}
	if stats.Escalations != 1 {
		t.Errorf("Escalations = %d, want 1", stats.Escalations)
	}
	if want := 2.5; stats.TotalCostUSD != want {
		t.Errorf("TotalCostUSD = %v, want %v", stats.TotalCostUSD, want)
	}
	action := stats.ByAction["send_email"]
	if action.Calls != 5 || action.Allowed != 2 || action.Denied != 2 {
		t.Errorf("ByAction[send_email] = %+v, want {Calls:5 Allowed:2 Denied:2}", action)
	}
}

func TestReader_QueryStatsHonorsBounds(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)
	seedAuditFile(t, dir, "audit-2026-03-08.log",
		makeRecord(now.Add(-2*time.Hour), "before"),
		makeRecord(now, "inside"),
		makeRecord(now.Add(2*time.Hour), "after"),
	)

	reader, err := OpenReader(dir, testLogger())
	if err != nil {
		t.Fatalf("OpenReader() error: %v", err)
	}

	stats, err := reader.QueryStats(context.Background(), now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("QueryStats() error: %v", err)
	}
	if stats.TotalDecisions != 1 {
		t.Errorf("TotalDecisions = %d, want 1 (bounds on the same day)", stats.TotalDecisions)
	}
}

func TestReader_CountSince(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, day2 := seedThreeFiles(t, dir)

	reader, err := OpenReader(dir, testLogger())
	if err != nil {
		t.Fatalf("OpenReader() error: %v", err)
	}

	// seedThreeFiles writes six day-two records, all for agent-1.
	n, err := reader.CountSince(context.Background(), "agent-1", day2)
	if err != nil {
		t.Fatalf("CountSince() error: %v", err)
	}
	if n != 6 {
		t.Errorf("CountSince(agent-1, day2) = %d, want 6", n)
	}

	n, err = reader.CountSince(context.Background(), "agent-unknown", day2)
	if err != nil {
		t.Fatalf("CountSince() error: %v", err)
	}
	if n != 0 {
		t.Errorf("CountSince(agent-unknown) = %d, want 0", n)
	}
}

func TestReader_AlongsideLiveWriter(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewStore(Config{Dir: dir}, testLogger())
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		if err := store.Append(ctx, makeRecord(now.Add(time.Duration(i)*time.Second), fmt.Sprintf("live-%d", i))); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}
	if err := store.Flush(ctx); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}

	// The reader needs no directory lock, so it opens while the store
	// still holds it.
	reader, err := OpenReader(dir, testLogger())
	if err != nil {
		t.Fatalf("OpenReader() with live writer error: %v", err)
	}

	records, _, err := reader.Query(ctx, audit.Filter{
		StartTime: now.Add(-time.Minute),
		EndTime:   now.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Query() returned %d records, want 3", len(records))
	}
	if records[0].RequestID != "live-2" {
		t.Errorf("records[0].RequestID = %q, want live-2", records[0].RequestID)
	}
}

func TestReader_SkipsMalformedLines(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)

	path := filepath.Join(dir, "audit-2026-03-09.log")
	data, _ := json.Marshal(makeRecord(now, "good"))
	content := string(data) + "\n{truncated\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	reader, err := OpenReader(dir, testLogger())
	if err != nil {
		t.Fatalf("OpenReader() error: %v", err)
	}

	records, _, err := reader.Query(context.Background(), audit.Filter{
		StartTime: now.Add(-time.Hour),
		EndTime:   now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(records) != 1 || records[0].RequestID != "good" {
		t.Errorf("Query() = %+v, want just the well-formed record", records)
	}
}
