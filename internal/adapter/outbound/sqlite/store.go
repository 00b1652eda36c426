// Package sqlite persists decision records in an embedded SQLite
// database, serving both the write path and historical queries from a
// single file. Records survive restarts and are never evicted, which
// makes it the backend of choice for long-lived audit history.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/fe-row/AEGIS/internal/domain/audit"
	_ "modernc.org/sqlite"
)

// openTimeout bounds the initial ping and schema bootstrap.
const openTimeout = 5 * time.Second

// Timestamps are stored as UnixNano integers. Lexicographic text
// comparisons break on variable-width fractional seconds, so integer
// columns keep range queries exact.
const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	ts              INTEGER NOT NULL,
	request_id      TEXT NOT NULL,
	agent_id        TEXT NOT NULL,
	agent_name      TEXT NOT NULL DEFAULT '',
	action          TEXT NOT NULL,
	service         TEXT NOT NULL,
	params          TEXT,
	prompt_snippet  TEXT NOT NULL DEFAULT '',
	decision        TEXT NOT NULL,
	deny_reasons    TEXT,
	requires_review INTEGER NOT NULL DEFAULT 0,
	stage           TEXT NOT NULL DEFAULT '',
	trust_score     REAL NOT NULL,
	risk_level      TEXT NOT NULL DEFAULT '',
	cost_usd        REAL NOT NULL,
	threats         TEXT,
	latency_micros  INTEGER NOT NULL,
	metadata        TEXT
);
CREATE INDEX IF NOT EXISTS idx_decisions_ts ON decisions(ts);
CREATE INDEX IF NOT EXISTS idx_decisions_agent_ts ON decisions(agent_id, ts);
CREATE INDEX IF NOT EXISTS idx_decisions_action ON decisions(action);
CREATE INDEX IF NOT EXISTS idx_decisions_decision ON decisions(decision);
`

const insertSQL = `
INSERT INTO decisions (
	ts, request_id, agent_id, agent_name, action, service,
	params, prompt_snippet, decision, deny_reasons, requires_review,
	stage, trust_score, risk_level, cost_usd, threats, latency_micros, metadata
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectSQL = `
SELECT id, ts, request_id, agent_id, agent_name, action, service,
       params, prompt_snippet, decision, deny_reasons, requires_review,
       stage, trust_score, risk_level, cost_usd, threats, latency_micros, metadata
FROM decisions
WHERE ts >= ? AND ts <= ?`

// Store writes decision records to an embedded SQLite database and
// serves queries over the full retained history.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens (or creates) the database at path, applies pragmas for
// concurrent use, and bootstraps the schema.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	dsn := "file:" + path +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	// SQLite permits a single writer. One pooled connection serializes
	// appends and queries instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping audit database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init audit schema: %w", err)
	}

	logger.Debug("audit database opened", "path", path)

	return &Store{db: db, logger: logger}, nil
}

// Append inserts records in a single transaction.
func (s *Store) Append(ctx context.Context, records ...audit.DecisionRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit insert: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare audit insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range records {
		args, err := insertArgs(rec)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("encode decision record: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert decision record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit decision records: %w", err)
	}
	return nil
}

// Flush is a no-op; Append commits synchronously.
func (s *Store) Flush(_ context.Context) error { return nil }

// Close closes the database. Safe to call more than once.
func (s *Store) Close() error {
	return s.db.Close()
}

// Query returns records matching the filter, newest first, with keyset
// pagination over the insertion rowid.
func (s *Store) Query(ctx context.Context, filter audit.Filter) ([]audit.DecisionRecord, string, error) {
	if err := filter.Normalize(); err != nil {
		return nil, "", err
	}

	var sb strings.Builder
	sb.WriteString(selectSQL)
	args := []interface{}{filter.StartTime.UnixNano(), filter.EndTime.UnixNano()}

	if filter.AgentID != "" {
		sb.WriteString(" AND agent_id = ?")
		args = append(args, filter.AgentID)
	}
	if filter.Service != "" {
		sb.WriteString(" AND service = ?")
		args = append(args, filter.Service)
	}
	if filter.Action != "" {
		sb.WriteString(" AND action = ?")
		args = append(args, filter.Action)
	}
	if filter.Decision != "" {
		sb.WriteString(" AND decision = ?")
		args = append(args, filter.Decision)
	}
	if filter.Cursor != "" {
		afterID, err := strconv.ParseInt(filter.Cursor, 10, 64)
		if err != nil {
			return nil, "", audit.ErrBadFilter
		}
		sb.WriteString(" AND id < ?")
		args = append(args, afterID)
	}

	// One extra row tells us whether another page exists.
	sb.WriteString(" ORDER BY id DESC LIMIT ?")
	args = append(args, filter.Limit+1)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, "", fmt.Errorf("query decision records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var (
		out []audit.DecisionRecord
		ids []int64
	)
	for rows.Next() {
		rec, id, err := scanRecord(rows)
		if err != nil {
			return nil, "", fmt.Errorf("scan decision record: %w", err)
		}
		out = append(out, rec)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterate decision records: %w", err)
	}

	cursor := ""
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
		cursor = strconv.FormatInt(ids[filter.Limit-1], 10)
	}
	return out, cursor, nil
}

// QueryStats aggregates decision statistics over [start, end].
func (s *Store) QueryStats(ctx context.Context, start, end time.Time) (*audit.Stats, error) {
	startNs, endNs := start.UnixNano(), end.UnixNano()

	stats := &audit.Stats{
		ByAction:   make(map[string]audit.ActionStats),
		ByDecision: make(map[string]int64),
	}

	totals := `
		SELECT COUNT(*), COUNT(DISTINCT agent_id),
		       COALESCE(SUM(cost_usd), 0), COALESCE(SUM(requires_review), 0)
		FROM decisions WHERE ts >= ? AND ts <= ?`
	err := s.db.QueryRowContext(ctx, totals, startNs, endNs).Scan(
		&stats.TotalDecisions, &stats.UniqueAgents,
		&stats.TotalCostUSD, &stats.Escalations,
	)
	if err != nil {
		return nil, fmt.Errorf("query decision totals: %w", err)
	}

	byDecision := `
		SELECT decision, COUNT(*)
		FROM decisions WHERE ts >= ? AND ts <= ?
		GROUP BY decision`
	rows, err := s.db.QueryContext(ctx, byDecision, startNs, endNs)
	if err != nil {
		return nil, fmt.Errorf("query decision counts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var decision string
		var n int64
		if err := rows.Scan(&decision, &n); err != nil {
			return nil, fmt.Errorf("scan decision count: %w", err)
		}
		stats.ByDecision[decision] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decision counts: %w", err)
	}

	byAction := `
		SELECT action, COUNT(*),
		       SUM(CASE WHEN decision = ? THEN 1 ELSE 0 END),
		       SUM(CASE WHEN decision = ? THEN 1 ELSE 0 END)
		FROM decisions WHERE ts >= ? AND ts <= ?
		GROUP BY action`
	actionRows, err := s.db.QueryContext(ctx, byAction,
		audit.DecisionAllow, audit.DecisionDeny, startNs, endNs)
	if err != nil {
		return nil, fmt.Errorf("query action stats: %w", err)
	}
	defer func() { _ = actionRows.Close() }()
	for actionRows.Next() {
		var action string
		var as audit.ActionStats
		if err := actionRows.Scan(&action, &as.Calls, &as.Allowed, &as.Denied); err != nil {
			return nil, fmt.Errorf("scan action stats: %w", err)
		}
		stats.ByAction[action] = as
	}
	if err := actionRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate action stats: %w", err)
	}

	return stats, nil
}

// CountSince returns the number of records for the agent at or after the
// given time.
func (s *Store) CountSince(ctx context.Context, agentID string, since time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM decisions WHERE agent_id = ? AND ts >= ?`

	var n int64
	err := s.db.QueryRowContext(ctx, query, agentID, since.UnixNano()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count decision records: %w", err)
	}
	return n, nil
}

// insertArgs encodes a record into the insert parameter list.
func insertArgs(rec audit.DecisionRecord) ([]interface{}, error) {
	params, err := jsonColumn(rec.Params)
	if err != nil {
		return nil, err
	}
	denyReasons, err := jsonColumn(rec.DenyReasons)
	if err != nil {
		return nil, err
	}
	threats, err := jsonColumn(rec.Threats)
	if err != nil {
		return nil, err
	}
	metadata, err := jsonColumn(rec.Metadata)
	if err != nil {
		return nil, err
	}

	return []interface{}{
		rec.Timestamp.UnixNano(),
		rec.RequestID,
		rec.AgentID,
		rec.AgentName,
		rec.Action,
		rec.Service,
		params,
		rec.PromptSnippet,
		rec.Decision,
		denyReasons,
		rec.RequiresReview,
		rec.Stage,
		rec.TrustScore,
		rec.RiskLevel,
		rec.CostUSD,
		threats,
		rec.LatencyMicros,
		metadata,
	}, nil
}

// scanRecord reads one row into a DecisionRecord and its rowid.
func scanRecord(rows *sql.Rows) (audit.DecisionRecord, int64, error) {
	var (
		rec         audit.DecisionRecord
		id          int64
		ts          int64
		params      sql.NullString
		denyReasons sql.NullString
		threats     sql.NullString
		metadata    sql.NullString
	)

	err := rows.Scan(
		&id, &ts, &rec.RequestID, &rec.AgentID, &rec.AgentName,
		&rec.Action, &rec.Service, &params, &rec.PromptSnippet,
		&rec.Decision, &denyReasons, &rec.RequiresReview, &rec.Stage,
		&rec.TrustScore, &rec.RiskLevel, &rec.CostUSD, &threats,
		&rec.LatencyMicros, &metadata,
	)
	if err != nil {
		return audit.DecisionRecord{}, 0, err
	}

	rec.Timestamp = time.Unix(0, ts).UTC()
	if err := decodeColumn(params, &rec.Params); err != nil {
		return audit.DecisionRecord{}, 0, err
	}
	if err := decodeColumn(denyReasons, &rec.DenyReasons); err != nil {
		return audit.DecisionRecord{}, 0, err
	}
	if err := decodeColumn(threats, &rec.Threats); err != nil {
		return audit.DecisionRecord{}, 0, err
	}
	if err := decodeColumn(metadata, &rec.Metadata); err != nil {
		return audit.DecisionRecord{}, 0, err
	}
	return rec, id, nil
}

// jsonColumn marshals v for storage, mapping empty values to NULL.
func jsonColumn(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case map[string]interface{}:
		if len(t) == 0 {
			return nil, nil
		}
	case []string:
		if len(t) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// decodeColumn unmarshals a nullable JSON column into out.
func decodeColumn(col sql.NullString, out interface{}) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), out)
}

// Compile-time interface verification.
var (
	_ audit.Store  = (*Store)(nil)
	_ audit.Reader = (*Store)(nil)
)
