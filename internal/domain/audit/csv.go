package audit

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"
)

// csvHeader is the column layout for decision log exports.
var csvHeader = []string{
	"timestamp", "request_id", "agent_id", "action", "service",
	"decision", "deny_reasons", "cost_usd", "latency_micros",
}

// WriteCSV writes the records to w in export format, header first.
func WriteCSV(w io.Writer, records []DecisionRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.Timestamp.Format(time.RFC3339Nano),
			r.RequestID,
			r.AgentID,
			r.Action,
			r.Service,
			r.Decision,
			strings.Join(r.DenyReasons, "; "),
			strconv.FormatFloat(r.CostUSD, 'f', 4, 64),
			strconv.FormatInt(r.LatencyMicros, 10),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
