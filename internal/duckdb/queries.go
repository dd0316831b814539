package duckdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tinytelemetry/lotus/internal/model"
)

// TotalEventCount returns the number of persisted events.
func (s *Store) TotalEventCount() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

// CountsByProtocol returns persisted event counts keyed by protocol.
func (s *Store) CountsByProtocol() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT protocol, COUNT(*) FROM events GROUP BY protocol`)
	if err != nil {
		return nil, fmt.Errorf("count by protocol: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var protocol string
		var n int64
		if err := rows.Scan(&protocol, &n); err != nil {
			return nil, err
		}
		counts[protocol] = n
	}
	return counts, rows.Err()
}

// RecentEvents returns up to limit persisted events, newest first, in the
// canonical flat event shape.
func (s *Store) RecentEvents(limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = model.DefaultReplayCount
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, received_at, severity, facility, hostname, source, message,
		       protocol, transport, source_ip, fields
		FROM events
		ORDER BY timestamp DESC, received_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer rows.Close()

	out := make([]map[string]any, 0, limit)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e.Map())
	}
	return out, rows.Err()
}

// DeleteBefore removes events whose timestamp is older than cutoff.
func (s *Store) DeleteBefore(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE timestamp < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired events: %w", err)
	}
	return res.RowsAffected()
}

func scanEvent(rows *sql.Rows) (*model.LogEvent, error) {
	var (
		ts         time.Time
		receivedAt sql.NullTime
		severity   int
		facility   sql.NullInt64
		protocol   string
		transport  string
		fieldsJSON string
	)
	e := model.NewLogEvent()
	if err := rows.Scan(&ts, &receivedAt, &severity, &facility, &e.Hostname, &e.Source, &e.Message,
		&protocol, &transport, &e.SourceIP, &fieldsJSON); err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}
	e.Timestamp = ts.UTC()
	if receivedAt.Valid {
		e.ReceivedAt = receivedAt.Time.UTC()
	}
	e.Severity = model.Severity(severity)
	if facility.Valid {
		e.Facility = int(facility.Int64)
	}
	e.Protocol = model.Protocol(protocol)
	e.Transport = model.Transport(transport)
	if fieldsJSON != "" && fieldsJSON != "{}" {
		if err := json.Unmarshal([]byte(fieldsJSON), &e.Fields); err != nil {
			return nil, fmt.Errorf("decode fields: %w", err)
		}
	}
	return e, nil
}
