package storage

import (
	"database/sql"
	"fmt"
)

// ConnectionSummary aggregates one connection's rows for reporting.
type ConnectionSummary struct {
	ConnectionRow
	Streams int64
	Frames  int64
	Reports int64
}

// StreamSummary aggregates one stream's rows for reporting.
type StreamSummary struct {
	StreamRow
	Frames        int64
	LossTotal     int64
	Reports       int64
	FirstRTP      sql.NullInt64
	LastRTP       sql.NullInt64
	FirstReceived sql.NullInt64
	LastReceived  sql.NullInt64
	CumDuration   sql.NullInt64 // last known cumulative duration
}

// ConnectionSummaries returns every recorded connection with per-table row
// counts, ordered by connection id.
func (s *Store) ConnectionSummaries() ([]ConnectionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT c.id, c.url, c.start, c.lost, c.lost_reason,
		        (SELECT COUNT(*) FROM stream s WHERE s.conn_id = c.id),
		        (SELECT COUNT(*) FROM frame f WHERE f.conn_id = c.id),
		        (SELECT COUNT(*) FROM sender_report r WHERE r.conn_id = c.id)
		 FROM conn c ORDER BY c.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("select connection summaries: %w", err)
	}
	defer rows.Close()

	var out []ConnectionSummary
	for rows.Next() {
		var cs ConnectionSummary
		if err := rows.Scan(&cs.ID, &cs.URL, &cs.Start, &cs.Lost, &cs.LostReason,
			&cs.Streams, &cs.Frames, &cs.Reports); err != nil {
			return nil, fmt.Errorf("scan connection summary: %w", err)
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// StreamSummaries returns per-stream aggregates for one connection, ordered
// by stream id.
func (s *Store) StreamSummaries(connID int64) ([]StreamSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT s.conn_id, s.stream_id, s.clock_rate, s.media, s.encoding_name,
		        COUNT(f.id), COALESCE(SUM(f.loss), 0),
		        (SELECT COUNT(*) FROM sender_report r
		         WHERE r.conn_id = s.conn_id AND r.stream_id = s.stream_id),
		        MIN(f.rtp_timestamp), MAX(f.rtp_timestamp),
		        MIN(f.received_start), MAX(f.received_end),
		        (SELECT f2.cum_duration FROM frame f2
		         WHERE f2.conn_id = s.conn_id AND f2.stream_id = s.stream_id
		           AND f2.cum_duration IS NOT NULL
		         ORDER BY f2.frame_seq DESC LIMIT 1)
		 FROM stream s
		 LEFT JOIN frame f ON f.conn_id = s.conn_id AND f.stream_id = s.stream_id
		 WHERE s.conn_id = ?
		 GROUP BY s.conn_id, s.stream_id, s.clock_rate, s.media, s.encoding_name
		 ORDER BY s.stream_id`,
		connID,
	)
	if err != nil {
		return nil, fmt.Errorf("select stream summaries for conn %d: %w", connID, err)
	}
	defer rows.Close()

	var out []StreamSummary
	for rows.Next() {
		var ss StreamSummary
		if err := rows.Scan(&ss.ConnID, &ss.StreamID, &ss.ClockRate, &ss.Media,
			&ss.EncodingName, &ss.Frames, &ss.LossTotal, &ss.Reports,
			&ss.FirstRTP, &ss.LastRTP, &ss.FirstReceived, &ss.LastReceived,
			&ss.CumDuration); err != nil {
			return nil, fmt.Errorf("scan stream summary: %w", err)
		}
		out = append(out, ss)
	}
	return out, rows.Err()
}
