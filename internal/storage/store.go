// Package storage persists capture telemetry to a SQLite database.
//
// The store is append-only: connections, streams, frames and sender reports
// are inserted once and never rewritten, except for the single loss update a
// connection receives when it terminates. Every write is durable before the
// call returns (WAL journal with synchronous=FULL, one implicit transaction
// per statement); there is no buffering layer that could lose acknowledged
// rows on a crash.
package storage

import (
	"database/sql"
	_ "embed"
	"fmt"
	"sync"

	// Pure-Go SQLite driver, registered as "sqlite".
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// Store wraps the capture database. A single mutex serializes identifier
// allocation and the append path across connection workers; reads used by
// reporting take the same lock.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if needed) the capture database at path and applies
// the schema.
func Open(path string) (*Store, error) {
	dsn := "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(FULL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	// One connection: the pragmas above are per-connection, and all writes
	// are serialized anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// ConnectionRow is one row of the conn table.
type ConnectionRow struct {
	ID         int64
	URL        string
	Start      int64 // microseconds since the Unix epoch
	Lost       sql.NullInt64
	LostReason sql.NullString
}

// StreamRow is one row of the stream table.
type StreamRow struct {
	ConnID       int64
	StreamID     int64
	ClockRate    int64
	Media        string
	EncodingName string
}

// FrameRow is one row of the frame table.
type FrameRow struct {
	ConnID        int64
	StreamID      int64
	FrameSeq      int64
	RTPTimestamp  sql.NullInt64
	ReceivedStart int64
	ReceivedEnd   int64
	Pos           int64
	Loss          int64
	Duration      sql.NullInt64
	CumDuration   sql.NullInt64
	IDR           bool
}

// SenderReportRow is one row of the sender_report table.
type SenderReportRow struct {
	ConnID       int64
	StreamID     int64
	SRSeq        int64
	RTPTimestamp sql.NullInt64
	Received     int64
	NTPTimestamp int64
}

// InsertConnection appends a conn row and returns its assigned id. Ids are
// allocated by the database under the store lock, so they are monotonic and
// never reused within a capture.
func (s *Store) InsertConnection(connURL string, start int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`INSERT INTO conn (url, start) VALUES (?, ?)`,
		connURL, start,
	)
	if err != nil {
		return 0, fmt.Errorf("insert conn: %w", err)
	}
	return res.LastInsertId()
}

// MarkConnectionLost sets the loss fields of a conn row.
func (s *Store) MarkConnectionLost(connID int64, lost int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE conn SET lost = ?, lost_reason = ? WHERE id = ?`,
		lost, reason, connID,
	)
	if err != nil {
		return fmt.Errorf("update conn %d: %w", connID, err)
	}
	return nil
}

// InsertStream appends a stream row.
func (s *Store) InsertStream(row StreamRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO stream (conn_id, stream_id, clock_rate, media, encoding_name)
		 VALUES (?, ?, ?, ?, ?)`,
		row.ConnID, row.StreamID, row.ClockRate, row.Media, row.EncodingName,
	)
	if err != nil {
		return fmt.Errorf("insert stream (%d, %d): %w", row.ConnID, row.StreamID, err)
	}
	return nil
}

// InsertFrame appends a frame row.
func (s *Store) InsertFrame(row FrameRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO frame (conn_id, stream_id, frame_seq, rtp_timestamp,
		                    received_start, received_end, pos, loss, duration,
		                    cum_duration, idr)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ConnID, row.StreamID, row.FrameSeq, row.RTPTimestamp,
		row.ReceivedStart, row.ReceivedEnd, row.Pos, row.Loss, row.Duration,
		row.CumDuration, row.IDR,
	)
	if err != nil {
		return fmt.Errorf("insert frame (%d, %d, %d): %w",
			row.ConnID, row.StreamID, row.FrameSeq, err)
	}
	return nil
}

// InsertSenderReport appends a sender_report row.
func (s *Store) InsertSenderReport(row SenderReportRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO sender_report (conn_id, stream_id, sr_seq, rtp_timestamp,
		                            received, ntp_timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		row.ConnID, row.StreamID, row.SRSeq, row.RTPTimestamp,
		row.Received, row.NTPTimestamp,
	)
	if err != nil {
		return fmt.Errorf("insert sender_report (%d, %d, %d): %w",
			row.ConnID, row.StreamID, row.SRSeq, err)
	}
	return nil
}

// Connection reads back a single conn row.
func (s *Store) Connection(connID int64) (ConnectionRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var row ConnectionRow
	err := s.db.QueryRow(
		`SELECT id, url, start, lost, lost_reason FROM conn WHERE id = ?`,
		connID,
	).Scan(&row.ID, &row.URL, &row.Start, &row.Lost, &row.LostReason)
	if err != nil {
		return ConnectionRow{}, fmt.Errorf("select conn %d: %w", connID, err)
	}
	return row, nil
}

// Frames reads back a stream's frame rows ordered by frame_seq.
func (s *Store) Frames(connID, streamID int64) ([]FrameRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT conn_id, stream_id, frame_seq, rtp_timestamp, received_start,
		        received_end, pos, loss, duration, cum_duration, idr
		 FROM frame WHERE conn_id = ? AND stream_id = ? ORDER BY frame_seq`,
		connID, streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("select frames (%d, %d): %w", connID, streamID, err)
	}
	defer rows.Close()

	var out []FrameRow
	for rows.Next() {
		var row FrameRow
		if err := rows.Scan(&row.ConnID, &row.StreamID, &row.FrameSeq,
			&row.RTPTimestamp, &row.ReceivedStart, &row.ReceivedEnd, &row.Pos,
			&row.Loss, &row.Duration, &row.CumDuration, &row.IDR); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// SenderReports reads back a stream's sender_report rows ordered by sr_seq.
func (s *Store) SenderReports(connID, streamID int64) ([]SenderReportRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT conn_id, stream_id, sr_seq, rtp_timestamp, received, ntp_timestamp
		 FROM sender_report WHERE conn_id = ? AND stream_id = ? ORDER BY sr_seq`,
		connID, streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("select sender_reports (%d, %d): %w", connID, streamID, err)
	}
	defer rows.Close()

	var out []SenderReportRow
	for rows.Next() {
		var row SenderReportRow
		if err := rows.Scan(&row.ConnID, &row.StreamID, &row.SRSeq,
			&row.RTPTimestamp, &row.Received, &row.NTPTimestamp); err != nil {
			return nil, fmt.Errorf("scan sender_report: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// FrameCount returns the number of frame rows recorded for a stream.
func (s *Store) FrameCount(connID, streamID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM frame WHERE conn_id = ? AND stream_id = ?`,
		connID, streamID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count frames (%d, %d): %w", connID, streamID, err)
	}
	return n, nil
}
