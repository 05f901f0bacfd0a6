package audit

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteSink persists audit records to a SQLite database.
type SQLiteSink struct {
	db *sql.DB
}

var _ Sink = (*SQLiteSink)(nil)

// NewSQLiteSink opens (or creates) the database at dbPath and initializes the
// schema.
func NewSQLiteSink(dbPath string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	sink := &SQLiteSink{db: db}
	if err := sink.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return sink, nil
}

func (s *SQLiteSink) initSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS verifications (
		id TEXT PRIMARY KEY,
		received_at TIMESTAMP NOT NULL,
		request_type TEXT,
		request_id TEXT,
		application_id TEXT,
		outcome TEXT NOT NULL,
		duration_ns INTEGER
	)`)
	return err
}

// Record inserts rec.
func (s *SQLiteSink) Record(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO verifications (id, received_at, request_type, request_id, application_id, outcome, duration_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ReceivedAt, rec.RequestType, rec.RequestID, rec.ApplicationID, rec.Outcome, rec.Duration.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
