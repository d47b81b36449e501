package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	// SQLite driver
	_ "github.com/mattn/go-sqlite3"

	"github.com/Zeeeepa/attune-ai-sub002/internal/types"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id    TEXT NOT NULL UNIQUE,
	timestamp   TEXT NOT NULL,
	actor       TEXT NOT NULL,
	action      TEXT NOT NULL,
	resource_id TEXT NOT NULL,
	payload     TEXT,
	prev_hash   TEXT NOT NULL,
	hash        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_events_resource ON audit_events(resource_id);
CREATE INDEX IF NOT EXISTS idx_audit_events_actor ON audit_events(actor);
`

// SQLiteStore is the durable audit store. WAL mode and a busy timeout keep
// concurrent appends from readers and the management surface from failing
// spuriously.
type SQLiteStore struct {
	conn *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the audit database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, types.WrapError(types.STORE_OPEN_FAILED, "open audit database", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, types.WrapError(types.STORE_OPEN_FAILED, "ping audit database", err)
	}

	if _, err := conn.ExecContext(ctx, auditSchema); err != nil {
		conn.Close()
		return nil, types.WrapError(types.STORE_OPEN_FAILED, "apply audit schema", err)
	}

	return &SQLiteStore{conn: conn}, nil
}

// Append stores the event and returns its sequence number. SQLite sequence
// numbers start at 1; they are normalized to start at 0 to match the Store
// contract.
func (s *SQLiteStore) Append(ctx context.Context, event Event) (int64, error) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return 0, types.WrapError(types.AUDIT_WRITE_FAILED, "encode payload", err)
	}

	result, err := s.conn.ExecContext(ctx,
		`INSERT INTO audit_events (event_id, timestamp, actor, action, resource_id, payload, prev_hash, hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.EventID.String(),
		event.Timestamp.UTC().Format(time.RFC3339Nano),
		event.Actor,
		event.Action,
		event.ResourceID,
		string(payload),
		event.PrevHash,
		event.Hash,
	)
	if err != nil {
		return 0, types.WrapError(types.AUDIT_WRITE_FAILED, "insert audit event", err)
	}

	rowID, err := result.LastInsertId()
	if err != nil {
		return 0, types.WrapError(types.AUDIT_WRITE_FAILED, "read insert id", err)
	}
	return rowID - 1, nil
}

// Last returns the most recent event.
func (s *SQLiteStore) Last(ctx context.Context) (Event, bool, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT seq, event_id, timestamp, actor, action, resource_id, payload, prev_hash, hash
		 FROM audit_events ORDER BY seq DESC LIMIT 1`)

	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return Event{}, false, nil
	}
	if err != nil {
		return Event{}, false, types.WrapError(types.STORE_QUERY_FAILED, "read last audit event", err)
	}
	return event, true, nil
}

// Range returns events in [from, to] by normalized sequence.
func (s *SQLiteStore) Range(ctx context.Context, from, to int64) ([]Event, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT seq, event_id, timestamp, actor, action, resource_id, payload, prev_hash, hash
		 FROM audit_events WHERE seq BETWEEN ? AND ? ORDER BY seq ASC`,
		from+1, to+1)
	if err != nil {
		return nil, types.WrapError(types.STORE_QUERY_FAILED, "range audit events", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, types.WrapError(types.STORE_QUERY_FAILED, "scan audit event", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// Count returns the number of stored events.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_events`).Scan(&count)
	if err != nil {
		return 0, types.WrapError(types.STORE_QUERY_FAILED, "count audit events", err)
	}
	return count, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (Event, error) {
	var (
		event     Event
		eventID   string
		timestamp string
		payload   sql.NullString
	)

	err := row.Scan(&event.Seq, &eventID, &timestamp, &event.Actor, &event.Action,
		&event.ResourceID, &payload, &event.PrevHash, &event.Hash)
	if err != nil {
		return Event{}, err
	}

	event.Seq-- // normalize AUTOINCREMENT (1-based) to the 0-based contract
	event.EventID = types.ID(eventID)

	event.Timestamp, err = time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return Event{}, fmt.Errorf("parse timestamp: %w", err)
	}

	if payload.Valid && payload.String != "" && payload.String != "null" {
		if err := json.Unmarshal([]byte(payload.String), &event.Payload); err != nil {
			return Event{}, fmt.Errorf("decode payload: %w", err)
		}
	}

	return event, nil
}
