// Package longterm is the durable vault for promoted patterns. Rows are
// immutable: a correction inserts the next version rather than updating in
// place, and sensitive content is stored only as an authenticated ciphertext
// envelope.
package longterm

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	// SQLite driver
	_ "github.com/mattn/go-sqlite3"

	"github.com/Zeeeepa/attune-ai-sub002/internal/crypto"
	"github.com/Zeeeepa/attune-ai-sub002/internal/types"
)

const patternSchema = `
CREATE TABLE IF NOT EXISTS secure_patterns (
	pattern_id     TEXT NOT NULL,
	version        INTEGER NOT NULL,
	classification TEXT NOT NULL,
	pattern_type   TEXT NOT NULL,
	name           TEXT NOT NULL,
	description    TEXT NOT NULL,
	confidence     REAL NOT NULL,
	content        TEXT,
	ciphertext     BLOB,
	nonce          BLOB,
	salt           BLOB,
	key_id         TEXT,
	audit_ref      TEXT NOT NULL,
	promoted_by    TEXT NOT NULL,
	promoted_at    TEXT NOT NULL,
	PRIMARY KEY (pattern_id, version)
);
CREATE INDEX IF NOT EXISTS idx_secure_patterns_class ON secure_patterns(classification);
CREATE INDEX IF NOT EXISTS idx_secure_patterns_type ON secure_patterns(pattern_type);
`

// SecurePattern is one immutable vault row. Exactly one of Content and
// Encrypted is populated: plaintext for PUBLIC and INTERNAL, a ciphertext
// envelope for SENSITIVE.
type SecurePattern struct {
	PatternID      types.ID              `json:"pattern_id"`
	Version        int                   `json:"version"`
	Classification types.Classification  `json:"classification"`
	PatternType    string                `json:"pattern_type"`
	Name           string                `json:"name"`
	Description    string                `json:"description"`
	Confidence     float64               `json:"confidence"`
	Content        string                `json:"content,omitempty"`
	Encrypted      *crypto.EncryptedBlob `json:"encrypted,omitempty"`
	AuditRef       string                `json:"audit_ref"`
	PromotedBy     string                `json:"promoted_by"`
	PromotedAt     time.Time             `json:"promoted_at"`
}

// Validate checks the row's internal consistency before it is written.
func (p SecurePattern) Validate() error {
	if p.PatternID.IsZero() {
		return types.NewError(types.CLASSIFICATION_VIOLATION, "pattern id is required")
	}
	if p.Version < 1 {
		return types.NewError(types.CLASSIFICATION_VIOLATION, "pattern version must be >= 1")
	}
	if !p.Classification.IsValid() {
		return types.NewError(types.CLASSIFICATION_VIOLATION,
			fmt.Sprintf("invalid classification %d", p.Classification))
	}

	if p.Classification.RequiresEncryption() {
		if p.Content != "" {
			return types.NewError(types.SECURITY_VIOLATION,
				fmt.Sprintf("sensitive pattern %s carries plaintext content", p.PatternID))
		}
		if p.Encrypted == nil || len(p.Encrypted.Ciphertext) == 0 {
			return types.NewError(types.SECURITY_VIOLATION,
				fmt.Sprintf("sensitive pattern %s has no ciphertext envelope", p.PatternID))
		}
		return nil
	}

	if p.Encrypted != nil {
		return types.NewError(types.CLASSIFICATION_VIOLATION,
			fmt.Sprintf("pattern %s is %s but carries a ciphertext envelope", p.PatternID, p.Classification))
	}
	if p.Content == "" {
		return types.NewError(types.CLASSIFICATION_VIOLATION,
			fmt.Sprintf("pattern %s has no content", p.PatternID))
	}
	return nil
}

// ListFilter narrows List results. Zero values mean no constraint; Limit 0
// means no cap.
type ListFilter struct {
	Classification *types.Classification
	PatternType    string
	Limit          int
	Offset         int
}

// Store persists SecurePattern rows in SQLite.
type Store struct {
	conn *sql.DB
}

// Open opens (creating if needed) the pattern vault at path. WAL mode keeps
// the management surface's reads from blocking promotions.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, types.WrapError(types.STORE_OPEN_FAILED, "open pattern vault", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, types.WrapError(types.STORE_OPEN_FAILED, "ping pattern vault", err)
	}

	if _, err := conn.ExecContext(ctx, patternSchema); err != nil {
		conn.Close()
		return nil, types.WrapError(types.STORE_OPEN_FAILED, "apply vault schema", err)
	}

	return &Store{conn: conn}, nil
}

// Insert writes a new immutable row. The (pattern_id, version) primary key
// makes concurrent duplicate promotions race on the insert itself: exactly
// one succeeds, the rest get CONFLICT.
func (s *Store) Insert(ctx context.Context, pattern SecurePattern) error {
	if err := pattern.Validate(); err != nil {
		return err
	}

	var (
		content    sql.NullString
		ciphertext []byte
		nonce      []byte
		salt       []byte
		keyID      sql.NullString
	)
	if pattern.Encrypted != nil {
		ciphertext = pattern.Encrypted.Ciphertext
		nonce = pattern.Encrypted.Nonce
		salt = pattern.Encrypted.Salt
		keyID = sql.NullString{String: pattern.Encrypted.KeyID, Valid: true}
	} else {
		content = sql.NullString{String: pattern.Content, Valid: true}
	}

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO secure_patterns
		 (pattern_id, version, classification, pattern_type, name, description, confidence,
		  content, ciphertext, nonce, salt, key_id, audit_ref, promoted_by, promoted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pattern.PatternID.String(),
		pattern.Version,
		pattern.Classification.String(),
		pattern.PatternType,
		pattern.Name,
		pattern.Description,
		pattern.Confidence,
		content,
		ciphertext,
		nonce,
		salt,
		keyID,
		pattern.AuditRef,
		pattern.PromotedBy,
		pattern.PromotedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return types.NewError(types.CONFLICT,
				fmt.Sprintf("pattern %s version %d already exists", pattern.PatternID, pattern.Version))
		}
		return types.WrapError(types.STORE_QUERY_FAILED, "insert pattern", err)
	}
	return nil
}

// Get returns the latest version of a pattern.
func (s *Store) Get(ctx context.Context, id types.ID) (SecurePattern, error) {
	row := s.conn.QueryRowContext(ctx,
		selectColumns+` FROM secure_patterns WHERE pattern_id = ? ORDER BY version DESC LIMIT 1`,
		id.String())

	pattern, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return SecurePattern{}, types.NewError(types.PATTERN_NOT_FOUND,
			fmt.Sprintf("pattern %s is not in the vault", id))
	}
	if err != nil {
		return SecurePattern{}, types.WrapError(types.STORE_QUERY_FAILED, "read pattern", err)
	}
	return pattern, nil
}

// GetVersion returns one specific version of a pattern.
func (s *Store) GetVersion(ctx context.Context, id types.ID, version int) (SecurePattern, error) {
	row := s.conn.QueryRowContext(ctx,
		selectColumns+` FROM secure_patterns WHERE pattern_id = ? AND version = ?`,
		id.String(), version)

	pattern, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return SecurePattern{}, types.NewError(types.PATTERN_NOT_FOUND,
			fmt.Sprintf("pattern %s version %d is not in the vault", id, version))
	}
	if err != nil {
		return SecurePattern{}, types.WrapError(types.STORE_QUERY_FAILED, "read pattern version", err)
	}
	return pattern, nil
}

// Exists reports whether any version of the pattern has been promoted.
func (s *Store) Exists(ctx context.Context, id types.ID) (bool, error) {
	var one int
	err := s.conn.QueryRowContext(ctx,
		`SELECT 1 FROM secure_patterns WHERE pattern_id = ? LIMIT 1`, id.String()).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, types.WrapError(types.STORE_QUERY_FAILED, "check pattern existence", err)
	}
	return true, nil
}

// Supersede inserts the next version of an existing pattern. The prior row
// stays untouched; readers asking for the latest version see the correction.
func (s *Store) Supersede(ctx context.Context, pattern SecurePattern) (SecurePattern, error) {
	current, err := s.Get(ctx, pattern.PatternID)
	if err != nil {
		return SecurePattern{}, err
	}

	pattern.Version = current.Version + 1
	if err := s.Insert(ctx, pattern); err != nil {
		return SecurePattern{}, err
	}
	return pattern, nil
}

// List returns the latest version of each pattern matching the filter,
// ordered by promotion time descending.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]SecurePattern, error) {
	query := selectColumns + `
		 FROM secure_patterns p
		 WHERE p.version = (SELECT MAX(version) FROM secure_patterns WHERE pattern_id = p.pattern_id)`
	var args []any

	if filter.Classification != nil {
		query += ` AND p.classification = ?`
		args = append(args, filter.Classification.String())
	}
	if filter.PatternType != "" {
		query += ` AND p.pattern_type = ?`
		args = append(args, filter.PatternType)
	}
	query += ` ORDER BY p.promoted_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.WrapError(types.STORE_QUERY_FAILED, "list patterns", err)
	}
	defer rows.Close()

	var patterns []SecurePattern
	for rows.Next() {
		pattern, err := scanPattern(rows)
		if err != nil {
			return nil, types.WrapError(types.STORE_QUERY_FAILED, "scan pattern", err)
		}
		patterns = append(patterns, pattern)
	}
	return patterns, rows.Err()
}

// Delete removes every version of a pattern. Steward-only at the gate; the
// rows themselves do not resist removal.
func (s *Store) Delete(ctx context.Context, id types.ID) error {
	result, err := s.conn.ExecContext(ctx,
		`DELETE FROM secure_patterns WHERE pattern_id = ?`, id.String())
	if err != nil {
		return types.WrapError(types.STORE_QUERY_FAILED, "delete pattern", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return types.WrapError(types.STORE_QUERY_FAILED, "read delete count", err)
	}
	if affected == 0 {
		return types.NewError(types.PATTERN_NOT_FOUND,
			fmt.Sprintf("pattern %s is not in the vault", id))
	}
	return nil
}

// CountByClass returns pattern counts per classification, counting only the
// latest version of each pattern.
func (s *Store) CountByClass(ctx context.Context) (map[types.Classification]int64, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT classification, COUNT(*) FROM secure_patterns p
		 WHERE p.version = (SELECT MAX(version) FROM secure_patterns WHERE pattern_id = p.pattern_id)
		 GROUP BY classification`)
	if err != nil {
		return nil, types.WrapError(types.STORE_QUERY_FAILED, "count patterns", err)
	}
	defer rows.Close()

	counts := make(map[types.Classification]int64)
	for rows.Next() {
		var (
			name  string
			count int64
		)
		if err := rows.Scan(&name, &count); err != nil {
			return nil, types.WrapError(types.STORE_QUERY_FAILED, "scan pattern count", err)
		}
		class, err := types.ParseClassification(name)
		if err != nil {
			return nil, types.WrapError(types.STORE_QUERY_FAILED, "parse stored classification", err)
		}
		counts[class] = count
	}
	return counts, rows.Err()
}

// StorageBytes returns the approximate bytes of stored pattern content,
// plaintext and ciphertext combined.
func (s *Store) StorageBytes(ctx context.Context) (int64, error) {
	var total sql.NullInt64
	err := s.conn.QueryRowContext(ctx,
		`SELECT SUM(COALESCE(LENGTH(content), 0) + COALESCE(LENGTH(ciphertext), 0)) FROM secure_patterns`).
		Scan(&total)
	if err != nil {
		return 0, types.WrapError(types.STORE_QUERY_FAILED, "sum storage bytes", err)
	}
	return total.Int64, nil
}

// UnencryptedSensitive returns the IDs of SENSITIVE rows that carry
// plaintext content. A non-empty result is a hard health failure.
func (s *Store) UnencryptedSensitive(ctx context.Context) ([]types.ID, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT DISTINCT pattern_id FROM secure_patterns
		 WHERE classification = ? AND content IS NOT NULL AND content != ''`,
		types.ClassSensitive.String())
	if err != nil {
		return nil, types.WrapError(types.STORE_QUERY_FAILED, "scan for unencrypted sensitive rows", err)
	}
	defer rows.Close()

	var ids []types.ID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.WrapError(types.STORE_QUERY_FAILED, "scan pattern id", err)
		}
		ids = append(ids, types.ID(id))
	}
	return ids, rows.Err()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.conn.Close()
}

const selectColumns = `SELECT pattern_id, version, classification, pattern_type, name, description,
	confidence, content, ciphertext, nonce, salt, key_id, audit_ref, promoted_by, promoted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPattern(row rowScanner) (SecurePattern, error) {
	var (
		pattern    SecurePattern
		id         string
		class      string
		content    sql.NullString
		ciphertext []byte
		nonce      []byte
		salt       []byte
		keyID      sql.NullString
		promotedAt string
	)

	err := row.Scan(&id, &pattern.Version, &class, &pattern.PatternType, &pattern.Name,
		&pattern.Description, &pattern.Confidence, &content, &ciphertext, &nonce, &salt,
		&keyID, &pattern.AuditRef, &pattern.PromotedBy, &promotedAt)
	if err != nil {
		return SecurePattern{}, err
	}

	pattern.PatternID = types.ID(id)
	pattern.Classification, err = types.ParseClassification(class)
	if err != nil {
		return SecurePattern{}, fmt.Errorf("parse classification: %w", err)
	}
	pattern.PromotedAt, err = time.Parse(time.RFC3339Nano, promotedAt)
	if err != nil {
		return SecurePattern{}, fmt.Errorf("parse promoted_at: %w", err)
	}

	if content.Valid {
		pattern.Content = content.String
	}
	if len(ciphertext) > 0 {
		pattern.Encrypted = &crypto.EncryptedBlob{
			KeyID:      keyID.String,
			Nonce:      nonce,
			Salt:       salt,
			Ciphertext: ciphertext,
		}
	}
	return pattern, nil
}
