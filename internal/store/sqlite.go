package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/synclib/diffsync/internal/document"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
const currentSchemaVersion = 0

// SQLite is the durable DataStore backed by SQLite with WAL mode.
// Edits are stored as JSON payloads in an autoincrement-ordered queue
// table, so FIFO order survives restarts.
type SQLite[T any, D document.Edit[D]] struct {
	db    *sql.DB
	codec ContentCodec[T]
}

// OpenSQLite creates or opens a SQLite database at the given path and
// applies pragmas and schema. Pass ":memory:" for an ephemeral store.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//
// This function is idempotent - safe to call multiple times.
func OpenSQLite[T any, D document.Edit[D]](path string, codec ContentCodec[T]) (*SQLite[T, D], error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLite[T, D]{db: db, codec: codec}, nil
}

// Close closes the database connection.
func (s *SQLite[T, D]) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// SaveClientDocument stores or replaces the working document.
func (s *SQLite[T, D]) SaveClientDocument(ctx context.Context, doc document.Document[T]) error {
	content, err := s.codec.MarshalContent(doc.Content)
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (document_id, client_id, content)
		VALUES (?, ?, ?)
		ON CONFLICT(document_id, client_id) DO UPDATE SET content = excluded.content
	`, doc.ID, doc.ClientID, string(content))
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}

	return nil
}

// GetClientDocument returns the working document for the key.
func (s *SQLite[T, D]) GetClientDocument(ctx context.Context, key document.Key) (document.Document[T], bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT content FROM documents
		WHERE document_id = ? AND client_id = ?
	`, key.DocumentID, key.ClientID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return document.Document[T]{}, false, nil
	}
	if err != nil {
		return document.Document[T]{}, false, fmt.Errorf("get document: %w", err)
	}

	content, err := s.codec.UnmarshalContent([]byte(raw))
	if err != nil {
		return document.Document[T]{}, false, fmt.Errorf("get document: %w", err)
	}

	return document.Document[T]{ID: key.DocumentID, ClientID: key.ClientID, Content: content}, true, nil
}

// SaveShadow stores or replaces the shadow.
func (s *SQLite[T, D]) SaveShadow(ctx context.Context, shadow document.ShadowDocument[T]) error {
	content, err := s.codec.MarshalContent(shadow.Document.Content)
	if err != nil {
		return fmt.Errorf("save shadow: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO shadows (document_id, client_id, client_version, server_version, content)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(document_id, client_id) DO UPDATE SET
			client_version = excluded.client_version,
			server_version = excluded.server_version,
			content = excluded.content
	`, shadow.Document.ID, shadow.Document.ClientID, shadow.ClientVersion, shadow.ServerVersion, string(content))
	if err != nil {
		return fmt.Errorf("save shadow: %w", err)
	}

	return nil
}

// GetShadow returns the shadow for the key.
func (s *SQLite[T, D]) GetShadow(ctx context.Context, key document.Key) (document.ShadowDocument[T], bool, error) {
	var (
		clientVersion int64
		serverVersion int64
		raw           string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT client_version, server_version, content FROM shadows
		WHERE document_id = ? AND client_id = ?
	`, key.DocumentID, key.ClientID).Scan(&clientVersion, &serverVersion, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return document.ShadowDocument[T]{}, false, nil
	}
	if err != nil {
		return document.ShadowDocument[T]{}, false, fmt.Errorf("get shadow: %w", err)
	}

	content, err := s.codec.UnmarshalContent([]byte(raw))
	if err != nil {
		return document.ShadowDocument[T]{}, false, fmt.Errorf("get shadow: %w", err)
	}

	return document.ShadowDocument[T]{
		ClientVersion: clientVersion,
		ServerVersion: serverVersion,
		Document:      document.Document[T]{ID: key.DocumentID, ClientID: key.ClientID, Content: content},
	}, true, nil
}

// SaveBackup stores or replaces the backup shadow.
func (s *SQLite[T, D]) SaveBackup(ctx context.Context, backup document.BackupShadow[T]) error {
	content, err := s.codec.MarshalContent(backup.Shadow.Document.Content)
	if err != nil {
		return fmt.Errorf("save backup: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO backups (document_id, client_id, version, client_version, server_version, content)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id, client_id) DO UPDATE SET
			version = excluded.version,
			client_version = excluded.client_version,
			server_version = excluded.server_version,
			content = excluded.content
	`, backup.Shadow.Document.ID, backup.Shadow.Document.ClientID, backup.Version,
		backup.Shadow.ClientVersion, backup.Shadow.ServerVersion, string(content))
	if err != nil {
		return fmt.Errorf("save backup: %w", err)
	}

	return nil
}

// GetBackup returns the backup shadow for the key.
func (s *SQLite[T, D]) GetBackup(ctx context.Context, key document.Key) (document.BackupShadow[T], bool, error) {
	var (
		version       int64
		clientVersion int64
		serverVersion int64
		raw           string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT version, client_version, server_version, content FROM backups
		WHERE document_id = ? AND client_id = ?
	`, key.DocumentID, key.ClientID).Scan(&version, &clientVersion, &serverVersion, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return document.BackupShadow[T]{}, false, nil
	}
	if err != nil {
		return document.BackupShadow[T]{}, false, fmt.Errorf("get backup: %w", err)
	}

	content, err := s.codec.UnmarshalContent([]byte(raw))
	if err != nil {
		return document.BackupShadow[T]{}, false, fmt.Errorf("get backup: %w", err)
	}

	return document.BackupShadow[T]{
		Version: version,
		Shadow: document.ShadowDocument[T]{
			ClientVersion: clientVersion,
			ServerVersion: serverVersion,
			Document:      document.Document[T]{ID: key.DocumentID, ClientID: key.ClientID, Content: content},
		},
	}, true, nil
}

// SaveEdit appends the edit to the key's pending queue.
func (s *SQLite[T, D]) SaveEdit(ctx context.Context, edit D) error {
	payload, err := json.Marshal(edit)
	if err != nil {
		return fmt.Errorf("save edit: %w", err)
	}

	key := edit.Key()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO edits (document_id, client_id, payload)
		VALUES (?, ?, ?)
	`, key.DocumentID, key.ClientID, string(payload))
	if err != nil {
		return fmt.Errorf("save edit: %w", err)
	}

	return nil
}

// GetEdits returns the key's pending edits in FIFO order.
func (s *SQLite[T, D]) GetEdits(ctx context.Context, key document.Key) ([]D, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM edits
		WHERE document_id = ? AND client_id = ?
		ORDER BY seq ASC
	`, key.DocumentID, key.ClientID)
	if err != nil {
		return nil, fmt.Errorf("get edits: %w", err)
	}
	defer rows.Close()

	var edits []D
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("get edits: %w", err)
		}
		var edit D
		if err := json.Unmarshal([]byte(payload), &edit); err != nil {
			return nil, fmt.Errorf("get edits: decode payload: %w", err)
		}
		edits = append(edits, edit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get edits: %w", err)
	}

	return edits, nil
}

// RemoveEdit removes the first queued edit equal to edit.
func (s *SQLite[T, D]) RemoveEdit(ctx context.Context, edit D) error {
	key := edit.Key()
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, payload FROM edits
		WHERE document_id = ? AND client_id = ?
		ORDER BY seq ASC
	`, key.DocumentID, key.ClientID)
	if err != nil {
		return fmt.Errorf("remove edit: %w", err)
	}
	defer rows.Close()

	var matchSeq int64 = -1
	for rows.Next() {
		var (
			seq     int64
			payload string
		)
		if err := rows.Scan(&seq, &payload); err != nil {
			return fmt.Errorf("remove edit: %w", err)
		}
		var queued D
		if err := json.Unmarshal([]byte(payload), &queued); err != nil {
			return fmt.Errorf("remove edit: decode payload: %w", err)
		}
		if queued.Equal(edit) {
			matchSeq = seq
			break
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("remove edit: %w", err)
	}
	// Release the connection before the delete; the pool is capped at
	// one connection.
	rows.Close()
	if matchSeq < 0 {
		return nil
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM edits WHERE seq = ?`, matchSeq); err != nil {
		return fmt.Errorf("remove edit: %w", err)
	}
	return nil
}

// RemoveEdits empties the key's pending queue.
func (s *SQLite[T, D]) RemoveEdits(ctx context.Context, key document.Key) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM edits WHERE document_id = ? AND client_id = ?
	`, key.DocumentID, key.ClientID)
	if err != nil {
		return fmt.Errorf("remove edits: %w", err)
	}
	return nil
}
