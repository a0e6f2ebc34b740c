package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/Milix-M/DeepReSearch/internal/state"
	"github.com/Milix-M/DeepReSearch/pkg/schema"
)

// LibSQLStore implements Store on libSQL (embedded SQLite fork), so threads
// and their outstanding pauses survive a process restart. Selected when a
// database path is configured.
type LibSQLStore struct {
	db *sql.DB
}

var _ Store = (*LibSQLStore)(nil)

// NewLibSQLStore opens a libSQL database at the given path. The path should
// be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Migrate applies pending schema migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Get loads the thread's checkpoint.
func (s *LibSQLStore) Get(ctx context.Context, threadID string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT thread_id, state, next_node, pending_pause, status, step_count, updated_at
		 FROM checkpoints WHERE thread_id = ?`, threadID)
	cp, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, notFound(threadID)
	}
	return cp, err
}

// Put replaces the thread's row.
func (s *LibSQLStore) Put(ctx context.Context, cp *Checkpoint) error {
	if cp == nil || cp.ThreadID == "" {
		return schema.NewError(schema.ErrCodeStore, "checkpoint requires a thread id")
	}
	stateJSON, err := json.Marshal(cp.State)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "marshal checkpoint state").WithCause(err)
	}
	pauseJSON, err := nullableJSON(cp.PendingPause)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "marshal pending pause").WithCause(err)
	}
	updatedAt := cp.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (thread_id, state, next_node, pending_pause, status, step_count, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(thread_id) DO UPDATE SET
		   state=excluded.state, next_node=excluded.next_node,
		   pending_pause=excluded.pending_pause, status=excluded.status,
		   step_count=excluded.step_count, updated_at=excluded.updated_at`,
		cp.ThreadID, string(stateJSON), cp.NextNode, pauseJSON,
		string(cp.Status), cp.StepCount, updatedAt,
	)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "put checkpoint").WithCause(err)
	}
	return nil
}

// ListActive returns every stored checkpoint.
func (s *LibSQLStore) ListActive(ctx context.Context) ([]*Checkpoint, error) {
	return s.list(ctx,
		`SELECT thread_id, state, next_node, pending_pause, status, step_count, updated_at
		 FROM checkpoints ORDER BY updated_at`)
}

// ListPendingPause returns checkpoints with an outstanding pause.
func (s *LibSQLStore) ListPendingPause(ctx context.Context) ([]*Checkpoint, error) {
	return s.list(ctx,
		`SELECT thread_id, state, next_node, pending_pause, status, step_count, updated_at
		 FROM checkpoints WHERE pending_pause IS NOT NULL ORDER BY updated_at`)
}

// Delete removes the thread's row; absent rows are a no-op.
func (s *LibSQLStore) Delete(ctx context.Context, threadID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, threadID)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "delete checkpoint").WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) list(ctx context.Context, query string) ([]*Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "list checkpoints").WithCause(err)
	}
	defer rows.Close()

	var out []*Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "iterate checkpoints").WithCause(err)
	}
	return out, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (*Checkpoint, error) {
	cp := &Checkpoint{}
	var (
		stateJSON string
		pauseJSON sql.NullString
		status    string
	)
	err := row.Scan(&cp.ThreadID, &stateJSON, &cp.NextNode, &pauseJSON, &status, &cp.StepCount, &cp.UpdatedAt)
	if err != nil {
		return nil, err
	}
	cp.Status = schema.ThreadStatus(status)

	cp.State = &state.WorkflowState{}
	if err := json.Unmarshal([]byte(stateJSON), cp.State); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "unmarshal checkpoint state").WithCause(err)
	}
	if pauseJSON.Valid && pauseJSON.String != "" {
		pause := &schema.PauseDescriptor{}
		if err := json.Unmarshal([]byte(pauseJSON.String), pause); err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "unmarshal pending pause").WithCause(err)
		}
		cp.PendingPause = pause
	}
	return cp, nil
}

// nullableJSON marshals v or returns SQL NULL when v is nil.
func nullableJSON(v *schema.PauseDescriptor) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}
