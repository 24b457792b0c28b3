// Package store is the durable task queue: a SQLite database holding task
// rows and approval records. All state transitions flow through conditional
// updates so concurrent workers can never both own a task.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	cwerrors "github.com/coworkerhq/coworker/internal/errors"
	"github.com/coworkerhq/coworker/internal/plan"
)

// TaskState enumerates the task lifecycle.
type TaskState string

const (
	StateQueued          TaskState = "queued"
	StateRunning         TaskState = "running"
	StateWaitingApproval TaskState = "waiting_approval"
	StateCompleted       TaskState = "completed"
	StateFailed          TaskState = "failed"
	StateCanceled        TaskState = "canceled"
)

// Terminal reports whether the state admits no further transitions.
func (s TaskState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCanceled
}

// TaskRecord is one row of the tasks table. Nullable columns map to
// pointers; Metadata is decoded from metadata_json on read.
type TaskRecord struct {
	ID             string    `db:"id"`
	State          TaskState `db:"state"`
	CreatedAt      string    `db:"created_at"`
	UpdatedAt      string    `db:"updated_at"`
	PlanHash       string    `db:"plan_hash"`
	PlanPath       string    `db:"plan_path"`
	BundlePath     string    `db:"bundle_path"`
	CurrentStep    int       `db:"current_step"`
	CheckpointID   *string   `db:"checkpoint_id"`
	NextCheckpoint *string   `db:"next_checkpoint"`
	LockedBy       *string   `db:"locked_by"`
	LockedAt       *string   `db:"locked_at"`
	Error          *string   `db:"error"`
	MetadataJSON   *string   `db:"metadata_json"`

	Metadata map[string]any `db:"-"`
}

// ApprovalRecord is one row of the approvals table.
type ApprovalRecord struct {
	ID           string  `db:"id"`
	PlanHash     string  `db:"plan_hash"`
	CheckpointID *string `db:"checkpoint_id"`
	ApprovedAt   string  `db:"approved_at"`
	ApprovedBy   string  `db:"approved_by"`
}

// NullableUpdate is a tri-state column update: leave the column unchanged,
// set it to NULL, or set it to a value. The zero value means unchanged.
type NullableUpdate struct {
	set   bool
	value *string
}

// Unchanged leaves the column as is.
func Unchanged() NullableUpdate { return NullableUpdate{} }

// SetNull sets the column to NULL.
func SetNull() NullableUpdate { return NullableUpdate{set: true} }

// SetValue sets the column to v.
func SetValue(v string) NullableUpdate { return NullableUpdate{set: true, value: &v} }

// TaskUpdate is a partial update of a task row. Nil pointer fields are left
// untouched; ClearLock wins over LockedBy/LockedAt.
type TaskUpdate struct {
	State          TaskState
	Error          *string
	CheckpointID   *string
	NextCheckpoint NullableUpdate
	CurrentStep    *int
	LockedBy       *string
	LockedAt       *string
	ClearLock      bool
}

var migrations = map[int]string{
	1: `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    state TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    plan_hash TEXT NOT NULL,
    plan_path TEXT NOT NULL,
    bundle_path TEXT NOT NULL,
    current_step INTEGER NOT NULL DEFAULT 0,
    checkpoint_id TEXT,
    next_checkpoint TEXT,
    locked_by TEXT,
    locked_at TEXT,
    error TEXT,
    metadata_json TEXT
);
CREATE INDEX IF NOT EXISTS tasks_state_idx ON tasks(state);
CREATE INDEX IF NOT EXISTS tasks_plan_hash_idx ON tasks(plan_hash);
CREATE TABLE IF NOT EXISTS approvals (
    id TEXT PRIMARY KEY,
    plan_hash TEXT NOT NULL,
    checkpoint_id TEXT,
    approved_at TEXT NOT NULL,
    approved_by TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS approvals_lookup_idx ON approvals(plan_hash, checkpoint_id);
`,
}

// Store wraps the SQLite connection. Open creates the database and applies
// pending migrations; Close releases the connection.
type Store struct {
	db   *sqlx.DB
	path string
}

// Open opens (creating if needed) the task store at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate", path)
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	s := &Store{db: db, path: path}
	if err := s.applyMigrations(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

func (s *Store) applyMigrations() error {
	if _, err := s.db.Exec(
		"CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)",
	); err != nil {
		return err
	}
	current, err := s.SchemaVersion()
	if err != nil {
		return err
	}
	versions := make([]int, 0, len(migrations))
	for v := range migrations {
		versions = append(versions, v)
	}
	sort.Ints(versions)
	for _, version := range versions {
		if version <= current {
			continue
		}
		tx, err := s.db.Beginx()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[version]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", version, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			version, plan.UTCNow(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration version.
func (s *Store) SchemaVersion() (int, error) {
	var version sql.NullInt64
	if err := s.db.Get(&version, "SELECT MAX(version) FROM schema_migrations"); err != nil {
		return 0, err
	}
	return int(version.Int64), nil
}

// NewTaskID generates a task identifier.
func NewTaskID() string {
	return "tsk_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func newApprovalID() string {
	return "apr_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CreateTaskParams name the inputs of CreateTask.
type CreateTaskParams struct {
	PlanHash   string
	PlanPath   string
	BundlePath string
	Metadata   map[string]any
	State      TaskState // defaults to queued
	TaskID     string    // defaults to a fresh id
}

// CreateTask inserts a new task row and returns the stored record.
func (s *Store) CreateTask(p CreateTaskParams) (TaskRecord, error) {
	if p.TaskID == "" {
		p.TaskID = NewTaskID()
	}
	if p.State == "" {
		p.State = StateQueued
	}
	now := plan.UTCNow()
	var metadataJSON *string
	if len(p.Metadata) > 0 {
		raw, err := json.Marshal(p.Metadata)
		if err != nil {
			return TaskRecord{}, fmt.Errorf("encode metadata: %w", err)
		}
		enc := string(raw)
		metadataJSON = &enc
	}
	_, err := s.db.Exec(`
		INSERT INTO tasks (
			id, state, created_at, updated_at, plan_hash, plan_path, bundle_path,
			current_step, checkpoint_id, next_checkpoint, locked_by, locked_at, error,
			metadata_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, 0, NULL, NULL, NULL, NULL, NULL, ?)`,
		p.TaskID, p.State, now, now, p.PlanHash, p.PlanPath, p.BundlePath, metadataJSON,
	)
	if err != nil {
		return TaskRecord{}, fmt.Errorf("create task: %w", err)
	}
	return s.GetTask(p.TaskID)
}

// GetTask fetches one task by id.
func (s *Store) GetTask(taskID string) (TaskRecord, error) {
	var rec TaskRecord
	err := s.db.Get(&rec, "SELECT * FROM tasks WHERE id = ?", taskID)
	if err == sql.ErrNoRows {
		return TaskRecord{}, fmt.Errorf("%w: %s", cwerrors.ErrTaskNotFound, taskID)
	}
	if err != nil {
		return TaskRecord{}, err
	}
	rec.Metadata = parseMetadata(rec.MetadataJSON)
	return rec, nil
}

// ListTasks returns tasks ordered newest first, optionally filtered by state.
func (s *Store) ListTasks(state TaskState, limit, offset int) ([]TaskRecord, error) {
	var (
		rows []TaskRecord
		err  error
	)
	if state != "" {
		err = s.db.Select(&rows,
			"SELECT * FROM tasks WHERE state = ? ORDER BY created_at DESC LIMIT ? OFFSET ?",
			state, limit, offset)
	} else {
		err = s.db.Select(&rows,
			"SELECT * FROM tasks ORDER BY created_at DESC LIMIT ? OFFSET ?",
			limit, offset)
	}
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Metadata = parseMetadata(rows[i].MetadataJSON)
	}
	return rows, nil
}

// CountTasksByState returns per-state task counts, optionally restricted to
// one state.
func (s *Store) CountTasksByState(state TaskState) (map[TaskState]int, error) {
	type row struct {
		State TaskState `db:"state"`
		Count int       `db:"count"`
	}
	var (
		rows []row
		err  error
	)
	if state != "" {
		err = s.db.Select(&rows,
			"SELECT state, COUNT(*) AS count FROM tasks WHERE state = ? GROUP BY state ORDER BY state", state)
	} else {
		err = s.db.Select(&rows,
			"SELECT state, COUNT(*) AS count FROM tasks GROUP BY state ORDER BY state")
	}
	if err != nil {
		return nil, err
	}
	counts := make(map[TaskState]int, len(rows))
	for _, r := range rows {
		counts[r.State] = r.Count
	}
	return counts, nil
}

// ClaimTask conditionally moves a task from expectedState to running for
// workerID. Returns false when another worker got there first.
func (s *Store) ClaimTask(taskID string, expectedState TaskState, workerID string) (bool, error) {
	now := plan.UTCNow()
	res, err := s.db.Exec(`
		UPDATE tasks
		SET state = ?, locked_by = ?, locked_at = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		StateRunning, workerID, now, now, taskID, expectedState,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ClaimNextTask atomically claims the oldest queued task for workerID,
// returning nil when the queue is empty. The transaction opens with BEGIN
// IMMEDIATE so two workers serialize on the write lock.
func (s *Store) ClaimNextTask(workerID string) (*TaskRecord, error) {
	tx, err := s.db.Beginx()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var rec TaskRecord
	err = tx.Get(&rec,
		"SELECT * FROM tasks WHERE state = ? ORDER BY updated_at ASC, created_at ASC LIMIT 1",
		StateQueued)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	now := plan.UTCNow()
	res, err := tx.Exec(`
		UPDATE tasks
		SET state = ?, locked_by = ?, locked_at = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		StateRunning, workerID, now, now, rec.ID, StateQueued,
	)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	claimed, err := s.GetTask(rec.ID)
	if err != nil {
		return nil, err
	}
	return &claimed, nil
}

// UpdateTaskState applies a partial update and returns the refreshed record.
func (s *Store) UpdateTaskState(taskID string, upd TaskUpdate) (TaskRecord, error) {
	fields := []string{"state = ?", "updated_at = ?"}
	values := []any{upd.State, plan.UTCNow()}
	if upd.Error != nil {
		fields = append(fields, "error = ?")
		values = append(values, *upd.Error)
	}
	if upd.CheckpointID != nil {
		fields = append(fields, "checkpoint_id = ?")
		values = append(values, *upd.CheckpointID)
	}
	if upd.NextCheckpoint.set {
		fields = append(fields, "next_checkpoint = ?")
		values = append(values, upd.NextCheckpoint.value)
	}
	if upd.CurrentStep != nil {
		fields = append(fields, "current_step = ?")
		values = append(values, *upd.CurrentStep)
	}
	if upd.ClearLock {
		fields = append(fields, "locked_by = NULL", "locked_at = NULL")
	} else {
		if upd.LockedBy != nil {
			fields = append(fields, "locked_by = ?")
			values = append(values, *upd.LockedBy)
		}
		if upd.LockedAt != nil {
			fields = append(fields, "locked_at = ?")
			values = append(values, *upd.LockedAt)
		}
	}
	values = append(values, taskID)
	query := fmt.Sprintf("UPDATE tasks SET %s WHERE id = ?", strings.Join(fields, ", "))
	if _, err := s.db.Exec(query, values...); err != nil {
		return TaskRecord{}, err
	}
	return s.GetTask(taskID)
}

// RecordApproval appends an approval row. An empty checkpointID records a
// plan-level approval (NULL checkpoint).
func (s *Store) RecordApproval(planHash, approvedBy, checkpointID string) (ApprovalRecord, error) {
	id := newApprovalID()
	now := plan.UTCNow()
	var cp *string
	if checkpointID != "" {
		cp = &checkpointID
	}
	if _, err := s.db.Exec(`
		INSERT INTO approvals (id, plan_hash, checkpoint_id, approved_at, approved_by)
		VALUES (?, ?, ?, ?, ?)`,
		id, planHash, cp, now, approvedBy,
	); err != nil {
		return ApprovalRecord{}, err
	}
	var rec ApprovalRecord
	if err := s.db.Get(&rec, "SELECT * FROM approvals WHERE id = ?", id); err != nil {
		return ApprovalRecord{}, err
	}
	return rec, nil
}

// LatestApproval returns the most recent approval for the hash at exactly
// the given checkpoint scope; empty checkpointID queries plan-level (NULL)
// approvals only. Returns nil when none exists.
func (s *Store) LatestApproval(planHash, checkpointID string) (*ApprovalRecord, error) {
	var rec ApprovalRecord
	var err error
	if checkpointID == "" {
		err = s.db.Get(&rec, `
			SELECT * FROM approvals
			WHERE plan_hash = ? AND checkpoint_id IS NULL
			ORDER BY approved_at DESC LIMIT 1`, planHash)
	} else {
		err = s.db.Get(&rec, `
			SELECT * FROM approvals
			WHERE plan_hash = ? AND checkpoint_id = ?
			ORDER BY approved_at DESC LIMIT 1`, planHash, checkpointID)
	}
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// LatestApprovalAny returns the most recent approval for the hash at any
// scope, or nil.
func (s *Store) LatestApprovalAny(planHash string) (*ApprovalRecord, error) {
	var rec ApprovalRecord
	err := s.db.Get(&rec, `
		SELECT * FROM approvals
		WHERE plan_hash = ?
		ORDER BY approved_at DESC LIMIT 1`, planHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func parseMetadata(raw *string) map[string]any {
	if raw == nil || *raw == "" {
		return map[string]any{}
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(*raw), &parsed); err != nil || parsed == nil {
		return map[string]any{}
	}
	return parsed
}
