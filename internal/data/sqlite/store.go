// Package sqlite implements the entity store on an embedded SQLite database.
//
// It serves single-node deployments (ENTITY_STORE=sqlite). The finalize job queue
// still lives in Postgres.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/target/reclaim/internal/core"
	"github.com/target/reclaim/internal/domain/lifecycle"
	apperrors "github.com/target/reclaim/internal/errors"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// ErrEntityExists is returned by Create when (type, id) is taken.
var ErrEntityExists = errors.New("entity already exists")

// Timestamps are stored as fixed-width UTC text so string order is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const defaultListLimit = 100

const columns = `entity_type, id, state, state_at, delete_at, parent_type, parent_id, association,
  attributes, created_at, updated_at`

// Store implements core.EntityStore on SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Options configures Open.
type Options struct {
	// Now overrides the clock used for updated_at.
	Now func() time.Time
}

// Open creates the database file if needed and applies the schema.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer avoids SQLITE_BUSY under concurrent finalize workers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{db: db, now: now}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database handle for health probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Create(ctx context.Context, e *lifecycle.Entity) error {
	if e == nil || e.Type == "" || e.ID == "" {
		return errors.New("entity type and id are required")
	}
	if !e.State.Valid() {
		return fmt.Errorf("invalid state %q", e.State)
	}
	attrs := "{}"
	if len(e.Attributes) > 0 {
		raw, err := json.Marshal(e.Attributes)
		if err != nil {
			return fmt.Errorf("encode attributes: %w", err)
		}
		attrs = string(raw)
	}
	now := s.now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `INSERT INTO entities (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Type, e.ID, string(e.State), formatTimePtr(e.StateAt), formatTimePtr(e.DeleteAt),
		e.ParentType, e.ParentID, e.Association, attrs,
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
	)
	if err == nil {
		return nil
	}
	mapped := apperrors.MapDBError(err)
	switch {
	case apperrors.IsConflict(mapped):
		return fmt.Errorf("%w: %s: %w", ErrEntityExists, e.Key(), mapped)
	case apperrors.IsForeignKey(mapped):
		return fmt.Errorf("create entity %s: parent does not exist: %w", e.Key(), mapped)
	default:
		return fmt.Errorf("create entity %s: %w", e.Key(), mapped)
	}
}

func (s *Store) Get(ctx context.Context, ref lifecycle.Ref) (*lifecycle.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM entities WHERE entity_type = ? AND id = ?`, ref.Type, ref.ID)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", lifecycle.ErrEntityNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("get entity %s: %w", ref, apperrors.MapDBError(err))
	}
	return e, nil
}

func (s *Store) Exists(ctx context.Context, ref lifecycle.Ref) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM entities WHERE entity_type = ? AND id = ?`, ref.Type, ref.ID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check entity %s: %w", ref, apperrors.MapDBError(err))
	}
	return n > 0, nil
}

func (s *Store) MarkDeleted(ctx context.Context, ref lifecycle.Ref, at time.Time) (bool, error) {
	ts := formatTime(at)
	res, err := s.db.ExecContext(ctx, `
		UPDATE entities SET state = 'deleted', state_at = ?, delete_at = NULL, updated_at = ?
		WHERE entity_type = ? AND id = ? AND state = 'active'`, ts, ts, ref.Type, ref.ID)
	if err != nil {
		return false, fmt.Errorf("mark entity %s deleted: %w", ref, apperrors.MapDBError(err))
	}
	if changed, err := affected(res); err != nil || changed {
		return changed, err
	}
	return false, s.requireExists(ctx, ref)
}

func (s *Store) UpdateAttributes(ctx context.Context, ref lifecycle.Ref, attrs map[string]any) error {
	raw := []byte("{}")
	if len(attrs) > 0 {
		var err error
		if raw, err = json.Marshal(attrs); err != nil {
			return fmt.Errorf("encode attributes: %w", err)
		}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE entities SET attributes = ?, updated_at = ? WHERE entity_type = ? AND id = ?`,
		string(raw), formatTime(s.now()), ref.Type, ref.ID)
	if err != nil {
		return fmt.Errorf("update entity %s attributes: %w", ref, apperrors.MapDBError(err))
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", lifecycle.ErrEntityNotFound, ref)
	}
	return nil
}

func (s *Store) ScheduleDeletion(ctx context.Context, ref lifecycle.Ref, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE entities SET delete_at = ?, updated_at = ?
		WHERE entity_type = ? AND id = ? AND state = 'active'`,
		formatTime(at), formatTime(s.now()), ref.Type, ref.ID)
	if err != nil {
		return fmt.Errorf("schedule deletion of %s: %w", ref, apperrors.MapDBError(err))
	}
	if ok, err := affected(res); err != nil || ok {
		return err
	}
	return s.requireExists(ctx, ref)
}

// Delete removes the record. Rows still referenced by children yield a retryable error.
func (s *Store) Delete(ctx context.Context, ref lifecycle.Ref) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE entity_type = ? AND id = ?`, ref.Type, ref.ID)
	if err != nil {
		mapped := apperrors.MapDBError(err)
		if apperrors.IsForeignKey(mapped) {
			return false, &lifecycle.RetryableError{
				Message: fmt.Sprintf("entity %s is still referenced by dependents", ref),
				Cause:   mapped,
			}
		}
		return false, fmt.Errorf("delete entity %s: %w", ref, mapped)
	}
	return affected(res)
}

func (s *Store) ListDueForErase(ctx context.Context, now time.Time, limit int) ([]lifecycle.Ref, error) {
	return s.listRefs(ctx, `
		SELECT entity_type, id FROM entities
		WHERE state = 'active' AND delete_at IS NOT NULL AND delete_at <= ?
		ORDER BY delete_at LIMIT ?`, now, limit)
}

func (s *Store) ListPendingFinalization(ctx context.Context, olderThan time.Time, limit int) ([]lifecycle.Ref, error) {
	return s.listRefs(ctx, `
		SELECT entity_type, id FROM entities
		WHERE state = 'deleted' AND state_at <= ?
		ORDER BY state_at LIMIT ?`, olderThan, limit)
}

func (s *Store) Association(parentType, association string) lifecycle.DependentRepository {
	return &dependents{db: s.db, parentType: parentType, name: association}
}

func (s *Store) listRefs(ctx context.Context, query string, at time.Time, limit int) ([]lifecycle.Ref, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, query, formatTime(at), limit)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", apperrors.MapDBError(err))
	}
	defer func() { _ = rows.Close() }()

	var refs []lifecycle.Ref
	for rows.Next() {
		var ref lifecycle.Ref
		if err := rows.Scan(&ref.Type, &ref.ID); err != nil {
			return nil, fmt.Errorf("scan entity ref: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (s *Store) requireExists(ctx context.Context, ref lifecycle.Ref) error {
	ok, err := s.Exists(ctx, ref)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", lifecycle.ErrEntityNotFound, ref)
	}
	return nil
}

type dependents struct {
	db         *sql.DB
	parentType string
	name       string
}

func (d *dependents) Count(ctx context.Context, parentID string) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `
		SELECT count(*) FROM entities WHERE parent_type = ? AND parent_id = ? AND association = ?`,
		d.parentType, parentID, d.name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s of %s/%s: %w", d.name, d.parentType, parentID, apperrors.MapDBError(err))
	}
	return n, nil
}

func (d *dependents) ListNotDeleted(ctx context.Context, parentID string) ([]*lifecycle.Entity, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+columns+` FROM entities
		WHERE parent_type = ? AND parent_id = ? AND association = ? AND state = 'active'
		ORDER BY created_at, id`, d.parentType, parentID, d.name)
	if err != nil {
		return nil, fmt.Errorf("list %s of %s/%s: %w", d.name, d.parentType, parentID, apperrors.MapDBError(err))
	}
	defer func() { _ = rows.Close() }()

	var out []*lifecycle.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(s scanner) (*lifecycle.Entity, error) {
	var (
		e                    lifecycle.Entity
		state, attrs         string
		created, updated     string
		stateAt, deleteAt    sql.NullString
		parentType, parentID sql.NullString
		association          sql.NullString
	)
	if err := s.Scan(&e.Type, &e.ID, &state, &stateAt, &deleteAt, &parentType, &parentID,
		&association, &attrs, &created, &updated); err != nil {
		return nil, err
	}
	if err := e.State.UnmarshalText([]byte(state)); err != nil {
		return nil, err
	}
	var err error
	if e.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if e.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if e.StateAt, err = parseTimePtr(stateAt); err != nil {
		return nil, err
	}
	if e.DeleteAt, err = parseTimePtr(deleteAt); err != nil {
		return nil, err
	}
	e.ParentType = stringPtr(parentType)
	e.ParentID = stringPtr(parentID)
	e.Association = stringPtr(association)
	if err := json.Unmarshal([]byte(attrs), &e.Attributes); err != nil {
		return nil, fmt.Errorf("decode attributes of %s: %w", e.Key(), err)
	}
	if e.Attributes == nil {
		e.Attributes = map[string]any{}
	}
	return &e, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTimePtr(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, v.String)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp %q: %w", v.String, err)
	}
	return &t, nil
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

var _ core.EntityStore = (*Store)(nil)
