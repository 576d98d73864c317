package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/reclaim/internal/core"
	"github.com/target/reclaim/internal/domain/lifecycle"
	apperrors "github.com/target/reclaim/internal/errors"
)

const entityColumns = `
  entity_type,
  id,
  state,
  state_at,
  delete_at,
  parent_type,
  parent_id,
  association,
  attributes,
  created_at,
  updated_at
`

const defaultEntityListLimit = 100

// EntityRepoOptions configures an EntityRepo.
type EntityRepoOptions struct {
	TimeProvider TimeProvider
	Logger       *slog.Logger
}

// EntityRepo is the Postgres implementation of core.EntityStore.
type EntityRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewEntityRepo creates an EntityRepo.
func NewEntityRepo(db *sql.DB, opts EntityRepoOptions) *EntityRepo {
	tp := opts.TimeProvider
	if tp == nil {
		tp = RealTimeProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &EntityRepo{DB: db, timeProvider: tp, logger: logger.With("component", "entity_repo")}
}

// Create inserts a new entity. A taken (type, id) yields ErrEntityExists.
func (r *EntityRepo) Create(ctx context.Context, e *lifecycle.Entity) error {
	if e == nil {
		return errors.New("entity is required")
	}
	if e.Type == "" || e.ID == "" {
		return apperrors.Validation("entity type and id are required")
	}
	if !e.State.Valid() {
		return apperrors.ValidationField("state", fmt.Sprintf("invalid state %q", e.State))
	}
	attrs, err := encodeAttributes(e.Attributes)
	if err != nil {
		return err
	}
	now := r.timeProvider.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	_, err = r.DB.ExecContext(ctx, `
		INSERT INTO entities (
		  entity_type, id, state, state_at, delete_at, parent_type, parent_id, association,
		  attributes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11)
	`,
		e.Type, e.ID, string(e.State), e.StateAt, e.DeleteAt, e.ParentType, e.ParentID, e.Association,
		attrs, e.CreatedAt, e.UpdatedAt,
	)
	if err == nil {
		return nil
	}
	mapped := apperrors.MapDBError(err)
	if apperrors.IsConflict(mapped) {
		return fmt.Errorf("%w: %s: %w", ErrEntityExists, e.Key(), mapped)
	}
	return fmt.Errorf("create entity %s: %w", e.Key(), mapped)
}

// Get loads an entity or returns lifecycle.ErrEntityNotFound.
func (r *EntityRepo) Get(ctx context.Context, ref lifecycle.Ref) (*lifecycle.Entity, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE entity_type = $1 AND id = $2`, ref.Type, ref.ID)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", lifecycle.ErrEntityNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("get entity %s: %w", ref, apperrors.MapDBError(err))
	}
	return e, nil
}

// Exists reports whether the record is still stored.
func (r *EntityRepo) Exists(ctx context.Context, ref lifecycle.Ref) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM entities WHERE entity_type = $1 AND id = $2)`, ref.Type, ref.ID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check entity %s: %w", ref, apperrors.MapDBError(err))
	}
	return exists, nil
}

// MarkDeleted performs the active -> deleted transition in one conditional UPDATE, so
// concurrent callers transition at most once. No validation runs.
func (r *EntityRepo) MarkDeleted(ctx context.Context, ref lifecycle.Ref, at time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE entities
		SET state = 'deleted', state_at = $3, delete_at = NULL, updated_at = $3
		WHERE entity_type = $1 AND id = $2 AND state = 'active'
	`, ref.Type, ref.ID, at.UTC())
	if err != nil {
		return false, fmt.Errorf("mark entity %s deleted: %w", ref, apperrors.MapDBError(err))
	}
	changed, err := affectedOne(res, "mark deleted")
	if err != nil || changed {
		return changed, err
	}
	return false, r.requireExists(ctx, ref)
}

// UpdateAttributes replaces the attribute document.
func (r *EntityRepo) UpdateAttributes(ctx context.Context, ref lifecycle.Ref, attrs map[string]any) error {
	raw, err := encodeAttributes(attrs)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, `
		UPDATE entities SET attributes = $3::jsonb, updated_at = $4
		WHERE entity_type = $1 AND id = $2
	`, ref.Type, ref.ID, raw, r.timeProvider.Now().UTC())
	if err != nil {
		return fmt.Errorf("update entity %s attributes: %w", ref, apperrors.MapDBError(err))
	}
	ok, err := affectedOne(res, "update attributes")
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", lifecycle.ErrEntityNotFound, ref)
	}
	return nil
}

// ScheduleDeletion sets delete_at on an active entity. Deleted entities are left alone.
func (r *EntityRepo) ScheduleDeletion(ctx context.Context, ref lifecycle.Ref, at time.Time) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE entities SET delete_at = $3, updated_at = $4
		WHERE entity_type = $1 AND id = $2 AND state = 'active'
	`, ref.Type, ref.ID, at.UTC(), r.timeProvider.Now().UTC())
	if err != nil {
		return fmt.Errorf("schedule deletion of %s: %w", ref, apperrors.MapDBError(err))
	}
	ok, err := affectedOne(res, "schedule deletion")
	if err != nil || ok {
		return err
	}
	return r.requireExists(ctx, ref)
}

// Delete removes the record. A row still referenced by children is reported as a
// retryable condition; the finalize job waits for them like a dependents check would.
func (r *EntityRepo) Delete(ctx context.Context, ref lifecycle.Ref) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM entities WHERE entity_type = $1 AND id = $2`, ref.Type, ref.ID)
	if err != nil {
		mapped := apperrors.MapDBError(err)
		if apperrors.IsForeignKey(mapped) {
			r.logger.WarnContext(ctx, "destroy blocked by dependent rows", "entity", ref.String())
			return false, &lifecycle.RetryableError{
				Message: fmt.Sprintf("entity %s is still referenced by dependents", ref),
				Cause:   mapped,
			}
		}
		return false, fmt.Errorf("delete entity %s: %w", ref, mapped)
	}
	return affectedOne(res, "delete entity")
}

// ListDueForErase returns active entities whose delete_at has passed, oldest first.
func (r *EntityRepo) ListDueForErase(ctx context.Context, now time.Time, limit int) ([]lifecycle.Ref, error) {
	return r.listRefs(ctx, `
		SELECT entity_type, id FROM entities
		WHERE state = 'active' AND delete_at IS NOT NULL AND delete_at <= $1
		ORDER BY delete_at
		LIMIT $2
	`, now.UTC(), limit)
}

// ListPendingFinalization returns deleted entities erased at or before olderThan.
func (r *EntityRepo) ListPendingFinalization(
	ctx context.Context,
	olderThan time.Time,
	limit int,
) ([]lifecycle.Ref, error) {
	return r.listRefs(ctx, `
		SELECT entity_type, id FROM entities
		WHERE state = 'deleted' AND state_at <= $1
		ORDER BY state_at
		LIMIT $2
	`, olderThan.UTC(), limit)
}

// Association returns the dependents repository for one parent type and association name.
func (r *EntityRepo) Association(parentType, association string) lifecycle.DependentRepository {
	return &AssociationRepo{DB: r.DB, ParentType: parentType, Name: association}
}

func (r *EntityRepo) listRefs(ctx context.Context, query string, at time.Time, limit int) ([]lifecycle.Ref, error) {
	if limit <= 0 {
		limit = defaultEntityListLimit
	}
	rows, err := r.DB.QueryContext(ctx, query, at, limit)
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

func (r *EntityRepo) requireExists(ctx context.Context, ref lifecycle.Ref) error {
	exists, err := r.Exists(ctx, ref)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", lifecycle.ErrEntityNotFound, ref)
	}
	return nil
}

func encodeAttributes(attrs map[string]any) (string, error) {
	if len(attrs) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return "", apperrors.ValidationField("attributes", "attributes must be JSON encodable")
	}
	return string(raw), nil
}

func scanEntity(s scanner) (*lifecycle.Entity, error) {
	var (
		e           lifecycle.Entity
		state       string
		stateAt     sql.NullTime
		deleteAt    sql.NullTime
		parentType  sql.NullString
		parentID    sql.NullString
		association sql.NullString
		attrs       []byte
	)
	if err := s.Scan(
		&e.Type, &e.ID, &state, &stateAt, &deleteAt, &parentType, &parentID, &association,
		&attrs, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := e.State.UnmarshalText([]byte(state)); err != nil {
		return nil, err
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	e.StateAt = utcPtr(stateAt)
	e.DeleteAt = utcPtr(deleteAt)
	e.ParentType = stringPtr(parentType)
	e.ParentID = stringPtr(parentID)
	e.Association = stringPtr(association)
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &e.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes of %s: %w", e.Key(), err)
		}
	}
	if e.Attributes == nil {
		e.Attributes = map[string]any{}
	}
	return &e, nil
}

var _ core.EntityStore = (*EntityRepo)(nil)

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

// affectedOne reports whether the statement touched at least one row.
func affectedOne(res sql.Result, op string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: rows affected: %w", op, err)
	}
	return n > 0, nil
}
