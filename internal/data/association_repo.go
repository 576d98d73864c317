package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/target/reclaim/internal/domain/lifecycle"
	apperrors "github.com/target/reclaim/internal/errors"
)

// AssociationRepo answers dependents queries for one parent type and association.
type AssociationRepo struct {
	DB         *sql.DB
	ParentType string
	Name       string
}

// Count returns how many children still physically exist, deleted or not.
func (r *AssociationRepo) Count(ctx context.Context, parentID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `
		SELECT count(*) FROM entities
		WHERE parent_type = $1 AND parent_id = $2 AND association = $3
	`, r.ParentType, parentID, r.Name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s of %s/%s: %w", r.Name, r.ParentType, parentID, apperrors.MapDBError(err))
	}
	return n, nil
}

// ListNotDeleted returns the active children, oldest first.
func (r *AssociationRepo) ListNotDeleted(ctx context.Context, parentID string) ([]*lifecycle.Entity, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+entityColumns+` FROM entities
		WHERE parent_type = $1 AND parent_id = $2 AND association = $3 AND state = 'active'
		ORDER BY created_at, id
	`, r.ParentType, parentID, r.Name)
	if err != nil {
		return nil, fmt.Errorf("list %s of %s/%s: %w", r.Name, r.ParentType, parentID, apperrors.MapDBError(err))
	}
	defer func() { _ = rows.Close() }()

	var out []*lifecycle.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dependent: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ lifecycle.DependentRepository = (*AssociationRepo)(nil)
