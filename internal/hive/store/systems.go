package store

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// System is the leaf container for permissions, tags, and API tokens (§3).
type System struct {
	ID          string
	Description string
}

// GetSystem loads a system by id, or nil if unknown.
func (s *Store) GetSystem(ctx context.Context, q Querier, id string) (*System, error) {
	row := q.QueryRow(ctx, `SELECT id, description FROM systems WHERE id = $1`, id)
	var sys System
	if err := row.Scan(&sys.ID, &sys.Description); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &sys, nil
}

// UpsertSystem inserts or updates a system row — used both by the API
// mutation path and by the integration scheduler's manifest bootstrap
// (§4.6 step 1).
func (s *Store) UpsertSystem(ctx context.Context, tx pgx.Tx, id, description string) error {
	_, err := tx.Exec(ctx, `INSERT INTO systems (id, description) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET description = EXCLUDED.description`, id, description)
	return err
}

// DeleteSystem deletes a system by id. The hive system itself must never
// reach this call (I4); callers enforce that in the services layer.
func (s *Store) DeleteSystem(ctx context.Context, tx pgx.Tx, id string) (bool, error) {
	tag, err := tx.Exec(ctx, `DELETE FROM systems WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// UpsertTagDef inserts or updates a tag definition — used by the
// integration scheduler's manifest bootstrap (§4.6 step 2).
func (s *Store) UpsertTagDef(ctx context.Context, tx pgx.Tx, d TagDef) error {
	_, err := tx.Exec(ctx, `INSERT INTO tag_defs (system_id, tag_id, has_content, supports_groups, supports_users, self_service, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (system_id, tag_id) DO UPDATE SET
			has_content = EXCLUDED.has_content,
			supports_groups = EXCLUDED.supports_groups,
			supports_users = EXCLUDED.supports_users,
			self_service = EXCLUDED.self_service,
			description = EXCLUDED.description`,
		d.SystemID, d.TagID, d.HasContent, d.SupportsGroups, d.SupportsUsers, d.SelfService, d.Description)
	return err
}
