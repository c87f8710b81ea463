package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/datasektionen/hive-sub000/internal/hive/membership"
	"github.com/datasektionen/hive-sub000/internal/hive/scope"
)

// PermissionDef is a permission definition from §3.
type PermissionDef struct {
	SystemID    string
	PermID      string
	HasScope    bool
	Description string
}

// PermissionAssignment is a permission assignment from §3. Exactly one of
// (GroupID, GroupDomain) or APITokenID is non-empty.
type PermissionAssignment struct {
	UUID        string
	SystemID    string
	PermID      string
	Scope       *string
	GroupID     string
	GroupDomain string
	APITokenID  string
}

func (a PermissionAssignment) isGroupHeld() bool { return a.GroupID != "" }

// GetPermissionDef loads a permission definition, or nil if unknown.
func (s *Store) GetPermissionDef(ctx context.Context, q Querier, systemID, permID string) (*PermissionDef, error) {
	row := q.QueryRow(ctx, `SELECT system_id, perm_id, has_scope, description FROM permission_defs
		WHERE system_id = $1 AND perm_id = $2`, systemID, permID)
	var d PermissionDef
	if err := row.Scan(&d.SystemID, &d.PermID, &d.HasScope, &d.Description); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

// InsertPermissionDef creates a new permission definition. A conflicting
// (system_id, perm_id) is translated by the services layer into
// hiveerr.KeyPermissionIDDuplicateInSystem.
func (s *Store) InsertPermissionDef(ctx context.Context, tx pgx.Tx, d PermissionDef) error {
	_, err := tx.Exec(ctx, `INSERT INTO permission_defs (system_id, perm_id, has_scope, description)
		VALUES ($1, $2, $3, $4)`, d.SystemID, d.PermID, d.HasScope, d.Description)
	return err
}

// DeletePermissionDef deletes a permission definition by its composite key.
func (s *Store) DeletePermissionDef(ctx context.Context, tx pgx.Tx, systemID, permID string) (bool, error) {
	tag, err := tx.Exec(ctx, `DELETE FROM permission_defs WHERE system_id = $1 AND perm_id = $2`, systemID, permID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// AssignmentsForPermOnDate loads every assignment of (systemID, permID)
// held by username's effective groups on date d (resolved first via
// EffectiveGroupsOn) — the join described in §4.3's "temporal query for
// evaluator". This backs evaluator.Loader for user-bound evaluators.
func (s *Store) AssignmentsForPermOnDate(ctx context.Context, q Querier, username, systemID, permID string, d time.Time) ([]scope.HeldPermission, error) {
	eff, err := s.EffectiveGroupsOn(ctx, q, username, d)
	if err != nil {
		return nil, err
	}
	if len(eff) == 0 {
		return nil, nil
	}

	ids := make([]string, len(eff))
	domains := make([]string, len(eff))
	for i, g := range eff {
		ids[i] = g.Group.ID
		domains[i] = g.Group.Domain
	}

	rows, err := q.Query(ctx, `SELECT scope FROM permission_assignments pa
		JOIN UNNEST($3::text[], $4::text[]) AS eg(id, domain) ON pa.group_id = eg.id AND pa.group_domain = eg.domain
		WHERE pa.system_id = $1 AND pa.perm_id = $2`, systemID, permID, ids, domains)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var held []scope.HeldPermission
	for rows.Next() {
		var raw *string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		held = append(held, toHeldPermission(permID, raw))
	}
	return held, rows.Err()
}

// AssignmentsForPermByToken loads every assignment of (systemID, permID)
// held directly by an API token — tokens don't inherit via group
// membership, they hold assignments directly (§4.4 "keyed on api_token_id
// instead of username").
func (s *Store) AssignmentsForPermByToken(ctx context.Context, q Querier, tokenID, systemID, permID string) ([]scope.HeldPermission, error) {
	rows, err := q.Query(ctx, `SELECT scope FROM permission_assignments
		WHERE api_token_id = $1 AND system_id = $2 AND perm_id = $3`, tokenID, systemID, permID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var held []scope.HeldPermission
	for rows.Next() {
		var raw *string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		held = append(held, toHeldPermission(permID, raw))
	}
	return held, rows.Err()
}

// AllAssignmentsForUserOnDate loads every permission assignment of systemID
// held by username's effective groups on date d, across all perm ids —
// backs `GET /api/v1/user/{u}/permissions`.
func (s *Store) AllAssignmentsForUserOnDate(ctx context.Context, q Querier, username, systemID string, d time.Time) ([]scope.HeldPermission, error) {
	eff, err := s.EffectiveGroupsOn(ctx, q, username, d)
	if err != nil {
		return nil, err
	}
	if len(eff) == 0 {
		return nil, nil
	}

	ids := make([]string, len(eff))
	domains := make([]string, len(eff))
	for i, g := range eff {
		ids[i] = g.Group.ID
		domains[i] = g.Group.Domain
	}

	rows, err := q.Query(ctx, `SELECT pa.perm_id, pa.scope FROM permission_assignments pa
		JOIN UNNEST($2::text[], $3::text[]) AS eg(id, domain) ON pa.group_id = eg.id AND pa.group_domain = eg.domain
		WHERE pa.system_id = $1`, systemID, ids, domains)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var held []scope.HeldPermission
	for rows.Next() {
		var permID string
		var raw *string
		if err := rows.Scan(&permID, &raw); err != nil {
			return nil, err
		}
		held = append(held, toHeldPermission(permID, raw))
	}
	return held, rows.Err()
}

// AllAssignmentsForToken loads every permission assignment held directly by
// tokenID under systemID, across all perm ids — the token-target analogue
// of AllAssignmentsForUserOnDate for `GET /api/v1/token/{secret}/...`.
func (s *Store) AllAssignmentsForToken(ctx context.Context, q Querier, tokenID, systemID string) ([]scope.HeldPermission, error) {
	rows, err := q.Query(ctx, `SELECT perm_id, scope FROM permission_assignments
		WHERE api_token_id = $1 AND system_id = $2`, tokenID, systemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var held []scope.HeldPermission
	for rows.Next() {
		var permID string
		var raw *string
		if err := rows.Scan(&permID, &raw); err != nil {
			return nil, err
		}
		held = append(held, toHeldPermission(permID, raw))
	}
	return held, rows.Err()
}

// AllAssignmentsForUserAcrossSystems loads every permission assignment held
// by username's effective groups on date d, grouped by system id — backs
// the legacy all-systems form of `GET /api/v0/user/{username}`.
func (s *Store) AllAssignmentsForUserAcrossSystems(ctx context.Context, q Querier, username string, d time.Time) (map[string][]scope.HeldPermission, error) {
	eff, err := s.EffectiveGroupsOn(ctx, q, username, d)
	if err != nil {
		return nil, err
	}
	out := map[string][]scope.HeldPermission{}
	if len(eff) == 0 {
		return out, nil
	}

	ids := make([]string, len(eff))
	domains := make([]string, len(eff))
	for i, g := range eff {
		ids[i] = g.Group.ID
		domains[i] = g.Group.Domain
	}

	rows, err := q.Query(ctx, `SELECT pa.system_id, pa.perm_id, pa.scope FROM permission_assignments pa
		JOIN UNNEST($1::text[], $2::text[]) AS eg(id, domain) ON pa.group_id = eg.id AND pa.group_domain = eg.domain`,
		ids, domains)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var systemID, permID string
		var raw *string
		if err := rows.Scan(&systemID, &permID, &raw); err != nil {
			return nil, err
		}
		out[systemID] = append(out[systemID], toHeldPermission(permID, raw))
	}
	return out, rows.Err()
}

// AllAssignmentsForTokenAcrossSystems loads every permission assignment held
// directly by tokenID, grouped by system id — the token-target analogue of
// AllAssignmentsForUserAcrossSystems.
func (s *Store) AllAssignmentsForTokenAcrossSystems(ctx context.Context, q Querier, tokenID string) (map[string][]scope.HeldPermission, error) {
	rows, err := q.Query(ctx, `SELECT system_id, perm_id, scope FROM permission_assignments WHERE api_token_id = $1`, tokenID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string][]scope.HeldPermission{}
	for rows.Next() {
		var systemID, permID string
		var raw *string
		if err := rows.Scan(&systemID, &permID, &raw); err != nil {
			return nil, err
		}
		out[systemID] = append(out[systemID], toHeldPermission(permID, raw))
	}
	return out, rows.Err()
}

func toHeldPermission(permID string, raw *string) scope.HeldPermission {
	if raw == nil {
		return scope.Unscoped(permID)
	}
	sc, err := scope.Parse(*raw)
	if err != nil {
		// Nothing on the insert path parses scope strings, so an unparseable
		// one can be stored; it is read back as an unscoped assignment, which
		// never satisfies a scoped probe.
		return scope.HeldPermission{PermID: permID}
	}
	return scope.Scoped(permID, sc)
}

// InsertPermissionAssignment inserts a new assignment. Callers must have
// already validated scope-presence against the permission definition's
// HasScope (I2) and resolved any unique-constraint violation into
// hiveerr.KeyPermissionAssignmentDuplicate.
func (s *Store) InsertPermissionAssignment(ctx context.Context, tx pgx.Tx, a PermissionAssignment) error {
	_, err := tx.Exec(ctx, `INSERT INTO permission_assignments
		(uuid, system_id, perm_id, scope, group_id, group_domain, api_token_id)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''))`,
		a.UUID, a.SystemID, a.PermID, a.Scope, a.GroupID, a.GroupDomain, a.APITokenID)
	return err
}

// DeleteAssignment deletes a permission assignment by uuid.
func (s *Store) DeleteAssignment(ctx context.Context, tx pgx.Tx, uuid string) (bool, error) {
	tag, err := tx.Exec(ctx, `DELETE FROM permission_assignments WHERE uuid = $1`, uuid)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GroupsCoveredByScope resolves which effective groups a scope covers, for
// the tag-authority "covers" rule in §4.3. wildcard and domain scopes are
// resolved in-memory; tag scopes require the tag-authority resolver's DB
// lookup (see tags.go), so this returns ok=false for KindTag and the caller
// should fall back there.
func GroupsCoveredByScope(s scope.Scope, eff []membership.Effective) (covered []membership.GroupKey, ok bool) {
	switch s.Kind() {
	case scope.KindWildcard:
		out := make([]membership.GroupKey, len(eff))
		for i, e := range eff {
			out[i] = e.Group
		}
		return out, true
	case scope.KindDomain:
		var out []membership.GroupKey
		for _, e := range eff {
			if e.Group.Domain == s.DomainValue() {
				out = append(out, e.Group)
			}
		}
		return out, true
	default:
		return nil, false
	}
}
