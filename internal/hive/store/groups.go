package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/datasektionen/hive-sub000/internal/hive/membership"
)

// Group is the (id, domain) composite-keyed entity from §3.
type Group struct {
	ID            string
	Domain        string
	NameSV        string
	NameEN        string
	DescriptionSV string
	DescriptionEN string
}

// GetGroup loads a single group by its composite key.
func (s *Store) GetGroup(ctx context.Context, q Querier, id, domain string) (*Group, error) {
	row := q.QueryRow(ctx, `SELECT id, domain, name_sv, name_en, description_sv, description_en
		FROM groups WHERE id = $1 AND domain = $2`, id, domain)
	var g Group
	if err := row.Scan(&g.ID, &g.Domain, &g.NameSV, &g.NameEN, &g.DescriptionSV, &g.DescriptionEN); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &g, nil
}

// InsertGroup creates a new group. A conflicting (id, domain) is
// translated by the services layer into hiveerr.KeyGroupKeyDuplicate.
func (s *Store) InsertGroup(ctx context.Context, tx pgx.Tx, g Group) error {
	_, err := tx.Exec(ctx, `INSERT INTO groups (id, domain, name_sv, name_en, description_sv, description_en)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		g.ID, g.Domain, g.NameSV, g.NameEN, g.DescriptionSV, g.DescriptionEN)
	return err
}

// UpdateGroup edits an existing group's display metadata.
func (s *Store) UpdateGroup(ctx context.Context, tx pgx.Tx, g Group) (bool, error) {
	tag, err := tx.Exec(ctx, `UPDATE groups SET name_sv = $3, name_en = $4, description_sv = $5, description_en = $6
		WHERE id = $1 AND domain = $2`,
		g.ID, g.Domain, g.NameSV, g.NameEN, g.DescriptionSV, g.DescriptionEN)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteGroup deletes a group by its composite key.
func (s *Store) DeleteGroup(ctx context.Context, tx pgx.Tx, id, domain string) (bool, error) {
	tag, err := tx.Exec(ctx, `DELETE FROM groups WHERE id = $1 AND domain = $2`, id, domain)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DirectMembershipsOn loads username's active direct memberships on date d
// (from ≤ d ≤ until).
func (s *Store) DirectMembershipsOn(ctx context.Context, q Querier, username string, d time.Time) ([]membership.DirectMembership, error) {
	rows, err := q.Query(ctx, `SELECT group_id, group_domain, manager FROM direct_memberships
		WHERE username = $1 AND from_date <= $2 AND until_date >= $2`, username, d)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []membership.DirectMembership
	for rows.Next() {
		var m membership.DirectMembership
		if err := rows.Scan(&m.Group.ID, &m.Group.Domain, &m.Manager); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AllSubgroupEdges loads the full subgroup graph. The graph is small enough
// (bounded by the number of groups) to resolve in the application via
// membership.Resolve rather than a recursive CTE per request; see DESIGN.md
// for why both strategies are acceptable per §9.
func (s *Store) AllSubgroupEdges(ctx context.Context, q Querier) ([]membership.SubgroupEdge, error) {
	rows, err := q.Query(ctx, `SELECT parent_id, parent_domain, child_id, child_domain, manager FROM subgroup_edges`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []membership.SubgroupEdge
	for rows.Next() {
		var e membership.SubgroupEdge
		if err := rows.Scan(&e.Parent.ID, &e.Parent.Domain, &e.Child.ID, &e.Child.Domain, &e.Manager); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// EffectiveGroupsOn computes effectiveGroups(username, d) per §4.3.
func (s *Store) EffectiveGroupsOn(ctx context.Context, q Querier, username string, d time.Time) ([]membership.Effective, error) {
	direct, err := s.DirectMembershipsOn(ctx, q, username, d)
	if err != nil {
		return nil, err
	}
	edges, err := s.AllSubgroupEdges(ctx, q)
	if err != nil {
		return nil, err
	}
	return membership.Resolve(direct, edges), nil
}

// EffectiveGroupsSQL is the equivalent recursive CTE, kept alongside the
// application-level resolver so either strategy can back EffectiveGroupsOn
// depending on graph size (§9 design note: "either acceptable").
const EffectiveGroupsSQL = `
WITH RECURSIVE effective(id, domain, manager, depth) AS (
	SELECT group_id, group_domain, manager, 0
	FROM direct_memberships
	WHERE username = $1 AND from_date <= $2 AND until_date >= $2
	UNION ALL
	SELECT se.parent_id, se.parent_domain, (e.manager AND se.manager), e.depth + 1
	FROM effective e
	JOIN subgroup_edges se ON se.child_id = e.id AND se.child_domain = e.domain
)
SELECT DISTINCT ON (id, domain) id, domain, manager
FROM effective
ORDER BY id, domain, depth ASC
`

// InsertSubgroupEdge inserts the subgroup edge after the caller has already
// verified via membership.WouldCycle that it won't introduce a cycle.
func (s *Store) InsertSubgroupEdge(ctx context.Context, tx pgx.Tx, parentID, parentDomain, childID, childDomain string, manager bool) error {
	_, err := tx.Exec(ctx, `INSERT INTO subgroup_edges (parent_id, parent_domain, child_id, child_domain, manager)
		VALUES ($1, $2, $3, $4, $5)`, parentID, parentDomain, childID, childDomain, manager)
	return err
}

// InsertDirectMembership inserts a direct membership row.
func (s *Store) InsertDirectMembership(ctx context.Context, tx pgx.Tx, id, username, groupID, groupDomain string, from, until time.Time, manager bool) error {
	_, err := tx.Exec(ctx, `INSERT INTO direct_memberships (uuid, username, group_id, group_domain, from_date, until_date, manager)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`, id, username, groupID, groupDomain, from, until, manager)
	return err
}

// DeleteDirectMembership removes a direct membership by its uuid and
// returns whether a row was deleted.
func (s *Store) DeleteDirectMembership(ctx context.Context, tx pgx.Tx, id string) (bool, error) {
	tag, err := tx.Exec(ctx, `DELETE FROM direct_memberships WHERE uuid = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// EffectiveMembersOf returns the sorted, deduplicated usernames of every
// direct member of target or of any of target's transitive subgroups, as of
// date d — backs `GET /api/v1/group/{domain}/{id}/members`. Resolved
// application-side over AllSubgroupEdges for the same reason EffectiveGroupsOn
// is (§9 design note: graph small enough that either strategy is acceptable).
func (s *Store) EffectiveMembersOf(ctx context.Context, q Querier, target membership.GroupKey, d time.Time) ([]string, error) {
	edges, err := s.AllSubgroupEdges(ctx, q)
	if err != nil {
		return nil, err
	}
	descendants := membership.Descendants(edges, target)

	ids := make([]string, 0, len(descendants)+1)
	domains := make([]string, 0, len(descendants)+1)
	ids = append(ids, target.ID)
	domains = append(domains, target.Domain)
	for g := range descendants {
		ids = append(ids, g.ID)
		domains = append(domains, g.Domain)
	}

	rows, err := q.Query(ctx, `SELECT DISTINCT username FROM direct_memberships dm
		JOIN UNNEST($1::text[], $2::text[]) AS eg(id, domain) ON dm.group_id = eg.id AND dm.group_domain = eg.domain
		WHERE dm.from_date <= $3 AND dm.until_date >= $3
		ORDER BY username`, ids, domains, d)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// CountCurrentRootManagers counts active managers of the root group,
// excluding the membership identified by excludeUUID if non-empty — used
// to implement the P6 / boundary-scenario-5 last-manager check. Excluding
// the row being deleted inside the same statement avoids the read-committed
// ambiguity flagged as an Open Question in §9: we evaluate the *post-delete*
// view explicitly rather than relying on transaction visibility.
func (s *Store) CountCurrentRootManagers(ctx context.Context, q Querier, rootID, rootDomain string, d time.Time, excludeUUID string) (int, error) {
	var n int
	err := q.QueryRow(ctx, `SELECT count(*) FROM direct_memberships
		WHERE group_id = $1 AND group_domain = $2 AND manager = true
		AND from_date <= $3 AND until_date >= $3 AND uuid <> $4`,
		rootID, rootDomain, d, excludeUUID).Scan(&n)
	return n, err
}
