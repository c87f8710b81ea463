package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/datasektionen/hive-sub000/internal/hive/membership"
)

// TagDef is a tag definition from §3.
type TagDef struct {
	SystemID       string
	TagID          string
	HasContent     bool
	SupportsGroups bool
	SupportsUsers  bool
	SelfService    bool
	Description    string
}

// TagAssignment is a tag assignment from §3. Holder is either a group
// (GroupID/GroupDomain) or a user (Username), per the tag definition.
type TagAssignment struct {
	UUID        string
	SystemID    string
	TagID       string
	Content     *string
	GroupID     string
	GroupDomain string
	Username    string
}

// GetTagDef loads a tag definition, or nil if unknown.
func (s *Store) GetTagDef(ctx context.Context, q Querier, systemID, tagID string) (*TagDef, error) {
	row := q.QueryRow(ctx, `SELECT system_id, tag_id, has_content, supports_groups, supports_users, self_service, description
		FROM tag_defs WHERE system_id = $1 AND tag_id = $2`, systemID, tagID)
	var d TagDef
	if err := row.Scan(&d.SystemID, &d.TagID, &d.HasContent, &d.SupportsGroups, &d.SupportsUsers, &d.SelfService, &d.Description); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

// InsertTagDef creates a new tag definition. A conflicting (system_id,
// tag_id) is translated by the services layer into
// hiveerr.KeyTagIDDuplicateInSystem.
func (s *Store) InsertTagDef(ctx context.Context, tx pgx.Tx, d TagDef) error {
	_, err := tx.Exec(ctx, `INSERT INTO tag_defs (system_id, tag_id, has_content, supports_groups, supports_users, self_service, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.SystemID, d.TagID, d.HasContent, d.SupportsGroups, d.SupportsUsers, d.SelfService, d.Description)
	return err
}

// DeleteTagDef deletes a tag definition by its composite key.
func (s *Store) DeleteTagDef(ctx context.Context, tx pgx.Tx, systemID, tagID string) (bool, error) {
	tag, err := tx.Exec(ctx, `DELETE FROM tag_defs WHERE system_id = $1 AND tag_id = $2`, systemID, tagID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GroupHasTag reports whether g carries systemID's tagID, optionally
// restricted to a content value, and returns the content if present. It
// backs the tag-authority "covers" rule's `#hive:tag[:content]` case.
func (s *Store) GroupHasTag(ctx context.Context, q Querier, systemID, tagID string, content *string, g membership.GroupKey) (bool, error) {
	var n int
	if content != nil {
		err := q.QueryRow(ctx, `SELECT count(*) FROM tag_assignments
			WHERE system_id = $1 AND tag_id = $2 AND content = $3 AND group_id = $4 AND group_domain = $5`,
			systemID, tagID, *content, g.ID, g.Domain).Scan(&n)
		return n > 0, err
	}
	err := q.QueryRow(ctx, `SELECT count(*) FROM tag_assignments
		WHERE system_id = $1 AND tag_id = $2 AND group_id = $3 AND group_domain = $4`,
		systemID, tagID, g.ID, g.Domain).Scan(&n)
	return n > 0, err
}

// GroupsWithTag returns every (group, content) pair carrying systemID's
// tagID — backs `GET /api/v1/tagged/{tag}/groups`.
func (s *Store) GroupsWithTag(ctx context.Context, q Querier, systemID, tagID string) ([]TaggedGroup, error) {
	rows, err := q.Query(ctx, `SELECT g.id, g.domain, g.name_sv, g.name_en, g.description_sv, g.description_en, ta.content
		FROM tag_assignments ta
		JOIN groups g ON g.id = ta.group_id AND g.domain = ta.group_domain
		WHERE ta.system_id = $1 AND ta.tag_id = $2`, systemID, tagID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaggedGroup
	for rows.Next() {
		var tg TaggedGroup
		if err := rows.Scan(&tg.GroupID, &tg.GroupDomain, &tg.NameSV, &tg.NameEN, &tg.DescriptionSV, &tg.DescriptionEN, &tg.Content); err != nil {
			return nil, err
		}
		out = append(out, tg)
	}
	return out, rows.Err()
}

// TaggedGroup is one row of `GET /api/v1/tagged/{tag}/groups`, also backing
// the Google Workspace sync's name/description patch comparisons.
type TaggedGroup struct {
	GroupID       string
	GroupDomain   string
	NameSV        string
	NameEN        string
	DescriptionSV string
	DescriptionEN string
	Content       *string
}

// UsersWithTag returns every (username, content) pair carrying systemID's
// tagID — backs `GET /api/v1/tagged/{tag}/users`.
func (s *Store) UsersWithTag(ctx context.Context, q Querier, systemID, tagID string) ([]TaggedUser, error) {
	rows, err := q.Query(ctx, `SELECT username, content FROM tag_assignments
		WHERE system_id = $1 AND tag_id = $2 AND username <> ''`, systemID, tagID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaggedUser
	for rows.Next() {
		var tu TaggedUser
		if err := rows.Scan(&tu.Username, &tu.Content); err != nil {
			return nil, err
		}
		out = append(out, tu)
	}
	return out, rows.Err()
}

// TaggedUser is one row of `GET /api/v1/tagged/{tag}/users`.
type TaggedUser struct {
	Username string
	Content  *string
}

// InsertTagAssignment inserts a tag assignment.
func (s *Store) InsertTagAssignment(ctx context.Context, tx pgx.Tx, a TagAssignment) error {
	_, err := tx.Exec(ctx, `INSERT INTO tag_assignments
		(uuid, system_id, tag_id, content, group_id, group_domain, username)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''))`,
		a.UUID, a.SystemID, a.TagID, a.Content, a.GroupID, a.GroupDomain, a.Username)
	return err
}

// DeleteTagAssignment deletes a tag assignment by uuid.
func (s *Store) DeleteTagAssignment(ctx context.Context, tx pgx.Tx, uuid string) (bool, error) {
	tag, err := tx.Exec(ctx, `DELETE FROM tag_assignments WHERE uuid = $1`, uuid)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
