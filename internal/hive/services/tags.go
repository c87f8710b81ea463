package services

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/datasektionen/hive-sub000/internal/hive/audit"
	"github.com/datasektionen/hive-sub000/internal/hive/hiveerr"
	"github.com/datasektionen/hive-sub000/internal/hive/scope"
	"github.com/datasektionen/hive-sub000/internal/hive/store"
)

// TagDefInput describes a tag definition to create.
type TagDefInput struct {
	SystemID       string
	TagID          string
	HasContent     bool
	SupportsGroups bool
	SupportsUsers  bool
	SelfService    bool
	Description    string
}

// CreateTag defines a new tag on a system, gated on manage-tags scoped to
// that system. Duplicate (system_id, tag_id) is translated to
// tag.id.duplicate-in-system.
func (s *Services) CreateTag(ctx context.Context, caller Caller, in TagDefInput) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := s.now()

		eval := s.EvaluatorFor(tx, caller, HiveSystemID, now)
		required := scope.Scoped(PermManageTags, scope.Concrete(in.SystemID))
		if err := eval.Require(ctx, required, hiveerr.KeyForbidden); err != nil {
			return err
		}

		d := store.TagDef{
			SystemID: in.SystemID, TagID: in.TagID, HasContent: in.HasContent,
			SupportsGroups: in.SupportsGroups, SupportsUsers: in.SupportsUsers,
			SelfService: in.SelfService, Description: in.Description,
		}
		if err := s.Store.InsertTagDef(ctx, tx, d); err != nil {
			return translateUniqueViolation(err, hiveerr.KeyTagIDDuplicateInSystem)
		}

		return audit.Insert(ctx, tx, auditEvent(caller, audit.ActionCreate, "tag-def", in.SystemID+":"+in.TagID, now,
			audit.Details{New: map[string]any{"has_content": in.HasContent, "description": in.Description}}))
	})
}

// DeleteTag removes a tag definition, refusing to tamper with the hive
// system's own tags (§4.5 self-preservation).
func (s *Services) DeleteTag(ctx context.Context, caller Caller, systemID, tagID string) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := s.now()

		if systemID == HiveSystemID {
			return selfPreservation()
		}

		eval := s.EvaluatorFor(tx, caller, HiveSystemID, now)
		required := scope.Scoped(PermManageTags, scope.Concrete(systemID))
		if err := eval.Require(ctx, required, hiveerr.KeyForbidden); err != nil {
			return err
		}

		deleted, err := s.Store.DeleteTagDef(ctx, tx, systemID, tagID)
		if err != nil {
			return hiveerr.Wrap(hiveerr.KeyDB, 500, err)
		}
		if !deleted {
			return hiveerr.ForKey(hiveerr.KeyTagUnknown)
		}

		return audit.Insert(ctx, tx, auditEvent(caller, audit.ActionDelete, "tag-def", systemID+":"+tagID, now, audit.Details{}))
	})
}

// AssignTagInput describes an assign-tags call.
type AssignTagInput struct {
	SystemID, TagID      string
	Content              string
	GroupID, GroupDomain string
	Username             string
}

// AssignTag implements tag-assignment (§4.5), enforcing I2 (content
// presence must match the tag's has_content) and refusing to tamper with
// hive-system tags (I4).
func (s *Services) AssignTag(ctx context.Context, caller Caller, in AssignTagInput) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := s.now()

		if in.SystemID == HiveSystemID {
			return selfPreservation()
		}

		def, err := s.Store.GetTagDef(ctx, tx, in.SystemID, in.TagID)
		if err != nil {
			return hiveerr.Wrap(hiveerr.KeyDB, 500, err)
		}

		eval := s.EvaluatorFor(tx, caller, HiveSystemID, now)
		required := scope.Scoped(PermAssignTags, scope.Concrete(in.SystemID))
		if err := eval.Require(ctx, required, hiveerr.KeyForbidden); err != nil {
			return err
		}
		if def == nil {
			return hiveerr.ForKey(hiveerr.KeyForbidden)
		}

		if def.HasContent && in.Content == "" {
			return hiveerr.ForKey(hiveerr.KeyPermissionAssignmentScopeMiss)
		}
		if !def.HasContent && in.Content != "" {
			return hiveerr.ForKey(hiveerr.KeyPermissionAssignmentScopeExtra)
		}

		id := NewUUID()
		var contentPtr *string
		if in.Content != "" {
			contentPtr = &in.Content
		}
		a := store.TagAssignment{
			UUID: id, SystemID: in.SystemID, TagID: in.TagID, Content: contentPtr,
			GroupID: in.GroupID, GroupDomain: in.GroupDomain, Username: in.Username,
		}
		if err := s.Store.InsertTagAssignment(ctx, tx, a); err != nil {
			return translateUniqueViolation(err, hiveerr.KeyPermissionAssignmentDuplicate)
		}

		return audit.Insert(ctx, tx, auditEvent(caller, audit.ActionCreate, "tag-assignment", id, now,
			audit.Details{New: map[string]any{
				"system_id": in.SystemID, "tag_id": in.TagID, "content": in.Content,
				"group_id": in.GroupID, "group_domain": in.GroupDomain, "username": in.Username,
			}}))
	})
}

// UnassignTag implements tag-unassignment, refusing to remove the root
// group's `sync`-equivalent hive tags where applicable via the same
// self-preservation guard as AssignTag.
func (s *Services) UnassignTag(ctx context.Context, caller Caller, assignmentUUID, systemID string) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := s.now()

		if systemID == HiveSystemID {
			return selfPreservation()
		}

		eval := s.EvaluatorFor(tx, caller, HiveSystemID, now)
		required := scope.Scoped(PermAssignTags, scope.Concrete(systemID))
		if err := eval.Require(ctx, required, hiveerr.KeyForbidden); err != nil {
			return err
		}

		deleted, err := s.Store.DeleteTagAssignment(ctx, tx, assignmentUUID)
		if err != nil {
			return hiveerr.Wrap(hiveerr.KeyDB, 500, err)
		}
		if !deleted {
			return hiveerr.ForKey(hiveerr.KeyForbidden)
		}

		return audit.Insert(ctx, tx, auditEvent(caller, audit.ActionDelete, "tag-assignment", assignmentUUID, now, audit.Details{}))
	})
}
