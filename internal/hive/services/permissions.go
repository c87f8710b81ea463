package services

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/datasektionen/hive-sub000/internal/hive/audit"
	"github.com/datasektionen/hive-sub000/internal/hive/hiveerr"
	"github.com/datasektionen/hive-sub000/internal/hive/scope"
	"github.com/datasektionen/hive-sub000/internal/hive/store"
)

// PermissionDefInput describes a permission definition to create.
type PermissionDefInput struct {
	SystemID, PermID string
	HasScope         bool
	Description      string
}

// CreatePermission defines a new permission on a system, gated on
// manage-perms scoped to that system. Duplicate (system_id, perm_id) is
// translated to permission.id.duplicate-in-system.
func (s *Services) CreatePermission(ctx context.Context, caller Caller, in PermissionDefInput) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := s.now()

		eval := s.EvaluatorFor(tx, caller, HiveSystemID, now)
		required := scope.Scoped(PermManagePerms, scope.Concrete(in.SystemID))
		if err := eval.Require(ctx, required, hiveerr.KeyForbidden); err != nil {
			return err
		}

		d := store.PermissionDef{SystemID: in.SystemID, PermID: in.PermID, HasScope: in.HasScope, Description: in.Description}
		if err := s.Store.InsertPermissionDef(ctx, tx, d); err != nil {
			return translateUniqueViolation(err, hiveerr.KeyPermissionIDDuplicateInSystem)
		}

		return audit.Insert(ctx, tx, auditEvent(caller, audit.ActionCreate, "permission-def", in.SystemID+":"+in.PermID, now,
			audit.Details{New: map[string]any{"has_scope": in.HasScope, "description": in.Description}}))
	})
}

// DeletePermission removes a permission definition, refusing to tamper
// with the hive system's own permissions (§4.5 self-preservation).
func (s *Services) DeletePermission(ctx context.Context, caller Caller, systemID, permID string) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := s.now()

		if systemID == HiveSystemID {
			return selfPreservation()
		}

		eval := s.EvaluatorFor(tx, caller, HiveSystemID, now)
		required := scope.Scoped(PermManagePerms, scope.Concrete(systemID))
		if err := eval.Require(ctx, required, hiveerr.KeyForbidden); err != nil {
			return err
		}

		deleted, err := s.Store.DeletePermissionDef(ctx, tx, systemID, permID)
		if err != nil {
			return hiveerr.Wrap(hiveerr.KeyDB, 500, err)
		}
		if !deleted {
			return hiveerr.ForKey(hiveerr.KeyPermissionUnknown)
		}

		return audit.Insert(ctx, tx, auditEvent(caller, audit.ActionDelete, "permission-def", systemID+":"+permID, now, audit.Details{}))
	})
}

// AssignPermissionInput describes an assign-perms call.
type AssignPermissionInput struct {
	SystemID, PermID       string
	Scope                  string // empty iff the permission is unscoped
	GroupID, GroupDomain   string
	APITokenID             string
}

// AssignPermission implements the permission-assignment mutation of §4.5,
// enforcing I2 (scope presence must match the permission's has_scope) and
// I4 (the hive system's own assignments are immutable by the API).
func (s *Services) AssignPermission(ctx context.Context, caller Caller, in AssignPermissionInput) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := s.now()

		if in.SystemID == HiveSystemID {
			return selfPreservation()
		}

		def, err := s.Store.GetPermissionDef(ctx, tx, in.SystemID, in.PermID)
		if err != nil {
			return hiveerr.Wrap(hiveerr.KeyDB, 500, err)
		}

		eval := s.EvaluatorFor(tx, caller, HiveSystemID, now)
		required := scope.Scoped(PermAssignPerms, scope.Concrete(in.SystemID))
		if err := eval.Require(ctx, required, hiveerr.KeyForbidden); err != nil {
			return err
		}
		if def == nil {
			return hiveerr.ForKey(hiveerr.KeyForbidden)
		}

		if def.HasScope && in.Scope == "" {
			return hiveerr.ForKey(hiveerr.KeyPermissionAssignmentScopeMiss)
		}
		if !def.HasScope && in.Scope != "" {
			return hiveerr.ForKey(hiveerr.KeyPermissionAssignmentScopeExtra)
		}

		id := NewUUID()
		var scopePtr *string
		if in.Scope != "" {
			scopePtr = &in.Scope
		}
		assignment := store.PermissionAssignment{
			UUID: id, SystemID: in.SystemID, PermID: in.PermID, Scope: scopePtr,
			GroupID: in.GroupID, GroupDomain: in.GroupDomain, APITokenID: in.APITokenID,
		}
		if err := s.Store.InsertPermissionAssignment(ctx, tx, assignment); err != nil {
			return translateUniqueViolation(err, hiveerr.KeyPermissionAssignmentDuplicate)
		}

		return audit.Insert(ctx, tx, auditEvent(caller, audit.ActionCreate, "permission-assignment", id, now,
			audit.Details{New: map[string]any{
				"system_id": in.SystemID, "perm_id": in.PermID, "scope": in.Scope,
				"group_id": in.GroupID, "group_domain": in.GroupDomain, "api_token_id": in.APITokenID,
			}}))
	})
}

// UnassignPermission implements the permission-unassignment mutation,
// refusing to touch the root group's hive-permission assignments (§4.5
// self-preservation: "unassigning a root-group hive-permission assignment").
func (s *Services) UnassignPermission(ctx context.Context, caller Caller, assignmentUUID, systemID, groupID, groupDomain string) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := s.now()

		if systemID == HiveSystemID && groupID == RootGroupID && groupDomain == RootGroupDomain {
			return selfPreservation()
		}

		eval := s.EvaluatorFor(tx, caller, HiveSystemID, now)
		required := scope.Scoped(PermAssignPerms, scope.Concrete(systemID))
		if err := eval.Require(ctx, required, hiveerr.KeyForbidden); err != nil {
			return err
		}

		deleted, err := s.Store.DeleteAssignment(ctx, tx, assignmentUUID)
		if err != nil {
			return hiveerr.Wrap(hiveerr.KeyDB, 500, err)
		}
		if !deleted {
			return hiveerr.ForKey(hiveerr.KeyForbidden)
		}

		return audit.Insert(ctx, tx, auditEvent(caller, audit.ActionDelete, "permission-assignment", assignmentUUID, now, audit.Details{}))
	})
}
