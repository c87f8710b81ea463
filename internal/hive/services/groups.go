package services

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/datasektionen/hive-sub000/internal/hive/audit"
	"github.com/datasektionen/hive-sub000/internal/hive/hiveerr"
	"github.com/datasektionen/hive-sub000/internal/hive/membership"
	"github.com/datasektionen/hive-sub000/internal/hive/scope"
	"github.com/datasektionen/hive-sub000/internal/hive/store"
)

// GroupInput describes a group's editable display metadata.
type GroupInput struct {
	ID, Domain                   string
	NameSV, NameEN               string
	DescriptionSV, DescriptionEN string
}

// CreateGroup implements group creation, gated on manage-groups (§4.1) since
// a not-yet-existing group has no authority chain of its own to check
// against. Duplicate (id, domain) is translated to group.key.duplicate.
func (s *Services) CreateGroup(ctx context.Context, caller Caller, in GroupInput) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := s.now()

		eval := s.EvaluatorFor(tx, caller, HiveSystemID, now)
		if err := eval.Require(ctx, scope.Unscoped(PermManageGroups), hiveerr.KeyForbidden); err != nil {
			return err
		}

		g := store.Group{ID: in.ID, Domain: in.Domain, NameSV: in.NameSV, NameEN: in.NameEN,
			DescriptionSV: in.DescriptionSV, DescriptionEN: in.DescriptionEN}
		if err := s.Store.InsertGroup(ctx, tx, g); err != nil {
			return translateUniqueViolation(err, hiveerr.KeyGroupKeyDuplicate)
		}

		return audit.Insert(ctx, tx, auditEvent(caller, audit.ActionCreate, "group", in.ID+"@"+in.Domain, now,
			audit.Details{New: map[string]any{"name_sv": in.NameSV, "name_en": in.NameEN}}))
	})
}

// UpdateGroup edits an existing group's display metadata, requiring full
// authority over it (the same bar AddSubgroup requires).
func (s *Services) UpdateGroup(ctx context.Context, caller Caller, in GroupInput) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := s.now()
		target := membership.GroupKey{ID: in.ID, Domain: in.Domain}

		existing, err := s.Store.GetGroup(ctx, tx, in.ID, in.Domain)
		if err != nil {
			return hiveerr.Wrap(hiveerr.KeyDB, 500, err)
		}

		eff, err := s.effectiveGroups(ctx, tx, caller, now)
		if err != nil {
			return hiveerr.Wrap(hiveerr.KeyDB, 500, err)
		}
		eval := s.EvaluatorFor(tx, caller, HiveSystemID, now)
		auth, err := s.authorityIn(ctx, tx, eval, eff, target)
		if err != nil {
			return hiveerr.Wrap(hiveerr.KeyDB, 500, err)
		}
		if err := requireAuthority(auth, membership.AuthorityFullyAuthorized); err != nil {
			return err
		}
		if existing == nil {
			return hiveerr.ForKey(hiveerr.KeyGroupUnknown)
		}

		g := store.Group{ID: in.ID, Domain: in.Domain, NameSV: in.NameSV, NameEN: in.NameEN,
			DescriptionSV: in.DescriptionSV, DescriptionEN: in.DescriptionEN}
		updated, err := s.Store.UpdateGroup(ctx, tx, g)
		if err != nil {
			return hiveerr.Wrap(hiveerr.KeyDB, 500, err)
		}
		if !updated {
			return hiveerr.ForKey(hiveerr.KeyGroupUnknown)
		}

		return audit.Insert(ctx, tx, auditEvent(caller, audit.ActionUpdate, "group", in.ID+"@"+in.Domain, now,
			changedFields(existing, &g)))
	})
}

// DeleteGroup deletes a group, refusing to delete one in the internal
// domain (I4, §4.5 self-preservation).
func (s *Services) DeleteGroup(ctx context.Context, caller Caller, id, domain string) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := s.now()
		target := membership.GroupKey{ID: id, Domain: domain}

		if domain == InternalDomain {
			return selfPreservation()
		}

		eff, err := s.effectiveGroups(ctx, tx, caller, now)
		if err != nil {
			return hiveerr.Wrap(hiveerr.KeyDB, 500, err)
		}
		eval := s.EvaluatorFor(tx, caller, HiveSystemID, now)
		auth, err := s.authorityIn(ctx, tx, eval, eff, target)
		if err != nil {
			return hiveerr.Wrap(hiveerr.KeyDB, 500, err)
		}
		if err := requireAuthority(auth, membership.AuthorityFullyAuthorized); err != nil {
			return err
		}

		deleted, err := s.Store.DeleteGroup(ctx, tx, id, domain)
		if err != nil {
			return hiveerr.Wrap(hiveerr.KeyDB, 500, err)
		}
		if !deleted {
			return hiveerr.ForKey(hiveerr.KeyGroupUnknown)
		}

		return audit.Insert(ctx, tx, auditEvent(caller, audit.ActionDelete, "group", id+"@"+domain, now, audit.Details{}))
	})
}

// changedFields builds an audit.Details listing only the fields of a
// group's display metadata that differ between before and after.
func changedFields(before *store.Group, after *store.Group) audit.Details {
	old := map[string]any{}
	newv := map[string]any{}
	if before.NameSV != after.NameSV {
		old["name_sv"], newv["name_sv"] = before.NameSV, after.NameSV
	}
	if before.NameEN != after.NameEN {
		old["name_en"], newv["name_en"] = before.NameEN, after.NameEN
	}
	if before.DescriptionSV != after.DescriptionSV {
		old["description_sv"], newv["description_sv"] = before.DescriptionSV, after.DescriptionSV
	}
	if before.DescriptionEN != after.DescriptionEN {
		old["description_en"], newv["description_en"] = before.DescriptionEN, after.DescriptionEN
	}
	return audit.Details{Old: old, New: newv}
}

// AddSubgroupInput describes an addSubgroup(parent, child) call.
type AddSubgroupInput struct {
	ParentID, ParentDomain string
	ChildID, ChildDomain   string
	Manager                bool
}

// AddSubgroup implements the subgroup-insertion operation of §4.3/§4.5:
// authorize, detect cycles against the existing closure, insert, audit.
// Boundary scenario 4: an attempt that would cycle returns
// group.add.subgroup.invalid with status 400.
func (s *Services) AddSubgroup(ctx context.Context, caller Caller, in AddSubgroupInput) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := s.now()
		parent := membership.GroupKey{ID: in.ParentID, Domain: in.ParentDomain}
		child := membership.GroupKey{ID: in.ChildID, Domain: in.ChildDomain}

		eff, err := s.effectiveGroups(ctx, tx, caller, now)
		if err != nil {
			return hiveerr.Wrap(hiveerr.KeyDB, 500, err)
		}
		eval := s.EvaluatorFor(tx, caller, HiveSystemID, now)
		auth, err := s.authorityIn(ctx, tx, eval, eff, parent)
		if err != nil {
			return hiveerr.Wrap(hiveerr.KeyDB, 500, err)
		}
		if err := requireAuthority(auth, membership.AuthorityFullyAuthorized); err != nil {
			return err
		}

		edges, err := s.Store.AllSubgroupEdges(ctx, tx)
		if err != nil {
			return hiveerr.Wrap(hiveerr.KeyDB, 500, err)
		}
		if membership.WouldCycle(edges, parent, child) {
			return hiveerr.ForKey(hiveerr.KeyGroupAddSubgroupInvalid)
		}
		for _, e := range edges {
			if e.Parent == parent && e.Child == child {
				return hiveerr.ForKey(hiveerr.KeyGroupAddSubgroupDuplicate)
			}
		}

		if err := s.Store.InsertSubgroupEdge(ctx, tx, in.ParentID, in.ParentDomain, in.ChildID, in.ChildDomain, in.Manager); err != nil {
			return translateUniqueViolation(err, hiveerr.KeyGroupAddSubgroupDuplicate)
		}

		return audit.Insert(ctx, tx, auditEvent(caller, audit.ActionCreate, "subgroup-edge",
			in.ParentID+"@"+in.ParentDomain+"<-"+in.ChildID+"@"+in.ChildDomain, now,
			audit.Details{New: map[string]any{"parent": parent, "child": child, "manager": in.Manager}}))
	})
}

// AddMemberInput describes an addMember call.
type AddMemberInput struct {
	UUID, Username         string
	GroupID, GroupDomain   string
	From, Until            string // dates as YYYY-MM-DD
	Manager                bool
}

// RemoveMember implements the last-root-manager self-preservation check
// (I3, P6, boundary scenario 5): refusing to delete a membership that would
// leave the root group with zero current managers.
//
// Open Question resolution (§9): the "last_root_member" check is evaluated
// by counting current root managers *excluding* the membership row being
// deleted, rather than relying on read-committed visibility of an
// as-yet-uncommitted DELETE. This makes the check correct regardless of
// isolation level, and is the explicit semantics DESIGN.md records for this
// Open Question.
func (s *Services) RemoveMember(ctx context.Context, caller Caller, membershipUUID, groupID, groupDomain string) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := s.now()
		target := membership.GroupKey{ID: groupID, Domain: groupDomain}

		eff, err := s.effectiveGroups(ctx, tx, caller, now)
		if err != nil {
			return hiveerr.Wrap(hiveerr.KeyDB, 500, err)
		}
		eval := s.EvaluatorFor(tx, caller, HiveSystemID, now)
		auth, err := s.authorityIn(ctx, tx, eval, eff, target)
		if err != nil {
			return hiveerr.Wrap(hiveerr.KeyDB, 500, err)
		}
		if err := requireAuthority(auth, membership.AuthorityManageMembers); err != nil {
			return err
		}

		if groupID == RootGroupID && groupDomain == RootGroupDomain {
			remaining, err := s.Store.CountCurrentRootManagers(ctx, tx, RootGroupID, RootGroupDomain, now, membershipUUID)
			if err != nil {
				return hiveerr.Wrap(hiveerr.KeyDB, 500, err)
			}
			if remaining == 0 {
				return selfPreservation()
			}
		}

		deleted, err := s.Store.DeleteDirectMembership(ctx, tx, membershipUUID)
		if err != nil {
			return hiveerr.Wrap(hiveerr.KeyDB, 500, err)
		}
		if !deleted {
			return hiveerr.ForKey(hiveerr.KeyGroupForbidden)
		}

		return audit.Insert(ctx, tx, auditEvent(caller, audit.ActionDelete, "direct-membership", membershipUUID, now,
			audit.Details{Old: map[string]any{"group": target}}))
	})
}

// AddMember implements the membership-creation operation of §4.5.
func (s *Services) AddMember(ctx context.Context, caller Caller, in AddMemberInput) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := s.now()
		target := membership.GroupKey{ID: in.GroupID, Domain: in.GroupDomain}

		eff, err := s.effectiveGroups(ctx, tx, caller, now)
		if err != nil {
			return hiveerr.Wrap(hiveerr.KeyDB, 500, err)
		}
		eval := s.EvaluatorFor(tx, caller, HiveSystemID, now)
		auth, err := s.authorityIn(ctx, tx, eval, eff, target)
		if err != nil {
			return hiveerr.Wrap(hiveerr.KeyDB, 500, err)
		}
		if err := requireAuthority(auth, membership.AuthorityManageMembers); err != nil {
			return err
		}

		from, err := parseDate(in.From)
		if err != nil {
			return hiveerr.New(hiveerr.KeyGroupAddMembershipRedundant, 400)
		}
		until, err := parseDate(in.Until)
		if err != nil {
			return hiveerr.New(hiveerr.KeyGroupAddMembershipRedundant, 400)
		}

		id := in.UUID
		if id == "" {
			id = NewUUID()
		}
		if err := s.Store.InsertDirectMembership(ctx, tx, id, in.Username, in.GroupID, in.GroupDomain, from, until, in.Manager); err != nil {
			return translateUniqueViolation(err, hiveerr.KeyGroupAddMembershipRedundant)
		}

		return audit.Insert(ctx, tx, auditEvent(caller, audit.ActionCreate, "direct-membership", id, now,
			audit.Details{New: map[string]any{"username": in.Username, "group": target, "manager": in.Manager}}))
	})
}

// GroupsCoveringOwnedBy exposes membership.Resolve to callers that already
// hold the effective groups and subgroup edges (used by the Google
// directory sync integration to compute owned direct members of a group).
func GroupsCoveringOwnedBy(direct []membership.DirectMembership, edges []membership.SubgroupEdge) []membership.Effective {
	return membership.Resolve(direct, edges)
}

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}
