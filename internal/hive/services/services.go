// Package services implements the mutating business operations of §4.5:
// each wraps one DB transaction, checks authorization before touching
// state, applies the mutation, and emits exactly one audit entry before
// committing. Handlers in package api call into here; nothing in this
// package talks HTTP.
package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/datasektionen/hive-sub000/internal/hive/audit"
	"github.com/datasektionen/hive-sub000/internal/hive/evaluator"
	"github.com/datasektionen/hive-sub000/internal/hive/hiveerr"
	"github.com/datasektionen/hive-sub000/internal/hive/membership"
	"github.com/datasektionen/hive-sub000/internal/hive/scope"
	"github.com/datasektionen/hive-sub000/internal/hive/store"
)

// HiveSystemID and RootGroup identify the internal domain reserved for
// Hive's own bootstrap permissions (§3, I4).
const (
	HiveSystemID    = "hive"
	RootGroupID     = "root"
	RootGroupDomain = "hive.internal"
	InternalDomain  = "hive.internal"
)

// Hive's own permission catalogue (§4.1).
const (
	PermViewLogs             = "view-logs"
	PermManageGroups         = "manage-groups"
	PermManageMembers        = "manage-members"
	PermManageSystems        = "manage-systems"
	PermManageSystem         = "manage-system"
	PermManagePerms          = "manage-perms"
	PermAssignPerms          = "assign-perms"
	PermAssignTags           = "assign-tags"
	PermManageTags           = "manage-tags"
	PermAPICheckPermissions  = "api-check-permissions"
	PermAPIListTagged        = "api-list-tagged"
	PermAPIImpersonateSystem = "api-impersonate-system"
)

// Clock is overridable for tests; defaults to time.Now.
type Clock func() time.Time

// Caller identifies who is invoking a service operation: either an
// authenticated UI session (Username non-empty) or an API token
// (TokenID non-empty). Exactly one is set.
type Caller struct {
	Username string
	TokenID  string
}

// NewUUID is overridable for deterministic tests.
var NewUUID = func() string { return uuid.NewString() }

// Services bundles the store and clock every operation needs.
type Services struct {
	Store *store.Store
	Now   Clock
}

// New constructs a Services bound to st, defaulting Now to time.Now.
func New(st *store.Store) *Services {
	return &Services{Store: st, Now: time.Now}
}

func (s *Services) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// userLoader adapts a (username, systemID, date) binding to evaluator.Loader.
type userLoader struct {
	st       *store.Store
	q        store.Querier
	username string
	systemID string
	date     time.Time
}

func (l userLoader) LoadAssignments(ctx context.Context, permID string) ([]scope.HeldPermission, error) {
	return l.st.AssignmentsForPermOnDate(ctx, l.q, l.username, l.systemID, permID, l.date)
}

// tokenLoader adapts a (tokenID, systemID) binding to evaluator.Loader.
type tokenLoader struct {
	st       *store.Store
	q        store.Querier
	tokenID  string
	systemID string
}

func (l tokenLoader) LoadAssignments(ctx context.Context, permID string) ([]scope.HeldPermission, error) {
	return l.st.AssignmentsForPermByToken(ctx, l.q, l.tokenID, l.systemID, permID)
}

// EvaluatorFor constructs a per-request evaluator bound to caller, scoped to
// systemID, evaluated as of date d. Per §9, this is a narrow capability
// constructed once per request and passed by reference — never hidden
// behind global state.
func (s *Services) EvaluatorFor(q store.Querier, caller Caller, systemID string, d time.Time) *evaluator.Evaluator {
	if caller.TokenID != "" {
		return evaluator.New(tokenLoader{st: s.Store, q: q, tokenID: caller.TokenID, systemID: systemID})
	}
	return evaluator.New(userLoader{st: s.Store, q: q, username: caller.Username, systemID: systemID, date: d})
}

// effectiveGroups loads caller's effective groups as of d (empty for
// token-bound callers, which don't carry group membership).
func (s *Services) effectiveGroups(ctx context.Context, q store.Querier, caller Caller, d time.Time) ([]membership.Effective, error) {
	if caller.Username == "" {
		return nil, nil
	}
	return s.Store.EffectiveGroupsOn(ctx, q, caller.Username, d)
}

// authorityIn computes the caller's authority within target, combining the
// role-derived component (direct/transitive membership) with the
// permission-derived component (manage-groups / manage-members scope
// covering target), per §4.3.
func (s *Services) authorityIn(ctx context.Context, q store.Querier, eval *evaluator.Evaluator, eff []membership.Effective, target membership.GroupKey) (membership.Authority, error) {
	auth := membership.RoleDerived(eff, target)

	if ok, err := covers(ctx, s.Store, q, eval, PermManageGroups, target); err != nil {
		return auth, err
	} else if ok {
		auth = membership.Max(auth, membership.AuthorityFullyAuthorized)
	}
	if auth < membership.AuthorityManageMembers {
		if ok, err := covers(ctx, s.Store, q, eval, PermManageMembers, target); err != nil {
			return auth, err
		} else if ok {
			auth = membership.Max(auth, membership.AuthorityManageMembers)
		}
	}
	return auth, nil
}

// covers answers whether the caller holds permID (unscoped probe skipped —
// manage-groups/manage-members are always scoped) with a groups-scope
// covering target, short-circuiting on wildcard/domain before the
// tag-authority DB lookup (§4.3: "short-circuit if a cheaper scope already
// grants the needed authority").
func covers(ctx context.Context, st *store.Store, q store.Querier, eval *evaluator.Evaluator, permID string, target membership.GroupKey) (bool, error) {
	held, err := eval.AllScopesFor(ctx, permID)
	if err != nil {
		return false, err
	}
	for _, h := range held {
		if h.Scope == nil {
			continue
		}
		switch h.Scope.Kind() {
		case scope.KindWildcard:
			return true, nil
		case scope.KindDomain:
			if h.Scope.DomainValue() == target.Domain {
				return true, nil
			}
		case scope.KindTag:
			ok, err := st.GroupHasTag(ctx, q, HiveSystemID, h.Scope.TagID(), h.Scope.Content(), target)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		case scope.KindConcrete:
			if h.Scope.ID() == target.ID && target.Domain == RootGroupDomain {
				return true, nil
			}
		}
	}
	return false, nil
}

// requireAuthority enforces a minimum authority level, mapping failure to
// group.forbidden (§4.5 step 3: never not-found before the check).
func requireAuthority(got, min membership.Authority) error {
	if got < min {
		return hiveerr.ForKey(hiveerr.KeyGroupForbidden)
	}
	return nil
}

// selfPreservation returns a self-preservation error for the notable
// checks in §4.5.
func selfPreservation() error {
	return hiveerr.ForKey(hiveerr.KeySelfPreservation)
}

// translateUniqueViolation maps a unique-constraint violation to key, or
// returns the original wrapped as a db error.
func translateUniqueViolation(err error, key string) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return hiveerr.ForKey(key)
	}
	return hiveerr.Wrap(hiveerr.KeyDB, 500, err)
}

func isUniqueViolation(err error) bool {
	type sqlStater interface{ SQLState() string }
	for err != nil {
		if s, ok := err.(sqlStater); ok {
			return s.SQLState() == "23505"
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func auditEvent(caller Caller, kind audit.ActionKind, targetKind, targetID string, now time.Time, details audit.Details) audit.Event {
	actor := caller.Username
	if actor == "" {
		actor = "token:" + caller.TokenID
	}
	return audit.Event{
		ActionKind:    kind,
		TargetKind:    targetKind,
		TargetID:      targetID,
		ActorUsername: actor,
		Stamp:         now,
		Details:       details,
	}
}
