// Package membership computes effective group membership — the
// reflexive-transitive closure over direct memberships and subgroup edges —
// and the authority a caller holds within a group.
package membership

import "sort"

// GroupKey identifies a group by its composite (id, domain) key.
type GroupKey struct {
	ID     string
	Domain string
}

// DirectMembership is an active direct membership on the date the caller
// already filtered for (the temporal `from ≤ D ≤ until` filter is applied
// by the store before this package ever sees a row).
type DirectMembership struct {
	Group   GroupKey
	Manager bool
}

// SubgroupEdge means every current member of Child is transitively a member
// of Parent, preserving manager role iff Manager is set and the member is a
// manager in Child.
type SubgroupEdge struct {
	Parent  GroupKey
	Child   GroupKey
	Manager bool
}

// Effective is one group in a user's effective-membership set, annotated
// with whether the shortest path to it preserves manager authority.
type Effective struct {
	Group   GroupKey
	Manager bool
}

// Resolve computes effectiveGroups(U, D): the reflexive-transitive closure
// of direct starting points over edges, one entry per reachable group.
// Duplicate paths to the same group are deduplicated keeping the shortest;
// the manager flag recorded is the one carried by that shortest path.
func Resolve(direct []DirectMembership, edges []SubgroupEdge) []Effective {
	visited := make(map[GroupKey]bool)
	result := make(map[GroupKey]bool)

	type queued struct {
		group   GroupKey
		manager bool
	}
	var queue []queued

	for _, m := range direct {
		if visited[m.Group] {
			continue
		}
		visited[m.Group] = true
		result[m.Group] = m.Manager
		queue = append(queue, queued{m.Group, m.Manager})
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range edges {
			if e.Child != cur.group {
				continue
			}
			if visited[e.Parent] {
				continue
			}
			visited[e.Parent] = true
			manager := cur.manager && e.Manager
			result[e.Parent] = manager
			queue = append(queue, queued{e.Parent, manager})
		}
	}

	out := make([]Effective, 0, len(result))
	for g, mgr := range result {
		out = append(out, Effective{Group: g, Manager: mgr})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Group.Domain != out[j].Group.Domain {
			return out[i].Group.Domain < out[j].Group.Domain
		}
		return out[i].Group.ID < out[j].Group.ID
	})
	return out
}

// Contains reports whether g is in the effective set, and whether that
// membership carries manager authority.
func Contains(effective []Effective, g GroupKey) (manager bool, ok bool) {
	for _, e := range effective {
		if e.Group == g {
			return e.Manager, true
		}
	}
	return false, false
}

// Ancestors walks existing subgroup edges upward from start (following
// child→parent) and returns every group start is already a transitive
// subgroup of.
func Ancestors(edges []SubgroupEdge, start GroupKey) map[GroupKey]bool {
	visited := make(map[GroupKey]bool)
	queue := []GroupKey{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range edges {
			if e.Child != cur {
				continue
			}
			if visited[e.Parent] {
				continue
			}
			visited[e.Parent] = true
			queue = append(queue, e.Parent)
		}
	}
	return visited
}

// Descendants walks subgroup edges downward from start (parent→child) and
// returns every group whose members are therefore also effective members of
// start — the reverse direction of Ancestors, used to answer "who is an
// effective member of this group" rather than "which groups is this user an
// effective member of".
func Descendants(edges []SubgroupEdge, start GroupKey) map[GroupKey]bool {
	visited := make(map[GroupKey]bool)
	queue := []GroupKey{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range edges {
			if e.Parent != cur {
				continue
			}
			if visited[e.Child] {
				continue
			}
			visited[e.Child] = true
			queue = append(queue, e.Child)
		}
	}
	return visited
}

// WouldCycle reports whether inserting the subgroup edge (parent, child)
// into the graph described by edges would create a cycle: true iff parent
// is already a transitive subgroup of child (or parent == child).
//
// Cycle detection is evaluated against the *existing* closure, per the
// design note in §9: the prospective edge is checked before insertion, in
// the same transaction as the insert.
func WouldCycle(edges []SubgroupEdge, parent, child GroupKey) bool {
	if parent == child {
		return true
	}
	return Ancestors(edges, parent)[child]
}

// Authority is the ordered set of authority levels a caller may hold within
// a group: none < view < manageMembers < fullyAuthorized.
type Authority int

const (
	AuthorityNone Authority = iota
	AuthorityView
	AuthorityManageMembers
	AuthorityFullyAuthorized
)

// Max returns the higher of two authority levels.
func Max(a, b Authority) Authority {
	if a > b {
		return a
	}
	return b
}

// RoleDerived computes the role-derived authority component: membership
// with manager=true ⇒ manageMembers; plain membership ⇒ view; none ⇒ none.
func RoleDerived(effective []Effective, target GroupKey) Authority {
	manager, ok := Contains(effective, target)
	if !ok {
		return AuthorityNone
	}
	if manager {
		return AuthorityManageMembers
	}
	return AuthorityView
}
