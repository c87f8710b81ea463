// /api/v1/* handlers (§4.4): bearer-token consumer authentication (applied
// by apiauth.Middleware before these run), an api-check-permissions or
// api-list-tagged capability gate, then typed JSON responses.
package api

import (
	"context"
	"net/http"
	"sort"

	"go.uber.org/zap"

	"github.com/datasektionen/hive-sub000/internal/hive/apiauth"
	"github.com/datasektionen/hive-sub000/internal/hive/hiveerr"
	"github.com/datasektionen/hive-sub000/internal/hive/membership"
	"github.com/datasektionen/hive-sub000/internal/hive/resolver"
	"github.com/datasektionen/hive-sub000/internal/hive/scope"
	"github.com/datasektionen/hive-sub000/internal/hive/services"
)

// requireCapability enforces the "every API handler requires
// api.check-permissions or api.list-tagged" rule of §4.4, scoped to the
// consumer's own system.
func (s *Server) requireCapability(ctx context.Context, consumer *apiauth.Consumer, permID string) *hiveerr.Error {
	eval := s.services.EvaluatorFor(s.services.Store, services.Caller{TokenID: consumer.TokenID}, services.HiveSystemID, s.now())
	required := scope.Scoped(permID, scope.Concrete(consumer.SystemID))
	if err := eval.Require(ctx, required, hiveerr.KeyForbidden); err != nil {
		return asHiveErr(err)
	}
	return nil
}

func (s *Server) v1Target(w http.ResponseWriter, r *http.Request) (target, bool) {
	if u := r.PathValue("u"); u != "" {
		return userTarget(u), true
	}
	tg, herr := s.resolveTokenTarget(r.Context(), r.PathValue("secret"))
	if herr != nil {
		renderError(w, r, herr)
		return target{}, false
	}
	return tg, true
}

func (s *Server) v1Permissions(w http.ResponseWriter, r *http.Request) {
	consumer := apiauth.FromContext(r.Context())
	if herr := s.requireCapability(r.Context(), consumer, services.PermAPICheckPermissions); herr != nil {
		renderError(w, r, herr)
		return
	}
	tg, ok := s.v1Target(w, r)
	if !ok {
		return
	}

	held, err := s.allAssignments(r.Context(), tg, consumer.SystemID, s.now())
	if err != nil {
		renderError(w, r, asHiveErr(err))
		return
	}
	writeJSON(w, http.StatusOK, v1PermissionRows(held))
}

type permissionRow struct {
	ID    string  `json:"id"`
	Scope *string `json:"scope,omitempty"`
}

func v1PermissionRows(held []scope.HeldPermission) []permissionRow {
	out := make([]permissionRow, 0, len(held))
	for _, h := range held {
		row := permissionRow{ID: h.PermID}
		if h.Scope != nil {
			v := h.Scope.String()
			row.Scope = &v
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return scopeSortKey(out[i].Scope) < scopeSortKey(out[j].Scope)
	})
	return out
}

func scopeSortKey(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (s *Server) v1Holds(w http.ResponseWriter, r *http.Request) {
	consumer := apiauth.FromContext(r.Context())
	if herr := s.requireCapability(r.Context(), consumer, services.PermAPICheckPermissions); herr != nil {
		renderError(w, r, herr)
		return
	}
	tg, ok := s.v1Target(w, r)
	if !ok {
		return
	}

	permID := r.PathValue("p")
	held, err := s.assignmentsForPerm(r.Context(), tg, consumer.SystemID, permID, s.now())
	if err != nil {
		renderError(w, r, asHiveErr(err))
		return
	}
	writeJSON(w, http.StatusOK, len(held) > 0)
}

func (s *Server) v1HoldsScope(w http.ResponseWriter, r *http.Request) {
	consumer := apiauth.FromContext(r.Context())
	if herr := s.requireCapability(r.Context(), consumer, services.PermAPICheckPermissions); herr != nil {
		renderError(w, r, herr)
		return
	}
	tg, ok := s.v1Target(w, r)
	if !ok {
		return
	}

	permID := r.PathValue("p")
	sc, err := scope.Parse(r.PathValue("sigma"))
	if err != nil {
		renderError(w, r, hiveerr.ForKey(hiveerr.KeyAPIError))
		return
	}
	required := scope.Scoped(permID, sc)

	held, err := s.assignmentsForPerm(r.Context(), tg, consumer.SystemID, permID, s.now())
	if err != nil {
		renderError(w, r, asHiveErr(err))
		return
	}
	holds := false
	for _, h := range held {
		if scope.Satisfies(h, required) {
			holds = true
			break
		}
	}
	writeJSON(w, http.StatusOK, holds)
}

func (s *Server) v1Scopes(w http.ResponseWriter, r *http.Request) {
	consumer := apiauth.FromContext(r.Context())
	if herr := s.requireCapability(r.Context(), consumer, services.PermAPICheckPermissions); herr != nil {
		renderError(w, r, herr)
		return
	}
	tg, ok := s.v1Target(w, r)
	if !ok {
		return
	}

	permID := r.PathValue("p")
	held, err := s.assignmentsForPerm(r.Context(), tg, consumer.SystemID, permID, s.now())
	if err != nil {
		renderError(w, r, asHiveErr(err))
		return
	}
	var out []string
	for _, h := range held {
		if h.Scope != nil {
			out = append(out, h.Scope.String())
		}
	}
	sort.Strings(out)
	writeJSON(w, http.StatusOK, out)
}

type taggedUserRow struct {
	User        string  `json:"username"`
	DisplayName string  `json:"display_name,omitempty"`
	TagContent  *string `json:"tag_content,omitempty"`
}

// Username and SetDisplayName implement resolver.Identifiable.
func (r *taggedUserRow) Username() string          { return r.User }
func (r *taggedUserRow) SetDisplayName(name string) { r.DisplayName = name }

// taggedUserRows adapts []taggedUserRow for resolver.PopulateIdentities.
type taggedUserRows []taggedUserRow

func (rows taggedUserRows) asIdentifiable() []resolver.Identifiable {
	out := make([]resolver.Identifiable, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out
}

func (s *Server) v1TaggedUsers(w http.ResponseWriter, r *http.Request) {
	consumer := apiauth.FromContext(r.Context())
	if herr := s.requireCapability(r.Context(), consumer, services.PermAPIListTagged); herr != nil {
		renderError(w, r, herr)
		return
	}

	rows, err := s.services.Store.UsersWithTag(r.Context(), s.services.Store, consumer.SystemID, r.PathValue("tag"))
	if err != nil {
		renderError(w, r, asHiveErr(err))
		return
	}
	out := make(taggedUserRows, 0, len(rows))
	for _, row := range rows {
		out = append(out, taggedUserRow{User: row.Username, TagContent: row.Content})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].User < out[j].User })

	if s.resolver != nil {
		if err := s.resolver.PopulateIdentities(r.Context(), out.asIdentifiable()); err != nil {
			s.logger.Warn("identity resolution failed", zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, out)
}

type taggedGroupRow struct {
	GroupName   string  `json:"group_name"`
	GroupDomain string  `json:"group_domain"`
	GroupID     string  `json:"group_id"`
	TagContent  *string `json:"tag_content,omitempty"`
}

func (s *Server) taggedGroupRows(r *http.Request, consumer *apiauth.Consumer) ([]taggedGroupRow, *hiveerr.Error) {
	tagged, err := s.services.Store.GroupsWithTag(r.Context(), s.services.Store, consumer.SystemID, r.PathValue("tag"))
	if err != nil {
		return nil, asHiveErr(err)
	}
	swedish := r.URL.Query().Get("lang") == "sv"
	out := make([]taggedGroupRow, 0, len(tagged))
	for _, g := range tagged {
		name := g.NameEN
		if swedish {
			name = g.NameSV
		}
		out = append(out, taggedGroupRow{
			GroupName: name, GroupDomain: g.GroupDomain, GroupID: g.GroupID, TagContent: g.Content,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GroupDomain != out[j].GroupDomain {
			return out[i].GroupDomain < out[j].GroupDomain
		}
		return out[i].GroupID < out[j].GroupID
	})
	return out, nil
}

func (s *Server) v1TaggedGroups(w http.ResponseWriter, r *http.Request) {
	consumer := apiauth.FromContext(r.Context())
	if herr := s.requireCapability(r.Context(), consumer, services.PermAPIListTagged); herr != nil {
		renderError(w, r, herr)
		return
	}
	out, herr := s.taggedGroupRows(r, consumer)
	if herr != nil {
		renderError(w, r, herr)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) v1TaggedMemberships(w http.ResponseWriter, r *http.Request) {
	consumer := apiauth.FromContext(r.Context())
	if herr := s.requireCapability(r.Context(), consumer, services.PermAPIListTagged); herr != nil {
		renderError(w, r, herr)
		return
	}
	groups, herr := s.taggedGroupRows(r, consumer)
	if herr != nil {
		renderError(w, r, herr)
		return
	}

	now := s.now()
	eff, err := s.services.Store.EffectiveGroupsOn(r.Context(), s.services.Store, r.PathValue("u"), now)
	if err != nil {
		renderError(w, r, asHiveErr(err))
		return
	}

	out := make([]taggedGroupRow, 0, len(groups))
	for _, g := range groups {
		if _, ok := membership.Contains(eff, membership.GroupKey{ID: g.GroupID, Domain: g.GroupDomain}); ok {
			out = append(out, g)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) v1GroupMembers(w http.ResponseWriter, r *http.Request) {
	consumer := apiauth.FromContext(r.Context())
	if herr := s.requireCapability(r.Context(), consumer, services.PermAPIListTagged); herr != nil {
		renderError(w, r, herr)
		return
	}

	target := membership.GroupKey{ID: r.PathValue("id"), Domain: r.PathValue("domain")}
	ok, err := s.services.Store.GroupHasTag(r.Context(), s.services.Store, consumer.SystemID, "sync", nil, target)
	if err != nil {
		renderError(w, r, asHiveErr(err))
		return
	}
	if !ok {
		renderError(w, r, hiveerr.ForKey(hiveerr.KeyGroupForbidden))
		return
	}

	usernames, err := s.services.Store.EffectiveMembersOf(r.Context(), s.services.Store, target, s.now())
	if err != nil {
		renderError(w, r, asHiveErr(err))
		return
	}
	writeJSON(w, http.StatusOK, usernames)
}
