// Legacy /api/v0/* handlers (§4.4, §6): string-typed responses ("perm" or
// "perm:scope"), no bearer-token consumer authentication and no
// api-check-permissions capability gate beyond resolving the token in a
// `/token/{secret}/...` path — see DESIGN.md's resolution of the v0 Open
// Question in §9.
package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/datasektionen/hive-sub000/internal/hive/hiveerr"
	"github.com/datasektionen/hive-sub000/internal/hive/scope"
)

func (s *Server) v0Target(w http.ResponseWriter, r *http.Request) (target, bool) {
	if u := r.PathValue("username"); u != "" {
		return userTarget(u), true
	}
	tg, herr := s.resolveTokenTarget(r.Context(), r.PathValue("secret"))
	if herr != nil {
		renderError(w, r, herr)
		return target{}, false
	}
	return tg, true
}

func (s *Server) v0AllSystems(w http.ResponseWriter, r *http.Request) {
	tg, ok := s.v0Target(w, r)
	if !ok {
		return
	}
	bySystem, err := s.allAssignmentsAcrossSystems(r.Context(), tg, s.now())
	if err != nil {
		renderError(w, r, asHiveErr(err))
		return
	}
	out := make(map[string][]string, len(bySystem))
	for systemID, held := range bySystem {
		out[systemID] = v0PermKeys(held)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) v0OneSystem(w http.ResponseWriter, r *http.Request) {
	tg, ok := s.v0Target(w, r)
	if !ok {
		return
	}
	held, err := s.allAssignments(r.Context(), tg, r.PathValue("system"), s.now())
	if err != nil {
		renderError(w, r, asHiveErr(err))
		return
	}
	writeJSON(w, http.StatusOK, v0PermKeys(held))
}

func (s *Server) v0Check(w http.ResponseWriter, r *http.Request) {
	tg, ok := s.v0Target(w, r)
	if !ok {
		return
	}

	permID, rawScope := splitPermKey(r.PathValue("permKey"))
	held, err := s.assignmentsForPerm(r.Context(), tg, r.PathValue("system"), permID, s.now())
	if err != nil {
		renderError(w, r, asHiveErr(err))
		return
	}

	required := scope.Unscoped(permID)
	if rawScope != "" {
		sc, err := scope.Parse(rawScope)
		if err != nil {
			renderError(w, r, hiveerr.ForKey(hiveerr.KeyAPIError))
			return
		}
		required = scope.Scoped(permID, sc)
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

// splitPermKey splits a v0 permission key on its first ':' only, so
// "p:x:y:z" is permission "p" with scope "x:y:z" and "p" has no scope.
func splitPermKey(permKey string) (permID, rawScope string) {
	permID, rawScope, _ = strings.Cut(permKey, ":")
	return permID, rawScope
}

// v0PermKeys renders held permissions in the legacy "perm" / "perm:scope"
// string form, sorted for a stable response.
func v0PermKeys(held []scope.HeldPermission) []string {
	out := make([]string, 0, len(held))
	for _, h := range held {
		if h.Scope == nil {
			out = append(out, h.PermID)
		} else {
			out = append(out, h.PermID+":"+h.Scope.String())
		}
	}
	sort.Strings(out)
	return out
}
