package api

import (
	"context"
	"time"

	"github.com/datasektionen/hive-sub000/internal/hive/hiveerr"
	"github.com/datasektionen/hive-sub000/internal/hive/scope"
	"github.com/datasektionen/hive-sub000/internal/hive/store"
)

// target identifies who a `/user/{u}/...` or `/token/{secret}/...` query is
// about — exactly one of username or tokenID is set. Tokens don't inherit
// permissions via group membership, so every lookup in this file branches
// on which one it is (mirrors the userLoader/tokenLoader split in
// services.EvaluatorFor).
type target struct {
	username string
	tokenID  string
}

func userTarget(username string) target { return target{username: username} }

// resolveTokenTarget hashes secret and looks up the token it names. This is
// "inspect an arbitrary token" (the secret is a URL path segment, not the
// caller's own credential) — distinct from apiauth's bearer-token consumer
// authentication, which never touches this function.
func (s *Server) resolveTokenTarget(ctx context.Context, secret string) (target, *hiveerr.Error) {
	t, err := s.services.Store.GetTokenBySecretHash(ctx, s.services.Store, store.HashSecret(secret))
	if err != nil {
		return target{}, asHiveErr(err)
	}
	if t == nil {
		return target{}, hiveerr.ForKey(hiveerr.KeyAPITokenUnknown)
	}
	return target{tokenID: t.UUID}, nil
}

func (s *Server) allAssignments(ctx context.Context, tg target, systemID string, now time.Time) ([]scope.HeldPermission, error) {
	if tg.tokenID != "" {
		return s.services.Store.AllAssignmentsForToken(ctx, s.services.Store, tg.tokenID, systemID)
	}
	return s.services.Store.AllAssignmentsForUserOnDate(ctx, s.services.Store, tg.username, systemID, now)
}

func (s *Server) allAssignmentsAcrossSystems(ctx context.Context, tg target, now time.Time) (map[string][]scope.HeldPermission, error) {
	if tg.tokenID != "" {
		return s.services.Store.AllAssignmentsForTokenAcrossSystems(ctx, s.services.Store, tg.tokenID)
	}
	return s.services.Store.AllAssignmentsForUserAcrossSystems(ctx, s.services.Store, tg.username, now)
}

func (s *Server) assignmentsForPerm(ctx context.Context, tg target, systemID, permID string, now time.Time) ([]scope.HeldPermission, error) {
	if tg.tokenID != "" {
		return s.services.Store.AssignmentsForPermByToken(ctx, s.services.Store, tg.tokenID, systemID, permID)
	}
	return s.services.Store.AssignmentsForPermOnDate(ctx, s.services.Store, tg.username, systemID, permID, now)
}
