package services

import (
	"context"

	"github.com/datasektionen/hive-sub000/internal/hive/scope"
)

// CanImpersonate answers whether tokenID holds api-impersonate-system with
// a scope covering targetSystem, on the hive system (§4.4's impersonation
// step). Satisfies apiauth.ImpersonationChecker.
func (s *Services) CanImpersonate(ctx context.Context, tokenID, targetSystem string) (bool, error) {
	eval := s.EvaluatorFor(s.Store, Caller{TokenID: tokenID}, HiveSystemID, s.now())
	required := scope.Scoped(PermAPIImpersonateSystem, scope.Concrete(targetSystem))
	return eval.Satisfies(ctx, required)
}
