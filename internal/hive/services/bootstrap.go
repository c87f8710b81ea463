package services

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/datasektionen/hive-sub000/internal/hive/audit"
	"github.com/datasektionen/hive-sub000/internal/hive/hiveerr"
	"github.com/datasektionen/hive-sub000/internal/hive/membership"
)

// farFuture is the effectively-infinite until_date a bootstrap membership is
// granted, matching the convention the root group's other long-lived
// memberships use.
var farFuture = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)

// BootstrapRootManagerIfEmpty implements I3's "first-ever bootstrap exempt"
// clause: a successful login is the only sanctioned way Hive ever acquires
// its first root manager. If the root group currently has zero current
// managers, username is granted a direct, manager=true membership with an
// effectively-infinite end date; every call after that is a no-op, since no
// authority check could otherwise pass against an empty root group.
func (s *Services) BootstrapRootManagerIfEmpty(ctx context.Context, username string) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := s.now()
		count, err := s.Store.CountCurrentRootManagers(ctx, tx, RootGroupID, RootGroupDomain, now, "")
		if err != nil {
			return hiveerr.Wrap(hiveerr.KeyDB, 500, err)
		}
		if count > 0 {
			return nil
		}

		id := NewUUID()
		if err := s.Store.InsertDirectMembership(ctx, tx, id, username, RootGroupID, RootGroupDomain, now, farFuture, true); err != nil {
			return hiveerr.Wrap(hiveerr.KeyDB, 500, err)
		}

		caller := Caller{Username: username}
		return audit.Insert(ctx, tx, auditEvent(caller, audit.ActionCreate, "direct-membership", id, now,
			audit.Details{New: map[string]any{
				"username":  username,
				"group":     membership.GroupKey{ID: RootGroupID, Domain: RootGroupDomain},
				"manager":   true,
				"bootstrap": true,
			}}))
	})
}
