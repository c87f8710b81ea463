package services

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/datasektionen/hive-sub000/internal/hive/audit"
	"github.com/datasektionen/hive-sub000/internal/hive/hiveerr"
	"github.com/datasektionen/hive-sub000/internal/hive/scope"
	"github.com/datasektionen/hive-sub000/internal/hive/store"
)

// CreateSystem implements system creation, gated on manage-systems (§4.1).
func (s *Services) CreateSystem(ctx context.Context, caller Caller, id, description string) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := s.now()

		eval := s.EvaluatorFor(tx, caller, HiveSystemID, now)
		if err := eval.Require(ctx, scope.Unscoped(PermManageSystems), hiveerr.KeyForbidden); err != nil {
			return err
		}

		// UpsertSystem never raises a unique violation, so an existing id is
		// checked for here rather than silently overwritten.
		existing, err := s.Store.GetSystem(ctx, tx, id)
		if err != nil {
			return hiveerr.Wrap(hiveerr.KeyDB, 500, err)
		}
		if existing != nil {
			return hiveerr.ForKey(hiveerr.KeySystemIDDuplicate)
		}
		if err := s.Store.UpsertSystem(ctx, tx, id, description); err != nil {
			return translateUniqueViolation(err, hiveerr.KeySystemIDDuplicate)
		}

		return audit.Insert(ctx, tx, auditEvent(caller, audit.ActionCreate, "system", id, now,
			audit.Details{New: map[string]any{"description": description}}))
	})
}

// DeleteSystem implements system deletion, refusing to delete the hive
// system itself (I4, §4.5 self-preservation).
func (s *Services) DeleteSystem(ctx context.Context, caller Caller, id string) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := s.now()

		if id == HiveSystemID {
			return selfPreservation()
		}

		eval := s.EvaluatorFor(tx, caller, HiveSystemID, now)
		if err := eval.Require(ctx, scope.Scoped(PermManageSystem, scope.Concrete(id)), hiveerr.KeyForbidden); err != nil {
			return err
		}

		deleted, err := s.Store.DeleteSystem(ctx, tx, id)
		if err != nil {
			return hiveerr.Wrap(hiveerr.KeyDB, 500, err)
		}
		if !deleted {
			return hiveerr.ForKey(hiveerr.KeyForbidden)
		}

		return audit.Insert(ctx, tx, auditEvent(caller, audit.ActionDelete, "system", id, now, audit.Details{}))
	})
}

// CreateAPIToken implements API token creation, returning the plaintext
// secret (a UUID) exactly once; only its hash is ever persisted.
func (s *Services) CreateAPIToken(ctx context.Context, caller Caller, systemID, description string) (secret string, tokenID string, err error) {
	secret = NewUUID()
	tokenID = NewUUID()

	err = s.Store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := s.now()

		eval := s.EvaluatorFor(tx, caller, HiveSystemID, now)
		if err := eval.Require(ctx, scope.Scoped(PermManageSystem, scope.Concrete(systemID)), hiveerr.KeyForbidden); err != nil {
			return err
		}

		t := store.APIToken{UUID: tokenID, SystemID: systemID, Description: description}
		if err := s.Store.InsertAPIToken(ctx, tx, t, store.HashSecret(secret)); err != nil {
			return translateUniqueViolation(err, hiveerr.KeyAPITokenDescriptionAmbiguous)
		}

		return audit.Insert(ctx, tx, auditEvent(caller, audit.ActionCreate, "api-token", tokenID, now,
			audit.Details{New: map[string]any{"system_id": systemID, "description": description}}))
	})
	if err != nil {
		return "", "", err
	}
	return secret, tokenID, nil
}

// DeleteAPIToken implements API token deletion.
func (s *Services) DeleteAPIToken(ctx context.Context, caller Caller, systemID, tokenID string) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := s.now()

		eval := s.EvaluatorFor(tx, caller, HiveSystemID, now)
		if err := eval.Require(ctx, scope.Scoped(PermManageSystem, scope.Concrete(systemID)), hiveerr.KeyForbidden); err != nil {
			return err
		}

		deleted, err := s.Store.DeleteAPIToken(ctx, tx, tokenID)
		if err != nil {
			return hiveerr.Wrap(hiveerr.KeyDB, 500, err)
		}
		if !deleted {
			return hiveerr.ForKey(hiveerr.KeyForbidden)
		}

		return audit.Insert(ctx, tx, auditEvent(caller, audit.ActionDelete, "api-token", tokenID, now, audit.Details{}))
	})
}

// Impersonate records the audit entry for a successful impersonation
// (§4.4 step 3, audit action kind "impersonate").
func (s *Services) Impersonate(ctx context.Context, tokenID, originalSystem, targetSystem string) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return audit.Insert(ctx, tx, audit.Event{
			ActionKind:    audit.ActionImpersonate,
			TargetKind:    "system",
			TargetID:      targetSystem,
			ActorUsername: "token:" + tokenID,
			Stamp:         s.now(),
			Details:       audit.Details{Old: map[string]any{"system_id": originalSystem}, New: map[string]any{"system_id": targetSystem}},
		})
	})
}
