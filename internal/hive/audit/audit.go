// Package audit implements the append-only audit trail: every mutating
// service operation emits exactly one Event inside its own transaction, so
// a rollback of the mutation implies rollback of the audit entry (P4).
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ActionKind is one of the four mutation shapes audited (§3).
type ActionKind string

const (
	ActionCreate      ActionKind = "create"
	ActionUpdate      ActionKind = "update"
	ActionDelete      ActionKind = "delete"
	ActionImpersonate ActionKind = "impersonate"
)

// Event is one audit entry (§3). Details' top-level keys are a subset of
// {old, new}; for updates, only changed fields appear (§4.5 step 5).
type Event struct {
	ActionKind    ActionKind
	TargetKind    string
	TargetID      string
	ActorUsername string
	Stamp         time.Time
	Details       Details
}

// Details is the {old?, new?} document attached to an Event.
type Details struct {
	Old map[string]any `json:"old,omitempty"`
	New map[string]any `json:"new,omitempty"`
}

// FieldDiff builds Details for an update, per §4.5 step 5: every key of
// after whose value differs from before's (or that before lacks) appears in
// New, with its previous value in Old when before had that key. Keys present
// only in before are not listed.
func FieldDiff(before, after map[string]any) Details {
	d := Details{Old: map[string]any{}, New: map[string]any{}}
	for k, av := range after {
		bv, existed := before[k]
		if existed && equalJSON(bv, av) {
			continue
		}
		d.New[k] = av
		if existed {
			d.Old[k] = bv
		}
	}
	if len(d.Old) == 0 {
		d.Old = nil
	}
	if len(d.New) == 0 {
		d.New = nil
	}
	return d
}

func equalJSON(a, b any) bool {
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return string(ab) == string(bb)
}

// Insert writes e inside tx, so it commits or rolls back atomically with
// the mutation that produced it (property P4). Every mutating service
// operation must call this exactly once before committing.
func Insert(ctx context.Context, tx pgx.Tx, e Event) error {
	raw, err := json.Marshal(e.Details)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `INSERT INTO audit_entries (action_kind, target_kind, target_id, actor_username, stamp, details)
		VALUES ($1, $2, $3, $4, $5, $6)`, string(e.ActionKind), e.TargetKind, e.TargetID, e.ActorUsername, e.Stamp, raw)
	return err
}

// Store reads the persisted audit trail (the `view-logs` capability).
// Grounded on the teacher's audit/store.go query-building shape, adapted
// from SQLite to Postgres and from an in-process ring buffer to
// store-of-record: Hive has no in-memory audit cache because every reader
// either has `view-logs` and wants durable history, or doesn't and should
// never see partial state.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps pool for audit queries.
func NewStore(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

// Recent returns the most recent n audit entries, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `SELECT action_kind, target_kind, target_id, actor_username, stamp, details
		FROM audit_entries ORDER BY stamp DESC LIMIT $1`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var kind string
		var raw []byte
		if err := rows.Scan(&kind, &e.TargetKind, &e.TargetID, &e.ActorUsername, &e.Stamp, &raw); err != nil {
			return nil, err
		}
		e.ActionKind = ActionKind(kind)
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &e.Details)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
