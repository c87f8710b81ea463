package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// IntegrationTaskRun is one row of §3's integration task run entity.
type IntegrationTaskRun struct {
	RunID         string
	IntegrationID string
	TaskID        string
	StartStamp    time.Time
	EndStamp      *time.Time
	Succeeded     *bool
}

// LogKind discriminates integration task log entries.
type LogKind string

const (
	LogError   LogKind = "error"
	LogWarning LogKind = "warning"
	LogInfo    LogKind = "info"
)

// IntegrationTaskLog is one row of §3's integration task log entity.
type IntegrationTaskLog struct {
	RunID   string
	Kind    LogKind
	Stamp   time.Time
	Message string
}

// ErrRunInFlight is returned by StartRun when a prior unfinished run of the
// same (integration, task) already exists — the caller treats this as a
// silent skip (§4.6 step 1, property P7).
var ErrRunInFlight = errInFlight{}

type errInFlight struct{}

func (errInFlight) Error() string { return "integration: a run is already in flight" }

// StartRun inserts a new run row. The schema enforces at most one
// unfinished run per (integration_id, task_id) via a partial unique index
// on (integration_id, task_id) WHERE end_stamp IS NULL; a unique-violation
// here is translated to ErrRunInFlight.
func (s *Store) StartRun(ctx context.Context, runID, integrationID, taskID string, start time.Time) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO integration_task_runs (run_id, integration_id, task_id, start_stamp)
		VALUES ($1, $2, $3, $4)`, runID, integrationID, taskID, start)
	if isUniqueViolation(err) {
		return ErrRunInFlight
	}
	return err
}

// FinishRun completes a run and bulk-inserts its accumulated log entries in
// one transaction (§4.6 step 4).
func (s *Store) FinishRun(ctx context.Context, runID string, end time.Time, succeeded bool, logs []IntegrationTaskLog) error {
	return s.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE integration_task_runs SET end_stamp = $2, succeeded = $3 WHERE run_id = $1`,
			runID, end, succeeded); err != nil {
			return err
		}
		for _, l := range logs {
			if _, err := tx.Exec(ctx, `INSERT INTO integration_task_logs (run_id, kind, stamp, message)
				VALUES ($1, $2, $3, $4)`, runID, string(l.Kind), l.Stamp, l.Message); err != nil {
				return err
			}
		}
		return nil
	})
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr interface{ SQLState() string }
	if ok := asPgError(err, &pgErr); ok {
		return pgErr.SQLState() == "23505"
	}
	return false
}

// asPgError is a narrow errors.As shim kept local so this file doesn't need
// to import the pgconn package just for one type assertion chain.
func asPgError(err error, target *interface{ SQLState() string }) bool {
	type sqlStater interface{ SQLState() string }
	for err != nil {
		if s, ok := err.(sqlStater); ok {
			*target = s
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
