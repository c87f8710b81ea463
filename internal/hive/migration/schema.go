package migration

import "database/sql"

// Migrations returns the ordered set of schema migrations for the Hive
// store (§3). Exposed as a function rather than a package var so main can
// pass it straight to NewRunner without a shared mutable slice.
func Migrations() []Migration {
	return []Migration{
		{Version: 1, Description: "bootstrap core schema", Up: upBootstrap},
		{Version: 2, Description: "integration task runs and logs", Up: upIntegration},
		{Version: 3, Description: "audit entries", Up: upAudit},
	}
}

func upBootstrap(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE systems (
			id          TEXT PRIMARY KEY,
			description TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE groups (
			id             TEXT NOT NULL,
			domain         TEXT NOT NULL,
			name_sv        TEXT NOT NULL DEFAULT '',
			name_en        TEXT NOT NULL DEFAULT '',
			description_sv TEXT NOT NULL DEFAULT '',
			description_en TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (id, domain)
		)`,
		`CREATE TABLE direct_memberships (
			uuid         TEXT PRIMARY KEY,
			username     TEXT NOT NULL,
			group_id     TEXT NOT NULL,
			group_domain TEXT NOT NULL,
			from_date    DATE NOT NULL,
			until_date   DATE NOT NULL,
			manager      BOOLEAN NOT NULL DEFAULT FALSE,
			FOREIGN KEY (group_id, group_domain) REFERENCES groups (id, domain)
		)`,
		`CREATE INDEX direct_memberships_lookup ON direct_memberships (username, group_id, group_domain)`,
		`CREATE INDEX direct_memberships_group ON direct_memberships (group_id, group_domain)`,
		`CREATE TABLE subgroup_edges (
			parent_id     TEXT NOT NULL,
			parent_domain TEXT NOT NULL,
			child_id      TEXT NOT NULL,
			child_domain  TEXT NOT NULL,
			manager       BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (parent_id, parent_domain, child_id, child_domain),
			FOREIGN KEY (parent_id, parent_domain) REFERENCES groups (id, domain),
			FOREIGN KEY (child_id, child_domain) REFERENCES groups (id, domain)
		)`,
		`CREATE INDEX subgroup_edges_child ON subgroup_edges (child_id, child_domain)`,
		`CREATE TABLE permission_defs (
			system_id   TEXT NOT NULL REFERENCES systems (id),
			perm_id     TEXT NOT NULL,
			has_scope   BOOLEAN NOT NULL DEFAULT FALSE,
			description TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (system_id, perm_id)
		)`,
		`CREATE TABLE permission_assignments (
			uuid         TEXT PRIMARY KEY,
			system_id    TEXT NOT NULL,
			perm_id      TEXT NOT NULL,
			scope        TEXT,
			group_id     TEXT,
			group_domain TEXT,
			api_token_id TEXT,
			FOREIGN KEY (system_id, perm_id) REFERENCES permission_defs (system_id, perm_id),
			FOREIGN KEY (group_id, group_domain) REFERENCES groups (id, domain),
			CHECK ((group_id IS NOT NULL) <> (api_token_id IS NOT NULL))
		)`,
		`CREATE UNIQUE INDEX permission_assignments_group_unique ON permission_assignments
			(system_id, perm_id, group_id, group_domain, COALESCE(scope, '')) WHERE group_id IS NOT NULL`,
		`CREATE UNIQUE INDEX permission_assignments_token_unique ON permission_assignments
			(system_id, perm_id, api_token_id, COALESCE(scope, '')) WHERE api_token_id IS NOT NULL`,
		`CREATE INDEX permission_assignments_group_lookup ON permission_assignments (group_id, group_domain, system_id)`,
		`CREATE INDEX permission_assignments_token_lookup ON permission_assignments (api_token_id, system_id)`,
		`CREATE TABLE tag_defs (
			system_id       TEXT NOT NULL REFERENCES systems (id),
			tag_id          TEXT NOT NULL,
			has_content     BOOLEAN NOT NULL DEFAULT FALSE,
			supports_groups BOOLEAN NOT NULL DEFAULT FALSE,
			supports_users  BOOLEAN NOT NULL DEFAULT FALSE,
			self_service    BOOLEAN NOT NULL DEFAULT FALSE,
			description     TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (system_id, tag_id)
		)`,
		`CREATE TABLE tag_assignments (
			uuid         TEXT PRIMARY KEY,
			system_id    TEXT NOT NULL,
			tag_id       TEXT NOT NULL,
			content      TEXT,
			group_id     TEXT,
			group_domain TEXT,
			username     TEXT NOT NULL DEFAULT '',
			FOREIGN KEY (system_id, tag_id) REFERENCES tag_defs (system_id, tag_id),
			FOREIGN KEY (group_id, group_domain) REFERENCES groups (id, domain),
			CHECK ((group_id IS NOT NULL) <> (username <> ''))
		)`,
		`CREATE INDEX tag_assignments_group_lookup ON tag_assignments (system_id, tag_id, group_id, group_domain)`,
		`CREATE INDEX tag_assignments_user_lookup ON tag_assignments (system_id, tag_id, username)`,
		`CREATE TABLE api_tokens (
			uuid         TEXT PRIMARY KEY,
			secret_hash  TEXT NOT NULL UNIQUE,
			system_id    TEXT NOT NULL REFERENCES systems (id),
			description  TEXT NOT NULL DEFAULT '',
			expires_at   TIMESTAMPTZ,
			last_used_at TIMESTAMPTZ,
			UNIQUE (system_id, description)
		)`,
	}
	return execAll(tx, stmts)
}

func upIntegration(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE integration_task_runs (
			run_id         TEXT PRIMARY KEY,
			integration_id TEXT NOT NULL,
			task_id        TEXT NOT NULL,
			start_stamp    TIMESTAMPTZ NOT NULL,
			end_stamp      TIMESTAMPTZ,
			succeeded      BOOLEAN
		)`,
		`CREATE UNIQUE INDEX integration_task_runs_in_flight ON integration_task_runs
			(integration_id, task_id) WHERE end_stamp IS NULL`,
		`CREATE TABLE integration_task_logs (
			id      BIGSERIAL PRIMARY KEY,
			run_id  TEXT NOT NULL REFERENCES integration_task_runs (run_id),
			kind    TEXT NOT NULL,
			stamp   TIMESTAMPTZ NOT NULL,
			message TEXT NOT NULL
		)`,
		`CREATE INDEX integration_task_logs_run ON integration_task_logs (run_id)`,
	}
	return execAll(tx, stmts)
}

func upAudit(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE audit_entries (
			id             BIGSERIAL PRIMARY KEY,
			action_kind    TEXT NOT NULL,
			target_kind    TEXT NOT NULL,
			target_id      TEXT NOT NULL,
			actor_username TEXT NOT NULL,
			stamp          TIMESTAMPTZ NOT NULL,
			details        JSONB NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX audit_entries_stamp ON audit_entries (stamp DESC)`,
		`CREATE INDEX audit_entries_target ON audit_entries (target_kind, target_id)`,
	}
	return execAll(tx, stmts)
}

func execAll(tx *sql.Tx, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
