package database

// migrations are applied in order at startup. Storage-level invariants live
// here as triggers so that even direct SQL cannot mutate locked plans,
// published snapshots, or the audit chain.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
		id          UUID PRIMARY KEY,
		code        TEXT NOT NULL UNIQUE,
		name        TEXT NOT NULL,
		status      TEXT NOT NULL DEFAULT 'ACTIVE',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS sites (
		id              UUID PRIMARY KEY,
		tenant_id       UUID NOT NULL REFERENCES tenants(id),
		site_code       TEXT NOT NULL,
		name            TEXT NOT NULL,
		publish_enabled BOOLEAN NOT NULL DEFAULT true,
		lock_enabled    BOOLEAN NOT NULL DEFAULT true,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (tenant_id, site_code)
	)`,

	// tenant_id is NULL exactly for platform-scope users; the CHECK keeps the
	// two fields agreeing.
	`CREATE TABLE IF NOT EXISTS users (
		id            UUID PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		tenant_id     UUID REFERENCES tenants(id),
		is_platform   BOOLEAN NOT NULL DEFAULT false,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		CHECK (is_platform = (tenant_id IS NULL))
	)`,

	`CREATE TABLE IF NOT EXISTS user_roles (
		user_id UUID NOT NULL REFERENCES users(id),
		role    TEXT NOT NULL,
		PRIMARY KEY (user_id, role)
	)`,

	// Lookup is always by session_hash; the raw cookie value is never stored.
	`CREATE TABLE IF NOT EXISTS sessions (
		session_id        UUID PRIMARY KEY,
		user_id           UUID NOT NULL REFERENCES users(id),
		session_hash      CHAR(64) NOT NULL UNIQUE,
		tenant_id         UUID REFERENCES tenants(id),
		site_id           UUID REFERENCES sites(id),
		is_platform_scope BOOLEAN NOT NULL DEFAULT false,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		expires_at        TIMESTAMPTZ NOT NULL,
		revoked_at        TIMESTAMPTZ
	)`,

	// Deprecated mappings keep their row with sync_status='deprecated'.
	`CREATE TABLE IF NOT EXISTS external_mappings (
		id              UUID PRIMARY KEY,
		tenant_id       UUID NOT NULL REFERENCES tenants(id),
		external_system TEXT NOT NULL,
		entity_type     TEXT NOT NULL,
		external_id     TEXT NOT NULL,
		internal_uuid   UUID NOT NULL,
		sync_status     TEXT NOT NULL DEFAULT 'active',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (tenant_id, external_system, entity_type, external_id)
	)`,

	`CREATE TABLE IF NOT EXISTS plan_versions (
		id                        UUID PRIMARY KEY,
		tenant_id                 UUID NOT NULL REFERENCES tenants(id),
		site_id                   UUID NOT NULL REFERENCES sites(id),
		forecast_version_id       TEXT NOT NULL,
		state                     TEXT NOT NULL DEFAULT 'DRAFT',
		seed                      BIGINT NOT NULL DEFAULT 0,
		inputs                    JSONB NOT NULL DEFAULT '{}'::jsonb,
		input_hash                TEXT NOT NULL DEFAULT '',
		output_hash               TEXT NOT NULL DEFAULT '',
		policy_hash               TEXT NOT NULL DEFAULT '',
		block_count               INT NOT NULL DEFAULT 0,
		warn_count                INT NOT NULL DEFAULT 0,
		current_snapshot_id       UUID,
		publish_count             INT NOT NULL DEFAULT 0,
		freeze_until              TIMESTAMPTZ,
		repair_source_snapshot_id UUID,
		failure_reason            TEXT,
		created_at                TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS plan_assignments (
		id              UUID PRIMARY KEY,
		plan_version_id UUID NOT NULL REFERENCES plan_versions(id),
		tenant_id       UUID NOT NULL REFERENCES tenants(id),
		tour_id         TEXT NOT NULL,
		driver_id       TEXT NOT NULL,
		start_time      TIMESTAMPTZ NOT NULL,
		end_time        TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS plan_pins (
		id              UUID PRIMARY KEY,
		plan_version_id UUID NOT NULL REFERENCES plan_versions(id),
		tenant_id       UUID NOT NULL REFERENCES tenants(id),
		pin_type        TEXT NOT NULL,
		pin_key         TEXT NOT NULL,
		driver_id       TEXT,
		tour_id         TEXT,
		created_by      UUID NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (plan_version_id, pin_type, pin_key)
	)`,

	`CREATE TABLE IF NOT EXISTS plan_snapshots (
		snapshot_id             UUID PRIMARY KEY,
		plan_version_id         UUID NOT NULL REFERENCES plan_versions(id),
		tenant_id               UUID NOT NULL REFERENCES tenants(id),
		version_number          INT NOT NULL,
		published_at            TIMESTAMPTZ NOT NULL,
		published_by            UUID NOT NULL,
		publish_reason          TEXT NOT NULL,
		freeze_until            TIMESTAMPTZ NOT NULL,
		input_hash              TEXT NOT NULL,
		matrix_hash             TEXT NOT NULL,
		output_hash             TEXT NOT NULL,
		evidence_hash           TEXT NOT NULL,
		policy_hash             TEXT NOT NULL,
		assignments_snapshot    JSONB NOT NULL,
		audit_results_snapshot  JSONB NOT NULL,
		evidence_pack           JSONB NOT NULL,
		snapshot_status         TEXT NOT NULL DEFAULT 'ACTIVE',
		UNIQUE (plan_version_id, version_number)
	)`,

	// Snapshots are append-only except the status column, which may only
	// walk ACTIVE → SUPERSEDED → ARCHIVED.
	`CREATE OR REPLACE FUNCTION guard_snapshot_immutability() RETURNS trigger AS $$
	BEGIN
		IF TG_OP = 'DELETE' THEN
			RAISE EXCEPTION 'plan_snapshots rows cannot be deleted';
		END IF;
		IF ROW(NEW.snapshot_id, NEW.plan_version_id, NEW.tenant_id, NEW.version_number,
		       NEW.published_at, NEW.published_by, NEW.publish_reason, NEW.freeze_until,
		       NEW.input_hash, NEW.matrix_hash, NEW.output_hash, NEW.evidence_hash,
		       NEW.policy_hash, NEW.assignments_snapshot, NEW.audit_results_snapshot,
		       NEW.evidence_pack)
		   IS DISTINCT FROM
		   ROW(OLD.snapshot_id, OLD.plan_version_id, OLD.tenant_id, OLD.version_number,
		       OLD.published_at, OLD.published_by, OLD.publish_reason, OLD.freeze_until,
		       OLD.input_hash, OLD.matrix_hash, OLD.output_hash, OLD.evidence_hash,
		       OLD.policy_hash, OLD.assignments_snapshot, OLD.audit_results_snapshot,
		       OLD.evidence_pack) THEN
			RAISE EXCEPTION 'plan_snapshots columns other than snapshot_status are immutable';
		END IF;
		IF NOT ((OLD.snapshot_status = 'ACTIVE' AND NEW.snapshot_status IN ('ACTIVE','SUPERSEDED'))
		     OR (OLD.snapshot_status = 'SUPERSEDED' AND NEW.snapshot_status IN ('SUPERSEDED','ARCHIVED'))
		     OR (OLD.snapshot_status = NEW.snapshot_status)) THEN
			RAISE EXCEPTION 'invalid snapshot_status transition % -> %', OLD.snapshot_status, NEW.snapshot_status;
		END IF;
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,

	`DROP TRIGGER IF EXISTS plan_snapshots_immutable ON plan_snapshots;
	 CREATE TRIGGER plan_snapshots_immutable
	 BEFORE UPDATE OR DELETE ON plan_snapshots
	 FOR EACH ROW EXECUTE FUNCTION guard_snapshot_immutability()`,

	// Assignments of a LOCKED plan are frozen at the storage layer too.
	`CREATE OR REPLACE FUNCTION guard_locked_plan_rows() RETURNS trigger AS $$
	DECLARE
		plan_state TEXT;
		target_plan UUID;
	BEGIN
		IF TG_OP = 'DELETE' THEN
			target_plan := OLD.plan_version_id;
		ELSE
			target_plan := NEW.plan_version_id;
		END IF;
		SELECT state INTO plan_state FROM plan_versions WHERE id = target_plan;
		IF plan_state = 'LOCKED' THEN
			RAISE EXCEPTION 'plan % is LOCKED; row mutation refused', target_plan;
		END IF;
		IF TG_OP = 'DELETE' THEN
			RETURN OLD;
		END IF;
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,

	`DROP TRIGGER IF EXISTS plan_assignments_locked ON plan_assignments;
	 CREATE TRIGGER plan_assignments_locked
	 BEFORE INSERT OR UPDATE OR DELETE ON plan_assignments
	 FOR EACH ROW EXECUTE FUNCTION guard_locked_plan_rows()`,

	`DROP TRIGGER IF EXISTS plan_pins_locked ON plan_pins;
	 CREATE TRIGGER plan_pins_locked
	 BEFORE INSERT OR UPDATE OR DELETE ON plan_pins
	 FOR EACH ROW EXECUTE FUNCTION guard_locked_plan_rows()`,

	`CREATE TABLE IF NOT EXISTS repair_sessions (
		id                     UUID PRIMARY KEY,
		tenant_id              UUID NOT NULL REFERENCES tenants(id),
		plan_version_id        UUID NOT NULL REFERENCES plan_versions(id),
		user_id                UUID NOT NULL REFERENCES users(id),
		status                 TEXT NOT NULL DEFAULT 'OPEN',
		preview_payload        JSONB,
		undo_payload           JSONB,
		idempotency_key        TEXT,
		result_plan_version_id UUID,
		created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
		expires_at             TIMESTAMPTZ NOT NULL,
		applied_at             TIMESTAMPTZ
	)`,

	// One OPEN session per plan, enforced by the index itself.
	`CREATE UNIQUE INDEX IF NOT EXISTS repair_sessions_one_open
	 ON repair_sessions (plan_version_id) WHERE status = 'OPEN'`,

	`CREATE TABLE IF NOT EXISTS violations_cache (
		plan_version_id UUID PRIMARY KEY REFERENCES plan_versions(id),
		tenant_id       UUID NOT NULL REFERENCES tenants(id),
		output_hash     TEXT NOT NULL,
		block_count     INT NOT NULL,
		warn_count      INT NOT NULL,
		details         JSONB NOT NULL,
		computed_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS idempotency_keys (
		tenant_id            UUID NOT NULL,
		action_key           TEXT NOT NULL,
		user_id              UUID,
		request_fingerprint  TEXT NOT NULL,
		response_fingerprint TEXT NOT NULL DEFAULT '',
		response_body        JSONB,
		status_code          INT NOT NULL DEFAULT 0,
		created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
		expires_at           TIMESTAMPTZ NOT NULL
	)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS idempotency_keys_scope
	 ON idempotency_keys (tenant_id, action_key, COALESCE(user_id, '00000000-0000-0000-0000-000000000000'::uuid))`,

	`CREATE TABLE IF NOT EXISTS audit_events (
		id          BIGSERIAL PRIMARY KEY,
		ts          TIMESTAMPTZ NOT NULL DEFAULT now(),
		tenant_id   UUID,
		user_id     UUID,
		event_type  TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id   TEXT NOT NULL,
		severity    TEXT NOT NULL DEFAULT 'INFO',
		details     JSONB,
		prev_hash   CHAR(64) NOT NULL,
		hash        CHAR(64) NOT NULL
	)`,

	`CREATE OR REPLACE FUNCTION guard_audit_append_only() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION 'audit_events is append-only';
	END;
	$$ LANGUAGE plpgsql`,

	`DROP TRIGGER IF EXISTS audit_events_append_only ON audit_events;
	 CREATE TRIGGER audit_events_append_only
	 BEFORE UPDATE OR DELETE ON audit_events
	 FOR EACH ROW EXECUTE FUNCTION guard_audit_append_only()`,

	`CREATE TABLE IF NOT EXISTS approval_requests (
		id                 UUID PRIMARY KEY,
		tenant_id          UUID NOT NULL REFERENCES tenants(id),
		action             TEXT NOT NULL,
		entity_type        TEXT NOT NULL,
		entity_id          TEXT NOT NULL,
		risk_level         TEXT NOT NULL,
		required_approvals INT NOT NULL,
		status             TEXT NOT NULL DEFAULT 'PENDING',
		created_by         UUID NOT NULL,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
		review_due_at      TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS approval_decisions (
		request_id  UUID NOT NULL REFERENCES approval_requests(id),
		approver_id UUID NOT NULL,
		decision    TEXT NOT NULL,
		reason      TEXT NOT NULL DEFAULT '',
		decided_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (request_id, approver_id)
	)`,

	`CREATE TABLE IF NOT EXISTS kill_switches (
		tenant_id  UUID NOT NULL,
		site_id    UUID NOT NULL,
		capability TEXT NOT NULL,
		active     BOOLEAN NOT NULL DEFAULT false,
		reason     TEXT NOT NULL DEFAULT '',
		updated_by UUID,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (tenant_id, site_id, capability)
	)`,

	`CREATE INDEX IF NOT EXISTS plan_versions_tenant_site ON plan_versions (tenant_id, site_id, state)`,
	`CREATE INDEX IF NOT EXISTS audit_events_tenant_ts ON audit_events (tenant_id, ts)`,
	`CREATE INDEX IF NOT EXISTS sessions_expiry ON sessions (expires_at)`,
}
