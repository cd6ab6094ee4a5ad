package store

// Schema creates all record-store tables. Statements are idempotent so the
// schema can be re-applied on every startup.
const Schema = `
CREATE TABLE IF NOT EXISTS cases (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	phone TEXT NOT NULL,
	name TEXT DEFAULT '',
	status TEXT NOT NULL DEFAULT 'New Contact',
	active_agent_id TEXT,
	current_step_id TEXT,
	is_paused BOOLEAN NOT NULL DEFAULT 0,
	unread_count INTEGER NOT NULL DEFAULT 0,
	case_description TEXT DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_cases_tenant_phone ON cases(tenant_id, phone);
CREATE INDEX IF NOT EXISTS idx_cases_status ON cases(tenant_id, status);

CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	name TEXT NOT NULL,
	category TEXT,
	is_active BOOLEAN NOT NULL DEFAULT 1,
	is_default BOOLEAN NOT NULL DEFAULT 0,
	stage_override TEXT,
	schedule_oriented BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_agents_tenant ON agents(tenant_id, is_active);

CREATE TABLE IF NOT EXISTS agent_rules (
	agent_id TEXT PRIMARY KEY REFERENCES agents(id),
	system_prompt TEXT DEFAULT '',
	welcome_message TEXT DEFAULT '',
	forbidden_actions TEXT DEFAULT '',
	allowed_behavior TEXT DEFAULT ''
);

CREATE TABLE IF NOT EXISTS script_steps (
	id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL REFERENCES agents(id),
	position INTEGER NOT NULL,
	situation TEXT DEFAULT '',
	message TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_script_steps_agent ON script_steps(agent_id, position);

CREATE TABLE IF NOT EXISTS faqs (
	id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL REFERENCES agents(id),
	question TEXT NOT NULL,
	answer TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_faqs_agent ON faqs(agent_id);

CREATE TABLE IF NOT EXISTS conversation_entries (
	id TEXT PRIMARY KEY,
	case_id TEXT NOT NULL REFERENCES cases(id),
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	media_url TEXT DEFAULT '',
	media_type TEXT DEFAULT '',
	external_id TEXT DEFAULT '',
	delivery_status TEXT NOT NULL DEFAULT 'sent',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_entries_case_time ON conversation_entries(case_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_entries_external ON conversation_entries(external_id);

CREATE TABLE IF NOT EXISTS case_fields (
	case_id TEXT NOT NULL REFERENCES cases(id),
	field_key TEXT NOT NULL,
	field_value TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (case_id, field_key)
);

CREATE TABLE IF NOT EXISTS handoffs (
	id TEXT PRIMARY KEY,
	case_id TEXT NOT NULL REFERENCES cases(id),
	from_agent_id TEXT,
	to_agent_id TEXT NOT NULL,
	reason TEXT DEFAULT '',
	artifact TEXT DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_handoffs_case ON handoffs(case_id, created_at DESC);

CREATE TABLE IF NOT EXISTS knowledge_chunks (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	agent_id TEXT,
	contact_phone TEXT,
	kind TEXT NOT NULL DEFAULT 'knowledge',
	content TEXT NOT NULL,
	embedding BLOB,
	metadata TEXT DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_chunks_scope ON knowledge_chunks(tenant_id, kind, agent_id);
CREATE INDEX IF NOT EXISTS idx_chunks_contact ON knowledge_chunks(tenant_id, contact_phone);

CREATE TABLE IF NOT EXISTS workflow_events (
	id TEXT PRIMARY KEY,
	case_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	from_status TEXT DEFAULT '',
	to_status TEXT DEFAULT '',
	from_agent_id TEXT DEFAULT '',
	to_agent_id TEXT DEFAULT '',
	metadata TEXT DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_workflow_case ON workflow_events(case_id, created_at);

CREATE TABLE IF NOT EXISTS notification_settings (
	tenant_id TEXT PRIMARY KEY,
	notify_new_contact BOOLEAN NOT NULL DEFAULT 1,
	notify_qualified BOOLEAN NOT NULL DEFAULT 1,
	notify_converted BOOLEAN NOT NULL DEFAULT 1,
	notify_not_qualified BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS tenant_settings (
	tenant_id TEXT PRIMARY KEY,
	operator_phone TEXT DEFAULT '',
	calendar_connected BOOLEAN NOT NULL DEFAULT 0,
	sign_enabled BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS delayed_messages (
	id TEXT PRIMARY KEY,
	case_id TEXT NOT NULL,
	phone TEXT NOT NULL,
	content TEXT NOT NULL,
	send_at DATETIME NOT NULL,
	attempted BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_delayed_due ON delayed_messages(attempted, send_at);
`
