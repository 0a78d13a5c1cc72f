package repository

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS queues (
		id                   BIGSERIAL PRIMARY KEY,
		name                 TEXT NOT NULL,
		callback_url         TEXT NOT NULL,
		method               TEXT NOT NULL DEFAULT 'POST',
		headers              JSONB NOT NULL DEFAULT '{}',
		max_retries          INTEGER NOT NULL DEFAULT 5 CHECK (max_retries >= 0),
		dead_letter_queue_id BIGINT REFERENCES queues (id),
		created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id         BIGSERIAL PRIMARY KEY,
		queue_id   BIGINT NOT NULL REFERENCES queues (id),
		headers    JSONB NOT NULL DEFAULT '{}',
		body       TEXT NOT NULL DEFAULT '',
		deliver_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		sent_at    TIMESTAMPTZ,
		retries    INTEGER NOT NULL DEFAULT 0,
		status     TEXT NOT NULL DEFAULT 'pending',
		last_error TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_due
		ON messages (deliver_at, id)
		WHERE status = 'pending'`,
	`CREATE INDEX IF NOT EXISTS idx_messages_queue ON messages (queue_id, id)`,
	`CREATE TABLE IF NOT EXISTS crons (
		id         BIGSERIAL PRIMARY KEY,
		queue_id   BIGINT NOT NULL REFERENCES queues (id),
		headers    JSONB NOT NULL DEFAULT '{}',
		body       TEXT NOT NULL DEFAULT '',
		schedule   TEXT NOT NULL,
		watermark  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS queues (
		id                   INTEGER PRIMARY KEY AUTOINCREMENT,
		name                 TEXT NOT NULL,
		callback_url         TEXT NOT NULL,
		method               TEXT NOT NULL DEFAULT 'POST',
		headers              TEXT NOT NULL DEFAULT '{}',
		max_retries          INTEGER NOT NULL DEFAULT 5 CHECK (max_retries >= 0),
		dead_letter_queue_id INTEGER,
		created_at           TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		queue_id   INTEGER NOT NULL,
		headers    TEXT NOT NULL DEFAULT '{}',
		body       TEXT NOT NULL DEFAULT '',
		deliver_at TIMESTAMP NOT NULL,
		sent_at    TIMESTAMP,
		retries    INTEGER NOT NULL DEFAULT 0,
		status     TEXT NOT NULL DEFAULT 'pending',
		last_error TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_due ON messages (status, deliver_at, id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_queue ON messages (queue_id, id)`,
	`CREATE TABLE IF NOT EXISTS crons (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		queue_id   INTEGER NOT NULL,
		headers    TEXT NOT NULL DEFAULT '{}',
		body       TEXT NOT NULL DEFAULT '',
		schedule   TEXT NOT NULL,
		watermark  TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS leader_leases (
		name       TEXT PRIMARY KEY,
		owner      TEXT NOT NULL,
		expires_at INTEGER NOT NULL
	)`,
}
