package contentstorage

// schema is the DDL for the content storage service's two tables: the
// committed content rows getById reads, and the Operations queue Phase 2
// drains in timestamp order per contentId.
const schema = `
CREATE TABLE IF NOT EXISTS content (
	id         TEXT PRIMARY KEY,
	index_name TEXT NOT NULL,
	payload    BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_content_index ON content(index_name);

CREATE TABLE IF NOT EXISTS operations (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	content_id   TEXT NOT NULL,
	index_name   TEXT NOT NULL,
	kind         TEXT NOT NULL, -- 'upsert' or 'delete'
	payload      BLOB,
	planned_steps TEXT NOT NULL DEFAULT '[]',
	created_at   INTEGER NOT NULL,
	complete     INTEGER NOT NULL DEFAULT 0,
	cancelled    INTEGER NOT NULL DEFAULT 0,
	failed       INTEGER NOT NULL DEFAULT 0,
	attempts     INTEGER NOT NULL DEFAULT 0,
	last_error   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_operations_content ON operations(content_id, created_at);
CREATE INDEX IF NOT EXISTS idx_operations_pending ON operations(complete, cancelled, created_at);
`
