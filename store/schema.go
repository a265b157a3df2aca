package store

const schema = `
CREATE TABLE IF NOT EXISTS settings (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TEXT NOT NULL DEFAULT (datetime('now','localtime'))
);

CREATE TABLE IF NOT EXISTS admin_users (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    username      TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at    TEXT NOT NULL DEFAULT (datetime('now','localtime'))
);

CREATE TABLE IF NOT EXISTS outbox (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    topic      TEXT NOT NULL,
    payload    BLOB NOT NULL,
    msg_type   TEXT NOT NULL DEFAULT '',
    retries    INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL DEFAULT (datetime('now','localtime')),
    sent_at    TEXT
);
CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox(sent_at) WHERE sent_at IS NULL;

CREATE TABLE IF NOT EXISTS exit_log (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    license_plate    TEXT NOT NULL,
    destination_name TEXT NOT NULL,
    queue_item_id    TEXT NOT NULL DEFAULT '',
    total_seats      INTEGER NOT NULL DEFAULT 0,
    booked_seats     INTEGER NOT NULL DEFAULT 0,
    staff_id         TEXT NOT NULL DEFAULT '',
    exited_at        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_exit_log_dest ON exit_log(destination_name, id);

CREATE TABLE IF NOT EXISTS lifecycle_log (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    license_plate    TEXT NOT NULL,
    destination_name TEXT NOT NULL,
    from_state       TEXT NOT NULL,
    to_state         TEXT NOT NULL,
    detail           TEXT NOT NULL DEFAULT '',
    created_at       TEXT NOT NULL DEFAULT (datetime('now','localtime'))
);
CREATE INDEX IF NOT EXISTS idx_lifecycle_log_vehicle ON lifecycle_log(license_plate, destination_name);
`

func (db *DB) migrate() error {
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	// Graceful migrations for databases created before staff attribution.
	db.Exec("ALTER TABLE exit_log ADD COLUMN staff_id TEXT NOT NULL DEFAULT ''")
	return nil
}
