package store

// GetSetting returns the value stored under key, or ErrNotFound.
func (db *DB) GetSetting(key string) (string, error) {
	var v string
	err := db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if err != nil {
		return "", notFound(err)
	}
	return v, nil
}

// SetSetting upserts a key.
func (db *DB) SetSetting(key, value string) error {
	_, err := db.Exec(`INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = datetime('now','localtime')`, key, value)
	return err
}

// SetSettings upserts several keys in one transaction.
func (db *DB) SetSettings(kv map[string]string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for k, v := range kv {
		if _, err := tx.Exec(`INSERT INTO settings (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = datetime('now','localtime')`, k, v); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteSetting removes a key. Deleting a missing key is not an error.
func (db *DB) DeleteSetting(key string) error {
	_, err := db.Exec(`DELETE FROM settings WHERE key = ?`, key)
	return err
}
