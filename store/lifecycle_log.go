package store

// LifecycleLog records one vehicle lifecycle transition.
type LifecycleLog struct {
	ID              int64  `json:"id"`
	LicensePlate    string `json:"license_plate"`
	DestinationName string `json:"destination_name"`
	FromState       string `json:"from_state"`
	ToState         string `json:"to_state"`
	Detail          string `json:"detail"`
	CreatedAt       string `json:"created_at"`
}

func (db *DB) InsertLifecycleLog(plate, destination, fromState, toState, detail string) (int64, error) {
	res, err := db.Exec(`INSERT INTO lifecycle_log (license_plate, destination_name, from_state, to_state, detail) VALUES (?, ?, ?, ?, ?)`,
		plate, destination, fromState, toState, detail)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (db *DB) ListLifecycleLog(limit int) ([]LifecycleLog, error) {
	rows, err := db.Query(`SELECT id, license_plate, destination_name, from_state, to_state, detail, created_at
		FROM lifecycle_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLifecycleLogs(rows)
}

// ListVehicleLifecycleLog returns one vehicle's transitions, oldest first.
func (db *DB) ListVehicleLifecycleLog(plate, destination string) ([]LifecycleLog, error) {
	rows, err := db.Query(`SELECT id, license_plate, destination_name, from_state, to_state, detail, created_at
		FROM lifecycle_log WHERE license_plate = ? AND destination_name = ? ORDER BY id ASC`, plate, destination)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLifecycleLogs(rows)
}

func scanLifecycleLogs(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]LifecycleLog, error) {
	var logs []LifecycleLog
	for rows.Next() {
		var l LifecycleLog
		if err := rows.Scan(&l.ID, &l.LicensePlate, &l.DestinationName, &l.FromState, &l.ToState, &l.Detail, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
