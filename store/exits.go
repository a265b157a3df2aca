package store

import "time"

// ExitRecord is one confirmed vehicle departure.
type ExitRecord struct {
	ID              int64     `json:"id"`
	LicensePlate    string    `json:"license_plate"`
	DestinationName string    `json:"destination_name"`
	QueueItemID     string    `json:"queue_item_id"`
	TotalSeats      int       `json:"total_seats"`
	BookedSeats     int       `json:"booked_seats"`
	StaffID         string    `json:"staff_id"`
	ExitedAt        time.Time `json:"exited_at"`
}

// RecordExit appends a departure to the ledger.
func (db *DB) RecordExit(r *ExitRecord) error {
	res, err := db.Exec(`INSERT INTO exit_log (license_plate, destination_name, queue_item_id, total_seats, booked_seats, staff_id, exited_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.LicensePlate, r.DestinationName, r.QueueItemID, r.TotalSeats, r.BookedSeats, r.StaffID, formatTime(r.ExitedAt))
	if err != nil {
		return err
	}
	r.ID, err = res.LastInsertId()
	return err
}

// LastExit returns the most recently recorded departure for a destination,
// or ErrNotFound.
func (db *DB) LastExit(destination string) (*ExitRecord, error) {
	row := db.QueryRow(`SELECT id, license_plate, destination_name, queue_item_id, total_seats, booked_seats, staff_id, exited_at
		FROM exit_log WHERE destination_name = ? ORDER BY id DESC LIMIT 1`, destination)
	r, err := scanExit(row)
	if err != nil {
		return nil, notFound(err)
	}
	return r, nil
}

// ListExits returns the newest departures first.
func (db *DB) ListExits(limit int) ([]ExitRecord, error) {
	rows, err := db.Query(`SELECT id, license_plate, destination_name, queue_item_id, total_seats, booked_seats, staff_id, exited_at
		FROM exit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ExitRecord
	for rows.Next() {
		r, err := scanExit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanExit(row interface{ Scan(...any) error }) (*ExitRecord, error) {
	var r ExitRecord
	var exitedAt string
	if err := row.Scan(&r.ID, &r.LicensePlate, &r.DestinationName, &r.QueueItemID, &r.TotalSeats, &r.BookedSeats, &r.StaffID, &exitedAt); err != nil {
		return nil, err
	}
	r.ExitedAt = parseTime(exitedAt)
	return &r, nil
}
