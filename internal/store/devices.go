package store

import (
	"database/sql"
	"fmt"

	"github.com/darshan-rambhia/devwatch/internal/model"
)

const deviceColumns = `device_id, name, type, location, manufacturer, model, installation_date, group_id`

// AddDevice inserts a device and returns its id. A non-nil GroupID must
// reference an existing group.
func (s *Store) AddDevice(d model.Device) (int64, error) {
	return s.exec("adding device "+d.Name, `
		INSERT INTO devices (name, type, location, manufacturer, model, installation_date, group_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.Name, d.Type, d.Location, nullString(d.Manufacturer), nullString(d.Model),
		toDate(d.InstallationDate), nullID(d.GroupID),
	)
}

// UpdateDevice replaces every descriptive field of the device with id d.ID.
// Group membership is changed with SetDeviceGroup.
func (s *Store) UpdateDevice(d model.Device) error {
	return s.execKeyed(fmt.Sprintf("updating device %d", d.ID), `
		UPDATE devices
		SET name = ?, type = ?, location = ?, manufacturer = ?, model = ?, installation_date = ?
		WHERE device_id = ?`,
		d.Name, d.Type, d.Location, nullString(d.Manufacturer), nullString(d.Model),
		toDate(d.InstallationDate), d.ID,
	)
}

// DeleteDevice removes a device together with its samples, alarm rules and
// alarm records. Log entries referencing it are kept with the reference
// cleared.
func (s *Store) DeleteDevice(id int64) error {
	return s.execKeyed(fmt.Sprintf("deleting device %d", id), `DELETE FROM devices WHERE device_id = ?`, id)
}

// ListDevices returns every device ordered by id.
func (s *Store) ListDevices() ([]model.Device, error) {
	return s.queryDevices("listing devices", `SELECT `+deviceColumns+` FROM devices ORDER BY device_id`)
}

// GetDevice returns a copy of the device row.
func (s *Store) GetDevice(id int64) (model.Device, error) {
	op := fmt.Sprintf("getting device %d", id)
	q, err := s.querier()
	if err != nil {
		return model.Device{}, s.fail(op, err)
	}
	d, err := scanDevice(q.QueryRow(`SELECT `+deviceColumns+` FROM devices WHERE device_id = ?`, id))
	if err != nil {
		return model.Device{}, s.fail(op, err)
	}
	return d, nil
}

// GetDeviceIDByName returns the id of the oldest device with the given name.
func (s *Store) GetDeviceIDByName(name string) (int64, error) {
	q, err := s.querier()
	if err != nil {
		return 0, s.fail("looking up device "+name, err)
	}
	var id int64
	err = q.QueryRow(`SELECT device_id FROM devices WHERE name = ? ORDER BY device_id LIMIT 1`, name).Scan(&id)
	if err != nil {
		return 0, s.fail("looking up device "+name, err)
	}
	return id, nil
}

func (s *Store) queryDevices(op, query string, args ...any) ([]model.Device, error) {
	q, err := s.querier()
	if err != nil {
		return nil, s.fail(op, err)
	}
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, s.fail(op, err)
	}
	defer rows.Close()

	var devices []model.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, s.fail(op, err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(op, err)
	}
	return devices, nil
}

func scanDevice(sc scanner) (model.Device, error) {
	var (
		d                 model.Device
		manufacturer, mdl sql.NullString
		installed         sql.NullString
		group             sql.NullInt64
	)
	if err := sc.Scan(&d.ID, &d.Name, &d.Type, &d.Location, &manufacturer, &mdl, &installed, &group); err != nil {
		return model.Device{}, err
	}
	d.Manufacturer = manufacturer.String
	d.Model = mdl.String
	d.InstallationDate = fromDate(installed)
	d.GroupID = idPtr(group)
	return d, nil
}
