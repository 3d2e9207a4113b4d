package store

import (
	"fmt"

	"github.com/darshan-rambhia/devwatch/internal/model"
)

// AddDeviceGroup creates a group. Names are unique within a group type, so
// the same name may exist under "type" and "location"; a repeat within one
// type fails with ErrDuplicate.
func (s *Store) AddDeviceGroup(name, groupType string) (int64, error) {
	return s.exec(fmt.Sprintf("adding device group %s/%s", groupType, name),
		`INSERT INTO device_groups (name, group_type) VALUES (?, ?)`, name, groupType)
}

// RenameDeviceGroup changes a group's name within its type.
func (s *Store) RenameDeviceGroup(id int64, newName string) error {
	return s.execKeyed(fmt.Sprintf("renaming device group %d", id),
		`UPDATE device_groups SET name = ? WHERE group_id = ?`, newName, id)
}

// DeleteDeviceGroup removes a group. Member devices are kept and become
// ungrouped.
func (s *Store) DeleteDeviceGroup(id int64) error {
	return s.execKeyed(fmt.Sprintf("deleting device group %d", id),
		`DELETE FROM device_groups WHERE group_id = ?`, id)
}

// SetDeviceGroup assigns a device to a group, or clears its group when
// groupID is nil.
func (s *Store) SetDeviceGroup(deviceID int64, groupID *int64) error {
	return s.execKeyed(fmt.Sprintf("setting group of device %d", deviceID),
		`UPDATE devices SET group_id = ? WHERE device_id = ?`, nullID(groupID), deviceID)
}

// DevicesByGroup returns the members of a group, or the ungrouped devices
// when groupID is nil.
func (s *Store) DevicesByGroup(groupID *int64) ([]model.Device, error) {
	if groupID == nil {
		return s.queryDevices("listing ungrouped devices",
			`SELECT `+deviceColumns+` FROM devices WHERE group_id IS NULL ORDER BY device_id`)
	}
	return s.queryDevices(fmt.Sprintf("listing devices in group %d", *groupID),
		`SELECT `+deviceColumns+` FROM devices WHERE group_id = ? ORDER BY device_id`, *groupID)
}

// ListDeviceGroups returns the groups of one type ordered by name.
func (s *Store) ListDeviceGroups(groupType string) ([]model.DeviceGroup, error) {
	return s.queryGroups("listing device groups "+groupType,
		`SELECT group_id, name, group_type FROM device_groups WHERE group_type = ? ORDER BY name`, groupType)
}

// ListAllDeviceGroups returns every group ordered by type then name.
func (s *Store) ListAllDeviceGroups() ([]model.DeviceGroup, error) {
	return s.queryGroups("listing device groups",
		`SELECT group_id, name, group_type FROM device_groups ORDER BY group_type, name`)
}

func (s *Store) queryGroups(op, query string, args ...any) ([]model.DeviceGroup, error) {
	q, err := s.querier()
	if err != nil {
		return nil, s.fail(op, err)
	}
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, s.fail(op, err)
	}
	defer rows.Close()

	var groups []model.DeviceGroup
	for rows.Next() {
		var g model.DeviceGroup
		if err := rows.Scan(&g.ID, &g.Name, &g.GroupType); err != nil {
			return nil, s.fail(op, err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(op, err)
	}
	return groups, nil
}
