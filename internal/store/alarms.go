package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/darshan-rambhia/devwatch/internal/model"
)

// AddAlarmRule stores a rule for an existing device.
func (s *Store) AddAlarmRule(r model.AlarmRule) (int64, error) {
	return s.exec(fmt.Sprintf("adding alarm rule for device %d", r.DeviceID), `
		INSERT INTO alarm_rules (device_id, description, condition, action)
		VALUES (?, ?, ?, ?)`,
		r.DeviceID, r.Description, r.Condition, r.Action,
	)
}

// UpdateAlarmRule replaces the rule with id r.ID, including its device.
func (s *Store) UpdateAlarmRule(r model.AlarmRule) error {
	return s.execKeyed(fmt.Sprintf("updating alarm rule %d", r.ID), `
		UPDATE alarm_rules SET device_id = ?, description = ?, condition = ?, action = ?
		WHERE rule_id = ?`,
		r.DeviceID, r.Description, r.Condition, r.Action, r.ID,
	)
}

// DeleteAlarmRule removes a rule.
func (s *Store) DeleteAlarmRule(id int64) error {
	return s.execKeyed(fmt.Sprintf("deleting alarm rule %d", id), `DELETE FROM alarm_rules WHERE rule_id = ?`, id)
}

// ListAlarmRules returns the rules of one device, or of all devices when
// deviceID is nil.
func (s *Store) ListAlarmRules(deviceID *int64) ([]model.AlarmRule, error) {
	const op = "listing alarm rules"
	query := `SELECT rule_id, device_id, description, condition, action FROM alarm_rules`
	var args []any
	if deviceID != nil {
		query += ` WHERE device_id = ?`
		args = append(args, *deviceID)
	}
	query += ` ORDER BY rule_id`

	q, err := s.querier()
	if err != nil {
		return nil, s.fail(op, err)
	}
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, s.fail(op, err)
	}
	defer rows.Close()

	var rules []model.AlarmRule
	for rows.Next() {
		var r model.AlarmRule
		if err := rows.Scan(&r.ID, &r.DeviceID, &r.Description, &r.Condition, &r.Action); err != nil {
			return nil, s.fail(op, err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(op, err)
	}
	return rules, nil
}

// AddAlarmRecord appends a raised alarm. An empty status is stored as
// unprocessed.
func (s *Store) AddAlarmRecord(r model.AlarmRecord) (int64, error) {
	op := fmt.Sprintf("adding alarm record for device %d", r.DeviceID)
	if r.Status == "" {
		r.Status = model.AlarmUnprocessed
	}
	if !r.Status.Valid() {
		return 0, s.fail(op, fmt.Errorf("%w: alarm status %q", ErrInvalidArgument, r.Status))
	}
	return s.exec(op, `
		INSERT INTO alarm_records (device_id, ts, content, status, note)
		VALUES (?, ?, ?, ?, ?)`,
		r.DeviceID, toMillis(r.Timestamp), r.Content, string(r.Status), nullString(r.Note),
	)
}

// UpdateAlarmRecordStatus moves an alarm record to a new status and replaces
// its note.
func (s *Store) UpdateAlarmRecordStatus(id int64, status model.AlarmStatus, note string) error {
	op := fmt.Sprintf("updating alarm record %d", id)
	if !status.Valid() {
		return s.fail(op, fmt.Errorf("%w: alarm status %q", ErrInvalidArgument, status))
	}
	return s.execKeyed(op, `UPDATE alarm_records SET status = ?, note = ? WHERE alarm_id = ?`,
		string(status), nullString(note), id)
}

// ListAlarmRecords returns the records of one device, or of all devices when
// deviceID is nil, newest first.
func (s *Store) ListAlarmRecords(deviceID *int64) ([]model.AlarmRecord, error) {
	return s.QueryAlarmRecords(model.AlarmFilter{DeviceID: deviceID})
}

// QueryAlarmRecords returns records matching every set field of f, newest
// first. Unset fields (nil device, empty status, zero times) are not applied.
func (s *Store) QueryAlarmRecords(f model.AlarmFilter) ([]model.AlarmRecord, error) {
	const op = "querying alarm records"
	if f.Status != "" && !f.Status.Valid() {
		return nil, s.fail(op, fmt.Errorf("%w: alarm status %q", ErrInvalidArgument, f.Status))
	}

	var (
		where []string
		args  []any
	)
	if f.DeviceID != nil {
		where = append(where, "device_id = ?")
		args = append(args, *f.DeviceID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if !f.Start.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, startMillis(f.Start))
	}
	if !f.End.IsZero() {
		where = append(where, "ts <= ?")
		args = append(args, toMillis(f.End))
	}

	query := `SELECT alarm_id, device_id, ts, content, status, note FROM alarm_records`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY ts DESC, alarm_id DESC`

	q, err := s.querier()
	if err != nil {
		return nil, s.fail(op, err)
	}
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, s.fail(op, err)
	}
	defer rows.Close()

	var records []model.AlarmRecord
	for rows.Next() {
		var (
			r      model.AlarmRecord
			ts     int64
			status string
			note   sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.DeviceID, &ts, &r.Content, &status, &note); err != nil {
			return nil, s.fail(op, err)
		}
		r.Timestamp = fromMillis(ts)
		r.Status = model.AlarmStatus(status)
		r.Note = note.String
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(op, err)
	}
	return records, nil
}
