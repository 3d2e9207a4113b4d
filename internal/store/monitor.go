package store

import (
	"fmt"
	"time"

	"github.com/darshan-rambhia/devwatch/internal/model"
)

// AddMonitorSample appends a reading for an existing device.
func (s *Store) AddMonitorSample(m model.MonitorSample) (int64, error) {
	return s.exec(fmt.Sprintf("adding monitor sample for device %d", m.DeviceID), `
		INSERT INTO monitor_data (device_id, ts, temperature, humidity, light)
		VALUES (?, ?, ?, ?, ?)`,
		m.DeviceID, toMillis(m.Timestamp), m.Temperature, m.Humidity, m.Light,
	)
}

// QueryDeviceData returns the samples of a device with start <= ts <= end,
// newest first.
func (s *Store) QueryDeviceData(deviceID int64, start, end time.Time) ([]model.MonitorSample, error) {
	op := fmt.Sprintf("querying data for device %d", deviceID)
	q, err := s.querier()
	if err != nil {
		return nil, s.fail(op, err)
	}
	rows, err := q.Query(`
		SELECT data_id, device_id, ts, COALESCE(temperature, 0), COALESCE(humidity, 0), COALESCE(light, 0)
		FROM monitor_data
		WHERE device_id = ? AND ts BETWEEN ? AND ?
		ORDER BY ts DESC, data_id DESC`,
		deviceID, startMillis(start), toMillis(end))
	if err != nil {
		return nil, s.fail(op, err)
	}
	defer rows.Close()

	var samples []model.MonitorSample
	for rows.Next() {
		var (
			m  model.MonitorSample
			ts int64
		)
		if err := rows.Scan(&m.ID, &m.DeviceID, &ts, &m.Temperature, &m.Humidity, &m.Light); err != nil {
			return nil, s.fail(op, fmt.Errorf("scanning sample: %w", err))
		}
		m.Timestamp = fromMillis(ts)
		samples = append(samples, m)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(op, err)
	}
	return samples, nil
}
