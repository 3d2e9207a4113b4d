package store

import (
	"database/sql"
	"strings"
	"time"

	"github.com/darshan-rambhia/devwatch/internal/model"
)

// AddLog appends an audit entry stamped with the store clock. Nil user or
// device ids are stored as NULL references.
func (s *Store) AddLog(e model.LogEntry) (int64, error) {
	if e.Level == "" {
		e.Level = model.LevelInfo
	}
	return s.exec("adding log entry", `
		INSERT INTO system_logs (ts, log_type, log_level, content, user_id, device_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		toMillis(s.now()), e.Type, string(e.Level), e.Content, nullID(e.UserID), nullID(e.DeviceID),
	)
}

// QueryLogs returns log entries with start <= ts <= end, newest first. A zero
// start or end leaves that side of the range open.
func (s *Store) QueryLogs(start, end time.Time) ([]model.SystemLog, error) {
	const op = "querying logs"
	var (
		where []string
		args  []any
	)
	if !start.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, startMillis(start))
	}
	if !end.IsZero() {
		where = append(where, "ts <= ?")
		args = append(args, toMillis(end))
	}
	query := `SELECT log_id, ts, log_type, log_level, content, user_id, device_id FROM system_logs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY ts DESC, log_id DESC`

	q, err := s.querier()
	if err != nil {
		return nil, s.fail(op, err)
	}
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, s.fail(op, err)
	}
	defer rows.Close()

	var logs []model.SystemLog
	for rows.Next() {
		var (
			l              model.SystemLog
			ts             int64
			level          string
			userID, device sql.NullInt64
		)
		if err := rows.Scan(&l.ID, &ts, &l.Type, &level, &l.Content, &userID, &device); err != nil {
			return nil, s.fail(op, err)
		}
		l.Timestamp = fromMillis(ts)
		l.Level = model.LogLevel(level)
		l.UserID = idPtr(userID)
		l.DeviceID = idPtr(device)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(op, err)
	}
	return logs, nil
}
