package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Table names a prunable time-series table.
type Table string

const (
	// TableMonitorData holds device samples.
	TableMonitorData Table = "monitor_data"
	// TableSystemLogs holds audit and system log entries.
	TableSystemLogs Table = "system_logs"
	// TableAlarmRecords holds alarm records; only resolved ones are pruned.
	TableAlarmRecords Table = "alarm_records"
)

// PruneBefore deletes rows of t older than cutoff and returns the count.
func (s *Store) PruneBefore(t Table, cutoff time.Time) (int64, error) {
	op := fmt.Sprintf("pruning %s", t)
	var query string
	switch t {
	case TableMonitorData, TableSystemLogs:
		query = fmt.Sprintf("DELETE FROM %s WHERE ts < ?", t)
	case TableAlarmRecords:
		query = "DELETE FROM alarm_records WHERE ts < ? AND status = 'resolved'"
	default:
		return 0, s.fail(op, fmt.Errorf("%w: unknown table %q", ErrInvalidArgument, t))
	}

	q, err := s.querier()
	if err != nil {
		return 0, s.fail(op, err)
	}
	res, err := q.Exec(query, toMillis(cutoff))
	if err != nil {
		return 0, s.fail(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, s.fail(op, err)
	}
	return n, nil
}

// RetentionConfig defines how long to keep data in each table. Zero keeps
// rows forever.
type RetentionConfig struct {
	MonitorData    time.Duration
	SystemLogs     time.Duration
	ResolvedAlarms time.Duration
}

// DefaultRetention keeps everything.
func DefaultRetention() RetentionConfig {
	return RetentionConfig{}
}

// Enabled reports whether any table has a retention limit.
func (r RetentionConfig) Enabled() bool {
	return r.MonitorData > 0 || r.SystemLogs > 0 || r.ResolvedAlarms > 0
}

// Pruner periodically removes old data from the store.
type Pruner struct {
	store     *Store
	retention RetentionConfig
	interval  time.Duration
	now       func() time.Time
}

// NewPruner creates a pruner with the given retention config.
func NewPruner(store *Store, retention RetentionConfig, interval time.Duration) *Pruner {
	if interval <= 0 {
		interval = 1 * time.Hour
	}
	return &Pruner{
		store:     store,
		retention: retention,
		interval:  interval,
		now:       time.Now,
	}
}

// Run starts the pruner loop. It blocks until the context is cancelled.
func (p *Pruner) Run(ctx context.Context) error {
	slog.Info("pruner started", "interval", p.interval)

	p.prune()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("pruner stopped")
			return ctx.Err()
		case <-ticker.C:
			p.prune()
		}
	}
}

func (p *Pruner) prune() {
	now := p.now()
	tables := []struct {
		table     Table
		retention time.Duration
	}{
		{TableMonitorData, p.retention.MonitorData},
		{TableSystemLogs, p.retention.SystemLogs},
		{TableAlarmRecords, p.retention.ResolvedAlarms},
	}

	for _, t := range tables {
		if t.retention <= 0 {
			continue
		}
		rows, err := p.store.PruneBefore(t.table, now.Add(-t.retention))
		if err != nil {
			// Already recorded and logged by the store.
			continue
		}
		if rows > 0 {
			slog.Info("pruned old data", "table", t.table, "rows", rows)
		}
	}
}
