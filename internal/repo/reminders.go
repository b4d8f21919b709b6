package repo

import (
	"context"
	"database/sql"
)

// ReminderSent reports whether a reminder already went out for this task version.
func (r Repo) ReminderSent(ctx context.Context, taskID, version int64) (bool, error) {
	var v int64
	err := r.DB.QueryRowContext(ctx, `SELECT task_version FROM reminder_log WHERE task_id=?`, taskID).Scan(&v)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == version, nil
}

func (r Repo) MarkReminded(ctx context.Context, taskID, version int64, at string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO reminder_log(task_id, task_version, sent_at) VALUES (?,?,?)
ON CONFLICT(task_id) DO UPDATE SET task_version=excluded.task_version, sent_at=excluded.sent_at`, taskID, version, at)
	return err
}
