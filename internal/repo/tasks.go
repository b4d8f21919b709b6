package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"printflow/internal/domain"
)

const taskColumns = `id,order_id,type,assignee_id,status,uploaded_file,version,created_at,updated_at,completed_at,validated_at`

func scanTask(s scanner) (domain.Task, error) {
	var t domain.Task
	var assignee sql.NullInt64
	var file, completedAt, validatedAt sql.NullString
	err := s.Scan(&t.ID, &t.OrderID, &t.Type, &assignee, &t.Status, &file, &t.Version, &t.CreatedAt, &t.UpdatedAt, &completedAt, &validatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if assignee.Valid {
		t.AssigneeID = &assignee.Int64
	}
	if file.Valid {
		t.UploadedFile = &file.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	if validatedAt.Valid {
		t.ValidatedAt = &validatedAt.String
	}
	return t, nil
}

// InsertTaskTx creates the task for one stage. A second task of the same type
// on the order surfaces as ErrConcurrentModification.
func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO tasks(order_id,type,assignee_id,status,uploaded_file,version,created_at,updated_at,completed_at,validated_at) VALUES (?,?,?,?,?,1,?,?,?,?)`,
		t.OrderID, t.Type, nullableInt64Ptr(t.AssigneeID), t.Status, nullableStringPtr(t.UploadedFile), t.CreatedAt, t.UpdatedAt,
		nullableStringPtr(t.CompletedAt), nullableStringPtr(t.ValidatedAt))
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("%s task for order %d: %w", t.Type, t.OrderID, ErrConcurrentModification)
	}
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateTaskTx writes mutable task fields if the row still has t.Version.
func (r Repo) UpdateTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	return checkVersioned(tx.ExecContext(ctx, `UPDATE tasks SET status=?, uploaded_file=?, updated_at=?, completed_at=?, validated_at=?, version=version+1 WHERE id=? AND version=?`,
		t.Status, nullableStringPtr(t.UploadedFile), t.UpdatedAt, nullableStringPtr(t.CompletedAt), nullableStringPtr(t.ValidatedAt), t.ID, t.Version))
}

func (r Repo) ListTasksForOrder(ctx context.Context, orderID int64) ([]domain.Task, error) {
	return r.ListTasksForOrderTx(ctx, nil, orderID)
}

func (r Repo) ListTasksForOrderTx(ctx context.Context, tx *sql.Tx, orderID int64) ([]domain.Task, error) {
	return r.queryTasks(ctx, r.q(tx), `SELECT `+taskColumns+` FROM tasks WHERE order_id=? ORDER BY id`, orderID)
}

// ListTasksForOrders returns tasks grouped by order id.
func (r Repo) ListTasksForOrders(ctx context.Context, orderIDs []int64) (map[int64][]domain.Task, error) {
	res := map[int64][]domain.Task{}
	if len(orderIDs) == 0 {
		return res, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(orderIDs)), ",")
	args := make([]any, len(orderIDs))
	for i, id := range orderIDs {
		args[i] = id
	}
	tasks, err := r.queryTasks(ctx, r.DB, fmt.Sprintf(`SELECT %s FROM tasks WHERE order_id IN (%s) ORDER BY id`, taskColumns, placeholders), args...)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		res[t.OrderID] = append(res[t.OrderID], t)
	}
	return res, nil
}

type TaskFilters struct {
	AssigneeID int64
	Statuses   []domain.TaskStatus
	// UpdatedBefore keeps tasks untouched since the given RFC3339 timestamp.
	UpdatedBefore string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.AssigneeID > 0 {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	if len(f.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+strings.TrimSuffix(strings.Repeat("?,", len(f.Statuses)), ",")+")")
		for _, s := range f.Statuses {
			args = append(args, s)
		}
	}
	if f.UpdatedBefore != "" {
		clauses = append(clauses, "updated_at<?")
		args = append(args, f.UpdatedBefore)
	}
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE %s ORDER BY id`, taskColumns, strings.Join(clauses, " AND "))
	return r.queryTasks(ctx, r.DB, query, args...)
}

func (r Repo) queryTasks(ctx context.Context, q querier, query string, args ...any) ([]domain.Task, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// CountTasksByStatus returns task type -> status -> count.
func (r Repo) CountTasksByStatus(ctx context.Context) (map[domain.TaskType]map[domain.TaskStatus]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT type, status, COUNT(*) FROM tasks GROUP BY type, status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[domain.TaskType]map[domain.TaskStatus]int{}
	for rows.Next() {
		var typ domain.TaskType
		var st domain.TaskStatus
		var n int
		if err := rows.Scan(&typ, &st, &n); err != nil {
			return nil, err
		}
		if res[typ] == nil {
			res[typ] = map[domain.TaskStatus]int{}
		}
		res[typ][st] = n
	}
	return res, rows.Err()
}
