package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"printflow/internal/domain"
)

type OrderFilters struct {
	Status    string
	CreatedBy int64
	// StageTask narrows to orders whose task of that type is DONE when
	// StageDone is set, and to orders without a DONE task of that type otherwise.
	StageTask domain.TaskType
	StageDone bool
	Limit     int
	// Cursor is the last seen order id; results continue below it.
	Cursor int64
}

// InsertOrderTx stores a new order with its items and returns the assigned id.
func (r Repo) InsertOrderTx(ctx context.Context, tx *sql.Tx, o domain.Order) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO orders(status,customer_name,zone,property_name,notes,created_by,version,created_at,updated_at) VALUES (?,?,?,?,?,?,1,?,?)`,
		o.Status, o.CustomerName, nullable(o.Zone), nullable(o.PropertyName), nullable(o.Notes), o.CreatedBy, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for _, it := range o.Items {
		var tags any
		if len(it.ContentTags) > 0 {
			data, err := json.Marshal(it.ContentTags)
			if err != nil {
				return 0, err
			}
			tags = string(data)
		}
		var height, width any
		if it.Kind == domain.ItemPanel {
			height, width = it.Height, it.Width
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO order_items(order_id,position,kind,type,height,width,content_tags_json,manuscript) VALUES (?,?,?,?,?,?,?,?)`,
			id, it.Position, it.Kind, it.Type, height, width, tags, nullable(it.Manuscript)); err != nil {
			return 0, fmt.Errorf("insert item %d: %w", it.Position, err)
		}
	}
	return id, nil
}

// UpdateOrderStatusTx writes the new status if the row still has o.Version.
func (r Repo) UpdateOrderStatusTx(ctx context.Context, tx *sql.Tx, o domain.Order) error {
	return checkVersioned(tx.ExecContext(ctx, `UPDATE orders SET status=?, updated_at=?, version=version+1 WHERE id=? AND version=?`,
		o.Status, o.UpdatedAt, o.ID, o.Version))
}

// TouchOrderTx bumps the order version without changing its status, so a
// task-only transition still conflicts with a concurrent writer.
func (r Repo) TouchOrderTx(ctx context.Context, tx *sql.Tx, o domain.Order) error {
	return checkVersioned(tx.ExecContext(ctx, `UPDATE orders SET updated_at=?, version=version+1 WHERE id=? AND version=?`,
		o.UpdatedAt, o.ID, o.Version))
}

const orderColumns = `id,status,customer_name,COALESCE(zone,''),COALESCE(property_name,''),COALESCE(notes,''),created_by,version,created_at,updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (domain.Order, error) {
	var o domain.Order
	err := s.Scan(&o.ID, &o.Status, &o.CustomerName, &o.Zone, &o.PropertyName, &o.Notes, &o.CreatedBy, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return o, ErrNotFound
	}
	return o, err
}

func (r Repo) GetOrder(ctx context.Context, id int64) (domain.Order, error) {
	return r.GetOrderTx(ctx, nil, id)
}

// GetOrderTx loads an order and its items; tx may be nil.
func (r Repo) GetOrderTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Order, error) {
	o, err := scanOrder(r.q(tx).QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=?`, id))
	if err != nil {
		return o, err
	}
	items, err := r.listItems(ctx, tx, id)
	if err != nil {
		return o, err
	}
	o.Items = items
	return o, nil
}

func (r Repo) listItems(ctx context.Context, tx *sql.Tx, orderID int64) ([]domain.Item, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT position,kind,type,COALESCE(height,0),COALESCE(width,0),content_tags_json,COALESCE(manuscript,'') FROM order_items WHERE order_id=? ORDER BY position`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []domain.Item
	for rows.Next() {
		var it domain.Item
		var tags sql.NullString
		if err := rows.Scan(&it.Position, &it.Kind, &it.Type, &it.Height, &it.Width, &tags, &it.Manuscript); err != nil {
			return nil, err
		}
		if tags.Valid && tags.String != "" {
			if err := json.Unmarshal([]byte(tags.String), &it.ContentTags); err != nil {
				return nil, fmt.Errorf("decode content tags: %w", err)
			}
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// ListOrders returns orders newest first without items.
func (r Repo) ListOrders(ctx context.Context, f OrderFilters) ([]domain.Order, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CreatedBy > 0 {
		clauses = append(clauses, "created_by=?")
		args = append(args, f.CreatedBy)
	}
	if f.StageTask != "" {
		exists := "EXISTS"
		if !f.StageDone {
			exists = "NOT EXISTS"
		}
		clauses = append(clauses, exists+" (SELECT 1 FROM tasks t WHERE t.order_id=orders.id AND t.type=? AND t.status='DONE')")
		args = append(args, f.StageTask)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s FROM orders WHERE %s ORDER BY id DESC LIMIT ?`, orderColumns, strings.Join(clauses, " AND "))
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// CountOrdersByStatus returns stored status -> count.
func (r Repo) CountOrdersByStatus(ctx context.Context) (map[domain.OrderStatus]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM orders GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[domain.OrderStatus]int{}
	for rows.Next() {
		var s domain.OrderStatus
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		res[s] = n
	}
	return res, rows.Err()
}
