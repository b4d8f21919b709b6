package repo

import (
	"context"
	"database/sql"

	"printflow/internal/domain"
)

func (r Repo) InsertReviewTx(ctx context.Context, tx *sql.Tx, rv domain.Review) (domain.Review, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO reviews(task_id, order_id, task_type, decision, comment, reviewer_id, created_at) VALUES (?,?,?,?,?,?,?)`,
		rv.TaskID, rv.OrderID, rv.TaskType, rv.Decision, nullable(rv.Comment), rv.ReviewerID, rv.CreatedAt)
	if err != nil {
		return domain.Review{}, err
	}
	rv.ID, err = res.LastInsertId()
	return rv, err
}

// ListReviews returns the review history of an order, oldest first.
func (r Repo) ListReviews(ctx context.Context, orderID int64) ([]domain.Review, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, task_id, order_id, task_type, decision, COALESCE(comment,''), reviewer_id, created_at FROM reviews WHERE order_id=? ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Review
	for rows.Next() {
		var rv domain.Review
		if err := rows.Scan(&rv.ID, &rv.TaskID, &rv.OrderID, &rv.TaskType, &rv.Decision, &rv.Comment, &rv.ReviewerID, &rv.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, rv)
	}
	return res, rows.Err()
}

// LatestRejection returns the most recent rejection comment for a task, if any.
func (r Repo) LatestRejection(ctx context.Context, taskID int64) (string, error) {
	var comment sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT comment FROM reviews WHERE task_id=? AND decision='rejected' ORDER BY id DESC LIMIT 1`, taskID).Scan(&comment)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return comment.String, nil
}
