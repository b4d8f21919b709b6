package report

import (
	"context"
	"time"

	"printflow/internal/domain"
	"printflow/internal/repo"
	"printflow/internal/workflow"
)

const pageSize = 200

// Breakdown counts orders per observed status and tasks per stage and status.
type Breakdown struct {
	GeneratedAt string                                        `json:"generated_at"`
	Total       int                                           `json:"total"`
	Orders      map[domain.OrderStatus]int                    `json:"orders"`
	Tasks       map[domain.TaskType]map[domain.TaskStatus]int `json:"tasks"`
	Rows        []OrderRow                                    `json:"-"`
}

// OrderRow is one order flattened for export.
type OrderRow struct {
	ID           int64
	CustomerName string
	Zone         string
	Observed     domain.OrderStatus
	Assignees    map[domain.TaskType]int64
	UpdatedAt    string
}

func newBreakdown(now time.Time) Breakdown {
	b := Breakdown{
		GeneratedAt: now.UTC().Format(time.RFC3339),
		Orders:      map[domain.OrderStatus]int{},
		Tasks:       map[domain.TaskType]map[domain.TaskStatus]int{},
	}
	for _, s := range domain.ObservedStatuses {
		b.Orders[s] = 0
	}
	for _, t := range domain.TaskTypes {
		b.Tasks[t] = map[domain.TaskStatus]int{}
	}
	return b
}

// Summarize computes the counts from aggregate queries without loading
// orders. A DONE stage task only exists while its order sits in the stage's
// working status, so each DONE count moves that many orders to awaiting.
// Rows stay empty.
func Summarize(ctx context.Context, r repo.Repo, now time.Time) (Breakdown, error) {
	b := newBreakdown(now)
	stored, err := r.CountOrdersByStatus(ctx)
	if err != nil {
		return Breakdown{}, err
	}
	tasks, err := r.CountTasksByStatus(ctx)
	if err != nil {
		return Breakdown{}, err
	}
	for s, n := range stored {
		b.Orders[s] += n
		b.Total += n
	}
	for typ, byStatus := range tasks {
		if b.Tasks[typ] == nil {
			b.Tasks[typ] = map[domain.TaskStatus]int{}
		}
		for st, n := range byStatus {
			b.Tasks[typ][st] += n
		}
		done := byStatus[domain.TaskDone]
		if done == 0 {
			continue
		}
		awaiting := workflow.AwaitingStatus(typ)
		working, _, _ := workflow.StoredQuery(awaiting)
		b.Orders[working] -= done
		b.Orders[awaiting] += done
	}
	return b, nil
}

// Build walks every order and projects it through workflow.Observe. Rows
// carry one line per order for export.
func Build(ctx context.Context, r repo.Repo, now time.Time) (Breakdown, error) {
	b := newBreakdown(now)
	var cursor int64
	for {
		orders, err := r.ListOrders(ctx, repo.OrderFilters{Limit: pageSize, Cursor: cursor})
		if err != nil {
			return Breakdown{}, err
		}
		if len(orders) == 0 {
			break
		}
		ids := make([]int64, len(orders))
		for i, o := range orders {
			ids[i] = o.ID
		}
		tasks, err := r.ListTasksForOrders(ctx, ids)
		if err != nil {
			return Breakdown{}, err
		}
		for _, o := range orders {
			b.add(o, tasks[o.ID])
		}
		cursor = orders[len(orders)-1].ID
		if len(orders) < pageSize {
			break
		}
	}
	return b, nil
}

func (b *Breakdown) add(o domain.Order, tasks []domain.Task) {
	observed := workflow.Observe(o, tasks)
	b.Total++
	b.Orders[observed]++
	row := OrderRow{
		ID:           o.ID,
		CustomerName: o.CustomerName,
		Zone:         o.Zone,
		Observed:     observed,
		Assignees:    map[domain.TaskType]int64{},
		UpdatedAt:    o.UpdatedAt,
	}
	for _, t := range tasks {
		b.Tasks[t.Type][t.Status]++
		if t.AssigneeID != nil {
			row.Assignees[t.Type] = *t.AssigneeID
		}
	}
	b.Rows = append(b.Rows, row)
}

// Active counts orders not yet in stock.
func (b Breakdown) Active() int {
	return b.Total - b.Orders[domain.StatusDoneInStock]
}
