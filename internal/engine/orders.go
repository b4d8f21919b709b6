package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"printflow/internal/domain"
	"printflow/internal/engine/auth"
	"printflow/internal/events"
	"printflow/internal/notify"
	"printflow/internal/repo"
	"printflow/internal/workflow"
)

// OrderView is an order with its tasks and the status a user should see.
type OrderView struct {
	domain.Order
	Observed domain.OrderStatus `json:"observed_status"`
	Tasks    []domain.Task      `json:"tasks"`
}

func newView(o domain.Order, tasks []domain.Task) OrderView {
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return OrderView{Order: o, Observed: workflow.Observe(o, tasks), Tasks: tasks}
}

// CreateOrderOptions are parameters for creating an order.
type CreateOrderOptions struct {
	ActorID      int64
	CustomerName string
	Zone         string
	PropertyName string
	Notes        string
	Items        []domain.Item
}

// CreateOrder stores a new order in CREATED. Only COMMERCIAL or ADMIN may create orders.
func (e Engine) CreateOrder(ctx context.Context, opts CreateOrderOptions) (OrderView, error) {
	customer := strings.TrimSpace(opts.CustomerName)
	if customer == "" {
		return OrderView{}, invalid("customer_name", "customer name is required")
	}
	items, err := domain.ValidateItems(opts.Items)
	if err != nil {
		return OrderView{}, &InputError{Field: "items", Err: err}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return OrderView{}, persist("begin", err)
	}
	defer tx.Rollback()
	if _, err := e.Auth.Require(ctx, tx, opts.ActorID, domain.RoleCommercial, domain.RoleAdmin); err != nil {
		return OrderView{}, err
	}
	now := e.stamp()
	o := domain.Order{
		Status:       domain.StatusCreated,
		CustomerName: customer,
		Zone:         strings.TrimSpace(opts.Zone),
		PropertyName: strings.TrimSpace(opts.PropertyName),
		Notes:        opts.Notes,
		Items:        items,
		CreatedBy:    opts.ActorID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	id, err := e.Repo.InsertOrderTx(ctx, tx, o)
	if err != nil {
		return OrderView{}, persist("insert order", err)
	}
	o.ID, o.Version = id, 1
	if err := e.events().Append(ctx, tx, events.Entry{
		Type: "order.created", OrderID: id, EntityKind: "order", EntityID: fmt.Sprint(id), ActorID: opts.ActorID,
		Payload: events.EventPayload{"customer_name": customer, "items": len(items)},
	}); err != nil {
		return OrderView{}, persist("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return OrderView{}, persist("commit", err)
	}
	e.log().Info("order created", zap.Int64("order_id", id), zap.Int64("actor_id", opts.ActorID))
	e.emit(ctx, notify.Notification{
		Event: "order.created", OrderID: id, NewStatus: o.Status, ActorID: opts.ActorID,
		Message: fmt.Sprintf("order #%d created for %s", id, customer),
	})
	return newView(o, nil), nil
}

func (e Engine) GetOrder(ctx context.Context, id int64) (OrderView, error) {
	o, err := e.Repo.GetOrder(ctx, id)
	if err != nil {
		return OrderView{}, persist("get order", err)
	}
	tasks, err := e.Repo.ListTasksForOrder(ctx, id)
	if err != nil {
		return OrderView{}, persist("list tasks", err)
	}
	return newView(o, tasks), nil
}

// ListOrders filters by stored or observed status. Working and
// awaiting-validation statuses are resolved against the stage task in SQL so
// that limit and cursor apply to matching orders only.
func (e Engine) ListOrders(ctx context.Context, f repo.OrderFilters) ([]OrderView, error) {
	want := domain.OrderStatus(f.Status)
	if want != "" && want.Rank() < 0 {
		return nil, invalid("status", "unknown status %q", f.Status)
	}
	if want != "" {
		stored, task, done := workflow.StoredQuery(want)
		f.Status, f.StageTask, f.StageDone = string(stored), task, done
	}
	orders, err := e.Repo.ListOrders(ctx, f)
	if err != nil {
		return nil, persist("list orders", err)
	}
	ids := make([]int64, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	tasks, err := e.Repo.ListTasksForOrders(ctx, ids)
	if err != nil {
		return nil, persist("list tasks", err)
	}
	res := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		res = append(res, newView(o, tasks[o.ID]))
	}
	return res, nil
}

// AvailableActions lists what actorID may do on the order right now.
func (e Engine) AvailableActions(ctx context.Context, orderID, actorID int64) ([]workflow.Action, error) {
	actor, err := e.Auth.Actor(ctx, nil, actorID)
	if err != nil {
		return nil, err
	}
	view, err := e.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	actions := workflow.ListAvailableActions(view.Order, view.Tasks, actor)
	if actions == nil {
		actions = []workflow.Action{}
	}
	return actions, nil
}

// TransitionOptions carry one workflow action request.
type TransitionOptions struct {
	OrderID    int64
	ActorID    int64
	Action     workflow.Action
	AssigneeID int64
	FileRef    string
	Comment    string
	// ExpectedVersion, when set, must match the stored order version.
	ExpectedVersion int64
}

// Transition runs one action: guard and transition in the core, then order,
// task, review and event rows in a single transaction, then a notification.
func (e Engine) Transition(ctx context.Context, opts TransitionOptions) (OrderView, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return OrderView{}, persist("begin", err)
	}
	defer tx.Rollback()

	actor, err := e.Auth.Actor(ctx, tx, opts.ActorID)
	if err != nil {
		return OrderView{}, err
	}
	order, err := e.Repo.GetOrderTx(ctx, tx, opts.OrderID)
	if err != nil {
		return OrderView{}, persist("get order", err)
	}
	if opts.ExpectedVersion > 0 && order.Version != opts.ExpectedVersion {
		return OrderView{}, fmt.Errorf("order %d is at version %d, expected %d: %w", order.ID, order.Version, opts.ExpectedVersion, repo.ErrConcurrentModification)
	}
	tasks, err := e.Repo.ListTasksForOrderTx(ctx, tx, order.ID)
	if err != nil {
		return OrderView{}, persist("list tasks", err)
	}

	now := e.stamp()
	req := workflow.Request{
		Action:     opts.Action,
		Actor:      actor,
		AssigneeID: opts.AssigneeID,
		FileRef:    opts.FileRef,
		Comment:    opts.Comment,
		Now:        now,
	}
	if opts.Action.Kind == workflow.ActionAssign && opts.AssigneeID > 0 {
		roles, err := e.Auth.RolesOf(ctx, tx, opts.AssigneeID)
		var unknown auth.UnknownUserError
		if err != nil && !errors.As(err, &unknown) {
			return OrderView{}, persist("assignee roles", err)
		}
		req.AssigneeRoles = roles
	}

	res, err := workflow.ApplyTransition(order, tasks, req)
	if err != nil {
		e.log().Debug("transition refused", zap.Int64("order_id", order.ID), zap.Stringer("action", opts.Action), zap.Int64("actor_id", actor.UserID), zap.Error(err))
		return OrderView{}, err
	}

	if res.TaskChanged {
		if res.TaskCreated {
			id, err := e.Repo.InsertTaskTx(ctx, tx, res.Task)
			if err != nil {
				return OrderView{}, persist("insert task", err)
			}
			res.Task.ID, res.Task.Version = id, 1
		} else {
			if err := e.Repo.UpdateTaskTx(ctx, tx, res.Task); err != nil {
				return OrderView{}, persist("update task", err)
			}
			res.Task.Version++
		}
	}
	if res.OrderChanged() {
		err = e.Repo.UpdateOrderStatusTx(ctx, tx, res.Order)
	} else {
		err = e.Repo.TouchOrderTx(ctx, tx, res.Order)
	}
	if err != nil {
		return OrderView{}, persist("update order", err)
	}
	res.Order.Version++

	if res.Decision != "" {
		if _, err := e.Repo.InsertReviewTx(ctx, tx, domain.Review{
			TaskID: res.Task.ID, OrderID: order.ID, TaskType: string(res.Task.Type), Decision: res.Decision,
			Comment: strings.TrimSpace(opts.Comment), ReviewerID: actor.UserID, CreatedAt: now,
		}); err != nil {
			return OrderView{}, persist("insert review", err)
		}
	}
	if err := e.events().Append(ctx, tx, transitionEvent(res, opts, actor.UserID)); err != nil {
		return OrderView{}, persist("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return OrderView{}, persist("commit", err)
	}

	updated := mergeTask(tasks, res)
	e.log().Info("transition applied",
		zap.Int64("order_id", order.ID),
		zap.Stringer("action", opts.Action),
		zap.Int64("actor_id", actor.UserID),
		zap.String("from", string(res.FromStatus)),
		zap.String("to", string(res.Order.Status)))
	view := newView(res.Order, updated)
	e.emit(ctx, transitionNotification(res, view, actor.UserID, opts.Comment))
	return view, nil
}

func mergeTask(tasks []domain.Task, res workflow.Result) []domain.Task {
	out := append([]domain.Task(nil), tasks...)
	if !res.TaskChanged {
		return out
	}
	for i := range out {
		if out[i].ID == res.Task.ID {
			out[i] = res.Task
			return out
		}
	}
	return append(out, res.Task)
}

func transitionEvent(res workflow.Result, opts TransitionOptions, actorID int64) events.Entry {
	payload := events.EventPayload{
		"action": opts.Action.String(),
		"from":   string(res.FromStatus),
		"to":     string(res.Order.Status),
	}
	entry := events.Entry{Type: res.EventType, OrderID: res.Order.ID, EntityKind: "order", EntityID: fmt.Sprint(res.Order.ID), ActorID: actorID, Payload: payload}
	if res.TaskChanged {
		entry.EntityKind, entry.EntityID = "task", fmt.Sprint(res.Task.ID)
		payload["task_type"] = string(res.Task.Type)
		payload["task_status"] = string(res.Task.Status)
		if res.Task.AssigneeID != nil {
			payload["assignee_id"] = *res.Task.AssigneeID
		}
		if res.Task.UploadedFile != nil && opts.Action.Kind == workflow.ActionComplete {
			payload["file"] = *res.Task.UploadedFile
		}
	}
	if c := strings.TrimSpace(opts.Comment); c != "" {
		payload["comment"] = c
	}
	return entry
}

func transitionNotification(res workflow.Result, view OrderView, actorID int64, comment string) notify.Notification {
	n := notify.Notification{Event: res.EventType, OrderID: view.ID, NewStatus: view.Observed, ActorID: actorID}
	var assignee int64
	if res.Task.AssigneeID != nil {
		assignee = *res.Task.AssigneeID
	}
	stage := strings.ToLower(string(res.Task.Type))
	switch res.EventType {
	case "task.assigned":
		n.RecipientID = assignee
		n.Message = fmt.Sprintf("order #%d: %s task assigned to you", view.ID, stage)
	case "task.started":
		n.Message = fmt.Sprintf("order #%d: %s work started", view.ID, stage)
	case "task.completed":
		n.Message = fmt.Sprintf("order #%d: %s done, awaiting validation", view.ID, stage)
	case "task.validated":
		n.RecipientID = assignee
		n.Message = fmt.Sprintf("order #%d: %s validated, now %s", view.ID, stage, view.Observed)
	case "task.rejected":
		n.RecipientID = assignee
		n.Message = fmt.Sprintf("order #%d: %s rejected", view.ID, stage)
		if c := strings.TrimSpace(comment); c != "" {
			n.Message += ": " + c
		}
	case "order.stocked":
		n.Message = fmt.Sprintf("order #%d moved to stock", view.ID)
	}
	return n
}

// UploadOptions carry a design upload that completes the DESIGN task.
type UploadOptions struct {
	OrderID  int64
	ActorID  int64
	Filename string
	Content  []byte
}

// UploadDesign stores the file, then completes the DESIGN task with its
// reference. The guard is checked first so refused uploads store nothing.
func (e Engine) UploadDesign(ctx context.Context, opts UploadOptions) (OrderView, error) {
	if len(opts.Content) == 0 {
		return OrderView{}, invalid("content", "file content is empty")
	}
	if limit := e.maxUpload(); limit > 0 && int64(len(opts.Content)) > limit {
		return OrderView{}, invalid("content", "file exceeds %d bytes", limit)
	}
	if e.Blobs == nil {
		return OrderView{}, &PersistenceError{Op: "upload", Err: errors.New("blob store not configured")}
	}
	complete := workflow.Action{Kind: workflow.ActionComplete, Stage: domain.TaskDesign}
	if err := e.precheck(ctx, opts.OrderID, opts.ActorID, complete); err != nil {
		return OrderView{}, err
	}
	ref, err := e.Blobs.Put(ctx, opts.OrderID, opts.Filename, opts.Content)
	if err != nil {
		return OrderView{}, persist("store file", err)
	}
	e.log().Debug("design stored", zap.Int64("order_id", opts.OrderID), zap.String("ref", ref), zap.Int("bytes", len(opts.Content)))
	view, err := e.Transition(ctx, TransitionOptions{OrderID: opts.OrderID, ActorID: opts.ActorID, Action: complete, FileRef: ref})
	if err != nil {
		// The order moved between precheck and commit; nothing references the blob.
		if delErr := e.Blobs.Delete(context.WithoutCancel(ctx), ref); delErr != nil {
			e.log().Warn("orphaned design blob", zap.Int64("order_id", opts.OrderID), zap.String("ref", ref), zap.Error(delErr))
		}
		return OrderView{}, err
	}
	return view, nil
}

func (e Engine) maxUpload() int64 {
	if e.Config == nil {
		return 0
	}
	return e.Config.Server.MaxUploadBytes
}

// precheck evaluates the guard on a read-only snapshot.
func (e Engine) precheck(ctx context.Context, orderID, actorID int64, a workflow.Action) error {
	actor, err := e.Auth.Actor(ctx, nil, actorID)
	if err != nil {
		return err
	}
	view, err := e.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	for _, allowed := range workflow.ListAvailableActions(view.Order, view.Tasks, actor) {
		if allowed == a {
			return nil
		}
	}
	_, err = workflow.ApplyTransition(view.Order, view.Tasks, workflow.Request{Action: a, Actor: actor, FileRef: "pending-upload"})
	if err == nil {
		err = &workflow.GuardViolation{Reason: workflow.ReasonTaskState, Action: a, Detail: "action not available"}
	}
	return err
}

// PendingTask is a task awaiting work from its assignee.
type PendingTask struct {
	domain.Task
	CustomerName  string             `json:"customer_name"`
	OrderStatus   domain.OrderStatus `json:"order_status"`
	RejectComment string             `json:"reject_comment,omitempty"`
}

// PendingTasks returns the tasks userID still has to work on.
func (e Engine) PendingTasks(ctx context.Context, userID int64) ([]PendingTask, error) {
	candidates, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
		AssigneeID: userID,
		Statuses:   []domain.TaskStatus{domain.TaskAssigned, domain.TaskRejected},
	})
	if err != nil {
		return nil, persist("list tasks", err)
	}
	pending := workflow.DerivePendingTasksForUser(candidates, userID)
	res := make([]PendingTask, 0, len(pending))
	for _, t := range pending {
		o, err := e.Repo.GetOrder(ctx, t.OrderID)
		if err != nil {
			return nil, persist("get order", err)
		}
		p := PendingTask{Task: t, CustomerName: o.CustomerName, OrderStatus: o.Status}
		if t.Status == domain.TaskRejected {
			if p.RejectComment, err = e.Repo.LatestRejection(ctx, t.ID); err != nil {
				return nil, persist("latest rejection", err)
			}
		}
		res = append(res, p)
	}
	return res, nil
}

func (e Engine) Reviews(ctx context.Context, orderID int64) ([]domain.Review, error) {
	if _, err := e.Repo.GetOrder(ctx, orderID); err != nil {
		return nil, persist("get order", err)
	}
	reviews, err := e.Repo.ListReviews(ctx, orderID)
	if err != nil {
		return nil, persist("list reviews", err)
	}
	if reviews == nil {
		reviews = []domain.Review{}
	}
	return reviews, nil
}
