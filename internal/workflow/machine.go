package workflow

import (
	"printflow/internal/domain"
)

// stage binds a task type to the order statuses around it.
type stage struct {
	task       domain.TaskType
	assignFrom domain.OrderStatus
	working    domain.OrderStatus
	awaiting   domain.OrderStatus
	validated  domain.OrderStatus
}

var stages = []stage{
	{domain.TaskDesign, domain.StatusCreated, domain.StatusDesignInProgress, domain.StatusDesignAwaitingValidation, domain.StatusPrintValidated},
	{domain.TaskPrint, domain.StatusPrintValidated, domain.StatusPrintInProgress, domain.StatusPrintAwaitingValidation, domain.StatusDeliveryValidated},
	{domain.TaskDelivery, domain.StatusDeliveryValidated, domain.StatusDeliveryInProgress, domain.StatusDeliveryAwaitingValidation, domain.StatusDeliveryValidatedFinal},
}

func stageOf(t domain.TaskType) (stage, bool) {
	for _, s := range stages {
		if s.task == t {
			return s, true
		}
	}
	return stage{}, false
}

func findTask(tasks []domain.Task, t domain.TaskType) (domain.Task, bool) {
	for _, task := range tasks {
		if task.Type == t {
			return task, true
		}
	}
	return domain.Task{}, false
}

// StoredQuery translates an observed status into the stored status it lives
// under. For the working and awaiting statuses of a stage it also returns the
// stage task type and whether that task must be DONE; task is empty otherwise.
func StoredQuery(observed domain.OrderStatus) (stored domain.OrderStatus, task domain.TaskType, done bool) {
	for _, s := range stages {
		switch observed {
		case s.working:
			return s.working, s.task, false
		case s.awaiting:
			return s.working, s.task, true
		}
	}
	return observed, "", false
}

// AwaitingStatus is the observed status of an order whose t task is DONE.
func AwaitingStatus(t domain.TaskType) domain.OrderStatus {
	s, _ := stageOf(t)
	return s.awaiting
}

// Observe returns the externally visible order status: a stage whose task is
// DONE reads as awaiting validation.
func Observe(order domain.Order, tasks []domain.Task) domain.OrderStatus {
	for _, s := range stages {
		if order.Status != s.working {
			continue
		}
		if task, ok := findTask(tasks, s.task); ok && task.Status == domain.TaskDone {
			return s.awaiting
		}
	}
	return order.Status
}

// guard runs the structural checks shared by listing and applying: role,
// order status, task presence and state, assignee identity. Argument checks
// live in checkArgs.
func guard(order domain.Order, tasks []domain.Task, a Action, actor Actor) error {
	if err := a.wellFormed(); err != nil {
		return err
	}
	if a.Kind == ActionMoveToStock {
		if !actor.Roles.Has(domain.RoleAdmin) {
			return violation(ReasonWrongRole, a, "ADMIN role required")
		}
		if order.Status != domain.StatusDeliveryValidatedFinal {
			return violation(ReasonWrongStatus, a, "order is %s, want %s", order.Status, domain.StatusDeliveryValidatedFinal)
		}
		return nil
	}

	st, _ := stageOf(a.Stage)
	task, hasTask := findTask(tasks, a.Stage)

	switch a.Kind {
	case ActionAssign:
		if !actor.Roles.Has(domain.RoleAdmin) {
			return violation(ReasonWrongRole, a, "ADMIN role required")
		}
		if order.Status != st.assignFrom {
			return violation(ReasonWrongStatus, a, "order is %s, want %s", order.Status, st.assignFrom)
		}
		if hasTask {
			return violation(ReasonTaskExists, a, "%s task already exists (%s)", a.Stage, task.Status)
		}
		return nil

	case ActionStart, ActionComplete:
		role := domain.StageRole(a.Stage)
		if !actor.Roles.Has(role) {
			return violation(ReasonWrongRole, a, "%s role required", role)
		}
		if order.Status != st.working {
			return violation(ReasonWrongStatus, a, "order is %s, want %s", order.Status, st.working)
		}
		if !hasTask {
			return violation(ReasonTaskMissing, a, "no %s task", a.Stage)
		}
		if !task.AssignedTo(actor.UserID) {
			return violation(ReasonNotAssignee, a, "task is assigned to another user")
		}
		allowed := []domain.TaskStatus{domain.TaskAssigned, domain.TaskRejected}
		if a.Kind == ActionComplete {
			allowed = append(allowed, domain.TaskInProgress)
		}
		if !statusIn(task.Status, allowed) {
			return violation(ReasonTaskState, a, "task is %s", task.Status)
		}
		return nil

	case ActionValidate, ActionReject:
		if !actor.Roles.Has(domain.RoleAdmin) {
			return violation(ReasonWrongRole, a, "ADMIN role required")
		}
		if order.Status != st.working {
			return violation(ReasonWrongStatus, a, "order is %s, want %s", order.Status, st.working)
		}
		if !hasTask {
			return violation(ReasonTaskMissing, a, "no %s task", a.Stage)
		}
		if task.Status != domain.TaskDone {
			return violation(ReasonTaskState, a, "task is %s, want %s", task.Status, domain.TaskDone)
		}
		return nil
	}
	return violation(ReasonUnknownAction, a, "unhandled action")
}

func checkArgs(req Request) error {
	a := req.Action
	switch a.Kind {
	case ActionAssign:
		if req.AssigneeID == 0 {
			return violation(ReasonInvalidAssignee, a, "assignee required")
		}
		role := domain.StageRole(a.Stage)
		if !req.AssigneeRoles.Has(role) {
			return violation(ReasonInvalidAssignee, a, "user %d does not hold %s", req.AssigneeID, role)
		}
	case ActionComplete:
		if a.Stage == domain.TaskDesign && req.FileRef == "" {
			return violation(ReasonFileRequired, a, "design completion requires an uploaded file")
		}
	}
	return nil
}

func statusIn(s domain.TaskStatus, set []domain.TaskStatus) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

// candidates is every well-formed action in a stable order.
func candidates() []Action {
	var out []Action
	for _, s := range stages {
		for _, k := range []ActionKind{ActionAssign, ActionStart, ActionComplete, ActionValidate, ActionReject} {
			out = append(out, Action{Kind: k, Stage: s.task})
		}
	}
	return append(out, Action{Kind: ActionMoveToStock})
}

// ListAvailableActions returns the actions actor may attempt now. It is
// computed with the same guard ApplyTransition enforces.
func ListAvailableActions(order domain.Order, tasks []domain.Task, actor Actor) []Action {
	var out []Action
	for _, a := range candidates() {
		if guard(order, tasks, a, actor) == nil {
			out = append(out, a)
		}
	}
	return out
}

// ApplyTransition validates req against the current state and returns the
// new order and task values. Inputs are not mutated.
func ApplyTransition(order domain.Order, tasks []domain.Task, req Request) (Result, error) {
	a := req.Action
	if err := guard(order, tasks, a, req.Actor); err != nil {
		return Result{}, err
	}
	if err := checkArgs(req); err != nil {
		return Result{}, err
	}

	res := Result{Order: order, FromStatus: order.Status}
	res.Order.Items = append([]domain.Item(nil), order.Items...)
	if req.Now != "" {
		res.Order.UpdatedAt = req.Now
	}
	if a.Kind == ActionMoveToStock {
		res.Order.Status = domain.StatusDoneInStock
		res.EventType = "order.stocked"
		return res, nil
	}

	st, _ := stageOf(a.Stage)
	task, _ := findTask(tasks, a.Stage)
	res.TaskChanged = true

	switch a.Kind {
	case ActionAssign:
		assignee := req.AssigneeID
		task = domain.Task{
			OrderID:    order.ID,
			Type:       a.Stage,
			AssigneeID: &assignee,
			Status:     domain.TaskAssigned,
			CreatedAt:  req.Now,
		}
		res.TaskCreated = true
		res.Order.Status = st.working
		res.EventType = "task.assigned"
	case ActionStart:
		task.Status = domain.TaskInProgress
		res.EventType = "task.started"
	case ActionComplete:
		task.Status = domain.TaskDone
		if req.FileRef != "" {
			ref := req.FileRef
			task.UploadedFile = &ref
		}
		if req.Now != "" {
			now := req.Now
			task.CompletedAt = &now
		}
		res.EventType = "task.completed"
	case ActionValidate:
		task.Status = domain.TaskValidated
		if req.Now != "" {
			now := req.Now
			task.ValidatedAt = &now
		}
		res.Order.Status = st.validated
		res.Decision = "validated"
		res.EventType = "task.validated"
	case ActionReject:
		task.Status = domain.TaskRejected
		res.Decision = "rejected"
		res.EventType = "task.rejected"
	}
	if req.Now != "" {
		task.UpdatedAt = req.Now
	}
	res.Task = task
	return res, nil
}

// DerivePendingTasksForUser returns the tasks that still need work from
// userID: assigned to them and either ASSIGNED or REJECTED.
func DerivePendingTasksForUser(tasks []domain.Task, userID int64) []domain.Task {
	var out []domain.Task
	for _, t := range tasks {
		if !t.AssignedTo(userID) {
			continue
		}
		if t.Status == domain.TaskAssigned || t.Status == domain.TaskRejected {
			out = append(out, t)
		}
	}
	return out
}
