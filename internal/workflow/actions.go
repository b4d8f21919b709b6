package workflow

import (
	"fmt"
	"strings"

	"printflow/internal/domain"
)

type ActionKind string

const (
	ActionAssign      ActionKind = "ASSIGN"
	ActionStart       ActionKind = "START"
	ActionComplete    ActionKind = "COMPLETE"
	ActionValidate    ActionKind = "VALIDATE"
	ActionReject      ActionKind = "REJECT"
	ActionMoveToStock ActionKind = "MOVE_TO_STOCK"
)

var ActionKinds = []ActionKind{ActionAssign, ActionStart, ActionComplete, ActionValidate, ActionReject, ActionMoveToStock}

// Action is one step a user may request on an order. Stage is empty only for MOVE_TO_STOCK.
type Action struct {
	Kind  ActionKind      `json:"kind" enum:"ASSIGN,START,COMPLETE,VALIDATE,REJECT,MOVE_TO_STOCK"`
	Stage domain.TaskType `json:"stage,omitempty"`
}

func (a Action) String() string {
	if a.Stage == "" {
		return string(a.Kind)
	}
	return fmt.Sprintf("%s(%s)", a.Kind, a.Stage)
}

// ParseAction accepts "VALIDATE", "validate:design" or "COMPLETE(PRINT)".
func ParseAction(s string) (Action, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	var kind, stage string
	switch {
	case strings.Contains(s, "("):
		kind, stage, _ = strings.Cut(strings.TrimSuffix(s, ")"), "(")
	case strings.Contains(s, ":"):
		kind, stage, _ = strings.Cut(s, ":")
	default:
		kind = s
	}
	a := Action{Kind: ActionKind(kind), Stage: domain.TaskType(stage)}
	if err := a.wellFormed(); err != nil {
		return Action{}, err
	}
	return a, nil
}

func (a Action) wellFormed() error {
	known := false
	for _, k := range ActionKinds {
		if a.Kind == k {
			known = true
			break
		}
	}
	if !known {
		return &GuardViolation{Reason: ReasonUnknownAction, Action: a, Detail: fmt.Sprintf("unknown action kind %q", a.Kind)}
	}
	if a.Kind == ActionMoveToStock {
		if a.Stage != "" {
			return &GuardViolation{Reason: ReasonUnknownAction, Action: a, Detail: "MOVE_TO_STOCK takes no stage"}
		}
		return nil
	}
	if !a.Stage.Valid() {
		return &GuardViolation{Reason: ReasonUnknownAction, Action: a, Detail: fmt.Sprintf("unknown stage %q", a.Stage)}
	}
	return nil
}

// Actor is the acting user as resolved by the role authority.
type Actor struct {
	UserID int64
	Roles  domain.RoleSet
}

// Request carries one transition attempt and its action-specific arguments.
type Request struct {
	Action Action
	Actor  Actor
	// ASSIGN
	AssigneeID    int64
	AssigneeRoles domain.RoleSet
	// COMPLETE; mandatory for the DESIGN stage
	FileRef string
	// REJECT / VALIDATE
	Comment string
	Now     string
}

// Result is the post-transition state to persist atomically.
type Result struct {
	Order       domain.Order
	Task        domain.Task
	TaskCreated bool
	// TaskChanged is false only for MOVE_TO_STOCK.
	TaskChanged bool
	FromStatus  domain.OrderStatus
	Decision    string
	EventType   string
}

// OrderChanged reports whether the stored order status moved.
func (r Result) OrderChanged() bool {
	return r.Order.Status != r.FromStatus
}
