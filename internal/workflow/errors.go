package workflow

import (
	"errors"
	"fmt"
)

type Reason string

const (
	ReasonWrongRole       Reason = "wrong_role"
	ReasonNotAssignee     Reason = "not_assignee"
	ReasonWrongStatus     Reason = "wrong_status"
	ReasonTaskExists      Reason = "task_exists"
	ReasonTaskMissing     Reason = "task_missing"
	ReasonTaskState       Reason = "task_state"
	ReasonInvalidAssignee Reason = "invalid_assignee"
	ReasonFileRequired    Reason = "file_required"
	ReasonUnknownAction   Reason = "unknown_action"
)

// GuardViolation is returned when an action is refused. No state changes.
type GuardViolation struct {
	Reason Reason
	Action Action
	Detail string
}

func (e *GuardViolation) Error() string {
	return fmt.Sprintf("%s refused (%s): %s", e.Action, e.Reason, e.Detail)
}

// Forbidden reports whether the violation concerns who is acting rather than
// the state of the order.
func (e *GuardViolation) Forbidden() bool {
	return e.Reason == ReasonWrongRole || e.Reason == ReasonNotAssignee
}

// AsGuardViolation unwraps err to a *GuardViolation.
func AsGuardViolation(err error) (*GuardViolation, bool) {
	var gv *GuardViolation
	if errors.As(err, &gv) {
		return gv, true
	}
	return nil, false
}

func violation(reason Reason, a Action, format string, args ...any) error {
	return &GuardViolation{Reason: reason, Action: a, Detail: fmt.Sprintf(format, args...)}
}
