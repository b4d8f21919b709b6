package server

import (
	"encoding/json"

	"printflow/internal/domain"
	"printflow/internal/engine"
	"printflow/internal/report"
	"printflow/internal/workflow"
)

// Request payloads

type CreateOrderRequest struct {
	CustomerName string        `json:"customer_name" minLength:"1"`
	Zone         string        `json:"zone,omitempty"`
	PropertyName string        `json:"property_name,omitempty"`
	Notes        string        `json:"notes,omitempty"`
	Items        []domain.Item `json:"items" minItems:"1"`
}

type TransitionRequest struct {
	// Action is "ASSIGN", "validate:design", "COMPLETE(PRINT)" or the split form with Stage.
	Action          string `json:"action" example:"VALIDATE"`
	Stage           string `json:"stage,omitempty"`
	AssigneeID      int64  `json:"assignee_id,omitempty"`
	FileRef         string `json:"file_ref,omitempty"`
	Comment         string `json:"comment,omitempty"`
	ExpectedVersion int64  `json:"expected_version,omitempty"`
}

func (r TransitionRequest) action() (workflow.Action, error) {
	raw := r.Action
	if r.Stage != "" {
		raw += ":" + r.Stage
	}
	return workflow.ParseAction(raw)
}

type UploadDesignRequest struct {
	Filename string `json:"filename" minLength:"1"`
	// Content is base64 encoded by the JSON codec.
	Content []byte `json:"content"`
}

type CreateUserRequest struct {
	Name  string   `json:"name" minLength:"1"`
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

type SetRoleRequest struct {
	Role  string `json:"role" enum:"ADMIN,COMMERCIAL,DESIGNER,IMPRIMEUR,LOGISTIQUE"`
	Grant *bool  `json:"grant,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name   string `json:"name,omitempty"`
	UserID int64  `json:"user_id,omitempty"`
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, UserID: k.UserID, Name: k.Name, CreatedAt: k.CreatedAt}
}

type DevLoginRequest struct {
	UserID int64 `json:"user_id"`
	// TTLSeconds defaults to one hour.
	TTLSeconds int `json:"ttl_seconds,omitempty"`
}

// Responses

type OrderResponse struct {
	engine.OrderView
	Actions []ActionResponse `json:"actions,omitempty"`
}

type ActionResponse struct {
	Kind  workflow.ActionKind `json:"kind"`
	Stage domain.TaskType     `json:"stage,omitempty"`
	Label string              `json:"label" example:"VALIDATE(DESIGN)"`
}

type paginatedOrders struct {
	Items      []OrderResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	OrderID    *int64         `json:"order_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    int64          `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type MeResponse struct {
	domain.User
	Source       string `json:"auth_source"`
	PendingTasks int    `json:"pending_tasks"`
}

type APIKeyResponse struct {
	ID     string `json:"id"`
	UserID int64  `json:"user_id"`
	Name   string `json:"name,omitempty"`
	// Key is only returned once, at creation.
	Key       string `json:"key,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type DevLoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
}

type BreakdownResponse struct {
	GeneratedAt string                    `json:"generated_at" format:"date-time"`
	Total       int                       `json:"total"`
	Active      int                       `json:"active"`
	Orders      map[string]int            `json:"orders"`
	Tasks       map[string]map[string]int `json:"tasks"`
}

func orderResponse(v engine.OrderView, actions []workflow.Action) OrderResponse {
	res := OrderResponse{OrderView: v}
	if v.Items == nil {
		res.Items = []domain.Item{}
	}
	for _, a := range actions {
		res.Actions = append(res.Actions, actionResponse(a))
	}
	return res
}

func actionResponse(a workflow.Action) ActionResponse {
	return ActionResponse{Kind: a.Kind, Stage: a.Stage, Label: a.String()}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		OrderID:    e.OrderID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func breakdownResponse(b report.Breakdown) BreakdownResponse {
	res := BreakdownResponse{
		GeneratedAt: b.GeneratedAt,
		Total:       b.Total,
		Active:      b.Active(),
		Orders:      map[string]int{},
		Tasks:       map[string]map[string]int{},
	}
	for s, n := range b.Orders {
		res.Orders[string(s)] = n
	}
	for typ, byStatus := range b.Tasks {
		m := map[string]int{}
		for s, n := range byStatus {
			m[string(s)] = n
		}
		res.Tasks[string(typ)] = m
	}
	return res
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil
	}
	return obj
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
