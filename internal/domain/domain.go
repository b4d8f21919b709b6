package domain

type OrderStatus string

const (
	StatusCreated                    OrderStatus = "CREATED"
	StatusDesignInProgress           OrderStatus = "DESIGN_IN_PROGRESS"
	StatusPrintValidated             OrderStatus = "PRINT_VALIDATED"
	StatusPrintInProgress            OrderStatus = "PRINT_IN_PROGRESS"
	StatusDeliveryValidated          OrderStatus = "DELIVERY_VALIDATED"
	StatusDeliveryInProgress         OrderStatus = "DELIVERY_IN_PROGRESS"
	StatusDeliveryValidatedFinal     OrderStatus = "DELIVERY_VALIDATED_FINAL"
	StatusDoneInStock                OrderStatus = "DONE_IN_STOCK"
	StatusDesignAwaitingValidation   OrderStatus = "DESIGN_DONE_AWAITING_VALIDATION"
	StatusPrintAwaitingValidation    OrderStatus = "PRINT_DONE_AWAITING_VALIDATION"
	StatusDeliveryAwaitingValidation OrderStatus = "DELIVERY_DONE_AWAITING_VALIDATION"
)

// StoredStatuses lists the statuses an order row can hold.
var StoredStatuses = []OrderStatus{
	StatusCreated,
	StatusDesignInProgress,
	StatusPrintValidated,
	StatusPrintInProgress,
	StatusDeliveryValidated,
	StatusDeliveryInProgress,
	StatusDeliveryValidatedFinal,
	StatusDoneInStock,
}

// ObservedStatuses is the full progression including the awaiting-validation
// states, which are derived from the stage task and never persisted.
var ObservedStatuses = []OrderStatus{
	StatusCreated,
	StatusDesignInProgress,
	StatusDesignAwaitingValidation,
	StatusPrintValidated,
	StatusPrintInProgress,
	StatusPrintAwaitingValidation,
	StatusDeliveryValidated,
	StatusDeliveryInProgress,
	StatusDeliveryAwaitingValidation,
	StatusDeliveryValidatedFinal,
	StatusDoneInStock,
}

// Rank is the position of s in ObservedStatuses, or -1.
func (s OrderStatus) Rank() int {
	for i, o := range ObservedStatuses {
		if o == s {
			return i
		}
	}
	return -1
}

func (s OrderStatus) Stored() bool {
	for _, o := range StoredStatuses {
		if o == s {
			return true
		}
	}
	return false
}

type TaskType string

const (
	TaskDesign   TaskType = "DESIGN"
	TaskPrint    TaskType = "PRINT"
	TaskDelivery TaskType = "DELIVERY"
)

var TaskTypes = []TaskType{TaskDesign, TaskPrint, TaskDelivery}

func (t TaskType) Valid() bool {
	return t == TaskDesign || t == TaskPrint || t == TaskDelivery
}

type TaskStatus string

const (
	TaskAssigned   TaskStatus = "ASSIGNED"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskDone       TaskStatus = "DONE"
	TaskValidated  TaskStatus = "VALIDATED"
	TaskRejected   TaskStatus = "REJECTED"
)

type ItemKind string

const (
	ItemPanel  ItemKind = "panel"
	ItemOneway ItemKind = "oneway"
)

type Order struct {
	ID           int64       `json:"id"`
	Status       OrderStatus `json:"status"`
	CustomerName string      `json:"customer_name"`
	Zone         string      `json:"zone,omitempty"`
	PropertyName string      `json:"property_name,omitempty"`
	Notes        string      `json:"notes,omitempty"`
	Items        []Item      `json:"items"`
	CreatedBy    int64       `json:"created_by"`
	Version      int64       `json:"version"`
	CreatedAt    string      `json:"created_at" format:"date-time"`
	UpdatedAt    string      `json:"updated_at" format:"date-time"`
}

// Item is either a panel (dimensions + content tags) or a oneway sheet
// (free-text manuscript), discriminated by Kind.
type Item struct {
	Position    int      `json:"position"`
	Kind        ItemKind `json:"kind" enum:"panel,oneway"`
	Type        string   `json:"type"`
	Height      float64  `json:"height,omitempty"`
	Width       float64  `json:"width,omitempty"`
	ContentTags []string `json:"content_tags,omitempty"`
	Manuscript  string   `json:"manuscript,omitempty"`
}

type Task struct {
	ID           int64      `json:"id"`
	OrderID      int64      `json:"order_id"`
	Type         TaskType   `json:"type" enum:"DESIGN,PRINT,DELIVERY"`
	AssigneeID   *int64     `json:"assignee_id,omitempty"`
	Status       TaskStatus `json:"status" enum:"ASSIGNED,IN_PROGRESS,DONE,VALIDATED,REJECTED"`
	UploadedFile *string    `json:"uploaded_file,omitempty"`
	Version      int64      `json:"version"`
	CreatedAt    string     `json:"created_at" format:"date-time"`
	UpdatedAt    string     `json:"updated_at" format:"date-time"`
	CompletedAt  *string    `json:"completed_at,omitempty" format:"date-time"`
	ValidatedAt  *string    `json:"validated_at,omitempty" format:"date-time"`
}

func (t Task) AssignedTo(userID int64) bool {
	return t.AssigneeID != nil && *t.AssigneeID == userID
}

type User struct {
	ID        int64    `json:"id"`
	Name      string   `json:"name"`
	Email     string   `json:"email,omitempty"`
	Roles     []string `json:"roles"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

type Review struct {
	ID         int64  `json:"id"`
	TaskID     int64  `json:"task_id"`
	OrderID    int64  `json:"order_id"`
	TaskType   string `json:"task_type"`
	Decision   string `json:"decision" enum:"validated,rejected"`
	Comment    string `json:"comment,omitempty"`
	ReviewerID int64  `json:"reviewer_id"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	OrderID    *int64 `json:"order_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    int64  `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    int64  `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
