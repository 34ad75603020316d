package queue

import (
	"strings"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/kiosk/pkg/enums/orderstatus"
	"github.com/google/uuid"
)

// Token is a ticket number, unique within a session and always positive.
type Token int

func (t Token) Valid() bool {
	return t > 0
}

// Item is one cart line. Prices are captured at submission time.
type Item struct {
	Name      string  `json:"name" bson:"name"`
	UnitPrice float64 `json:"unit_price" bson:"unit_price"`
	Quantity  int     `json:"quantity" bson:"quantity"`
}

func (i Item) Subtotal() float64 {
	return i.UnitPrice * float64(i.Quantity)
}

// Total sums the subtotal of every line.
func Total(items []Item) float64 {
	var total float64
	for _, item := range items {
		total += item.Subtotal()
	}
	return total
}

func validateItems(items []Item) error {
	if len(items) == 0 {
		return invalid("items", "cart is empty")
	}
	for _, item := range items {
		if strings.TrimSpace(item.Name) == "" {
			return invalid("items", "item name is required")
		}
		if item.Quantity < 1 {
			return invalid("items", "quantity must be at least 1")
		}
		if item.UnitPrice < 0 {
			return invalid("items", "price cannot be negative")
		}
	}
	return nil
}

// Order is a kiosk order. Token is nil while the order is pending and set
// exactly once on approval.
type Order struct {
	ID           uuid.UUID          `json:"id" bson:"_id"`
	CustomerName string             `json:"customer_name" bson:"customer_name"`
	Phone        string             `json:"phone" bson:"phone"`
	Items        []Item             `json:"items" bson:"items"`
	Total        float64            `json:"total" bson:"total"`
	Status       orderstatus.Status `json:"status" bson:"status"`
	Token        *Token             `json:"token,omitempty" bson:"token,omitempty"`
	SessionID    SessionID          `json:"session_id" bson:"session_id"`
	Paid         bool               `json:"paid" bson:"paid"`
	CreatedAt    time.Time          `json:"created_at" bson:"created_at"`
	ApprovedAt   *time.Time         `json:"approved_at,omitempty" bson:"approved_at,omitempty"`
	CompletedAt  *time.Time         `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	UpdatedAt    time.Time          `json:"updated_at" bson:"updated_at"`
}

// NewOrder builds a pending order with its total derived from items.
func NewOrder(customerName, phone string, items []Item, session SessionID) (*Order, error) {
	customerName = strings.TrimSpace(customerName)
	phone = strings.TrimSpace(phone)
	session = SessionID(strings.TrimSpace(string(session)))

	if customerName == "" {
		return nil, invalid("customer_name", "name is required")
	}
	if phone == "" {
		return nil, invalid("phone", "phone is required")
	}
	if session == "" {
		return nil, invalid("session_id", "session is required")
	}
	if err := validateItems(items); err != nil {
		return nil, err
	}

	lines := make([]Item, len(items))
	copy(lines, items)

	o := &Order{
		CustomerName: customerName,
		Phone:        phone,
		Items:        lines,
		Total:        Total(lines),
		Status:       orderstatus.Statuses.Pending,
		SessionID:    session,
	}
	o.EnsureID()
	o.BeforeCreate()
	return o, nil
}

func (o *Order) GetID() uuid.UUID {
	return o.ID
}

func (o *Order) ResourceType() string {
	return "order"
}

func (o *Order) SetID(id uuid.UUID) {
	o.ID = id
}

func (o *Order) EnsureID() {
	if o.ID == uuid.Nil {
		o.ID = apt.GenerateNewID()
	}
}

func (o *Order) BeforeCreate() {
	now := time.Now()
	o.CreatedAt = now
	o.UpdatedAt = now
}

func (o *Order) BeforeUpdate() {
	o.UpdatedAt = time.Now()
}

// TicketNumber returns the token when the order has been approved.
func (o *Order) TicketNumber() (Token, bool) {
	if o.Token == nil {
		return 0, false
	}
	return *o.Token, true
}

func (o *Order) IsPending() bool {
	return o.Status == orderstatus.Statuses.Pending
}

func (o *Order) IsCompleted() bool {
	return o.Status == orderstatus.Statuses.Completed
}

// Approve moves a pending order to approved with the given ticket.
func (o *Order) Approve(token Token, at time.Time) error {
	if !o.IsPending() {
		return ErrNotPending
	}
	if !token.Valid() {
		return invalid("token", "must be positive")
	}
	t := token
	o.Token = &t
	o.Status = orderstatus.Statuses.Approved
	o.ApprovedAt = &at
	o.UpdatedAt = at
	return nil
}

// Complete makes the order terminal. Pending orders hold no ticket and
// cannot be completed.
func (o *Order) Complete(at time.Time) error {
	switch {
	case o.IsCompleted():
		return ErrAlreadyCompleted
	case o.IsPending():
		return ErrNotApproved
	}
	o.Status = orderstatus.Statuses.Completed
	o.CompletedAt = &at
	o.UpdatedAt = at
	return nil
}

// SetItems replaces the cart and re-derives the total. The token is kept.
func (o *Order) SetItems(items []Item) error {
	if o.IsCompleted() || o.Paid {
		return ErrOrderLocked
	}
	if err := validateItems(items); err != nil {
		return err
	}
	lines := make([]Item, len(items))
	copy(lines, items)
	o.Items = lines
	o.Total = Total(lines)
	o.BeforeUpdate()
	return nil
}

func (o *Order) SetPaid(paid bool) {
	o.Paid = paid
	o.BeforeUpdate()
}

// QueueStatus derives the status shown to customers and staff from the
// stored status and the session's serving pointer.
func (o *Order) QueueStatus(current int) orderstatus.Status {
	if o.Status != orderstatus.Statuses.Approved {
		return o.Status
	}
	token, ok := o.TicketNumber()
	if !ok {
		return o.Status
	}
	switch {
	case int(token) == current:
		return orderstatus.Statuses.Serving
	case int(token) < current:
		return orderstatus.Statuses.Skipped
	default:
		return orderstatus.Statuses.Approved
	}
}

// Validate checks the token invariant of a loaded order.
func (o *Order) Validate() error {
	if !o.Status.Stored() {
		return invalid("status", "unknown stored status "+o.Status.Name)
	}
	token, ok := o.TicketNumber()
	if o.IsPending() && ok {
		return invalid("token", "pending order holds a ticket")
	}
	if !o.IsPending() && !ok {
		return invalid("token", "ticket missing on "+o.Status.Name+" order")
	}
	if ok && !token.Valid() {
		return invalid("token", "must be positive")
	}
	return nil
}

func (o *Order) clone() *Order {
	c := *o
	c.Items = append([]Item(nil), o.Items...)
	if o.Token != nil {
		t := *o.Token
		c.Token = &t
	}
	if o.ApprovedAt != nil {
		t := *o.ApprovedAt
		c.ApprovedAt = &t
	}
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
