package queue

import (
	"fmt"
	"sort"
	"strings"
)

// Policy selects how a customer's place in line is counted.
type Policy string

const (
	// PolicyArithmetic counts ticket numbers: token - current.
	PolicyArithmetic Policy = "arithmetic"
	// PolicyBetween counts the live orders holding a ticket strictly between
	// current and token.
	PolicyBetween Policy = "between"
)

func ParsePolicy(name string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(name))) {
	case "", PolicyArithmetic:
		return PolicyArithmetic, nil
	case PolicyBetween:
		return PolicyBetween, nil
	default:
		return "", fmt.Errorf("unknown position policy %q", name)
	}
}

// NeedsSessionOrders reports whether ComputePosition reads sessionOrders.
func (p Policy) NeedsSessionOrders() bool {
	return p == PolicyBetween
}

// ComputePosition returns how many tickets stand before order. Zero means
// next, negative means the ticket was skipped. ok is false for orders
// without a position (pending or completed).
func (p Policy) ComputePosition(order *Order, current int, sessionOrders []*Order) (position int, ok bool) {
	if order == nil || order.IsCompleted() {
		return 0, false
	}
	token, ok := order.TicketNumber()
	if !ok {
		return 0, false
	}

	diff := int(token) - current
	if p != PolicyBetween || diff < 0 {
		return diff, true
	}

	ahead := 0
	for _, other := range sessionOrders {
		if other == nil || other.IsCompleted() || other.SessionID != order.SessionID {
			continue
		}
		t, ok := other.TicketNumber()
		if !ok {
			continue
		}
		if int(t) > current && t < token {
			ahead++
		}
	}
	return ahead, true
}

// ComputePosition applies the default arithmetic policy.
func ComputePosition(order *Order, current int, sessionOrders []*Order) (int, bool) {
	return PolicyArithmetic.ComputePosition(order, current, sessionOrders)
}

// Placement is the customer-facing reading of a position.
type Placement string

const (
	PlacementNone      Placement = "none"
	PlacementPending   Placement = "pending"
	PlacementNext      Placement = "next"
	PlacementWaiting   Placement = "waiting"
	PlacementSkipped   Placement = "skipped"
	PlacementCompleted Placement = "completed"
)

func PlacementFor(position int) Placement {
	switch {
	case position < 0:
		return PlacementSkipped
	case position == 0:
		return PlacementNext
	default:
		return PlacementWaiting
	}
}

func (p Placement) Message(position int) string {
	switch p {
	case PlacementPending:
		return "Please wait until staff approves your order"
	case PlacementNext:
		return "You're next. Please come near the counter."
	case PlacementWaiting:
		if position == 1 {
			return "1 person before you"
		}
		return fmt.Sprintf("%d people before you", position)
	case PlacementSkipped:
		return "Your token was skipped. Please go to the staff counter and wait for your next turn."
	case PlacementCompleted:
		return "Order completed. Please collect your order at the counter."
	default:
		return "No active order found"
	}
}

// ActiveOrder picks the order a customer is tracking among their orders in
// one session: the smallest ticket among non-completed orders, pending
// orders last, ties by creation time.
func ActiveOrder(orders []*Order) *Order {
	live := make([]*Order, 0, len(orders))
	for _, o := range orders {
		if o != nil && !o.IsCompleted() {
			live = append(live, o)
		}
	}
	if len(live) == 0 {
		return nil
	}

	sort.SliceStable(live, func(i, j int) bool {
		ti, iok := live[i].TicketNumber()
		tj, jok := live[j].TicketNumber()
		switch {
		case iok && !jok:
			return true
		case !iok && jok:
			return false
		case iok && jok && ti != tj:
			return ti < tj
		default:
			return live[i].CreatedAt.Before(live[j].CreatedAt)
		}
	})
	return live[0]
}

// Tracking is the customer view of their place in a session.
type Tracking struct {
	SessionID SessionID `json:"session_id"`
	Order     *Order    `json:"order,omitempty"`
	Token     *Token    `json:"token,omitempty"`
	Current   int       `json:"current"`
	Position  *int      `json:"position,omitempty"`
	Placement Placement `json:"placement"`
	Message   string    `json:"message"`
	Paid      bool      `json:"paid"`
}

// Track combines active order selection, the serving pointer and position
// into a Tracking view. phoneOrders are the customer's orders in the session;
// sessionOrders are only read by the between policy.
func (p Policy) Track(session SessionID, phoneOrders []*Order, current int, sessionOrders []*Order) Tracking {
	view := Tracking{SessionID: session, Current: current}

	active := ActiveOrder(phoneOrders)
	if active == nil {
		view.Placement = PlacementNone
		if len(phoneOrders) > 0 {
			view.Placement = PlacementCompleted
		}
		view.Message = view.Placement.Message(0)
		return view
	}

	view.Order = active
	view.Token = active.Token
	view.Paid = active.Paid

	position, ok := p.ComputePosition(active, current, sessionOrders)
	if !ok {
		view.Placement = PlacementPending
		view.Message = view.Placement.Message(0)
		return view
	}

	view.Position = &position
	view.Placement = PlacementFor(position)
	view.Message = view.Placement.Message(position)
	return view
}
