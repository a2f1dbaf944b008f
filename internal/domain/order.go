package domain

import (
	"fmt"
	"time"
)

type OrderStatus string

const (
	OrderWaiting    OrderStatus = "waiting"
	OrderInProgress OrderStatus = "in_progress"
	OrderCompleted  OrderStatus = "completed"
	OrderCancelled  OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderWaiting, OrderInProgress, OrderCompleted, OrderCancelled:
		return true
	}
	return false
}

// Terminal statuses accept no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderCancelled
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

// ProductionOrder is a unit of manufacturing work.
type ProductionOrder struct {
	ID          string      `json:"id"`
	Product     string      `json:"product"`
	Quantity    int         `json:"quantity"`
	Produced    int         `json:"produced"`
	Status      OrderStatus `json:"status"`
	Paused      bool        `json:"paused,omitempty"`
	Priority    Priority    `json:"priority"`
	StartDate   *time.Time  `json:"startDate,omitempty"`
	Deadline    *time.Time  `json:"deadline,omitempty"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
	Progress    int         `json:"progress"`
}

// Normalize fills defaults.
func (o *ProductionOrder) Normalize() {
	if o.Status == "" {
		o.Status = OrderWaiting
	}
	if o.Priority == "" {
		o.Priority = PriorityNormal
	}
}

func (o ProductionOrder) Validate() error {
	p := problems{entity: "production order"}
	if o.ID == "" {
		p.addf("id is required")
	}
	if o.Product == "" {
		p.addf("product is required")
	}
	if o.Quantity <= 0 {
		p.addf("quantity must be greater than zero")
	}
	if o.Produced < 0 || o.Produced > o.Quantity {
		p.addf("produced %d must be between 0 and quantity %d", o.Produced, o.Quantity)
	}
	if o.Progress < 0 || o.Progress > 100 {
		p.addf("progress %d must be between 0 and 100", o.Progress)
	}
	if !o.Status.Valid() {
		p.addf("unknown status %q", o.Status)
	}
	if !o.Priority.Valid() {
		p.addf("unknown priority %q", o.Priority)
	}
	if o.Progress == 100 && o.Status != OrderCompleted {
		p.addf("progress 100 requires status completed")
	}
	if o.Paused && o.Status != OrderInProgress {
		p.addf("only in-progress orders can be paused")
	}
	if o.StartDate != nil && o.Deadline != nil && o.Deadline.Before(*o.StartDate) {
		p.addf("deadline before start date")
	}
	return p.err()
}

func transitionErr(id string, from OrderStatus, action string) error {
	return fmt.Errorf("%w: order %s is %s, cannot %s", ErrInvalidTransition, id, from, action)
}

func (o *ProductionOrder) Start(now time.Time) error {
	if o.Status != OrderWaiting {
		return transitionErr(o.ID, o.Status, "start")
	}
	o.Status = OrderInProgress
	o.Paused = false
	if o.StartDate == nil {
		t := now
		o.StartDate = &t
	}
	return nil
}

func (o *ProductionOrder) Pause() error {
	if o.Status != OrderInProgress || o.Paused {
		return transitionErr(o.ID, o.Status, "pause")
	}
	o.Paused = true
	return nil
}

func (o *ProductionOrder) Resume() error {
	if o.Status != OrderInProgress || !o.Paused {
		return transitionErr(o.ID, o.Status, "resume")
	}
	o.Paused = false
	return nil
}

func (o *ProductionOrder) Cancel() error {
	if o.Status.Terminal() {
		return transitionErr(o.ID, o.Status, "cancel")
	}
	o.Status = OrderCancelled
	o.Paused = false
	return nil
}

func (o *ProductionOrder) Complete(now time.Time) error {
	if o.Status != OrderInProgress {
		return transitionErr(o.ID, o.Status, "complete")
	}
	o.Progress = 100
	o.Produced = o.Quantity
	o.Status = OrderCompleted
	o.Paused = false
	t := now
	o.CompletedAt = &t
	return nil
}

// TransitionTo moves the order to status to through the matching lifecycle
// step. Moving to the current status is a no-op.
func (o *ProductionOrder) TransitionTo(to OrderStatus, now time.Time) error {
	switch to {
	case o.Status:
		return nil
	case OrderInProgress:
		return o.Start(now)
	case OrderCancelled:
		return o.Cancel()
	case OrderCompleted:
		return o.Complete(now)
	}
	return transitionErr(o.ID, o.Status, "move to "+string(to))
}

// Advance moves a running, unpaused order forward by step percent and reports
// whether anything changed. Reaching 100 completes the order.
func (o *ProductionOrder) Advance(step int, now time.Time) bool {
	if o.Status != OrderInProgress || o.Paused || step <= 0 {
		return false
	}
	o.Progress += step
	if o.Progress >= 100 {
		return o.Complete(now) == nil
	}
	o.Produced = o.Quantity * o.Progress / 100
	return true
}
