package repo

import (
	"context"
	"fmt"
	"time"

	"plantdash/internal/domain"
)

// SaveCollectionRecord validates and stores a collection record. An empty id
// allocates the next sequence number; a set id replaces that record.
func (r Repo) SaveCollectionRecord(ctx context.Context, c domain.CollectionRecord) (domain.CollectionRecord, error) {
	c.Normalize(r.now())
	if err := c.Validate(); err != nil {
		return c, err
	}
	id, err := put(ctx, r, domain.CollCollections, c.ID, c.DateTime, c, c.ID == "")
	if err != nil {
		return c, err
	}
	c.ID = id
	return c, nil
}

func (r Repo) GetCollectionRecords(ctx context.Context) ([]domain.CollectionRecord, error) {
	return list[domain.CollectionRecord](ctx, r, domain.CollCollections)
}

func (r Repo) GetCollectionRecord(ctx context.Context, id string) (domain.CollectionRecord, error) {
	return get[domain.CollectionRecord](ctx, r, domain.CollCollections, id)
}

func (r Repo) UpdateCollectionStatus(ctx context.Context, id string, status domain.CollectionStatus) (domain.CollectionRecord, error) {
	c, err := r.GetCollectionRecord(ctx, id)
	if err != nil {
		return c, err
	}
	c.Status = status
	if err := c.Validate(); err != nil {
		return c, err
	}
	_, err = put(ctx, r, domain.CollCollections, c.ID, c.DateTime, c, false)
	return c, err
}

func (r Repo) DeleteCollectionRecord(ctx context.Context, id string) error {
	return remove(ctx, r, domain.CollCollections, id)
}

// NextOrderID returns the next OP-YYYY-NNN identifier.
func (r Repo) NextOrderID(ctx context.Context, year int) (string, error) {
	return nextSerial(ctx, r, domain.CollOrders, "OP", year)
}

// SaveProductionOrder creates or replaces an order. An empty id gets the next serial.
func (r Repo) SaveProductionOrder(ctx context.Context, o domain.ProductionOrder) (domain.ProductionOrder, error) {
	if o.ID == "" {
		id, err := r.NextOrderID(ctx, r.now().In(r.loc()).Year())
		if err != nil {
			return o, err
		}
		o.ID = id
	}
	o.Normalize()
	if err := o.Validate(); err != nil {
		return o, err
	}
	_, err := put(ctx, r, domain.CollOrders, o.ID, optionalTime(o.StartDate, r.now()), o, false)
	return o, err
}

func (r Repo) GetProductionOrders(ctx context.Context) ([]domain.ProductionOrder, error) {
	return list[domain.ProductionOrder](ctx, r, domain.CollOrders)
}

func (r Repo) GetProductionOrder(ctx context.Context, id string) (domain.ProductionOrder, error) {
	return get[domain.ProductionOrder](ctx, r, domain.CollOrders, id)
}

func (r Repo) DeleteProductionOrder(ctx context.Context, id string) error {
	return remove(ctx, r, domain.CollOrders, id)
}

// OrderPatch carries the fields to change; nil fields are left alone.
type OrderPatch struct {
	Product  *string             `json:"product,omitempty"`
	Quantity *int                `json:"quantity,omitempty"`
	Produced *int                `json:"produced,omitempty"`
	Status   *domain.OrderStatus `json:"status,omitempty"`
	Priority *domain.Priority    `json:"priority,omitempty"`
	Deadline *time.Time          `json:"deadline,omitempty"`
	Progress *int                `json:"progress,omitempty"`
	Paused   *bool               `json:"paused,omitempty"`
}

// UpdateProductionOrder applies patch; ErrNotFound when id does not exist.
// Status changes go through the order lifecycle, and progress fields of a
// completed or cancelled order are frozen.
func (r Repo) UpdateProductionOrder(ctx context.Context, id string, patch OrderPatch) (domain.ProductionOrder, error) {
	return r.modifyOrder(ctx, id, func(o *domain.ProductionOrder) error {
		if o.Status.Terminal() && (patch.Produced != nil || patch.Progress != nil || patch.Paused != nil ||
			(patch.Status != nil && *patch.Status != o.Status)) {
			return fmt.Errorf("%w: order %s is %s", domain.ErrInvalidTransition, o.ID, o.Status)
		}
		if patch.Product != nil {
			o.Product = *patch.Product
		}
		if patch.Quantity != nil {
			o.Quantity = *patch.Quantity
		}
		if patch.Produced != nil {
			o.Produced = *patch.Produced
		}
		if patch.Priority != nil {
			o.Priority = *patch.Priority
		}
		if patch.Deadline != nil {
			d := *patch.Deadline
			o.Deadline = &d
		}
		if patch.Progress != nil {
			o.Progress = *patch.Progress
		}
		if patch.Paused != nil {
			o.Paused = *patch.Paused
		}
		if patch.Status != nil {
			if err := o.TransitionTo(*patch.Status, r.now()); err != nil {
				return err
			}
		}
		if o.Progress == 100 && o.Status == domain.OrderInProgress {
			return o.Complete(r.now())
		}
		return nil
	})
}

func (r Repo) StartOrder(ctx context.Context, id string) (domain.ProductionOrder, error) {
	return r.modifyOrder(ctx, id, func(o *domain.ProductionOrder) error { return o.Start(r.now()) })
}

func (r Repo) PauseOrder(ctx context.Context, id string) (domain.ProductionOrder, error) {
	return r.modifyOrder(ctx, id, func(o *domain.ProductionOrder) error { return o.Pause() })
}

func (r Repo) ResumeOrder(ctx context.Context, id string) (domain.ProductionOrder, error) {
	return r.modifyOrder(ctx, id, func(o *domain.ProductionOrder) error { return o.Resume() })
}

func (r Repo) CancelOrder(ctx context.Context, id string) (domain.ProductionOrder, error) {
	return r.modifyOrder(ctx, id, func(o *domain.ProductionOrder) error { return o.Cancel() })
}

func (r Repo) CompleteOrder(ctx context.Context, id string) (domain.ProductionOrder, error) {
	return r.modifyOrder(ctx, id, func(o *domain.ProductionOrder) error { return o.Complete(r.now()) })
}

// TickOrderProgress advances one running order by step percent.
func (r Repo) TickOrderProgress(ctx context.Context, id string, step int) (domain.ProductionOrder, error) {
	return r.modifyOrder(ctx, id, func(o *domain.ProductionOrder) error {
		o.Advance(step, r.now())
		return nil
	})
}

// TickAllOrders advances every running, unpaused order and returns how many moved.
func (r Repo) TickAllOrders(ctx context.Context, step int) (int, error) {
	orders, err := r.GetProductionOrders(ctx)
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, o := range orders {
		if !o.Advance(step, r.now()) {
			continue
		}
		if _, err := put(ctx, r, domain.CollOrders, o.ID, optionalTime(o.StartDate, r.now()), o, false); err != nil {
			return moved, fmt.Errorf("tick order %s: %w", o.ID, err)
		}
		moved++
	}
	return moved, nil
}

func (r Repo) modifyOrder(ctx context.Context, id string, fn func(*domain.ProductionOrder) error) (domain.ProductionOrder, error) {
	o, err := r.GetProductionOrder(ctx, id)
	if err != nil {
		return o, err
	}
	if err := fn(&o); err != nil {
		return o, err
	}
	if err := o.Validate(); err != nil {
		return o, err
	}
	_, err = put(ctx, r, domain.CollOrders, o.ID, optionalTime(o.StartDate, r.now()), o, false)
	return o, err
}

// AddProductionRecord appends a production count sample.
func (r Repo) AddProductionRecord(ctx context.Context, p domain.ProductionRecord) (domain.ProductionRecord, error) {
	if p.Timestamp.IsZero() {
		p.Timestamp = r.now()
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	id, err := put(ctx, r, domain.CollProduction, p.ID, p.Timestamp, p, true)
	p.ID = id
	return p, err
}

// GetProductionRecords returns samples at or after since, oldest first.
func (r Repo) GetProductionRecords(ctx context.Context, since time.Time) ([]domain.ProductionRecord, error) {
	recs, err := r.Store.Range(ctx, domain.CollProduction, since, endOfTime)
	if err != nil {
		return nil, err
	}
	return decodeAll[domain.ProductionRecord](recs)
}

// UpsertDailyMetric stores the rollup for m.Date, reusing the day's record.
func (r Repo) UpsertDailyMetric(ctx context.Context, m domain.DailyMetric) (domain.DailyMetric, error) {
	if m.Date == "" {
		m.Date = domain.DayKey(r.now(), r.loc())
	}
	day, err := time.ParseInLocation("2006-01-02", m.Date, r.loc())
	if err != nil {
		return m, &domain.ValidationError{Entity: "daily metric", Problems: []string{fmt.Sprintf("date %q is not YYYY-MM-DD", m.Date)}}
	}
	if existing, err := r.Store.GetByKey(ctx, domain.CollDailyMetrics, m.Date); err == nil {
		m.ID = existing.ID
	}
	id, err := put(ctx, r, domain.CollDailyMetrics, m.ID, day, m, false)
	m.ID = id
	return m, err
}

func (r Repo) GetDailyMetrics(ctx context.Context) ([]domain.DailyMetric, error) {
	return list[domain.DailyMetric](ctx, r, domain.CollDailyMetrics)
}
