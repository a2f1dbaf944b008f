package server

import (
	"time"

	"plantdash/internal/domain"
	"plantdash/internal/repo"
)

// Request payloads

type DevLoginRequest struct {
	User  string   `json:"user"`
	Roles []string `json:"roles,omitempty"`
}

type SetConfigRequest struct {
	Value any `json:"value"`
}

type CreateCollectionRequest struct {
	DateTime     *time.Time `json:"datetime,omitempty"`
	Status       string     `json:"status,omitempty" enum:"pending,processing,completed,cancelled"`
	Produced     float64    `json:"produced"`
	Material     float64    `json:"material"`
	Applicant    string     `json:"applicant"`
	Observations string     `json:"observations,omitempty"`
}

func (r CreateCollectionRequest) record() domain.CollectionRecord {
	c := domain.CollectionRecord{
		Status:       domain.CollectionStatus(r.Status),
		Produced:     r.Produced,
		Material:     r.Material,
		Applicant:    r.Applicant,
		Observations: r.Observations,
	}
	if r.DateTime != nil {
		c.DateTime = *r.DateTime
	}
	return c
}

type CollectionStatusRequest struct {
	Status string `json:"status" enum:"pending,processing,completed,cancelled"`
}

type CreateOrderRequest struct {
	ID       string     `json:"id,omitempty"`
	Product  string     `json:"product"`
	Quantity int        `json:"quantity"`
	Priority string     `json:"priority,omitempty" enum:"low,normal,high"`
	Deadline *time.Time `json:"deadline,omitempty"`
}

func (r CreateOrderRequest) order() domain.ProductionOrder {
	return domain.ProductionOrder{
		ID:       r.ID,
		Product:  r.Product,
		Quantity: r.Quantity,
		Priority: domain.Priority(r.Priority),
		Deadline: r.Deadline,
	}
}

type UpdateOrderRequest struct {
	Product  *string    `json:"product,omitempty"`
	Quantity *int       `json:"quantity,omitempty"`
	Produced *int       `json:"produced,omitempty"`
	Status   *string    `json:"status,omitempty" enum:"waiting,in_progress,completed,cancelled"`
	Priority *string    `json:"priority,omitempty" enum:"low,normal,high"`
	Deadline *time.Time `json:"deadline,omitempty"`
	Progress *int       `json:"progress,omitempty" minimum:"0" maximum:"100"`
	Paused   *bool      `json:"paused,omitempty"`
}

func (r UpdateOrderRequest) patch() repo.OrderPatch {
	p := repo.OrderPatch{
		Product:  r.Product,
		Quantity: r.Quantity,
		Produced: r.Produced,
		Deadline: r.Deadline,
		Progress: r.Progress,
		Paused:   r.Paused,
	}
	if r.Status != nil {
		s := domain.OrderStatus(*r.Status)
		p.Status = &s
	}
	if r.Priority != nil {
		pr := domain.Priority(*r.Priority)
		p.Priority = &pr
	}
	return p
}

type TickRequest struct {
	Step int `json:"step,omitempty" minimum:"0"`
}

type CreateNonConformanceRequest struct {
	ID               string     `json:"id,omitempty"`
	Type             string     `json:"type"`
	Description      string     `json:"description"`
	Severity         string     `json:"severity,omitempty" enum:"low,medium,high"`
	Date             *time.Time `json:"date,omitempty"`
	Lot              string     `json:"lot,omitempty"`
	Responsible      string     `json:"responsible,omitempty"`
	Details          string     `json:"details,omitempty"`
	AffectedQuantity *int       `json:"affectedQuantity,omitempty"`
}

func (r CreateNonConformanceRequest) nc(user string) domain.NonConformance {
	n := domain.NonConformance{
		ID:               r.ID,
		Type:             r.Type,
		Description:      r.Description,
		Severity:         domain.Severity(r.Severity),
		Lot:              r.Lot,
		Responsible:      r.Responsible,
		Details:          r.Details,
		AffectedQuantity: r.AffectedQuantity,
		CreatedBy:        user,
	}
	if r.Date != nil {
		n.Date = *r.Date
	}
	return n
}

type UpdateNonConformanceRequest struct {
	Type              *string `json:"type,omitempty"`
	Description       *string `json:"description,omitempty"`
	Severity          *string `json:"severity,omitempty" enum:"low,medium,high"`
	Lot               *string `json:"lot,omitempty"`
	Responsible       *string `json:"responsible,omitempty"`
	Details           *string `json:"details,omitempty"`
	CorrectiveActions *string `json:"correctiveActions,omitempty"`
	AffectedQuantity  *int    `json:"affectedQuantity,omitempty"`
}

func (r UpdateNonConformanceRequest) apply(n *domain.NonConformance) {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&n.Type, r.Type)
	set(&n.Description, r.Description)
	set(&n.Lot, r.Lot)
	set(&n.Responsible, r.Responsible)
	set(&n.Details, r.Details)
	set(&n.CorrectiveActions, r.CorrectiveActions)
	if r.Severity != nil {
		n.Severity = domain.Severity(*r.Severity)
	}
	if r.AffectedQuantity != nil {
		n.AffectedQuantity = r.AffectedQuantity
	}
}

type ResolveRequest struct {
	CorrectiveActions string `json:"correctiveActions"`
}

type CreateInspectionRequest struct {
	ID            string     `json:"id"`
	Lot           string     `json:"lot"`
	Date          *time.Time `json:"date,omitempty"`
	Inspector     string     `json:"inspector"`
	ApprovedCount int        `json:"approvedCount" minimum:"0"`
	RejectedCount int        `json:"rejectedCount" minimum:"0"`
	Result        string     `json:"result,omitempty"`
}

func (r CreateInspectionRequest) inspection() domain.Inspection {
	i := domain.Inspection{
		ID:            r.ID,
		Lot:           r.Lot,
		Inspector:     r.Inspector,
		ApprovedCount: r.ApprovedCount,
		RejectedCount: r.RejectedCount,
		Result:        r.Result,
	}
	if r.Date != nil {
		i.Date = *r.Date
	}
	return i
}

type CreateReportRequest struct {
	Title       string         `json:"title"`
	Type        string         `json:"type,omitempty"`
	PeriodStart *time.Time     `json:"periodStart,omitempty"`
	PeriodEnd   *time.Time     `json:"periodEnd,omitempty"`
	OrderIDs    []string       `json:"orderIds,omitempty"`
	Summary     map[string]any `json:"summary,omitempty"`
}

type CreateAlertRequest struct {
	Level   string `json:"level" enum:"info,warning,danger,success"`
	Message string `json:"message"`
}

type CreateSensorReadingRequest struct {
	Sensor    string     `json:"sensor"`
	Value     float64    `json:"value"`
	Unit      string     `json:"unit,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

type CreateProductionRecordRequest struct {
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Line      string     `json:"line,omitempty"`
	Produced  int        `json:"produced" minimum:"0"`
	Rejected  int        `json:"rejected" minimum:"0"`
}

type CreateAuditRequest struct {
	Action string `json:"action"`
}

// Response payloads

type HealthResponse struct {
	Status    string `json:"status"`
	Broadcast bool   `json:"broadcast"`
	Warning   string `json:"warning,omitempty"`
}

type TokenResponse struct {
	Token string `json:"token"`
	User  string `json:"user"`
}

type ConfigEntryResponse struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type TickResponse struct {
	Advanced int `json:"advanced"`
}

type ListResponse[T any] struct {
	Items []T `json:"items"`
}

type DeletedResponse struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}
