package domain

import (
	"fmt"
	"time"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

type NCStatus string

const (
	NCOpen        NCStatus = "open"
	NCUnderReview NCStatus = "under_review"
	NCResolved    NCStatus = "resolved"
)

func (s NCStatus) Valid() bool {
	switch s {
	case NCOpen, NCUnderReview, NCResolved:
		return true
	}
	return false
}

// NonConformance is a logged quality defect.
type NonConformance struct {
	ID                string     `json:"id"`
	Type              string     `json:"type"`
	Description       string     `json:"description"`
	Severity          Severity   `json:"severity"`
	Status            NCStatus   `json:"status"`
	Date              time.Time  `json:"date"`
	Lot               string     `json:"lot,omitempty"`
	Responsible       string     `json:"responsible,omitempty"`
	Details           string     `json:"details,omitempty"`
	CorrectiveActions string     `json:"correctiveActions,omitempty"`
	CreatedBy         string     `json:"createdBy,omitempty"`
	ResolvedDate      *time.Time `json:"resolvedDate,omitempty"`
	AffectedQuantity  *int       `json:"affectedQuantity,omitempty"`
}

func (n *NonConformance) Normalize(now time.Time) {
	if n.Status == "" {
		n.Status = NCOpen
	}
	if n.Severity == "" {
		n.Severity = SeverityMedium
	}
	if n.Date.IsZero() {
		n.Date = now
	}
}

func (n NonConformance) Validate() error {
	p := problems{entity: "non-conformance"}
	if n.ID == "" {
		p.addf("id is required")
	}
	if n.Type == "" {
		p.addf("type is required")
	}
	if n.Description == "" {
		p.addf("description is required")
	}
	if !n.Severity.Valid() {
		p.addf("unknown severity %q", n.Severity)
	}
	if !n.Status.Valid() {
		p.addf("unknown status %q", n.Status)
	}
	if n.Status == NCResolved && n.ResolvedDate == nil {
		p.addf("resolved non-conformance needs resolvedDate")
	}
	if n.ResolvedDate != nil && n.ResolvedDate.Before(n.Date) {
		p.addf("resolvedDate before date")
	}
	if n.AffectedQuantity != nil && *n.AffectedQuantity < 0 {
		p.addf("affectedQuantity must not be negative")
	}
	return p.err()
}

func (n *NonConformance) Review() error {
	if n.Status != NCOpen {
		return fmt.Errorf("%w: non-conformance %s is %s, cannot review", ErrInvalidTransition, n.ID, n.Status)
	}
	n.Status = NCUnderReview
	return nil
}

// Resolve closes the non-conformance. resolvedDate never precedes date.
func (n *NonConformance) Resolve(now time.Time, actions string) error {
	if n.Status == NCResolved {
		return fmt.Errorf("%w: non-conformance %s already resolved", ErrInvalidTransition, n.ID)
	}
	if now.Before(n.Date) {
		now = n.Date
	}
	n.Status = NCResolved
	n.ResolvedDate = &now
	if actions != "" {
		n.CorrectiveActions = actions
	}
	return nil
}

// ResolutionHours is the time from opening to resolution, 0 while unresolved.
func (n NonConformance) ResolutionHours() float64 {
	if n.ResolvedDate == nil {
		return 0
	}
	return n.ResolvedDate.Sub(n.Date).Hours()
}

// Inspection is an immutable lot inspection result.
type Inspection struct {
	ID            string    `json:"id"`
	Lot           string    `json:"lot"`
	Date          time.Time `json:"date"`
	Inspector     string    `json:"inspector"`
	ApprovedCount int       `json:"approvedCount"`
	RejectedCount int       `json:"rejectedCount"`
	Result        string    `json:"result"`
}

func (i Inspection) Validate() error {
	p := problems{entity: "inspection"}
	if i.ID == "" {
		p.addf("id is required")
	}
	if i.Lot == "" {
		p.addf("lot is required")
	}
	if i.Inspector == "" {
		p.addf("inspector is required")
	}
	if i.ApprovedCount < 0 || i.RejectedCount < 0 {
		p.addf("counts must not be negative")
	}
	return p.err()
}

// ApprovalRate is approved/(approved+rejected)*100, 0 when nothing was inspected.
func (i Inspection) ApprovalRate() float64 {
	return Ratio(float64(i.ApprovedCount), float64(i.ApprovedCount+i.RejectedCount))
}
