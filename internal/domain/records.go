package domain

import (
	"encoding/json"
	"time"
)

// AuditLogEntry is append-only.
type AuditLogEntry struct {
	ID        string    `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
	Action    string    `json:"action"`
}

type AlertLevel string

const (
	AlertInfo    AlertLevel = "info"
	AlertWarning AlertLevel = "warning"
	AlertDanger  AlertLevel = "danger"
	AlertSuccess AlertLevel = "success"
)

func (l AlertLevel) Valid() bool {
	switch l {
	case AlertInfo, AlertWarning, AlertDanger, AlertSuccess:
		return true
	}
	return false
}

// Alert is append-only and pruned by retention.
type Alert struct {
	ID        string     `json:"id,omitempty"`
	Level     AlertLevel `json:"level"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
}

// SensorReading is one time-series sample.
type SensorReading struct {
	ID        string    `json:"id,omitempty"`
	Sensor    string    `json:"sensor"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ProductionRecord counts output and rejects for a shift or batch.
type ProductionRecord struct {
	ID        string    `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Line      string    `json:"line,omitempty"`
	Produced  int       `json:"produced"`
	Rejected  int       `json:"rejected"`
}

func (r ProductionRecord) Validate() error {
	p := problems{entity: "production record"}
	if r.Produced < 0 || r.Rejected < 0 {
		p.addf("counts must not be negative")
	}
	if r.Rejected > r.Produced {
		p.addf("rejected %d exceeds produced %d", r.Rejected, r.Produced)
	}
	return p.err()
}

// OfflineItem is a write captured while the hosted backend was unreachable.
type OfflineItem struct {
	ID         string          `json:"id,omitempty"`
	Operation  string          `json:"operation"`
	Collection string          `json:"collection"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	Attempts   int             `json:"attempts"`
}

// Report is a generated summary; referenced order ids are opaque strings.
type Report struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Type        string         `json:"type"`
	PeriodStart *time.Time     `json:"periodStart,omitempty"`
	PeriodEnd   *time.Time     `json:"periodEnd,omitempty"`
	GeneratedAt time.Time      `json:"generatedAt"`
	GeneratedBy string         `json:"generatedBy,omitempty"`
	OrderIDs    []string       `json:"orderIds,omitempty"`
	Summary     map[string]any `json:"summary,omitempty"`
}

func (r Report) Validate() error {
	p := problems{entity: "report"}
	if r.ID == "" {
		p.addf("id is required")
	}
	if r.Title == "" {
		p.addf("title is required")
	}
	if r.PeriodStart != nil && r.PeriodEnd != nil && r.PeriodEnd.Before(*r.PeriodStart) {
		p.addf("period end before start")
	}
	return p.err()
}

// DashboardStat is a derived, recomputable metric.
type DashboardStat struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Value     float64   `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// QualityHistoryDay aggregates one calendar day; Date is YYYY-MM-DD.
type QualityHistoryDay struct {
	ID                  string  `json:"id"`
	Date                string  `json:"date"`
	ApprovalRate        float64 `json:"approvalRate"`
	NonConformanceCount int     `json:"nonConformanceCount"`
	AvgResolutionHours  float64 `json:"avgResolutionHours"`
	Inspections         int     `json:"inspections"`
}

// HistoryID builds the record id for a day.
func HistoryID(day string) string { return "history_" + day }

// DailyMetric is a per-day production rollup.
type DailyMetric struct {
	ID              string  `json:"id,omitempty"`
	Date            string  `json:"date"`
	Produced        int     `json:"produced"`
	Rejected        int     `json:"rejected"`
	Efficiency      float64 `json:"efficiency"`
	OrdersCompleted int     `json:"ordersCompleted"`
}
