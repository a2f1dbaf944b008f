package domain

import "time"

type CollectionStatus string

const (
	CollectionPending    CollectionStatus = "pending"
	CollectionProcessing CollectionStatus = "processing"
	CollectionCompleted  CollectionStatus = "completed"
	CollectionCancelled  CollectionStatus = "cancelled"
)

func (s CollectionStatus) Valid() bool {
	switch s {
	case CollectionPending, CollectionProcessing, CollectionCompleted, CollectionCancelled:
		return true
	}
	return false
}

// CollectionRecord is one production-batch measurement ("coleta").
type CollectionRecord struct {
	ID           string           `json:"id,omitempty"`
	DateTime     time.Time        `json:"datetime"`
	Status       CollectionStatus `json:"status"`
	Produced     float64          `json:"produced"`
	Material     float64          `json:"material"`
	Efficiency   float64          `json:"efficiency"`
	Applicant    string           `json:"applicant"`
	Observations string           `json:"observations,omitempty"`
}

// Normalize fills defaults and derives efficiency.
func (c *CollectionRecord) Normalize(now time.Time) {
	if c.Status == "" {
		c.Status = CollectionPending
	}
	if c.DateTime.IsZero() {
		c.DateTime = now
	}
	c.Efficiency = Ratio(c.Produced, c.Material)
}

func (c CollectionRecord) Validate() error {
	p := problems{entity: "collection record"}
	if c.Produced <= 0 {
		p.addf("produced must be greater than zero")
	}
	if c.Material <= 0 {
		p.addf("material must be greater than zero")
	}
	if c.Material > 0 && c.Produced > 0 && c.Material > c.Produced {
		p.addf("material (%.2f) must not exceed produced (%.2f)", c.Material, c.Produced)
	}
	if !c.Status.Valid() {
		p.addf("unknown status %q", c.Status)
	}
	if c.Applicant == "" {
		p.addf("applicant is required")
	}
	if c.Material > 0 && c.Efficiency != Ratio(c.Produced, c.Material) {
		p.addf("efficiency %.1f does not match produced/material", c.Efficiency)
	}
	return p.err()
}
