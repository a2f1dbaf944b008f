package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)

func TestCollectionRecord_EfficiencyInvariant(t *testing.T) {
	c := CollectionRecord{Produced: 120, Material: 100, Applicant: "Joana"}
	c.Normalize(t0)
	require.NoError(t, c.Validate())
	assert.Equal(t, 120.0, c.Efficiency)
	assert.Equal(t, CollectionPending, c.Status)

	c = CollectionRecord{Produced: 10, Material: 3, Applicant: "x"}
	c.Normalize(t0)
	assert.Equal(t, 333.3, c.Efficiency)
}

func TestCollectionRecord_Rejects(t *testing.T) {
	cases := []CollectionRecord{
		{Produced: 0, Material: 10, Applicant: "a"},
		{Produced: 10, Material: 0, Applicant: "a"},
		{Produced: 10, Material: 20, Applicant: "a"},
		{Produced: 10, Material: 5},
	}
	for i, c := range cases {
		c.Normalize(t0)
		err := c.Validate()
		var ve *ValidationError
		assert.True(t, errors.As(err, &ve), "case %d: %v", i, err)
	}
	tampered := CollectionRecord{Produced: 10, Material: 5, Applicant: "a", Status: CollectionPending, Efficiency: 50}
	assert.Error(t, tampered.Validate())
}

func TestProductionOrder_Lifecycle(t *testing.T) {
	o := ProductionOrder{ID: "OP-2025-100", Product: "Pão", Quantity: 100}
	o.Normalize()
	require.NoError(t, o.Validate())
	assert.Equal(t, OrderWaiting, o.Status)

	require.NoError(t, o.Start(t0))
	assert.Equal(t, OrderInProgress, o.Status)
	require.NotNil(t, o.StartDate)

	require.NoError(t, o.Pause())
	assert.False(t, o.Advance(10, t0), "paused orders do not advance")
	require.NoError(t, o.Resume())

	for o.Status != OrderCompleted {
		require.True(t, o.Advance(15, t0))
		require.NoError(t, o.Validate())
		assert.LessOrEqual(t, o.Produced, o.Quantity)
	}
	assert.Equal(t, 100, o.Progress)
	assert.Equal(t, 100, o.Produced)
	assert.False(t, o.Advance(5, t0))
	assert.ErrorIs(t, o.Cancel(), ErrInvalidTransition)
	assert.ErrorIs(t, o.Start(t0), ErrInvalidTransition)
}

func TestProductionOrder_ValidateInvariants(t *testing.T) {
	o := ProductionOrder{ID: "x", Product: "p", Quantity: 10, Produced: 11, Status: OrderInProgress, Priority: PriorityHigh}
	assert.Error(t, o.Validate())
	o = ProductionOrder{ID: "x", Product: "p", Quantity: 10, Progress: 100, Status: OrderInProgress, Priority: PriorityHigh}
	assert.Error(t, o.Validate())
}

func TestNonConformance_Resolve(t *testing.T) {
	n := NonConformance{ID: "NC-2025-001", Type: "Temperatura", Description: "forno acima", Date: t0}
	n.Normalize(t0)
	require.NoError(t, n.Validate())
	assert.Equal(t, NCOpen, n.Status)

	require.NoError(t, n.Review())
	require.NoError(t, n.Resolve(t0.Add(3*time.Hour), "recalibrated"))
	assert.Equal(t, NCResolved, n.Status)
	require.NotNil(t, n.ResolvedDate)
	assert.False(t, n.ResolvedDate.Before(n.Date))
	assert.Equal(t, 3.0, n.ResolutionHours())
	assert.ErrorIs(t, n.Resolve(t0, ""), ErrInvalidTransition)
	require.NoError(t, n.Validate())

	// A skewed clock never produces a resolution before the opening date.
	m := NonConformance{ID: "NC-2", Type: "t", Description: "d", Date: t0}
	m.Normalize(t0)
	require.NoError(t, m.Resolve(t0.Add(-time.Hour), ""))
	assert.Equal(t, t0, *m.ResolvedDate)
}

func TestDates(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	ts := time.Date(2025, 6, 10, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025-06-09", DayKey(ts, loc))
	assert.Equal(t, "09/06/2025", FormatDisplayDate(ts, loc))

	d, err := ParseDisplayDate("09/06/2025, 14:30:00", loc)
	require.NoError(t, err)
	assert.Equal(t, "2025-06-09", DayKey(d, loc))
	d, err = ParseDisplayDate("2025-06-09", loc)
	require.NoError(t, err)
	assert.Equal(t, 9, d.Day())
	_, err = ParseDisplayDate("June 9", loc)
	assert.Error(t, err)
}

func TestRatio_ZeroDenominator(t *testing.T) {
	assert.Equal(t, 0.0, Ratio(5, 0))
	assert.Equal(t, 66.7, Ratio(2, 3))
}
