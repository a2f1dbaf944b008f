package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Collection names as persisted.
const (
	CollConfig          = "config"
	CollSensors         = "sensors"
	CollProduction      = "production"
	CollAudit           = "audit"
	CollAlerts          = "alerts"
	CollOfflineQueue    = "offlineQueue"
	CollNonConformances = "naoConformidades"
	CollInspections     = "inspections"
	CollOrders          = "ordens"
	CollCollections     = "coletas"
	CollReports         = "relatorios"
	CollDashboardStats  = "dashboardStats"
	CollQualityHistory  = "qualityHistory"
	CollDailyMetrics    = "dailyMetrics"
)

// AllCollections lists every collection in backup order.
var AllCollections = []string{
	CollConfig, CollSensors, CollProduction, CollAudit, CollAlerts, CollOfflineQueue,
	CollNonConformances, CollInspections, CollOrders, CollCollections, CollReports,
	CollDashboardStats, CollQualityHistory, CollDailyMetrics,
}

// ErrInvalidTransition rejects a status change the lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid status transition")

// ValidationError lists every problem found on an entity before it is persisted.
type ValidationError struct {
	Entity   string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Entity, strings.Join(e.Problems, "; "))
}

type problems struct {
	entity string
	list   []string
}

func (p *problems) addf(format string, args ...any) {
	p.list = append(p.list, fmt.Sprintf(format, args...))
}

func (p *problems) err() error {
	if len(p.list) == 0 {
		return nil
	}
	return &ValidationError{Entity: p.entity, Problems: p.list}
}

// Round rounds v to the given number of decimals.
func Round(v float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(v*pow) / pow
}

// Ratio returns num/den*100 rounded to one decimal, or 0 when den is not positive.
func Ratio(num, den float64) float64 {
	if den <= 0 {
		return 0
	}
	return Round(num/den*100, 1)
}

const (
	dayLayout     = "2006-01-02"
	displayLayout = "02/01/2006"
)

// DayKey is the ISO calendar day of t in loc.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(dayLayout)
}

// StartOfDay returns local midnight of t in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// FormatDisplayDate renders DD/MM/YYYY for the pages.
func FormatDisplayDate(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(displayLayout)
}

// ParseDisplayDate accepts legacy DD/MM/YYYY values (an optional time part
// after a space or comma is ignored) and ISO dates.
func ParseDisplayDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " ,"); i >= 0 {
		s = s[:i]
	}
	if t, err := time.ParseInLocation(displayLayout, s, loc); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(dayLayout, s, loc); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// NextSerial returns the identifier after the highest PREFIX-YEAR-NNN in ids.
// Ids of other prefixes or years are ignored.
func NextSerial(prefix string, year int, ids []string) string {
	head := fmt.Sprintf("%s-%d-", prefix, year)
	max := 0
	for _, id := range ids {
		if !strings.HasPrefix(id, head) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(id, head))
		if err == nil && n > max {
			max = n
		}
	}
	return fmt.Sprintf("%s%03d", head, max+1)
}
