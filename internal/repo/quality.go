package repo

import (
	"context"
	"sort"
	"time"

	"plantdash/internal/domain"
)

// NextNonConformanceID returns the next NC-YYYY-NNN identifier.
func (r Repo) NextNonConformanceID(ctx context.Context, year int) (string, error) {
	return nextSerial(ctx, r, domain.CollNonConformances, "NC", year)
}

// SaveNonConformance creates or replaces a non-conformance. New ones start open.
func (r Repo) SaveNonConformance(ctx context.Context, n domain.NonConformance) (domain.NonConformance, error) {
	n.Normalize(r.now())
	if n.ID == "" {
		id, err := r.NextNonConformanceID(ctx, n.Date.In(r.loc()).Year())
		if err != nil {
			return n, err
		}
		n.ID = id
	}
	if err := n.Validate(); err != nil {
		return n, err
	}
	_, err := put(ctx, r, domain.CollNonConformances, n.ID, n.Date, n, false)
	return n, err
}

func (r Repo) GetNonConformances(ctx context.Context) ([]domain.NonConformance, error) {
	return list[domain.NonConformance](ctx, r, domain.CollNonConformances)
}

func (r Repo) GetNonConformance(ctx context.Context, id string) (domain.NonConformance, error) {
	return get[domain.NonConformance](ctx, r, domain.CollNonConformances, id)
}

func (r Repo) GetNonConformancesByStatus(ctx context.Context, status domain.NCStatus) ([]domain.NonConformance, error) {
	all, err := r.GetNonConformances(ctx)
	if err != nil {
		return nil, err
	}
	var res []domain.NonConformance
	for _, n := range all {
		if n.Status == status {
			res = append(res, n)
		}
	}
	return res, nil
}

// GetNonConformancesByDateRange returns entries dated on any calendar day from
// start through end, both inclusive, in the repo location.
func (r Repo) GetNonConformancesByDateRange(ctx context.Context, start, end time.Time) ([]domain.NonConformance, error) {
	from := domain.StartOfDay(start, r.loc())
	to := domain.StartOfDay(end, r.loc()).AddDate(0, 0, 1)
	recs, err := r.Store.Range(ctx, domain.CollNonConformances, from, to)
	if err != nil {
		return nil, err
	}
	return decodeAll[domain.NonConformance](recs)
}

// UpdateNonConformance replaces editable fields of an existing entry. Status
// and resolvedDate are kept; they change only through Review and Resolve.
func (r Repo) UpdateNonConformance(ctx context.Context, n domain.NonConformance) (domain.NonConformance, error) {
	current, err := r.GetNonConformance(ctx, n.ID)
	if err != nil {
		return n, err
	}
	if n.Date.IsZero() {
		n.Date = current.Date
	}
	n.Status = current.Status
	n.ResolvedDate = current.ResolvedDate
	if n.CreatedBy == "" {
		n.CreatedBy = current.CreatedBy
	}
	return r.SaveNonConformance(ctx, n)
}

func (r Repo) ReviewNonConformance(ctx context.Context, id string) (domain.NonConformance, error) {
	return r.modifyNC(ctx, id, func(n *domain.NonConformance) error { return n.Review() })
}

// ResolveNonConformance closes the entry and stamps resolvedDate.
func (r Repo) ResolveNonConformance(ctx context.Context, id, actions string) (domain.NonConformance, error) {
	return r.modifyNC(ctx, id, func(n *domain.NonConformance) error { return n.Resolve(r.now(), actions) })
}

func (r Repo) DeleteNonConformance(ctx context.Context, id string) error {
	return remove(ctx, r, domain.CollNonConformances, id)
}

func (r Repo) modifyNC(ctx context.Context, id string, fn func(*domain.NonConformance) error) (domain.NonConformance, error) {
	n, err := r.GetNonConformance(ctx, id)
	if err != nil {
		return n, err
	}
	if err := fn(&n); err != nil {
		return n, err
	}
	if err := n.Validate(); err != nil {
		return n, err
	}
	_, err = put(ctx, r, domain.CollNonConformances, n.ID, n.Date, n, false)
	return n, err
}

// SaveInspection stores a new inspection. Inspections are immutable, so an
// existing id fails with store.ErrDuplicateKey.
func (r Repo) SaveInspection(ctx context.Context, i domain.Inspection) (domain.Inspection, error) {
	if i.Date.IsZero() {
		i.Date = r.now()
	}
	if i.Result == "" {
		if i.RejectedCount == 0 {
			i.Result = "approved"
		} else {
			i.Result = "rejected"
		}
	}
	if err := i.Validate(); err != nil {
		return i, err
	}
	_, err := put(ctx, r, domain.CollInspections, i.ID, i.Date, i, true)
	return i, err
}

func (r Repo) GetInspections(ctx context.Context) ([]domain.Inspection, error) {
	return list[domain.Inspection](ctx, r, domain.CollInspections)
}

// GetInspectionsBetween returns inspections with from <= date < to.
func (r Repo) GetInspectionsBetween(ctx context.Context, from, to time.Time) ([]domain.Inspection, error) {
	recs, err := r.Store.Range(ctx, domain.CollInspections, from, to)
	if err != nil {
		return nil, err
	}
	return decodeAll[domain.Inspection](recs)
}

// UpsertQualityHistoryDay writes the aggregate for d.Date under history_<date>.
func (r Repo) UpsertQualityHistoryDay(ctx context.Context, d domain.QualityHistoryDay) (domain.QualityHistoryDay, error) {
	day, err := time.ParseInLocation("2006-01-02", d.Date, r.loc())
	if err != nil {
		return d, &domain.ValidationError{Entity: "quality history day", Problems: []string{"date must be YYYY-MM-DD"}}
	}
	d.ID = domain.HistoryID(d.Date)
	_, err = put(ctx, r, domain.CollQualityHistory, d.ID, day, d, false)
	return d, err
}

// GetQualityHistoryDays returns every stored day, oldest first.
func (r Repo) GetQualityHistoryDays(ctx context.Context) ([]domain.QualityHistoryDay, error) {
	days, err := list[domain.QualityHistoryDay](ctx, r, domain.CollQualityHistory)
	if err != nil {
		return nil, err
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })
	return days, nil
}
