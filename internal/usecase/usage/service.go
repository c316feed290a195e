// Package usage reports provider consumption against the configured budgets.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/kailas-cloud/voicerag/internal/domain"
)

// Period is the aggregation granularity.
type Period string

// Aggregation period constants.
const (
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
)

// ParsePeriod validates a period name. Empty input yields PeriodMonth.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case "", PeriodMonth:
		return PeriodMonth, nil
	case PeriodDay:
		return PeriodDay, nil
	default:
		return "", fmt.Errorf("unknown period %q", s)
	}
}

// MeterReport is one meter's budget state.
// Limit 0 means the meter is unlimited; Remaining is then 0 as well.
type MeterReport struct {
	Meter     domain.Meter
	Limit     int64
	Used      int64
	Remaining int64
	Exhausted bool
}

// Report is the budget state of every meter for one period.
type Report struct {
	Period      Period
	PeriodStart time.Time
	PeriodEnd   time.Time // also when the budgets reset
	Meters      []MeterReport
}

// Meter returns the report for m, or a zero report.
func (r Report) Meter(m domain.Meter) MeterReport {
	for _, mr := range r.Meters {
		if mr.Meter == m {
			return mr
		}
	}
	return MeterReport{Meter: m}
}

// Service handles usage reporting.
type Service struct {
	br  BudgetReader
	now func() time.Time
}

// New creates a Service. br can be nil (unlimited mode).
func New(br BudgetReader) *Service {
	return &Service{br: br, now: time.Now}
}

// GetReport builds a usage report for the given period.
func (s *Service) GetReport(_ context.Context, period Period) Report {
	now := s.now().UTC()
	r := Report{Period: period}

	read := func(domain.Meter) (int64, int64) { return 0, 0 }
	switch period {
	case PeriodDay:
		r.PeriodStart = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		r.PeriodEnd = r.PeriodStart.Add(24 * time.Hour)
		if s.br != nil {
			read = s.br.Daily
		}
	default:
		r.Period = PeriodMonth
		r.PeriodStart = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		r.PeriodEnd = r.PeriodStart.AddDate(0, 1, 0)
		if s.br != nil {
			read = s.br.Monthly
		}
	}

	for _, m := range domain.Meters() {
		limit, used := read(m)
		mr := MeterReport{Meter: m, Limit: max(limit, 0), Used: used}
		if mr.Limit > 0 {
			mr.Remaining = max(mr.Limit-used, 0)
			mr.Exhausted = used >= mr.Limit
		}
		r.Meters = append(r.Meters, mr)
	}
	return r
}
