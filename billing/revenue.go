/*
revenue.go - Platform revenue and commission reporting

PURPOSE:
  Rolls verified installments up into revenue and profit for a reporting
  window, with breakdowns by payment type and by calendar month.

RULES:
  - Only verificationStatus = verified counts.
  - An installment belongs to the window by its CreatedAt, [start, end).
  - profit = revenue x CommissionRate (0.10).
  - All sums are decimal; grouping never changes the total, so
    sum(byType.Amount) == sum(byMonth.Revenue) == Revenue exactly.
*/
package billing

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type RevenueReport struct {
	Range        DateRange
	Revenue      decimal.Decimal
	Profit       decimal.Decimal
	Installments int
	ByType       []TypeRevenue
	ByMonth      []MonthRevenue
}

type TypeRevenue struct {
	Type   PaymentType
	Amount decimal.Decimal
	Profit decimal.Decimal
	Count  int
}

type MonthRevenue struct {
	Month   time.Time // first day of the month, UTC
	Revenue decimal.Decimal
	Profit  decimal.Decimal
	Count   int
}

// Commission returns amount x CommissionRate.
func Commission(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(CommissionRate)
}

// BuildRevenueReport aggregates the qualifying installments among
// installments. Non-qualifying records are ignored, so callers may pass a
// superset.
func BuildRevenueReport(r DateRange, installments []Installment) (RevenueReport, error) {
	if err := r.Validate(); err != nil {
		return RevenueReport{}, err
	}

	report := RevenueReport{
		Range:   r,
		Revenue: decimal.Zero,
		Profit:  decimal.Zero,
		ByType:  []TypeRevenue{},
		ByMonth: []MonthRevenue{},
	}

	byType := make(map[PaymentType]*TypeRevenue)
	byMonth := make(map[time.Time]*MonthRevenue)

	for _, inst := range installments {
		if inst.VerificationStatus != VerificationVerified || !r.Contains(inst.CreatedAt) {
			continue
		}
		report.Revenue = report.Revenue.Add(inst.Amount)
		report.Installments++

		t, ok := byType[inst.Type]
		if !ok {
			t = &TypeRevenue{Type: inst.Type, Amount: decimal.Zero}
			byType[inst.Type] = t
		}
		t.Amount = t.Amount.Add(inst.Amount)
		t.Count++

		month := StartOfMonth(inst.CreatedAt)
		m, ok := byMonth[month]
		if !ok {
			m = &MonthRevenue{Month: month, Revenue: decimal.Zero}
			byMonth[month] = m
		}
		m.Revenue = m.Revenue.Add(inst.Amount)
		m.Count++
	}

	report.Profit = Commission(report.Revenue)

	for _, t := range byType {
		t.Profit = Commission(t.Amount)
		report.ByType = append(report.ByType, *t)
	}
	sort.Slice(report.ByType, func(i, j int) bool {
		return report.ByType[i].Type < report.ByType[j].Type
	})

	for _, m := range byMonth {
		m.Profit = Commission(m.Revenue)
		report.ByMonth = append(report.ByMonth, *m)
	}
	sort.Slice(report.ByMonth, func(i, j int) bool {
		return report.ByMonth[i].Month.Before(report.ByMonth[j].Month)
	})

	return report, nil
}
