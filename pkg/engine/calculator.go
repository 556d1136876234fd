package engine

import (
	"math"
	"strconv"
	"time"
)

const dateLayout = "2006-01-02"

// Calculator projects debt balances and generates installment offers under
// the configured business rules. It is pure: no I/O, no mutable state
// beyond construction-time configuration.
type Calculator struct {
	cfg AgreementConfig
	now func() time.Time
}

func NewCalculator(cfg AgreementConfig) *Calculator {
	return newCalculatorAt(cfg, time.Now)
}

func newCalculatorAt(cfg AgreementConfig, now func() time.Time) *Calculator {
	return &Calculator{cfg: cfg, now: now}
}

func (c *Calculator) params() Parameters {
	if len(c.cfg.Parameters) == 0 {
		return Parameters{}
	}
	return c.cfg.Parameters[0]
}

func (c *Calculator) boletoFee() float64 {
	if len(c.cfg.Fees) == 0 {
		return 0
	}
	return c.cfg.Fees[0].Amount
}

// Project returns the total updated balance of the debt set at the given
// date: per debt, daily interest over days overdue, a flat penalty on the
// principal, and a fee on principal+interest+penalty.
func (c *Calculator) Project(date time.Time) float64 {
	p := c.params()
	total := 0.0

	for _, debt := range c.cfg.Debts {
		due, err := time.Parse(dateLayout, debt.DueDate)
		if err != nil {
			continue
		}

		daysOverdue := daysBetween(due, date)
		dailyRate := p.MonthlyInterestPct / 30 / 100
		interest := debt.Amount * dailyRate * float64(daysOverdue)
		penalty := debt.Amount * (p.PenaltyPct / 100)

		feeBase := debt.Amount + interest + penalty
		fee := feeBase * (p.FeePct / 100)

		total += feeBase + fee
	}

	return round2(total)
}

// GenerateOffers builds the installment plans for the cadence. The cash
// option (1x) is anchored at the next business day; parceled options at
// negotiatedEntry when given, otherwise today plus the configured entry
// offset. The loop halts at the first plan whose final date would exceed
// the maximum due date: any larger plan would only land further out.
func (c *Calculator) GenerateOffers(cadence Cadence, negotiatedEntry *time.Time) []Offer {
	p := c.params()
	maxDue, err := time.Parse(dateLayout, p.MaxDueDate)
	if err != nil {
		return nil
	}

	today := dateOnly(c.now())
	cashAnchor := nextBusinessDay(today)

	var entryAnchor time.Time
	if negotiatedEntry != nil {
		entryAnchor = dateOnly(*negotiatedEntry)
	} else {
		entryAnchor = today.AddDate(0, 0, p.EntryOffsetDays)
	}
	entryAnchor = nextBusinessDay(entryAnchor)

	var offers []Offer
	for i := 1; i <= p.MaxInstallments; i++ {
		anchor := entryAnchor
		if i == 1 {
			anchor = cashAnchor
		}

		finalDate := stepCadence(anchor, i-1, cadence)
		if finalDate.After(maxDue) {
			break
		}

		totalProjected := c.Project(finalDate)
		installment := round2(totalProjected/float64(i) + c.boletoFee())

		dates := make([]string, 0, i)
		for j := 0; j < i; j++ {
			dates = append(dates, formatDate(stepCadence(anchor, j, cadence)))
		}

		offers = append(offers, Offer{
			Installments:      i,
			FirstPaymentDate:  dates[0],
			FinalDueDate:      formatDate(finalDate),
			InstallmentAmount: formatAmount(installment),
			TotalWithFees:     formatAmount(round2(installment * float64(i))),
			InstallmentDates:  dates,
		})
	}

	return offers
}

// SuggestedEntryDate is the earliest possible first payment: the next
// business day from today, as dd/mm/yyyy.
func (c *Calculator) SuggestedEntryDate() string {
	return formatDate(nextBusinessDay(dateOnly(c.now())))
}

// MaxEntryDate is the latest date the entry installment may be postponed
// to. Falls back to today plus the entry offset when not configured.
func (c *Calculator) MaxEntryDate() string {
	p := c.params()
	if p.MaxEntryDate != "" {
		if d, err := time.Parse(dateLayout, p.MaxEntryDate); err == nil {
			return formatDate(d)
		}
	}
	return formatDate(dateOnly(c.now()).AddDate(0, 0, p.EntryOffsetDays))
}

// stepCadence advances a date by the given number of cadence steps.
// Step zero is the business-day-adjusted anchor itself.
func stepCadence(base time.Time, steps int, cadence Cadence) time.Time {
	if steps == 0 {
		return nextBusinessDay(base)
	}

	var d time.Time
	switch cadence {
	case CadenceDaily:
		d = base.AddDate(0, 0, steps)
	case CadenceWeekly:
		d = base.AddDate(0, 0, steps*7)
	case CadenceBiweekly:
		d = base.AddDate(0, 0, steps*15)
	default:
		d = base.AddDate(0, steps, 0)
	}

	return nextBusinessDay(d)
}

// nextBusinessDay shifts weekend dates forward to Monday. Weekdays are
// returned unchanged, so the adjustment is idempotent.
func nextBusinessDay(d time.Time) time.Time {
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, 2)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	default:
		return d
	}
}

func daysBetween(due, at time.Time) int {
	if due.After(at) {
		return 0
	}
	return int(math.Floor(at.Sub(due).Hours() / 24))
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// round2 rounds to two decimals, half away from zero.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// FormatDate renders a date as dd/mm/yyyy.
func FormatDate(d time.Time) string {
	return formatDate(d)
}

func formatDate(d time.Time) string {
	return d.Format("02/01/2006")
}

// FormatISODate converts yyyy-mm-dd into dd/mm/yyyy, tolerating trailing
// time components.
func FormatISODate(iso string) string {
	if len(iso) >= 10 {
		if d, err := time.Parse(dateLayout, iso[:10]); err == nil {
			return formatDate(d)
		}
	}
	return iso
}
