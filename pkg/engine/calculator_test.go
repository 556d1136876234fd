package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tuesday.
var testToday = time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

func exampleConfig() AgreementConfig {
	return AgreementConfig{
		Debts: []Debt{
			{DueDate: "2024-05-01", Amount: 100},
			{DueDate: "2024-06-01", Amount: 100},
			{DueDate: "2024-07-01", Amount: 100},
			{DueDate: "2024-08-01", Amount: 100},
			{DueDate: "2024-09-01", Amount: 100},
		},
		Parameters: []Parameters{
			{
				MonthlyInterestPct: 3,
				PenaltyPct:         2,
				FeePct:             10,
				MaxInstallments:    10,
				MaxDueDate:         "2026-04-17",
				EntryOffsetDays:    5,
				MaxEntryDate:       "2026-01-23",
			},
		},
		Fees: []BoletoFee{{Amount: 11.90}},
	}
}

func testCalculator(t *testing.T) *Calculator {
	t.Helper()
	return newCalculatorAt(exampleConfig(), func() time.Time { return testToday })
}

func TestNextBusinessDay(t *testing.T) {
	saturday := time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC)
	sunday := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	monday := time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, monday, nextBusinessDay(saturday))
	assert.Equal(t, monday, nextBusinessDay(sunday))
	assert.Equal(t, monday, nextBusinessDay(monday), "weekday must be unchanged")
	assert.Equal(t, monday, nextBusinessDay(nextBusinessDay(saturday)), "adjustment is idempotent")
}

func TestGenerateOffersMonthly(t *testing.T) {
	calc := testCalculator(t)
	offers := calc.GenerateOffers(CadenceMonthly, nil)
	require.NotEmpty(t, offers)

	maxDue, _ := time.Parse(dateLayout, "2026-04-17")

	var prevFinal time.Time
	for i, o := range offers {
		assert.Equal(t, i+1, o.Installments, "installment counts are 1..k")
		require.Len(t, o.InstallmentDates, o.Installments)
		assert.Equal(t, o.InstallmentDates[0], o.FirstPaymentDate)
		assert.Equal(t, o.InstallmentDates[len(o.InstallmentDates)-1], o.FinalDueDate)

		final, err := time.Parse("02/01/2006", o.FinalDueDate)
		require.NoError(t, err)
		assert.False(t, final.After(maxDue), "no date may exceed the maximum due date")
		assert.True(t, final.After(prevFinal), "final due dates strictly increase")
		prevFinal = final

		// Every date business-day-adjusted.
		for _, ds := range o.InstallmentDates {
			d, err := time.Parse("02/01/2006", ds)
			require.NoError(t, err)
			assert.NotEqual(t, time.Saturday, d.Weekday())
			assert.NotEqual(t, time.Sunday, d.Weekday())
		}
	}
}

func TestGenerateOffersCashInstallment(t *testing.T) {
	calc := testCalculator(t)
	offers := calc.GenerateOffers(CadenceMonthly, nil)
	require.NotEmpty(t, offers)

	cash := offers[0]
	require.Equal(t, 1, cash.Installments)

	cashDate := nextBusinessDay(testToday)
	want := formatAmount(round2(calc.Project(cashDate) + 11.90))
	assert.Equal(t, want, cash.InstallmentAmount)
	assert.Equal(t, formatDate(cashDate), cash.FirstPaymentDate)
}

func TestGenerateOffersAllCadences(t *testing.T) {
	calc := testCalculator(t)
	for _, cadence := range []Cadence{CadenceDaily, CadenceWeekly, CadenceBiweekly, CadenceMonthly} {
		offers := calc.GenerateOffers(cadence, nil)
		assert.NotEmpty(t, offers, "cadence %s", cadence)
	}
}

func TestGenerateOffersStopsAtMaxDueDate(t *testing.T) {
	cfg := exampleConfig()
	cfg.Parameters[0].MaxDueDate = "2025-07-01"
	calc := newCalculatorAt(cfg, func() time.Time { return testToday })

	offers := calc.GenerateOffers(CadenceMonthly, nil)
	// Entry anchor is 2025-06-16; the 2x plan would end 2025-07-16,
	// past the ceiling, so only the cash option survives.
	require.Len(t, offers, 1)
	assert.Equal(t, 1, offers[0].Installments)
}

func TestGenerateOffersEmptyWhenCashPastCeiling(t *testing.T) {
	cfg := exampleConfig()
	cfg.Parameters[0].MaxDueDate = "2025-01-01"
	calc := newCalculatorAt(cfg, func() time.Time { return testToday })

	assert.Empty(t, calc.GenerateOffers(CadenceMonthly, nil))
}

func TestGenerateOffersNegotiatedEntry(t *testing.T) {
	calc := testCalculator(t)
	entry := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC) // Tuesday

	offers := calc.GenerateOffers(CadenceMonthly, &entry)
	require.True(t, len(offers) >= 2)

	// Cash stays anchored at today; parceled plans start at the
	// negotiated entry.
	assert.Equal(t, formatDate(nextBusinessDay(testToday)), offers[0].FirstPaymentDate)
	assert.Equal(t, "01/07/2025", offers[1].FirstPaymentDate)
}

func TestProjectMonotonic(t *testing.T) {
	calc := testCalculator(t)

	prev := 0.0
	for months := 0; months < 12; months++ {
		v := calc.Project(testToday.AddDate(0, months, 0))
		assert.GreaterOrEqual(t, v, prev, "projection never decreases with time")
		prev = v
	}
}

func TestProjectComposition(t *testing.T) {
	cfg := AgreementConfig{
		Debts:      []Debt{{DueDate: "2025-06-05", Amount: 100}},
		Parameters: exampleConfig().Parameters,
		Fees:       exampleConfig().Fees,
	}
	calc := newCalculatorAt(cfg, func() time.Time { return testToday })

	// 5 days overdue at 0.1%/day interest, 2% penalty, 10% fee:
	// base = 100 + 0.50 + 2.00 = 102.50; total = 102.50 * 1.10.
	assert.InDelta(t, 112.75, calc.Project(testToday), 0.001)
}

func TestEntryDates(t *testing.T) {
	calc := testCalculator(t)
	assert.Equal(t, "10/06/2025", calc.SuggestedEntryDate())
	assert.Equal(t, "23/01/2026", calc.MaxEntryDate())

	cfg := exampleConfig()
	cfg.Parameters[0].MaxEntryDate = ""
	calc = newCalculatorAt(cfg, func() time.Time { return testToday })
	assert.Equal(t, "15/06/2025", calc.MaxEntryDate(), "falls back to today plus entry offset")
}

func TestDegenerateConfiguration(t *testing.T) {
	cfg := exampleConfig()
	cfg.Parameters[0].MaxInstallments = 0
	calc := newCalculatorAt(cfg, func() time.Time { return testToday })
	assert.Empty(t, calc.GenerateOffers(CadenceMonthly, nil), "empty means no offer available, not failure")
}

func TestFormatISODate(t *testing.T) {
	assert.Equal(t, "17/04/2026", FormatISODate("2026-04-17"))
	assert.Equal(t, "17/04/2026", FormatISODate("2026-04-17T00:00:00Z"))
	assert.Equal(t, "garbage", FormatISODate("garbage"))
}
