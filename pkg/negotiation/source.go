package negotiation

import (
	"context"
	"strconv"
	"time"

	"github.com/cobrance/lucia/pkg/cobrance"
	"github.com/cobrance/lucia/pkg/engine"
)

// CalculatorSource serves offers from the local amortization calculator
// instead of the creditor-system API. It backs the REPL and deployments
// where the agreement rules come from configuration.
type CalculatorSource struct {
	cfg  engine.AgreementConfig
	calc *engine.Calculator
	now  func() time.Time
}

func NewCalculatorSource(cfg engine.AgreementConfig) *CalculatorSource {
	return &CalculatorSource{
		cfg:  cfg,
		calc: engine.NewCalculator(cfg),
		now:  time.Now,
	}
}

// LookupCreditors always finds exactly one record: the configured
// agreement, presented as a single pending creditor.
func (s *CalculatorSource) LookupCreditors(ctx context.Context, document string) []cobrance.Creditor {
	doc, _ := strconv.ParseInt(cobrance.OnlyDigits(document), 10, 64)

	total := 0.0
	for _, d := range s.cfg.Debts {
		total += d.Amount
	}

	return []cobrance.Creditor{{
		DebtorID:      1,
		Document:      doc,
		CreditorName:  "Cliente",
		CompanyName:   "Cobrance",
		TotalOriginal: total,
	}}
}

// LookupDebts projects each configured debt individually so the debt
// inquiry flow has per-contract amounts to present.
func (s *CalculatorSource) LookupDebts(ctx context.Context, debtorID int, refDate string) []cobrance.DebtDetail {
	at, err := time.Parse("2006-01-02", refDate)
	if err != nil {
		at = s.now()
	}

	details := make([]cobrance.DebtDetail, 0, len(s.cfg.Debts))
	for i, d := range s.cfg.Debts {
		single := s.cfg
		single.Debts = []engine.Debt{d}
		updated := engine.NewCalculator(single).Project(at)

		due, _ := time.Parse("2006-01-02", d.DueDate)
		overdue := int(at.Sub(due).Hours() / 24)
		if overdue < 0 {
			overdue = 0
		}

		details = append(details, cobrance.DebtDetail{
			DebtorID:           debtorID,
			ValueID:            i + 1,
			ContractNumber:     "CONF-" + strconv.Itoa(i+1),
			DaysOverdue:        overdue,
			OriginalDueDate:    d.DueDate,
			OriginalAmount:     d.Amount,
			TotalWithInterest:  updated,
			OverdueInstallment: strconv.Itoa(i+1) + "/" + strconv.Itoa(len(s.cfg.Debts)),
		})
	}
	return details
}

// LookupOffers generates plans with the calculator, shaped like the
// creditor-system rows so the rest of the engine does not care where
// offers come from.
func (s *CalculatorSource) LookupOffers(ctx context.Context, debtorID, plan, periodicity, entryOffsetDays int) []cobrance.APIOffer {
	cadence := engine.CadenceFromPeriodicity(periodicity)

	var negotiatedEntry *time.Time
	if entryOffsetDays > 0 {
		entry := s.now().AddDate(0, 0, entryOffsetDays)
		negotiatedEntry = &entry
	}

	offers := s.calc.GenerateOffers(cadence, negotiatedEntry)

	rows := make([]cobrance.APIOffer, 0, len(offers))
	for _, o := range offers {
		if o.Installments > plan {
			break
		}

		total, _ := strconv.ParseFloat(o.TotalWithFees, 64)
		rows = append(rows, cobrance.APIOffer{
			Plan:              o.Installments,
			Periodicity:       strconv.Itoa(periodicity),
			TotalWithInterest: total,
			InstallmentAmount: o.InstallmentAmount,
			PaymentDate:       toISODate(o.FinalDueDate),
		})
	}
	return rows
}

// RegisterAgreement has no backing system to call; the agreement is
// considered closed as soon as the terms are settled.
func (s *CalculatorSource) RegisterAgreement(ctx context.Context, f cobrance.Formalization) cobrance.FormalizationResult {
	return cobrance.FormalizationResult{
		Success: true,
		Message: "Acordo formalizado com sucesso",
	}
}

func toISODate(brDate string) string {
	if d, err := time.Parse("02/01/2006", brDate); err == nil {
		return d.Format("2006-01-02")
	}
	return brDate
}
