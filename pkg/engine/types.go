package engine

// Cadence is the step unit between installment dates. Wire values keep
// the creditor-system vocabulary.
type Cadence string

const (
	CadenceDaily    Cadence = "diario"
	CadenceWeekly   Cadence = "semanal"
	CadenceBiweekly Cadence = "quinzenal"
	CadenceMonthly  Cadence = "mensal"
)

// PeriodicityDays maps a cadence to its day count (1/7/15/30).
func (c Cadence) PeriodicityDays() int {
	switch c {
	case CadenceDaily:
		return 1
	case CadenceWeekly:
		return 7
	case CadenceBiweekly:
		return 15
	default:
		return 30
	}
}

// CadenceFromPeriodicity is the inverse of PeriodicityDays. Unknown day
// counts fall back to monthly.
func CadenceFromPeriodicity(days int) Cadence {
	switch days {
	case 1:
		return CadenceDaily
	case 7:
		return CadenceWeekly
	case 15:
		return CadenceBiweekly
	default:
		return CadenceMonthly
	}
}

// Name returns the periodicity spelled out in Portuguese for prompts.
func (c Cadence) Name() string {
	switch c {
	case CadenceDaily:
		return "diário"
	case CadenceWeekly:
		return "semanal"
	case CadenceBiweekly:
		return "quinzenal"
	default:
		return "mensal"
	}
}

// Debt is a single overdue obligation: original amount and its due date
// (yyyy-mm-dd).
type Debt struct {
	DueDate string  `json:"vencimento"`
	Amount  float64 `json:"valor"`
}

// Parameters are the business rules a negotiation operates under.
type Parameters struct {
	MonthlyInterestPct float64 `json:"juros"`
	PenaltyPct         float64 `json:"multa"`
	FeePct             float64 `json:"honorarios"`
	MaxInstallments    int     `json:"plano_maximo"`
	MaxDueDate         string  `json:"vencimento_maximo"`
	EntryOffsetDays    int     `json:"dias_entrada"`
	MaxEntryDate       string  `json:"data_entrada_maxima"`
}

// BoletoFee is the fixed per-installment charge.
type BoletoFee struct {
	Amount float64 `json:"tarifa_boleto"`
}

// AgreementConfig is the full calculator input. Parameter and fee arrays
// carry a single element by convention of the creditor-system export.
type AgreementConfig struct {
	Debts      []Debt       `json:"dividas"`
	Parameters []Parameters `json:"parametros"`
	Fees       []BoletoFee  `json:"ofertas"`
}

// Offer is one installment plan. Amounts are pre-formatted with two
// decimals, dates as dd/mm/yyyy, matching the conversation surface.
type Offer struct {
	Installments      int      `json:"parcelas"`
	FirstPaymentDate  string   `json:"data_primeiro_pagamento"`
	FinalDueDate      string   `json:"vencimento_final"`
	InstallmentAmount string   `json:"valor_parcela"`
	TotalWithFees     string   `json:"total_com_taxas"`
	InstallmentDates  []string `json:"datas_parcelas"`
}
