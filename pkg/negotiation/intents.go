package negotiation

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cobrance/lucia/pkg/engine"
)

// The detectors below work on lowercased pt-BR text. They are heuristics
// tuned on real conversations, not a grammar: false negatives fall
// through to the model, which handles them conversationally.

var (
	documentPattern = regexp.MustCompile(`\d{11,14}|\d{3}\.?\d{3}\.?\d{3}[-.]?\d{2}|\d{2}\.?\d{3}\.?\d{3}/?\d{4}[-.]?\d{2}`)

	helpIntentPattern = regexp.MustCompile(`negoci|pagar|parcela|boleto|acordo|d[ií]vida|pend[eê]ncia|atras|conta|d[eé]bito|regulariz|segunda.?via|quitar`)

	debtInquiryPattern = regexp.MustCompile(`minhas d[ií]vidas|quanto devo|quais.*pend[eê]ncias|detalh.*d[ií]vida|meus d[eé]bitos`)

	planPattern = regexp.MustCompile(`(\d+)\s*(?:x\b|vezes|parcelas?|vez)|(?:parcelar|dividir|divide|parcela)\s*(?:em|de)?\s*(\d+)`)

	dailyPattern    = regexp.MustCompile(`\bdi[aá]ri[oa]\b|\btodo\s*dia\b|\bpor\s*dia\b|\bdiariamente\b|\ba\s*cada\s*dia\b|\b(?:de\s*)?1\s*em\s*1\s*dia`)
	weeklyPattern   = regexp.MustCompile(`\bsemanal\b|\bsemanalmente\b|\bpor\s*semana\b|\btoda\s*semana\b|\ba\s*cada\s*semana\b|\b(?:de\s*)?7\s*em\s*7\b|\ba\s*cada\s*7\s*dias\b|\b(?:uma|1)\s*vez\s*(?:por|na|a\s*cada)\s*semana\b|\bde\s*semana\s*em\s*semana\b`)
	biweeklyPattern = regexp.MustCompile(`\bquinzenal\b|\bquinzenalmente\b|\bquinzena\b|\ba\s*cada\s*15\s*dias\b|\b(?:de\s*)?15\s*em\s*15\b|\b(?:duas|2)\s*vezes\s*(?:por|no|ao)\s*m[eê]s\b|\ba\s*cada\s*quinzena\b|\bde\s*quinzena\s*em\s*quinzena\b`)
	monthlyPattern  = regexp.MustCompile(`\bmensal\b|\bmensalmente\b|\bpor\s*m[eê]s\b|\btodo\s*m[eê]s\b|\ba\s*cada\s*m[eê]s\b|\b(?:de\s*)?30\s*em\s*30\b|\ba\s*cada\s*30\s*dias\b|\b(?:uma|1)\s*vez\s*(?:por|no|ao|a\s*cada)\s*m[eê]s\b|\bde\s*m[eê]s\s*em\s*m[eê]s\b`)

	explicitDatePattern = regexp.MustCompile(`(?:dia|data|primeira?\s*(?:parcela)?|pagar|pag(?:amento)?|come[cç]ar|iniciar|vencimento)\s*(?:no|em|para|pro|pra|de)?\s*(?:o?\s*dia)?\s*(\d{1,2})\s*[/\-]\s*(\d{1,2})(?:\s*[/\-]\s*(\d{2,4}))?`)
	entryDaysPattern    = regexp.MustCompile(`(?:entrada|come[cç]ar|iniciar|primeira?\s*(?:parcela|pagamento)?|pagar?\s*(?:a\s*primeira)?|primeiro\s*(?:pagamento|boleto)?)\s*(?:em|de|daqui|daqui\s*a)\s*(\d+)\s*dias?|(?:daqui|daqui\s*a)\s*(\d+)\s*dias?`)

	nextWeekPattern         = regexp.MustCompile(`\bsemana\s*que\s*vem\b|\bpr[oó]xima\s*semana\b`)
	nextMonthPattern        = regexp.MustCompile(`\bm[eê]s\s*que\s*vem\b|\bpr[oó]ximo\s*m[eê]s\b`)
	dayAfterTomorrowPattern = regexp.MustCompile(`\bdepois\s*de\s*amanh[aã]\b`)
	tomorrowPattern         = regexp.MustCompile(`\bamanh[aã]\b`)
	deferralPattern         = regexp.MustCompile(`\badiar\b|\bpostergar\b|\bempurrar\b|\bmais\s*(?:pra|para)\s*frente\b|\bmais\s*tempo\b|\bmais\s*prazo\b|\bjogar\s*(?:pra|para)\s*frente\b`)

	currencyPattern     = regexp.MustCompile(`r\$\s*(\d+(?:[.,]\d{1,2})?)`)
	budgetVerbPattern   = regexp.MustCompile(`(?:posso|consigo|quero|dá\s*(?:pra|para)|da\s*(?:pra|para)|cabe|tenho|or[cç]amento\s*(?:[eé]|de)|pagar|parcelas?\s*(?:de|até|ate))\s*(?:até|ate|de)?\s*(\d+(?:[.,]\d{1,2})?)`)
	budgetApproxPattern = regexp.MustCompile(`(?:(?:algo\s*)?(?:em\s*torno|por\s*volta|perto|cerca)\s*de)\s*(\d+(?:[.,]\d{1,2})?)`)
	budgetUnitPattern   = regexp.MustCompile(`(\d+(?:[.,]\d{1,2})?)\s*(?:reais|por\s*(?:m[eê]s|semana|dia|quinzena))`)

	planRefPattern  = regexp.MustCompile(`(\d+)\s*(?:x\b|parcela|vezes|vez)`)
	acceptedPattern = regexp.MustCompile(`aceito|fechado|pode ser`)
)

// ContainsDocument reports whether the message carries something shaped
// like a CPF or CNPJ. Spaces are ignored.
func ContainsDocument(msg string) bool {
	return documentPattern.MatchString(strings.ReplaceAll(msg, " ", ""))
}

// WantsHelp reports whether the user signaled what they need, which
// means it is time to ask for the document.
func WantsHelp(msg string) bool {
	return helpIntentPattern.MatchString(strings.ToLower(msg))
}

// IsDebtInquiry detects a request for debt details.
func IsDebtInquiry(msg string) bool {
	return debtInquiryPattern.MatchString(strings.ToLower(msg))
}

// UserAccepts detects an explicit acceptance of the current proposal.
func UserAccepts(msg string) bool {
	return acceptedPattern.MatchString(strings.ToLower(msg))
}

// ExtractCadence pulls a payment cadence from free text, most specific
// first so "quinzenal" is not swallowed by the "semana" substring.
func ExtractCadence(msg string) (engine.Cadence, bool) {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "diário") || strings.Contains(m, "diario"):
		return engine.CadenceDaily, true
	case strings.Contains(m, "quinzenal") || strings.Contains(m, "quinzena"):
		return engine.CadenceBiweekly, true
	case strings.Contains(m, "semanal") || strings.Contains(m, "semana"):
		return engine.CadenceWeekly, true
	case strings.Contains(m, "mensal") || strings.Contains(m, "mês") || strings.Contains(m, "mes"):
		return engine.CadenceMonthly, true
	}
	return "", false
}

// DetectBudget extracts an installment ceiling the user says they can
// afford ("posso pagar 200", "R$ 150 por semana").
func DetectBudget(msg string) (float64, bool) {
	m := strings.ToLower(msg)

	for _, p := range []*regexp.Regexp{currencyPattern, budgetVerbPattern, budgetApproxPattern, budgetUnitPattern} {
		if match := p.FindStringSubmatch(m); match != nil {
			v, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", "."), 64)
			if err == nil {
				return v, true
			}
		}
	}
	return 0, false
}

// ConditionDelta is a detected request to change agreement terms. Nil
// fields were not mentioned.
type ConditionDelta struct {
	Plan            *int
	Periodicity     *int
	EntryOffsetDays *int
}

// DetectConditionChange parses requests for a different plan size,
// periodicity or entry date. currentEntryDays feeds the vague deferral
// case ("adiar", no amount), which adds a week to whatever is in force.
func DetectConditionChange(msg string, currentEntryDays int, now time.Time) (ConditionDelta, bool) {
	m := strings.ToLower(msg)
	var delta ConditionDelta
	changed := false

	if match := planPattern.FindStringSubmatch(m); match != nil {
		raw := match[1]
		if raw == "" {
			raw = match[2]
		}
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			delta.Plan = &n
			changed = true
		}
	}

	switch {
	case dailyPattern.MatchString(m):
		delta.Periodicity = intPtr(1)
		changed = true
	case weeklyPattern.MatchString(m):
		delta.Periodicity = intPtr(7)
		changed = true
	case biweeklyPattern.MatchString(m):
		delta.Periodicity = intPtr(15)
		changed = true
	case monthlyPattern.MatchString(m):
		delta.Periodicity = intPtr(30)
		changed = true
	}

	if match := explicitDatePattern.FindStringSubmatch(m); match != nil {
		day, _ := strconv.Atoi(match[1])
		month, _ := strconv.Atoi(match[2])
		year := now.Year()
		if match[3] != "" {
			y, _ := strconv.Atoi(match[3])
			if len(match[3]) == 2 {
				y += 2000
			}
			year = y
		}

		target := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		days := int(target.Sub(today).Hours() / 24)
		if days < 0 {
			days = 0
		}
		delta.EntryOffsetDays = &days
		changed = true
	}

	if delta.EntryOffsetDays == nil {
		if match := entryDaysPattern.FindStringSubmatch(m); match != nil {
			raw := match[1]
			if raw == "" {
				raw = match[2]
			}
			if n, err := strconv.Atoi(raw); err == nil {
				delta.EntryOffsetDays = &n
				changed = true
			}
		}
	}

	if delta.EntryOffsetDays == nil {
		switch {
		case nextWeekPattern.MatchString(m):
			delta.EntryOffsetDays = intPtr(7)
			changed = true
		case nextMonthPattern.MatchString(m):
			delta.EntryOffsetDays = intPtr(30)
			changed = true
		case dayAfterTomorrowPattern.MatchString(m):
			delta.EntryOffsetDays = intPtr(2)
			changed = true
		case tomorrowPattern.MatchString(m):
			delta.EntryOffsetDays = intPtr(1)
			changed = true
		}
	}

	// A deferral request without any amount pushes the entry a week
	// past whatever is currently agreed.
	if delta.EntryOffsetDays == nil && deferralPattern.MatchString(m) {
		delta.EntryOffsetDays = intPtr(currentEntryDays + 7)
		changed = true
	}

	return delta, changed
}

func intPtr(v int) *int { return &v }
