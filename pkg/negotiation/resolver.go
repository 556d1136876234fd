package negotiation

import (
	"context"
	"fmt"

	"github.com/cobrance/lucia/pkg/logger"
)

// canServeFromCache decides whether a condition change can be answered
// with the offer sets fetched at negotiation start. Only a pure
// periodicity flip between the cached cadences qualifies, and only while
// the entry offset is still zero: plan and entry changes alter the
// amounts, so they always force a refetch.
func canServeFromCache(delta ConditionDelta, updated OfferParams) bool {
	if delta.Periodicity == nil || delta.Plan != nil || delta.EntryOffsetDays != nil {
		return false
	}
	if updated.EntryOffsetDays != 0 {
		return false
	}
	return updated.Periodicity == 7 || updated.Periodicity == 30
}

// applyConditionChange updates the offer terms and refreshes the offer
// set, from cache when possible, otherwise from the source. It injects
// the resulting offers as system context for the model.
func (o *Orchestrator) applyConditionChange(ctx context.Context, delta ConditionDelta) error {
	if o.selectedCreditor == nil {
		return fmt.Errorf("no creditor selected")
	}

	if delta.Plan != nil {
		o.offerParams.Plan = *delta.Plan
	}
	if delta.Periodicity != nil {
		o.offerParams.Periodicity = *delta.Periodicity
	}
	if delta.EntryOffsetDays != nil {
		o.offerParams.EntryOffsetDays = *delta.EntryOffsetDays
	}

	served := false
	if canServeFromCache(delta, o.offerParams) {
		switch {
		case o.offerParams.Periodicity == 7 && len(o.weeklyAPIOffers) > 0:
			o.apiOffers = o.weeklyAPIOffers
			o.offers = o.weeklyOffers
			served = true
			logger.DebugC("negotiation", "serving weekly offers from cache")
		case o.offerParams.Periodicity == 30 && len(o.monthlyAPIOffers) > 0:
			o.apiOffers = o.monthlyAPIOffers
			o.offers = o.monthlyOffers
			served = true
			logger.DebugC("negotiation", "serving monthly offers from cache")
		}
	}

	if !served {
		logger.DebugCF("negotiation", "refetching offers", map[string]any{
			"plano":         o.offerParams.Plan,
			"periodicidade": o.offerParams.Periodicity,
			"diasentrada":   o.offerParams.EntryOffsetDays,
		})

		o.apiOffers = o.source.LookupOffers(ctx, o.selectedCreditor.DebtorID,
			o.offerParams.Plan, o.offerParams.Periodicity, o.offerParams.EntryOffsetDays)

		if len(o.apiOffers) == 0 {
			// Nothing for the requested cadence: fall back to the
			// cached weekly set as a suggestion when we have one.
			if o.offerParams.Periodicity != 7 && len(o.weeklyOffers) > 0 {
				o.pushSystem(fmt.Sprintf(
					"Não foram encontradas ofertas para a periodicidade solicitada (%s). "+
						"Porém, existem ofertas no plano SEMANAL disponíveis:\n%s\n\n"+
						"Informe ao cliente que não há ofertas nessa periodicidade, mas sugira as opções semanais como alternativa.",
					periodicityName(o.offerParams.Periodicity), formatOffersText(o.weeklyOffers)))
				return nil
			}
			o.pushSystem("O sistema não encontrou ofertas para as condições solicitadas. Informe ao cliente que não há ofertas disponíveis para essas condições e sugira outras opções.")
			return nil
		}

		o.offers = mapAPIOffers(o.apiOffers)
	}

	if len(o.offers) == 0 {
		o.pushSystem("O sistema não encontrou ofertas para as condições solicitadas. Informe ao cliente que não há ofertas disponíveis para essas condições e sugira outras opções.")
		return nil
	}

	message := fmt.Sprintf(
		"O cliente solicitou novas condições. O sistema recalculou as ofertas com: plano=%d, periodicidade=%s, dias de entrada=%d.\n\nNovas ofertas %ss disponíveis:\n%s",
		o.offerParams.Plan, periodicityName(o.offerParams.Periodicity),
		o.offerParams.EntryOffsetDays, periodicityName(o.offerParams.Periodicity),
		formatOffersText(o.offers))

	// When a monthly plan cannot reach the requested installment count
	// but the weekly set can, volunteer it.
	maxCurrent := 0
	for _, of := range o.offers {
		if of.Installments > maxCurrent {
			maxCurrent = of.Installments
		}
	}
	if o.offerParams.Periodicity == 30 && maxCurrent < o.offerParams.Plan && len(o.weeklyOffers) > 0 {
		maxWeekly := 0
		for _, of := range o.weeklyOffers {
			if of.Installments > maxWeekly {
				maxWeekly = of.Installments
			}
		}
		message += fmt.Sprintf(
			"\n\nATENÇÃO: O cliente pediu %dx, mas no plano mensal o máximo disponível é %dx. "+
				"Porém, no plano SEMANAL existem opções de até %dx com parcelas menores!\n\n"+
				"Ofertas SEMANAIS disponíveis:\n%s\n\n"+
				"Apresente as ofertas mensais disponíveis E sugira proativamente as ofertas semanais como alternativa para o cliente conseguir mais parcelas. "+
				"Explique que no plano semanal ele pode parcelar em mais vezes com valores menores por parcela.",
			o.offerParams.Plan, maxCurrent, maxWeekly, formatOffersText(o.weeklyOffers))
	} else {
		message += "\n\nApresente as novas ofertas de forma clara e acolhedora."
	}

	o.pushSystem(message)
	return nil
}
