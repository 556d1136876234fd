package negotiation

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/cobrance/lucia/pkg/engine"
)

// BestOffer picks the plan with the fewest installments whose amount
// fits the budget. When nothing fits it returns the globally cheapest
// installment and false, so callers can present it as a floor.
func BestOffer(offers []engine.Offer, budget float64) (engine.Offer, bool) {
	fitting := make([]engine.Offer, 0, len(offers))
	for _, o := range offers {
		if installmentValue(o) <= budget {
			fitting = append(fitting, o)
		}
	}

	if len(fitting) > 0 {
		sort.Slice(fitting, func(i, j int) bool {
			return fitting[i].Installments < fitting[j].Installments
		})
		return fitting[0], true
	}

	cheapest := offers[0]
	for _, o := range offers[1:] {
		if installmentValue(o) < installmentValue(cheapest) {
			cheapest = o
		}
	}
	return cheapest, false
}

func installmentValue(o engine.Offer) float64 {
	v, _ := strconv.ParseFloat(o.InstallmentAmount, 64)
	return v
}

// applyBudget reacts to a stated budget ceiling: monthly offers first,
// the cached weekly set as a fallback, and when neither fits, a steer
// towards postponing the entry. All paths only inject system context;
// the model does the talking.
func (o *Orchestrator) applyBudget(budget float64) {
	if len(o.monthlyOffers) > 0 {
		offer, fits := BestOffer(o.monthlyOffers, budget)
		if fits {
			o.offerParams = OfferParams{Plan: 10, Periodicity: 30, EntryOffsetDays: 0}
			o.apiOffers = o.monthlyAPIOffers
			o.offers = o.monthlyOffers

			o.pushSystem(fmt.Sprintf(
				"O cliente informou que pode pagar aproximadamente R$ %.2f por parcela. O sistema encontrou a melhor oferta MENSAL que cabe nesse orçamento:\n\n"+
					"MELHOR OFERTA: %dx de R$ %s (Total: R$ %s, 1º pagamento: %s, Último: %s)\n\n"+
					"Apresente essa oferta com entusiasmo, destacando que cabe no orçamento do cliente.\n\nTodas as ofertas mensais disponíveis:\n%s",
				budget, offer.Installments, offer.InstallmentAmount, offer.TotalWithFees,
				offer.FirstPaymentDate, offer.FinalDueDate, formatOffersText(o.monthlyOffers)))
			return
		}
	}

	if len(o.weeklyOffers) > 0 {
		offer, fits := BestOffer(o.weeklyOffers, budget)
		if fits {
			o.offerParams = OfferParams{Plan: 10, Periodicity: 7, EntryOffsetDays: 0}
			o.apiOffers = o.weeklyAPIOffers
			o.offers = o.weeklyOffers

			o.pushSystem(fmt.Sprintf(
				"O cliente informou que pode pagar aproximadamente R$ %.2f por parcela. O sistema verificou automaticamente as ofertas mensais e semanais. Nenhuma parcela MENSAL cabe no orçamento, mas encontrou uma oferta SEMANAL que cabe perfeitamente:\n\n"+
					"MELHOR OFERTA SEMANAL: %dx de R$ %s semanais (Total: R$ %s, 1º pagamento: %s, Último: %s)\n\n"+
					"IMPORTANTE: Apresente essa oferta semanal diretamente com entusiasmo. NÃO pergunte se o cliente quer trocar para semanal — já apresente como a melhor opção encontrada para o orçamento dele. Explique que o valor fica mais acessível com parcelas semanais.\n\nTodas as ofertas semanais disponíveis:\n%s",
				budget, offer.Installments, offer.InstallmentAmount, offer.TotalWithFees,
				offer.FirstPaymentDate, offer.FinalDueDate, formatOffersText(o.weeklyOffers)))
			return
		}
	}

	var floorInfo string
	if len(o.weeklyOffers) > 0 {
		cheapest, _ := BestOffer(o.weeklyOffers, 0)
		floorInfo = fmt.Sprintf("A menor parcela semanal disponível é R$ %s (%dx).", cheapest.InstallmentAmount, cheapest.Installments)
	}
	if len(o.monthlyOffers) > 0 {
		cheapest, _ := BestOffer(o.monthlyOffers, 0)
		floorInfo += fmt.Sprintf(" A menor parcela mensal disponível é R$ %s (%dx).", cheapest.InstallmentAmount, cheapest.Installments)
	}

	o.pushSystem(fmt.Sprintf(
		"O cliente informou que pode pagar aproximadamente R$ %.2f por parcela, mas nenhuma oferta mensal ou semanal disponível cabe nesse orçamento. %s\n\n"+
			"Informe com cuidado que o valor informado está abaixo das parcelas disponíveis. "+
			"Sugira ao cliente que talvez consiga condições melhores adiando a data da primeira parcela (entrada), o que pode reduzir os valores. "+
			"Pergunte se ele gostaria de adiar o início do pagamento para buscar condições mais acessíveis.",
		budget, floorInfo))
}
