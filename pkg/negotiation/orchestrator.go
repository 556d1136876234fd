package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cobrance/lucia/pkg/cobrance"
	"github.com/cobrance/lucia/pkg/engine"
	"github.com/cobrance/lucia/pkg/logger"
	"github.com/cobrance/lucia/pkg/providers"
)

// OfferSource is where debtor records, offers and registrations come
// from. The production implementation is the Cobrance REST client; a
// calculator-backed source serves deployments without API access.
type OfferSource interface {
	LookupCreditors(ctx context.Context, document string) []cobrance.Creditor
	LookupDebts(ctx context.Context, debtorID int, refDate string) []cobrance.DebtDetail
	LookupOffers(ctx context.Context, debtorID, plan, periodicity, entryOffsetDays int) []cobrance.APIOffer
	RegisterAgreement(ctx context.Context, f cobrance.Formalization) cobrance.FormalizationResult
}

// ContextRetriever supplies optional knowledge-base context injected
// into prompts. A nil retriever disables the injection.
type ContextRetriever interface {
	Ready() bool
	Search(ctx context.Context, query string, limit int) []string
}

// Orchestrator runs one debtor conversation. It is not safe for
// concurrent use; callers serialize turns per session.
type Orchestrator struct {
	provider  providers.Provider
	source    OfferSource
	retriever ContextRetriever
	now       func() time.Time

	history          []providers.Message
	cadence          engine.Cadence
	state            ConversationState
	greetingSent     bool
	creditors        []cobrance.Creditor
	selectedCreditor *cobrance.Creditor
	debtDetails      []cobrance.DebtDetail
	offerParams      OfferParams

	apiOffers        []cobrance.APIOffer
	monthlyAPIOffers []cobrance.APIOffer
	weeklyAPIOffers  []cobrance.APIOffer
	offers           []engine.Offer
	monthlyOffers    []engine.Offer
	weeklyOffers     []engine.Offer
}

func NewOrchestrator(provider providers.Provider, source OfferSource) *Orchestrator {
	return &Orchestrator{
		provider:    provider,
		source:      source,
		now:         time.Now,
		cadence:     engine.CadenceMonthly,
		state:       StatePresentation,
		offerParams: defaultOfferParams(),
	}
}

// SetRetriever wires an optional knowledge-base retriever.
func (o *Orchestrator) SetRetriever(r ContextRetriever) {
	o.retriever = r
}

// State exposes the current conversation state.
func (o *Orchestrator) State() ConversationState {
	return o.state
}

// Snapshot captures the conversation for persistence between turns.
func (o *Orchestrator) Snapshot() Snapshot {
	params := o.offerParams
	return Snapshot{
		History:          o.history,
		Cadence:          o.cadence,
		State:            o.state,
		GreetingSent:     o.greetingSent,
		Creditors:        o.creditors,
		SelectedCreditor: o.selectedCreditor,
		APIOffers:        o.apiOffers,
		MonthlyAPIOffers: o.monthlyAPIOffers,
		WeeklyAPIOffers:  o.weeklyAPIOffers,
		OfferParams:      &params,
	}
}

// Restore rebuilds the conversation from a snapshot, rederiving the
// mapped offer sets from the raw ones.
func (o *Orchestrator) Restore(s Snapshot) {
	o.history = s.History
	if s.Cadence != "" {
		o.cadence = s.Cadence
	}
	if s.State != "" {
		o.state = s.State
	}
	o.greetingSent = s.GreetingSent
	o.creditors = s.Creditors
	o.selectedCreditor = s.SelectedCreditor
	o.apiOffers = s.APIOffers
	o.monthlyAPIOffers = s.MonthlyAPIOffers
	o.weeklyAPIOffers = s.WeeklyAPIOffers
	if s.OfferParams != nil {
		o.offerParams = *s.OfferParams
	}

	o.offers = mapAPIOffers(o.apiOffers)
	o.monthlyOffers = mapAPIOffers(o.monthlyAPIOffers)
	o.weeklyOffers = mapAPIOffers(o.weeklyAPIOffers)
}

// ProcessMessage runs one turn of the conversation. Overload errors from
// the model provider propagate so transports can ask the user to retry;
// other model failures degrade to a fallback reply.
func (o *Orchestrator) ProcessMessage(ctx context.Context, msg string) (Result, error) {
	// First contact: the greeting goes into the history so the model
	// knows it already introduced itself, then the message is handled
	// as normal conversation.
	if !o.greetingSent && o.state == StatePresentation {
		o.pushAssistant(Greeting)
		o.greetingSent = true
		o.state = StateConversing
		return o.processConversing(ctx, msg)
	}

	switch o.state {
	case StateConversing:
		return o.processConversing(ctx, msg)
	case StateAwaitingDocument:
		return o.processDocument(ctx, msg)
	case StateSelectingCreditor:
		return o.processSelection(ctx, msg)
	case StateClosed:
		o.pushUser(msg)
		o.pushSystem("O acordo já foi formalizado com sucesso. O cliente está fazendo uma pergunta adicional. Responda de forma acolhedora e útil. Se ele quiser negociar outra pendência, oriente a limpar a sessão para iniciar um novo atendimento.")
		return o.callModel(ctx, "")
	}

	return o.processNegotiating(ctx, msg)
}

func (o *Orchestrator) processNegotiating(ctx context.Context, msg string) (Result, error) {
	o.pushUser(msg)

	if IsDebtInquiry(msg) {
		return o.processDebtInquiry(ctx)
	}

	delta, hasDelta := DetectConditionChange(msg, o.offerParams.EntryOffsetDays, o.now())
	budget, hasBudget := DetectBudget(msg)

	// A budget only counts when the message does not also change
	// conditions; "posso pagar 150 por semana" is a periodicity switch.
	if hasBudget && !hasDelta {
		o.applyBudget(budget)
	}
	if hasDelta {
		if err := o.applyConditionChange(ctx, delta); err != nil {
			return Result{}, err
		}
	}

	result, err := o.callModel(ctx, "")
	if err != nil {
		return Result{}, err
	}

	if UserAccepts(msg) || strings.Contains(strings.ToLower(result.Reply), "formalizando") {
		if plan, ok := o.detectAcceptedPlan(); ok {
			return o.formalize(ctx, plan)
		}
	}

	return result, nil
}

// processConversing handles small talk before identification. A message
// that already carries a document short-circuits into the lookup.
func (o *Orchestrator) processConversing(ctx context.Context, msg string) (Result, error) {
	if ContainsDocument(msg) {
		o.state = StateAwaitingDocument
		return o.processDocument(ctx, msg)
	}

	o.pushUser(msg)
	wantsHelp := WantsHelp(msg)

	prompt := conversationPrompt(wantsHelp)
	if ragContext := o.retrieve(ctx, msg, 2); ragContext != "" {
		prompt += "\n\n" + ragContext
	}

	messages := append([]providers.Message{{Role: "system", Content: prompt}}, o.history...)

	reply, err := o.provider.Complete(ctx, messages)
	if err != nil {
		if errors.Is(err, providers.ErrOverloaded) {
			return Result{}, err
		}
		logger.WarnCF("negotiation", "model call failed, using fallback", map[string]any{"error": err})
		o.pushAssistant(conversingFallback)
		return Result{Reply: conversingFallback, Status: string(StateConversing)}, nil
	}
	if reply == "" {
		reply = conversingFallback
	}
	o.pushAssistant(reply)

	if wantsHelp {
		o.state = StateAwaitingDocument
		return Result{Reply: reply, Status: string(StateAwaitingDocument)}, nil
	}
	return Result{Reply: reply, Status: string(StateConversing)}, nil
}

func (o *Orchestrator) processDocument(ctx context.Context, msg string) (Result, error) {
	_, digits, ok := cobrance.ValidateDocument(msg)
	if !ok {
		o.pushUser(msg)
		o.pushAssistant(invalidDocumentReply)
		return Result{Reply: invalidDocumentReply, Status: string(StateAwaitingDocument)}, nil
	}

	creditors := o.source.LookupCreditors(ctx, digits)

	if len(creditors) == 0 {
		o.pushUser(msg)
		o.pushAssistant(noDebtsReply)
		o.state = StateConversing
		return Result{Reply: noDebtsReply, Status: string(StateConversing)}, nil
	}

	o.creditors = creditors
	o.pushUser(msg)

	if len(creditors) == 1 {
		o.selectedCreditor = &creditors[0]
		return o.startNegotiation(ctx)
	}

	o.state = StateSelectingCreditor
	var list strings.Builder
	for i, c := range creditors {
		fmt.Fprintf(&list, "%d. %s\n", i+1, c.CompanyName)
	}

	reply := fmt.Sprintf("Encontrei %d pendências em seu nome com as seguintes empresas:\n\n%s\nQual delas você gostaria de negociar? (Digite o número)",
		len(creditors), list.String())
	o.pushAssistant(reply)

	return Result{Reply: reply, Status: string(StateSelectingCreditor)}, nil
}

func (o *Orchestrator) processSelection(ctx context.Context, msg string) (Result, error) {
	n, err := strconv.Atoi(strings.TrimSpace(msg))
	if err != nil || n < 1 || n > len(o.creditors) {
		o.pushUser(msg)
		reply := fmt.Sprintf("Por favor, digite um número de 1 a %d para selecionar a pendência que deseja negociar.", len(o.creditors))
		o.pushAssistant(reply)
		return Result{Reply: reply, Status: string(StateSelectingCreditor)}, nil
	}

	o.selectedCreditor = &o.creditors[n-1]
	o.pushUser(msg)

	return o.startNegotiation(ctx)
}

// startNegotiation loads the monthly and weekly offer sets and the debt
// details for the selected creditor, installs the negotiation prompt
// and has the model open with the cash offer.
func (o *Orchestrator) startNegotiation(ctx context.Context) (Result, error) {
	if o.selectedCreditor == nil {
		return Result{}, fmt.Errorf("no creditor selected")
	}

	o.offerParams = defaultOfferParams()
	debtorID := o.selectedCreditor.DebtorID
	refDate := o.now().Format("2006-01-02")

	monthly := o.source.LookupOffers(ctx, debtorID, 10, 30, 0)
	weekly := o.source.LookupOffers(ctx, debtorID, 10, 7, 0)
	o.debtDetails = o.source.LookupDebts(ctx, debtorID, refDate)

	o.apiOffers = monthly
	o.monthlyAPIOffers = monthly
	o.monthlyOffers = mapAPIOffers(monthly)
	o.weeklyAPIOffers = weekly
	o.weeklyOffers = mapAPIOffers(weekly)

	if len(o.apiOffers) == 0 {
		o.pushAssistant(noOffersReply)
		o.state = StateConversing
		return Result{Reply: noOffersReply, Status: string(StateConversing)}, nil
	}

	o.offers = o.monthlyOffers
	o.state = StateNegotiating

	o.pushSystem(negotiationPrompt(*o.selectedCreditor, o.offers, o.debtDetails, o.now()))

	kickoff := fmt.Sprintf(
		"O cliente %s deseja negociar sua pendência com %s. Apresente-se brevemente, ofereça a opção à vista primeiro (use o valor total da oferta de 1x) e informe que também existe a possibilidade de parcelamento caso prefira.",
		o.selectedCreditor.CreditorName, o.selectedCreditor.CompanyName)

	return o.callModel(ctx, kickoff)
}

func (o *Orchestrator) processDebtInquiry(ctx context.Context) (Result, error) {
	if o.selectedCreditor == nil {
		return Result{}, fmt.Errorf("no creditor selected")
	}

	debts := o.source.LookupDebts(ctx, o.selectedCreditor.DebtorID, o.now().Format("2006-01-02"))

	if len(debts) == 0 {
		o.pushSystem("O sistema não encontrou detalhes adicionais sobre as dívidas deste credor.")
		return o.callModel(ctx, "")
	}

	o.pushSystem(fmt.Sprintf(
		"O cliente solicitou detalhes das suas pendências. Aqui estão todos os contratos retornados pelo sistema:\n\n%s\n\nTotal de contratos: %d\n\n"+
			"APRESENTE OBRIGATORIAMENTE para cada contrato: número do contrato, parcela atrasada, valor original, valor atualizado, data de vencimento e DIAS EM ATRASO. Os dias em atraso são uma informação essencial e NUNCA devem ser omitidos.\n"+
			`Apresente esses dados de forma clara e acolhedora. Evite a palavra "dívida", use "pendência" ou "valor em aberto".`,
		formatDebtsText(debts), len(debts)))

	return o.callModel(ctx, "")
}

// callModel sends the history to the provider. An internal message is
// appended to the request only, never persisted, so system-triggered
// turns leave no trace in the transcript.
func (o *Orchestrator) callModel(ctx context.Context, internal string) (Result, error) {
	messages := make([]providers.Message, len(o.history), len(o.history)+2)
	copy(messages, o.history)
	if internal != "" {
		messages = append(messages, providers.Message{Role: "user", Content: internal})
	}

	if o.state == StateNegotiating {
		query := internal
		if query == "" {
			query = o.lastUserMessage()
		}
		if ragContext := o.retrieve(ctx, query, 3); ragContext != "" && len(messages) > 0 {
			injected := make([]providers.Message, 0, len(messages)+1)
			injected = append(injected, messages[0])
			injected = append(injected, providers.Message{Role: "system", Content: ragContext})
			injected = append(injected, messages[1:]...)
			messages = injected
		}
	}

	reply, err := o.provider.Complete(ctx, messages)
	if err != nil {
		if errors.Is(err, providers.ErrOverloaded) {
			return Result{}, err
		}
		logger.WarnCF("negotiation", "model call failed, using fallback", map[string]any{"error": err})
		reply = negotiatingFallback
	}
	o.pushAssistant(reply)

	status := string(StateNegotiating)
	if strings.Contains(strings.ToLower(reply), "formalizando") {
		status = StatusAgreementAccepted
	}

	result := Result{Reply: reply, Status: status}
	if o.selectedCreditor != nil {
		result.DebtorID = o.selectedCreditor.DebtorID
		result.Plan = o.offerParams.Plan
		result.Periodicity = o.offerParams.Periodicity
		result.EntryOffsetDays = o.offerParams.EntryOffsetDays
	}
	return result, nil
}

// detectAcceptedPlan figures out which plan the user agreed to by
// scanning the assistant's recent messages for an installment count.
// With a single offer there is nothing to guess.
func (o *Orchestrator) detectAcceptedPlan() (int, bool) {
	if len(o.apiOffers) == 0 {
		return 0, false
	}
	if len(o.apiOffers) == 1 {
		return o.apiOffers[0].Plan, true
	}

	var recent []string
	for _, m := range o.history {
		if m.Role == "assistant" {
			recent = append(recent, strings.ToLower(m.Content))
		}
	}
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}
	text := strings.Join(recent, " ")

	if match := planRefPattern.FindStringSubmatch(text); match != nil {
		if n, err := strconv.Atoi(match[1]); err == nil {
			for _, offer := range o.apiOffers {
				if offer.Plan == n {
					return n, true
				}
			}
		}
	}

	if strings.Contains(text, "à vista") || strings.Contains(text, "a vista") {
		for _, offer := range o.apiOffers {
			if offer.Plan == 1 {
				return 1, true
			}
		}
	}

	return o.apiOffers[0].Plan, true
}

// formalize registers the agreement. Success closes the conversation
// and relays the boleto link and PIX code; failure keeps negotiating
// and reports the technical problem.
func (o *Orchestrator) formalize(ctx context.Context, plan int) (Result, error) {
	if o.selectedCreditor == nil {
		return Result{}, fmt.Errorf("no creditor selected")
	}

	outcome := o.source.RegisterAgreement(ctx, cobrance.Formalization{
		DebtorID:        o.selectedCreditor.DebtorID,
		Plan:            plan,
		Periodicity:     o.offerParams.Periodicity,
		EntryOffsetDays: o.offerParams.EntryOffsetDays,
	})

	// The handoff closes the session either way. A failed registration
	// is reported with a retry-through-another-channel suggestion, never
	// re-entered from the same conversation.
	o.state = StateClosed

	if outcome.Success {
		content := "O acordo foi formalizado com sucesso no sistema."
		if outcome.BoletoURL != "" {
			content += "\nLink do boleto: " + outcome.BoletoURL
		}
		if outcome.PixCode != "" {
			content += "\nPIX Copia e Cola: " + outcome.PixCode
		}
		content += "\nInforme ao cliente que o acordo foi registrado com sucesso e apresente o link do boleto e o código PIX Copia e Cola para pagamento."
		o.pushSystem(content)

		result, err := o.callModel(ctx, "")
		if err != nil {
			return Result{}, err
		}

		return Result{
			Reply:           result.Reply,
			Status:          StatusAgreementFormalized,
			DebtorID:        o.selectedCreditor.DebtorID,
			Plan:            plan,
			Periodicity:     o.offerParams.Periodicity,
			EntryOffsetDays: o.offerParams.EntryOffsetDays,
			BoletoURL:       outcome.BoletoURL,
			PixCode:         outcome.PixCode,
		}, nil
	}

	logger.ErrorCF("negotiation", "formalization failed", map[string]any{
		"iddevedor": o.selectedCreditor.DebtorID,
		"message":   outcome.Message,
	})
	o.pushSystem(fmt.Sprintf("Houve um erro ao formalizar o acordo: %s. Informe ao cliente que houve um problema técnico e peça para tentar novamente ou entrar em contato por outro canal.", outcome.Message))

	result, err := o.callModel(ctx, "")
	if err != nil {
		return Result{}, err
	}

	return Result{
		Reply:           result.Reply,
		Status:          StatusFormalizationError,
		DebtorID:        o.selectedCreditor.DebtorID,
		Plan:            plan,
		Periodicity:     o.offerParams.Periodicity,
		EntryOffsetDays: o.offerParams.EntryOffsetDays,
	}, nil
}

func (o *Orchestrator) retrieve(ctx context.Context, query string, limit int) string {
	if o.retriever == nil || !o.retriever.Ready() || query == "" {
		return ""
	}
	results := o.retriever.Search(ctx, query, limit)
	if len(results) == 0 {
		return ""
	}
	return "## Contexto de apoio\n" + strings.Join(results, "\n---\n")
}

func (o *Orchestrator) lastUserMessage() string {
	for i := len(o.history) - 1; i >= 0; i-- {
		if o.history[i].Role == "user" {
			return o.history[i].Content
		}
	}
	return ""
}

func (o *Orchestrator) pushSystem(content string) {
	o.history = append(o.history, providers.Message{Role: "system", Content: content})
}

func (o *Orchestrator) pushUser(content string) {
	o.history = append(o.history, providers.Message{Role: "user", Content: content})
}

func (o *Orchestrator) pushAssistant(content string) {
	o.history = append(o.history, providers.Message{Role: "assistant", Content: content})
}

// mapAPIOffers converts raw offer rows into the internal shape. Rows
// are sorted by plan size; the date list of plan N is built from the
// payment dates of rows 1..N, which is how the creditor system encodes
// the installment schedule.
func mapAPIOffers(apiOffers []cobrance.APIOffer) []engine.Offer {
	if len(apiOffers) == 0 {
		return nil
	}

	sorted := make([]cobrance.APIOffer, len(apiOffers))
	copy(sorted, apiOffers)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Plan < sorted[j].Plan
	})

	offers := make([]engine.Offer, 0, len(sorted))
	for _, row := range sorted {
		var dates []string
		for i := 0; i < row.Plan && i < len(sorted); i++ {
			dates = append(dates, engine.FormatISODate(sorted[i].PaymentDate))
		}

		first := engine.FormatISODate(sorted[0].PaymentDate)
		final := engine.FormatISODate(row.PaymentDate)
		if len(dates) > 0 {
			first = dates[0]
			final = dates[len(dates)-1]
		}

		amount, _ := strconv.ParseFloat(row.InstallmentAmount, 64)
		offers = append(offers, engine.Offer{
			Installments:      row.Plan,
			FirstPaymentDate:  first,
			FinalDueDate:      final,
			InstallmentAmount: strconv.FormatFloat(amount, 'f', 2, 64),
			TotalWithFees:     strconv.FormatFloat(row.TotalWithInterest, 'f', 2, 64),
			InstallmentDates:  dates,
		})
	}
	return offers
}
