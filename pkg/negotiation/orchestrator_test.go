package negotiation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cobrance/lucia/pkg/cobrance"
	"github.com/cobrance/lucia/pkg/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	replies []string
	err     error
	calls   int
	last    []providers.Message
}

func (p *scriptedProvider) Complete(ctx context.Context, messages []providers.Message) (string, error) {
	p.calls++
	p.last = messages
	if p.err != nil {
		return "", p.err
	}
	if len(p.replies) == 0 {
		return "ok", nil
	}
	reply := p.replies[0]
	p.replies = p.replies[1:]
	return reply, nil
}

type fakeSource struct {
	creditors     []cobrance.Creditor
	monthly       []cobrance.APIOffer
	weekly        []cobrance.APIOffer
	custom        []cobrance.APIOffer
	debts         []cobrance.DebtDetail
	formalization cobrance.FormalizationResult

	offerCalls     int
	lastOfferQuery [4]int
	registerCalls  int
	formalized     *cobrance.Formalization
}

func (s *fakeSource) LookupCreditors(ctx context.Context, document string) []cobrance.Creditor {
	return s.creditors
}

func (s *fakeSource) LookupDebts(ctx context.Context, debtorID int, refDate string) []cobrance.DebtDetail {
	return s.debts
}

func (s *fakeSource) LookupOffers(ctx context.Context, debtorID, plan, periodicity, entryDays int) []cobrance.APIOffer {
	s.offerCalls++
	s.lastOfferQuery = [4]int{debtorID, plan, periodicity, entryDays}
	if entryDays == 0 {
		switch periodicity {
		case 30:
			return s.monthly
		case 7:
			return s.weekly
		}
	}
	return s.custom
}

func (s *fakeSource) RegisterAgreement(ctx context.Context, f cobrance.Formalization) cobrance.FormalizationResult {
	s.registerCalls++
	s.formalized = &f
	return s.formalization
}

var testNow = time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

func standardSource() *fakeSource {
	return &fakeSource{
		creditors: []cobrance.Creditor{
			{DebtorID: 42, CreditorName: "Maria", CompanyName: "Loja X", TotalOriginal: 500},
		},
		monthly: []cobrance.APIOffer{
			{Plan: 1, Periodicity: "30", TotalWithInterest: 550.75, InstallmentAmount: "550.75", PaymentDate: "2025-06-16"},
			{Plan: 2, Periodicity: "30", TotalWithInterest: 570.00, InstallmentAmount: "285.00", PaymentDate: "2025-07-16"},
			{Plan: 3, Periodicity: "30", TotalWithInterest: 585.00, InstallmentAmount: "195.00", PaymentDate: "2025-08-18"},
		},
		weekly: []cobrance.APIOffer{
			{Plan: 5, Periodicity: "7", TotalWithInterest: 947.50, InstallmentAmount: "189.50", PaymentDate: "2025-07-08"},
			{Plan: 7, Periodicity: "7", TotalWithInterest: 979.02, InstallmentAmount: "139.86", PaymentDate: "2025-07-22"},
		},
		debts: []cobrance.DebtDetail{
			{DebtorID: 42, ContractNumber: "C-1", DaysOverdue: 90, OriginalDueDate: "2025-03-10", OriginalAmount: 500, TotalWithInterest: 550.75, OverdueInstallment: "1/1"},
		},
		formalization: cobrance.FormalizationResult{Success: true, Message: "Acordo formalizado com sucesso", BoletoURL: "https://boleto/x", PixCode: "pix-code"},
	}
}

func newTestOrchestrator(provider providers.Provider, source OfferSource) *Orchestrator {
	o := NewOrchestrator(provider, source)
	o.now = func() time.Time { return testNow }
	return o
}

// Drives a fresh orchestrator straight into negotiation by sending a
// document as the first message.
func startNegotiated(t *testing.T, provider *scriptedProvider, source *fakeSource) *Orchestrator {
	t.Helper()
	o := newTestOrchestrator(provider, source)
	result, err := o.ProcessMessage(context.Background(), "12345678901")
	require.NoError(t, err)
	require.Equal(t, string(StateNegotiating), result.Status)
	require.Equal(t, StateNegotiating, o.State())
	return o
}

func TestFirstContactGreetsAndConverses(t *testing.T) {
	provider := &scriptedProvider{replies: []string{"Que bom falar com você!"}}
	o := newTestOrchestrator(provider, standardSource())

	result, err := o.ProcessMessage(context.Background(), "oi, tudo bem?")
	require.NoError(t, err)
	assert.Equal(t, string(StateConversing), result.Status)
	assert.Equal(t, "Que bom falar com você!", result.Reply)

	require.NotEmpty(t, o.history)
	assert.Equal(t, "assistant", o.history[0].Role)
	assert.Equal(t, Greeting, o.history[0].Content, "greeting is recorded so the model never reintroduces itself")
}

func TestHelpIntentAsksForDocument(t *testing.T) {
	provider := &scriptedProvider{replies: []string{"Claro! Me informe seu CPF ou CNPJ."}}
	o := newTestOrchestrator(provider, standardSource())

	result, err := o.ProcessMessage(context.Background(), "quero negociar uma pendência")
	require.NoError(t, err)
	assert.Equal(t, string(StateAwaitingDocument), result.Status)
	assert.Equal(t, StateAwaitingDocument, o.State())
}

func TestInvalidDocumentReprompts(t *testing.T) {
	o := newTestOrchestrator(&scriptedProvider{}, standardSource())
	o.state = StateAwaitingDocument
	o.greetingSent = true

	result, err := o.ProcessMessage(context.Background(), "12345")
	require.NoError(t, err)
	assert.Equal(t, invalidDocumentReply, result.Reply)
	assert.Equal(t, string(StateAwaitingDocument), result.Status)
}

func TestDocumentWithoutDebtsIsGoodNews(t *testing.T) {
	source := standardSource()
	source.creditors = nil
	o := newTestOrchestrator(&scriptedProvider{}, source)
	o.state = StateAwaitingDocument
	o.greetingSent = true

	result, err := o.ProcessMessage(context.Background(), "12345678901")
	require.NoError(t, err)
	assert.Equal(t, noDebtsReply, result.Reply)
	assert.Equal(t, StateConversing, o.State())
}

func TestSingleCreditorStartsNegotiation(t *testing.T) {
	provider := &scriptedProvider{replies: []string{"Olá Maria! À vista fica R$ 550.75."}}
	source := standardSource()
	o := startNegotiated(t, provider, source)

	assert.Equal(t, 2, source.offerCalls, "monthly and weekly sets are fetched up front")
	assert.Equal(t, 42, o.selectedCreditor.DebtorID)
	require.Len(t, o.offers, 3)

	// The negotiation prompt carries the offers and the debt details.
	var systemPrompt string
	for _, m := range o.history {
		if m.Role == "system" {
			systemPrompt = m.Content
			break
		}
	}
	assert.Contains(t, systemPrompt, "Ofertas Disponíveis")
	assert.Contains(t, systemPrompt, "1x de R$ 550.75")
	assert.Contains(t, systemPrompt, "Dias em atraso: 90")
}

func TestMultipleCreditorsSelection(t *testing.T) {
	provider := &scriptedProvider{replies: []string{"Olá! À vista fica R$ 550.75."}}
	source := standardSource()
	source.creditors = append(source.creditors, cobrance.Creditor{
		DebtorID: 77, CreditorName: "Maria", CompanyName: "Banco Y", TotalOriginal: 900,
	})
	o := newTestOrchestrator(provider, source)

	result, err := o.ProcessMessage(context.Background(), "12345678901")
	require.NoError(t, err)
	assert.Equal(t, string(StateSelectingCreditor), result.Status)
	assert.Contains(t, result.Reply, "1. Loja X")
	assert.Contains(t, result.Reply, "2. Banco Y")

	// Out of range keeps asking.
	result, err = o.ProcessMessage(context.Background(), "9")
	require.NoError(t, err)
	assert.Equal(t, string(StateSelectingCreditor), result.Status)
	assert.Contains(t, result.Reply, "de 1 a 2")

	result, err = o.ProcessMessage(context.Background(), "2")
	require.NoError(t, err)
	assert.Equal(t, string(StateNegotiating), result.Status)
	assert.Equal(t, 77, o.selectedCreditor.DebtorID)
}

func TestNoOffersAvailable(t *testing.T) {
	source := standardSource()
	source.monthly = nil
	o := newTestOrchestrator(&scriptedProvider{}, source)

	result, err := o.ProcessMessage(context.Background(), "12345678901")
	require.NoError(t, err)
	assert.Equal(t, noOffersReply, result.Reply)
	assert.Equal(t, StateConversing, o.State())
}

func TestAcceptanceFormalizesAgreement(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		"Olá Maria! Temos a opção de 3x de R$ 195.00, topa?",
		"Obrigado! Estou formalizando seu acordo.",
		"Acordo registrado! Segue o boleto.",
	}}
	source := standardSource()
	o := startNegotiated(t, provider, source)

	result, err := o.ProcessMessage(context.Background(), "aceito")
	require.NoError(t, err)

	assert.Equal(t, StatusAgreementFormalized, result.Status)
	assert.Equal(t, "Acordo registrado! Segue o boleto.", result.Reply)
	assert.Equal(t, "https://boleto/x", result.BoletoURL)
	assert.Equal(t, "pix-code", result.PixCode)
	assert.Equal(t, 42, result.DebtorID)
	assert.Equal(t, 3, result.Plan, "plan is read off the assistant's last proposal")
	assert.Equal(t, StateClosed, o.State())

	require.NotNil(t, source.formalized)
	assert.Equal(t, 3, source.formalized.Plan)
	assert.Equal(t, 30, source.formalized.Periodicity)
}

func TestModelClosingPhraseAlsoFormalizes(t *testing.T) {
	// The model can close on its own; the user message itself carries
	// no acceptance keyword.
	provider := &scriptedProvider{replies: []string{
		"Olá Maria! Temos 1x de R$ 550.75.",
		"Perfeito. Obrigado! Estou formalizando seu acordo.",
		"Tudo certo, acordo registrado.",
	}}
	source := standardSource()
	o := startNegotiated(t, provider, source)

	result, err := o.ProcessMessage(context.Background(), "então vamos nessa")
	require.NoError(t, err)
	assert.Equal(t, StatusAgreementFormalized, result.Status)
}

func TestFormalizationFailureClosesSession(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		"Olá Maria! Temos 3x de R$ 195.00.",
		"Obrigado! Estou formalizando seu acordo.",
		"Tivemos um problema técnico, tente por outro canal.",
	}}
	source := standardSource()
	source.formalization = cobrance.FormalizationResult{Success: false, Message: "Erro ao formalizar acordo: 500"}
	o := startNegotiated(t, provider, source)

	result, err := o.ProcessMessage(context.Background(), "aceito")
	require.NoError(t, err)
	assert.Equal(t, StatusFormalizationError, result.Status)
	assert.Equal(t, StateClosed, o.State(), "the handoff ends the session even when registration fails")
	assert.Equal(t, 1, source.registerCalls)
}

func TestFailedFormalizationIsNotRetriggered(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		"Olá Maria! Temos 3x de R$ 195.00.",
		"Obrigado! Estou formalizando seu acordo.",
		"Tivemos um problema técnico, tente por outro canal.",
		"O atendimento foi encerrado, mas posso orientar você.",
	}}
	source := standardSource()
	source.formalization = cobrance.FormalizationResult{Success: false, Message: "Erro ao formalizar acordo: 500"}
	o := startNegotiated(t, provider, source)

	_, err := o.ProcessMessage(context.Background(), "aceito")
	require.NoError(t, err)
	require.Equal(t, StateClosed, o.State())

	// Accepting again after the handoff is answered generically, not
	// registered a second time.
	result, err := o.ProcessMessage(context.Background(), "aceito")
	require.NoError(t, err)
	assert.Equal(t, "O atendimento foi encerrado, mas posso orientar você.", result.Reply)
	assert.Equal(t, 1, source.registerCalls)
	assert.Equal(t, StateClosed, o.State())
}

func TestOverloadErrorPropagates(t *testing.T) {
	provider := &scriptedProvider{err: fmt.Errorf("%w: status=429", providers.ErrOverloaded)}
	o := newTestOrchestrator(provider, standardSource())

	_, err := o.ProcessMessage(context.Background(), "oi")
	assert.True(t, errors.Is(err, providers.ErrOverloaded))
}

func TestProviderFailureFallsBack(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("connection refused")}
	o := newTestOrchestrator(provider, standardSource())

	result, err := o.ProcessMessage(context.Background(), "oi")
	require.NoError(t, err)
	assert.Equal(t, conversingFallback, result.Reply)
}

func TestPeriodicitySwitchUsesCache(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		"Olá Maria! À vista fica R$ 550.75.",
		"Claro, no semanal fica em 7x de R$ 139.86.",
	}}
	source := standardSource()
	o := startNegotiated(t, provider, source)
	require.Equal(t, 2, source.offerCalls)

	result, err := o.ProcessMessage(context.Background(), "prefiro semanal")
	require.NoError(t, err)
	assert.Equal(t, string(StateNegotiating), result.Status)
	assert.Equal(t, 2, source.offerCalls, "weekly set comes from the cache, no refetch")
	assert.Equal(t, 7, o.offerParams.Periodicity)
	require.NotEmpty(t, o.offers)
	assert.Equal(t, 5, o.offers[0].Installments)
}

func TestEntryChangeAlwaysRefetches(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		"Olá Maria! À vista fica R$ 550.75.",
		"Consigo sim ajustar a entrada.",
	}}
	source := standardSource()
	source.custom = []cobrance.APIOffer{
		{Plan: 1, Periodicity: "30", TotalWithInterest: 560.00, InstallmentAmount: "560.00", PaymentDate: "2025-06-25"},
	}
	o := startNegotiated(t, provider, source)

	_, err := o.ProcessMessage(context.Background(), "primeira parcela daqui 10 dias")
	require.NoError(t, err)
	assert.Equal(t, 3, source.offerCalls)
	assert.Equal(t, [4]int{42, 10, 30, 10}, source.lastOfferQuery)
	assert.Equal(t, 10, o.offerParams.EntryOffsetDays)
}

func TestDebtInquiryRefetchesDetails(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		"Olá Maria! À vista fica R$ 550.75.",
		"Você tem 1 contrato com 90 dias em atraso.",
	}}
	source := standardSource()
	o := startNegotiated(t, provider, source)

	result, err := o.ProcessMessage(context.Background(), "quanto devo?")
	require.NoError(t, err)
	assert.Equal(t, "Você tem 1 contrato com 90 dias em atraso.", result.Reply)

	last := o.history[len(o.history)-2]
	assert.Equal(t, "system", last.Role)
	assert.Contains(t, last.Content, "DIAS EM ATRASO")
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	provider := &scriptedProvider{replies: []string{"Olá Maria! À vista fica R$ 550.75."}}
	source := standardSource()
	o := startNegotiated(t, provider, source)

	snap := o.Snapshot()

	restored := newTestOrchestrator(provider, source)
	restored.Restore(snap)

	assert.Equal(t, StateNegotiating, restored.State())
	assert.Equal(t, o.history, restored.history)
	require.NotNil(t, restored.selectedCreditor)
	assert.Equal(t, 42, restored.selectedCreditor.DebtorID)
	assert.Len(t, restored.offers, 3, "mapped offers are rederived from the raw rows")
	assert.Len(t, restored.weeklyOffers, 2)
	assert.Equal(t, o.offerParams, restored.offerParams)
}

func TestClosedStateStillAnswers(t *testing.T) {
	provider := &scriptedProvider{replies: []string{"O acordo já está registrado, fique tranquilo."}}
	o := newTestOrchestrator(provider, standardSource())
	o.state = StateClosed
	o.greetingSent = true

	result, err := o.ProcessMessage(context.Background(), "e agora?")
	require.NoError(t, err)
	assert.Equal(t, "O acordo já está registrado, fique tranquilo.", result.Reply)
	assert.Equal(t, StateClosed, o.State())
}

func TestMapAPIOffersBuildsCumulativeDates(t *testing.T) {
	rows := []cobrance.APIOffer{
		{Plan: 3, TotalWithInterest: 585, InstallmentAmount: "195.00", PaymentDate: "2025-08-18"},
		{Plan: 1, TotalWithInterest: 550.75, InstallmentAmount: "550.75", PaymentDate: "2025-06-16"},
		{Plan: 2, TotalWithInterest: 570, InstallmentAmount: "285.00", PaymentDate: "2025-07-16"},
	}

	offers := mapAPIOffers(rows)
	require.Len(t, offers, 3)

	assert.Equal(t, 1, offers[0].Installments, "rows are sorted by plan")
	assert.Equal(t, []string{"16/06/2025"}, offers[0].InstallmentDates)
	assert.Equal(t, []string{"16/06/2025", "16/07/2025", "18/08/2025"}, offers[2].InstallmentDates)
	assert.Equal(t, "16/06/2025", offers[2].FirstPaymentDate)
	assert.Equal(t, "18/08/2025", offers[2].FinalDueDate)
}
