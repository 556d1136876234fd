// Package negotiation holds the conversation engine: a state machine that
// identifies the debtor, fetches installment offers and negotiates an
// agreement through an LLM, plus the intent detectors that drive it.
package negotiation

import (
	"github.com/cobrance/lucia/pkg/cobrance"
	"github.com/cobrance/lucia/pkg/engine"
	"github.com/cobrance/lucia/pkg/providers"
)

// ConversationState is where the conversation currently stands. Values
// are the Portuguese wire names persisted in session snapshots.
type ConversationState string

const (
	StatePresentation      ConversationState = "apresentacao"
	StateConversing        ConversationState = "conversando"
	StateAwaitingDocument  ConversationState = "aguardando_documento"
	StateSelectingCreditor ConversationState = "selecionando_credor"
	StateNegotiating       ConversationState = "negociando"
	StateClosed            ConversationState = "encerrado"
)

// Statuses a turn can report beyond the plain conversation states.
const (
	StatusAgreementAccepted   = "acordo_fechado"
	StatusAgreementFormalized = "acordo_formalizado"
	StatusFormalizationError  = "erro_formalizacao"
)

// OfferParams are the terms the current offer set was fetched under.
type OfferParams struct {
	Plan            int `json:"plano"`
	Periodicity     int `json:"periodicidade"`
	EntryOffsetDays int `json:"diasentrada"`
}

func defaultOfferParams() OfferParams {
	return OfferParams{Plan: 10, Periodicity: 30, EntryOffsetDays: 0}
}

// Snapshot is the serializable state of a conversation, persisted
// between turns by the session store.
type Snapshot struct {
	History          []providers.Message `json:"chat_history,omitempty"`
	Cadence          engine.Cadence      `json:"cadencia,omitempty"`
	State            ConversationState   `json:"estado,omitempty"`
	GreetingSent     bool                `json:"apresentacao_enviada,omitempty"`
	Creditors        []cobrance.Creditor `json:"credores,omitempty"`
	SelectedCreditor *cobrance.Creditor  `json:"credor_selecionado,omitempty"`
	APIOffers        []cobrance.APIOffer `json:"ofertas_api,omitempty"`
	MonthlyAPIOffers []cobrance.APIOffer `json:"ofertas_api_mensais,omitempty"`
	WeeklyAPIOffers  []cobrance.APIOffer `json:"ofertas_api_semanais,omitempty"`
	OfferParams      *OfferParams        `json:"parametros_oferta,omitempty"`
}

// Result is the outcome of one processed turn. Agreement terms and
// payment artifacts are filled once a negotiation is underway.
type Result struct {
	Reply           string `json:"resposta"`
	Status          string `json:"status"`
	DebtorID        int    `json:"iddevedor,omitempty"`
	Plan            int    `json:"plano,omitempty"`
	Periodicity     int    `json:"periodicidade,omitempty"`
	EntryOffsetDays int    `json:"diasentrada,omitempty"`
	BoletoURL       string `json:"urlBoleto,omitempty"`
	PixCode         string `json:"pixCopiaECola,omitempty"`
}
