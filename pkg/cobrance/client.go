// Package cobrance is the REST client for the Cobrance creditor system:
// debtor lookups, installment offers and agreement registration.
package cobrance

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cobrance/lucia/pkg/logger"
)

// Creditor is one row of the lista-credores lookup: a debtor record held
// by a creditor, keyed by the internal debtor id.
type Creditor struct {
	DebtorID      int     `json:"iddevedor"`
	Document      int64   `json:"cpfcnpj"`
	CreditorName  string  `json:"nome_credor"`
	CompanyName   string  `json:"nome_empresa_devida"`
	TotalOriginal float64 `json:"valor_total_original"`
}

// APIOffer is one installment plan returned by oferta-parcelas.
// InstallmentAmount arrives as a decimal string.
type APIOffer struct {
	Plan              int     `json:"plano_parcela"`
	Periodicity       string  `json:"periodicidade"`
	TotalWithInterest float64 `json:"total_geral_com_juros"`
	InstallmentAmount string  `json:"valor_parcela"`
	PaymentDate       string  `json:"data_pagamento_parcela"`
}

// DebtDetail is one overdue installment of a debtor, as reported by
// dividas-lucia.
type DebtDetail struct {
	DebtorID           int     `json:"iddevedor"`
	ValueID            int     `json:"idvalor"`
	ContractNumber     string  `json:"numero_contrato"`
	DaysOverdue        int     `json:"dias_em_atraso"`
	OriginalDueDate    string  `json:"data_vencimento_original"`
	OriginalAmount     float64 `json:"valor_original"`
	TotalWithInterest  float64 `json:"valor_total_com_juros"`
	OverdueInstallment string  `json:"parcela_atrasada"`
}

// Formalization carries the agreement terms sent to registration.
type Formalization struct {
	DebtorID        int `json:"iddevedor"`
	Plan            int `json:"plano"`
	Periodicity     int `json:"periodicidade"`
	EntryOffsetDays int `json:"diasentrada"`
}

// FormalizationResult is the outcome of an agreement registration,
// including the payment artifacts when the creditor system returned them.
type FormalizationResult struct {
	Success   bool
	Message   string
	BoletoURL string
	PixCode   string
}

// Config mirrors config.CobranceConfig without importing it.
type Config struct {
	BaseURL        string
	Username       string
	Password       string
	InsecureTLS    bool
	TimeoutSeconds int
}

// Client talks to the Cobrance REST API. Lookup methods degrade to empty
// results on failure so a flaky creditor system never kills a
// conversation; registration reports errors explicitly.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
}

func NewClient(cfg Config) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureTLS {
		// The creditor system serves a self-signed certificate.
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		baseURL:  cfg.BaseURL,
		username: cfg.Username,
		password: cfg.Password,
		http:     &http.Client{Timeout: timeout, Transport: transport},
	}
}

// LookupCreditors finds the debtor records for a CPF/CNPJ. Non-digit
// characters are stripped before the call.
func (c *Client) LookupCreditors(ctx context.Context, document string) []Creditor {
	q := url.Values{"documento": {OnlyDigits(document)}}

	var creditors []Creditor
	if err := c.getJSON(ctx, "/lista-credores-lucia", q, &creditors); err != nil {
		logger.ErrorCF("cobrance", "creditor lookup failed", map[string]any{"error": err})
		return nil
	}
	return creditors
}

// LookupDebts returns the overdue installments of a debtor projected at
// refDate (yyyy-mm-dd).
func (c *Client) LookupDebts(ctx context.Context, debtorID int, refDate string) []DebtDetail {
	q := url.Values{
		"iddevedor": {strconv.Itoa(debtorID)},
		"database":  {refDate},
	}

	var debts []DebtDetail
	if err := c.getJSON(ctx, "/credores/dividas-lucia", q, &debts); err != nil {
		logger.ErrorCF("cobrance", "debt lookup failed", map[string]any{"error": err, "iddevedor": debtorID})
		return nil
	}
	return debts
}

// LookupOffers fetches installment plans for a debtor under the given
// terms: maximum plan size, periodicity in days and entry offset in days.
func (c *Client) LookupOffers(ctx context.Context, debtorID, plan, periodicity, entryOffsetDays int) []APIOffer {
	logger.DebugCF("cobrance", "fetching offers", map[string]any{
		"iddevedor":     debtorID,
		"plano":         plan,
		"periodicidade": periodicity,
		"diasentrada":   entryOffsetDays,
	})

	q := url.Values{
		"iddevedor":     {strconv.Itoa(debtorID)},
		"plano":         {strconv.Itoa(plan)},
		"periodicidade": {strconv.Itoa(periodicity)},
		"diasentrada":   {strconv.Itoa(entryOffsetDays)},
	}

	var offers []APIOffer
	if err := c.getJSON(ctx, "/credores/oferta-parcelas-lucia", q, &offers); err != nil {
		logger.ErrorCF("cobrance", "offer lookup failed", map[string]any{"error": err, "iddevedor": debtorID})
		return nil
	}
	return offers
}

// RegisterAgreement formalizes an agreement. The registration is accepted
// only when the response carries at least one of the expected stage
// payloads; an HTTP 2xx with an empty body is still a failure.
func (c *Client) RegisterAgreement(ctx context.Context, f Formalization) FormalizationResult {
	token, err := c.generateToken(ctx)
	if err != nil {
		logger.ErrorCF("cobrance", "token generation failed", map[string]any{"error": err})
		return FormalizationResult{Message: fmt.Sprintf("Erro ao formalizar acordo: %v", err)}
	}

	body, _ := json.Marshal(f)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/registro-master-acordo-v2", bytes.NewReader(body))
	if err != nil {
		return FormalizationResult{Message: fmt.Sprintf("Erro ao formalizar acordo: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return FormalizationResult{Message: fmt.Sprintf("Erro ao formalizar acordo: %v", err)}
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return FormalizationResult{Message: fmt.Sprintf("Erro ao formalizar acordo: %d", resp.StatusCode)}
	}

	var stages struct {
		First *json.RawMessage `json:"primeiraEtapaResponse"`
		Third *struct {
			BoletoURL string `json:"urlBoleto"`
			PixCode   string `json:"pixCopiaECola"`
		} `json:"terceiraEtapaResponse"`
	}
	if err := json.Unmarshal(data, &stages); err != nil || (stages.First == nil && stages.Third == nil) {
		return FormalizationResult{Message: "Acordo não formalizado: resposta sem os dados esperados"}
	}

	result := FormalizationResult{Success: true, Message: "Acordo formalizado com sucesso"}
	if stages.Third != nil {
		result.BoletoURL = stages.Third.BoletoURL
		result.PixCode = stages.Third.PixCode
	}
	return result
}

func (c *Client) generateToken(ctx context.Context) (string, error) {
	if c.username == "" || c.password == "" {
		return "", fmt.Errorf("cobrance credentials not configured")
	}

	body, _ := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/gerar-token", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gerar-token returned %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("gerar-token returned no token")
	}
	return payload.AccessToken, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
