package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/cobrance/lucia/pkg/engine"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Provider    ProviderConfig    `json:"provider"`
	Cobrance    CobranceConfig    `json:"cobrance"`
	Gateway     GatewayConfig     `json:"gateway"`
	Batching    BatchingConfig    `json:"batching"`
	Sessions    SessionsConfig    `json:"sessions"`
	Channels    ChannelsConfig    `json:"channels"`
	Negotiation NegotiationConfig `json:"negotiation"`
}

// ProviderConfig points at an OpenAI-compatible chat-completions endpoint.
type ProviderConfig struct {
	APIKey      string  `json:"api_key" env:"LUCIA_PROVIDER_API_KEY"`
	APIBase     string  `json:"api_base" env:"LUCIA_PROVIDER_API_BASE"`
	Model       string  `json:"model" env:"LUCIA_PROVIDER_MODEL"`
	Temperature float64 `json:"temperature" env:"LUCIA_PROVIDER_TEMPERATURE"`
}

// CobranceConfig configures the creditor-system REST API.
type CobranceConfig struct {
	BaseURL        string `json:"base_url" env:"LUCIA_COBRANCE_BASE_URL"`
	Username       string `json:"username" env:"LUCIA_COBRANCE_USERNAME"`
	Password       string `json:"password" env:"LUCIA_COBRANCE_PASSWORD"`
	InsecureTLS    bool   `json:"insecure_tls" env:"LUCIA_COBRANCE_INSECURE_TLS"`
	TimeoutSeconds int    `json:"timeout_seconds" env:"LUCIA_COBRANCE_TIMEOUT_SECONDS"`
}

type GatewayConfig struct {
	Host              string `json:"host" env:"LUCIA_GATEWAY_HOST"`
	Port              int    `json:"port" env:"LUCIA_GATEWAY_PORT"`
	SessionTTLHours   int    `json:"session_ttl_hours" env:"LUCIA_GATEWAY_SESSION_TTL_HOURS"`
	CleanupSchedule   string `json:"cleanup_schedule" env:"LUCIA_GATEWAY_CLEANUP_SCHEDULE"`
	RateLimitRequests int    `json:"rate_limit_requests" env:"LUCIA_GATEWAY_RATE_LIMIT_REQUESTS"`
	RateLimitSeconds  int    `json:"rate_limit_seconds" env:"LUCIA_GATEWAY_RATE_LIMIT_SECONDS"`
}

type BatchingConfig struct {
	WindowMS int `json:"window_ms" env:"LUCIA_BATCHING_WINDOW_MS"`
	MaxSize  int `json:"max_size" env:"LUCIA_BATCHING_MAX_SIZE"`
}

// SessionsConfig selects where conversation snapshots are persisted
// between turns.
type SessionsConfig struct {
	Backend    string `json:"backend" env:"LUCIA_SESSIONS_BACKEND"` // memory | sqlite | redis
	SQLitePath string `json:"sqlite_path" env:"LUCIA_SESSIONS_SQLITE_PATH"`
	RedisAddr  string `json:"redis_addr" env:"LUCIA_SESSIONS_REDIS_ADDR"`
}

type ChannelsConfig struct {
	Discord DiscordConfig `json:"discord"`
}

type DiscordConfig struct {
	Token     string              `json:"token" env:"LUCIA_CHANNELS_DISCORD_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"LUCIA_CHANNELS_DISCORD_ALLOW_FROM"`
}

// NegotiationConfig carries the business rules used by the local offer
// calculator. The shape mirrors the creditor-system export: single-element
// parameter and fee arrays by convention.
type NegotiationConfig struct {
	Debts      []DebtConfig       `json:"dividas"`
	Parameters []ParametersConfig `json:"parametros"`
	Fees       []FeeConfig        `json:"ofertas"`
}

type DebtConfig struct {
	DueDate string  `json:"vencimento"`
	Amount  float64 `json:"valor"`
}

type ParametersConfig struct {
	MonthlyInterestPct float64 `json:"juros"`
	PenaltyPct         float64 `json:"multa"`
	FeePct             float64 `json:"honorarios"`
	MaxInstallments    int     `json:"plano_maximo"`
	MaxDueDate         string  `json:"vencimento_maximo"`
	EntryOffsetDays    int     `json:"dias_entrada"`
	MaxEntryDate       string  `json:"data_entrada_maxima"`
}

type FeeConfig struct {
	BoletoFee float64 `json:"tarifa_boleto"`
}

// ToAgreement converts the configured business rules into the
// calculator's input shape.
func (c NegotiationConfig) ToAgreement() engine.AgreementConfig {
	out := engine.AgreementConfig{
		Debts:      make([]engine.Debt, 0, len(c.Debts)),
		Parameters: make([]engine.Parameters, 0, len(c.Parameters)),
		Fees:       make([]engine.BoletoFee, 0, len(c.Fees)),
	}
	for _, d := range c.Debts {
		out.Debts = append(out.Debts, engine.Debt{DueDate: d.DueDate, Amount: d.Amount})
	}
	for _, p := range c.Parameters {
		out.Parameters = append(out.Parameters, engine.Parameters{
			MonthlyInterestPct: p.MonthlyInterestPct,
			PenaltyPct:         p.PenaltyPct,
			FeePct:             p.FeePct,
			MaxInstallments:    p.MaxInstallments,
			MaxDueDate:         p.MaxDueDate,
			EntryOffsetDays:    p.EntryOffsetDays,
			MaxEntryDate:       p.MaxEntryDate,
		})
	}
	for _, f := range c.Fees {
		out.Fees = append(out.Fees, engine.BoletoFee{Amount: f.BoletoFee})
	}
	return out
}

func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			APIBase:     "https://generativelanguage.googleapis.com/v1beta/openai",
			Model:       "gemini-2.5-flash-lite",
			Temperature: 0.7,
		},
		Cobrance: CobranceConfig{
			BaseURL:        "https://api.cobrance.online:3030",
			InsecureTLS:    true,
			TimeoutSeconds: 10,
		},
		Gateway: GatewayConfig{
			Host:              "0.0.0.0",
			Port:              3001,
			SessionTTLHours:   24,
			CleanupSchedule:   "*/10 * * * *",
			RateLimitRequests: 30,
			RateLimitSeconds:  60,
		},
		Batching: BatchingConfig{
			WindowMS: 5000,
			MaxSize:  20,
		},
		Sessions: SessionsConfig{
			Backend:    "memory",
			SQLitePath: "~/.lucia/sessions.db",
			RedisAddr:  "localhost:6379",
		},
		Channels: ChannelsConfig{
			Discord: DiscordConfig{
				Token:     "",
				AllowFrom: FlexibleStringSlice{},
			},
		},
		Negotiation: NegotiationConfig{
			Debts: []DebtConfig{
				{DueDate: "2024-05-01", Amount: 100},
				{DueDate: "2024-06-01", Amount: 100},
				{DueDate: "2024-07-01", Amount: 100},
				{DueDate: "2024-08-01", Amount: 100},
				{DueDate: "2024-09-01", Amount: 100},
			},
			Parameters: []ParametersConfig{
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
			Fees: []FeeConfig{
				{BoletoFee: 11.90},
			},
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// SQLitePathExpanded resolves a leading ~ in the sqlite path.
func (c *Config) SQLitePathExpanded() string {
	return expandHome(c.Sessions.SQLitePath)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
