package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/cobrance/lucia/pkg/config"
	"github.com/cobrance/lucia/pkg/negotiation"
	"github.com/cobrance/lucia/pkg/providers"
)

func runChat(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	provider, err := providers.NewChatCompletions(providers.Config{
		APIKey:      cfg.Provider.APIKey,
		APIBase:     cfg.Provider.APIBase,
		Model:       cfg.Provider.Model,
		Temperature: cfg.Provider.Temperature,
	})
	if err != nil {
		return err
	}

	source := negotiation.NewCalculatorSource(cfg.Negotiation.ToAgreement())
	engine := negotiation.NewOrchestrator(provider, source)

	fmt.Printf("%s Negociação local (calculadora de ofertas)\n", appName)
	fmt.Println("Comandos: /limpar reinicia a conversa, /cadencia mostra a periodicidade, /sair encerra.")
	fmt.Println()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "Você: ",
		HistoryFile:     filepath.Join(os.TempDir(), ".lucia_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "/sair",
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Println("\nAté logo!")
				return nil
			}
			fmt.Printf("Erro ao ler entrada: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		switch input {
		case "/sair":
			fmt.Println("Até logo!")
			return nil
		case "/limpar":
			engine = negotiation.NewOrchestrator(provider, source)
			fmt.Println("✓ Conversa reiniciada.")
			continue
		case "/cadencia":
			snap := engine.Snapshot()
			fmt.Printf("Estado: %s | Cadência: %s\n", engine.State(), snap.Cadence)
			continue
		}

		result, err := engine.ProcessMessage(context.Background(), input)
		if err != nil {
			if errors.Is(err, providers.ErrOverloaded) {
				fmt.Println("\nLucIA: O provedor está sobrecarregado. Tente novamente em instantes.")
				continue
			}
			fmt.Printf("Erro: %v\n", err)
			continue
		}

		fmt.Printf("\nLucIA: %s\n", result.Reply)
		if result.Status == negotiation.StatusAgreementFormalized {
			if result.BoletoURL != "" {
				fmt.Printf("  Boleto: %s\n", result.BoletoURL)
			}
			if result.PixCode != "" {
				fmt.Printf("  PIX: %s\n", result.PixCode)
			}
		}
		fmt.Println()
	}
}
