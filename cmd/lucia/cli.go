package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cobrance/lucia/pkg/config"
	"github.com/cobrance/lucia/pkg/logger"
)

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".lucia", "config.json")
}

func executeCLI() error {
	return buildRootCommand().Execute()
}

func buildRootCommand() *cobra.Command {
	var (
		configPath  string
		showVersion bool
		debug       bool
	)

	root := &cobra.Command{
		Use:   "lucia",
		Short: "Assistente virtual de negociação de dívidas da Cobrance",
		Long: strings.TrimSpace(`lucia runs the Cobrance debt-negotiation assistant.

Use the serve command to expose the HTTP gateway (and optionally the
Discord bot), or chat for a local negotiation session backed by the
offer calculator.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug {
				logger.SetLevel(logger.LevelDebug)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to the config file")
	root.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newOnboardCommand(&configPath))
	root.AddCommand(newServeCommand(&configPath))
	root.AddCommand(newChatCommand(&configPath))
	root.AddCommand(newVersionCommand())

	return root
}

func newOnboardCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:     "onboard",
		Short:   "Write a default config file",
		Example: "  lucia onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(*configPath); err == nil {
				return fmt.Errorf("config already exists at %s", *configPath)
			}
			if err := config.SaveConfig(*configPath, config.DefaultConfig()); err != nil {
				return err
			}
			fmt.Printf("✓ Wrote default config to %s\n", *configPath)
			fmt.Println("Set LUCIA_PROVIDER_API_KEY (or edit the file) before running serve or chat.")
			return nil
		},
	}
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway and configured channels",
		Example: strings.Join([]string{
			"  lucia serve",
			"  lucia serve --config ./config.json",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath)
		},
	}
}

func newChatCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Negotiate locally against the offer calculator",
		Long:  "Run an interactive negotiation in the terminal, using the business rules from the config file instead of the Cobrance API.",
		Example: strings.Join([]string{
			"  lucia chat",
			"  lucia chat --debug",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(*configPath)
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show build/version metadata",
		Run: func(cmd *cobra.Command, args []string) {
			printVersion()
		},
	}
}
