package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/corvidlabs/msgbridge/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the Messages <-> Responses bridge configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	Long:  `Initialize configuration by prompting for the upstream and account details.`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the current configuration for errors.`,
	RunE:  runConfigValidate,
}

var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate example YAML configuration",
	Long:  `Generate an example YAML configuration file with a sample upstream and account.`,
	RunE:  runConfigGenerate,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configGenerateCmd)

	configGenerateCmd.Flags().BoolP("force", "f", false, "Overwrite existing configuration file")
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	color.Blue("Messages <-> Responses Bridge Configuration Setup")
	color.Yellow("Follow the prompts to configure your upstream Responses API.")

	reader := bufio.NewReader(os.Stdin)

	fmt.Print("\nUpstream base URL (e.g., https://api.example-upstream.test/v1/responses): ")

	baseURL, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("error reading upstream base URL: %w", err)
	}

	baseURL = strings.TrimSpace(baseURL)

	fmt.Print("Upstream token env var (e.g., BRIDGE_UPSTREAM_TOKEN): ")

	tokenEnv, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("error reading token env var: %w", err)
	}

	tokenEnv = strings.TrimSpace(tokenEnv)

	fmt.Print("Downstream model alias (e.g., claude-bridge): ")

	alias, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("error reading model alias: %w", err)
	}

	alias = strings.TrimSpace(alias)
	if alias == "" {
		alias = config.DefaultAlias
	}

	fmt.Print("Bridge API key (optional, for client authentication): ")

	apiKey, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("error reading bridge API key: %w", err)
	}

	apiKey = strings.TrimSpace(apiKey)

	cfg := &config.Config{
		Host:   config.DefaultHost,
		Port:   config.DefaultPort,
		APIKey: apiKey,
		Alias:  alias,
		Upstream: config.UpstreamConfig{
			BaseURL:  baseURL,
			TokenEnv: tokenEnv,
		},
		Adapter: config.AdapterConfig{
			Enabled: true,
			Instructions: config.InstructionsConfig{
				Mode:      "overwrite",
				ApplyWhen: "non_codex",
			},
			StripFields: config.StripFieldsConfig{Enabled: true},
		},
		Accounts: []config.AccountConfig{
			{ID: "default", Type: "api_key", TokenEnv: tokenEnv},
		},
	}

	if err := cfgMgr.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	color.Green("Configuration saved successfully to: %s", cfgMgr.GetPath())
	color.Cyan("You can now start the bridge with: msgbridge start")

	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		color.Yellow("No configuration found. Run 'msgbridge config init' or 'msgbridge config generate' to create one.")
		return nil
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	color.Blue("Current Configuration:")
	fmt.Printf("  %-15s: %s\n", "Host", cfg.Host)
	fmt.Printf("  %-15s: %d\n", "Port", cfg.Port)
	fmt.Printf("  %-15s: %s\n", "Alias", cfg.Alias)
	fmt.Printf("  %-15s: %s\n", "API Key", maskString(cfg.APIKey))
	fmt.Printf("  %-15s: %s\n", "Config Path", cfgMgr.GetPath())

	configType := "JSON"
	if cfgMgr.HasYAML() {
		configType = "YAML"
	}

	fmt.Printf("  %-15s: %s\n", "Format", configType)

	fmt.Println("\nUpstream:")
	fmt.Printf("  %-15s: %s\n", "Base URL", cfg.Upstream.BaseURL)
	fmt.Printf("  %-15s: %s\n", "Token Env", cfg.Upstream.TokenEnv)
	fmt.Printf("  %-15s: %v\n", "OAuth Account", cfg.Upstream.OAuthAccount)

	fmt.Println("\nAdapter:")
	fmt.Printf("  %-15s: %v\n", "Enabled", cfg.Adapter.Enabled)
	fmt.Printf("  %-15s: %s\n", "Mode", cfg.Adapter.Instructions.Mode)
	fmt.Printf("  %-15s: %s\n", "Apply When", cfg.Adapter.Instructions.ApplyWhen)
	fmt.Printf("  %-15s: %v\n", "Strip Fields", cfg.Adapter.StripFields.Enabled)

	fmt.Println("\nAccounts:")

	for _, account := range cfg.Accounts {
		fmt.Printf("  - ID: %s\n", account.ID)
		fmt.Printf("    Type: %s\n", account.Type)
		fmt.Printf("    Token Env: %s\n", account.TokenEnv)

		if account.Proxy != "" {
			fmt.Printf("    Proxy: %s\n", account.Proxy)
		}

		fmt.Println()
	}

	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		return errors.New("no configuration found")
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	var validationErrors []string

	if cfg.Upstream.BaseURL == "" {
		validationErrors = append(validationErrors, "upstream base URL is required")
	}

	if len(cfg.Accounts) == 0 {
		validationErrors = append(validationErrors, "at least one account is required")
	}

	for i, account := range cfg.Accounts {
		if account.TokenEnv == "" {
			validationErrors = append(validationErrors, fmt.Sprintf("account %d: token env var is required", i))
			continue
		}

		if os.Getenv(account.TokenEnv) == "" {
			validationErrors = append(validationErrors, fmt.Sprintf("account %d: env var %s is not set", i, account.TokenEnv))
		}
	}

	switch cfg.Adapter.Instructions.Mode {
	case "", "overwrite", "prepend", "none":
	default:
		validationErrors = append(validationErrors, fmt.Sprintf("adapter.instructions.mode %q is not recognized (falls back to overwrite)", cfg.Adapter.Instructions.Mode))
	}

	if len(validationErrors) > 0 {
		color.Red("Configuration validation failed:")

		for _, msg := range validationErrors {
			fmt.Printf("  - %s\n", msg)
		}

		return errors.New("configuration validation failed")
	}

	color.Green("Configuration is valid!")

	return nil
}

func runConfigGenerate(cmd *cobra.Command, _ []string) error {
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	if cfgMgr.Exists() && !force {
		configType := "JSON"
		if cfgMgr.HasYAML() {
			configType = "YAML"
		}

		color.Yellow("Configuration file already exists (%s format): %s", configType, cfgMgr.GetPath())
		color.Cyan("Use --force to overwrite, or 'msgbridge config show' to view current config")

		return nil
	}

	if err := cfgMgr.CreateExampleYAML(); err != nil {
		return fmt.Errorf("failed to create example configuration: %w", err)
	}

	color.Green("Example YAML configuration created: %s", cfgMgr.GetYAMLPath())
	color.Cyan("\nNext steps:")
	fmt.Println("1. Edit the configuration file to set your upstream base URL and token env var")
	fmt.Println("2. Export the token env var in your shell")
	fmt.Println("3. Run 'msgbridge config validate' to check your configuration")
	fmt.Println("4. Start the bridge with 'msgbridge start'")

	return nil
}

func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}

	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}

	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
