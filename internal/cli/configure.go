package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/koromind/koro/internal/config"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Run the interactive configuration wizard",
	Long: `Run an interactive wizard to set up koro.
The wizard collects the Telegram bot token, model provider
credentials, and optional voice settings.`,
	RunE: runConfigure,
}

func init() {
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewWizard().Run()
	if err != nil {
		return fmt.Errorf("configuration failed: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	loader := config.NewLoader(cfgFile)
	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Println("\nConfiguration saved.")
	fmt.Println("You can now start koro with: koro start")
	return nil
}
