package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harun/menubot/internal/config"
	"github.com/harun/menubot/internal/observability"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Set up the model provider, restaurant and bridge interactively",
	Long: `Walk through the settings a new deployment needs and save them to the
config file. Press enter to keep the value shown in brackets.`,
	RunE: runConfigure,
}

func init() {
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	current, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load current configuration: %w", err)
	}
	before := *current

	updated, err := config.NewWizard(cmd.InOrStdin(), cmd.OutOrStdout()).Run(current)
	if err != nil {
		return fmt.Errorf("configuration failed: %w", err)
	}
	if err := updated.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := loader.Save(updated); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	changed := changedSettings(&before, updated)
	observability.RecordConfigAudit(cmd.Context(), "configure", "cli", map[string]interface{}{
		"path":    loader.GetConfigPath(),
		"changed": changed,
	})

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nConfiguration saved to: %s\n", loader.GetConfigPath())
	if len(changed) > 0 {
		fmt.Fprintf(out, "Changed: %s\n", strings.Join(changed, ", "))
	}
	fmt.Fprintln(out, "Start the assistant with: menubot serve")
	return nil
}

// changedSettings names the wizard-managed keys whose value differs. Secrets
// are reported by name only.
func changedSettings(before, after *config.Config) []string {
	pairs := []struct {
		key      string
		old, new string
	}{
		{"llm.provider", before.LLM.Provider, after.LLM.Provider},
		{"llm.api_key", before.LLM.APIKey, after.LLM.APIKey},
		{"llm.model", before.LLM.Model, after.LLM.Model},
		{"llm.fallback_model", before.LLM.FallbackModel, after.LLM.FallbackModel},
		{"engine.restaurant_name", before.Engine.RestaurantName, after.Engine.RestaurantName},
		{"bridge.enabled", fmt.Sprint(before.Bridge.Enabled), fmt.Sprint(after.Bridge.Enabled)},
		{"bridge.url", before.Bridge.URL, after.Bridge.URL},
		{"logging.level", before.Logging.Level, after.Logging.Level},
	}
	var changed []string
	for _, p := range pairs {
		if p.old != p.new {
			changed = append(changed, p.key)
		}
	}
	return changed
}
