package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/crmops/crmctl/internal/config"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "maint",
	Short:   "Show the effective configuration",
	Long: `Show the effective configuration after merging defaults, the config file,
.env and CRMCTL_* environment variables. Secrets are masked.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print every setting as YAML",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		settings := config.Redacted()
		if jsonOutput {
			outputJSON(map[string]interface{}{"file": config.ConfigFileUsed(), "settings": settings})
			return
		}
		if f := config.ConfigFileUsed(); f != "" {
			fmt.Printf("# config file: %s\n", f)
		} else {
			fmt.Println("# no config file found; defaults and environment only")
		}
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(settings); err != nil {
			FatalError("encoding config: %w", err)
			return
		}
		_ = enc.Close()
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one setting",
	Example: `  crmctl config get evolution.instance
  CRMCTL_CRM_URL=https://crm.example.com crmctl config get crm.url`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		key := args[0]
		settings := config.Redacted()
		value, ok := settings[key]
		if !ok {
			FatalErrorWithHint(fmt.Sprintf("unknown key %q", key), "List keys with 'crmctl config show'")
			return
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"key": key, "value": value})
			return
		}
		switch v := value.(type) {
		case []string:
			for _, s := range v {
				fmt.Println(s)
			}
		case []interface{}:
			for _, s := range v {
				fmt.Println(s)
			}
		default:
			fmt.Println(v)
		}
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configGetCmd)
	rootCmd.AddCommand(configCmd)
}
