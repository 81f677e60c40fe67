package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crmops/crmctl/internal/config"
	"github.com/crmops/crmctl/internal/debug"
	"github.com/crmops/crmctl/internal/telemetry"
)

var (
	configFile  string
	jsonOutput  bool
	verboseFlag bool // Enable verbose/debug output
	quietFlag   bool // Suppress non-essential output
	yesFlag     bool // Skip confirmation prompts

	// Signal-aware context for graceful cancellation
	rootCtx    context.Context
	rootCancel context.CancelFunc

	// commandRun is the instrumented invocation, ended by finishCommand.
	commandRun *telemetry.CommandRun
)

func init() {
	rootCmd.AddGroup(&cobra.Group{ID: "diag", Title: "Diagnostics:"})
	rootCmd.AddGroup(&cobra.Group{ID: "data", Title: "Data:"})
	rootCmd.AddGroup(&cobra.Group{ID: "integrations", Title: "Integrations:"})
	rootCmd.AddGroup(&cobra.Group{ID: "maint", Title: "Maintenance:"})

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: .crmctl/config.yaml, then ~/.config/crmctl/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output (errors only)")
	rootCmd.PersistentFlags().BoolVarP(&yesFlag, "yes", "y", false, "Answer yes to confirmation prompts")
	rootCmd.Flags().Bool("version", false, "Print version information")
}

var rootCmd = &cobra.Command{
	Use:   "crmctl",
	Short: "crmctl - operator toolkit for the WhatsApp CRM",
	Long: `crmctl checks and repairs the CRM's Firestore data, the Evo AI agent database,
the Evolution WhatsApp gateway and the outbound RabbitMQ queue.

Commands that write default to a dry run; pass --apply to make changes.`,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("crmctl version %s (%s)\n", Version, Build)
			return
		}
		_ = cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupSignalContext()
		if err := config.InitializeWithFile(configFile); err != nil {
			FatalErrorWithHint(err.Error(), "Check --config or remove the broken file")
		}
		applyViperOverrides(cmd)
		debug.SetVerbose(verboseFlag)
		debug.SetQuiet(quietFlag)
		if err := telemetry.Init(rootCtx, "crmctl", Version, deployment()); err != nil {
			WarnError("telemetry disabled: %v", err)
		}
		rootCtx, commandRun = telemetry.StartCommand(rootCtx, cmd.CommandPath(), applyRequested(cmd))
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeClients()
		finishCommand(nil)
		debug.Sync()
		if rootCancel != nil {
			rootCancel()
		}
	},
}

// deployment names the systems this run is configured against.
func deployment() telemetry.Deployment {
	return telemetry.Deployment{
		FirebaseProject:   config.GetString(config.KeyFirebaseProjectID),
		EvolutionInstance: config.GetString(config.KeyEvolutionInstance),
		OutboundQueue:     config.GetString(config.KeyRabbitOutboundQueue),
	}
}

// applyRequested reports whether the command was given --apply.
func applyRequested(cmd *cobra.Command) bool {
	v, err := cmd.Flags().GetBool("apply")
	return err == nil && v
}

// finishCommand records the outcome of the running command and flushes
// telemetry. Later calls only flush.
func finishCommand(err error) {
	commandRun.End(err)
	commandRun = nil
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	telemetry.Shutdown(shutdownCtx)
	cancel()
}

func setupSignalContext() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// applyViperOverrides lets config (and CRMCTL_JSON etc.) turn on the global
// flags when they were not given explicitly.
func applyViperOverrides(cmd *cobra.Command) {
	flags := cmd.Flags()
	if !flags.Changed("json") {
		jsonOutput = config.GetBool(config.KeyJSON)
	}
	if !flags.Changed("verbose") {
		verboseFlag = config.GetBool(config.KeyVerbose)
	}
	if !flags.Changed("quiet") {
		quietFlag = config.GetBool(config.KeyQuiet)
	}
}

// getRootContext returns the signal-aware context, or a background context
// when a command runs without the root pre-run (tests).
func getRootContext() context.Context {
	if rootCtx == nil {
		return context.Background()
	}
	return rootCtx
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
