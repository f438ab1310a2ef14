// Package cmd implements the agentrelayd CLI: bare invocation starts the
// gateway, with subcommands for version info, environment diagnostics,
// database migration, and device-pairing administration.
//
// Grounded on the teacher's cmd/root.go Cobra tree shape (persistent
// --config/--verbose flags, one subcommand func per file), trimmed down
// from the teacher's channel/agent/provider CLI surface to the gateway's
// own (SPEC_FULL.md §6).
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentrelay/gateway/pkg/protocol"
)

// Version is set at build time via -ldflags "-X .../cmd.Version=v1.0.0".
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "agentrelayd",
	Short: "agentrelayd — remote control plane for a local coding agent",
	Long: "agentrelayd turns a developer workstation into a remote-controllable coding-agent " +
		"host: it runs one or more agent backend subprocesses, enforces a layered tool-use " +
		"policy, and exposes sessions to phone/tablet clients over an authenticated WebSocket.",
	Run: func(cmd *cobra.Command, args []string) {
		runGateway()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json or $AGENTRELAY_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(pairingCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agentrelayd %s (protocol %d)\n", Version, protocol.ProtocolVersion)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("AGENTRELAY_CONFIG"); v != "" {
		return v
	}
	return "config.json"
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
