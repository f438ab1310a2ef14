package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/agentrelay/gateway/internal/config"
	"github.com/agentrelay/gateway/internal/store/pg"
	"github.com/agentrelay/gateway/pkg/protocol"
)

// doctorCmd prints an environment/configuration health report, grounded
// on the teacher's cmd/doctor.go (config-then-database-then-providers
// report shape), trimmed to what this gateway actually depends on.
func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("agentrelayd doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND — using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Gateway:")
	fmt.Printf("    %-16s %s:%d\n", "Listen:", cfg.Gateway.Host, cfg.Gateway.Port)
	if cfg.Gateway.Token == "" {
		fmt.Printf("    %-16s NOT SET (loopback-only bind enforced)\n", "Token:")
	} else {
		fmt.Printf("    %-16s set\n", "Token:")
	}
	fmt.Printf("    %-16s %d configured\n", "CIDR allowlist:", len(cfg.Gateway.AllowedCIDRs))

	fmt.Println()
	fmt.Println("  Agent backend:")
	if path, err := exec.LookPath(cfg.AgentExecutable); err != nil {
		fmt.Printf("    %-16s %s (NOT FOUND on PATH)\n", "Executable:", cfg.AgentExecutable)
	} else {
		fmt.Printf("    %-16s %s\n", "Executable:", path)
	}

	fmt.Println()
	fmt.Println("  Database:")
	if cfg.IsFleetMode() {
		fmt.Printf("    %-16s fleet\n", "Mode:")
		pool, err := pg.Connect(context.Background(), cfg.Database.PostgresDSN)
		if err != nil {
			fmt.Printf("    %-16s CONNECT FAILED (%s)\n", "Status:", err)
		} else {
			fmt.Printf("    %-16s connected\n", "Status:")
			pool.Close()
		}
	} else {
		fmt.Printf("    %-16s standalone (file-backed stores)\n", "Mode:")
		fmt.Printf("    %-16s %s\n", "Sessions dir:", cfg.Sessions.StorageDir)
		fmt.Printf("    %-16s %s\n", "Rules path:", cfg.Policy.RulesPath)
		fmt.Printf("    %-16s %s\n", "Pairing store:", cfg.Pairing.StoragePath)
	}

	fmt.Println()
	fmt.Println("  Telemetry:")
	if cfg.Telemetry.Enabled {
		fmt.Printf("    %-16s %s (%s)\n", "Exporter:", cfg.Telemetry.Endpoint, cfg.Telemetry.Protocol)
	} else {
		fmt.Printf("    %-16s disabled\n", "Exporter:")
	}

	fmt.Println()
	fmt.Println("  Tailscale:")
	if cfg.Tailscale.Enabled {
		fmt.Printf("    %-16s %s\n", "Hostname:", cfg.Tailscale.Hostname)
	} else {
		fmt.Printf("    %-16s disabled\n", "tsnet:")
	}
}
