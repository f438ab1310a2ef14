package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentrelay/gateway/internal/config"
	"github.com/agentrelay/gateway/internal/pairing"
	"github.com/agentrelay/gateway/internal/store/pg"
)

// pairingCmd groups device-pairing administration: issuing a one-time
// code out of band, listing paired devices, and revoking one. Grounded
// on the teacher's cmd/ subcommand-grouping pattern (one parent command,
// one func per subcommand) — the teacher has no pairing concept of its
// own, so this whole file is new, built in that shape.
func pairingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairing",
		Short: "Manage paired phone/tablet devices",
	}
	cmd.AddCommand(pairingGenerateCmd())
	cmd.AddCommand(pairingListCmd())
	cmd.AddCommand(pairingRevokeCmd())
	return cmd
}

func openPairingStore(cfg *config.Config) (pairing.Store, error) {
	if cfg.IsFleetMode() {
		pool, err := pg.Connect(context.Background(), cfg.Database.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return pairing.NewPGStore(pool), nil
	}
	store, err := pairing.NewSQLiteStore(cfg.Pairing.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open pairing store: %w", err)
	}
	return store, nil
}

func pairingGenerateCmd() *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Issue a one-time pairing code for a new device",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			store, err := openPairingStore(cfg)
			if err != nil {
				return err
			}
			svc := pairing.NewService(store, cfg.Pairing.PairingCodeTTLDuration(),
				cfg.Pairing.MaxFailuresOr(), cfg.Pairing.FailureWindowDuration(), cfg.Pairing.CooldownDuration())
			token, err := svc.GenerateCode(label)
			if err != nil {
				return fmt.Errorf("generate pairing code: %w", err)
			}
			fmt.Printf("code:    %s\n", token.Code)
			fmt.Printf("expires: %s\n", token.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "human-readable label for the device (e.g. \"Alex's iPhone\")")
	return cmd
}

func pairingListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List paired devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			store, err := openPairingStore(cfg)
			if err != nil {
				return err
			}
			devices, err := store.ListDevices()
			if err != nil {
				return fmt.Errorf("list devices: %w", err)
			}
			if len(devices) == 0 {
				fmt.Println("no paired devices")
				return nil
			}
			for _, d := range devices {
				status := "active"
				if d.Revoked {
					status = "revoked"
				}
				fmt.Printf("%-36s %-20s %-8s created %s\n", d.ID, d.Label, status, d.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func pairingRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <device-id>",
		Short: "Revoke a paired device's access",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			store, err := openPairingStore(cfg)
			if err != nil {
				return err
			}
			if err := store.RevokeDevice(args[0]); err != nil {
				return fmt.Errorf("revoke device: %w", err)
			}
			fmt.Printf("revoked %s\n", args[0])
			return nil
		},
	}
}
