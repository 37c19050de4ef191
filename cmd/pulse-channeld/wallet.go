package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eddiemessiah/pulse-remit-channel/internal/config"
	"github.com/eddiemessiah/pulse-remit-channel/internal/wallet"
)

func newWalletCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Manage the local signing wallet",
	}
	cmd.AddCommand(newWalletNewCommand())
	cmd.AddCommand(newWalletShowCommand())
	return cmd
}

func newWalletNewCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Generate a new signing key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			if _, err := os.Stat(cfg.Wallet.KeyFile); err == nil && !force {
				return fmt.Errorf("key file %s already exists (use --force to overwrite)", cfg.Wallet.KeyFile)
			}

			w, err := wallet.Generate()
			if err != nil {
				return err
			}
			if err := w.SaveFile(cfg.Wallet.KeyFile); err != nil {
				return err
			}

			fmt.Printf("wallet created\naddress: %s\nkey file: %s\n", w.Address(), cfg.Wallet.KeyFile)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing key file")
	return cmd
}

func newWalletShowCommand() *cobra.Command {
	var showQR bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the wallet address",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			w, err := wallet.FromFile(cfg.Wallet.KeyFile)
			if err != nil {
				return err
			}

			fmt.Printf("address: %s\n", w.Address())
			if showQR {
				w.WriteQR(os.Stdout)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showQR, "qr", false, "render the address as a QR code")
	return cmd
}
