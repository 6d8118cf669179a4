package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "vaultctl",
		Short: "vaultctl - a zero-knowledge file vault",
		Long: `vaultctl seals files on this machine before they reach storage.
The stores only ever hold ciphertext, encrypted filenames and wrapped keys.

Passwords are read from the terminal, or from VAULTCTL_MASTER_PASSWORD,
VAULTCTL_NEW_MASTER_PASSWORD and VAULTCTL_SECONDARY_PASSWORD when set.`,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultConfig := os.Getenv("VAULTCTL_CONFIG")
	if defaultConfig == "" {
		defaultConfig = "vault.yaml"
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfig, "path to the configuration file")

	rootCmd.AddCommand(
		newInitCmd(&configPath),
		newStatusCmd(&configPath),
		newPutCmd(&configPath),
		newGetCmd(&configPath),
		newListCmd(&configPath),
		newRemoveCmd(&configPath),
		newPasswdCmd(&configPath),
		newBenchCmd(&configPath),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
