package cli

import (
	"fmt"
	"os"

	"github.com/dpyc-network/tollbooth-authority/internal/version"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:               "tollbooth",
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	Short:             "Tollbooth authority operator CLI",
	Long:              `Operator tooling for the tollbooth certification authority: signing key generation, offline certificate verification and status checks against a running authority`,
}

func Execute() {
	v := version.Get()
	rootCmd.Version = fmt.Sprintf("%s (built %s, commit %s)", v.Version, v.BuildDate, v.GitCommit)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(purchaseCmd)
	rootCmd.AddCommand(statusCmd)
}
