package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the credvault application.
var rootCmd = &cobra.Command{
	Use:   "credvault",
	Short: "Credential lifecycle and secret-vault provisioning service",
	Long: `credvault runs the OAuth authorization-code flow for tenant credentials,
provisions a secret vault per tenant on demand, and keeps the stored
token bundles fresh for downstream consumers.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command. Called from the main
// package to inject the build version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "credvault version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
}
