package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "shopauth",
	Short: "shopauth serves storefront authentication",
	Long: `Session and token lifecycle for the storefront backend: registration,
login, refresh token rotation with reuse detection, and password reset.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
