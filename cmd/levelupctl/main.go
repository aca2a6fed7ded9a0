package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "levelupctl",
		Short:         "Inspect and edit a user's task ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.backend, "backend", envOr("STORE_BACKEND", "tables"), "store backend (tables, postgres)")
	rootCmd.PersistentFlags().StringVarP(&flags.user, "user", "u", "", "user id")
	rootCmd.PersistentFlags().BoolVarP(&flags.json, "json", "j", false, "print JSON")
	rootCmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "log ledger activity")

	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(toggleCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(progressCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(rewardsCmd())
	rootCmd.AddCommand(evictCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
