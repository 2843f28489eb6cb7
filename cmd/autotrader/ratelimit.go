package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRateLimitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ratelimit",
		Short: "Inspect or adjust provider call budgets",
	}
	cmd.AddCommand(newRateLimitStatusCmd(), newRateLimitSetCmd())
	return cmd
}

func newRateLimitStatusCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configured provider quotas",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(context.Background())
			if err != nil {
				return err
			}
			defer a.close()

			quotas := a.budget.StatusAll()
			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(quotas)
			}
			if len(quotas) == 0 {
				fmt.Println("No providers configured.")
				return nil
			}
			fmt.Printf("%-12s %12s %12s\n", "PROVIDER", "PER MINUTE", "PER DAY")
			for _, q := range quotas {
				fmt.Printf("%-12s %5d/%-6d %5d/%-6d\n",
					q.Provider, q.MinuteCount, q.MaxPerMinute, q.DayCount, q.MaxPerDay)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit quotas as JSON")
	return cmd
}

func newRateLimitSetCmd() *cobra.Command {
	var (
		perMinute int
		perDay    int
	)

	cmd := &cobra.Command{
		Use:   "set <provider>",
		Short: "Update one provider's quota for a running check",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if perMinute <= 0 || perDay <= 0 {
				return fmt.Errorf("limits must be positive")
			}
			a, err := buildApp(context.Background())
			if err != nil {
				return err
			}
			defer a.close()

			provider := args[0]
			a.budget.Configure(provider, perMinute, perDay)
			q := a.budget.Status(provider)
			fmt.Printf("%s: %d/minute, %d/day\n", q.Provider, q.MaxPerMinute, q.MaxPerDay)
			return nil
		},
	}
	cmd.Flags().IntVar(&perMinute, "per-minute", 0, "Calls allowed per minute (required)")
	cmd.Flags().IntVar(&perDay, "per-day", 0, "Calls allowed per day (required)")
	_ = cmd.MarkFlagRequired("per-minute")
	_ = cmd.MarkFlagRequired("per-day")
	return cmd
}
