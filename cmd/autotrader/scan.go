package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newScanCmd() *cobra.Command {
	var (
		profileID int64
		jsonOut   bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one manual scan for a profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			profile, err := a.store.Profiles.Get(ctx, profileID)
			if err != nil {
				return fmt.Errorf("profile %d: %w", profileID, err)
			}

			matches, err := a.scheduler.RunNow(ctx, *profile)
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(matches)
			}
			if len(matches) == 0 {
				fmt.Printf("Profile %q: no matches.\n", profile.Name)
				return nil
			}
			fmt.Printf("Profile %q: %d match(es)\n", profile.Name, len(matches))
			for _, m := range matches {
				fmt.Printf("  %-8s $%.2f (score %.2f)\n", m.Symbol, m.Price, m.Score)
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&profileID, "profile", 0, "Profile id to scan (required)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit matches as JSON")
	_ = cmd.MarkFlagRequired("profile")
	return cmd
}
