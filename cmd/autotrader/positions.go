package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newPositionsCmd() *cobra.Command {
	var (
		showClosed bool
		limit      int
		jsonOut    bool
	)

	cmd := &cobra.Command{
		Use:   "positions",
		Short: "List open (or recently closed) positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if showClosed {
				closed, err := a.store.Closed.List(ctx, limit)
				if err != nil {
					return err
				}
				if jsonOut {
					return json.NewEncoder(os.Stdout).Encode(closed)
				}
				if len(closed) == 0 {
					fmt.Println("No closed positions.")
					return nil
				}
				fmt.Printf("%-8s %8s %10s %10s %10s %8s  %s\n",
					"SYMBOL", "QTY", "ENTRY", "EXIT", "P/L", "P/L%", "REASON")
				for _, cp := range closed {
					fmt.Printf("%-8s %8d %10.2f %10.2f %10.2f %7.2f%%  %s\n",
						cp.Symbol, cp.Quantity, cp.EntryPrice, cp.ExitPrice,
						cp.RealizedPL, cp.RealizedPLPct, cp.Reason)
				}
				return nil
			}

			positions, err := a.store.Positions.List(ctx, a.cfg.TradingMode)
			if err != nil {
				return err
			}
			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(positions)
			}
			if len(positions) == 0 {
				fmt.Printf("No open positions (%s mode).\n", a.cfg.TradingMode)
				return nil
			}
			fmt.Printf("%-8s %8s %10s %10s %12s %8s\n",
				"SYMBOL", "QTY", "AVG COST", "PRICE", "VALUE", "P/L%")
			for _, p := range positions {
				fmt.Printf("%-8s %8d %10.2f %10.2f %12.2f %7.2f%%\n",
					p.Symbol, p.Quantity, p.AvgCost, p.CurrentPrice, p.CurrentValue, p.UnrealizedPLPct)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showClosed, "closed", false, "Show closed positions instead of open ones")
	cmd.Flags().IntVar(&limit, "limit", 25, "Maximum closed positions to list")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")
	return cmd
}
