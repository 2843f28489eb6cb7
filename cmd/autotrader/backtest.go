package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/EnragedAntelope/autotrader-sub001/internal/backtest"
)

func newBacktestCmd() *cobra.Command {
	var (
		profileID int64
		from      string
		to        string
		capital   float64
		size      float64
		stepDays  int
		jsonOut   bool
	)

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay the threshold strategy over a date window",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			start, err := time.Parse("2006-01-02", from)
			if err != nil {
				return fmt.Errorf("invalid --from date %q: %w", from, err)
			}
			end, err := time.Parse("2006-01-02", to)
			if err != nil {
				return fmt.Errorf("invalid --to date %q: %w", to, err)
			}

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			profile, err := a.store.Profiles.Get(ctx, profileID)
			if err != nil {
				return fmt.Errorf("profile %d: %w", profileID, err)
			}

			result, err := a.backtest.Run(ctx, backtest.Request{
				Profile:        *profile,
				Start:          start,
				End:            end,
				InitialCapital: capital,
				PositionSize:   size,
				StepDays:       stepDays,
			})
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(result)
			}
			printBacktestResult(result)
			return nil
		},
	}

	cmd.Flags().Int64Var(&profileID, "profile", 0, "Profile id to replay (required)")
	cmd.Flags().StringVar(&from, "from", "", "Window start, YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&to, "to", "", "Window end, YYYY-MM-DD (required)")
	cmd.Flags().Float64Var(&capital, "capital", 10_000, "Initial capital")
	cmd.Flags().Float64Var(&size, "size", 1_000, "Position size per trade")
	cmd.Flags().IntVar(&stepDays, "step", backtest.DefaultStepDays, "Simulated clock step in days")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the full result as JSON")
	_ = cmd.MarkFlagRequired("profile")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func printBacktestResult(r *backtest.Result) {
	fmt.Printf("Backtest %q  %s → %s  (%s data, %d-day steps)\n",
		r.ProfileName, r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"),
		r.DataMode, r.StepDays)
	fmt.Printf("Capital: $%.2f → $%.2f\n", r.InitialCapital, r.FinalCapital)
	fmt.Printf("Trades:  %d total, %d wins / %d losses (win rate %.1f%%)\n",
		r.TotalTrades, r.WinningTrades, r.LosingTrades, r.WinRate)
	if r.TotalTrades == 0 {
		return
	}
	fmt.Printf("P/L:     wins $%.2f (avg $%.2f), losses $%.2f (avg $%.2f)\n",
		r.TotalWinPL, r.AvgWinPL, r.TotalLossPL, r.AvgLossPL)
	fmt.Printf("Profit factor %.2f   Sharpe %.2f   Max drawdown %.2f%%\n",
		r.ProfitFactor, r.SharpeRatio, r.MaxDrawdown)

	fmt.Printf("\n%-8s %-12s %-12s %10s %10s %8s  %s\n",
		"SYMBOL", "ENTRY", "EXIT", "IN", "OUT", "P/L%", "REASON")
	for _, t := range r.Trades {
		fmt.Printf("%-8s %-12s %-12s %10.2f %10.2f %7.2f%%  %s\n",
			t.Symbol, t.EntryDate.Format("2006-01-02"), t.ExitDate.Format("2006-01-02"),
			t.EntryPrice, t.ExitPrice, t.ProfitLossPercent, t.ExitReason)
	}
}
