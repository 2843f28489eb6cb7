package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/EnragedAntelope/autotrader-sub001/internal/broker"
	"github.com/EnragedAntelope/autotrader-sub001/internal/orders"
)

func newTradeCmd() *cobra.Command {
	var (
		symbol     string
		quantity   int64
		side       string
		orderType  string
		limitPrice float64
		jsonOut    bool
	)

	cmd := &cobra.Command{
		Use:   "trade",
		Short: "Execute one order through the risk pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			req := orders.Request{
				Symbol:    strings.ToUpper(symbol),
				Quantity:  quantity,
				Side:      broker.Side(side),
				OrderType: broker.OrderType(orderType),
			}
			if limitPrice > 0 {
				req.LimitPrice = &limitPrice
			}

			outcome, err := a.executor.Execute(ctx, req)
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(outcome)
			}
			if outcome.Executed {
				fmt.Printf("✅ Order placed: %s %d %s (est. $%.2f)\n",
					req.Side, req.Quantity, req.Symbol, outcome.EstimatedCost)
				if outcome.Order != nil {
					fmt.Printf("   broker order %s, status %s\n", outcome.Order.ID, outcome.Order.Status)
				}
			} else {
				fmt.Printf("❌ Rejected: %s\n", outcome.RejectReason)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "Ticker symbol (required)")
	cmd.Flags().Int64Var(&quantity, "qty", 0, "Share quantity (required)")
	cmd.Flags().StringVar(&side, "side", "buy", "Order side (buy|sell)")
	cmd.Flags().StringVar(&orderType, "type", "market", "Order type (market|limit|stop|stop_limit|trailing_stop)")
	cmd.Flags().Float64Var(&limitPrice, "limit", 0, "Limit price for limit orders")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the outcome as JSON")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("qty")
	return cmd
}
