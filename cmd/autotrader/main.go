package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

const (
	appName = "autotrader"
	version = "v1.0.0"
)

var (
	flagConfig string
	flagDebug  bool
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Threshold-based automated trading with scheduled scans and risk gating",
		Version: version,
		Long: `autotrader runs scheduled market scans, executes orders through a
risk gate, and monitors open positions against stop-loss and take-profit
thresholds. Paper mode simulates fills in-process; live mode talks to the
brokerage REST API.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
	}

	addGlobalFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		newRunCmd(),
		newScanCmd(),
		newTradeCmd(),
		newPositionsCmd(),
		newBacktestCmd(),
		newRateLimitCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func addGlobalFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&flagConfig, "config", "c", "", "Path to config YAML (defaults apply when omitted)")
	fs.BoolVar(&flagDebug, "debug", false, "Enable debug logging")
}

// Console output for humans at a terminal, JSON when piped.
func setupLogging() {
	if flagDebug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
