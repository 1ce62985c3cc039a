package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gitea.kood.tech/petrkubec/match-round/backend/matching"
)

var (
	runRoundKey    string
	runRoundDryRun bool
	roundKeyAt     string
)

var runRoundCmd = &cobra.Command{
	Use:   "run-round",
	Short: "Pair this round's pool and notify the pairs",
	Long: `Runs one matching round against the database and prints the result as JSON.
Re-running a round only pairs candidates that are still unmatched.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		d, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer d.close()

		roundKey := roundKeyOr(runRoundKey, time.Now)
		res, err := executeRound(cmd.Context(), d.matcher, roundKey, runRoundDryRun)
		if errors.Is(err, matching.ErrInsufficientPool) {
			d.log.Warn("not enough candidates in pool", zap.String("round_key", roundKey), zap.Int("eligible", res.Eligible))
			return nil
		}
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
		d.matcher.Wait()
		return nil
	},
}

var roundKeyCmd = &cobra.Command{
	Use:   "round-key",
	Short: "Print the round key for now or for --at (RFC 3339)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		t := time.Now()
		if roundKeyAt != "" {
			var err error
			if t, err = time.Parse(time.RFC3339, roundKeyAt); err != nil {
				return fmt.Errorf("parsing --at: %w", err)
			}
		}
		_, err := fmt.Fprintln(cmd.OutOrStdout(), matching.CurrentRoundKey(t))
		return err
	},
}

func init() {
	runRoundCmd.Flags().StringVar(&runRoundKey, "round", "", "round key, e.g. 2026-W42 (default is the current ISO week)")
	runRoundCmd.Flags().BoolVar(&runRoundDryRun, "dry-run", false, "compute pairings without storing or notifying")
	roundKeyCmd.Flags().StringVar(&roundKeyAt, "at", "", "timestamp to compute the key for")
}
