package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"testkit/internal/runctx"
)

var sweepTTL time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Purge expired run contexts",
	Long: `Delete persisted run contexts that are finalized or older than the
TTL. The run command performs this housekeeping automatically while a run
is active; sweep covers stores no runner currently owns.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, closeStore, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore()

		mgr := runctx.NewManager(runctx.Config{Store: st, TTL: sweepTTL})
		defer mgr.Close()

		removed, err := mgr.CleanupExpiredContexts(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d expired run context(s)\n", removed)
		return nil
	},
}

func init() {
	sweepCmd.Flags().DurationVar(&sweepTTL, "ttl", runctx.DefaultTTL, "age after which an untouched run context expires")
	rootCmd.AddCommand(sweepCmd)
}
