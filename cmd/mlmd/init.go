package main

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	mlmd "github.com/sile/mlmd-go"
)

var initWait time.Duration

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or verify the database schema",
	Long: `Opens the configured database, creating the schema-v6 tables on a fresh
database and verifying the schema version on an existing one.

With --wait the open is retried with exponential backoff until the server
accepts connections, which covers MySQL containers that are still starting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		open := func() (*mlmd.Store, error) {
			return openStore(ctx)
		}
		var (
			store *mlmd.Store
			err   error
		)
		if initWait > 0 {
			policy := backoff.NewExponentialBackOff()
			policy.MaxElapsedTime = initWait
			store, err = backoff.RetryWithData(open, backoff.WithContext(policy, ctx))
		} else {
			store, err = open()
		}
		if err != nil {
			return err
		}
		defer store.Close()

		fmt.Fprintf(cmd.OutOrStdout(), "schema version %d ready\n", mlmd.SchemaVersion)
		return nil
	},
}

func init() {
	initCmd.Flags().DurationVar(&initWait, "wait", 0, "retry connecting for up to this long (e.g. 60s)")
	rootCmd.AddCommand(initCmd)
}
