package main

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	mlmd "github.com/sile/mlmd-go"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Count items of every family",
	Long: `Counts artifacts, executions, contexts and events. Each count runs on its
own store, since one store serializes its operations.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var out struct {
			Artifacts  int `json:"artifacts"`
			Executions int `json:"executions"`
			Contexts   int `json:"contexts"`
			Events     int `json:"events"`
		}
		counts := []struct {
			dest  *int
			count func(ctx context.Context, s *mlmd.Store) (int, error)
		}{
			{&out.Artifacts, func(ctx context.Context, s *mlmd.Store) (int, error) {
				return s.GetArtifacts().Count(ctx)
			}},
			{&out.Executions, func(ctx context.Context, s *mlmd.Store) (int, error) {
				return s.GetExecutions().Count(ctx)
			}},
			{&out.Contexts, func(ctx context.Context, s *mlmd.Store) (int, error) {
				return s.GetContexts().Count(ctx)
			}},
			{&out.Events, func(ctx context.Context, s *mlmd.Store) (int, error) {
				return s.GetEvents().Count(ctx)
			}},
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, c := range counts {
			g.Go(func() error {
				store, err := openStore(gctx)
				if err != nil {
					return err
				}
				defer store.Close()
				n, err := c.count(gctx, store)
				if err != nil {
					return err
				}
				*c.dest = n
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

func init() {
	rootCmd.AddCommand(summaryCmd)
}
