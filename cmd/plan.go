package cmd

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/papapumpkin/pulsar/internal/claim"
)

func init() {
	planCmd := &cobra.Command{
		Use:   "plan [board...]",
		Short: "Rank claimable items without claiming anything",
		Long: `Shows, per board, the candidates a worker would claim and in which order,
the items rejected for invalid scoring inputs, and any dependency cycles.
Without arguments, plans the configured boards or every board in the store.`,
		RunE: runPlan,
	}
	planCmd.Flags().String("worker", "", "worker ID (default worker_id from config)")
	planCmd.Flags().StringSlice("skill", nil, "worker skill tag (repeatable, default worker_skills)")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ids, err := s.boardIDs(cmd, args)
	if err != nil {
		return err
	}

	coord := s.coordinator()
	workers := []claim.Worker{s.worker(cmd)}
	plans := make([]*claim.Plan, len(ids))

	g, ctx := errgroup.WithContext(cmd.Context())
	for i, id := range ids {
		g.Go(func() error {
			p, err := coord.Plan(ctx, id, workers)
			if err != nil {
				return err
			}
			plans[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	printer := printerFor(cmd)
	if len(plans) == 0 {
		printer.Info("no boards to plan")
	}
	for _, p := range plans {
		printer.PlanShow(p)
	}
	return nil
}
