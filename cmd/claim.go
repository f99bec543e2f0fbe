package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/pulsar/internal/board"
	"github.com/papapumpkin/pulsar/internal/claim"
)

func init() {
	claimCmd := &cobra.Command{
		Use:   "claim <board>",
		Short: "Claim the highest-ranked ready item on a board",
		Long: `Evaluates readiness, ranks the candidates for this worker and claims the
first one that is still free. Exits 1 when no work is available.`,
		Args: cobra.ExactArgs(1),
		RunE: runClaim,
	}
	claimCmd.Flags().String("worker", "", "worker ID (default worker_id from config)")
	claimCmd.Flags().StringSlice("skill", nil, "worker skill tag (repeatable, default worker_skills)")
	rootCmd.AddCommand(claimCmd)

	releaseCmd := &cobra.Command{
		Use:   "release <board> <item>",
		Short: "Release a claimed item with an outcome",
		Long: `Hands a claimed item back. review and done move it forward; abandoned and
failed return it to ready, or to backlog when ready is full.`,
		Args: cobra.ExactArgs(2),
		RunE: runRelease,
	}
	releaseCmd.Flags().String("worker", "", "worker ID (default worker_id from config)")
	releaseCmd.Flags().String("outcome", string(claim.OutcomeDone), "review, done, abandoned or failed")
	rootCmd.AddCommand(releaseCmd)
}

func runClaim(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	it, err := s.coordinator().ClaimNext(cmd.Context(), args[0], s.worker(cmd))
	if err != nil {
		if errors.Is(err, claim.ErrNoWorkAvailable) {
			printerFor(cmd).Info(fmt.Sprintf("no work available on %s", args[0]))
		}
		return err
	}
	p := printerFor(cmd)
	p.Claimed(it)
	p.ItemShow(it)
	return nil
}

func runRelease(cmd *cobra.Command, args []string) error {
	raw, _ := cmd.Flags().GetString("outcome")
	outcome, err := claim.ParseOutcome(raw)
	if err != nil {
		return err
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	w := s.worker(cmd)
	it, err := s.coordinator().Release(cmd.Context(), args[0], args[1], w.ID, outcome)
	if err != nil {
		if errors.Is(err, board.ErrNotOwner) {
			return fmt.Errorf("%w (releasing as %s)", err, w.ID)
		}
		return err
	}
	printerFor(cmd).Moved(it)
	return nil
}
