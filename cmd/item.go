package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/papapumpkin/pulsar/internal/board"
)

var itemCmd = &cobra.Command{
	Use:   "item",
	Short: "Manage work items (add, promote, advance, show, history)",
}

var itemAddCmd = &cobra.Command{
	Use:   "add <board> <item>",
	Short: "Add an item to a board's backlog",
	Args:  cobra.ExactArgs(2),
	RunE:  runItemAdd,
}

var itemPromoteCmd = &cobra.Command{
	Use:   "promote <board> <item>",
	Short: "Move a backlog item to ready once all its blockers are done",
	Args:  cobra.ExactArgs(2),
	RunE:  runItemPromote,
}

var itemAdvanceCmd = &cobra.Command{
	Use:   "advance <board> <item>",
	Short: "Move an unclaimed item forward (default: the next stage)",
	Args:  cobra.ExactArgs(2),
	RunE:  runItemAdvance,
}

var itemShowCmd = &cobra.Command{
	Use:   "show <board> <item>",
	Short: "Display an item",
	Args:  cobra.ExactArgs(2),
	RunE:  runItemShow,
}

var itemHistoryCmd = &cobra.Command{
	Use:   "history <board> <item>",
	Short: "List the stage transitions of an item",
	Args:  cobra.ExactArgs(2),
	RunE:  runItemHistory,
}

func init() {
	f := itemAddCmd.Flags()
	f.String("title", "", "item title")
	f.Float64("customer", 0, "customer value in [0,1] (unset means missing)")
	f.Float64("learning", 0, "learning value in [0,1] (unset means missing)")
	f.StringSlice("skill", nil, "required skill tag (repeatable)")
	f.Float64("effort", 0, "effort estimate")
	f.StringSlice("blocked-by", nil, "ID of a blocking item (repeatable)")

	itemAdvanceCmd.Flags().String("to", "", "target stage (default: the next stage)")

	itemCmd.AddCommand(itemAddCmd)
	itemCmd.AddCommand(itemPromoteCmd)
	itemCmd.AddCommand(itemAdvanceCmd)
	itemCmd.AddCommand(itemShowCmd)
	itemCmd.AddCommand(itemHistoryCmd)
	rootCmd.AddCommand(itemCmd)
}

// itemFromFlags builds a new backlog item. Scoring inputs whose flags were
// not given stay nil so they are reported as missing.
func itemFromFlags(f *pflag.FlagSet, boardID, itemID string) (board.Item, error) {
	it := board.Item{ID: itemID, BoardID: boardID, Stage: board.StageBacklog}
	var err error
	if it.Title, err = f.GetString("title"); err != nil {
		return board.Item{}, err
	}
	if it.RequiredSkills, err = f.GetStringSlice("skill"); err != nil {
		return board.Item{}, err
	}
	if it.BlockedBy, err = f.GetStringSlice("blocked-by"); err != nil {
		return board.Item{}, err
	}
	if it.Effort, err = f.GetFloat64("effort"); err != nil {
		return board.Item{}, err
	}
	if it.Effort < 0 {
		return board.Item{}, fmt.Errorf("effort must not be negative, got %g", it.Effort)
	}
	for _, v := range []struct {
		name string
		dst  **float64
	}{
		{"customer", &it.CustomerValue},
		{"learning", &it.LearningValue},
	} {
		if !f.Changed(v.name) {
			continue
		}
		n, err := f.GetFloat64(v.name)
		if err != nil {
			return board.Item{}, err
		}
		*v.dst = board.Value(n)
	}
	return it, nil
}

func runItemAdd(cmd *cobra.Command, args []string) error {
	it, err := itemFromFlags(cmd.Flags(), args[0], args[1])
	if err != nil {
		return err
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	created, err := s.store.Create(cmd.Context(), it)
	if err != nil {
		return err
	}
	printerFor(cmd).Success(fmt.Sprintf("added %s to %s", created.ID, created.BoardID))
	return nil
}

func runItemPromote(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	it, err := s.coordinator().Promote(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	printerFor(cmd).Moved(it)
	return nil
}

func runItemAdvance(cmd *cobra.Command, args []string) error {
	to, _ := cmd.Flags().GetString("to")

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	it, err := s.coordinator().Advance(cmd.Context(), args[0], args[1], to)
	if err != nil {
		return err
	}
	printerFor(cmd).Moved(it)
	return nil
}

func runItemShow(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	it, err := s.store.Get(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	printerFor(cmd).ItemShow(it)
	return nil
}

func runItemHistory(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	hist, err := s.store.History(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	printerFor(cmd).History(args[1], hist)
	return nil
}
