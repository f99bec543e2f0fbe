package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/papapumpkin/pulsar/internal/board"
	"github.com/papapumpkin/pulsar/internal/readiness"
	"github.com/papapumpkin/pulsar/internal/ui"
)

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Manage boards (apply, show, export)",
}

var boardApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Create or update boards from a board definition file",
	Long: `Reads board definitions from a TOML file (default boards.toml) and writes
them to the store. wip_limits from the config file override the limits in the
definitions. Lowering a limit below the current stage count is rejected.`,
	Args: cobra.NoArgs,
	RunE: runBoardApply,
}

var boardShowCmd = &cobra.Command{
	Use:   "show <board>",
	Short: "Display a board with its items, blockers and cycles",
	Args:  cobra.ExactArgs(1),
	RunE:  runBoardShow,
}

var boardExportCmd = &cobra.Command{
	Use:   "export <board>",
	Short: "Write a snapshot of a board and its items",
	Long: `Writes the board and its items as YAML or JSON. --format toml writes only
the board definition, in the form board apply reads.`,
	Args: cobra.ExactArgs(1),
	RunE: runBoardExport,
}

func init() {
	boardApplyCmd.Flags().StringP("file", "f", "", "board definition file (default board_file from config)")
	boardExportCmd.Flags().String("format", "yaml", "output format: yaml, json, or toml (definition only)")

	boardCmd.AddCommand(boardApplyCmd)
	boardCmd.AddCommand(boardShowCmd)
	boardCmd.AddCommand(boardExportCmd)
	rootCmd.AddCommand(boardCmd)
}

func printerFor(cmd *cobra.Command) *ui.Printer {
	return ui.NewWriter(cmd.OutOrStdout(), cmd.ErrOrStderr())
}

func runBoardApply(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	path, _ := cmd.Flags().GetString("file")
	if path == "" {
		path = s.cfg.BoardFile
	}
	m, err := board.LoadManifest(path)
	if err != nil {
		return err
	}
	if err := m.ApplyWIPLimits(s.cfg.WIPLimits); err != nil {
		return err
	}
	for _, b := range m.Boards {
		if err := s.store.PutBoard(cmd.Context(), b); err != nil {
			return fmt.Errorf("board %s: %w", b.ID, err)
		}
		s.logger.Debug("board applied", "board", b.ID, "stages", len(b.Stages))
	}
	printerFor(cmd).BoardsApplied(path, m.Boards)
	return nil
}

func runBoardShow(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := readiness.NewEvaluator(s.store).Evaluate(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printerFor(cmd).BoardShow(res)
	return nil
}

// boardSnapshot is the export document for one board.
type boardSnapshot struct {
	Board board.Board  `json:"board" yaml:"board"`
	Items []board.Item `json:"items" yaml:"items"`
}

func runBoardExport(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "yaml" && format != "json" && format != "toml" {
		return fmt.Errorf("unknown format %q (want yaml, json or toml)", format)
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	b, err := s.store.Board(ctx, args[0])
	if err != nil {
		return err
	}
	items, err := s.store.ListAll(ctx, b.ID)
	if err != nil {
		return err
	}
	return writeSnapshot(cmd.OutOrStdout(), format, boardSnapshot{Board: b, Items: items})
}

// writeSnapshot encodes snap to w in the given format.
func writeSnapshot(w io.Writer, format string, snap boardSnapshot) error {
	if snap.Items == nil {
		snap.Items = []board.Item{}
	}
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case "toml":
		m := board.Manifest{Boards: []board.Board{snap.Board}}
		data, err := m.Marshal()
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	default:
		return fmt.Errorf("unknown format %q (want yaml, json or toml)", format)
	}
}
