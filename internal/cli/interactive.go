package cli

import (
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/blotkit/goblot/internal/tui"
	"github.com/blotkit/goblot/logger"
)

var interactiveCmd = &cobra.Command{
	Use:     "interactive",
	Aliases: []string{"i"},
	Short:   "Drive the plotter from the keyboard",
	Long: `Interactive mode lifts the pen, turns the motors on and homes to (0, 0),
then moves the pen with the keyboard:

  g          go to x,y
  f/w b/s    forwards / back by one step
  a/l r/d    left / right by one step
  u/↑ p/↓    pen up / pen down
  c          change the step size
  q          quit

Logs are written to log.file, or discarded when it is not set.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := io.Discard
		if cfg.Log.File != "" {
			f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			defer f.Close()
			out = f
		}
		log, err := newLogger(out)
		if err != nil {
			return err
		}
		logger.SetLogger(log)

		s, err := openSession(cmd.Context(), log)
		if err != nil {
			return err
		}

		model := tui.NewInteractive(cmd.Context(), s.plotter,
			tui.WithStats(tui.DriverStats(s.driver)),
			tui.WithDriverDone(s.driver.Done(), s.driver.Err),
		)
		final, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
		if err != nil {
			_ = s.close()
			return fmt.Errorf("interactive mode: %w", err)
		}

		if m, ok := final.(tui.Interactive); ok && m.Err() != nil {
			_ = s.close()
			return m.Err()
		}

		return s.close()
	},
}
