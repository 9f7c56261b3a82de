package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/blotkit/goblot/plotter"
)

var goCmd = &cobra.Command{
	Use:   "go X Y",
	Short: "Move the pen to (X, Y), clamped to the drawing area",
	Example: `  blotctl go 12.5 40
  blotctl --demo go 0 0`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		x, err := parseCoordinate(args[0])
		if err != nil {
			return err
		}
		y, err := parseCoordinate(args[1])
		if err != nil {
			return err
		}

		return runOneShot(cmd.Context(), cmd.OutOrStdout(), func(ctx context.Context, p *plotter.Plotter) error {
			pos, err := p.GoTo(ctx, x, y)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "moved to %s\n", pos)

			return nil
		})
	},
}

var motorsCmd = &cobra.Command{
	Use:       "motors on|off",
	Short:     "Enable or disable the stepper motors",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOneShot(cmd.Context(), cmd.OutOrStdout(), func(ctx context.Context, p *plotter.Plotter) error {
			if args[0] == "on" {
				if err := p.MotorsOn(ctx); err != nil {
					return err
				}
			} else if err := p.MotorsOff(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "motors %s\n", args[0])

			return nil
		})
	},
}

var originCmd = &cobra.Command{
	Use:   "origin move|set",
	Short: "Return to the origin, or make the current position the origin",
	Long: `origin move drives the pen back towards the origin.
origin set makes the current position the new origin.`,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"move", "set"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOneShot(cmd.Context(), cmd.OutOrStdout(), func(ctx context.Context, p *plotter.Plotter) error {
			if args[0] == "set" {
				if err := p.SetOrigin(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "origin set")
				return nil
			}
			if err := p.MoveToOrigin(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "moved to origin")

			return nil
		})
	},
}

var penCmd = &cobra.Command{
	Use:       "pen up|down",
	Short:     "Lift or lower the pen",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOneShot(cmd.Context(), cmd.OutOrStdout(), func(ctx context.Context, p *plotter.Plotter) error {
			var err error
			if args[0] == "down" {
				err = p.PenDown(ctx)
			} else {
				err = p.PenUp(ctx)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pen %s\n", args[0])

			return nil
		})
	},
}

func parseCoordinate(s string) (float32, error) {
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid coordinate %q", s)
	}

	return float32(v), nil
}
