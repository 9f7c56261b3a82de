// Package cli implements the blotctl command tree.
package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/blotkit/goblot/internal/config"
	"github.com/blotkit/goblot/logger"
)

var (
	// Global flags
	cfgFile    string
	portName   string
	demo       bool          // --demo: talk to the simulated plotter
	logLevel   string        // overrides log.level
	ackTimeout time.Duration // overrides driver.ack_timeout_ms

	// Set during PersistentPreRun
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "blotctl",
	Short: "Drive a serial pen plotter",
	Long: `blotctl sends commands to a pen plotter over a USB serial link and waits
for the plotter to acknowledge each one.

Without --port the only attached USB serial port is used; with several
attached a picker is shown.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultPath()
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if portName != "" {
			cfg.Serial.Port = portName
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if cmd.Flags().Changed("ack-timeout") {
			cfg.Driver.AckTimeoutMS = int(ackTimeout / time.Millisecond)
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		log, err := newLogger(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		logger.SetLogger(log)

		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// RootCmd returns the root cobra.Command for testing purposes.
func RootCmd() *cobra.Command {
	return rootCmd
}

func newLogger(w io.Writer) (logger.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}

	return logger.NewSlog(level,
		logger.WithOutput(w),
		logger.WithConsole(cfg.Log.Format == "console"),
	), nil
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ~/.config/blotctl/config.yaml)")
	pf.StringVarP(&portName, "port", "p", "", "serial port of the plotter")
	pf.BoolVar(&demo, "demo", false, "use a simulated plotter instead of a serial port")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.DurationVar(&ackTimeout, "ack-timeout", 0, "give up waiting for an acknowledgement after this long (0 waits forever)")

	rootCmd.AddCommand(goCmd, motorsCmd, originCmd, penCmd, interactiveCmd, portsCmd)
}
