package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"codeberg.org/mutker/battstat/internal/battery"
	"codeberg.org/mutker/battstat/internal/config"
	"codeberg.org/mutker/battstat/internal/display"
	"codeberg.org/mutker/battstat/internal/errors"
	"codeberg.org/mutker/battstat/internal/logger"
	"codeberg.org/mutker/battstat/internal/telemetry"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

var cfg *config.Config

func main() {
	if err := NewCommand().ExecuteContext(context.Background()); err != nil {
		handleCmdError(os.Stderr, err)
		os.Exit(1)
	}
}

func handleCmdError(w io.Writer, err error) {
	if errors.HasCode(err, errors.ErrTotalUnknown) {
		fmt.Fprintln(w, "battery state unknown")
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}

func NewCommand() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "battstat",
		Short: "battstat reports battery charge and charging speed",
		Long: `battstat reads battery telemetry from /sys/class/power_supply, falling back
to a diagnostic dump command, and prints the charge level. While fast
charging the level is shown with two decimals, otherwise as a whole number.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setup(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd, jsonOut)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "path to the TOML config file (default /etc/battstat.toml)")
	flags.String("log-level", config.DefaultLogLevel, "log level: debug, info, warning or error")
	flags.Int64("fast-charge-threshold", config.DefaultFastChargeThreshold, "current_now magnitude (micro-units) at which charging counts as fast")
	flags.Int("command-timeout", config.DefaultCommandTimeout, "timeout for the dump command in milliseconds")
	flags.String("dump-command", config.DefaultDumpCommand, "diagnostic dump command run through sh -c")
	flags.Bool("color", true, "colorize output on terminals")

	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the battery state as JSON")

	cmd.AddCommand(
		NewOnceCommand(),
		NewWatchCommand(),
		NewProbeCommand(),
		NewVersionCommand(),
	)

	return cmd
}

func setup(cmd *cobra.Command) error {
	var err error
	cfg, err = config.Load(cmd.Flags())
	if err != nil {
		return err
	}

	// Validate has already accepted the level.
	level, _ := logger.ParseLevel(cfg.LogLevel)
	logger.Init(level, logger.IsService())
	logger.Debug().
		Int("interval", cfg.Interval).
		Int64("fast_charge_threshold", cfg.FastChargeThreshold).
		Str("dump_command", cfg.DumpCommand).
		Msg("Config loaded")

	return nil
}

func NewOnceCommand() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "once",
		Short: "Print the battery status once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd, jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the battery state as JSON")

	return cmd
}

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// No config needed.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.Printf("battstat %s\n", version)
			return nil
		},
	}
}

func runOnce(cmd *cobra.Command, jsonOut bool) error {
	state := newEstimator(cfg).Estimate(cmd.Context())

	if jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(state); err != nil {
			return errors.New().Wrap(errors.ErrInternal, err)
		}
		if !state.Known() {
			return errors.New().New(errors.ErrTotalUnknown)
		}
		return nil
	}

	text, ok := battery.Format(state)
	if !ok {
		return errors.New().New(errors.ErrTotalUnknown)
	}

	sink := display.NewWriterSink(cmd.OutOrStdout(), useColor(cfg))
	return sink.Update(display.Status{State: state, Text: text, Time: time.Now()})
}

func newEstimator(c *config.Config) *battery.Estimator {
	return battery.NewEstimator(newReader(c), estimatorOptions(c))
}

func newReader(c *config.Config) *telemetry.Reader {
	return telemetry.NewOSReader(time.Duration(c.CommandTimeout) * time.Millisecond)
}

func estimatorOptions(c *config.Config) battery.Options {
	return battery.Options{
		Sources: battery.Sources{
			ChargeCounter:    c.Sources.ChargeCounter,
			ChargeFull:       c.Sources.ChargeFull,
			ChargeFullDesign: c.Sources.ChargeFullDesign,
			CurrentNow:       c.Sources.CurrentNow,
		},
		DumpCommand:         c.DumpCommand,
		FastChargeThreshold: c.FastChargeThreshold,
	}
}

// useColor honours the color setting only when fatih/color detected a
// terminal on stdout.
func useColor(c *config.Config) bool {
	return c.Color && !color.NoColor
}
