package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"codeberg.org/mutker/battstat/internal/config"
	"codeberg.org/mutker/battstat/internal/display"
	"codeberg.org/mutker/battstat/internal/errors"
	"codeberg.org/mutker/battstat/internal/events"
	"codeberg.org/mutker/battstat/internal/logger"
	"codeberg.org/mutker/battstat/internal/pid"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func NewWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep printing the battery status",
		Long: `Print the battery status at startup, every interval, on SIGUSR1 and
whenever the config file changes. Unknown samples are skipped so the
last known status stays visible.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd)
		},
	}

	cmd.Flags().Int("interval", config.DefaultInterval, "seconds between refreshes")
	cmd.Flags().String("output", "", "also write the status to this file")
	cmd.Flags().String("listen", "", "serve the status over HTTP on this address, e.g. 127.0.0.1:8089")

	return cmd
}

func runWatch(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pidFile := pid.New("")
	if err := pidFile.Write(); err != nil {
		return err
	}
	defer func() {
		if err := pidFile.Remove(); err != nil {
			logger.Error().Err(err).Msg("Failed to remove PID file")
		}
	}()

	sinks := []display.Sink{display.NewWriterSink(cmd.OutOrStdout(), useColor(cfg))}
	if cfg.Output != "" {
		sinks = append(sinks, display.NewFileSink(afero.NewOsFs(), cfg.Output))
	}
	var server *display.StatusServer
	if cfg.Listen != "" {
		server = display.NewStatusServer()
		sinks = append(sinks, server)
	}

	presenter := display.NewPresenter(newEstimator(cfg), sinks...)
	hub := events.NewHub()
	intervals := make(chan time.Duration, 1)

	cfg.Watch(ctx, func(next *config.Config) {
		presenter.SetEstimator(newEstimator(next))
		select {
		case intervals <- time.Duration(next.Interval) * time.Second:
		default:
		}
		hub.Publish(events.Config)
	})

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		presenter.Listen(ctx, hub)
	}()

	if server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Run(ctx, cfg.Listen); err != nil {
				logServeError(err)
				stop()
			}
		}()
	}

	logger.Info().
		Int("interval", cfg.Interval).
		Str("output", cfg.Output).
		Str("listen", cfg.Listen).
		Msg("Watching battery")

	triggers(ctx, hub, time.Duration(cfg.Interval)*time.Second, intervals)
	wg.Wait()

	logger.Info().Msg("Exiting...")

	return nil
}

// triggers publishes tick and signal events until ctx is done. A value on
// intervals resets the ticker.
func triggers(ctx context.Context, hub *events.Hub, interval time.Duration, intervals <-chan time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hub.Publish(events.Tick)
		case <-usr1:
			logger.Debug().Msg("Received SIGUSR1")
			hub.Publish(events.Signal)
		case d := <-intervals:
			if d > 0 && d != interval {
				interval = d
				ticker.Reset(d)
				logger.Info().Dur("interval", d).Msg("Refresh interval changed")
			}
		}
	}
}

func logServeError(err error) {
	var appErr errors.Error
	if errors.As(err, &appErr) {
		logger.ErrorWithCode(appErr).Msg("Status server stopped")
		return
	}
	logger.Error().Err(err).Msg("Status server stopped")
}
