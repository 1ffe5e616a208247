package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lguibr/twothread/logging"
	"github.com/lguibr/twothread/sensor"
	"github.com/lguibr/twothread/server"
	"github.com/lguibr/twothread/telemetry"
)

type runOptions struct {
	configFlags
	duration time.Duration
	seed     int64
}

func (a *App) newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the meter reader and file writer until 'exit'",
		Long: `Run the demo. The meter reader is polled on its own dispatcher thread,
the file writer runs on another. Type 'exit' (or close stdin, or send
SIGINT/SIGTERM) to shut down; queued writes are drained before exit.

Examples:
  # Defaults: 300ms polling, writes take 295ms..1s
  twothread run

  # Persist the data files and expose the monitor feed
  twothread run --output-dir ./data --monitor-addr :8080

  # Stop on its own after ten seconds
  twothread run --duration 10s --log-format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), opts)
		},
	}

	opts.register(cmd)
	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "Stop automatically after this long (0 waits for 'exit')")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "Seed for the writer's random pauses (0 uses the clock)")

	return cmd
}

func (a *App) run(ctx context.Context, opts *runOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	cfg.Logging.Output = a.stdout
	logger := logging.New(cfg.Logging)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if opts.duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	metrics, err := telemetry.NewMetrics(telemetry.DefaultConfig())
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	demoOpts := []sensor.Option{
		sensor.WithLogger(logger),
		sensor.WithObserver(metrics),
		sensor.WithSeed(opts.seed),
	}

	var monitor *server.Monitor
	if cfg.Monitor.Addr != "" {
		monitor = server.NewMonitor(logger, cfg.Monitor.Buffer)
		defer monitor.Close()
		demoOpts = append(demoOpts, sensor.WithObserver(monitor))
	}

	demo, err := sensor.New(cfg, demoOpts...)
	if err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	if monitor != nil {
		srv := server.New(demo.Engine, monitor, logger)
		go func() { serveErr <- srv.ListenAndServe(ctx, cfg.Monitor.Addr, nil) }()
	}

	go a.watchInput(ctx, cancel)

	runErr := demo.Run(ctx)
	cancel()
	if monitor != nil {
		if err := <-serveErr; err != nil && runErr == nil {
			runErr = err
		}
	}
	return runErr
}

// watchInput cancels the run when "exit" is typed or the input ends.
func (a *App) watchInput(ctx context.Context, cancel context.CancelFunc) {
	fmt.Fprintln(a.stdout, "Type 'exit' to quit:")
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(a.stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "exit" {
				cancel()
				return
			}
			fmt.Fprintln(a.stdout, "Type 'exit' to quit")
		}
	}
}
