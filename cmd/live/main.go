package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/rxtech-lab/argo-live/internal/config"
	"github.com/rxtech-lab/argo-live/internal/control"
	"github.com/rxtech-lab/argo-live/internal/logger"
	"github.com/rxtech-lab/argo-live/internal/version"
	"github.com/rxtech-lab/argo-live/pkg/errors"
	"github.com/urfave/cli/v3"
)

func configFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to the live core `FILE`",
		Value:   "config.yaml",
		Sources: cli.EnvVars("ARGO_LIVE_CONFIG"),
	}
}

// stopAction stops the live core owning the configured lock file.
func stopAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}

	log, err := logger.NewLoggerWithLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	wait := cmd.Duration("wait")
	if wait == 0 {
		wait = cfg.GracefulStopBudget + 10*time.Second
	}

	if err := control.StopProcess(ctx, log, cfg.LockPath(), control.StopOptions{
		RequestTimeout: 5 * time.Second,
		Wait:           wait,
	}); err != nil {
		return err
	}

	fmt.Println("Live core stopped")

	return nil
}

// statusAction prints the lifecycle view of the running live core.
func statusAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}

	info, err := control.ReadLock(cfg.LockPath())
	if err != nil {
		return err
	}

	status, err := control.NewClient(info.Socket, 5*time.Second).Status(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("pid:      %d\n", info.PID)
	fmt.Printf("state:    %s\n", status.State)
	fmt.Printf("session:  %s\n", status.SessionDate)
	fmt.Printf("run path: %s\n", status.RunPath)
	fmt.Printf("orders:   %d\n", status.Submitted)

	for _, symbol := range status.Symbols {
		fmt.Printf("  %-8s %s\n", symbol, status.Holds[symbol])
	}

	for name, at := range status.NextTimers {
		fmt.Printf("timer %s at %s\n", name, at.Format(time.RFC3339))
	}

	return nil
}

// rosterAction replaces the symbols of the running live core.
func rosterAction(ctx context.Context, cmd *cli.Command) error {
	symbols := cmd.Args().Slice()
	if len(symbols) == 0 {
		return errors.New(errors.ErrCodeMissingParameter, "roster needs at least one symbol")
	}

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}

	info, err := control.ReadLock(cfg.LockPath())
	if err != nil {
		return err
	}

	if err := control.NewClient(info.Socket, cmd.Duration("timeout")).SetRoster(ctx, info.Token, symbols); err != nil {
		return err
	}

	fmt.Printf("Roster set to %s\n", strings.Join(symbols, ", "))

	return nil
}

func schemaAction(_ context.Context, _ *cli.Command) error {
	schema, err := config.Schema()
	if err != nil {
		return err
	}

	fmt.Println(schema)

	return nil
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "argo-live",
		Usage:   "Run the live equity trading core",
		Version: version.GetVersion(),
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run market sessions until stopped",
				Flags:  []cli.Flag{configFlag()},
				Action: runAction,
			},
			{
				Name:  "stop",
				Usage: "Stop the running live core",
				Flags: []cli.Flag{
					configFlag(),
					&cli.DurationFlag{
						Name:  "wait",
						Usage: "How long to wait for the process to exit. Defaults to the graceful stop budget.",
					},
				},
				Action: stopAction,
			},
			{
				Name:   "status",
				Usage:  "Show the state of the running live core",
				Flags:  []cli.Flag{configFlag()},
				Action: statusAction,
			},
			{
				Name:      "roster",
				Usage:     "Replace the symbols of the running live core",
				ArgsUsage: "SYMBOL...",
				Flags: []cli.Flag{
					configFlag(),
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "How long to wait for the live core to apply the roster",
						Value: 30 * time.Second,
					},
				},
				Action: rosterAction,
			},
			{
				Name:   "schema",
				Usage:  "Print the JSON schema of the configuration file",
				Action: schemaAction,
			},
			{
				Name:  "version",
				Usage: "Print the version",
				Action: func(_ context.Context, _ *cli.Command) error {
					fmt.Println(version.GetVersion())

					return nil
				},
			},
		},
	}
}

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
