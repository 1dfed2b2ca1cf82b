// Package cli provides command definitions for flatsync.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/flatsync/flatsync/internal/config"
	"github.com/flatsync/flatsync/internal/executor"
	"github.com/flatsync/flatsync/internal/logging"
	"github.com/flatsync/flatsync/internal/planner"
	"github.com/flatsync/flatsync/internal/ui"
	"github.com/flatsync/flatsync/internal/watch"
)

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Display the effective configuration",
		Action: func(_ context.Context, cmd *cli.Command) error {
			var cfg *config.Config
			var err error
			if path := cmd.String("config"); path != "" {
				cfg, err = config.LoadFromPath(path)
			} else {
				cfg, err = config.Load()
				fmt.Printf("# %s\n", config.FilePath())
			}
			if err != nil {
				return err
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show pending changes in both directions",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := buildApp(cmd)
			if err != nil {
				return err
			}

			pushPlan, err := a.plan(ctx, planner.Push)
			if err != nil {
				return err
			}
			pullPlan, err := a.plan(ctx, planner.Pull)
			if err != nil {
				return err
			}

			if len(pushPlan) == 0 && len(pullPlan) == 0 {
				fmt.Println(ui.StatusSuccess("in sync"))
				return nil
			}

			printPlan("push (local changes)", pushPlan)
			printPlan("pull (remote changes)", pullPlan)
			return nil
		},
	}
}

func printPlan(heading string, plan []planner.Operation) {
	if len(plan) == 0 {
		return
	}
	fmt.Printf("%s:\n", heading)
	for _, op := range plan {
		line := fmt.Sprintf("%-8s %s", op.Type, op.Path)
		switch op.Type {
		case planner.OpConflict:
			fmt.Println("  " + ui.StatusConflict(line))
		case planner.OpDelete:
			fmt.Println("  " + ui.StatusWarning(line))
		default:
			fmt.Println("  " + line)
		}
	}
}

func pullCommand() *cli.Command {
	return syncCommand("pull", "Apply remote changes to the local mirror", planner.Pull)
}

func pushCommand() *cli.Command {
	return syncCommand("push", "Apply local changes to the remote project", planner.Push)
}

func syncCommand(name, usage string, direction planner.Direction) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "dry-run",
				Aliases: []string{"d"},
				Usage:   "Preview changes without applying them",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := buildApp(cmd)
			if err != nil {
				return err
			}
			return runSync(ctx, a, direction, cmd.Bool("dry-run"))
		},
	}
}

func runSync(ctx context.Context, a *app, direction planner.Direction, dryRun bool) error {
	plan, err := a.plan(ctx, direction)
	if err != nil {
		return err
	}
	if len(plan) == 0 {
		fmt.Println(ui.StatusSuccess("in sync"))
		return nil
	}

	if dryRun {
		printPlan(fmt.Sprintf("%s would apply", direction), plan)
		return nil
	}

	result, err := a.executor().Apply(ctx, a.project, plan, direction, a.manifest)
	if err != nil {
		return err
	}

	for _, path := range result.Succeeded {
		fmt.Println(ui.StatusSuccess(path))
	}
	for _, failed := range result.Failed {
		if errors.Is(failed.Err, executor.ErrConflict) {
			fmt.Println(ui.StatusConflict(fmt.Sprintf("%s: resolve manually, then retry", failed.Path)))
		} else {
			fmt.Println(ui.StatusError(fmt.Sprintf("%s: %v", failed.Path, failed.Err)))
		}
	}

	if !result.Complete() {
		return fmt.Errorf("%d of %d operations failed", len(result.Failed), len(plan))
	}
	return nil
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Watch the mirror and push local changes as they happen",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := buildApp(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			w, err := watch.New(a.mirror, a.cfg.Watch.Debounce)
			if err != nil {
				return err
			}
			defer w.Close()

			go func() {
				if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logging.Error("watcher stopped", logging.Err(err))
				}
			}()

			fmt.Printf("watching %s (ctrl-c to stop)\n", a.mirror.Root())
			for {
				select {
				case <-ctx.Done():
					return nil
				case batch := <-w.Batches():
					logging.Info("syncing changes", logging.Count(len(batch)))
					if err := runSync(ctx, a, planner.Push, false); err != nil {
						fmt.Println(ui.StatusError(err.Error()))
					}
				}
			}
		},
	}
}
