package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/flatsync/flatsync/internal/operation"
	"github.com/flatsync/flatsync/internal/ui"
)

func putCommand() *cli.Command {
	return &cli.Command{
		Name:      "put",
		Usage:     "Write a file to the remote project (and the local mirror)",
		UsageText: "flatsync put <path> [source-file]",
		Description: `Write content to a remote path. The content comes from the named
   source file, or from stdin when the source is omitted or "-".`,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args := cmd.Args()
			if args.Len() < 1 || args.Len() > 2 {
				return errors.New("put requires a remote path and an optional source file")
			}

			content, err := readSource(args.Get(1))
			if err != nil {
				return err
			}

			return runOperation(ctx, cmd, func(deps operation.Deps) (operation.Strategy, error) {
				s, err := operation.NewWrite(deps, args.Get(0), content)
				return s, err
			})
		},
	}
}

func catCommand() *cli.Command {
	return &cli.Command{
		Name:      "cat",
		Usage:     "Print a remote file",
		UsageText: "flatsync cat <path>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return errors.New("cat requires exactly one remote path")
			}
			a, err := buildApp(cmd)
			if err != nil {
				return err
			}

			path := cmd.Args().Get(0)
			file, err := a.client.GetFile(ctx, a.project, path)
			if err != nil {
				return err
			}
			fmt.Print(a.codec.Unwrap(path, file.Content))
			return nil
		},
	}
}

func editCommand() *cli.Command {
	return &cli.Command{
		Name:      "edit",
		Usage:     "Replace an exact text fragment in a remote file",
		UsageText: "flatsync edit <path> <old-text> <new-text>",
		Description: `Replace old-text with new-text in the named file. old-text must
   occur exactly once; ambiguous or missing fragments abort the edit.`,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args := cmd.Args()
			if args.Len() != 3 {
				return errors.New("edit requires exactly 3 arguments: <path> <old-text> <new-text>")
			}
			return runOperation(ctx, cmd, func(deps operation.Deps) (operation.Strategy, error) {
				s, err := operation.NewEdit(deps, args.Get(0), args.Get(1), args.Get(2))
				return s, err
			})
		},
	}
}

func mvCommand() *cli.Command {
	return &cli.Command{
		Name:      "mv",
		Usage:     "Rename a remote file",
		UsageText: "flatsync mv <source> <destination>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args := cmd.Args()
			if args.Len() != 2 {
				return errors.New("mv requires exactly 2 arguments: <source> <destination>")
			}
			return runOperation(ctx, cmd, func(deps operation.Deps) (operation.Strategy, error) {
				s, err := operation.NewMove(deps, args.Get(0), args.Get(1))
				return s, err
			})
		},
	}
}

func cpCommand() *cli.Command {
	return &cli.Command{
		Name:      "cp",
		Usage:     "Copy a remote file",
		UsageText: "flatsync cp <source> <destination>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args := cmd.Args()
			if args.Len() != 2 {
				return errors.New("cp requires exactly 2 arguments: <source> <destination>")
			}
			return runOperation(ctx, cmd, func(deps operation.Deps) (operation.Strategy, error) {
				s, err := operation.NewCopy(deps, args.Get(0), args.Get(1))
				return s, err
			})
		},
	}
}

func rmCommand() *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Usage:     "Delete a remote file",
		UsageText: "flatsync rm <path>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return errors.New("rm requires exactly one remote path")
			}
			return runOperation(ctx, cmd, func(deps operation.Deps) (operation.Strategy, error) {
				s, err := operation.NewDelete(deps, cmd.Args().Get(0))
				return s, err
			})
		},
	}
}

// runOperation wires an app, builds the strategy, and executes it through
// the orchestrator, reporting the outcome and any collisions.
func runOperation(ctx context.Context, cmd *cli.Command, build func(operation.Deps) (operation.Strategy, error)) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}

	strategy, err := build(a.deps())
	if err != nil {
		return err
	}

	result, err := a.orchestrator().Execute(ctx, strategy)
	if result != nil && result.Collisions.HasCollisions {
		fmt.Println(ui.StatusWarning("remote drift detected:"))
		for _, stale := range result.Collisions.StaleFiles {
			fmt.Printf("  %s (%s)\n", stale.Path, stale.Action)
			if stale.Diff != "" {
				fmt.Println(stale.Diff)
			}
		}
	}
	if err != nil {
		return err
	}

	for _, path := range result.AffectedFiles {
		fmt.Println(ui.StatusSuccess(fmt.Sprintf("%s %s", result.Kind, path)))
	}
	return nil
}

func readSource(source string) (string, error) {
	if source == "" || source == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}

	// #nosec G304 - source is a user-supplied file argument
	data, err := os.ReadFile(source)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", source, err)
	}
	return string(data), nil
}
