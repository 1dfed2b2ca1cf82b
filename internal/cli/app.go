package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/flatsync/flatsync/internal/backup"
	"github.com/flatsync/flatsync/internal/collision"
	"github.com/flatsync/flatsync/internal/config"
	"github.com/flatsync/flatsync/internal/executor"
	"github.com/flatsync/flatsync/internal/githook"
	"github.com/flatsync/flatsync/internal/localfs"
	"github.com/flatsync/flatsync/internal/manifest"
	"github.com/flatsync/flatsync/internal/operation"
	"github.com/flatsync/flatsync/internal/planner"
	"github.com/flatsync/flatsync/internal/ratelimit"
	"github.com/flatsync/flatsync/internal/remote"
	"github.com/flatsync/flatsync/internal/remote/dirstore"
	"github.com/flatsync/flatsync/internal/util"
)

// app bundles the wired-up components every command needs.
type app struct {
	cfg      *config.Config
	project  string
	mirror   *localfs.Mirror
	client   remote.Client
	codec    remote.Codec
	limiter  *ratelimit.Limiter
	manifest *manifest.Manifest
}

// buildApp resolves config, flags, and environment into a ready app.
func buildApp(cmd *cli.Command) (*app, error) {
	var cfg *config.Config
	var err error
	if path := cmd.String("config"); path != "" {
		cfg, err = config.LoadFromPath(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	project := cmd.String("project")
	if project == "" {
		project = cfg.Project
	}
	if project == "" {
		return nil, errors.New("no project set: pass --project or set 'project' in the config")
	}

	mirrorRoot := cmd.String("dir")
	if mirrorRoot == "" {
		mirrorRoot = cfg.Mirror.Root
	}
	mirror, err := localfs.New(util.ExpandPath(mirrorRoot), cfg.Mirror.Ignore)
	if err != nil {
		return nil, fmt.Errorf("failed to open mirror: %w", err)
	}

	client, err := buildClient(cfg)
	if err != nil {
		return nil, err
	}

	capacity, refill := cfg.Remote.LimiterParams()
	limiter := ratelimit.New(capacity, refill)

	man, err := manifest.Load(mirror.Root())
	if err != nil {
		return nil, fmt.Errorf("failed to load sync manifest: %w", err)
	}

	return &app{
		cfg:      cfg,
		project:  project,
		mirror:   mirror,
		client:   remote.Throttled(client, limiter),
		codec:    remote.IdentityCodec(),
		limiter:  limiter,
		manifest: man,
	}, nil
}

func buildClient(cfg *config.Config) (remote.Client, error) {
	switch cfg.Remote.Type {
	case "dir", "":
		if cfg.Remote.Root == "" {
			return nil, errors.New("remote.root is not set in the config")
		}
		return dirstore.New(util.ExpandPath(cfg.Remote.Root))
	default:
		return nil, fmt.Errorf("unknown remote type %q", cfg.Remote.Type)
	}
}

// hooks assembles the local commit pipeline from config.
func (a *app) hooks() operation.Pipeline {
	var pipeline operation.Pipeline
	if a.cfg.Hooks.GitCommit {
		pipeline = append(pipeline, githook.Commit(a.mirror, githook.Options{
			AuthorName:  a.cfg.Hooks.AuthorName,
			AuthorEmail: a.cfg.Hooks.AuthorEmail,
		}))
	}
	return pipeline
}

func (a *app) archiver() *backup.Archiver {
	if !a.cfg.Backup.Enabled {
		return nil
	}
	return backup.New(a.project)
}

func (a *app) orchestrator() *operation.Orchestrator {
	return operation.NewOrchestrator(a.mirror,
		operation.WithHooks(a.hooks()),
		operation.WithManifest(a.manifest),
		operation.WithLockTimeout(a.cfg.Lock.Timeout),
	)
}

func (a *app) deps() operation.Deps {
	format := collision.ParseFormat(a.cfg.Collision.DiffFormat)
	return operation.NewDepsWithFormat(a.client, a.codec, a.project, format)
}

func (a *app) executor() *executor.Executor {
	opts := []executor.Option{executor.WithLockTimeout(a.cfg.Lock.Timeout)}
	if arch := a.archiver(); arch != nil {
		opts = append(opts,
			executor.WithArchiver(arch),
			executor.WithRetention(a.cfg.Backup.Retention),
		)
	}
	return executor.New(a.client, a.mirror, a.codec, opts...)
}

// plan scans both sides and diffs them against the manifest baseline.
func (a *app) plan(ctx context.Context, direction planner.Direction) ([]planner.Operation, error) {
	localFiles, err := a.mirror.Scan()
	if err != nil {
		return nil, fmt.Errorf("failed to scan mirror: %w", err)
	}

	remoteFiles, err := a.client.ListFiles(ctx, a.project)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			remoteFiles = nil // project not created remotely yet
		} else {
			return nil, fmt.Errorf("failed to list remote files: %w", err)
		}
	}

	local := planner.TreeFromLocal(localFiles, a.codec)
	remoteTree := planner.TreeFromRemote(remoteFiles)
	return planner.Plan(local, remoteTree, a.manifest.Baseline(), direction), nil
}
