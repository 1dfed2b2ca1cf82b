// Package githook provides a commit pipeline hook: every orchestrated
// operation leaves a git commit in the local mirror, so the mirror's
// history doubles as an audit trail of what flatsync changed and when.
package githook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/flatsync/flatsync/internal/localfs"
	"github.com/flatsync/flatsync/internal/logging"
	"github.com/flatsync/flatsync/internal/operation"
)

// Options configures the commit signature.
type Options struct {
	AuthorName  string
	AuthorEmail string
}

const (
	defaultAuthorName  = "flatsync"
	defaultAuthorEmail = "flatsync@localhost"
)

// Commit returns a Hook that stages the pending paths in the mirror's git
// repository and commits them. The mirror root is initialized as a
// repository on first use. The hook never mutates content; it returns a nil
// map.
//
// Install it last in the pipeline so the commit records what earlier hooks
// (formatters) produced rather than the raw computed content.
func Commit(mirror *localfs.Mirror, opts Options) operation.Hook {
	if opts.AuthorName == "" {
		opts.AuthorName = defaultAuthorName
	}
	if opts.AuthorEmail == "" {
		opts.AuthorEmail = defaultAuthorEmail
	}

	return func(_ context.Context, info operation.HookInfo, pending map[string]string) (map[string]string, error) {
		if len(pending) == 0 {
			return nil, nil
		}

		repo, err := openOrInit(mirror.Root())
		if err != nil {
			return nil, fmt.Errorf("failed to open mirror repository: %w", err)
		}
		wt, err := repo.Worktree()
		if err != nil {
			return nil, fmt.Errorf("failed to open worktree: %w", err)
		}

		paths := make([]string, 0, len(pending))
		for path, content := range pending {
			paths = append(paths, path)
			// Earlier hooks may have rewritten content that is not on disk
			// yet; make the worktree match what will be applied.
			if content != "" {
				if err := mirror.Write(path, content); err != nil {
					return nil, fmt.Errorf("failed to stage %s: %w", path, err)
				}
			}
			// Add stages deletions too when the file is gone from disk.
			if _, err := wt.Add(path); err != nil {
				return nil, fmt.Errorf("failed to stage %s: %w", path, err)
			}
		}
		sort.Strings(paths)

		msg := fmt.Sprintf("%s %s (%s)", info.Kind, strings.Join(paths, ", "), info.ProjectID)
		hash, err := wt.Commit(msg, &git.CommitOptions{
			Author: &object.Signature{
				Name:  opts.AuthorName,
				Email: opts.AuthorEmail,
				When:  time.Now(),
			},
		})
		if errors.Is(err, git.ErrEmptyCommit) {
			// Content already matched the last commit.
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to commit: %w", err)
		}

		logging.Debug("committed operation",
			logging.Project(info.ProjectID),
			logging.Operation(string(info.Kind)),
			logging.Count(len(paths)),
			slog.String("commit", hash.String()[:8]),
		)
		return nil, nil
	}
}

func openOrInit(root string) (*git.Repository, error) {
	repo, err := git.PlainOpen(root)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return git.PlainInit(root, false)
	}
	return repo, err
}
