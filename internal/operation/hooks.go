package operation

import (
	"context"
)

// HookInfo gives hooks the operation's identity, mainly for commit message
// generation.
type HookInfo struct {
	ProjectID string
	Kind      Kind
}

// Hook is one stage of the local commit-and-validate pipeline. It receives
// the pending path → display-content map (empty string = deletion) and may
// return a modified map (a formatter, for example, rewrites content); a
// validator returns an error to abort the operation. Returning a nil map
// means "unchanged".
type Hook func(ctx context.Context, info HookInfo, pending map[string]string) (map[string]string, error)

// Pipeline runs hooks in order, feeding each one the previous output. The
// first error aborts the pipeline.
type Pipeline []Hook

// Run executes the pipeline over pending and returns the final content map.
// The input map is never mutated.
func (p Pipeline) Run(ctx context.Context, info HookInfo, pending map[string]string) (map[string]string, error) {
	current := make(map[string]string, len(pending))
	for path, content := range pending {
		current[path] = content
	}

	for _, hook := range p {
		out, err := hook(ctx, info, current)
		if err != nil {
			return nil, err
		}
		if out != nil {
			current = out
		}
	}
	return current, nil
}
