package operation

import (
	"context"
	"fmt"
	"strings"
)

// Edit replaces an exact substring in a remote file's display form.
type Edit struct {
	base
	path    string
	oldText string
	newText string
}

// NewEdit validates and builds an edit operation.
func NewEdit(deps Deps, path, oldText, newText string) (*Edit, error) {
	if path == "" {
		return nil, &ValidationError{Kind: KindEdit, Reason: "path is required"}
	}
	if oldText == "" {
		return nil, &ValidationError{Kind: KindEdit, Reason: "text to replace is required"}
	}
	if oldText == newText {
		return nil, &ValidationError{Kind: KindEdit, Reason: "replacement is identical to the original text"}
	}
	return &Edit{base: newBase(deps, KindEdit), path: path, oldText: oldText, newText: newText}, nil
}

// ComputeChanges fetches the current remote content, applies the
// substitution over the unwrapped display form, and stages the result.
// The target text must occur exactly once; zero or multiple occurrences
// would make the caller's intent ambiguous.
func (e *Edit) ComputeChanges(ctx context.Context) (map[string]string, error) {
	file, exists, err := e.readRemote(ctx, e.path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("cannot edit %s: file does not exist remotely", e.path)
	}

	display := e.deps.Codec.Unwrap(e.path, file.Content)
	switch n := strings.Count(display, e.oldText); {
	case n == 0:
		return nil, fmt.Errorf("cannot edit %s: text to replace not found", e.path)
	case n > 1:
		return nil, fmt.Errorf("cannot edit %s: text to replace occurs %d times, need exactly one", e.path, n)
	}

	return e.setComputed(map[string]string{
		e.path: strings.Replace(display, e.oldText, e.newText, 1),
	}), nil
}
