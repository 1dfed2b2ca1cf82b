package operation

import (
	"context"
)

// Write creates or overwrites a single remote file with caller-supplied
// display-form content.
type Write struct {
	base
	path    string
	content string
}

// NewWrite validates and builds a write operation.
func NewWrite(deps Deps, path, content string) (*Write, error) {
	if path == "" {
		return nil, &ValidationError{Kind: KindWrite, Reason: "path is required"}
	}
	if content == "" {
		return nil, &ValidationError{Kind: KindWrite, Reason: "content is required (use a delete operation to remove a file)"}
	}
	return &Write{base: newBase(deps, KindWrite), path: path, content: content}, nil
}

// ComputeChanges records the file's current remote state (for collision
// reporting and rollback) and stages the new content.
func (w *Write) ComputeChanges(ctx context.Context) (map[string]string, error) {
	if _, _, err := w.readRemote(ctx, w.path); err != nil {
		return nil, err
	}
	return w.setComputed(map[string]string{w.path: w.content}), nil
}
