package operation

import (
	"context"
	"fmt"
)

// Delete removes a single remote file.
type Delete struct {
	base
	path string
}

// NewDelete validates and builds a delete operation.
func NewDelete(deps Deps, path string) (*Delete, error) {
	if path == "" {
		return nil, &ValidationError{Kind: KindDelete, Reason: "path is required"}
	}
	return &Delete{base: newBase(deps, KindDelete), path: path}, nil
}

// ComputeChanges verifies the file exists and stages its deletion via the
// empty-string sentinel.
func (d *Delete) ComputeChanges(ctx context.Context) (map[string]string, error) {
	_, exists, err := d.readRemote(ctx, d.path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("cannot delete %s: file does not exist remotely", d.path)
	}
	return d.setComputed(map[string]string{d.path: ""}), nil
}
