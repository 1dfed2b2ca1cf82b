package operation

import (
	"context"
	"fmt"
)

// Move renames a remote file: the destination is created with the source's
// content and the source becomes a deletion, both expressed in one pending
// change map.
type Move struct {
	base
	src string
	dst string
}

// NewMove validates and builds a move operation.
func NewMove(deps Deps, src, dst string) (*Move, error) {
	if src == "" || dst == "" {
		return nil, &ValidationError{Kind: KindMove, Reason: "source and destination paths are required"}
	}
	if src == dst {
		return nil, &ValidationError{Kind: KindMove, Reason: "source and destination are the same path"}
	}
	return &Move{base: newBase(deps, KindMove), src: src, dst: dst}, nil
}

// ComputeChanges stages the destination with the source's display content
// and the source as the empty-string deletion sentinel.
func (m *Move) ComputeChanges(ctx context.Context) (map[string]string, error) {
	file, exists, err := m.readRemote(ctx, m.src)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("cannot move %s: file does not exist remotely", m.src)
	}

	if _, dstExists, err := m.readRemote(ctx, m.dst); err != nil {
		return nil, err
	} else if dstExists {
		return nil, fmt.Errorf("cannot move to %s: destination already exists", m.dst)
	}

	return m.setComputed(map[string]string{
		m.dst: m.deps.Codec.Unwrap(m.src, file.Content),
		m.src: "",
	}), nil
}

// Copy duplicates a remote file under a new path, leaving the source
// untouched.
type Copy struct {
	base
	src string
	dst string
}

// NewCopy validates and builds a copy operation.
func NewCopy(deps Deps, src, dst string) (*Copy, error) {
	if src == "" || dst == "" {
		return nil, &ValidationError{Kind: KindCopy, Reason: "source and destination paths are required"}
	}
	if src == dst {
		return nil, &ValidationError{Kind: KindCopy, Reason: "source and destination are the same path"}
	}
	return &Copy{base: newBase(deps, KindCopy), src: src, dst: dst}, nil
}

// ComputeChanges stages the destination with the source's display content.
func (c *Copy) ComputeChanges(ctx context.Context) (map[string]string, error) {
	file, exists, err := c.readRemote(ctx, c.src)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("cannot copy %s: file does not exist remotely", c.src)
	}

	if _, dstExists, err := c.readRemote(ctx, c.dst); err != nil {
		return nil, err
	} else if dstExists {
		return nil, fmt.Errorf("cannot copy to %s: destination already exists", c.dst)
	}

	return c.setComputed(map[string]string{
		c.dst: c.deps.Codec.Unwrap(c.src, file.Content),
	}), nil
}
