// Package planner computes reconciliation plans from three snapshots: the
// local mirror tree, the remote tree, and the persisted manifest baseline.
//
// Planning is pure and read-only. It takes no locks and may run
// concurrently with anything else, including another plan or an in-flight
// apply; only the apply phase (see executor) is serialized.
package planner

import (
	"sort"

	"github.com/flatsync/flatsync/internal/blob"
	"github.com/flatsync/flatsync/internal/remote"
)

// Direction selects which side's changes a plan stages.
type Direction string

const (
	// Pull stages remote-side changes as local operations.
	Pull Direction = "pull"
	// Push stages local-side changes as remote operations.
	Push Direction = "push"
)

// OpType classifies a single plan operation.
type OpType string

const (
	OpCreate   OpType = "create"
	OpUpdate   OpType = "update"
	OpDelete   OpType = "delete"
	OpConflict OpType = "conflict"
)

// Operation is one step of a plan. Content carries the storage-form content
// of the winning side for creates and updates; ExpectedHash carries the
// baseline hash the operation was planned against, when one existed.
type Operation struct {
	Type         OpType `json:"type"`
	Path         string `json:"path"`
	Content      string `json:"content,omitempty"`
	ExpectedHash string `json:"expected_hash,omitempty"`
}

// Snapshot is one file's state in a tree: storage-form content and its
// git-blob hash.
type Snapshot struct {
	Hash    string
	Content string
}

// Tree maps remote path to snapshot.
type Tree map[string]Snapshot

// TreeFromRemote builds a Tree from a remote listing.
func TreeFromRemote(files []remote.File) Tree {
	tree := make(Tree, len(files))
	for _, f := range files {
		tree[f.Path] = Snapshot{Hash: f.Hash, Content: f.Content}
	}
	return tree
}

// TreeFromLocal builds a Tree from a mirror scan (display-form contents),
// wrapping each file to storage form so hashes line up with the remote's.
func TreeFromLocal(files map[string]string, codec remote.Codec) Tree {
	if codec == nil {
		codec = remote.IdentityCodec()
	}
	tree := make(Tree, len(files))
	for path, display := range files {
		storage := codec.Wrap(path, display)
		tree[path] = Snapshot{Hash: blob.HashString(storage), Content: storage}
	}
	return tree
}

// Plan reconciles the three snapshots for one direction.
//
// Per path, each side is "changed" when it diverged from the baseline
// (added, modified, or deleted). One-sided changes are staged when they are
// on the direction's source side and ignored otherwise. Two-sided changes
// to identical content are a no-op; two-sided changes to different content
// (including modified-versus-deleted) are always staged as OpConflict,
// which the executor refuses to auto-apply.
//
// Ordering: creates and updates come before deletions, so nothing in the
// batch references a file an earlier step already removed.
func Plan(local, remoteTree Tree, baseline map[string]string, direction Direction) []Operation {
	paths := make(map[string]struct{})
	for p := range local {
		paths[p] = struct{}{}
	}
	for p := range remoteTree {
		paths[p] = struct{}{}
	}
	for p := range baseline {
		paths[p] = struct{}{}
	}

	var ops []Operation
	for path := range paths {
		if op := classify(path, local, remoteTree, baseline, direction); op != nil {
			ops = append(ops, *op)
		}
	}

	sort.SliceStable(ops, func(i, j int) bool {
		di, dj := ops[i].Type == OpDelete, ops[j].Type == OpDelete
		if di != dj {
			return !di // non-deletions first
		}
		return ops[i].Path < ops[j].Path
	})
	return ops
}

func classify(path string, local, remoteTree Tree, baseline map[string]string, direction Direction) *Operation {
	loc, hasLocal := local[path]
	rem, hasRemote := remoteTree[path]
	base, hasBase := baseline[path]

	localChanged := changed(hasLocal, loc.Hash, hasBase, base)
	remoteChanged := changed(hasRemote, rem.Hash, hasBase, base)

	switch {
	case !localChanged && !remoteChanged:
		return nil

	case localChanged && remoteChanged:
		// Identical divergence (same edit or same deletion) is a no-op.
		if hasLocal == hasRemote && (!hasLocal || loc.Hash == rem.Hash) {
			return nil
		}
		return &Operation{Type: OpConflict, Path: path, ExpectedHash: base}

	case localChanged:
		if direction != Push {
			return nil
		}
		return stage(path, loc, hasLocal, hasRemote, base)

	default: // remoteChanged
		if direction != Pull {
			return nil
		}
		return stage(path, rem, hasRemote, hasLocal, base)
	}
}

// changed reports whether one side diverged from the baseline.
func changed(exists bool, hash string, hasBase bool, base string) bool {
	if exists {
		return !hasBase || hash != base
	}
	return hasBase // existed at baseline, gone now
}

// stage builds the operation applying the source side's state onto the
// target side.
func stage(path string, src Snapshot, srcExists, dstExists bool, base string) *Operation {
	if !srcExists {
		return &Operation{Type: OpDelete, Path: path, ExpectedHash: base}
	}
	opType := OpCreate
	if dstExists {
		opType = OpUpdate
	}
	return &Operation{Type: opType, Path: path, Content: src.Content, ExpectedHash: base}
}

// Conflicts returns only the conflict operations of a plan.
func Conflicts(ops []Operation) []Operation {
	var out []Operation
	for _, op := range ops {
		if op.Type == OpConflict {
			out = append(out, op)
		}
	}
	return out
}
