// Package blob computes content hashes in git blob form.
//
// The remote store keeps files in their wrapped storage form; hashing that
// form with the git blob scheme ("blob <len>\x00<bytes>", SHA-1) means the
// hashes recorded in the sync manifest can be reproduced by any git tooling
// pointed at the mirror, e.g. `git hash-object <file>`.
package blob

import (
	"github.com/go-git/go-git/v5/plumbing"
)

// Hash returns the git blob SHA-1 of content as a hex string.
func Hash(content []byte) string {
	return plumbing.ComputeHash(plumbing.BlobObject, content).String()
}

// HashString returns the git blob SHA-1 of a string as a hex string.
func HashString(content string) string {
	return Hash([]byte(content))
}

// Equal reports whether content hashes to the given hex hash.
func Equal(content []byte, hash string) bool {
	return Hash(content) == hash
}
