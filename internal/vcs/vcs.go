// Package vcs locates the version control repository around a workspace
// and resolves the local user's identity from it.
//
// Both git and jj (Jujutsu) repositories are recognized, including
// colocated repositories and git worktrees. The monitor uses the result to
// pick a default root, to ignore VCS metadata directories, and to attribute
// local edits to the repository's configured user.
package vcs

import "errors"

// Type represents the VCS backend type
type Type string

const (
	// TypeGit indicates a git-only repository
	TypeGit Type = "git"

	// TypeJJ indicates a jj-only repository (non-colocated)
	TypeJJ Type = "jj"

	// TypeColocate indicates a colocated repository (jj + git together)
	TypeColocate Type = "colocate"
)

// String returns the string representation of the VCS type
func (t Type) String() string {
	return string(t)
}

var (
	// ErrNotInVCS is returned when no repository encloses the path.
	ErrNotInVCS = errors.New("not in a VCS repository")

	// ErrNoIdentity is returned when the repository has no usable user
	// name or email configured.
	ErrNoIdentity = errors.New("no VCS user identity configured")
)
