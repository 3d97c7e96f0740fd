package vcs

import (
	"os"
	"path/filepath"
	"strings"
)

// Repo describes a detected repository.
type Repo struct {
	// Type is the detected VCS type
	Type Type

	// Root is the repository root directory path
	Root string

	// MetaDirs are the VCS metadata directory names present at Root
	// (".git", ".jj").
	MetaDirs []string

	// IsWorktree indicates Root is a git worktree, not the main repo
	IsWorktree bool
}

// HasGit reports whether git metadata was found.
func (r *Repo) HasGit() bool { return r.Type == TypeGit || r.Type == TypeColocate }

// HasJJ reports whether jj metadata was found.
func (r *Repo) HasJJ() bool { return r.Type == TypeJJ || r.Type == TypeColocate }

// Detect walks up from path to the nearest directory holding a .jj
// directory or a .git directory or file.
//
// Returns ErrNotInVCS if the filesystem root is reached first.
func Detect(path string) (*Repo, error) {
	current, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	for {
		repo := &Repo{Root: current}

		var hasJJ, hasGit bool
		if info, err := os.Stat(filepath.Join(current, ".jj")); err == nil && info.IsDir() {
			hasJJ = true
			repo.MetaDirs = append(repo.MetaDirs, ".jj")
		}
		if info, err := os.Stat(filepath.Join(current, ".git")); err == nil {
			hasGit = true
			repo.MetaDirs = append(repo.MetaDirs, ".git")
			// A .git file points at the main repository's worktree dir.
			repo.IsWorktree = info.Mode().IsRegular() && isWorktreeFile(filepath.Join(current, ".git"))
		}

		switch {
		case hasJJ && hasGit:
			repo.Type = TypeColocate
			return repo, nil
		case hasJJ:
			repo.Type = TypeJJ
			return repo, nil
		case hasGit:
			repo.Type = TypeGit
			return repo, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return nil, ErrNotInVCS
		}
		current = parent
	}
}

// isWorktreeFile reports whether a .git file holds a gitdir pointer.
//
//	gitdir: /path/to/main/.git/worktrees/worktree-name
func isWorktreeFile(gitFile string) bool {
	content, err := os.ReadFile(gitFile)
	if err != nil {
		return false
	}
	return strings.HasPrefix(strings.TrimSpace(string(content)), "gitdir: ")
}
