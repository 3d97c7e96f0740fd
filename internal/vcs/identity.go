package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/steveyegge/wsmon/internal/validate"
)

// Runner executes a command in dir and returns its stdout.
type Runner func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

// identityTimeout bounds each config lookup.
const identityTimeout = 5 * time.Second

// Identity returns an editor id for the repository's configured user.
//
// jj settings are consulted before git for jj and colocated repositories.
// The email is preferred because it is already a valid editor id; a name is
// normalized with validate.NormalizeEditorID. A nil run uses
// os/exec.
func (r *Repo) Identity(ctx context.Context, run Runner) (string, error) {
	if run == nil {
		run = Exec
	}

	type lookup struct {
		name string
		args []string
	}
	var lookups []lookup
	if r.HasJJ() {
		lookups = append(lookups,
			lookup{"jj", []string{"config", "get", "user.email"}},
			lookup{"jj", []string{"config", "get", "user.name"}},
		)
	}
	if r.HasGit() {
		lookups = append(lookups,
			lookup{"git", []string{"config", "user.email"}},
			lookup{"git", []string{"config", "user.name"}},
		)
	}

	for _, l := range lookups {
		out, err := run(ctx, r.Root, l.name, l.args...)
		if err != nil {
			continue
		}
		if id := validate.NormalizeEditorID(string(out)); id != "" {
			return id, nil
		}
	}
	return "", ErrNoIdentity
}

// Exec runs name with args in dir, bounded by identityTimeout.
func Exec(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, identityTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}
