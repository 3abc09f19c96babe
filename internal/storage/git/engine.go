// Package git inspects and mutates the storage repository's version control
// state. State is fully re-derived on every call; nothing is cached.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/mystorage/mystorage/internal/common/errors"
	"github.com/mystorage/mystorage/internal/common/logger"
	v1 "github.com/mystorage/mystorage/pkg/api/v1"
)

// Identity is the author identity applied before a commit. Empty fields are
// left as the repository's ambient configuration.
type Identity struct {
	Name  string
	Email string
}

// Engine executes version control operations against one repository path.
type Engine struct {
	repoPath string
	logger   *logger.Logger

	mu         sync.Mutex // Prevents concurrent mutating operations
	inProgress bool
}

// NewEngine creates an Engine bound to the given repository path.
func NewEngine(repoPath string, log *logger.Logger) *Engine {
	return &Engine{
		repoPath: repoPath,
		logger:   log.WithFields(zap.String("component", "git-engine"), zap.String("repo_path", repoPath)),
	}
}

// RepoPath returns the repository path the engine operates on.
func (e *Engine) RepoPath() string {
	return e.repoPath
}

// runGit executes a git command in the repository directory. extraEnv entries
// are appended to the inherited environment and are never logged.
func (e *Engine) runGit(ctx context.Context, extraEnv []string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = e.repoPath
	if len(extraEnv) > 0 {
		cmd.Env = append(os.Environ(), extraEnv...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug("executing git command", zap.Strings("args", args))

	err := cmd.Run()
	output := stdout.String()
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n"
		}
		output += stderr.String()
	}

	if err != nil {
		return output, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}

	return output, nil
}

// Status re-derives a point-in-time snapshot of the repository. The three
// underlying queries are read-only and run concurrently. On any query
// failure it returns a single opaque status-query error, never a partially
// filled snapshot.
func (e *Engine) Status(ctx context.Context) (*v1.RepositoryStatus, error) {
	var branchOut, statusOut string
	var revertInProgress bool

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := e.runGit(gctx, nil, "rev-parse", "--abbrev-ref", "HEAD")
		if err != nil {
			return apperrors.StatusQuery("failed to query current branch", err)
		}
		branchOut = out
		return nil
	})
	g.Go(func() error {
		out, err := e.runGit(gctx, nil, "status", "--porcelain")
		if err != nil {
			return apperrors.StatusQuery("failed to query working tree status", err)
		}
		statusOut = out
		return nil
	})
	g.Go(func() error {
		inProgress, err := e.revertInProgress(gctx)
		if err != nil {
			return apperrors.StatusQuery("failed to locate repository control directory", err)
		}
		revertInProgress = inProgress
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	status := &v1.RepositoryStatus{
		Branch:           strings.TrimSpace(branchOut),
		RevertInProgress: revertInProgress,
	}
	for _, line := range strings.Split(statusOut, "\n") {
		classifyStatusLine(line, status)
	}
	status.HasChanges = len(status.Modified) > 0 || len(status.Untracked) > 0 ||
		len(status.Staged) > 0 || len(status.Deleted) > 0

	return status, nil
}

// classifyStatusLine parses one porcelain status line into the categorized
// lists. A path may land in more than one category; that is preserved, not
// deduplicated.
func classifyStatusLine(line string, status *v1.RepositoryStatus) {
	if len(line) < 4 || strings.TrimSpace(line) == "" {
		return
	}
	code := line[:2]
	path := strings.TrimSpace(line[3:])
	if path == "" {
		return
	}

	if code == "??" {
		status.Untracked = append(status.Untracked, path)
		return
	}

	// index state
	if code[0] == 'A' || code[0] == 'M' {
		status.Staged = append(status.Staged, path)
	}
	if code[0] == 'D' {
		status.Deleted = append(status.Deleted, path)
	}
	// working tree state
	if code[1] == 'M' {
		status.Modified = append(status.Modified, path)
	}
	if code[1] == 'D' {
		status.Deleted = append(status.Deleted, path)
	}
}

// revertInProgress reports whether a REVERT_HEAD marker exists in the
// repository's control directory. The control directory is resolved through
// git so linked worktrees are handled correctly.
func (e *Engine) revertInProgress(ctx context.Context) (bool, error) {
	out, err := e.runGit(ctx, nil, "rev-parse", "--git-dir")
	if err != nil {
		return false, err
	}
	gitDir := strings.TrimSpace(out)
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(e.repoPath, gitDir)
	}
	_, statErr := os.Stat(filepath.Join(gitDir, "REVERT_HEAD"))
	return statErr == nil, nil
}

// Publish runs the commit+push workflow: configure author identity, stage all
// changes, commit with the given message, push to the configured remote. The
// four steps run in strict sequence; the first failing step aborts the rest
// and its diagnostic becomes the transaction outcome. A commit failing
// because nothing is staged is surfaced like any other commit failure.
//
// token, when non-empty, substitutes for ambient credentials on the push step
// and is never written to logs or the returned outcome.
func (e *Engine) Publish(ctx context.Context, commitMessage string, identity Identity, token string) (*v1.PushOutcome, error) {
	if strings.TrimSpace(commitMessage) == "" {
		return nil, apperrors.ValidationError("commit_message", "commit message must not be empty")
	}

	if !e.tryLock() {
		return nil, apperrors.Conflict("a repository operation is already in progress")
	}
	defer e.unlock()

	if step, appErr := e.runPublishSteps(ctx, commitMessage, identity, token); appErr != nil {
		e.logger.Warn("publish failed",
			zap.String("failed_step", step),
			zap.String("diagnostic", appErr.Message))
		return &v1.PushOutcome{
			Success:    false,
			FailedStep: step,
			Message:    appErr.Message,
		}, nil
	}

	e.logger.Info("publish completed", zap.String("commit_message", commitMessage))
	return &v1.PushOutcome{
		Success: true,
		Message: "push successful",
	}, nil
}

// runPublishSteps executes the four publish steps in order, returning the
// name of the first failing step alongside its step-tagged error.
func (e *Engine) runPublishSteps(ctx context.Context, commitMessage string, identity Identity, token string) (string, *apperrors.AppError) {
	if identity.Name != "" {
		if out, err := e.runGit(ctx, nil, "config", "user.name", identity.Name); err != nil {
			return "identity", apperrors.PublishStep("identity", diagnostic(out, err), err)
		}
	}
	if identity.Email != "" {
		if out, err := e.runGit(ctx, nil, "config", "user.email", identity.Email); err != nil {
			return "identity", apperrors.PublishStep("identity", diagnostic(out, err), err)
		}
	}

	if out, err := e.runGit(ctx, nil, "add", "."); err != nil {
		return "add", apperrors.PublishStep("add", diagnostic(out, err), err)
	}

	if out, err := e.runGit(ctx, nil, "commit", "-m", commitMessage); err != nil {
		return "commit", apperrors.PublishStep("commit", diagnostic(out, err), err)
	}

	var pushEnv []string
	if token != "" {
		// Hand the token to git without ever putting it on a command line.
		pushEnv = []string{"GIT_ASKPASS=echo", "GITHUB_TOKEN=" + token}
	}
	if out, err := e.runGit(ctx, pushEnv, "push"); err != nil {
		return "push", apperrors.PublishStep("push", diagnostic(out, err), err)
	}

	return "", nil
}

// diagnostic prefers the command's captured output, falling back to the
// process error when the command produced none.
func diagnostic(out string, err error) string {
	if d := strings.TrimSpace(out); d != "" {
		return d
	}
	return err.Error()
}

// tryLock attempts to acquire the operation lock without blocking.
func (e *Engine) tryLock() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inProgress {
		return false
	}
	e.inProgress = true
	return true
}

func (e *Engine) unlock() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inProgress = false
}
