// Package supervisor owns the worker process lifecycle: executable
// discovery and build, start, ordered output streaming, graceful stop with
// forced-kill escalation, and terminal outcome reporting.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mystorage/mystorage/internal/common/config"
	apperrors "github.com/mystorage/mystorage/internal/common/errors"
	"github.com/mystorage/mystorage/internal/common/logger"
	"github.com/mystorage/mystorage/internal/events"
	"github.com/mystorage/mystorage/internal/events/bus"
	"github.com/mystorage/mystorage/internal/zipper/staging"
	"github.com/mystorage/mystorage/internal/zipper/stats"
	v1 "github.com/mystorage/mystorage/pkg/api/v1"
)

// diagnosticLineCount is how many trailing output lines are kept as failure
// context.
const diagnosticLineCount = 20

// StartRequest contains parameters for starting a worker session.
type StartRequest struct {
	SourcePath      string   `json:"source_path"`
	DestinationPath string   `json:"destination_path"`
	Secret          string   `json:"secret"`
	Parallelism     int      `json:"parallelism,omitempty"`
	SelectedFiles   []string `json:"selected_files,omitempty"` // selected-files mode when non-empty
}

// session is the supervisor's mutable view of one worker execution. The
// secret lives only here, never in the exported Session snapshot.
type session struct {
	mu sync.Mutex

	info       v1.Session
	cmd        *exec.Cmd
	aggregator *stats.Aggregator
	stagingDir string
	lastLines  []string

	stopRequested bool
	stopOnce      sync.Once
	done          chan struct{}
}

// Supervisor drives at most one worker session at a time.
type Supervisor struct {
	cfg      config.WorkerConfig
	eventBus bus.EventBus
	staging  *staging.Manager
	logger   *logger.Logger

	mu      sync.RWMutex
	current *session
}

// NewSupervisor creates a supervisor using the given worker configuration.
func NewSupervisor(cfg config.WorkerConfig, eventBus bus.EventBus, stagingMgr *staging.Manager, log *logger.Logger) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		eventBus: eventBus,
		staging:  stagingMgr,
		logger:   log.WithFields(zap.String("component", "supervisor")),
	}
}

// Start launches a new worker session.
//
// Fails fast when a session is already active, when the request is invalid,
// or when the worker executable is missing and cannot be built. A failed
// start leaves the supervisor idle. On success the session is Running and
// output flows through the event bus until the worker exits.
func (s *Supervisor) Start(ctx context.Context, req StartRequest) (*v1.Session, error) {
	if strings.TrimSpace(req.Secret) == "" {
		return nil, apperrors.ValidationError("secret", "secret must not be empty")
	}
	if req.SourcePath == "" && len(req.SelectedFiles) == 0 {
		return nil, apperrors.ValidationError("source_path", "a source folder or selected files are required")
	}
	if req.DestinationPath == "" {
		return nil, apperrors.ValidationError("destination_path", "destination path is required")
	}

	s.mu.RLock()
	if s.current != nil && !s.current.State().Terminal() {
		id := s.current.ID()
		s.mu.RUnlock()
		return nil, apperrors.AlreadyRunning(id)
	}
	s.mu.RUnlock()

	// The build can run up to its configured timeout, so it happens outside
	// the lock; state queries and stop requests stay responsive meanwhile.
	executable, err := s.ensureExecutable(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another start may have won the race while the build ran.
	if s.current != nil && !s.current.State().Terminal() {
		return nil, apperrors.AlreadyRunning(s.current.ID())
	}

	if err := os.MkdirAll(req.DestinationPath, 0755); err != nil {
		return nil, apperrors.ProcessFailed(
			fmt.Sprintf("failed to create output folder %s", req.DestinationPath), err)
	}

	inputFolder := req.SourcePath
	stagingDir := ""
	if len(req.SelectedFiles) > 0 {
		stagingDir = filepath.Join(req.DestinationPath, "temp_input")
		result, stageErr := s.staging.Stage(ctx, req.SelectedFiles, stagingDir)
		if stageErr != nil {
			s.staging.Unstage(stagingDir)
			return nil, apperrors.ProcessFailed("failed to stage selected files", stageErr)
		}
		if len(result.Staged) == 0 {
			s.staging.Unstage(stagingDir)
			return nil, apperrors.ValidationError("selected_files", "no valid files to process")
		}
		inputFolder = stagingDir
	}

	parallelism := req.Parallelism
	if parallelism <= 0 {
		parallelism = s.cfg.MaxThreads
	}

	sessionID := uuid.New().String()
	sess := &session{
		info: v1.Session{
			ID:              sessionID,
			State:           v1.SessionStateStarting,
			SourcePath:      inputFolder,
			DestinationPath: req.DestinationPath,
			Parallelism:     parallelism,
		},
		aggregator: stats.NewAggregator(),
		stagingDir: stagingDir,
		done:       make(chan struct{}),
	}

	cmd := exec.Command(executable)
	cmd.Dir = filepath.Dir(executable)
	cmd.Env = append(os.Environ(),
		"ZIPPER_INPUT_FOLDER="+inputFolder,
		"ZIPPER_OUTPUT_FOLDER="+req.DestinationPath,
		"ZIPPER_PASSWORD="+req.Secret,
		"ZIPPER_MAX_THREADS="+strconv.Itoa(parallelism),
	)
	// New process group so the stop path can kill the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// A single pipe carries stdout and stderr so lines arrive in the exact
	// order the worker emitted them.
	pr, pw, err := os.Pipe()
	if err != nil {
		s.staging.Unstage(stagingDir)
		return nil, apperrors.ProcessFailed("failed to create output pipe", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw
	sess.cmd = cmd

	s.logger.Info("starting worker",
		zap.String("session_id", sessionID),
		zap.String("input_folder", inputFolder),
		zap.String("output_folder", req.DestinationPath),
		zap.Int("parallelism", parallelism))

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		s.staging.Unstage(stagingDir)
		return nil, apperrors.ProcessFailed("failed to start worker", err)
	}
	// The child holds its own copy of the write end.
	pw.Close()

	now := time.Now().UTC()
	sess.mu.Lock()
	sess.info.State = v1.SessionStateRunning
	sess.info.StartedAt = &now
	sess.mu.Unlock()

	s.current = sess
	s.publishEvent(ctx, events.SessionStarted, sess, nil)

	go s.streamOutput(sess, pr)

	return sess.snapshot(), nil
}

// ensureExecutable locates the worker binary, attempting the configured
// build command when it is missing. The returned path is absolute: the
// command's working directory is the executable's directory, so a relative
// path with a directory component would otherwise resolve against itself.
func (s *Supervisor) ensureExecutable(ctx context.Context) (string, error) {
	path := s.cfg.ExecutablePath
	if _, err := os.Stat(path); err == nil {
		return filepath.Abs(path)
	}

	if s.cfg.BuildCommand == "" {
		return "", apperrors.ExecutableMissing(path)
	}

	s.logger.Info("worker executable not found, attempting to build",
		zap.String("path", path),
		zap.String("build_command", s.cfg.BuildCommand))

	buildCtx, cancel := context.WithTimeout(ctx, s.cfg.BuildTimeoutDuration())
	defer cancel()

	cmd := exec.CommandContext(buildCtx, "sh", "-c", s.cfg.BuildCommand)
	cmd.Dir = filepath.Dir(path)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if buildCtx.Err() == context.DeadlineExceeded {
			return "", apperrors.BuildTimeout(
				fmt.Sprintf("build exceeded %s", s.cfg.BuildTimeoutDuration()))
		}
		return "", apperrors.BuildFailed(strings.TrimSpace(string(output)), err)
	}

	if _, statErr := os.Stat(path); statErr != nil {
		return "", apperrors.ExecutableMissing(path)
	}

	s.logger.Info("worker build succeeded", zap.String("path", path))
	return filepath.Abs(path)
}

// streamOutput reads worker output line by line, feeds the aggregator,
// publishes log and stats events, then waits for exit and finalizes.
func (s *Supervisor) streamOutput(sess *session, pr *os.File) {
	defer pr.Close()

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		sess.recordLine(line)
		s.publishEvent(context.Background(), events.SessionLog, sess, map[string]interface{}{
			"line": line,
		})

		if snap, updated := sess.aggregator.Ingest(line); updated {
			sess.mu.Lock()
			sess.info.Stats = snap
			sess.mu.Unlock()
			s.publishEvent(context.Background(), events.SessionStats, sess, map[string]interface{}{
				"stats": snap,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Debug("worker output read error", zap.Error(err))
	}

	s.finalize(sess, sess.cmd.Wait())
}

// finalize resolves the session's terminal state from the worker's exit and
// releases session resources. It runs exactly once per session.
func (s *Supervisor) finalize(sess *session, waitErr error) {
	exitCode := 0
	if waitErr != nil {
		exitCode = 1
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			if waitStatus, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				exitCode = waitStatus.ExitStatus()
			}
		}
	}

	sess.mu.Lock()
	stopped := sess.stopRequested
	outcome := &v1.SessionOutcome{
		ExitCode: exitCode,
		Stopped:  stopped,
	}
	switch {
	case stopped:
		// A stop-requested exit is a completed session, not a worker failure.
		sess.info.State = v1.SessionStateCompleted
		outcome.Diagnostic = "stopped by request"
	case exitCode == 0:
		sess.info.State = v1.SessionStateCompleted
		outcome.Success = true
	default:
		sess.info.State = v1.SessionStateFailed
		outcome.Diagnostic = strings.Join(sess.lastLines, "\n")
	}
	now := time.Now().UTC()
	sess.info.FinishedAt = &now
	sess.info.Outcome = outcome
	sess.info.Stats = sess.aggregator.Snapshot()
	stagingDir := sess.stagingDir
	sess.mu.Unlock()

	if stagingDir != "" {
		s.staging.Unstage(stagingDir)
	}

	eventType := events.SessionCompleted
	if sess.State() == v1.SessionStateFailed {
		eventType = events.SessionFailed
	}
	s.publishEvent(context.Background(), eventType, sess, map[string]interface{}{
		"outcome": outcome,
	})

	s.logger.Info("worker session finished",
		zap.String("session_id", sess.ID()),
		zap.String("state", string(sess.State())),
		zap.Int("exit_code", exitCode),
		zap.Bool("stopped", stopped))

	close(sess.done)
}

// RequestStop asks the running worker to terminate, escalating to a forced
// kill after the configured grace period. Calling it with no running
// session is a no-op. Idempotent.
func (s *Supervisor) RequestStop(ctx context.Context) {
	s.mu.RLock()
	sess := s.current
	s.mu.RUnlock()

	if sess == nil || sess.State().Terminal() {
		return
	}

	sess.stopOnce.Do(func() {
		sess.mu.Lock()
		sess.stopRequested = true
		if !sess.info.State.Terminal() {
			sess.info.State = v1.SessionStateStopping
		}
		cmd := sess.cmd
		sess.mu.Unlock()

		s.logger.Info("stop requested", zap.String("session_id", sess.ID()))
		s.publishEvent(ctx, events.SessionStopping, sess, nil)

		if cmd == nil || cmd.Process == nil {
			return
		}

		pgid, pgidErr := syscall.Getpgid(cmd.Process.Pid)
		if pgidErr == nil {
			_ = syscall.Kill(-pgid, syscall.SIGTERM)
		} else {
			_ = cmd.Process.Signal(syscall.SIGTERM)
		}

		grace := s.cfg.StopGraceDuration()
		go func() {
			select {
			case <-sess.done:
			case <-time.After(grace):
				s.logger.Warn("grace period expired, forcing kill",
					zap.String("session_id", sess.ID()))
				if pgidErr == nil {
					_ = syscall.Kill(-pgid, syscall.SIGKILL)
				} else {
					_ = cmd.Process.Kill()
				}
			}
		}()
	})
}

// Wait blocks until the current session reaches a terminal state or the
// context is cancelled.
func (s *Supervisor) Wait(ctx context.Context) (*v1.SessionOutcome, error) {
	s.mu.RLock()
	sess := s.current
	s.mu.RUnlock()

	if sess == nil {
		return nil, apperrors.NotFound("session", "current")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-sess.done:
	}

	sess.mu.Lock()
	outcome := *sess.info.Outcome
	sess.mu.Unlock()
	return &outcome, nil
}

// Current returns a snapshot of the active or most recent session.
func (s *Supervisor) Current() (*v1.Session, bool) {
	s.mu.RLock()
	sess := s.current
	s.mu.RUnlock()

	if sess == nil {
		return nil, false
	}
	return sess.snapshot(), true
}

// Reset clears a terminal session, returning the supervisor to idle.
func (s *Supervisor) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil
	}
	if !s.current.State().Terminal() {
		return apperrors.Conflict("cannot reset: session is still active")
	}
	s.current = nil
	return nil
}

// publishEvent publishes a session event to the bus. The secret is never
// part of the payload.
func (s *Supervisor) publishEvent(ctx context.Context, eventType string, sess *session, extra map[string]interface{}) {
	if s.eventBus == nil {
		return
	}

	sess.mu.Lock()
	data := map[string]interface{}{
		"session_id": sess.info.ID,
		"state":      string(sess.info.State),
	}
	sess.mu.Unlock()
	for k, v := range extra {
		data[k] = v
	}

	event := bus.NewEvent(eventType, "zipper-manager", data)
	if err := s.eventBus.Publish(ctx, eventType, event); err != nil {
		s.logger.Error("failed to publish event",
			zap.String("event_type", eventType),
			zap.String("session_id", sess.ID()),
			zap.Error(err))
	}
}

func (sess *session) ID() string {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.info.ID
}

func (sess *session) State() v1.SessionState {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.info.State
}

// recordLine keeps the trailing output lines used as failure diagnostics.
func (sess *session) recordLine(line string) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.lastLines = append(sess.lastLines, line)
	if len(sess.lastLines) > diagnosticLineCount {
		sess.lastLines = sess.lastLines[1:]
	}
}

// snapshot returns a copy of the session safe to hand to callers.
func (sess *session) snapshot() *v1.Session {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	info := sess.info
	if sess.info.Outcome != nil {
		outcome := *sess.info.Outcome
		info.Outcome = &outcome
	}
	return &info
}
