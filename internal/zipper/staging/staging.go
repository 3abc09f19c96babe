// Package staging copies user-selected files into a single flat working
// directory before handing them to the worker.
//
// Name collisions are resolved deterministically by appending _<n> before the
// extension. Sources that vanish between selection and staging are skipped
// and reported, never fatal to the batch.
package staging

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/mystorage/mystorage/internal/common/logger"
	v1 "github.com/mystorage/mystorage/pkg/api/v1"
)

// SkippedFile reports one source that could not be staged.
type SkippedFile struct {
	SourcePath string `json:"source_path"`
	Reason     string `json:"reason"`
}

// Result is the outcome of one staging pass.
type Result struct {
	Staged  []v1.StagedFile `json:"staged"`
	Skipped []SkippedFile   `json:"skipped"`
}

// Manager stages files into collision-safe working sets.
type Manager struct {
	logger *logger.Logger
}

// NewManager creates a new staging manager.
func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		logger: log.WithFields(zap.String("component", "staging-manager")),
	}
}

// Stage copies each source into destDir. A file source is copied directly;
// a directory source is walked recursively and every contained file lands
// flat in destDir, preserving no directory structure. The destination
// directory is created if needed.
//
// The returned Result lists every staged file and every skipped source.
// Only a destination-level failure (e.g. destDir not creatable) returns an
// error; per-source problems are reported in Result.Skipped.
func (m *Manager) Stage(ctx context.Context, sources []string, destDir string) (*Result, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory %s: %w", destDir, err)
	}

	result := &Result{}
	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		info, err := os.Stat(source)
		if err != nil {
			m.logger.Warn("source vanished before staging",
				zap.String("source", source),
				zap.Error(err))
			result.Skipped = append(result.Skipped, SkippedFile{
				SourcePath: source,
				Reason:     err.Error(),
			})
			continue
		}

		if info.IsDir() {
			m.stageDirectory(ctx, source, destDir, result)
			continue
		}

		m.stageFile(source, destDir, result)
	}

	m.logger.Info("staging pass completed",
		zap.String("dest_dir", destDir),
		zap.Int("staged", len(result.Staged)),
		zap.Int("skipped", len(result.Skipped)))

	return result, nil
}

// Unstage removes the entire staging directory tree. Removal failures are
// logged informationally only; staged copies are disposable.
func (m *Manager) Unstage(destDir string) {
	if destDir == "" {
		return
	}
	if err := os.RemoveAll(destDir); err != nil {
		m.logger.Warn("failed to remove staging directory",
			zap.String("dest_dir", destDir),
			zap.Error(err))
		return
	}
	m.logger.Debug("removed staging directory", zap.String("dest_dir", destDir))
}

// stageDirectory walks a source directory, staging every regular file.
func (m *Manager) stageDirectory(ctx context.Context, dir, destDir string, result *Result) {
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			result.Skipped = append(result.Skipped, SkippedFile{
				SourcePath: path,
				Reason:     err.Error(),
			})
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		m.stageFile(path, destDir, result)
		return nil
	})
	if walkErr != nil {
		result.Skipped = append(result.Skipped, SkippedFile{
			SourcePath: dir,
			Reason:     walkErr.Error(),
		})
	}
}

// stageFile copies one file into destDir under a collision-free name.
func (m *Manager) stageFile(source, destDir string, result *Result) {
	name := uniqueName(destDir, filepath.Base(source))

	if err := copyFile(source, filepath.Join(destDir, name)); err != nil {
		m.logger.Warn("failed to stage file",
			zap.String("source", source),
			zap.Error(err))
		result.Skipped = append(result.Skipped, SkippedFile{
			SourcePath: source,
			Reason:     err.Error(),
		})
		return
	}

	result.Staged = append(result.Staged, v1.StagedFile{
		SourcePath: source,
		StagedName: name,
		StagingDir: destDir,
	})
}

// uniqueName resolves a collision-free name for base inside destDir,
// appending _<n> before the extension, with n starting at 1. Given the same
// input ordering and pre-existing destination contents the result is
// deterministic.
func uniqueName(destDir, base string) string {
	name := base
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for counter := 1; exists(filepath.Join(destDir, name)); counter++ {
		name = fmt.Sprintf("%s_%d%s", stem, counter, ext)
	}
	return name
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// copyFile copies src to dst, preserving the source's mode. dst is created
// exclusively so a staged name never overwrites a pre-existing file.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
