// Package instructions backs up and temporarily swaps an agent's
// user-level and project-level instruction files around a launch (spec
// §4.5), restoring the original content once the agent finishes — whether
// it succeeded, failed, or was terminated.
package instructions

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/domain"
)

// Paths names the two instruction file locations a launch may override.
// Either may be empty, meaning that level is not in play for this launch.
type Paths struct {
	UserLevel    string
	ProjectLevel string
}

// fileBackup records what was at a path before preparation, so restoration
// can put it back exactly — including the "it didn't exist" case.
type fileBackup struct {
	path     string
	existed  bool
	content  []byte
	fileMode os.FileMode
}

// PreparedEnvironment is returned by Prepare and must be passed to Restore
// exactly once, regardless of how the launch that used it ended.
type PreparedEnvironment struct {
	backups []fileBackup
}

// Handler prepares and restores instruction files around a launch.
type Handler struct {
	logger *zap.Logger
}

// New constructs a Handler.
func New(logger *zap.Logger) *Handler {
	return &Handler{logger: logger}
}

// Prepare backs up any existing content at paths.UserLevel and
// paths.ProjectLevel, then overwrites the user-level file with empty
// content and writes instructions to the project-level file. If
// instructions is empty, Prepare performs no I/O and returns a nil
// environment. If writing either file fails, Prepare restores whatever it
// already backed up before returning the error, so a failed launch never
// leaves stale instructions behind.
func (h *Handler) Prepare(ctx context.Context, paths Paths, instructions string) (*PreparedEnvironment, error) {
	if instructions == "" {
		return nil, nil
	}

	env := &PreparedEnvironment{}

	for _, target := range []struct {
		path    string
		content string
	}{
		{paths.UserLevel, ""},
		{paths.ProjectLevel, instructions},
	} {
		if target.path == "" {
			continue
		}
		backup, err := backupFile(target.path)
		if err != nil {
			h.Restore(ctx, env)
			return nil, domain.NewIOError("back up instruction file "+target.path, err)
		}
		env.backups = append(env.backups, backup)

		if err := writeInstructions(target.path, target.content); err != nil {
			h.Restore(ctx, env)
			return nil, domain.NewIOError("write instruction file "+target.path, err)
		}
	}

	return env, nil
}

// Restore puts every backed-up file back exactly as it was, removing files
// that did not exist before Prepare created them. It never returns an
// error — callers always call it on both the success and failure path, so
// a restore problem is logged and otherwise swallowed rather than masking
// the launch outcome that triggered it.
func (h *Handler) Restore(ctx context.Context, env *PreparedEnvironment) {
	if env == nil {
		return
	}
	for _, backup := range env.backups {
		if !backup.existed {
			if err := os.Remove(backup.path); err != nil && !os.IsNotExist(err) {
				h.logger.Warn("failed to remove instruction file during restore",
					zap.String("path", backup.path), zap.Error(err))
			}
			continue
		}
		if err := os.WriteFile(backup.path, backup.content, backup.fileMode); err != nil {
			h.logger.Warn("failed to restore instruction file",
				zap.String("path", backup.path), zap.Error(err))
		}
	}
}

func backupFile(path string) (fileBackup, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return fileBackup{path: path, existed: false}, nil
	}
	if err != nil {
		return fileBackup{}, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fileBackup{}, err
	}
	return fileBackup{path: path, existed: true, content: content, fileMode: info.Mode()}, nil
}

func writeInstructions(path, instructions string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(instructions), 0o644)
}
