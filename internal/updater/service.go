package updater

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/creativeprojects/go-selfupdate"

	"github.com/nvrlab/rtsptrace/internal/logging"
	"github.com/nvrlab/rtsptrace/internal/version"
)

// Updater checks GitHub releases and replaces the running binary in place.
type Updater struct {
	repository selfupdate.Repository
	updater    *selfupdate.Updater
	backup     *backupManager
	logger     *slog.Logger
}

// New creates an updater for the given repository. It fails when the
// directory holding the executable is not writable, since an update could
// never be applied there.
func New(opts Options) (*Updater, error) {
	logger := logging.GetLogger("updater")

	if err := checkWritePermission(); err != nil {
		return nil, newError(ErrCodeNotWritable, "cannot update in place", err)
	}

	source, err := selfupdate.NewGitHubSource(selfupdate.GitHubConfig{})
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub source: %w", err)
	}

	u, err := selfupdate.NewUpdater(selfupdate.Config{
		Source:     source,
		Prerelease: opts.Prerelease,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create updater: %w", err)
	}

	backup, err := newBackupManager(logger)
	if err != nil {
		logger.Warn("Backups unavailable, updates will not be reversible", "error", err)
	}

	return &Updater{
		repository: selfupdate.ParseSlug(opts.Repository),
		updater:    u,
		backup:     backup,
		logger:     logger,
	}, nil
}

func checkWritePermission() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return fmt.Errorf("failed to resolve symlinks: %w", err)
	}

	dir := filepath.Dir(exe)
	tmp := filepath.Join(dir, ".rtsptrace.update.test")
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("no write permission to %s: %w", dir, err)
	}
	f.Close()
	os.Remove(tmp)
	return nil
}

// Check queries GitHub for the latest release and compares it against the
// running version. A "dev" build is always considered outdated.
func (u *Updater) Check(ctx context.Context) (*Release, error) {
	current := version.Version

	release, found, err := u.updater.DetectLatest(ctx, u.repository)
	if err != nil {
		return nil, newError(ErrCodeCheckFailed, "failed to check for updates", err)
	}
	if !found {
		return nil, newError(ErrCodeCheckFailed, "repository not found or has no releases", nil)
	}

	return &Release{
		CurrentVersion: current,
		LatestVersion:  release.Version(),
		ReleaseNotes:   release.ReleaseNotes,
		URL:            release.URL,
		PublishedAt:    release.PublishedAt,
		Available:      current == "dev" || release.GreaterThan(current),
		release:        release,
	}, nil
}

// Apply replaces the running binary with the given release, backing up the
// current one first. A failed apply restores the backup.
func (u *Updater) Apply(ctx context.Context, rel *Release) error {
	if rel == nil || rel.release == nil {
		return newError(ErrCodeNoUpdate, "no release to apply", nil)
	}

	if u.backup != nil {
		if err := u.backup.createBackup(); err != nil {
			return newError(ErrCodeBackupFailed, "failed to create backup", err)
		}
	}

	exe, err := selfupdate.ExecutablePath()
	if err != nil {
		return newError(ErrCodeApplyFailed, "failed to get executable path", err)
	}

	if err := u.updater.UpdateTo(ctx, rel.release, exe); err != nil {
		u.attemptRollback()
		return newError(ErrCodeApplyFailed, "failed to apply update", err)
	}

	u.logger.Info("Update applied", "version", rel.LatestVersion)
	return nil
}

// Rollback restores the previously backed up binary.
func (u *Updater) Rollback() error {
	if u.backup == nil || !u.backup.hasBackup() {
		return newError(ErrCodeNoBackup, "no backup available for rollback", nil)
	}
	if err := u.backup.restore(); err != nil {
		return newError(ErrCodeRollbackFailed, "failed to restore backup", err)
	}
	u.logger.Info("Rollback completed", "version", u.backup.backupVersion())
	return nil
}

func (u *Updater) attemptRollback() {
	if u.backup == nil || !u.backup.hasBackup() {
		u.logger.Error("No backup available for automatic rollback")
		return
	}
	if err := u.backup.restore(); err != nil {
		u.logger.Error("Failed to restore backup", "error", err)
		return
	}
	u.logger.Info("Automatic rollback completed")
}
