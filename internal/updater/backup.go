// Package updater applies GitHub release updates to the rtsptrace binary in
// place, keeping one backup of the previous version for rollback.
package updater

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/creativeprojects/go-selfupdate"

	"github.com/nvrlab/rtsptrace/internal/version"
)

const (
	backupFilename     = "rtsptrace.backup"
	backupInfoFilename = "backup.json"
)

type backupInfo struct {
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	ExecPath  string    `json:"exec_path"`
}

// backupManager keeps a single copy of the binary under
// ~/.cache/rtsptrace/backup. Creating a new backup replaces the old one.
type backupManager struct {
	backupDir string
	info      *backupInfo
	logger    *slog.Logger
}

func newBackupManager(logger *slog.Logger) (*backupManager, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	backupDir := filepath.Join(home, ".cache", "rtsptrace", "backup")
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	mgr := &backupManager{
		backupDir: backupDir,
		logger:    logger,
	}
	mgr.loadBackupInfo()

	return mgr, nil
}

func (m *backupManager) loadBackupInfo() {
	data, err := os.ReadFile(filepath.Join(m.backupDir, backupInfoFilename))
	if err != nil {
		return // no backup exists
	}

	var info backupInfo
	if err := json.Unmarshal(data, &info); err != nil {
		m.logger.Warn("Failed to parse backup info", "error", err)
		return
	}

	// The metadata is only useful if the binary copy is still there.
	if _, err := os.Stat(filepath.Join(m.backupDir, backupFilename)); err != nil {
		m.logger.Warn("Backup file missing", "error", err)
		return
	}

	m.info = &info
}

func (m *backupManager) createBackup() error {
	execPath, err := selfupdate.ExecutablePath()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	backupPath := filepath.Join(m.backupDir, backupFilename)
	if err := copyFile(execPath, backupPath); err != nil {
		return err
	}

	info := backupInfo{
		Version:   version.Version,
		CreatedAt: time.Now(),
		ExecPath:  execPath,
	}
	infoData, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal backup info: %w", err)
	}
	if err := os.WriteFile(filepath.Join(m.backupDir, backupInfoFilename), infoData, 0o644); err != nil {
		return fmt.Errorf("failed to write backup info: %w", err)
	}

	m.info = &info
	m.logger.Info("Backup created", "version", info.Version, "path", backupPath)
	return nil
}

func (m *backupManager) restore() error {
	if m.info == nil {
		return fmt.Errorf("no backup available")
	}

	backupPath := filepath.Join(m.backupDir, backupFilename)
	if err := copyFile(backupPath, m.info.ExecPath); err != nil {
		return err
	}

	m.logger.Info("Backup restored", "version", m.info.Version)
	return nil
}

func (m *backupManager) hasBackup() bool {
	return m.info != nil
}

func (m *backupManager) backupVersion() string {
	if m.info == nil {
		return ""
	}
	return m.info.Version
}

func copyFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", srcPath, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dstPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy %s: %w", srcPath, err)
	}
	return nil
}
