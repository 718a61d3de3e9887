// Package services holds the external collaborators of the core:
// currently the filesystem-backed attachment store that node content
// may reference.
package services

import (
	"os"
	"path/filepath"
	"strings"

	"canopy/backend/internal/links"
	"canopy/backend/internal/logger"
)

var uploadDir string

// InitStorage prepares the attachment directory named by UPLOAD_DIR
// (default ./uploads).
func InitStorage(log *logger.Logger) error {
	uploadDir = strings.TrimSpace(os.Getenv("UPLOAD_DIR"))
	if uploadDir == "" {
		uploadDir = "uploads"
	}
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return err
	}
	log.Info("attachment storage ready", "dir", uploadDir)
	return nil
}

// DeleteFile removes one stored attachment. The name is always a bare
// filename; anything path-like is rejected.
func DeleteFile(name string) error {
	if name == "" || name != filepath.Base(name) {
		return nil
	}
	err := os.Remove(filepath.Join(uploadDir, name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// CleanupAttachments deletes every attachment referenced from the
// given content bodies. Called on hard delete; failures are logged and
// do not block the delete.
func CleanupAttachments(log *logger.Logger, contents ...string) {
	for _, content := range contents {
		for _, name := range links.ReferencedFiles(content) {
			if err := DeleteFile(name); err != nil {
				log.Warn("attachment cleanup failed", "file", name, "error", err)
			}
		}
	}
}
