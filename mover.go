package modforge

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Mover relocates compiled plugin trees from the build staging directory into
// the runtime's live resource root. It moves, not copies: staging is empty
// afterwards, so re-running after a partial rebuild only touches what the
// rebuild staged.
type Mover struct {
	distDir      string
	resourcesDir string
}

func NewMover(distDir, resourcesDir string) *Mover {
	return &Mover{distDir: distDir, resourcesDir: resourcesDir}
}

// Move relocates everything currently staged, preserving per-plugin relative
// structure. Idempotent: an empty staging dir is a no-op, and files already
// present in the live root are replaced, never duplicated.
func (m *Mover) Move() error {
	if _, err := os.Stat(m.distDir); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := os.MkdirAll(m.resourcesDir, 0750); err != nil {
		return fmt.Errorf("create resources dir: %w", err)
	}
	if err := m.moveTree(m.distDir, m.resourcesDir); err != nil {
		return err
	}
	return nil
}

func (m *Mover) moveTree(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		srcPath := filepath.Join(src, e.Name())
		dstPath := filepath.Join(dst, e.Name())
		if e.IsDir() {
			if err := os.MkdirAll(dstPath, 0750); err != nil {
				return err
			}
			if err := m.moveTree(srcPath, dstPath); err != nil {
				return err
			}
			// Leave the staging skeleton gone, not half-moved.
			if err := os.Remove(srcPath); err != nil && !os.IsNotExist(err) {
				logger.Debug("staging dir not empty after move", "dir", srcPath)
			}
			continue
		}
		if err := moveFile(srcPath, dstPath); err != nil {
			return fmt.Errorf("move %s: %w", srcPath, err)
		}
	}
	return nil
}

// moveFile renames, falling back to copy+remove when staging and the live
// root sit on different filesystems.
func moveFile(src, dst string) error {
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src) // #nosec G304
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640) // #nosec G304
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
