// Package archive keeps, per generation pass, the descriptor that was active
// and the captures that were thrown away, so a failed run can be diagnosed.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/regiongen/pinpoints"
)

// Archive stores iteration directories under Root.
type Archive struct {
	Root string
}

// New returns an archive rooted at root (normally the run's work directory).
func New(root string) *Archive {
	return &Archive{Root: root}
}

// Dir returns the directory of an iteration, e.g. <root>/csv_iter-03.
func (a *Archive) Dir(iteration int) string {
	return filepath.Join(a.Root, pinpoints.IterDirName(iteration))
}

// Archive copies descriptorPath and moves every discarded file into the
// iteration's directory. An existing iteration directory is never touched:
// a warning is logged and nil returned, leaving the discarded files in place.
func (a *Archive) Archive(iteration int, descriptorPath string, discarded []string) error {
	dir := a.Dir(iteration)
	if err := os.MkdirAll(a.Root, 0o755); err != nil {
		return fmt.Errorf("creating archive root: %w", err)
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			logrus.Warnf("iteration directory %s already exists; leaving it untouched", dir)
			return nil
		}
		return fmt.Errorf("creating iteration directory: %w", err)
	}

	if descriptorPath != "" {
		if err := copyFile(descriptorPath, filepath.Join(dir, filepath.Base(descriptorPath))); err != nil {
			return fmt.Errorf("archiving descriptor for iteration %d: %w", iteration, err)
		}
	}
	for _, f := range discarded {
		if err := moveFile(f, filepath.Join(dir, filepath.Base(f))); err != nil {
			return fmt.Errorf("archiving %s for iteration %d: %w", f, iteration, err)
		}
	}
	if len(discarded) > 0 {
		logrus.Infof("Moved %d discarded files to %s", len(discarded), dir)
	}
	return nil
}

func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}
	// Different file system: copy, then remove the original.
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()
	_, err = io.Copy(out, in)
	return err
}
