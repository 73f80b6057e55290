package step

import (
	"io"
	"os"
	"path/filepath"

	"github.com/forgecell/forgeorch/internal/rule"
)

// OSFilesystem is the default rule.FilesystemAbstraction, a thin
// pass-through to the local os/filepath packages (§6 filesystem
// abstraction contract). Tests and remote-execution simulations may
// substitute a different implementation.
type OSFilesystem struct {
	Root string
}

var _ rule.FilesystemAbstraction = OSFilesystem{}

func (fs OSFilesystem) Resolve(relative string) (string, error) {
	return filepath.Join(fs.Root, relative), nil
}

func (fs OSFilesystem) Exists(absolute string) bool {
	_, err := os.Stat(absolute)
	return err == nil
}

func (fs OSFilesystem) MkdirAll(absolute string) error {
	return os.MkdirAll(absolute, 0o755)
}

func (fs OSFilesystem) DeleteRecursive(absolute string) error {
	return os.RemoveAll(absolute)
}

func (fs OSFilesystem) Copy(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func (fs OSFilesystem) Symlink(target, link string) error {
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		return err
	}
	os.Remove(link)
	return os.Symlink(target, link)
}

func (fs OSFilesystem) WriteBytes(absolute string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(absolute), 0o755); err != nil {
		return err
	}
	return os.WriteFile(absolute, data, 0o644)
}

func (fs OSFilesystem) ReadBytes(absolute string) ([]byte, error) {
	return os.ReadFile(absolute)
}
