package fsutil

import (
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// TempPattern names scratch files created next to their target
const TempPattern = ".hubsyncd-tmp-*"

// WriteAtomic writes path by streaming write into a scratch file in the same
// directory and renaming it over path. The target is either left untouched
// or fully replaced; the scratch file never survives a failure.
func WriteAtomic(fs afero.Fs, path string, perm os.FileMode, write func(w io.Writer) error) (err error) {
	tmpFile, err := afero.TempFile(fs, filepath.Dir(path), TempPattern)
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if err != nil {
			_ = fs.Remove(tmpPath)
		}
	}() // cleanup on error

	if err := write(tmpFile); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Close(); err != nil {
		return err
	}

	if err := fs.Chmod(tmpPath, perm); err != nil {
		return err
	}

	// Atomic rename
	return fs.Rename(tmpPath, path)
}

// CopyAtomic replaces path with the contents of r
func CopyAtomic(fs afero.Fs, path string, perm os.FileMode, r io.Reader) error {
	return WriteAtomic(fs, path, perm, func(w io.Writer) error {
		_, err := io.Copy(w, r)
		return err
	})
}
