// Package gameini rewrites the redirect references of a UT4 Game.ini.
package gameini

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/afero"

	"github.com/schaermu/hubsyncd/internal/fsutil"
)

// Marker starts every reference line managed by hubsyncd
const Marker = "RedirectReferences=("

// Rewrite drops every line of path that starts with Marker and appends
// references at the end. The file is replaced atomically with its original
// permissions.
func Rewrite(fs afero.Fs, path string, references []string) error {
	info, err := fs.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}

	src, err := fs.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() {
		_ = src.Close()
	}()

	err = fsutil.WriteAtomic(fs, path, info.Mode().Perm(), func(w io.Writer) error {
		return rewrite(src, w, references)
	})
	if err != nil {
		return fmt.Errorf("failed to rewrite %s: %w", path, err)
	}
	return nil
}

// rewrite copies src to dst without marker lines and appends references.
// Lines that pass through keep their original terminators.
func rewrite(src io.Reader, dst io.Writer, references []string) error {
	br := bufio.NewReader(src)
	bw := bufio.NewWriter(dst)

	endsWithNewline := true
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			if !strings.HasPrefix(line, Marker) {
				if _, werr := bw.WriteString(line); werr != nil {
					return werr
				}
				endsWithNewline = strings.HasSuffix(line, "\n")
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}

	if !endsWithNewline && len(references) > 0 {
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}

	for _, ref := range references {
		ref = strings.TrimRight(ref, "\r\n")
		if _, err := bw.WriteString(ref + "\n"); err != nil {
			return err
		}
	}

	return bw.Flush()
}
