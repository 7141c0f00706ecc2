package pak

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

const (
	// Extension is the suffix of candidate content packages
	Extension = ".pak"
	// DefaultMainPak ships with the server and is never touched
	DefaultMainPak = "UnrealTournament-LinuxServer.pak"
)

// LocalPackage is a package file found in the content directory
type LocalPackage struct {
	Name     string
	Path     string
	Checksum string // md5 hex digest of the full file
}

// LocalState maps package names to their local snapshot
type LocalState map[string]LocalPackage

// Names returns the package names sorted alphabetically
func (s LocalState) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a shallow copy that can be mutated independently
func (s LocalState) Clone() LocalState {
	out := make(LocalState, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// IsPackageFile returns true if the file name has the package extension
func IsPackageFile(name string) bool {
	return strings.HasSuffix(name, Extension)
}

// Scan hashes every package in dir except mainPak. Only the top level of dir
// is considered, matching how the server loads content. Symlinks are followed.
func Scan(fs afero.Fs, dir, mainPak string) (LocalState, error) {
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	state := make(LocalState)
	for _, info := range infos {
		name := info.Name()
		if !IsPackageFile(name) || name == mainPak {
			continue
		}

		path := filepath.Join(dir, name)
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := fs.Stat(path)
			if err != nil {
				// dangling link
				continue
			}
			info = target
		}
		if !info.Mode().IsRegular() {
			continue
		}

		sum, err := FileChecksum(fs, path)
		if err != nil {
			return nil, fmt.Errorf("failed to compute checksum for %s: %w", path, err)
		}

		state[name] = LocalPackage{
			Name:     name,
			Path:     path,
			Checksum: sum,
		}
	}

	return state, nil
}

// NewDigest returns the hash used for package checksums. The remote manifest
// is generated with MD5, so the digest must not change.
func NewDigest() hash.Hash {
	return md5.New()
}

// EncodeDigest formats the sum of h the way the manifest lists checksums
func EncodeDigest(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// ChecksumsMatch compares two hex digests ignoring case
func ChecksumsMatch(a, b string) bool {
	return strings.EqualFold(a, b)
}

// FileChecksum computes the package digest of a file
func FileChecksum(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()

	h := NewDigest()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return EncodeDigest(h), nil
}
