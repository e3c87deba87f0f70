package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ErrNetworkFS reports a journal path on a filesystem where SQLite locking
// cannot be trusted.
var ErrNetworkFS = errors.New("network filesystem")

// errProbeUnsupported means the platform cannot name filesystems; the check passes.
var errProbeUnsupported = errors.New("filesystem probe unsupported")

var networkFSNames = []string{"afpfs", "cifs", "nfs", "smb2", "smbfs", "webdav"}

// probeFS names the filesystem holding path. Replaced in tests.
var probeFS = platformFSType

// RequireLocalFS fails with ErrNetworkFS when path, or the closest ancestor
// that exists yet, lives on a network mount.
func RequireLocalFS(path string) error {
	if path == "" {
		return fmt.Errorf("sqlite path is empty")
	}
	existing, err := closestExisting(path)
	if err != nil {
		return fmt.Errorf("resolve journal path %q: %w", path, err)
	}

	fsType, err := probeFS(existing)
	switch {
	case errors.Is(err, errProbeUnsupported):
		return nil
	case err != nil:
		return fmt.Errorf("probe filesystem of %q: %w", existing, err)
	case slices.Contains(networkFSNames, strings.ToLower(strings.TrimSpace(fsType))):
		return fmt.Errorf("journal %q sits on %s (%w); point state.path at a local disk", path, fsType, ErrNetworkFS)
	}
	return nil
}

func closestExisting(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for dir := abs; ; dir = filepath.Dir(dir) {
		_, err := os.Stat(dir)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		if filepath.Dir(dir) == dir {
			return "", fmt.Errorf("no existing ancestor of %q", abs)
		}
	}
}
