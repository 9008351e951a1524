// Package workdir manages the local staging area shared by the jobs.
//
// In-progress transfers are written next to their target with a reserved
// ".part" suffix and promoted with an atomic rename. Any ".part" file seen
// at startup belongs to a dead run and is removed.
package workdir

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// PartSuffix marks an in-progress transfer.
const PartSuffix = ".part"

// Dir is the work directory holding the job buckets.
type Dir struct {
	Root string
}

// New resolves root and creates it if needed.
func New(root string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workdir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workdir: %w", err)
	}
	return &Dir{Root: abs}, nil
}

// Raw is the bucket for unmodified Dropbox downloads.
func (d *Dir) Raw() string { return filepath.Join(d.Root, "raw") }

// Encoded is the bucket for transcoded deliverables.
func (d *Dir) Encoded() string { return filepath.Join(d.Root, "encoded") }

// Fix is the scratch bucket for the audit re-encoder.
func (d *Dir) Fix() string { return filepath.Join(d.Root, "fix_work") }

// Bucket joins a named bucket under the root, creating it.
func (d *Dir) Bucket(name string) (string, error) {
	p := filepath.Join(d.Root, name)
	if err := os.MkdirAll(p, 0o755); err != nil {
		return "", fmt.Errorf("create bucket %s: %w", name, err)
	}
	return p, nil
}

// PartPath returns the temp path for an in-progress transfer to final.
func PartPath(final string) string { return final + PartSuffix }

// IsPart reports whether the path carries the in-progress suffix.
func IsPart(path string) bool { return strings.HasSuffix(path, PartSuffix) }

// EnsureParent creates the directory containing path.
func EnsureParent(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

// Promote atomically renames a completed ".part" file onto its target.
func Promote(part, final string) error {
	if err := os.Rename(part, final); err != nil {
		os.Remove(part)
		return fmt.Errorf("promote %s: %w", final, err)
	}
	return nil
}

// Discard removes a temp file, tolerating its absence.
func Discard(part string) {
	if err := os.Remove(part); err != nil && !os.IsNotExist(err) {
		slog.Warn("could not remove temp file", "path", part, "error", err)
	}
}

// CleanAbandoned removes every ".part" file under the root and returns how
// many were deleted. Called once at startup before any transfer begins.
func (d *Dir) CleanAbandoned(logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	removed := 0
	err := filepath.WalkDir(d.Root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !IsPart(path) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			logger.Warn("could not remove abandoned temp file", "path", path, "error", err)
			return nil
		}
		logger.Info("removed abandoned temp file", "path", path)
		removed++
		return nil
	})
	return removed, err
}

// ListFiles walks a bucket and returns every completed file path, sorted.
// In-progress ".part" files are excluded. A missing bucket yields nil.
func ListFiles(bucket string) ([]string, error) {
	if _, err := os.Stat(bucket); os.IsNotExist(err) {
		return nil, nil
	}
	var files []string
	err := filepath.WalkDir(bucket, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || IsPart(path) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// SameSize reports whether path exists with exactly size bytes.
func SameSize(path string, size int64) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() == size
}

// FileSize returns the size of path in bytes.
func FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// CopyFile duplicates src into a ".part" next to dst and promotes it, so a
// crashed copy never leaves a plausible-looking dst behind.
func CopyFile(src, dst string) error {
	if err := EnsureParent(dst); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	part := PartPath(dst)
	out, err := os.Create(part)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		Discard(part)
		return fmt.Errorf("copy %s: %w", dst, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		Discard(part)
		return fmt.Errorf("sync %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		Discard(part)
		return err
	}
	return Promote(part, dst)
}
