package job

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/kimyj950113/video-encoder/internal/dropbox"
	"github.com/kimyj950113/video-encoder/internal/pathmap"
	"github.com/kimyj950113/video-encoder/internal/workdir"
)

// LeftoversOptions tunes the leftovers job.
type LeftoversOptions struct {
	// Bucket is the workdir bucket downloads land in (default "raw").
	Bucket string
	DryRun bool

	Include    string
	Exclude    string
	SkipClosed bool
	SkipExts   []string
	// Limit stops after this many downloads (0 = unlimited).
	Limit int

	// CheckDrive skips files whose Drive copy matches by relative path, name
	// and byte size.
	CheckDrive bool
	// FailClosed aborts on any Drive lookup error instead of downloading
	// anyway.
	FailClosed bool
	// RedownloadIfSizeMismatch replaces a local copy whose size differs from
	// Dropbox instead of skipping it.
	RedownloadIfSizeMismatch bool
}

// LeftoversStats summarizes one leftovers run.
type LeftoversStats struct {
	TotalSeen        int
	SkippedFilter    int
	SkippedLocal     int
	SkippedDriveSame int
	DriveCheckFailed int
	Redownloaded     int
	Downloaded       int
	Failed           int
}

// Leftovers downloads every Dropbox file not yet safely on Drive into a
// local bucket, so stragglers from earlier migration passes can be swept up.
// The Drive check is strict: only a same-named file with the exact byte size
// at the same relative path counts as migrated.
func Leftovers(ctx context.Context, env *Env, opts LeftoversOptions) (LeftoversStats, error) {
	logger := env.logger()
	cfg := env.Cfg
	var stats LeftoversStats

	if opts.Bucket == "" {
		opts.Bucket = "raw"
	}
	bucket, err := env.Work.Bucket(opts.Bucket)
	if err != nil {
		return stats, err
	}

	filter := pathmap.Filter{
		IncludeSubstr: opts.Include,
		ExcludeSubstr: opts.Exclude,
		SkipExts:      opts.SkipExts,
	}
	if opts.SkipClosed {
		filter.ClosedMarker = cfg.ClosedMarker
	}

	entries, err := env.Dropbox.ListRecursive(ctx, cfg.DropboxRoot)
	if err != nil {
		return stats, err
	}
	files := dropbox.Files(entries)
	logger.Info("dropbox listing complete",
		"root", cfg.DropboxRoot, "entries", len(files),
		"check_drive", opts.CheckDrive, "dry_run", opts.DryRun)

	processed := 0
	for _, meta := range files {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.TotalSeen++

		if filter.Skip(meta.PathDisplay) {
			stats.SkippedFilter++
			continue
		}

		rel := pathmap.RawRelPath(meta.PathDisplay)
		localPath := filepath.Join(bucket, filepath.FromSlash(rel))

		if fileExists(localPath) {
			if opts.RedownloadIfSizeMismatch && !workdir.SameSize(localPath, meta.Size) {
				stats.Redownloaded++
				logger.Info("local size differs, re-downloading", "path", meta.PathDisplay)
			} else {
				stats.SkippedLocal++
				continue
			}
		}

		if opts.CheckDrive {
			same, reason, err := env.driveHasSameFile(ctx, rel, meta.Size)
			if err != nil {
				if opts.FailClosed {
					return stats, fmt.Errorf("drive check %s: %w", meta.PathDisplay, err)
				}
				stats.DriveCheckFailed++
				logger.Warn("drive check failed, downloading anyway",
					"path", meta.PathDisplay, "error", err)
			} else if same {
				stats.SkippedDriveSame++
				logger.Info("already on drive with same size", "path", meta.PathDisplay)
				continue
			} else {
				logger.Debug("drive copy not confirmed", "path", meta.PathDisplay, "reason", reason)
			}
		}

		processed++
		if opts.Limit > 0 && processed > opts.Limit {
			logger.Info("download limit reached", "limit", opts.Limit)
			break
		}

		if opts.DryRun {
			logger.Info("dry run: would download",
				"path", meta.PathDisplay, "local", localPath, "size", meta.Size)
			continue
		}

		if err := env.Dropbox.DownloadToFile(ctx, meta.PathLower, localPath); err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			stats.Failed++
			logger.Error("download failed", "path", meta.PathDisplay, "error", err)
			continue
		}
		stats.Downloaded++
		logger.Info("downloaded", "path", meta.PathDisplay, "local", localPath)
	}

	logger.Info("leftovers finished",
		"seen", stats.TotalSeen,
		"downloaded", stats.Downloaded,
		"redownloaded", stats.Redownloaded,
		"skipped_filter", stats.SkippedFilter,
		"skipped_local", stats.SkippedLocal,
		"skipped_drive_same", stats.SkippedDriveSame,
		"drive_check_failed", stats.DriveCheckFailed,
		"failed", stats.Failed)
	return stats, nil
}

// driveHasSameFile reports whether Drive holds a file at the given relative
// path with exactly the expected size. The reason explains a negative.
func (e *Env) driveHasSameFile(ctx context.Context, rel string, expectedSize int64) (bool, string, error) {
	folderRel, name := splitRel(rel)

	parentID, found, err := e.Drive.FindFolderPath(ctx, folderRel)
	if err != nil {
		return false, "", err
	}
	if !found {
		return false, "folder_missing", nil
	}

	f, found, err := e.Drive.FindFile(ctx, parentID, name)
	if err != nil {
		return false, "", err
	}
	if !found {
		return false, "file_missing", nil
	}
	if f.Size <= 0 {
		return false, "size_unknown", nil
	}
	if f.Size == expectedSize {
		return true, "same_name_and_size", nil
	}
	return false, fmt.Sprintf("size_mismatch(drive=%d,dropbox=%d)", f.Size, expectedSize), nil
}
