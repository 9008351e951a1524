package job

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kimyj950113/video-encoder/internal/workdir"
)

// UploadOptions tunes the upload job.
type UploadOptions struct {
	// Once scans the buckets a single time instead of polling forever.
	Once bool
}

// UploadStats summarizes one bucket scan.
type UploadStats struct {
	Uploaded int
	Skipped  int
	Failed   int
}

func (s UploadStats) active() bool { return s.Uploaded > 0 || s.Failed > 0 }

func (s *UploadStats) add(o UploadStats) {
	s.Uploaded += o.Uploaded
	s.Skipped += o.Skipped
	s.Failed += o.Failed
}

// Upload watches the raw and encoded buckets and mirrors completed files
// into Drive, deleting each local file once its remote copy is confirmed.
// When a scan uploads nothing it sleeps for the poll interval; a scan with
// real work rolls straight into the next one.
func Upload(ctx context.Context, env *Env, opts UploadOptions) (UploadStats, error) {
	logger := env.logger()
	var total UploadStats

	for {
		var round UploadStats
		for _, bucket := range []struct{ root, kind string }{
			{env.Work.Raw(), "raw"},
			{env.Work.Encoded(), "encoded"},
		} {
			stats, err := env.uploadTreeOnce(ctx, bucket.root, bucket.kind)
			round.add(stats)
			if err != nil {
				total.add(round)
				return total, err
			}
		}
		total.add(round)

		if opts.Once {
			return total, nil
		}
		if round.active() {
			continue
		}

		logger.Info("nothing to upload, waiting", "poll", env.Cfg.PollInterval.Std())
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		case <-time.After(env.Cfg.PollInterval.Std()):
		}
	}
}

// uploadTreeOnce walks one bucket and uploads every completed file, keeping
// the bucket-relative folder structure on Drive.
func (e *Env) uploadTreeOnce(ctx context.Context, root, kind string) (UploadStats, error) {
	logger := e.logger()
	var stats UploadStats

	files, err := workdir.ListFiles(root)
	if err != nil {
		return stats, err
	}
	if len(files) == 0 {
		return stats, nil
	}
	logger.Info("scanning bucket", "kind", kind, "files", len(files))

	for _, f := range files {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		rel, err := filepath.Rel(root, f)
		if err != nil {
			stats.Failed++
			logger.Error("cannot relativize path", "path", f, "error", err)
			continue
		}
		rel = filepath.ToSlash(rel)
		folderRel, name := splitRel(rel)

		parentID, err := e.Drive.EnsureFolderPath(ctx, folderRel)
		if err != nil {
			stats.Failed++
			logger.Error("folder resolution failed", "kind", kind, "path", rel, "error", err)
			continue
		}

		existing, found, err := e.Drive.FindFile(ctx, parentID, name)
		if err != nil {
			stats.Failed++
			logger.Error("drive lookup failed", "kind", kind, "path", rel, "error", err)
			continue
		}
		if found {
			stats.Skipped++
			logger.Info("already on drive, removing local copy",
				"kind", kind, "name", name, "file_id", existing.ID)
			removeLocal(logger, f)
			continue
		}

		if _, err := e.Drive.Upload(ctx, f, parentID, name); err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			stats.Failed++
			logger.Error("upload failed", "kind", kind, "path", rel, "error", err)
			continue
		}
		stats.Uploaded++
		removeLocal(logger, f)
	}

	logger.Info("bucket scan done", "kind", kind,
		"uploaded", stats.Uploaded, "skipped", stats.Skipped, "failed", stats.Failed)
	return stats, nil
}

// splitRel separates a bucket-relative slash path into its Drive folder path
// and file name.
func splitRel(rel string) (folderRel, name string) {
	if i := strings.LastIndexByte(rel, '/'); i >= 0 {
		return rel[:i], rel[i+1:]
	}
	return "", rel
}

func removeLocal(logger *slog.Logger, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("could not delete local file", "path", path, "error", err)
		return
	}
	logger.Info("deleted local file", "path", path)
}
