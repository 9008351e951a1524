package job

import (
	"context"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kimyj950113/video-encoder/internal/dropbox"
	"github.com/kimyj950113/video-encoder/internal/pathmap"
	"github.com/kimyj950113/video-encoder/internal/workdir"
)

// EncodeOptions tunes the full download-encode-upload pipeline.
type EncodeOptions struct {
	DryRun bool
}

// EncodeStats summarizes one pipeline run.
type EncodeStats struct {
	Targets       int
	SkippedClosed int
	SkippedRemote int
	Staged        int
	Failed        int
	Uploaded      int
	UploadFailed  int
}

// uploadTask hands one finished local file to the upload workers.
type uploadTask struct {
	localPath string
	parentID  string
	name      string
	kind      string
}

// Encode runs the whole pipeline in one process: scan Dropbox, download and
// encode sequentially, and upload concurrently through a fixed worker pool.
// The task channel is closed once the producer side finishes; workers drain
// it and the call returns after the last upload completes.
func Encode(ctx context.Context, env *Env, opts EncodeOptions) (EncodeStats, error) {
	logger := env.logger()
	cfg := env.Cfg
	var stats EncodeStats

	spool, err := env.Work.Bucket("spool")
	if err != nil {
		return stats, err
	}
	if _, err := env.Work.CleanAbandoned(logger); err != nil {
		return stats, err
	}

	entries, err := env.Dropbox.ListRecursive(ctx, cfg.DropboxRoot)
	if err != nil {
		return stats, err
	}
	files := dropbox.Files(entries)
	logger.Info("dropbox listing complete", "root", cfg.DropboxRoot, "entries", len(files), "dry_run", opts.DryRun)

	tasks := make(chan uploadTask)
	var wg sync.WaitGroup
	var mu sync.Mutex // guards Uploaded/UploadFailed across workers

	for i := 0; i < cfg.UploadWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range tasks {
				err := env.uploadAndRemove(ctx, task)
				mu.Lock()
				if err != nil {
					stats.UploadFailed++
				} else {
					stats.Uploaded++
				}
				mu.Unlock()
				if err != nil {
					logger.Error("upload failed", "kind", task.kind, "name", task.name, "error", err)
				}
			}
		}()
	}

	// Closing the channel is the only shutdown signal the workers need.
	err = env.encodeProduce(ctx, files, spool, opts, &stats, tasks)
	close(tasks)
	wg.Wait()

	logger.Info("encode pipeline finished",
		"targets", stats.Targets,
		"staged", stats.Staged,
		"uploaded", stats.Uploaded,
		"upload_failed", stats.UploadFailed,
		"skipped_closed", stats.SkippedClosed,
		"skipped_remote", stats.SkippedRemote,
		"failed", stats.Failed)
	return stats, err
}

// encodeProduce walks the Dropbox listing and feeds finished files into the
// upload channel.
func (e *Env) encodeProduce(ctx context.Context, files []dropbox.Entry, spool string, opts EncodeOptions, stats *EncodeStats, tasks chan<- uploadTask) error {
	logger := e.logger()
	cfg := e.Cfg

	for _, meta := range files {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if cfg.ClosedMarker != "" && strings.Contains(meta.PathDisplay, cfg.ClosedMarker) {
			stats.SkippedClosed++
			logger.Info("skipping closed lecture", "path", meta.PathDisplay)
			continue
		}
		if !e.isVideoTarget(meta.PathDisplay) {
			continue
		}
		stats.Targets++

		flatName := pathmap.FlatName(meta.PathDisplay, cfg.FinalCutDir)
		rawName := path.Base(meta.PathDisplay)
		encodedParts, err := pathmap.EncodedFolderParts(meta.PathDisplay, cfg.FinalCutDir)
		if err != nil {
			stats.Failed++
			logger.Error("cannot map encoded folder", "path", meta.PathDisplay, "error", err)
			continue
		}
		rawParts, err := pathmap.RawFolderParts(meta.PathDisplay)
		if err != nil {
			stats.Failed++
			logger.Error("cannot map raw folder", "path", meta.PathDisplay, "error", err)
			continue
		}

		if opts.DryRun {
			logger.Info("dry run: would process",
				"path", meta.PathDisplay,
				"encoded_folder", "/"+joinRel(encodedParts),
				"raw_folder", "/"+joinRel(rawParts),
				"encoded_name", flatName)
			continue
		}

		if err := e.encodeOne(ctx, meta, spool, rawName, flatName, encodedParts, rawParts, stats, tasks); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			stats.Failed++
			logger.Error("pipeline stage failed", "path", meta.PathDisplay, "error", err)
		}
	}
	return nil
}

func (e *Env) encodeOne(ctx context.Context, meta dropbox.Entry, spool, rawName, flatName string, encodedParts, rawParts []string, stats *EncodeStats, tasks chan<- uploadTask) error {
	cfg := e.Cfg
	logger := e.logger()

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt > 1 {
			logger.Info("retrying pipeline stage", "name", flatName, "attempt", attempt, "max", cfg.MaxAttempts)
		}

		lastErr = func() error {
			encodedParentID, err := e.Drive.EnsureFolderPath(ctx, joinRel(encodedParts))
			if err != nil {
				return err
			}
			rawParentID, err := e.Drive.EnsureFolderPath(ctx, joinRel(rawParts))
			if err != nil {
				return err
			}

			_, encodedExists, err := e.Drive.FindFile(ctx, encodedParentID, flatName)
			if err != nil {
				return err
			}
			_, rawExists, err := e.Drive.FindFile(ctx, rawParentID, rawName)
			if err != nil {
				return err
			}
			if encodedExists && rawExists {
				stats.SkippedRemote++
				logger.Info("raw and encoded already on drive", "path", meta.PathDisplay)
				return nil
			}

			localIn := filepath.Join(spool, rawName)
			localOut := filepath.Join(spool, "encoded_"+flatName)

			if err := e.Dropbox.DownloadToFile(ctx, meta.PathDisplay, localIn); err != nil {
				return err
			}
			size, err := workdir.FileSize(localIn)
			if err != nil {
				return err
			}

			// Decide what the encoded artifact is: a fresh encode, a copy
			// (raw still needed locally), or the original itself.
			var encodedLocal string
			if !encodedExists {
				if size <= cfg.TargetSizeBytes() {
					if rawExists {
						encodedLocal = localIn
						logger.Info("under target size, uploading original as encoded", "name", flatName)
					} else {
						if err := workdir.CopyFile(localIn, localOut); err != nil {
							return err
						}
						encodedLocal = localOut
						logger.Info("under target size, encoded is a copy", "name", flatName)
					}
				} else {
					part := workdir.PartPath(localOut)
					workdir.Discard(part)
					if err := e.Encoder.EncodeToTarget(ctx, localIn, part, cfg.TargetSizeBytes(), cfg.SafetyMargin); err != nil {
						workdir.Discard(part)
						return err
					}
					if err := workdir.Promote(part, localOut); err != nil {
						return err
					}
					encodedLocal = localOut
				}
			}

			if !rawExists {
				tasks <- uploadTask{localPath: localIn, parentID: rawParentID, name: rawName, kind: "raw"}
			}
			if !encodedExists {
				tasks <- uploadTask{localPath: encodedLocal, parentID: encodedParentID, name: flatName, kind: "encoded"}
			}
			stats.Staged++
			return nil
		}()
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

// uploadAndRemove pushes one staged file to Drive and deletes the local copy
// on success.
func (e *Env) uploadAndRemove(ctx context.Context, task uploadTask) error {
	if !fileExists(task.localPath) {
		e.logger().Warn("staged file vanished before upload", "path", task.localPath)
		return nil
	}
	if _, err := e.Drive.Upload(ctx, task.localPath, task.parentID, task.name); err != nil {
		return err
	}
	removeLocal(e.logger(), task.localPath)
	return nil
}
