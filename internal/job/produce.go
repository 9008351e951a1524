package job

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kimyj950113/video-encoder/internal/dropbox"
	"github.com/kimyj950113/video-encoder/internal/pathmap"
	"github.com/kimyj950113/video-encoder/internal/workdir"
)

// ProduceOptions tunes the produce job.
type ProduceOptions struct {
	// DryRun logs the plan without downloading or encoding.
	DryRun bool
}

// ProduceStats summarizes one produce run.
type ProduceStats struct {
	Targets        int
	SkippedClosed  int
	SkippedLocal   int
	SkippedOnDrive int
	Prepared       int
	Failed         int
}

// Produce stages every deliverable locally: download the raw file from
// Dropbox and place an encoded (or copied) variant next to it. Nothing is
// uploaded; the upload job picks the buckets up later.
func Produce(ctx context.Context, env *Env, opts ProduceOptions) (ProduceStats, error) {
	logger := env.logger()
	cfg := env.Cfg
	var stats ProduceStats

	if removed, err := env.Work.CleanAbandoned(logger); err != nil {
		return stats, fmt.Errorf("clean workdir: %w", err)
	} else if removed > 0 {
		logger.Info("removed abandoned temp files", "count", removed)
	}

	entries, err := env.Dropbox.ListRecursive(ctx, cfg.DropboxRoot)
	if err != nil {
		return stats, err
	}
	files := dropbox.Files(entries)
	logger.Info("dropbox listing complete", "root", cfg.DropboxRoot, "entries", len(files), "dry_run", opts.DryRun)

	for _, meta := range files {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		if cfg.ClosedMarker != "" && strings.Contains(meta.PathDisplay, cfg.ClosedMarker) {
			stats.SkippedClosed++
			logger.Info("skipping closed lecture", "path", meta.PathDisplay)
			continue
		}
		if !env.isVideoTarget(meta.PathDisplay) {
			continue
		}
		stats.Targets++

		flatName := pathmap.FlatName(meta.PathDisplay, cfg.FinalCutDir)
		encodedParts, err := pathmap.EncodedFolderParts(meta.PathDisplay, cfg.FinalCutDir)
		if err != nil {
			stats.Failed++
			logger.Error("cannot map encoded folder", "path", meta.PathDisplay, "error", err)
			continue
		}

		rawLocal := filepath.Join(env.Work.Raw(), filepath.FromSlash(pathmap.RawRelPath(meta.PathDisplay)))
		encodedLocal := filepath.Join(env.Work.Encoded(), filepath.FromSlash(joinRel(encodedParts)), flatName)

		if fileExists(rawLocal) && fileExists(encodedLocal) {
			stats.SkippedLocal++
			logger.Info("already staged locally", "path", meta.PathDisplay)
			continue
		}

		// Skip work whose encoded copy already made it to Drive.
		onDrive, err := driveHasEncoded(ctx, env.Drive, encodedParts, flatName)
		if err != nil {
			stats.Failed++
			logger.Warn("drive lookup failed, skipping file this run",
				"path", meta.PathDisplay, "error", err)
			continue
		}
		if onDrive {
			stats.SkippedOnDrive++
			logger.Info("encoded copy already on drive", "path", meta.PathDisplay, "name", flatName)
			continue
		}

		if opts.DryRun {
			logger.Info("dry run: would stage",
				"path", meta.PathDisplay, "raw", rawLocal, "encoded", encodedLocal)
			continue
		}

		if err := env.prepareOne(ctx, meta.PathDisplay, rawLocal, encodedLocal); err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			stats.Failed++
			logger.Error("staging failed", "path", meta.PathDisplay, "error", err)
			continue
		}
		stats.Prepared++
		logger.Info("staged", "path", meta.PathDisplay, "encoded", encodedLocal)
	}

	logger.Info("produce finished",
		"targets", stats.Targets,
		"prepared", stats.Prepared,
		"skipped_closed", stats.SkippedClosed,
		"skipped_local", stats.SkippedLocal,
		"skipped_on_drive", stats.SkippedOnDrive,
		"failed", stats.Failed)
	return stats, nil
}

// prepareOne downloads the raw file (if missing) and produces the encoded
// variant next to it. A raw file staged by an earlier attempt is reused.
func (e *Env) prepareOne(ctx context.Context, dbxPath, rawLocal, encodedLocal string) error {
	cfg := e.Cfg
	logger := e.logger()

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt > 1 {
			logger.Info("retrying stage", "path", dbxPath, "attempt", attempt, "max", cfg.MaxAttempts)
		}

		lastErr = func() error {
			if !fileExists(rawLocal) {
				if err := e.Dropbox.DownloadToFile(ctx, dbxPath, rawLocal); err != nil {
					return err
				}
			}

			rawSize, err := workdir.FileSize(rawLocal)
			if err != nil {
				return err
			}

			if err := workdir.EnsureParent(encodedLocal); err != nil {
				return err
			}
			if rawSize <= cfg.TargetSizeBytes() {
				logger.Info("under target size, copying without encode",
					"path", dbxPath, "size_mb", rawSize/(1024*1024))
				return workdir.CopyFile(rawLocal, encodedLocal)
			}

			part := workdir.PartPath(encodedLocal)
			workdir.Discard(part)
			if err := e.Encoder.EncodeToTarget(ctx, rawLocal, part, cfg.TargetSizeBytes(), cfg.SafetyMargin); err != nil {
				workdir.Discard(part)
				return err
			}
			return workdir.Promote(part, encodedLocal)
		}()
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func driveHasEncoded(ctx context.Context, drv Drive, encodedParts []string, name string) (bool, error) {
	parentID, found, err := drv.FindFolderPath(ctx, joinRel(encodedParts))
	if err != nil || !found {
		return false, err
	}
	_, found, err = drv.FindFile(ctx, parentID, name)
	return found, err
}

func fileExists(path string) bool {
	_, err := workdir.FileSize(path)
	return err == nil
}
