package job

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/kimyj950113/video-encoder/internal/workdir"
)

// FetchOptions tunes the fetch job.
type FetchOptions struct {
	// OutDir is the local root the encoded trees are mirrored into
	// (default: the workdir fetch bucket).
	OutDir string
	// SkipExisting skips files already present locally with the same size.
	SkipExisting bool
	// OnlyMP4 restricts downloads to .mp4 files.
	OnlyMP4 bool
}

// FetchStats summarizes one fetch run.
type FetchStats struct {
	EncodedFolders int
	Downloaded     int
	Skipped        int
	Failed         int
}

// Fetch mirrors every encoded folder under the Drive root into a local
// directory, preserving the folder structure. Google-native documents are
// skipped; they need an export, not a download.
func Fetch(ctx context.Context, env *Env, opts FetchOptions) (FetchStats, error) {
	logger := env.logger()
	var stats FetchStats

	outDir := opts.OutDir
	if outDir == "" {
		var err error
		outDir, err = env.Work.Bucket("fetch")
		if err != nil {
			return stats, err
		}
	}

	folders, err := findEncodedFolders(ctx, env.Drive, true)
	if err != nil {
		return stats, err
	}
	stats.EncodedFolders = len(folders)
	logger.Info("encoded folders found", "count", len(folders), "out", outDir)

	for _, folder := range folders {
		if err := env.fetchTree(ctx, folder, outDir, opts, &stats); err != nil {
			return stats, err
		}
	}

	logger.Info("fetch finished",
		"downloaded", stats.Downloaded, "skipped", stats.Skipped, "failed", stats.Failed)
	return stats, nil
}

// fetchTree downloads one encoded folder subtree breadth-first.
func (e *Env) fetchTree(ctx context.Context, folder encodedFolder, outDir string, opts FetchOptions, stats *FetchStats) error {
	logger := e.logger()

	type frame struct {
		id  string
		rel string
	}
	queue := []frame{{id: folder.id, rel: folder.relPath}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		children, err := e.Drive.ListChildren(ctx, cur.id)
		if err != nil {
			return err
		}

		for _, child := range children {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			rel := cur.rel + "/" + child.Name
			if child.IsFolder() {
				queue = append(queue, frame{id: child.ID, rel: rel})
				continue
			}
			if child.IsGoogleApp() {
				logger.Info("skipping google-native document", "path", rel, "mime", child.MimeType)
				stats.Skipped++
				continue
			}
			if opts.OnlyMP4 && !strings.HasSuffix(strings.ToLower(child.Name), ".mp4") {
				stats.Skipped++
				continue
			}

			localPath := filepath.Join(outDir, filepath.FromSlash(rel))
			if opts.SkipExisting && child.Size > 0 && workdir.SameSize(localPath, child.Size) {
				stats.Skipped++
				logger.Debug("already fetched", "path", rel)
				continue
			}

			if err := e.Drive.Download(ctx, child.ID, child.Name, localPath, child.Size); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				stats.Failed++
				logger.Error("fetch failed", "path", rel, "error", err)
				continue
			}
			stats.Downloaded++
			logger.Info("fetched", "path", rel)
		}
	}
	return nil
}
