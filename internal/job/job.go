// Package job implements the migration operations: producing local copies
// from Dropbox, encoding, uploading to Drive, and the audit/compare tools.
package job

import (
	"context"
	"log/slog"
	"strings"

	"github.com/kimyj950113/video-encoder/internal/config"
	"github.com/kimyj950113/video-encoder/internal/drive"
	"github.com/kimyj950113/video-encoder/internal/dropbox"
	"github.com/kimyj950113/video-encoder/internal/pathmap"
	"github.com/kimyj950113/video-encoder/internal/workdir"
)

// Dropbox is the slice of the Dropbox client the jobs consume.
type Dropbox interface {
	ListRecursive(ctx context.Context, root string) ([]dropbox.Entry, error)
	DownloadToFile(ctx context.Context, dbxPath, outPath string) error
}

// Drive is the slice of the Drive service the jobs consume.
type Drive interface {
	EnsureFolderPath(ctx context.Context, relPath string) (string, error)
	FindFolderPath(ctx context.Context, relPath string) (string, bool, error)
	FindFile(ctx context.Context, parentID, name string) (drive.File, bool, error)
	ListChildren(ctx context.Context, parentID string) ([]drive.File, error)
	Upload(ctx context.Context, localPath, parentID, name string) (string, error)
	Update(ctx context.Context, fileID, localPath string) error
	Download(ctx context.Context, fileID, name, outPath string, size int64) error
	RootID() string
}

// Encoder runs the ffmpeg profiles.
type Encoder interface {
	EncodeToTarget(ctx context.Context, in, out string, targetBytes int64, margin float64) error
	EncodeLectureProfile(ctx context.Context, in, out string, targetBytes int64, margin float64) error
}

// Env bundles the collaborators every job receives.
type Env struct {
	Cfg     *config.Config
	Work    *workdir.Dir
	Dropbox Dropbox
	Drive   Drive
	Encoder Encoder
	Logger  *slog.Logger
}

func (e *Env) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// isVideoTarget reports whether a Dropbox file is a deliverable the encode
// pipeline should process.
func (e *Env) isVideoTarget(pathDisplay string) bool {
	return pathmap.HasExt(pathDisplay, e.Cfg.VideoExts) &&
		pathmap.UnderFinalCut(pathDisplay, e.Cfg.FinalCutDir)
}

// joinRel turns folder parts into the slash-joined relative path the Drive
// service resolves.
func joinRel(parts []string) string { return strings.Join(parts, "/") }
