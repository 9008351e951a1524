package job

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/kimyj950113/video-encoder/internal/pathmap"
	"github.com/kimyj950113/video-encoder/internal/workdir"
)

// Re-encode margins, tried in order until the result fits the size cap.
var fixMargins = []float64{0.93, 0.90}

// AuditOptions tunes the audit job.
type AuditOptions struct {
	// MaxMiB is the size cap for encoded deliverables.
	MaxMiB int
	// ScanMinMiB and ScanMaxMiB bound which oversize files the fixer takes
	// on; grossly oversize files need manual attention.
	ScanMinMiB float64
	ScanMaxMiB float64

	// Fix re-encodes oversize files in range and overwrites them in place.
	Fix bool
	// Cleanup removes local fix artifacts after a successful update.
	Cleanup bool
	// LimitFix caps how many files one run fixes (0 = unlimited).
	LimitFix int
	// ReportAll writes every file to the CSV instead of only oversize ones.
	ReportAll bool

	ReportPath string
}

// AuditRow is one encoded file found during the scan.
type AuditRow struct {
	FolderPath string
	Name       string
	FileID     string
	SizeBytes  int64
}

// SizeMiB returns the file size in mebibytes.
func (r AuditRow) SizeMiB() float64 { return float64(r.SizeBytes) / (1024 * 1024) }

// AuditStats summarizes one audit run.
type AuditStats struct {
	EncodedFolders  int
	FilesScanned    int
	Oversize        int
	OversizeInRange int
	Fixed           int
	FixFailed       int
}

// encodedFolder is one Drive folder named after the encoded convention.
type encodedFolder struct {
	id      string
	relPath string
}

// Audit scans every "encoded" folder under the Drive root for files above
// the size cap, writes a CSV report, and optionally re-encodes the ones in
// the scan range in place, keeping the Drive file ID (and with it sharing
// links) intact.
func Audit(ctx context.Context, env *Env, opts AuditOptions) (AuditStats, error) {
	logger := env.logger()
	var stats AuditStats

	if opts.MaxMiB <= 0 {
		opts.MaxMiB = 500
	}
	if opts.ScanMinMiB <= 0 {
		opts.ScanMinMiB = float64(opts.MaxMiB)
	}
	if opts.ScanMaxMiB <= 0 {
		opts.ScanMaxMiB = float64(opts.MaxMiB) + 50
	}
	if opts.ReportPath == "" {
		opts.ReportPath = fmt.Sprintf("encoded_audit_%s.csv", time.Now().Format("20060102_150405"))
	}

	capBytes := int64(opts.MaxMiB) * 1024 * 1024
	scanMin := int64(opts.ScanMinMiB * 1024 * 1024)
	scanMax := int64(opts.ScanMaxMiB * 1024 * 1024)

	folders, err := findEncodedFolders(ctx, env.Drive, false)
	if err != nil {
		return stats, err
	}
	stats.EncodedFolders = len(folders)
	logger.Info("encoded folders found", "count", len(folders))

	var rows []AuditRow
	for _, folder := range folders {
		folderRows, err := collectFilesUnder(ctx, env.Drive, folder)
		if err != nil {
			return stats, err
		}
		rows = append(rows, folderRows...)
	}
	stats.FilesScanned = len(rows)

	var oversize, inRange []AuditRow
	for _, r := range rows {
		if r.SizeBytes <= capBytes {
			continue
		}
		oversize = append(oversize, r)
		if r.SizeBytes >= scanMin && r.SizeBytes <= scanMax {
			inRange = append(inRange, r)
		}
	}
	stats.Oversize = len(oversize)
	stats.OversizeInRange = len(inRange)

	reportRows := oversize
	if opts.ReportAll {
		reportRows = rows
	}
	if err := writeAuditReport(opts.ReportPath, reportRows); err != nil {
		return stats, err
	}
	logger.Info("audit report written",
		"path", opts.ReportPath,
		"files", stats.FilesScanned,
		"oversize", stats.Oversize,
		"in_fix_range", stats.OversizeInRange)

	if !opts.Fix {
		return stats, nil
	}

	fixDir := env.Work.Fix()
	if err := os.MkdirAll(fixDir, 0o755); err != nil {
		return stats, err
	}

	for _, r := range inRange {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if opts.LimitFix > 0 && stats.Fixed >= opts.LimitFix {
			logger.Info("fix limit reached", "limit", opts.LimitFix)
			break
		}

		if err := env.fixOne(ctx, fixDir, r, capBytes, opts.Cleanup); err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			stats.FixFailed++
			logger.Error("fix failed", "file_id", r.FileID, "name", r.Name, "error", err)
			continue
		}
		stats.Fixed++
	}

	logger.Info("audit finished", "fixed", stats.Fixed, "fix_failed", stats.FixFailed)
	return stats, nil
}

// findEncodedFolders walks the Drive folder tree collecting folders named
// "encoded". When descendIntoEncoded is false the walk stops at each match,
// matching how deliverable trees are laid out.
func findEncodedFolders(ctx context.Context, drv Drive, descendIntoEncoded bool) ([]encodedFolder, error) {
	var out []encodedFolder
	queue := []encodedFolder{{id: drv.RootID()}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		children, err := drv.ListChildren(ctx, cur.id)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if !child.IsFolder() {
				continue
			}
			rel := child.Name
			if cur.relPath != "" {
				rel = cur.relPath + "/" + child.Name
			}
			next := encodedFolder{id: child.ID, relPath: rel}

			if child.Name == pathmap.EncodedDirName {
				out = append(out, next)
				if !descendIntoEncoded {
					continue
				}
			}
			queue = append(queue, next)
		}
	}
	return out, nil
}

// collectFilesUnder gathers every sized file under one encoded folder.
// Google-native documents have no byte size and are ignored.
func collectFilesUnder(ctx context.Context, drv Drive, folder encodedFolder) ([]AuditRow, error) {
	var rows []AuditRow
	queue := []string{folder.id}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		children, err := drv.ListChildren(ctx, cur)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if child.IsFolder() {
				queue = append(queue, child.ID)
				continue
			}
			if child.Size <= 0 {
				continue
			}
			rows = append(rows, AuditRow{
				FolderPath: "/" + folder.relPath,
				Name:       child.Name,
				FileID:     child.ID,
				SizeBytes:  child.Size,
			})
		}
	}
	return rows, nil
}

// fixOne downloads an oversize file, re-encodes it under the cap with the
// readability-first profile, and overwrites the Drive file in place. Local
// artifacts are keyed by file ID so concurrent history never collides; on
// failure they are left behind for inspection.
func (e *Env) fixOne(ctx context.Context, fixDir string, r AuditRow, capBytes int64, cleanup bool) error {
	logger := e.logger()

	src := filepath.Join(fixDir, r.FileID+".src")
	out := filepath.Join(fixDir, r.FileID+".out.mp4")

	logger.Info("fixing oversize file",
		"path", r.FolderPath+"/"+r.Name,
		"file_id", r.FileID,
		"size_mib", fmt.Sprintf("%.1f", r.SizeMiB()),
		"cap_mib", capBytes/(1024*1024))

	// Always start from a fresh download.
	workdir.Discard(src)
	workdir.Discard(out)

	if err := e.Drive.Download(ctx, r.FileID, r.Name, src, r.SizeBytes); err != nil {
		return err
	}

	var resultSize int64
	fitted := false
	for _, margin := range fixMargins {
		part := workdir.PartPath(out)
		workdir.Discard(part)
		if err := e.Encoder.EncodeLectureProfile(ctx, src, part, capBytes, margin); err != nil {
			workdir.Discard(part)
			return err
		}
		if err := workdir.Promote(part, out); err != nil {
			return err
		}

		size, err := workdir.FileSize(out)
		if err != nil {
			return err
		}
		resultSize = size
		if size <= capBytes {
			fitted = true
			break
		}
		logger.Warn("re-encode still oversize, lowering margin",
			"file_id", r.FileID, "size_mib", fmt.Sprintf("%.1f", float64(size)/(1024*1024)))
	}
	if !fitted {
		return fmt.Errorf("re-encode still oversize after all margins: %d bytes", resultSize)
	}

	if err := e.Drive.Update(ctx, r.FileID, out); err != nil {
		return err
	}
	logger.Info("fixed in place", "file_id", r.FileID,
		"new_size_mib", fmt.Sprintf("%.1f", float64(resultSize)/(1024*1024)))

	if cleanup {
		workdir.Discard(src)
		workdir.Discard(out)
	}
	return nil
}

func writeAuditReport(path string, rows []AuditRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create audit report: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(utf8bom); err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if err := w.Write([]string{"encoded_folder", "file_name", "file_id", "size_bytes", "size_mib"}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := w.Write([]string{
			r.FolderPath,
			r.Name,
			r.FileID,
			strconv.FormatInt(r.SizeBytes, 10),
			fmt.Sprintf("%.1f", r.SizeMiB()),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
