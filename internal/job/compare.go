package job

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/kimyj950113/video-encoder/internal/drive"
	"github.com/kimyj950113/video-encoder/internal/dropbox"
	"github.com/kimyj950113/video-encoder/internal/pathmap"
)

// File comparison statuses. A file is migrated only when relative path, name
// and byte size all match.
const (
	StatusOK           = "OK"
	StatusMissing      = "MISSING"
	StatusSizeMismatch = "SIZE_MISMATCH"
	StatusAmbiguous    = "AMBIGUOUS"
	StatusSizeUnknown  = "GDRIVE_SIZE_UNKNOWN"
	StatusGoogleApp    = "GDRIVE_GOOGLE_APP"
)

// CompareOptions tunes the compare job.
type CompareOptions struct {
	Include    string
	Exclude    string
	SkipClosed bool
	SkipExts   []string

	// AllowRootDelete lets the Dropbox root itself become a delete candidate.
	AllowRootDelete bool

	FileReportPath   string
	FolderReportPath string
	DeletablePath    string
}

// FileResult is one row of the per-file report.
type FileResult struct {
	RelPath     string
	DropboxSize int64
	Status      string
	DriveSize   int64 // -1 when unknown
	DriveIDs    string
	Note        string
}

// FolderResult is one row of the per-folder report.
type FolderResult struct {
	RelFolder   string
	DriveExists bool
	FilesUnder  int
	FilesOK     int
	Deletable   bool
	Note        string
}

// CompareStats summarizes one compare run.
type CompareStats struct {
	ByStatus  map[string]int
	Folders   int
	Deletable int
}

// driveIndex is the flattened view of the Drive tree under the root.
type driveIndex struct {
	files   map[string][]drive.File // relative path -> candidates
	folders map[string]bool         // relative folder set, "" = root
}

// Compare verifies that every Dropbox file under the root has an identical
// copy (same relative path, name and size) on Drive, writes per-file and
// per-folder CSV reports, and emits the highest Dropbox folders whose whole
// subtree is safe to delete.
func Compare(ctx context.Context, env *Env, opts CompareOptions) (CompareStats, error) {
	logger := env.logger()
	cfg := env.Cfg
	stats := CompareStats{ByStatus: map[string]int{}}

	if opts.FileReportPath == "" {
		opts.FileReportPath = "file_migration_audit.csv"
	}
	if opts.FolderReportPath == "" {
		opts.FolderReportPath = "folder_migration_audit.csv"
	}
	if opts.DeletablePath == "" {
		opts.DeletablePath = "dropbox_deletable_folders.txt"
	}

	filter := pathmap.Filter{
		IncludeSubstr: opts.Include,
		ExcludeSubstr: opts.Exclude,
	}
	if opts.SkipClosed {
		filter.ClosedMarker = cfg.ClosedMarker
	}

	entries, err := env.Dropbox.ListRecursive(ctx, cfg.DropboxRoot)
	if err != nil {
		return stats, err
	}
	files, folders, err := collectDropboxTree(entries, cfg.DropboxRoot, filter, opts.SkipExts)
	if err != nil {
		return stats, err
	}
	logger.Info("dropbox tree collected", "files", len(files), "folders", len(folders))

	logger.Info("building drive index", "root_id", env.Drive.RootID())
	index, err := buildDriveIndex(ctx, env.Drive)
	if err != nil {
		return stats, err
	}
	logger.Info("drive index built", "file_paths", len(index.files), "folders", len(index.folders))

	fileResults, totalByFolder, okByFolder := compareFiles(files, cfg.DropboxRoot, index, folders)
	for _, r := range fileResults {
		stats.ByStatus[r.Status]++
	}

	folderResults, deletable := classifyFolders(folders, totalByFolder, okByFolder, index, opts.AllowRootDelete)
	stats.Folders = len(folderResults)
	stats.Deletable = len(deletable)

	compressed := pathmap.CompressTopFolders(deletable)

	if err := writeFileReport(opts.FileReportPath, fileResults); err != nil {
		return stats, err
	}
	if err := writeFolderReport(opts.FolderReportPath, folderResults); err != nil {
		return stats, err
	}
	if err := writeDeletableList(opts.DeletablePath, cfg.DropboxRoot, compressed); err != nil {
		return stats, err
	}

	logger.Info("compare finished",
		"ok", stats.ByStatus[StatusOK],
		"missing", stats.ByStatus[StatusMissing],
		"size_mismatch", stats.ByStatus[StatusSizeMismatch],
		"ambiguous", stats.ByStatus[StatusAmbiguous],
		"deletable_folders", stats.Deletable,
		"file_report", opts.FileReportPath,
		"folder_report", opts.FolderReportPath,
		"deletable_list", opts.DeletablePath)
	return stats, nil
}

// collectDropboxTree filters the listing into files plus the full folder set
// (every ancestor included, root "" always present).
func collectDropboxTree(entries []dropbox.Entry, root string, filter pathmap.Filter, skipExts []string) ([]dropbox.Entry, map[string]bool, error) {
	var files []dropbox.Entry
	folders := map[string]bool{"": true}

	addWithAncestors := func(relFolder string) {
		relFolder = pathmap.NormalizeRelFolder(relFolder)
		if relFolder == "" {
			return
		}
		parts := strings.Split(relFolder, "/")
		for i := 1; i <= len(parts); i++ {
			folders[strings.Join(parts[:i], "/")] = true
		}
	}

	for _, e := range entries {
		if filter.Skip(e.PathDisplay) {
			continue
		}

		rel, err := pathmap.RelUnderRoot(e.PathDisplay, root)
		if err != nil {
			return nil, nil, err
		}

		if e.IsFolder {
			addWithAncestors(rel)
			continue
		}
		if pathmap.HasExt(e.PathDisplay, skipExts) {
			continue
		}
		files = append(files, e)
		addWithAncestors(path.Dir(rel))
	}
	return files, folders, nil
}

// buildDriveIndex walks the Drive tree breadth-first and records every file
// by its root-relative path.
func buildDriveIndex(ctx context.Context, drv Drive) (*driveIndex, error) {
	index := &driveIndex{
		files:   map[string][]drive.File{},
		folders: map[string]bool{"": true},
	}

	type frame struct {
		id     string
		prefix string
	}
	queue := []frame{{id: drv.RootID()}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		children, err := drv.ListChildren(ctx, cur.id)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			rel := child.Name
			if cur.prefix != "" {
				rel = cur.prefix + "/" + child.Name
			}
			if child.IsFolder() {
				index.folders[pathmap.NormalizeRelFolder(rel)] = true
				queue = append(queue, frame{id: child.ID, prefix: rel})
				continue
			}
			index.files[rel] = append(index.files[rel], child)
		}
	}
	return index, nil
}

// compareFiles classifies every Dropbox file against the index and rolls the
// verdicts up into per-folder counters.
func compareFiles(files []dropbox.Entry, root string, index *driveIndex, folders map[string]bool) ([]FileResult, map[string]int, map[string]int) {
	results := make([]FileResult, 0, len(files))
	totalByFolder := make(map[string]int, len(folders))
	okByFolder := make(map[string]int, len(folders))

	record := func(rel string, size int64, status string, driveSize int64, ids, note string) {
		results = append(results, FileResult{
			RelPath: rel, DropboxSize: size, Status: status,
			DriveSize: driveSize, DriveIDs: ids, Note: note,
		})
		ok := status == StatusOK
		for _, folder := range pathmap.ParentFolders(rel) {
			totalByFolder[folder]++
			if ok {
				okByFolder[folder]++
			}
		}
	}

	for _, m := range files {
		rel, err := pathmap.RelUnderRoot(m.PathDisplay, root)
		if err != nil {
			// Listing entries always live under the root; treat the stray as
			// missing so it blocks folder deletion.
			record(m.PathDisplay, m.Size, StatusMissing, -1, "", "outside_root")
			continue
		}

		candidates := index.files[rel]
		switch {
		case len(candidates) == 0:
			record(rel, m.Size, StatusMissing, -1, "", "not_found_on_drive_by_relpath")
		case len(candidates) > 1:
			ids := make([]string, len(candidates))
			for i, c := range candidates {
				ids[i] = c.ID
			}
			record(rel, m.Size, StatusAmbiguous, -1, strings.Join(ids, ";"),
				fmt.Sprintf("multiple_items_same_relpath(count=%d)", len(candidates)))
		default:
			c := candidates[0]
			switch {
			case c.IsGoogleApp():
				record(rel, m.Size, StatusGoogleApp, c.Size, c.ID, "drive_mime="+c.MimeType)
			case c.Size <= 0:
				record(rel, m.Size, StatusSizeUnknown, c.Size, c.ID, "drive_size_missing")
			case c.Size == m.Size:
				record(rel, m.Size, StatusOK, c.Size, c.ID, "same_relpath_and_size")
			default:
				record(rel, m.Size, StatusSizeMismatch, c.Size, c.ID,
					fmt.Sprintf("size_mismatch(drive=%d,dropbox=%d)", c.Size, m.Size))
			}
		}
	}
	return results, totalByFolder, okByFolder
}

// classifyFolders marks each Dropbox folder deletable when every file under
// it verified OK. Empty subtrees are deletable too; the root never is unless
// explicitly allowed.
func classifyFolders(folders map[string]bool, totalByFolder, okByFolder map[string]int, index *driveIndex, allowRootDelete bool) ([]FolderResult, map[string]bool) {
	ordered := make([]string, 0, len(folders))
	for f := range folders {
		ordered = append(ordered, pathmap.NormalizeRelFolder(f))
	}
	sortFoldersByDepth(ordered)

	results := make([]FolderResult, 0, len(ordered))
	deletable := map[string]bool{}

	for _, folder := range ordered {
		total := totalByFolder[folder]
		ok := okByFolder[folder]
		driveExists := index.folders[folder]

		var canDelete bool
		var note string
		switch {
		case folder == "" && !allowRootDelete:
			canDelete = false
			if total == 0 {
				note = "empty_but_root_delete_not_allowed"
			} else if total == ok {
				note = "all_ok_but_root_delete_not_allowed"
			} else {
				note = fmt.Sprintf("not_all_ok(total=%d,ok=%d)", total, ok)
			}
		case total == 0:
			canDelete = true
			note = "empty_under_dropbox"
		case total == ok:
			canDelete = true
			note = "all_files_ok_under_folder"
		default:
			canDelete = false
			note = fmt.Sprintf("not_all_ok(total=%d,ok=%d)", total, ok)
		}
		if !driveExists {
			note += " | drive_folder_missing"
		}

		results = append(results, FolderResult{
			RelFolder:   folder,
			DriveExists: driveExists,
			FilesUnder:  total,
			FilesOK:     ok,
			Deletable:   canDelete,
			Note:        note,
		})
		if canDelete {
			deletable[folder] = true
		}
	}
	return results, deletable
}

func sortFoldersByDepth(folders []string) {
	sort.Slice(folders, func(i, j int) bool {
		di, dj := strings.Count(folders[i], "/"), strings.Count(folders[j], "/")
		if di != dj {
			return di < dj
		}
		return folders[i] < folders[j]
	})
}

// utf8bom keeps the CSV reports readable when opened in spreadsheet apps.
const utf8bom = "\ufeff"

func writeFileReport(path string, results []FileResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file report: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(utf8bom); err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if err := w.Write([]string{"rel_path", "dropbox_size", "status", "gdrive_size", "gdrive_file_ids", "note"}); err != nil {
		return err
	}
	for _, r := range results {
		driveSize := ""
		if r.DriveSize >= 0 {
			driveSize = strconv.FormatInt(r.DriveSize, 10)
		}
		if err := w.Write([]string{
			r.RelPath,
			strconv.FormatInt(r.DropboxSize, 10),
			r.Status,
			driveSize,
			r.DriveIDs,
			r.Note,
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeFolderReport(path string, results []FolderResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create folder report: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(utf8bom); err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if err := w.Write([]string{"rel_folder", "gdrive_exists", "file_total_under", "file_ok_under", "deletable", "note"}); err != nil {
		return err
	}
	for _, r := range results {
		if err := w.Write([]string{
			r.RelFolder,
			strconv.FormatBool(r.DriveExists),
			strconv.Itoa(r.FilesUnder),
			strconv.Itoa(r.FilesOK),
			strconv.FormatBool(r.Deletable),
			r.Note,
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeDeletableList(outPath, dropboxRoot string, compressed []string) error {
	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create deletable list: %w", err)
	}
	defer f.Close()

	for _, folder := range compressed {
		abs := dropboxRoot
		if folder != "" {
			abs = strings.TrimSuffix(dropboxRoot, "/") + "/" + folder
		}
		if _, err := fmt.Fprintln(f, abs); err != nil {
			return err
		}
	}
	return nil
}
