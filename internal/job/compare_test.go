package job

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimyj950113/video-encoder/internal/drive"
	"github.com/kimyj950113/video-encoder/internal/dropbox"
	"github.com/kimyj950113/video-encoder/internal/pathmap"
)

func folderEntry(pathDisplay string) dropbox.Entry {
	return dropbox.Entry{
		Name:        filepath.Base(pathDisplay),
		PathLower:   pathDisplay,
		PathDisplay: pathDisplay,
		IsFolder:    true,
	}
}

func TestCollectDropboxTree(t *testing.T) {
	entries := []dropbox.Entry{
		folderEntry("/디자인/강의"),
		folderEntry("/디자인/강의/W1"),
		fileEntry("/디자인/강의/W1/1.mp4", 7),
		fileEntry("/디자인/강의/메모.txt", 3),
		fileEntry("/디자인/(폐강)강의/2.mp4", 9),
		folderEntry("/디자인/기타"),
	}
	filter := pathmap.Filter{ClosedMarker: "(폐강"}

	files, folders, err := collectDropboxTree(entries, "/디자인", filter, []string{".txt"})
	require.NoError(t, err)

	require.Len(t, files, 1)
	assert.Equal(t, "/디자인/강의/W1/1.mp4", files[0].PathDisplay)

	// Ancestors are registered even for folders only seen through files.
	for _, want := range []string{"", "강의", "강의/W1", "기타"} {
		assert.True(t, folders[want], "folder %q", want)
	}
	assert.False(t, folders["(폐강)강의"])
}

func TestCompareFilesStatuses(t *testing.T) {
	files := []dropbox.Entry{
		fileEntry("/디자인/A/ok.mp4", 10),
		fileEntry("/디자인/A/missing.mp4", 10),
		fileEntry("/디자인/A/mismatch.mp4", 10),
		fileEntry("/디자인/B/dup.mp4", 10),
		fileEntry("/디자인/B/doc.mp4", 10),
		fileEntry("/디자인/B/nosize.mp4", 10),
	}
	index := &driveIndex{
		folders: map[string]bool{"": true, "A": true, "B": true},
		files: map[string][]drive.File{
			"A/ok.mp4":       {{ID: "1", Size: 10, MimeType: "video/mp4"}},
			"A/mismatch.mp4": {{ID: "2", Size: 11, MimeType: "video/mp4"}},
			"B/dup.mp4":      {{ID: "3", Size: 10}, {ID: "4", Size: 10}},
			"B/doc.mp4":      {{ID: "5", MimeType: "application/vnd.google-apps.document"}},
			"B/nosize.mp4":   {{ID: "6", MimeType: "video/mp4"}},
		},
	}
	folders := map[string]bool{"": true, "A": true, "B": true}

	results, totalByFolder, okByFolder := compareFiles(files, "/디자인", index, folders)
	require.Len(t, results, 6)

	byPath := map[string]FileResult{}
	for _, r := range results {
		byPath[r.RelPath] = r
	}
	assert.Equal(t, StatusOK, byPath["A/ok.mp4"].Status)
	assert.Equal(t, StatusMissing, byPath["A/missing.mp4"].Status)
	assert.Equal(t, StatusSizeMismatch, byPath["A/mismatch.mp4"].Status)
	assert.Equal(t, StatusAmbiguous, byPath["B/dup.mp4"].Status)
	assert.Equal(t, "3;4", byPath["B/dup.mp4"].DriveIDs)
	assert.Equal(t, StatusGoogleApp, byPath["B/doc.mp4"].Status)
	assert.Equal(t, StatusSizeUnknown, byPath["B/nosize.mp4"].Status)

	assert.Equal(t, 6, totalByFolder[""])
	assert.Equal(t, 1, okByFolder[""])
	assert.Equal(t, 3, totalByFolder["A"])
	assert.Equal(t, 1, okByFolder["A"])
	assert.Equal(t, 3, totalByFolder["B"])
	assert.Equal(t, 0, okByFolder["B"])
}

func TestClassifyFolders(t *testing.T) {
	folders := map[string]bool{"": true, "A": true, "A/B": true, "C": true}
	total := map[string]int{"": 3, "A": 2, "C": 1}
	ok := map[string]int{"": 2, "A": 2}
	index := &driveIndex{folders: map[string]bool{"": true, "A": true, "A/B": true}}

	results, deletable := classifyFolders(folders, total, ok, index, false)
	require.Len(t, results, 4)

	byFolder := map[string]FolderResult{}
	for _, r := range results {
		byFolder[r.RelFolder] = r
	}

	// Root holds a failed file and is guarded anyway.
	assert.False(t, byFolder[""].Deletable)
	// All files under A verified; its empty subfolder rides along.
	assert.True(t, byFolder["A"].Deletable)
	assert.True(t, byFolder["A/B"].Deletable)
	assert.Equal(t, "empty_under_dropbox", byFolder["A/B"].Note)
	// C has an unverified file and no Drive counterpart.
	assert.False(t, byFolder["C"].Deletable)
	assert.Contains(t, byFolder["C"].Note, "drive_folder_missing")

	assert.Equal(t, []string{"A"}, pathmap.CompressTopFolders(deletable))
}

func TestClassifyFoldersRootAllowed(t *testing.T) {
	folders := map[string]bool{"": true}
	total := map[string]int{"": 1}
	ok := map[string]int{"": 1}
	index := &driveIndex{folders: map[string]bool{"": true}}

	_, deletable := classifyFolders(folders, total, ok, index, true)
	assert.True(t, deletable[""])
}

func TestCompareWritesReports(t *testing.T) {
	dbx := &fakeDropbox{
		entries: []dropbox.Entry{
			folderEntry("/디자인/강의"),
			fileEntry("/디자인/강의/1.mp4", 7),
			fileEntry("/디자인/강의/2.mp4", 9),
		},
	}
	drv := newFakeDrive()
	drv.addChildFolder("root", "dA", "강의")
	drv.addChildFile("dA", drive.File{ID: "f1", Name: "1.mp4", MimeType: "video/mp4", Size: 7})
	env := testEnv(t, dbx, drv)

	dir := t.TempDir()
	stats, err := Compare(context.Background(), env, CompareOptions{
		FileReportPath:   filepath.Join(dir, "files.csv"),
		FolderReportPath: filepath.Join(dir, "folders.csv"),
		DeletablePath:    filepath.Join(dir, "deletable.txt"),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.ByStatus[StatusOK])
	assert.Equal(t, 1, stats.ByStatus[StatusMissing])
	assert.Equal(t, 2, stats.Folders)
	assert.Zero(t, stats.Deletable)

	data, err := os.ReadFile(filepath.Join(dir, "files.csv"))
	require.NoError(t, err)
	content := string(data)
	assert.True(t, strings.HasPrefix(content, utf8bom))
	assert.Contains(t, content, "강의/1.mp4,7,OK,7,f1")
	assert.Contains(t, content, "강의/2.mp4,9,MISSING")

	deletable, err := os.ReadFile(filepath.Join(dir, "deletable.txt"))
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(string(deletable)))
}

func TestWriteDeletableList(t *testing.T) {
	out := filepath.Join(t.TempDir(), "deletable.txt")
	require.NoError(t, writeDeletableList(out, "/디자인", []string{"", "강의/A"}))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "/디자인\n/디자인/강의/A\n", string(data))
}
