package job

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimyj950113/video-encoder/internal/drive"
)

const mib = 1024 * 1024

func TestFindEncodedFolders(t *testing.T) {
	drv := newFakeDrive()
	drv.addChildFolder("root", "d1", "강의")
	drv.addChildFolder("d1", "d2", "encoded")
	drv.addChildFolder("d2", "d3", "W1")
	drv.addChildFolder("root", "d4", "encoded")

	folders, err := findEncodedFolders(context.Background(), drv, false)
	require.NoError(t, err)
	require.Len(t, folders, 2)

	rels := []string{folders[0].relPath, folders[1].relPath}
	assert.Contains(t, rels, "강의/encoded")
	assert.Contains(t, rels, "encoded")
}

func TestAuditScanAndFix(t *testing.T) {
	drv := newFakeDrive()
	drv.addChildFolder("root", "d1", "강의")
	drv.addChildFolder("d1", "d2", "encoded")
	drv.addChildFile("d2", drive.File{ID: "big", Name: "big.mp4", MimeType: "video/mp4", Size: 520 * mib})
	drv.addChildFile("d2", drive.File{ID: "huge", Name: "huge.mp4", MimeType: "video/mp4", Size: 700 * mib})
	drv.addChildFile("d2", drive.File{ID: "ok", Name: "ok.mp4", MimeType: "video/mp4", Size: 100 * mib})
	env := testEnv(t, &fakeDropbox{}, drv)

	report := filepath.Join(t.TempDir(), "audit.csv")
	stats, err := Audit(context.Background(), env, AuditOptions{
		MaxMiB:     500,
		Fix:        true,
		Cleanup:    true,
		ReportPath: report,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.EncodedFolders)
	assert.Equal(t, 3, stats.FilesScanned)
	assert.Equal(t, 2, stats.Oversize)
	// huge.mp4 sits outside the default 500-550 fix window.
	assert.Equal(t, 1, stats.OversizeInRange)
	assert.Equal(t, 1, stats.Fixed)
	assert.Zero(t, stats.FixFailed)

	// The oversize file is replaced in place, keeping its ID.
	assert.Equal(t, []string{"big"}, drv.updates)
	assert.Empty(t, drv.uploads)

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "big.mp4")
	assert.Contains(t, content, "huge.mp4")
	assert.NotContains(t, content, "ok.mp4")

	// Cleanup removed the local fix artifacts.
	assert.NoFileExists(t, filepath.Join(env.Work.Fix(), "big.src"))
	assert.NoFileExists(t, filepath.Join(env.Work.Fix(), "big.out.mp4"))
}

func TestAuditReportAll(t *testing.T) {
	drv := newFakeDrive()
	drv.addChildFolder("root", "d1", "encoded")
	drv.addChildFile("d1", drive.File{ID: "a", Name: "a.mp4", MimeType: "video/mp4", Size: 10 * mib})
	env := testEnv(t, &fakeDropbox{}, drv)

	report := filepath.Join(t.TempDir(), "audit.csv")
	stats, err := Audit(context.Background(), env, AuditOptions{
		MaxMiB:     500,
		ReportAll:  true,
		ReportPath: report,
	})
	require.NoError(t, err)
	assert.Zero(t, stats.Oversize)

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	assert.Contains(t, string(data), "a.mp4")
}

func TestFetchMirrorsEncodedTrees(t *testing.T) {
	drv := newFakeDrive()
	drv.addChildFolder("root", "d1", "강의")
	drv.addChildFolder("d1", "d2", "encoded")
	drv.addChildFile("d2", drive.File{ID: "fa", Name: "a.mp4", MimeType: "video/mp4", Size: 13})
	drv.addChildFile("d2", drive.File{ID: "fd", Name: "doc", MimeType: "application/vnd.google-apps.document"})
	drv.addChildFolder("d2", "d3", "W1")
	drv.addChildFile("d3", drive.File{ID: "fb", Name: "b.mp4", MimeType: "video/mp4", Size: 13})
	env := testEnv(t, &fakeDropbox{}, drv)

	outDir := t.TempDir()
	stats, err := Fetch(context.Background(), env, FetchOptions{OutDir: outDir})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.EncodedFolders)
	assert.Equal(t, 2, stats.Downloaded)
	assert.Equal(t, 1, stats.Skipped)
	assert.Zero(t, stats.Failed)

	assert.FileExists(t, filepath.Join(outDir, "강의", "encoded", "a.mp4"))
	assert.FileExists(t, filepath.Join(outDir, "강의", "encoded", "W1", "b.mp4"))

	// A second run with SkipExisting leaves everything alone.
	stats, err = Fetch(context.Background(), env, FetchOptions{OutDir: outDir, SkipExisting: true})
	require.NoError(t, err)
	assert.Zero(t, stats.Downloaded)
	assert.Equal(t, 3, stats.Skipped)
}

func TestFetchOnlyMP4(t *testing.T) {
	drv := newFakeDrive()
	drv.addChildFolder("root", "d1", "encoded")
	drv.addChildFile("d1", drive.File{ID: "fa", Name: "a.mp4", MimeType: "video/mp4", Size: 13})
	drv.addChildFile("d1", drive.File{ID: "fz", Name: "notes.zip", MimeType: "application/zip", Size: 13})
	env := testEnv(t, &fakeDropbox{}, drv)

	outDir := t.TempDir()
	stats, err := Fetch(context.Background(), env, FetchOptions{OutDir: outDir, OnlyMP4: true})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Downloaded)
	assert.Equal(t, 1, stats.Skipped)
	assert.FileExists(t, filepath.Join(outDir, "encoded", "a.mp4"))
	assert.NoFileExists(t, filepath.Join(outDir, "encoded", "notes.zip"))
}

func TestAuditRowSizeMiB(t *testing.T) {
	r := AuditRow{SizeBytes: 512 * mib}
	assert.InDelta(t, 512.0, r.SizeMiB(), 0.001)
}
