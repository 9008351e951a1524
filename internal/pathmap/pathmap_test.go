package pathmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const finalCut = "최종편집영상"

func TestFlatName(t *testing.T) {
	got := FlatName("/디자인/2D 모션그래픽 디자인/TAC_장준석/최종편집영상/W4/2.mp4", finalCut)
	assert.Equal(t, "디자인_2D 모션그래픽 디자인_TAC_장준석_W4_2.mp4", got)

	// Extension is always rewritten to .mp4.
	got = FlatName("/a/b/최종편집영상/clip.mov", finalCut)
	assert.Equal(t, "a_b_clip.mp4", got)
}

func TestEncodedFolderParts(t *testing.T) {
	parts, err := EncodedFolderParts("/디자인/그래픽디자인/MPC_임수연/최종편집영상/W1/2.mp4", finalCut)
	require.NoError(t, err)
	assert.Equal(t, []string{"디자인", "그래픽디자인", "MPC_임수연", "encoded"}, parts)

	_, err = EncodedFolderParts("/디자인/other/file.mp4", finalCut)
	assert.Error(t, err)
}

func TestRawFolderParts(t *testing.T) {
	parts, err := RawFolderParts("/디자인/그래픽디자인/최종편집영상/W1/2.mp4")
	require.NoError(t, err)
	assert.Equal(t, []string{"디자인", "그래픽디자인", "최종편집영상", "W1"}, parts)

	_, err = RawFolderParts("/top-level.mp4")
	assert.Error(t, err)
}

func TestRelUnderRoot(t *testing.T) {
	rel, err := RelUnderRoot("/디자인/a/b.png", "/디자인")
	require.NoError(t, err)
	assert.Equal(t, "a/b.png", rel)

	rel, err = RelUnderRoot("/디자인", "/디자인")
	require.NoError(t, err)
	assert.Equal(t, "", rel)

	_, err = RelUnderRoot("/elsewhere/x", "/디자인")
	assert.Error(t, err)
}

func TestNormalizeRelFolder(t *testing.T) {
	assert.Equal(t, "", NormalizeRelFolder("."))
	assert.Equal(t, "", NormalizeRelFolder("./"))
	assert.Equal(t, "", NormalizeRelFolder(""))
	assert.Equal(t, "a/b", NormalizeRelFolder("a/b"))
}

func TestParentFolders(t *testing.T) {
	assert.Equal(t, []string{""}, ParentFolders("file.mp4"))
	assert.Equal(t, []string{"", "A", "A/B"}, ParentFolders("A/B/file.mp4"))
}

func TestFilterSkip(t *testing.T) {
	f := Filter{
		ClosedMarker:  "(폐강",
		IncludeSubstr: "디자인",
		ExcludeSubstr: "draft",
		SkipExts:      []string{".psd"},
	}

	assert.True(t, f.Skip("/디자인/TAC (폐강)/w1.mp4"), "closed marker")
	assert.True(t, f.Skip("/개발/video.mp4"), "include miss")
	assert.True(t, f.Skip("/디자인/draft/video.mp4"), "exclude hit")
	assert.True(t, f.Skip("/디자인/cover.PSD"), "skipped extension")
	assert.False(t, f.Skip("/디자인/video.mp4"))
}

func TestHasExt(t *testing.T) {
	exts := []string{".mp4", ".mov"}
	assert.True(t, HasExt("/a/b.MP4", exts))
	assert.False(t, HasExt("/a/b.txt", exts))
	assert.False(t, HasExt("/a/b", exts))
}

func TestCompressTopFolders(t *testing.T) {
	got := CompressTopFolders(map[string]bool{
		"A":     true,
		"A/B":   true,
		"A/B/C": true,
		"D/E":   true,
	})
	assert.ElementsMatch(t, []string{"A", "D/E"}, got)

	// The root subsumes everything, "." normalizes to the root.
	got = CompressTopFolders(map[string]bool{".": true, "A": true, "B/C": true})
	assert.Equal(t, []string{""}, got)

	// Sibling prefix is not an ancestor.
	got = CompressTopFolders(map[string]bool{"A": true, "AB/C": true})
	assert.ElementsMatch(t, []string{"A", "AB/C"}, got)
}
