package dropbox

import (
	"context"
	"testing"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(context.Background(), Options{AppKey: "k", AppSecret: "s"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refresh token")
}

func TestAppendEntries(t *testing.T) {
	raw := []files.IsMetadata{
		&files.FileMetadata{
			Metadata: files.Metadata{
				Name:        "a.mp4",
				PathLower:   "/강의/a.mp4",
				PathDisplay: "/강의/a.mp4",
			},
			Size: 42,
		},
		&files.FolderMetadata{
			Metadata: files.Metadata{
				Name:        "강의",
				PathLower:   "/강의",
				PathDisplay: "/강의",
			},
		},
	}

	got := appendEntries(nil, raw)
	require.Len(t, got, 2)
	assert.Equal(t, Entry{Name: "a.mp4", PathLower: "/강의/a.mp4", PathDisplay: "/강의/a.mp4", Size: 42}, got[0])
	assert.True(t, got[1].IsFolder)
	assert.Zero(t, got[1].Size)
}

func TestFilesFilter(t *testing.T) {
	entries := []Entry{
		{PathDisplay: "/a", IsFolder: true},
		{PathDisplay: "/a/x.mp4", Size: 1},
		{PathDisplay: "/a/y.mov", Size: 2},
	}
	got := Files(entries)
	require.Len(t, got, 2)
	assert.Equal(t, "/a/x.mp4", got[0].PathDisplay)
	assert.Equal(t, "/a/y.mov", got[1].PathDisplay)
}
