package job

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimyj950113/video-encoder/internal/dropbox"
	"github.com/kimyj950113/video-encoder/internal/workdir"
)

func TestProduceStagesRawAndEncoded(t *testing.T) {
	dbx := &fakeDropbox{
		content: "payload",
		entries: []dropbox.Entry{
			fileEntry("/디자인/강의/최종편집영상/1.mp4", 7),
			fileEntry("/디자인/(폐강)강의/최종편집영상/2.mp4", 7),
		},
	}
	env := testEnv(t, dbx, newFakeDrive())

	stats, err := Produce(context.Background(), env, ProduceOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Targets)
	assert.Equal(t, 1, stats.SkippedClosed)
	assert.Equal(t, 1, stats.Prepared)
	assert.Zero(t, stats.Failed)

	rawLocal := filepath.Join(env.Work.Raw(), "디자인", "강의", "최종편집영상", "1.mp4")
	encodedLocal := filepath.Join(env.Work.Encoded(), "디자인", "강의", "encoded", "디자인_강의_1.mp4")
	assert.FileExists(t, rawLocal)
	assert.FileExists(t, encodedLocal)
	// Under the target size the encoded variant is a plain copy.
	assert.True(t, workdir.SameSize(encodedLocal, 7))

	// A second run sees both staged files and does nothing.
	stats, err = Produce(context.Background(), env, ProduceOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SkippedLocal)
	assert.Zero(t, stats.Prepared)
}

func TestProduceSkipsWhenEncodedOnDrive(t *testing.T) {
	dbx := &fakeDropbox{
		content: "payload",
		entries: []dropbox.Entry{
			fileEntry("/디자인/강의/최종편집영상/1.mp4", 7),
		},
	}
	drv := newFakeDrive()
	drv.addFile("디자인/강의/encoded", "디자인_강의_1.mp4", 7)
	env := testEnv(t, dbx, drv)

	stats, err := Produce(context.Background(), env, ProduceOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SkippedOnDrive)
	assert.Zero(t, stats.Prepared)
}

func TestProduceDryRun(t *testing.T) {
	dbx := &fakeDropbox{
		content: "payload",
		entries: []dropbox.Entry{
			fileEntry("/디자인/강의/최종편집영상/1.mp4", 7),
		},
	}
	env := testEnv(t, dbx, newFakeDrive())

	stats, err := Produce(context.Background(), env, ProduceOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Targets)
	assert.Zero(t, stats.Prepared)

	files, err := workdir.ListFiles(env.Work.Raw())
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestProduceCleansAbandonedParts(t *testing.T) {
	env := testEnv(t, &fakeDropbox{}, newFakeDrive())

	stale := filepath.Join(env.Work.Raw(), "old.mp4"+workdir.PartSuffix)
	require.NoError(t, workdir.EnsureParent(stale))
	require.NoError(t, os.WriteFile(stale, []byte("junk"), 0o644))

	_, err := Produce(context.Background(), env, ProduceOptions{})
	require.NoError(t, err)
	assert.NoFileExists(t, stale)
}
