package drive

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeQuery(t *testing.T) {
	assert.Equal(t, `plain`, escapeQuery(`plain`))
	assert.Equal(t, `a\'b`, escapeQuery(`a'b`))
	assert.Equal(t, `김\'s \'강의\'`, escapeQuery(`김's '강의'`))
}

func TestFileKinds(t *testing.T) {
	folder := File{MimeType: FolderMime}
	assert.True(t, folder.IsFolder())
	assert.False(t, folder.IsGoogleApp())

	doc := File{MimeType: "application/vnd.google-apps.document"}
	assert.False(t, doc.IsFolder())
	assert.True(t, doc.IsGoogleApp())

	video := File{MimeType: "video/mp4", Size: 100}
	assert.False(t, video.IsFolder())
	assert.False(t, video.IsGoogleApp())
}

func TestProgressReader(t *testing.T) {
	var seen []int64
	r := &progressReader{
		r:      strings.NewReader("0123456789"),
		report: func(current int64) { seen = append(seen, current) },
	}

	buf := make([]byte, 4)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.NotEmpty(t, seen)
	assert.Equal(t, int64(4), seen[0])
	assert.Equal(t, int64(8), seen[1])
}
