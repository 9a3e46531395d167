package artifact

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/reelforge/pkg/models"
)

func TestWriteFileReplacesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "clip.mp4")

	require.NoError(t, WriteFile(path, []byte("first")))
	require.NoError(t, WriteFile(path, []byte("second version")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second version", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files may be left behind")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestSidecarRoundTrip(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "artifacts"))
	require.NoError(t, err)

	generated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	path, err := store.Save("video_1.mp4", make([]byte, 4096), models.ArtifactSidecar{
		JobID:        "job-1",
		Kind:         models.ArtifactKindVideo,
		Prompt:       "a lighthouse at dusk",
		Model:        "veo-2",
		GeneratedAt:  generated,
		TargetWidth:  720,
		TargetHeight: 1280,
	})
	require.NoError(t, err)
	assert.Equal(t, store.Path("video_1.mp4"), path)

	sidecar, err := ReadSidecar(path)
	require.NoError(t, err)
	assert.Equal(t, "a lighthouse at dusk", sidecar.Prompt)
	assert.Equal(t, int64(4096), sidecar.SizeBytes)
	assert.True(t, generated.Equal(sidecar.GeneratedAt))
	assert.Equal(t, path+".json", SidecarPath(path))
}

func TestReadSidecarMissing(t *testing.T) {
	_, err := ReadSidecar(filepath.Join(t.TempDir(), "nope.mp4"))
	assert.True(t, os.IsNotExist(err))
}

func TestUniqueName(t *testing.T) {
	pattern := regexp.MustCompile(`^video_\d{8}_\d{6}_[0-9a-f]{8}\.mp4$`)

	a := UniqueName("video", "mp4")
	b := UniqueName("video", ".mp4")

	assert.Regexp(t, pattern, a)
	assert.Regexp(t, pattern, b)
	assert.NotEqual(t, a, b)
}
