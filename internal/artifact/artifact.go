// Package artifact persists generated media and their JSON sidecars in a
// flat directory tree. Writes are atomic; identical names are last-writer-wins.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/reelforge/pkg/models"
)

// SidecarExt is appended to an artifact path to form its sidecar path
const SidecarExt = ".json"

// Store is a directory of artifacts
type Store struct {
	dir string
}

// NewStore creates dir if needed and returns a Store rooted there
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the root directory
func (s *Store) Dir() string {
	return s.dir
}

// Path joins name onto the store root
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// NewPath returns a fresh unique path inside the store
func (s *Store) NewPath(prefix, ext string) string {
	return s.Path(UniqueName(prefix, ext))
}

// Save writes data and its sidecar. SizeBytes in the sidecar is filled in.
func (s *Store) Save(name string, data []byte, sidecar models.ArtifactSidecar) (string, error) {
	path := s.Path(name)
	if err := WriteFile(path, data); err != nil {
		return "", err
	}

	sidecar.SizeBytes = int64(len(data))
	if err := WriteSidecar(path, sidecar); err != nil {
		return "", err
	}
	return path, nil
}

// UniqueName builds prefix_YYYYMMDD_HHMMSS_<uuid8>.ext. The timestamp keeps
// listings ordered; the uuid suffix keeps concurrent runs apart.
func UniqueName(prefix, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%s%s", prefix, time.Now().UTC().Format("20060102_150405"), id, ext)
}

// WriteFile atomically replaces path with data: temp file, fsync, rename
func WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}

	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer pending.Cleanup()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace %s: %w", path, err)
	}
	return nil
}

// SidecarPath returns the metadata path for an artifact
func SidecarPath(artifactPath string) string {
	return artifactPath + SidecarExt
}

// WriteSidecar stores metadata next to artifactPath
func WriteSidecar(artifactPath string, sidecar models.ArtifactSidecar) error {
	data, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sidecar: %w", err)
	}
	return WriteFile(SidecarPath(artifactPath), append(data, '\n'))
}

// ReadSidecar loads the metadata stored next to artifactPath
func ReadSidecar(artifactPath string) (*models.ArtifactSidecar, error) {
	data, err := os.ReadFile(SidecarPath(artifactPath))
	if err != nil {
		return nil, err
	}

	var sidecar models.ArtifactSidecar
	if err := json.Unmarshal(data, &sidecar); err != nil {
		return nil, fmt.Errorf("parse sidecar: %w", err)
	}
	return &sidecar, nil
}
