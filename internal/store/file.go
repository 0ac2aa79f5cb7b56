package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/modelsync/collab/internal/model"
)

const appDirName = "collabd"

// File stores one JSON document per project in a directory.
type File struct {
	dir string
}

// NewFile creates a File store rooted at dir. The directory is created on
// the first Persist. Pass an empty string to use the default XDG state path.
func NewFile(dir string) *File {
	if dir == "" {
		dir = defaultDataDir()
	}
	return &File{dir: dir}
}

// Path returns the file backing a project.
func (s *File) Path(projectID string) string {
	return filepath.Join(s.dir, projectID+".json")
}

func (s *File) Load(_ context.Context, projectID string) (*model.Model, error) {
	if err := validateProjectID(projectID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return model.New(projectID), nil
		}
		return nil, fmt.Errorf("reading model: %w", err)
	}

	var m model.Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing model: %w", err)
	}
	m.ProjectID = projectID
	if m.RepresentationLabels == nil {
		m.RepresentationLabels = make(map[string]string)
	}
	return &m, nil
}

// Persist writes the model using a temp-file-then-rename so a crash never
// leaves a truncated document behind.
func (s *File) Persist(_ context.Context, projectID string, m *model.Model) error {
	if err := validateProjectID(projectID); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling model: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(s.dir, "."+projectID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path(projectID)); err != nil {
		return fmt.Errorf("renaming model file: %w", err)
	}
	committed = true

	return nil
}

func (s *File) Close() error { return nil }

// defaultDataDir returns ~/.local/state/collabd, respecting XDG_STATE_HOME
// if set.
func defaultDataDir() string {
	if base := os.Getenv("XDG_STATE_HOME"); base != "" {
		return filepath.Join(base, appDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".local", "state", appDirName)
}
