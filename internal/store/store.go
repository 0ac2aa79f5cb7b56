// Package store persists project models. Three backends are provided:
// an in-memory map, JSON files on disk, and a SQLite table.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelsync/collab/internal/model"
)

const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

var ErrInvalidProjectID = errors.New("invalid project id")

// Store loads and persists the model of a project. Loading a project that
// was never persisted returns an empty model.
type Store interface {
	Load(ctx context.Context, projectID string) (*model.Model, error)
	Persist(ctx context.Context, projectID string, m *model.Model) error
	Close() error
}

// Open creates the store selected by driver. path is a directory for the
// file driver and a database file for the sqlite driver.
func Open(driver, path string) (Store, error) {
	switch driver {
	case DriverMemory, "":
		return NewMemory(), nil
	case DriverFile:
		return NewFile(path), nil
	case DriverSQLite:
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
}

func validateProjectID(projectID string) error {
	if projectID == "" || strings.ContainsAny(projectID, `/\`) || projectID == "." || projectID == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidProjectID, projectID)
	}
	return nil
}
