// Package catalog loads module definitions from a directory of YAML files.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/isdmx/gradebox/execution"
)

// ErrModuleNotFound is returned for an unknown module id.
var ErrModuleNotFound = errors.New("module not found")

// FileRepository serves modules stored as <dir>/<id>.yaml. Each file holds
// max_points and a programming object.
type FileRepository struct {
	logger *zap.Logger
	dir    string
}

type moduleFile struct {
	MaxPoints   *float64  `yaml:"max_points"`
	Programming yaml.Node `yaml:"programming"`
}

// NewFileRepository creates a repository reading from dir
func NewFileRepository(logger *zap.Logger, dir string) *FileRepository {
	return &FileRepository{logger: logger, dir: dir}
}

// Get loads the module with the given id
func (r *FileRepository) Get(ctx context.Context, id int64) (execution.Module, error) {
	if err := ctx.Err(); err != nil {
		return execution.Module{}, err
	}
	if id <= 0 {
		return execution.Module{}, fmt.Errorf("%w: invalid id %d", ErrModuleNotFound, id)
	}

	path := filepath.Join(r.dir, strconv.FormatInt(id, 10)+".yaml")
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return execution.Module{}, fmt.Errorf("%w: %d", ErrModuleNotFound, id)
	}
	if err != nil {
		return execution.Module{}, fmt.Errorf("failed to read module %d: %w", id, err)
	}

	var file moduleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return execution.Module{}, fmt.Errorf("failed to parse module %d: %w", id, err)
	}
	if file.MaxPoints == nil || *file.MaxPoints < 0 {
		return execution.Module{}, fmt.Errorf("module %d: max_points must be set and non-negative", id)
	}
	if file.Programming.Kind == 0 {
		return execution.Module{}, fmt.Errorf("module %d: missing programming section", id)
	}

	r.logger.Debug("module loaded", zap.Int64("module_id", id), zap.String("path", path))

	return execution.Module{
		ID:        id,
		MaxPoints: *file.MaxPoints,
		Data:      data,
	}, nil
}
