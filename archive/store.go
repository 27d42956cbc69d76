package archive

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/gradebox/metrics"
)

// ManifestFile is the name of the manifest written into every archive
const ManifestFile = "source"

// Manifest kinds
const (
	KindEvaluation = "evaluation"
	KindExecution  = "execution"
)

// ErrNoArchive is returned when no archive exists for a (module, user) pair.
var ErrNoArchive = errors.New("no archived execution")

// Manifest identifies the run that produced an archive
type Manifest struct {
	Kind string
	ID   string
}

func (m Manifest) encode() []byte {
	return []byte(m.Kind + "\n" + m.ID + "\n")
}

// Uploader mirrors archive snapshots to remote storage
type Uploader interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64) error
}

// StoreConfig holds configuration for the archival store
type StoreConfig struct {
	Root string
	// Ignore lists base-name patterns (filepath.Match syntax) skipped at
	// every level of the copied tree.
	Ignore []string
	// Snapshot enables uploading a tar.zst snapshot through the Uploader.
	Snapshot bool
}

// Store keeps the last execution of every (module, user) pair on disk
type Store struct {
	logger   *zap.Logger
	config   StoreConfig
	uploader Uploader
}

// StoreOption defines a functional option for Store
type StoreOption func(*Store)

// WithUploader sets the Uploader receiving snapshots
func WithUploader(uploader Uploader) StoreOption {
	return func(s *Store) {
		s.uploader = uploader
	}
}

// NewStore creates a new archival store rooted at config.Root
func NewStore(logger *zap.Logger, config StoreConfig, opts ...StoreOption) *Store {
	store := &Store{
		logger: logger,
		config: config,
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// Dir returns the archive directory of a (module, user) pair
func (s *Store) Dir(moduleID, userID int64) string {
	return filepath.Join(s.config.Root, relDir(moduleID, userID))
}

func relDir(moduleID, userID int64) string {
	return "module_" + strconv.FormatInt(moduleID, 10) + "/user_" + strconv.FormatInt(userID, 10)
}

// Archive replaces the archive of (moduleID, userID) with a copy of src and
// records manifest alongside it. Previous contents are removed first.
func (s *Store) Archive(ctx context.Context, src string, userID, moduleID int64, manifest Manifest) error {
	start := time.Now()
	defer func() { metrics.StageDuration.WithLabelValues("archive").Observe(time.Since(start).Seconds()) }()

	dst := s.Dir(moduleID, userID)

	if err := os.RemoveAll(dst); err != nil {
		return fmt.Errorf("failed to remove previous archive: %w", err)
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}
	if err := s.copyTree(ctx, src, dst); err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := os.WriteFile(filepath.Join(dst, ManifestFile), manifest.encode(), 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	s.logger.Debug("execution archived",
		zap.String("dir", dst),
		zap.String("kind", manifest.Kind),
		zap.String("id", manifest.ID))

	if s.config.Snapshot && s.uploader != nil {
		if err := s.upload(ctx, dst, moduleID, userID); err != nil {
			s.logger.Warn("failed to upload archive snapshot",
				zap.Int64("module_id", moduleID),
				zap.Int64("user_id", userID),
				zap.Error(err))
		}
	}

	return nil
}

// ReadManifest returns the manifest of the archive of (moduleID, userID)
func (s *Store) ReadManifest(moduleID, userID int64) (Manifest, error) {
	f, err := os.Open(filepath.Join(s.Dir(moduleID, userID), ManifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return Manifest{}, ErrNoArchive
	}
	if err != nil {
		return Manifest{}, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() && len(lines) < 2 {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return Manifest{}, err
	}
	if len(lines) < 2 {
		return Manifest{}, fmt.Errorf("malformed manifest: %d lines", len(lines))
	}

	return Manifest{Kind: lines[0], ID: lines[1]}, nil
}

func (s *Store) upload(ctx context.Context, dir string, moduleID, userID int64) error {
	var buf bytes.Buffer
	if err := WriteSnapshot(&buf, dir); err != nil {
		return err
	}
	return s.uploader.Upload(ctx, relDir(moduleID, userID)+SnapshotExt, &buf, int64(buf.Len()))
}

func (s *Store) copyTree(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		relPath, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}

		if s.ignored(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(dst, relPath)
		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case info.Mode()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case info.Mode().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		default:
			// Devices, sockets and pipes have no meaning outside the box.
			return nil
		}
	})
}

func (s *Store) ignored(name string) bool {
	for _, pattern := range s.config.Ignore {
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
	}
	return false
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o600)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
